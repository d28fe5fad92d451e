package loader

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	"go.uber.org/zap"

	"github.com/sells-group/police-sync/internal/policeapi"
	"github.com/sells-group/police-sync/internal/record"
	"github.com/sells-group/police-sync/internal/store"
)

// ErrStructuralLoad marks a failure that leaves the reference data for a
// region incomplete. A run cannot continue after it.
var ErrStructuralLoad = eris.New("structural load failed")

// ForceSummary reports what a force/neighbourhood load did. ForcesFailed and
// NeighbourhoodsFailed count entities storage refused or returned no id for;
// they are left for the next run.
type ForceSummary struct {
	Points                int
	Forces                int
	ForcesCreated         int
	ForcesFailed          int
	NeighbourhoodsCreated int
	NeighbourhoodsSkipped int
	NeighbourhoodsFailed  int
	PolygonsSkipped       int
}

// ForceLoader makes sure every force covering a region, and every
// neighbourhood of those forces, exists in storage with its boundary.
type ForceLoader struct {
	api   ForceAPI
	store ForceStore
	log   *zap.Logger
}

// NewForceLoader creates a ForceLoader.
func NewForceLoader(api ForceAPI, st ForceStore) *ForceLoader {
	return &ForceLoader{
		api:   api,
		store: st,
		log:   zap.L().With(zap.String("component", "force_loader")),
	}
}

func structural(err error, format string, args ...any) error {
	if err == nil {
		return eris.Wrapf(ErrStructuralLoad, format, args...)
	}
	return eris.Wrapf(ErrStructuralLoad, format+": %v", append(args, err)...)
}

// samplePoints returns the corners of the region's bounding rectangle plus
// its centre, each visited once, in "lat,lng" form.
func (l *ForceLoader) samplePoints(ctx context.Context, region string) ([]string, error) {
	mbr, err := l.store.PoliceString(ctx, region, store.MBR)
	if err != nil {
		return nil, structural(err, "bounding rectangle of %q", region)
	}
	centre, err := l.store.PoliceString(ctx, region, store.Centre)
	if err != nil {
		return nil, structural(err, "centre of %q", region)
	}

	corners := strings.Split(mbr, ":")
	if len(corners) > 1 && corners[0] == corners[len(corners)-1] {
		corners = corners[:len(corners)-1]
	}

	seen := make(map[string]bool, len(corners)+1)
	points := make([]string, 0, len(corners)+1)
	for _, p := range append(corners, centre) {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		points = append(points, p)
	}
	return points, nil
}

// Load runs the force and neighbourhood load for region.
func (l *ForceLoader) Load(ctx context.Context, region string) (ForceSummary, error) {
	var sum ForceSummary

	points, err := l.samplePoints(ctx, region)
	if err != nil {
		return sum, err
	}
	sum.Points = len(points)

	srid, err := l.store.SRID(ctx)
	if err != nil {
		return sum, structural(err, "spatial reference")
	}

	done := make(map[string]bool)
	for _, point := range points {
		loc, ok := l.api.LocateNeighbourhood(ctx, point)
		if !ok || loc.Force.String() == "" {
			return sum, structural(nil, "no force found at %s", point)
		}
		force := loc.Force.String()
		if done[force] {
			continue
		}
		done[force] = true
		sum.Forces++

		if err := l.loadForce(ctx, force, srid, &sum); err != nil {
			return sum, err
		}
	}

	l.log.Info("forces loaded",
		zap.String("region", region),
		zap.Int("points", sum.Points),
		zap.Int("forces", sum.Forces),
		zap.Int("forces_created", sum.ForcesCreated),
		zap.Int("neighbourhoods_created", sum.NeighbourhoodsCreated),
		zap.Int("neighbourhoods_skipped", sum.NeighbourhoodsSkipped),
		zap.Int("forces_failed", sum.ForcesFailed),
		zap.Int("neighbourhoods_failed", sum.NeighbourhoodsFailed),
	)
	return sum, nil
}

// errNotStored marks an entity storage did not accept. The caller skips it.
var errNotStored = eris.New("not stored")

// organisation returns the id of force, creating it when it is new.
func (l *ForceLoader) organisation(ctx context.Context, force string) (id int64, created bool, err error) {
	ids, err := l.store.OrganisationIDs(ctx, "identifier", force)
	if err != nil {
		return 0, false, structural(err, "look up force %s", force)
	}
	if len(ids) > 0 {
		return ids[0], false, nil
	}

	detail, ok := l.api.Force(ctx, force)
	if !ok {
		return 0, false, structural(nil, "no data for force %s", force)
	}
	id, err = l.store.PostOrganisation(ctx, record.OrganisationFields(detail))
	if err != nil {
		return 0, false, eris.Wrapf(errNotStored, "force %s: %v", force, err)
	}
	for _, ext := range record.OrganisationExtensions(detail) {
		l.extension(ctx, id, ext.Key, ext.Value)
	}
	l.contacts(ctx, id, &detail.Contacts)
	return id, true, nil
}

func (l *ForceLoader) loadForce(ctx context.Context, force string, srid int, sum *ForceSummary) error {
	orgID, created, err := l.organisation(ctx, force)
	if errors.Is(err, errNotStored) {
		sum.ForcesFailed++
		l.log.Warn("force not stored, skipping its neighbourhoods", zap.String("force", force), zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	if created {
		sum.ForcesCreated++
	}

	refs, ok := l.api.ForceNeighbourhoods(ctx, force)
	if !ok {
		return structural(nil, "no neighbourhoods for force %s", force)
	}

	for _, ref := range refs {
		id := ref.ID.String()
		if id == "" {
			continue
		}
		if !created {
			exists, err := l.store.PlaceExists(ctx, "identifier", id)
			if err != nil {
				return structural(err, "look up neighbourhood %s", id)
			}
			if exists {
				sum.NeighbourhoodsSkipped++
				continue
			}
		}
		if err := l.loadNeighbourhood(ctx, force, id, orgID, srid, sum); err != nil {
			return err
		}
	}
	return nil
}

func (l *ForceLoader) loadNeighbourhood(ctx context.Context, force, id string, orgID int64, srid int, sum *ForceSummary) error {
	detail, ok := l.api.Neighbourhood(ctx, force, id)
	if !ok {
		return structural(nil, "no data for neighbourhood %s/%s", force, id)
	}
	placeID, err := l.store.PostPlace(ctx, record.PlaceFields(id, detail))
	if err != nil {
		sum.NeighbourhoodsFailed++
		l.log.Warn("neighbourhood not stored", zap.String("force", force), zap.String("neighbourhood", id), zap.Error(err))
		return nil
	}
	sum.NeighbourhoodsCreated++

	if err := l.store.PostRelation(ctx, orgID, placeID); err != nil {
		l.log.Warn("store relation failed", zap.String("neighbourhood", id), zap.Error(err))
	}
	for _, ext := range record.PlaceExtensions(detail) {
		l.extension(ctx, placeID, ext.Key, ext.Value)
	}
	l.contacts(ctx, placeID, &detail.Contacts)

	points, ok := l.api.Boundary(ctx, force, id)
	if !ok {
		return structural(nil, "no boundary for neighbourhood %s/%s", force, id)
	}
	text, err := BoundaryWKT(points)
	if err != nil {
		sum.PolygonsSkipped++
		l.log.Warn("unusable boundary", zap.String("neighbourhood", id), zap.Error(err))
		return nil
	}
	if err := l.store.SetPlacePolygon(ctx, id, text, srid); err != nil {
		return structural(err, "store boundary of %s", id)
	}
	return nil
}

func (l *ForceLoader) extension(ctx context.Context, owner int64, key string, value any) {
	if err := l.store.PostExtension(ctx, owner, key, value); err != nil {
		l.log.Warn("store extension failed", zap.Int64("owner", owner), zap.String("key", key), zap.Error(err))
	}
}

func (l *ForceLoader) contacts(ctx context.Context, owner int64, c *policeapi.Contacts) {
	for _, ct := range record.Contacts(c) {
		l.extension(ctx, owner, ct.Label, ct.Value)
	}
}

// BoundaryWKT builds a closed polygon ring, in longitude/latitude order, from
// boundary vertices and encodes it as WKT.
func BoundaryWKT(points []policeapi.LatLng) (string, error) {
	ring := make([]geom.Coord, 0, len(points)+1)
	for i, p := range points {
		lat, err := strconv.ParseFloat(p.Latitude.String(), 64)
		if err != nil {
			return "", eris.Wrapf(err, "boundary point %d latitude", i)
		}
		lng, err := strconv.ParseFloat(p.Longitude.String(), 64)
		if err != nil {
			return "", eris.Wrapf(err, "boundary point %d longitude", i)
		}
		ring = append(ring, geom.Coord{lng, lat})
	}
	if len(ring) > 0 && !ring[0].Equal(geom.XY, ring[len(ring)-1]) {
		ring = append(ring, ring[0])
	}
	if len(ring) < 4 {
		return "", eris.Errorf("closed ring has %d points, need at least 4", len(ring))
	}

	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{ring})
	if err != nil {
		return "", eris.Wrap(err, "build polygon")
	}
	text, err := wkt.Marshal(poly)
	if err != nil {
		return "", eris.Wrap(err, "encode polygon")
	}
	return text, nil
}
