package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/police-sync/internal/policeapi"
	"github.com/sells-group/police-sync/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func fixedClock(s string) Clock {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}

// fakeAPI serves canned records and counts calls.
type fakeAPI struct {
	calls []string

	categories []policeapi.CrimeCategory
	crimes     []policeapi.Crime
	outcomes   []policeapi.Outcome
	stops      []policeapi.Stop

	located        map[string]string
	forces         map[string]*policeapi.Force
	neighbourhoods map[string][]policeapi.NeighbourhoodRef
	details        map[string]*policeapi.Neighbourhood
	boundaries     map[string][]policeapi.LatLng
}

func (f *fakeAPI) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeAPI) CrimeCategories(_ context.Context, month string) ([]policeapi.CrimeCategory, bool) {
	f.record("crime-categories %s", month)
	return f.categories, f.categories != nil
}

func (f *fakeAPI) StreetCrimes(_ context.Context, poly, month string) ([]policeapi.Crime, bool) {
	f.record("crimes %s %s", poly, month)
	return f.crimes, f.crimes != nil
}

func (f *fakeAPI) Outcomes(_ context.Context, poly, month string) ([]policeapi.Outcome, bool) {
	f.record("outcomes %s %s", poly, month)
	return f.outcomes, f.outcomes != nil
}

func (f *fakeAPI) Stops(_ context.Context, poly, month string) ([]policeapi.Stop, bool) {
	f.record("stops %s %s", poly, month)
	return f.stops, f.stops != nil
}

func (f *fakeAPI) LocateNeighbourhood(_ context.Context, point string) (*policeapi.Located, bool) {
	f.record("locate %s", point)
	force, ok := f.located[point]
	if !ok {
		return nil, false
	}
	return &policeapi.Located{Force: policeapi.S(force)}, true
}

func (f *fakeAPI) Force(_ context.Context, id string) (*policeapi.Force, bool) {
	f.record("force %s", id)
	d, ok := f.forces[id]
	return d, ok
}

func (f *fakeAPI) ForceNeighbourhoods(_ context.Context, force string) ([]policeapi.NeighbourhoodRef, bool) {
	f.record("neighbourhoods %s", force)
	refs, ok := f.neighbourhoods[force]
	return refs, ok
}

func (f *fakeAPI) Neighbourhood(_ context.Context, force, id string) (*policeapi.Neighbourhood, bool) {
	f.record("neighbourhood %s/%s", force, id)
	d, ok := f.details[id]
	return d, ok
}

func (f *fakeAPI) Boundary(_ context.Context, force, id string) ([]policeapi.LatLng, bool) {
	f.record("boundary %s/%s", force, id)
	b, ok := f.boundaries[id]
	return b, ok
}

// fakeStore is an in-memory stand-in for the database.
type fakeStore struct {
	calls []string

	polygons   map[store.Geometry]string
	polyErr    error
	srid       int
	categories map[string]bool
	orgs       map[string]int64
	places     map[string]int64
	nextID     int64

	relations  [][2]int64
	extensions map[int64][]string
	shapes     map[string]string

	crimes, outcomes, stops [][]any
	failPost                int

	// rejectOrgs and rejectPlaces make post_organisation and post_place
	// fail for the given identifiers.
	rejectOrgs   map[string]bool
	rejectPlaces map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		polygons:   map[store.Geometry]string{},
		srid:       4326,
		categories: map[string]bool{},
		orgs:       map[string]int64{},
		places:     map[string]int64{},
		nextID:     100,
		extensions: map[int64][]string{},
		shapes:     map[string]string{},

		rejectOrgs:   map[string]bool{},
		rejectPlaces: map[string]bool{},
	}
}

var errFake = errors.New("fake storage failure")

func (s *fakeStore) record(format string, args ...any) {
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *fakeStore) PoliceString(_ context.Context, region string, g store.Geometry) (string, error) {
	s.record("police-string %s %s", region, g)
	if s.polyErr != nil {
		return "", s.polyErr
	}
	p, ok := s.polygons[g]
	if !ok {
		return "", store.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) SRID(context.Context) (int, error) {
	s.record("srid")
	return s.srid, nil
}

func (s *fakeStore) SetPlacePolygon(_ context.Context, identifier, wkt string, srid int) error {
	s.record("polygon %s %d", identifier, srid)
	if _, ok := s.places[identifier]; !ok {
		return store.ErrNotFound
	}
	s.shapes[identifier] = wkt
	return nil
}

func (s *fakeStore) PlaceExists(_ context.Context, field, value string) (bool, error) {
	s.record("exists-place %s %s", field, value)
	_, ok := s.places[value]
	return ok, nil
}

func (s *fakeStore) CategoryExists(_ context.Context, field, value string) (bool, error) {
	s.record("exists-category %s %s", field, value)
	return s.categories[value], nil
}

func (s *fakeStore) OrganisationIDs(_ context.Context, field, value string) ([]int64, error) {
	s.record("get-organisation %s %s", field, value)
	if id, ok := s.orgs[value]; ok {
		return []int64{id}, nil
	}
	return nil, nil
}

func (s *fakeStore) PostOrganisation(_ context.Context, fields []any) (int64, error) {
	s.record("post-organisation %v", fields[1])
	if s.rejectOrgs[fields[1].(string)] {
		return 0, store.ErrNotFound
	}
	id := s.id()
	s.orgs[fields[1].(string)] = id
	return id, nil
}

func (s *fakeStore) PostPlace(_ context.Context, fields []any) (int64, error) {
	s.record("post-place %v", fields[1])
	if s.rejectPlaces[fields[1].(string)] {
		return 0, store.ErrNotFound
	}
	id := s.id()
	s.places[fields[1].(string)] = id
	return id, nil
}

func (s *fakeStore) PostCategory(_ context.Context, fields []any) (int64, error) {
	s.record("post-category %v", fields[1])
	s.categories[fields[1].(string)] = true
	return s.id(), nil
}

func (s *fakeStore) PostRelation(_ context.Context, from, to int64) error {
	s.relations = append(s.relations, [2]int64{from, to})
	return nil
}

func (s *fakeStore) PostExtension(_ context.Context, owner int64, key string, value any) error {
	s.extensions[owner] = append(s.extensions[owner], fmt.Sprintf("%s=%v", key, value))
	return nil
}

func (s *fakeStore) post(dst *[][]any, fields []any) error {
	if s.failPost > 0 {
		s.failPost--
		return errFake
	}
	*dst = append(*dst, fields)
	return nil
}

func (s *fakeStore) PostCrime(_ context.Context, fields []any) error {
	return s.post(&s.crimes, fields)
}

func (s *fakeStore) PostOutcome(_ context.Context, fields []any) error {
	return s.post(&s.outcomes, fields)
}

func (s *fakeStore) PostStop(_ context.Context, fields []any) error {
	return s.post(&s.stops, fields)
}
