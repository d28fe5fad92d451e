package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/police-sync/internal/policeapi"
	"github.com/sells-group/police-sync/internal/store"
)

func latlng(lat, lng string) policeapi.LatLng {
	return policeapi.LatLng{Latitude: policeapi.S(lat), Longitude: policeapi.S(lng)}
}

func newForceFixture() (*ForceLoader, *fakeAPI, *fakeStore) {
	api := &fakeAPI{
		located: map[string]string{
			"51.41,-1.05": "thames-valley",
			"51.49,-1.05": "thames-valley",
			"51.49,-0.92": "thames-valley",
			"51.41,-0.92": "thames-valley",
			"51.45,-0.97": "thames-valley",
		},
		forces: map[string]*policeapi.Force{
			"thames-valley": {
				ID:        policeapi.S("thames-valley"),
				Name:      policeapi.S("Thames Valley Police"),
				URL:       policeapi.S("http://www.thamesvalley.police.uk"),
				Telephone: policeapi.S("101"),
				Contacts: policeapi.Contacts{
					EngagementMethods: []policeapi.EngagementMethod{{Title: policeapi.S("facebook"), URL: policeapi.S("https://fb/tvp")}},
				},
			},
		},
		neighbourhoods: map[string][]policeapi.NeighbourhoodRef{
			"thames-valley": {{ID: policeapi.S("N450")}, {ID: policeapi.S("N451")}},
		},
		details: map[string]*policeapi.Neighbourhood{
			"N450": {ID: policeapi.S("N450"), Name: policeapi.S("Abbey"), Population: policeapi.S("12000")},
			"N451": {ID: policeapi.S("N451"), Name: policeapi.S("Battle")},
		},
		boundaries: map[string][]policeapi.LatLng{
			"N450": {latlng("51.1", "-0.1"), latlng("51.2", "-0.2"), latlng("51.1", "-0.3")},
			"N451": {},
		},
	}
	st := newFakeStore()
	st.polygons[store.MBR] = readingMBR
	st.polygons[store.Centre] = "51.45,-0.97"
	return NewForceLoader(api, st), api, st
}

func countPrefix(calls []string, prefix string) int {
	n := 0
	for _, c := range calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func TestForceLoader_Load(t *testing.T) {
	l, api, st := newForceFixture()

	sum, err := l.Load(context.Background(), "Reading Borough")
	require.NoError(t, err)

	assert.Equal(t, ForceSummary{
		Points:                5,
		Forces:                1,
		ForcesCreated:         1,
		NeighbourhoodsCreated: 2,
		PolygonsSkipped:       1,
	}, sum)
	assert.Equal(t, 5, countPrefix(api.calls, "locate "))
	assert.Equal(t, 1, countPrefix(api.calls, "force "))

	orgID := st.orgs["thames-valley"]
	assert.Equal(t, []string{"url=http://www.thamesvalley.police.uk", "telephone=101", "facebook=https://fb/tvp"}, st.extensions[orgID])
	assert.Len(t, st.relations, 2)
	assert.Equal(t, orgID, st.relations[0][0])
	assert.Contains(t, st.extensions[st.places["N450"]], "population=12000")

	assert.Equal(t, "POLYGON ((-0.1 51.1, -0.2 51.2, -0.3 51.1, -0.1 51.1))", st.shapes["N450"])
	assert.NotContains(t, st.shapes, "N451")
	assert.Equal(t, 0, countPrefix(st.calls, "exists-place"))
}

func TestForceLoader_SecondRunSkipsExisting(t *testing.T) {
	l, api, st := newForceFixture()
	ctx := context.Background()

	_, err := l.Load(ctx, "Reading Borough")
	require.NoError(t, err)
	api.calls = nil

	sum, err := l.Load(ctx, "Reading Borough")
	require.NoError(t, err)

	assert.Equal(t, 0, sum.ForcesCreated)
	assert.Equal(t, 0, sum.NeighbourhoodsCreated)
	assert.Equal(t, 2, sum.NeighbourhoodsSkipped)
	assert.Equal(t, 0, countPrefix(api.calls, "force "))
	assert.Equal(t, 0, countPrefix(api.calls, "neighbourhood "))
	assert.Len(t, st.orgs, 1)
	assert.Len(t, st.places, 2)
}

func TestForceLoader_GeometryFailure(t *testing.T) {
	l, api, st := newForceFixture()
	st.polyErr = errors.New("no such region")

	_, err := l.Load(context.Background(), "Reading Borough")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStructuralLoad)
	assert.Empty(t, api.calls)
}

func TestForceLoader_MissingNeighbourhoodDetail(t *testing.T) {
	l, api, _ := newForceFixture()
	delete(api.details, "N451")

	sum, err := l.Load(context.Background(), "Reading Borough")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStructuralLoad)
	assert.Equal(t, 1, sum.NeighbourhoodsCreated)
}

func TestForceLoader_DetailWithoutID(t *testing.T) {
	l, api, st := newForceFixture()
	api.details["N450"].ID = policeapi.Scalar{}

	sum, err := l.Load(context.Background(), "Reading Borough")
	require.NoError(t, err)

	assert.Equal(t, 2, sum.NeighbourhoodsCreated)
	assert.Contains(t, st.places, "N450")
	assert.Equal(t, "POLYGON ((-0.1 51.1, -0.2 51.2, -0.3 51.1, -0.1 51.1))", st.shapes["N450"])
}

func TestForceLoader_NeighbourhoodNotStored(t *testing.T) {
	l, api, st := newForceFixture()
	st.rejectPlaces["N450"] = true

	sum, err := l.Load(context.Background(), "Reading Borough")
	require.NoError(t, err)

	assert.Equal(t, 1, sum.NeighbourhoodsFailed)
	assert.Equal(t, 1, sum.NeighbourhoodsCreated)
	assert.NotContains(t, st.places, "N450")
	assert.Contains(t, st.places, "N451")
	assert.Len(t, st.relations, 1)
	assert.Equal(t, 0, countPrefix(api.calls, "boundary thames-valley/N450"))
	assert.NotContains(t, st.shapes, "N450")
}

func TestForceLoader_ForceNotStored(t *testing.T) {
	l, api, st := newForceFixture()
	st.rejectOrgs["thames-valley"] = true

	sum, err := l.Load(context.Background(), "Reading Borough")
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Forces)
	assert.Equal(t, 1, sum.ForcesFailed)
	assert.Equal(t, 0, sum.ForcesCreated)
	assert.Equal(t, 0, sum.NeighbourhoodsCreated)
	assert.Equal(t, 0, countPrefix(api.calls, "neighbourhoods "))
	assert.Empty(t, st.places)
}

func TestForceLoader_LocateNoData(t *testing.T) {
	l, api, _ := newForceFixture()
	delete(api.located, "51.41,-1.05")

	_, err := l.Load(context.Background(), "Reading Borough")
	assert.ErrorIs(t, err, ErrStructuralLoad)
}

func TestBoundaryWKT(t *testing.T) {
	closed := []policeapi.LatLng{
		latlng("51.1", "-0.1"), latlng("51.2", "-0.2"), latlng("51.1", "-0.3"), latlng("51.1", "-0.1"),
	}
	got, err := BoundaryWKT(closed)
	require.NoError(t, err)
	assert.Equal(t, "POLYGON ((-0.1 51.1, -0.2 51.2, -0.3 51.1, -0.1 51.1))", got)

	_, err = BoundaryWKT(closed[:2])
	assert.Error(t, err)

	_, err = BoundaryWKT([]policeapi.LatLng{latlng("x", "1"), latlng("1", "1"), latlng("2", "2")})
	assert.Error(t, err)

	unclosed, err := BoundaryWKT(closed[:3])
	require.NoError(t, err)
	assert.Equal(t, got, unclosed)
}

func TestBoundaryWKT_DegenerateRing(t *testing.T) {
	a, b := latlng("51.1", "-0.1"), latlng("51.2", "-0.2")

	for _, pts := range [][]policeapi.LatLng{
		nil,
		{a},
		{a, a},
		{a, b},
		{a, b, a},
	} {
		_, err := BoundaryWKT(pts)
		assert.Error(t, err, "%d points", len(pts))
	}
}

func TestForceLoader_DegenerateBoundarySkipsPolygon(t *testing.T) {
	l, api, st := newForceFixture()
	api.boundaries["N450"] = []policeapi.LatLng{latlng("51.1", "-0.1"), latlng("51.2", "-0.2"), latlng("51.1", "-0.1")}

	sum, err := l.Load(context.Background(), "Reading Borough")
	require.NoError(t, err)

	assert.Equal(t, 2, sum.PolygonsSkipped)
	assert.Empty(t, st.shapes)
}
