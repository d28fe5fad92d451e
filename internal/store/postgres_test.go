package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewWithPool(mock), mock
}

func ptr[T any](v T) *T { return &v }

func TestSelectFn(t *testing.T) {
	assert.Equal(t, "SELECT get_variable($1)", selectFn("get_variable", 1))
	assert.Equal(t, "SELECT exists_place($1, $2)", selectFn("exists_place", 2))
	assert.Equal(t, "SELECT police_crime_sanity_check()", selectFn("police_crime_sanity_check", 0))
}

func TestPostgresStore_GetVariable(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(sqlGetVariable).
		WithArgs("crime-last-updated").
		WillReturnRows(pgxmock.NewRows([]string{"get_variable"}).AddRow(ptr("2024-03-31")))

	v, ok, err := s.GetVariable(context.Background(), "crime-last-updated")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2024-03-31", v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetVariable_Null(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(sqlGetVariable).
		WithArgs("police-data-load").
		WillReturnRows(pgxmock.NewRows([]string{"get_variable"}).AddRow(nil))

	_, ok, err := s.GetVariable(context.Background(), "police-data-load")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetVariable_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(sqlGetVariable).
		WithArgs("crime-last-updated").
		WillReturnError(errors.New("connection lost"))

	_, _, err := s.GetVariable(context.Background(), "crime-last-updated")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get variable crime-last-updated")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_VariableProcedures(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectExec("CALL post_variable($1, $2)").
		WithArgs("police-data-load", "started abc").
		WillReturnResult(pgxmock.NewResult("CALL", 0))
	mock.ExpectExec("CALL put_variable($1, $2)").
		WithArgs("crime-last-updated", "2024-01-31").
		WillReturnResult(pgxmock.NewResult("CALL", 0))
	mock.ExpectExec("CALL delete_variable($1)").
		WithArgs("police-data-load").
		WillReturnResult(pgxmock.NewResult("CALL", 0))

	require.NoError(t, s.PostVariable(ctx, "police-data-load", "started abc"))
	require.NoError(t, s.PutVariable(ctx, "crime-last-updated", "2024-01-31"))
	require.NoError(t, s.DeleteVariable(ctx, "police-data-load"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PoliceString(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(sqlPoliceString[MBR]).
		WithArgs("Reading Borough").
		WillReturnRows(pgxmock.NewRows([]string{"convert_geometry_to_police_string"}).
			AddRow(ptr("51.41,-1.05:51.49,-1.05:51.49,-0.92:51.41,-0.92:51.41,-1.05")))

	got, err := s.PoliceString(context.Background(), "Reading Borough", MBR)
	require.NoError(t, err)
	assert.Equal(t, "51.41,-1.05:51.49,-1.05:51.49,-0.92:51.41,-0.92:51.41,-1.05", got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PoliceString_NoRegion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(sqlPoliceString[Centre]).
		WithArgs("Atlantis").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.PoliceString(context.Background(), "Atlantis", Centre)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SRID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(sqlGetConstant).
		WithArgs("SRID").
		WillReturnRows(pgxmock.NewRows([]string{"get_constant"}).AddRow(ptr(" 4326 ")))

	srid, err := s.SRID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4326, srid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetPlacePolygon(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	wkt := "POLYGON ((-0.1 51.1, -0.2 51.2, -0.3 51.1, -0.1 51.1))"

	mock.ExpectExec(sqlSetPlacePolygon).
		WithArgs(wkt, 4326, "N450").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(sqlSetPlacePolygon).
		WithArgs(wkt, 4326, "N999").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.SetPlacePolygon(context.Background(), "N450", wkt, 4326))
	err := s.SetPlacePolygon(context.Background(), "N999", wkt, 4326)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Exists(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectQuery(sqlExistsPlace).
		WithArgs("name", "Reading Borough").
		WillReturnRows(pgxmock.NewRows([]string{"exists_place"}).AddRow(ptr(int64(1))))
	mock.ExpectQuery(sqlExistsCategory).
		WithArgs("identifier", "burglary").
		WillReturnRows(pgxmock.NewRows([]string{"exists_category"}).AddRow(ptr(int64(0))))

	ok, err := s.PlaceExists(ctx, "name", "Reading Borough")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CategoryExists(ctx, "identifier", "burglary")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_OrganisationIDs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectQuery(sqlGetOrganisation).
		WithArgs("identifier", "thames-valley").
		WillReturnRows(pgxmock.NewRows([]string{"get_organisation"}).AddRow(ptr(`[{"id": 17}]`)))
	mock.ExpectQuery(sqlGetOrganisation).
		WithArgs("identifier", "kent").
		WillReturnRows(pgxmock.NewRows([]string{"get_organisation"}).AddRow(ptr(`[]`)))

	ids, err := s.OrganisationIDs(ctx, "identifier", "thames-valley")
	require.NoError(t, err)
	assert.Equal(t, []int64{17}, ids)

	ids, err = s.OrganisationIDs(ctx, "identifier", "kent")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PostOrganisation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(sqlPostOrganisation).
		WithArgs("police-force", "thames-valley", "Thames Valley Police", nil).
		WillReturnRows(pgxmock.NewRows([]string{"post_organisation"}).AddRow(ptr(int64(17))))

	id, err := s.PostOrganisation(context.Background(),
		[]any{"police-force", "thames-valley", "Thames Valley Police", nil})
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PostPlace_NullID(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	fields := []any{"police-neighbourhood", "N450", "Abbey", nil, nil, nil, "-0.97", "51.45", nil}

	mock.ExpectQuery(sqlPostPlace).
		WithArgs(fields...).
		WillReturnRows(pgxmock.NewRows([]string{"post_place"}).AddRow(nil))

	_, err := s.PostPlace(context.Background(), fields)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PostCategory_CleansText(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(sqlPostCategory).
		WithArgs("police-crime", "burglary", "Burglary", "https://ref").
		WillReturnRows(pgxmock.NewRows([]string{"post_category"}).AddRow(ptr(int64(3))))

	id, err := s.PostCategory(context.Background(), []any{"police-crime", "burglary", "Burg\x00lary", "https://ref"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RelationAndExtension(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectExec(sqlPostRelation).
		WithArgs(nil, int64(17), int64(42)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(sqlPostExtension).
		WithArgs(int64(42), "population", "12000").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.PostRelation(ctx, 17, 42))
	require.NoError(t, s.PostExtension(ctx, 42, "population", "12000"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Facts(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	crime := make([]any, 13)
	crime[0] = "burglary"
	outcome := make([]any, 15)
	stop := make([]any, 18)

	mock.ExpectExec(sqlPostCrime).WithArgs(crime...).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(sqlPostOutcome).WithArgs(outcome...).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(sqlPostStop).WithArgs(stop...).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.PostCrime(ctx, crime))
	require.NoError(t, s.PostOutcome(ctx, outcome))
	require.NoError(t, s.PostStop(ctx, stop))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Facts_WrongArity(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.PostCrime(context.Background(), []any{"burglary"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "takes 13 fields, got 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SanityCheck(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(sqlSanityCheck).
		WithArgs().
		WillReturnRows(pgxmock.NewRows([]string{"police_crime_sanity_check"}).AddRow(ptr("ok")))

	v, err := s.SanityCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGeometry_String(t *testing.T) {
	assert.Equal(t, "mbr_polygon", MBR.String())
	assert.Equal(t, "centre_point", Centre.String())
}
