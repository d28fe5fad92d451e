package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/police-sync/internal/db"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store on top of the stored functions of the
// datamap schema.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// selectFn renders "SELECT name($1, ..., $n)".
func selectFn(name string, n int) string {
	ph := make([]string, n)
	for i := range n {
		ph[i] = "$" + strconv.Itoa(i+1)
	}
	return fmt.Sprintf("SELECT %s(%s)", name, strings.Join(ph, ", "))
}

var (
	sqlGetVariable      = selectFn("get_variable", 1)
	sqlGetConstant      = selectFn("get_constant", 1) + "::text"
	sqlExistsPlace      = selectFn("exists_place", 2)
	sqlExistsCategory   = selectFn("exists_category", 2)
	sqlGetOrganisation  = selectFn("get_organisation", 2) + "::text"
	sqlPostOrganisation = selectFn("post_organisation", 4)
	sqlPostPlace        = selectFn("post_place", 9)
	sqlPostCategory     = selectFn("post_category", 4)
	sqlPostRelation     = selectFn("post_relation", 3)
	sqlPostExtension    = selectFn("post_extension", 3)
	sqlPostCrime        = selectFn("post_police_crime", 13)
	sqlPostOutcome      = selectFn("post_police_outcome", 15)
	sqlPostStop         = selectFn("post_police_stop", 18)
	sqlSanityCheck      = "SELECT police_crime_sanity_check()::text"

	sqlPostVariable   = "CALL post_variable($1, $2)"
	sqlPutVariable    = "CALL put_variable($1, $2)"
	sqlDeleteVariable = "CALL delete_variable($1)"

	sqlPoliceString = map[Geometry]string{
		MBR:    "SELECT convert_geometry_to_police_string(mbr_polygon) FROM place WHERE name = $1",
		Centre: "SELECT convert_geometry_to_police_string(centre_point) FROM place WHERE name = $1",
	}
	sqlSetPlacePolygon = "UPDATE place SET polygon = ST_GeomFromText($1, $2) WHERE type = 'police-neighbourhood' AND identifier = $3"
)

// preparedStatements lists queries to prepare on each new connection. The
// SQL text doubles as the statement name so callers pass it unchanged.
var preparedStatements = []string{
	sqlGetVariable,
	sqlExistsPlace,
	sqlExistsCategory,
	sqlGetOrganisation,
	sqlPostCrime,
	sqlPostOutcome,
	sqlPostStop,
	sqlPutVariable,
	sqlPoliceString[MBR],
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for _, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, sql, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %q", sql)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewWithPool wraps an existing pool. The caller keeps ownership of it.
func NewWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) exec(ctx context.Context, sql string, args ...any) error {
	_, err := s.pool.Exec(ctx, sql, db.CleanArgs(args)...)
	return err
}

func (s *PostgresStore) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return s.pool.QueryRow(ctx, sql, db.CleanArgs(args)...)
}

// scanText reads a single nullable text column.
func (s *PostgresStore) scanText(ctx context.Context, sql string, args ...any) (string, bool, error) {
	var v *string
	if err := s.queryRow(ctx, sql, args...).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

// scanID reads the id returned by a post_* function.
func (s *PostgresStore) scanID(ctx context.Context, sql string, args ...any) (int64, error) {
	var id *int64
	if err := s.queryRow(ctx, sql, args...).Scan(&id); err != nil {
		return 0, err
	}
	if id == nil {
		return 0, ErrNotFound
	}
	return *id, nil
}

func checkArity(fn string, fields []any, n int) error {
	if len(fields) != n {
		return eris.Errorf("postgres: %s takes %d fields, got %d", fn, n, len(fields))
	}
	return nil
}

// --- Variables ---

func (s *PostgresStore) GetVariable(ctx context.Context, name string) (string, bool, error) {
	v, ok, err := s.scanText(ctx, sqlGetVariable, name)
	if err != nil {
		return "", false, eris.Wrapf(err, "postgres: get variable %s", name)
	}
	return v, ok, nil
}

func (s *PostgresStore) PostVariable(ctx context.Context, name, value string) error {
	return eris.Wrapf(s.exec(ctx, sqlPostVariable, name, value), "postgres: post variable %s", name)
}

func (s *PostgresStore) PutVariable(ctx context.Context, name, value string) error {
	return eris.Wrapf(s.exec(ctx, sqlPutVariable, name, value), "postgres: put variable %s", name)
}

func (s *PostgresStore) DeleteVariable(ctx context.Context, name string) error {
	return eris.Wrapf(s.exec(ctx, sqlDeleteVariable, name), "postgres: delete variable %s", name)
}

// --- Geo ---

func (s *PostgresStore) PoliceString(ctx context.Context, region string, g Geometry) (string, error) {
	v, ok, err := s.scanText(ctx, sqlPoliceString[g], region)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: convert %s of %q", g, region)
	}
	if !ok || v == "" {
		return "", eris.Wrapf(ErrNotFound, "postgres: %s of %q", g, region)
	}
	return v, nil
}

func (s *PostgresStore) SRID(ctx context.Context) (int, error) {
	v, ok, err := s.scanText(ctx, sqlGetConstant, "SRID")
	if err != nil {
		return 0, eris.Wrap(err, "postgres: get constant SRID")
	}
	if !ok {
		return 0, eris.Wrap(ErrNotFound, "postgres: constant SRID")
	}
	srid, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: constant SRID %q", v)
	}
	return srid, nil
}

func (s *PostgresStore) SetPlacePolygon(ctx context.Context, identifier, wkt string, srid int) error {
	tag, err := s.pool.Exec(ctx, sqlSetPlacePolygon, wkt, srid, db.CleanText(identifier))
	if err != nil {
		return eris.Wrapf(err, "postgres: set polygon of %s", identifier)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: place %s", identifier)
	}
	return nil
}

// --- Catalog ---

func (s *PostgresStore) count(ctx context.Context, sql string, args ...any) (int64, error) {
	var n *int64
	if err := s.queryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, err
	}
	if n == nil {
		return 0, nil
	}
	return *n, nil
}

func (s *PostgresStore) PlaceExists(ctx context.Context, field, value string) (bool, error) {
	n, err := s.count(ctx, sqlExistsPlace, field, value)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: exists place %s=%s", field, value)
	}
	return n > 0, nil
}

func (s *PostgresStore) CategoryExists(ctx context.Context, field, value string) (bool, error) {
	n, err := s.count(ctx, sqlExistsCategory, field, value)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: exists category %s=%s", field, value)
	}
	return n > 0, nil
}

func (s *PostgresStore) OrganisationIDs(ctx context.Context, field, value string) ([]int64, error) {
	doc, ok, err := s.scanText(ctx, sqlGetOrganisation, field, value)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get organisation %s=%s", field, value)
	}
	if !ok || strings.TrimSpace(doc) == "" {
		return nil, nil
	}

	var rows []struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal([]byte(doc), &rows); err != nil {
		return nil, eris.Wrapf(err, "postgres: decode organisation %s=%s", field, value)
	}
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		id, err := r.ID.Int64()
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: organisation id %q", r.ID)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *PostgresStore) PostOrganisation(ctx context.Context, fields []any) (int64, error) {
	if err := checkArity("post_organisation", fields, 4); err != nil {
		return 0, err
	}
	id, err := s.scanID(ctx, sqlPostOrganisation, fields...)
	return id, eris.Wrap(err, "postgres: post organisation")
}

func (s *PostgresStore) PostPlace(ctx context.Context, fields []any) (int64, error) {
	if err := checkArity("post_place", fields, 9); err != nil {
		return 0, err
	}
	id, err := s.scanID(ctx, sqlPostPlace, fields...)
	return id, eris.Wrap(err, "postgres: post place")
}

func (s *PostgresStore) PostCategory(ctx context.Context, fields []any) (int64, error) {
	if err := checkArity("post_category", fields, 4); err != nil {
		return 0, err
	}
	id, err := s.scanID(ctx, sqlPostCategory, fields...)
	return id, eris.Wrap(err, "postgres: post category")
}

// PostRelation links two entities with an untyped relation.
func (s *PostgresStore) PostRelation(ctx context.Context, fromID, toID int64) error {
	return eris.Wrapf(s.exec(ctx, sqlPostRelation, nil, fromID, toID),
		"postgres: post relation %d -> %d", fromID, toID)
}

func (s *PostgresStore) PostExtension(ctx context.Context, ownerID int64, key string, value any) error {
	return eris.Wrapf(s.exec(ctx, sqlPostExtension, ownerID, key, value),
		"postgres: post extension %s of %d", key, ownerID)
}

// --- Facts ---

func (s *PostgresStore) PostCrime(ctx context.Context, fields []any) error {
	if err := checkArity("post_police_crime", fields, 13); err != nil {
		return err
	}
	return eris.Wrap(s.exec(ctx, sqlPostCrime, fields...), "postgres: post crime")
}

func (s *PostgresStore) PostOutcome(ctx context.Context, fields []any) error {
	if err := checkArity("post_police_outcome", fields, 15); err != nil {
		return err
	}
	return eris.Wrap(s.exec(ctx, sqlPostOutcome, fields...), "postgres: post outcome")
}

func (s *PostgresStore) PostStop(ctx context.Context, fields []any) error {
	if err := checkArity("post_police_stop", fields, 18); err != nil {
		return err
	}
	return eris.Wrap(s.exec(ctx, sqlPostStop, fields...), "postgres: post stop")
}

func (s *PostgresStore) SanityCheck(ctx context.Context) (string, error) {
	v, _, err := s.scanText(ctx, sqlSanityCheck)
	return v, eris.Wrap(err, "postgres: sanity check")
}
