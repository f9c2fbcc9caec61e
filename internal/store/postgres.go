package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/insightminer/internal/db"
	"github.com/sells-group/insightminer/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var recordUpsert = db.UpsertConfig{
	Table: "acquisitions",
	Columns: []string{
		"id", "exact_hash", "perceptual_hash", "source_url", "numeric_key",
		"kind", "descriptor", "created_at", "updated_at",
	},
	ConflictKeys: []string{"exact_hash"},
	UpdateCols: []string{
		"perceptual_hash", "source_url", "numeric_key", "kind", "descriptor", "updated_at",
	},
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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS acquisitions (
	id              UUID PRIMARY KEY,
	exact_hash      TEXT NOT NULL UNIQUE,
	perceptual_hash BIGINT,
	source_url      TEXT NOT NULL,
	numeric_key     TEXT NOT NULL,
	kind            TEXT NOT NULL,
	descriptor      JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_acquisitions_perceptual_hash
	ON acquisitions(perceptual_hash) WHERE perceptual_hash IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_acquisitions_numeric_key ON acquisitions(numeric_key);
`

// Migrate creates the acquisitions table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// LookupFingerprint implements Store.
func (s *PostgresStore) LookupFingerprint(ctx context.Context, fp model.Fingerprint) (bool, error) {
	var found bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM acquisitions WHERE exact_hash = $1)`, fp.ExactHash,
	).Scan(&found)
	if err != nil {
		return false, eris.Wrap(err, "postgres: lookup fingerprint")
	}
	return found, nil
}

// UpsertRecord implements Store.
func (s *PostgresStore) UpsertRecord(ctx context.Context, rec *model.Record) error {
	if rec == nil {
		return eris.New("postgres: upsert record: nil record")
	}
	descriptor, err := json.Marshal(rec.Descriptor)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal descriptor")
	}

	_, err = db.Upsert(ctx, s.pool, recordUpsert, []any{
		rec.ID, rec.Fingerprint.ExactHash, signedHash(rec.Fingerprint.PerceptualHash),
		rec.SourceURL, rec.NumericKey, string(rec.Kind), descriptor,
		rec.CreatedAt, rec.CreatedAt,
	})
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert record %s", rec.ID)
	}
	return nil
}

// GetRecord returns the record stored under an exact hash, or nil when absent.
func (s *PostgresStore) GetRecord(ctx context.Context, exactHash string) (*model.Record, error) {
	var (
		rec        model.Record
		phash      *int64
		kind       string
		descriptor []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, exact_hash, perceptual_hash, source_url, numeric_key, kind, descriptor, created_at
		FROM acquisitions WHERE exact_hash = $1`, exactHash,
	).Scan(&rec.ID, &rec.Fingerprint.ExactHash, &phash, &rec.SourceURL, &rec.NumericKey, &kind, &descriptor, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get record")
	}
	rec.Kind = model.Kind(kind)
	if phash != nil {
		rec.Fingerprint.PerceptualHash = model.Ptr(uint64(*phash)) //nolint:gosec // bit-preserving conversion
	}
	if err := json.Unmarshal(descriptor, &rec.Descriptor); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal descriptor")
	}
	return &rec, nil
}
