package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/insightminer/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS acquisitions (
	id              TEXT PRIMARY KEY,
	exact_hash      TEXT NOT NULL UNIQUE,
	perceptual_hash INTEGER,
	source_url      TEXT NOT NULL,
	numeric_key     TEXT NOT NULL,
	kind            TEXT NOT NULL,
	descriptor      TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_acquisitions_perceptual_hash ON acquisitions(perceptual_hash);
CREATE INDEX IF NOT EXISTS idx_acquisitions_numeric_key ON acquisitions(numeric_key);
`

// Migrate creates the acquisitions table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LookupFingerprint implements Store.
func (s *SQLiteStore) LookupFingerprint(ctx context.Context, fp model.Fingerprint) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM acquisitions WHERE exact_hash = ?)`, fp.ExactHash,
	).Scan(&found)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: lookup fingerprint")
	}
	return found, nil
}

// UpsertRecord implements Store. A record with the same exact hash keeps its
// id and creation time.
func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec *model.Record) error {
	if rec == nil {
		return eris.New("sqlite: upsert record: nil record")
	}
	descriptor, err := json.Marshal(rec.Descriptor)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal descriptor")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO acquisitions (id, exact_hash, perceptual_hash, source_url, numeric_key, kind, descriptor, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(exact_hash) DO UPDATE SET
			perceptual_hash = excluded.perceptual_hash,
			source_url = excluded.source_url,
			numeric_key = excluded.numeric_key,
			kind = excluded.kind,
			descriptor = excluded.descriptor,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Fingerprint.ExactHash, signedHash(rec.Fingerprint.PerceptualHash),
		rec.SourceURL, rec.NumericKey, string(rec.Kind), string(descriptor),
		rec.CreatedAt, rec.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert record %s", rec.ID)
	}
	return nil
}

// GetRecord returns the record stored under an exact hash, or nil when absent.
func (s *SQLiteStore) GetRecord(ctx context.Context, exactHash string) (*model.Record, error) {
	var (
		rec        model.Record
		phash      sql.NullInt64
		kind       string
		descriptor string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, exact_hash, perceptual_hash, source_url, numeric_key, kind, descriptor, created_at
		FROM acquisitions WHERE exact_hash = ?`, exactHash,
	).Scan(&rec.ID, &rec.Fingerprint.ExactHash, &phash, &rec.SourceURL, &rec.NumericKey, &kind, &descriptor, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get record")
	}
	rec.Kind = model.Kind(kind)
	if phash.Valid {
		rec.Fingerprint.PerceptualHash = model.Ptr(uint64(phash.Int64)) //nolint:gosec // bit-preserving conversion
	}
	if err := json.Unmarshal([]byte(descriptor), &rec.Descriptor); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal descriptor")
	}
	return &rec, nil
}
