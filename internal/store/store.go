// Package store persists acquisition records and answers fingerprint
// lookups for deduplication.
package store

import (
	"context"

	"github.com/sells-group/insightminer/internal/model"
)

// Store defines the persistence interface for finalized acquisitions.
type Store interface {
	// LookupFingerprint reports whether a record with the same exact hash
	// already exists. Perceptual hashes are stored but never decide a
	// duplicate on their own; unrelated images can share one.
	LookupFingerprint(ctx context.Context, fp model.Fingerprint) (bool, error)
	// UpsertRecord stores rec keyed by its exact hash.
	UpsertRecord(ctx context.Context, rec *model.Record) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// signedHash maps an unsigned perceptual hash onto the signed 64-bit
// integer columns of SQL backends. Bit patterns are preserved.
func signedHash(h *uint64) *int64 {
	if h == nil {
		return nil
	}
	v := int64(*h) //nolint:gosec // bit-preserving conversion
	return &v
}
