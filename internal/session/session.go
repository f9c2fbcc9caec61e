// Package session provides the authenticated platform session used to resolve
// items, read their structured info and download their bytes.
package session

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insightminer/internal/model"
)

// Provider is an authenticated platform session. It is injected per
// acquisition; implementations must be safe for concurrent use.
type Provider interface {
	// ResolveKey maps an item URL to its numeric key.
	ResolveKey(ctx context.Context, rawURL string) (string, error)
	// FetchInfo returns the raw structured-info document for key.
	FetchInfo(ctx context.Context, key string) ([]byte, error)
	// ProbeBytes fetches only the leading bytes of the item's best rendition.
	ProbeBytes(ctx context.Context, key string) (*Probe, error)
	// FetchBytes downloads the item, preferring renditions of the given kind.
	FetchBytes(ctx context.Context, key string, prefer model.Kind) (*model.RawPayload, error)
}

// Probe is the result of a lightweight ranged request.
type Probe struct {
	URL         string
	ContentType string
	Head        []byte
	// HasVideo reports whether the info document lists video renditions.
	HasVideo bool
}

// Sentinel errors. Upstream-absent and access-denied conditions are wrapped in
// resilience.FatalError so the retry controller never retries them.
var (
	ErrNotFound        = eris.New("item not found")
	ErrAccessDenied    = eris.New("access denied")
	ErrAuthRejected    = eris.New("session rejected")
	ErrUnresolvable    = eris.New("url cannot be resolved to a key")
	ErrNoMedia         = eris.New("no downloadable rendition")
	ErrPayloadTooLarge = eris.New("payload exceeds size cap")
)
