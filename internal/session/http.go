package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/insightminer/internal/model"
	"github.com/sells-group/insightminer/internal/resilience"
)

const (
	probeBytes     = 512
	maxInfoBytes   = 8 << 20
	maxCachedInfos = 64
)

// HTTPOptions configures the HTTP session.
type HTTPOptions struct {
	BaseURL         string
	SessionID       string
	UserAgent       string
	AppID           string
	Timeout         time.Duration
	RequestsPerSec  float64
	MaxPayloadBytes int64
	// Client overrides the HTTP client. Tests point it at httptest servers.
	Client *http.Client
}

// HTTPSession implements Provider against the private mobile API.
type HTTPSession struct {
	opts    HTTPOptions
	client  *http.Client
	limiter *rate.Limiter

	mu    sync.Mutex
	infos map[string][]byte
}

var _ Provider = (*HTTPSession)(nil)

// NewHTTPSession creates a new HTTPSession with the given options.
func NewHTTPSession(opts HTTPOptions) *HTTPSession {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 1
	}
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = 200 << 20
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPSession{
		opts:    opts,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1),
		infos:   make(map[string][]byte),
	}
}

// ResolveKey decodes the key from the URL locally.
func (s *HTTPSession) ResolveKey(_ context.Context, rawURL string) (string, error) {
	return KeyFromURL(rawURL)
}

// FetchInfo returns the raw info document for key. In-band failures
// ("status": "fail") are mapped onto the same errors as HTTP statuses.
func (s *HTTPSession) FetchInfo(ctx context.Context, key string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "session: rate limiter wait")
	}

	endpoint := s.opts.BaseURL + "/media/" + url.PathEscape(key) + "/info/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "session: create info request")
	}
	s.apiHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "session: info request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInfoBytes))
	if err != nil {
		return nil, eris.Wrap(err, "session: read info body")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("fetch info", resp.StatusCode, body)
	}
	if msg, failed := infoFailure(body); failed {
		return nil, messageError("fetch info", msg)
	}

	s.remember(key, body)
	return body, nil
}

// ProbeBytes issues a ranged request for the first bytes of the best
// rendition listed for key.
func (s *HTTPSession) ProbeBytes(ctx context.Context, key string) (*Probe, error) {
	return withFreshCandidates(ctx, s, key, func(cands candidates) (*Probe, error) {
		hasVideo := len(cands.Video) > 0
		prefer := model.KindImage
		if hasVideo {
			prefer = model.KindVideo
		}
		return s.probe(ctx, cands.ordered(prefer)[0], hasVideo)
	})
}

func (s *HTTPSession) probe(ctx context.Context, target string, hasVideo bool) (*Probe, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "session: create probe request")
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Range", "bytes=0-511")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "session: probe request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, statusError("probe", resp.StatusCode, nil)
	}

	// Servers that ignore Range still only get probeBytes read.
	head, err := io.ReadAll(io.LimitReader(resp.Body, probeBytes))
	if err != nil {
		return nil, eris.Wrap(err, "session: read probe body")
	}
	return &Probe{
		URL:         target,
		ContentType: resp.Header.Get("Content-Type"),
		Head:        head,
		HasVideo:    hasVideo,
	}, nil
}

// FetchBytes downloads the first rendition of the preferred kind that
// succeeds. A transient failure on any candidate makes the overall error
// transient so the caller's retry controller gets another attempt.
func (s *HTTPSession) FetchBytes(ctx context.Context, key string, prefer model.Kind) (*model.RawPayload, error) {
	payload, err := withFreshCandidates(ctx, s, key, func(cands candidates) (*model.RawPayload, error) {
		return s.downloadFirst(ctx, key, cands.ordered(prefer))
	})
	if err != nil {
		return nil, err
	}
	s.forget(key)
	return payload, nil
}

func (s *HTTPSession) downloadFirst(ctx context.Context, key string, targets []string) (*model.RawPayload, error) {
	var transient, last error
	for _, target := range targets {
		payload, err := s.download(ctx, target)
		if err == nil {
			return payload, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		zap.L().Debug("session: candidate download failed",
			zap.String("key", key),
			zap.Error(err),
		)
		last = err
		if resilience.IsTransient(err) && transient == nil {
			transient = err
		}
	}
	if transient != nil {
		return nil, transient
	}
	return nil, last
}

func (s *HTTPSession) download(ctx context.Context, target string) (*model.RawPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "session: create download request")
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "session: download request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("download", resp.StatusCode, nil)
	}
	if resp.ContentLength > s.opts.MaxPayloadBytes {
		return nil, resilience.NewFatalError(eris.Wrapf(ErrPayloadTooLarge, "session: download: %d bytes", resp.ContentLength), 0)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.opts.MaxPayloadBytes+1))
	if err != nil {
		clear(data)
		return nil, eris.Wrap(err, "session: read download body")
	}
	if int64(len(data)) > s.opts.MaxPayloadBytes {
		clear(data)
		return nil, resilience.NewFatalError(eris.Wrap(ErrPayloadTooLarge, "session: download"), 0)
	}
	return model.NewRawPayload(data, resp.Header.Get("Content-Type"), target), nil
}

// withFreshCandidates runs fn against the renditions listed for key. CDN
// links in a cached info document expire; when every link of a cached
// document is rejected as missing or denied, the document is fetched once
// more and fn runs against the fresh links.
func withFreshCandidates[T any](ctx context.Context, s *HTTPSession, key string, fn func(candidates) (T, error)) (T, error) {
	var zero T
	cands, cached, err := s.candidatesFor(ctx, key)
	if err != nil {
		return zero, err
	}
	v, err := fn(cands)
	if err == nil || !cached || !isRejectedLink(err) {
		return v, err
	}

	zap.L().Debug("session: cached renditions rejected, refreshing info",
		zap.String("key", key),
		zap.Error(err),
	)
	s.forget(key)
	if cands, _, err = s.candidatesFor(ctx, key); err != nil {
		return zero, err
	}
	return fn(cands)
}

func isRejectedLink(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrAccessDenied)
}

// candidatesFor extracts download URLs, reusing the info document fetched
// by the metadata stage when one is cached. It reports whether the
// document came from the cache.
func (s *HTTPSession) candidatesFor(ctx context.Context, key string) (candidates, bool, error) {
	body, cached := s.cached(key)
	if !cached {
		var err error
		body, err = s.FetchInfo(ctx, key)
		if err != nil {
			return candidates{}, false, err
		}
	}
	cands := extractCandidates(body)
	if cands.empty() {
		return candidates{}, cached, resilience.NewFatalError(eris.Wrapf(ErrNoMedia, "session: key %s", key), 0)
	}
	return cands, cached, nil
}

func (s *HTTPSession) apiHeaders(req *http.Request) {
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	if s.opts.AppID != "" {
		req.Header.Set("X-IG-App-ID", s.opts.AppID)
	}
	if s.opts.SessionID != "" {
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: s.opts.SessionID})
	}
}

func (s *HTTPSession) remember(key string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.infos) >= maxCachedInfos {
		clear(s.infos)
	}
	s.infos[key] = body
}

func (s *HTTPSession) cached(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.infos[key]
	return body, ok
}

func (s *HTTPSession) forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.infos, key)
}

// statusError maps an upstream HTTP status onto the session error taxonomy.
func statusError(op string, code int, body []byte) error {
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return resilience.NewFatalError(eris.Wrapf(ErrNotFound, "session: %s: status %d", op, code), code)
	case code == http.StatusForbidden:
		return resilience.NewFatalError(eris.Wrapf(ErrAccessDenied, "session: %s: status %d", op, code), code)
	case code == http.StatusUnauthorized:
		return resilience.NewFatalError(eris.Wrapf(ErrAuthRejected, "session: %s: status %d", op, code), code)
	case resilience.IsTransientHTTPStatus(code):
		return resilience.NewTransientError(eris.Errorf("session: %s: status %d", op, code), code)
	case code == http.StatusBadRequest && len(body) > 0:
		if msg := gjson.GetBytes(body, "message").String(); msg != "" {
			return messageError(op, msg)
		}
	}
	return resilience.NewFatalError(eris.Errorf("session: %s: unexpected status %d", op, code), code)
}

// messageError maps an in-band upstream failure message.
func messageError(op, msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "login_required"), strings.Contains(lower, "checkpoint_required"):
		return resilience.NewFatalError(eris.Wrapf(ErrAuthRejected, "session: %s: %s", op, msg), 0)
	case strings.Contains(lower, "not found"), strings.Contains(lower, "unavailable"), strings.Contains(lower, "deleted"):
		return resilience.NewFatalError(eris.Wrapf(ErrNotFound, "session: %s: %s", op, msg), 0)
	case strings.Contains(lower, "private"), strings.Contains(lower, "not authorized"):
		return resilience.NewFatalError(eris.Wrapf(ErrAccessDenied, "session: %s: %s", op, msg), 0)
	case strings.Contains(lower, "please wait"), strings.Contains(lower, "rate"):
		return resilience.NewTransientError(eris.Errorf("session: %s: %s", op, msg), http.StatusTooManyRequests)
	}
	return resilience.NewFatalError(eris.Errorf("session: %s: upstream failure: %s", op, msg), 0)
}
