package pipeline

import (
	"context"
	"errors"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insightminer/internal/model"
	"github.com/sells-group/insightminer/internal/resilience"
	"github.com/sells-group/insightminer/internal/session"
)

// FetchResult is the downloaded payload plus the probe that chose its
// rendition, if one ran.
type FetchResult struct {
	Payload *model.RawPayload
	// ProbeKind is the probe verdict, or "" when no probe ran.
	ProbeKind model.Kind
	// Attempts counts upstream byte requests, the probe included.
	Attempts int
}

// FetchPhase downloads the item's bytes by numeric key. Items of unknown
// kind get a ranged probe first so the full download prefers the right
// rendition. Upstream absence or denial is returned without retrying.
func FetchPhase(ctx context.Context, sess session.Provider, desc *model.MediaDescriptor, retry resilience.RetryConfig) (*FetchResult, error) {
	key := desc.Identifier.Key()
	if key == "" {
		return nil, eris.New("fetch: descriptor has no numeric key")
	}
	log := zap.L().With(zap.String("key", key))

	res := &FetchResult{}
	prefer := desc.Kind
	if !prefer.Known() {
		retry.OnRetry = resilience.RetryLogger("session", "probe_bytes")
		probe, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*session.Probe, error) {
			res.Attempts++
			return sess.ProbeBytes(ctx, key)
		})
		switch {
		case err == nil:
			prefer = probeKind(probe)
			res.ProbeKind = prefer
			log.Debug("fetch: probe verdict", zap.String("kind", string(prefer)), zap.String("content_type", probe.ContentType))
		case ctx.Err() != nil || isDeletedOrRestricted(err):
			return res, err
		default:
			// The probe only steers rendition choice; the full download
			// gives the verdict.
			log.Warn("fetch: probe failed, downloading without preference", zap.Error(err))
		}
	}

	retry.OnRetry = resilience.RetryLogger("session", "fetch_bytes")
	payload, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*model.RawPayload, error) {
		res.Attempts++
		return sess.FetchBytes(ctx, key, prefer)
	})
	if err != nil {
		return res, err
	}
	res.Payload = payload
	log.Debug("fetch: downloaded",
		zap.Int("bytes", payload.Len()),
		zap.String("content_type", payload.ContentType),
		zap.Int("attempts", res.Attempts),
	)
	return res, nil
}

// probeKind decides a preference from the probe's leading bytes, then its
// content type, then whether video renditions exist at all.
func probeKind(p *session.Probe) model.Kind {
	if p == nil {
		return model.KindUnknown
	}
	if k := kindFromMIME(mimetype.Detect(p.Head).String()); k.Known() {
		return k
	}
	if k := declaredKind(p.ContentType); k.Known() {
		return k
	}
	if p.HasVideo {
		return model.KindVideo
	}
	return model.KindUnknown
}

// kindFromMIME maps a media type to a kind. Anything that is neither image
// nor video is unknown.
func kindFromMIME(mt string) model.Kind {
	switch {
	case strings.HasPrefix(mt, "image/"):
		return model.KindImage
	case strings.HasPrefix(mt, "video/"):
		return model.KindVideo
	}
	return model.KindUnknown
}

// declaredKind parses a Content-Type header value.
func declaredKind(contentType string) model.Kind {
	if contentType == "" {
		return model.KindUnknown
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return model.KindUnknown
	}
	return kindFromMIME(mt)
}

func isDeletedOrRestricted(err error) bool {
	return errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrAccessDenied)
}
