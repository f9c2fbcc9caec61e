package pipeline

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/sells-group/insightminer/internal/fingerprint"
	"github.com/sells-group/insightminer/internal/media"
	"github.com/sells-group/insightminer/internal/model"
	"github.com/sells-group/insightminer/internal/store"
)

// Fingerprint computes the payload fingerprint. The perceptual hash comes
// from the decoded image or the first video frame and is skipped for
// unknown kinds. A perceptual failure only drops the perceptual hash.
func Fingerprint(ctx context.Context, kind model.Kind, data []byte, staged, scratch string, tools media.Toolkit) *model.Fingerprint {
	fp := &model.Fingerprint{ExactHash: fingerprint.Exact(data)}
	log := zap.L().With(zap.String("exact_hash", fp.ExactHash))

	switch kind {
	case model.KindImage:
		h, err := fingerprint.Perceptual(data)
		if err != nil {
			log.Debug("dedup: image not decodable, exact hash only", zap.Error(err))
			return fp
		}
		fp.PerceptualHash = &h
	case model.KindVideo:
		if tools == nil || staged == "" {
			return fp
		}
		frame := filepath.Join(scratch, "first_frame.jpg")
		if err := tools.FirstFrame(ctx, staged, frame); err != nil {
			log.Debug("dedup: first frame unavailable, exact hash only", zap.Error(err))
			return fp
		}
		h, err := fingerprint.PerceptualFile(frame)
		if err != nil {
			log.Debug("dedup: first frame not decodable", zap.Error(err))
			return fp
		}
		fp.PerceptualHash = &h
	}
	return fp
}

// DedupPhase fingerprints the payload and checks the store. The duplicate
// flag stays nil when there is no store or the lookup fails.
func DedupPhase(ctx context.Context, kind model.Kind, data []byte, staged, scratch string, tools media.Toolkit, st store.Store) (*model.Fingerprint, *bool) {
	fp := Fingerprint(ctx, kind, data, staged, scratch, tools)
	if st == nil {
		return fp, nil
	}
	dup, err := st.LookupFingerprint(ctx, *fp)
	if err != nil {
		zap.L().Warn("dedup: store lookup failed", zap.String("exact_hash", fp.ExactHash), zap.Error(err))
		return fp, nil
	}
	return fp, &dup
}
