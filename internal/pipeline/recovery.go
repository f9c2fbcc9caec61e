package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/insightminer/internal/media"
	"github.com/sells-group/insightminer/internal/model"
	"github.com/sells-group/insightminer/internal/ocr"
	"github.com/sells-group/insightminer/internal/transcribe"
)

// RecoveryDeps are the analysis capabilities recovery consumes. Any of them
// may be nil, which degrades the matching sub-step.
type RecoveryDeps struct {
	Media       media.Toolkit
	OCR         ocr.Extractor
	Transcriber transcribe.Transcriber
}

// RecoveryOptions bound the work recovery does per item.
type RecoveryOptions struct {
	FrameInterval  time.Duration
	MaxFrames      int
	OCRConcurrency int
}

// recovery accumulates best-effort results. Sub-steps run concurrently and
// report through it.
type recovery struct {
	mu       sync.Mutex
	result   model.RecoveryResult
	degraded bool
	log      *zap.Logger
}

func (r *recovery) degrade(step string, err error) {
	r.mu.Lock()
	r.degraded = true
	r.mu.Unlock()
	r.log.Warn("recovery: step degraded", zap.String("step", step), zap.Error(err))
}

var (
	errNoEngine = errors.New("engine not configured")
	errNoTools  = errors.New("media tools not configured")
)

// RecoveryPhase analyzes the downloaded content to fill what the descriptor
// lacks. staged is the payload written to disk; scratch is the per-item
// directory for derived artifacts. It never fails: each sub-step that cannot
// complete leaves its field absent and marks the result degraded.
func RecoveryPhase(
	ctx context.Context,
	desc *model.MediaDescriptor,
	data []byte,
	staged, scratch string,
	deps RecoveryDeps,
	opts RecoveryOptions,
) (*model.RecoveryResult, bool) {
	r := &recovery{log: zap.L().With(zap.String("key", desc.Identifier.Key()), zap.String("kind", string(desc.Kind)))}

	switch desc.Kind {
	case model.KindImage:
		recoverImage(ctx, r, data, deps)
	case model.KindVideo:
		recoverVideo(ctx, r, staged, scratch, deps, opts)
	default:
		return nil, false
	}

	if r.result.Empty() {
		return nil, r.degraded
	}
	return &r.result, r.degraded
}

func recoverImage(ctx context.Context, r *recovery, data []byte, deps RecoveryDeps) {
	if props, err := media.InspectImage(data); err != nil {
		r.degrade("image_metadata", err)
	} else {
		r.result.Technical = props
	}

	if deps.OCR == nil {
		r.degrade("ocr", errNoEngine)
		return
	}
	lines, err := deps.OCR.ExtractText(ctx, data)
	if err != nil {
		r.degrade("ocr", err)
		return
	}
	if merged := ocr.Merge(lines); len(merged) > 0 {
		r.result.OnScreenText = merged
	}
}

func recoverVideo(ctx context.Context, r *recovery, staged, scratch string, deps RecoveryDeps, opts RecoveryOptions) {
	if deps.Media == nil {
		r.degrade("probe", errNoTools)
		r.degrade("transcript", errNoTools)
		r.degrade("frames", errNoTools)
		return
	}

	props, err := deps.Media.Probe(ctx, staged)
	if err != nil {
		r.degrade("probe", err)
	} else {
		r.result.Technical = props
	}

	var g errgroup.Group
	g.Go(func() error {
		// A video with no audio stream has nothing to transcribe.
		if props != nil && props.HasAudio != nil && !*props.HasAudio {
			return nil
		}
		transcript, err := transcribeAudio(ctx, staged, scratch, deps)
		if err != nil {
			r.degrade("transcript", err)
			return nil
		}
		r.mu.Lock()
		r.result.Transcript = transcript
		r.mu.Unlock()
		return nil
	})
	g.Go(func() error {
		lines, err := readFrames(ctx, r, staged, scratch, deps, opts)
		if err != nil {
			r.degrade("frames", err)
			return nil
		}
		if len(lines) > 0 {
			r.mu.Lock()
			r.result.OnScreenText = lines
			r.mu.Unlock()
		}
		return nil
	})
	_ = g.Wait()
}

func transcribeAudio(ctx context.Context, staged, scratch string, deps RecoveryDeps) (*model.Transcript, error) {
	if deps.Transcriber == nil {
		return nil, transcribe.ErrUnavailable
	}
	audio := filepath.Join(scratch, "audio.wav")
	if err := deps.Media.ExtractAudio(ctx, staged, audio); err != nil {
		return nil, err
	}
	return deps.Transcriber.Transcribe(ctx, audio)
}

// readFrames samples frames and runs OCR on each with bounded concurrency.
// Per-frame failures degrade the result but keep the other frames.
func readFrames(ctx context.Context, r *recovery, staged, scratch string, deps RecoveryDeps, opts RecoveryOptions) ([]string, error) {
	if deps.OCR == nil {
		return nil, errNoEngine
	}
	dir := filepath.Join(scratch, "frames")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	frames, err := deps.Media.SampleFrames(ctx, staged, dir, opts.FrameInterval, opts.MaxFrames)
	if err != nil {
		return nil, err
	}

	perFrame := make([][]string, len(frames))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.OCRConcurrency, 1))
	for i, frame := range frames {
		g.Go(func() error {
			img, err := os.ReadFile(frame)
			if err != nil {
				r.degrade("frame_ocr", err)
				return nil
			}
			lines, err := deps.OCR.ExtractText(gCtx, img)
			clear(img)
			if err != nil {
				r.degrade("frame_ocr", err)
				return nil
			}
			perFrame[i] = lines
			return nil
		})
	}
	_ = g.Wait()

	return ocr.Merge(perFrame...), nil
}
