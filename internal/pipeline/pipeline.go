// Package pipeline acquires a single item: it resolves the URL, reads
// metadata or falls back, downloads and classifies the bytes, recovers what
// the metadata lacked and fingerprints the result.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/insightminer/internal/config"
	"github.com/sells-group/insightminer/internal/media"
	"github.com/sells-group/insightminer/internal/model"
	"github.com/sells-group/insightminer/internal/ocr"
	"github.com/sells-group/insightminer/internal/resilience"
	"github.com/sells-group/insightminer/internal/session"
	"github.com/sells-group/insightminer/internal/store"
	"github.com/sells-group/insightminer/internal/transcribe"
)

// Deps are the capabilities shared by all acquisitions. The session is not
// among them; it is passed to each Acquire call.
type Deps struct {
	Media       media.Toolkit
	OCR         ocr.Extractor
	Transcriber transcribe.Transcriber
	Store       store.Store
}

// Options tune an Acquirer.
type Options struct {
	Retry    resilience.RetryConfig
	Recovery RecoveryOptions
	// Timeout applies when Acquire is called without one.
	Timeout time.Duration
	// ScratchDir is the parent of per-acquisition scratch directories.
	// Empty means the OS temp dir.
	ScratchDir string
}

// OptionsFromConfig maps application config onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Retry: resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelayMs, cfg.Retry.MaxDelayMs),
		Recovery: RecoveryOptions{
			FrameInterval:  time.Duration(cfg.Recovery.FrameIntervalSecs) * time.Second,
			MaxFrames:      cfg.Recovery.MaxFrames,
			OCRConcurrency: cfg.Recovery.OCRConcurrency,
		},
		Timeout:    cfg.Acquire.Timeout(),
		ScratchDir: cfg.Acquire.ScratchDir,
	}
}

// Acquirer runs acquisitions. It holds no per-acquisition state and is safe
// for concurrent use.
type Acquirer struct {
	deps Deps
	opts Options
}

// New creates an Acquirer.
func New(deps Deps, opts Options) *Acquirer {
	if opts.Recovery.FrameInterval <= 0 {
		opts.Recovery.FrameInterval = 2 * time.Second
	}
	if opts.Recovery.OCRConcurrency <= 0 {
		opts.Recovery.OCRConcurrency = 4
	}
	return &Acquirer{deps: deps, opts: opts}
}

// Acquire runs one acquisition of rawURL against sess within timeout. It
// always returns an outcome; failures are reported in it, never as an
// error. The raw payload and every scratch artifact are released before it
// returns.
func (a *Acquirer) Acquire(ctx context.Context, sess session.Provider, rawURL string, timeout time.Duration) *model.AcquisitionOutcome {
	start := time.Now()
	if timeout <= 0 {
		timeout = a.opts.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r := &run{
		acq: a,
		log: zap.L().With(zap.String("url", rawURL)),
		out: &model.AcquisitionOutcome{},
	}
	defer r.release()

	r.execute(ctx, sess, rawURL)

	r.out.Elapsed = time.Since(start)
	r.logOutcome()
	return r.out
}

func (r *run) execute(ctx context.Context, sess session.Provider, rawURL string) {
	r.enter(model.StateResolving)
	id, err := Resolve(rawURL)
	if err != nil {
		r.fail(ctx, model.FailureInvalidURL, err)
		return
	}

	r.enter(model.StateFetchingMetadata)
	meta, err := MetadataPhase(ctx, sess, id, r.acq.opts.Retry)
	if err != nil {
		r.fail(ctx, model.FailureResolutionFailed, err)
		return
	}

	var desc *model.MediaDescriptor
	switch m := meta.(type) {
	case MetadataOK:
		r.enter(model.StateMetadataOk)
		desc = m.Descriptor
	case NeedsFallback:
		r.enter(model.StateFallingBack)
		r.log.Debug("acquire: fallback", zap.String("reason", m.Reason))
		desc = Fallback(m.Identifier)
	}

	r.enter(model.StateFetchingBytes)
	fetched, err := FetchPhase(ctx, sess, desc, r.acq.opts.Retry)
	if fetched != nil {
		r.out.Attempts = fetched.Attempts
		r.payload = fetched.Payload
	}
	if err != nil {
		kind := model.FailureFetchFailed
		if isDeletedOrRestricted(err) {
			kind = model.FailureDeletedOrRestricted
		}
		r.fail(ctx, kind, err)
		return
	}

	r.enter(model.StateClassifying)
	ClassifyPhase(desc, r.payload)
	if r.interrupted(ctx) {
		return
	}

	r.enter(model.StateRecovering)
	if desc.NeedsRecovery() {
		r.recover(ctx, desc)
	} else {
		r.log.Debug("acquire: recovery not needed", zap.String("kind", string(desc.Kind)))
	}
	if r.interrupted(ctx) {
		return
	}

	r.enter(model.StateFingerprinting)
	var staged string
	if desc.Kind == model.KindVideo {
		var err error
		if staged, err = r.stage(desc); err != nil {
			r.log.Warn("acquire: cannot stage payload for fingerprint, exact hash only", zap.Error(err))
		}
	}
	fp, dup := DedupPhase(ctx, desc.Kind, r.payload.Bytes(), staged, r.scratch, r.acq.deps.Media, r.acq.deps.Store)
	if r.interrupted(ctx) {
		return
	}

	r.enter(model.StateDone)
	r.out.Success = true
	r.out.Descriptor = desc
	r.out.Fingerprint = fp
	r.out.FingerprintDuplicate = dup
}

func (r *run) recover(ctx context.Context, desc *model.MediaDescriptor) {
	var staged string
	if desc.Kind == model.KindVideo {
		var err error
		if staged, err = r.stage(desc); err != nil {
			r.log.Warn("acquire: cannot stage payload for recovery", zap.Error(err))
			r.out.RecoveryDegraded = true
			return
		}
	}

	deps := RecoveryDeps{
		Media:       r.acq.deps.Media,
		OCR:         r.acq.deps.OCR,
		Transcriber: r.acq.deps.Transcriber,
	}
	result, degraded := RecoveryPhase(ctx, desc, r.payload.Bytes(), staged, r.scratch, deps, r.acq.opts.Recovery)
	desc.Merge(result)
	r.out.RecoveryDegraded = degraded
}

func (r *run) logOutcome() {
	fields := []zap.Field{
		zap.Bool("success", r.out.Success),
		zap.String("final_state", string(r.out.FinalState)),
		zap.Int("attempts", r.out.Attempts),
		zap.Duration("elapsed", r.out.Elapsed),
	}
	if r.out.Success {
		fields = append(fields,
			zap.String("kind", string(r.out.Descriptor.Kind)),
			zap.String("origin", string(r.out.Descriptor.Origin)),
			zap.Bool("recovery_degraded", r.out.RecoveryDegraded),
		)
		r.log.Info("acquire: done", fields...)
		return
	}
	fields = append(fields,
		zap.String("failure_kind", string(r.out.FailureKind)),
		zap.String("error", r.out.Error),
	)
	r.log.Info("acquire: failed", fields...)
}
