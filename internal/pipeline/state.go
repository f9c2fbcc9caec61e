package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insightminer/internal/model"
)

// run is the state of one acquisition. It is owned by a single goroutine.
type run struct {
	acq *Acquirer
	log *zap.Logger
	out *model.AcquisitionOutcome

	payload *model.RawPayload
	scratch string
	staged  string
}

func (r *run) enter(s model.State) {
	r.out.States = append(r.out.States, s)
	r.out.FinalState = s
	r.log.Debug("acquire: state", zap.String("state", string(s)))
}

// fail ends the acquisition. An expired or canceled context overrides the
// stage's own failure kind.
func (r *run) fail(ctx context.Context, kind model.FailureKind, err error) {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = model.FailureTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		kind = model.FailureCanceled
	}
	r.enter(model.StateFailed)
	r.out.Success = false
	r.out.FailureKind = kind
	if err != nil {
		r.out.Error = err.Error()
	}
}

// interrupted fails the acquisition when ctx is done.
func (r *run) interrupted(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	r.fail(ctx, model.FailureTimeout, ctx.Err())
	return true
}

// stage writes the payload into the scratch directory once, creating the
// directory on first use.
func (r *run) stage(desc *model.MediaDescriptor) (string, error) {
	if r.staged != "" {
		return r.staged, nil
	}
	if r.scratch == "" {
		dir, err := os.MkdirTemp(r.acq.opts.ScratchDir, "acquire-*")
		if err != nil {
			return "", eris.Wrap(err, "acquire: create scratch dir")
		}
		r.scratch = dir
	}

	ext := ".bin"
	if m := mimetype.Lookup(desc.MimeType); m != nil && m.Extension() != "" {
		ext = m.Extension()
	}
	path := filepath.Join(r.scratch, "media"+ext)
	if err := os.WriteFile(path, r.payload.Bytes(), 0o600); err != nil {
		return "", eris.Wrap(err, "acquire: stage payload")
	}
	r.staged = path
	return path, nil
}

// release zeroes the payload and removes the scratch directory. It runs on
// every exit path.
func (r *run) release() {
	r.payload.Release()
	if r.scratch == "" {
		return
	}
	if err := os.RemoveAll(r.scratch); err != nil {
		r.log.Warn("acquire: remove scratch dir", zap.String("dir", r.scratch), zap.Error(err))
	}
	r.scratch = ""
	r.staged = ""
}
