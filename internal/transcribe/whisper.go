package transcribe

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insightminer/internal/model"
)

// Whisper runs the whisper CLI and reads its JSON output.
type Whisper struct {
	binPath string
	model   string
}

// NewWhisper creates a Whisper transcriber. Empty arguments use "whisper"
// and the "tiny" model.
func NewWhisper(binPath, modelName string) *Whisper {
	if binPath == "" {
		binPath = "whisper"
	}
	if modelName == "" {
		modelName = "tiny"
	}
	return &Whisper{binPath: binPath, model: modelName}
}

// Transcribe writes whisper output next to the audio file, so it is removed
// with the rest of the acquisition scratch directory.
func (w *Whisper) Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error) {
	outDir, err := os.MkdirTemp(filepath.Dir(audioPath), "whisper-")
	if err != nil {
		return nil, eris.Wrap(err, "transcribe: create output dir")
	}
	defer os.RemoveAll(outDir) //nolint:errcheck

	cmd := exec.CommandContext(ctx, w.binPath, audioPath,
		"--model", w.model,
		"--output_format", "json",
		"--output_dir", outDir,
		"--fp16", "False",
		"--verbose", "False",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, eris.Wrapf(ErrUnavailable, "transcribe: %s not installed", w.binPath)
		}
		return nil, eris.Wrapf(err, "transcribe: whisper failed: %s", stderr.String())
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	data, err := os.ReadFile(filepath.Join(outDir, base+".json"))
	if err != nil {
		return nil, eris.Wrap(err, "transcribe: read whisper output")
	}
	return parseWhisper(data)
}
