package ocr

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/rotisserie/eris"
)

// Tesseract extracts text using the tesseract CLI, feeding the image on stdin.
type Tesseract struct {
	binPath   string
	languages string
}

// NewTesseract creates a Tesseract extractor. If binPath is empty, "tesseract" is used.
func NewTesseract(binPath, languages string) *Tesseract {
	if binPath == "" {
		binPath = "tesseract"
	}
	if languages == "" {
		languages = "eng"
	}
	return &Tesseract{binPath: binPath, languages: languages}
}

// ExtractText runs tesseract with a uniform-block page segmentation.
func (t *Tesseract) ExtractText(ctx context.Context, image []byte) ([]string, error) {
	cmd := exec.CommandContext(ctx, t.binPath, "stdin", "stdout", "-l", t.languages, "--psm", "6")

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(image)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "ocr: tesseract failed: %s", stderr.String())
	}

	return Clean(stdout.String()), nil
}
