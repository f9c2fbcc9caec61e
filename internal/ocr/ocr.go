// Package ocr extracts on-screen text from images.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insightminer/internal/config"
	"github.com/sells-group/insightminer/internal/resilience"
	"github.com/sells-group/insightminer/pkg/anthropic"
)

// Extractor extracts ordered text lines from an encoded image.
type Extractor interface {
	ExtractText(ctx context.Context, image []byte) ([]string, error)
}

// NewExtractor creates an Extractor based on config. It returns nil, nil for
// the "none" provider; callers treat a nil extractor as unavailable.
func NewExtractor(cfg config.OCRConfig, ai anthropic.Client, model string) (Extractor, error) {
	switch cfg.Provider {
	case "tesseract", "":
		return NewTesseract(cfg.TesseractPath, cfg.Languages), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires ocr.mistral_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	case "claude":
		if ai == nil {
			return nil, eris.New("ocr: claude provider requires anthropic.key")
		}
		return NewClaude(ai, model), nil
	case "none":
		return nil, nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// Guarded routes extraction through a circuit breaker so a failing engine
// is skipped quickly once it has tripped.
type Guarded struct {
	next Extractor
	cb   *resilience.CircuitBreaker
}

// WithBreaker wraps e with cb. A nil extractor stays nil.
func WithBreaker(e Extractor, cb *resilience.CircuitBreaker) Extractor {
	if e == nil {
		return nil
	}
	return &Guarded{next: e, cb: cb}
}

// ExtractText implements Extractor.
func (g *Guarded) ExtractText(ctx context.Context, image []byte) ([]string, error) {
	return resilience.ExecuteVal(ctx, g.cb, func(ctx context.Context) ([]string, error) {
		return g.next.ExtractText(ctx, image)
	})
}
