// Package transcribe turns extracted audio tracks into timed transcripts.
package transcribe

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insightminer/internal/config"
	"github.com/sells-group/insightminer/internal/model"
	"github.com/sells-group/insightminer/internal/resilience"
)

// ErrUnavailable means no speech-to-text engine can serve the request.
var ErrUnavailable = eris.New("speech-to-text unavailable")

// Transcriber converts an audio file into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error)
}

// New creates a Transcriber based on config. It returns nil, nil for the
// "none" provider; callers treat a nil transcriber as unavailable.
func New(cfg config.TranscribeConfig) (Transcriber, error) {
	switch cfg.Provider {
	case "whisper", "":
		return NewWhisper(cfg.WhisperPath, cfg.Model), nil
	case "http":
		if cfg.BaseURL == "" {
			return nil, eris.New("transcribe: http provider requires transcribe.base_url")
		}
		return NewHTTP(cfg.BaseURL, cfg.Key, cfg.Model), nil
	case "none":
		return nil, nil
	default:
		return nil, eris.Errorf("transcribe: unknown provider %q", cfg.Provider)
	}
}

// Guarded routes transcription through a circuit breaker.
type Guarded struct {
	next Transcriber
	cb   *resilience.CircuitBreaker
}

// WithBreaker wraps t with cb. A nil transcriber stays nil. An open circuit
// surfaces as ErrUnavailable.
func WithBreaker(t Transcriber, cb *resilience.CircuitBreaker) Transcriber {
	if t == nil {
		return nil
	}
	return &Guarded{next: t, cb: cb}
}

// Transcribe implements Transcriber.
func (g *Guarded) Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error) {
	tr, err := resilience.ExecuteVal(ctx, g.cb, func(ctx context.Context) (*model.Transcript, error) {
		return g.next.Transcribe(ctx, audioPath)
	})
	if resilience.IsCircuitOpen(err) {
		return nil, eris.Wrap(ErrUnavailable, "transcribe: circuit open")
	}
	return tr, err
}

// whisperResult is the JSON document written by whisper and returned by
// OpenAI-compatible verbose_json endpoints.
type whisperResult struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []whisperSegment `json:"segments"`
}

type whisperSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	AvgLogprob float64 `json:"avg_logprob"`
}

func parseWhisper(data []byte) (*model.Transcript, error) {
	var res whisperResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, eris.Wrap(err, "transcribe: unmarshal result")
	}
	tr := &model.Transcript{
		Text:     strings.TrimSpace(res.Text),
		Language: res.Language,
	}
	for _, s := range res.Segments {
		tr.Segments = append(tr.Segments, model.Segment{
			Start:      s.Start,
			End:        s.End,
			Text:       strings.TrimSpace(s.Text),
			Confidence: logprobConfidence(s.AvgLogprob),
		})
	}
	return tr, nil
}

// logprobConfidence maps a mean token log-probability onto [0, 1].
func logprobConfidence(avg float64) float64 {
	c := math.Exp(avg)
	if c > 1 {
		return 1
	}
	if c < 0 || math.IsNaN(c) {
		return 0
	}
	return math.Round(c*1000) / 1000
}
