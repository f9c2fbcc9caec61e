package main

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insightminer/internal/media"
	"github.com/sells-group/insightminer/internal/ocr"
	"github.com/sells-group/insightminer/internal/pipeline"
	"github.com/sells-group/insightminer/internal/resilience"
	"github.com/sells-group/insightminer/internal/session"
	"github.com/sells-group/insightminer/internal/transcribe"
	anthropicpkg "github.com/sells-group/insightminer/pkg/anthropic"
)

// initCapabilities builds the analysis engines. Each remote or external
// engine sits behind its own circuit breaker.
func initCapabilities() (pipeline.Deps, error) {
	breakers := resilience.NewServiceBreakers(resilience.FromCircuitConfig(cfg.Engines.FailureThreshold, cfg.Engines.ResetTimeoutSecs))

	var ai anthropicpkg.Client
	if cfg.Anthropic.Key != "" {
		ai = anthropicpkg.NewClient(cfg.Anthropic.Key)
	}
	extractor, err := ocr.NewExtractor(cfg.OCR, ai, cfg.Anthropic.Model)
	if err != nil {
		return pipeline.Deps{}, eris.Wrap(err, "init ocr")
	}
	stt, err := transcribe.New(cfg.Transcribe)
	if err != nil {
		return pipeline.Deps{}, eris.Wrap(err, "init transcriber")
	}

	return pipeline.Deps{
		Media:       media.NewFFmpeg(cfg.Recovery.FFmpegPath, cfg.Recovery.FFprobePath),
		OCR:         ocr.WithBreaker(extractor, breakers.Get("ocr")),
		Transcriber: transcribe.WithBreaker(stt, breakers.Get("transcribe")),
	}, nil
}

func initSession() *session.HTTPSession {
	return session.NewHTTPSession(session.HTTPOptions{
		BaseURL:         cfg.Session.BaseURL,
		SessionID:       cfg.Session.SessionID,
		UserAgent:       cfg.Session.UserAgent,
		AppID:           cfg.Session.AppID,
		Timeout:         time.Duration(cfg.Session.TimeoutSecs) * time.Second,
		RequestsPerSec:  cfg.Session.RequestsPerSec,
		MaxPayloadBytes: cfg.Session.MaxPayloadBytes,
	})
}
