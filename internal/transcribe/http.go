package transcribe

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insightminer/internal/model"
)

// HTTP calls an OpenAI-compatible /audio/transcriptions endpoint.
type HTTP struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTP creates an HTTP transcriber.
func NewHTTP(baseURL, apiKey, modelName string) *HTTP {
	if modelName == "" {
		modelName = "whisper-1"
	}
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   modelName,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

// Transcribe uploads the audio file and parses the verbose_json response.
func (h *HTTP) Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, eris.Wrapf(err, "transcribe: open %s", audioPath)
	}
	defer f.Close() //nolint:errcheck

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, eris.Wrap(err, "transcribe: create form file")
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, eris.Wrap(err, "transcribe: copy audio")
	}
	_ = mw.WriteField("model", h.model)
	_ = mw.WriteField("response_format", "verbose_json")
	if err := mw.Close(); err != nil {
		return nil, eris.Wrap(err, "transcribe: close multipart")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, eris.Wrap(err, "transcribe: create request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "transcribe: http call")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "transcribe: read response")
	}
	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil, eris.Wrapf(ErrUnavailable, "transcribe: endpoint returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, eris.Errorf("transcribe: endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}
	return parseWhisper(respBody)
}
