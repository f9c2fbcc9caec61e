package ocr

import (
	"context"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rotisserie/eris"

	"github.com/sells-group/insightminer/pkg/anthropic"
)

const (
	defaultClaudeModel = "claude-haiku-4-5-20251001"
	noTextMarker       = "NO_TEXT"
)

const claudeSystemPrompt = `You transcribe text that is visibly rendered in images.
Output each distinct line of text on its own line, top to bottom, exactly as written.
Do not describe the image. Do not add commentary.
If the image contains no readable text, output ` + noTextMarker + `.`

// Claude extracts text with a vision-capable Claude model.
type Claude struct {
	client anthropic.Client
	model  string
}

// NewClaude creates a Claude extractor. If model is empty, the default is used.
func NewClaude(client anthropic.Client, model string) *Claude {
	if model == "" {
		model = defaultClaudeModel
	}
	return &Claude{client: client, model: model}
}

// ExtractText implements Extractor.
func (c *Claude) ExtractText(ctx context.Context, image []byte) ([]string, error) {
	mediaType := mimetype.Detect(image).String()
	switch mediaType {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
	default:
		return nil, eris.Errorf("ocr: claude cannot read %s", mediaType)
	}

	temp := 0.0
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   1024,
		System:      claudeSystemPrompt,
		Temperature: &temp,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: "Transcribe the text in this image.",
			Images:  []anthropic.Image{{MediaType: mediaType, Data: image}},
		}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "ocr: claude extract")
	}
	resp.Usage.LogCost(c.model, "ocr")

	text := resp.Text()
	if strings.TrimSpace(text) == noTextMarker {
		return nil, nil
	}
	return Clean(text), nil
}
