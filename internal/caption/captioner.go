// Package caption asks a multimodal model for a hazard assessment of an image
// and parses its reply into a typed result.
package caption

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tendant/simple-hazard-pipeline/internal/detection"
	"github.com/tendant/simple-hazard-pipeline/internal/prompt"
)

const (
	// SystemInstruction is sent with every request
	SystemInstruction = "Answer the question below. The final output should be in the JSON format."
	// Prefill seeds the assistant turn so the reply continues a JSON object
	Prefill = "{"

	DefaultMaxTokens = 4000
)

// Request is one multimodal inference call
type Request struct {
	System      string
	Prompt      string
	ImageBase64 string
	MediaType   string
	Prefill     string
	MaxTokens   int
}

// Invoker sends a request to the inference service and returns the generated text
type Invoker interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// Captioner renders the prompt, calls the model and parses the reply
type Captioner struct {
	invoker   Invoker
	maxTokens int
	log       zerolog.Logger
}

// NewCaptioner creates a captioner. maxTokens <= 0 uses DefaultMaxTokens.
func NewCaptioner(invoker Invoker, maxTokens int, log zerolog.Logger) *Captioner {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Captioner{invoker: invoker, maxTokens: maxTokens, log: log}
}

// Caption returns the parsed assessment. Inference errors are returned;
// unusable model output is not an error and yields the fallback values.
func (c *Captioner) Caption(ctx context.Context, tmpl prompt.Template, labels []detection.LabelSummary, ppe detection.PPESummary, image []byte) (Result, error) {
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode labels: %w", err)
	}
	ppeJSON, err := json.Marshal(ppe)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode ppe summary: %w", err)
	}

	req := Request{
		System:      SystemInstruction,
		Prompt:      tmpl.Render(string(labelsJSON), string(ppeJSON)),
		ImageBase64: base64.StdEncoding.EncodeToString(image),
		MediaType:   MediaType(image),
		Prefill:     Prefill,
		MaxTokens:   c.maxTokens,
	}

	completion, err := c.invoker.Invoke(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("inference failed: %w", err)
	}

	result := Parse(Prefill + completion)
	if result.IsFallback() {
		c.log.Warn().
			Str("outcome", string(result.Outcome)).
			Str("prompt_id", tmpl.ID).
			Int("raw_len", len(result.Raw)).
			Msg("Model output unusable, using fallback assessment")
	} else if result.Outcome == OutcomeClamped {
		c.log.Warn().
			Str("prompt_id", tmpl.ID).
			Int("classification", result.Classification).
			Int("risk_level", result.RiskLevel).
			Msg("Model scores out of range, clamped")
	}
	return result, nil
}

// MediaType sniffs the image type, defaulting to JPEG for anything that is
// not a recognized image
func MediaType(data []byte) string {
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/jpeg"
}
