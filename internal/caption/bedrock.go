package caption

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const anthropicVersion = "bedrock-2023-05-31"

// BedrockAPI is the subset of the Bedrock runtime client used by BedrockInvoker
type BedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockInvoker implements Invoker with the Anthropic messages format on Bedrock
type BedrockInvoker struct {
	client  BedrockAPI
	modelID string
}

// NewBedrockInvoker creates an invoker for one model id
func NewBedrockInvoker(client BedrockAPI, modelID string) *BedrockInvoker {
	return &BedrockInvoker{client: client, modelID: modelID}
}

// ModelID returns the model the invoker calls
func (b *BedrockInvoker) ModelID() string {
	return b.modelID
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type messagesRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	System           string    `json:"system,omitempty"`
	Messages         []message `json:"messages"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
}

func buildBody(req Request) ([]byte, error) {
	body := messagesRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        req.MaxTokens,
		System:           req.System,
		Messages: []message{
			{
				Role: "user",
				Content: []contentBlock{
					{Type: "image", Source: &imageSource{Type: "base64", MediaType: req.MediaType, Data: req.ImageBase64}},
					{Type: "text", Text: req.Prompt},
				},
			},
		},
	}
	if req.Prefill != "" {
		body.Messages = append(body.Messages, message{
			Role:    "assistant",
			Content: []contentBlock{{Type: "text", Text: req.Prefill}},
		})
	}
	return json.Marshal(body)
}

func (b *BedrockInvoker) Invoke(ctx context.Context, req Request) (string, error) {
	body, err := buildBody(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("invoke model %s: %w", b.modelID, err)
	}

	var resp messagesResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode model response: %w", err)
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("model response has no text content")
}
