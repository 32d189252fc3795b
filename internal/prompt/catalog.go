// Package prompt resolves which caption prompt is active and its template text.
package prompt

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tendant/simple-hazard-pipeline/internal/metadata"
)

//go:embed default_prompt.txt
var builtinDefault string

// BuiltinDefault returns the template text compiled into the binary
func BuiltinDefault() string {
	return builtinDefault
}

const (
	labelPlaceholder = "{rekognition_label}"
	ppePlaceholder   = "{rekognition_ppe}"
)

// Template is a prompt with two named placeholders for the detection summaries
type Template struct {
	ID   string
	Text string
}

// Render substitutes both placeholders. Doubled braces collapse to single
// braces so templates written for format-string placeholders render the same.
func (t Template) Render(labels, ppe string) string {
	r := strings.NewReplacer(
		labelPlaceholder, labels,
		ppePlaceholder, ppe,
		"{{", "{",
		"}}", "}",
	)
	return r.Replace(t.Text)
}

// Catalog reads the active prompt pointer and templates from the metadata store
type Catalog struct {
	store       metadata.PromptStore
	defaultText string
	log         zerolog.Logger
}

// NewCatalog creates a catalog. An empty defaultText uses the built-in template.
func NewCatalog(store metadata.PromptStore, defaultText string, log zerolog.Logger) *Catalog {
	if strings.TrimSpace(defaultText) == "" {
		defaultText = builtinDefault
	}
	return &Catalog{store: store, defaultText: defaultText, log: log}
}

// ResolveActivePromptID returns the active prompt id. When no pointer exists
// yet, "default" is persisted and returned.
func (c *Catalog) ResolveActivePromptID(ctx context.Context) (string, error) {
	id, err := c.store.GetActivePromptID(ctx)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, metadata.ErrNotFound) {
		return "", fmt.Errorf("failed to read active prompt id: %w", err)
	}

	if err := c.store.PutActivePromptID(ctx, metadata.DefaultPrompt); err != nil {
		return "", fmt.Errorf("failed to initialize active prompt id: %w", err)
	}
	c.log.Info().Str("prompt_id", metadata.DefaultPrompt).Msg("Initialized active prompt id")
	return metadata.DefaultPrompt, nil
}

// ResolveTemplate returns the stored template for id, or the default template
// when none is stored. The store is never written.
func (c *Catalog) ResolveTemplate(ctx context.Context, id string) (Template, error) {
	text, err := c.store.GetPrompt(ctx, id)
	if err == nil && strings.TrimSpace(text) != "" {
		return Template{ID: id, Text: text}, nil
	}
	if err != nil && !errors.Is(err, metadata.ErrNotFound) {
		return Template{}, fmt.Errorf("failed to read prompt %q: %w", id, err)
	}

	c.log.Debug().Str("prompt_id", id).Msg("Prompt not found, using default template")
	return Template{ID: id, Text: c.defaultText}, nil
}
