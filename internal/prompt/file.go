package prompt

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/tendant/simple-hazard-pipeline/internal/metadata"
)

// File is the on-disk prompt catalog:
//
//	default: |
//	  ...template used when the active id has no stored prompt...
//	active: night-shift
//	prompts:
//	  night-shift: |
//	    ...
type File struct {
	Default string            `yaml:"default"`
	Active  string            `yaml:"active"`
	Prompts map[string]string `yaml:"prompts"`
}

// LoadFile reads a YAML prompt file
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file %s: %w", path, err)
	}
	return &f, nil
}

// Import writes every prompt in the file to the store, then moves the active
// pointer if the file names one. It returns the imported ids in sorted order.
func (f *File) Import(ctx context.Context, store metadata.PromptStore) ([]string, error) {
	ids := make([]string, 0, len(f.Prompts))
	for id := range f.Prompts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := store.PutPrompt(ctx, id, f.Prompts[id]); err != nil {
			return nil, fmt.Errorf("failed to import prompt %q: %w", id, err)
		}
	}

	if f.Active != "" {
		if _, ok := f.Prompts[f.Active]; !ok && f.Active != metadata.DefaultPrompt {
			return ids, fmt.Errorf("active prompt %q is not defined in the file", f.Active)
		}
		if err := store.PutActivePromptID(ctx, f.Active); err != nil {
			return ids, fmt.Errorf("failed to activate prompt %q: %w", f.Active, err)
		}
	}
	return ids, nil
}
