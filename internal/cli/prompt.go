package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-hazard-pipeline/internal/app"
	"github.com/tendant/simple-hazard-pipeline/internal/config"
	"github.com/tendant/simple-hazard-pipeline/internal/metadata"
	"github.com/tendant/simple-hazard-pipeline/internal/prompt"
)

// NewPromptCommand creates the prompt command group
func NewPromptCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Manage stored prompt templates",
	}

	cmd.AddCommand(newPromptImportCommand(opts))
	cmd.AddCommand(newPromptActivateCommand(opts))
	cmd.AddCommand(newPromptShowCommand(opts))

	return cmd
}

func newPromptImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Store every prompt in a YAML file and apply its active id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := prompt.LoadFile(args[0])
			if err != nil {
				return err
			}
			return opts.withStore(cmd.Context(), func(_ *config.Config, store metadata.Store) error {
				ids, err := f.Import(cmd.Context(), store)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"imported": ids,
					"active":   f.Active,
				})
			})
		},
	}
}

func newPromptActivateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <id>",
		Short: "Point the pipeline at a stored prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return opts.withStore(cmd.Context(), func(_ *config.Config, store metadata.Store) error {
				if id != metadata.DefaultPrompt {
					if _, err := store.GetPrompt(cmd.Context(), id); err != nil {
						if errors.Is(err, metadata.ErrNotFound) {
							return fmt.Errorf("prompt %q is not stored", id)
						}
						return err
					}
				}
				if err := store.PutActivePromptID(cmd.Context(), id); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"active": id})
			})
		},
	}
}

func newPromptShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Print the template the pipeline would use",
		Long: `Print the template the pipeline would use. Without an id the
active prompt is shown. Nothing is written to the store.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd.Context(), func(cfg *config.Config, store metadata.Store) error {
				id, err := promptID(cmd.Context(), store, args)
				if err != nil {
					return err
				}
				defaultText, err := app.DefaultPromptText(cfg)
				if err != nil {
					return err
				}
				tmpl, err := prompt.NewCatalog(store, defaultText, zerolog.Nop()).ResolveTemplate(cmd.Context(), id)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), tmpl.Text)
				return err
			})
		},
	}
}

func promptID(ctx context.Context, store metadata.PromptStore, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	id, err := store.GetActivePromptID(ctx)
	if errors.Is(err, metadata.ErrNotFound) || (err == nil && id == "") {
		return metadata.DefaultPrompt, nil
	}
	return id, err
}
