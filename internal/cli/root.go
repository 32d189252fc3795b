// Package cli implements the hazardctl command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-hazard-pipeline/internal/app"
	"github.com/tendant/simple-hazard-pipeline/internal/config"
	"github.com/tendant/simple-hazard-pipeline/internal/metadata"
)

// RootOptions holds global flags and the backends commands open
type RootOptions struct {
	WorkerURL string

	// LoadConfig and OpenStore are replaced in tests
	LoadConfig func() (*config.Config, error)
	OpenStore  func(ctx context.Context, cfg *config.Config) (metadata.Store, func(), error)
}

// NewRootCommand creates the root command for hazardctl
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{
		LoadConfig: config.Load,
		OpenStore:  openStore,
	})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hazardctl",
		Short: "Operate the hazard assessment pipeline",
		Long: `Operate the hazard assessment pipeline.

Configuration is read from the environment and an optional .env file,
the same way the worker and the Lambda function read it.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.WorkerURL, "worker-url", "http://localhost:8081", "hazard worker base URL")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTriggerCommand(opts))
	cmd.AddCommand(NewUploadCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))
	cmd.AddCommand(NewPromptCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))

	return cmd
}

func openStore(ctx context.Context, cfg *config.Config) (metadata.Store, func(), error) {
	var awsCfg aws.Config
	if cfg.MetadataBackend == config.MetadataDynamoDB {
		var err error
		if awsCfg, err = app.LoadAWS(ctx); err != nil {
			return nil, nil, err
		}
	}
	return app.OpenStore(cfg, awsCfg)
}

// withStore loads configuration and runs fn against the metadata store
func (o *RootOptions) withStore(ctx context.Context, fn func(cfg *config.Config, store metadata.Store) error) error {
	cfg, err := o.LoadConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := o.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer closeStore()
	return fn(cfg, store)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
