package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-hazard-pipeline/internal/app"
	"github.com/tendant/simple-hazard-pipeline/internal/logging"
	"github.com/tendant/simple-hazard-pipeline/internal/storage"
	"github.com/tendant/simple-hazard-pipeline/internal/workflows"
	"github.com/tendant/simple-hazard-pipeline/pkg/pipeline"
)

// NewRunCommand creates the run command
func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <s3://bucket/key>",
		Short: "Assess one stored image in this process",
		Long: `Assess one stored image in this process, exactly as the Lambda
function would for an object-created notification.

Example:
  hazardctl run s3://site-cams/north-gate/0800.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := storage.ParseURI(args[0])
			if err != nil {
				return err
			}

			cfg, err := opts.LoadConfig()
			if err != nil {
				return err
			}
			log := logging.New(cfg.LogLevel, cfg.LogPretty)

			pipelineApp, err := app.New(cmd.Context(), cfg, log, nil)
			if err != nil {
				return err
			}
			defer pipelineApp.Close()

			result, err := pipelineApp.Runner(nil).Run(&workflows.WorkflowContext{
				Ctx: cmd.Context(),
				Request: pipeline.ProcessRequest{
					Bucket:     loc.Bucket,
					Key:        loc.Key,
					ReceivedAt: time.Now().UTC(),
					Job:        pipeline.JobHazardAssessment,
				},
				RunID: uuid.New().String(),
			})
			if err != nil {
				return fmt.Errorf("run failed: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), result.Outputs)
		},
	}
}
