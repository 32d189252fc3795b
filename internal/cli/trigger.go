package cli

import (
	"github.com/spf13/cobra"

	"github.com/tendant/simple-hazard-pipeline/internal/storage"
	"github.com/tendant/simple-hazard-pipeline/pkg/client"
	"github.com/tendant/simple-hazard-pipeline/pkg/pipeline"
)

// TriggerOptions holds flags for the trigger command
type TriggerOptions struct {
	*RootOptions
	Async bool
}

// NewTriggerCommand creates the trigger command
func NewTriggerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TriggerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trigger <s3://bucket/key>",
		Short: "Ask a running worker to assess a stored image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := storage.ParseURI(args[0])
			if err != nil {
				return err
			}

			c := client.New(opts.WorkerURL)
			req := pipeline.ProcessRequest{
				Bucket: loc.Bucket,
				Key:    loc.Key,
				Job:    pipeline.JobHazardAssessment,
			}

			if opts.Async {
				runID, err := c.ProcessAsync(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), pipeline.ProcessResponse{RunID: runID})
			}

			resp, err := c.Process(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().BoolVar(&opts.Async, "async", false, "enqueue on the worker's durable queue instead of waiting")

	return cmd
}
