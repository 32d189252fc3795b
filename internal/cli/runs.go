package cli

import (
	"github.com/spf13/cobra"

	"github.com/tendant/simple-hazard-pipeline/pkg/client"
)

// NewRunsCommand creates the runs command
func NewRunsCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show queued assessment runs on a worker",
		Long: `Show queued assessment runs on a worker. Without an id the most
recent runs are listed, newest first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(opts.WorkerURL)
			if len(args) == 1 {
				status, err := c.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), status)
			}

			runs, err := c.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")

	return cmd
}
