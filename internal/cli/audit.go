package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-hazard-pipeline/internal/config"
	"github.com/tendant/simple-hazard-pipeline/internal/metadata"
)

// NewAuditCommand creates the audit command group
func NewAuditCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect assessment audit records",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "latest",
		Short: "Print the most recent assessment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd.Context(), func(_ *config.Config, store metadata.Store) error {
				rec, err := store.GetAudit(cmd.Context(), metadata.LatestAuditID)
				if errors.Is(err, metadata.ErrNotFound) {
					return fmt.Errorf("no assessment has been recorded yet")
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	})

	return cmd
}
