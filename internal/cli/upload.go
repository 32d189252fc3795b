package cli

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-hazard-pipeline/pkg/client"
	"github.com/tendant/simple-hazard-pipeline/pkg/pipeline"
)

// UploadOptions holds flags for the upload command
type UploadOptions struct {
	*RootOptions
	Bucket  string
	Key     string
	Process bool
}

// NewUploadCommand creates the upload command
func NewUploadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UploadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "upload <image-file>",
		Short: "Store a source image on a running worker",
		Long: `Store a source image on a running worker and print where it landed.

With the simplecontent backend the worker assigns a content ID, and that
ID is the key to trigger. --process runs the assessment right away.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}
			key := opts.Key
			if key == "" {
				key = filepath.Base(args[0])
			}

			c := client.New(opts.WorkerURL)
			stored, err := c.Upload(cmd.Context(), opts.Bucket, key, bytes.NewReader(data), http.DetectContentType(data))
			if err != nil {
				return err
			}
			if !opts.Process {
				return printJSON(cmd.OutOrStdout(), stored)
			}

			resp, err := c.Process(cmd.Context(), pipeline.ProcessRequest{
				Bucket: stored.Bucket,
				Key:    stored.Key,
				Job:    pipeline.JobHazardAssessment,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().StringVar(&opts.Bucket, "bucket", "uploads", "bucket to store the image under")
	cmd.Flags().StringVar(&opts.Key, "key", "", "object key (default: the file name)")
	cmd.Flags().BoolVar(&opts.Process, "process", false, "assess the image once stored")

	return cmd
}
