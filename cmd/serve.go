package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Starts the HTTP API. Batches submitted to POST /v1/batches run one at a time
against the configured progress store and result sinks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a App) error {
				if err := a.Serve(cmd.Context()); err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			})
		},
	}
}
