package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/nsn-sourcing/internal/nsn"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate NSN...",
		Short: "Print the canonical form of each NSN",
		Args:  cobra.MinimumNArgs(1),
		// No application services are needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			invalid := 0
			for _, raw := range args {
				n, err := nsn.Parse(raw)
				if err != nil {
					invalid++
					_, _ = fmt.Fprintf(out, "%s\tinvalid: %v\n", raw, err)
					continue
				}
				_, _ = fmt.Fprintf(out, "%s\t%s\n", n.Dashed(), n)
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d NSNs are invalid", invalid, len(args))
			}
			return nil
		},
	}
}
