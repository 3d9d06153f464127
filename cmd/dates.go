package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDatesCmd() *cobra.Command {
	var maxPages int
	cmd := &cobra.Command{
		Use:   "dates [DATE]",
		Short: "List DIBBS RFQ issue dates, or the open solicitations of one date",
		Example: `  nsn-sourcing dates
  nsn-sourcing dates 01-15-2026 --max-pages 3`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a App) error {
				out := cmd.OutOrStdout()
				if len(args) == 0 {
					dates, err := a.DIBBSDates(cmd.Context())
					if err != nil {
						return fmt.Errorf("load dibbs dates: %w", err)
					}
					for _, d := range dates {
						_, _ = fmt.Fprintln(out, d)
					}
					return nil
				}

				listings, err := a.DIBBSListings(cmd.Context(), args[0], maxPages)
				if err != nil {
					return fmt.Errorf("load dibbs listings: %w", err)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, l := range listings.Listings {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", l.PartNumber, l.Solicitation, l.Nomenclature, l.Quantity, l.ReturnByDate)
				}
				if err := tw.Flush(); err != nil {
					return fmt.Errorf("write listings: %w", err)
				}
				_, _ = fmt.Fprintf(out, "%s: %d open listings, %d NSNs, %d of %d pages\n",
					listings.Date, len(listings.Listings), len(listings.NSNs()), listings.PagesScraped, listings.TotalPages)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "result pages to read (0 uses the default)")
	return cmd
}
