package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/nsn-sourcing/internal/nsn"
	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

type runOptions struct {
	nsns     string
	file     string
	date     string
	maxPages int
	force    bool
	quiet    bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a batch of NSNs",
		Long: `Processes every NSN given with --nsns or --file, plus the NSNs of the open DIBBS
solicitations issued on --date. Items finished by an earlier run are skipped
unless --force is set, in which case progress and outputs are cleared first.`,
		Example: `  nsn-sourcing run --file nsns.txt
  nsn-sourcing run --file nsns.txt --force
  nsn-sourcing run --file nsns.txt --output-name run1
  nsn-sourcing run --nsns "5306-00-373-3291,5310012345678"
  nsn-sourcing run --date 2026-01-15 --max-pages 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a App) error {
				return runBatch(cmd.Context(), a, cmd.OutOrStdout(), opts)
			})
		},
	}
	cmd.Flags().StringVar(&opts.nsns, "nsns", "", "comma-separated NSNs to process")
	cmd.Flags().StringVar(&opts.file, "file", "", "file containing NSNs, one per line")
	cmd.Flags().StringVar(&opts.date, "date", "", "DIBBS issue date (MM-DD-YYYY or YYYY-MM-DD) whose open solicitations to process")
	cmd.Flags().IntVar(&opts.maxPages, "max-pages", 0, "result pages to read for --date (0 uses the default)")
	cmd.Flags().String("output-name", "", "base name for output files (overrides output.name)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "start fresh, discarding saved progress and outputs")
	cmd.Flags().BoolVar(&opts.quiet, "quiet", false, "print only the totals")
	cmd.MarkFlagsOneRequired("nsns", "file", "date")
	return cmd
}

func readInputs(ctx context.Context, appInstance App, opts runOptions) ([]string, error) {
	var raw []string
	if opts.nsns != "" {
		raw = append(raw, nsn.SplitList(opts.nsns)...)
	}
	if opts.file != "" {
		// #nosec G304 -- the operator names the input file.
		data, err := os.ReadFile(opts.file)
		if err != nil {
			return nil, fmt.Errorf("read nsn file: %w", err)
		}
		raw = append(raw, nsn.SplitList(string(data))...)
	}
	if opts.date != "" {
		listings, err := appInstance.DIBBSListings(ctx, opts.date, opts.maxPages)
		if err != nil {
			return nil, fmt.Errorf("load dibbs listings: %w", err)
		}
		raw = append(raw, listings.NSNs()...)
	}
	inputs := make([]string, 0, len(raw))
	for _, r := range raw {
		if r = strings.TrimSpace(r); r != "" {
			inputs = append(inputs, r)
		}
	}
	if len(nsn.Dedupe(inputs)) == 0 {
		return nil, errors.New("no NSNs found in input")
	}
	return inputs, nil
}

func runBatch(ctx context.Context, appInstance App, out io.Writer, opts runOptions) error {
	inputs, err := readInputs(ctx, appInstance, opts)
	if err != nil {
		return err
	}

	summary, runErr := appInstance.RunBatch(ctx, inputs, !opts.force)
	printSummary(out, summary, opts.quiet)
	if runErr != nil {
		return fmt.Errorf("batch aborted: %w", runErr)
	}
	return nil
}

func printSummary(out io.Writer, s sourcing.BatchRunSummary, quiet bool) {
	if !quiet {
		for _, item := range s.Items {
			line := fmt.Sprintf("%-18s %s", item.Key, item.Status)
			if item.Reason != "" {
				line += "  " + item.Reason
			}
			_, _ = fmt.Fprintln(out, line)
		}
		_, _ = fmt.Fprintln(out, strings.Repeat("-", 60))
	}
	_, _ = fmt.Fprintf(out, "run %s: %d complete, %d failed, %d skipped, %d suppliers (%d high confidence)\n",
		s.RunID, s.Complete, s.Failed, s.Skipped, s.Suppliers, s.HighConfidence)
	if s.Interrupted {
		_, _ = fmt.Fprintln(out, "interrupted: rerun the same command to resume")
	}
	if s.PersistenceWarning {
		_, _ = fmt.Fprintln(out, "warning: some results could not be saved")
	}
}
