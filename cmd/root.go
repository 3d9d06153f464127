// Package cmd defines the CLI commands of the nsn-sourcing executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/nsn-sourcing/internal/app"
	"github.com/JakeFAU/nsn-sourcing/internal/config"
	"github.com/JakeFAU/nsn-sourcing/internal/connectors/dibbs"
	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the part of the application the commands drive. Tests inject a fake.
type App interface {
	RunBatch(ctx context.Context, inputs []string, resume bool) (sourcing.BatchRunSummary, error)
	DIBBSDates(ctx context.Context) ([]string, error)
	DIBBSListings(ctx context.Context, date string, maxPages int) (dibbs.DateListings, error)
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp is the application factory, swapped out in tests.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.Build(ctx, cfg)
}

// loadConfig is swapped out in tests.
var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "nsn-sourcing",
		Short: "Find suppliers and open solicitations for National Stock Numbers.",
		Long: `nsn-sourcing looks up each NSN across DIBBS, WBParts, SAM.gov, CanadaBuys and
Alberta Purchasing, merges the suppliers it finds, discovers their contact details
and scores how reachable each one is. Batches resume where an interrupted run
stopped.`,
		SilenceUsage: true,

		// Builds the application after flags are parsed. Commands that do not
		// need it override this hook.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if f := cmd.Flags().Lookup("output-name"); f != nil && f.Changed {
				cfg.Output.Name = f.Value.String()
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newRunCmd(), newDatesCmd(), newServeCmd(), newValidateCmd())
	return cmd
}

// withApp runs fn with the application built by PersistentPreRunE and closes
// it afterwards, whether or not fn fails.
func withApp(ctx context.Context, fn func(App) error) (err error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return errors.New("application services not initialized")
	}
	defer func() {
		if cerr := appInstance.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = fmt.Errorf("close application: %w", cerr)
		}
	}()
	return fn(appInstance)
}

// Execute runs the root command. Canceling ctx interrupts a running batch.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}
