// Package cli provides the command-line interface for apiharvest.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/apiharvest/internal/app"
	"github.com/raphaelgruber/apiharvest/internal/client"
	"github.com/raphaelgruber/apiharvest/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	cfg       config.Config
	apiClient *client.Client

	// Set by openApp, released in PersistentPostRun.
	local      *app.App
	logCleanup func() error
)

var rootCmd = &cobra.Command{
	Use:   "apiharvest",
	Short: "Discover OpenAPI specs and turn them into collections and docs",
	Long: `apiharvest discovers public OpenAPI specifications on GitHub and APIs.guru,
normalizes them, converts each into a request collection and a static
documentation site, and catalogs the results by category.

Crawls and imports run locally by default. Use --remote to start them on
a running apiharvest-server instead. Catalog queries always go to the server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		apiClient = client.New(serverURL)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if local != nil {
			if err := local.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if logCleanup != nil {
			_ = logCleanup()
		}
	},
}

// openApp sets up logging and the local components. console false keeps log
// records off stderr while the progress view owns the terminal.
func openApp(ctx context.Context, withDB, console bool) (*app.App, error) {
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel, console)
	logCleanup = cleanup
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger, withDB)
	if err != nil {
		return nil, err
	}
	local = a
	return a, nil
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "apiharvest-server URL (default $APIHARVEST_SERVER_URL or http://localhost:8484)")

	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(itemsCmd)
	rootCmd.AddCommand(categoriesCmd)
	rootCmd.AddCommand(statsCmd)
}
