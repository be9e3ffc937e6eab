package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/apiharvest/internal/app"
	"github.com/raphaelgruber/apiharvest/internal/models"
	"github.com/raphaelgruber/apiharvest/internal/service"
)

var (
	runMaxResults  int
	runMinScore    int
	runConcurrency int
	runPatterns    []string
	runNoDB        bool
	runRemote      bool
	runNoProgress  bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Discover OpenAPI specs on GitHub and convert them",
	Long: `Search GitHub code for OpenAPI and Swagger documents, partitioned by
repository popularity, and run every new spec through the conversion
pipeline. Requires GITHUB_TOKEN.

Examples:
  apiharvest crawl
  apiharvest crawl --max-results 20 --min-score 100
  apiharvest crawl --pattern "filename:openapi.yaml" --concurrency 4
  apiharvest crawl --remote`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSource(cmd, string(models.SourceGitHub))
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import specs from the APIs.guru directory",
	Long: `Import OpenAPI specs listed in the APIs.guru directory and run them
through the conversion pipeline. No credentials needed.

Examples:
  apiharvest import
  apiharvest import --max-results 50 --no-db`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSource(cmd, string(models.SourceAPIsGuru))
	},
}

func init() {
	for _, cmd := range []*cobra.Command{crawlCmd, importCmd} {
		cmd.Flags().IntVarP(&runMaxResults, "max-results", "n", 0, "max specs to process (default $APIHARVEST_MAX_RESULTS)")
		cmd.Flags().IntVarP(&runConcurrency, "concurrency", "c", 0, "parallel conversions (default $APIHARVEST_CONCURRENCY)")
		cmd.Flags().BoolVar(&runNoDB, "no-db", false, "write artifacts only, without catalog records")
		cmd.Flags().BoolVar(&runRemote, "remote", false, "start the run on the server")
		cmd.Flags().BoolVar(&runNoProgress, "no-progress", false, "print a summary instead of the live view")
	}
	crawlCmd.Flags().IntVar(&runMinScore, "min-score", 0, "minimum repository popularity (default $APIHARVEST_MIN_SCORE)")
	crawlCmd.Flags().StringSliceVar(&runPatterns, "pattern", nil, "code search patterns (repeatable)")
}

// sourceRequest turns the flags the user set into a request. Unset flags keep
// the configured defaults.
func sourceRequest(cmd *cobra.Command, source string) app.SourceRequest {
	req := app.SourceRequest{Source: source, Patterns: runPatterns}
	intFlag := func(name string, v int) *int {
		if !cmd.Flags().Changed(name) {
			return nil
		}
		return &v
	}
	req.MaxResults = intFlag("max-results", runMaxResults)
	req.Concurrency = intFlag("concurrency", runConcurrency)
	req.MinScore = intFlag("min-score", runMinScore)
	return req
}

func runSource(cmd *cobra.Command, source string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := sourceRequest(cmd, source)
	interactive := !runNoProgress && term.IsTerminal(int(os.Stdout.Fd()))

	if runRemote {
		return runOnServer(ctx, req, interactive)
	}

	a, err := openApp(ctx, !runNoDB, !interactive)
	if err != nil {
		return err
	}
	src, opts, err := a.Source(ctx, req)
	if err != nil {
		return err
	}

	if !interactive {
		run, err := a.Runner.Run(ctx, src, opts)
		if run != nil {
			fmt.Print(summary(run.Snapshot(), defaultTheme))
		}
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	run, err := a.Runner.Start(runCtx, src, opts)
	if err != nil {
		return err
	}
	updates, stopWatch, _ := a.Runner.Runs().Watch(run.ID)
	defer stopWatch()

	final, _, err := RunProgress(run.Snapshot(), updates, cancel)
	if err != nil {
		return err
	}
	return runError(final)
}

// runOnServer starts the run on apiharvest-server and follows it.
func runOnServer(ctx context.Context, req app.SourceRequest, interactive bool) error {
	run, err := apiClient.StartRun(ctx, req)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	if !interactive {
		fmt.Printf("Started run %s\n", run.ID)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates, wait := watchServerRun(watchCtx, run.ID)

	final := *run
	if interactive {
		var detached bool
		final, detached, err = RunProgress(final, updates, nil)
		if err != nil || detached {
			return err
		}
	} else {
		for snap := range updates {
			final = snap
		}
	}
	if err := wait(); err != nil {
		return fmt.Errorf("watch run: %w", err)
	}
	if !interactive {
		fmt.Print(summary(final, defaultTheme))
	}
	return runError(final)
}

// watchServerRun streams a server run into a channel. wait returns the watch
// error once the channel has been drained.
func watchServerRun(ctx context.Context, id string) (<-chan service.RunSnapshot, func() error) {
	ch := make(chan service.RunSnapshot, 16)
	errc := make(chan error, 1)
	go func() {
		defer close(ch)
		errc <- apiClient.WatchRun(ctx, id, func(s service.RunSnapshot) error {
			select {
			case ch <- s:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return ch, func() error { return <-errc }
}

func runError(run service.RunSnapshot) error {
	if run.Status == models.RunStatusFailed {
		if run.Error != "" {
			return fmt.Errorf("run %s failed: %s", run.ID, run.Error)
		}
		return errors.New("run " + run.ID + " failed")
	}
	return nil
}
