package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/apiharvest/internal/service"
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List or inspect runs on the server",
	Long: `List recent runs or inspect a specific run by ID.

Examples:
  apiharvest runs            # List recent runs
  apiharvest runs abc12345   # Show details for run abc12345
  apiharvest runs watch abc12345`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

var runsWatchCmd = &cobra.Command{
	Use:   "watch <run-id>",
	Short: "Follow a live run",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	runsCmd.AddCommand(runsWatchCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if len(args) == 1 {
		return showRun(ctx, args[0])
	}
	return listRuns(ctx)
}

func listRuns(ctx context.Context) error {
	runs, err := apiClient.ListRuns(ctx)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("%-10s %-10s %-10s %-22s %s\n", "ID", "SOURCE", "STATUS", "FOUND/DONE/FAILED", "STARTED")
	fmt.Println("--------------------------------------------------------------------------")

	for _, run := range runs {
		counts := fmt.Sprintf("%d/%d/%d", run.ItemsFound, run.ItemsProcessed, run.ItemsFailed)
		started := run.StartedAt.Local().Format("2006-01-02 15:04")
		fmt.Printf("%-10s %-10s %-10s %-22s %s\n", run.ID, run.Source, run.Status, counts, started)
	}

	return nil
}

func showRun(ctx context.Context, id string) error {
	run, err := apiClient.GetRun(ctx, id)
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}

	fmt.Printf("Run: %s\n", run.ID)
	fmt.Printf("  Source: %s\n", run.Source)
	fmt.Printf("  Status: %s\n", run.Status)
	fmt.Printf("  Items: %d found, %d converted, %d failed\n", run.ItemsFound, run.ItemsProcessed, run.ItemsFailed)
	fmt.Printf("  Started: %s\n", run.StartedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", run.CompletedAt.Format(time.RFC3339))
		fmt.Printf("  Duration: %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Second))
	}
	for k, v := range run.Options {
		fmt.Printf("  Option %s: %v\n", k, v)
	}
	if run.Error != "" {
		fmt.Printf("  Error: %s\n", run.Error)
	}
	if len(run.Failures) > 0 {
		fmt.Printf("\n  Failures (%d):\n", len(run.Failures))
		for _, f := range run.Failures {
			fmt.Printf("    - %s\n", f)
		}
	}

	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run, err := apiClient.GetRun(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	if run.Done() {
		fmt.Print(summary(*run, defaultTheme))
		return runError(*run)
	}

	updates, wait := watchServerRun(ctx, run.ID)
	final := *run
	if term.IsTerminal(int(os.Stdout.Fd())) {
		var detached bool
		final, detached, err = RunProgress(final, updates, nil)
		if err != nil || detached {
			return err
		}
	} else {
		for snap := range updates {
			printProgressLine(snap)
			final = snap
		}
	}
	if err := wait(); err != nil {
		return fmt.Errorf("watch run: %w", err)
	}
	fmt.Print(summary(final, defaultTheme))
	return runError(final)
}

func printProgressLine(s service.RunSnapshot) {
	fmt.Printf("%s [%s] %d found, %d converted, %d failed\n",
		time.Now().Format("15:04:05"), s.Status, s.ItemsFound, s.ItemsProcessed, s.ItemsFailed)
}
