package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/apiharvest/internal/metrics"
	"github.com/raphaelgruber/apiharvest/internal/models"
)

var (
	itemsCategory string
	itemsSource   string
	itemsQuery    string
	itemsLimit    int
)

var itemsCmd = &cobra.Command{
	Use:   "items [item-id]",
	Short: "List or inspect cataloged APIs",
	Long: `List cataloged APIs, most popular first, or show one item by ID.

Examples:
  apiharvest items
  apiharvest items --category payments
  apiharvest items --source apisguru --query weather -n 10
  apiharvest items stripe-openapi`,
	Args: cobra.MaximumNArgs(1),
	RunE: runItems,
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List categories with item counts",
	Args:  cobra.NoArgs,
	RunE:  runCategories,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server operation statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	itemsCmd.Flags().StringVar(&itemsCategory, "category", "", "filter by category")
	itemsCmd.Flags().StringVar(&itemsSource, "source", "", "filter by source (github, apisguru)")
	itemsCmd.Flags().StringVarP(&itemsQuery, "query", "q", "", "match name or description")
	itemsCmd.Flags().IntVarP(&itemsLimit, "limit", "n", 50, "max results")
}

func runItems(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		item, err := apiClient.GetItem(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get item: %w", err)
		}
		fmt.Printf("%s (%s)\n", item.Name, item.ID)
		if item.Description != "" {
			fmt.Printf("  %s\n", item.Description)
		}
		fmt.Printf("  Source: %s\n", item.Source)
		if item.Version != "" {
			fmt.Printf("  Version: %s\n", item.Version)
		}
		if item.RepoOwner != "" {
			fmt.Printf("  Repository: %s/%s (%s)\n", item.RepoOwner, item.RepoName, item.FilePath)
		}
		fmt.Printf("  Popularity: %d\n", item.PopularityScore)
		fmt.Printf("  Categories: %s\n", strings.Join(item.Categories, ", "))
		if item.SourceURL != "" {
			fmt.Printf("  URL: %s\n", item.SourceURL)
		}
		fmt.Printf("  Spec: %s\n", item.OpenAPIPath)
		fmt.Printf("  Collection: %s\n", item.CollectionPath)
		fmt.Printf("  Docs: %s\n", item.DocsPath)
		return nil
	}

	items, err := apiClient.ListItems(ctx, models.ItemFilter{
		Category: itemsCategory,
		Source:   itemsSource,
		Query:    itemsQuery,
		Limit:    itemsLimit,
	})
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}

	if len(items) == 0 {
		fmt.Println("No items found.")
		return nil
	}

	for _, item := range items {
		fmt.Printf("%-30s %-9s %6d  %s\n", item.ID, item.Source, item.PopularityScore, item.Name)
		if len(item.Categories) > 0 {
			fmt.Printf("  [%s]\n", strings.Join(item.Categories, ", "))
		}
	}

	return nil
}

func runCategories(cmd *cobra.Command, args []string) error {
	counts, err := apiClient.ListCategories(context.Background())
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}

	if len(counts) == 0 {
		fmt.Println("No categories found.")
		return nil
	}

	for _, c := range counts {
		fmt.Printf("%-25s %d\n", c.Category, c.Count)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	stats, err := apiClient.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}
	printServerStats(stats)
	return nil
}

// printServerStats displays server runtime statistics.
func printServerStats(stats *metrics.Snapshot) {
	fmt.Printf("Server Statistics (in-memory, since restart)\n")
	fmt.Printf("═══════════════════════════════════════════════\n")
	fmt.Printf("Uptime: %.1f seconds\n", stats.UptimeSeconds)
	fmt.Printf("Items: %d converted, %d failed\n", stats.ItemsProcessed, stats.ItemsFailed)
	if stats.QuotaWaits > 0 {
		fmt.Printf("Quota waits: %d\n", stats.QuotaWaits)
	}

	for _, name := range stats.OperationNames() {
		fmt.Printf("\n%s:\n", name)
		printOpStats(stats.Operations[name])
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(op *metrics.OperationSnapshot) {
	fmt.Printf("  Calls: %d, Errors: %d, Total: %dms\n", op.Count, op.Errors, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}
