package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/apiharvest/internal/artifacts"
	"github.com/raphaelgruber/apiharvest/internal/classify"
	"github.com/raphaelgruber/apiharvest/internal/config"
	"github.com/raphaelgruber/apiharvest/internal/fetch"
	"github.com/raphaelgruber/apiharvest/internal/models"
	"github.com/raphaelgruber/apiharvest/internal/pipeline"
)

var (
	convertOut   string
	convertID    string
	convertTheme string
)

var convertCmd = &cobra.Command{
	Use:   "convert <file|url>",
	Short: "Convert a single spec into a collection and docs",
	Long: `Run one OpenAPI or Swagger document (JSON or YAML) through the conversion
pipeline and write the normalized spec, the request collection and the
documentation site under the output directory. Nothing is cataloged.

Examples:
  apiharvest convert ./petstore.yaml
  apiharvest convert https://example.com/openapi.json --out ./site --theme dark`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertOut, "out", "o", "", "output directory (default $APIHARVEST_DATA_DIR)")
	convertCmd.Flags().StringVar(&convertID, "id", "", "artifact ID (default derived from the file name)")
	convertCmd.Flags().StringVar(&convertTheme, "theme", "", "docs theme: light or dark (default $APIHARVEST_THEME)")
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	target := args[0]

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel, true)
	logCleanup = cleanup

	out := cfg.DataDir
	if convertOut != "" {
		out = convertOut
	}
	theme := cfg.Theme
	if convertTheme != "" {
		theme = convertTheme
	}
	store, err := artifacts.NewFS(out)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidPath, err)
	}

	item, err := localItem(target, convertID)
	if err != nil {
		return err
	}

	p := pipeline.New(pipeline.Config{
		Store:   store,
		Fetcher: fetch.New(),
		Theme:   theme,
		Logger:  logger,
	})
	res := p.Process(ctx, item)
	if !res.Success {
		return fmt.Errorf("convert %s: %s", target, res.ErrorMessage)
	}

	categories, err := classify.Load(cfg.CategoriesFile)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}

	fmt.Printf("Converted %s in %s\n", target, res.Duration.Round(time.Millisecond))
	fmt.Printf("  Spec:       %s\n", res.OpenAPIPath)
	fmt.Printf("  Collection: %s (%d requests)\n", res.CollectionPath, res.Requests)
	fmt.Printf("  Docs:       %s\n", res.DocsPath)
	if cats := categories.Classify(item.Name); len(cats) > 0 {
		fmt.Printf("  Categories: %s\n", strings.Join(cats, ", "))
	}
	return nil
}

// localItem builds an item from a file path or URL. URLs are downloaded by
// the pipeline.
func localItem(target, id string) (*models.DiscoveredItem, error) {
	base := filepath.Base(target)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if id == "" {
		id = models.Slugify(name)
	}
	if id == "" {
		return nil, fmt.Errorf("cannot derive an ID from %q, use --id", target)
	}

	item := &models.DiscoveredItem{
		ID:           id,
		Name:         name,
		FilePath:     base,
		DiscoveredAt: time.Now().UTC(),
	}
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		item.DownloadURL = target
		item.SourceURL = target
		return item, nil
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	item.RawText = data
	return item, nil
}
