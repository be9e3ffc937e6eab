package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/apiharvest/internal/models"
)

// DefaultListLimit caps item listings without an explicit limit.
const DefaultListLimit = 50

// UpsertItem creates or replaces the catalog record with the given id.
// discovered_at is kept from the first write.
func (c *Client) UpsertItem(ctx context.Context, id string, item models.CatalogItem) (*models.CatalogItem, error) {
	if item.Categories == nil {
		item.Categories = []string{}
	}

	sql := `
		UPSERT type::record("api_item", $id) SET
			dedup_key = $dedup_key,
			source = $source,
			name = $name,
			description = $description,
			version = $version,
			source_url = $source_url,
			download_url = $download_url,
			popularity_score = $popularity_score,
			repo_owner = $repo_owner,
			repo_name = $repo_name,
			file_path = $file_path,
			categories = $categories,
			openapi_path = $openapi_path,
			collection_path = $collection_path,
			docs_path = $docs_path,
			discovered_at = IF discovered_at THEN discovered_at ELSE $discovered_at END,
			updated_at = time::now()
		RETURN AFTER
	`

	rows, err := query[models.CatalogItem](ctx, c, "upsert item", sql, map[string]any{
		"id":               id,
		"dedup_key":        item.DedupKey,
		"source":           item.Source,
		"name":             item.Name,
		"description":      item.Description,
		"version":          item.Version,
		"source_url":       item.SourceURL,
		"download_url":     item.DownloadURL,
		"popularity_score": item.PopularityScore,
		"repo_owner":       item.RepoOwner,
		"repo_name":        item.RepoName,
		"file_path":        item.FilePath,
		"categories":       item.Categories,
		"openapi_path":     item.OpenAPIPath,
		"collection_path":  item.CollectionPath,
		"docs_path":        item.DocsPath,
		"discovered_at":    item.DiscoveredAt,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("upsert item: no result returned")
	}
	return &rows[0], nil
}

// GetItem returns the item with the given id, or ErrNotFound.
func (c *Client) GetItem(ctx context.Context, id string) (*models.CatalogItem, error) {
	rows, err := query[models.CatalogItem](ctx, c, "get item",
		`SELECT * FROM type::record("api_item", $id)`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return &rows[0], nil
}

// HasItem reports whether an item with the dedup key is already cataloged.
func (c *Client) HasItem(ctx context.Context, dedupKey string) (bool, error) {
	rows, err := query[struct {
		C int `json:"c"`
	}](ctx, c, "has item",
		`SELECT count() AS c FROM api_item WHERE dedup_key = $key GROUP ALL`,
		map[string]any{"key": dedupKey})
	if err != nil {
		return false, err
	}
	return len(rows) > 0 && rows[0].C > 0, nil
}

// ListItems returns items matching filter, most popular first.
func (c *Client) ListItems(ctx context.Context, filter models.ItemFilter) ([]models.CatalogItem, error) {
	var where []string
	vars := map[string]any{}
	if filter.Category != "" {
		where = append(where, "$category IN categories")
		vars["category"] = filter.Category
	}
	if filter.Source != "" {
		where = append(where, "source = $source")
		vars["source"] = filter.Source
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		where = append(where, "(string::lowercase(name) CONTAINS $q OR string::lowercase(description) CONTAINS $q)")
		vars["q"] = strings.ToLower(q)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	vars["limit"] = limit

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}
	sql := fmt.Sprintf(`
		SELECT * FROM api_item %s ORDER BY popularity_score DESC, name ASC LIMIT $limit
	`, whereClause)

	rows, err := query[models.CatalogItem](ctx, c, "list items", sql, vars)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.CatalogItem{}
	}
	return rows, nil
}

// ListCategories returns every category with its item count, largest first.
func (c *Client) ListCategories(ctx context.Context) ([]models.CategoryCount, error) {
	rows, err := query[models.CategoryCount](ctx, c, "list categories", `
		SELECT category, count() AS count FROM (
			SELECT categories AS category FROM api_item
		) SPLIT category GROUP BY category ORDER BY count DESC, category ASC
	`, nil)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []models.CategoryCount{}
	}
	return rows, nil
}
