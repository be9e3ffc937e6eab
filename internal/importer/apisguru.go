// Package importer discovers specifications from bulk catalogs.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/apiharvest/internal/models"
)

// DefaultAPIsGuruURL is the public APIs.guru directory listing.
const DefaultAPIsGuruURL = "https://api.apis.guru/v2/list.json"

// APIsGuruOwner is the pseudo owner used in dedup keys of APIs.guru items.
const APIsGuruOwner = "apis.guru"

// Fetcher downloads raw content by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// APIsGuruOptions configure an import.
type APIsGuruOptions struct {
	URL        string
	MaxResults int // 0 means no limit
	// Known reports dedup keys already in the catalog.
	Known  func(ctx context.Context, key string) (bool, error)
	Logger *slog.Logger
}

type apiEntry struct {
	Preferred string                `json:"preferred"`
	Versions  map[string]apiVersion `json:"versions"`
}

type apiVersion struct {
	Info           map[string]any `json:"info"`
	SwaggerURL     string         `json:"swaggerUrl"`
	SwaggerYamlURL string         `json:"swaggerYamlUrl"`
	OpenAPIVer     string         `json:"openapiVer"`
	Link           string         `json:"link"`
	Updated        string         `json:"updated"`
}

// APIsGuru is a discovery source over the APIs.guru listing. Only each
// provider's preferred version is emitted.
type APIsGuru struct {
	fetcher Fetcher
	opts    APIsGuruOptions
	logger  *slog.Logger

	found   int
	skipped int
	err     error
}

// NewAPIsGuru creates an importer.
func NewAPIsGuru(fetcher Fetcher, opts APIsGuruOptions) *APIsGuru {
	if opts.URL == "" {
		opts.URL = DefaultAPIsGuruURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &APIsGuru{fetcher: fetcher, opts: opts, logger: logger}
}

// Err returns the error that stopped the import, if any.
func (a *APIsGuru) Err() error {
	return a.err
}

// Discover fetches the listing and yields one item per provider.
func (a *APIsGuru) Discover(ctx context.Context) iter.Seq[*models.DiscoveredItem] {
	return func(yield func(*models.DiscoveredItem) bool) {
		data, err := a.fetcher.Fetch(ctx, a.opts.URL)
		if err != nil {
			a.err = fmt.Errorf("fetch APIs.guru listing: %w", err)
			return
		}
		var list map[string]apiEntry
		if err := json.Unmarshal(data, &list); err != nil {
			a.err = fmt.Errorf("decode APIs.guru listing: %w", err)
			return
		}

		providers := make([]string, 0, len(list))
		for p := range list {
			providers = append(providers, p)
		}
		sort.Strings(providers)
		a.logger.Info("APIs.guru listing fetched", "providers", len(providers))

		now := time.Now().UTC()
		for _, provider := range providers {
			if err := ctx.Err(); err != nil {
				a.err = err
				return
			}
			if a.opts.MaxResults > 0 && a.found >= a.opts.MaxResults {
				return
			}

			item := flatten(provider, list[provider], now)
			if item == nil {
				a.skipped++
				continue
			}
			if a.opts.Known != nil {
				known, err := a.opts.Known(ctx, item.DedupKey())
				if err != nil {
					a.logger.Warn("catalog lookup failed", "key", item.DedupKey(), "error", err)
				} else if known {
					a.skipped++
					continue
				}
			}

			a.found++
			if !yield(item) {
				return
			}
		}
		a.logger.Info("APIs.guru import finished", "emitted", a.found, "skipped", a.skipped)
	}
}

func flatten(provider string, entry apiEntry, now time.Time) *models.DiscoveredItem {
	version := entry.Preferred
	v, ok := entry.Versions[version]
	if !ok {
		// Fall back to the lexically greatest version.
		version = ""
		for k := range entry.Versions {
			if k > version {
				version = k
			}
		}
		if v, ok = entry.Versions[version]; !ok {
			return nil
		}
	}
	if v.SwaggerURL == "" && v.SwaggerYamlURL == "" {
		return nil
	}

	item := &models.DiscoveredItem{
		ID:           uuid.New().String(),
		Source:       models.SourceAPIsGuru,
		Name:         provider,
		Version:      version,
		DownloadURL:  v.SwaggerURL,
		SourceURL:    v.Link,
		RepoOwner:    APIsGuruOwner,
		RepoName:     provider,
		FilePath:     version,
		DiscoveredAt: now,
	}
	if item.DownloadURL == "" {
		item.DownloadURL = v.SwaggerYamlURL
	}
	if item.SourceURL == "" {
		item.SourceURL = item.DownloadURL
	}
	if title, ok := v.Info["title"].(string); ok && title != "" {
		item.Name = title
	}
	if desc, ok := v.Info["description"].(string); ok {
		item.Description = desc
	}
	return item
}
