// Package models defines data structures for the apiharvest catalog.
package models

import (
	"strings"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Source identifies the discovery source of an item.
type Source string

const (
	SourceGitHub   Source = "github"
	SourceAPIsGuru Source = "apisguru"
)

// Candidate is a raw code-search hit before any enrichment.
type Candidate struct {
	Owner      string
	RepoName   string
	Path       string
	SearchRank int
}

// DedupKey returns the canonical owner/repo/path key of the hit.
func (c Candidate) DedupKey() string {
	return DedupKey(c.Owner, c.RepoName, c.Path)
}

// DiscoveredItem is a fetched, popularity-filtered specification ready for conversion.
// Exactly one of RawSpec or RawText is set for crawled items; both are nil when the
// content still has to be downloaded from DownloadURL.
type DiscoveredItem struct {
	ID              string
	Source          Source
	Name            string
	Description     string
	Version         string
	SourceURL       string
	DownloadURL     string
	PopularityScore int

	// RawSpec holds content that parsed as JSON.
	RawSpec map[string]any
	// RawText holds content that did not parse as JSON (usually YAML).
	RawText []byte

	RepoOwner    string
	RepoName     string
	FilePath     string
	DiscoveredAt time.Time
}

// DedupKey returns the canonical owner/repo/path key of the item.
func (i *DiscoveredItem) DedupKey() string {
	return DedupKey(i.RepoOwner, i.RepoName, i.FilePath)
}

// DedupKey builds the canonical key used for deduplication within and across runs.
func DedupKey(owner, repo, path string) string {
	return strings.ToLower(owner) + "/" + strings.ToLower(repo) + "/" + strings.TrimPrefix(path, "/")
}

// CatalogItem is the persisted catalog record of a successfully converted item.
type CatalogItem struct {
	ID              surrealmodels.RecordID `json:"id,omitempty"`
	DedupKey        string                 `json:"dedup_key"`
	Source          string                 `json:"source"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description,omitempty"`
	Version         string                 `json:"version,omitempty"`
	SourceURL       string                 `json:"source_url,omitempty"`
	DownloadURL     string                 `json:"download_url,omitempty"`
	PopularityScore int                    `json:"popularity_score"`
	RepoOwner       string                 `json:"repo_owner,omitempty"`
	RepoName        string                 `json:"repo_name,omitempty"`
	FilePath        string                 `json:"file_path,omitempty"`
	Categories      []string               `json:"categories"`
	OpenAPIPath     string                 `json:"openapi_path"`
	CollectionPath  string                 `json:"collection_path"`
	DocsPath        string                 `json:"docs_path"`
	DiscoveredAt    time.Time              `json:"discovered_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// ItemFilter narrows catalog listings.
type ItemFilter struct {
	Category string
	Source   string
	Query    string // case-insensitive match on name and description
	Limit    int
}

// CategoryCount is a category with the number of items tagged with it.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}
