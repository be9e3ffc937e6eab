// Package crawl discovers OpenAPI specifications through a rate-limited code-search API.
//
// A Session walks every (filename pattern, popularity gate) sub-query page by page,
// skips hits it has already seen, enriches the rest with repository metadata and file
// content, and yields them lazily as DiscoveredItems. A session is used for exactly
// one run.
package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/apiharvest/internal/models"
	"github.com/raphaelgruber/apiharvest/internal/partition"
	"github.com/raphaelgruber/apiharvest/internal/quota"
)

// Search API limits: at most 10 pages of 100 results are reachable per query.
const (
	MaxPages    = 10
	MaxPageSize = 100
)

var (
	// ErrSearchAborted marks a sub-query that was given up, usually after its
	// quota retries ran out. The crawl continues with the next sub-query.
	ErrSearchAborted = errors.New("search aborted")

	// ErrSessionUsed is reported when Discover is called a second time.
	ErrSessionUsed = errors.New("crawl session already used")
)

// SearchResult is one page of code-search hits.
type SearchResult struct {
	Total int
	Hits  []models.Candidate
}

// RepoInfo is the repository metadata used for filtering and display.
type RepoInfo struct {
	FullName    string
	Description string
	HTMLURL     string
	Stars       int
}

// FileContent is a file fetched through the contents API.
// Content is empty when the file is too large to be returned inline.
type FileContent struct {
	Content     []byte
	DownloadURL string
	HTMLURL     string
}

// SearchAPI is the code-hosting API the crawler talks to.
type SearchAPI interface {
	SearchCode(ctx context.Context, query string, page, perPage int) (*SearchResult, error)
	RepoInfo(ctx context.Context, owner, repo string) (*RepoInfo, error)
	FileContent(ctx context.Context, owner, repo, path string) (*FileContent, error)
}

// Fetcher downloads raw content by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// KnownFunc reports whether a dedup key is already in the catalog from an earlier run.
type KnownFunc func(ctx context.Context, key string) (bool, error)

// Options configure one crawl session.
type Options struct {
	Patterns   []string
	Gates      []partition.Gate
	MinScore   int
	MaxResults int // 0 means no limit
	MaxPages   int
	PageSize   int

	// ItemDelay and PageDelay are the minimum spacing between candidate
	// enrichments and between search pages. Zero disables pacing.
	ItemDelay time.Duration
	PageDelay time.Duration

	RepoCacheSize int
	RepoCacheTTL  time.Duration

	Known   KnownFunc
	Fetcher Fetcher
	Logger  *slog.Logger
}

// DefaultOptions returns the options used by the CLI and the server.
func DefaultOptions() Options {
	return Options{
		Patterns:      partition.DefaultPatterns(),
		Gates:         partition.DefaultGates(),
		MinScore:      10,
		MaxResults:    100,
		MaxPages:      MaxPages,
		PageSize:      MaxPageSize,
		ItemDelay:     time.Second,
		PageDelay:     time.Second,
		RepoCacheSize: 512,
		RepoCacheTTL:  30 * time.Minute,
	}
}

// Stats counts what a session did. Skip counters are per candidate.
type Stats struct {
	Queries        int `json:"queries"`
	AbortedQueries int `json:"aborted_queries"`
	Pages          int `json:"pages"`
	Hits           int `json:"hits"`
	Duplicates     int `json:"duplicates"`
	Known          int `json:"known"`
	BelowMinScore  int `json:"below_min_score"`

	// OutsideGate counts repositories whose live score has left the gate
	// they were found under. They are still emitted.
	OutsideGate int           `json:"outside_gate"`
	Failed      int           `json:"failed"`
	Emitted     int           `json:"emitted"`
	QuotaWaits  int           `json:"quota_waits"`
	QuotaWait   time.Duration `json:"quota_wait"`
}

// Session is the state of one crawl run.
type Session struct {
	api     SearchAPI
	tracker *quota.Tracker
	opts    Options
	logger  *slog.Logger

	seen     *Index
	repos    *lru.LRU[string, *RepoInfo]
	itemPace *rate.Limiter
	pagePace *rate.Limiter
	now      func() time.Time

	started bool
	stats   Stats
	err     error
}

// NewSession creates a crawl session. Zero-valued options fall back to defaults;
// MaxPages and PageSize are clamped to the search API's limits. A gate table
// that leaves gaps or overlaps is rejected.
func NewSession(api SearchAPI, tracker *quota.Tracker, opts Options) (*Session, error) {
	def := DefaultOptions()
	if len(opts.Patterns) == 0 {
		opts.Patterns = def.Patterns
	}
	if len(opts.Gates) == 0 {
		opts.Gates = def.Gates
	}
	if err := partition.ValidateGates(opts.Gates); err != nil {
		return nil, err
	}
	if opts.MaxPages <= 0 || opts.MaxPages > MaxPages {
		opts.MaxPages = MaxPages
	}
	if opts.PageSize <= 0 || opts.PageSize > MaxPageSize {
		opts.PageSize = MaxPageSize
	}
	if opts.RepoCacheSize <= 0 {
		opts.RepoCacheSize = def.RepoCacheSize
	}
	if opts.RepoCacheTTL <= 0 {
		opts.RepoCacheTTL = def.RepoCacheTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		api:      api,
		tracker:  tracker,
		opts:     opts,
		logger:   logger,
		seen:     NewIndex(),
		repos:    lru.NewLRU[string, *RepoInfo](opts.RepoCacheSize, nil, opts.RepoCacheTTL),
		itemPace: pacer(opts.ItemDelay),
		pagePace: pacer(opts.PageDelay),
		now:      time.Now,
	}, nil
}

// pacer allows one event per interval with no bursting.
func pacer(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Err returns the error that ended discovery early, if any. Per-candidate failures
// are never reported here.
func (s *Session) Err() error {
	return s.err
}

// Stats returns the session's counters.
func (s *Session) Stats() Stats {
	stats := s.stats
	if s.tracker != nil {
		stats.QuotaWaits, stats.QuotaWait = s.tracker.Waits()
	}
	return stats
}

// Discover returns the lazy sequence of discovered items. The sequence can be
// consumed once; breaking out of the loop stops the crawl.
func (s *Session) Discover(ctx context.Context) iter.Seq[*models.DiscoveredItem] {
	return func(yield func(*models.DiscoveredItem) bool) {
		if s.started {
			s.err = ErrSessionUsed
			return
		}
		s.started = true

		queries := partition.Partition(s.opts.Patterns, s.opts.Gates, s.opts.MinScore)
		s.logger.Info("crawl started",
			"queries", len(queries),
			"min_score", s.opts.MinScore,
			"max_results", s.opts.MaxResults)

		for _, q := range queries {
			if !s.runQuery(ctx, q, yield) {
				break
			}
		}

		stats := s.Stats()
		s.logger.Info("crawl finished",
			"emitted", stats.Emitted,
			"hits", stats.Hits,
			"duplicates", stats.Duplicates,
			"outside_gate", stats.OutsideGate,
			"failed", stats.Failed,
			"aborted_queries", stats.AbortedQueries,
			"quota_waits", stats.QuotaWaits,
			"quota_wait", stats.QuotaWait.Round(time.Second))
	}
}

func (s *Session) capReached() bool {
	return s.opts.MaxResults > 0 && s.stats.Emitted >= s.opts.MaxResults
}

// stop records the context error, if any, and reports whether the crawl must end.
func (s *Session) stop(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		s.err = err
		return true
	}
	return false
}

// pace waits for lim. It reports false, with the error recorded, when the crawl
// must end instead.
func (s *Session) pace(ctx context.Context, lim *rate.Limiter) bool {
	if err := lim.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		s.err = err
		return false
	}
	return true
}

// runQuery pages through one sub-query. It returns false when the whole crawl must stop.
func (s *Session) runQuery(ctx context.Context, q partition.Query, yield func(*models.DiscoveredItem) bool) bool {
	s.stats.Queries++
	query := q.String()

	for page := 1; page <= s.opts.MaxPages; page++ {
		if s.capReached() || s.stop(ctx) {
			return false
		}
		if !s.pace(ctx, s.pagePace) {
			return false
		}

		result, err := s.search(ctx, query, page)
		if err != nil {
			if s.stop(ctx) {
				return false
			}
			s.stats.AbortedQueries++
			s.logger.Warn("sub-query aborted", "query", query, "page", page, "error", err)
			return true
		}
		s.stats.Pages++

		if len(result.Hits) == 0 {
			return true
		}
		s.logger.Debug("search page", "query", query, "page", page, "hits", len(result.Hits), "total", result.Total)

		for _, hit := range result.Hits {
			if s.capReached() {
				return false
			}
			if s.stop(ctx) {
				return false
			}
			s.stats.Hits++

			item, ok := s.candidate(ctx, q.Gate, hit)
			if !ok {
				return false
			}
			if item == nil {
				continue
			}

			s.stats.Emitted++
			if !yield(item) {
				return false
			}
		}
	}
	return true
}

func (s *Session) search(ctx context.Context, query string, page int) (*SearchResult, error) {
	var result *SearchResult
	err := s.tracker.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.api.SearchCode(ctx, query, page, s.opts.PageSize)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSearchAborted, err)
	}
	return result, nil
}

// candidate enriches one hit. The item is nil when the hit is skipped or fails;
// failures are logged and counted, never propagated. ok is false only when the
// crawl must stop.
func (s *Session) candidate(ctx context.Context, gate partition.Gate, hit models.Candidate) (item *models.DiscoveredItem, ok bool) {
	key := hit.DedupKey()
	if s.seen.Has(key) {
		s.stats.Duplicates++
		return nil, true
	}

	if s.opts.Known != nil {
		known, err := s.opts.Known(ctx, key)
		if err != nil {
			s.logger.Warn("catalog lookup failed", "key", key, "error", err)
		} else if known {
			s.seen.Add(key)
			s.stats.Known++
			return nil, true
		}
	}

	if !s.pace(ctx, s.itemPace) {
		return nil, false
	}

	repo, err := s.repoInfo(ctx, hit.Owner, hit.RepoName)
	if err != nil {
		s.stats.Failed++
		s.logger.Warn("skipping candidate: repo info", "key", key, "error", err)
		return nil, true
	}
	if repo.Stars < s.opts.MinScore {
		s.stats.BelowMinScore++
		return nil, true
	}
	if !gate.Contains(repo.Stars) {
		s.stats.OutsideGate++
		s.logger.Debug("score moved outside gate", "key", key, "gate", gate.String(), "score", repo.Stars)
	}

	file, err := s.api.FileContent(ctx, hit.Owner, hit.RepoName, hit.Path)
	if err != nil {
		s.stats.Failed++
		s.logger.Warn("skipping candidate: file content", "key", key, "error", err)
		return nil, true
	}
	content := file.Content
	if len(content) == 0 && file.DownloadURL != "" && s.opts.Fetcher != nil {
		content, err = s.opts.Fetcher.Fetch(ctx, file.DownloadURL)
		if err != nil {
			s.stats.Failed++
			s.logger.Warn("skipping candidate: download", "key", key, "url", file.DownloadURL, "error", err)
			return nil, true
		}
	}
	if len(content) == 0 {
		s.stats.Failed++
		s.logger.Warn("skipping candidate: empty content", "key", key)
		return nil, true
	}

	s.seen.Add(key)
	return s.newItem(hit, repo, file, content), true
}

func (s *Session) repoInfo(ctx context.Context, owner, name string) (*RepoInfo, error) {
	cacheKey := models.DedupKey(owner, name, "")
	if info, ok := s.repos.Get(cacheKey); ok {
		return info, nil
	}
	info, err := s.api.RepoInfo(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	s.repos.Add(cacheKey, info)
	return info, nil
}

func (s *Session) newItem(hit models.Candidate, repo *RepoInfo, file *FileContent, content []byte) *models.DiscoveredItem {
	item := &models.DiscoveredItem{
		ID:              uuid.New().String(),
		Source:          models.SourceGitHub,
		Name:            repo.FullName,
		Description:     repo.Description,
		SourceURL:       file.HTMLURL,
		DownloadURL:     file.DownloadURL,
		PopularityScore: repo.Stars,
		RepoOwner:       hit.Owner,
		RepoName:        hit.RepoName,
		FilePath:        hit.Path,
		DiscoveredAt:    s.now().UTC(),
	}
	if item.Name == "" {
		item.Name = hit.Owner + "/" + hit.RepoName
	}
	if item.SourceURL == "" {
		item.SourceURL = repo.HTMLURL
	}

	var doc map[string]any
	if err := json.Unmarshal(content, &doc); err == nil && doc != nil {
		item.RawSpec = doc
	} else {
		// YAML stays raw for the normalizer; it is only read here for metadata.
		item.RawText = content
		doc = nil
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return item
		}
	}

	if info, ok := doc["info"].(map[string]any); ok {
		if v := scalar(info["title"]); v != "" {
			item.Name = v
		}
		if v := scalar(info["description"]); v != "" {
			item.Description = v
		}
		item.Version = scalar(info["version"])
	}
	return item
}

// scalar renders a decoded scalar as text. YAML versions such as 1.0 decode as numbers.
func scalar(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
