package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/raphaelgruber/apiharvest/internal/models"
	"github.com/raphaelgruber/apiharvest/internal/quota"
)

const githubTimeout = 30 * time.Second

// GitHub implements SearchAPI and quota.Source over the GitHub REST API.
type GitHub struct {
	client *github.Client
}

// NewGitHub creates a GitHub client authenticated with token. An empty baseURL
// targets api.github.com; tests point it at an httptest server.
func NewGitHub(ctx context.Context, token, baseURL string) (*GitHub, error) {
	httpClient := &http.Client{Timeout: githubTimeout}
	if token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
		httpClient.Timeout = githubTimeout
	}

	client := github.NewClient(httpClient)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub base URL: %w", err)
		}
		client.BaseURL = u
	}
	return &GitHub{client: client}, nil
}

// SearchCode runs one code-search page.
func (g *GitHub) SearchCode(ctx context.Context, query string, page, perPage int) (*SearchResult, error) {
	res, _, err := g.client.Search.Code(ctx, query, &github.SearchOptions{
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	})
	if err != nil {
		return nil, translateError(err)
	}

	out := &SearchResult{Total: res.GetTotal(), Hits: make([]models.Candidate, 0, len(res.CodeResults))}
	for i, cr := range res.CodeResults {
		repo := cr.GetRepository()
		if repo == nil {
			continue
		}
		out.Hits = append(out.Hits, models.Candidate{
			Owner:      repo.GetOwner().GetLogin(),
			RepoName:   repo.GetName(),
			Path:       cr.GetPath(),
			SearchRank: (page-1)*perPage + i + 1,
		})
	}
	return out, nil
}

// RepoInfo fetches repository metadata.
func (g *GitHub) RepoInfo(ctx context.Context, owner, repo string) (*RepoInfo, error) {
	r, _, err := g.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, translateError(err)
	}
	return &RepoInfo{
		FullName:    r.GetFullName(),
		Description: r.GetDescription(),
		HTMLURL:     r.GetHTMLURL(),
		Stars:       r.GetStargazersCount(),
	}, nil
}

// FileContent fetches a file through the contents API. Files too large for inline
// content come back with an empty Content and a DownloadURL.
func (g *GitHub) FileContent(ctx context.Context, owner, repo, path string) (*FileContent, error) {
	file, _, _, err := g.client.Repositories.GetContents(ctx, owner, repo, path, nil)
	if err != nil {
		return nil, translateError(err)
	}
	if file == nil {
		return nil, fmt.Errorf("%s/%s/%s is a directory", owner, repo, path)
	}

	out := &FileContent{
		DownloadURL: file.GetDownloadURL(),
		HTMLURL:     file.GetHTMLURL(),
	}
	if file.GetEncoding() == "none" {
		return out, nil
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s/%s: %w", owner, repo, path, err)
	}
	out.Content = []byte(content)
	return out, nil
}

// SearchQuota reads the code-search rate-limit bucket.
func (g *GitHub) SearchQuota(ctx context.Context) (quota.Status, error) {
	limits, _, err := g.client.RateLimit.Get(ctx)
	if err != nil {
		return quota.Status{}, translateError(err)
	}
	rate := limits.GetCodeSearch()
	if rate == nil {
		rate = limits.GetSearch()
	}
	if rate == nil {
		return quota.Status{}, errors.New("rate limit response has no search bucket")
	}
	return quota.Status{
		Remaining: rate.Remaining,
		Limit:     rate.Limit,
		ResetAt:   rate.Reset.Time,
	}, nil
}

// translateError maps go-github rate-limit errors to *quota.RateLimitedError so the
// tracker can classify them. Other errors pass through.
func translateError(err error) error {
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return &quota.RateLimitedError{ResetAt: rle.Rate.Reset.Time, Message: rle.Message}
	}
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		return &quota.RateLimitedError{RetryAfter: abuse.GetRetryAfter(), Message: abuse.Message}
	}
	var resp *github.ErrorResponse
	if errors.As(err, &resp) && resp.Response != nil && resp.Response.StatusCode == http.StatusTooManyRequests {
		return &quota.RateLimitedError{Message: resp.Message}
	}
	return err
}
