// Package github implements the probe and feed operations the discovery
// engine needs on top of the GitHub REST API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"
	"golang.org/x/time/rate"

	"github.com/poacher-dev/poacher/internal/types"
)

// maxRateLimitWait bounds how long a single call sleeps for a rate-limit
// reset before giving up.
const maxRateLimitWait = time.Hour

// Options configures a Client.
type Options struct {
	// Token authenticates requests; empty means anonymous access.
	Token string

	// BaseURL overrides the API root (GitHub Enterprise, tests).
	BaseURL string

	// RequestsPerSecond throttles outgoing calls; 0 disables throttling.
	RequestsPerSecond float64

	// HTTPClient is used instead of http.DefaultClient when set.
	HTTPClient *http.Client
}

// Client answers existence probes, lists new repositories and looks up
// repository sizes. It is safe for concurrent use.
type Client struct {
	gh      *gh.Client
	limiter *rate.Limiter
}

// NewClient creates a GitHub API client.
func NewClient(opts Options) (*Client, error) {
	client := gh.NewClient(opts.HTTPClient)
	if opts.Token != "" {
		client = client.WithAuthToken(opts.Token)
	}

	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid API base URL %q: %w", opts.BaseURL, err)
		}
		client.BaseURL = u
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Client{
		gh:      client,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Exists reports whether id has been assigned: the listing of repositories
// with IDs >= id is non-empty. Private and deleted repositories never show
// up individually, but a later public one proves the ID was handed out.
func (c *Client) Exists(ctx context.Context, id int64) (bool, error) {
	repos, err := c.listAll(ctx, id-1)
	if err != nil {
		return false, err
	}
	return len(repos) > 0, nil
}

// ListSince returns the public repositories with IDs greater than id, in
// ascending ID order.
func (c *Client) ListSince(ctx context.Context, id int64) ([]types.Repository, error) {
	repos, err := c.listAll(ctx, id)
	if err != nil {
		return nil, err
	}

	out := make([]types.Repository, 0, len(repos))
	for _, r := range repos {
		if r == nil || r.GetID() <= id {
			continue
		}
		out = append(out, convert(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Lookup completes a listing entry with the fields only the full
// repository carries: the size in kilobytes and the creation time. An
// entry that already has both costs nothing.
func (c *Client) Lookup(ctx context.Context, repo *types.Repository) error {
	if repo.SizeKnown && !repo.CreatedAt.IsZero() {
		return nil
	}

	var full *gh.Repository
	err := c.call(ctx, func() (*gh.Response, error) {
		r, resp, err := c.gh.Repositories.GetByID(ctx, repo.ID)
		full = r
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("looking up %s: %w", repo.DisplayName(), err)
	}

	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = full.GetCreatedAt().Time
	}
	if repo.CloneURL == "" {
		repo.CloneURL = full.GetCloneURL()
	}
	if !repo.SizeKnown {
		if full.Size == nil {
			return fmt.Errorf("repository %s reported no size", repo.DisplayName())
		}
		repo.SizeKB, repo.SizeKnown = int64(full.GetSize()), true
	}
	return nil
}

func (c *Client) listAll(ctx context.Context, since int64) ([]*gh.Repository, error) {
	var repos []*gh.Repository
	err := c.call(ctx, func() (*gh.Response, error) {
		r, resp, err := c.gh.Repositories.ListAll(ctx, &gh.RepositoryListAllOptions{Since: since})
		repos = r
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing repositories since %d: %w", since, err)
	}
	return repos, nil
}

// call runs fn through the limiter and retries once after sleeping out a
// rate-limit response.
func (c *Client) call(ctx context.Context, fn func() (*gh.Response, error)) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		_, err := fn()
		if err == nil {
			return nil
		}

		wait, limited := rateLimitWait(err, time.Now())
		if !limited || attempt > 0 || wait > maxRateLimitWait {
			return err
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("waiting for rate limit reset: %w", ctx.Err())
		}
	}
}

// rateLimitWait extracts how long to back off from a rate-limit error.
func rateLimitWait(err error, now time.Time) (time.Duration, bool) {
	var rle *gh.RateLimitError
	if errors.As(err, &rle) {
		wait := rle.Rate.Reset.Time.Sub(now)
		if wait < time.Second {
			wait = time.Second
		}
		return wait, true
	}

	var abuse *gh.AbuseRateLimitError
	if errors.As(err, &abuse) {
		if abuse.RetryAfter != nil {
			return *abuse.RetryAfter, true
		}
		return time.Minute, true
	}

	return 0, false
}

func convert(r *gh.Repository) types.Repository {
	repo := types.Repository{
		ID:        r.GetID(),
		Name:      r.GetName(),
		FullName:  r.GetFullName(),
		HTMLURL:   r.GetHTMLURL(),
		CloneURL:  r.GetCloneURL(),
		CreatedAt: r.GetCreatedAt().Time,
	}
	if repo.CloneURL == "" && repo.HTMLURL != "" {
		repo.CloneURL = repo.HTMLURL
	}
	if r.Size != nil {
		repo.SizeKB = int64(r.GetSize())
		repo.SizeKnown = true
	}
	return repo
}
