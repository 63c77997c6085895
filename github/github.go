// Package github lists the .deb assets published in GitHub releases, so a
// suite can track a project's releases.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Repo defines a GitHub repository to harvest packages from.
type Repo struct {
	Owner string
	Name  string
}

// ParseRepo parses "owner/name".
func ParseRepo(s string) (Repo, error) {
	owner, name, ok := strings.Cut(s, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, fmt.Errorf("invalid GitHub repository %q, want owner/name", s)
	}
	return Repo{Owner: owner, Name: name}, nil
}

func (r Repo) String() string { return r.Owner + "/" + r.Name }

type release struct {
	ID      int64   `json:"id"`
	TagName string  `json:"tag_name"`
	Draft   bool    `json:"draft"`
	Assets  []asset `json:"assets"`
}

type asset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Client queries the GitHub REST API.
type Client struct {
	client  *http.Client
	baseURL string
	token   string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Client) {
		g.client = c
	}
}

// WithToken authenticates requests, raising the rate limit.
func WithToken(token string) Option {
	return func(g *Client) {
		g.token = token
	}
}

// WithBaseURL points the client to a GitHub Enterprise API.
func WithBaseURL(u string) Option {
	return func(g *Client) {
		g.baseURL = strings.TrimSuffix(u, "/")
	}
}

func NewClient(opts ...Option) *Client {
	g := &Client{client: http.DefaultClient, baseURL: "https://api.github.com"}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

const perPage = 100

func (g *Client) releases(ctx context.Context, repo Repo, page int) ([]release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=%d&page=%d", g.baseURL, repo.Owner, repo.Name, perPage, page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.token != "" {
		req.Header.Set("Authorization", "token "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API status %d for %s", resp.StatusCode, repo)
	}
	var releases []release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, fmt.Errorf("decoding releases of %s: %w", repo, err)
	}
	return releases, nil
}

// ReleaseDebs scans every published release of the repository and returns
// the download URLs of the assets ending in ".deb". Drafts are ignored.
func (g *Client) ReleaseDebs(ctx context.Context, repo Repo) ([]string, error) {
	var urls []string
	for page := 1; ; page++ {
		releases, err := g.releases(ctx, repo, page)
		if err != nil {
			return nil, err
		}
		for _, rel := range releases {
			if rel.Draft {
				continue
			}
			for _, a := range rel.Assets {
				if strings.HasSuffix(a.Name, ".deb") {
					urls = append(urls, a.BrowserDownloadURL)
				}
			}
		}
		if len(releases) < perPage {
			return urls, nil
		}
	}
}
