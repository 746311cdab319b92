// Package github implements the hosting.Provider interface using the
// go-github client.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v82/github"

	"github.com/conductor-dev/conductor/internal/hosting"
)

// Compile-time interface check.
var _ hosting.Provider = (*GitHubProvider)(nil)

func init() {
	hosting.RegisterProvider(hosting.ProviderGitHub, newProvider)
}

// GitHubProvider implements hosting.Provider using the go-github library.
type GitHubProvider struct {
	client *gogithub.Client
	owner  string
	repo   string
}

// newProvider creates a new GitHubProvider from the remote URL and token.
func newProvider(remoteURL, token string) (hosting.Provider, error) {
	if token == "" {
		return nil, fmt.Errorf("no token configured for GitHub API access")
	}

	owner, repo := hosting.ParseOwnerRepo(remoteURL)
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("could not parse owner/repo from remote URL: %s", hosting.Redact(remoteURL))
	}

	httpClient := &http.Client{
		Transport: &oauth2Transport{token: token},
	}
	client := gogithub.NewClient(httpClient)

	// GitHub Enterprise: route API calls to the instance's /api/v3.
	if host := hosting.Host(remoteURL); host != "" && host != "github.com" {
		baseURL := "https://" + strings.TrimSuffix(host, "/")
		var parseErr error
		client.BaseURL, parseErr = client.BaseURL.Parse(baseURL + "/api/v3/")
		if parseErr != nil {
			return nil, fmt.Errorf("parse base URL for %q: %w", host, parseErr)
		}
	}

	return &GitHubProvider{
		client: client,
		owner:  owner,
		repo:   repo,
	}, nil
}

// oauth2Transport adds an Authorization header to every request.
type oauth2Transport struct {
	token string
	base  http.RoundTripper
}

func (t *oauth2Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req2)
}

// Name returns the provider type.
func (g *GitHubProvider) Name() hosting.ProviderType {
	return hosting.ProviderGitHub
}

// OwnerRepo returns the owner and repository name.
func (g *GitHubProvider) OwnerRepo() (string, string) {
	return g.owner, g.repo
}

// DefaultBranch returns the repository's default branch.
func (g *GitHubProvider) DefaultBranch(ctx context.Context) (string, error) {
	repo, _, err := g.client.Repositories.Get(ctx, g.owner, g.repo)
	if err != nil {
		return "", fmt.Errorf("get repository: %w", err)
	}
	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = "main"
	}
	return branch, nil
}

// CreatePR creates a pull request.
func (g *GitHubProvider) CreatePR(ctx context.Context, opts hosting.PRCreateOptions) (*hosting.PR, error) {
	newPR := &gogithub.NewPullRequest{
		Title: gogithub.Ptr(opts.Title),
		Body:  gogithub.Ptr(opts.Body),
		Head:  gogithub.Ptr(opts.Head),
		Base:  gogithub.Ptr(opts.Base),
	}

	created, _, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, newPR)
	if err != nil {
		return nil, fmt.Errorf("create PR: %w", err)
	}
	return mapPR(created), nil
}

// FindPRByBranch returns the open PR whose head is the given branch, or nil.
func (g *GitHubProvider) FindPRByBranch(ctx context.Context, branch string) (*hosting.PR, error) {
	prs, _, err := g.client.PullRequests.List(ctx, g.owner, g.repo, &gogithub.PullRequestListOptions{
		Head:  g.owner + ":" + branch,
		State: "open",
	})
	if err != nil {
		return nil, fmt.Errorf("list PRs for branch %s: %w", branch, err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return mapPR(prs[0]), nil
}

// mapPR converts a go-github pull request to the unified type.
func mapPR(pr *gogithub.PullRequest) *hosting.PR {
	return &hosting.PR{
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		State:      pr.GetState(),
		HeadBranch: pr.GetHead().GetRef(),
		BaseBranch: pr.GetBase().GetRef(),
		HTMLURL:    pr.GetHTMLURL(),
	}
}
