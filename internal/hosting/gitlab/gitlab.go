// Package gitlab implements the hosting.Provider interface using the
// official GitLab client-go library. GitLab calls pull requests "merge
// requests"; this package maps them onto the unified PR type.
package gitlab

import (
	"context"
	"fmt"

	gogitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/conductor-dev/conductor/internal/hosting"
)

// Compile-time interface check.
var _ hosting.Provider = (*GitLabProvider)(nil)

func init() {
	hosting.RegisterProvider(hosting.ProviderGitLab, newProvider)
}

// GitLabProvider implements hosting.Provider using client-go.
type GitLabProvider struct {
	client *gogitlab.Client
	owner  string // group or group/subgroup
	repo   string
}

// newProvider creates a new GitLabProvider from the remote URL and token.
// Self-hosted instances are supported via the host in the remote URL.
func newProvider(remoteURL, token string) (hosting.Provider, error) {
	if token == "" {
		return nil, fmt.Errorf("no token configured for GitLab API access")
	}

	owner, repo := hosting.ParseOwnerRepo(remoteURL)
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("could not parse owner/repo from remote URL: %s", hosting.Redact(remoteURL))
	}

	host := hosting.Host(remoteURL)
	if host == "" {
		host = "gitlab.com"
	}

	client, err := gogitlab.NewClient(token, gogitlab.WithBaseURL("https://"+host+"/api/v4"))
	if err != nil {
		return nil, fmt.Errorf("create GitLab client: %w", err)
	}

	return &GitLabProvider{
		client: client,
		owner:  owner,
		repo:   repo,
	}, nil
}

// projectID returns the URL-encoded project path accepted by the API.
func (g *GitLabProvider) projectID() string {
	return g.owner + "/" + g.repo
}

// Name returns the provider type.
func (g *GitLabProvider) Name() hosting.ProviderType {
	return hosting.ProviderGitLab
}

// OwnerRepo returns the group path and project name.
func (g *GitLabProvider) OwnerRepo() (string, string) {
	return g.owner, g.repo
}

// DefaultBranch returns the project's default branch.
func (g *GitLabProvider) DefaultBranch(ctx context.Context) (string, error) {
	project, _, err := g.client.Projects.GetProject(g.projectID(), nil, gogitlab.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("get project: %w", err)
	}
	branch := project.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	return branch, nil
}

// CreatePR creates a merge request.
func (g *GitLabProvider) CreatePR(ctx context.Context, opts hosting.PRCreateOptions) (*hosting.PR, error) {
	mr, _, err := g.client.MergeRequests.CreateMergeRequest(g.projectID(), &gogitlab.CreateMergeRequestOptions{
		Title:        gogitlab.Ptr(opts.Title),
		Description:  gogitlab.Ptr(opts.Body),
		SourceBranch: gogitlab.Ptr(opts.Head),
		TargetBranch: gogitlab.Ptr(opts.Base),
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create merge request: %w", err)
	}
	return mapMR(&mr.BasicMergeRequest), nil
}

// FindPRByBranch returns the open MR whose source is the given branch, or nil.
func (g *GitLabProvider) FindPRByBranch(ctx context.Context, branch string) (*hosting.PR, error) {
	mrs, _, err := g.client.MergeRequests.ListProjectMergeRequests(g.projectID(), &gogitlab.ListProjectMergeRequestsOptions{
		SourceBranch: gogitlab.Ptr(branch),
		State:        gogitlab.Ptr("opened"),
	}, gogitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list merge requests for branch %s: %w", branch, err)
	}
	if len(mrs) == 0 {
		return nil, nil
	}
	return mapMR(mrs[0]), nil
}

// mapMR converts a GitLab merge request to the unified type.
func mapMR(mr *gogitlab.BasicMergeRequest) *hosting.PR {
	state := mr.State
	if state == "opened" {
		state = "open"
	}
	return &hosting.PR{
		Number:     int(mr.IID),
		Title:      mr.Title,
		State:      state,
		HeadBranch: mr.SourceBranch,
		BaseBranch: mr.TargetBranch,
		HTMLURL:    mr.WebURL,
	}
}
