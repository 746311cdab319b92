package hosting

import (
	"fmt"
	"regexp"
	"strings"
)

// DetectProvider determines the hosting provider from a git remote URL.
//
// Supported URL formats:
//   - git@github.com:owner/repo.git
//   - https://github.com/owner/repo.git
//   - git@gitlab.com:owner/repo.git
//   - https://gitlab.com/owner/repo.git
//   - git@gitlab.company.com:org/repo.git (self-hosted GitLab)
//   - https://github.company.com/org/repo.git (GitHub Enterprise)
func DetectProvider(remoteURL string) ProviderType {
	url := strings.ToLower(strings.TrimSpace(remoteURL))

	if isGitHub(url) {
		return ProviderGitHub
	}
	if isGitLab(url) {
		return ProviderGitLab
	}
	return ProviderUnknown
}

// GitHub URL patterns
var githubPatterns = []*regexp.Regexp{
	regexp.MustCompile(`github\.com[:/]`),
	regexp.MustCompile(`github\.[a-z0-9-]+\.[a-z]+[:/]`), // GitHub Enterprise (github.company.com)
}

func isGitHub(url string) bool {
	for _, p := range githubPatterns {
		if p.MatchString(url) {
			return true
		}
	}
	return false
}

// GitLab URL patterns
var gitlabPatterns = []*regexp.Regexp{
	regexp.MustCompile(`gitlab\.com[:/]`),
	regexp.MustCompile(`gitlab\.[a-z0-9-]+\.[a-z]+[:/]`), // Self-hosted GitLab (gitlab.company.com)
}

func isGitLab(url string) bool {
	for _, p := range gitlabPatterns {
		if p.MatchString(url) {
			return true
		}
	}
	return false
}

// ParseOwnerRepo extracts owner and repo from a git remote URL.
//
// Handles:
//   - git@github.com:owner/repo.git → (owner, repo)
//   - https://github.com/owner/repo.git → (owner, repo)
//   - ssh://git@github.com:22/owner/repo.git → (owner, repo)
//   - git@gitlab.com:group/subgroup/repo.git → (group/subgroup, repo)
func ParseOwnerRepo(remoteURL string) (owner, repo string) {
	raw := strings.TrimSpace(remoteURL)
	raw = strings.TrimSuffix(raw, ".git")

	if strings.HasPrefix(raw, "ssh://") {
		// SSH format: ssh://git@host:port/owner/repo
		raw = strings.TrimPrefix(raw, "ssh://")
		if idx := strings.Index(raw, "/"); idx != -1 {
			raw = raw[idx+1:]
			raw = strings.TrimLeft(raw, "/")
		}
	} else if strings.HasPrefix(raw, "https://") || strings.HasPrefix(raw, "http://") {
		// HTTPS format: https://host/owner/repo
		raw = strings.TrimPrefix(raw, "https://")
		raw = strings.TrimPrefix(raw, "http://")
		// Strip credentials, then host
		if idx := strings.Index(raw, "@"); idx != -1 {
			raw = raw[idx+1:]
		}
		if idx := strings.Index(raw, "/"); idx != -1 {
			raw = raw[idx+1:]
		}
	} else if idx := strings.Index(raw, ":"); idx != -1 {
		// SCP-style SSH: git@host:owner/repo
		raw = raw[idx+1:]
	}

	// For GitLab, owner can be "group/subgroup" so take last segment as repo
	parts := strings.Split(raw, "/")
	if len(parts) < 2 {
		return raw, ""
	}

	repo = parts[len(parts)-1]
	owner = strings.Join(parts[:len(parts)-1], "/")
	return owner, repo
}

// Host extracts the hostname from a remote URL in any supported format.
func Host(remoteURL string) string {
	raw := strings.TrimSpace(remoteURL)

	if strings.HasPrefix(raw, "ssh://") {
		raw = strings.TrimPrefix(raw, "ssh://")
	} else if strings.HasPrefix(raw, "https://") {
		raw = strings.TrimPrefix(raw, "https://")
	} else if strings.HasPrefix(raw, "http://") {
		raw = strings.TrimPrefix(raw, "http://")
	}
	if idx := strings.Index(raw, "@"); idx != -1 {
		raw = raw[idx+1:]
	}
	end := strings.IndexAny(raw, ":/")
	if end == -1 {
		return raw
	}
	return raw[:end]
}

// TokenURL rewrites a remote URL to its token-compatible HTTPS form for
// cloning and pushing without interactive credentials:
//
//	GitHub: https://x-access-token:<token>@host/owner/repo.git
//	GitLab: https://oauth2:<token>@host/owner/repo.git
//
// Unrecognized providers and empty tokens return the URL unchanged.
// The result carries a credential and must never be logged.
func TokenURL(remoteURL, token string) string {
	if token == "" {
		return remoteURL
	}

	var user string
	switch DetectProvider(remoteURL) {
	case ProviderGitHub:
		user = "x-access-token"
	case ProviderGitLab:
		user = "oauth2"
	default:
		return remoteURL
	}

	host := Host(remoteURL)
	owner, repo := ParseOwnerRepo(remoteURL)
	if host == "" || owner == "" || repo == "" {
		return remoteURL
	}
	return fmt.Sprintf("https://%s:%s@%s/%s/%s.git", user, token, host, owner, repo)
}

// Redact strips any credential from a URL so it is safe to log.
func Redact(url string) string {
	start := strings.Index(url, "://")
	if start == -1 {
		return url
	}
	at := strings.Index(url[start+3:], "@")
	if at == -1 {
		return url
	}
	return url[:start+3] + url[start+3+at+1:]
}
