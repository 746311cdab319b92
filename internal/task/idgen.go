package task

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID generates a time-ordered, collision-resistant task id:
// a UTC timestamp prefix keeps ids sortable by creation time, the uuid
// suffix keeps concurrent creations from colliding.
func NewID() string {
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405"), uuid.New().String()[:8])
}

// MaxBranchNameLength caps derived branch names, prefix excluded.
const MaxBranchNameLength = 80

var branchUnsafe = regexp.MustCompile(`[^a-z0-9._-]+`)

// BranchName derives the deterministic branch for a (task, repo) pair.
// The result is prefix + sanitized "taskID-repoID", lowercased, restricted
// to [a-z0-9._-], runs of unsafe characters squeezed to a single hyphen,
// and capped at MaxBranchNameLength. Stable across resume.
func BranchName(prefix, taskID, repoID string) string {
	name := strings.ToLower(taskID + "-" + repoID)
	name = branchUnsafe.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-.")
	if len(name) > MaxBranchNameLength {
		name = strings.Trim(name[:MaxBranchNameLength], "-.")
	}
	return prefix + name
}

var repoIDUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// RepoIDFromSource derives a repository id from its source locator when the
// caller supplied none: the basename of the path or URL, ".git"-trimmed.
// pos is the zero-based position in the repos list, used as a fallback.
func RepoIDFromSource(source string, pos int) string {
	base := path.Base(strings.TrimSuffix(strings.TrimRight(source, "/"), ".git"))
	base = repoIDUnsafe.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-.")
	if base == "" || base == "/" {
		return fmt.Sprintf("repo-%d", pos+1)
	}
	return base
}
