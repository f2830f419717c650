// Package tracker abstracts the issue tracker behind a small capability set.
// The bounty manager and the claim pipeline depend only on the Tracker
// interface, never on a concrete backend, so a different tracker can be
// substituted without touching the lifecycle logic.
package tracker

import "context"

// PullRequest is the subset of PR metadata the claim pipeline consumes.
type PullRequest struct {
	Number int
	Author string
	Body   string
	Merged bool
}

// Issue is the subset of issue metadata the pipeline consumes.
type Issue struct {
	Number    int
	Labels    []string
	Assignees []string
}

// Comment is a single issue or PR comment.
type Comment struct {
	Author string
	Body   string
}

// Tracker is the capability set bountyd requires from an issue tracker.
// Repository identifiers are "owner/name" throughout.
type Tracker interface {
	GetPullRequest(ctx context.Context, repo string, number int) (*PullRequest, error)
	GetIssue(ctx context.Context, repo string, number int) (*Issue, error)
	ListComments(ctx context.Context, repo string, number int) ([]Comment, error)
	PostComment(ctx context.Context, repo string, number int, body string) error
	Assign(ctx context.Context, repo string, number int, user string) error

	// WasAssigned reports whether user is currently assigned to the issue
	// or ever was (assignment history counts: the bounty hunter may have
	// been unassigned after opening their PR).
	WasAssigned(ctx context.Context, repo string, number int, user string) (bool, error)

	// PermissionLevel returns the user's permission on the repository:
	// "admin", "write", "read", or "none".
	PermissionLevel(ctx context.Context, repo string, user string) (string, error)

	// CrossReferencedIssues returns issue numbers in the same repository
	// that the PR's timeline cross-references.
	CrossReferencedIssues(ctx context.Context, repo string, prNumber int) ([]int, error)

	// SearchClosingIssues returns issue numbers found by searching the
	// tracker for issues closed by (or mentioning) the PR.
	SearchClosingIssues(ctx context.Context, repo string, prNumber int) ([]int, error)
}

// IsMaintainer reports whether a permission level is sufficient to
// authorize bounty creation.
func IsMaintainer(permission string) bool {
	return permission == "admin" || permission == "write"
}
