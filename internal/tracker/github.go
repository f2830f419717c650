package tracker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v68/github"
)

// GitHubTracker implements Tracker using the go-github library.
type GitHubTracker struct {
	client *github.Client
}

// NewGitHubTracker creates a tracker with the provided OAuth token.
// If token is empty, creates an unauthenticated client (limited to 60 req/hour).
func NewGitHubTracker(token string) *GitHubTracker {
	var client *github.Client
	if token != "" {
		client = github.NewClient(nil).WithAuthToken(token)
	} else {
		client = github.NewClient(nil)
	}
	return &GitHubTracker{client: client}
}

// NewGitHubTrackerWithHTTPClient creates a tracker with a custom HTTP client.
// This is primarily used for testing with httptest servers.
func NewGitHubTrackerWithHTTPClient(httpClient *http.Client, baseURL string) *GitHubTracker {
	client := github.NewClient(httpClient)
	if baseURL != "" {
		client, _ = client.WithEnterpriseURLs(baseURL, baseURL)
	}
	return &GitHubTracker{client: client}
}

// splitRepo splits "owner/name" into its parts.
func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository identifier: %q", repo)
	}
	return parts[0], parts[1], nil
}

// withRetry retries fn on secondary (abuse) rate limits, which GitHub asks
// clients to back off from rather than fail. Primary rate limit exhaustion
// is returned immediately; waiting an hour inside a webhook delivery helps
// nobody.
func withRetry(ctx context.Context, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if _, ok := err.(*github.AbuseRateLimitError); ok {
			log.Printf("WARNING: GitHub secondary rate limit, backing off")
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

// GetPullRequest fetches PR metadata.
func (t *GitHubTracker) GetPullRequest(ctx context.Context, repo string, number int) (*PullRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	var pr *github.PullRequest
	err = withRetry(ctx, func() error {
		var err error
		pr, _, err = t.client.PullRequests.Get(ctx, owner, name, number)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get PR #%d: %w", number, err)
	}

	return &PullRequest{
		Number: pr.GetNumber(),
		Author: pr.GetUser().GetLogin(),
		Body:   pr.GetBody(),
		Merged: pr.GetMerged(),
	}, nil
}

// GetIssue fetches issue metadata including labels and current assignees.
func (t *GitHubTracker) GetIssue(ctx context.Context, repo string, number int) (*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	var issue *github.Issue
	err = withRetry(ctx, func() error {
		var err error
		issue, _, err = t.client.Issues.Get(ctx, owner, name, number)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get issue #%d: %w", number, err)
	}

	out := &Issue{Number: issue.GetNumber()}
	for _, l := range issue.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	for _, a := range issue.Assignees {
		out.Assignees = append(out.Assignees, a.GetLogin())
	}
	return out, nil
}

// ListComments returns all comments on an issue or PR, oldest first.
func (t *GitHubTracker) ListComments(ctx context.Context, repo string, number int) ([]Comment, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	var comments []Comment
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		var page []*github.IssueComment
		var resp *github.Response
		err = withRetry(ctx, func() error {
			var err error
			page, resp, err = t.client.Issues.ListComments(ctx, owner, name, number, opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list comments on #%d: %w", number, err)
		}
		for _, c := range page {
			comments = append(comments, Comment{
				Author: c.GetUser().GetLogin(),
				Body:   c.GetBody(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return comments, nil
}

// PostComment adds a comment to an issue or PR.
func (t *GitHubTracker) PostComment(ctx context.Context, repo string, number int, body string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}

	err = withRetry(ctx, func() error {
		_, _, err := t.client.Issues.CreateComment(ctx, owner, name, number, &github.IssueComment{
			Body: github.String(body),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to comment on #%d: %w", number, err)
	}
	return nil
}

// Assign adds user to the issue's assignees.
func (t *GitHubTracker) Assign(ctx context.Context, repo string, number int, user string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}

	err = withRetry(ctx, func() error {
		_, _, err := t.client.Issues.AddAssignees(ctx, owner, name, number, []string{user})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to assign %s to #%d: %w", user, number, err)
	}
	return nil
}

// WasAssigned checks current assignees first, then walks the issue's event
// history for a past "assigned" event naming the user.
func (t *GitHubTracker) WasAssigned(ctx context.Context, repo string, number int, user string) (bool, error) {
	issue, err := t.GetIssue(ctx, repo, number)
	if err != nil {
		return false, err
	}
	for _, a := range issue.Assignees {
		if a == user {
			return true, nil
		}
	}

	owner, name, err := splitRepo(repo)
	if err != nil {
		return false, err
	}
	opts := &github.ListOptions{PerPage: 100}
	for {
		var page []*github.IssueEvent
		var resp *github.Response
		err = withRetry(ctx, func() error {
			var err error
			page, resp, err = t.client.Issues.ListIssueEvents(ctx, owner, name, number, opts)
			return err
		})
		if err != nil {
			return false, fmt.Errorf("failed to list events on #%d: %w", number, err)
		}
		for _, ev := range page {
			if ev.GetEvent() == "assigned" && ev.GetAssignee().GetLogin() == user {
				return true, nil
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return false, nil
}

// PermissionLevel returns the user's permission on the repository.
func (t *GitHubTracker) PermissionLevel(ctx context.Context, repo string, user string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	var level *github.RepositoryPermissionLevel
	err = withRetry(ctx, func() error {
		var err error
		level, _, err = t.client.Repositories.GetPermissionLevel(ctx, owner, name, user)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to get permission for %s: %w", user, err)
	}
	return level.GetPermission(), nil
}

// CrossReferencedIssues walks the PR's timeline for cross-reference events
// originating from issues in the same repository.
func (t *GitHubTracker) CrossReferencedIssues(ctx context.Context, repo string, prNumber int) ([]int, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	var numbers []int
	opts := &github.ListOptions{PerPage: 100}
	for {
		var page []*github.Timeline
		var resp *github.Response
		err = withRetry(ctx, func() error {
			var err error
			page, resp, err = t.client.Issues.ListIssueTimeline(ctx, owner, name, prNumber, opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list timeline for #%d: %w", prNumber, err)
		}
		for _, ev := range page {
			if ev.GetEvent() != "cross-referenced" {
				continue
			}
			source := ev.GetSource().GetIssue()
			if source == nil {
				continue
			}
			// Cross-references from other repositories are not bounty
			// candidates.
			if full := source.GetRepository().GetFullName(); full != "" && full != repo {
				continue
			}
			if n := source.GetNumber(); n != 0 && n != prNumber {
				numbers = append(numbers, n)
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return numbers, nil
}

// SearchClosingIssues searches for closed issues in the repository that
// reference the PR by number.
func (t *GitHubTracker) SearchClosingIssues(ctx context.Context, repo string, prNumber int) ([]int, error) {
	query := fmt.Sprintf("repo:%s is:issue is:closed %d", repo, prNumber)

	var result *github.IssuesSearchResult
	err := withRetry(ctx, func() error {
		var err error
		result, _, err = t.client.Search.Issues(ctx, query, &github.SearchOptions{
			ListOptions: github.ListOptions{PerPage: 50},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("issue search failed: %w", err)
	}

	var numbers []int
	for _, issue := range result.Issues {
		if n := issue.GetNumber(); n != 0 && n != prNumber {
			numbers = append(numbers, n)
		}
	}
	return numbers, nil
}
