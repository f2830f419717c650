// Package claim implements the validation pipeline that gates every fund
// release. Five ordered checks run against tracker metadata; the pipeline
// short-circuits on the first hard failure and reports every failure reason
// in language meant to be posted back to the claimant verbatim.
package claim

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/solbounty/bountyd/internal/telemetry"
	"github.com/solbounty/bountyd/internal/tracker"
)

// ReleasedMarker prefixes the comment bountyd posts after a successful
// release. The already-claimed check scans for it, so the post and the scan
// must agree on this string.
const ReleasedMarker = "🎉 Bounty released"

// Policy holds the toggles that relax individual checks.
type Policy struct {
	RequireMerged     bool
	RequireAssignment bool
}

// AmountTable resolves a label name to a payout amount. Satisfied by
// config.BountyConfig.
type AmountTable interface {
	AmountFor(label string) (uint64, bool)
}

// LinkedIssue is the bounty-carrying issue a PR was resolved to. Recomputed
// per claim attempt, never cached.
type LinkedIssue struct {
	Number int
	Label  string
	Amount uint64 // lamports
}

// Result is the immutable outcome of one claim attempt.
type Result struct {
	Valid       bool
	LinkedIssue *LinkedIssue
	Errors      []string
}

// outcome is the explicit control value a stage returns: continue, or stop
// the pipeline here.
type outcome int

const (
	pass outcome = iota
	fail
)

// Pipeline runs the five claim checks in order.
type Pipeline struct {
	tracker tracker.Tracker
	amounts AmountTable
	policy  Policy
}

// New creates a pipeline.
func New(t tracker.Tracker, amounts AmountTable, policy Policy) *Pipeline {
	return &Pipeline{tracker: t, amounts: amounts, policy: policy}
}

// Validate runs the pipeline for one claim attempt: claimant commented
// `/claim` on the given PR.
func (p *Pipeline) Validate(ctx context.Context, repo string, prNumber int, claimant string) Result {
	var result Result

	pr, err := p.tracker.GetPullRequest(ctx, repo, prNumber)
	if err != nil {
		log.Printf("WARNING: claim on %s#%d: %v", repo, prNumber, err)
		result.Errors = append(result.Errors, "Could not fetch the pull request. Please try again later.")
		telemetry.CountClaim(ctx, "rejected")
		return result
	}

	stages := []struct {
		name string
		run  func(ctx context.Context) outcome
	}{
		{"merge", func(ctx context.Context) outcome {
			return p.checkMerged(pr, &result)
		}},
		{"authorship", func(ctx context.Context) outcome {
			return p.checkAuthorship(pr, claimant, &result)
		}},
		{"linked-issue", func(ctx context.Context) outcome {
			return p.resolveLinkedIssue(ctx, repo, pr, &result)
		}},
		{"assignment", func(ctx context.Context) outcome {
			return p.checkAssignment(ctx, repo, claimant, &result)
		}},
		{"already-claimed", func(ctx context.Context) outcome {
			return p.checkAlreadyClaimed(ctx, repo, &result)
		}},
	}

	for _, stage := range stages {
		if stage.run(ctx) == fail {
			telemetry.CountClaim(ctx, "rejected")
			return result
		}
	}

	result.Valid = true
	telemetry.CountClaim(ctx, "valid")
	return result
}

// Stage 1: the PR must be merged, unless policy says otherwise.
func (p *Pipeline) checkMerged(pr *tracker.PullRequest, result *Result) outcome {
	if !p.policy.RequireMerged || pr.Merged {
		return pass
	}
	result.Errors = append(result.Errors,
		fmt.Sprintf("Pull request #%d is not merged yet. Bounties are only paid for merged work.", pr.Number))
	return fail
}

// Stage 2: only the PR author may claim. Anyone can comment on a public PR;
// without this check a bystander could redirect the author's payout to
// their own address.
func (p *Pipeline) checkAuthorship(pr *tracker.PullRequest, claimant string, result *Result) outcome {
	if claimant == pr.Author {
		return pass
	}
	result.Errors = append(result.Errors,
		fmt.Sprintf("Only the pull request author (@%s) can claim this bounty.", pr.Author))
	return fail
}

// closingPattern matches GitHub closing keywords followed by an issue
// reference, e.g. "fixes #42", "Closes: #7".
var closingPattern = regexp.MustCompile(`(?i)(?:close|closes|closed|fix|fixes|fixed|resolve|resolves|resolved)\s*:?\s+#(\d+)`)

// Stage 3: find the bounty-carrying issue this PR resolves. Candidate
// numbers are the union of closing-keyword matches in the PR body, timeline
// cross-references, and a tracker search — deduplicated, checked in order.
// A candidate source that errors is logged and skipped; the stage only
// fails when no candidate carries a configured label.
func (p *Pipeline) resolveLinkedIssue(ctx context.Context, repo string, pr *tracker.PullRequest, result *Result) outcome {
	var candidates []int
	seen := make(map[int]bool)
	add := func(n int) {
		if n != 0 && n != pr.Number && !seen[n] {
			seen[n] = true
			candidates = append(candidates, n)
		}
	}

	for _, m := range closingPattern.FindAllStringSubmatch(pr.Body, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			add(n)
		}
	}

	if refs, err := p.tracker.CrossReferencedIssues(ctx, repo, pr.Number); err != nil {
		log.Printf("WARNING: cross-reference lookup failed for %s#%d: %v", repo, pr.Number, err)
	} else {
		for _, n := range refs {
			add(n)
		}
	}

	if found, err := p.tracker.SearchClosingIssues(ctx, repo, pr.Number); err != nil {
		log.Printf("WARNING: closing-issue search failed for %s#%d: %v", repo, pr.Number, err)
	} else {
		for _, n := range found {
			add(n)
		}
	}

	for _, number := range candidates {
		issue, err := p.tracker.GetIssue(ctx, repo, number)
		if err != nil {
			log.Printf("WARNING: could not fetch candidate issue %s#%d: %v", repo, number, err)
			continue
		}
		for _, label := range issue.Labels {
			if amount, ok := p.amounts.AmountFor(label); ok {
				result.LinkedIssue = &LinkedIssue{
					Number: number,
					Label:  label,
					Amount: amount,
				}
				return pass
			}
		}
	}

	result.Errors = append(result.Errors,
		"No linked issue with a bounty label was found. Make sure the pull request closes the bounty issue (e.g. \"fixes #42\").")
	return fail
}

// Stage 4: the claimant must have been assigned to the linked issue,
// currently or historically, unless policy skips the check.
func (p *Pipeline) checkAssignment(ctx context.Context, repo string, claimant string, result *Result) outcome {
	if !p.policy.RequireAssignment {
		return pass
	}

	assigned, err := p.tracker.WasAssigned(ctx, repo, result.LinkedIssue.Number, claimant)
	if err != nil {
		log.Printf("WARNING: assignment lookup failed for %s#%d: %v", repo, result.LinkedIssue.Number, err)
		result.Errors = append(result.Errors,
			"Could not verify issue assignment. Please try again later.")
		return fail
	}
	if !assigned {
		result.Errors = append(result.Errors,
			fmt.Sprintf("You were never assigned to issue #%d. Comment `/assign` on the issue before claiming.", result.LinkedIssue.Number))
		return fail
	}
	return pass
}

// Stage 5: scan the linked issue's comments for a prior release marker. A
// confirmed prior claim fails the pipeline; a failed *lookup* is tolerated
// (logged, not failed) — the ledger itself rejects a double release because
// the escrow account is gone after the first one.
func (p *Pipeline) checkAlreadyClaimed(ctx context.Context, repo string, result *Result) outcome {
	comments, err := p.tracker.ListComments(ctx, repo, result.LinkedIssue.Number)
	if err != nil {
		log.Printf("WARNING: already-claimed lookup failed for %s#%d, proceeding: %v",
			repo, result.LinkedIssue.Number, err)
		return pass
	}

	for _, c := range comments {
		if strings.Contains(c.Body, ReleasedMarker) {
			result.Errors = append(result.Errors,
				fmt.Sprintf("The bounty on issue #%d was already claimed.", result.LinkedIssue.Number))
			return fail
		}
	}
	return pass
}
