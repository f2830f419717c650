// Package bounty orchestrates the bounty lifecycle: label events fund
// escrows, /assign comments hand out issues, /claim comments on merged PRs
// release funds after validation.
//
// The manager is the single boundary that converts internal failures into
// user-facing comments; no error from an external system propagates past
// HandleEvent.
package bounty

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/solbounty/bountyd/internal/claim"
	"github.com/solbounty/bountyd/internal/config"
	"github.com/solbounty/bountyd/internal/escrow"
	"github.com/solbounty/bountyd/internal/event"
	"github.com/solbounty/bountyd/internal/notification"
	"github.com/solbounty/bountyd/internal/tracker"
)

// EscrowGateway is the slice of the escrow gateway the manager uses.
type EscrowGateway interface {
	Exists(ctx context.Context, repoHash [32]byte, issueNumber uint64) (bool, error)
	Create(ctx context.Context, repoHash [32]byte, issueNumber uint64, amount uint64) (solana.Signature, error)
	Release(ctx context.Context, repoHash [32]byte, issueNumber uint64, recipient solana.PublicKey) (solana.Signature, error)
}

// Validator runs the claim validation pipeline.
type Validator interface {
	Validate(ctx context.Context, repo string, prNumber int, claimant string) claim.Result
}

// Notifier fans lifecycle events out to configured channels.
type Notifier interface {
	Dispatch(ctx context.Context, ev *notification.Event) []notification.DispatchResult
}

// Manager routes verified webhook events through the bounty lifecycle.
type Manager struct {
	cfg      *config.Config
	tracker  tracker.Tracker
	gateway  EscrowGateway
	pipeline Validator
	notifier Notifier

	// Per-issue locks serialize check-then-act against the ledger. The
	// on-chain program logs, but does not reject, a duplicate create, so
	// the race cannot be delegated to it. One process only; a multi-
	// replica deployment needs a durable lock instead.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewManager creates a manager.
func NewManager(cfg *config.Config, t tracker.Tracker, gateway EscrowGateway, pipeline Validator, notifier Notifier) *Manager {
	return &Manager{
		cfg:      cfg,
		tracker:  t,
		gateway:  gateway,
		pipeline: pipeline,
		notifier: notifier,
		locks:    make(map[string]*sync.Mutex),
	}
}

// issueLock returns the mutex serializing ledger operations for one issue.
func (m *Manager) issueLock(repo string, issueNumber int) *sync.Mutex {
	key := fmt.Sprintf("%s#%d", repo, issueNumber)
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	mu, ok := m.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[key] = mu
	}
	return mu
}

// HandleEvent dispatches a verified event. Always returns nil for handled
// event kinds; failures are reported to the user via comments and logged.
func (m *Manager) HandleEvent(ctx context.Context, ev event.Event) error {
	switch e := ev.(type) {
	case event.LabelAttached:
		m.handleLabelAttached(ctx, e)
		return nil
	case event.CommentCreated:
		m.handleComment(ctx, e)
		return nil
	case event.Ignored:
		return nil
	default:
		return fmt.Errorf("unhandled event type %T", ev)
	}
}

// handleLabelAttached funds an escrow when a configured bounty label is
// attached by an authorized sender.
func (m *Manager) handleLabelAttached(ctx context.Context, ev event.LabelAttached) {
	amount, ok := m.cfg.Bounties.AmountFor(ev.Label)
	if !ok {
		// Not every label is a bounty label.
		return
	}

	if m.cfg.GitHub.RequireMaintainer {
		perm, err := m.tracker.PermissionLevel(ctx, ev.Repo, ev.Sender)
		if err != nil {
			log.Printf("WARNING: permission check for %s on %s failed: %v", ev.Sender, ev.Repo, err)
			m.postComment(ctx, ev.Repo, ev.IssueNumber,
				"⚠️ Could not verify permissions for bounty creation. Please re-add the label to retry.")
			return
		}
		if !tracker.IsMaintainer(perm) {
			log.Printf("bounty creation on %s#%d denied: %s has %s permission", ev.Repo, ev.IssueNumber, ev.Sender, perm)
			m.postComment(ctx, ev.Repo, ev.IssueNumber,
				fmt.Sprintf("⚠️ Only repository maintainers can create bounties. @%s does not have write access.", ev.Sender))
			return
		}
	}

	mu := m.issueLock(ev.Repo, ev.IssueNumber)
	mu.Lock()
	defer mu.Unlock()

	repoHash := escrow.HashRepo(ev.Repo)
	sig, err := m.gateway.Create(ctx, repoHash, uint64(ev.IssueNumber), amount)
	if err != nil {
		if errors.Is(err, escrow.ErrEscrowExists) {
			m.postComment(ctx, ev.Repo, ev.IssueNumber,
				"ℹ️ An escrow for this issue is already funded.")
			return
		}
		log.Printf("WARNING: escrow creation for %s#%d failed: %v", ev.Repo, ev.IssueNumber, err)
		m.postComment(ctx, ev.Repo, ev.IssueNumber,
			"⚠️ Escrow funding failed. Re-add the label to retry.")
		return
	}

	log.Printf("escrow created for %s#%d: %s, tx %s", ev.Repo, ev.IssueNumber, notification.FormatSOL(amount), sig)
	m.postComment(ctx, ev.Repo, ev.IssueNumber, fmt.Sprintf(
		"💰 A bounty of **%s** has been funded for this issue!\n\n"+
			"To work on it:\n"+
			"1. Comment `/assign` to get assigned.\n"+
			"2. Open a pull request that closes this issue (e.g. `fixes #%d`).\n"+
			"3. After the PR is merged, comment `/claim <your-solana-address>` on the PR.\n\n"+
			"Escrow transaction: `%s`",
		notification.FormatSOL(amount), ev.IssueNumber, sig))

	m.notifier.Dispatch(ctx, &notification.Event{
		Type:        notification.EventCreated,
		Repo:        ev.Repo,
		IssueNumber: ev.IssueNumber,
		Amount:      amount,
		TxRef:       sig.String(),
	})
}

// handleComment routes /assign and /claim commands; anything else is
// ignored.
func (m *Manager) handleComment(ctx context.Context, ev event.CommentCreated) {
	body := strings.TrimSpace(ev.Body)
	switch {
	case body == "/assign":
		m.handleAssign(ctx, ev)
	case strings.HasPrefix(body, "/claim"):
		m.handleClaim(ctx, ev, body)
	}
}

// handleAssign assigns the commenter to an issue.
func (m *Manager) handleAssign(ctx context.Context, ev event.CommentCreated) {
	if ev.IsPullRequest {
		m.postComment(ctx, ev.Repo, ev.IssueNumber,
			"ℹ️ `/assign` only works on issues. Comment it on the bounty issue itself.")
		return
	}

	if err := m.tracker.Assign(ctx, ev.Repo, ev.IssueNumber, ev.Author); err != nil {
		log.Printf("WARNING: assignment of %s to %s#%d failed: %v", ev.Author, ev.Repo, ev.IssueNumber, err)
		m.postComment(ctx, ev.Repo, ev.IssueNumber,
			"⚠️ Assignment failed. Please try again later.")
		return
	}

	m.postComment(ctx, ev.Repo, ev.IssueNumber,
		fmt.Sprintf("✅ @%s you are assigned. Open a pull request that closes this issue to earn the bounty.", ev.Author))

	m.notifier.Dispatch(ctx, &notification.Event{
		Type:        notification.EventAssigned,
		Repo:        ev.Repo,
		IssueNumber: ev.IssueNumber,
		Contributor: ev.Author,
	})
}

// handleClaim validates and pays out a claim. The address parse gate runs
// before anything else: a malformed command costs zero external calls.
func (m *Manager) handleClaim(ctx context.Context, ev event.CommentCreated, body string) {
	if !ev.IsPullRequest {
		m.postComment(ctx, ev.Repo, ev.IssueNumber,
			"ℹ️ `/claim` only works on pull requests. Comment it on your merged PR.")
		return
	}

	fields := strings.Fields(body)
	if len(fields) < 2 {
		m.postComment(ctx, ev.Repo, ev.IssueNumber,
			"ℹ️ Usage: `/claim <your-solana-address>`")
		return
	}
	recipient, err := solana.PublicKeyFromBase58(fields[1])
	if err != nil {
		m.postComment(ctx, ev.Repo, ev.IssueNumber,
			fmt.Sprintf("⚠️ `%s` is not a valid Solana address. Usage: `/claim <your-solana-address>`", fields[1]))
		return
	}

	result := m.pipeline.Validate(ctx, ev.Repo, ev.IssueNumber, ev.Author)
	if !result.Valid {
		for _, msg := range result.Errors {
			m.postComment(ctx, ev.Repo, ev.IssueNumber, "❌ "+msg)
		}
		return
	}

	linked := result.LinkedIssue
	mu := m.issueLock(ev.Repo, linked.Number)
	mu.Lock()
	defer mu.Unlock()

	repoHash := escrow.HashRepo(ev.Repo)
	sig, err := m.gateway.Release(ctx, repoHash, uint64(linked.Number), recipient)
	if err != nil {
		if errors.Is(err, escrow.ErrEscrowNotFound) {
			m.postComment(ctx, ev.Repo, ev.IssueNumber,
				fmt.Sprintf("⚠️ No funded escrow exists for issue #%d. It may have already been released.", linked.Number))
			return
		}
		log.Printf("WARNING: escrow release for %s#%d failed: %v", ev.Repo, linked.Number, err)
		m.postComment(ctx, ev.Repo, ev.IssueNumber,
			"⚠️ Payout failed. Your claim is still valid; please try again later.")
		return
	}

	log.Printf("escrow released for %s#%d to %s, tx %s", ev.Repo, linked.Number, recipient, sig)

	m.postComment(ctx, ev.Repo, ev.IssueNumber, fmt.Sprintf(
		"%s: **%s** sent to `%s`!\n\nTransaction: `%s`",
		claim.ReleasedMarker, notification.FormatSOL(linked.Amount), recipient, sig))
	m.postComment(ctx, ev.Repo, linked.Number, fmt.Sprintf(
		"%s: **%s** paid to @%s for PR #%d.\n\nTransaction: `%s`",
		claim.ReleasedMarker, notification.FormatSOL(linked.Amount), ev.Author, ev.IssueNumber, sig))

	m.notifier.Dispatch(ctx, &notification.Event{
		Type:        notification.EventClaimed,
		Repo:        ev.Repo,
		IssueNumber: linked.Number,
		PRNumber:    ev.IssueNumber,
		Contributor: ev.Author,
		Amount:      linked.Amount,
		TxRef:       sig.String(),
	})
}

// postComment posts a comment, logging (not propagating) failures.
func (m *Manager) postComment(ctx context.Context, repo string, number int, body string) {
	if err := m.tracker.PostComment(ctx, repo, number, body); err != nil {
		log.Printf("WARNING: failed to comment on %s#%d: %v", repo, number, err)
	}
}
