package bounty

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/solbounty/bountyd/internal/claim"
	"github.com/solbounty/bountyd/internal/config"
	"github.com/solbounty/bountyd/internal/escrow"
	"github.com/solbounty/bountyd/internal/event"
	"github.com/solbounty/bountyd/internal/notification"
	"github.com/solbounty/bountyd/internal/tracker"
)

// fakeTracker records comments and counts remote lookups.
type fakeTracker struct {
	permission    string
	permissionErr error
	assignErr     error

	comments    map[int][]string // number → comment bodies
	assignees   map[int][]string
	lookupCalls int // calls that would hit the tracker API beyond posting
}

func newTestTracker() *fakeTracker {
	return &fakeTracker{
		permission: "admin",
		comments:   make(map[int][]string),
		assignees:  make(map[int][]string),
	}
}

func (f *fakeTracker) GetPullRequest(ctx context.Context, repo string, number int) (*tracker.PullRequest, error) {
	f.lookupCalls++
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeTracker) GetIssue(ctx context.Context, repo string, number int) (*tracker.Issue, error) {
	f.lookupCalls++
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeTracker) ListComments(ctx context.Context, repo string, number int) ([]tracker.Comment, error) {
	f.lookupCalls++
	return nil, nil
}

func (f *fakeTracker) PostComment(ctx context.Context, repo string, number int, body string) error {
	f.comments[number] = append(f.comments[number], body)
	return nil
}

func (f *fakeTracker) Assign(ctx context.Context, repo string, number int, user string) error {
	if f.assignErr != nil {
		return f.assignErr
	}
	f.assignees[number] = append(f.assignees[number], user)
	return nil
}

func (f *fakeTracker) WasAssigned(ctx context.Context, repo string, number int, user string) (bool, error) {
	f.lookupCalls++
	return false, nil
}

func (f *fakeTracker) PermissionLevel(ctx context.Context, repo string, user string) (string, error) {
	f.lookupCalls++
	if f.permissionErr != nil {
		return "", f.permissionErr
	}
	return f.permission, nil
}

func (f *fakeTracker) CrossReferencedIssues(ctx context.Context, repo string, prNumber int) ([]int, error) {
	f.lookupCalls++
	return nil, nil
}

func (f *fakeTracker) SearchClosingIssues(ctx context.Context, repo string, prNumber int) ([]int, error) {
	f.lookupCalls++
	return nil, nil
}

// fakeGateway records create/release calls.
type fakeGateway struct {
	createErr  error
	releaseErr error

	creates    []uint64 // issue numbers
	releases   []uint64
	amounts    []uint64
	recipients []solana.PublicKey
}

func (f *fakeGateway) Exists(ctx context.Context, repoHash [32]byte, issueNumber uint64) (bool, error) {
	return false, nil
}

func (f *fakeGateway) Create(ctx context.Context, repoHash [32]byte, issueNumber uint64, amount uint64) (solana.Signature, error) {
	if f.createErr != nil {
		return solana.Signature{}, f.createErr
	}
	f.creates = append(f.creates, issueNumber)
	f.amounts = append(f.amounts, amount)
	return solana.Signature{7}, nil
}

func (f *fakeGateway) Release(ctx context.Context, repoHash [32]byte, issueNumber uint64, recipient solana.PublicKey) (solana.Signature, error) {
	if f.releaseErr != nil {
		return solana.Signature{}, f.releaseErr
	}
	f.releases = append(f.releases, issueNumber)
	f.recipients = append(f.recipients, recipient)
	return solana.Signature{9}, nil
}

// fakeValidator returns a canned pipeline result.
type fakeValidator struct {
	result claim.Result
	calls  int
}

func (f *fakeValidator) Validate(ctx context.Context, repo string, prNumber int, claimant string) claim.Result {
	f.calls++
	return f.result
}

// fakeNotifier records dispatched events.
type fakeNotifier struct {
	events []*notification.Event
}

func (f *fakeNotifier) Dispatch(ctx context.Context, ev *notification.Event) []notification.DispatchResult {
	f.events = append(f.events, ev)
	return []notification.DispatchResult{{Channel: "log", Success: true}}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.GitHub.WebhookSecret = "secret"
	cfg.Solana.ProgramID = "BPFLoaderUpgradeab1e11111111111111111111111"
	return cfg
}

type fixture struct {
	manager  *Manager
	tracker  *fakeTracker
	gateway  *fakeGateway
	pipeline *fakeValidator
	notifier *fakeNotifier
}

func newFixture(cfg *config.Config) *fixture {
	f := &fixture{
		tracker:  newTestTracker(),
		gateway:  &fakeGateway{},
		pipeline: &fakeValidator{},
		notifier: &fakeNotifier{},
	}
	f.manager = NewManager(cfg, f.tracker, f.gateway, f.pipeline, f.notifier)
	return f
}

func labelEvent(label string) event.LabelAttached {
	return event.LabelAttached{
		Repo:        "org/repo",
		IssueNumber: 42,
		Label:       label,
		Sender:      "maintainer",
	}
}

func TestLabelAttachedCreatesEscrow(t *testing.T) {
	f := newFixture(testConfig())

	if err := f.manager.HandleEvent(context.Background(), labelEvent("bounty-2-sol")); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	if len(f.gateway.creates) != 1 || f.gateway.creates[0] != 42 {
		t.Fatalf("creates = %v, want [42]", f.gateway.creates)
	}
	if f.gateway.amounts[0] != 2_000_000_000 {
		t.Errorf("amount = %d, want 2000000000", f.gateway.amounts[0])
	}
	if len(f.tracker.comments[42]) != 1 || !strings.Contains(f.tracker.comments[42][0], "/claim") {
		t.Errorf("expected one instructional comment, got %v", f.tracker.comments[42])
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0].Type != notification.EventCreated {
		t.Errorf("expected one Created notification, got %+v", f.notifier.events)
	}
}

func TestLabelAttachedIgnoresUnknownLabel(t *testing.T) {
	f := newFixture(testConfig())

	_ = f.manager.HandleEvent(context.Background(), labelEvent("enhancement"))

	if len(f.gateway.creates) != 0 {
		t.Error("escrow created for a non-bounty label")
	}
	if len(f.tracker.comments[42]) != 0 {
		t.Errorf("comments posted for a non-bounty label: %v", f.tracker.comments[42])
	}
	if f.tracker.lookupCalls != 0 {
		t.Errorf("%d tracker lookups for a non-bounty label, want 0", f.tracker.lookupCalls)
	}
}

func TestLabelAttachedRejectsNonMaintainer(t *testing.T) {
	f := newFixture(testConfig())
	f.tracker.permission = "read"

	_ = f.manager.HandleEvent(context.Background(), labelEvent("bounty-2-sol"))

	if len(f.gateway.creates) != 0 {
		t.Error("escrow created despite insufficient permission")
	}
	if len(f.tracker.comments[42]) != 1 || !strings.Contains(f.tracker.comments[42][0], "maintainers") {
		t.Errorf("expected a rejection comment, got %v", f.tracker.comments[42])
	}
	if len(f.notifier.events) != 0 {
		t.Error("notification dispatched for a denied creation")
	}
}

func TestLabelAttachedSkipsPermissionCheckWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.GitHub.RequireMaintainer = false
	f := newFixture(cfg)
	f.tracker.permission = "read"

	_ = f.manager.HandleEvent(context.Background(), labelEvent("bounty-2-sol"))

	if len(f.gateway.creates) != 1 {
		t.Error("escrow not created with the maintainer policy disabled")
	}
}

func TestLabelAttachedReportsExistingEscrow(t *testing.T) {
	f := newFixture(testConfig())
	f.gateway.createErr = escrow.ErrEscrowExists

	_ = f.manager.HandleEvent(context.Background(), labelEvent("bounty-2-sol"))

	if len(f.tracker.comments[42]) != 1 || !strings.Contains(f.tracker.comments[42][0], "already funded") {
		t.Errorf("expected an already-funded comment, got %v", f.tracker.comments[42])
	}
	if len(f.notifier.events) != 0 {
		t.Error("notification dispatched for a duplicate creation")
	}
}

func commentEvent(body string, onPR bool) event.CommentCreated {
	return event.CommentCreated{
		Repo:          "org/repo",
		IssueNumber:   50,
		Body:          body,
		Author:        "carol",
		IsPullRequest: onPR,
	}
}

func TestAssignOnIssue(t *testing.T) {
	f := newFixture(testConfig())

	ev := commentEvent("/assign", false)
	ev.IssueNumber = 42
	_ = f.manager.HandleEvent(context.Background(), ev)

	if len(f.tracker.assignees[42]) != 1 || f.tracker.assignees[42][0] != "carol" {
		t.Errorf("assignees = %v, want [carol]", f.tracker.assignees[42])
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0].Type != notification.EventAssigned {
		t.Errorf("expected one Assigned notification, got %+v", f.notifier.events)
	}
}

func TestAssignOnPullRequestRejected(t *testing.T) {
	f := newFixture(testConfig())

	_ = f.manager.HandleEvent(context.Background(), commentEvent("/assign", true))

	if len(f.tracker.assignees[50]) != 0 {
		t.Error("assignment performed on a pull request")
	}
	if len(f.tracker.comments[50]) != 1 || !strings.Contains(f.tracker.comments[50][0], "issues") {
		t.Errorf("expected a guidance comment, got %v", f.tracker.comments[50])
	}
}

func TestClaimWithoutAddressMakesNoExternalCalls(t *testing.T) {
	f := newFixture(testConfig())

	_ = f.manager.HandleEvent(context.Background(), commentEvent("/claim", true))

	if f.pipeline.calls != 0 {
		t.Error("pipeline ran for a claim without an address")
	}
	if f.tracker.lookupCalls != 0 {
		t.Errorf("%d tracker lookups for a malformed claim, want 0", f.tracker.lookupCalls)
	}
	if len(f.gateway.releases) != 0 {
		t.Error("release attempted for a malformed claim")
	}
	if len(f.tracker.comments[50]) != 1 || !strings.Contains(f.tracker.comments[50][0], "Usage") {
		t.Errorf("expected a usage comment, got %v", f.tracker.comments[50])
	}
}

func TestClaimWithInvalidAddressRejected(t *testing.T) {
	f := newFixture(testConfig())

	_ = f.manager.HandleEvent(context.Background(), commentEvent("/claim not-a-real-address!", true))

	if f.pipeline.calls != 0 {
		t.Error("pipeline ran for an invalid address")
	}
	if len(f.tracker.comments[50]) != 1 || !strings.Contains(f.tracker.comments[50][0], "not a valid Solana address") {
		t.Errorf("expected an invalid-address comment, got %v", f.tracker.comments[50])
	}
}

func TestClaimOnIssueRejected(t *testing.T) {
	f := newFixture(testConfig())

	ev := commentEvent("/claim 11111111111111111111111111111111", false)
	ev.IssueNumber = 42
	_ = f.manager.HandleEvent(context.Background(), ev)

	if f.pipeline.calls != 0 {
		t.Error("pipeline ran for a claim on a plain issue")
	}
	if len(f.tracker.comments[42]) != 1 || !strings.Contains(f.tracker.comments[42][0], "pull requests") {
		t.Errorf("expected a guidance comment, got %v", f.tracker.comments[42])
	}
}

func TestClaimValidationFailurePostsEachError(t *testing.T) {
	f := newFixture(testConfig())
	f.pipeline.result = claim.Result{
		Errors: []string{"first reason", "second reason"},
	}

	recipient, _ := solana.NewRandomPrivateKey()
	_ = f.manager.HandleEvent(context.Background(),
		commentEvent("/claim "+recipient.PublicKey().String(), true))

	if len(f.gateway.releases) != 0 {
		t.Error("release attempted despite failed validation")
	}
	if len(f.tracker.comments[50]) != 2 {
		t.Fatalf("comments = %v, want one per validation error", f.tracker.comments[50])
	}
	if !strings.Contains(f.tracker.comments[50][0], "first reason") ||
		!strings.Contains(f.tracker.comments[50][1], "second reason") {
		t.Errorf("error comments out of order or missing: %v", f.tracker.comments[50])
	}
}

func TestClaimSuccess(t *testing.T) {
	f := newFixture(testConfig())
	f.pipeline.result = claim.Result{
		Valid: true,
		LinkedIssue: &claim.LinkedIssue{
			Number: 42,
			Label:  "bounty-2-sol",
			Amount: 2_000_000_000,
		},
	}

	recipientKey, _ := solana.NewRandomPrivateKey()
	recipient := recipientKey.PublicKey()
	_ = f.manager.HandleEvent(context.Background(),
		commentEvent("/claim "+recipient.String(), true))

	if len(f.gateway.releases) != 1 || f.gateway.releases[0] != 42 {
		t.Fatalf("releases = %v, want [42]", f.gateway.releases)
	}
	if !f.gateway.recipients[0].Equals(recipient) {
		t.Errorf("recipient = %s, want %s", f.gateway.recipients[0], recipient)
	}

	// Success comments on both the PR and the linked issue, both carrying
	// the released marker.
	if len(f.tracker.comments[50]) != 1 || !strings.Contains(f.tracker.comments[50][0], claim.ReleasedMarker) {
		t.Errorf("PR comments = %v, want one with the released marker", f.tracker.comments[50])
	}
	if len(f.tracker.comments[42]) != 1 || !strings.Contains(f.tracker.comments[42][0], claim.ReleasedMarker) {
		t.Errorf("issue comments = %v, want one with the released marker", f.tracker.comments[42])
	}

	if len(f.notifier.events) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notifier.events))
	}
	n := f.notifier.events[0]
	if n.Type != notification.EventClaimed || n.IssueNumber != 42 || n.PRNumber != 50 ||
		n.Contributor != "carol" || n.Amount != 2_000_000_000 {
		t.Errorf("unexpected Claimed notification: %+v", n)
	}
}

func TestClaimReleaseNotFoundReported(t *testing.T) {
	f := newFixture(testConfig())
	f.pipeline.result = claim.Result{
		Valid:       true,
		LinkedIssue: &claim.LinkedIssue{Number: 42, Label: "bounty-2-sol", Amount: 1},
	}
	f.gateway.releaseErr = escrow.ErrEscrowNotFound

	recipient, _ := solana.NewRandomPrivateKey()
	_ = f.manager.HandleEvent(context.Background(),
		commentEvent("/claim "+recipient.PublicKey().String(), true))

	if len(f.tracker.comments[50]) != 1 || !strings.Contains(f.tracker.comments[50][0], "No funded escrow") {
		t.Errorf("expected a not-found comment, got %v", f.tracker.comments[50])
	}
	if len(f.notifier.events) != 0 {
		t.Error("notification dispatched for a failed release")
	}
}

func TestNonCommandCommentIgnored(t *testing.T) {
	f := newFixture(testConfig())

	_ = f.manager.HandleEvent(context.Background(), commentEvent("nice work!", true))

	if f.tracker.lookupCalls != 0 || len(f.tracker.comments[50]) != 0 {
		t.Error("ordinary comment triggered tracker activity")
	}
}
