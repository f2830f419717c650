// Package notification fans bounty lifecycle events out to configured
// channels (log, Slack, Discord, generic webhook). Dispatch is fire and
// forget: no retry, no persistence, and one provider's failure never
// affects another provider or the claim outcome.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// EventType identifies the lifecycle transition being announced.
type EventType string

const (
	EventCreated  EventType = "bounty_created"
	EventAssigned EventType = "bounty_assigned"
	EventClaimed  EventType = "bounty_claimed"
)

// Event is the notification payload for a lifecycle transition.
type Event struct {
	Type        EventType `json:"type"`
	Repo        string    `json:"repo"`
	IssueNumber int       `json:"issue_number"`
	PRNumber    int       `json:"pr_number,omitempty"`
	Contributor string    `json:"contributor,omitempty"`
	Amount      uint64    `json:"amount,omitempty"` // lamports
	TxRef       string    `json:"tx_ref,omitempty"`
}

// DispatchResult records the outcome of one channel's dispatch.
type DispatchResult struct {
	Channel string `json:"channel"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SlackAPI abstracts the subset of slack.Client methods the dispatcher
// uses, so tests can substitute a mock without a live Slack connection.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Config holds the channel list and per-provider credentials. Channel
// syntax: "log", "slack:<channel-id>", "discord", "webhook".
type Config struct {
	Channels   []string
	SlackToken string
	DiscordURL string
	WebhookURL string
}

// Dispatcher sends lifecycle notifications.
type Dispatcher struct {
	cfg        Config
	slackAPI   SlackAPI
	httpClient *http.Client
}

// NewDispatcher creates a dispatcher. The Slack client is only constructed
// when a slack channel is configured.
func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, ch := range cfg.Channels {
		if strings.HasPrefix(ch, "slack:") && cfg.SlackToken != "" {
			d.slackAPI = slack.New(cfg.SlackToken)
			break
		}
	}
	return d
}

// Dispatch sends the event to every configured channel in order. Providers
// are isolated: a failure is recorded and logged, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) []DispatchResult {
	var results []DispatchResult
	for _, channel := range d.cfg.Channels {
		result := d.dispatchToChannel(ctx, ev, channel)
		if !result.Success {
			log.Printf("WARNING: notification to %s failed: %s", result.Channel, result.Error)
		}
		results = append(results, result)
	}
	return results
}

func (d *Dispatcher) dispatchToChannel(ctx context.Context, ev *Event, channel string) DispatchResult {
	result := DispatchResult{Channel: channel}

	switch {
	case channel == "log":
		log.Printf("notification: %s", Message(ev))
		result.Success = true

	case strings.HasPrefix(channel, "slack:"):
		channelID := strings.TrimPrefix(channel, "slack:")
		if d.slackAPI == nil {
			result.Error = "no slack token configured"
		} else if _, _, err := d.slackAPI.PostMessageContext(ctx, channelID,
			slack.MsgOptionText(Message(ev), false)); err != nil {
			result.Error = err.Error()
		} else {
			result.Success = true
		}

	case channel == "discord":
		if d.cfg.DiscordURL == "" {
			result.Error = "no discord webhook URL configured"
		} else if err := d.postJSON(ctx, d.cfg.DiscordURL, map[string]string{
			"content": Message(ev),
		}, ""); err != nil {
			result.Error = err.Error()
		} else {
			result.Success = true
		}

	case channel == "webhook":
		if d.cfg.WebhookURL == "" {
			result.Error = "no webhook URL configured"
		} else if err := d.postJSON(ctx, d.cfg.WebhookURL, ev, string(ev.Type)); err != nil {
			result.Error = err.Error()
		} else {
			result.Success = true
		}

	default:
		result.Error = fmt.Sprintf("unknown channel type: %s", channel)
	}

	return result
}

// postJSON POSTs a JSON body to url.
func (d *Dispatcher) postJSON(ctx context.Context, url string, payload any, eventHeader string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if eventHeader != "" {
		req.Header.Set("X-Bountyd-Event", eventHeader)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Message renders the human-readable announcement for an event.
func Message(ev *Event) string {
	switch ev.Type {
	case EventCreated:
		return fmt.Sprintf("💰 Bounty created: %s funded on %s#%d (tx %s)",
			FormatSOL(ev.Amount), ev.Repo, ev.IssueNumber, ev.TxRef)
	case EventAssigned:
		return fmt.Sprintf("🙋 @%s was assigned to %s#%d",
			ev.Contributor, ev.Repo, ev.IssueNumber)
	case EventClaimed:
		return fmt.Sprintf("🎉 Bounty claimed: %s released to @%s for %s#%d via PR #%d (tx %s)",
			FormatSOL(ev.Amount), ev.Contributor, ev.Repo, ev.IssueNumber, ev.PRNumber, ev.TxRef)
	default:
		return fmt.Sprintf("bounty event %s on %s#%d", ev.Type, ev.Repo, ev.IssueNumber)
	}
}

// FormatSOL renders a lamport amount as SOL.
func FormatSOL(lamports uint64) string {
	return fmt.Sprintf("%g SOL", float64(lamports)/1_000_000_000)
}
