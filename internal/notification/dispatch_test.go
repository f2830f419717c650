package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func claimedEvent() *Event {
	return &Event{
		Type:        EventClaimed,
		Repo:        "org/repo",
		IssueNumber: 42,
		PRNumber:    50,
		Contributor: "carol",
		Amount:      2_000_000_000,
		TxRef:       "5KtP3...sig",
	}
}

func TestDispatchLogChannel(t *testing.T) {
	d := NewDispatcher(Config{Channels: []string{"log"}})
	results := d.Dispatch(context.Background(), claimedEvent())

	if len(results) != 1 || !results[0].Success {
		t.Errorf("results = %+v, want one success", results)
	}
}

func TestDispatchWebhookChannel(t *testing.T) {
	var received Event
	var header string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Bountyd-Event")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher(Config{Channels: []string{"webhook"}, WebhookURL: server.URL})
	results := d.Dispatch(context.Background(), claimedEvent())

	if !results[0].Success {
		t.Fatalf("webhook dispatch failed: %s", results[0].Error)
	}
	if header != string(EventClaimed) {
		t.Errorf("event header = %q, want %q", header, EventClaimed)
	}
	if received.Repo != "org/repo" || received.Amount != 2_000_000_000 {
		t.Errorf("received payload %+v", received)
	}
}

func TestDispatchDiscordChannel(t *testing.T) {
	var content map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &content)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := NewDispatcher(Config{Channels: []string{"discord"}, DiscordURL: server.URL})
	results := d.Dispatch(context.Background(), claimedEvent())

	if !results[0].Success {
		t.Fatalf("discord dispatch failed: %s", results[0].Error)
	}
	if !strings.Contains(content["content"], "2 SOL") {
		t.Errorf("discord content = %q, want the amount mentioned", content["content"])
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer failing.Close()

	d := NewDispatcher(Config{
		Channels:   []string{"webhook", "log"},
		WebhookURL: failing.URL,
	})
	results := d.Dispatch(context.Background(), claimedEvent())

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Success {
		t.Error("failing webhook reported success")
	}
	if !results[1].Success {
		t.Error("log channel failed because a prior channel failed")
	}
}

func TestDispatchUnknownChannel(t *testing.T) {
	d := NewDispatcher(Config{Channels: []string{"carrier-pigeon"}})
	results := d.Dispatch(context.Background(), claimedEvent())

	if results[0].Success {
		t.Error("unknown channel reported success")
	}
	if !strings.Contains(results[0].Error, "unknown channel") {
		t.Errorf("error = %q", results[0].Error)
	}
}

func TestDispatchSlackWithoutToken(t *testing.T) {
	d := NewDispatcher(Config{Channels: []string{"slack:C12345"}})
	results := d.Dispatch(context.Background(), claimedEvent())

	if results[0].Success {
		t.Error("slack dispatch succeeded without a token")
	}
}

func TestMessageFormats(t *testing.T) {
	created := &Event{Type: EventCreated, Repo: "org/repo", IssueNumber: 42, Amount: 2_000_000_000, TxRef: "sig"}
	if msg := Message(created); !strings.Contains(msg, "2 SOL") || !strings.Contains(msg, "org/repo#42") {
		t.Errorf("created message = %q", msg)
	}

	claimed := claimedEvent()
	if msg := Message(claimed); !strings.Contains(msg, "@carol") || !strings.Contains(msg, "PR #50") {
		t.Errorf("claimed message = %q", msg)
	}
}

func TestFormatSOL(t *testing.T) {
	cases := []struct {
		lamports uint64
		want     string
	}{
		{2_000_000_000, "2 SOL"},
		{1_500_000_000, "1.5 SOL"},
		{1, "1e-09 SOL"},
	}
	for _, tc := range cases {
		if got := FormatSOL(tc.lamports); got != tc.want {
			t.Errorf("FormatSOL(%d) = %q, want %q", tc.lamports, got, tc.want)
		}
	}
}
