// Package event parses GitHub webhook payloads into a small tagged union.
// Optional-field ambiguity stops at this boundary: each variant carries only
// the fields its handler needs, and a payload missing a required correlated
// field is rejected here rather than deep inside the lifecycle logic.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed indicates a recognized action whose payload is missing
// required fields. The webhook server maps it to a client error.
var ErrMalformed = errors.New("malformed event payload")

// Event is one of Ignored, LabelAttached, or CommentCreated.
type Event interface {
	isEvent()
}

// Ignored is returned for actions bountyd does not handle.
type Ignored struct {
	Action string
}

// LabelAttached is an "action: labeled" delivery on an issue.
type LabelAttached struct {
	Repo        string // "owner/name"
	IssueNumber int
	Label       string
	Sender      string // login of the user who attached the label
}

// CommentCreated is an "action: created" delivery for an issue or PR comment.
type CommentCreated struct {
	Repo          string
	IssueNumber   int // PR number when IsPullRequest is true
	Body          string
	Author        string
	IsPullRequest bool
}

func (Ignored) isEvent()        {}
func (LabelAttached) isEvent()  {}
func (CommentCreated) isEvent() {}

// payload mirrors the subset of the GitHub webhook schema bountyd reads.
// Everything is optional at the JSON layer; Parse decides what is required
// per action.
type payload struct {
	Action string `json:"action"`
	Issue  *struct {
		Number      int              `json:"number"`
		PullRequest *json.RawMessage `json:"pull_request"`
	} `json:"issue"`
	Label *struct {
		Name string `json:"name"`
	} `json:"label"`
	Comment *struct {
		Body string `json:"body"`
		User *struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"comment"`
	Sender *struct {
		Login string `json:"login"`
	} `json:"sender"`
	Repository *struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Parse decodes a raw webhook body. Unrecognized actions return Ignored with
// a nil error; recognized actions with missing fields return ErrMalformed.
func Parse(raw []byte) (Event, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformed, err)
	}

	switch p.Action {
	case "labeled":
		if p.Repository == nil || p.Repository.FullName == "" {
			return nil, fmt.Errorf("%w: labeled event missing repository", ErrMalformed)
		}
		if p.Issue == nil || p.Issue.Number == 0 {
			return nil, fmt.Errorf("%w: labeled event missing issue number", ErrMalformed)
		}
		if p.Label == nil || p.Label.Name == "" {
			return nil, fmt.Errorf("%w: labeled event missing label name", ErrMalformed)
		}
		if p.Sender == nil || p.Sender.Login == "" {
			return nil, fmt.Errorf("%w: labeled event missing sender", ErrMalformed)
		}
		return LabelAttached{
			Repo:        p.Repository.FullName,
			IssueNumber: p.Issue.Number,
			Label:       p.Label.Name,
			Sender:      p.Sender.Login,
		}, nil

	case "created":
		if p.Repository == nil || p.Repository.FullName == "" {
			return nil, fmt.Errorf("%w: comment event missing repository", ErrMalformed)
		}
		if p.Issue == nil || p.Issue.Number == 0 {
			return nil, fmt.Errorf("%w: comment event missing issue number", ErrMalformed)
		}
		if p.Comment == nil || p.Comment.User == nil || p.Comment.User.Login == "" {
			return nil, fmt.Errorf("%w: comment event missing author", ErrMalformed)
		}
		return CommentCreated{
			Repo:          p.Repository.FullName,
			IssueNumber:   p.Issue.Number,
			Body:          p.Comment.Body,
			Author:        p.Comment.User.Login,
			IsPullRequest: p.Issue.PullRequest != nil,
		}, nil

	default:
		return Ignored{Action: p.Action}, nil
	}
}
