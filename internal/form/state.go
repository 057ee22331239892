// Package form holds the rule-form controller: a headless, serializable model
// of the notification form plus the operations a user can perform on it.
package form

import (
	"errors"

	"splat-notifyer/internal/domain"
)

var (
	ErrBusy         = errors.New("a request is already in flight")
	ErrRuleNotFound = errors.New("rule not found")
	ErrUnknownMode  = errors.New("unknown battle mode")
	ErrUnknownMap   = errors.New("unknown map")
	ErrEmptyWebhook = errors.New("webhook URL cannot be empty")
	ErrWebhookCheck = errors.New("webhook check failed")
	ErrInvalidInput = errors.New("invalid input")
)

// Panel is the map selector of one mode inside one rule. It is created on the
// mode's first selection and kept, with its contents, when the mode is
// deselected.
type Panel struct {
	SelectedMaps map[string]bool   `json:"selectedMaps"`
	NotifyType   domain.NotifyType `json:"notifyType"`
}

// Section is one rendered notification rule. ID is stable for the section's
// lifetime; the visible rule number is its position.
type Section struct {
	ID        string            `json:"id"`
	Message   string            `json:"message"`
	MatchType domain.MatchType  `json:"matchType,omitempty"`
	TimeSlots map[string]bool   `json:"timeSlots"`
	Modes     map[string]bool   `json:"modes"`
	Panels    map[string]*Panel `json:"panels"`
}

// PanelVisible reports whether the mode's map panel exists and is shown.
func (s *Section) PanelVisible(modeID string) bool {
	_, ok := s.Panels[modeID]
	return ok && s.Modes[modeID]
}

type FeedbackKind string

const (
	FeedbackNone    FeedbackKind = ""
	FeedbackInfo    FeedbackKind = "info"
	FeedbackSuccess FeedbackKind = "success"
	FeedbackError   FeedbackKind = "error"
)

type Feedback struct {
	Kind FeedbackKind `json:"kind,omitempty"`
	Text string       `json:"text,omitempty"`
}

// Response is the panel under the form that reports validation failures and
// submission outcomes.
type Response struct {
	Kind    FeedbackKind `json:"kind"`
	Title   string       `json:"title"`
	Lines   []string     `json:"lines,omitempty"`
	Payload string       `json:"payload,omitempty"`
}

// State is everything a form session remembers between events. It is plain
// data so a session store can persist it.
type State struct {
	WebhookURL   string     `json:"webhookUrl"`
	ValidatedURL string     `json:"validatedUrl,omitempty"`
	Validated    bool       `json:"validated"`
	FormVisible  bool       `json:"formVisible"`
	Feedback     Feedback   `json:"feedback"`
	Response     *Response  `json:"response,omitempty"`
	Sections     []*Section `json:"sections"`
}

func newPanel() *Panel {
	return &Panel{
		SelectedMaps: make(map[string]bool),
		NotifyType:   domain.NotifyAtLeastOne,
	}
}

func newSection(id string) *Section {
	return &Section{
		ID:        id,
		TimeSlots: make(map[string]bool),
		Modes:     make(map[string]bool),
		Panels:    make(map[string]*Panel),
	}
}
