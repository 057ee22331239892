package form

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"splat-notifyer/internal/constants"
	"splat-notifyer/internal/domain"
)

const (
	MsgWebhookEmpty        = "Webhook URL cannot be empty."
	MsgWebhookChanged      = "Webhook URL has changed and needs to be re-validated."
	MsgWebhookNotValidated = `Webhook URL is not validated. Please click "Check".`
	MsgNoRules             = "There must be at least one notification rule."
	MsgMessageEmpty        = "Notification Message cannot be empty."
	MsgMatchTypeMissing    = "A match type must be selected."
	MsgNoTimeSlots         = "At least one time slot must be selected."
	MsgNoBattleModes       = "At least one battle mode must be selected."
)

var MsgMessageTooLong = fmt.Sprintf("Notification Message cannot exceed %d characters.", constants.MaxMessageLength)

// Result is the outcome of validating a form. Rules is keyed by rule number
// and only holds rules that have errors.
type Result struct {
	Valid   bool             `json:"valid"`
	General []string         `json:"general,omitempty"`
	Rules   map[int][]string `json:"rules,omitempty"`
}

// RuleNumbers returns the numbers of rules with errors, ascending.
func (r Result) RuleNumbers() []int {
	out := make([]int, 0, len(r.Rules))
	for n := range r.Rules {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Lines flattens the result into display lines, rule headings included.
func (r Result) Lines() []string {
	lines := append([]string(nil), r.General...)
	for _, n := range r.RuleNumbers() {
		lines = append(lines, fmt.Sprintf("Errors in Notification Rule #%d:", n))
		for _, msg := range r.Rules[n] {
			lines = append(lines, "  - "+msg)
		}
	}
	return lines
}

func (r Result) Render() string {
	return strings.Join(r.Lines(), "\n")
}

// Validate checks the webhook and every rule as currently shown.
func (s *Session) Validate() Result {
	res := Result{Rules: make(map[int][]string)}

	switch {
	case s.state.WebhookURL == "":
		res.General = append(res.General, MsgWebhookEmpty)
	case !s.state.Validated && s.state.ValidatedURL != "" && s.state.WebhookURL != s.state.ValidatedURL:
		res.General = append(res.General, MsgWebhookChanged)
	case !s.state.Validated:
		res.General = append(res.General, MsgWebhookNotValidated)
	}

	if len(s.state.Sections) == 0 {
		res.General = append(res.General, MsgNoRules)
	}

	for i, sec := range s.state.Sections {
		if errs := s.validateSection(sec); len(errs) > 0 {
			res.Rules[i+1] = errs
		}
	}

	res.Valid = len(res.General) == 0 && len(res.Rules) == 0
	return res
}

func (s *Session) validateSection(sec *Section) []string {
	var errs []string

	msg := strings.TrimSpace(sec.Message)
	if msg == "" {
		errs = append(errs, MsgMessageEmpty)
	} else if utf8.RuneCountInString(sec.Message) > constants.MaxMessageLength {
		errs = append(errs, MsgMessageTooLong)
	}

	if sec.MatchType == "" {
		errs = append(errs, MsgMatchTypeMissing)
	}

	if len(sortedSlots(sec.TimeSlots)) == 0 {
		errs = append(errs, MsgNoTimeSlots)
	}

	modes := s.selectedModes(sec)
	if len(modes) == 0 {
		errs = append(errs, MsgNoBattleModes)
	}

	for _, modeID := range modes {
		if !sec.PanelVisible(modeID) {
			continue
		}
		name := s.modeName(modeID)
		p := sec.Panels[modeID]
		count := 0
		for _, on := range p.SelectedMaps {
			if on {
				count++
			}
		}
		if count == 0 {
			errs = append(errs, fmt.Sprintf("For battle mode %q, at least one map must be selected.", name))
		} else if p.NotifyType == domain.NotifyTwoSameRotation && count < 2 {
			errs = append(errs, fmt.Sprintf("For battle mode %q, \"Notify me when 2 selected maps are in the same rotation\" requires at least 2 selected maps.", name))
		}
	}
	return errs
}

// selectedModes lists selected modes in reference order.
func (s *Session) selectedModes(sec *Section) []string {
	var out []string
	for _, id := range s.sortedModes(sec.Modes) {
		if sec.Modes[id] {
			out = append(out, id)
		}
	}
	return out
}

func (s *Session) modeName(modeID string) string {
	if m, ok := s.refs.Modes[modeID]; ok && m.Name != "" {
		return m.Name
	}
	return modeID
}
