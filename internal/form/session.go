package form

import (
	"context"
	"fmt"
	"time"

	"splat-notifyer/internal/api"
	"splat-notifyer/internal/domain"
	"splat-notifyer/internal/timewindow"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Remote is the subset of the remote API the form talks to.
type Remote interface {
	CheckConfig(ctx context.Context, webhookURL string) (*api.CheckResponse, error)
	LoadConfig(ctx context.Context, webhookURL string) (*domain.Config, error)
	SubmitConfig(ctx context.Context, cfg domain.Config) (*api.SubmitResponse, error)
}

type Options struct {
	SlotFormat timewindow.ValueFormat
	Location   *time.Location
	PadHour    bool
	// Now overrides the clock used to capture the viewer's UTC offset.
	Now func() time.Time
}

// Session is one user's form. It is not safe for concurrent use; callers
// serialize events per session.
type Session struct {
	state  *State
	refs   *domain.ReferenceData
	remote Remote
	opts   Options
	logger zerolog.Logger

	busy string
}

// NewSession wraps state, which may have been restored from a store. A nil
// state starts an empty session.
func NewSession(state *State, refs *domain.ReferenceData, remote Remote, opts Options, logger zerolog.Logger) *Session {
	if state == nil {
		state = &State{}
	}
	for _, sec := range state.Sections {
		repairSection(sec)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{state: state, refs: refs, remote: remote, opts: opts, logger: logger}
}

func (s *Session) State() *State {
	return s.state
}

func (s *Session) References() *domain.ReferenceData {
	return s.refs
}

// Busy returns the label of the in-flight request, if any.
func (s *Session) Busy() string {
	return s.busy
}

// RuleCount is also the highest rule number in use.
func (s *Session) RuleCount() int {
	return len(s.state.Sections)
}

// RuleIndex returns the 1-based position of the section with id.
func (s *Session) RuleIndex(id string) (int, error) {
	for i, sec := range s.state.Sections {
		if sec.ID == id {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

func (s *Session) section(id string) (*Section, error) {
	i, err := s.RuleIndex(id)
	if err != nil {
		return nil, err
	}
	return s.state.Sections[i-1], nil
}

// SectionAt returns the section shown as rule number index.
func (s *Session) SectionAt(index int) (*Section, error) {
	if index < 1 || index > len(s.state.Sections) {
		return nil, fmt.Errorf("%w: #%d", ErrRuleNotFound, index)
	}
	return s.state.Sections[index-1], nil
}

// SetWebhookURL records an edit of the URL field. Any change away from the
// last checked URL drops the validated mark until the next check.
func (s *Session) SetWebhookURL(url string) {
	if url == s.state.WebhookURL {
		return
	}
	s.state.WebhookURL = url
	if s.state.Validated {
		s.logger.Debug().Str("webhook_url", url).Msg("webhook URL edited, validation cleared")
	}
	s.state.Validated = false
}

// AddRule appends a section, optionally pre-populated from initial, and
// returns its rule number.
func (s *Session) AddRule(initial *domain.Rule) (int, error) {
	id, err := gonanoid.New()
	if err != nil {
		return 0, fmt.Errorf("failed to generate rule id: %w", err)
	}
	sec := newSection(id)
	s.state.Sections = append(s.state.Sections, sec)
	index := len(s.state.Sections)

	if initial != nil {
		s.populate(sec, index, initial)
	}

	s.logger.Debug().Str("rule_id", id).Int("rule", index).Msg("rule added")
	return index, nil
}

func (s *Session) populate(sec *Section, index int, r *domain.Rule) {
	sec.Message = r.NotificationMessage
	if r.MatchType != "" {
		if mt, err := domain.ParseMatchType(string(r.MatchType)); err == nil {
			sec.MatchType = mt
		} else {
			s.logger.Warn().Int("rule", index).Str("match_type", string(r.MatchType)).Msg("dropping unknown match type")
		}
	}

	for _, slot := range r.TimeSlots {
		v, err := timewindow.Normalize(slot, s.opts.SlotFormat)
		if err != nil {
			s.logger.Warn().Err(err).Int("rule", index).Msg("dropping unknown time slot")
			continue
		}
		sec.TimeSlots[v] = true
	}

	for _, modeID := range s.sortedModes(r.BattleModes) {
		if !r.BattleModes[modeID] {
			continue
		}
		// Same path as a click so the panel is created exactly as it would be.
		if err := s.ToggleMode(sec.ID, modeID); err != nil {
			s.logger.Warn().Err(err).Int("rule", index).Str("mode", modeID).Msg("dropping battle mode")
			continue
		}
		ms, ok := r.Maps[modeID]
		if !ok {
			continue
		}
		panel := sec.Panels[modeID]
		for _, mapID := range ms.SelectedMaps {
			if !s.refs.HasMap(mapID) {
				s.logger.Warn().Int("rule", index).Str("map", mapID).Msg("dropping unknown map")
				continue
			}
			panel.SelectedMaps[mapID] = true
		}
		if nt, err := domain.ParseNotifyType(string(ms.NotifyType)); err == nil {
			panel.NotifyType = nt
		}
	}
}

// sortedModes orders mode ids as the reference data lists them.
func (s *Session) sortedModes(modes map[string]bool) []string {
	out := make([]string, 0, len(modes))
	for _, id := range s.refs.ModeOrder {
		if _, ok := modes[id]; ok {
			out = append(out, id)
		}
	}
	for id := range modes {
		if !s.refs.HasMode(id) {
			out = append(out, id)
		}
	}
	return out
}

// DeleteRule removes the section. Later rules move up one number.
func (s *Session) DeleteRule(id string) error {
	i, err := s.RuleIndex(id)
	if err != nil {
		return err
	}
	s.state.Sections = append(s.state.Sections[:i-1], s.state.Sections[i:]...)
	s.logger.Debug().Str("rule_id", id).Int("rule", i).Int("remaining", len(s.state.Sections)).Msg("rule deleted")
	return nil
}

func (s *Session) SetMessage(id, message string) error {
	sec, err := s.section(id)
	if err != nil {
		return err
	}
	sec.Message = message
	return nil
}

// SetMatchType selects the rule's match type. An empty value clears it.
func (s *Session) SetMatchType(id, matchType string) error {
	sec, err := s.section(id)
	if err != nil {
		return err
	}
	if matchType == "" {
		sec.MatchType = ""
		return nil
	}
	mt, err := domain.ParseMatchType(matchType)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	sec.MatchType = mt
	return nil
}

func (s *Session) ToggleTimeSlot(id, value string) error {
	sec, err := s.section(id)
	if err != nil {
		return err
	}
	v, err := timewindow.Normalize(value, s.opts.SlotFormat)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if sec.TimeSlots[v] {
		delete(sec.TimeSlots, v)
	} else {
		sec.TimeSlots[v] = true
	}
	return nil
}

// SetTimeSlots replaces the rule's selected windows.
func (s *Session) SetTimeSlots(id string, values []string) error {
	sec, err := s.section(id)
	if err != nil {
		return err
	}
	slots := make(map[string]bool, len(values))
	for _, value := range values {
		v, err := timewindow.Normalize(value, s.opts.SlotFormat)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		slots[v] = true
	}
	sec.TimeSlots = slots
	return nil
}

// ToggleMode flips the mode's selection. The first selection builds the
// mode's map panel; later toggles only show or hide it.
func (s *Session) ToggleMode(id, modeID string) error {
	sec, err := s.section(id)
	if err != nil {
		return err
	}
	if !s.refs.HasMode(modeID) {
		return fmt.Errorf("%w: %s", ErrUnknownMode, modeID)
	}

	if sec.Modes[modeID] {
		delete(sec.Modes, modeID)
		return nil
	}
	sec.Modes[modeID] = true
	if _, ok := sec.Panels[modeID]; !ok {
		sec.Panels[modeID] = newPanel()
	}
	return nil
}

func (s *Session) panel(id, modeID string) (*Panel, error) {
	sec, err := s.section(id)
	if err != nil {
		return nil, err
	}
	if !s.refs.HasMode(modeID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, modeID)
	}
	p, ok := sec.Panels[modeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no map panel in rule %s", ErrUnknownMode, modeID, id)
	}
	return p, nil
}

func (s *Session) ToggleMap(id, modeID, mapID string) error {
	p, err := s.panel(id, modeID)
	if err != nil {
		return err
	}
	if !s.refs.HasMap(mapID) {
		return fmt.Errorf("%w: %s", ErrUnknownMap, mapID)
	}
	if p.SelectedMaps[mapID] {
		delete(p.SelectedMaps, mapID)
	} else {
		p.SelectedMaps[mapID] = true
	}
	return nil
}

func (s *Session) SetNotifyType(id, modeID, notifyType string) error {
	p, err := s.panel(id, modeID)
	if err != nil {
		return err
	}
	nt, err := domain.ParseNotifyType(notifyType)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	p.NotifyType = nt
	return nil
}

// LoadConfig replaces every rule with the ones in cfg. A config without rules
// leaves a single empty rule.
func (s *Session) LoadConfig(cfg domain.Config) error {
	if cfg.WebhookURL != "" {
		s.SetWebhookURL(cfg.WebhookURL)
	}
	return s.loadRules(cfg.Rules)
}

func (s *Session) loadRules(rules []domain.Rule) error {
	s.state.Sections = nil
	if len(rules) == 0 {
		_, err := s.AddRule(nil)
		return err
	}
	for i := range rules {
		if _, err := s.AddRule(&rules[i]); err != nil {
			return err
		}
	}
	s.logger.Info().Int("rules", len(rules)).Msg("form rebuilt from config")
	return nil
}

func repairSection(sec *Section) {
	if sec.TimeSlots == nil {
		sec.TimeSlots = make(map[string]bool)
	}
	if sec.Modes == nil {
		sec.Modes = make(map[string]bool)
	}
	if sec.Panels == nil {
		sec.Panels = make(map[string]*Panel)
	}
	for id, p := range sec.Panels {
		if p == nil {
			sec.Panels[id] = newPanel()
			continue
		}
		if p.SelectedMaps == nil {
			p.SelectedMaps = make(map[string]bool)
		}
		if p.NotifyType == "" {
			p.NotifyType = domain.NotifyAtLeastOne
		}
	}
}
