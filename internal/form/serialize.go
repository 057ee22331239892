package form

import (
	"sort"

	"splat-notifyer/internal/domain"
	"splat-notifyer/internal/timewindow"
)

// Serialize reads the form the way it is currently shown. Selected modes whose
// map panel is hidden or missing contribute no maps entry.
func (s *Session) Serialize() domain.Config {
	cfg := domain.Config{
		WebhookURL: s.state.WebhookURL,
		Rules:      make([]domain.Rule, 0, len(s.state.Sections)),
	}
	for _, sec := range s.state.Sections {
		cfg.Rules = append(cfg.Rules, s.serializeSection(sec))
	}
	return cfg
}

func (s *Session) serializeSection(sec *Section) domain.Rule {
	r := domain.Rule{
		NotificationMessage: sec.Message,
		MatchType:           sec.MatchType,
		TimeSlots:           sortedSlots(sec.TimeSlots),
		BattleModes:         make(map[string]bool),
		Maps:                make(map[string]domain.MapSet),
	}
	for modeID, on := range sec.Modes {
		if !on {
			continue
		}
		r.BattleModes[modeID] = true
		if !sec.PanelVisible(modeID) {
			continue
		}
		p := sec.Panels[modeID]
		r.Maps[modeID] = domain.MapSet{
			SelectedMaps: s.sortedMaps(p.SelectedMaps),
			NotifyType:   p.NotifyType,
		}
	}
	return r
}

// sortedSlots returns selected windows in UTC order.
func sortedSlots(slots map[string]bool) []string {
	out := make([]string, 0, len(slots))
	for v, on := range slots {
		if on {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		hi, _ := timewindow.ParseValue(out[i])
		hj, _ := timewindow.ParseValue(out[j])
		return hi < hj
	})
	return out
}

// sortedMaps returns selected maps in reference order.
func (s *Session) sortedMaps(maps map[string]bool) []string {
	out := make([]string, 0, len(maps))
	for _, id := range s.refs.MapOrder {
		if maps[id] {
			out = append(out, id)
		}
	}
	return out
}
