package form

import (
	"fmt"

	"splat-notifyer/internal/domain"
	"splat-notifyer/internal/timewindow"
)

type Option struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Selected bool   `json:"selected"`
}

type ModeView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Icon     string `json:"icon,omitempty"`
	Selected bool   `json:"selected"`
}

type MapView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Selected bool   `json:"selected"`
}

type PanelView struct {
	ModeID      string    `json:"modeId"`
	ModeName    string    `json:"modeName"`
	ElementID   string    `json:"elementId"`
	MapField    string    `json:"mapField"`
	NotifyField string    `json:"notifyField"`
	Hidden      bool      `json:"hidden"`
	Maps        []MapView `json:"maps"`
	NotifyTypes []Option  `json:"notifyTypes"`
}

type SectionView struct {
	ID             string      `json:"id"`
	Index          int         `json:"index"`
	Title          string      `json:"title"`
	ElementID      string      `json:"elementId"`
	MessageField   string      `json:"messageField"`
	Message        string      `json:"message"`
	MatchTypeField string      `json:"matchTypeField"`
	MatchTypes     []Option    `json:"matchTypes"`
	TimeSlotField  string      `json:"timeSlotField"`
	TimeSlots      []Option    `json:"timeSlots"`
	ModeField      string      `json:"modeField"`
	Modes          []ModeView  `json:"modes"`
	Panels         []PanelView `json:"panels"`
}

type View struct {
	WebhookURL  string        `json:"webhookUrl"`
	Validated   bool          `json:"validated"`
	FormVisible bool          `json:"formVisible"`
	Feedback    Feedback      `json:"feedback"`
	CheckLabel  string        `json:"checkLabel"`
	SubmitLabel string        `json:"submitLabel"`
	Response    *Response     `json:"response,omitempty"`
	Sections    []SectionView `json:"sections"`
}

var notifyLabels = map[domain.NotifyType]string{
	domain.NotifyAtLeastOne:      "Notify me when rotation includes at least one selected map",
	domain.NotifyTwoSameRotation: "Notify me when 2 selected maps are in the same rotation",
}

// View projects the state for rendering. It has no side effects, so calling
// it repeatedly on the same state yields the same output. Field names carry
// the rule number and are recomputed on every call.
func (s *Session) View() View {
	v := View{
		WebhookURL:  s.state.WebhookURL,
		Validated:   s.state.Validated,
		FormVisible: s.state.FormVisible,
		Feedback:    s.state.Feedback,
		CheckLabel:  s.CheckLabel(),
		SubmitLabel: s.SubmitLabel(),
		Response:    s.state.Response,
		Sections:    make([]SectionView, 0, len(s.state.Sections)),
	}

	windowOpts := timewindow.Options{
		Now:      s.opts.Now(),
		Location: s.opts.Location,
		Format:   s.opts.SlotFormat,
		PadHour:  s.opts.PadHour,
	}
	for i, sec := range s.state.Sections {
		v.Sections = append(v.Sections, s.sectionView(i+1, sec, windowOpts))
	}
	return v
}

func (s *Session) sectionView(n int, sec *Section, windowOpts timewindow.Options) SectionView {
	sv := SectionView{
		ID:             sec.ID,
		Index:          n,
		Title:          fmt.Sprintf("Notification Rule #%d", n),
		ElementID:      fmt.Sprintf("rule-%d", n),
		MessageField:   fmt.Sprintf("notificationMessage-%d", n),
		Message:        sec.Message,
		MatchTypeField: fmt.Sprintf("matchType-%d", n),
		TimeSlotField:  fmt.Sprintf("timeSlot-%d", n),
		ModeField:      fmt.Sprintf("battleMode-%d", n),
	}

	for _, mt := range domain.MatchTypes {
		sv.MatchTypes = append(sv.MatchTypes, Option{Value: string(mt), Label: string(mt), Selected: sec.MatchType == mt})
	}

	for _, w := range timewindow.Generate(sec.TimeSlots, windowOpts) {
		sv.TimeSlots = append(sv.TimeSlots, Option{Value: w.Value, Label: w.Label, Selected: w.Selected})
	}

	for _, modeID := range s.refs.ModeOrder {
		m := s.refs.Modes[modeID]
		sv.Modes = append(sv.Modes, ModeView{ID: m.ID, Name: m.Name, Icon: m.Icon, Selected: sec.Modes[modeID]})

		p, ok := sec.Panels[modeID]
		if !ok {
			continue
		}
		pv := PanelView{
			ModeID:      modeID,
			ModeName:    m.Name,
			ElementID:   fmt.Sprintf("map-selector-%s-%d", modeID, n),
			MapField:    fmt.Sprintf("map-%s-%d", modeID, n),
			NotifyField: fmt.Sprintf("map-notify-type-%s-%d", modeID, n),
			Hidden:      !sec.Modes[modeID],
		}
		for _, mapID := range s.refs.MapOrder {
			pv.Maps = append(pv.Maps, MapView{ID: mapID, Name: s.refs.Maps[mapID].Name, Selected: p.SelectedMaps[mapID]})
		}
		for _, nt := range domain.NotifyTypes {
			pv.NotifyTypes = append(pv.NotifyTypes, Option{Value: string(nt), Label: notifyLabels[nt], Selected: p.NotifyType == nt})
		}
		sv.Panels = append(sv.Panels, pv)
	}
	return sv
}
