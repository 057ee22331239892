package domain

import "fmt"

type MatchType string

const (
	MatchTypeOpen    MatchType = "Open"
	MatchTypeSeries  MatchType = "Series"
	MatchTypeXBattle MatchType = "X-Battle"
)

var MatchTypes = []MatchType{MatchTypeOpen, MatchTypeSeries, MatchTypeXBattle}

func ParseMatchType(s string) (MatchType, error) {
	for _, mt := range MatchTypes {
		if string(mt) == s {
			return mt, nil
		}
	}
	return "", fmt.Errorf("unknown match type %q", s)
}

type NotifyType string

const (
	NotifyAtLeastOne      NotifyType = "at-least-one"
	NotifyTwoSameRotation NotifyType = "two-same-rotation"
)

var NotifyTypes = []NotifyType{NotifyAtLeastOne, NotifyTwoSameRotation}

func ParseNotifyType(s string) (NotifyType, error) {
	for _, nt := range NotifyTypes {
		if string(nt) == s {
			return nt, nil
		}
	}
	return "", fmt.Errorf("unknown notify type %q", s)
}

// Config is the whole-form document exchanged with the remote API. Its JSON
// shape must stay identical between config-check and submit-config.
type Config struct {
	WebhookURL string `json:"webhookUrl"`
	Rules      []Rule `json:"rules"`
}

type Rule struct {
	NotificationMessage string            `json:"notificationMessage"`
	MatchType           MatchType         `json:"matchType"`
	TimeSlots           []string          `json:"timeSlots"`
	BattleModes         map[string]bool   `json:"battleModes"`
	Maps                map[string]MapSet `json:"maps"`
}

type MapSet struct {
	SelectedMaps []string   `json:"selectedMaps"`
	NotifyType   NotifyType `json:"notifyType"`
}

type Mode struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Icon string `json:"icon,omitempty" yaml:"icon"`
}

type Map struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// ReferenceData drives generation of mode buttons and map items. Order holds
// the display order of modes and maps since Go maps are unordered.
type ReferenceData struct {
	Modes     map[string]Mode `json:"modes"`
	Maps      map[string]Map  `json:"maps"`
	ModeOrder []string        `json:"-"`
	MapOrder  []string        `json:"-"`
}

func (r *ReferenceData) HasMode(id string) bool {
	_, ok := r.Modes[id]
	return ok
}

func (r *ReferenceData) HasMap(id string) bool {
	_, ok := r.Maps[id]
	return ok
}
