// Package timewindow computes the twelve recurring 2-hour UTC notification
// windows and projects them into the viewer's local time for display.
package timewindow

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"splat-notifyer/internal/constants"
)

type ValueFormat int

const (
	// RangeFormat encodes a window as "06:00-08:00 UTC".
	RangeFormat ValueFormat = iota
	// CompactFormat encodes a window as "06:00Z".
	CompactFormat
)

func ParseValueFormat(s string) (ValueFormat, error) {
	switch s {
	case "", "range":
		return RangeFormat, nil
	case "compact":
		return CompactFormat, nil
	}
	return RangeFormat, fmt.Errorf("unknown slot format %q", s)
}

type Options struct {
	// Now and Location determine the viewer's UTC offset. The offset is read
	// once, so a DST change between windows is not reflected.
	Now      time.Time
	Location *time.Location
	Format   ValueFormat
	PadHour  bool
}

type Window struct {
	UTCStartHour int
	LocalStart   time.Time
	LocalEnd     time.Time
	Value        string
	Label        string
	Selected     bool
}

var (
	rangeRe   = regexp.MustCompile(`^(\d{2}):00-(\d{2}):00 UTC$`)
	compactRe = regexp.MustCompile(`^(\d{2}):00Z$`)
)

// Value returns the canonical, timezone independent encoding of the window
// starting at utcHour.
func Value(utcHour int, format ValueFormat) string {
	if format == CompactFormat {
		return fmt.Sprintf("%02d:00Z", utcHour)
	}
	end := (utcHour + constants.SlotWidthHours) % 24
	return fmt.Sprintf("%02d:00-%02d:00 UTC", utcHour, end)
}

// Values lists every canonical value in UTC order.
func Values(format ValueFormat) []string {
	out := make([]string, 0, constants.SlotCount)
	for h := 0; h < 24; h += constants.SlotWidthHours {
		out = append(out, Value(h, format))
	}
	return out
}

// ParseValue accepts either encoding and returns the UTC start hour.
func ParseValue(v string) (int, error) {
	var hour string
	if m := rangeRe.FindStringSubmatch(v); m != nil {
		hour = m[1]
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])
		if end != (start+constants.SlotWidthHours)%24 {
			return 0, fmt.Errorf("time slot %q is not a %dh window", v, constants.SlotWidthHours)
		}
	} else if m := compactRe.FindStringSubmatch(v); m != nil {
		hour = m[1]
	} else {
		return 0, fmt.Errorf("invalid time slot %q", v)
	}

	h, err := strconv.Atoi(hour)
	if err != nil || h < 0 || h > 22 || h%constants.SlotWidthHours != 0 {
		return 0, fmt.Errorf("invalid time slot hour in %q", v)
	}
	return h, nil
}

// Normalize rewrites a value in either encoding into the requested format.
func Normalize(v string, format ValueFormat) (string, error) {
	h, err := ParseValue(v)
	if err != nil {
		return "", err
	}
	return Value(h, format), nil
}

// Generate returns the twelve windows in display order: local 11PM first,
// local 10PM last, everything else ascending by local start hour.
func Generate(selected map[string]bool, opts Options) []Window {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	_, offset := now.In(loc).Zone()
	zone := time.FixedZone(zoneAbbr(now, loc), offset)

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	windows := make([]Window, 0, constants.SlotCount)
	for h := 0; h < 24; h += constants.SlotWidthHours {
		start := day.Add(time.Duration(h) * time.Hour).In(zone)
		end := start.Add(constants.SlotWidthHours * time.Hour)
		w := Window{
			UTCStartHour: h,
			LocalStart:   start,
			LocalEnd:     end,
			Value:        Value(h, opts.Format),
		}
		w.Label = fmt.Sprintf("%s - %s %s", Format12Hour(start, opts.PadHour), Format12Hour(end, opts.PadHour), zone.String())
		w.Selected = isSelected(selected, h)
		windows = append(windows, w)
	}

	sort.SliceStable(windows, func(i, j int) bool {
		ri, rj := rank(windows[i].LocalStart.Hour()), rank(windows[j].LocalStart.Hour())
		if ri != rj {
			return ri < rj
		}
		return windows[i].LocalStart.Hour() < windows[j].LocalStart.Hour()
	})
	return windows
}

// selection is matched on the UTC hour so values stored in either encoding
// pre-select the same window.
func isSelected(selected map[string]bool, utcHour int) bool {
	for v, ok := range selected {
		if !ok {
			continue
		}
		if h, err := ParseValue(v); err == nil && h == utcHour {
			return true
		}
	}
	return false
}

func rank(localHour int) int {
	switch localHour {
	case 23:
		return 0
	case 22:
		return 2
	}
	return 1
}

// Format12Hour renders t as "h:mm AM". Hour 0 shows as 12.
func Format12Hour(t time.Time, padHour bool) string {
	h := t.Hour()
	ampm := "AM"
	if h >= 12 {
		ampm = "PM"
	}
	h %= 12
	if h == 0 {
		h = 12
	}
	if padHour {
		return fmt.Sprintf("%02d:%02d %s", h, t.Minute(), ampm)
	}
	return fmt.Sprintf("%d:%02d %s", h, t.Minute(), ampm)
}

func zoneAbbr(now time.Time, loc *time.Location) string {
	name, offset := now.In(loc).Zone()
	if name != "" && (name[0] < '0' || name[0] > '9') && name[0] != '+' && name[0] != '-' {
		return name
	}
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	if offset%3600 == 0 {
		return fmt.Sprintf("GMT%s%d", sign, offset/3600)
	}
	return fmt.Sprintf("GMT%s%d:%02d", sign, offset/3600, (offset%3600)/60)
}
