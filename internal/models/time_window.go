package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Day enumerates the teaching days of the week.
type Day int

const (
	Monday Day = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
)

// Grid boundaries, expressed in minutes since midnight.
const (
	DayStartMinute  = 8 * 60
	DayEndMinute    = 17 * 60
	SlotGranularity = 30
	BucketsPerDay   = (DayEndMinute - DayStartMinute) / SlotGranularity
)

// WeekDays lists the scheduling days in calendar order.
var WeekDays = []Day{Monday, Tuesday, Wednesday, Thursday, Friday}

var dayNames = map[Day]string{
	Monday:    "MONDAY",
	Tuesday:   "TUESDAY",
	Wednesday: "WEDNESDAY",
	Thursday:  "THURSDAY",
	Friday:    "FRIDAY",
}

var dayIndex = map[string]Day{
	"MONDAY":    Monday,
	"MON":       Monday,
	"TUESDAY":   Tuesday,
	"TUE":       Tuesday,
	"WEDNESDAY": Wednesday,
	"WED":       Wednesday,
	"THURSDAY":  Thursday,
	"THU":       Thursday,
	"FRIDAY":    Friday,
	"FRI":       Friday,
}

// String returns the upper-case day name.
func (d Day) String() string {
	if name, ok := dayNames[d]; ok {
		return name
	}
	return fmt.Sprintf("DAY(%d)", int(d))
}

// Valid reports whether the day falls in Monday..Friday.
func (d Day) Valid() bool {
	return d >= Monday && d <= Friday
}

// MarshalText encodes the day by name; the zero day encodes as an empty string.
func (d Day) MarshalText() ([]byte, error) {
	if d == 0 {
		return []byte{}, nil
	}
	if !d.Valid() {
		return nil, fmt.Errorf("invalid day %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText accepts a day name or its number.
func (d *Day) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	if n, err := strconv.Atoi(string(text)); err == nil {
		*d = Day(n)
		return nil
	}
	day, err := ParseDay(string(text))
	if err != nil {
		return err
	}
	*d = day
	return nil
}

// ParseDay resolves a day name (full or three-letter) into a Day.
func ParseDay(raw string) (Day, error) {
	day, ok := dayIndex[strings.ToUpper(strings.TrimSpace(raw))]
	if !ok {
		return 0, fmt.Errorf("unknown day %q", raw)
	}
	return day, nil
}

// TimeWindow is a half-open [Start, End) interval on one day, in minutes since midnight.
type TimeWindow struct {
	Day   Day `json:"day" mapstructure:"day"`
	Start int `json:"start" mapstructure:"start"`
	End   int `json:"end" mapstructure:"end"`
}

// NewTimeWindow builds a window from "HH:MM" clock strings.
func NewTimeWindow(day Day, start, end string) (TimeWindow, error) {
	s, err := ParseClock(start)
	if err != nil {
		return TimeWindow{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return TimeWindow{}, err
	}
	w := TimeWindow{Day: day, Start: s, End: e}
	if err := w.Validate(); err != nil {
		return TimeWindow{}, err
	}
	return w, nil
}

// MustWindow is NewTimeWindow for static tables and tests.
func MustWindow(day Day, start, end string) TimeWindow {
	w, err := NewTimeWindow(day, start, end)
	if err != nil {
		panic(err)
	}
	return w
}

// Validate enforces start < end, the 08:00-17:00 frame and 30-minute alignment.
func (w TimeWindow) Validate() error {
	if !w.Day.Valid() {
		return fmt.Errorf("day %d outside MONDAY..FRIDAY", int(w.Day))
	}
	if w.Start >= w.End {
		return fmt.Errorf("window start %s must be before end %s", FormatClock(w.Start), FormatClock(w.End))
	}
	if w.Start < DayStartMinute || w.End > DayEndMinute {
		return fmt.Errorf("window %s falls outside 08:00-17:00", w)
	}
	if (w.Start-DayStartMinute)%SlotGranularity != 0 || (w.End-DayStartMinute)%SlotGranularity != 0 {
		return fmt.Errorf("window %s is not aligned to %d-minute boundaries", w, SlotGranularity)
	}
	return nil
}

// Overlaps reports whether two windows share at least one minute on the same day.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Day == o.Day && w.Start < o.End && o.Start < w.End
}

// Contains reports whether o lies entirely inside w.
func (w TimeWindow) Contains(o TimeWindow) bool {
	return w.Day == o.Day && w.Start <= o.Start && o.End <= w.End
}

// Minutes is the window length.
func (w TimeWindow) Minutes() int {
	return w.End - w.Start
}

// Shift returns the window moved to another day/start keeping its length.
func (w TimeWindow) Shift(day Day, start int) TimeWindow {
	return TimeWindow{Day: day, Start: start, End: start + w.Minutes()}
}

// Buckets returns the 30-minute bucket indexes covered by the window.
func (w TimeWindow) Buckets() []int {
	if w.End <= w.Start {
		return nil
	}
	first := (w.Start - DayStartMinute) / SlotGranularity
	last := (w.End - DayStartMinute + SlotGranularity - 1) / SlotGranularity
	buckets := make([]int, 0, last-first)
	for b := first; b < last; b++ {
		buckets = append(buckets, b)
	}
	return buckets
}

// GapTo returns the minutes between two non-overlapping windows on the same day,
// or -1 when they overlap or fall on different days.
func (w TimeWindow) GapTo(o TimeWindow) int {
	if w.Day != o.Day || w.Overlaps(o) {
		return -1
	}
	if w.End <= o.Start {
		return o.Start - w.End
	}
	return w.Start - o.End
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("%s %s-%s", w.Day, FormatClock(w.Start), FormatClock(w.End))
}

// Less orders windows by day then start then end.
func (w TimeWindow) Less(o TimeWindow) bool {
	if w.Day != o.Day {
		return w.Day < o.Day
	}
	if w.Start != o.Start {
		return w.Start < o.Start
	}
	return w.End < o.End
}

// ParseClock converts "HH:MM" into minutes since midnight.
func ParseClock(raw string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q", raw)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", raw, err)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", raw, err)
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid clock %q", raw)
	}
	return hours*60 + minutes, nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// ClockRange is a day-independent start/end pair used by catalogues (lab windows, default breaks).
type ClockRange struct {
	Start int `json:"start" mapstructure:"start"`
	End   int `json:"end" mapstructure:"end"`
}

// On binds the range to a day.
func (r ClockRange) On(day Day) TimeWindow {
	return TimeWindow{Day: day, Start: r.Start, End: r.End}
}

func (r ClockRange) String() string {
	return FormatClock(r.Start) + "-" + FormatClock(r.End)
}

// ParseClockRanges parses "08:00-10:00,10:00-12:00" into ranges.
func ParseClockRanges(raw string) ([]ClockRange, error) {
	var ranges []ClockRange
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bounds := strings.SplitN(part, "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("invalid clock range %q", part)
		}
		start, err := ParseClock(bounds[0])
		if err != nil {
			return nil, err
		}
		end, err := ParseClock(bounds[1])
		if err != nil {
			return nil, err
		}
		r := ClockRange{Start: start, End: end}
		if err := r.On(Monday).Validate(); err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}
