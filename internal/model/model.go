package model

import (
	"encoding/json"
	"errors"
	"time"
)

const dateLayout = "2006-01-02"

// CalendarSource is one configured calendar feed.
type CalendarSource struct {
	// ID is the opaque source handle, e.g. "calendar.family" for Home
	// Assistant or an ICS id from the config.
	ID string `json:"entity" yaml:"entity"`
	// Color is an opaque display value passed through to the renderer.
	Color string `json:"color,omitempty" yaml:"color,omitempty"`
}

// EventTime is either a date-only value (all-day) or an instant.
//
// JSON form follows the Home Assistant calendar API:
//
//	{"date": "2026-01-02"}
//	{"dateTime": "2026-01-02T09:00:00+09:00"}
type EventTime struct {
	Time time.Time
	// DateOnly is true when there is no time-of-day component.
	DateOnly bool
}

// Date returns an all-day EventTime at local midnight of t's day.
func Date(t time.Time) EventTime {
	y, m, d := t.Date()
	return EventTime{Time: time.Date(y, m, d, 0, 0, 0, 0, t.Location()), DateOnly: true}
}

// At returns an EventTime for the given instant.
func At(t time.Time) EventTime {
	return EventTime{Time: t}
}

// In converts the time into loc. Date-only values keep their calendar date.
func (e EventTime) In(loc *time.Location) time.Time {
	if e.DateOnly {
		y, m, d := e.Time.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	return e.Time.In(loc)
}

type eventTimeJSON struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
}

func (e EventTime) MarshalJSON() ([]byte, error) {
	if e.DateOnly {
		return json.Marshal(eventTimeJSON{Date: e.Time.Format(dateLayout)})
	}
	return json.Marshal(eventTimeJSON{DateTime: e.Time.Format(time.RFC3339)})
}

func (e *EventTime) UnmarshalJSON(b []byte) error {
	var raw eventTimeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch {
	case raw.DateTime != "":
		t, err := time.Parse(time.RFC3339, raw.DateTime)
		if err != nil {
			return err
		}
		*e = EventTime{Time: t}
	case raw.Date != "":
		t, err := time.ParseInLocation(dateLayout, raw.Date, time.Local)
		if err != nil {
			return err
		}
		*e = EventTime{Time: t, DateOnly: true}
	default:
		return errors.New("event time has neither date nor dateTime")
	}
	return nil
}

// RawEvent is a single event as returned by a calendar source, tagged with
// the source it came from.
type RawEvent struct {
	Summary  string         `json:"summary"`
	Start    EventTime      `json:"start"`
	End      EventTime      `json:"end"`
	Location string         `json:"location,omitempty"`
	Source   CalendarSource `json:"source"`
}

// AllDay reports whether the event has no time-of-day on its start.
func (e RawEvent) AllDay() bool {
	return e.Start.DateOnly
}

// Window is a half-open [Start, End) query range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t is inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// DefaultDaysToShow is used when a non-positive day count is configured.
const DefaultDaysToShow = 3

// WindowFor derives the query range. Without showPast the window starts now,
// so events that already ended today are not requested; with showPast it
// starts at local midnight. The end is midnight after the last shown day.
func WindowFor(now time.Time, daysToShow int, showPast bool) Window {
	if daysToShow <= 0 {
		daysToShow = DefaultDaysToShow
	}
	midnight := StartOfDay(now)
	start := now
	if showPast {
		start = midnight
	}
	return Window{
		Start: start,
		End:   midnight.AddDate(0, 0, daysToShow),
	}
}

// TodayWindow is the narrow [midnight, next midnight) range used by the
// fallback query.
func TodayWindow(now time.Time) Window {
	midnight := StartOfDay(now)
	return Window{Start: midnight, End: midnight.AddDate(0, 0, 1)}
}

// StartOfDay returns local midnight of t's calendar day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
