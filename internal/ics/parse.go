package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "panelcal/internal/log"
)

// ParsedEvent is a VEVENT before recurrence expansion.
type ParsedEvent struct {
	UID      string
	Summary  string
	Location string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, set on overrides
}

// IsOverride reports whether the event replaces one recurring instance.
func (p ParsedEvent) IsOverride() bool {
	return p.Recurrence != nil
}

// Parse decodes an ICS payload. VEVENTs that fail to parse are logged and
// skipped; only an unreadable calendar is an error.
func Parse(id string, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve)
		if err != nil {
			appLog.Error("ics vevent skipped", err, "id", id)
			continue
		}
		events = append(events, ev)
	}
	appLog.Debug("ics parse completed", "id", id, "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStart)

	var err error
	if out.AllDay {
		out.Start, err = ve.GetAllDayStartAt()
	} else {
		out.Start, err = ve.GetStartAt()
	}
	if err != nil {
		return out, err
	}

	if out.AllDay {
		out.End, err = ve.GetAllDayEndAt()
	} else {
		out.End, err = ve.GetEndAt()
	}
	if err != nil || out.End.Before(out.Start) {
		// No DTEND: all-day events last one day, timed events are instants.
		if out.AllDay {
			out.End = out.Start.AddDate(0, 0, 1)
		} else {
			out.End = out.Start
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseICSTime(p.Value); err == nil {
			out.Recurrence = &t
		}
	}

	return out, nil
}

// isDateValue reports VALUE=DATE or a bare YYYYMMDD value.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// parseICSTime parses the basic DATE / DATE-TIME / UTC forms used by
// EXDATE and RECURRENCE-ID.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, time.Local)
	default:
		return time.ParseInLocation("20060102", v, time.Local)
	}
}
