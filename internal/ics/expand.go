package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "panelcal/internal/log"
	"panelcal/internal/model"
)

// maxOccurrencesPerEvent caps expansion of a single recurring event.
const maxOccurrencesPerEvent = 5000

// Expand turns parsed events into concrete occurrences overlapping w:
// single events, RRULE recurrences with EXDATE removal and RECURRENCE-ID
// overrides. The result is sorted by start.
func Expand(events []ParsedEvent, w model.Window) ([]model.RawEvent, error) {
	if w.End.Before(w.Start) {
		return nil, errors.New("ics: window end before start")
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride() {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	out := make([]model.RawEvent, 0)
	for uid, bases := range baseByUID {
		ov := overridesByUID[uid]
		for _, ev := range bases {
			if ev.RawRRule == "" {
				out = append(out, expandSingle(ev, ov, w)...)
				continue
			}
			occ, truncated := expandRecurring(ev, ov, w)
			if truncated {
				appLog.Error("ics expand truncated", errors.New("max occurrences reached"), "uid", uid, "cap", maxOccurrencesPerEvent)
			}
			out = append(out, occ...)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Time.Before(out[j].Start.Time)
	})
	return out, nil
}

func expandSingle(ev ParsedEvent, overrides []ParsedEvent, w model.Window) []model.RawEvent {
	start, end := ev.Start, ev.End
	if o, ok := findOverride(overrides, start); ok {
		ev, start, end = o, o.Start, o.End
	}
	if !overlaps(start, end, w) {
		return nil
	}
	return []model.RawEvent{toRaw(ev, start, end)}
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, w model.Window) ([]model.RawEvent, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	loc := ev.Start.Location()

	// Widen the lower bound by the event duration so an instance that
	// started before the window but is still running is included.
	times := set.Between(w.Start.Add(-dur).In(loc), w.End.In(loc), true)
	truncated := false
	if len(times) > maxOccurrencesPerEvent {
		times = times[:maxOccurrencesPerEvent]
		truncated = true
	}

	out := make([]model.RawEvent, 0, len(times))
	for _, occStart := range times {
		occEnd := occStart.Add(dur)
		if ev.AllDay {
			day := model.StartOfDay(occStart)
			occStart, occEnd = day, day.AddDate(0, 0, int(dur.Hours()/24+0.5))
		}
		base, start, end := ev, occStart, occEnd
		if o, ok := findOverride(overrides, occStart); ok {
			base, start, end = o, o.Start, o.End
		}
		if !overlaps(start, end, w) {
			continue
		}
		out = append(out, toRaw(base, start, end))
	}
	return out, truncated
}

// findOverride finds the override whose RECURRENCE-ID equals start.
func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func toRaw(ev ParsedEvent, start, end time.Time) model.RawEvent {
	raw := model.RawEvent{
		Summary:  ev.Summary,
		Location: ev.Location,
	}
	if ev.AllDay {
		raw.Start, raw.End = model.Date(start), model.Date(end)
	} else {
		raw.Start, raw.End = model.At(start), model.At(end)
	}
	return raw
}

// overlaps reports whether [start, end) intersects w. Zero-length events
// count when their instant is inside w.
func overlaps(start, end time.Time, w model.Window) bool {
	if !end.After(start) {
		return w.Contains(start)
	}
	return start.Before(w.End) && end.After(w.Start)
}
