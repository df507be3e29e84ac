// Package agenda buckets events by calendar day and formats them for
// display.
package agenda

import (
	"sort"
	"strings"
	"time"

	"panelcal/internal/model"
)

// Item is one display-ready event.
type Item struct {
	Event    model.RawEvent `json:"event"`
	Time     string         `json:"time"`
	Location string         `json:"location,omitempty"`
	Color    string         `json:"color,omitempty"`
	AllDay   bool           `json:"all_day"`
}

// Day is the events starting (or running) on one calendar day.
type Day struct {
	Date  time.Time `json:"date"`
	Label string    `json:"label"`
	Items []Item    `json:"items"`
}

// Options controls grouping.
type Options struct {
	Location   *time.Location
	Now        time.Time
	DaysToShow int
	ShowPast   bool
}

// Group buckets events by local start day inside the display range. Events
// that began before the first displayed day but are still running are shown
// on that first day. Without ShowPast, events that already ended are
// dropped. Within a day, all-day events come first, then by start time, then
// summary.
func Group(events []model.RawEvent, opts Options) []Day {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now.In(loc)
	w := model.WindowFor(now, opts.DaysToShow, opts.ShowPast)
	firstDay := model.StartOfDay(now)

	buckets := make(map[time.Time][]Item)
	for _, ev := range events {
		start := ev.Start.In(loc)
		end := ev.End.In(loc)
		if !opts.ShowPast && !ev.AllDay() && end.Before(now) {
			continue
		}
		if !end.After(firstDay) && end.After(start) {
			continue
		}
		if !start.Before(w.End) {
			continue
		}
		day := model.StartOfDay(start)
		if day.Before(firstDay) {
			day = firstDay
		}
		buckets[day] = append(buckets[day], Item{
			Event:    ev,
			Time:     FormatTime(ev, loc, day),
			Location: FormatLocation(ev.Location),
			Color:    ev.Source.Color,
			AllDay:   ev.AllDay(),
		})
	}

	days := make([]Day, 0, len(buckets))
	for date, items := range buckets {
		sort.SliceStable(items, func(i, j int) bool {
			a, b := items[i], items[j]
			if a.AllDay != b.AllDay {
				return a.AllDay
			}
			as, bs := a.Event.Start.In(loc), b.Event.Start.In(loc)
			if !as.Equal(bs) {
				return as.Before(bs)
			}
			return a.Event.Summary < b.Event.Summary
		})
		days = append(days, Day{Date: date, Label: DayLabel(date, now), Items: items})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	return days
}

// DayLabel returns "Today", "Tomorrow" or e.g. "Wed, May 6".
func DayLabel(day, now time.Time) string {
	today := model.StartOfDay(now.In(day.Location()))
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, 1)):
		return "Tomorrow"
	default:
		return day.Format("Mon, Jan 2")
	}
}

// FormatTime renders the time range of ev as seen on day.
//
//	"All day"            single all-day event
//	"Until Fri, May 8"   multi-day all-day event
//	"09:00 - 10:00"      timed event
//	"09:00 - May 7 10:00" timed event ending on a later day
func FormatTime(ev model.RawEvent, loc *time.Location, day time.Time) string {
	start := ev.Start.In(loc)
	end := ev.End.In(loc)

	if ev.AllDay() {
		// All-day ends are exclusive dates.
		last := end.AddDate(0, 0, -1)
		if !last.After(start) {
			return "All day"
		}
		return "Until " + last.Format("Mon, Jan 2")
	}

	if !end.After(start) {
		return start.Format("15:04")
	}
	if model.StartOfDay(end).Equal(model.StartOfDay(start)) {
		return start.Format("15:04") + " - " + end.Format("15:04")
	}
	from := start.Format("15:04")
	if model.StartOfDay(start).Before(day) {
		from = start.Format("Jan 2 15:04")
	}
	return from + " - " + end.Format("Jan 2 15:04")
}

// FormatLocation keeps the first line of a location and trims it.
func FormatLocation(loc string) string {
	loc, _, _ = strings.Cut(loc, "\n")
	return strings.TrimSpace(loc)
}

// Count returns the number of items across days.
func Count(days []Day) int {
	n := 0
	for _, d := range days {
		n += len(d.Items)
	}
	return n
}

// Batches splits days into chunks of at most n items each, keeping day
// order. A day larger than n is split across chunks with its label
// repeated. Renderers draw one chunk per tick so input stays responsive.
func Batches(days []Day, n int) [][]Day {
	if n <= 0 {
		n = 1
	}
	var out [][]Day
	var cur []Day
	size := 0
	for _, d := range days {
		items := d.Items
		for len(items) > 0 {
			room := n - size
			take := min(room, len(items))
			cur = append(cur, Day{Date: d.Date, Label: d.Label, Items: items[:take]})
			items = items[take:]
			size += take
			if size == n {
				out = append(out, cur)
				cur, size = nil, 0
			}
		}
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
