// Package availability computes free and busy time from calendar events.
package availability

import (
	"slices"
	"time"

	"github.com/theakshaypant/studysync/internal/core"
)

// DateLayout formats DayAvailability.Date.
const DateLayout = "2006-01-02"

// DayAvailability is the busy/free split of one working day.
type DayAvailability struct {
	Date             string           `json:"date"`
	Weekday          time.Weekday     `json:"weekday"`
	BusyBlocks       []core.TimeBlock `json:"busyBlocks"`
	FreeBlocks       []core.TimeBlock `json:"freeBlocks"`
	TotalFreeMinutes int              `json:"totalFreeMinutes"`
	TotalBusyMinutes int              `json:"totalBusyMinutes"`
}

// Request describes the days to analyze.
type Request struct {
	// Start and End are calendar dates; both are included. Only their year,
	// month and day are read, in whatever zone they carry.
	Start, End time.Time
	// Weekdays limits the days analyzed; empty means every day.
	Weekdays []time.Weekday
	// WorkingHours is the window inside each day.
	WorkingHours core.TimeBlock
	Location     *time.Location
}

// DefaultWorkingHours is 08:00 to 22:00.
var DefaultWorkingHours = core.TimeBlock{StartHour: 8, EndHour: 22}

type span struct{ start, end int } // minutes since midnight

// Analyze returns one entry per analyzed day. Cancelled and all-day events
// never make time busy. Busy blocks are clipped to the working window and
// merged, and free blocks are their complement within it.
func Analyze(events []core.RemoteEvent, req Request) []DayAvailability {
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}
	wh := req.WorkingHours
	if wh.Minutes() <= 0 {
		wh = DefaultWorkingHours
	}
	winStart, winEnd := wh.StartHour*60+wh.StartMinute, wh.EndHour*60+wh.EndMinute

	first := CalendarDate(req.Start, loc)
	last := CalendarDate(req.End, loc)

	var out []DayAvailability
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		if len(req.Weekdays) > 0 && !slices.Contains(req.Weekdays, day.Weekday()) {
			continue
		}
		from := time.Date(day.Year(), day.Month(), day.Day(), wh.StartHour, wh.StartMinute, 0, 0, loc)
		to := time.Date(day.Year(), day.Month(), day.Day(), wh.EndHour, wh.EndMinute, 0, 0, loc)

		var busy []span
		for _, e := range events {
			if e.Cancelled || e.AllDay || !e.End.After(from) || !e.Start.Before(to) {
				continue
			}
			s := minuteOfDay(maxTime(e.Start, from), day, loc)
			f := minuteOfDay(minTime(e.End, to), day, loc)
			if f > s {
				busy = append(busy, span{s, f})
			}
		}
		merged := merge(busy)
		free := complement(merged, winStart, winEnd)

		d := DayAvailability{
			Date:       day.Format(DateLayout),
			Weekday:    day.Weekday(),
			BusyBlocks: toBlocks(merged),
			FreeBlocks: toBlocks(free),
		}
		for _, b := range d.BusyBlocks {
			d.TotalBusyMinutes += b.Minutes()
		}
		for _, b := range d.FreeBlocks {
			d.TotalFreeMinutes += b.Minutes()
		}
		out = append(out, d)
	}
	return out
}

// CalendarDate returns midnight in loc of the date t names, without first
// converting t to loc.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func dateOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// minuteOfDay uses the wall clock so DST days keep their nominal layout.
func minuteOfDay(t, day time.Time, loc *time.Location) int {
	t = t.In(loc)
	if dateOf(t, loc).After(day) {
		return 24 * 60
	}
	return t.Hour()*60 + t.Minute()
}

// merge sorts spans by start and folds overlaps by the running maximum end.
func merge(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}
	slices.SortFunc(spans, func(a, b span) int { return a.start - b.start })
	out := []span{spans[0]}
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.start <= last.end {
			last.end = max(last.end, s.end)
			continue
		}
		out = append(out, s)
	}
	return out
}

func complement(busy []span, from, to int) []span {
	var free []span
	cur := from
	for _, b := range busy {
		if b.start > cur {
			free = append(free, span{cur, b.start})
		}
		cur = max(cur, b.end)
	}
	if cur < to {
		free = append(free, span{cur, to})
	}
	return free
}

func toBlocks(spans []span) []core.TimeBlock {
	out := make([]core.TimeBlock, len(spans))
	for i, s := range spans {
		out[i] = core.TimeBlock{
			StartHour: s.start / 60, StartMinute: s.start % 60,
			EndHour: s.end / 60, EndMinute: s.end % 60,
		}
	}
	return out
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// Slot is a free block long enough to hold a session.
type Slot struct {
	Date  string         `json:"date"`
	Block core.TimeBlock `json:"block"`
}

// FindFreeSlots lists free blocks of at least minDuration in day order.
func FindFreeSlots(days []DayAvailability, minDuration time.Duration) []Slot {
	minMinutes := int(minDuration / time.Minute)
	var out []Slot
	for _, d := range days {
		for _, b := range d.FreeBlocks {
			if b.Minutes() >= minMinutes {
				out = append(out, Slot{Date: d.Date, Block: b})
			}
		}
	}
	return out
}
