package availability

import (
	"errors"
	"fmt"
	"time"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// SlotStarts returns start times within [windowStart, windowEnd) where a slot
// of length duration fits without overlapping any of the busy intervals.
// Starts before now are skipped. All times are expected in one location.
func SlotStarts(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) || windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var starts []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if !overlapsAny(t, t.Add(duration), busy) {
			starts = append(starts, t)
		}
	}
	return starts
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

// ClockRange is a time-of-day range, as offsets from midnight.
type ClockRange struct {
	From time.Duration
	To   time.Duration
}

// ParseClockRange parses "HH:MM-HH:MM".
func ParseClockRange(s string) (ClockRange, error) {
	var fh, fm, th, tm int
	if _, err := fmt.Sscanf(s, "%d:%d-%d:%d", &fh, &fm, &th, &tm); err != nil {
		return ClockRange{}, fmt.Errorf("clock range %q: want HH:MM-HH:MM", s)
	}
	r := ClockRange{
		From: time.Duration(fh)*time.Hour + time.Duration(fm)*time.Minute,
		To:   time.Duration(th)*time.Hour + time.Duration(tm)*time.Minute,
	}
	if fm > 59 || tm > 59 || r.From < 0 || r.To > 24*time.Hour || r.To <= r.From {
		return ClockRange{}, fmt.Errorf("clock range %q is empty or out of bounds", s)
	}
	return r, nil
}

func (r ClockRange) on(day time.Time) Interval {
	return Interval{Start: day.Add(r.From), End: day.Add(r.To)}
}

// Plan describes the slots to open for one service over a date range.
type Plan struct {
	From, To time.Time // inclusive calendar days
	Hours    ClockRange
	Breaks   []ClockRange
	Duration time.Duration
	// Weekdays restricts the plan to these days. Empty means every day.
	Weekdays []time.Weekday
}

var ErrEmptyPlan = errors.New("plan has no days")

// Starts expands the plan into slot start times, skipping those before now.
func (p Plan) Starts(now time.Time) ([]time.Time, error) {
	from := midnight(p.From)
	to := midnight(p.To)
	if to.Before(from) {
		return nil, ErrEmptyPlan
	}
	if p.Duration <= 0 {
		return nil, fmt.Errorf("slot duration must be positive, got %s", p.Duration)
	}

	var out []time.Time
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if !p.runsOn(day.Weekday()) {
			continue
		}
		busy := make([]Interval, 0, len(p.Breaks))
		for _, b := range p.Breaks {
			busy = append(busy, b.on(day))
		}
		open := p.Hours.on(day)
		out = append(out, SlotStarts(open.Start, open.End, p.Duration, p.Duration, busy, now)...)
	}
	return out, nil
}

func (p Plan) runsOn(d time.Weekday) bool {
	if len(p.Weekdays) == 0 {
		return true
	}
	for _, w := range p.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
