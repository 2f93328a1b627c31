package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// DefaultMaxOccurrences caps a single expansion.
const DefaultMaxOccurrences = 500

var rruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

var icalDays = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

func rruleFrequency(f Frequency) rrule.Frequency {
	switch f {
	case FrequencyDaily:
		return rrule.DAILY
	case FrequencyMonthly:
		return rrule.MONTHLY
	default:
		return rrule.WEEKLY
	}
}

// untilInstant is the last instant of the until date in loc.
func untilInstant(until time.Time, loc *time.Location) time.Time {
	y, m, d := until.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, loc)
}

// Expand lists the occurrence starts of a series anchored at seriesStart that fall within
// [from, to]. The bool is true when the cap truncated the result.
func Expand(r Rule, seriesStart, from, to time.Time, max int) ([]time.Time, bool, error) {
	if to.Before(from) {
		return nil, false, fmt.Errorf("expand: window end before start")
	}
	if max <= 0 {
		max = DefaultMaxOccurrences
	}
	rec, ok := r.(Recurring)
	if !ok {
		if !seriesStart.Before(from) && !seriesStart.After(to) {
			return []time.Time{seriesStart}, false, nil
		}
		return nil, false, nil
	}
	opt := rrule.ROption{
		Freq:     rruleFrequency(rec.Frequency),
		Interval: rec.Interval,
		Dtstart:  seriesStart,
	}
	if opt.Interval < 1 {
		opt.Interval = 1
	}
	for _, d := range rec.Days.Days() {
		opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d])
	}
	if rec.Until != nil {
		opt.Until = untilInstant(*rec.Until, seriesStart.Location())
	}
	rr, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, false, fmt.Errorf("build rrule: %w", err)
	}
	occ := rr.Between(from.In(seriesStart.Location()), to.In(seriesStart.Location()), true)
	if len(occ) > max {
		return occ[:max], true, nil
	}
	return occ, false, nil
}

// ToRRULE renders a rule as an RFC 5545 RRULE value. None renders as "".
func ToRRULE(r Rule) string {
	rec, ok := r.(Recurring)
	if !ok {
		return ""
	}
	parts := []string{"FREQ=" + strings.ToUpper(string(rec.Frequency))}
	if rec.Interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", rec.Interval))
	}
	if !rec.Days.Empty() {
		days := rec.Days.Days()
		names := make([]string, len(days))
		for i, d := range days {
			names[i] = icalDays[d]
		}
		parts = append(parts, "BYDAY="+strings.Join(names, ","))
	}
	if rec.Until != nil {
		parts = append(parts, "UNTIL="+untilInstant(*rec.Until, time.UTC).Format("20060102T150405Z"))
	}
	return strings.Join(parts, ";")
}
