// Package recurrence models repeating blocks: the stored rule, the form that edits it,
// its human-readable description and the edit scope of a series mutation.
package recurrence

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Frequency is the base repetition unit of a rule.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// Weekday is a day index where 0 is Sunday.
type Weekday int

// Valid reports whether d is in 0..6.
func (d Weekday) Valid() bool {
	return d >= 0 && d <= 6
}

// WeekdaySet is a set of weekdays.
type WeekdaySet uint8

// NewWeekdaySet builds a set, dropping out-of-range values.
func NewWeekdaySet(days ...Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s = s.With(d)
	}
	return s
}

// With returns s plus d.
func (s WeekdaySet) With(d Weekday) WeekdaySet {
	if !d.Valid() {
		return s
	}
	return s | 1<<uint(d)
}

// Without returns s minus d.
func (s WeekdaySet) Without(d Weekday) WeekdaySet {
	if !d.Valid() {
		return s
	}
	return s &^ (1 << uint(d))
}

// Has reports whether d is in the set.
func (s WeekdaySet) Has(d Weekday) bool {
	return d.Valid() && s&(1<<uint(d)) != 0
}

// Empty reports whether the set has no days.
func (s WeekdaySet) Empty() bool {
	return s == 0
}

// Days lists the members in ascending order.
func (s WeekdaySet) Days() []Weekday {
	out := make([]Weekday, 0, 7)
	for d := Weekday(0); d <= 6; d++ {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// Rule is either None or Recurring.
type Rule interface {
	isRule()
}

// None is the absence of recurrence.
type None struct{}

// Recurring repeats every Interval units of Frequency, optionally restricted to Days and
// ending on Until (inclusive, date only).
type Recurring struct {
	Frequency Frequency
	Interval  int
	Days      WeekdaySet
	Until     *time.Time
}

func (None) isRule()      {}
func (Recurring) isRule() {}

// IsRecurring reports whether r repeats.
func IsRecurring(r Rule) bool {
	_, ok := r.(Recurring)
	return ok
}

const untilLayout = "2006-01-02"

type ruleJSON struct {
	Frequency  Frequency `json:"frequency"`
	Interval   int       `json:"interval"`
	DaysOfWeek []int     `json:"daysOfWeek,omitempty"`
	Until      string    `json:"until,omitempty"`
}

// Marshal encodes r in its stored JSON shape; None encodes as null.
func Marshal(r Rule) ([]byte, error) {
	rec, ok := r.(Recurring)
	if !ok {
		return []byte("null"), nil
	}
	payload := ruleJSON{Frequency: rec.Frequency, Interval: rec.Interval}
	for _, d := range rec.Days.Days() {
		payload.DaysOfWeek = append(payload.DaysOfWeek, int(d))
	}
	if rec.Until != nil {
		payload.Until = rec.Until.Format(untilLayout)
	}
	return json.Marshal(payload)
}

// Unmarshal decodes a stored rule. Empty input and null decode to None.
func Unmarshal(raw []byte) (Rule, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return None{}, nil
	}
	var payload ruleJSON
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode recurrence rule: %w", err)
	}
	if !payload.Frequency.Valid() {
		return nil, fmt.Errorf("unknown recurrence frequency %q", payload.Frequency)
	}
	rec := Recurring{Frequency: payload.Frequency, Interval: payload.Interval}
	if rec.Interval < 1 {
		rec.Interval = 1
	}
	days := append([]int(nil), payload.DaysOfWeek...)
	sort.Ints(days)
	for _, d := range days {
		if !Weekday(d).Valid() {
			return nil, fmt.Errorf("weekday %d out of range", d)
		}
		rec.Days = rec.Days.With(Weekday(d))
	}
	if payload.Until != "" {
		until, err := parseUntil(payload.Until)
		if err != nil {
			return nil, err
		}
		rec.Until = &until
	}
	return rec, nil
}

func parseUntil(raw string) (time.Time, error) {
	if t, err := time.Parse(untilLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid until date %q", raw)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

// Column adapts a Rule to a nullable JSONB column and to JSON payloads.
type Column struct {
	Rule Rule
}

// Get returns the wrapped rule, treating the zero value as None.
func (c Column) Get() Rule {
	if c.Rule == nil {
		return None{}
	}
	return c.Rule
}

// Value implements driver.Valuer.
func (c Column) Value() (driver.Value, error) {
	if !IsRecurring(c.Get()) {
		return nil, nil
	}
	raw, err := Marshal(c.Rule)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (c *Column) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		c.Rule = None{}
		return nil
	case []byte:
		r, err := Unmarshal(v)
		if err != nil {
			return err
		}
		c.Rule = r
		return nil
	case string:
		r, err := Unmarshal([]byte(v))
		if err != nil {
			return err
		}
		c.Rule = r
		return nil
	}
	return fmt.Errorf("cannot scan %T into recurrence rule", src)
}

// MarshalJSON implements json.Marshaler.
func (c Column) MarshalJSON() ([]byte, error) {
	return Marshal(c.Get())
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Column) UnmarshalJSON(raw []byte) error {
	r, err := Unmarshal(raw)
	if err != nil {
		return err
	}
	c.Rule = r
	return nil
}
