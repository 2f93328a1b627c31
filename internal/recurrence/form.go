package recurrence

import "time"

// Type is the stored recurrence_type column and the form's frequency dropdown.
type Type string

const (
	TypeNone    Type = "none"
	TypeDaily   Type = "daily"
	TypeWeekly  Type = "weekly"
	TypeMonthly Type = "monthly"
	TypeCustom  Type = "custom"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeNone, TypeDaily, TypeWeekly, TypeMonthly, TypeCustom:
		return true
	}
	return false
}

// Form is the editable recurrence selection of the block editor.
type Form struct {
	Type     Type
	Interval int
	Days     WeekdaySet
	EndDate  *time.Time
}

// DefaultForm is the state of a block that does not repeat.
func DefaultForm() Form {
	return Form{Type: TypeNone, Interval: 1}
}

// ToggleDay flips d in the selected weekdays.
func (f Form) ToggleDay(d Weekday) Form {
	if f.Days.Has(d) {
		f.Days = f.Days.Without(d)
	} else {
		f.Days = f.Days.With(d)
	}
	return f
}

// Build converts the selection into a rule. Custom is stored as weekly with the chosen days.
func (f Form) Build() Rule {
	if f.Type == TypeNone || f.Type == "" {
		return None{}
	}
	rec := Recurring{Interval: f.Interval, Days: f.Days}
	if rec.Interval < 1 {
		rec.Interval = 1
	}
	switch f.Type {
	case TypeDaily:
		rec.Frequency = FrequencyDaily
	case TypeMonthly:
		rec.Frequency = FrequencyMonthly
	default:
		rec.Frequency = FrequencyWeekly
	}
	if f.EndDate != nil {
		y, m, d := f.EndDate.Date()
		until := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		rec.Until = &until
	}
	return rec
}

// StoredType returns the recurrence_type value to persist next to Build's rule.
func (f Form) StoredType() Type {
	if f.Type == "" || !f.Type.Valid() {
		return TypeNone
	}
	return f.Type
}

// Hydrate rebuilds the form from a stored type and rule.
func Hydrate(t Type, r Rule) Form {
	rec, ok := r.(Recurring)
	if !ok || t == TypeNone {
		return DefaultForm()
	}
	f := Form{Type: t, Interval: rec.Interval, Days: rec.Days}
	if f.Interval < 1 {
		f.Interval = 1
	}
	if !t.Valid() {
		f.Type = Type(rec.Frequency)
	}
	if rec.Until != nil {
		until := *rec.Until
		f.EndDate = &until
	}
	return f
}
