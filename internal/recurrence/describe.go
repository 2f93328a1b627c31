package recurrence

import (
	"fmt"
	"strings"
)

var weekdayShort = [7]string{"Dom", "Seg", "Ter", "Qua", "Qui", "Sex", "Sáb"}

var baseLabel = map[Frequency]string{
	FrequencyDaily:   "Diariamente",
	FrequencyWeekly:  "Semanalmente",
	FrequencyMonthly: "Mensalmente",
}

var unitPlural = map[Frequency]string{
	FrequencyDaily:   "dias",
	FrequencyWeekly:  "semanas",
	FrequencyMonthly: "meses",
}

// NoRepeatLabel describes a block without recurrence.
const NoRepeatLabel = "Não se repete"

// WeekdayLabel returns the short Portuguese weekday name.
func WeekdayLabel(d Weekday) string {
	if !d.Valid() {
		return ""
	}
	return weekdayShort[d]
}

// Describe renders a rule as a short Portuguese phrase,
// e.g. "A cada 2 semanas (Seg, Qua)".
func Describe(r Rule) string {
	rec, ok := r.(Recurring)
	if !ok {
		return NoRepeatLabel
	}
	var phrase string
	if rec.Interval > 1 {
		phrase = fmt.Sprintf("A cada %d %s", rec.Interval, unitPlural[rec.Frequency])
	} else {
		phrase = baseLabel[rec.Frequency]
	}
	if !rec.Days.Empty() {
		days := rec.Days.Days()
		names := make([]string, len(days))
		for i, d := range days {
			names[i] = WeekdayLabel(d)
		}
		phrase += " (" + strings.Join(names, ", ") + ")"
	}
	return phrase
}
