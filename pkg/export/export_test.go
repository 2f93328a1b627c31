package export

import (
	"bytes"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agenda() Dataset {
	return Dataset{
		Headers: []string{"Date", "Start", "Title"},
		Rows: []map[string]string{
			{"Date": "2025-01-06", "Start": "09:00", "Title": "Standup"},
			{"Date": "2025-01-06", "Start": "14:00", "Title": "Revisão, sprint"},
		},
		Weights: []float64{1, 1, 3},
	}
}

func TestCSVExporter(t *testing.T) {
	out, err := NewCSVExporter().Render(agenda())
	require.NoError(t, err)
	assert.Equal(t, "Date,Start,Title\n2025-01-06,09:00,Standup\n2025-01-06,14:00,\"Revisão, sprint\"\n", string(out))

	out, err = NewCSVExporterWithSeparator(';').Render(agenda())
	require.NoError(t, err)
	assert.Contains(t, string(out), "2025-01-06;14:00;Revisão, sprint")

	_, err = NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFExporter(t *testing.T) {
	out, err := NewPDFExporter().Render(agenda(), "Agenda")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))

	_, err = NewPDFExporter().Render(Dataset{}, "")
	assert.Error(t, err)
}

func TestColumnWidths(t *testing.T) {
	assert.Equal(t, []float64{38, 38, 114}, columnWidths(agenda(), 190))
	even := columnWidths(Dataset{Headers: []string{"a", "b"}}, 190)
	assert.Equal(t, []float64{95, 95}, even)
}

func TestICSExporter(t *testing.T) {
	exp := NewICSExporter()
	exp.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	start := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	out, err := exp.Render("Planner", []Event{
		{UID: "b1@planner", Summary: "Standup", Start: start, End: start.Add(time.Hour), RRule: "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO,WE"},
		{UID: "b2@planner", Summary: "Review", Description: "Sprint review", Start: start.Add(5 * time.Hour), End: start.Add(6 * time.Hour), Completed: true},
	})
	require.NoError(t, err)

	cal, err := ical.ParseCalendar(bytes.NewReader(out))
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "b1@planner", events[0].Id())
	assert.Equal(t, "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO,WE", events[0].GetProperty(ical.ComponentPropertyRrule).Value)
	assert.Equal(t, "Standup", events[0].GetProperty(ical.ComponentPropertySummary).Value)
	assert.Nil(t, events[1].GetProperty(ical.ComponentPropertyRrule))
	assert.Equal(t, "20250106T140000Z", events[1].GetProperty(ical.ComponentPropertyDtStart).Value)

	_, err = exp.Render("", []Event{{UID: "x", Start: start, End: start}})
	assert.Error(t, err)
}
