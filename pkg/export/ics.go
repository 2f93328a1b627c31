package export

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
)

const productID = "-//planner-api//scheduled blocks//EN"

// Event is one VEVENT of an iCalendar feed. RRule is empty for one-off events.
type Event struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	RRule       string
	Completed   bool
	Color       string
	Created     time.Time
	Updated     time.Time
}

// ICSExporter renders events as an RFC 5545 calendar.
type ICSExporter struct {
	now func() time.Time
}

// NewICSExporter builds an ICS exporter.
func NewICSExporter() *ICSExporter {
	return &ICSExporter{now: time.Now}
}

// Render serialises events into a VCALENDAR named name.
func (e *ICSExporter) Render(name string, events []Event) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetName(name)
		cal.SetXWRCalName(name)
	}

	stamp := e.now().UTC()
	for _, ev := range events {
		if ev.UID == "" {
			return nil, fmt.Errorf("event %q has no uid", ev.Summary)
		}
		if !ev.End.After(ev.Start) {
			return nil, fmt.Errorf("event %s ends before it starts", ev.UID)
		}
		vevent := cal.AddEvent(ev.UID)
		vevent.SetDtStampTime(stamp)
		vevent.SetStartAt(ev.Start)
		vevent.SetEndAt(ev.End)
		vevent.SetSummary(ev.Summary)
		if ev.Description != "" {
			vevent.SetDescription(ev.Description)
		}
		if !ev.Created.IsZero() {
			vevent.SetCreatedTime(ev.Created)
		}
		if !ev.Updated.IsZero() {
			vevent.SetModifiedAt(ev.Updated)
		}
		if ev.RRule != "" {
			vevent.SetProperty(ical.ComponentPropertyRrule, ev.RRule)
		}
		if ev.Color != "" {
			vevent.SetProperty(ical.ComponentProperty("COLOR"), ev.Color)
		}
		if ev.Completed {
			vevent.SetProperty(ical.ComponentPropertyStatus, "CONFIRMED")
			vevent.SetProperty(ical.ComponentProperty("X-PLANNER-STATUS"), "completed")
		}
	}
	return []byte(cal.Serialize()), nil
}
