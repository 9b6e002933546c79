package ical

import (
	"strings"
	"time"
)

// DefaultProductID is used when a Builder has no ProductID.
const DefaultProductID = "-//schedcal//Schedule Feed//EN"

// alarmTrigger fires the display alarm fifteen minutes before the start.
const alarmTrigger = "-PT15M"

// Event is the render model of one VEVENT. Empty or zero fields are omitted.
type Event struct {
	// UID should be globally unique, e.g. "<schedule id>@<host>".
	UID     string
	Created time.Time
	Start   time.Time
	End     time.Time

	Summary string
	// Description is plain text; HTMLDescription is emitted as X-ALT-DESC.
	Description     string
	HTMLDescription string
	Location        string

	Organizer Organizer
	URL       string
	// RRule is an encoded recurrence rule value, written as is.
	RRule string
}

// Builder assembles VCALENDAR documents.
type Builder struct {
	ProductID string
}

// Build renders events into one VCALENDAR. renderedAt becomes every
// event's DTSTAMP.
func (b Builder) Build(renderedAt time.Time, events ...Event) string {
	prodID := b.ProductID
	if prodID == "" {
		prodID = DefaultProductID
	}

	var sb strings.Builder
	sb.WriteString(FoldField("BEGIN", "VCALENDAR", false))
	sb.WriteString(FoldField("VERSION", "2.0", false))
	sb.WriteString(FoldField("PRODID", prodID, false))
	for _, ev := range events {
		writeEvent(&sb, ev, renderedAt)
	}
	sb.WriteString(FoldField("END", "VCALENDAR", false))
	return sb.String()
}

func writeEvent(sb *strings.Builder, ev Event, renderedAt time.Time) {
	sb.WriteString(FoldField("BEGIN", "VEVENT", false))
	sb.WriteString(FoldField("UID", ev.UID, false))
	sb.WriteString(FoldDateField("DCREATED", ev.Created))
	sb.WriteString(FoldDateField("DTSTART", ev.Start))
	sb.WriteString(FoldDateField("DTEND", ev.End))
	sb.WriteString(FoldDateField("DTSTAMP", renderedAt))
	sb.WriteString(FoldField("SUMMARY", ev.Summary, true))
	sb.WriteString(FoldField("DESCRIPTION", ev.Description, true))
	sb.WriteString(FoldField("X-ALT-DESC;FMTTYPE=text/html", ev.HTMLDescription, true))
	sb.WriteString(FoldField("LOCATION", ev.Location, true))
	sb.WriteString(ev.Organizer.line())
	sb.WriteString(FoldField("URL", ev.URL, false))
	sb.WriteString(FoldField("RRULE", ev.RRule, false))

	sb.WriteString(FoldField("BEGIN", "VALARM", false))
	sb.WriteString(FoldField("TRIGGER", alarmTrigger, false))
	sb.WriteString(FoldField("ACTION", "DISPLAY", false))
	sb.WriteString(FoldField("DESCRIPTION", ev.Summary, true))
	sb.WriteString(FoldField("END", "VALARM", false))

	sb.WriteString(FoldField("END", "VEVENT", false))
}

// Organizer is a pre-formatted ORGANIZER property. Params (e.g.
// `CN="Doe, Jane"`) and Value (e.g. `MAILTO:jane@example.org`) are written
// as is; neither is escaped.
type Organizer struct {
	Params string
	Value  string
}

func (o Organizer) line() string {
	name := "ORGANIZER"
	if o.Params != "" {
		name += ";" + o.Params
	}
	return FoldField(name, o.Value, false)
}

// NewOrganizer builds an organizer with a "CN=<name>" parameter and a
// "MAILTO:<email>" value. The common name is quoted when it contains ':',
// ';' or ','. An empty email yields an empty organizer.
func NewOrganizer(name, email string) Organizer {
	if email == "" {
		return Organizer{}
	}
	o := Organizer{Value: "MAILTO:" + email}
	if name == "" {
		return o
	}
	if strings.ContainsAny(name, ":;,") {
		name = `"` + strings.ReplaceAll(name, `"`, "'") + `"`
	}
	o.Params = "CN=" + name
	return o
}
