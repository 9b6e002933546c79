// Package ical renders schedules as iCalendar text.
//
// The output is RFC 5545 shaped rather than strictly compliant: content lines
// are folded every 72 characters of the unfolded "NAME:VALUE" text (after
// escaping) instead of at 75 octets. Existing feed consumers depend on that
// exact layout.
package ical

import (
	"strings"
	"time"
)

const (
	foldWidth = 72
	crlf      = "\r\n"

	// DateTimeLayout is the zero-offset form used for every date field.
	DateTimeLayout = "20060102T150405Z"
)

var textEscaper = strings.NewReplacer(
	`\`, `\\`,
	";", `\;`,
	",", `\,`,
	"\r\n", `\n`,
	"\n", `\n`,
	"\r", `\n`,
)

// EscapeText escapes backslashes, semicolons and commas, and replaces every
// line break with the two characters `\n`.
func EscapeText(s string) string {
	return textEscaper.Replace(s)
}

// FoldField renders one content line. An empty value renders nothing.
func FoldField(name, value string, escape bool) string {
	if value == "" {
		return ""
	}
	if escape {
		value = EscapeText(value)
	}
	return fold(name + ":" + value)
}

func fold(line string) string {
	var b strings.Builder
	i := 0
	for _, r := range line {
		if i > 0 && i%foldWidth == 0 {
			b.WriteString(crlf + " ")
		}
		b.WriteRune(r)
		i++
	}
	b.WriteString(crlf)
	return b.String()
}

// FoldDateField renders t in UTC. A zero time renders nothing.
func FoldDateField(name string, t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return FoldField(name, t.UTC().Format(DateTimeLayout), false)
}
