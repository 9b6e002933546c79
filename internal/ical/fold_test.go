package ical

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unescapeText reverses EscapeText for values without carriage returns.
func unescapeText(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			if s[i] == 'n' {
				b.WriteByte('\n')
			} else {
				b.WriteByte(s[i])
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func unfold(s string) string {
	return strings.ReplaceAll(s, "\r\n ", "")
}

func TestFoldField(t *testing.T) {
	tests := []struct {
		name   string
		field  string
		value  string
		escape bool
		want   string
	}{
		{"empty value omitted", "SUMMARY", "", true, ""},
		{"short line", "SUMMARY", "Hello", true, "SUMMARY:Hello\r\n"},
		{"escaping", "SUMMARY", "a,b;c\\d\ne\r\nf\rg", true, `SUMMARY:a\,b\;c\\d\ne\nf\ng` + "\r\n"},
		{"escaping off", "RRULE", "FREQ=DAILY;COUNT=2;", false, "RRULE:FREQ=DAILY;COUNT=2;\r\n"},
		{"exactly one full line", "X", strings.Repeat("a", 70), false, "X:" + strings.Repeat("a", 70) + "\r\n"},
		{
			"one character past a full line",
			"X", strings.Repeat("a", 71), false,
			"X:" + strings.Repeat("a", 70) + "\r\n a\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FoldField(tt.field, tt.value, tt.escape))
		})
	}
}

func TestFoldField_LongValue(t *testing.T) {
	got := FoldField("DESCRIPTION", strings.Repeat("x", 200), false)

	lines := strings.Split(got, "\r\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "DESCRIPTION:"+strings.Repeat("x", 60), lines[0])
	assert.Equal(t, " "+strings.Repeat("x", 72), lines[1])
	assert.Equal(t, " "+strings.Repeat("x", 68), lines[2])
	assert.Equal(t, "", lines[3])
}

func TestFoldField_CountsCharactersNotBytes(t *testing.T) {
	got := FoldField("SUMMARY", strings.Repeat("é", 100), false)

	lines := strings.Split(got, "\r\n")
	require.Len(t, lines, 3)
	assert.Equal(t, 72, utf8.RuneCountInString(lines[0]))
	assert.True(t, utf8.ValidString(lines[1]))
}

func TestFoldField_LineLengthBound(t *testing.T) {
	for n := 0; n < 400; n += 7 {
		value := strings.Repeat("ab,;\n", n)
		for _, line := range strings.Split(FoldField("DESCRIPTION", value, true), "\r\n") {
			assert.LessOrEqual(t, utf8.RuneCountInString(line), foldWidth+1)
		}
	}
}

func TestFoldField_EscapeRoundTrip(t *testing.T) {
	values := []string{
		"plain",
		`back\slash`,
		"semi;colon,comma",
		"multi\nline\n\ntext",
		`\n is not a newline`,
		strings.Repeat("Ünïcödé, text; with \\ everything\n", 12),
	}

	for _, v := range values {
		line := unfold(FoldField("DESCRIPTION", v, true))
		line = strings.TrimSuffix(strings.TrimPrefix(line, "DESCRIPTION:"), "\r\n")
		assert.Equal(t, v, unescapeText(line))
	}
}

func TestFoldDateField(t *testing.T) {
	at := time.Date(2024, 1, 26, 11, 0, 0, 0, time.FixedZone("CET", 2*60*60))

	assert.Equal(t, "DTSTART:20240126T090000Z\r\n", FoldDateField("DTSTART", at))
	assert.Equal(t, "", FoldDateField("DTSTART", time.Time{}))
}
