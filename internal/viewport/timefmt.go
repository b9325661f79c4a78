package viewport

import (
	"fmt"
	"strings"
	"time"
)

// DefaultDateFormat is the host's default journal title format.
const DefaultDateFormat = "MMM do, yyyy"

// dateTokens maps host date-format tokens to Go layouts, longest first.
var dateTokens = []struct {
	token  string
	layout string
}{
	{"yyyy", "2006"},
	{"yy", "06"},
	{"MMMM", "January"},
	{"MMM", "Jan"},
	{"MM", "01"},
	{"M", "1"},
	{"EEEE", "Monday"},
	{"EEE", "Mon"},
	{"dd", "02"},
	{"do", ""}, // ordinal, rendered separately
	{"d", "2"},
}

// FormatDate renders t in a host date format such as "MMM do, yyyy" or
// "yyyy-MM-dd". Characters that are not tokens are copied through.
func FormatDate(t time.Time, format string) string {
	if format == "" {
		format = DefaultDateFormat
	}

	var b strings.Builder
	for i := 0; i < len(format); {
		matched := false
		for _, tok := range dateTokens {
			if !strings.HasPrefix(format[i:], tok.token) {
				continue
			}
			if tok.token == "do" {
				b.WriteString(fmt.Sprintf("%d%s", t.Day(), ordinal(t.Day())))
			} else {
				b.WriteString(t.Format(tok.layout))
			}
			i += len(tok.token)
			matched = true
			break
		}
		if !matched {
			b.WriteByte(format[i])
			i++
		}
	}
	return b.String()
}

// FormatClock renders the time of day as HH:MM:SS.
func FormatClock(t time.Time) string {
	return t.Format("15:04:05")
}

// FormatCardTime renders a card time (epoch ms) as "<date> HH:MM:SS".
func FormatCardTime(ms int64, dateFormat string, loc *time.Location) string {
	t := time.UnixMilli(ms)
	if loc != nil {
		t = t.In(loc)
	}
	return FormatDate(t, dateFormat) + " " + FormatClock(t)
}

func ordinal(day int) string {
	if day >= 11 && day <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}
