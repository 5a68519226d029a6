package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ActionDetails is the best-effort payload carried by a pending action. It
// is extracted from free-form text, so any field may be missing; dispatch
// fills gaps with defaults.
type ActionDetails struct {
	Summary   string
	Start     time.Time
	End       time.Time
	Attendees []string
}

var (
	clockPattern    = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	attendeePattern = regexp.MustCompile(`\bwith\s+([A-Z][a-zA-Z]+)`)
)

const defaultMeetingLength = time.Hour

// ExtractDetails pulls a meeting summary and time window out of the user's
// request text. It understands "today"/"tomorrow" plus a 12-hour clock time
// and a capitalized "with <Name>" attendee mention; everything else falls
// back to defaults.
func ExtractDetails(text string, now time.Time) ActionDetails {
	details := ActionDetails{Summary: "Meeting"}
	lowered := strings.ToLower(text)

	// Attendees stay empty: names are not addresses, and the calendar API
	// wants emails.
	if match := attendeePattern.FindStringSubmatch(text); match != nil {
		details.Summary = "Meeting with " + match[1]
	}

	day := now
	switch {
	case strings.Contains(lowered, "tomorrow"):
		day = now.AddDate(0, 0, 1)
	case strings.Contains(lowered, "today"):
		day = now
	default:
		return details
	}

	match := clockPattern.FindStringSubmatch(lowered)
	if match == nil {
		return details
	}
	hour, err := strconv.Atoi(match[1])
	if err != nil || hour < 1 || hour > 12 {
		return details
	}
	minute := 0
	if match[2] != "" {
		minute, err = strconv.Atoi(match[2])
		if err != nil || minute > 59 {
			return details
		}
	}
	if match[3] == "pm" && hour != 12 {
		hour += 12
	}
	if match[3] == "am" && hour == 12 {
		hour = 0
	}

	details.Start = time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
	details.End = details.Start.Add(defaultMeetingLength)
	return details
}
