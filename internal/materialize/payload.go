// Package materialize turns study sessions into provider-neutral event payloads.
package materialize

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/theakshaypant/studysync/internal/core"
)

const (
	// LocalLayout is the wall-clock format sent alongside an explicit time zone.
	LocalLayout = "2006-01-02T15:04:05"
	// TitleLimit is the longest title either provider accepts without truncation.
	TitleLimit = 200
	// ReminderMinutes is the popup reminder lead time.
	ReminderMinutes = 15

	footer = "Scheduled by StudySync"
)

// ToPayload renders s for the calendar in timezone. Start and end are the
// session's wall clock in that zone; the instant is never re-expressed in UTC.
func ToPayload(s core.StudySession, timezone string) (core.EventPayload, error) {
	return build(s, timezone, "")
}

// ToPlanPayload is ToPayload using the plan's timezone and naming the plan in
// the description.
func ToPlanPayload(s core.StudySession, plan *core.StudyPlan, fallbackTZ string) (core.EventPayload, error) {
	if plan == nil {
		return build(s, fallbackTZ, "")
	}
	tz := plan.Timezone
	if tz == "" {
		tz = fallbackTZ
	}
	return build(s, tz, plan.Name)
}

func build(s core.StudySession, timezone, planName string) (core.EventPayload, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return core.EventPayload{}, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return core.EventPayload{
		Title:           TruncateTitle(s.Title, TitleLimit),
		Description:     Description(s, planName),
		Start:           s.StartTime.In(loc).Format(LocalLayout),
		End:             s.EndTime.In(loc).Format(LocalLayout),
		TimeZone:        loc.String(),
		ReminderMinutes: ReminderMinutes,
		SessionID:       s.ID.String(),
	}, nil
}

// TruncateTitle cuts titles longer than limit runes to limit-3 runes plus "...".
func TruncateTitle(title string, limit int) string {
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) <= limit {
		return title
	}
	r := []rune(title)
	return string(r[:limit-3]) + "..."
}

var numbering = regexp.MustCompile(`^\s*(\d+[.)]|[-*•])\s*`)

// Description lists the session's lessons and total duration. Sessions without
// lessons fall back to their own description, one bullet per line.
func Description(s core.StudySession, planName string) string {
	var b strings.Builder
	if planName != "" {
		fmt.Fprintf(&b, "Plan: %s\n\n", planName)
	}

	switch {
	case len(s.Lessons) > 0:
		if len(s.Lessons) == 1 {
			b.WriteString("Lesson:\n")
		} else {
			b.WriteString("Lessons:\n")
		}
		total := 0
		for _, l := range s.Lessons {
			b.WriteString("• ")
			b.WriteString(l.Title)
			if l.Module != "" {
				fmt.Fprintf(&b, " (%s)", l.Module)
			}
			if l.DurationMinutes > 0 {
				fmt.Fprintf(&b, " - %d min", l.DurationMinutes)
				total += l.DurationMinutes
			}
			b.WriteByte('\n')
		}
		if total == 0 {
			total = int(s.EndTime.Sub(s.StartTime).Minutes())
		}
		fmt.Fprintf(&b, "\nTotal: %s\n", FormatMinutes(total))
	case strings.TrimSpace(s.Description) != "":
		for _, line := range strings.Split(s.Description, "\n") {
			line = numbering.ReplaceAllString(line, "")
			if strings.TrimSpace(line) == "" {
				continue
			}
			b.WriteString("• ")
			b.WriteString(strings.TrimSpace(line))
			b.WriteByte('\n')
		}
	default:
		b.WriteString("Study session\n")
	}

	b.WriteString("\n")
	b.WriteString(footer)
	return b.String()
}

// FormatMinutes renders 90 as "1h 30m" and 45 as "45 min".
func FormatMinutes(m int) string {
	h, rem := m/60, m%60
	switch {
	case h == 0:
		return fmt.Sprintf("%d min", rem)
	case rem == 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dh %dm", h, rem)
	}
}
