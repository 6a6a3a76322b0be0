package scheduling

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	brDateRe  = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`)
	isoDateRe = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)
	clockRe   = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
)

// ClockMinutes parses "HH:MM" (seconds ignored) into minutes since midnight.
func ClockMinutes(value string) (int, error) {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return 0, fmt.Errorf("scheduling: invalid clock time %q", value)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if h > 23 || mm > 59 {
		return 0, fmt.Errorf("scheduling: invalid clock time %q", value)
	}
	return h*60 + mm, nil
}

// DateKey extracts the date of a combined date-time string as yyyymmdd.
// "dd/mm/yyyy" is the backend format; ISO dates are accepted as well.
func DateKey(value string) (int, error) {
	value = strings.TrimSpace(value)
	var day, month, year int
	if m := brDateRe.FindStringSubmatch(value); m != nil {
		day, _ = strconv.Atoi(m[1])
		month, _ = strconv.Atoi(m[2])
		year, _ = strconv.Atoi(m[3])
	} else if m := isoDateRe.FindStringSubmatch(value); m != nil {
		year, _ = strconv.Atoi(m[1])
		month, _ = strconv.Atoi(m[2])
		day, _ = strconv.Atoi(m[3])
	} else {
		return 0, fmt.Errorf("scheduling: invalid date %q", value)
	}
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return 0, fmt.Errorf("scheduling: invalid date %q", value)
	}
	return year*10000 + month*100 + day, nil
}

// FormatDateKey renders a yyyymmdd key as dd/mm/yyyy.
func FormatDateKey(key int) string {
	return fmt.Sprintf("%02d/%02d/%04d", key%100, (key/100)%100, key/10000)
}

// slotMinutes prefers the explicit clock time and falls back to the time
// embedded in the date string.
func slotMinutes(ts TimeSlot) (int, error) {
	if strings.TrimSpace(ts.ClockTime) != "" {
		if m, err := ClockMinutes(ts.ClockTime); err == nil {
			return m, nil
		}
	}
	rest := brDateRe.ReplaceAllString(ts.DateString, "")
	rest = isoDateRe.ReplaceAllString(rest, "")
	return ClockMinutes(rest)
}
