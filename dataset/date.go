package dataset

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DayLayout is the calendar-day key format used for bucketing and bounds.
const DayLayout = "2006-01-02"

// createdPattern matches values like "Mon Dec 29, 2025 03:49 pm".
var createdPattern = regexp.MustCompile(`(?i)(\w{3})\s+(\w{3})\s+(\d+),\s+(\d+)\s+(\d+):(\d+)\s+(am|pm)`)

var months = map[string]time.Month{
	"Jan": time.January,
	"Feb": time.February,
	"Mar": time.March,
	"Apr": time.April,
	"May": time.May,
	"Jun": time.June,
	"Jul": time.July,
	"Aug": time.August,
	"Sep": time.September,
	"Oct": time.October,
	"Nov": time.November,
	"Dec": time.December,
}

// ParseDate parses a Created timestamp as UTC wall-clock time.
func ParseDate(s string) (time.Time, bool) {
	return ParseDateIn(s, time.UTC)
}

// ParseDateIn parses a Created timestamp as wall-clock time in loc.
// The weekday is matched but not checked against the date.
func ParseDateIn(s string, loc *time.Location) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	m := createdPattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	month, ok := months[m[2]]
	if !ok {
		return time.Time{}, false
	}
	day, err1 := strconv.Atoi(m[3])
	year, err2 := strconv.Atoi(m[4])
	hour, err3 := strconv.Atoi(m[5])
	minute, err4 := strconv.Atoi(m[6])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return time.Time{}, false
	}
	switch strings.ToLower(m[7]) {
	case "pm":
		if hour != 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc), true
}

// DayKey returns the calendar day of t in its own location.
func DayKey(t time.Time) string {
	return t.Format(DayLayout)
}
