package utils

import "time"

// dayKeyLayout is the deterministic id format of calendar-date containers.
const dayKeyLayout = "2006-01-02"

// DayKey formats a time as the deterministic id of its calendar-date container.
func DayKey(t time.Time) string {
	return t.Format(dayKeyLayout)
}

// ParseDayKey parses a calendar-date container id.
func ParseDayKey(s string) (time.Time, error) {
	return time.Parse(dayKeyLayout, s)
}
