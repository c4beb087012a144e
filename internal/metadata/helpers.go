package metadata

import (
	"strings"
	"time"
)

// timeLayout matches modernc.org/sqlite's _time_format=sqlite pragma,
// which stores time.Time as RFC3339Nano text.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation recognizes a SQLite UNIQUE/PRIMARY KEY constraint
// failure. modernc.org/sqlite surfaces these as plain errors whose
// message contains SQLite's own wording, so string matching (rather
// than a driver-specific error type) is the portable check.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "primary key constraint")
}
