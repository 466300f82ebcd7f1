package db

import (
	"time"
)

// Timestamps are stored as UTC strings in both dialects. The fraction is
// fixed-width so string comparison (MAX, ORDER BY) matches time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func nowString() string {
	return time.Now().UTC().Format(timeFormat)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}

func parseTimePtr(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t := parseTime(*s)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
