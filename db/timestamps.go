package db

import (
	"database/sql"
	"time"
)

// TimeLayout is the fixed-width UTC layout used for TEXT timestamp columns.
// Fixed width keeps lexical order equal to chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t for storage
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// FormatTimePtr renders t for storage, nil becoming NULL
func FormatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

// ParseTime reads a stored timestamp
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// ParseTimePtr reads a nullable stored timestamp
func ParseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := ParseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
