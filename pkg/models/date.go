package models

import (
	"fmt"
	"time"
)

// Date is a compact calendar date encoded as YYYYMMDD. Historical series
// keep one Date per trading day, so the packed form keeps the parallel
// arrays small and makes the blob wire format trivial to emit.
type Date int32

// DateOf truncates a time to its calendar date.
func DateOf(t time.Time) Date {
	return Date(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

// ParseDate parses a YYYYMMDD string.
func ParseDate(s string) (Date, error) {
	if len(s) != 8 {
		return 0, fmt.Errorf("invalid date %q: want YYYYMMDD", s)
	}
	t, err := time.Parse("20060102", s)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Time returns the date at midnight in the given location.
func (d Date) Time(loc *time.Location) time.Time {
	return time.Date(int(d)/10000, time.Month(int(d)/100%100), int(d)%100, 0, 0, 0, 0, loc)
}

// String formats the date as YYYYMMDD.
func (d Date) String() string {
	return fmt.Sprintf("%08d", int(d))
}
