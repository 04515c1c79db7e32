package memdb

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quotecache/pkg/models"
)

// defaultHistoryStart is the epoch used when an asset's span config does
// not name one.
var defaultHistoryStart = time.Date(2018, 2, 1, 0, 0, 0, 0, models.NewYork)

// ExpectedHistoryStartDate resolves a span specifier into the first date
// historical data is expected to exist for. Specifiers are either an exact
// "Date:YYYY-MM-DD", or a relative "Ny"/"Nm" (years/months back from today
// in exchange time). Relative dates and the default epoch are rolled
// backward off weekends and then one extra day, as a margin against a
// holiday landing on the rolled date; exact dates are taken as-is.
func ExpectedHistoryStartDate(span, ticker string) (time.Time, error) {
	return expectedHistoryStartAt(span, ticker, time.Now())
}

func expectedHistoryStartAt(span, ticker string, now time.Time) (time.Time, error) {
	if span == "" {
		return rollBackForSafety(defaultHistoryStart), nil
	}
	if rest, ok := strings.CutPrefix(span, "Date:"); ok {
		t, err := time.ParseInLocation("2006-01-02", rest, models.NewYork)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid history span %q for ticker %s: %w", span, ticker, err)
		}
		return t, nil
	}

	if len(span) < 2 {
		return time.Time{}, fmt.Errorf("invalid history span %q for ticker %s", span, ticker)
	}
	n, err := strconv.Atoi(span[:len(span)-1])
	if err != nil || n <= 0 {
		return time.Time{}, fmt.Errorf("invalid history span %q for ticker %s", span, ticker)
	}

	et := now.In(models.NewYork)
	var d time.Time
	switch span[len(span)-1] {
	case 'y':
		d = et.AddDate(-n, 0, 0)
	case 'm':
		d = et.AddDate(0, -n, 0)
	default:
		return time.Time{}, fmt.Errorf("invalid history span %q for ticker %s", span, ticker)
	}
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, models.NewYork)

	return rollBackForSafety(d), nil
}

// rollBackForSafety moves a weekend date back to the preceding Friday and
// then one more day, in case that Friday was a market holiday.
func rollBackForSafety(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Sunday:
		d = d.AddDate(0, 0, -2)
	case time.Saturday:
		d = d.AddDate(0, 0, -1)
	}
	return d.AddDate(0, 0, -1)
}
