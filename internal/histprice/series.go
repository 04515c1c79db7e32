package histprice

import (
	"errors"

	"github.com/quotecache/pkg/models"
)

// Split is one corporate split event. A 4:1 split has SharesBefore=1,
// SharesAfter=4.
type Split struct {
	Date         models.Date
	SharesBefore int
	SharesAfter  int
}

// Dividend is one cash dividend event.
type Dividend struct {
	Date   models.Date
	Amount float32
}

// Series holds one ticker's decoded history as parallel typed arrays.
// Arrays for capabilities the request did not ask for stay nil. Gap days
// the provider reports as null carry NaN in AdjCloses; Dates and AdjCloses
// are otherwise index-aligned. Splits and Dividends are ordered by date as
// emitted but are not index-aligned with the price arrays.
type Series struct {
	Dates     []models.Date
	AdjCloses []float32

	Opens   []float32
	Closes  []float32
	Highs   []float32
	Lows    []float32
	Volumes []int64

	Splits    []Split
	Dividends []Dividend
}

var (
	// ErrLengthMismatch means dates and adjusted closes came back with
	// different lengths. The data is definitively corrupt; no partial
	// result is returned.
	ErrLengthMismatch = errors.New("histprice: dates and adjcloses length mismatch")

	// ErrTruncated means unconsumed bytes remained after the last chunk.
	// The arrays collected so far are still returned; callers decide
	// whether a partial series is usable.
	ErrTruncated = errors.New("histprice: truncated response, leftover bytes at stream end")
)

// ProviderError is the provider's own chart-level failure, reported inside
// an otherwise well-formed response. It short-circuits array
// interpretation.
type ProviderError struct {
	Description string
}

func (e *ProviderError) Error() string {
	return "histprice: provider error: " + e.Description
}
