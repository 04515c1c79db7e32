package histprice

import (
	"fmt"
	"math"
	"time"

	"github.com/quotecache/pkg/models"
)

// fieldCursor names the section of the provider document the decoder is
// currently positioned in. The decoder is an explicit state machine over
// these states: property-name tokens move the cursor, value tokens append
// to the array the cursor points at.
type fieldCursor int

const (
	curUnknown fieldCursor = iota
	curDate
	curAdjClose
	curOpen
	curClose
	curHigh
	curLow
	curVolume
	curSplit
	curSplitDate
	curSplitNumerator
	curSplitDenominator
	curDividend
	curDividendAmount
	curDividendDate
	curChartError
	curChartErrorDesc
)

// Assume ~260 trading days per year for 10 years, to avoid repeated array
// growth on a typical long query.
const estTradingDays = 260 * 10

// SeriesDecoder incrementally decodes a provider chart response from byte
// chunks with arbitrary boundaries. Feed chunks with Write, then call
// Finish once for validation and the result.
//
// The decode of one chunk runs to completion without suspending; the only
// state carried between chunks is the tokenizer state plus the leftover
// bytes of a token that spanned the boundary, which makes chunk boundaries
// the only safe checkpoints.
type SeriesDecoder struct {
	need     DataNeed
	tz       tokenizer
	leftover []byte

	cur        fieldCursor
	splitDepth int
	divDepth   int
	pendingSp  Split
	pendingDiv Dividend

	series      Series
	providerErr *ProviderError
	scanErr     error
}

// NewSeriesDecoder creates a decoder materializing only the arrays the
// capability set asks for.
func NewSeriesDecoder(need DataNeed) *SeriesDecoder {
	d := &SeriesDecoder{need: need}
	if need.Has(NeedAdjClose) || need.Has(NeedOHLCV) {
		d.series.Dates = make([]models.Date, 0, estTradingDays)
	}
	if need.Has(NeedAdjClose) {
		d.series.AdjCloses = make([]float32, 0, estTradingDays)
	}
	if need.Has(NeedOHLCV) {
		d.series.Opens = make([]float32, 0, estTradingDays)
		d.series.Closes = make([]float32, 0, estTradingDays)
		d.series.Highs = make([]float32, 0, estTradingDays)
		d.series.Lows = make([]float32, 0, estTradingDays)
		d.series.Volumes = make([]int64, 0, estTradingDays)
	}
	if need.Has(NeedSplit) {
		d.series.Splits = make([]Split, 0)
	}
	if need.Has(NeedDividend) {
		d.series.Dividends = make([]Dividend, 0)
	}
	return d
}

// Write consumes one chunk. A token cut by the chunk boundary is kept as
// leftover and re-scanned when the next chunk arrives.
func (d *SeriesDecoder) Write(chunk []byte) error {
	if d.scanErr != nil {
		return d.scanErr
	}
	if d.providerErr != nil {
		return d.providerErr
	}

	buf := chunk
	if len(d.leftover) > 0 {
		buf = append(d.leftover, chunk...)
	}

	pos, err := d.run(buf, 0, false)
	d.leftover = append([]byte(nil), buf[pos:]...)
	return err
}

// Finish validates the collected arrays and returns the result. Leftover
// bytes at stream end mean a truncated response: the partial series is
// returned together with ErrTruncated. A dates/adjcloses length mismatch
// discards the result entirely.
func (d *SeriesDecoder) Finish() (*Series, error) {
	if d.providerErr != nil {
		return nil, d.providerErr
	}
	if d.scanErr != nil {
		return nil, d.scanErr
	}

	if len(d.leftover) > 0 {
		// A trailing number or literal is complete now that the stream is
		// over.
		pos, err := d.run(d.leftover, 0, true)
		if err != nil {
			return nil, err
		}
		d.leftover = d.leftover[pos:]
	}

	if d.series.Dates != nil && d.series.AdjCloses != nil && len(d.series.Dates) != len(d.series.AdjCloses) {
		return nil, fmt.Errorf("%w: %d dates, %d adjcloses", ErrLengthMismatch, len(d.series.Dates), len(d.series.AdjCloses))
	}

	if n := len(d.leftover); n > 0 {
		return &d.series, fmt.Errorf("%w (%d bytes)", ErrTruncated, n)
	}
	return &d.series, nil
}

// run tokenizes buf from pos to exhaustion of complete tokens and applies
// each to the state machine. Returns the position of the unconsumed tail.
func (d *SeriesDecoder) run(buf []byte, pos int, final bool) (int, error) {
	for {
		tok, newPos, ok, err := d.tz.next(buf, pos, final)
		if err != nil {
			d.scanErr = err
			return newPos, err
		}
		if !ok {
			return newPos, nil
		}
		pos = newPos
		if err := d.apply(tok); err != nil {
			return pos, err
		}
	}
}

func (d *SeriesDecoder) apply(tok token) error {
	switch tok.kind {
	case tokPropertyName:
		d.onPropertyName(tok.str)
	case tokNumber:
		d.onNumber(tok)
	case tokNull:
		d.onNull()
	case tokString:
		if d.cur == curChartErrorDesc {
			d.providerErr = &ProviderError{Description: tok.str}
			return d.providerErr
		}
	case tokStartObject:
		d.onStartObject()
	case tokEndObject:
		d.onEndObject()
	case tokEndArray:
		d.onEndArray()
	}
	return nil
}

// onPropertyName repositions the cursor. A name only moves the cursor when
// its capability was requested, so unrequested sections are scanned but
// never materialized.
func (d *SeriesDecoder) onPropertyName(name string) {
	switch {
	case name == "timestamp" && (d.need.Has(NeedAdjClose) || d.need.Has(NeedOHLCV)):
		d.cur = curDate
	case name == "adjclose" && d.need.Has(NeedAdjClose):
		d.cur = curAdjClose
	case name == "splits" && d.need.Has(NeedSplit):
		d.cur = curSplit
		d.splitDepth = 0
	case name == "dividends" && d.need.Has(NeedDividend):
		d.cur = curDividend
		d.divDepth = 0
	case name == "open" && d.need.Has(NeedOHLCV):
		d.cur = curOpen
	case name == "close" && d.need.Has(NeedOHLCV):
		d.cur = curClose
	case name == "high" && d.need.Has(NeedOHLCV):
		d.cur = curHigh
	case name == "low" && d.need.Has(NeedOHLCV):
		d.cur = curLow
	case name == "volume" && d.need.Has(NeedOHLCV):
		d.cur = curVolume
	case name == "error":
		d.cur = curChartError
	}

	// Field names inside a split or dividend record are generic ("date"),
	// so they only move the cursor within the right family.
	if d.cur == curSplit || d.cur == curSplitDate || d.cur == curSplitNumerator {
		switch name {
		case "date":
			d.cur = curSplitDate
		case "numerator":
			d.cur = curSplitNumerator
		case "denominator":
			d.cur = curSplitDenominator
		}
	}
	if d.cur == curDividend || d.cur == curDividendAmount {
		switch name {
		case "amount":
			d.cur = curDividendAmount
		case "date":
			d.cur = curDividendDate
		}
	}
	if d.cur == curChartError && name == "description" {
		d.cur = curChartErrorDesc
	}
}

func (d *SeriesDecoder) onNumber(tok token) {
	switch d.cur {
	case curDate:
		d.series.Dates = append(d.series.Dates, epochDate(tok.i))
	case curAdjClose:
		d.series.AdjCloses = append(d.series.AdjCloses, float32(tok.f))
	case curSplitDate:
		d.pendingSp.Date = epochDate(tok.i)
	case curSplitNumerator:
		// arrives as 4.0 rather than 4 from some edges, hence via float
		d.pendingSp.SharesAfter = int(tok.f)
	case curSplitDenominator:
		d.pendingSp.SharesBefore = int(tok.f)
	case curDividendAmount:
		d.pendingDiv.Amount = float32(tok.f)
	case curDividendDate:
		d.pendingDiv.Date = epochDate(tok.i)
	case curOpen:
		d.series.Opens = append(d.series.Opens, float32(tok.f))
	case curClose:
		d.series.Closes = append(d.series.Closes, float32(tok.f))
	case curHigh:
		d.series.Highs = append(d.series.Highs, float32(tok.f))
	case curLow:
		d.series.Lows = append(d.series.Lows, float32(tok.f))
	case curVolume:
		d.series.Volumes = append(d.series.Volumes, tok.i)
	}
}

// onNull tolerates provider gap days: a null adjusted close becomes NaN
// instead of failing the decode. "error": null is the success case.
func (d *SeriesDecoder) onNull() {
	switch d.cur {
	case curAdjClose:
		d.series.AdjCloses = append(d.series.AdjCloses, float32(math.NaN()))
	case curChartError:
		d.cur = curUnknown
	}
}

func (d *SeriesDecoder) onStartObject() {
	switch d.cur {
	case curSplit:
		d.splitDepth++
		if d.splitDepth == 2 {
			d.pendingSp = Split{}
		}
	case curDividend:
		d.divDepth++
		if d.divDepth == 2 {
			d.pendingDiv = Dividend{}
		}
	}
}

func (d *SeriesDecoder) onEndObject() {
	switch d.cur {
	case curSplitDenominator: // the record's terminal field
		d.splitDepth--
		d.series.Splits = append(d.series.Splits, d.pendingSp)
		d.cur = curSplit
	case curSplit: // leaving the splits map itself
		d.splitDepth--
		d.cur = curUnknown
	case curDividendDate:
		d.divDepth--
		d.series.Dividends = append(d.series.Dividends, d.pendingDiv)
		d.cur = curDividend
	case curDividend:
		d.divDepth--
		d.cur = curUnknown
	case curChartError:
		d.cur = curUnknown
	}
}

func (d *SeriesDecoder) onEndArray() {
	switch d.cur {
	case curDate, curAdjClose, curOpen, curClose, curHigh, curLow, curVolume:
		d.cur = curUnknown
	}
}

// epochDate converts provider epoch seconds to the trading date in ET.
func epochDate(sec int64) models.Date {
	return models.DateOf(time.Unix(sec, 0).In(models.NewYork))
}
