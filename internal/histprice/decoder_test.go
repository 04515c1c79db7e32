package histprice

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotecache/pkg/models"
)

// Three trading days around the 2020-08-31 QQQ-style 4:1 split, with a
// null adjusted close on the middle day. Timestamps are 09:30 ET.
const chartJSON = `{"chart":{"result":[{"meta":{"currency":"USD","symbol":"QQQ","exchangeName":"PCX","regularMarketPrice":113.1,"firstTradeDate":922712400},"timestamp":[1598880600,1598967000,1599053400],"events":{"dividends":{"1598880600":{"amount":0.386,"date":1598880600}},"splits":{"1598880600":{"date":1598880600,"numerator":4,"denominator":1,"splitRatio":"4:1"}}},"indicators":{"quote":[{"open":[110.2,111.0,112.5],"close":[110.9,111.8,113.1],"high":[111.4,112.0,113.6],"low":[109.8,110.5,112.0],"volume":[31200000,28700000,30100000]}],"adjclose":[{"adjclose":[110.9,null,113.1]}]}}],"error":null}}`

func decodeAll(t *testing.T, need DataNeed, data string, chunkSize int) (*Series, error) {
	t.Helper()
	d := NewSeriesDecoder(need)
	for i := 0; i < len(data); i += chunkSize {
		end := i + chunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := d.Write([]byte(data[i:end])); err != nil {
			return nil, err
		}
	}
	return d.Finish()
}

func TestDecoderFullSeries(t *testing.T) {
	series, err := decodeAll(t, NeedAdjClose|NeedSplit|NeedDividend, chartJSON, len(chartJSON))
	require.NoError(t, err)

	assert.Equal(t, []models.Date{20200831, 20200901, 20200902}, series.Dates)

	require.Len(t, series.AdjCloses, 3)
	assert.InDelta(t, 110.9, series.AdjCloses[0], 1e-4)
	assert.True(t, math.IsNaN(float64(series.AdjCloses[1])), "halt day should be NaN")
	assert.InDelta(t, 113.1, series.AdjCloses[2], 1e-4)

	require.Len(t, series.Splits, 1)
	assert.Equal(t, Split{Date: 20200831, SharesBefore: 1, SharesAfter: 4}, series.Splits[0])

	require.Len(t, series.Dividends, 1)
	assert.Equal(t, models.Date(20200831), series.Dividends[0].Date)
	assert.InDelta(t, 0.386, series.Dividends[0].Amount, 1e-4)

	// not requested
	assert.Nil(t, series.Opens)
	assert.Nil(t, series.Volumes)
}

func TestDecoderThreeChunks(t *testing.T) {
	d := NewSeriesDecoder(NeedAdjClose | NeedSplit)
	third := len(chartJSON) / 3
	require.NoError(t, d.Write([]byte(chartJSON[:third])))
	require.NoError(t, d.Write([]byte(chartJSON[third:2*third])))
	require.NoError(t, d.Write([]byte(chartJSON[2*third:])))

	series, err := d.Finish()
	require.NoError(t, err)
	assert.Equal(t, []models.Date{20200831, 20200901, 20200902}, series.Dates)
	assert.True(t, math.IsNaN(float64(series.AdjCloses[1])))
	require.Len(t, series.Splits, 1)
}

// The result must not depend on where chunk boundaries fall.
func TestDecoderChunkBoundaryInvariance(t *testing.T) {
	want, err := decodeAll(t, NeedAdjClose|NeedOHLCV|NeedSplit|NeedDividend, chartJSON, len(chartJSON))
	require.NoError(t, err)

	for _, size := range []int{1, 2, 7, 64, 1000} {
		got, err := decodeAll(t, NeedAdjClose|NeedOHLCV|NeedSplit|NeedDividend, chartJSON, size)
		require.NoError(t, err, "chunk size %d", size)
		assert.Equal(t, want.Dates, got.Dates, "chunk size %d", size)
		assert.Equal(t, want.Opens, got.Opens, "chunk size %d", size)
		assert.Equal(t, want.Volumes, got.Volumes, "chunk size %d", size)
		assert.Equal(t, want.Splits, got.Splits, "chunk size %d", size)
		assert.Equal(t, want.Dividends, got.Dividends, "chunk size %d", size)
	}

	// random boundaries
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		d := NewSeriesDecoder(NeedAdjClose | NeedOHLCV | NeedSplit | NeedDividend)
		rest := []byte(chartJSON)
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			require.NoError(t, d.Write(rest[:n]))
			rest = rest[n:]
		}
		got, err := d.Finish()
		require.NoError(t, err)
		assert.Equal(t, want.Dates, got.Dates)
		assert.Equal(t, want.Closes, got.Closes)
	}
}

func TestDecoderCapabilityAllocation(t *testing.T) {
	series, err := decodeAll(t, NeedOHLCV, chartJSON, 50)
	require.NoError(t, err)

	assert.Nil(t, series.AdjCloses)
	assert.Nil(t, series.Splits)
	assert.Nil(t, series.Dividends)
	assert.Len(t, series.Opens, 3)
	assert.Len(t, series.Closes, 3)
	assert.Len(t, series.Highs, 3)
	assert.Len(t, series.Lows, 3)
	assert.Equal(t, []int64{31200000, 28700000, 30100000}, series.Volumes)
	assert.Len(t, series.Dates, 3)

	series, err = decodeAll(t, NeedSplit, chartJSON, 50)
	require.NoError(t, err)
	assert.Nil(t, series.Dates)
	assert.Nil(t, series.AdjCloses)
	require.Len(t, series.Splits, 1)
}

func TestDecoderLengthMismatch(t *testing.T) {
	data := `{"chart":{"result":[{"timestamp":[1598880600,1598967000,1599053400],"indicators":{"adjclose":[{"adjclose":[110.9,111.8]}]}}],"error":null}}`
	series, err := decodeAll(t, NeedAdjClose, data, len(data))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLengthMismatch))
	assert.Nil(t, series, "mismatched data is definitively corrupt")
}

func TestDecoderTruncatedStream(t *testing.T) {
	// the stream dies inside a string token, so leftover bytes remain
	data := `{"chart":{"result":[{"timestamp":[1598880600,1598967000],"indicators":{"adjclose":[{"adjclose":[110.9,111.8]}]},"meta":{"symbol":"QQ`
	d := NewSeriesDecoder(NeedAdjClose)
	require.NoError(t, d.Write([]byte(data)))

	series, err := d.Finish()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTruncated))
	require.NotNil(t, series, "partial arrays stay available to the caller")
	assert.Equal(t, []models.Date{20200831, 20200901}, series.Dates)
}

func TestDecoderProviderError(t *testing.T) {
	data := `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`

	d := NewSeriesDecoder(NeedAdjClose)
	err := d.Write([]byte(data))
	if err == nil {
		_, err = d.Finish()
	}
	require.Error(t, err)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "No data found, symbol may be delisted", perr.Description)
}

func TestDecoderErrorNullIsSuccess(t *testing.T) {
	series, err := decodeAll(t, NeedAdjClose, chartJSON, 10)
	require.NoError(t, err)
	assert.Len(t, series.Dates, 3)
}

func TestDecoderEscapedStrings(t *testing.T) {
	data := `{"chart":{"result":[{"meta":{"longName":"Fund \"A\" – series"},"timestamp":[1598880600],"indicators":{"adjclose":[{"adjclose":[12.5]}]}}],"error":null}}`
	series, err := decodeAll(t, NeedAdjClose, data, 3)
	require.NoError(t, err)
	assert.Equal(t, []models.Date{20200831}, series.Dates)
}
