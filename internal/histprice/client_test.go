package histprice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotecache/pkg/config"
)

func testClient(baseURL string) *Client {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewClient(&config.ProviderConfig{
		ChartURL:         baseURL,
		ThrottleInterval: time.Millisecond,
		RequestTimeout:   5 * time.Second,
		MaxRetries:       3,
		RetryPause:       time.Millisecond,
	}, logger)
}

func TestGetHist(t *testing.T) {
	var gotPath, gotEvents atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		gotEvents.Store(r.URL.Query().Get("events"))
		w.Write([]byte(chartJSON))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	series, err := c.GetHist(context.Background(), Request{
		Ticker: "QQQ",
		Need:   NeedAdjClose | NeedSplit | NeedDividend,
		Start:  time.Date(2020, 8, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Len(t, series.Dates, 3)
	assert.Equal(t, "/QQQ", gotPath.Load())
	assert.Equal(t, "history,split,dividend", gotEvents.Load())
}

func TestGetHistRetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(chartJSON))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	series, err := c.GetHist(context.Background(), Request{Ticker: "QQQ", Need: NeedAdjClose})
	require.NoError(t, err)
	assert.Len(t, series.Dates, 3)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetHistGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.GetHist(context.Background(), Request{Ticker: "QQQ", Need: NeedAdjClose})
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGetHistProviderErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.GetHist(context.Background(), Request{Ticker: "NOPE", Need: NeedAdjClose})
	require.Error(t, err)

	var perr *ProviderError
	assert.True(t, errors.As(err, &perr))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "definitive provider errors are not retried")
}

func TestGetHistInvalidInterval(t *testing.T) {
	c := testClient("http://localhost:1")
	_, err := c.GetHist(context.Background(), Request{Ticker: "QQQ", Need: NeedAdjClose, Interval: "2d"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval")
}

func TestGetHistCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := testClient("http://localhost:1")
	_, err := c.GetHist(ctx, Request{Ticker: "QQQ", Need: NeedAdjClose})
	require.Error(t, err)
}
