package messaging

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotecache/pkg/config"
)

// newTestClient connects to a local server when one is running and skips
// the test otherwise, so the suite stays green on machines without NATS.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	cfg := &config.NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnect:  1,
		ReconnectWait: time.Second,
	}
	nc, err := NewNATSClient(cfg, logger)
	if err != nil {
		t.Skipf("nats server not available: %v", err)
	}
	t.Cleanup(func() { nc.Close() })
	return nc
}

func TestQuoteRoundTrip(t *testing.T) {
	nc := newTestClient(t)

	got := make(chan *QuoteUpdate, 1)
	require.NoError(t, nc.SubscribeQuotes(func(u *QuoteUpdate) { got <- u }, "QQQ"))

	update := &QuoteUpdate{
		AssetID:     "2:7",
		Ticker:      "QQQ",
		LastPrice:   101.5,
		PriorClose:  99.0,
		SourceField: "regularMarketPrice",
		Phase:       "Regular",
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, nc.PublishQuote(update))

	select {
	case u := <-got:
		assert.Equal(t, "QQQ", u.Ticker)
		assert.Equal(t, 101.5, u.LastPrice)
		assert.Equal(t, 99.0, u.PriorClose)
	case <-time.After(5 * time.Second):
		t.Fatal("quote update not delivered")
	}

	require.NoError(t, nc.Unsubscribe("quotes.QQQ"))
}

func TestHistoryRefreshedRoundTrip(t *testing.T) {
	nc := newTestClient(t)

	got := make(chan *HistoryRefreshed, 1)
	require.NoError(t, nc.SubscribeHistoryRefreshed(func(e *HistoryRefreshed) { got <- e }))

	event := &HistoryRefreshed{
		AssetID:   "2:7",
		Ticker:    "QQQ",
		Days:      3,
		FirstDate: 20200831,
		LastDate:  20200902,
		Timestamp: time.Now(),
	}
	require.NoError(t, nc.PublishHistoryRefreshed(event))

	select {
	case e := <-got:
		assert.Equal(t, "QQQ", e.Ticker)
		assert.Equal(t, 3, e.Days)
	case <-time.After(5 * time.Second):
		t.Fatal("history event not delivered")
	}
}
