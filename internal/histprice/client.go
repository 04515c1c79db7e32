package histprice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quotecache/internal/throttle"
	"github.com/quotecache/pkg/config"
)

// Interval is the provider's bar-interval enumeration.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval2m  Interval = "2m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval60m Interval = "60m"
	Interval90m Interval = "90m"
	Interval1h  Interval = "1h"
	Interval1d  Interval = "1d"
	Interval5d  Interval = "5d"
	Interval1wk Interval = "1wk"
	Interval1mo Interval = "1mo"
	Interval3mo Interval = "3mo"
)

var validIntervals = map[Interval]bool{
	Interval1m: true, Interval2m: true, Interval5m: true, Interval15m: true,
	Interval30m: true, Interval60m: true, Interval90m: true, Interval1h: true,
	Interval1d: true, Interval5d: true, Interval1wk: true, Interval1mo: true,
	Interval3mo: true,
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"

// Request describes one historical pull. Immutable; built per call.
type Request struct {
	Ticker   string
	Need     DataNeed
	Start    time.Time // zero means the Unix epoch (full history)
	End      time.Time // zero means now
	Interval Interval  // empty means daily
}

// Client downloads and incrementally decodes historical series. Downloads
// are admission-throttled; decode runs synchronously between reads.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	throttle   *throttle.Throttle
	maxRetries int
	retryPause time.Duration
	logger     *logrus.Entry

	// chunk buffer size; QQQ's full OHLCV history is ~700KB
	readBufSize int
}

// NewClient creates a historical price client for one provider.
func NewClient(cfg *config.ProviderConfig, logger *logrus.Logger) *Client {
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:     cfg.ChartURL,
		userAgent:   ua,
		throttle:    throttle.New(cfg.ThrottleInterval),
		maxRetries:  cfg.MaxRetries,
		retryPause:  cfg.RetryPause,
		logger:      logger.WithField("component", "histprice"),
		readBufSize: 64 * 1024,
	}
}

// Throttle exposes the client's admission gate so companion fetchers
// against the same provider share it.
func (c *Client) Throttle() *throttle.Throttle {
	return c.throttle
}

// GetHist downloads one ticker's history. The provider is unreliable, so
// transient failures are retried a few times with a pause; decode errors
// are not retried on ErrTruncated-style partial data, only on transport
// failures.
func (c *Client) GetHist(ctx context.Context, req Request) (*Series, error) {
	if req.Interval == "" {
		req.Interval = Interval1d
	}
	if !validIntervals[req.Interval] {
		return nil, fmt.Errorf("histprice: invalid interval %q", req.Interval)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		series, err := c.downloadAndDecode(ctx, req)
		if err == nil {
			return series, nil
		}
		lastErr = err
		if !isTransient(err) {
			return series, err
		}
		c.logger.WithError(err).WithFields(logrus.Fields{
			"ticker":  req.Ticker,
			"attempt": attempt,
		}).Info("Transient download failure, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryPause):
		}
	}
	return nil, fmt.Errorf("histprice: download failed for %s after %d tries: %w", req.Ticker, c.maxRetries, lastErr)
}

// downloadAndDecode performs one throttled fetch. All waiting (throttle,
// network reads) happens between chunks; the decode of each chunk runs to
// completion without suspending.
func (c *Client) downloadAndDecode(ctx context.Context, req Request) (*Series, error) {
	// Wait for admission, then release before I/O so downloads overlap.
	if err := c.throttle.Acquire(ctx); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.chartURL(req), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &httpError{status: resp.StatusCode, body: string(body)}
	}

	decoder := NewSeriesDecoder(req.Need)
	buf := make([]byte, c.readBufSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := decoder.Write(buf[:n]); err != nil {
				return nil, err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read response: %w", readErr)
		}
	}

	series, err := decoder.Finish()
	if err != nil {
		// Partial results (truncated stream) are returned alongside the
		// error; the caller decides whether they are usable.
		c.logger.WithError(err).WithField("ticker", req.Ticker).Warn("Decode finished with error")
		return series, err
	}

	c.logger.WithFields(logrus.Fields{
		"ticker":   req.Ticker,
		"days":     len(series.Dates),
		"duration": time.Since(start).Milliseconds(),
	}).Debug("Downloaded historical series")

	return series, nil
}

func (c *Client) chartURL(req Request) string {
	period1 := "0"
	if !req.Start.IsZero() {
		period1 = strconv.FormatInt(req.Start.Unix(), 10)
	}
	period2 := strconv.FormatInt(time.Now().Unix(), 10)
	if !req.End.IsZero() {
		period2 = strconv.FormatInt(req.End.Unix(), 10)
	}

	params := url.Values{}
	params.Set("period1", period1)
	params.Set("period2", period2)
	params.Set("interval", string(req.Interval))
	params.Set("events", req.Need.events())
	return fmt.Sprintf("%s/%s?%s", c.baseURL, url.PathEscape(req.Ticker), params.Encode())
}

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("histprice: API error: status=%d, body=%s", e.status, e.body)
}

// isTransient reports whether an error is worth a retry: transport
// failures and rate-limit or server-side HTTP statuses.
func isTransient(err error) bool {
	if he, ok := err.(*httpError); ok {
		return he.status == http.StatusTooManyRequests || he.status >= 500
	}
	switch err.(type) {
	case *ProviderError:
		return false
	}
	// Decode errors carry definitive data problems, not transport flakes.
	if errors.Is(err, ErrLengthMismatch) || errors.Is(err, ErrTruncated) {
		return false
	}
	return true
}
