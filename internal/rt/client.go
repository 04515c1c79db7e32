package rt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quotecache/internal/throttle"
	"github.com/quotecache/pkg/config"
	"github.com/quotecache/pkg/models"
)

const rtUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"

// Client fetches real-time quotes for a batch of symbols in one request
// and applies phase-dependent field selection to the results.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	throttle   *throttle.Throttle
	selector   *Selector
	logger     *logrus.Entry
}

// NewClient creates a real-time quote client. The throttle is shared with
// the historical client so both respect one admission rate per provider.
func NewClient(cfg *config.ProviderConfig, gate *throttle.Throttle, logger *logrus.Logger) *Client {
	ua := cfg.UserAgent
	if ua == "" {
		ua = rtUserAgent
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    cfg.QuoteURL,
		userAgent:  ua,
		throttle:   gate,
		selector:   NewSelector(logger),
		logger:     logger.WithField("component", "rt"),
	}
}

type quoteEnvelope struct {
	QuoteResponse struct {
		Result []Record `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteResponse"`
}

// RefreshQuotes downloads current quotes for the assets and updates each
// asset's quote in place. Assets without a ticker are skipped.
func (c *Client) RefreshQuotes(ctx context.Context, phase models.SessionPhase, assets []*models.Asset) error {
	queried := make([]*models.Asset, 0, len(assets))
	symbols := make([]string, 0, len(assets))
	for _, a := range assets {
		if a.Ticker == "" {
			continue
		}
		queried = append(queried, a)
		symbols = append(symbols, a.Ticker)
	}
	if len(queried) == 0 {
		return nil
	}

	if err := c.throttle.Acquire(ctx); err != nil {
		return err
	}

	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))
	params.Set("fields", strings.Join(c.selector.QueryFields(phase), ","))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("rt: API error: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var env quoteEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode quote response: %w", err)
	}
	if e := env.QuoteResponse.Error; e != nil {
		return fmt.Errorf("rt: provider error: %s: %s", e.Code, e.Description)
	}

	records := make(map[string]Record, len(env.QuoteResponse.Result))
	for _, rec := range env.QuoteResponse.Result {
		if sym, ok := rec["symbol"].(string); ok {
			records[sym] = rec
		}
	}
	c.selector.Apply(phase, records, queried)

	c.logger.WithFields(logrus.Fields{
		"phase":    phase.String(),
		"symbols":  len(queried),
		"duration": time.Since(start).Milliseconds(),
	}).Debug("Refreshed real-time quotes")

	return nil
}
