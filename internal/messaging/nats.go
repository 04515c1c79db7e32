package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/quotecache/pkg/config"
	"github.com/quotecache/pkg/models"
)

// QuoteUpdate is the wire form of a real-time quote refresh for one asset.
type QuoteUpdate struct {
	AssetID     string    `json:"assetId"`
	Ticker      string    `json:"ticker"`
	LastPrice   float64   `json:"lastPrice"`
	PriorClose  float64   `json:"priorClose"`
	SourceField string    `json:"sourceField"`
	Phase       string    `json:"phase"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HistoryRefreshed announces that an asset's stored historical series was
// replaced.
type HistoryRefreshed struct {
	AssetID   string      `json:"assetId"`
	Ticker    string      `json:"ticker"`
	Days      int         `json:"days"`
	FirstDate models.Date `json:"firstDate"`
	LastDate  models.Date `json:"lastDate"`
	Timestamp time.Time   `json:"timestamp"`
}

// NATSClient publishes quote and history refresh events for downstream
// consumers (dashboards, backtesters).
type NATSClient struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
	cfg    *config.NATSConfig

	subs   map[string]*nats.Subscription
	subsMu sync.Mutex
}

// NewNATSClient connects and ensures the streams exist.
func NewNATSClient(cfg *config.NATSConfig, logger *logrus.Logger) (*NATSClient, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	nc := &NATSClient{
		conn:   conn,
		js:     js,
		logger: logger.WithField("component", "nats"),
		cfg:    cfg,
		subs:   make(map[string]*nats.Subscription),
	}

	if err := nc.initializeStreams(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize streams: %w", err)
	}

	return nc, nil
}

// Close closes all subscriptions and the connection.
func (nc *NATSClient) Close() error {
	nc.subsMu.Lock()
	for _, sub := range nc.subs {
		sub.Unsubscribe()
	}
	nc.subs = make(map[string]*nats.Subscription)
	nc.subsMu.Unlock()

	nc.conn.Close()
	return nil
}

// IsConnected checks if NATS is connected.
func (nc *NATSClient) IsConnected() bool {
	return nc.conn.IsConnected()
}

// Drain drains the connection for graceful shutdown.
func (nc *NATSClient) Drain() error {
	return nc.conn.Drain()
}

func (nc *NATSClient) initializeStreams() error {
	// Quote updates are ephemeral; a consumer that was away does not
	// need more than the current trading day.
	_, err := nc.js.AddStream(&nats.StreamConfig{
		Name:     "QUOTES",
		Subjects: []string{"quotes.>"},
		Storage:  nats.MemoryStorage,
		MaxAge:   24 * time.Hour,
		MaxMsgs:  1000000,
		Replicas: 1,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return fmt.Errorf("failed to create QUOTES stream: %w", err)
	}

	// History refreshes are rare and worth replaying after a restart.
	_, err = nc.js.AddStream(&nats.StreamConfig{
		Name:     "HISTORY",
		Subjects: []string{"history.>"},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
		MaxMsgs:  100000,
		Replicas: 1,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return fmt.Errorf("failed to create HISTORY stream: %w", err)
	}

	return nil
}

// PublishQuote publishes one asset's refreshed quote under
// "quotes.<ticker>".
func (nc *NATSClient) PublishQuote(update *QuoteUpdate) error {
	subject := fmt.Sprintf("quotes.%s", update.Ticker)
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal quote update: %w", err)
	}

	future, err := nc.js.PublishAsync(subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish quote update: %w", err)
	}
	select {
	case <-future.Ok():
		return nil
	case err := <-future.Err():
		return fmt.Errorf("failed to publish quote update: %w", err)
	case <-time.After(2 * time.Second):
		return fmt.Errorf("publish timeout for subject %s", subject)
	}
}

// PublishQuoteBatch publishes a batch of refreshed quotes.
func (nc *NATSClient) PublishQuoteBatch(updates []*QuoteUpdate) error {
	for _, u := range updates {
		if err := nc.PublishQuote(u); err != nil {
			return err
		}
	}
	return nil
}

// PublishHistoryRefreshed publishes a history replacement notice under
// "history.refreshed.<ticker>".
func (nc *NATSClient) PublishHistoryRefreshed(event *HistoryRefreshed) error {
	subject := fmt.Sprintf("history.refreshed.%s", event.Ticker)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal history event: %w", err)
	}
	if _, err := nc.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish history event: %w", err)
	}
	return nil
}

// SubscribeQuotes subscribes to quote updates, all tickers or a subset.
func (nc *NATSClient) SubscribeQuotes(handler func(*QuoteUpdate), tickers ...string) error {
	subjects := []string{"quotes.>"}
	if len(tickers) > 0 {
		subjects = subjects[:0]
		for _, t := range tickers {
			subjects = append(subjects, fmt.Sprintf("quotes.%s", t))
		}
	}
	for _, subject := range subjects {
		sub, err := nc.conn.Subscribe(subject, func(msg *nats.Msg) {
			var update QuoteUpdate
			if err := json.Unmarshal(msg.Data, &update); err != nil {
				nc.logger.WithError(err).Error("Failed to unmarshal quote update")
				return
			}
			handler(&update)
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		nc.subsMu.Lock()
		nc.subs[subject] = sub
		nc.subsMu.Unlock()
	}
	return nil
}

// SubscribeHistoryRefreshed subscribes to history replacement notices.
func (nc *NATSClient) SubscribeHistoryRefreshed(handler func(*HistoryRefreshed)) error {
	subject := "history.refreshed.*"
	sub, err := nc.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event HistoryRefreshed
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			nc.logger.WithError(err).Error("Failed to unmarshal history event")
			return
		}
		handler(&event)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to history events: %w", err)
	}

	nc.subsMu.Lock()
	nc.subs[subject] = sub
	nc.subsMu.Unlock()

	return nil
}

// Unsubscribe removes one subject's subscription.
func (nc *NATSClient) Unsubscribe(subject string) error {
	nc.subsMu.Lock()
	defer nc.subsMu.Unlock()

	if sub, exists := nc.subs[subject]; exists {
		if err := sub.Unsubscribe(); err != nil {
			return fmt.Errorf("failed to unsubscribe: %w", err)
		}
		delete(nc.subs, subject)
	}
	return nil
}
