package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quotecache/internal/memdb"
	"github.com/quotecache/internal/messaging"
	"github.com/quotecache/internal/rt"
	"github.com/quotecache/pkg/config"
	"github.com/quotecache/pkg/logger"
	"github.com/quotecache/pkg/models"
)

// RtRefresher keeps asset quotes fresh: a high-frequency loop refreshes
// last prices while a session is open, and a low-frequency loop refreshes
// prior closes as well, covering phase transitions. It also polls the
// KV store for configuration changes and swaps the asset set in place.
type RtRefresher struct {
	memDb  *memdb.MemDb
	quotes *rt.Client
	nats   *messaging.NATSClient
	cfg    *config.RefreshConfig
	logger *logrus.Entry

	assets []*models.Asset
}

func NewRtRefresher(m *memdb.MemDb, quotes *rt.Client, nats *messaging.NATSClient, cfg *config.RefreshConfig, log *logrus.Logger) *RtRefresher {
	return &RtRefresher{
		memDb:  m,
		quotes: quotes,
		nats:   nats,
		cfg:    cfg,
		logger: logger.WithComponent(log, "rt-refresher"),
	}
}

// Run blocks until the context is cancelled. The first KV poll must
// succeed; later poll failures are logged and retried on the next tick.
func (s *RtRefresher) Run(ctx context.Context) error {
	snap, err := s.memDb.PollForChanges(ctx)
	if err != nil {
		return err
	}
	s.assets = snap.Assets
	s.logger.WithField("assets", len(s.assets)).Info("RT refresher started")

	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()
	high := time.NewTicker(s.cfg.HighFreqInterval)
	defer high.Stop()
	low := time.NewTicker(s.cfg.LowFreqInterval)
	defer low.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-poll.C:
			snap, err := s.memDb.PollForChanges(ctx)
			if err != nil {
				s.logger.WithError(err).Error("KV poll failed")
				continue
			}
			if snap.Changed {
				s.assets = snap.Assets
				s.logger.WithField("assets", len(s.assets)).Info("Asset set reloaded")
			}

		case <-high.C:
			phase := models.SessionPhaseAt(time.Now())
			if phase == models.SessionClosed {
				continue
			}
			s.refresh(ctx, phase)

		case <-low.C:
			// Refresh even while closed so prior closes settle after
			// the post-market ends.
			s.refresh(ctx, models.SessionPhaseAt(time.Now()))
		}
	}
}

func (s *RtRefresher) refresh(ctx context.Context, phase models.SessionPhase) {
	tradable := tradableAssets(s.assets)
	if len(tradable) == 0 {
		return
	}
	if err := s.quotes.RefreshQuotes(ctx, phase, tradable); err != nil {
		s.logger.WithError(err).Warn("Quote refresh failed")
		return
	}
	s.publish(tradable)
}

func (s *RtRefresher) publish(assets []*models.Asset) {
	if s.nats == nil {
		return
	}
	updates := make([]*messaging.QuoteUpdate, 0, len(assets))
	for _, a := range assets {
		if !a.Quote.HasLastPrice() {
			continue
		}
		updates = append(updates, &messaging.QuoteUpdate{
			AssetID:     a.ID.String(),
			Ticker:      a.Ticker,
			LastPrice:   a.Quote.LastPrice,
			PriorClose:  a.Quote.PriorClose,
			SourceField: a.Quote.SourceField,
			Phase:       a.Quote.Phase.String(),
			UpdatedAt:   a.Quote.UpdatedAt,
		})
	}
	if err := s.nats.PublishQuoteBatch(updates); err != nil {
		s.logger.WithError(err).Warn("Quote publish failed")
	}
}

// tradableAssets filters out asset types that have no provider ticker.
func tradableAssets(assets []*models.Asset) []*models.Asset {
	out := make([]*models.Asset, 0, len(assets))
	for _, a := range assets {
		switch a.ID.Type() {
		case models.AssetTypeCash, models.AssetTypeBrokerNAV:
			continue
		}
		if a.Ticker == "" {
			continue
		}
		out = append(out, a)
	}
	return out
}
