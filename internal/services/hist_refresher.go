package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quotecache/internal/database"
	"github.com/quotecache/internal/histprice"
	"github.com/quotecache/internal/memdb"
	"github.com/quotecache/internal/messaging"
	"github.com/quotecache/internal/store"
	"github.com/quotecache/pkg/logger"
	"github.com/quotecache/pkg/models"
)

// HistRefresher backfills each wanted asset's historical series: download
// from the asset's expected start date, store the compressed daily blob,
// and optionally mirror full OHLCV bars into InfluxDB.
type HistRefresher struct {
	memDb  *memdb.MemDb
	hist   *histprice.Client
	store  *store.AssetQuoteStore
	influx *database.InfluxClient // nil when the bar mirror is disabled
	nats   *messaging.NATSClient
	logger *logrus.Entry
}

func NewHistRefresher(m *memdb.MemDb, hist *histprice.Client, st *store.AssetQuoteStore, influx *database.InfluxClient, nats *messaging.NATSClient, log *logrus.Logger) *HistRefresher {
	return &HistRefresher{
		memDb:  m,
		hist:   hist,
		store:  st,
		influx: influx,
		nats:   nats,
		logger: logger.WithComponent(log, "hist-refresher"),
	}
}

// Run backfills once at startup and then once per day. History changes
// rarely outside of splits; the daily pass picks those up.
func (s *HistRefresher) Run(ctx context.Context) error {
	if err := s.RefreshAll(ctx); err != nil {
		s.logger.WithError(err).Error("Initial backfill failed")
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RefreshAll(ctx); err != nil {
				s.logger.WithError(err).Error("Backfill failed")
			}
		}
	}
}

// RefreshAll downloads and stores history for every tradable wanted asset.
// A single asset's failure is logged and skipped; the pass continues.
func (s *HistRefresher) RefreshAll(ctx context.Context) error {
	snap, err := s.memDb.PollForChanges(ctx)
	if err != nil {
		return err
	}

	refreshed := 0
	for _, asset := range tradableAssets(snap.Assets) {
		if asset.ExpectedHistoryStart.IsZero() {
			continue
		}
		if err := s.refreshAsset(ctx, asset); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.WithError(err).WithField("ticker", asset.Ticker).Error("Asset backfill failed")
			continue
		}
		refreshed++
	}

	s.logger.WithField("assets", refreshed).Info("Backfill pass complete")
	return nil
}

// RefreshTicker backfills one ticker by name.
func (s *HistRefresher) RefreshTicker(ctx context.Context, ticker string) error {
	snap, err := s.memDb.PollForChanges(ctx)
	if err != nil {
		return err
	}
	for _, asset := range tradableAssets(snap.Assets) {
		if asset.Ticker == ticker {
			return s.refreshAsset(ctx, asset)
		}
	}
	return fmt.Errorf("ticker %q is not a wanted tradable asset", ticker)
}

func (s *HistRefresher) refreshAsset(ctx context.Context, asset *models.Asset) error {
	need := histprice.NeedAdjClose | histprice.NeedSplit | histprice.NeedDividend
	if s.influx != nil {
		need |= histprice.NeedOHLCV
	}

	series, err := s.hist.GetHist(ctx, histprice.Request{
		Ticker: asset.Ticker,
		Need:   need,
		Start:  asset.ExpectedHistoryStart,
	})
	if err != nil {
		return err
	}

	text, err := encodeSeriesBlob(series)
	if err != nil {
		return err
	}
	if err := s.store.SetQuoteRaw(ctx, asset.ID, text); err != nil {
		return err
	}

	if s.influx != nil {
		if err := s.influx.WriteBars(ctx, asset.Ticker, series); err != nil {
			// The blob is the system of record; the mirror is best effort.
			s.logger.WithError(err).WithField("ticker", asset.Ticker).Warn("Bar mirror write failed")
		}
	}

	if s.nats != nil && len(series.Dates) > 0 {
		event := &messaging.HistoryRefreshed{
			AssetID:   asset.ID.String(),
			Ticker:    asset.Ticker,
			Days:      len(series.Dates),
			FirstDate: series.Dates[0],
			LastDate:  series.Dates[len(series.Dates)-1],
			Timestamp: time.Now(),
		}
		if err := s.nats.PublishHistoryRefreshed(event); err != nil {
			s.logger.WithError(err).Warn("History event publish failed")
		}
	}

	return nil
}

// encodeSeriesBlob renders the adjusted-close columns into the stored
// text form. NaN days (provider halts) are dropped from the blob; the
// format has no missing-value representation.
func encodeSeriesBlob(series *histprice.Series) (string, error) {
	dates := make([]models.Date, 0, len(series.Dates))
	closes := make([]float64, 0, len(series.Dates))
	for i, d := range series.Dates {
		v := float64(series.AdjCloses[i])
		if math.IsNaN(v) {
			continue
		}
		dates = append(dates, d)
		closes = append(closes, v)
	}
	return store.EncodeDailyCloses(dates, closes)
}
