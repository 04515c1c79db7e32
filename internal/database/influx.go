package database

import (
	"context"
	"fmt"
	"math"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/quotecache/internal/histprice"
	"github.com/quotecache/pkg/config"
	"github.com/quotecache/pkg/models"
)

// InfluxClient mirrors decoded daily OHLCV bars into InfluxDB so charting
// tools can query them without touching the compressed blobs in Redis.
type InfluxClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	logger   *logrus.Entry
	cfg      *config.InfluxConfig
}

// NewInfluxClient creates a new InfluxDB client
func NewInfluxClient(cfg *config.InfluxConfig, logger *logrus.Logger) *InfluxClient {
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds())).
			SetLogLevel(0),
	)

	return &InfluxClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		logger:   logger.WithField("component", "influxdb"),
		cfg:      cfg,
	}
}

// Close closes the InfluxDB client
func (ic *InfluxClient) Close() {
	ic.client.Close()
}

// Health checks InfluxDB health
func (ic *InfluxClient) Health(ctx context.Context) error {
	health, err := ic.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influxdb health check failed: %s", msg)
	}
	return nil
}

// WriteBars writes one ticker's daily OHLCV series. Days whose adjusted
// close is the NaN gap sentinel are skipped.
func (ic *InfluxClient) WriteBars(ctx context.Context, ticker string, series *histprice.Series) error {
	if len(series.Opens) == 0 {
		return nil
	}

	points := make([]*write.Point, 0, len(series.Dates))
	for i, d := range series.Dates {
		if i >= len(series.Opens) {
			break
		}
		fields := map[string]interface{}{
			"open":   series.Opens[i],
			"high":   series.Highs[i],
			"low":    series.Lows[i],
			"close":  series.Closes[i],
			"volume": series.Volumes[i],
		}
		if i < len(series.AdjCloses) && !math.IsNaN(float64(series.AdjCloses[i])) {
			fields["adjclose"] = series.AdjCloses[i]
		}
		point := influxdb2.NewPoint(
			"daily_bars",
			map[string]string{"ticker": ticker},
			fields,
			d.Time(models.NewYork),
		)
		points = append(points, point)
	}

	if err := ic.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write bars for %s: %w", ticker, err)
	}

	ic.logger.WithFields(logrus.Fields{
		"ticker": ticker,
		"bars":   len(points),
	}).Debug("Mirrored daily bars")

	return nil
}
