package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quotecache/internal/database"
	"github.com/quotecache/internal/histprice"
	"github.com/quotecache/internal/memdb"
	"github.com/quotecache/internal/services"
	"github.com/quotecache/internal/store"
	"github.com/quotecache/pkg/config"
	"github.com/quotecache/pkg/logger"
)

var backfillTicker string

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill historical price data",
	Long: `Download historical series for the wanted assets and store them as
compressed blobs in the key-value store. Without flags every wanted asset
is refreshed from its expected history start date.

Examples:
  # Backfill every wanted asset
  quotecache backfill

  # Backfill a single ticker
  quotecache backfill --ticker QQQ`,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().StringVar(&backfillTicker, "ticker", "", "Only backfill this ticker")
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Printf("Note: .env file not loaded: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	redis, err := database.NewRedisClient(&cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redis.Close()

	var influx *database.InfluxClient
	if cfg.InfluxDB.Enabled {
		influx = database.NewInfluxClient(&cfg.InfluxDB, log)
		defer influx.Close()
	}

	m := memdb.New(redis, log)
	st := store.NewAssetQuoteStore(redis, log)
	hist := histprice.NewClient(&cfg.Provider, log)
	refresher := services.NewHistRefresher(m, hist, st, influx, nil, log)

	ctx := context.Background()
	if backfillTicker != "" {
		return refresher.RefreshTicker(ctx, backfillTicker)
	}
	return refresher.RefreshAll(ctx)
}
