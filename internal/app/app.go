package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/quotecache/internal/api"
	"github.com/quotecache/internal/database"
	"github.com/quotecache/internal/histprice"
	"github.com/quotecache/internal/memdb"
	"github.com/quotecache/internal/messaging"
	"github.com/quotecache/internal/rt"
	"github.com/quotecache/internal/services"
	"github.com/quotecache/internal/store"
	"github.com/quotecache/pkg/config"
)

// App wires the market-data cache together: KV-backed in-memory views,
// provider clients, refresh services and the read-only HTTP surface.
type App struct {
	cfg    *config.Config
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	redis      *database.RedisClient
	influx     *database.InfluxClient
	natsClient *messaging.NATSClient

	memDb      *memdb.MemDb
	quoteStore *store.AssetQuoteStore
	histClient *histprice.Client
	rtClient   *rt.Client

	rtRefresher   *services.RtRefresher
	histRefresher *services.HistRefresher
	apiServer     *api.Server
}

// New creates a new application instance.
func New(cfg *config.Config, logger *logrus.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize connects external services and builds the component graph.
func (a *App) Initialize() error {
	redis, err := database.NewRedisClient(&a.cfg.Redis, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis at %s: %w", a.cfg.GetRedisAddr(), err)
	}
	a.redis = redis

	if a.cfg.InfluxDB.Enabled {
		a.influx = database.NewInfluxClient(&a.cfg.InfluxDB, a.logger)
	}

	natsClient, err := messaging.NewNATSClient(&a.cfg.NATS, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize NATS: %w", err)
	}
	a.natsClient = natsClient

	a.memDb = memdb.New(a.redis, a.logger)
	a.quoteStore = store.NewAssetQuoteStore(a.redis, a.logger)
	a.histClient = histprice.NewClient(&a.cfg.Provider, a.logger)
	a.rtClient = rt.NewClient(&a.cfg.Provider, a.histClient.Throttle(), a.logger)

	a.rtRefresher = services.NewRtRefresher(a.memDb, a.rtClient, a.natsClient, &a.cfg.Refresh, a.logger)
	a.histRefresher = services.NewHistRefresher(a.memDb, a.histClient, a.quoteStore, a.influx, a.natsClient, a.logger)
	a.apiServer = api.NewServer(a.cfg, a.logger, a.memDb, a.quoteStore, a.redis, a.natsClient)

	return nil
}

// Start launches the refresh services and the HTTP server.
func (a *App) Start() error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.rtRefresher.Run(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.WithError(err).Error("RT refresher stopped")
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.histRefresher.Run(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.WithError(err).Error("Historical refresher stopped")
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("HTTP server stopped")
			a.cancel()
		}
	}()

	a.logger.Info("Application started")
	return nil
}

// Stop shuts everything down in reverse dependency order.
func (a *App) Stop() error {
	a.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.WriteTimeout)
	defer cancel()
	if a.apiServer != nil {
		if err := a.apiServer.Stop(shutdownCtx); err != nil {
			a.logger.WithError(err).Error("HTTP server shutdown failed")
		}
	}

	a.wg.Wait()

	if a.natsClient != nil {
		a.natsClient.Drain()
		a.natsClient.Close()
	}
	if a.influx != nil {
		a.influx.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}

	a.logger.Info("Application stopped")
	return nil
}

// MemDb exposes the in-memory views for the maintenance commands.
func (a *App) MemDb() *memdb.MemDb { return a.memDb }

// HistRefresher exposes the backfill service for the maintenance commands.
func (a *App) HistRefresher() *services.HistRefresher { return a.histRefresher }
