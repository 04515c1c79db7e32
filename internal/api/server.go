package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/quotecache/internal/database"
	"github.com/quotecache/internal/memdb"
	"github.com/quotecache/internal/messaging"
	"github.com/quotecache/internal/store"
	"github.com/quotecache/pkg/config"
	"github.com/quotecache/pkg/models"
)

// Server is the read-only HTTP surface over the in-memory views and the
// blob store.
type Server struct {
	cfg        *config.Config
	logger     *logrus.Logger
	router     *mux.Router
	httpServer *http.Server

	memDb      *memdb.MemDb
	quoteStore *store.AssetQuoteStore
	redis      *database.RedisClient
	natsClient *messaging.NATSClient
}

// NewServer creates the API server.
func NewServer(cfg *config.Config, logger *logrus.Logger, m *memdb.MemDb, st *store.AssetQuoteStore, redis *database.RedisClient, nats *messaging.NATSClient) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     logger,
		memDb:      m,
		quoteStore: st,
		redis:      redis,
		natsClient: nats,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	if s.cfg.Server.CORSEnabled {
		s.router.Use(s.corsMiddleware)
	}

	apiV1 := s.router.PathPrefix("/api/v1").Subrouter()

	apiV1.HandleFunc("/health", s.handleHealth).Methods("GET")
	apiV1.HandleFunc("/assets", s.handleGetAssets).Methods("GET")
	apiV1.HandleFunc("/quotes/{ticker}", s.handleGetQuote).Methods("GET")
	apiV1.HandleFunc("/history/{ticker}", s.handleGetHistory).Methods("GET")
}

// Start starts the HTTP server and blocks.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.GetServerAddr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.logger.WithField("address", s.httpServer.Addr).Info("Starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.statusCode,
			"duration": time.Since(start),
			"remote":   r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.WithFields(logrus.Fields{
					"error": err,
					"path":  r.URL.Path,
				}).Error("Panic recovered")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(next)
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	redisOK := s.redis != nil && s.redis.Health(r.Context()) == nil
	health := map[string]any{
		"status": "healthy",
		"services": map[string]bool{
			"redis": redisOK,
			"nats":  s.natsClient != nil && s.natsClient.IsConnected(),
		},
		"assets":    len(s.memDb.Assets()),
		"timestamp": time.Now().Unix(),
	}
	if !redisOK {
		health["status"] = "degraded"
	}
	writeJSON(w, http.StatusOK, health)
}

type assetView struct {
	ID       string `json:"id"`
	Ticker   string `json:"ticker"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	User     string `json:"user,omitempty"`
}

func (s *Server) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.memDb.Assets()
	out := make([]assetView, 0, len(assets))
	for _, a := range assets {
		v := assetView{
			ID:       a.ID.String(),
			Ticker:   a.Ticker,
			Name:     a.Name,
			Currency: a.Currency,
		}
		if a.User != nil {
			v.User = a.User.Username
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	asset, ok := s.memDb.AssetByTicker(ticker)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown ticker %q", ticker), http.StatusNotFound)
		return
	}
	q := asset.Quote
	writeJSON(w, http.StatusOK, map[string]any{
		"ticker":      asset.Ticker,
		"lastPrice":   q.LastPrice,
		"priorClose":  q.PriorClose,
		"sourceField": q.SourceField,
		"phase":       q.Phase.String(),
		"updatedAt":   q.UpdatedAt,
	})
}

type historyPoint struct {
	Date  models.Date `json:"date"`
	Close float64     `json:"close"`
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	asset, ok := s.memDb.AssetByTicker(ticker)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown ticker %q", ticker), http.StatusNotFound)
		return
	}

	text, found, err := s.quoteStore.GetQuoteRaw(r.Context(), asset.ID)
	if err != nil {
		s.logger.WithError(err).WithField("ticker", ticker).Error("History fetch failed")
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, fmt.Sprintf("no stored history for %q", ticker), http.StatusNotFound)
		return
	}

	dates, closes, err := store.ParseDailyCloses(text)
	if err != nil {
		s.logger.WithError(err).WithField("ticker", ticker).Error("Stored history is malformed")
		http.Error(w, "stored history is malformed", http.StatusInternalServerError)
		return
	}

	points := make([]historyPoint, len(dates))
	for i := range dates {
		points[i] = historyPoint{Date: dates[i], Close: closes[i]}
	}
	writeJSON(w, http.StatusOK, points)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
