// Package server exposes the accounting services over HTTP and relays bus
// events to WebSocket clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/ratecore/internal/domain"
	"github.com/alanyoungcy/ratecore/internal/server/handler"
	"github.com/alanyoungcy/ratecore/internal/server/middleware"
	"github.com/alanyoungcy/ratecore/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit caps mutating requests per client IP per RateWindow. Zero
	// disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server registers. Snapshots
// and Audit may be nil when the mode has no object store.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Indexes   *handler.IndexHandler
	Swaps     *handler.SwapHandler
	Soap      *handler.SoapHandler
	Liquidity *handler.LiquidityHandler
	Audit     *handler.AuditHandler
	Snapshots *handler.SnapshotHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on a ServeMux
// and wrapped in the middleware chain.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      newHandler(cfg, handlers, wsHub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

func newHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/indexes", handlers.Indexes.ListIndexes)
	mux.HandleFunc("GET /api/indexes/{asset}", handlers.Indexes.GetIndex)
	mux.HandleFunc("POST /api/indexes/{asset}", handlers.Indexes.PublishIndex)
	mux.HandleFunc("GET /api/indexes/{asset}/ibt-price", handlers.Indexes.IbtPrice)

	mux.HandleFunc("POST /api/swaps/size", handlers.Swaps.Size)
	mux.HandleFunc("POST /api/swaps/open", handlers.Swaps.OpenSwap)
	mux.HandleFunc("POST /api/swaps/close", handlers.Swaps.CloseSwap)
	mux.HandleFunc("POST /api/swaps/preview-rate", handlers.Swaps.PreviewRate)

	mux.HandleFunc("GET /api/soap/{asset}", handlers.Soap.GetSoap)

	mux.HandleFunc("GET /api/liquidity/{asset}/exchange-rate", handlers.Liquidity.ExchangeRate)
	mux.HandleFunc("GET /api/liquidity/{asset}/deposit", handlers.Liquidity.DepositQuote)
	mux.HandleFunc("GET /api/liquidity/{asset}/redeem", handlers.Liquidity.RedeemQuote)

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
	}
	if handlers.Snapshots != nil {
		mux.HandleFunc("POST /api/snapshots", handlers.Snapshots.TakeSnapshot)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
