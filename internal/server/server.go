// Package server exposes the governance engine over a JSON HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/futarchlabs/futarchd/internal/server/handler"
	"github.com/futarchlabs/futarchd/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Proposals *handler.ProposalHandler
	Vaults    *handler.VaultHandler
	Markets   *handler.MarketHandler
	Events    *handler.EventsHandler
	Audit     *handler.AuditHandler
}

// Server is the HTTP API server for the futarchy daemon.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux
// behind the logging and CORS middleware.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Proposal lifecycle.
	mux.HandleFunc("GET /api/proposals", handlers.Proposals.ListProposals)
	mux.HandleFunc("POST /api/proposals", handlers.Proposals.CreateProposal)
	mux.HandleFunc("GET /api/proposals/{id}", handlers.Proposals.GetProposal)
	mux.HandleFunc("POST /api/proposals/{id}/initialize", handlers.Proposals.InitializeProposal)
	mux.HandleFunc("POST /api/proposals/{id}/finalize", handlers.Proposals.FinalizeProposal)
	mux.HandleFunc("POST /api/proposals/{id}/execute", handlers.Proposals.ExecuteProposal)
	mux.HandleFunc("GET /api/proposals/{id}/observations", handlers.Proposals.ListObservations)
	mux.HandleFunc("GET /api/proposals/{id}/twap", handlers.Proposals.GetTWAP)

	// Conditional vaults.
	mux.HandleFunc("GET /api/proposals/{id}/vaults/{leg}", handlers.Vaults.GetVault)
	mux.HandleFunc("GET /api/proposals/{id}/vaults/{leg}/balance", handlers.Vaults.GetBalance)
	mux.HandleFunc("POST /api/proposals/{id}/vaults/{leg}/deposit", handlers.Vaults.Deposit)
	mux.HandleFunc("POST /api/proposals/{id}/vaults/{leg}/split", handlers.Vaults.Split)
	mux.HandleFunc("POST /api/proposals/{id}/vaults/{leg}/merge", handlers.Vaults.Merge)
	mux.HandleFunc("POST /api/proposals/{id}/vaults/{leg}/redeem", handlers.Vaults.Redeem)

	// Conditional markets.
	mux.HandleFunc("GET /api/proposals/{id}/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/proposals/{id}/prices", handlers.Markets.GetPrices)
	mux.HandleFunc("POST /api/proposals/{id}/markets/{side}/trade", handlers.Markets.Trade)

	// Lifecycle event stream.
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	// Audit log.
	mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
