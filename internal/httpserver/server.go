// Package httpserver exposes the client's local operational surface:
// health, metrics, a status snapshot and an admin price refresh hook.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"digigold/internal/nav"
	"digigold/internal/payment"
	"digigold/internal/prices"
	"digigold/internal/schemes"
	"digigold/internal/session"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies exposes the core components to handlers.
type Dependencies struct {
	Sessions *session.Manager
	Guard    *nav.Guard
	Prices   *prices.Poller
	Schemes  *schemes.Synchronizer
	Payments *payment.Flow
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	deps       Dependencies
}

// New creates the HTTP server listening on addr.
func New(addr string, deps Dependencies, logger *slog.Logger) *Server {
	server := &Server{
		logger: logger.With("component", "http"),
		deps:   deps,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/admin/refresh-prices", server.handleRefreshPrices)
	mux.HandleFunc("/admin/resubmit-receipts", server.handleResubmitReceipts)

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]any{}
	if s.deps.Sessions != nil {
		status["session_state"] = s.deps.Sessions.State().String()
	}
	if s.deps.Guard != nil {
		status["current_route"] = string(s.deps.Guard.Current())
	}
	if s.deps.Prices != nil {
		snap, ok := s.deps.Prices.Snapshot()
		status["prices_available"] = ok
		if ok {
			status["gold_price_per_gram"] = snap.GoldPricePerGram
			status["silver_price_per_gram"] = snap.SilverPricePerGram
			status["prices_observed_at"] = snap.ObservedAt.Format(time.RFC3339)
		}
	}
	if s.deps.Schemes != nil {
		status["schemes_cached"] = len(s.deps.Schemes.Schemes())
		status["schemes_loading"] = s.deps.Schemes.Loading()
	}
	if s.deps.Payments != nil {
		if pending, err := s.deps.Payments.Pending(r.Context()); err == nil {
			status["pending_receipts"] = pending
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRefreshPrices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Prices == nil {
		http.Error(w, "price poller not configured", http.StatusServiceUnavailable)
		return
	}

	if err := s.deps.Prices.Refresh(r.Context()); err != nil {
		if errors.Is(err, prices.ErrRefreshInFlight) {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh already running"})
			return
		}
		s.logger.Warn("manual price refresh failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResubmitReceipts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Payments == nil {
		http.Error(w, "payment flow not configured", http.StatusServiceUnavailable)
		return
	}

	reconciled, err := s.deps.Payments.Resubmit(r.Context())
	if err != nil {
		s.logger.Warn("receipt resubmission failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"status":     "partial",
			"reconciled": reconciled,
			"message":    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "reconciled": reconciled})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
