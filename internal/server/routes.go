package server

import (
	"net/http"
	"time"

	"github.com/bobmcallan/vaultsync/internal/common"
)

// handleShutdown handles POST /shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.Config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}

// registerRoutes sets up all routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	hook := s.app.Config.Webhook

	// Vault webhooks
	mux.HandleFunc("/deposit", requireBearer(hook, s.handleDeposit))
	mux.HandleFunc("/withdrawal-scheduled", requireBearer(hook, s.handleWithdrawalScheduled))
	mux.HandleFunc("/withdrawal-executed", requireBearer(hook, s.handleWithdrawalExecuted))

	// Reconciliation control
	mux.HandleFunc("/rebalance", requireBearer(hook, s.handleRebalance))
	mux.HandleFunc("/emergency-stop", requireBearer(hook, s.handleEmergencyStop))
	mux.HandleFunc("/resume", requireBearer(hook, s.handleResume))

	// Monitoring
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/portfolio/status", s.handlePortfolioStatus)
	mux.HandleFunc("/broker/account", s.handleBrokerAccount)
	mux.HandleFunc("/broker/positions", s.handleBrokerPositions)
	mux.HandleFunc("/composition", s.handleComposition)
	mux.HandleFunc("/ws/events", s.app.Hub.ServeWS)

	mux.HandleFunc("/shutdown", s.handleShutdown)
}

// handleHealth reports dependency state. 503 once the vault listener has given up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	health := s.app.Health(r.Context())
	status := http.StatusOK
	if !health.Healthy() {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, health)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, common.GetVersionInfo())
}
