package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bobmcallan/vaultsync/internal/models"
	"github.com/bobmcallan/vaultsync/internal/services/reconcile"
)

// manualRebalanceTimeout bounds a forced run once it no longer follows the request.
const manualRebalanceTimeout = 5 * time.Minute

type rebalanceRequest struct {
	Force bool `json:"force"`
}

// handleRebalance returns a report, or with force=true runs a manual reconciliation.
func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req rebalanceRequest
	if !DecodeOptionalJSON(w, r, &req) {
		return
	}

	if !req.Force {
		report, err := s.app.Engine.Report(r.Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("Rebalance report failed")
			WriteError(w, http.StatusInternalServerError, "Rebalancing failed")
			return
		}
		WriteSuccess(w, "report", report)
		return
	}

	// a client disconnect must not abandon a half-placed order sequence
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), manualRebalanceTimeout)
	defer cancel()
	result, err := s.app.Engine.Reconcile(ctx, models.TriggerManual)
	if errors.Is(err, reconcile.ErrHalted) {
		WriteErrorWithCode(w, http.StatusConflict, err.Error(), "halted")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Manual rebalance failed")
		WriteError(w, http.StatusInternalServerError, "Rebalancing failed")
		return
	}
	WriteSuccess(w, "result", result)
}

type portfolioStatus struct {
	TotalValue       float64                  `json:"total_value"`
	Cash             float64                  `json:"cash"`
	Positions        []*models.Position       `json:"positions"`
	IsBalanced       bool                     `json:"is_balanced"`
	Deviation        float64                  `json:"deviation"`
	TargetAllocation map[string]float64       `json:"target_allocation"`
	SuggestedTrades  []*models.RebalanceTrade `json:"suggested_trades"`
	Skipped          []models.SkippedSymbol   `json:"skipped,omitempty"`
	PricesDegraded   bool                     `json:"prices_degraded"`
	CompositionStale bool                     `json:"composition_stale"`
	Halted           bool                     `json:"halted"`
}

func (s *Server) handlePortfolioStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	report, err := s.app.Engine.Report(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Error getting portfolio status")
		WriteError(w, http.StatusInternalServerError, "Failed to get portfolio status")
		return
	}

	state := report.CurrentHoldings
	positions := make([]*models.Position, 0, len(state.Positions))
	for _, p := range state.Positions {
		positions = append(positions, p)
	}
	sortPositions(positions)

	WriteSuccess(w, "data", portfolioStatus{
		TotalValue:       state.TotalValue,
		Cash:             state.Cash,
		Positions:        positions,
		IsBalanced:       report.IsBalanced,
		Deviation:        report.Deviation,
		TargetAllocation: report.TargetAllocation,
		SuggestedTrades:  report.SuggestedTrades,
		Skipped:          report.Skipped,
		PricesDegraded:   report.PricesDegraded,
		CompositionStale: report.CompositionStale,
		Halted:           s.app.Engine.Halted(),
	})
}

func (s *Server) handleBrokerAccount(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	account, err := s.app.Broker.GetAccount(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Error getting broker account")
		WriteError(w, http.StatusBadGateway, "Failed to get account info")
		return
	}
	WriteSuccess(w, "data", account)
}

func (s *Server) handleBrokerPositions(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	positions, err := s.app.Broker.GetPositions(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Error getting broker positions")
		WriteError(w, http.StatusBadGateway, "Failed to get positions")
		return
	}
	if positions == nil {
		positions = []*models.BrokerPosition{}
	}
	WriteSuccess(w, "data", positions)
}

func (s *Server) handleComposition(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	comp, err := s.app.Composition.GetComposition(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Error getting index composition")
		WriteError(w, http.StatusServiceUnavailable, "Composition unavailable")
		return
	}
	WriteSuccess(w, "data", comp)
}

// handleEmergencyStop cancels open orders and halts reconciliation until /resume.
func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	WriteSuccess(w, "result", s.app.Engine.EmergencyStop(r.Context()))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	s.app.Engine.Resume()
	WriteSuccess(w, "", nil)
}
