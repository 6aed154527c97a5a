package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bobmcallan/vaultsync/internal/models"
	"github.com/bobmcallan/vaultsync/internal/services/chain"
)

// Webhook bodies mirror the relay's camelCase payloads. Amounts are integer
// base units of the vault asset; times are unix seconds.

type depositRequest struct {
	TransactionHash string `json:"transactionHash" validate:"required"`
	User            string `json:"user" validate:"required,eth_addr"`
	Assets          string `json:"assets" validate:"required,number"`
	Shares          string `json:"shares" validate:"required,number"`
	BlockNumber     uint64 `json:"blockNumber"`
	Timestamp       int64  `json:"timestamp" validate:"required,gt=0"`
}

type withdrawalScheduledRequest struct {
	TransactionHash string `json:"transactionHash" validate:"required"`
	User            string `json:"user" validate:"required,eth_addr"`
	Assets          string `json:"assets" validate:"required,number"`
	Shares          string `json:"shares" validate:"required,number"`
	BlockNumber     uint64 `json:"blockNumber"`
	ScheduledTime   int64  `json:"scheduledTime" validate:"required,gt=0"`
}

type withdrawalExecutedRequest struct {
	TransactionHash string `json:"transactionHash" validate:"required"`
	User            string `json:"user" validate:"required,eth_addr"`
	Assets          string `json:"assets" validate:"required,number"`
	Shares          string `json:"shares" validate:"omitempty,number"`
	BlockNumber     uint64 `json:"blockNumber"`
	Timestamp       int64  `json:"timestamp" validate:"required,gt=0"`
}

// validationMessage flattens validator errors into one response message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	var missing, invalid []string
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
		} else {
			invalid = append(invalid, fe.Field())
		}
	}
	if len(missing) > 0 {
		return fmt.Sprintf("Missing required fields: %s", strings.Join(missing, ", "))
	}
	return fmt.Sprintf("Invalid fields: %s", strings.Join(invalid, ", "))
}

// decodeWebhook decodes and validates a webhook body, writing 400 on failure.
func (s *Server) decodeWebhook(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if !RequireMethod(w, r, http.MethodPost) {
		return false
	}
	if !DecodeJSON(w, r, v) {
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		WriteError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// submit queues the event and maps queue back-pressure to 503.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, ev *models.ChainEvent) {
	err := s.app.Listener.Submit(r.Context(), ev)
	switch {
	case err == nil:
		WriteSuccess(w, "", nil)
	case errors.Is(err, chain.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		WriteError(w, http.StatusServiceUnavailable, "Event queue is full, retry later")
	case errors.Is(err, chain.ErrStopped):
		WriteError(w, http.StatusServiceUnavailable, "Event listener is stopped")
	default:
		s.logger.Error().Err(err).Str("tx", ev.TransactionID).Msg("Webhook submission failed")
		WriteError(w, http.StatusInternalServerError, "Processing failed")
	}
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !s.decodeWebhook(w, r, &req) {
		return
	}
	s.submit(w, r, &models.ChainEvent{
		TransactionID:  req.TransactionHash,
		Kind:           models.EventCapitalDeposited,
		Account:        req.User,
		AssetAmount:    req.Assets,
		ShareAmount:    req.Shares,
		BlockNumber:    req.BlockNumber,
		BlockTimestamp: time.Unix(req.Timestamp, 0).UTC(),
		Source:         models.SourceWebhook,
	})
}

func (s *Server) handleWithdrawalScheduled(w http.ResponseWriter, r *http.Request) {
	var req withdrawalScheduledRequest
	if !s.decodeWebhook(w, r, &req) {
		return
	}
	s.submit(w, r, &models.ChainEvent{
		TransactionID: req.TransactionHash,
		Kind:          models.EventWithdrawalScheduled,
		Account:       req.User,
		AssetAmount:   req.Assets,
		ShareAmount:   req.Shares,
		BlockNumber:   req.BlockNumber,
		ScheduledTime: time.Unix(req.ScheduledTime, 0).UTC(),
		Source:        models.SourceWebhook,
	})
}

func (s *Server) handleWithdrawalExecuted(w http.ResponseWriter, r *http.Request) {
	var req withdrawalExecutedRequest
	if !s.decodeWebhook(w, r, &req) {
		return
	}
	s.submit(w, r, &models.ChainEvent{
		TransactionID:  req.TransactionHash,
		Kind:           models.EventWithdrawalExecuted,
		Account:        req.User,
		AssetAmount:    req.Assets,
		ShareAmount:    req.Shares,
		BlockNumber:    req.BlockNumber,
		BlockTimestamp: time.Unix(req.Timestamp, 0).UTC(),
		Source:         models.SourceWebhook,
	})
}
