package models

import "time"

// ListenerHealth reports the state of the vault event subscription.
type ListenerHealth struct {
	Enabled   bool      `json:"enabled"`
	Active    bool      `json:"active"`
	Fatal     bool      `json:"fatal"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	QueueLen  int       `json:"queue_len"`
	Processed int       `json:"processed"`
	Since     time.Time `json:"since,omitempty"`
}

// SystemHealth is served by /health.
type SystemHealth struct {
	Database           bool            `json:"database"`
	Broker             bool            `json:"broker"`
	Chain              ListenerHealth  `json:"chain"`
	PendingDeposits    int             `json:"pending_deposits"`
	PendingWithdrawals int             `json:"pending_withdrawals"`
	LastRebalance      *RebalanceEvent `json:"last_rebalance"`
}

// Healthy is false when the listener gave up reconnecting.
func (h *SystemHealth) Healthy() bool {
	return !h.Chain.Fatal
}
