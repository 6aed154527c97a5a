package models

import "time"

// Feed event types pushed to websocket subscribers
const (
	FeedRebalance           = "rebalance"
	FeedDeposit             = "deposit"
	FeedWithdrawalScheduled = "withdrawal_scheduled"
	FeedWithdrawalExecuted  = "withdrawal_executed"
	FeedEmergencyStop       = "emergency_stop"
)

// FeedEvent is one message on the live event feed.
type FeedEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}
