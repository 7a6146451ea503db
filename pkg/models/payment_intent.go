package models

import (
	"time"
)

// IntentStatus represents the lifecycle state of a payment intent
type IntentStatus string

const (
	// IntentStatusPending means the intent was created and is awaiting payment
	IntentStatusPending IntentStatus = "pending"
	// IntentStatusProcessing means a confirmation is being verified
	IntentStatusProcessing IntentStatus = "processing"
	// IntentStatusCompleted means payment was verified and access granted
	IntentStatusCompleted IntentStatus = "completed"
	// IntentStatusFailed means verification failed permanently
	IntentStatusFailed IntentStatus = "failed"
	// IntentStatusExpired means the intent passed its deadline without a verified payment
	IntentStatusExpired IntentStatus = "expired"
)

// PaymentIntent represents an expected payment on the source ledger
type PaymentIntent struct {
	ID                string       `json:"id"`
	EvaluationRef     string       `json:"evaluation_ref"`
	GranteeID         string       `json:"grantee_id"`
	PayerWallet       string       `json:"payer_wallet"`
	DestinationWallet string       `json:"destination_wallet"`
	AmountUSD         float64      `json:"amount_usd"`
	AmountDrops       string       `json:"amount_drops"`
	Memo              string       `json:"memo"`
	Status            IntentStatus `json:"status"`
	CreatedAt         time.Time    `json:"created_at"`
	ExpiresAt         time.Time    `json:"expires_at"`
	ConfirmedTxID     string       `json:"confirmed_tx_id,omitempty"`
	VerificationRef   string       `json:"verification_ref,omitempty"`
	GrantID           string       `json:"grant_id,omitempty"`
	FailureReason     string       `json:"failure_reason,omitempty"`
}

// IsTerminal returns true once the intent reached a state that must not change
func (i *PaymentIntent) IsTerminal() bool {
	return i.Status == IntentStatusCompleted ||
		i.Status == IntentStatusFailed ||
		i.Status == IntentStatusExpired
}

// IsExpired returns true if the intent deadline has passed
func (i *PaymentIntent) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
