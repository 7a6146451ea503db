package models

import (
	"time"
)

// PaymentOutcome is the ledger-level result of looking up a transaction
type PaymentOutcome string

const (
	// PaymentOutcomeSuccess means the transaction was validated and applied
	PaymentOutcomeSuccess PaymentOutcome = "success"
	// PaymentOutcomeFailed means the transaction was included but did not succeed.
	// This is terminal and must not be retried.
	PaymentOutcomeFailed PaymentOutcome = "failed"
	// PaymentOutcomeNotFound means the transaction is not yet in a validated
	// ledger. Callers may retry.
	PaymentOutcomeNotFound PaymentOutcome = "not_found"
)

// Payment is a normalized payment record observed on the source ledger
type Payment struct {
	TxID               string         `json:"tx_id"`
	AmountDrops        string         `json:"amount_drops"`
	SourceAddress      string         `json:"source_address"`
	DestinationAddress string         `json:"destination_address"`
	Outcome            PaymentOutcome `json:"outcome"`
	LedgerIndex        uint64         `json:"ledger_index"`
	Timestamp          time.Time      `json:"timestamp"`
	Memo               string         `json:"memo"`
}
