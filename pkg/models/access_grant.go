package models

import (
	"time"
)

// GrantStatus represents the lifecycle state of an access grant
type GrantStatus string

const (
	GrantStatusActive    GrantStatus = "active"
	GrantStatusExpired   GrantStatus = "expired"
	GrantStatusRevoked   GrantStatus = "revoked"
	GrantStatusSuspended GrantStatus = "suspended"
)

// DownloadRecord is one entry in a grant's download history
type DownloadRecord struct {
	At     time.Time `json:"at"`
	Bytes  int64     `json:"bytes"`
	Source string    `json:"source"`
}

// AccessGrant is a time-bounded authorization to read a medical record,
// created after a payment for it was verified
type AccessGrant struct {
	ID              string           `json:"id"`
	EvaluationRef   string           `json:"evaluation_ref"`
	GranteeID       string           `json:"grantee_id"`
	PaymentIntentID string           `json:"payment_intent_id"`
	Status          GrantStatus      `json:"status"`
	GrantedAt       time.Time        `json:"granted_at"`
	ExpiresAt       time.Time        `json:"expires_at"`
	RevokeReason    string           `json:"revoke_reason,omitempty"`
	DownloadHistory []DownloadRecord `json:"download_history,omitempty"`
}

// IsActive returns true if the grant currently authorizes access
func (g *AccessGrant) IsActive(now time.Time) bool {
	return g.Status == GrantStatusActive && now.Before(g.ExpiresAt)
}
