// Package store persists payment intents and access grants. The pipeline
// only depends on the interfaces; the memory implementation backs tests and
// the LevelDB implementation backs deployments.
package store

import (
	"errors"

	"github.com/medbridge-hq/medbridge-verifier/pkg/models"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// IntentStore persists payment intents
type IntentStore interface {
	CreateIntent(intent *models.PaymentIntent) error
	GetIntent(id string) (*models.PaymentIntent, error)
	// GetActiveIntent returns the non-terminal intent for the pair, or
	// ErrNotFound if none exists
	GetActiveIntent(evaluationRef, payerWallet string) (*models.PaymentIntent, error)
	UpdateIntent(intent *models.PaymentIntent) error
	ListIntentsByStatus(status models.IntentStatus) ([]*models.PaymentIntent, error)
}

// GrantStore persists access grants
type GrantStore interface {
	CreateGrant(grant *models.AccessGrant) error
	GetGrant(id string) (*models.AccessGrant, error)
	// GetActiveGrant returns the active grant for the pair, or ErrNotFound
	// if none exists
	GetActiveGrant(evaluationRef, granteeID string) (*models.AccessGrant, error)
	UpdateGrant(grant *models.AccessGrant) error
	ListGrantsByStatus(status models.GrantStatus) ([]*models.AccessGrant, error)
}

// Store combines the intent and grant stores
type Store interface {
	IntentStore
	GrantStore
	Close() error
}
