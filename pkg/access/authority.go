// Package access issues and checks time-bounded access grants for verified
// payments.
package access

import (
	"errors"
	"fmt"
	"time"

	"github.com/medbridge-hq/medbridge-verifier/pkg/logger"
	"github.com/medbridge-hq/medbridge-verifier/pkg/metrics"
	"github.com/medbridge-hq/medbridge-verifier/pkg/models"
	"github.com/medbridge-hq/medbridge-verifier/pkg/store"
)

// ErrGrantNotFound is returned when a grant does not exist
var ErrGrantNotFound = errors.New("grant not found")

// Authority creates, checks and revokes access grants. At most one active
// grant exists per (evaluationRef, granteeID) pair; granting again extends
// the existing one instead of creating a duplicate.
type Authority struct {
	store  store.GrantStore
	ttl    time.Duration
	newID  func() string
	logger logger.Logger
}

// NewAuthority creates a new grant authority. newID generates grant
// identifiers and is injected so id uniqueness does not depend on any
// particular storage medium.
func NewAuthority(grantStore store.GrantStore, ttl time.Duration, newID func() string, log logger.Logger) *Authority {
	return &Authority{
		store:  grantStore,
		ttl:    ttl,
		newID:  newID,
		logger: log,
	}
}

// GrantAccess issues a grant for the completed intent. Idempotent on
// (evaluationRef, granteeID): an existing active grant is extended and
// returned rather than duplicated.
func (a *Authority) GrantAccess(intent *models.PaymentIntent) (*models.AccessGrant, error) {
	now := time.Now().UTC()

	existing, err := a.store.GetActiveGrant(intent.EvaluationRef, intent.GranteeID)
	if err == nil {
		newExpiry := now.Add(a.ttl)
		if newExpiry.After(existing.ExpiresAt) {
			existing.ExpiresAt = newExpiry
			if err := a.store.UpdateGrant(existing); err != nil {
				return nil, fmt.Errorf("failed to extend grant %s: %v", existing.ID, err)
			}
			a.logger.Info("Extended grant %s for evaluation %s until %s", existing.ID, intent.EvaluationRef, newExpiry)
		}
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up active grant: %v", err)
	}

	grant := &models.AccessGrant{
		ID:              a.newID(),
		EvaluationRef:   intent.EvaluationRef,
		GranteeID:       intent.GranteeID,
		PaymentIntentID: intent.ID,
		Status:          models.GrantStatusActive,
		GrantedAt:       now,
		ExpiresAt:       now.Add(a.ttl),
	}
	if err := a.store.CreateGrant(grant); err != nil {
		return nil, fmt.Errorf("failed to create grant: %v", err)
	}

	a.logger.Notice("Issued grant %s for evaluation %s to %s, expires %s",
		grant.ID, grant.EvaluationRef, grant.GranteeID, grant.ExpiresAt)
	metrics.GrantsIssued.Inc()
	return grant, nil
}

// GetGrant returns the grant with the given id
func (a *Authority) GetGrant(id string) (*models.AccessGrant, error) {
	grant, err := a.store.GetGrant(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrGrantNotFound
		}
		return nil, err
	}
	return grant, nil
}

// CheckAccess reports whether an active, unexpired grant exists for the
// pair. The check never mutates expiry; sweeping is a separate job.
func (a *Authority) CheckAccess(evaluationRef, granteeID string) (bool, time.Time, error) {
	grant, err := a.store.GetActiveGrant(evaluationRef, granteeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, err
	}
	if !grant.IsActive(time.Now().UTC()) {
		return false, time.Time{}, nil
	}
	return true, grant.ExpiresAt, nil
}

// Revoke transitions a grant to revoked. Irreversible; revoking an already
// revoked grant is a no-op.
func (a *Authority) Revoke(grantID, reason string) error {
	grant, err := a.store.GetGrant(grantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrGrantNotFound
		}
		return err
	}
	if grant.Status == models.GrantStatusRevoked {
		return nil
	}

	grant.Status = models.GrantStatusRevoked
	grant.RevokeReason = reason
	if err := a.store.UpdateGrant(grant); err != nil {
		return fmt.Errorf("failed to revoke grant %s: %v", grantID, err)
	}
	a.logger.Notice("Revoked grant %s: %s", grantID, reason)
	metrics.GrantsRevoked.Inc()
	return nil
}

// RecordDownload appends a download record to the grant's history. Download
// history only appends and never affects expiry.
func (a *Authority) RecordDownload(grantID string, sizeBytes int64, source string) error {
	grant, err := a.store.GetGrant(grantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrGrantNotFound
		}
		return err
	}

	grant.DownloadHistory = append(grant.DownloadHistory, models.DownloadRecord{
		At:     time.Now().UTC(),
		Bytes:  sizeBytes,
		Source: source,
	})
	return a.store.UpdateGrant(grant)
}

// SweepExpired flips active grants past their expiry to expired and returns
// how many were swept
func (a *Authority) SweepExpired(now time.Time) (int, error) {
	grants, err := a.store.ListGrantsByStatus(models.GrantStatusActive)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, grant := range grants {
		if now.Before(grant.ExpiresAt) {
			continue
		}
		grant.Status = models.GrantStatusExpired
		if err := a.store.UpdateGrant(grant); err != nil {
			a.logger.Error("Failed to expire grant %s: %v", grant.ID, err)
			continue
		}
		swept++
	}

	if swept > 0 {
		a.logger.Info("Expired %d access grants", swept)
	}
	metrics.ActiveGrants.Set(float64(len(grants) - swept))
	return swept, nil
}
