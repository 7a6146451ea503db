// Package intent manages payment intents and drives the payment
// verification pipeline: observe the payment on the source ledger, obtain
// an oracle attestation, verify the proof, and grant access.
package intent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/medbridge-hq/medbridge-verifier/pkg/attestation"
	"github.com/medbridge-hq/medbridge-verifier/pkg/logger"
	"github.com/medbridge-hq/medbridge-verifier/pkg/metrics"
	"github.com/medbridge-hq/medbridge-verifier/pkg/models"
	"github.com/medbridge-hq/medbridge-verifier/pkg/store"
)

var (
	// ErrIntentNotFound is returned when an intent does not exist
	ErrIntentNotFound = errors.New("intent not found")
	// ErrIntentExpired is returned when an intent is confirmed past its deadline
	ErrIntentExpired = errors.New("intent expired")
	// ErrActiveIntentExists is returned when a non-terminal intent already
	// exists for the (evaluationRef, payerWallet) pair
	ErrActiveIntentExists = errors.New("active intent already exists for this evaluation and wallet")
)

// Stable reason codes surfaced on non-terminal confirmation outcomes
const (
	ReasonPaymentNotFound    = "payment not found"
	ReasonAttestationTimeout = "attestation timeout"
	ReasonProofNotIncluded   = "proof not included in finalized round"
)

// LedgerObserver looks up payments on the source ledger
type LedgerObserver interface {
	GetPayment(ctx context.Context, txID string) (*models.Payment, error)
}

// ProofProvider obtains attestation proofs from the oracle
type ProofProvider interface {
	RequestAttestation(ctx context.Context, attestationType, sourceID, sourceTxID string) (string, error)
	PollForProof(ctx context.Context, requestID string) attestation.PollResult
}

// InclusionVerifier checks a proof's Merkle evidence against the
// destination chain. Optional; nil disables the on-chain check.
type InclusionVerifier interface {
	VerifyInclusion(ctx context.Context, proof *models.Proof) (bool, error)
}

// GrantAuthority issues access grants for completed intents
type GrantAuthority interface {
	GrantAccess(intent *models.PaymentIntent) (*models.AccessGrant, error)
	GetGrant(id string) (*models.AccessGrant, error)
}

// ConfirmResult is the outcome of a confirmation attempt
type ConfirmResult struct {
	Granted        bool      `json:"granted"`
	GrantID        string    `json:"grant_id,omitempty"`
	GrantExpiresAt time.Time `json:"grant_expires_at,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	// Retryable marks outcomes where re-invoking the confirmation with the
	// same transaction id is the correct remedy
	Retryable bool `json:"retryable,omitempty"`
	// Replayed marks results served from a previously reached terminal state
	Replayed bool `json:"replayed,omitempty"`
}

// PaymentInstructions tells the payer how to settle an intent
type PaymentInstructions struct {
	DestinationWallet string `json:"destination_wallet"`
	AmountDrops       string `json:"amount_drops"`
	Memo              string `json:"memo"`
}

// Manager creates, confirms and expires payment intents
type Manager struct {
	store             store.IntentStore
	observer          LedgerObserver
	proofs            ProofProvider
	inclusion         InclusionVerifier
	authority         GrantAuthority
	rates             RateSource
	newID             func() string
	ttl               time.Duration
	destinationWallet string
	logger            logger.Logger
}

// NewManager creates a new payment intent manager
func NewManager(
	intentStore store.IntentStore,
	observer LedgerObserver,
	proofs ProofProvider,
	inclusion InclusionVerifier,
	authority GrantAuthority,
	rates RateSource,
	newID func() string,
	ttl time.Duration,
	destinationWallet string,
	log logger.Logger,
) *Manager {
	return &Manager{
		store:             intentStore,
		observer:          observer,
		proofs:            proofs,
		inclusion:         inclusion,
		authority:         authority,
		rates:             rates,
		newID:             newID,
		ttl:               ttl,
		destinationWallet: destinationWallet,
		logger:            log,
	}
}

// CreateIntent creates a payment intent and returns it with payment
// instructions. Rejects with ErrActiveIntentExists if a non-terminal intent
// already exists for the (evaluationRef, payerWallet) pair.
func (m *Manager) CreateIntent(evaluationRef, granteeID, payerWallet string, amountUSD float64) (*models.PaymentIntent, *PaymentInstructions, error) {
	if _, err := m.store.GetActiveIntent(evaluationRef, payerWallet); err == nil {
		return nil, nil, ErrActiveIntentExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("failed to look up active intent: %v", err)
	}

	amountDrops, err := m.rates.USDToDrops(amountUSD)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute drops amount: %v", err)
	}

	now := time.Now().UTC()
	newIntent := &models.PaymentIntent{
		ID:                m.newID(),
		EvaluationRef:     evaluationRef,
		GranteeID:         granteeID,
		PayerWallet:       payerWallet,
		DestinationWallet: m.destinationWallet,
		AmountUSD:         amountUSD,
		AmountDrops:       amountDrops,
		Status:            models.IntentStatusPending,
		CreatedAt:         now,
		ExpiresAt:         now.Add(m.ttl),
	}
	newIntent.Memo = "medbridge:" + newIntent.ID

	if err := m.store.CreateIntent(newIntent); err != nil {
		return nil, nil, fmt.Errorf("failed to store intent: %v", err)
	}

	m.logger.Info("Created intent %s for evaluation %s (%.2f USD = %s drops), expires %s",
		newIntent.ID, evaluationRef, amountUSD, amountDrops, newIntent.ExpiresAt)
	metrics.IntentsCreated.Inc()

	return newIntent, &PaymentInstructions{
		DestinationWallet: newIntent.DestinationWallet,
		AmountDrops:       amountDrops,
		Memo:              newIntent.Memo,
	}, nil
}

// GetIntent returns the intent with the given id
func (m *Manager) GetIntent(id string) (*models.PaymentIntent, error) {
	paymentIntent, err := m.store.GetIntent(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return paymentIntent, nil
}

// ConfirmIntent drives the verification pipeline for a claimed payment.
// Confirming a terminal intent replays the stored outcome instead of
// re-running verification, so client retries are safe.
func (m *Manager) ConfirmIntent(ctx context.Context, intentID, sourceTxID string) (*ConfirmResult, error) {
	paymentIntent, err := m.GetIntent(intentID)
	if err != nil {
		return nil, err
	}

	if paymentIntent.IsTerminal() {
		return m.replayTerminal(paymentIntent)
	}

	now := time.Now().UTC()
	if paymentIntent.IsExpired(now) {
		m.expireIntent(paymentIntent)
		return nil, ErrIntentExpired
	}

	paymentIntent.Status = models.IntentStatusProcessing
	paymentIntent.ConfirmedTxID = sourceTxID
	if err := m.store.UpdateIntent(paymentIntent); err != nil {
		return nil, fmt.Errorf("failed to update intent: %v", err)
	}

	start := time.Now()
	result, err := m.runPipeline(ctx, paymentIntent, sourceTxID)
	metrics.ConfirmProcessingTime.Observe(time.Since(start).Seconds())
	return result, err
}

// runPipeline executes observe -> request attestation -> poll -> verify ->
// grant, strictly in order
func (m *Manager) runPipeline(ctx context.Context, paymentIntent *models.PaymentIntent, sourceTxID string) (*ConfirmResult, error) {
	// Step 1: observe the payment on the source ledger
	payment, err := m.observer.GetPayment(ctx, sourceTxID)
	if err != nil {
		m.revertToPending(paymentIntent)
		return nil, fmt.Errorf("failed to look up payment %s: %w", sourceTxID, err)
	}
	switch payment.Outcome {
	case models.PaymentOutcomeNotFound:
		// Not yet in a validated ledger; the client should retry
		return m.reopenIntent(paymentIntent, ReasonPaymentNotFound)
	case models.PaymentOutcomeFailed:
		return m.failIntent(paymentIntent, attestation.ReasonPaymentNotSuccess)
	}

	// Step 2: obtain an attestation of the payment
	requestID, err := m.proofs.RequestAttestation(ctx, attestation.TypePayment, attestation.SourceXRPL, sourceTxID)
	if err != nil {
		m.revertToPending(paymentIntent)
		return nil, fmt.Errorf("failed to request attestation: %w", err)
	}
	paymentIntent.VerificationRef = requestID

	// Step 3: poll until the proof or a terminal failure is available
	pollResult := m.proofs.PollForProof(ctx, requestID)
	switch pollResult.Outcome {
	case attestation.OutcomeTimedOut:
		// Resubmission, not a new payment, is the remedy; keep the intent open
		return m.reopenIntent(paymentIntent, ReasonAttestationTimeout)
	case attestation.OutcomeFailed:
		return m.failIntent(paymentIntent, pollResult.Reason)
	}

	// Step 4: verify the proof against the intent's expectations
	verification := attestation.Verify(pollResult.Proof, attestation.Expectation{
		SourceTxID:  sourceTxID,
		AmountDrops: paymentIntent.AmountDrops,
		Destination: paymentIntent.DestinationWallet,
	})
	if !verification.Valid {
		metrics.VerificationResults.WithLabelValues("invalid", verification.Reason).Inc()
		return m.failIntent(paymentIntent, verification.Reason)
	}
	metrics.VerificationResults.WithLabelValues("valid", "").Inc()

	// Step 5: check Merkle inclusion on the destination chain
	if m.inclusion != nil {
		included, err := m.inclusion.VerifyInclusion(ctx, pollResult.Proof)
		if err != nil {
			m.revertToPending(paymentIntent)
			return nil, fmt.Errorf("failed to check proof inclusion: %w", err)
		}
		if !included {
			return m.failIntent(paymentIntent, ReasonProofNotIncluded)
		}
	}

	// Re-read before granting so a concurrent confirmation that already
	// reached a terminal state wins and is replayed
	current, err := m.GetIntent(paymentIntent.ID)
	if err != nil {
		return nil, err
	}
	if current.IsTerminal() {
		return m.replayTerminal(current)
	}

	// Step 6: grant access and complete the intent
	grant, err := m.authority.GrantAccess(paymentIntent)
	if err != nil {
		m.revertToPending(paymentIntent)
		return nil, fmt.Errorf("failed to grant access: %w", err)
	}

	paymentIntent.Status = models.IntentStatusCompleted
	paymentIntent.GrantID = grant.ID
	if err := m.store.UpdateIntent(paymentIntent); err != nil {
		return nil, fmt.Errorf("failed to complete intent: %v", err)
	}

	m.logger.Notice("Intent %s completed, grant %s issued for evaluation %s",
		paymentIntent.ID, grant.ID, paymentIntent.EvaluationRef)
	metrics.IntentsConfirmed.WithLabelValues("completed").Inc()

	return &ConfirmResult{
		Granted:        true,
		GrantID:        grant.ID,
		GrantExpiresAt: grant.ExpiresAt,
	}, nil
}

// replayTerminal returns the stored outcome of a terminal intent
func (m *Manager) replayTerminal(paymentIntent *models.PaymentIntent) (*ConfirmResult, error) {
	switch paymentIntent.Status {
	case models.IntentStatusCompleted:
		result := &ConfirmResult{Granted: true, GrantID: paymentIntent.GrantID, Replayed: true}
		if grant, err := m.authority.GetGrant(paymentIntent.GrantID); err == nil {
			result.GrantExpiresAt = grant.ExpiresAt
		}
		return result, nil
	case models.IntentStatusFailed:
		return &ConfirmResult{Reason: paymentIntent.FailureReason, Replayed: true}, nil
	default:
		return nil, ErrIntentExpired
	}
}

// failIntent records a terminal verification failure. Terminal states are
// immutable: if a concurrent confirmation already reached one, its outcome
// is replayed instead of overwritten.
func (m *Manager) failIntent(paymentIntent *models.PaymentIntent, reason string) (*ConfirmResult, error) {
	current, err := m.GetIntent(paymentIntent.ID)
	if err != nil {
		return nil, err
	}
	if current.IsTerminal() {
		return m.replayTerminal(current)
	}

	paymentIntent.Status = models.IntentStatusFailed
	paymentIntent.FailureReason = reason
	if err := m.store.UpdateIntent(paymentIntent); err != nil {
		return nil, fmt.Errorf("failed to mark intent failed: %v", err)
	}
	m.logger.Notice("Intent %s failed verification: %s", paymentIntent.ID, reason)
	metrics.IntentsConfirmed.WithLabelValues("failed").Inc()
	return &ConfirmResult{Reason: reason}, nil
}

// reopenIntent reopens an intent after a retryable interruption and returns
// the retryable result. If a concurrent confirmation already reached a
// terminal state, that outcome is replayed instead.
func (m *Manager) reopenIntent(paymentIntent *models.PaymentIntent, reason string) (*ConfirmResult, error) {
	current, err := m.GetIntent(paymentIntent.ID)
	if err != nil {
		return nil, err
	}
	if current.IsTerminal() {
		return m.replayTerminal(current)
	}
	m.revertToPending(paymentIntent)
	return &ConfirmResult{Reason: reason, Retryable: true}, nil
}

// revertToPending reopens an intent after a retryable interruption. A
// terminal state is never overwritten.
func (m *Manager) revertToPending(paymentIntent *models.PaymentIntent) {
	current, err := m.GetIntent(paymentIntent.ID)
	if err != nil || current.IsTerminal() {
		return
	}
	paymentIntent.Status = models.IntentStatusPending
	if err := m.store.UpdateIntent(paymentIntent); err != nil {
		m.logger.Error("Failed to reopen intent %s: %v", paymentIntent.ID, err)
	}
}

// expireIntent transitions an intent past its deadline to expired
func (m *Manager) expireIntent(paymentIntent *models.PaymentIntent) {
	paymentIntent.Status = models.IntentStatusExpired
	if err := m.store.UpdateIntent(paymentIntent); err != nil {
		m.logger.Error("Failed to expire intent %s: %v", paymentIntent.ID, err)
		return
	}
	m.logger.Info("Intent %s expired", paymentIntent.ID)
	metrics.IntentsExpired.Inc()
}

// SweepExpired flips open intents past their deadline to expired and
// returns how many were swept
func (m *Manager) SweepExpired(now time.Time) (int, error) {
	swept := 0
	for _, status := range []models.IntentStatus{models.IntentStatusPending, models.IntentStatusProcessing} {
		intents, err := m.store.ListIntentsByStatus(status)
		if err != nil {
			return swept, err
		}
		for _, paymentIntent := range intents {
			if paymentIntent.IsExpired(now) {
				m.expireIntent(paymentIntent)
				swept++
			}
		}
	}
	return swept, nil
}
