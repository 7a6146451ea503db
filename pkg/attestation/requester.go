// Package attestation obtains and verifies oracle attestations of
// source-ledger payments.
package attestation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/medbridge-hq/medbridge-verifier/pkg/connmgr"
	"github.com/medbridge-hq/medbridge-verifier/pkg/logger"
	"github.com/medbridge-hq/medbridge-verifier/pkg/metrics"
	"github.com/medbridge-hq/medbridge-verifier/pkg/models"
)

const (
	// TypePayment is the attestation type for source-ledger payments
	TypePayment = "Payment"
	// SourceXRPL identifies the XRP Ledger as the attested source chain
	SourceXRPL = "XRPL"
)

// PollOutcome tags the result of polling for a proof, so callers cannot
// mistake "not yet" for "error"
type PollOutcome int

const (
	// OutcomeProofReady means the proof is available
	OutcomeProofReady PollOutcome = iota
	// OutcomePending means the attestation is not finalized yet
	OutcomePending
	// OutcomeFailed means the oracle reported a terminal failure
	OutcomeFailed
	// OutcomeTimedOut means the poll attempt budget was exhausted.
	// Resubmission, not a new payment, is the correct remedy.
	OutcomeTimedOut
)

// PollResult is the tagged result of a proof poll
type PollResult struct {
	Outcome PollOutcome
	Proof   *models.Proof
	Reason  string
}

// ComputeRequestID derives the attestation request identifier from the
// request parameters. The same parameters always yield the same identifier,
// so concurrent callers converge on one oracle job and resubmission never
// duplicates oracle charges.
func ComputeRequestID(attestationType, sourceID, sourceTxID string) string {
	sum := sha256.Sum256([]byte(attestationType + "|" + sourceID + "|" + sourceTxID))
	return hex.EncodeToString(sum[:])
}

// Requester submits attestation requests to the oracle and polls until a
// proof or a terminal failure is available
type Requester struct {
	mgr             *connmgr.Manager
	httpClient      *http.Client
	apiKey          string
	pollInterval    time.Duration
	maxPollAttempts int
	logger          logger.Logger
}

// NewRequester creates a new attestation requester
func NewRequester(mgr *connmgr.Manager, apiKey string, pollInterval time.Duration, maxPollAttempts int, log logger.Logger) *Requester {
	return &Requester{
		mgr:             mgr,
		httpClient:      createHTTPClient(),
		apiKey:          apiKey,
		pollInterval:    pollInterval,
		maxPollAttempts: maxPollAttempts,
		logger:          log,
	}
}

// Manager returns the connection manager routing this requester's calls
func (r *Requester) Manager() *connmgr.Manager {
	return r.mgr
}

type submitRequest struct {
	RequestID       string `json:"request_id"`
	AttestationType string `json:"attestation_type"`
	SourceID        string `json:"source_id"`
	TransactionID   string `json:"transaction_id"`
}

type submitResponse struct {
	RequestID   string `json:"request_id"`
	VotingRound uint64 `json:"voting_round"`
	Status      string `json:"status"`
}

// RequestAttestation submits an attestation request for the given payment
// and returns the deterministic request identifier
func (r *Requester) RequestAttestation(ctx context.Context, attestationType, sourceID, sourceTxID string) (string, error) {
	requestID := ComputeRequestID(attestationType, sourceID, sourceTxID)

	payload, err := json.Marshal(submitRequest{
		RequestID:       requestID,
		AttestationType: attestationType,
		SourceID:        sourceID,
		TransactionID:   sourceTxID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode attestation request: %v", err)
	}

	err = r.mgr.Execute(ctx, "oracle_submit_request", func(ctx context.Context, endpointURL string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL+"/api/v1/attestations", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if r.apiKey != "" {
			req.Header.Set("X-API-KEY", r.apiKey)
		}

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				r.logger.ErrorWithNetwork(logger.Oracle, "Failed to close response body: %v", closeErr)
			}
		}()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %v", err)
		}

		// Conflict means the request already exists, which is fine: the
		// request identifier is deterministic
		if resp.StatusCode == http.StatusConflict {
			r.logger.DebugWithNetwork(logger.Oracle, "Attestation request %s already submitted", requestID)
			return nil
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
		}

		var submitResp submitResponse
		if err := json.Unmarshal(bodyBytes, &submitResp); err != nil {
			return fmt.Errorf("failed to decode attestation response: %v", err)
		}
		r.logger.InfoWithNetwork(logger.Oracle, "Attestation request %s submitted for round %d", requestID, submitResp.VotingRound)
		return nil
	})
	if err != nil {
		return "", err
	}
	return requestID, nil
}

type proofResponse struct {
	Status string        `json:"status"`
	Reason string        `json:"reason"`
	Proof  *models.Proof `json:"proof"`
}

// terminalOracleStatuses are oracle states that make further polling useless
var terminalOracleStatuses = map[string]bool{
	"failed":              true,
	"source_tx_not_found": true,
	"source_tx_failed":    true,
	"invalid_request":     true,
}

// PollForProof polls the oracle on a fixed interval until a proof or terminal
// failure is available, or the attempt budget is exhausted. A poll that
// errors counts as "not yet" rather than failure.
func (r *Requester) PollForProof(ctx context.Context, requestID string) PollResult {
	start := time.Now()

	for attempt := 0; attempt < r.maxPollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return PollResult{Outcome: OutcomeTimedOut, Reason: "context cancelled"}
			case <-time.After(r.pollInterval):
			}
		}

		result := r.pollOnce(ctx, requestID)
		switch result.Outcome {
		case OutcomeProofReady:
			metrics.AttestationDuration.Observe(time.Since(start).Seconds())
			metrics.AttestationPolls.WithLabelValues("attested").Inc()
			return result
		case OutcomeFailed:
			metrics.AttestationPolls.WithLabelValues("failed").Inc()
			return result
		default:
			metrics.AttestationPolls.WithLabelValues("pending").Inc()
		}
	}

	r.logger.NoticeWithNetwork(logger.Oracle, "Attestation %s timed out after %d poll attempts", requestID, r.maxPollAttempts)
	metrics.AttestationPolls.WithLabelValues("timeout").Inc()
	return PollResult{Outcome: OutcomeTimedOut, Reason: "attestation poll budget exhausted"}
}

// pollOnce performs a single proof lookup through the connection manager
func (r *Requester) pollOnce(ctx context.Context, requestID string) PollResult {
	var result PollResult

	err := r.mgr.Execute(ctx, "oracle_poll_proof", func(ctx context.Context, endpointURL string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL+"/api/v1/attestations/"+requestID+"/proof", nil)
		if err != nil {
			return err
		}
		if r.apiKey != "" {
			req.Header.Set("X-API-KEY", r.apiKey)
		}

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				r.logger.ErrorWithNetwork(logger.Oracle, "Failed to close response body: %v", closeErr)
			}
		}()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %v", err)
		}

		// The proof does not exist yet
		if resp.StatusCode == http.StatusNotFound {
			result = PollResult{Outcome: OutcomePending}
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
		}

		var proofResp proofResponse
		if err := json.Unmarshal(bodyBytes, &proofResp); err != nil {
			return fmt.Errorf("failed to decode proof response: %v", err)
		}

		switch {
		case proofResp.Status == "attested" && proofResp.Proof != nil:
			result = PollResult{Outcome: OutcomeProofReady, Proof: proofResp.Proof}
		case terminalOracleStatuses[proofResp.Status]:
			reason := proofResp.Reason
			if reason == "" {
				reason = proofResp.Status
			}
			result = PollResult{Outcome: OutcomeFailed, Reason: reason}
		default:
			result = PollResult{Outcome: OutcomePending}
		}
		return nil
	})
	if err != nil {
		// Transport failures are "not yet", the poll loop carries on
		r.logger.DebugWithNetwork(logger.Oracle, "Proof poll for %s errored, treating as pending: %v", requestID, err)
		return PollResult{Outcome: OutcomePending}
	}
	return result
}

// Probe is the cheap liveness operation used by the health probe task
func (r *Requester) Probe(ctx context.Context, endpointURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL+"/api/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
