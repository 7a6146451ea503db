package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medbridge-hq/medbridge-verifier/pkg/access"
	"github.com/medbridge-hq/medbridge-verifier/pkg/attestation"
	"github.com/medbridge-hq/medbridge-verifier/pkg/intent"
	"github.com/medbridge-hq/medbridge-verifier/pkg/logger"
	"github.com/medbridge-hq/medbridge-verifier/pkg/models"
	"github.com/medbridge-hq/medbridge-verifier/pkg/store"
)

// stubObserver reports every looked-up transaction with the canned outcome
type stubObserver struct {
	outcome models.PaymentOutcome
}

func (o *stubObserver) GetPayment(_ context.Context, txID string) (*models.Payment, error) {
	return &models.Payment{
		TxID:               txID,
		AmountDrops:        "4000000",
		DestinationAddress: "rDestination",
		Outcome:            o.outcome,
	}, nil
}

// stubProofProvider immediately attests whatever transaction is confirmed
type stubProofProvider struct{}

func (p *stubProofProvider) RequestAttestation(_ context.Context, attestationType, sourceID, sourceTxID string) (string, error) {
	return attestation.ComputeRequestID(attestationType, sourceID, sourceTxID), nil
}

func (p *stubProofProvider) PollForProof(_ context.Context, _ string) attestation.PollResult {
	return attestation.PollResult{
		Outcome: attestation.OutcomeProofReady,
		Proof: &models.Proof{
			SourceTxID:          "TX1",
			AttestedAmountDrops: "4000000",
			AttestedDestination: "rDestination",
			AttestedStatus:      models.ProofPaymentSuccess,
		},
	}
}

func newTestServer(t *testing.T) (*Server, *access.Authority) {
	t.Helper()

	memStore := store.NewMemoryStore()
	nextID := 0
	newID := func() string {
		nextID++
		return fmt.Sprintf("id-%d", nextID)
	}

	authority := access.NewAuthority(memStore, 30*24*time.Hour, newID, &logger.EmptyLogger{})
	manager := intent.NewManager(
		memStore,
		&stubObserver{outcome: models.PaymentOutcomeSuccess},
		&stubProofProvider{},
		nil,
		authority,
		&intent.FixedRateSource{PriceUSD: 0.50},
		newID,
		30*time.Minute,
		"rDestination",
		&logger.EmptyLogger{},
	)

	return NewServer("0", manager, authority, &logger.EmptyLogger{}), authority
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, target, &body)
	recorder := httptest.NewRecorder()
	handler(recorder, req)
	return recorder
}

func createTestIntent(t *testing.T, server *Server) createIntentResponse {
	t.Helper()

	recorder := doJSON(t, server.handleCreateIntent, http.MethodPost, "/access/intents", createIntentRequest{
		EvaluationRef: "eval-1",
		GranteeID:     "hospital-1",
		PayerWallet:   "rPayer",
		AmountUSD:     2.0,
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	var resp createIntentResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	return resp
}

func TestHandleCreateIntent(t *testing.T) {
	server, _ := newTestServer(t)

	resp := createTestIntent(t, server)
	assert.NotEmpty(t, resp.IntentID)
	assert.Equal(t, "4000000", resp.AmountDrops)
	assert.Equal(t, "rDestination", resp.DestinationWallet)
	assert.Equal(t, "medbridge:"+resp.IntentID, resp.Memo)
}

func TestHandleCreateIntentValidation(t *testing.T) {
	server, _ := newTestServer(t)

	recorder := doJSON(t, server.handleCreateIntent, http.MethodPost, "/access/intents", createIntentRequest{
		EvaluationRef: "eval-1",
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = doJSON(t, server.handleCreateIntent, http.MethodGet, "/access/intents", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
}

func TestHandleCreateIntentDuplicateConflict(t *testing.T) {
	server, _ := newTestServer(t)

	createTestIntent(t, server)
	recorder := doJSON(t, server.handleCreateIntent, http.MethodPost, "/access/intents", createIntentRequest{
		EvaluationRef: "eval-1",
		GranteeID:     "hospital-1",
		PayerWallet:   "rPayer",
		AmountUSD:     2.0,
	})
	assert.Equal(t, http.StatusConflict, recorder.Code)

	var resp errorResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.Equal(t, "active_intent_exists", resp.Reason)
}

func TestHandleConfirmGrantsAccess(t *testing.T) {
	server, _ := newTestServer(t)
	created := createTestIntent(t, server)

	recorder := doJSON(t, server.handleConfirm, http.MethodPost, "/access/confirm", confirmRequest{
		IntentID:   created.IntentID,
		SourceTxID: "TX1",
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp confirmResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.True(t, resp.Granted)
	assert.NotEmpty(t, resp.GrantID)
	require.NotNil(t, resp.ExpiresAt)
	assert.True(t, resp.ExpiresAt.After(time.Now()))
}

func TestHandleConfirmReplayedIsConflict(t *testing.T) {
	server, _ := newTestServer(t)
	created := createTestIntent(t, server)

	first := doJSON(t, server.handleConfirm, http.MethodPost, "/access/confirm", confirmRequest{
		IntentID:   created.IntentID,
		SourceTxID: "TX1",
	})
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, server.handleConfirm, http.MethodPost, "/access/confirm", confirmRequest{
		IntentID:   created.IntentID,
		SourceTxID: "TX1",
	})
	assert.Equal(t, http.StatusConflict, second.Code)

	var resp confirmResponse
	require.NoError(t, json.NewDecoder(second.Body).Decode(&resp))
	assert.True(t, resp.Granted)
}

func TestHandleConfirmUnknownIntent(t *testing.T) {
	server, _ := newTestServer(t)

	recorder := doJSON(t, server.handleConfirm, http.MethodPost, "/access/confirm", confirmRequest{
		IntentID:   "missing",
		SourceTxID: "TX1",
	})
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestHandleConfirmValidation(t *testing.T) {
	server, _ := newTestServer(t)

	recorder := doJSON(t, server.handleConfirm, http.MethodPost, "/access/confirm", confirmRequest{IntentID: "x"})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestHandleVerify(t *testing.T) {
	server, _ := newTestServer(t)
	created := createTestIntent(t, server)

	recorder := doJSON(t, server.handleVerify, http.MethodGet, "/access/verify?evaluationRef=eval-1&granteeId=hospital-1", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp verifyResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.False(t, resp.HasAccess)

	confirm := doJSON(t, server.handleConfirm, http.MethodPost, "/access/confirm", confirmRequest{
		IntentID:   created.IntentID,
		SourceTxID: "TX1",
	})
	require.Equal(t, http.StatusOK, confirm.Code)

	recorder = doJSON(t, server.handleVerify, http.MethodGet, "/access/verify?evaluationRef=eval-1&granteeId=hospital-1", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.True(t, resp.HasAccess)
	require.NotNil(t, resp.ExpiresAt)

	recorder = doJSON(t, server.handleVerify, http.MethodGet, "/access/verify?evaluationRef=eval-1", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestHandleRevoke(t *testing.T) {
	server, _ := newTestServer(t)
	created := createTestIntent(t, server)

	confirm := doJSON(t, server.handleConfirm, http.MethodPost, "/access/confirm", confirmRequest{
		IntentID:   created.IntentID,
		SourceTxID: "TX1",
	})
	require.Equal(t, http.StatusOK, confirm.Code)

	var confirmResp confirmResponse
	require.NoError(t, json.NewDecoder(confirm.Body).Decode(&confirmResp))

	recorder := doJSON(t, server.handleRevoke, http.MethodPost, "/access/revoke", revokeRequest{
		GrantID: confirmResp.GrantID,
		Reason:  "billing dispute",
	})
	assert.Equal(t, http.StatusNoContent, recorder.Code)

	verify := doJSON(t, server.handleVerify, http.MethodGet, "/access/verify?evaluationRef=eval-1&granteeId=hospital-1", nil)
	var verifyResp verifyResponse
	require.NoError(t, json.NewDecoder(verify.Body).Decode(&verifyResp))
	assert.False(t, verifyResp.HasAccess)

	recorder = doJSON(t, server.handleRevoke, http.MethodPost, "/access/revoke", revokeRequest{GrantID: "missing"})
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestHandleRecordDownload(t *testing.T) {
	server, authority := newTestServer(t)
	created := createTestIntent(t, server)

	confirm := doJSON(t, server.handleConfirm, http.MethodPost, "/access/confirm", confirmRequest{
		IntentID:   created.IntentID,
		SourceTxID: "TX1",
	})
	require.Equal(t, http.StatusOK, confirm.Code)

	var confirmResp confirmResponse
	require.NoError(t, json.NewDecoder(confirm.Body).Decode(&confirmResp))

	recorder := doJSON(t, server.handleRecordDownload, http.MethodPost, "/access/downloads", recordDownloadRequest{
		GrantID: confirmResp.GrantID,
		Bytes:   2048,
		Source:  "imaging.zip",
	})
	assert.Equal(t, http.StatusNoContent, recorder.Code)

	grant, err := authority.GetGrant(confirmResp.GrantID)
	require.NoError(t, err)
	require.Len(t, grant.DownloadHistory, 1)
	assert.Equal(t, int64(2048), grant.DownloadHistory[0].Bytes)
}
