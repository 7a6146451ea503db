package xrpl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medbridge-hq/medbridge-verifier/pkg/connmgr"
	"github.com/medbridge-hq/medbridge-verifier/pkg/logger"
	"github.com/medbridge-hq/medbridge-verifier/pkg/models"
)

func newTestClient(t *testing.T, walletSeed string, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	mgr := connmgr.NewManager("xrpl", logger.Xrpl, connmgr.Config{
		Endpoints:        []string{server.URL},
		MaxRetries:       3,
		BaseDelay:        time.Millisecond,
		MaxDelay:         5 * time.Millisecond,
		BackoffFactor:    2.0,
		FailureThreshold: 3,
		SuccessThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		ProbeInterval:    time.Minute,
	}, &logger.EmptyLogger{})

	return NewClient(mgr, walletSeed, &logger.EmptyLogger{}), server
}

func rpcHandler(t *testing.T, results map[string]interface{}) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, ok := results[req.Method]
		require.True(t, ok, "unexpected method %s", req.Method)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": result})
	})
}

func TestGetPaymentValidatedSuccess(t *testing.T) {
	client, _ := newTestClient(t, "", rpcHandler(t, map[string]interface{}{
		"tx": map[string]interface{}{
			"hash":         "TX1",
			"Account":      "rPayer",
			"Destination":  "rDestination",
			"Amount":       "4000000",
			"date":         779600000,
			"ledger_index": 1234,
			"validated":    true,
			"Memos": []map[string]interface{}{
				{"Memo": map[string]string{"MemoData": "6d65646272696467653a696e74656e742d31"}},
			},
			"meta": map[string]interface{}{
				"TransactionResult": "tesSUCCESS",
				"delivered_amount":  "4000000",
			},
		},
	}))

	payment, err := client.GetPayment(context.Background(), "TX1")
	require.NoError(t, err)

	assert.Equal(t, models.PaymentOutcomeSuccess, payment.Outcome)
	assert.Equal(t, "4000000", payment.AmountDrops)
	assert.Equal(t, "rPayer", payment.SourceAddress)
	assert.Equal(t, "rDestination", payment.DestinationAddress)
	assert.Equal(t, uint64(1234), payment.LedgerIndex)
	assert.Equal(t, "medbridge:intent-1", payment.Memo)
	// Ripple epoch seconds are shifted to Unix time
	assert.Equal(t, time.Unix(779600000+rippleEpochOffset, 0).UTC(), payment.Timestamp)
}

func TestGetPaymentNotFound(t *testing.T) {
	client, _ := newTestClient(t, "", rpcHandler(t, map[string]interface{}{
		"tx": map[string]interface{}{
			"error":         "txnNotFound",
			"error_message": "Transaction not found.",
		},
	}))

	payment, err := client.GetPayment(context.Background(), "TX1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentOutcomeNotFound, payment.Outcome)
}

func TestGetPaymentNotYetValidated(t *testing.T) {
	client, _ := newTestClient(t, "", rpcHandler(t, map[string]interface{}{
		"tx": map[string]interface{}{
			"hash":      "TX1",
			"validated": false,
		},
	}))

	payment, err := client.GetPayment(context.Background(), "TX1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentOutcomeNotFound, payment.Outcome)
}

func TestGetPaymentFailedOnLedger(t *testing.T) {
	client, _ := newTestClient(t, "", rpcHandler(t, map[string]interface{}{
		"tx": map[string]interface{}{
			"hash":      "TX1",
			"validated": true,
			"Amount":    "4000000",
			"meta": map[string]interface{}{
				"TransactionResult": "tecUNFUNDED_PAYMENT",
			},
		},
	}))

	payment, err := client.GetPayment(context.Background(), "TX1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentOutcomeFailed, payment.Outcome)
}

func TestGetPaymentFallsBackToAmountField(t *testing.T) {
	client, _ := newTestClient(t, "", rpcHandler(t, map[string]interface{}{
		"tx": map[string]interface{}{
			"hash":      "TX1",
			"validated": true,
			"Amount":    "4000000",
			"meta": map[string]interface{}{
				"TransactionResult": "tesSUCCESS",
			},
		},
	}))

	payment, err := client.GetPayment(context.Background(), "TX1")
	require.NoError(t, err)
	assert.Equal(t, "4000000", payment.AmountDrops)
}

func TestSubmitPayment(t *testing.T) {
	var gotParams map[string]interface{}
	client, _ := newTestClient(t, "sSeed", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "submit", req.Method)
		gotParams = req.Params[0].(map[string]interface{})

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"engine_result": "tesSUCCESS",
				"tx_json":       map[string]string{"hash": "TXHASH"},
			},
		})
	}))

	txID, err := client.SubmitPayment(context.Background(), "rDestination", "4000000", "medbridge:intent-1")
	require.NoError(t, err)
	assert.Equal(t, "TXHASH", txID)

	assert.Equal(t, "sSeed", gotParams["secret"])
	txJSON := gotParams["tx_json"].(map[string]interface{})
	assert.Equal(t, "Payment", txJSON["TransactionType"])
	assert.Equal(t, "4000000", txJSON["Amount"])
}

func TestSubmitPaymentRequiresSeed(t *testing.T) {
	client, _ := newTestClient(t, "", rpcHandler(t, map[string]interface{}{}))

	_, err := client.SubmitPayment(context.Background(), "rDestination", "4000000", "")
	assert.Error(t, err)
}

func TestSubmitPaymentRejected(t *testing.T) {
	client, _ := newTestClient(t, "sSeed", rpcHandler(t, map[string]interface{}{
		"submit": map[string]interface{}{
			"engine_result":         "tecUNFUNDED_PAYMENT",
			"engine_result_message": "Insufficient XRP balance.",
		},
	}))

	_, err := client.SubmitPayment(context.Background(), "rDestination", "4000000", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tecUNFUNDED_PAYMENT")
}

func TestGetLatestLedgerIndex(t *testing.T) {
	client, _ := newTestClient(t, "", rpcHandler(t, map[string]interface{}{
		"ledger": map[string]interface{}{
			"ledger_index": 97531,
		},
	}))

	index, err := client.GetLatestLedgerIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(97531), index)
}

func TestProbe(t *testing.T) {
	client, server := newTestClient(t, "", rpcHandler(t, map[string]interface{}{
		"ledger": map[string]interface{}{
			"ledger_index": 97531,
		},
	}))

	assert.NoError(t, client.Probe(context.Background(), server.URL))
}
