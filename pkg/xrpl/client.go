// Package xrpl provides a client for observing and submitting payments on
// the XRP Ledger over its JSON-RPC API.
package xrpl

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/medbridge-hq/medbridge-verifier/pkg/connmgr"
	"github.com/medbridge-hq/medbridge-verifier/pkg/logger"
	"github.com/medbridge-hq/medbridge-verifier/pkg/models"
)

// rippleEpochOffset converts Ripple epoch seconds (since 2000-01-01) to Unix
const rippleEpochOffset = 946684800

// Client talks to XRPL JSON-RPC nodes. Every call is routed through the
// connection manager.
type Client struct {
	mgr        *connmgr.Manager
	httpClient *http.Client
	walletSeed string
	logger     logger.Logger
}

// NewClient creates a new XRPL client
func NewClient(mgr *connmgr.Manager, walletSeed string, log logger.Logger) *Client {
	return &Client{
		mgr:        mgr,
		httpClient: createHTTPClient(),
		walletSeed: walletSeed,
		logger:     log,
	}
}

// Manager returns the connection manager routing this client's calls
func (c *Client) Manager() *connmgr.Manager {
	return c.mgr
}

type rpcRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type rpcResult struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

// call performs one JSON-RPC request against a specific endpoint
func (c *Client) call(ctx context.Context, endpointURL, method string, params interface{}, out interface{}) error {
	payload, err := json.Marshal(rpcRequest{Method: method, Params: []interface{}{params}})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %v", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %v", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %v", method, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.ErrorWithNetwork(logger.Xrpl, "Failed to close response body: %v", closeErr)
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response body: %v", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("failed to decode %s response: %v", method, err)
	}

	return json.Unmarshal(envelope.Result, out)
}

type txResult struct {
	rpcResult
	Hash        string          `json:"hash"`
	Account     string          `json:"Account"`
	Destination string          `json:"Destination"`
	Amount      json.RawMessage `json:"Amount"`
	Date        int64           `json:"date"`
	LedgerIndex uint64          `json:"ledger_index"`
	Validated   bool            `json:"validated"`
	Memos       []struct {
		Memo struct {
			MemoData string `json:"MemoData"`
		} `json:"Memo"`
	} `json:"Memos"`
	Meta struct {
		TransactionResult string          `json:"TransactionResult"`
		DeliveredAmount   json.RawMessage `json:"delivered_amount"`
	} `json:"meta"`
}

// GetPayment looks up a transaction and returns a normalized payment record.
// A transaction that is not yet in a validated ledger yields
// PaymentOutcomeNotFound, which callers may retry; a validated transaction
// that did not succeed yields PaymentOutcomeFailed, which is terminal.
func (c *Client) GetPayment(ctx context.Context, txID string) (*models.Payment, error) {
	var payment *models.Payment

	err := c.mgr.Execute(ctx, "xrpl_tx", func(ctx context.Context, endpointURL string) error {
		var result txResult
		params := map[string]interface{}{
			"transaction": txID,
			"binary":      false,
		}
		if err := c.call(ctx, endpointURL, "tx", params, &result); err != nil {
			return err
		}

		if result.Error != "" {
			// An unknown transaction may simply not be validated yet
			if result.Error == "txnNotFound" {
				payment = &models.Payment{TxID: txID, Outcome: models.PaymentOutcomeNotFound}
				return nil
			}
			return fmt.Errorf("tx lookup failed: %s (%s)", result.Error, result.ErrorMessage)
		}

		payment = normalizePayment(txID, &result)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func normalizePayment(txID string, result *txResult) *models.Payment {
	payment := &models.Payment{
		TxID:               txID,
		SourceAddress:      result.Account,
		DestinationAddress: result.Destination,
		LedgerIndex:        result.LedgerIndex,
		Timestamp:          time.Unix(result.Date+rippleEpochOffset, 0).UTC(),
	}

	if !result.Validated {
		payment.Outcome = models.PaymentOutcomeNotFound
		return payment
	}
	if result.Meta.TransactionResult == "tesSUCCESS" {
		payment.Outcome = models.PaymentOutcomeSuccess
	} else {
		payment.Outcome = models.PaymentOutcomeFailed
	}

	// The delivered amount is authoritative; fall back to the Amount field.
	// Both are plain strings only for native drops payments.
	payment.AmountDrops = dropsAmount(result.Meta.DeliveredAmount)
	if payment.AmountDrops == "" {
		payment.AmountDrops = dropsAmount(result.Amount)
	}

	for _, memo := range result.Memos {
		if decoded, err := hex.DecodeString(memo.Memo.MemoData); err == nil && len(decoded) > 0 {
			payment.Memo = string(decoded)
			break
		}
	}

	return payment
}

// dropsAmount extracts a native drops amount from an XRPL amount field,
// which is a JSON string for XRP and an object for issued currencies
func dropsAmount(raw json.RawMessage) string {
	var amount string
	if err := json.Unmarshal(raw, &amount); err != nil {
		return ""
	}
	return amount
}

type submitResult struct {
	rpcResult
	EngineResult        string `json:"engine_result"`
	EngineResultMessage string `json:"engine_result_message"`
	TxJSON              struct {
		Hash string `json:"hash"`
	} `json:"tx_json"`
}

// SubmitPayment signs and submits a drops payment on the ledger and returns
// the transaction hash. Requires a configured wallet seed.
func (c *Client) SubmitPayment(ctx context.Context, destination, amountDrops, memo string) (string, error) {
	if c.walletSeed == "" {
		return "", fmt.Errorf("no wallet seed configured for payment submission")
	}

	txJSON := map[string]interface{}{
		"TransactionType": "Payment",
		"Destination":     destination,
		"Amount":          amountDrops,
	}
	if memo != "" {
		txJSON["Memos"] = []map[string]interface{}{
			{"Memo": map[string]string{"MemoData": hex.EncodeToString([]byte(memo))}},
		}
	}

	var txID string
	err := c.mgr.Execute(ctx, "xrpl_submit", func(ctx context.Context, endpointURL string) error {
		var result submitResult
		params := map[string]interface{}{
			"tx_json": txJSON,
			"secret":  c.walletSeed,
		}
		if err := c.call(ctx, endpointURL, "submit", params, &result); err != nil {
			return err
		}
		if result.Error != "" {
			return fmt.Errorf("submit failed: %s (%s)", result.Error, result.ErrorMessage)
		}
		if result.EngineResult != "tesSUCCESS" && result.EngineResult != "terQUEUED" {
			return fmt.Errorf("submit rejected: %s (%s)", result.EngineResult, result.EngineResultMessage)
		}
		txID = result.TxJSON.Hash
		return nil
	})
	if err != nil {
		return "", err
	}
	return txID, nil
}

type ledgerResult struct {
	rpcResult
	LedgerIndex uint64 `json:"ledger_index"`
}

// GetLatestLedgerIndex returns the index of the latest validated ledger
func (c *Client) GetLatestLedgerIndex(ctx context.Context) (uint64, error) {
	var index uint64
	err := c.mgr.Execute(ctx, "xrpl_ledger", func(ctx context.Context, endpointURL string) error {
		return c.probe(ctx, endpointURL, &index)
	})
	return index, err
}

// Probe is the cheap liveness operation used by the health probe task
func (c *Client) Probe(ctx context.Context, endpointURL string) error {
	var index uint64
	return c.probe(ctx, endpointURL, &index)
}

func (c *Client) probe(ctx context.Context, endpointURL string, index *uint64) error {
	var result ledgerResult
	params := map[string]interface{}{
		"ledger_index": "validated",
	}
	if err := c.call(ctx, endpointURL, "ledger", params, &result); err != nil {
		return err
	}
	if result.Error != "" {
		return fmt.Errorf("ledger lookup failed: %s (%s)", result.Error, result.ErrorMessage)
	}
	*index = result.LedgerIndex
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
