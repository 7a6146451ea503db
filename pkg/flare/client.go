// Package flare provides a client for the Flare C-chain, used for liveness
// probes and for checking attestation proofs against the on-chain FDC
// verification contract.
package flare

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/medbridge-hq/medbridge-verifier/pkg/connmgr"
	"github.com/medbridge-hq/medbridge-verifier/pkg/logger"
	"github.com/medbridge-hq/medbridge-verifier/pkg/models"
)

// Client talks to Flare RPC nodes. Every call is routed through the
// connection manager; dialed clients are cached per endpoint.
type Client struct {
	mgr             *connmgr.Manager
	verifierAddress common.Address
	logger          logger.Logger

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

// NewClient creates a new Flare client
func NewClient(mgr *connmgr.Manager, verifierAddress string, log logger.Logger) *Client {
	return &Client{
		mgr:             mgr,
		verifierAddress: common.HexToAddress(verifierAddress),
		logger:          log,
		clients:         make(map[string]*ethclient.Client),
	}
}

// Manager returns the connection manager routing this client's calls
func (c *Client) Manager() *connmgr.Manager {
	return c.mgr
}

// client returns a cached ethclient for the endpoint, dialing on first use
func (c *Client) client(endpointURL string) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[endpointURL]; ok {
		return client, nil
	}
	client, err := ethclient.Dial(endpointURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to client: %v", err)
	}
	c.clients[endpointURL] = client
	return client, nil
}

// GetLatestBlockNumber gets the latest block number from the chain
func (c *Client) GetLatestBlockNumber(ctx context.Context) (uint64, error) {
	var blockNumber uint64
	err := c.mgr.Execute(ctx, "flare_block_number", func(ctx context.Context, endpointURL string) error {
		return c.probe(ctx, endpointURL, &blockNumber)
	})
	return blockNumber, err
}

// Probe is the cheap liveness operation used by the health probe task
func (c *Client) Probe(ctx context.Context, endpointURL string) error {
	var blockNumber uint64
	return c.probe(ctx, endpointURL, &blockNumber)
}

func (c *Client) probe(ctx context.Context, endpointURL string, blockNumber *uint64) error {
	client, err := c.client(endpointURL)
	if err != nil {
		return err
	}
	number, err := client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	*blockNumber = number
	return nil
}

// VerifyInclusion checks the proof's Merkle evidence against the FDC
// verification contract on Flare. This confirms the attestation is part of
// a finalized voting round without trusting the oracle node directly.
func (c *Client) VerifyInclusion(ctx context.Context, proof *models.Proof) (bool, error) {
	verifierABI, err := getVerifierABI()
	if err != nil {
		return false, fmt.Errorf("failed to get verifier ABI: %v", err)
	}

	merkleProof := make([][32]byte, 0, len(proof.MerkleProof))
	for _, node := range proof.MerkleProof {
		merkleProof = append(merkleProof, common.HexToHash(node))
	}

	var included bool
	err = c.mgr.Execute(ctx, "flare_verify_inclusion", func(ctx context.Context, endpointURL string) error {
		client, err := c.client(endpointURL)
		if err != nil {
			return err
		}

		contract := bind.NewBoundContract(
			c.verifierAddress,
			verifierABI,
			client,
			client,
			client,
		)

		callOpts := &bind.CallOpts{Context: ctx}
		var out []interface{}
		err = contract.Call(callOpts, &out, "verifyPayment",
			new(big.Int).SetUint64(proof.VotingRound),
			[32]byte(common.HexToHash(proof.MerkleRoot)),
			merkleProof,
			[32]byte(common.HexToHash(proof.SourceTxID)),
		)
		if err != nil {
			return fmt.Errorf("failed to verify inclusion: %v", err)
		}

		if len(out) == 0 || out[0] == nil {
			return fmt.Errorf("empty result from verifyPayment call")
		}
		result, ok := out[0].(bool)
		if !ok {
			return fmt.Errorf("invalid verifyPayment result type")
		}
		included = result
		return nil
	})
	if err != nil {
		return false, err
	}
	return included, nil
}

// Helper function to get the FDC verification ABI
func getVerifierABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(`[
		{
			"constant": true,
			"inputs": [
				{
					"name": "_votingRound",
					"type": "uint256"
				},
				{
					"name": "_merkleRoot",
					"type": "bytes32"
				},
				{
					"name": "_merkleProof",
					"type": "bytes32[]"
				},
				{
					"name": "_transactionId",
					"type": "bytes32"
				}
			],
			"name": "verifyPayment",
			"outputs": [
				{
					"name": "",
					"type": "bool"
				}
			],
			"payable": false,
			"stateMutability": "view",
			"type": "function"
		}
	]`))
}
