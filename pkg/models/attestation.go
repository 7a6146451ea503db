package models

// AttestationStatus represents the oracle-side state of an attestation request
type AttestationStatus string

const (
	AttestationStatusSubmitted AttestationStatus = "submitted"
	AttestationStatusPending   AttestationStatus = "pending"
	AttestationStatusAttested  AttestationStatus = "attested"
	AttestationStatusFailed    AttestationStatus = "failed"
)

// AttestationRequest tracks one attestation job on the oracle
type AttestationRequest struct {
	RequestID   string            `json:"request_id"`
	SourceTxID  string            `json:"source_tx_id"`
	VotingRound uint64            `json:"voting_round"`
	Status      AttestationStatus `json:"status"`
}

// ProofPaymentSuccess is the attested status value for a successful
// source-ledger payment
const ProofPaymentSuccess uint8 = 0

// Proof is an oracle attestation that a payment occurred on the source
// ledger with the attested parameters, plus the Merkle evidence that the
// attestation is included in a finalized voting round
type Proof struct {
	RequestID           string   `json:"request_id"`
	SourceTxID          string   `json:"source_tx_id"`
	VotingRound         uint64   `json:"voting_round"`
	MerkleRoot          string   `json:"merkle_root"`
	MerkleProof         []string `json:"merkle_proof"`
	AttestedAmountDrops string   `json:"attested_amount_drops"`
	AttestedDestination string   `json:"attested_destination"`
	AttestedStatus      uint8    `json:"attested_status"`
}
