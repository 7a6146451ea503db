package attestation

import (
	"math/big"
	"strings"

	"github.com/medbridge-hq/medbridge-verifier/pkg/models"
)

// Verification failure reasons. These are stable codes surfaced to callers.
const (
	ReasonTxMismatch          = "transaction mismatch"
	ReasonInsufficientAmount  = "insufficient amount"
	ReasonDestinationMismatch = "destination mismatch"
	ReasonPaymentNotSuccess   = "payment not successful"
	ReasonMalformedProof      = "malformed proof"
)

// Expectation holds the parameters a proof must attest to
type Expectation struct {
	SourceTxID  string
	AmountDrops string
	Destination string
}

// VerificationResult is the outcome of checking a proof against expectations
type VerificationResult struct {
	Valid  bool
	Reason string
}

// Verify validates a proof against the expected payment parameters. Checks
// run in order: transaction id, amount, destination, ledger-level status.
// The first failing check short-circuits. Overpayment is acceptable,
// underpayment is not. The function is deterministic and side-effect-free.
func Verify(proof *models.Proof, expected Expectation) VerificationResult {
	if proof == nil {
		return VerificationResult{Valid: false, Reason: ReasonMalformedProof}
	}

	if !strings.EqualFold(proof.SourceTxID, expected.SourceTxID) {
		return VerificationResult{Valid: false, Reason: ReasonTxMismatch}
	}

	attested, ok := new(big.Int).SetString(proof.AttestedAmountDrops, 10)
	if !ok {
		return VerificationResult{Valid: false, Reason: ReasonMalformedProof}
	}
	required, ok := new(big.Int).SetString(expected.AmountDrops, 10)
	if !ok {
		return VerificationResult{Valid: false, Reason: ReasonMalformedProof}
	}
	if attested.Cmp(required) < 0 {
		return VerificationResult{Valid: false, Reason: ReasonInsufficientAmount}
	}

	if proof.AttestedDestination != expected.Destination {
		return VerificationResult{Valid: false, Reason: ReasonDestinationMismatch}
	}

	if proof.AttestedStatus != models.ProofPaymentSuccess {
		return VerificationResult{Valid: false, Reason: ReasonPaymentNotSuccess}
	}

	return VerificationResult{Valid: true}
}
