package tx

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Validation errors.
var (
	ErrNoInputs       = errors.New("transaction has no inputs")
	ErrNoOutputs      = errors.New("transaction has no outputs")
	ErrDuplicateInput = errors.New("duplicate input")
	ErrTooManyInputs  = errors.New("too many inputs")
	ErrTooManyOutputs = errors.New("too many outputs")
	ErrMessageTooLarge = errors.New("message too large")
	ErrMissingSig     = errors.New("input missing signature")
	ErrSigCountMismatch = errors.New("signature count does not match non-coinbase input count")
	ErrInvalidSig     = errors.New("invalid signature")
)

// ValidateStructure checks body shape independent of any UTXO set: input
// and output counts, duplicate inputs, and message size. Coinbase bodies
// (Genesis/PoW/PoS) are exempt from the "has inputs" rule only in the
// sense that their single input is the synthetic zero-hash coinbase input,
// which is still required to be present.
func (b *TxBody) ValidateStructure() error {
	if len(b.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(b.Outputs) == 0 {
		return ErrNoOutputs
	}
	if len(b.Inputs) > MaxInputs {
		return fmt.Errorf("%w: %d inputs, max %d", ErrTooManyInputs, len(b.Inputs), MaxInputs)
	}
	if len(b.Outputs) > MaxOutputs {
		return fmt.Errorf("%w: %d outputs, max %d", ErrTooManyOutputs, len(b.Outputs), MaxOutputs)
	}
	if len(b.Message) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrMessageTooLarge, len(b.Message), MaxMessageSize)
	}

	seen := make(map[types.Hash]map[uint8]bool, len(b.Inputs))
	for i, in := range b.Inputs {
		if in.IsCoinbase() {
			continue
		}
		byVout, ok := seen[in.PrevTxHash]
		if !ok {
			byVout = make(map[uint8]bool)
			seen[in.PrevTxHash] = byVout
		}
		if byVout[in.Vout] {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		byVout[in.Vout] = true
	}
	return nil
}

// VerifySignatures checks that the manual transaction carries exactly one
// signature per non-coinbase input, and that each verifies against the
// body hash.
func (m *TxManual) VerifySignatures() error {
	hash := m.Hash()
	nonCoinbase := 0
	for _, in := range m.Body.Inputs {
		if !in.IsCoinbase() {
			nonCoinbase++
		}
	}
	if len(m.Signatures) != nonCoinbase {
		return fmt.Errorf("%w: got %d, want %d", ErrSigCountMismatch, len(m.Signatures), nonCoinbase)
	}
	for i, sig := range m.Signatures {
		if !sig.Verify(hash[:]) {
			return fmt.Errorf("signature %d: %w", i, ErrInvalidSig)
		}
	}
	return nil
}
