package mempool

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// DefaultMaxTxSize is the maximum transaction size in bytes.
const DefaultMaxTxSize = 100_000

// Policy defines transaction acceptance rules. These are separate from
// structural/UTXO validation — policy rules can vary per node and are
// checked before a transaction is resolved against the UTXO set.
type Policy struct {
	MaxTxSize  int    // Maximum serialized body size in bytes.
	MinFeeRate uint64 // Minimum fee rate in base units per byte (0 = disabled).
	MintFee    uint64 // Minimum fee required for transactions that mint new coins (0 = disabled).
}

// DefaultPolicy returns a policy with sensible defaults.
func DefaultPolicy() *Policy {
	return &Policy{MaxTxSize: DefaultMaxTxSize}
}

// Check validates a transaction body against policy rules and the
// consensus structural limits, as defense-in-depth ahead of full
// UTXO-aware validation.
func (p *Policy) Check(body *tx.TxBody, fee uint64) error {
	size := len(body.Bytes())
	if p.MaxTxSize > 0 && size > p.MaxTxSize {
		return fmt.Errorf("transaction too large: %d bytes, max %d", size, p.MaxTxSize)
	}
	if len(body.Inputs) > config.MaxTxInputs {
		return fmt.Errorf("too many inputs: %d, max %d", len(body.Inputs), config.MaxTxInputs)
	}
	if len(body.Outputs) > config.MaxTxOutputs {
		return fmt.Errorf("too many outputs: %d, max %d", len(body.Outputs), config.MaxTxOutputs)
	}
	if len(body.Message) > config.MaxScriptData {
		return fmt.Errorf("message too large: %d bytes, max %d", len(body.Message), config.MaxScriptData)
	}

	if p.MinFeeRate > 0 {
		required := p.MinFeeRate * uint64(size)
		if fee < required {
			return fmt.Errorf("%w: got %d, need %d (%d bytes x %d rate)", ErrFeeTooLow, fee, required, size, p.MinFeeRate)
		}
	}
	if p.MintFee > 0 && body.Type == tx.TxMint && fee < p.MintFee {
		return fmt.Errorf("%w: mint tx needs %d, got %d", ErrFeeTooLow, p.MintFee, fee)
	}
	return nil
}
