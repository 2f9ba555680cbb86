package tx

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// UTXO-aware validation errors.
var (
	ErrInputNotFound   = errors.New("input UTXO not found")
	ErrInsufficientFee = errors.New("insufficient fee")
	ErrAddressMismatch = errors.New("signer address does not match spent output")
)

// UTXOProvider provides read-only access to previous outputs for
// resolving a TxManual into a TxVerifiable.
type UTXOProvider interface {
	GetOutput(txHash types.Hash, vout uint8) (TxOutput, bool)
}

// Resolve looks up each non-coinbase input's previous output and builds a
// TxVerifiable, without yet checking signatures or fees.
func (m *TxManual) Resolve(provider UTXOProvider) (*TxVerifiable, error) {
	if err := m.Body.ValidateStructure(); err != nil {
		return nil, err
	}
	var cache []TxOutput
	for i, in := range m.Body.Inputs {
		if in.IsCoinbase() {
			continue
		}
		out, ok := provider.GetOutput(in.PrevTxHash, in.Vout)
		if !ok {
			return nil, fmt.Errorf("input %d (%s:%d): %w", i, in.PrevTxHash, in.Vout, ErrInputNotFound)
		}
		cache = append(cache, out)
	}
	return NewTxVerifiable(m, cache)
}

// Validate performs full validation: signatures against the resolved
// previous outputs' addresses, and that the fee implied by inputs minus
// outputs is non-negative and matches gas_amount*gas_price when the body
// declares gas. Returns the realized fee.
func (v *TxVerifiable) Validate(manualSigs []crypto.Signature) (uint64, error) {
	if err := v.Body.ValidateStructure(); err != nil {
		return 0, err
	}

	nonCoinbaseIdx := 0
	for i, in := range v.Body.Inputs {
		if in.IsCoinbase() {
			continue
		}
		if nonCoinbaseIdx >= len(manualSigs) {
			return 0, fmt.Errorf("input %d: %w", i, ErrMissingSig)
		}
		sig := manualSigs[nonCoinbaseIdx]
		prev := v.InputsCache[nonCoinbaseIdx]
		expected := crypto.AddressFromPubKey(prev.Address.Version(), sig.PubKey[:])
		if expected != prev.Address {
			return 0, fmt.Errorf("input %d: %w", i, ErrAddressMismatch)
		}
		if !sig.Verify(v.TxHash[:]) {
			return 0, fmt.Errorf("input %d: %w", i, ErrInvalidSig)
		}
		nonCoinbaseIdx++
	}

	fee, err := v.Fee()
	if err != nil {
		return 0, err
	}
	if fee < 0 {
		return 0, fmt.Errorf("%w: fee=%d", ErrInsufficientFee, fee)
	}
	if v.Body.GasAmount > 0 {
		want := uint64(v.Body.GasAmount) * v.Body.GasPrice
		if uint64(fee) != want {
			return 0, fmt.Errorf("fee %d does not match gas_amount*gas_price %d", fee, want)
		}
	}
	return uint64(fee), nil
}
