package wallet

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Coin selection errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoUTXOs           = errors.New("no UTXOs available")
)

// UTXO represents an unspent output owned by the wallet, restricted to a
// single coin ID - CoinID 0 is the native coin, anything else an issued
// token tracked the same way a plain output is.
type UTXO struct {
	TxHash types.Hash
	Vout   uint8
	CoinID uint32
	Value  uint64
}

// CoinSelection holds the result of coin selection.
type CoinSelection struct {
	Inputs []UTXO // Selected UTXOs to spend.
	Total  uint64 // Sum of selected input values.
	Change uint64 // Change = Total - target.
}

// SelectCoins chooses UTXOs to fund a transaction of the given target amount.
// It tries two strategies:
//  1. Single UTXO: finds the smallest single UTXO that covers the target (minimizes inputs).
//  2. Largest-first accumulation: greedily adds the largest UTXOs until the target is met.
//
// Returns the strategy that produces the least change (waste).
func SelectCoins(utxos []UTXO, target uint64) (*CoinSelection, error) {
	if len(utxos) == 0 {
		return nil, ErrNoUTXOs
	}
	if target == 0 {
		return nil, fmt.Errorf("target must be positive")
	}

	// Filter out zero-value UTXOs and sort by value ascending.
	candidates := make([]UTXO, 0, len(utxos))
	for _, u := range utxos {
		if u.Value > 0 {
			candidates = append(candidates, u)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoUTXOs
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Value < candidates[j].Value
	})

	// Strategy 1: Single UTXO — smallest one that covers the target.
	var single *CoinSelection
	for _, u := range candidates {
		if u.Value >= target {
			single = &CoinSelection{
				Inputs: []UTXO{u},
				Total:  u.Value,
				Change: u.Value - target,
			}
			break // Already sorted ascending, first match is smallest.
		}
	}

	// Strategy 2: Largest-first accumulation.
	var accum *CoinSelection
	var selected []UTXO
	var total uint64
	// Iterate from largest to smallest.
	for i := len(candidates) - 1; i >= 0; i-- {
		selected = append(selected, candidates[i])
		total += candidates[i].Value
		if total >= target {
			accum = &CoinSelection{
				Inputs: selected,
				Total:  total,
				Change: total - target,
			}
			break
		}
	}

	// Pick the best result.
	switch {
	case single != nil && accum != nil:
		// Prefer whichever produces less change (less waste).
		if single.Change <= accum.Change {
			return single, nil
		}
		return accum, nil
	case single != nil:
		return single, nil
	case accum != nil:
		return accum, nil
	default:
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, totalValue(candidates), target)
	}
}

func totalValue(utxos []UTXO) uint64 {
	var total uint64
	for _, u := range utxos {
		total += u.Value
	}
	return total
}

// BuildTransferBody selects native-coin UTXOs to fund a send of amount to
// toAddr, paying gasAmount*gasPrice as the fee, and assembles the resulting
// unsigned tx.TxBody plus one tx.TxOutput per input (the inputsCache
// tx.NewTxVerifiable needs), carrying the UTXO's coin and value with
// changeAddr as its address. Leftover value above amount+fee is
// returned to changeAddr as a second output; no change output is added if
// the selection is exact.
//
// Signing is out of scope here: the caller is expected to derive per-input
// signatures from the spending account's private key material and populate
// a tx.TxManual.Sigs before calling tx.NewTxVerifiable.
func BuildTransferBody(utxos []UTXO, toAddr, changeAddr types.Address, amount uint64, gasAmount int64, gasPrice uint64, deadline uint32) (*tx.TxBody, []tx.TxOutput, error) {
	fee := uint64(gasAmount) * gasPrice
	native := make([]UTXO, 0, len(utxos))
	for _, u := range utxos {
		if u.CoinID == 0 {
			native = append(native, u)
		}
	}

	sel, err := SelectCoins(native, amount+fee)
	if err != nil {
		return nil, nil, fmt.Errorf("build transfer: %w", err)
	}

	inputs := make([]tx.TxInput, len(sel.Inputs))
	inputsCache := make([]tx.TxOutput, len(sel.Inputs))
	for i, u := range sel.Inputs {
		inputs[i] = tx.TxInput{PrevTxHash: u.TxHash, Vout: u.Vout}
		inputsCache[i] = tx.TxOutput{Address: changeAddr, CoinID: u.CoinID, Amount: u.Value}
	}

	outputs := []tx.TxOutput{{Address: toAddr, Amount: amount}}
	if sel.Change > 0 {
		outputs = append(outputs, tx.TxOutput{Address: changeAddr, Amount: sel.Change})
	}

	body := &tx.TxBody{
		Version:   1,
		Type:      tx.TxTransfer,
		Deadline:  deadline,
		GasAmount: gasAmount,
		GasPrice:  gasPrice,
		Inputs:    inputs,
		Outputs:   outputs,
	}
	return body, inputsCache, nil
}
