package tx

import "fmt"

// RequiredFee returns the fee a transaction body must pay: gas_amount
// units of gas at gas_price base units each. GasAmount is signed (coinbase
// bodies carry a negative gas_amount representing the block reward being
// minted, rather than a fee being paid) but a spend transaction's fee is
// only meaningful, and only required to be non-negative, when GasAmount
// is itself non-negative.
func (b *TxBody) RequiredFee() (uint64, error) {
	if b.GasAmount < 0 {
		return 0, fmt.Errorf("gas amount is negative (%d), not a spend transaction", b.GasAmount)
	}
	return uint64(b.GasAmount) * b.GasPrice, nil
}
