package tx

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Builder constructs a TxManual incrementally.
type Builder struct {
	body TxBody
}

// NewBuilder creates a new transaction builder for the given type, time,
// and deadline.
func NewBuilder(txType TxType, time, deadline uint32) *Builder {
	return &Builder{
		body: TxBody{
			Version:  1,
			Type:     txType,
			Time:     time,
			Deadline: deadline,
		},
	}
}

// AddInput adds an input referencing a previous output.
func (b *Builder) AddInput(prevTxHash types.Hash, vout uint8) *Builder {
	b.body.Inputs = append(b.body.Inputs, TxInput{PrevTxHash: prevTxHash, Vout: vout})
	return b
}

// AddOutput adds an output.
func (b *Builder) AddOutput(out TxOutput) *Builder {
	b.body.Outputs = append(b.body.Outputs, out)
	return b
}

// SetGas sets the gas price and amount, determining the transaction fee
// (RequiredFee = gas_amount * gas_price).
func (b *Builder) SetGas(price uint64, amount int64) *Builder {
	b.body.GasPrice = price
	b.body.GasAmount = amount
	return b
}

// SetMessage attaches an arbitrary message payload, rejecting payloads
// over MaxMessageSize.
func (b *Builder) SetMessage(msgType uint8, message []byte) error {
	if len(message) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(message))
	}
	b.body.MessageType = msgType
	b.body.Message = message
	return nil
}

// Sign produces a TxManual, signing every non-coinbase input with the
// given key in order. This supports single-key-per-transaction signing;
// multi-signer transactions should construct TxManual.Signatures directly.
func (b *Builder) Sign(key *crypto.PrivateKey) (*TxManual, error) {
	if err := b.body.ValidateStructure(); err != nil {
		return nil, err
	}
	m := &TxManual{Body: b.body}
	hash := m.Hash()
	rawSig, err := key.Sign(hash[:])
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	sig, err := crypto.NewSingleSig(key.PublicKey(), rawSig)
	if err != nil {
		return nil, fmt.Errorf("build signature: %w", err)
	}
	for _, in := range b.body.Inputs {
		if in.IsCoinbase() {
			continue
		}
		m.Signatures = append(m.Signatures, sig)
	}
	return m, nil
}

// Build returns the constructed, unsigned body.
func (b *Builder) Build() TxBody {
	return b.body
}
