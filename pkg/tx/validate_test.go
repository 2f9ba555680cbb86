package tx

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func TestValidateStructure_NoInputs(t *testing.T) {
	b := &TxBody{Outputs: []TxOutput{testOutput(1)}}
	if err := b.ValidateStructure(); !errors.Is(err, ErrNoInputs) {
		t.Errorf("got %v, want ErrNoInputs", err)
	}
}

func TestValidateStructure_NoOutputs(t *testing.T) {
	b := &TxBody{Inputs: []TxInput{{}}}
	if err := b.ValidateStructure(); !errors.Is(err, ErrNoOutputs) {
		t.Errorf("got %v, want ErrNoOutputs", err)
	}
}

func TestValidateStructure_DuplicateInput(t *testing.T) {
	h := types.Hash{0x01}
	b := &TxBody{
		Inputs:  []TxInput{{PrevTxHash: h, Vout: 0}, {PrevTxHash: h, Vout: 0}},
		Outputs: []TxOutput{testOutput(1)},
	}
	if err := b.ValidateStructure(); !errors.Is(err, ErrDuplicateInput) {
		t.Errorf("got %v, want ErrDuplicateInput", err)
	}
}

func TestValidateStructure_DistinctVoutNotDuplicate(t *testing.T) {
	h := types.Hash{0x01}
	b := &TxBody{
		Inputs:  []TxInput{{PrevTxHash: h, Vout: 0}, {PrevTxHash: h, Vout: 1}},
		Outputs: []TxOutput{testOutput(1)},
	}
	if err := b.ValidateStructure(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateStructure_TooManyInputs(t *testing.T) {
	inputs := make([]TxInput, MaxInputs+1)
	for i := range inputs {
		inputs[i] = TxInput{PrevTxHash: types.Hash{byte(i), byte(i >> 8)}}
	}
	b := &TxBody{Inputs: inputs, Outputs: []TxOutput{testOutput(1)}}
	if err := b.ValidateStructure(); !errors.Is(err, ErrTooManyInputs) {
		t.Errorf("got %v, want ErrTooManyInputs", err)
	}
}

func TestManual_VerifySignatures_CountMismatch(t *testing.T) {
	m := &TxManual{
		Body: TxBody{
			Inputs:  []TxInput{{PrevTxHash: types.Hash{0x01}}},
			Outputs: []TxOutput{testOutput(1)},
		},
	}
	if err := m.VerifySignatures(); !errors.Is(err, ErrSigCountMismatch) {
		t.Errorf("got %v, want ErrSigCountMismatch", err)
	}
}

func TestManual_VerifySignatures_CoinbaseNeedsNoSig(t *testing.T) {
	m := &TxManual{
		Body: TxBody{
			Type:    TxPoW,
			Inputs:  []TxInput{{}},
			Outputs: []TxOutput{testOutput(1)},
		},
	}
	if err := m.VerifySignatures(); err != nil {
		t.Errorf("coinbase tx should need no signatures, got %v", err)
	}
}
