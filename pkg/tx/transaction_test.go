package tx

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func testOutput(amount uint64) TxOutput {
	return TxOutput{Address: types.Address{0x01}, CoinID: 0, Amount: amount}
}

func TestTxBody_Hash_Deterministic(t *testing.T) {
	b := &TxBody{
		Version: 1,
		Type:    TxTransfer,
		Inputs:  []TxInput{{PrevTxHash: types.Hash{0x01}, Vout: 0}},
		Outputs: []TxOutput{testOutput(1000)},
	}

	h1 := b.Hash()
	h2 := b.Hash()
	if h1 != h2 {
		t.Error("Hash() should be deterministic")
	}
	if h1.IsZero() {
		t.Error("Hash() should not be zero")
	}
}

func TestTxBody_Hash_ChangesWithContent(t *testing.T) {
	b1 := &TxBody{
		Version: 1,
		Inputs:  []TxInput{{PrevTxHash: types.Hash{0x01}, Vout: 0}},
		Outputs: []TxOutput{testOutput(1000)},
	}
	b2 := &TxBody{
		Version: 1,
		Inputs:  []TxInput{{PrevTxHash: types.Hash{0x01}, Vout: 0}},
		Outputs: []TxOutput{testOutput(2000)},
	}

	if b1.Hash() == b2.Hash() {
		t.Error("different bodies should have different hashes")
	}
}

func TestTxBody_BytesRoundTrip(t *testing.T) {
	b := &TxBody{
		Version:     1,
		Type:        TxTransfer,
		Time:        100,
		Deadline:    200,
		GasPrice:    5,
		GasAmount:   21,
		MessageType: 1,
		Inputs:      []TxInput{{PrevTxHash: types.Hash{0x02}, Vout: 3}},
		Outputs:     []TxOutput{testOutput(500), testOutput(250)},
		Message:     []byte("hello"),
	}

	decoded, err := BodyFromBytes(b.Bytes())
	if err != nil {
		t.Fatalf("BodyFromBytes: %v", err)
	}
	if decoded.Hash() != b.Hash() {
		t.Error("round trip changed the body hash")
	}
	if len(decoded.Inputs) != 1 || decoded.Inputs[0].Vout != 3 {
		t.Errorf("unexpected inputs after round trip: %+v", decoded.Inputs)
	}
	if len(decoded.Outputs) != 2 || decoded.Outputs[0].Amount != 500 {
		t.Errorf("unexpected outputs after round trip: %+v", decoded.Outputs)
	}
	if string(decoded.Message) != "hello" {
		t.Errorf("message = %q, want %q", decoded.Message, "hello")
	}
}

func TestTxInput_IsCoinbase(t *testing.T) {
	coinbase := TxInput{}
	if !coinbase.IsCoinbase() {
		t.Error("zero-hash input should be coinbase")
	}
	spend := TxInput{PrevTxHash: types.Hash{0x01}}
	if spend.IsCoinbase() {
		t.Error("non-zero-hash input should not be coinbase")
	}
}

func TestMessageTooLarge(t *testing.T) {
	b := &TxBody{
		Inputs:  []TxInput{{}},
		Outputs: []TxOutput{testOutput(1)},
		Message: make([]byte, MaxMessageSize+1),
	}
	if err := b.ValidateStructure(); err == nil {
		t.Fatal("expected error for oversized message")
	}
}
