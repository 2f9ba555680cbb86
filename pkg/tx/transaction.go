// Package tx defines transaction types, the three delivery tiers, and
// structural/UTXO validation.
package tx

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// TxType distinguishes the purpose of a transaction body.
type TxType uint8

const (
	TxGenesis  TxType = 0
	TxPoW      TxType = 1
	TxPoS      TxType = 2
	TxTransfer TxType = 3
	TxMint     TxType = 4
)

// String returns a human-readable name for the transaction type.
func (t TxType) String() string {
	switch t {
	case TxGenesis:
		return "genesis"
	case TxPoW:
		return "pow-coinbase"
	case TxPoS:
		return "pos-coinbase"
	case TxTransfer:
		return "transfer"
	case TxMint:
		return "mint"
	default:
		return "unknown"
	}
}

// IsCoinbase reports whether a transaction of this type creates new coins
// rather than spending existing UTXOs.
func (t TxType) IsCoinbase() bool {
	return t == TxGenesis || t == TxPoW || t == TxPoS
}

// MaxMessageSize is the largest allowed TxBody.Message length.
const MaxMessageSize = 65535

// MaxInputs and MaxOutputs bound the per-transaction input/output counts,
// each serialized with a single length byte.
const (
	MaxInputs  = 255
	MaxOutputs = 255
)

// TxInput references the output being spent: the previous transaction's
// hash and an 8-bit output index (a transaction may have at most 255
// outputs, so a byte suffices).
type TxInput struct {
	PrevTxHash types.Hash `json:"prev_tx_hash"`
	Vout       uint8      `json:"vout"`
}

// IsCoinbase reports whether this input is the synthetic coinbase input
// (zero previous hash).
func (in TxInput) IsCoinbase() bool {
	return in.PrevTxHash.IsZero()
}

// Bytes serializes the input as prev_tx_hash(32) || vout(1).
func (in TxInput) Bytes() []byte {
	buf := make([]byte, 0, 33)
	buf = append(buf, in.PrevTxHash[:]...)
	buf = append(buf, in.Vout)
	return buf
}

// TxOutput creates a new spendable balance at an address.
type TxOutput struct {
	Address types.Address `json:"address"`
	CoinID  uint32        `json:"coin_id"`
	Amount  uint64        `json:"amount"`
}

// Bytes serializes the output as address(21) || coin_id(4) || amount(8).
func (out TxOutput) Bytes() []byte {
	buf := make([]byte, 0, 33)
	buf = append(buf, out.Address[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, out.CoinID)
	buf = binary.LittleEndian.AppendUint64(buf, out.Amount)
	return buf
}

// TxBody is the canonical, signature-independent content of a transaction.
type TxBody struct {
	Version     uint32     `json:"version"`
	Type        TxType     `json:"type"`
	Time        uint32     `json:"time"`
	Deadline    uint32     `json:"deadline"`
	GasPrice    uint64     `json:"gas_price"`
	GasAmount   int64      `json:"gas_amount"`
	MessageType uint8      `json:"message_type"`
	Inputs      []TxInput  `json:"inputs"`
	Outputs     []TxOutput `json:"outputs"`
	Message     []byte     `json:"message"`
}

// Hash computes the transaction ID: the double-SHA-256 hash of the
// signing-independent body bytes.
func (b *TxBody) Hash() types.Hash {
	return crypto.DoubleHash(b.Bytes())
}

// Bytes serializes the body in canonical wire order:
// version(4) | type(1) | time(4) | deadline(4) | gas_price(8) | gas_amount(8) |
// message_type(1) | input_count(1) | inputs... | output_count(1) | outputs... |
// message_len(2) | message
func (b *TxBody) Bytes() []byte {
	buf := make([]byte, 0, 64+33*len(b.Inputs)+33*len(b.Outputs)+len(b.Message))
	buf = binary.LittleEndian.AppendUint32(buf, b.Version)
	buf = append(buf, byte(b.Type))
	buf = binary.LittleEndian.AppendUint32(buf, b.Time)
	buf = binary.LittleEndian.AppendUint32(buf, b.Deadline)
	buf = binary.LittleEndian.AppendUint64(buf, b.GasPrice)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(b.GasAmount))
	buf = append(buf, b.MessageType)

	buf = append(buf, byte(len(b.Inputs)))
	for _, in := range b.Inputs {
		buf = append(buf, in.Bytes()...)
	}

	buf = append(buf, byte(len(b.Outputs)))
	for _, out := range b.Outputs {
		buf = append(buf, out.Bytes()...)
	}

	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(b.Message)))
	buf = append(buf, b.Message...)
	return buf
}

// BodyFromBytes parses a serialized TxBody.
func BodyFromBytes(data []byte) (*TxBody, error) {
	const minHead = 4 + 1 + 4 + 4 + 8 + 8 + 1 + 1
	if len(data) < minHead {
		return nil, fmt.Errorf("tx body truncated: %d bytes", len(data))
	}
	b := &TxBody{}
	off := 0
	b.Version = binary.LittleEndian.Uint32(data[off:])
	off += 4
	b.Type = TxType(data[off])
	off++
	b.Time = binary.LittleEndian.Uint32(data[off:])
	off += 4
	b.Deadline = binary.LittleEndian.Uint32(data[off:])
	off += 4
	b.GasPrice = binary.LittleEndian.Uint64(data[off:])
	off += 8
	b.GasAmount = int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	b.MessageType = data[off]
	off++

	if off >= len(data) {
		return nil, fmt.Errorf("tx body truncated before input count")
	}
	inCount := int(data[off])
	off++
	for i := 0; i < inCount; i++ {
		if off+33 > len(data) {
			return nil, fmt.Errorf("tx body truncated in input %d", i)
		}
		var in TxInput
		copy(in.PrevTxHash[:], data[off:off+32])
		in.Vout = data[off+32]
		off += 33
		b.Inputs = append(b.Inputs, in)
	}

	if off >= len(data) {
		return nil, fmt.Errorf("tx body truncated before output count")
	}
	outCount := int(data[off])
	off++
	for i := 0; i < outCount; i++ {
		if off+33 > len(data) {
			return nil, fmt.Errorf("tx body truncated in output %d", i)
		}
		var out TxOutput
		copy(out.Address[:], data[off:off+21])
		out.CoinID = binary.LittleEndian.Uint32(data[off+21:])
		out.Amount = binary.LittleEndian.Uint64(data[off+25:])
		off += 33
		b.Outputs = append(b.Outputs, out)
	}

	if off+2 > len(data) {
		return nil, fmt.Errorf("tx body truncated before message length")
	}
	msgLen := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2
	if off+msgLen > len(data) {
		return nil, fmt.Errorf("tx body truncated in message")
	}
	if msgLen > 0 {
		b.Message = append([]byte(nil), data[off:off+msgLen]...)
	}
	return b, nil
}

// TxManual is a transaction as submitted by a client: a body plus one
// signature per non-coinbase input, with inputs not yet resolved against
// the UTXO set.
type TxManual struct {
	Body       TxBody             `json:"body"`
	Signatures []crypto.Signature `json:"signatures"`
}

// Hash returns the underlying body's transaction ID.
func (m *TxManual) Hash() types.Hash { return m.Body.Hash() }

// TxVerifiable is a transaction whose inputs have been resolved against
// the UTXO set: it carries the previous outputs alongside the body, so
// that fee and script checks do not require a further storage lookup.
type TxVerifiable struct {
	TxHash      types.Hash         `json:"tx_hash"`
	Body        TxBody             `json:"body"`
	Signatures  []crypto.Signature `json:"signatures"`
	InputsCache []TxOutput         `json:"inputs_cache"`
}

// NewTxVerifiable resolves a TxManual against a set of previous outputs,
// one per non-coinbase input in order.
func NewTxVerifiable(m *TxManual, inputsCache []TxOutput) (*TxVerifiable, error) {
	nonCoinbase := 0
	for _, in := range m.Body.Inputs {
		if !in.IsCoinbase() {
			nonCoinbase++
		}
	}
	if len(inputsCache) != nonCoinbase {
		return nil, fmt.Errorf("inputs cache has %d entries, want %d", len(inputsCache), nonCoinbase)
	}
	return &TxVerifiable{
		TxHash:      m.Hash(),
		Body:        m.Body,
		Signatures:  m.Signatures,
		InputsCache: inputsCache,
	}, nil
}

// ConvertRecoded drops the resolved-inputs cache, producing the finalized
// on-disk form stored once a transaction's block is no longer subject to
// reorg truncation.
func (v *TxVerifiable) ConvertRecoded() *TxRecoded {
	return &TxRecoded{
		TxHash:     v.TxHash,
		Body:       v.Body,
		Signatures: v.Signatures,
	}
}

// Fee returns inputs minus outputs. Coinbase inputs contribute zero.
func (v *TxVerifiable) Fee() (int64, error) {
	var totalIn uint64
	for _, prev := range v.InputsCache {
		totalIn += prev.Amount
	}
	totalOut, err := v.totalOutputValue()
	if err != nil {
		return 0, err
	}
	return int64(totalIn) - int64(totalOut), nil
}

func (v *TxVerifiable) totalOutputValue() (uint64, error) {
	var total uint64
	for _, out := range v.Body.Outputs {
		next := total + out.Amount
		if next < total {
			return 0, fmt.Errorf("output value overflow")
		}
		total = next
	}
	return total, nil
}

// TxRecoded is the finalized, storage-resident form of a transaction: body
// and signatures only. Inputs are re-resolved from the block index when
// needed rather than cached, since a finalized block's utxo history is
// immutable.
type TxRecoded struct {
	TxHash     types.Hash         `json:"tx_hash"`
	Body       TxBody             `json:"body"`
	Signatures []crypto.Signature `json:"signatures"`
}

// RecodedFromBytes restores a TxRecoded from its serialized body and
// signature bytes, matching Recoded::restore(body, sig_bytes) on the
// reference implementation.
func RecodedFromBytes(bodyBytes []byte, sigBytes [][]byte) (*TxRecoded, error) {
	body, err := BodyFromBytes(bodyBytes)
	if err != nil {
		return nil, fmt.Errorf("decode tx body: %w", err)
	}
	sigs := make([]crypto.Signature, 0, len(sigBytes))
	for i, sb := range sigBytes {
		sig, err := crypto.SignatureFromBytes(sb)
		if err != nil {
			return nil, fmt.Errorf("decode signature %d: %w", i, err)
		}
		sigs = append(sigs, sig)
	}
	return &TxRecoded{
		TxHash:     body.Hash(),
		Body:       *body,
		Signatures: sigs,
	}, nil
}

// txBodyJSON mirrors TxBody with a hex-encoded message for JSON transport.
type txBodyJSON struct {
	Version     uint32     `json:"version"`
	Type        TxType     `json:"type"`
	Time        uint32     `json:"time"`
	Deadline    uint32     `json:"deadline"`
	GasPrice    uint64     `json:"gas_price"`
	GasAmount   int64      `json:"gas_amount"`
	MessageType uint8      `json:"message_type"`
	Inputs      []TxInput  `json:"inputs"`
	Outputs     []TxOutput `json:"outputs"`
	Message     string     `json:"message,omitempty"`
}

// MarshalJSON encodes the body with a hex-encoded message field.
func (b TxBody) MarshalJSON() ([]byte, error) {
	j := txBodyJSON{
		Version: b.Version, Type: b.Type, Time: b.Time, Deadline: b.Deadline,
		GasPrice: b.GasPrice, GasAmount: b.GasAmount, MessageType: b.MessageType,
		Inputs: b.Inputs, Outputs: b.Outputs,
	}
	if len(b.Message) > 0 {
		j.Message = fmt.Sprintf("%x", b.Message)
	}
	return json.Marshal(j)
}
