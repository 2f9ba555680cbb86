package block

import (
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// HeaderSize is the fixed wire size of a Header in bytes.
const HeaderSize = 80

// Header is the canonical 80-byte block header: version, previous hash,
// merkle root, time, compact difficulty bits, and nonce. Any field not
// needed for work/identity (height, flavor, bias) lives on Block instead.
type Header struct {
	Version    uint32     `json:"version"`
	PrevHash   types.Hash `json:"prev_hash"`
	MerkleRoot types.Hash `json:"merkle_root"`
	Time       uint32     `json:"time"`
	Bits       uint32     `json:"bits"`
	Nonce      uint32     `json:"nonce"`
}

// Hash computes the double-SHA-256 identity hash of the header.
func (h *Header) Hash() types.Hash {
	return crypto.DoubleHash(h.Bytes())
}

// Bytes returns the canonical 80-byte wire encoding:
// version(4) | prev_hash(32) | merkle_root(32) | time(4) | bits(4) | nonce(4),
// all little-endian.
func (h *Header) Bytes() []byte {
	buf := make([]byte, 0, HeaderSize)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, h.Time)
	buf = binary.LittleEndian.AppendUint32(buf, h.Bits)
	buf = binary.LittleEndian.AppendUint32(buf, h.Nonce)
	return buf
}

// HeaderFromBytes parses an 80-byte header.
func HeaderFromBytes(b []byte) (*Header, error) {
	if len(b) != HeaderSize {
		return nil, fmt.Errorf("header must be %d bytes, got %d", HeaderSize, len(b))
	}
	h := &Header{}
	h.Version = binary.LittleEndian.Uint32(b[0:4])
	copy(h.PrevHash[:], b[4:36])
	copy(h.MerkleRoot[:], b[36:68])
	h.Time = binary.LittleEndian.Uint32(b[68:72])
	h.Bits = binary.LittleEndian.Uint32(b[72:76])
	h.Nonce = binary.LittleEndian.Uint32(b[76:80])
	return h, nil
}
