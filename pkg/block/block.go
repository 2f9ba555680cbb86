// Package block defines block types, the BlockFlag consensus-flavor enum,
// and merkle-root computation.
package block

import (
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// BlockFlag identifies which consensus mechanism produced a block. The
// numeric values and the gaps between them are part of the wire format and
// must not be renumbered.
type BlockFlag uint8

const (
	Genesis BlockFlag = 0
	CoinPos BlockFlag = 1 // proof of stake
	CapPos  BlockFlag = 2 // proof of capacity (plot files)
	FlkPos  BlockFlag = 3 // reserved, unimplemented
	// 4 intentionally unused.
	YesPow  BlockFlag = 5
	X11Pow  BlockFlag = 6
	// 7, 8 intentionally unused.
	X16sPow BlockFlag = 9
)

// String returns a human-readable name for the flag.
func (f BlockFlag) String() string {
	switch f {
	case Genesis:
		return "genesis"
	case CoinPos:
		return "pos"
	case CapPos:
		return "poc"
	case FlkPos:
		return "flk-pos"
	case YesPow:
		return "yespower"
	case X11Pow:
		return "x11"
	case X16sPow:
		return "x16s"
	default:
		return "unknown"
	}
}

// IsProofOfWork reports whether the flag denotes one of the PoW flavors.
func (f BlockFlag) IsProofOfWork() bool {
	return f == YesPow || f == X11Pow || f == X16sPow
}

// Block is the in-memory block record held by the confirmed chain: the
// wire header plus the metadata needed for scoring and traversal. The
// transaction bodies themselves are not embedded — they are looked up in
// storage by the hashes in TxsHash, the coinbase always occupying index 0.
type Block struct {
	WorkHash types.Hash   `json:"work_hash"`
	Height   uint32       `json:"height"`
	Flag     BlockFlag    `json:"flag"`
	Bias     float32      `json:"bias"`
	Header   Header       `json:"header"`
	TxsHash  []types.Hash `json:"txs_hash"`
}

// FullBlock pairs a Block's metadata with the actual transaction bodies,
// as persisted to and read back from storage.
type FullBlock struct {
	Block Block
	Txs   []*tx.TxBody
}

// Hash returns the block header's identity hash.
func (b *Block) Hash() types.Hash {
	h := b.Header
	return h.Hash()
}

// Score is the chain-selection weight of this block: difficulty normalized
// by its flavor's cross-flavor bias.
func (b *Block) Score(difficulty float64) float64 {
	if b.Bias == 0 {
		return 0
	}
	return difficulty / float64(b.Bias)
}

// CoinbaseHash returns the hash of the coinbase transaction, always the
// first entry in TxsHash.
func (b *Block) CoinbaseHash() types.Hash {
	if len(b.TxsHash) == 0 {
		return types.Hash{}
	}
	return b.TxsHash[0]
}

// MerkleRoot computes the merkle root over the given leaf hashes using
// double-SHA-256 pairwise reduction. A level with an odd number of nodes
// duplicates its last element before reducing, per the standard
// odd-level-duplication rule.
func MerkleRoot(leaves []types.Hash) types.Hash {
	if len(leaves) == 0 {
		return types.Hash{}
	}
	level := make([]types.Hash, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]types.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, crypto.HashConcat(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}
