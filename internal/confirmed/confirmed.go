// Package confirmed holds the in-memory fork DAG of blocks above the
// last-finalized root: every block accepted by structural/header
// validation but not yet old enough to be irreversibly written into
// Tables. Grounded on original_source/src/chain/mod.rs's call sites into
// the (retrieval-pruned) confirmed.rs module.
package confirmed

import (
	"fmt"
	"os"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// GenesisPreviousHash is the sentinel previous-hash genesis blocks carry:
// all-ones, matching original_source's GENESIS_PREVIOUS_HASH. Defined in
// internal/consensus (which an ancestor-walking retarget needs too and
// cannot import this package back into) and re-exported here so existing
// callers keep reading it off confirmed.
var GenesisPreviousHash = consensus.GenesisPreviousHash

type node struct {
	block    block.Block
	prev     types.Hash
	cumScore float64
}

// FinalizedBlock is a block evicted from the DAG because it sits deep
// enough under the best chain's tip to be irreversible.
type FinalizedBlock struct {
	Block block.Block
}

// Builder holds the fork DAG rooted at the hash of the last block written
// into permanent storage.
type Builder struct {
	mu          sync.RWMutex
	root        types.Hash
	nodes       map[types.Hash]*node
	children    map[types.Hash][]types.Hash
	tips        map[types.Hash]struct{}
	bestChain   []types.Hash // cached, new-to-old, root excluded
	sidecarPath string
}

// NewBuilder creates a fresh DAG rooted at rootHash (typically
// GenesisPreviousHash for a brand-new chain, or the hash of the most
// recently finalized block when resuming).
func NewBuilder(rootHash types.Hash, sidecarPath string) *Builder {
	return &Builder{
		root:        rootHash,
		nodes:       make(map[types.Hash]*node),
		children:    make(map[types.Hash][]types.Hash),
		tips:        make(map[types.Hash]struct{}),
		sidecarPath: sidecarPath,
	}
}

// RestoreFromFile re-derives the DAG's root from its persisted sidecar
// file, matching ConfirmedBuilder::restore_from_file. Call before pushing
// any blocks on a resumed node; if no sidecar exists yet it returns
// GenesisPreviousHash (a brand-new chain).
func RestoreFromFile(sidecarPath string) (types.Hash, error) {
	raw, err := os.ReadFile(sidecarPath)
	if os.IsNotExist(err) {
		return GenesisPreviousHash, nil
	}
	if err != nil {
		return types.Hash{}, fmt.Errorf("read confirmed sidecar: %w", err)
	}
	if len(raw) != types.HashSize {
		return types.Hash{}, fmt.Errorf("confirmed sidecar has %d bytes, want %d", len(raw), types.HashSize)
	}
	var h types.Hash
	copy(h[:], raw)
	return h, nil
}

// updateSidecarFile persists the current root hash so a restart can
// resume the DAG from the right finalization point.
func (b *Builder) updateSidecarFile() error {
	if b.sidecarPath == "" {
		return nil
	}
	return os.WriteFile(b.sidecarPath, b.root[:], 0o600)
}

// RootHash returns the hash the DAG is currently rooted at.
func (b *Builder) RootHash() types.Hash {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.root
}

// GetBlockRef returns the in-memory block record for hash, if present.
func (b *Builder) GetBlockRef(hash types.Hash) (*block.Block, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n, ok := b.nodes[hash]
	if !ok {
		return nil, false
	}
	blk := n.block
	return &blk, true
}

// BestChain returns the current best chain's block hashes, newest first,
// down to (but excluding) the root.
func (b *Builder) BestChain() []types.Hash {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.Hash, len(b.bestChain))
	copy(out, b.bestChain)
	return out
}

// scoreOf computes a block's own contribution to cumulative score:
// difficulty(bits) / bias.
func scoreOf(blk block.Block) float64 {
	diff := consensus.Difficulty(blk.Header.Bits)
	return blk.Score(diff)
}

// PushNewBlock inserts blk into the DAG (its previous hash must already
// be the root or a known DAG member) and recomputes the best chain.
// Returns the block hashes that left the best chain (to be reverted into
// the mempool) and the ones that entered it (to be dropped from the
// mempool), both newest-first.
func (b *Builder) PushNewBlock(blk block.Block) (reverted, applied []types.Hash, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	hash := blk.Hash()
	if _, exists := b.nodes[hash]; exists {
		return nil, nil, fmt.Errorf("block %s already in confirmed DAG", hash)
	}

	prev := blk.Header.PrevHash
	var parentScore float64
	if prev != b.root {
		parentNode, ok := b.nodes[prev]
		if !ok {
			return nil, nil, fmt.Errorf("block %s's parent %s is not in the confirmed DAG", hash, prev)
		}
		parentScore = parentNode.cumScore
	}

	n := &node{block: blk, prev: prev, cumScore: parentScore + scoreOf(blk)}
	b.nodes[hash] = n
	b.children[prev] = append(b.children[prev], hash)
	delete(b.tips, prev)
	b.tips[hash] = struct{}{}

	oldChain := b.bestChain
	newChain := b.computeBestChain()
	b.bestChain = newChain

	reverted, applied = diffChains(oldChain, newChain)
	if err := b.updateSidecarFile(); err != nil {
		return reverted, applied, err
	}
	return reverted, applied, nil
}

// computeBestChain scans every tip for the highest cumulative score
// (smallest work_hash breaking ties) and walks its ancestry back to the
// root, returning the path newest-first.
func (b *Builder) computeBestChain() []types.Hash {
	var bestTip types.Hash
	var bestScore float64
	haveBest := false
	for tip := range b.tips {
		n := b.nodes[tip]
		better := !haveBest || n.cumScore > bestScore ||
			(n.cumScore == bestScore && tip.Less(bestTip))
		if better {
			bestTip = tip
			bestScore = n.cumScore
			haveBest = true
		}
	}
	if !haveBest {
		return nil
	}

	var path []types.Hash
	for cur := bestTip; cur != b.root; {
		path = append(path, cur)
		cur = b.nodes[cur].prev
	}
	return path
}

// diffChains compares two new-to-old chains sharing a common root,
// returning the hashes present only in old (newest-first) and only in
// new (newest-first).
func diffChains(old, new_ []types.Hash) (onlyOld, onlyNew []types.Hash) {
	oldSet := make(map[types.Hash]struct{}, len(old))
	for _, h := range old {
		oldSet[h] = struct{}{}
	}
	newSet := make(map[types.Hash]struct{}, len(new_))
	for _, h := range new_ {
		newSet[h] = struct{}{}
	}
	for _, h := range old {
		if _, ok := newSet[h]; !ok {
			onlyOld = append(onlyOld, h)
		}
	}
	for _, h := range new_ {
		if _, ok := oldSet[h]; !ok {
			onlyNew = append(onlyNew, h)
		}
	}
	return onlyOld, onlyNew
}

// TruncateOldBlocks moves blocks from the tail of the best chain into
// permanent storage once the best chain holds more than maxCacheSize
// blocks, finalizing only the excess: maxCacheSize blocks (and never
// fewer than minConfirmations) stay cached above the new root.
// Returned blocks are ordered old-to-new, ready for the caller to index.
func (b *Builder) TruncateOldBlocks(minConfirmations uint32, maxCacheSize int) []FinalizedBlock {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.bestChain) <= maxCacheSize {
		return nil
	}

	keep := maxCacheSize
	if int(minConfirmations) > keep {
		keep = int(minConfirmations)
	}
	cut := len(b.bestChain) - keep
	if cut <= 0 {
		return nil
	}

	// b.bestChain is newest-first; the blocks to finalize are the oldest
	// `cut` entries, i.e. the tail.
	toFinalize := make([]types.Hash, cut)
	copy(toFinalize, b.bestChain[len(b.bestChain)-cut:])

	finalized := make([]FinalizedBlock, 0, cut)
	// Process oldest (closest to current root) first.
	for i := len(toFinalize) - 1; i >= 0; i-- {
		hash := toFinalize[i]
		n, ok := b.nodes[hash]
		if !ok {
			continue
		}
		finalized = append(finalized, FinalizedBlock{Block: n.block})
		b.pruneSubtreeExcept(n.prev, hash)
		delete(b.nodes, hash)
		b.root = hash
	}

	b.bestChain = b.bestChain[:len(b.bestChain)-cut]
	return finalized
}

// pruneSubtreeExcept drops parent's other children (losing forks that
// never made the best chain) once one of them, keep, becomes the new
// root.
func (b *Builder) pruneSubtreeExcept(parent, keep types.Hash) {
	for _, child := range b.children[parent] {
		if child == keep {
			continue
		}
		b.pruneSubtree(child)
	}
	delete(b.children, parent)
}

func (b *Builder) pruneSubtree(hash types.Hash) {
	for _, child := range b.children[hash] {
		b.pruneSubtree(child)
	}
	delete(b.children, hash)
	delete(b.nodes, hash)
	delete(b.tips, hash)
}

// FindOutputOfInput looks for input's referenced output among the best
// chain's confirmed transactions, oldest to newest, so a later spend of
// the same input shadows an earlier production of its output. reader
// resolves a transaction body by hash from tx_cache
// (confirmed-but-not-yet-finalized bodies live there). The second return
// reports whether the best chain had an opinion at all: false means the
// caller should keep whatever an earlier, lower tier already concluded.
func (b *Builder) FindOutputOfInput(input tx.TxInput, reader *storage.Tables) (*tx.TxOutput, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var found *tx.TxOutput
	determined := false
	for i := len(b.bestChain) - 1; i >= 0; i-- {
		n := b.nodes[b.bestChain[i]]
		for _, h := range n.block.TxsHash {
			body, err := reader.ReadTxCache(h)
			if err != nil {
				return nil, false, fmt.Errorf("read confirmed tx %s: %w", h, err)
			}
			for _, in := range body.Body.Inputs {
				if in == input {
					found = nil
					determined = true
				}
			}
			if h == input.PrevTxHash {
				if int(input.Vout) >= len(body.Body.Outputs) {
					return nil, false, fmt.Errorf("vout %d out of range on confirmed tx %s", input.Vout, h)
				}
				out := body.Body.Outputs[input.Vout]
				found = &out
				determined = true
			}
		}
	}
	return found, determined, nil
}

// IsUnusedInput reports whether input is unspent from the best chain's
// perspective, excluding exceptHash. The second return indicates whether
// the DAG could answer definitively — false means the caller must fall
// back to permanent storage, since the best chain neither produced nor
// consumed the referenced output.
func (b *Builder) IsUnusedInput(input tx.TxInput, exceptHash types.Hash, reader *storage.Tables) (unused bool, determined bool, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	produced := false
	for i := len(b.bestChain) - 1; i >= 0; i-- {
		n := b.nodes[b.bestChain[i]]
		for _, h := range n.block.TxsHash {
			if h == input.PrevTxHash {
				produced = true
			}
			if h == exceptHash {
				continue
			}
			body, err := reader.ReadTxCache(h)
			if err != nil {
				continue
			}
			for _, in := range body.Body.Inputs {
				if in == input {
					return false, true, nil
				}
			}
		}
	}
	if !produced {
		return false, false, nil
	}
	return true, true, nil
}
