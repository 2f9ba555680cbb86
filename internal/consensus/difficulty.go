// Package consensus implements difficulty retargeting and cross-flavor
// bias normalization for the hybrid PoW/PoS/PoC chain.
package consensus

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// maxTarget is the largest representable 256-bit target (bits = 1).
var maxTarget = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// GenesisPreviousHash is the sentinel previous-hash genesis blocks carry:
// all-ones, matching original_source's GENESIS_PREVIOUS_HASH.
var GenesisPreviousHash = types.Hash{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// biasBase mirrors the reference retarget's "MAX" constant: a fixed
// near-ceiling 256-bit value (0xFFFF followed by 30 zero bytes) used in
// place of any real flavor's target when no other flavor has produced a
// block yet to normalize against.
var biasBase = new(big.Int).Lsh(big.NewInt(0xFFFF), 240)

// CompactToTarget expands a compact "bits" encoding into a 256-bit target,
// using the standard 3-byte-mantissa/1-byte-exponent layout: the top byte
// is the exponent (number of bytes in the full value), and the low three
// bytes are the mantissa, left-shifted into position.
func CompactToTarget(bits uint32) *big.Int {
	exponent := int(bits >> 24)
	mantissa := new(big.Int).SetUint64(uint64(bits & 0x007fffff))

	var target *big.Int
	if exponent <= 3 {
		target = new(big.Int).Rsh(mantissa, uint(8*(3-exponent)))
	} else {
		target = new(big.Int).Lsh(mantissa, uint(8*(exponent-3)))
	}
	if bits&0x00800000 != 0 {
		// Negative-target encodings are not valid difficulty targets.
		return big.NewInt(0)
	}
	if target.Sign() == 0 {
		return target
	}
	if target.Cmp(maxTarget) > 0 {
		return new(big.Int).Set(maxTarget)
	}
	return target
}

// TargetToCompact reduces a 256-bit target to its compact "bits" encoding.
func TargetToCompact(target *big.Int) uint32 {
	if target.Sign() <= 0 {
		return 0
	}
	t := new(big.Int).Set(target)
	exponent := (t.BitLen() + 7) / 8

	var mantissa *big.Int
	if exponent <= 3 {
		mantissa = new(big.Int).Lsh(t, uint(8*(3-exponent)))
	} else {
		mantissa = new(big.Int).Rsh(t, uint(8*(exponent-3)))
	}

	// If the high bit of the mantissa's top byte is set, it would be
	// misread as a sign bit; shift right one byte and bump the exponent.
	if mantissa.Bit(23) != 0 {
		mantissa.Rsh(mantissa, 8)
		exponent++
	}
	return uint32(exponent)<<24 | uint32(mantissa.Uint64())
}

// Difficulty returns the relative mining difficulty implied by a compact
// bits value: maxTarget / target, as a float64 (1.0 at the easiest
// possible target).
func Difficulty(bits uint32) float64 {
	target := CompactToTarget(bits)
	if target.Sign() == 0 {
		return 0
	}
	ratio := new(big.Rat).SetFrac(maxTarget, target)
	f, _ := ratio.Float64()
	return f
}

// MaxBits is the easiest compact target a retarget ever returns: every
// computed target is capped at it, and it is returned whenever an
// ancestor walk finds fewer than 2 same-flavor samples to retarget
// against (a brand-new flavor, or a walk that runs off the root first).
const MaxBits uint32 = 0x1f0fffff

// MaxSearchBlocks bounds how many ancestors CalcNextBits/CalcNextBias will
// walk looking for same-flavor (or any) history before giving up.
const MaxSearchBlocks = 1000

// biasWindow is the fixed number of same-flavor samples CalcNextBias
// averages over, independent of any flavor's own LWMA-2 window size.
const biasWindow = 30

// RetargetParams are a flavor's LWMA-2 window: N is the number of prior
// same-flavor blocks averaged over, T is the target time in seconds
// between blocks of that flavor, K is the damping constant (typically
// (N+1)*T/2).
type RetargetParams struct {
	N int
	T int64
	K int64
}

// BlockSource resolves a block by hash while an ancestor walk climbs a
// flavor's history. A nil block with a nil error means hash is not a
// known block — the walk has reached the chain's root. internal/chain's
// Chain.GetBlock already has exactly this contract.
type BlockSource interface {
	GetBlock(hash types.Hash) (*block.Block, error)
}

// DifficultyBuilder computes LWMA-2 retargets and cross-flavor bias by
// walking ancestor blocks through a BlockSource, caching what it visits
// so that successive calls against a slowly-advancing tip don't re-read
// storage for blocks already seen. Grounded on
// original_source/block/difficulty.rs's DifficultyBuilder.
type DifficultyBuilder struct {
	cache  *HeaderCache
	params map[block.BlockFlag]RetargetParams
}

// NewDifficultyBuilder creates a builder with the given per-flavor
// retarget parameters, caching up to 200 recently visited blocks —
// matching the reference implementation's MAX_CACHE_SIZE.
func NewDifficultyBuilder(params map[block.BlockFlag]RetargetParams) *DifficultyBuilder {
	return &DifficultyBuilder{
		cache:  NewHeaderCache(200),
		params: params,
	}
}

func (d *DifficultyBuilder) getBlock(hash types.Hash, source BlockSource) (*block.Block, error) {
	if blk, ok := d.cache.Get(hash); ok {
		return blk, nil
	}
	blk, err := source.GetBlock(hash)
	if err != nil {
		return nil, err
	}
	if blk == nil {
		return nil, nil
	}
	d.cache.Put(hash, blk)
	return blk, nil
}

// CalcNextBits computes the next block's compact bits for flag, walking
// back from previousHash through source, filtering to flag's own blocks,
// until it has gathered N+1 same-flavor samples. If the walk runs off the
// root before that (fewer than 2 same-flavor samples found), it returns
// MaxBits; if it finds at least 2 but fewer than N+1, it reduces the
// window to however many it actually found rather than refusing to
// retarget.
func (d *DifficultyBuilder) CalcNextBits(previousHash types.Hash, flag block.BlockFlag, source BlockSource) (uint32, error) {
	if previousHash == GenesisPreviousHash {
		return MaxBits, nil
	}

	rp, ok := d.params[flag]
	if !ok {
		return 0, &ErrUnsupportedFlavor{Flag: flag}
	}
	n := rp.N
	k := rp.K

	targetHash := previousHash
	var timestamps []uint32
	var targets []*big.Int
	breaked := false

	for i := 0; i < MaxSearchBlocks; i++ {
		blk, err := d.getBlock(targetHash, source)
		if err != nil {
			return 0, fmt.Errorf("calc next bits: %w", err)
		}
		if blk == nil {
			break
		}
		if blk.Flag != flag {
			targetHash = blk.Header.PrevHash
			continue
		}
		if len(timestamps) == n+1 {
			breaked = true
			break
		}
		timestamps = append([]uint32{blk.Header.Time}, timestamps...)
		targets = append([]*big.Int{CompactToTarget(blk.Header.Bits)}, targets...)
		targetHash = blk.Header.PrevHash
		if targetHash == GenesisPreviousHash {
			break
		}
	}

	if !breaked {
		if len(targets) < 2 {
			return MaxBits, nil
		}
		n = len(timestamps) - 1
	}

	sumTarget := new(big.Int)
	var t int64
	var weight int64
	for i := 0; i < n; i++ {
		solveTime := int64(timestamps[i+1]) - int64(timestamps[i])
		if solveTime < 0 {
			solveTime = 0
		}
		weight++
		t += solveTime * weight
		sumTarget.Add(sumTarget, targets[i+1])
	}

	if floor := int64(n) * k / 3; t < floor {
		t = floor
	}

	nextTarget := new(big.Int).Mul(big.NewInt(t), sumTarget)
	nextTarget.Div(nextTarget, big.NewInt(k))
	nextTarget.Div(nextTarget, big.NewInt(int64(n)))
	nextTarget.Div(nextTarget, big.NewInt(int64(n)))

	if nextTarget.Cmp(CompactToTarget(MaxBits)) > 0 {
		return MaxBits, nil
	}
	return TargetToCompact(nextTarget), nil
}

// CalcNextBias computes the cross-flavor weight that normalizes flag's
// difficulty against the best (newest) difficulty any other active
// flavor has recently shown, walking the same ancestor chain
// CalcNextBits does but with a fixed 30-block window. Returns 1.0 for the
// genesis flavor, the first block after genesis, or any walk that runs
// off the root before finding flag's own history.
func (d *DifficultyBuilder) CalcNextBias(previousHash types.Hash, flag block.BlockFlag, source BlockSource) (float32, error) {
	if flag == block.Genesis {
		return 1.0, nil
	}
	if previousHash == GenesisPreviousHash {
		return 1.0, nil
	}

	targetSum := new(big.Int)
	targetCnt := 0
	othersBest := make(map[block.BlockFlag]*big.Int)
	targetHash := previousHash

walk:
	for i := 0; i < MaxSearchBlocks; i++ {
		blk, err := d.getBlock(targetHash, source)
		if err != nil {
			return 0, fmt.Errorf("calc next bias: %w", err)
		}
		if blk == nil {
			break
		}

		target := CompactToTarget(blk.Header.Bits)
		if blk.Flag != flag {
			if _, ok := othersBest[blk.Flag]; !ok {
				othersBest[blk.Flag] = target
			}
		}
		targetHash = blk.Header.PrevHash

		switch {
		case blk.Flag == flag && targetCnt < biasWindow:
			weight := big.NewInt(int64(biasWindow - targetCnt))
			targetSum.Add(targetSum, new(big.Int).Mul(target, weight))
			targetCnt++
		case len(d.params) <= len(othersBest)+1:
			break walk
		}

		if targetHash == GenesisPreviousHash {
			break
		}
	}

	if targetCnt == 0 {
		return 1.0, nil
	}

	var numerator, denominator *big.Int
	if len(othersBest) == 0 {
		numerator = new(big.Int).Mul(biasBase, big.NewInt(int64(targetCnt)))
		denominator = new(big.Int).Lsh(targetSum, 32)
	} else {
		avg := new(big.Int)
		for _, other := range othersBest {
			avg.Add(avg, other)
		}
		avg.Div(avg, big.NewInt(int64(len(othersBest))))
		numerator = new(big.Int).Mul(avg, big.NewInt(int64(targetCnt)))
		denominator = targetSum
	}

	ratio := new(big.Rat).SetFrac(numerator, denominator)
	f, _ := ratio.Float64()
	return float32(f), nil
}

// HeaderCache is a bounded cache of recently seen blocks, keyed by hash,
// used to avoid re-reading Tables/Confirmed on every step of an ancestor
// walk. Evicts the lowest-height entry once it exceeds its capacity —
// matching the reference implementation's height-ordered eviction rather
// than ordinary recency-based LRU, since consecutive retargets revisit
// almost the same ancestor chain and the oldest block is the one least
// likely to be revisited next.
type HeaderCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[types.Hash]*block.Block
}

// NewHeaderCache creates a cache holding up to capacity blocks.
func NewHeaderCache(capacity int) *HeaderCache {
	return &HeaderCache{
		capacity: capacity,
		entries:  make(map[types.Hash]*block.Block),
	}
}

// Get returns the cached block at hash, if present.
func (c *HeaderCache) Get(hash types.Hash) (*block.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	blk, ok := c.entries[hash]
	return blk, ok
}

// Put inserts or updates the cached block at hash, evicting the
// lowest-height entry if the cache is at capacity.
func (c *HeaderCache) Put(hash types.Hash, blk *block.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[hash]; ok {
		c.entries[hash] = blk
		return
	}
	if len(c.entries) >= c.capacity {
		var evictHash types.Hash
		var evictHeight uint32
		first := true
		for h, b := range c.entries {
			if first || b.Height < evictHeight {
				evictHash, evictHeight = h, b.Height
				first = false
			}
		}
		delete(c.entries, evictHash)
	}
	c.entries[hash] = blk
}

// ErrUnsupportedFlavor is returned for any consensus operation requested
// against a BlockFlag the engine does not implement.
type ErrUnsupportedFlavor struct {
	Flag block.BlockFlag
}

func (e *ErrUnsupportedFlavor) Error() string {
	return fmt.Sprintf("consensus flavor %s is not implemented", e.Flag)
}
