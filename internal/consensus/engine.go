// Package consensus defines consensus engine interfaces.
package consensus

import "github.com/Klingon-tech/klingnet-chain/pkg/block"

// Engine is the interface implemented by each flavor's consensus rules
// (PoW, PoS, PoC). VerifyHeader checks that a block's header satisfies
// its flavor's proof, independent of chain-wide rules like score
// comparison or reorg depth, which live in internal/chain.
type Engine interface {
	VerifyHeader(blk *block.Block) error
}

// StakeChecker verifies that a set of candidate outputs carries enough
// matured value to produce a PoS block.
type StakeChecker interface {
	HasStake(currentHeight uint32, candidates []MatureUTXO) bool
}
