package consensus

import "github.com/Klingon-tech/klingnet-chain/pkg/tx"

// MatureUTXO pairs a spendable output with the height at which it was
// confirmed, so maturity can be checked against the current chain tip.
type MatureUTXO struct {
	Output        tx.TxOutput
	ConfirmHeight uint32
}

// MatureStakeChecker decides whether a set of candidate outputs carries
// enough matured value to produce a PoS block. An output only counts
// once it has sat confirmed for at least Maturity blocks, mirroring the
// coinbase-style maturity rule used for proof-of-stake eligibility.
type MatureStakeChecker struct {
	Maturity uint32
	MinStake uint64
}

// NewMatureStakeChecker creates a checker requiring at least minStake
// base units of value matured for at least maturity blocks.
func NewMatureStakeChecker(maturity uint32, minStake uint64) *MatureStakeChecker {
	return &MatureStakeChecker{Maturity: maturity, MinStake: minStake}
}

// MatureValue sums the value of every candidate that has matured as of
// currentHeight.
func (c *MatureStakeChecker) MatureValue(currentHeight uint32, candidates []MatureUTXO) uint64 {
	var total uint64
	for _, u := range candidates {
		if currentHeight < u.ConfirmHeight {
			continue
		}
		age := currentHeight - u.ConfirmHeight
		if age < c.Maturity {
			continue
		}
		total += u.Output.Amount
	}
	return total
}

// HasStake reports whether the candidates' matured value meets MinStake.
func (c *MatureStakeChecker) HasStake(currentHeight uint32, candidates []MatureUTXO) bool {
	return c.MatureValue(currentHeight, candidates) >= c.MinStake
}
