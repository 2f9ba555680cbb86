package generate

import (
	"fmt"
	"math/big"
	"time"

	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// MatureHeight is the number of confirmations a spendable output needs
// before it may be used as a PoS staking input.
const MatureHeight = 20

// posHash is the PoS work function: the double hash of the candidate
// coinbase's hash and the chain tip, byte-reversed and divided by the
// staked amount in whole coins, so staking weight scales with locked
// value rather than raw hash attempts.
func posHash(coinbase tx.TxBody, amount uint64, prevHash types.Hash) []byte {
	cbHash := coinbase.Hash()
	buf := make([]byte, 0, 2*types.HashSize)
	buf = append(buf, cbHash[:]...)
	buf = append(buf, prevHash[:]...)
	h := crypto.DoubleHash(buf)
	for i, j := 0, len(h)-1; i < j; i, j = i+1, j-1 {
		h[i], h[j] = h[j], h[i]
	}
	work := new(big.Int).SetBytes(h[:])
	if coins := amount / 100_000_000; coins > 0 {
		work.Div(work, new(big.Int).SetUint64(coins))
	}
	return work.FillBytes(make([]byte, types.HashSize))
}

type posCoinbase struct {
	body   tx.TxBody
	amount uint64
}

// PosWorker selects among the node's own matured unspent outputs for one
// whose pos_hash falls under the current target. Grounded on
// original_source/block/generate.rs's PosWorker.
type PosWorker struct {
	coinbase     []posCoinbase
	prevHash     types.Hash
	bits         uint32
	signer       crypto.Signer
	lastHashrate int
	lastSecs     float64
	haveInfo     bool
}

// NewPosWorker creates a PoS worker that signs winning blocks with signer.
func NewPosWorker(signer crypto.Signer) *PosWorker {
	return &PosWorker{signer: signer}
}

func (w *PosWorker) Generate() Result {
	start := time.Now()
	target := consensus.CompactToTarget(w.bits)
	total := 0

	for i, cb := range w.coinbase {
		total++
		digest := posHash(cb.body, cb.amount, w.prevHash)
		work := new(big.Int).SetBytes(digest)
		if work.Cmp(target) < 0 {
			header := block.Header{
				Version:  0,
				PrevHash: w.prevHash,
				Time:     cb.body.Time,
				Bits:     w.bits,
			}
			var workHash types.Hash
			copy(workHash[:], digest)
			return Result{Kind: ResultPoS, WorkHash: workHash, Coinbase: cb.body, Header: header, Amount: cb.amount}
		}
		if i%10 == 0 && time.Since(start).Seconds() >= 1.0 {
			break
		}
	}

	w.lastHashrate = total
	w.lastSecs = time.Since(start).Seconds()
	w.haveInfo = true
	return Result{Kind: ResultNotFound}
}

func (w *PosWorker) UpdateByNewBlock(ctx UpdateContext) {
	const limit = 5000
	candidates := ctx.Chain.MatureUnspent(ctx.NewBlock.Height + 1)

	coinbases := make([]posCoinbase, 0, min(limit, len(candidates)))
	for _, c := range candidates {
		if len(coinbases) >= limit {
			break
		}
		if c.Output.CoinID != 0 {
			continue
		}
		if c.Output.Address.Version() != 0 {
			continue
		}
		if c.Output.Amount < 100_000_000 {
			continue
		}
		if ctx.NewBlock.Height+1 <= c.ConfirmHeight+MatureHeight {
			continue
		}
		body := tx.TxBody{
			Version: 0,
			Type:    tx.TxPoS,
			Inputs:  []tx.TxInput{c.Input},
			// PoS reward excludes the fee reward: only the block's
			// time, not its transaction set, changes the stake hash.
			Outputs: []tx.TxOutput{{Address: c.Output.Address, CoinID: c.Output.CoinID, Amount: c.Output.Amount + ctx.BlockReward}},
		}
		coinbases = append(coinbases, posCoinbase{body: body, amount: c.Output.Amount})
	}

	w.coinbase = coinbases
	w.prevHash = ctx.NewBlock.Header.Hash()
	w.bits = ctx.NewBits
}

func (w *PosWorker) UpdateTimeAndDeadline(t, deadline uint32, _ UnconfirmedSnapshot) {
	for i := range w.coinbase {
		w.coinbase[i].body.Time = t
		w.coinbase[i].body.Deadline = deadline
	}
}

func (w *PosWorker) Hashrate() (int, bool) {
	if !w.haveInfo {
		return 0, false
	}
	return w.lastHashrate, true
}

func (w *PosWorker) Info() string {
	if w.haveInfo {
		return fmt.Sprintf("<PoS %dunspent %dhash/s>", len(w.coinbase), w.lastHashrate)
	}
	return fmt.Sprintf("<PoS %dunspent ...>", len(w.coinbase))
}

func (w *PosWorker) Flag() block.BlockFlag { return block.CoinPos }

// Sign produces the header-level signature PoS blocks carry (staking
// signs the header, not the coinbase transaction).
func (w *PosWorker) Sign(headerBytes []byte) ([]byte, error) {
	return w.signer.Sign(headerBytes)
}
