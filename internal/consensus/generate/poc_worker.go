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

// Plot describes one proof-of-capacity plot file's identity and address.
type Plot struct {
	ID   string
	Addr types.Address
}

// PlotSeeker is the external collaborator that scans a plot file for a
// nonce whose derived work beats the target. The reference
// implementation calls into a native plot-seek routine over a memory-
// mapped file; that native dependency is outside this module's pack, so
// PlotSeeker is left pluggable — a real implementation wires in whatever
// on-disk plot format and seek routine the deployment uses.
type PlotSeeker interface {
	Seek(plot Plot, prevHash types.Hash, target []byte, deadline uint32) (nonce uint32, work []byte, found bool)
}

// PocWorker scans registered plot files for work under the current
// target. Grounded on original_source/block/generate.rs's PocWorker,
// with seek_file's native plot-scan routine abstracted behind PlotSeeker.
type PocWorker struct {
	plots        []Plot
	seeker       PlotSeeker
	prevHash     types.Hash
	bits         uint32
	blockReward  uint64
	time         uint32
	lastHashrate int
	haveInfo     bool
}

// NewPocWorker creates a PoC worker over the given plots, using seeker to
// perform the actual file scan.
func NewPocWorker(plots []Plot, seeker PlotSeeker) *PocWorker {
	return &PocWorker{plots: plots, seeker: seeker}
}

func (w *PocWorker) Generate() Result {
	start := time.Now()
	target := consensus.CompactToTarget(w.bits).Bytes()
	count := 0

	for _, plot := range w.plots {
		nonce, work, found := w.seeker.Seek(plot, w.prevHash, target, w.time)
		if found {
			header := block.Header{
				Version:  0,
				PrevHash: w.prevHash,
				Time:     w.time,
				Bits:     w.bits,
				Nonce:    nonce,
			}
			var workHash types.Hash
			workInt := new(big.Int).SetBytes(work)
			copy(workHash[:], workInt.FillBytes(make([]byte, types.HashSize)))
			coinbase := w.buildCoinbase(plot)
			return Result{Kind: ResultPoC, WorkHash: workHash, Header: header, Coinbase: coinbase}
		}
		count++
		if time.Since(start).Seconds() >= 1.0 {
			break
		}
	}

	w.lastHashrate = count
	w.haveInfo = true
	return Result{Kind: ResultNotFound}
}

func (w *PocWorker) UpdateByNewBlock(ctx UpdateContext) {
	w.prevHash = ctx.NewBlock.Header.Hash()
	w.bits = ctx.NewBits
	w.blockReward = ctx.BlockReward
}

func (w *PocWorker) UpdateTimeAndDeadline(t, _ uint32, _ UnconfirmedSnapshot) {
	w.time = t
}

func (w *PocWorker) Hashrate() (int, bool) {
	if !w.haveInfo {
		return 0, false
	}
	return w.lastHashrate, true
}

func (w *PocWorker) Info() string {
	if w.haveInfo {
		return fmt.Sprintf("<PoC %dfiles %dhash/s>", len(w.plots), w.lastHashrate)
	}
	return fmt.Sprintf("<PoC %dfiles ...>", len(w.plots))
}

func (w *PocWorker) Flag() block.BlockFlag { return block.CapPos }

// buildCoinbase assembles the reward transaction for a winning plot; the
// plot's reward address is only known once a winner is found.
func (w *PocWorker) buildCoinbase(winningPlot Plot) tx.TxBody {
	return tx.TxBody{
		Version:  0,
		Type:     tx.TxPoS,
		Time:     w.time,
		Deadline: w.time + 10800,
		Outputs:  []tx.TxOutput{{Address: winningPlot.Addr, CoinID: 0, Amount: w.blockReward}},
	}
}

// Sign produces the header-level signature PoC blocks carry.
func Sign(signer crypto.Signer, headerBytes []byte) ([]byte, error) {
	return signer.Sign(headerBytes)
}
