package generate

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/zeebo/blake3"
)

// HashFunc computes a proof-of-work digest over an 80-byte header.
type HashFunc func(header []byte) []byte

// YesPowHash stands in for the yespower proof-of-work function. The
// actual yespower/x11/x16s algorithms are CGO-bound native libraries not
// present in this module's dependency pack; BLAKE3 is substituted as the
// pluggable hash behind the PoW header, keeping the same 80-bytes-in,
// work-compared-against-target shape described by the spec for
// interchangeable PoW flavors.
func YesPowHash(header []byte) []byte {
	sum := blake3.Sum256(header)
	return sum[:]
}

// X11Hash and X16sHash are likewise BLAKE3 stand-ins for their native
// multi-algorithm counterparts; see YesPowHash.
func X11Hash(header []byte) []byte  { return YesPowHash(header) }
func X16sHash(header []byte) []byte { return YesPowHash(header) }

func hashFuncForFlag(flag block.BlockFlag) HashFunc {
	switch flag {
	case block.X11Pow:
		return X11Hash
	case block.X16sPow:
		return X16sHash
	default:
		return YesPowHash
	}
}

// span records one generation batch's iteration count and elapsed time,
// used to keep each batch near one second regardless of machine speed.
type span struct {
	count int
	secs  float64
}

// PowWorker searches nonces for a PoW-flavored block. Grounded on
// original_source/block/generate.rs's PowWorker: a self-tuning loop that
// estimates how many hashes fit in roughly one second from its own
// recent history, rather than hashing until the caller cancels it.
type PowWorker struct {
	flag        block.BlockFlag
	header      block.Header
	coinbase    tx.TxBody
	hashFunc    HashFunc
	powerLimit  float64 // 1..255, CPU occupancy as powerLimit/255
	spans       []span
}

// NewPowWorker creates a PoW worker for the given flavor. powerLimit
// scales down reported hashrate to approximate throttled CPU occupancy;
// it must be in [1, 255].
func NewPowWorker(flag block.BlockFlag, powerLimit uint8, blockVersion, txVersion uint32) (*PowWorker, error) {
	if !flag.IsProofOfWork() {
		return nil, ErrUnimplemented
	}
	if powerLimit == 0 {
		powerLimit = 255
	}
	return &PowWorker{
		flag:       flag,
		header:     block.Header{Version: blockVersion},
		coinbase:   tx.TxBody{Version: txVersion, Type: tx.TxPoW},
		hashFunc:   hashFuncForFlag(flag),
		powerLimit: float64(powerLimit),
	}, nil
}

func (w *PowWorker) updateMerkleRoot(unconfirmed UnconfirmedSnapshot) {
	hashes := make([]types.Hash, 0, 1+len(unconfirmed.TxHashes))
	hashes = append(hashes, w.coinbase.Hash())
	hashes = append(hashes, unconfirmed.TxHashes...)
	w.header.MerkleRoot = block.MerkleRoot(hashes)
}

// nextCount estimates how many hash attempts fit in roughly one second
// of wall-clock work, weighting every recorded span (newer ones more
// heavily); until more than ten spans are recorded it returns 100.
func (w *PowWorker) nextCount() int {
	if len(w.spans) <= 10 {
		return 100
	}
	var fixed, real float64
	for i := 1; i < len(w.spans); i++ {
		weight := float64(i)
		fixed += float64(w.spans[i].count) * weight
		real += float64(w.spans[i].count) * weight * (w.spans[i].secs - w.spans[i-1].secs)
	}
	last := w.spans[len(w.spans)-1].count
	if fixed == 0 {
		return 100
	}
	estimate := int(float64(last) * real / fixed)
	if estimate < 10 {
		return 10
	}
	return estimate
}

// Generate runs one batch of nonce attempts, returning ResultPoW if a
// hash under the current target is found, otherwise ResultNotFound.
func (w *PowWorker) Generate() Result {
	start := time.Now()
	count := w.nextCount()

	headerBytes := w.header.Bytes()
	nonce := binary.LittleEndian.Uint32(headerBytes[76:80])
	target := consensus.CompactToTarget(w.header.Bits)

	for i := 0; i < count; i++ {
		digest := w.hashFunc(headerBytes)
		work := new(big.Int).SetBytes(digest)
		if work.Cmp(target) < 0 {
			var workHash types.Hash
			copy(workHash[:], digest)
			var out [block.HeaderSize]byte
			copy(out[:], headerBytes)
			return Result{Kind: ResultPoW, WorkHash: workHash, Coinbase: w.coinbase, HeaderBytes: out}
		}
		nonce++
		binary.LittleEndian.PutUint32(headerBytes[76:80], nonce)
	}

	realSpan := time.Since(start).Seconds()
	virtualSpan := realSpan * 255.0 / w.powerLimit
	w.spans = append(w.spans, span{count: count, secs: virtualSpan})
	if len(w.spans) > 100 {
		w.spans = w.spans[1:]
	}
	return Result{Kind: ResultNotFound}
}

func (w *PowWorker) UpdateByNewBlock(ctx UpdateContext) {
	addr := ctx.Chain.CoinbaseAddress()
	w.header.PrevHash = ctx.NewBlock.Header.Hash()
	w.header.Bits = ctx.NewBits
	w.coinbase.Outputs = []tx.TxOutput{{Address: addr, CoinID: 0, Amount: ctx.BlockReward + ctx.TxsReward}}
	w.updateMerkleRoot(ctx.Unconfirmed)
}

func (w *PowWorker) UpdateTimeAndDeadline(t, deadline uint32, unconfirmed UnconfirmedSnapshot) {
	w.header.Time = t
	w.coinbase.Time = t
	w.coinbase.Deadline = deadline
	w.updateMerkleRoot(unconfirmed)
}

func (w *PowWorker) Hashrate() (int, bool) {
	if len(w.spans) <= 5 {
		return 0, false
	}
	var sum int
	for _, s := range w.spans {
		sum += s.count
	}
	return sum / len(w.spans), true
}

func (w *PowWorker) Info() string {
	power := w.powerLimit / 255.0 * 100.0
	if rate, ok := w.Hashrate(); ok {
		return fmt.Sprintf("<PoW %s %dhash/s %.2f%%>", w.flag, rate, power)
	}
	return fmt.Sprintf("<PoW %s ... %.2f%%>", w.flag, power)
}

func (w *PowWorker) Flag() block.BlockFlag { return w.flag }
