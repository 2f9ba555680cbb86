// Package generate runs the PoW/PoS/PoC block-generation workers and
// assembles whichever one finds valid work first into a mineable block.
package generate

import (
	"errors"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// ErrUnimplemented is returned when a caller tries to register a worker
// for a BlockFlag this engine does not (yet) produce blocks for.
var ErrUnimplemented = errors.New("generation worker not implemented for this flavor")

// ErrDuplicateWorker is returned by Builder.PushWorker when a worker for
// the same flavor is already registered.
var ErrDuplicateWorker = errors.New("a worker for this flavor is already registered")

// ResultKind discriminates the tagged union returned by Worker.Generate.
type ResultKind uint8

const (
	ResultNotFound ResultKind = iota
	ResultPoW
	ResultPoS
	ResultPoC
)

// Result is a single generation attempt's outcome. Only the fields
// relevant to Kind are populated.
type Result struct {
	Kind        ResultKind
	WorkHash    types.Hash
	Coinbase    tx.TxBody
	HeaderBytes [block.HeaderSize]byte // valid for ResultPoW
	Header      block.Header           // valid for ResultPoS / ResultPoC
	Amount      uint64                 // matured input amount, ResultPoS only
}

// UnconfirmedSnapshot is the read-only view of the mempool a worker needs
// to build a candidate block: the ordered transaction hashes to include,
// the earliest required time, the tightest deadline, and their combined
// fee reward.
type UnconfirmedSnapshot struct {
	TxHashes []types.Hash
	Time     uint32
	Deadline uint32
	Reward   uint64
}

// UnspentCandidate is a single confirmed, potentially-stakeable output
// considered by the PoS worker.
type UnspentCandidate struct {
	Input         tx.TxInput
	Output        tx.TxOutput
	ConfirmHeight uint32
}

// ChainView is the minimal read-only chain access a worker needs to
// refresh itself against a newly accepted block. internal/chain
// implements this once the chain orchestrator exists; tests and
// standalone callers can supply a stub.
type ChainView interface {
	// CoinbaseAddress returns the address that should receive this
	// node's mining/staking rewards.
	CoinbaseAddress() types.Address
	// MatureUnspent returns the node's own unspent outputs as staking
	// candidates for newHeight, unfiltered: the PoS worker itself keeps
	// only coin ID 0, address version 0, at least one coin, and matured.
	MatureUnspent(newHeight uint32) []UnspentCandidate
}

// UpdateContext bundles everything Worker.UpdateByNewBlock needs.
type UpdateContext struct {
	Chain       ChainView
	NewBlock    *block.Block
	NewBits     uint32
	BlockReward uint64
	TxsReward   uint64
	Unconfirmed UnconfirmedSnapshot
}

// Worker is implemented by each flavor's generation logic (PoW thread,
// PoS selector, PoC plot scanner). Generate is called repeatedly and
// must return within roughly one second whether or not it finds work.
type Worker interface {
	Generate() Result
	UpdateByNewBlock(ctx UpdateContext)
	UpdateTimeAndDeadline(time, deadline uint32, unconfirmed UnconfirmedSnapshot)
	Hashrate() (int, bool)
	Info() string
	Flag() block.BlockFlag
}

type workerJob struct {
	worker Worker
	result Result
}

// Future is the handle returned by Builder.ThrowTask: every worker's
// generation attempt runs in its own goroutine, and Future joins them.
type Future struct {
	done chan []workerJob
	jobs []workerJob
}

// Wait blocks until every worker in this batch has finished.
func (f *Future) Wait() {
	if f.jobs == nil {
		f.jobs = <-f.done
	}
}

// Get waits for and returns every worker's result alongside itself, so
// the caller can hand workers back to the Builder for the next round.
func (f *Future) Get() []workerJob {
	f.Wait()
	return f.jobs
}

// Builder owns the set of active generation workers and assembles
// whichever one finds valid work into a mineable block. Grounded on the
// original generation loop's push_worker/remove_worker/throw_task/
// future_result cycle, translated from native OS threads to goroutines.
type Builder struct {
	mu          sync.Mutex
	threads     []Worker
	reserve     []Worker
	height      uint32
	reward      uint64
	biasByFlag  map[block.BlockFlag]float32
	unconfirmed UnconfirmedSnapshot
	tracker     *consensus.WorkerTracker
}

// NewBuilder creates an empty generation builder. tracker may be nil if
// liveness stats are not needed.
func NewBuilder(tracker *consensus.WorkerTracker) *Builder {
	return &Builder{
		biasByFlag: make(map[block.BlockFlag]float32),
		tracker:    tracker,
	}
}

// WorkerInfo returns a human-readable status line per active worker.
func (b *Builder) WorkerInfo() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.threads))
	for _, w := range b.threads {
		out = append(out, w.Info())
	}
	return out
}

// PushWorker registers a new generation worker. It is queued in reserve
// until the next UpdateByNewBlock, matching the reference
// implementation's "don't mine against a stale block" rule.
func (b *Builder) PushWorker(w Worker) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.reserve {
		if existing.Flag() == w.Flag() {
			return ErrDuplicateWorker
		}
	}
	for _, existing := range b.threads {
		if existing.Flag() == w.Flag() {
			return ErrDuplicateWorker
		}
	}
	b.reserve = append(b.reserve, w)
	return nil
}

// RemoveWorker drops any worker (active or reserved) for the given flavor.
func (b *Builder) RemoveWorker(flag block.BlockFlag) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reserve = filterByFlag(b.reserve, flag)
	b.threads = filterByFlag(b.threads, flag)
}

func filterByFlag(workers []Worker, flag block.BlockFlag) []Worker {
	out := workers[:0]
	for _, w := range workers {
		if w.Flag() != flag {
			out = append(out, w)
		}
	}
	return out
}

// UpdateUnconfirmedList replaces the mempool snapshot workers build
// candidate blocks against.
func (b *Builder) UpdateUnconfirmedList(snap UnconfirmedSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unconfirmed = snap
}

// BitsFunc and BiasFunc compute a flavor's next retarget values; the
// caller (internal/chain) supplies these since they depend on Tables
// history the generate package does not own.
type BitsFunc func(flag block.BlockFlag) uint32
type BiasFunc func(flag block.BlockFlag) float32

// UpdateByNewBlock refreshes every worker (moving reserved workers into
// active duty first) against a newly accepted block.
func (b *Builder) UpdateByNewBlock(view ChainView, newBlock *block.Block, newReward uint64, bits BitsFunc, bias BiasFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.threads = append(b.threads, b.reserve...)
	b.reserve = nil

	for _, w := range b.threads {
		flag := w.Flag()
		newBits := bits(flag)
		ctx := UpdateContext{
			Chain:       view,
			NewBlock:    newBlock,
			NewBits:     newBits,
			BlockReward: newReward,
			TxsReward:   b.unconfirmed.Reward,
			Unconfirmed: b.unconfirmed,
		}
		w.UpdateByNewBlock(ctx)
		b.biasByFlag[flag] = bias(flag)
	}

	b.height = newBlock.Height + 1
	b.reward = newReward
}

// ThrowTask hands every active worker to its own goroutine for one
// generation attempt and returns immediately with a Future to join on.
func (b *Builder) ThrowTask() *Future {
	b.mu.Lock()
	workers := b.threads
	b.threads = nil
	b.mu.Unlock()

	jobs := make([]workerJob, len(workers))
	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w Worker) {
			defer wg.Done()
			jobs[i] = workerJob{worker: w, result: w.Generate()}
		}(i, w)
	}

	done := make(chan []workerJob, 1)
	go func() {
		wg.Wait()
		done <- jobs
	}()
	return &Future{done: done}
}

// FutureResult joins a Future, returning the first successful worker's
// mined block (if any), and returns every worker to the builder for the
// next round.
func (b *Builder) FutureResult(fut *Future) (*block.FullBlock, error) {
	jobs := fut.Get()

	var mined *block.FullBlock
	for _, job := range jobs {
		if mined == nil && job.result.Kind != ResultNotFound {
			fb, err := b.assemble(job.worker.Flag(), job.result)
			if err != nil {
				return nil, err
			}
			mined = fb
			if b.tracker != nil {
				b.tracker.RecordBlock(job.worker.Info())
			}
		} else if b.tracker != nil {
			b.tracker.RecordMiss(job.worker.Info())
		}
	}

	b.mu.Lock()
	for _, job := range jobs {
		b.threads = append(b.threads, job.worker)
	}
	b.mu.Unlock()

	return mined, nil
}

func (b *Builder) assemble(flag block.BlockFlag, res Result) (*block.FullBlock, error) {
	bias := b.biasByFlag[flag]

	coinbaseHash := res.Coinbase.Hash()
	txsHash := make([]types.Hash, 0, len(b.unconfirmed.TxHashes)+1)
	txsHash = append(txsHash, coinbaseHash)
	txsHash = append(txsHash, b.unconfirmed.TxHashes...)

	var header block.Header
	switch res.Kind {
	case ResultPoW:
		h, err := block.HeaderFromBytes(res.HeaderBytes[:])
		if err != nil {
			return nil, err
		}
		header = *h
	case ResultPoS, ResultPoC:
		header = res.Header
		header.MerkleRoot = block.MerkleRoot(txsHash)
	default:
		return nil, ErrUnimplemented
	}

	blk := block.Block{
		WorkHash: res.WorkHash,
		Height:   b.height,
		Flag:     flag,
		Bias:     bias,
		Header:   header,
		TxsHash:  txsHash,
	}

	coinbase := res.Coinbase
	return &block.FullBlock{Block: blk, Txs: []*tx.TxBody{&coinbase}}, nil
}
