// Package mempool holds dependency-ordered unconfirmed transactions
// awaiting block inclusion, ranked by priority so that block assembly and
// wallet-facing address queries can walk it high-priority first.
package mempool

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Mempool errors.
var (
	ErrAlreadyExists = errors.New("transaction already in mempool")
	ErrValidation    = errors.New("transaction failed validation")
	ErrFeeTooLow     = errors.New("transaction fee below minimum")
)

// entry is one pool-resident transaction plus the metadata used to order
// and evict it.
type entry struct {
	hash         types.Hash
	body         tx.TxBody
	dependHashes []types.Hash // distinct input transaction hashes, deduped
	dependAddrs  map[types.Address]struct{}
	price        uint64 // gas price, used for priority ordering
	time         uint32
	deadline     uint32
	size         uint32
}

func newEntry(hash types.Hash, inputsCache []tx.TxOutput, body tx.TxBody) *entry {
	seen := make(map[types.Hash]struct{}, len(body.Inputs))
	depends := make([]types.Hash, 0, len(body.Inputs))
	for _, in := range body.Inputs {
		if in.IsCoinbase() {
			continue
		}
		if _, ok := seen[in.PrevTxHash]; ok {
			continue
		}
		seen[in.PrevTxHash] = struct{}{}
		depends = append(depends, in.PrevTxHash)
	}

	addrs := make(map[types.Address]struct{}, len(inputsCache)+len(body.Outputs))
	for _, prev := range inputsCache {
		addrs[prev.Address] = struct{}{}
	}
	for _, out := range body.Outputs {
		addrs[out.Address] = struct{}{}
	}

	return &entry{
		hash:         hash,
		body:         body,
		dependHashes: depends,
		dependAddrs:  addrs,
		price:        body.GasPrice,
		time:         body.Time,
		deadline:     body.Deadline,
		size:         uint32(len(body.Bytes())),
	}
}

func (e *entry) dependsOn(hash types.Hash) bool {
	for _, h := range e.dependHashes {
		if h == hash {
			return true
		}
	}
	return false
}

func (e *entry) spends(input tx.TxInput) bool {
	for _, in := range e.body.Inputs {
		if in == input {
			return true
		}
	}
	return false
}

// Pool holds unconfirmed transactions ordered by priority, highest first.
// Ordering follows the reference implementation's push_unconfirmed: a
// transaction must sit after everything it depends on and before anything
// that depends on it; within that window it is placed by descending gas
// price (ties broken by earlier submission time).
type Pool struct {
	mu    sync.RWMutex
	order *list.List // of *entry, priority order
	index map[types.Hash]*list.Element
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{
		order: list.New(),
		index: make(map[types.Hash]*list.Element),
	}
}

// RestoreFromTxCache rebuilds the mempool from every tx_cache record not
// already part of confirmedTxs (the best chain's own transactions, which
// remain cached until their block is finalized but are not pool-resident).
// Entries are replayed in arbitrary order since pushUnconfirmed's
// dependency-window insertion is itself order-independent for a
// consistent input set.
func RestoreFromTxCache(tables *storage.Tables, confirmedTxs map[types.Hash]struct{}) (*Pool, error) {
	p := New()
	err := tables.ForEachTxCache(func(hash types.Hash, v *tx.TxVerifiable) error {
		if _, confirmed := confirmedTxs[hash]; confirmed {
			return nil
		}
		e := newEntry(hash, v.InputsCache, v.Body)
		_, err := p.pushUnconfirmed(e)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("restore mempool from tx_cache: %w", err)
	}
	return p, nil
}

// Has reports whether hash is currently pool-resident.
func (p *Pool) Has(hash types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.index[hash]
	return ok
}

// Count returns the number of pool-resident transactions.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.order.Len()
}

// Size returns the combined serialized size, in bytes, of every
// pool-resident transaction.
func (p *Pool) Size() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var total uint32
	for el := p.order.Front(); el != nil; el = el.Next() {
		total += el.Value.(*entry).size
	}
	return total
}

// InputAlreadyUsed reports whether some pool-resident transaction already
// spends input.
func (p *Pool) InputAlreadyUsed(input tx.TxInput) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for el := p.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.dependsOn(input.PrevTxHash) && e.spends(input) {
			return true
		}
	}
	return false
}

// PushNewTx validates and inserts a resolved transaction, returning its
// priority-ordered position (0 = highest priority).
func (p *Pool) PushNewTx(verified *tx.TxVerifiable) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.index[verified.TxHash]; ok {
		return 0, ErrAlreadyExists
	}

	e := newEntry(verified.TxHash, verified.InputsCache, verified.Body)
	return p.pushUnconfirmed(e)
}

// RemoveMany drops hashes and anything that transitively depends on them,
// re-inserting any dependents that survive (pool removal never touches
// permanent storage).
func (p *Pool) RemoveMany(hashes []types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()

	want := make(map[types.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		want[h] = struct{}{}
	}

	var deleted []*entry
	for _, h := range hashes {
		p.removeWithDependents(h, &deleted)
	}

	// Re-insert everything pulled out except the roots being dropped.
	for _, e := range deleted {
		if _, drop := want[e.hash]; drop {
			continue
		}
		p.pushUnconfirmed(e)
	}
}

// RemoveByDuplicateInputs drops every pool-resident transaction that
// spends any of inputs, used when a newly confirmed block's transactions
// make those inputs permanently unavailable to the pool.
func (p *Pool) RemoveByDuplicateInputs(inputs []tx.TxInput) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var hashes []types.Hash
	for _, in := range inputs {
		for el := p.order.Front(); el != nil; el = el.Next() {
			e := el.Value.(*entry)
			if e.dependsOn(in.PrevTxHash) && e.spends(in) {
				hashes = append(hashes, e.hash)
			}
		}
	}

	var deleted []*entry
	for _, h := range hashes {
		p.removeWithDependents(h, &deleted)
	}
}

// SizeLimitList returns pool-resident hashes in priority order, truncated
// once their combined serialized size would reach maxSize. Expired
// entries should be drained with RemoveExpiredTxs before calling this.
func (p *Pool) SizeLimitList(maxSize uint32) []types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var size uint32
	hashes := make([]types.Hash, 0, p.order.Len())
	for el := p.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		size += e.size
		if size >= maxSize {
			break
		}
		hashes = append(hashes, e.hash)
	}
	return hashes
}

// FilteredHashes returns pool-resident hashes in priority order. When
// addr is non-nil, only transactions whose inputs or outputs touch that
// address are returned.
func (p *Pool) FilteredHashes(addr *types.Address) []types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()

	hashes := make([]types.Hash, 0, p.order.Len())
	for el := p.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if addr != nil {
			if _, ok := e.dependAddrs[*addr]; !ok {
				continue
			}
		}
		hashes = append(hashes, e.hash)
	}
	return hashes
}

// RemoveExpiredTxs drops every pool-resident transaction whose deadline
// has passed (strictly before deadline), along with anything depending on
// it, and returns the removed hashes. The entries themselves are not
// removed from permanent transaction storage.
func (p *Pool) RemoveExpiredTxs(deadline uint32) []types.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()

	var deleted []*entry
	for {
		var expired types.Hash
		found := false
		for el := p.order.Front(); el != nil; el = el.Next() {
			e := el.Value.(*entry)
			if e.deadline < deadline {
				expired = e.hash
				found = true
				break
			}
		}
		if !found {
			break
		}
		p.removeWithDependents(expired, &deleted)
	}

	hashes := make([]types.Hash, len(deleted))
	for i, e := range deleted {
		hashes[i] = e.hash
	}
	return hashes
}

// FindOutputOfInput looks for input's referenced output among
// pool-resident transactions, reporting nil when some pool-resident
// transaction already consumes the same input (it has become unspendable
// from the pool's perspective even though the spend itself is also
// unconfirmed).
// FindOutputOfInput's second return reports whether the pool had an
// opinion at all: false means the caller should keep whatever an earlier,
// lower tier already concluded.
func (p *Pool) FindOutputOfInput(input tx.TxInput) (*tx.TxOutput, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out *tx.TxOutput
	determined := false
	for el := p.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)

		if e.dependsOn(input.PrevTxHash) && e.spends(input) {
			out = nil
			determined = true
		}

		if e.hash == input.PrevTxHash {
			if int(input.Vout) >= len(e.body.Outputs) {
				return nil, false, fmt.Errorf("vout %d out of range on unconfirmed tx %s", input.Vout, e.hash)
			}
			o := e.body.Outputs[input.Vout]
			out = &o
			determined = true
		}
	}
	return out, determined, nil
}

// IsUnusedInput checks whether input is unused within the pool's view,
// excluding exceptHash's own entry. The second return reports whether the
// pool could answer definitively: false means the caller must fall back
// to permanent storage to resolve it.
func (p *Pool) IsUnusedInput(input tx.TxInput, exceptHash types.Hash) (unused bool, determined bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for el := p.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.hash == exceptHash {
			continue
		}
		if e.hash == input.PrevTxHash {
			unused = true
		}
		if e.dependsOn(input.PrevTxHash) {
			return false, true
		}
	}
	return unused, false
}

// removeWithDependents removes hash (if present) and everything that
// transitively depends on it, appending every removed entry to deleted in
// removal order (the root first).
func (p *Pool) removeWithDependents(hash types.Hash, deleted *[]*entry) {
	el, ok := p.index[hash]
	if !ok {
		return
	}
	e := el.Value.(*entry)
	p.order.Remove(el)
	delete(p.index, hash)
	*deleted = append(*deleted, e)

	for {
		var dependent types.Hash
		found := false
		for cand := p.order.Front(); cand != nil; cand = cand.Next() {
			if cand.Value.(*entry).dependsOn(hash) {
				dependent = cand.Value.(*entry).hash
				found = true
				break
			}
		}
		if !found {
			break
		}
		p.removeWithDependents(dependent, deleted)
	}
}

// pushUnconfirmed inserts e into priority order honoring its dependency
// window: it must land after the highest-positioned transaction it
// depends on, and before the lowest-positioned transaction that depends
// on it. Within that window, entries are ordered by descending gas price
// (ties broken by earlier submission time first).
func (p *Pool) pushUnconfirmed(e *entry) (int, error) {
	var dependEl *list.Element // highest-position dependency
	for el := p.order.Front(); el != nil; el = el.Next() {
		cand := el.Value.(*entry)
		if e.dependsOn(cand.hash) {
			dependEl = el
		}
		if cand.hash == e.hash {
			return 0, ErrAlreadyExists
		}
	}

	var requiredEl *list.Element // lowest-position dependent
	for el := p.order.Back(); el != nil; el = el.Prev() {
		cand := el.Value.(*entry)
		if cand.dependsOn(e.hash) {
			requiredEl = el
		}
	}

	// A dependent already sits at or before our own dependency: the two
	// constraints conflict. Evict the dependent (and anything that
	// depends on it) and retry; the evicted set is re-pushed afterward.
	if dependEl != nil && requiredEl != nil && position(p.order, requiredEl) <= position(p.order, dependEl) {
		var deleted []*entry
		p.removeWithDependents(requiredEl.Value.(*entry).hash, &deleted)
		idx, err := p.pushUnconfirmed(e)
		if err != nil {
			return 0, err
		}
		for _, d := range deleted {
			p.pushUnconfirmed(d)
		}
		return idx, nil
	}

	// Walk the valid window looking for the first slot whose occupant has
	// lower priority than e.
	var insertBefore *list.Element
	for el := p.order.Front(); el != nil; el = el.Next() {
		if dependEl != nil && position(p.order, el) <= position(p.order, dependEl) {
			continue
		}
		if requiredEl != nil && position(p.order, el) > position(p.order, requiredEl) {
			continue
		}
		cand := el.Value.(*entry)
		if e.price < cand.price {
			continue
		}
		if e.price == cand.price && e.time >= cand.time {
			continue
		}
		insertBefore = el
		break
	}

	var newEl *list.Element
	switch {
	case insertBefore != nil:
		newEl = p.order.InsertBefore(e, insertBefore)
	case requiredEl != nil:
		newEl = p.order.InsertBefore(e, requiredEl)
	case dependEl != nil:
		newEl = p.order.InsertAfter(e, dependEl)
	default:
		newEl = p.order.PushBack(e)
	}

	p.index[e.hash] = newEl
	return position(p.order, newEl), nil
}

func position(l *list.List, target *list.Element) int {
	i := 0
	for el := l.Front(); el != nil; el = el.Next() {
		if el == target {
			return i
		}
		i++
	}
	return -1
}
