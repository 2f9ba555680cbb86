package mempool

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func testAddr(t *testing.T, seed byte) types.Address {
	t.Helper()
	addr, err := types.NewAddress(0, bytesOf(seed, 20))
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}
	return addr
}

func bytesOf(seed byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed
	}
	return b
}

func hashOf(seed byte) types.Hash {
	var h types.Hash
	for i := range h {
		h[i] = seed
	}
	return h
}

// verifiable builds a TxVerifiable spending a single coinbase-style input
// (or, when depend is non-zero, the output of an earlier pool transaction)
// so dependency ordering can be exercised without a real UTXO set.
func verifiable(t *testing.T, depend types.Hash, vout uint8, price uint64, deadline uint32, addr types.Address) *tx.TxVerifiable {
	t.Helper()
	body := tx.TxBody{
		Version:  1,
		Type:     tx.TxTransfer,
		GasPrice: price,
		Deadline: deadline,
		Inputs:   []tx.TxInput{{PrevTxHash: depend, Vout: vout}},
		Outputs:  []tx.TxOutput{{Address: addr, Amount: 1000}},
	}
	var inputsCache []tx.TxOutput
	if !depend.IsZero() {
		inputsCache = []tx.TxOutput{{Address: addr, Amount: 2000}}
	}
	m := &tx.TxManual{Body: body}
	v, err := tx.NewTxVerifiable(m, inputsCache)
	if err != nil {
		t.Fatalf("NewTxVerifiable: %v", err)
	}
	return v
}

func TestPool_PushNewTx_RejectsDuplicate(t *testing.T) {
	p := New()
	addr := testAddr(t, 0x01)
	v := verifiable(t, types.Hash{}, 0, 10, 1000, addr)

	if _, err := p.PushNewTx(v); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if _, err := p.PushNewTx(v); err != ErrAlreadyExists {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestPool_DependencyOrdering_ChildAfterParent(t *testing.T) {
	p := New()
	addr := testAddr(t, 0x01)

	parent := verifiable(t, types.Hash{}, 0, 5, 1000, addr)
	if _, err := p.PushNewTx(parent); err != nil {
		t.Fatalf("push parent: %v", err)
	}

	// Child spends the parent's own (not-yet-confirmed) output, and pays
	// a far higher price — priority alone must not let it jump ahead of
	// what it depends on.
	child := verifiable(t, parent.TxHash, 0, 100, 1000, addr)
	if _, err := p.PushNewTx(child); err != nil {
		t.Fatalf("push child: %v", err)
	}

	hashes := p.FilteredHashes(nil)
	if len(hashes) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(hashes))
	}
	if hashes[0] != parent.TxHash || hashes[1] != child.TxHash {
		t.Errorf("expected parent before child, got %v", hashes)
	}
}

func TestPool_PriceOrdering_WithoutDependency(t *testing.T) {
	p := New()
	addr := testAddr(t, 0x01)

	low := verifiable(t, hashOf(0x11), 0, 1, 1000, addr)
	high := verifiable(t, hashOf(0x22), 0, 50, 1000, addr)

	if _, err := p.PushNewTx(low); err != nil {
		t.Fatalf("push low: %v", err)
	}
	if _, err := p.PushNewTx(high); err != nil {
		t.Fatalf("push high: %v", err)
	}

	hashes := p.FilteredHashes(nil)
	if hashes[0] != high.TxHash {
		t.Errorf("expected the higher-priced tx first, got %v", hashes)
	}
}

func TestPool_RemoveMany_ReinsertsSurvivingDependents(t *testing.T) {
	p := New()
	addr := testAddr(t, 0x01)

	parent := verifiable(t, types.Hash{}, 0, 5, 1000, addr)
	p.PushNewTx(parent)
	child := verifiable(t, parent.TxHash, 0, 5, 1000, addr)
	p.PushNewTx(child)

	// Remove some unrelated hash: both parent and child must survive.
	p.RemoveMany([]types.Hash{hashOf(0xff)})
	if p.Count() != 2 {
		t.Fatalf("expected both txs to survive an unrelated removal, got %d", p.Count())
	}

	// Now remove the parent only — the common case when the parent has
	// just been confirmed in a new block. The child is pulled out along
	// with it (it depended on the parent's pool position) but is then
	// reinserted on its own, since the mempool does not itself decide
	// whether the child's input is still spendable elsewhere.
	p.RemoveMany([]types.Hash{parent.TxHash})
	if p.Has(parent.TxHash) {
		t.Error("parent should have been removed")
	}
	if !p.Has(child.TxHash) {
		t.Error("child should have been reinserted once its parent left the pool")
	}
}

func TestPool_RemoveByDuplicateInputs(t *testing.T) {
	p := New()
	addr := testAddr(t, 0x01)
	spent := hashOf(0x33)

	v := verifiable(t, spent, 2, 5, 1000, addr)
	p.PushNewTx(v)

	p.RemoveByDuplicateInputs([]tx.TxInput{{PrevTxHash: spent, Vout: 2}})
	if p.Has(v.TxHash) {
		t.Error("expected tx spending a now-confirmed input to be removed")
	}
}

func TestPool_SizeLimitList_Truncates(t *testing.T) {
	p := New()
	addr := testAddr(t, 0x01)
	for i := byte(0); i < 5; i++ {
		v := verifiable(t, hashOf(0x10+i), 0, uint64(10-i), 1000, addr)
		p.PushNewTx(v)
	}

	full := p.SizeLimitList(1 << 20)
	if len(full) != 5 {
		t.Fatalf("expected all 5 txs under a generous limit, got %d", len(full))
	}

	limited := p.SizeLimitList(1)
	if len(limited) != 0 {
		t.Errorf("expected an impossibly small limit to admit nothing, got %d", len(limited))
	}
}

func TestPool_FilteredHashes_ByAddress(t *testing.T) {
	p := New()
	addrA := testAddr(t, 0xaa)
	addrB := testAddr(t, 0xbb)

	vA := verifiable(t, hashOf(0x01), 0, 5, 1000, addrA)
	vB := verifiable(t, hashOf(0x02), 0, 5, 1000, addrB)
	p.PushNewTx(vA)
	p.PushNewTx(vB)

	got := p.FilteredHashes(&addrA)
	if len(got) != 1 || got[0] != vA.TxHash {
		t.Errorf("expected only addrA's tx, got %v", got)
	}
}

func TestPool_RemoveExpiredTxs(t *testing.T) {
	p := New()
	addr := testAddr(t, 0x01)

	expired := verifiable(t, hashOf(0x01), 0, 5, 100, addr)
	fresh := verifiable(t, hashOf(0x02), 0, 5, 10_000, addr)
	p.PushNewTx(expired)
	p.PushNewTx(fresh)

	removed := p.RemoveExpiredTxs(1000)
	if len(removed) != 1 || removed[0] != expired.TxHash {
		t.Fatalf("expected only the expired tx removed, got %v", removed)
	}
	if !p.Has(fresh.TxHash) {
		t.Error("fresh tx should remain")
	}
}

func TestPool_FindOutputOfInput(t *testing.T) {
	p := New()
	addr := testAddr(t, 0x01)
	v := verifiable(t, hashOf(0x01), 0, 5, 1000, addr)
	p.PushNewTx(v)

	out, determined, err := p.FindOutputOfInput(tx.TxInput{PrevTxHash: v.TxHash, Vout: 0})
	if err != nil {
		t.Fatalf("FindOutputOfInput: %v", err)
	}
	if !determined || out == nil || out.Address != addr {
		t.Errorf("expected the tx's own output, got (%v, %v)", out, determined)
	}

	if _, _, err := p.FindOutputOfInput(tx.TxInput{PrevTxHash: v.TxHash, Vout: 9}); err == nil {
		t.Error("expected an out-of-range vout to error")
	}
}

func TestPool_IsUnusedInput(t *testing.T) {
	p := New()
	addr := testAddr(t, 0x01)
	root := hashOf(0x01)

	spender := verifiable(t, root, 0, 5, 1000, addr)
	p.PushNewTx(spender)

	unused, determined := p.IsUnusedInput(tx.TxInput{PrevTxHash: root, Vout: 0}, types.Hash{})
	if !determined {
		t.Fatal("expected the pool to have a definitive answer")
	}
	if unused {
		t.Error("input is spent by spender, should not be unused")
	}
}

func TestPool_Evict_DropsLowestPriority(t *testing.T) {
	p := New()
	addr := testAddr(t, 0x01)
	for i := byte(0); i < 3; i++ {
		v := verifiable(t, hashOf(0x10+i), 0, uint64(i+1), 1000, addr)
		p.PushNewTx(v)
	}

	evicted := p.Evict(2)
	if evicted != 1 {
		t.Errorf("expected to evict 1, got %d", evicted)
	}
	if p.Count() != 2 {
		t.Errorf("expected 2 remaining, got %d", p.Count())
	}
}

func TestPolicy_Check_RejectsOversizedMessage(t *testing.T) {
	pol := DefaultPolicy()
	body := &tx.TxBody{Message: make([]byte, 1<<20)}
	if err := pol.Check(body, 1000); err == nil {
		t.Error("expected oversized message to be rejected")
	}
}

func TestPolicy_Check_EnforcesMinFeeRate(t *testing.T) {
	pol := DefaultPolicy()
	pol.MinFeeRate = 1000
	body := &tx.TxBody{Outputs: []tx.TxOutput{{Amount: 1}}}
	if err := pol.Check(body, 1); err == nil {
		t.Error("expected a tiny fee to fail the minimum fee rate check")
	}
}
