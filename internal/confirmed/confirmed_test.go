package confirmed

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func hashOf(seed byte) types.Hash {
	var h types.Hash
	for i := range h {
		h[i] = seed
	}
	return h
}

func testTables(t *testing.T) *storage.Tables {
	t.Helper()
	tbl, err := storage.OpenTables(t.TempDir(), storage.TableOptions{})
	if err != nil {
		t.Fatalf("OpenTables: %v", err)
	}
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func writeTxCache(t *testing.T, tbl *storage.Tables, body tx.TxBody) types.Hash {
	t.Helper()
	cur, err := tbl.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	hash := body.Hash()
	verifiable := &tx.TxVerifiable{TxHash: hash, Body: body}
	if err := cur.WriteTxCache(verifiable); err != nil {
		t.Fatalf("WriteTxCache: %v", err)
	}
	if err := cur.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return hash
}

func childBlock(t *testing.T, prev types.Hash, bits uint32, bias float32, height uint32, txHashes []types.Hash) block.Block {
	t.Helper()
	return block.Block{
		Height: height,
		Flag:   block.YesPow,
		Bias:   bias,
		Header: block.Header{
			PrevHash: prev,
			Bits:     bits,
			// Height doubles as a throwaway nonce here so otherwise
			// identical test headers still hash distinctly.
			Nonce: height,
		},
		TxsHash: txHashes,
	}
}

func TestBuilder_PushNewBlock_LinearChain(t *testing.T) {
	b := NewBuilder(GenesisPreviousHash, "")

	blk1 := childBlock(t, GenesisPreviousHash, 0x1f00ffff, 1, 1, nil)
	reverted, applied, err := b.PushNewBlock(blk1)
	if err != nil {
		t.Fatalf("push blk1: %v", err)
	}
	if len(reverted) != 0 || len(applied) != 1 || applied[0] != blk1.Hash() {
		t.Fatalf("unexpected diff for first block: reverted=%v applied=%v", reverted, applied)
	}

	blk2 := childBlock(t, blk1.Hash(), 0x1f00ffff, 1, 2, nil)
	reverted, applied, err = b.PushNewBlock(blk2)
	if err != nil {
		t.Fatalf("push blk2: %v", err)
	}
	if len(reverted) != 0 || len(applied) != 1 || applied[0] != blk2.Hash() {
		t.Fatalf("unexpected diff for second block: reverted=%v applied=%v", reverted, applied)
	}

	chain := b.BestChain()
	if len(chain) != 2 || chain[0] != blk2.Hash() || chain[1] != blk1.Hash() {
		t.Fatalf("expected [blk2, blk1], got %v", chain)
	}
}

func TestBuilder_PushNewBlock_ForkSwitchesBestChain(t *testing.T) {
	b := NewBuilder(GenesisPreviousHash, "")

	// A weak first block the fork will outscore.
	weak := childBlock(t, GenesisPreviousHash, 0x1f00ffff, 4, 1, nil)
	if _, _, err := b.PushNewBlock(weak); err != nil {
		t.Fatalf("push weak: %v", err)
	}

	// A competing block at the same height with a much lower bias (higher
	// score), built directly on the root so it forks, not extends. The
	// distinct height/nonce keeps its header from colliding with weak's.
	strong := childBlock(t, GenesisPreviousHash, 0x1f00ffff, 1, 2, nil)
	reverted, applied, err := b.PushNewBlock(strong)
	if err != nil {
		t.Fatalf("push strong: %v", err)
	}
	if len(reverted) != 1 || reverted[0] != weak.Hash() {
		t.Fatalf("expected weak block to be reverted, got %v", reverted)
	}
	if len(applied) != 1 || applied[0] != strong.Hash() {
		t.Fatalf("expected strong block to be applied, got %v", applied)
	}

	chain := b.BestChain()
	if len(chain) != 1 || chain[0] != strong.Hash() {
		t.Fatalf("expected best chain to be [strong], got %v", chain)
	}
}

func TestBuilder_PushNewBlock_RejectsUnknownParent(t *testing.T) {
	b := NewBuilder(GenesisPreviousHash, "")
	orphan := childBlock(t, hashOf(0xaa), 0x1f00ffff, 1, 5, nil)
	if _, _, err := b.PushNewBlock(orphan); err == nil {
		t.Fatal("expected an error for a block whose parent isn't in the DAG")
	}
}

func TestBuilder_TruncateOldBlocks_MovesTailToRoot(t *testing.T) {
	b := NewBuilder(GenesisPreviousHash, "")

	var hashes []types.Hash
	prev := GenesisPreviousHash
	for i := uint32(1); i <= 5; i++ {
		blk := childBlock(t, prev, 0x1f00ffff, 1, i, nil)
		if _, _, err := b.PushNewBlock(blk); err != nil {
			t.Fatalf("push block %d: %v", i, err)
		}
		hashes = append(hashes, blk.Hash())
		prev = blk.Hash()
	}

	finalized := b.TruncateOldBlocks(2, 3)
	if len(finalized) != 2 {
		t.Fatalf("expected 2 finalized blocks, got %d", len(finalized))
	}
	if finalized[0].Block.Hash() != hashes[0] || finalized[1].Block.Hash() != hashes[1] {
		t.Fatalf("expected oldest-first finalization, got %v then %v", finalized[0].Block.Hash(), finalized[1].Block.Hash())
	}
	if b.RootHash() != hashes[1] {
		t.Fatalf("expected new root to be block 2, got %s", b.RootHash())
	}
	if len(b.BestChain()) != 3 {
		t.Fatalf("expected 3 blocks left cached, got %d", len(b.BestChain()))
	}
}

func TestBuilder_FindOutputOfInput_WalksBestChain(t *testing.T) {
	b := NewBuilder(GenesisPreviousHash, "")
	tbl := testTables(t)
	addr := types.Address{0x01}

	body := tx.TxBody{Version: 1, Outputs: []tx.TxOutput{{Address: addr, Amount: 500}}}
	txHash := writeTxCache(t, tbl, body)

	blk := childBlock(t, GenesisPreviousHash, 0x1f00ffff, 1, 1, []types.Hash{txHash})
	if _, _, err := b.PushNewBlock(blk); err != nil {
		t.Fatalf("push: %v", err)
	}

	out, determined, err := b.FindOutputOfInput(tx.TxInput{PrevTxHash: txHash, Vout: 0}, tbl)
	if err != nil {
		t.Fatalf("FindOutputOfInput: %v", err)
	}
	if !determined || out == nil || out.Address != addr {
		t.Fatalf("expected the tx's own output, got (%v, %v)", out, determined)
	}

	if out, determined, err := b.FindOutputOfInput(tx.TxInput{PrevTxHash: hashOf(0xff), Vout: 0}, tbl); err != nil || determined || out != nil {
		t.Fatalf("expected no result for an unknown tx, got (%v, %v, %v)", out, determined, err)
	}
}

func TestBuilder_IsUnusedInput_DetectsSpend(t *testing.T) {
	b := NewBuilder(GenesisPreviousHash, "")
	tbl := testTables(t)

	root := hashOf(0x01)
	spender := tx.TxBody{Version: 1, Inputs: []tx.TxInput{{PrevTxHash: root, Vout: 0}}}
	spenderHash := writeTxCache(t, tbl, spender)

	blk := childBlock(t, GenesisPreviousHash, 0x1f00ffff, 1, 1, []types.Hash{spenderHash})
	if _, _, err := b.PushNewBlock(blk); err != nil {
		t.Fatalf("push: %v", err)
	}

	unused, determined, err := b.IsUnusedInput(tx.TxInput{PrevTxHash: root, Vout: 0}, types.Hash{}, tbl)
	if err != nil {
		t.Fatalf("IsUnusedInput: %v", err)
	}
	if !determined {
		t.Fatal("expected a definitive answer from the best chain")
	}
	if unused {
		t.Fatal("input was spent by spender, should not be unused")
	}

	_, determined, err = b.IsUnusedInput(tx.TxInput{PrevTxHash: hashOf(0x99), Vout: 0}, types.Hash{}, tbl)
	if err != nil {
		t.Fatalf("IsUnusedInput: %v", err)
	}
	if determined {
		t.Fatal("expected no definitive answer for an input the best chain never produced")
	}
}
