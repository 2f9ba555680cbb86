package chain

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/internal/wallet"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// testConsensusRules gives every test chain a retarget window for YesPow,
// the flavor buildBlock hardcodes, plus a flat (non-halving) block reward.
func testConsensusRules() config.ConsensusRules {
	return config.ConsensusRules{
		Flavors: map[uint8]config.BlockTimeParams{
			uint8(block.YesPow): {T: 120, N: 45, K: 2760},
		},
		BlockReward: 20 * config.MilliCoin,
	}
}

func testSeed(b byte) []byte {
	seed := make([]byte, wallet.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	return seed
}

func testAddr(t *testing.T, seed byte) types.Address {
	t.Helper()
	id := make([]byte, types.AddressSize-1)
	for i := range id {
		id[i] = seed
	}
	addr, err := types.NewAddress(0, id)
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}
	return addr
}

func newTestChain(t *testing.T) *Chain {
	t.Helper()
	c, err := New(t.TempDir(), storage.TableOptions{}, testSeed(0x42), 1_000_000, testConsensusRules())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// coinbaseTx builds a single-output coinbase transaction. height is folded
// into the message so otherwise-identical coinbases at different heights
// still hash distinctly.
func coinbaseTx(t *testing.T, height uint32, addr types.Address, amount uint64) *tx.TxVerifiable {
	t.Helper()
	body := tx.TxBody{
		Version: 1,
		Type:    tx.TxPoW,
		Time:    height,
		Outputs: []tx.TxOutput{{Address: addr, Amount: amount}},
		Message: []byte{byte(height), byte(height >> 8), byte(height >> 16), byte(height >> 24)},
	}
	v, err := tx.NewTxVerifiable(&tx.TxManual{Body: body}, nil)
	if err != nil {
		t.Fatalf("NewTxVerifiable coinbase: %v", err)
	}
	return v
}

// transferTx spends a single previous output, paying a fee of gasAmount*gasPrice.
func transferTx(t *testing.T, prevHash types.Hash, prevVout uint8, prevOut tx.TxOutput, toAddr types.Address, amount uint64, gasAmount int64, gasPrice uint64) *tx.TxVerifiable {
	t.Helper()
	body := tx.TxBody{
		Version:   1,
		Type:      tx.TxTransfer,
		Deadline:  1_000_000,
		GasAmount: gasAmount,
		GasPrice:  gasPrice,
		Inputs:    []tx.TxInput{{PrevTxHash: prevHash, Vout: prevVout}},
		Outputs:   []tx.TxOutput{{Address: toAddr, Amount: amount}},
	}
	v, err := tx.NewTxVerifiable(&tx.TxManual{Body: body}, []tx.TxOutput{prevOut})
	if err != nil {
		t.Fatalf("NewTxVerifiable transfer: %v", err)
	}
	return v
}

func buildBlock(prev types.Hash, height uint32, bias float32, txs []*tx.TxVerifiable) block.Block {
	hashes := make([]types.Hash, len(txs))
	for i, v := range txs {
		hashes[i] = v.TxHash
	}
	return block.Block{
		Height: height,
		Flag:   block.YesPow,
		Bias:   bias,
		Header: block.Header{
			PrevHash: prev,
			Bits:     0x1f00ffff,
			Nonce:    height,
		},
		TxsHash: hashes,
	}
}

func pushBlock(t *testing.T, c *Chain, prev types.Hash, height uint32, bias float32, txs ...*tx.TxVerifiable) block.Block {
	t.Helper()
	blk := buildBlock(prev, height, bias, txs)
	if err := c.PushNewBlock(blk, txs); err != nil {
		t.Fatalf("push block %d: %v", height, err)
	}
	return blk
}

func TestChain_PushNewBlock_LinearAccumulatesBestChain(t *testing.T) {
	c := newTestChain(t)
	addr := testAddr(t, 0x01)

	prev := c.Confirmed.RootHash()
	var last block.Block
	for h := uint32(1); h <= 3; h++ {
		cb := coinbaseTx(t, h, addr, 1000)
		last = pushBlock(t, c, prev, h, 1, cb)
		prev = last.Hash()
	}

	best, ok := c.GetBestBlockRef()
	if !ok {
		t.Fatal("expected a best block")
	}
	if best.Hash() != last.Hash() {
		t.Fatalf("expected tip %s, got %s", last.Hash(), best.Hash())
	}
}

func TestChain_PushNewBlock_ForkRevertsLosingTxsToMempool(t *testing.T) {
	c := newTestChain(t)
	addr := testAddr(t, 0x01)
	root := c.Confirmed.RootHash()

	weakCb := coinbaseTx(t, 1, addr, 1000)
	weak := pushBlock(t, c, root, 1, 4, weakCb)

	strongCb := coinbaseTx(t, 2, addr, 2000)
	_ = pushBlock(t, c, root, 1, 1, strongCb)

	if c.Unconfirmed.Has(weakCb.TxHash) {
		t.Error("a reverted coinbase should not re-enter the mempool")
	}
	if _, err := c.Tables.ReadBlock(weak.Hash()); err != nil {
		t.Errorf("reverted block should still be recorded in tables: %v", err)
	}
}

func TestChain_PushUnconfirmed_RejectsDuplicateAndEvictsConflict(t *testing.T) {
	c := newTestChain(t)
	addr := testAddr(t, 0x01)
	toAddr := testAddr(t, 0x02)
	root := c.Confirmed.RootHash()

	cb := coinbaseTx(t, 1, addr, 1000)
	pushBlock(t, c, root, 1, 1, cb)

	spend := transferTx(t, cb.TxHash, 0, cb.Body.Outputs[0], toAddr, 990, 10, 1)
	if err := c.PushUnconfirmed(spend); err != nil {
		t.Fatalf("PushUnconfirmed: %v", err)
	}
	if err := c.PushUnconfirmed(spend); err == nil {
		t.Error("expected a duplicate submission to be rejected")
	}

	conflict := transferTx(t, cb.TxHash, 0, cb.Body.Outputs[0], addr, 980, 20, 1)
	if err := c.PushUnconfirmed(conflict); err != nil {
		t.Fatalf("PushUnconfirmed conflict: %v", err)
	}
	if c.Unconfirmed.Has(spend.TxHash) {
		t.Error("expected the first spender to be evicted by the conflicting submission")
	}
	if !c.Unconfirmed.Has(conflict.TxHash) {
		t.Error("expected the conflicting submission to be pool-resident")
	}
}

func TestChain_GetOutputOfInput_TiersOverrideInOrder(t *testing.T) {
	c := newTestChain(t)
	addr := testAddr(t, 0x01)
	toAddr := testAddr(t, 0x02)
	root := c.Confirmed.RootHash()

	cb := coinbaseTx(t, 1, addr, 1000)
	pushBlock(t, c, root, 1, 1, cb)

	input := tx.TxInput{PrevTxHash: cb.TxHash, Vout: 0}
	out, err := c.GetOutputOfInput(input)
	if err != nil {
		t.Fatalf("GetOutputOfInput: %v", err)
	}
	if out == nil || out.Address != addr {
		t.Fatalf("expected the coinbase output from tables, got %v", out)
	}

	spend := transferTx(t, cb.TxHash, 0, cb.Body.Outputs[0], toAddr, 990, 10, 1)
	if err := c.PushUnconfirmed(spend); err != nil {
		t.Fatalf("PushUnconfirmed: %v", err)
	}

	out, err = c.GetOutputOfInput(input)
	if err != nil {
		t.Fatalf("GetOutputOfInput after spend: %v", err)
	}
	if out != nil {
		t.Fatalf("expected the mempool spend to shadow the tables entry, got %v", out)
	}

	unused, err := c.IsUnusedInput(input, types.Hash{})
	if err != nil {
		t.Fatalf("IsUnusedInput: %v", err)
	}
	if unused {
		t.Error("input is spent in the mempool, should not be unused")
	}
}

func TestChain_GetTxAndHeight_AcrossTiers(t *testing.T) {
	c := newTestChain(t)
	addr := testAddr(t, 0x01)
	root := c.Confirmed.RootHash()

	cb := coinbaseTx(t, 1, addr, 1000)
	pushBlock(t, c, root, 1, 1, cb)

	recoded, err := c.GetTx(cb.TxHash)
	if err != nil {
		t.Fatalf("GetTx: %v", err)
	}
	if recoded == nil {
		t.Fatal("expected to find the confirmed-but-not-finalized coinbase via tx_cache")
	}

	if _, confirmed, err := c.GetTxHeight(cb.TxHash); err != nil || !confirmed {
		t.Fatalf("expected a confirmed height, got confirmed=%v err=%v", confirmed, err)
	}

	toAddr := testAddr(t, 0x02)
	spend := transferTx(t, cb.TxHash, 0, cb.Body.Outputs[0], toAddr, 990, 10, 1)
	if err := c.PushUnconfirmed(spend); err != nil {
		t.Fatalf("PushUnconfirmed: %v", err)
	}
	if _, confirmed, err := c.GetTxHeight(spend.TxHash); err != nil || confirmed {
		t.Fatalf("expected a mempool-resident tx to report unconfirmed, got confirmed=%v err=%v", confirmed, err)
	}
}

func TestChain_Finalize_PromotesOldestBlocksPastCacheSize(t *testing.T) {
	c := newTestChain(t)
	addr := testAddr(t, 0x01)

	prev := c.Confirmed.RootHash()
	var firstHash, firstCbHash types.Hash
	for h := uint32(1); h <= MaxCacheSize+1; h++ {
		cb := coinbaseTx(t, h, addr, 1000)
		if h == 1 {
			firstCbHash = cb.TxHash
		}
		blk := pushBlock(t, c, prev, h, 1, cb)
		if h == 1 {
			firstHash = blk.Hash()
		}
		prev = blk.Hash()
	}

	if _, err := c.Tables.ReadBlockIndex(1); err != nil {
		t.Fatalf("expected block 1 to be finalized into the height index: %v", err)
	}
	if got, err := c.Tables.ReadBlockIndex(1); err == nil && got != firstHash {
		t.Errorf("block_index[1] = %s, want %s", got, firstHash)
	}
	if _, err := c.Tables.ReadTxHeight(firstCbHash); err != nil {
		t.Errorf("expected the first coinbase's height to be recorded: %v", err)
	}
	if _, ok, err := c.Tables.ReadUTXOIndex(firstCbHash, 0); err != nil || !ok {
		t.Errorf("expected the first coinbase's output to be in utxo_index, ok=%v err=%v", ok, err)
	}
}

func TestChain_AccountAddressAndBalance(t *testing.T) {
	c := newTestChain(t)

	addr, err := c.GetAccountAddress(0, false)
	if err != nil {
		t.Fatalf("GetAccountAddress: %v", err)
	}
	if addr.IsZero() {
		t.Fatal("expected a non-zero receiving address")
	}

	root := c.Confirmed.RootHash()
	cb := coinbaseTx(t, 1, addr, 5000)
	pushBlock(t, c, root, 1, 1, cb)

	unspent, err := c.GetAccountUnspentOutputs(0)
	if err != nil {
		t.Fatalf("GetAccountUnspentOutputs: %v", err)
	}
	if len(unspent) != 0 {
		t.Fatalf("expected no finalized unspent outputs yet (block not finalized), got %d", len(unspent))
	}
}

func TestChain_CreateTransfer_SpendsFinalizedCoinbase(t *testing.T) {
	c := newTestChain(t)

	addr, err := c.GetAccountAddress(0, false)
	if err != nil {
		t.Fatalf("GetAccountAddress: %v", err)
	}

	prev := c.Confirmed.RootHash()
	for h := uint32(1); h <= MaxCacheSize+1; h++ {
		cb := coinbaseTx(t, h, addr, 5000)
		blk := pushBlock(t, c, prev, h, 1, cb)
		prev = blk.Hash()
	}

	to := testAddr(t, 0x09)
	body, inputsCache, err := c.CreateTransfer(0, to, 1000, 10, 1, 2_000_000)
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	if body.Type != tx.TxTransfer {
		t.Errorf("type = %v, want TxTransfer", body.Type)
	}
	if len(body.Inputs) == 0 || len(body.Inputs) != len(inputsCache) {
		t.Fatalf("inputs = %d, inputsCache = %d, expected matching non-zero counts", len(body.Inputs), len(inputsCache))
	}
	if body.Outputs[0].Address != to || body.Outputs[0].Amount != 1000 {
		t.Errorf("destination output = %+v", body.Outputs[0])
	}

	v, err := tx.NewTxVerifiable(&tx.TxManual{Body: *body}, inputsCache)
	if err != nil {
		t.Fatalf("NewTxVerifiable on CreateTransfer output: %v", err)
	}
	if v.TxHash.IsZero() {
		t.Error("expected a non-zero transaction hash")
	}
}
