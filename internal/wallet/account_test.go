package wallet

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func filledSeed(b byte) []byte {
	seed := make([]byte, SeedSize)
	for i := range seed {
		seed[i] = b
	}
	return seed
}

func openTestTables(t *testing.T) *storage.Tables {
	t.Helper()
	tbl, err := storage.OpenTables(t.TempDir(), storage.TableOptions{})
	if err != nil {
		t.Fatalf("OpenTables: %v", err)
	}
	t.Cleanup(func() { tbl.Close() })
	return tbl
}

func TestAccountBuilder_GetNewAccount_ClaimsFirstInvisible(t *testing.T) {
	tbl := openTestTables(t)
	cur, err := tbl.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	b, err := NewAccountBuilder(filledSeed(0x01), cur)
	if err != nil {
		t.Fatalf("NewAccountBuilder: %v", err)
	}
	if err := cur.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	cur2, err := tbl.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	a, err := b.GetNewAccount(cur2)
	if err != nil {
		t.Fatalf("GetNewAccount: %v", err)
	}
	if a.AccountID != 0 {
		t.Errorf("expected account 0 to be claimed first, got %d", a.AccountID)
	}
	if !a.Visible {
		t.Error("expected claimed account to be visible")
	}

	a2, err := b.GetNewAccount(cur2)
	if err != nil {
		t.Fatalf("GetNewAccount (second): %v", err)
	}
	if a2.AccountID != 1 {
		t.Errorf("expected account 1 claimed next, got %d", a2.AccountID)
	}
}

func TestAccountBuilder_ReadOnly_RejectsGetNewAccount(t *testing.T) {
	tbl := openTestTables(t)
	cur, err := tbl.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	full, err := NewAccountBuilder(filledSeed(0x02), cur)
	if err != nil {
		t.Fatalf("NewAccountBuilder: %v", err)
	}
	if err := cur.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	for i := 0; i < len(full.accounts); i++ {
		full.accounts[i].Visible = true
	}

	readOnly := &AccountBuilder{accounts: full.accounts}
	if _, err := readOnly.GetNewAccount(cur); err != ErrReadOnly {
		t.Errorf("expected ErrReadOnly once capacity is exhausted, got %v", err)
	}
}

func TestAccount_BytesRoundTrip(t *testing.T) {
	tbl := openTestTables(t)
	cur, err := tbl.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	b, err := NewAccountBuilder(filledSeed(0x03), cur)
	if err != nil {
		t.Fatalf("NewAccountBuilder: %v", err)
	}

	orig, err := b.GetAccountRef(0)
	if err != nil {
		t.Fatalf("GetAccountRef: %v", err)
	}
	orig.addBalance(0, 500)
	orig.addBalance(2, 300)
	orig.UnusedIndex = 3

	raw := orig.accountBytes()
	restored, err := accountFromBytes(0, raw)
	if err != nil {
		t.Fatalf("accountFromBytes: %v", err)
	}
	if restored.UnusedIndex != orig.UnusedIndex {
		t.Errorf("unused index mismatch: got %d, want %d", restored.UnusedIndex, orig.UnusedIndex)
	}
	if len(restored.ListenInner) != len(orig.ListenInner) || len(restored.ListenOuter) != len(orig.ListenOuter) {
		t.Fatalf("listen chain length mismatch: inner %d/%d outer %d/%d",
			len(restored.ListenInner), len(orig.ListenInner), len(restored.ListenOuter), len(orig.ListenOuter))
	}
	for i := range orig.ListenOuter {
		if restored.ListenOuter[i] != orig.ListenOuter[i] {
			t.Fatalf("listen_outer[%d] mismatch after restore", i)
		}
	}
	if len(restored.Balance) != 2 {
		t.Fatalf("expected 2 balance entries, got %d", len(restored.Balance))
	}
}

func TestAccountBuilder_UpdateByTx_And_FinalizeBlock(t *testing.T) {
	tbl := openTestTables(t)
	cur, err := tbl.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	b, err := NewAccountBuilder(filledSeed(0x04), cur)
	if err != nil {
		t.Fatalf("NewAccountBuilder: %v", err)
	}
	if err := cur.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	account, err := b.GetAccountRef(0)
	if err != nil {
		t.Fatalf("GetAccountRef: %v", err)
	}
	recvAddr := account.ListenOuter[0]

	body := tx.TxBody{
		Version:   1,
		GasPrice:  1,
		GasAmount: 10,
		Inputs:    []tx.TxInput{{PrevTxHash: types.Hash{0x01}, Vout: 0}},
		Outputs:   []tx.TxOutput{{Address: recvAddr, CoinID: 0, Amount: 990}},
	}
	inputsCache := []tx.TxOutput{{Address: types.Address{0xaa}, CoinID: 0, Amount: 1000}}
	verifiable, err := tx.NewTxVerifiable(&tx.TxManual{Body: body}, inputsCache)
	if err != nil {
		t.Fatalf("NewTxVerifiable: %v", err)
	}

	cur2, err := tbl.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if err := b.UpdateByTx(verifiable, cur2); err != nil {
		t.Fatalf("UpdateByTx: %v", err)
	}
	if err := cur2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if account.Balance.Sum() != 0 {
		t.Fatalf("balance should not change until finalization, got %d", account.Balance.Sum())
	}

	cur3, err := tbl.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if err := b.FinalizeBlock(1, []types.Hash{verifiable.TxHash}, tbl, cur3); err != nil {
		t.Fatalf("FinalizeBlock: %v", err)
	}
	if err := cur3.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	found := false
	for _, bal := range account.Balance {
		if bal.CoinID == 0 && bal.Amount == 990 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected account to be credited 990 of coin 0 after finalization, got %v", account.Balance)
	}
}
