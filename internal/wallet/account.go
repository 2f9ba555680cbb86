package wallet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// accountIDKey encodes an account id as the 4-byte little-endian key
// account_state records are stored under.
func accountIDKey(accountID uint32) []byte {
	var key [4]byte
	binary.LittleEndian.PutUint32(key[:], accountID)
	return key[:]
}

// PreFetchAddrLen is how many addresses are derived ahead on each of an
// account's inner (change) and outer (receive) chains.
const PreFetchAddrLen = 25

// PreFetchAccountLen is how many additional invisible accounts are
// derived ahead once visible-account headroom runs low.
const PreFetchAccountLen = 20

// ErrReadOnly is returned by operations that need the root secret key
// when the AccountBuilder only holds public keys.
var ErrReadOnly = errors.New("wallet: operation requires the root secret key")

// Account tracks one BIP-44 account's listening addresses and running
// balance. Only a public key is kept — deriving a spending key from an
// account address is the AccountBuilder's job, since that's the only
// place the root secret lives.
type Account struct {
	AccountID   uint32
	RootKey     *HDKey // public-only key at m/44'/8888'/accountID'
	UnusedIndex uint32
	ListenInner []types.Address
	ListenOuter []types.Address
	Balance     Balances
	Visible     bool
	changed     bool
}

func newAccount(accountID uint32, visible bool, rootKey *HDKey) (*Account, error) {
	a := &Account{
		AccountID: accountID,
		RootKey:   rootKey,
		Balance:   Balances{{CoinID: 0, Amount: 0}},
		Visible:   visible,
		changed:   true,
	}
	for i := uint32(0); i < PreFetchAddrLen; i++ {
		addr, err := a.deriveAddress(true, i)
		if err != nil {
			return nil, err
		}
		a.ListenInner = append(a.ListenInner, addr)
		addr, err = a.deriveAddress(false, i)
		if err != nil {
			return nil, err
		}
		a.ListenOuter = append(a.ListenOuter, addr)
	}
	return a, nil
}

func (a *Account) deriveAddress(isInner bool, index uint32) (types.Address, error) {
	change := uint32(0)
	if isInner {
		change = 1
	}
	key, err := a.RootKey.DerivePath(change, index)
	if err != nil {
		return types.Address{}, fmt.Errorf("derive account %d address (inner=%v, index=%d): %w", a.AccountID, isInner, index, err)
	}
	return key.Address(), nil
}

// accountBytes marshals the account_state pickle:
// root_pubkey:33 | chain_code:32 | unused_index:u32 | inner_len:u32 | outer_len:u32 |
// visible:u8 | balance_len:u32 | (coin_id:u32, amount:i64)×balance_len
func (a *Account) accountBytes() []byte {
	buf := make([]byte, 0, 65+4*3+1+4+len(a.Balance)*12)
	buf = append(buf, a.RootKey.PublicKeyBytes()...)
	buf = append(buf, a.RootKey.ChainCode()...)
	buf = binary.LittleEndian.AppendUint32(buf, a.UnusedIndex)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(a.ListenInner)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(a.ListenOuter)))
	if a.Visible {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(a.Balance)))
	for _, bal := range a.Balance {
		buf = binary.LittleEndian.AppendUint32(buf, bal.CoinID)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(bal.Amount))
	}
	return buf
}

func accountFromBytes(accountID uint32, raw []byte) (*Account, error) {
	const headerLen = 65 + 4 + 4 + 4 + 1 + 4
	if len(raw) < headerLen {
		return nil, fmt.Errorf("account %d record too short: %d bytes", accountID, len(raw))
	}
	rootKey, err := FromPublicBytes(raw[0:33], raw[33:65])
	if err != nil {
		return nil, fmt.Errorf("account %d root key: %w", accountID, err)
	}
	unusedIndex := binary.LittleEndian.Uint32(raw[65:69])
	innerLen := binary.LittleEndian.Uint32(raw[69:73])
	outerLen := binary.LittleEndian.Uint32(raw[73:77])
	visible := raw[77] != 0
	balanceLen := binary.LittleEndian.Uint32(raw[78:82])

	a := &Account{
		AccountID:   accountID,
		RootKey:     rootKey,
		UnusedIndex: unusedIndex,
		Visible:     visible,
	}
	for i := uint32(0); i < innerLen; i++ {
		addr, err := a.deriveAddress(true, i)
		if err != nil {
			return nil, err
		}
		a.ListenInner = append(a.ListenInner, addr)
	}
	for i := uint32(0); i < outerLen; i++ {
		addr, err := a.deriveAddress(false, i)
		if err != nil {
			return nil, err
		}
		a.ListenOuter = append(a.ListenOuter, addr)
	}

	pos := headerLen
	for i := uint32(0); i < balanceLen; i++ {
		if pos+12 > len(raw) {
			return nil, fmt.Errorf("account %d balance entry %d truncated", accountID, i)
		}
		coinID := binary.LittleEndian.Uint32(raw[pos : pos+4])
		amount := int64(binary.LittleEndian.Uint64(raw[pos+4 : pos+12]))
		a.Balance.Add(coinID, amount)
		pos += 12
	}
	if pos != len(raw) {
		return nil, fmt.Errorf("account %d record has %d trailing bytes", accountID, len(raw)-pos)
	}
	return a, nil
}

// checkAndExpandListen reports whether addr belongs to this account
// (inner=true if found on the change chain), extending that chain so that
// at least PreFetchAddrLen addresses follow the match.
func (a *Account) checkAndExpandListen(addr types.Address) (found bool, isInner bool, err error) {
	if idx, ok := indexOf(a.ListenInner, addr); ok {
		if err := a.expandChain(true, idx); err != nil {
			return false, false, err
		}
		return true, true, nil
	}
	if idx, ok := indexOf(a.ListenOuter, addr); ok {
		if err := a.expandChain(false, idx); err != nil {
			return false, false, err
		}
		return true, false, nil
	}
	return false, false, nil
}

func indexOf(list []types.Address, addr types.Address) (int, bool) {
	for i, a := range list {
		if a == addr {
			return i, true
		}
	}
	return 0, false
}

func (a *Account) expandChain(isInner bool, matchedIndex int) error {
	list := &a.ListenOuter
	if isInner {
		list = &a.ListenInner
	}
	nextIndex := len(*list)
	if nextIndex >= matchedIndex+PreFetchAddrLen {
		return nil
	}
	for i := nextIndex; i < matchedIndex+PreFetchAddrLen; i++ {
		addr, err := a.deriveAddress(isInner, uint32(i))
		if err != nil {
			return err
		}
		*list = append(*list, addr)
	}
	a.changed = true
	return nil
}

func (a *Account) expandOuterSize(size uint32) error {
	last := uint32(len(a.ListenOuter))
	for i := last; i < last+size; i++ {
		addr, err := a.deriveAddress(false, i)
		if err != nil {
			return err
		}
		a.ListenOuter = append(a.ListenOuter, addr)
	}
	a.changed = true
	return nil
}

func (a *Account) updateUnusedIndex(addr types.Address) {
	idx, ok := indexOf(a.ListenOuter, addr)
	if !ok {
		return
	}
	if a.UnusedIndex <= uint32(idx) {
		a.UnusedIndex = uint32(idx) + 1
		a.changed = true
	}
}

func (a *Account) addBalance(coinID uint32, amount int64) {
	a.Balance.Add(coinID, amount)
	a.changed = true
}

func (a *Account) addBalancesAndUpdate(balances Balances) {
	for _, bal := range balances {
		a.Balance.Add(bal.CoinID, bal.Amount)
	}
	a.changed = true
}

// GetNewAddress returns the next outer (receive) address. When new is
// true the address is considered dispensed: the unused-index watermark
// advances and the chain is extended by one. When false it re-peeks the
// most recently dispensed address (or the first, if none yet).
func (a *Account) GetNewAddress(newAddr bool, cur *storage.Cursor) (types.Address, error) {
	index := a.UnusedIndex
	if !newAddr && a.UnusedIndex > 0 {
		index = a.UnusedIndex - 1
	}
	if int(index) >= len(a.ListenOuter) {
		if err := a.expandOuterSize(PreFetchAddrLen); err != nil {
			return types.Address{}, err
		}
	}
	addr := a.ListenOuter[index]
	if newAddr {
		a.UnusedIndex++
		if err := a.expandOuterSize(1); err != nil {
			return types.Address{}, err
		}
		if err := cur.WriteAccountState(accountIDKey(a.AccountID), a.accountBytes()); err != nil {
			return types.Address{}, err
		}
	}
	return addr, nil
}

// GetAddressPath reports whether addr belongs to this account, and if so
// its (isInner, index) position.
func (a *Account) GetAddressPath(addr types.Address) (isInner bool, index uint32, ok bool) {
	if i, found := indexOf(a.ListenInner, addr); found {
		return true, uint32(i), true
	}
	if i, found := indexOf(a.ListenOuter, addr); found {
		return false, uint32(i), true
	}
	return false, 0, false
}

// AccountBuilder is the HD wallet bank: a tree of accounts derived from
// one BIP-44 root, m/44'/8888'/account'. A nil root secret makes every
// account read-only — balances and addresses can still be tracked, but
// GetNewAccount and signing are unavailable.
type AccountBuilder struct {
	rootKey  *HDKey // private, at m/44'/8888' — nil for a read-only node
	accounts []*Account
}

// NewAccountBuilder derives a fresh bank of accounts from a 64-byte BIP-32
// seed, pre-fetching an initial capacity of 50 invisible accounts.
func NewAccountBuilder(seed []byte, cur *storage.Cursor) (*AccountBuilder, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	purposeCoin, err := master.DerivePath(PurposeBIP44, CoinTypeKlingnet)
	if err != nil {
		return nil, fmt.Errorf("derive purpose/coin-type key: %w", err)
	}

	const initialLen = 50
	b := &AccountBuilder{rootKey: purposeCoin}
	for i := uint32(0); i < initialLen; i++ {
		accountKey, err := purposeCoin.DeriveChild(bip32.FirstHardenedChild + i)
		if err != nil {
			return nil, fmt.Errorf("derive account %d key: %w", i, err)
		}
		account, err := newAccount(i, false, accountKey.Neuter())
		if err != nil {
			return nil, err
		}
		b.accounts = append(b.accounts, account)
	}
	b.updateAllAccountStatus(cur)
	return b, nil
}

// RestoreAccountBuilder rebuilds a bank from persisted account_state
// records. seed is nil for a read-only (watch-only) node.
func RestoreAccountBuilder(tables *storage.Tables, seed []byte) (*AccountBuilder, error) {
	var rootKey *HDKey
	if seed != nil {
		master, err := NewMasterKey(seed)
		if err != nil {
			return nil, err
		}
		purposeCoin, err := master.DerivePath(PurposeBIP44, CoinTypeKlingnet)
		if err != nil {
			return nil, fmt.Errorf("derive purpose/coin-type key: %w", err)
		}
		rootKey = purposeCoin
	}

	b := &AccountBuilder{rootKey: rootKey}
	err := tables.ForEachAccountState(func(accountID uint32, raw []byte) error {
		account, err := accountFromBytes(accountID, raw)
		if err != nil {
			return err
		}
		b.accounts = append(b.accounts, account)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(b.accounts, func(i, j int) bool { return b.accounts[i].AccountID < b.accounts[j].AccountID })
	return b, nil
}

// GetNewAccount returns the first invisible account, marking it visible
// and expanding the invisible pool if headroom is running low. Returns
// ErrReadOnly if the bank has no root secret and every account is
// already visible.
func (b *AccountBuilder) GetNewAccount(cur *storage.Cursor) (*Account, error) {
	idx := -1
	for i, a := range b.accounts {
		if !a.Visible {
			idx = i
			break
		}
	}
	if idx < 0 {
		if b.rootKey == nil {
			return nil, ErrReadOnly
		}
		for i := 0; i < PreFetchAccountLen; i++ {
			if err := b.expandAccountCapacity(); err != nil {
				return nil, err
			}
		}
		return b.GetNewAccount(cur)
	}

	if b.rootKey != nil && len(b.accounts) < idx+PreFetchAccountLen {
		if err := b.expandAccountCapacity(); err != nil {
			return nil, err
		}
	}

	account := b.accounts[idx]
	account.Visible = true
	account.changed = true
	if err := cur.WriteAccountState(accountIDKey(account.AccountID), account.accountBytes()); err != nil {
		return nil, err
	}
	return account, nil
}

// GetAccountRef finds an account by id.
func (b *AccountBuilder) GetAccountRef(accountID uint32) (*Account, error) {
	for _, a := range b.accounts {
		if a.AccountID == accountID {
			return a, nil
		}
	}
	return nil, fmt.Errorf("account %d not found", accountID)
}

// GetPathFromAddr finds which account (and chain position) owns addr, if
// any of them do.
func (b *AccountBuilder) GetPathFromAddr(addr types.Address) (accountID uint32, isInner bool, index uint32, ok bool) {
	for _, a := range b.accounts {
		if isInner, index, found := a.GetAddressPath(addr); found {
			return a.AccountID, isInner, index, true
		}
	}
	return 0, false, 0, false
}

// ListenAddresses returns every address any visible account is currently
// watching, inner and outer chains both.
func (b *AccountBuilder) ListenAddresses() []types.Address {
	var out []types.Address
	for _, a := range b.accounts {
		if !a.Visible {
			continue
		}
		out = append(out, a.ListenOuter...)
		out = append(out, a.ListenInner...)
	}
	return out
}

// IsAccountAddress reports whether addr belongs to any tracked account.
func (b *AccountBuilder) IsAccountAddress(addr types.Address) bool {
	_, _, _, ok := b.GetPathFromAddr(addr)
	return ok
}

// UpdateByTx derives the balance movement a verified transaction causes
// against this node's accounts and records it to temp_movement, ready to
// be finalized once the transaction's block is confirmed deep enough.
// The transaction's fee (Σinputs − Σoutputs) must equal its declared gas
// cost — a violation here means the caller validated the transaction
// incorrectly upstream.
func (b *AccountBuilder) UpdateByTx(verified *tx.TxVerifiable, cur *storage.Cursor) error {
	body := &verified.Body

	var fee Balances
	for _, in := range verified.InputsCache {
		fee.Add(in.CoinID, int64(in.Amount))
	}
	for _, out := range body.Outputs {
		fee.Sub(out.CoinID, int64(out.Amount))
	}
	fee.Compaction()
	wantFee := int64(body.GasAmount) * int64(body.GasPrice)
	if fee.Sum() != wantFee {
		return fmt.Errorf("tx %s fee mismatch: computed %d, declared %d", verified.TxHash, fee.Sum(), wantFee)
	}

	movement := NewMovement(verified.TxHash, fee)

	for _, in := range verified.InputsCache {
		for _, a := range b.accounts {
			found, _, err := a.checkAndExpandListen(in.Address)
			if err != nil {
				return err
			}
			if found {
				a.updateUnusedIndex(in.Address)
				movement.PushOutgoing(in.CoinID, in.Amount)
				break
			}
		}
	}

	for _, out := range body.Outputs {
		for _, a := range b.accounts {
			found, isInner, err := a.checkAndExpandListen(out.Address)
			if err != nil {
				return err
			}
			if found {
				a.updateUnusedIndex(out.Address)
				movement.PushIncoming(a.AccountID, out.CoinID, out.Amount, isInner)
				break
			}
		}
	}

	if movement.Type() != MovementNothing {
		if err := cur.WriteTempMovement(movement.TxHash[:], movement.Bytes()); err != nil {
			return err
		}
	}
	b.updateAllAccountStatus(cur)
	return nil
}

// FinalizeBlock is the only place account balances are mutated: each
// transaction hash in a finalizing block has its temp_movement entry (if
// any) stamped with its block position and promoted, crediting whichever
// accounts it touched.
func (b *AccountBuilder) FinalizeBlock(height uint32, txHashes []types.Hash, tables *storage.Tables, cur *storage.Cursor) error {
	for position, hash := range txHashes {
		raw, ok, err := tables.ReadTempMovement(hash)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		movement, err := MovementFromBytes(raw)
		if err != nil {
			return fmt.Errorf("finalize block: %w", err)
		}
		for _, credit := range movement.Incoming {
			account, err := b.GetAccountRef(credit.AccountID)
			if err != nil {
				return fmt.Errorf("finalize block: %w", err)
			}
			account.addBalancesAndUpdate(credit.Balances)
		}
		movement.Stamp(height, uint32(position))
		if err := cur.WriteMovement(hash[:], movement.Bytes()); err != nil {
			return err
		}
		if err := cur.RemoveTempMovement(hash[:]); err != nil {
			return err
		}
	}
	b.updateAllAccountStatus(cur)
	return nil
}

func (b *AccountBuilder) expandAccountCapacity() error {
	if b.rootKey == nil {
		return ErrReadOnly
	}
	last := b.accounts[len(b.accounts)-1]
	accountID := last.AccountID + 1
	accountKey, err := b.rootKey.DeriveChild(bip32.FirstHardenedChild + accountID)
	if err != nil {
		return fmt.Errorf("derive account %d key: %w", accountID, err)
	}
	account, err := newAccount(accountID, false, accountKey.Neuter())
	if err != nil {
		return err
	}
	b.accounts = append(b.accounts, account)
	return nil
}

func (b *AccountBuilder) updateAllAccountStatus(cur *storage.Cursor) {
	for _, a := range b.accounts {
		if a.changed {
			if err := cur.WriteAccountState(accountIDKey(a.AccountID), a.accountBytes()); err != nil {
				continue
			}
			a.changed = false
		}
	}
}
