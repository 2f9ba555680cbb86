package wallet

import (
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Balance is a signed amount of a single coin, used both for an account's
// running totals and for the signed deltas a transaction moves.
type Balance struct {
	CoinID uint32
	Amount int64
}

// Balances is a sparse, coin-id-unique set of balances.
type Balances []Balance

// Add credits amount of coinID, creating an entry if none exists yet.
func (b *Balances) Add(coinID uint32, amount int64) {
	for i := range *b {
		if (*b)[i].CoinID == coinID {
			(*b)[i].Amount += amount
			return
		}
	}
	*b = append(*b, Balance{CoinID: coinID, Amount: amount})
}

// Sub debits amount of coinID.
func (b *Balances) Sub(coinID uint32, amount int64) {
	b.Add(coinID, -amount)
}

// Compaction drops zero-amount entries, matching the original's
// Balances::compaction (kept distinct from a full sort since callers only
// ever append in coin-id-arrival order, not a sorted one).
func (b *Balances) Compaction() {
	out := (*b)[:0]
	for _, bal := range *b {
		if bal.Amount != 0 {
			out = append(out, bal)
		}
	}
	*b = out
}

// Sum returns the total across every coin, used only where a single-coin
// assumption already holds (the fee check: a transaction's gas is paid in
// coin 0 by construction, so a mixed-coin fee would already be a protocol
// violation caught earlier in validation).
func (b Balances) Sum() int64 {
	var total int64
	for _, bal := range b {
		total += bal.Amount
	}
	return total
}

// MovementType classifies a BalanceMovement from a single account's
// perspective once both legs have been matched.
type MovementType int

const (
	MovementNothing MovementType = iota
	MovementIncoming
	MovementOutgoing
	MovementInternal // both an input and an output of this tx belong to the node's accounts
)

// AccountCredit is one account's incoming balance change from a movement.
type AccountCredit struct {
	AccountID uint32
	Balances  Balances
	IsInner   bool
}

// Movement records the balance effect of a single transaction against the
// accounts this node tracks, before it has been finalized into a block
// (in which case it lives in temp_movement) and after (movement, stamped
// with height/position).
type Movement struct {
	TxHash   types.Hash
	Fee      Balances
	Outgoing Balances // debited from the node's own spent inputs
	Incoming []AccountCredit
	Height   uint32
	Position uint32
	Final    bool
}

// NewMovement starts an empty movement for a transaction's fee.
func NewMovement(txHash types.Hash, fee Balances) *Movement {
	return &Movement{TxHash: txHash, Fee: fee}
}

// PushOutgoing records a spent input's value.
func (m *Movement) PushOutgoing(coinID uint32, amount uint64) {
	m.Outgoing.Add(coinID, int64(amount))
}

// PushIncoming records a received output's value against accountID.
func (m *Movement) PushIncoming(accountID uint32, coinID uint32, amount uint64, isInner bool) {
	for i := range m.Incoming {
		if m.Incoming[i].AccountID == accountID {
			m.Incoming[i].Balances.Add(coinID, int64(amount))
			return
		}
	}
	var bal Balances
	bal.Add(coinID, int64(amount))
	m.Incoming = append(m.Incoming, AccountCredit{AccountID: accountID, Balances: bal, IsInner: isInner})
}

// Type reports what this movement looks like from the node's perspective.
func (m *Movement) Type() MovementType {
	hasOut := len(m.Outgoing) > 0
	hasIn := len(m.Incoming) > 0
	switch {
	case hasOut && hasIn:
		return MovementInternal
	case hasOut:
		return MovementOutgoing
	case hasIn:
		return MovementIncoming
	default:
		return MovementNothing
	}
}

// Stamp finalizes the movement's block position, matching update_movement_status.
func (m *Movement) Stamp(height, position uint32) {
	m.Height = height
	m.Position = position
	m.Final = true
}

// Bytes serializes a movement for temp_movement/movement storage:
// tx_hash:32 | final:u8 | height:u32 | position:u32 | fee_len:u32 |
// (coin_id:u32, amount:i64)×fee_len | outgoing_len:u32 | (coin_id, amount)×
// outgoing_len | incoming_len:u32 | (account_id:u32, is_inner:u8,
// balances_len:u32, (coin_id, amount)×balances_len)×incoming_len
func (m *Movement) Bytes() []byte {
	buf := make([]byte, 0, 64+len(m.Fee)*12+len(m.Outgoing)*12)
	buf = append(buf, m.TxHash[:]...)
	if m.Final {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint32(buf, m.Height)
	buf = binary.LittleEndian.AppendUint32(buf, m.Position)
	buf = appendBalances(buf, m.Fee)
	buf = appendBalances(buf, m.Outgoing)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(m.Incoming)))
	for _, credit := range m.Incoming {
		buf = binary.LittleEndian.AppendUint32(buf, credit.AccountID)
		if credit.IsInner {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = appendBalances(buf, credit.Balances)
	}
	return buf
}

func appendBalances(buf []byte, balances Balances) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(balances)))
	for _, bal := range balances {
		buf = binary.LittleEndian.AppendUint32(buf, bal.CoinID)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(bal.Amount))
	}
	return buf
}

func readBalances(raw []byte, pos int) (Balances, int, error) {
	if pos+4 > len(raw) {
		return nil, 0, fmt.Errorf("truncated balances length")
	}
	n := binary.LittleEndian.Uint32(raw[pos : pos+4])
	pos += 4
	var out Balances
	for i := uint32(0); i < n; i++ {
		if pos+12 > len(raw) {
			return nil, 0, fmt.Errorf("truncated balance entry %d", i)
		}
		coinID := binary.LittleEndian.Uint32(raw[pos : pos+4])
		amount := int64(binary.LittleEndian.Uint64(raw[pos+4 : pos+12]))
		out.Add(coinID, amount)
		pos += 12
	}
	return out, pos, nil
}

// MovementFromBytes deserializes a Movement previously written by Bytes.
func MovementFromBytes(raw []byte) (*Movement, error) {
	if len(raw) < 32+1+4+4 {
		return nil, fmt.Errorf("movement record too short: %d bytes", len(raw))
	}
	m := &Movement{}
	copy(m.TxHash[:], raw[0:32])
	m.Final = raw[32] != 0
	m.Height = binary.LittleEndian.Uint32(raw[33:37])
	m.Position = binary.LittleEndian.Uint32(raw[37:41])

	pos := 41
	fee, pos, err := readBalances(raw, pos)
	if err != nil {
		return nil, fmt.Errorf("movement fee: %w", err)
	}
	m.Fee = fee

	outgoing, pos, err := readBalances(raw, pos)
	if err != nil {
		return nil, fmt.Errorf("movement outgoing: %w", err)
	}
	m.Outgoing = outgoing

	if pos+4 > len(raw) {
		return nil, fmt.Errorf("movement truncated before incoming count")
	}
	incomingLen := binary.LittleEndian.Uint32(raw[pos : pos+4])
	pos += 4
	for i := uint32(0); i < incomingLen; i++ {
		if pos+5 > len(raw) {
			return nil, fmt.Errorf("movement truncated at incoming credit %d", i)
		}
		accountID := binary.LittleEndian.Uint32(raw[pos : pos+4])
		isInner := raw[pos+4] != 0
		pos += 5
		balances, newPos, err := readBalances(raw, pos)
		if err != nil {
			return nil, fmt.Errorf("movement incoming credit %d: %w", i, err)
		}
		pos = newPos
		m.Incoming = append(m.Incoming, AccountCredit{AccountID: accountID, Balances: balances, IsInner: isInner})
	}
	if pos != len(raw) {
		return nil, fmt.Errorf("movement record has %d trailing bytes", len(raw)-pos)
	}
	return m, nil
}
