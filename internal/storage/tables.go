package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Namespace prefixes for the Tables keyspace. Each one corresponds to a
// logical table; all share the same underlying DB so a single Cursor can
// write across them atomically.
var (
	nsBlock        = []byte("block/")
	nsBlockIndex   = []byte("block_index/")
	nsTxCache      = []byte("tx_cache/")
	nsTxIndex      = []byte("tx_index/")
	nsTxHeight     = []byte("tx_height/")
	nsUTXOIndex    = []byte("utxo_index/")
	nsAddrIndex    = []byte("addr_index/")
	nsMovement     = []byte("movement/")
	nsTempMovement = []byte("temp_movement/")
	nsAccountState = []byte("account_state/")
)

// TableOptions controls which optional indexes Tables maintains.
type TableOptions struct {
	TxIndex   bool // index every transaction's containing block, not just account-owned ones
	AddrIndex bool // maintain the full address->outpoint index, not just account-owned addresses
}

// Tables is the persistent storage layer: one durable key-value database
// holding finalized blocks, transaction bodies, the UTXO and address
// indexes, balance movements, and account state. All mutation happens
// through a Cursor, committed atomically.
type Tables struct {
	db          DB
	opts        TableOptions
	Initialized bool // true if the database was empty at open (fresh chain)
}

// OpenTables opens (or creates) the Tables database at the given path.
func OpenTables(path string, opts TableOptions) (*Tables, error) {
	db, err := NewBadger(path)
	if err != nil {
		return nil, err
	}
	fresh := true
	err = db.ForEach(nsBlock, func(_, _ []byte) error {
		fresh = false
		return fmt.Errorf("stop")
	})
	_ = err // sentinel-only stop, not a real error
	return &Tables{db: db, opts: opts, Initialized: fresh}, nil
}

// Cursor begins an atomic multi-key write transaction over Tables.
func (t *Tables) Cursor() (*Cursor, error) {
	batcher, ok := t.db.(Batcher)
	if !ok {
		return nil, fmt.Errorf("storage backend does not support atomic batches")
	}
	return &Cursor{tables: t, batch: batcher.NewBatch()}, nil
}

func nsKey(ns, key []byte) []byte {
	out := make([]byte, 0, len(ns)+len(key))
	out = append(out, ns...)
	out = append(out, key...)
	return out
}

// ReadBlock reads a finalized block's metadata by hash.
func (t *Tables) ReadBlock(hash types.Hash) (*block.Block, error) {
	raw, err := t.db.Get(nsKey(nsBlock, hash[:]))
	if err != nil {
		return nil, fmt.Errorf("read block %s: %w", hash, err)
	}
	return decodeBlockMeta(raw)
}

// ReadBlockIndex reads the height->hash index entry.
func (t *Tables) ReadBlockIndex(height uint32) (types.Hash, error) {
	var key [4]byte
	binary.LittleEndian.PutUint32(key[:], height)
	raw, err := t.db.Get(nsKey(nsBlockIndex, key[:]))
	if err != nil {
		return types.Hash{}, fmt.Errorf("read block index %d: %w", height, err)
	}
	var h types.Hash
	copy(h[:], raw)
	return h, nil
}

// ReadTxCache reads an unfinalized (confirmed-but-not-yet-finalized, or
// mempool) transaction by hash, inputs cache included.
func (t *Tables) ReadTxCache(hash types.Hash) (*tx.TxVerifiable, error) {
	raw, err := t.db.Get(nsKey(nsTxCache, hash[:]))
	if err != nil {
		return nil, fmt.Errorf("read tx_cache %s: %w", hash, err)
	}
	return decodeVerifiable(raw)
}

// ForEachTxCache visits every not-yet-finalized transaction, used to
// rebuild the mempool on startup.
func (t *Tables) ForEachTxCache(fn func(hash types.Hash, v *tx.TxVerifiable) error) error {
	return t.db.ForEach(nsTxCache, func(key, value []byte) error {
		idBytes := key[len(nsTxCache):]
		if len(idBytes) != types.HashSize {
			return fmt.Errorf("malformed tx_cache key %x", key)
		}
		var hash types.Hash
		copy(hash[:], idBytes)
		v, err := decodeVerifiable(value)
		if err != nil {
			return fmt.Errorf("decode tx_cache %s: %w", hash, err)
		}
		return fn(hash, v)
	})
}

// ReadTx reads a finalized, indexed transaction by hash.
func (t *Tables) ReadTx(hash types.Hash) (*tx.TxRecoded, error) {
	raw, err := t.db.Get(nsKey(nsTxIndex, hash[:]))
	if err != nil {
		return nil, fmt.Errorf("read tx_index %s: %w", hash, err)
	}
	return decodeRecoded(raw)
}

// ReadTxHeight reads the height at which a finalized transaction's block
// was mined.
func (t *Tables) ReadTxHeight(hash types.Hash) (uint32, error) {
	raw, err := t.db.Get(nsKey(nsTxHeight, hash[:]))
	if err != nil {
		return 0, fmt.Errorf("read tx_height %s: %w", hash, err)
	}
	return binary.LittleEndian.Uint32(raw), nil
}

// utxoKey packs a previous-output reference into a fixed 33-byte key.
func utxoKey(txHash types.Hash, vout uint8) []byte {
	key := make([]byte, 33)
	copy(key, txHash[:])
	key[32] = vout
	return key
}

// ReadUTXOIndex reads an unspent output by its originating tx hash+vout.
func (t *Tables) ReadUTXOIndex(txHash types.Hash, vout uint8) (tx.TxOutput, bool, error) {
	raw, err := t.db.Get(nsKey(nsUTXOIndex, utxoKey(txHash, vout)))
	if err != nil {
		return tx.TxOutput{}, false, nil
	}
	out, decErr := decodeTxOutput(raw)
	if decErr != nil {
		return tx.TxOutput{}, false, fmt.Errorf("decode utxo %s:%d: %w", txHash, vout, decErr)
	}
	return out, true, nil
}

// ForEachUnspentByAddr visits every unspent output the addr_index table
// records as belonging to addr, resolving each one against utxo_index.
// An addr_index entry with no matching utxo_index record (the output was
// spent after the index entry was written, racing a concurrent reader) is
// skipped rather than treated as an error.
func (t *Tables) ForEachUnspentByAddr(addr types.Address, fn func(txHash types.Hash, vout uint8, out tx.TxOutput) error) error {
	prefix := nsKey(nsAddrIndex, addr[:])
	return t.db.ForEach(prefix, func(key, _ []byte) error {
		rest := key[len(prefix):]
		if len(rest) != types.HashSize+1 {
			return fmt.Errorf("malformed addr_index key %x", key)
		}
		var txHash types.Hash
		copy(txHash[:], rest[:types.HashSize])
		vout := rest[types.HashSize]

		out, ok, err := t.ReadUTXOIndex(txHash, vout)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return fn(txHash, vout, out)
	})
}

// ForEachMovement visits every finalized balance movement record, raw,
// leaving decoding to internal/wallet (which owns the Movement layout) to
// avoid a storage->wallet import cycle.
func (t *Tables) ForEachMovement(fn func(txHash types.Hash, raw []byte) error) error {
	return t.db.ForEach(nsMovement, func(key, value []byte) error {
		idBytes := key[len(nsMovement):]
		if len(idBytes) != types.HashSize {
			return fmt.Errorf("malformed movement key %x", key)
		}
		var hash types.Hash
		copy(hash[:], idBytes)
		return fn(hash, value)
	})
}

// ForEachTempMovement visits every not-yet-finalized balance movement
// record, raw, used to fold pending mempool/confirmed-but-unfinalized
// activity into a balance or history query.
func (t *Tables) ForEachTempMovement(fn func(txHash types.Hash, raw []byte) error) error {
	return t.db.ForEach(nsTempMovement, func(key, value []byte) error {
		idBytes := key[len(nsTempMovement):]
		if len(idBytes) != types.HashSize {
			return fmt.Errorf("malformed temp_movement key %x", key)
		}
		var hash types.Hash
		copy(hash[:], idBytes)
		return fn(hash, value)
	})
}

// ReadAccountState reads an account's opaque account_state record by its
// numeric id.
func (t *Tables) ReadAccountState(accountID uint32) ([]byte, bool, error) {
	var key [4]byte
	binary.LittleEndian.PutUint32(key[:], accountID)
	raw, err := t.db.Get(nsKey(nsAccountState, key[:]))
	if err != nil {
		return nil, false, nil
	}
	return raw, true, nil
}

// ForEachAccountState visits every persisted account_state record.
func (t *Tables) ForEachAccountState(fn func(accountID uint32, value []byte) error) error {
	return t.db.ForEach(nsAccountState, func(key, value []byte) error {
		idBytes := key[len(nsAccountState):]
		if len(idBytes) != 4 {
			return fmt.Errorf("malformed account_state key %x", key)
		}
		return fn(binary.LittleEndian.Uint32(idBytes), value)
	})
}

// ReadTempMovement reads an unconfirmed balance movement by transaction
// hash.
func (t *Tables) ReadTempMovement(txHash types.Hash) ([]byte, bool, error) {
	raw, err := t.db.Get(nsKey(nsTempMovement, txHash[:]))
	if err != nil {
		return nil, false, nil
	}
	return raw, true, nil
}

// AddrIndexEnabled reports whether the full address index is maintained.
func (t *Tables) AddrIndexEnabled() bool { return t.opts.AddrIndex }

// TxIndexEnabled reports whether every transaction (not just
// account-owned ones) is indexed by containing block.
func (t *Tables) TxIndexEnabled() bool { return t.opts.TxIndex }

// Close closes the underlying database.
func (t *Tables) Close() error { return t.db.Close() }

func decodeTxOutput(raw []byte) (tx.TxOutput, error) {
	if len(raw) != 33 {
		return tx.TxOutput{}, fmt.Errorf("tx output record must be 33 bytes, got %d", len(raw))
	}
	var out tx.TxOutput
	copy(out.Address[:], raw[0:21])
	out.CoinID = binary.LittleEndian.Uint32(raw[21:25])
	out.Amount = binary.LittleEndian.Uint64(raw[25:33])
	return out, nil
}

func decodeRecoded(raw []byte) (*tx.TxRecoded, error) {
	recoded, off, err := decodeRecodedPrefix(raw)
	if err != nil {
		return nil, err
	}
	if off != len(raw) {
		return nil, fmt.Errorf("tx record has %d trailing bytes", len(raw)-off)
	}
	return recoded, nil
}

// decodeRecodedPrefix parses a body_len||body||sig_count||signatures record
// from the front of raw, returning how many bytes it consumed so callers
// with trailing fields (tx_cache's inputs_cache) can keep parsing.
func decodeRecodedPrefix(raw []byte) (*tx.TxRecoded, int, error) {
	if len(raw) < 2 {
		return nil, 0, fmt.Errorf("tx record truncated")
	}
	bodyLen := binary.LittleEndian.Uint16(raw[0:2])
	off := 2
	if off+int(bodyLen) > len(raw) {
		return nil, 0, fmt.Errorf("tx record body truncated")
	}
	body, err := tx.BodyFromBytes(raw[off : off+int(bodyLen)])
	if err != nil {
		return nil, 0, err
	}
	off += int(bodyLen)

	if off >= len(raw) {
		return nil, 0, fmt.Errorf("tx record truncated before signature count")
	}
	sigCount := int(raw[off])
	off++
	recoded := &tx.TxRecoded{TxHash: body.Hash(), Body: *body}
	for i := 0; i < sigCount; i++ {
		if off+98 > len(raw) {
			return nil, 0, fmt.Errorf("tx record truncated in signature %d", i)
		}
		sig, err := crypto.SignatureFromBytes(raw[off : off+98])
		if err != nil {
			return nil, 0, err
		}
		recoded.Signatures = append(recoded.Signatures, sig)
		off += 98
	}
	return recoded, off, nil
}

// encodeRecoded serializes a TxRecoded as body_len(2) || body || sig_count(1)
// || [signature(98)]..., the tx_index on-disk record layout.
func encodeRecoded(r *tx.TxRecoded) []byte {
	bodyBytes := r.Body.Bytes()
	buf := make([]byte, 0, 2+len(bodyBytes)+1+98*len(r.Signatures))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(bodyBytes)))
	buf = append(buf, bodyBytes...)
	buf = append(buf, byte(len(r.Signatures)))
	for _, sig := range r.Signatures {
		buf = append(buf, sig.Bytes()...)
	}
	return buf
}

// encodeVerifiable serializes a TxVerifiable for tx_cache: the same
// body_len || body || sig_count || signatures layout as encodeRecoded,
// followed by inputs_cache_count(1) || (address(21), coin_id(4),
// amount(8))×inputs_cache_count — the resolved previous outputs a
// transaction needs to be re-validated or re-queued without another
// storage lookup while it still sits in Confirmed or Unconfirmed.
func encodeVerifiable(v *tx.TxVerifiable) []byte {
	buf := encodeRecoded(&tx.TxRecoded{TxHash: v.TxHash, Body: v.Body, Signatures: v.Signatures})
	buf = append(buf, byte(len(v.InputsCache)))
	for _, out := range v.InputsCache {
		buf = append(buf, out.Bytes()...)
	}
	return buf
}

func decodeVerifiable(raw []byte) (*tx.TxVerifiable, error) {
	recoded, n, err := decodeRecodedPrefix(raw)
	if err != nil {
		return nil, err
	}
	if n >= len(raw) {
		return nil, fmt.Errorf("tx_cache record truncated before inputs_cache count")
	}
	count := int(raw[n])
	n++
	inputsCache := make([]tx.TxOutput, 0, count)
	for i := 0; i < count; i++ {
		if n+33 > len(raw) {
			return nil, fmt.Errorf("tx_cache record truncated in inputs_cache %d", i)
		}
		out, err := decodeTxOutput(raw[n : n+33])
		if err != nil {
			return nil, fmt.Errorf("tx_cache inputs_cache %d: %w", i, err)
		}
		inputsCache = append(inputsCache, out)
		n += 33
	}
	return &tx.TxVerifiable{
		TxHash:      recoded.TxHash,
		Body:        recoded.Body,
		Signatures:  recoded.Signatures,
		InputsCache: inputsCache,
	}, nil
}

// encodeTxOutput serializes a TxOutput as its fixed 33-byte record.
func encodeTxOutput(out tx.TxOutput) []byte {
	return out.Bytes()
}

// encodeBlockMeta serializes a Block's metadata: work_hash(32) || height(4)
// || flag(1) || bias(4, float32 bits) || header(80) || txs_count(2) ||
// [tx_hash(32)]...
func encodeBlockMeta(b *block.Block) []byte {
	buf := make([]byte, 0, 32+4+1+4+block.HeaderSize+2+32*len(b.TxsHash))
	buf = append(buf, b.WorkHash[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, b.Height)
	buf = append(buf, byte(b.Flag))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(b.Bias))
	buf = append(buf, b.Header.Bytes()...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(b.TxsHash)))
	for _, h := range b.TxsHash {
		buf = append(buf, h[:]...)
	}
	return buf
}

func decodeBlockMeta(raw []byte) (*block.Block, error) {
	const head = 32 + 4 + 1 + 4 + block.HeaderSize + 2
	if len(raw) < head {
		return nil, fmt.Errorf("block record truncated: %d bytes", len(raw))
	}
	b := &block.Block{}
	off := 0
	copy(b.WorkHash[:], raw[off:off+32])
	off += 32
	b.Height = binary.LittleEndian.Uint32(raw[off:])
	off += 4
	b.Flag = block.BlockFlag(raw[off])
	off++
	b.Bias = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
	off += 4
	header, err := block.HeaderFromBytes(raw[off : off+block.HeaderSize])
	if err != nil {
		return nil, err
	}
	b.Header = *header
	off += block.HeaderSize

	count := int(binary.LittleEndian.Uint16(raw[off:]))
	off += 2
	for i := 0; i < count; i++ {
		if off+32 > len(raw) {
			return nil, fmt.Errorf("block record truncated in txs_hash %d", i)
		}
		var h types.Hash
		copy(h[:], raw[off:off+32])
		b.TxsHash = append(b.TxsHash, h)
		off += 32
	}
	return b, nil
}
