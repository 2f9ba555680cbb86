package storage

import (
	"encoding/binary"

	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Cursor batches a set of Tables writes for atomic commit. All Write*/
// Remove* methods only buffer; nothing is durable until Commit succeeds.
type Cursor struct {
	tables *Tables
	batch  Batch
}

// Tables returns the Cursor's owning Tables, for read-through lookups
// (reads bypass the in-flight batch and see the last-committed state,
// matching the reference implementation's cursor semantics).
func (c *Cursor) Tables() *Tables { return c.tables }

// WriteBlock persists a finalized block's metadata and indexes it by
// height.
func (c *Cursor) WriteBlock(b *block.Block) error {
	hash := b.Header.Hash()
	if err := c.batch.Put(nsKey(nsBlock, hash[:]), encodeBlockMeta(b)); err != nil {
		return err
	}
	var heightKey [4]byte
	binary.LittleEndian.PutUint32(heightKey[:], b.Height)
	return c.batch.Put(nsKey(nsBlockIndex, heightKey[:]), hash[:])
}

// WriteBlockIndex writes (or overwrites) the height->hash index entry
// independently of WriteBlock, used when finalizing a previously-written
// block whose height was not yet known.
func (c *Cursor) WriteBlockIndex(height uint32, hash types.Hash) error {
	var key [4]byte
	binary.LittleEndian.PutUint32(key[:], height)
	return c.batch.Put(nsKey(nsBlockIndex, key[:]), hash[:])
}

// WriteTxCache stores a not-yet-finalized transaction (confirmed in a
// block still subject to reorg, or sitting in the mempool) along with its
// resolved inputs cache.
func (c *Cursor) WriteTxCache(v *tx.TxVerifiable) error {
	return c.batch.Put(nsKey(nsTxCache, v.TxHash[:]), encodeVerifiable(v))
}

// RemoveFromTxCache deletes a transaction from the tx_cache table, called
// once it has been finalized into tx_index or dropped from the mempool.
func (c *Cursor) RemoveFromTxCache(hash types.Hash) error {
	return c.batch.Delete(nsKey(nsTxCache, hash[:]))
}

// WriteTx finalizes a transaction into the permanent tx_index table.
func (c *Cursor) WriteTx(r *tx.TxRecoded) error {
	return c.batch.Put(nsKey(nsTxIndex, r.TxHash[:]), encodeRecoded(r))
}

// WriteTxHeight records the height of a finalized transaction's block.
func (c *Cursor) WriteTxHeight(hash types.Hash, height uint32) error {
	var v [4]byte
	binary.LittleEndian.PutUint32(v[:], height)
	return c.batch.Put(nsKey(nsTxHeight, hash[:]), v[:])
}

// WriteTxIndex records the set of transaction hashes contained in a
// finalized block, keyed by block hash, for get_tx_height-style scans.
func (c *Cursor) WriteTxIndex(blockHash types.Hash, txHashes []types.Hash) error {
	buf := make([]byte, 0, 2+32*len(txHashes))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(txHashes)))
	for _, h := range txHashes {
		buf = append(buf, h[:]...)
	}
	return c.batch.Put(nsKey(nsTxIndex, append([]byte("by-block:"), blockHash[:]...)), buf)
}

// WriteUTXOIndex records a newly created unspent output.
func (c *Cursor) WriteUTXOIndex(txHash types.Hash, vout uint8, out tx.TxOutput) error {
	return c.batch.Put(nsKey(nsUTXOIndex, utxoKey(txHash, vout)), encodeTxOutput(out))
}

// RemoveUTXOIndex deletes a spent output.
func (c *Cursor) RemoveUTXOIndex(txHash types.Hash, vout uint8) error {
	return c.batch.Delete(nsKey(nsUTXOIndex, utxoKey(txHash, vout)))
}

func addrIndexKey(addr types.Address, txHash types.Hash, vout uint8) []byte {
	key := make([]byte, 0, len(addr)+33)
	key = append(key, addr[:]...)
	key = append(key, txHash[:]...)
	key = append(key, vout)
	return key
}

// WriteAddrIndex records that an address owns the given output, so its
// unspent outputs can be scanned without a full table walk.
func (c *Cursor) WriteAddrIndex(addr types.Address, txHash types.Hash, vout uint8) error {
	return c.batch.Put(nsKey(nsAddrIndex, addrIndexKey(addr, txHash, vout)), []byte{1})
}

// RemoveAddrIndex deletes an address-ownership record for a spent output.
func (c *Cursor) RemoveAddrIndex(addr types.Address, txHash types.Hash, vout uint8) error {
	return c.batch.Delete(nsKey(nsAddrIndex, addrIndexKey(addr, txHash, vout)))
}

// WriteAccountState stores an opaque, caller-serialized account record
// (see internal/wallet for the binary layout).
func (c *Cursor) WriteAccountState(key []byte, value []byte) error {
	return c.batch.Put(nsKey(nsAccountState, key), value)
}

// WriteMovement stores a finalized balance movement record.
func (c *Cursor) WriteMovement(key []byte, value []byte) error {
	return c.batch.Put(nsKey(nsMovement, key), value)
}

// WriteTempMovement stores an unconfirmed balance movement, pending
// promotion to Movement once its block is finalized.
func (c *Cursor) WriteTempMovement(key []byte, value []byte) error {
	return c.batch.Put(nsKey(nsTempMovement, key), value)
}

// RemoveTempMovement deletes a temp_movement record, called once it has
// been promoted to a permanent movement record (or its transaction was
// reverted).
func (c *Cursor) RemoveTempMovement(key []byte) error {
	return c.batch.Delete(nsKey(nsTempMovement, key))
}

// Commit flushes all buffered writes atomically.
func (c *Cursor) Commit() error {
	return c.batch.Commit()
}
