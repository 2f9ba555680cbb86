// Package chain wires Tables (permanent storage), Confirmed (the
// above-root fork DAG) and Unconfirmed (the mempool) into the single
// entry point the rest of the node talks to. Grounded on
// original_source/src/chain/mod.rs's Chain struct and its two impl
// blocks.
package chain

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/confirmed"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus/generate"
	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/mempool"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/internal/wallet"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// MinConfirmations is the fewest best-chain blocks that stay cached in
// Confirmed after a finalization pass, matching
// confirmed.truncate_old_blocks(1, 50).
const MinConfirmations = 1

// MaxCacheSize is how many best-chain blocks Confirmed holds before the
// oldest ones finalize into Tables.
const MaxCacheSize = 50

const sidecarFileName = "confirmed_root"

// Chain is the single object the rest of the node drives: every block and
// transaction that reaches consensus acceptance flows through it, and
// every balance/UTXO/history query answers from it.
type Chain struct {
	mu sync.Mutex

	Tables      *storage.Tables
	Confirmed   *confirmed.Builder
	Unconfirmed *mempool.Pool
	Account     *wallet.AccountBuilder

	difficulty      *consensus.DifficultyBuilder
	blockReward     uint64
	halvingInterval uint64

	genMu        sync.Mutex
	gen          *generate.Builder
	coinbaseAddr types.Address
}

// retargetParamsFromConfig converts a genesis's per-flavor block-time
// parameters into the shape internal/consensus walks ancestors with.
func retargetParamsFromConfig(flavors map[uint8]config.BlockTimeParams) map[block.BlockFlag]consensus.RetargetParams {
	out := make(map[block.BlockFlag]consensus.RetargetParams, len(flavors))
	for flag, p := range flavors {
		out[block.BlockFlag(flag)] = consensus.RetargetParams{N: p.N, T: int64(p.T), K: int64(p.K)}
	}
	return out
}

// rewardAt halves blockReward every halvingInterval blocks; a zero interval
// disables halving and keeps a flat issuance schedule, matching
// config.ConsensusRules.HalvingInterval's "0 = no halving" contract.
func rewardAt(blockReward, halvingInterval uint64, height uint32) uint64 {
	if halvingInterval == 0 {
		return blockReward
	}
	halvings := uint64(height) / halvingInterval
	if halvings >= 64 {
		return 0
	}
	return blockReward >> halvings
}

// New opens (or resumes) a chain rooted at dir. seed is the wallet's
// BIP-32 root secret; it must be non-nil the first time a directory is
// opened (a fresh database has no account bank to restore) and may be
// nil afterwards for a read-only (watch-only) node. Restored mempool
// transactions whose Deadline is earlier than deadline are dropped.
// consensusRules supplies the per-flavor LWMA-2 retarget windows and the
// issuance schedule new blocks are checked and generated against.
func New(dir string, opts storage.TableOptions, seed []byte, deadline uint32, consensusRules config.ConsensusRules) (*Chain, error) {
	tables, err := storage.OpenTables(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open tables: %w", err)
	}

	sidecarPath := filepath.Join(dir, sidecarFileName)
	var confirmedBuilder *confirmed.Builder
	if tables.Initialized {
		confirmedBuilder = confirmed.NewBuilder(confirmed.GenesisPreviousHash, sidecarPath)
	} else {
		rootHash, err := confirmed.RestoreFromFile(sidecarPath)
		if err != nil {
			return nil, fmt.Errorf("restore confirmed root: %w", err)
		}
		confirmedBuilder = confirmed.NewBuilder(rootHash, sidecarPath)
	}
	bestChain := confirmedBuilder.BestChain()

	var pool *mempool.Pool
	if tables.Initialized {
		pool = mempool.New()
	} else {
		confirmedTxs := make(map[types.Hash]struct{})
		for _, blockHash := range bestChain {
			blk, ok := confirmedBuilder.GetBlockRef(blockHash)
			if !ok {
				continue
			}
			for _, h := range blk.TxsHash {
				confirmedTxs[h] = struct{}{}
			}
		}
		pool, err = mempool.RestoreFromTxCache(tables, confirmedTxs)
		if err != nil {
			return nil, fmt.Errorf("restore mempool: %w", err)
		}
		pool.RemoveExpiredTxs(deadline)
	}

	var account *wallet.AccountBuilder
	if tables.Initialized {
		if seed == nil {
			return nil, fmt.Errorf("account init requires a wallet seed")
		}
		cur, err := tables.Cursor()
		if err != nil {
			return nil, fmt.Errorf("account init: %w", err)
		}
		account, err = wallet.NewAccountBuilder(seed, cur)
		if err != nil {
			return nil, fmt.Errorf("account init: %w", err)
		}
		if err := cur.Commit(); err != nil {
			return nil, fmt.Errorf("account init: %w", err)
		}
	} else {
		account, err = wallet.RestoreAccountBuilder(tables, seed)
		if err != nil {
			return nil, fmt.Errorf("restore account builder: %w", err)
		}
	}

	return &Chain{
		Tables:          tables,
		Confirmed:       confirmedBuilder,
		Unconfirmed:     pool,
		Account:         account,
		difficulty:      consensus.NewDifficultyBuilder(retargetParamsFromConfig(consensusRules.Flavors)),
		blockReward:     consensusRules.BlockReward,
		halvingInterval: consensusRules.HalvingInterval,
	}, nil
}

// AttachGenerator wires gen into the chain so that every block which
// extends the best chain refreshes the worker pool's retarget and reward
// before its next generation attempt. Call once during startup before
// generation begins; leaving it unattached keeps the node observe-only.
func (c *Chain) AttachGenerator(gen *generate.Builder) {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	c.gen = gen
}

// SetCoinbaseAddress sets the address generation workers pay block rewards
// to, per the node's own generate.coinbase setting — independent of any
// wallet account, since a node may mine to an address it doesn't hold the
// keys for. Call before AttachGenerator.
func (c *Chain) SetCoinbaseAddress(addr types.Address) {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	c.coinbaseAddr = addr
}

// CoinbaseAddress returns the address set by SetCoinbaseAddress. Satisfies
// generate.ChainView.
func (c *Chain) CoinbaseAddress() types.Address {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.coinbaseAddr
}

// MatureUnspent returns every output a visible account's listening
// addresses could currently prove unspent, for the PoS worker to filter by
// coin ID, address version and maturity itself. Satisfies
// generate.ChainView. Must only be called with c.mu already held (it is
// reached exclusively through refreshGenerator, from within PushNewBlock).
func (c *Chain) MatureUnspent(newHeight uint32) []generate.UnspentCandidate {
	var out []generate.UnspentCandidate
	for _, addr := range c.Account.ListenAddresses() {
		_ = c.Tables.ForEachUnspentByAddr(addr, func(txHash types.Hash, vout uint8, output tx.TxOutput) error {
			input := tx.TxInput{PrevTxHash: txHash, Vout: vout}
			unused, err := c.isUnusedInputLocked(input, types.Hash{})
			if err != nil || !unused {
				return nil
			}
			height, isConfirmed, err := c.GetTxHeight(txHash)
			if err != nil || !isConfirmed || height >= newHeight {
				return nil
			}
			out = append(out, generate.UnspentCandidate{Input: input, Output: output, ConfirmHeight: height})
			return nil
		})
	}
	return out
}

// refreshGenerator reorients the attached worker pool around tipHash: a
// fresh per-flavor retarget and reward computed off the (now-fixed)
// DifficultyBuilder, and an up-to-date stakeable-output view. No-op if no
// generator has been attached. Called with c.mu already held.
func (c *Chain) refreshGenerator(tipHash types.Hash) {
	c.genMu.Lock()
	gen := c.gen
	c.genMu.Unlock()
	if gen == nil {
		return
	}

	tip, ok := c.Confirmed.GetBlockRef(tipHash)
	if !ok {
		return
	}

	reward := rewardAt(c.blockReward, c.halvingInterval, tip.Height+1)
	bits := func(flag block.BlockFlag) uint32 {
		next, err := c.difficulty.CalcNextBits(tipHash, flag, c)
		if err != nil {
			log.Chain.Warn().Err(err).Str("flag", flag.String()).Msg("calc next bits failed, leaving worker bits unchanged")
			return tip.Header.Bits
		}
		return next
	}
	bias := func(flag block.BlockFlag) float32 {
		next, err := c.difficulty.CalcNextBias(tipHash, flag, c)
		if err != nil {
			log.Chain.Warn().Err(err).Str("flag", flag.String()).Msg("calc next bias failed, defaulting to 1.0")
			return 1.0
		}
		return next
	}

	gen.UpdateByNewBlock(c, tip, reward, bits, bias)
}

// nonCoinbaseInputs returns the subset of inputs that reference a real
// previous output, in order — the only ones a TxVerifiable's InputsCache
// has entries for (NewTxVerifiable enforces the 1:1 correspondence).
func nonCoinbaseInputs(inputs []tx.TxInput) []tx.TxInput {
	out := make([]tx.TxInput, 0, len(inputs))
	for _, in := range inputs {
		if !in.IsCoinbase() {
			out = append(out, in)
		}
	}
	return out
}

// PushNewBlock accepts a structurally- and consensus-validated block (and
// its resolved transactions) into the chain: it is written to Tables
// regardless of whether it ends up on the best chain, folded into the
// Confirmed fork DAG, and any resulting reorg is reconciled against the
// mempool before finalization runs.
func (c *Chain) PushNewBlock(blk block.Block, txs []*tx.TxVerifiable) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := c.Tables.Cursor()
	if err != nil {
		return fmt.Errorf("push block: %w", err)
	}

	if err := cur.WriteBlock(&blk); err != nil {
		return fmt.Errorf("push block: write block: %w", err)
	}
	for _, t := range txs {
		if err := cur.WriteTxCache(t); err != nil {
			return fmt.Errorf("push block: write tx_cache: %w", err)
		}
	}

	reverted, applied, err := c.Confirmed.PushNewBlock(blk)
	if err != nil {
		return fmt.Errorf("push block: %w", err)
	}

	// Revert the losing fork's non-coinbase transactions back into the
	// mempool, newest block first, and within each block from its last
	// transaction back to index 1 (mirrors txs_hash.skip(1).rev()).
	for _, blockHash := range reverted {
		fork, ok := c.Confirmed.GetBlockRef(blockHash)
		if !ok {
			continue
		}
		if fork.Flag == block.Genesis {
			return fmt.Errorf("push block: refusing to revert genesis block %s", blockHash)
		}
		for i := len(fork.TxsHash) - 1; i >= 1; i-- {
			txHash := fork.TxsHash[i]
			verified, err := c.Tables.ReadTxCache(txHash)
			if err != nil {
				return fmt.Errorf("push block: revert tx %s: %w", txHash, err)
			}
			if _, err := c.Unconfirmed.PushNewTx(verified); err != nil {
				log.Chain.Warn().Err(err).Str("tx", txHash.String()).Msg("reverted tx could not re-enter mempool")
			}
		}
	}

	// Drop the winning fork's non-coinbase transactions from the mempool,
	// oldest applied block first.
	for i := len(applied) - 1; i >= 0; i-- {
		main, ok := c.Confirmed.GetBlockRef(applied[i])
		if !ok {
			continue
		}
		if len(main.TxsHash) > 1 {
			c.Unconfirmed.RemoveMany(main.TxsHash[1:])
		}
	}

	if err := c.finalize(cur); err != nil {
		return err
	}

	// applied is newest-first; its first entry is the new best tip
	// whenever this push changed the best chain at all.
	if len(applied) > 0 {
		c.refreshGenerator(applied[0])
	}

	return cur.Commit()
}

// finalize moves every block Confirmed has decided is irreversible into
// Tables: its UTXOs, optional address/tx indexes, and account balances.
func (c *Chain) finalize(cur *storage.Cursor) error {
	finalizedBlocks := c.Confirmed.TruncateOldBlocks(MinConfirmations, MaxCacheSize)
	fullIndex := c.Tables.AddrIndexEnabled()
	trackEveryTx := c.Tables.TxIndexEnabled()

	for _, fb := range finalizedBlocks {
		blk := fb.Block
		blockHash := blk.Hash()
		if err := cur.WriteBlockIndex(blk.Height, blockHash); err != nil {
			return fmt.Errorf("finalize block %s: %w", blockHash, err)
		}

		indexedTxs := make([]types.Hash, 0, len(blk.TxsHash))
		for _, txHash := range blk.TxsHash {
			verified, err := c.Tables.ReadTxCache(txHash)
			if err != nil {
				return fmt.Errorf("finalize block %s: read tx_cache %s: %w", blockHash, txHash, err)
			}

			isAccountTx := false
			for vout, out := range verified.Body.Outputs {
				if err := cur.WriteUTXOIndex(txHash, uint8(vout), out); err != nil {
					return fmt.Errorf("finalize block %s: write utxo %s:%d: %w", blockHash, txHash, vout, err)
				}
				if fullIndex || c.Account.IsAccountAddress(out.Address) {
					isAccountTx = true
					if err := cur.WriteAddrIndex(out.Address, txHash, uint8(vout)); err != nil {
						return fmt.Errorf("finalize block %s: write addr_index: %w", blockHash, err)
					}
				}
			}

			spent := nonCoinbaseInputs(verified.Body.Inputs)
			for i, in := range spent {
				prevOut := verified.InputsCache[i]
				if err := cur.RemoveUTXOIndex(in.PrevTxHash, in.Vout); err != nil {
					return fmt.Errorf("finalize block %s: remove utxo %s:%d: %w", blockHash, in.PrevTxHash, in.Vout, err)
				}
				if fullIndex || c.Account.IsAccountAddress(prevOut.Address) {
					isAccountTx = true
					if err := cur.RemoveAddrIndex(prevOut.Address, in.PrevTxHash, in.Vout); err != nil {
						return fmt.Errorf("finalize block %s: remove addr_index: %w", blockHash, err)
					}
				}
			}

			if err := cur.RemoveFromTxCache(txHash); err != nil {
				return fmt.Errorf("finalize block %s: remove tx_cache %s: %w", blockHash, txHash, err)
			}
			if err := cur.WriteTxHeight(txHash, blk.Height); err != nil {
				return fmt.Errorf("finalize block %s: write tx_height %s: %w", blockHash, txHash, err)
			}

			if trackEveryTx || isAccountTx {
				indexedTxs = append(indexedTxs, txHash)
				recoded := verified.ConvertRecoded()
				if err := cur.WriteTx(recoded); err != nil {
					return fmt.Errorf("finalize block %s: write tx_index %s: %w", blockHash, txHash, err)
				}
			}
		}

		if err := cur.WriteTxIndex(blockHash, indexedTxs); err != nil {
			return fmt.Errorf("finalize block %s: write tx_index entry: %w", blockHash, err)
		}
		if err := c.Account.FinalizeBlock(blk.Height, blk.TxsHash, c.Tables, cur); err != nil {
			return fmt.Errorf("finalize block %s: account: %w", blockHash, err)
		}
	}

	return nil
}

// PushUnconfirmed admits a resolved transaction into the mempool: it must
// not already be pool-resident, and any pool transaction spending the
// same input as verified is evicted (last submission wins a conflict).
func (c *Chain) PushUnconfirmed(verified *tx.TxVerifiable) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Unconfirmed.Has(verified.TxHash) {
		return fmt.Errorf("tx %s is already unconfirmed", verified.TxHash)
	}

	cur, err := c.Tables.Cursor()
	if err != nil {
		return fmt.Errorf("push unconfirmed: %w", err)
	}

	c.Unconfirmed.RemoveByDuplicateInputs(verified.Body.Inputs)

	if _, err := c.Unconfirmed.PushNewTx(verified); err != nil {
		return fmt.Errorf("push unconfirmed: %w", err)
	}
	if err := cur.WriteTxCache(verified); err != nil {
		return fmt.Errorf("push unconfirmed: %w", err)
	}
	if err := c.Account.UpdateByTx(verified, cur); err != nil {
		return fmt.Errorf("push unconfirmed: account update: %w", err)
	}

	return cur.Commit()
}

// GetBlock reads a block's metadata by hash, checking Tables (finalized)
// then Confirmed (above-root but not yet finalized). Returns (nil, nil)
// if hash is unknown to both.
func (c *Chain) GetBlock(hash types.Hash) (*block.Block, error) {
	blk, err := c.Tables.ReadBlock(hash)
	if err == nil {
		return blk, nil
	}
	if b, ok := c.Confirmed.GetBlockRef(hash); ok {
		return b, nil
	}
	return nil, nil
}

// GetBestBlockRef returns the current best chain's tip block.
func (c *Chain) GetBestBlockRef() (*block.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bestChain := c.Confirmed.BestChain()
	if len(bestChain) == 0 {
		return nil, false
	}
	return c.Confirmed.GetBlockRef(bestChain[0])
}

// GetTx looks up a transaction by hash across every tier it could still
// be recorded in: the permanent tx_index (only populated for account
// transactions unless TxIndexEnabled), then tx_cache (confirmed-but-not-
// finalized, or mempool-resident). Returns (nil, nil) if hash is unknown
// everywhere.
func (c *Chain) GetTx(hash types.Hash) (*tx.TxRecoded, error) {
	if recoded, err := c.Tables.ReadTx(hash); err == nil {
		return recoded, nil
	}
	if verified, err := c.Tables.ReadTxCache(hash); err == nil {
		return verified.ConvertRecoded(), nil
	}
	return nil, nil
}

// GetTxHeight reports the height of the block a transaction was confirmed
// in. The second return is false if hash is only mempool-resident (valid
// but not yet in any block); an error means hash is unknown entirely.
func (c *Chain) GetTxHeight(hash types.Hash) (height uint32, confirmed bool, err error) {
	if h, readErr := c.Tables.ReadTxHeight(hash); readErr == nil {
		return h, true, nil
	}

	for _, blockHash := range c.Confirmed.BestChain() {
		blk, ok := c.Confirmed.GetBlockRef(blockHash)
		if !ok {
			continue
		}
		for _, h := range blk.TxsHash {
			if h == hash {
				return blk.Height, true, nil
			}
		}
	}

	if c.Unconfirmed.Has(hash) {
		return 0, false, nil
	}
	return 0, false, fmt.Errorf("tx %s height not found on chain", hash)
}

// GetOutputOfInput resolves the previous output an input references,
// checking Tables, then Confirmed, then Unconfirmed in that order — each
// later tier's opinion overrides an earlier one, so a spend recorded only
// in Confirmed correctly shadows a stale Tables entry, and a further
// mempool spend shadows that.
func (c *Chain) GetOutputOfInput(input tx.TxInput) (*tx.TxOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getOutputOfInputLocked(input)
}

func (c *Chain) getOutputOfInputLocked(input tx.TxInput) (*tx.TxOutput, error) {
	var output *tx.TxOutput
	if out, ok, err := c.Tables.ReadUTXOIndex(input.PrevTxHash, input.Vout); err != nil {
		return nil, fmt.Errorf("get output of input: %w", err)
	} else if ok {
		output = &out
	}

	if out, determined, err := c.Confirmed.FindOutputOfInput(input, c.Tables); err != nil {
		return nil, fmt.Errorf("get output of input: %w", err)
	} else if determined {
		output = out
	}

	if out, determined, err := c.Unconfirmed.FindOutputOfInput(input); err != nil {
		return nil, fmt.Errorf("get output of input: %w", err)
	} else if determined {
		output = out
	}

	return output, nil
}

// IsUnusedInput reports whether input is still spendable, checking Tables,
// Confirmed and Unconfirmed (in that order) and excluding exceptHash from
// consideration — used when validating a transaction against inputs it
// may itself already occupy a pending record for.
func (c *Chain) IsUnusedInput(input tx.TxInput, exceptHash types.Hash) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isUnusedInputLocked(input, exceptHash)
}

func (c *Chain) isUnusedInputLocked(input tx.TxInput, exceptHash types.Hash) (bool, error) {
	_, tablesHasIt, err := c.Tables.ReadUTXOIndex(input.PrevTxHash, input.Vout)
	if err != nil {
		return false, fmt.Errorf("is unused input: %w", err)
	}
	unused := tablesHasIt

	if confirmedUnused, determined, err := c.Confirmed.IsUnusedInput(input, exceptHash, c.Tables); err != nil {
		return false, fmt.Errorf("is unused input: %w", err)
	} else if determined {
		unused = confirmedUnused
	}

	if poolUnused, determined := c.Unconfirmed.IsUnusedInput(input, exceptHash); determined {
		unused = poolUnused
	}

	return unused, nil
}

// GetAccountAddress returns a receiving address for accountID, optionally
// rotating it to a fresh one.
func (c *Chain) GetAccountAddress(accountID uint32, newAddr bool) (types.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	account, err := c.Account.GetAccountRef(accountID)
	if err != nil {
		return types.Address{}, fmt.Errorf("get account address: %w", err)
	}
	cur, err := c.Tables.Cursor()
	if err != nil {
		return types.Address{}, fmt.Errorf("get account address: %w", err)
	}
	addr, err := account.GetNewAddress(newAddr, cur)
	if err != nil {
		return types.Address{}, fmt.Errorf("get account address: %w", err)
	}
	if err := cur.Commit(); err != nil {
		return types.Address{}, fmt.Errorf("get account address: %w", err)
	}
	return addr, nil
}

// GetAccountBalance returns accountID's balance: the permanently finalized
// total, plus every not-yet-finalized movement (blocks still in the
// Confirmed DAG, and mempool-resident transactions) recorded against it in
// temp_movement. A finalized movement is promoted out of temp_movement by
// Account.FinalizeBlock, so there is no double count.
func (c *Chain) GetAccountBalance(accountID uint32) (wallet.Balances, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	account, err := c.Account.GetAccountRef(accountID)
	if err != nil {
		return nil, fmt.Errorf("get account balance: %w", err)
	}
	balances := append(wallet.Balances(nil), account.Balance...)

	err = c.Tables.ForEachTempMovement(func(_ types.Hash, raw []byte) error {
		movement, err := wallet.MovementFromBytes(raw)
		if err != nil {
			return err
		}
		for _, credit := range movement.Incoming {
			if credit.AccountID != accountID {
				continue
			}
			for _, bal := range credit.Balances {
				balances.Add(bal.CoinID, bal.Amount)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get account balance: %w", err)
	}

	balances.Compaction()
	return balances, nil
}

// UnspentOutput pairs a spendable output with the outpoint that produced
// it, as returned by GetAccountUnspentOutputs.
type UnspentOutput struct {
	TxHash types.Hash
	Vout   uint8
	Output tx.TxOutput
}

// GetAccountUnspentOutputs lists every output this node can currently
// prove is unspent and belongs to one of accountID's listening addresses:
// finalized candidates come from addr_index (populated for account
// addresses regardless of the AddrIndex config flag), each one confirmed
// still-unspent against Confirmed and Unconfirmed before inclusion.
func (c *Chain) GetAccountUnspentOutputs(accountID uint32) ([]UnspentOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	account, err := c.Account.GetAccountRef(accountID)
	if err != nil {
		return nil, fmt.Errorf("get account unspent outputs: %w", err)
	}

	var out []UnspentOutput
	addrs := append(append([]types.Address(nil), account.ListenOuter...), account.ListenInner...)
	for _, addr := range addrs {
		err := c.Tables.ForEachUnspentByAddr(addr, func(txHash types.Hash, vout uint8, output tx.TxOutput) error {
			input := tx.TxInput{PrevTxHash: txHash, Vout: vout}
			unused, detErr := c.isUnusedInputLocked(input, types.Hash{})
			if detErr != nil {
				return detErr
			}
			if unused {
				out = append(out, UnspentOutput{TxHash: txHash, Vout: vout, Output: output})
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("get account unspent outputs: %w", err)
		}
	}
	return out, nil
}

// GetMovementHistory returns every balance movement (finalized and
// pending) touching accountID, used for transaction-history views.
func (c *Chain) GetMovementHistory(accountID uint32) ([]*wallet.Movement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*wallet.Movement
	collect := func(_ types.Hash, raw []byte) error {
		movement, err := wallet.MovementFromBytes(raw)
		if err != nil {
			return err
		}
		for _, credit := range movement.Incoming {
			if credit.AccountID == accountID {
				out = append(out, movement)
				return nil
			}
		}
		return nil
	}
	if err := c.Tables.ForEachMovement(collect); err != nil {
		return nil, fmt.Errorf("get movement history: %w", err)
	}
	if err := c.Tables.ForEachTempMovement(collect); err != nil {
		return nil, fmt.Errorf("get movement history: %w", err)
	}
	return out, nil
}

// CreateTransfer builds an unsigned transfer spending accountID's native
// coin balance: it gathers spendable candidates via
// GetAccountUnspentOutputs, runs coin selection over them, and sends
// change back to a freshly rotated address on the same account. The
// returned inputsCache lines up with body.Inputs and is what
// tx.NewTxVerifiable needs to check the spend; signing each input with
// accountID's private key material is left to the caller.
func (c *Chain) CreateTransfer(accountID uint32, toAddr types.Address, amount uint64, gasAmount int64, gasPrice uint64, deadline uint32) (*tx.TxBody, []tx.TxOutput, error) {
	unspent, err := c.GetAccountUnspentOutputs(accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("create transfer: %w", err)
	}

	candidates := make([]wallet.UTXO, len(unspent))
	for i, u := range unspent {
		candidates[i] = wallet.UTXO{TxHash: u.TxHash, Vout: u.Vout, CoinID: u.Output.CoinID, Value: u.Output.Amount}
	}

	changeAddr, err := c.GetAccountAddress(accountID, true)
	if err != nil {
		return nil, nil, fmt.Errorf("create transfer: %w", err)
	}

	body, inputsCache, err := wallet.BuildTransferBody(candidates, toAddr, changeAddr, amount, gasAmount, gasPrice, deadline)
	if err != nil {
		return nil, nil, fmt.Errorf("create transfer: %w", err)
	}
	return body, inputsCache, nil
}
