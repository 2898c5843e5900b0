package state

import (
	"time"

	"github.com/fastusdc/cctp-relayer/internal/db"
	"github.com/fastusdc/cctp-relayer/internal/types"
	"gorm.io/gorm"
)

/*
SaveTransaction
upserts the row for (chain, txHash); repeated deliveries of the same event
update timestamps only, keeping the operation idempotent
*/
func (s *State) SaveTransaction(tx *db.Transaction) (created bool, err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	existing, err := s.queryTransaction(tx.Chain, tx.TxHash)
	if err != nil && err != gorm.ErrRecordNotFound {
		return false, err
	}
	if err == nil {
		tx.ID = existing.ID
		tx.CreatedAt = existing.CreatedAt
		created = false
	} else {
		tx.CreatedAt = time.Now()
		created = true
	}
	tx.UpdatedAt = time.Now()

	if err := s.dbm.GetRelayerDB().Save(tx).Error; err != nil {
		return false, err
	}
	return created, nil
}

func (s *State) GetTransaction(chain, txHash string) (*db.Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	return s.queryTransaction(chain, txHash)
}

/*
MarkTransactionReorged
flips the row to REORGED and records the removal for auditing; returns the
updated row so the caller can queue a retraction
*/
func (s *State) MarkTransactionReorged(chain, txHash string) (*db.Transaction, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx, err := s.queryTransaction(chain, txHash)
	if err != nil {
		return nil, err
	}
	if tx.Status == types.TxStatusReorged {
		return tx, nil
	}
	tx.Status = types.TxStatusReorged
	tx.UpdatedAt = time.Now()
	if err := s.dbm.GetRelayerDB().Save(tx).Error; err != nil {
		return nil, err
	}

	removed := &db.RemovedTx{
		Chain:       chain,
		TxHash:      txHash,
		BlockHash:   tx.BlockHash,
		BlockNumber: tx.BlockNumber,
		Amount:      tx.Amount,
		CreatedAt:   time.Now(),
	}
	if err := s.dbm.GetRelayerDB().Create(removed).Error; err != nil {
		return nil, err
	}
	return tx, nil
}

// GetDueTransactions returns CONFIRMED rows whose confirmation height has
// been reached and which have no submission besides a cancelled one. A
// FAILED submission is terminal, the conflicting evidence will never be
// accepted, so those rows must not come due again.
func (s *State) GetDueTransactions(chain string, height uint64) ([]*db.Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	var txs []*db.Transaction
	err := s.dbm.GetRelayerDB().
		Where("chain = ? AND status = ? AND confirmation_block <= ?", chain, types.TxStatusConfirmed, height).
		Where("tx_hash NOT IN (?)", s.dbm.GetRelayerDB().
			Model(&db.Submission{}).
			Select("tx_hash").
			Where("reorged = ? AND submission_status <> ?", false, types.SubmissionCancelled)).
		Order("block_number asc").
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// GetBlockSums aggregates the risk-free amount per block over
// [fromBlock, toBlock], used to rebuild a chain window after backfill or
// restart. Every block in the range gets an entry, zero when no transaction
// landed in it, so stale entries cannot survive a rebuild.
func (s *State) GetBlockSums(chain string, fromBlock, toBlock uint64) ([]types.BlockSum, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	if toBlock < fromBlock {
		return nil, nil
	}

	var sums []types.BlockSum
	err := s.dbm.GetRelayerDB().
		Model(&db.Transaction{}).
		Select("block_number as block, sum(amount) as sum").
		Where("chain = ? AND status = ? AND block_number >= ? AND block_number <= ? AND (risks_identified = '' OR risks_identified IS NULL)",
			chain, types.TxStatusConfirmed, fromBlock, toBlock).
		Group("block_number").
		Order("block_number asc").
		Scan(&sums).Error
	if err != nil {
		return nil, err
	}

	filled := make([]types.BlockSum, 0, toBlock-fromBlock+1)
	i := 0
	for block := fromBlock; block <= toBlock; block++ {
		var sum uint64
		if i < len(sums) && sums[i].Block == block {
			sum = sums[i].Sum
			i++
		}
		filled = append(filled, types.BlockSum{Block: block, Sum: sum})
	}
	return filled, nil
}

// DeleteTransaction removes a row confirmed to target a non-forwarding
// account, discovered by the unknown-recipient sweep.
func (s *State) DeleteTransaction(chain, txHash string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	return s.dbm.GetRelayerDB().
		Where("chain = ? AND tx_hash = ?", chain, txHash).
		Delete(&db.Transaction{}).Error
}

// GetTransactionByHash looks a transaction up by hash alone; submission rows
// carry no chain, and hashes do not collide across chains in practice.
func (s *State) GetTransactionByHash(txHash string) (*db.Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	var tx db.Transaction
	if err := s.dbm.GetRelayerDB().Where("tx_hash = ?", txHash).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *State) GetTransactionsSince(since time.Time, limit int) ([]*db.Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	var txs []*db.Transaction
	err := s.dbm.GetRelayerDB().
		Where("updated_at > ?", since).
		Order("updated_at asc").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

func (s *State) GetRemovedSince(since time.Time, limit int) ([]*db.RemovedTx, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	var removed []*db.RemovedTx
	err := s.dbm.GetRelayerDB().
		Where("created_at > ?", since).
		Order("created_at asc").
		Limit(limit).
		Find(&removed).Error
	return removed, err
}

func (s *State) queryTransaction(chain, txHash string) (*db.Transaction, error) {
	var tx db.Transaction
	if err := s.dbm.GetRelayerDB().Where("chain = ? AND tx_hash = ?", chain, txHash).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}
