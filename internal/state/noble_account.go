package state

import (
	"time"

	"github.com/fastusdc/cctp-relayer/internal/db"
	"github.com/fastusdc/cctp-relayer/internal/types"
	"gorm.io/gorm"
)

// GetNobleAccount returns the cached resolution for a noble address, or
// gorm.ErrRecordNotFound when it has never been looked up.
func (s *State) GetNobleAccount(nobleAddress string) (*db.NobleAccount, error) {
	s.accountMu.RLock()
	defer s.accountMu.RUnlock()

	var acc db.NobleAccount
	if err := s.dbm.GetCacheDB().Where("noble_address = ?", nobleAddress).First(&acc).Error; err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *State) SaveNobleAccount(acc *db.NobleAccount) error {
	s.accountMu.Lock()
	defer s.accountMu.Unlock()

	var existing db.NobleAccount
	err := s.dbm.GetCacheDB().Where("noble_address = ?", acc.NobleAddress).First(&existing).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return err
	}
	if err == nil {
		acc.ID = existing.ID
	}
	acc.UpdatedAt = time.Now()
	return s.dbm.GetCacheDB().Save(acc).Error
}

// GetUnknownRecipientTransactions returns rows whose forwarding address is
// still the unknown sentinel and were observed after the cutoff, so a late
// forwarding-account registration can patch them in place.
func (s *State) GetUnknownRecipientTransactions(cutoff time.Time) ([]*db.Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	var txs []*db.Transaction
	err := s.dbm.GetRelayerDB().
		Where("forwarding_address = ? AND created_at > ?", types.UnknownForwardingAccount, cutoff).
		Find(&txs).Error
	return txs, err
}
