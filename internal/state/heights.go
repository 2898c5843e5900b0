package state

import (
	"time"

	"github.com/fastusdc/cctp-relayer/internal/db"
	"gorm.io/gorm"
)

func (s *State) GetChainHeight(chain string) (uint64, error) {
	s.heightMu.RLock()
	defer s.heightMu.RUnlock()

	var h db.ChainHeight
	if err := s.dbm.GetCacheDB().Where("chain = ?", chain).First(&h).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, err
	}
	return h.LastHeight, nil
}

func (s *State) SetChainHeight(chain string, height uint64) error {
	s.heightMu.Lock()
	defer s.heightMu.Unlock()

	var h db.ChainHeight
	err := s.dbm.GetCacheDB().Where("chain = ?", chain).First(&h).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return err
	}
	h.Chain = chain
	h.LastHeight = height
	h.UpdatedAt = time.Now()
	return s.dbm.GetCacheDB().Save(&h).Error
}

func (s *State) GetLastOfferID() (string, error) {
	s.heightMu.RLock()
	defer s.heightMu.RUnlock()

	var ns db.NodeState
	if err := s.dbm.GetRelayerDB().First(&ns).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", err
	}
	return ns.LastOfferID, nil
}

func (s *State) SetLastOfferID(offerID string) error {
	s.heightMu.Lock()
	defer s.heightMu.Unlock()

	var ns db.NodeState
	err := s.dbm.GetRelayerDB().First(&ns).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return err
	}
	ns.LastOfferID = offerID
	ns.UpdatedAt = time.Now()
	return s.dbm.GetRelayerDB().Save(&ns).Error
}

func (s *State) GetGaugeValue(gauge, chain string) (float64, error) {
	s.gaugeMu.RLock()
	defer s.gaugeMu.RUnlock()

	var g db.GaugeValue
	if err := s.dbm.GetCacheDB().Where("gauge = ? AND chain = ?", gauge, chain).First(&g).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, err
	}
	return g.Value, nil
}

func (s *State) SetGaugeValue(gauge, chain string, value float64) error {
	s.gaugeMu.Lock()
	defer s.gaugeMu.Unlock()

	var g db.GaugeValue
	err := s.dbm.GetCacheDB().Where("gauge = ? AND chain = ?", gauge, chain).First(&g).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return err
	}
	g.Gauge = gauge
	g.Chain = chain
	g.Value = value
	g.UpdatedAt = time.Now()
	return s.dbm.GetCacheDB().Save(&g).Error
}

// AddGaugeValue increments a persisted gauge and returns the new value.
func (s *State) AddGaugeValue(gauge, chain string, delta float64) (float64, error) {
	s.gaugeMu.Lock()
	defer s.gaugeMu.Unlock()

	var g db.GaugeValue
	err := s.dbm.GetCacheDB().Where("gauge = ? AND chain = ?", gauge, chain).First(&g).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return 0, err
	}
	g.Gauge = gauge
	g.Chain = chain
	g.Value += delta
	g.UpdatedAt = time.Now()
	if err := s.dbm.GetCacheDB().Save(&g).Error; err != nil {
		return 0, err
	}
	return g.Value, nil
}
