package state

import (
	"sync"
	"time"

	"github.com/fastusdc/cctp-relayer/internal/db"
	log "github.com/sirupsen/logrus"
)

type State struct {
	EventBus *EventBus
	Account  *WatcherAccount

	dbm *db.DatabaseManager

	// Separate mutexes for different sub-modules
	txMu      sync.RWMutex
	accountMu sync.RWMutex
	heightMu  sync.RWMutex
	gaugeMu   sync.RWMutex

	windowsMu sync.RWMutex
	windows   map[string]*BlockWindow

	activityMu   sync.RWMutex
	lastActivity map[string]time.Time
}

// InitializeState reads persisted heights and window sums from the DB so the
// in-memory views survive restarts.
func InitializeState(dbm *db.DatabaseManager) *State {
	s := &State{
		EventBus:     NewEventBus(),
		Account:      &WatcherAccount{},
		dbm:          dbm,
		windows:      make(map[string]*BlockWindow),
		lastActivity: make(map[string]time.Time),
	}

	var heights []db.ChainHeight
	if err := dbm.GetCacheDB().Find(&heights).Error; err != nil {
		log.Warnf("Failed to load chain heights: %v", err)
	}
	for _, h := range heights {
		log.Infof("Restored chain height, chain: %s, height: %d", h.Chain, h.LastHeight)
	}

	return s
}

// Window returns the block window for chain, creating it with the given size
// on first use.
func (s *State) Window(chain string, size int) *BlockWindow {
	s.windowsMu.Lock()
	defer s.windowsMu.Unlock()

	w, ok := s.windows[chain]
	if !ok {
		w = NewBlockWindow(size)
		s.windows[chain] = w
	} else {
		w.Resize(size)
	}
	return w
}

// MarkActivity records that chain produced a block or event just now, used
// for connection staleness detection.
func (s *State) MarkActivity(chain string) {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	s.lastActivity[chain] = time.Now()
}

func (s *State) LastActivity(chain string) time.Time {
	s.activityMu.RLock()
	defer s.activityMu.RUnlock()
	return s.lastActivity[chain]
}
