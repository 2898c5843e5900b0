package state

import "sync"

// WatcherAccount holds the destination-chain account identity used to sign
// evidence transactions. Sequence is incremented locally after each broadcast
// and corrected from the chain on mismatch.
type WatcherAccount struct {
	mu            sync.Mutex
	AccountNumber uint64
	sequence      uint64
}

func (a *WatcherAccount) Sequence() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sequence
}

func (a *WatcherAccount) SetSequence(seq uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sequence = seq
}

func (a *WatcherAccount) IncrementSequence() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sequence++
}
