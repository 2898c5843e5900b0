package state

import (
	"sync"

	"github.com/fastusdc/cctp-relayer/internal/types"
)

// BlockWindow tracks the risk-free transfer sum over the last N observed
// blocks of a chain. Entries are ordered oldest first; advancing past the
// window size evicts from the front.
type BlockWindow struct {
	mu      sync.Mutex
	size    int
	entries []types.BlockSum
}

func NewBlockWindow(size int) *BlockWindow {
	return &BlockWindow{size: size}
}

// AdvanceTo registers a newly scanned block. Blocks at or below the current
// head are ignored so replays during reconnects do not double-count.
func (w *BlockWindow) AdvanceTo(block uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.entries) > 0 && block <= w.entries[len(w.entries)-1].Block {
		return
	}
	w.entries = append(w.entries, types.BlockSum{Block: block})
	if w.size > 0 && len(w.entries) > w.size {
		w.entries = w.entries[len(w.entries)-w.size:]
	}
}

// Add accumulates amount into the entry for block, creating the entry when
// the block has not been registered yet (logs can arrive ahead of the head
// notification). Amounts for blocks that already left the window are dropped.
func (w *BlockWindow) Add(block uint64, amount uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.entries {
		if w.entries[i].Block == block {
			w.entries[i].Sum += amount
			return
		}
	}
	if len(w.entries) > 0 && block < w.entries[0].Block {
		// already evicted
		return
	}

	idx := len(w.entries)
	for i := range w.entries {
		if w.entries[i].Block > block {
			idx = i
			break
		}
	}
	w.entries = append(w.entries, types.BlockSum{})
	copy(w.entries[idx+1:], w.entries[idx:])
	w.entries[idx] = types.BlockSum{Block: block, Sum: amount}
	if w.size > 0 && len(w.entries) > w.size {
		w.entries = w.entries[len(w.entries)-w.size:]
	}
}

// Sub removes amount from the entry for block, used when a transaction is
// reorged out after being counted.
func (w *BlockWindow) Sub(block uint64, amount uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.entries {
		if w.entries[i].Block == block {
			if w.entries[i].Sum >= amount {
				w.entries[i].Sum -= amount
			} else {
				w.entries[i].Sum = 0
			}
			return
		}
	}
}

// Total returns the sum over all blocks currently in the window.
func (w *BlockWindow) Total() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	var total uint64
	for _, e := range w.entries {
		total += e.Sum
	}
	return total
}

// SetEntries replaces the window contents, keeping only the newest size
// entries. Used when rebuilding after a backfill or restart.
func (w *BlockWindow) SetEntries(entries []types.BlockSum) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size > 0 && len(entries) > w.size {
		entries = entries[len(entries)-w.size:]
	}
	w.entries = append([]types.BlockSum(nil), entries...)
}

// Resize updates the window size, evicting oldest entries if needed.
func (w *BlockWindow) Resize(size int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.size = size
	if size > 0 && len(w.entries) > size {
		w.entries = w.entries[len(w.entries)-size:]
	}
}

func (w *BlockWindow) Entries() []types.BlockSum {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]types.BlockSum(nil), w.entries...)
}
