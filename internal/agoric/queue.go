package agoric

import (
	"context"
	"sync"

	"github.com/fastusdc/cctp-relayer/internal/types"
	log "github.com/sirupsen/logrus"
)

type statusSource interface {
	Status(ctx context.Context) (*Status, error)
}

type evidenceSubmitter interface {
	Submit(ctx context.Context, evidence *types.Evidence, risks []string, status *Status) error
}

type queueItem struct {
	evidence *types.Evidence
	risks    []string
}

// SubmissionQueue serializes evidence submission to the destination chain.
// Evidence for a tx hash already waiting in the queue is dropped; the
// expired-submission monitor re-enqueues anything that needs another pass.
type SubmissionQueue struct {
	mu       sync.Mutex
	items    []queueItem
	inQueue  map[string]bool
	draining bool

	status    statusSource
	submitter evidenceSubmitter
}

func NewSubmissionQueue(status statusSource, submitter evidenceSubmitter) *SubmissionQueue {
	return &SubmissionQueue{
		inQueue:   make(map[string]bool),
		status:    status,
		submitter: submitter,
	}
}

// Enqueue adds evidence to the queue and kicks off a drain if one is not
// already running.
func (q *SubmissionQueue) Enqueue(evidence *types.Evidence, risks []string) {
	q.mu.Lock()
	key := evidence.TxHash + "/" + evidence.Status
	if q.inQueue[key] {
		q.mu.Unlock()
		log.Debugf("Evidence for %s already queued, skipping", evidence.TxHash)
		return
	}
	q.inQueue[key] = true
	q.items = append(q.items, queueItem{evidence: evidence, risks: risks})
	start := !q.draining
	if start {
		q.draining = true
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
}

func (q *SubmissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain submits queued evidence one at a time. Node status is read once per
// cycle; when the node is unreachable or syncing the cycle aborts and the
// queued items wait for the next Enqueue.
func (q *SubmissionQueue) drain() {
	ctx := context.Background()
	aborted := false
	defer func() {
		q.mu.Lock()
		// release the guard even when the cycle aborts; a healthy cycle that
		// raced with a late Enqueue restarts for the leftover items
		restart := !aborted && len(q.items) > 0
		if !restart {
			q.draining = false
		}
		q.mu.Unlock()
		if restart {
			go q.drain()
		}
	}()

	status, err := q.status.Status(ctx)
	if err != nil {
		log.Errorf("Failed to query destination status, deferring submissions: %v", err)
		aborted = true
		return
	}
	if status.Syncing {
		log.Warnf("Destination node is syncing at height %d, deferring submissions", status.Height)
		aborted = true
		return
	}

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		if err := q.submitter.Submit(ctx, item.evidence, item.risks, status); err != nil {
			log.Errorf("Failed to submit evidence for %s: %v", item.evidence.TxHash, err)
		}

		q.mu.Lock()
		delete(q.inQueue, item.evidence.TxHash+"/"+item.evidence.Status)
		q.mu.Unlock()
	}
}
