package agoric

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fastusdc/cctp-relayer/internal/types"
	"github.com/go-errors/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatus struct {
	mu      sync.Mutex
	status  Status
	err     error
	queries int
}

func (f *fakeStatus) Status(ctx context.Context) (*Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	st := f.status
	return &st, nil
}

func (f *fakeStatus) set(status Status, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	f.err = err
}

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []string
}

func (f *fakeSubmitter) Submit(ctx context.Context, evidence *types.Evidence, risks []string, status *Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, evidence.TxHash)
	return nil
}

func (f *fakeSubmitter) hashes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...)
}

func setupQueueTest(t *testing.T) (*fakeStatus, *fakeSubmitter, *SubmissionQueue) {
	status := &fakeStatus{status: Status{Height: 100}}
	submitter := &fakeSubmitter{}
	return status, submitter, NewSubmissionQueue(status, submitter)
}

func confirmedEvidence(txHash string) *types.Evidence {
	return &types.Evidence{TxHash: txHash, Status: types.TxStatusConfirmed, Amount: 1000, ChainID: 1}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not reached in time")
}

func TestQueueDrainsInOrder(t *testing.T) {
	_, submitter, q := setupQueueTest(t)

	q.Enqueue(confirmedEvidence("0xa1"), nil)
	q.Enqueue(confirmedEvidence("0xa2"), nil)
	q.Enqueue(confirmedEvidence("0xa3"), nil)

	waitFor(t, func() bool { return len(submitter.hashes()) == 3 })
	assert.Equal(t, []string{"0xa1", "0xa2", "0xa3"}, submitter.hashes())
	assert.Equal(t, 0, q.Len())
}

func TestQueueDedupsPendingTxHash(t *testing.T) {
	status, submitter, q := setupQueueTest(t)
	status.set(Status{}, errors.New("connection refused"))

	q.Enqueue(confirmedEvidence("0xb1"), nil)
	q.Enqueue(confirmedEvidence("0xb1"), nil)
	waitFor(t, func() bool { return q.Len() == 1 })

	// retraction evidence for the same hash is a distinct item
	reorged := confirmedEvidence("0xb1")
	reorged.Status = types.TxStatusReorged
	q.Enqueue(reorged, nil)
	waitFor(t, func() bool { return q.Len() == 2 })

	status.set(Status{Height: 101}, nil)
	q.Enqueue(confirmedEvidence("0xb2"), nil)
	waitFor(t, func() bool { return len(submitter.hashes()) == 3 })
}

func TestQueueDefersWhileSyncing(t *testing.T) {
	status, submitter, q := setupQueueTest(t)
	status.set(Status{Height: 100, Syncing: true}, nil)

	q.Enqueue(confirmedEvidence("0xc1"), nil)
	waitFor(t, func() bool { return q.Len() == 1 })
	assert.Empty(t, submitter.hashes())

	// the aborted cycle must release the drain guard for the next enqueue
	status.set(Status{Height: 101}, nil)
	q.Enqueue(confirmedEvidence("0xc2"), nil)
	waitFor(t, func() bool { return len(submitter.hashes()) == 2 })
	assert.Equal(t, 0, q.Len())
}

func TestQueueReadsStatusOncePerCycle(t *testing.T) {
	status, submitter, q := setupQueueTest(t)

	q.Enqueue(confirmedEvidence("0xd1"), nil)
	waitFor(t, func() bool { return len(submitter.hashes()) == 1 })

	before := func() int {
		status.mu.Lock()
		defer status.mu.Unlock()
		return status.queries
	}()
	assert.Equal(t, 1, before)
}
