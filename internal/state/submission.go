package state

import (
	"time"

	"github.com/fastusdc/cctp-relayer/internal/db"
	"github.com/fastusdc/cctp-relayer/internal/types"
	"gorm.io/gorm"
)

/*
SaveSubmission
records a broadcast attempt as INFLIGHT; the (txHash, reorged) pair is upserted
so a re-broadcast after timeout reuses the same row with a fresh offer id
*/
func (s *State) SaveSubmission(sub *db.Submission) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	existing, err := s.querySubmission(sub.TxHash, sub.Reorged)
	if err != nil && err != gorm.ErrRecordNotFound {
		return err
	}
	if err == nil {
		sub.ID = existing.ID
	}
	sub.UpdatedAt = time.Now()
	return s.dbm.GetRelayerDB().Save(sub).Error
}

func (s *State) GetSubmission(txHash string, reorged bool) (*db.Submission, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	return s.querySubmission(txHash, reorged)
}

// HasLiveSubmission reports whether a non-terminal submission already exists
// for the pair, which makes a new broadcast redundant.
func (s *State) HasLiveSubmission(txHash string, reorged bool) (bool, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	var count int64
	err := s.dbm.GetRelayerDB().
		Model(&db.Submission{}).
		Where("tx_hash = ? AND reorged = ? AND submission_status IN ?",
			txHash, reorged, []string{types.SubmissionInflight, types.SubmissionSubmitted}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

/*
CancelConfirmedSubmission
called when a reorg retraction supersedes the earlier confirmation evidence
for the same origin transaction; both a broadcast still in the mempool and
an already accepted offer are superseded
*/
func (s *State) CancelConfirmedSubmission(txHash string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	return s.dbm.GetRelayerDB().
		Model(&db.Submission{}).
		Where("tx_hash = ? AND reorged = ? AND submission_status IN ?",
			txHash, false, []string{types.SubmissionInflight, types.SubmissionSubmitted}).
		Updates(map[string]interface{}{
			"submission_status": types.SubmissionCancelled,
			"updated_at":        time.Now(),
		}).Error
}

func (s *State) UpdateSubmissionStatus(offerID, status string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	return s.dbm.GetRelayerDB().
		Model(&db.Submission{}).
		Where("offer_id = ?", offerID).
		Updates(map[string]interface{}{
			"submission_status": status,
			"updated_at":        time.Now(),
		}).Error
}

// GetExpiredInflightSubmissions returns INFLIGHT rows whose timeout height has
// passed on the destination chain; these were dropped from the mempool and
// must be re-broadcast.
func (s *State) GetExpiredInflightSubmissions(height int64) ([]*db.Submission, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	var subs []*db.Submission
	err := s.dbm.GetRelayerDB().
		Where("submission_status = ? AND timeout_height > 0 AND timeout_height < ?", types.SubmissionInflight, height).
		Find(&subs).Error
	return subs, err
}

func (s *State) GetInflightSubmissions() ([]*db.Submission, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	var subs []*db.Submission
	err := s.dbm.GetRelayerDB().
		Where("submission_status = ?", types.SubmissionInflight).
		Find(&subs).Error
	return subs, err
}

func (s *State) querySubmission(txHash string, reorged bool) (*db.Submission, error) {
	var sub db.Submission
	if err := s.dbm.GetRelayerDB().Where("tx_hash = ? AND reorged = ?", txHash, reorged).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}
