package agoric

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/fastusdc/cctp-relayer/internal/config"
	"github.com/fastusdc/cctp-relayer/internal/metrics"
	"github.com/fastusdc/cctp-relayer/internal/processor"
	"github.com/fastusdc/cctp-relayer/internal/state"
	"github.com/fastusdc/cctp-relayer/internal/types"
	"gorm.io/gorm"

	log "github.com/sirupsen/logrus"
)

type EvidenceEnqueuer interface {
	Enqueue(evidence *types.Evidence, risks []string)
}

// wallet update record as published under published.wallet.<addr>
type walletUpdateDoc struct {
	Updated string         `json:"updated"`
	Status  offerStatusDoc `json:"status"`
}

type offerStatusDoc struct {
	ID             int64  `json:"id"`
	Error          string `json:"error"`
	InvitationSpec struct {
		InvitationMakerName string `json:"invitationMakerName"`
	} `json:"invitationSpec"`
}

type destinationNode interface {
	Status(ctx context.Context) (*Status, error)
	ReadVstorage(ctx context.Context, path string) ([]string, error)
	RotateRPC()
	Address() string
}

// Monitor polls the destination chain. On every new height it settles offer
// outcomes from the watcher's wallet feed and re-enqueues evidence whose
// broadcast expired unconfirmed; that re-enqueue is the only retry path.
type Monitor struct {
	client destinationNode
	state  *state.State
	queue  EvidenceEnqueuer

	lastHeight  int64
	lastOfferID int64
}

func NewMonitor(client destinationNode, st *state.State, queue EvidenceEnqueuer) *Monitor {
	m := &Monitor{client: client, state: st, queue: queue}
	if persisted, err := st.GetLastOfferID(); err == nil && persisted != "" {
		if id, err := strconv.ParseInt(persisted, 10, 64); err == nil {
			m.lastOfferID = id
		}
	}
	return m
}

func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(config.AppConfig.AgoricCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	status, err := m.client.Status(ctx)
	if err != nil {
		log.Errorf("Failed to query destination status: %v", err)
		m.client.RotateRPC()
		return
	}
	if status.Syncing {
		log.Warnf("Destination node is syncing at height %d, rotating RPC", status.Height)
		m.client.RotateRPC()
		return
	}
	if status.Height <= m.lastHeight {
		return
	}
	m.lastHeight = status.Height

	if err := m.settleOffers(ctx); err != nil {
		log.Errorf("Failed to settle offer outcomes: %v", err)
	}
	if err := m.requeueExpired(status.Height); err != nil {
		log.Errorf("Failed to requeue expired submissions: %v", err)
	}
}

// settleOffers reads the wallet update feed and records the outcome of every
// evidence offer newer than the persisted cursor.
func (m *Monitor) settleOffers(ctx context.Context) error {
	values, err := m.client.ReadVstorage(ctx, "published.wallet."+m.client.Address())
	if err != nil {
		return err
	}

	maxSeen := m.lastOfferID
	for _, raw := range values {
		var update walletUpdateDoc
		if err := UnmarshalCapData(raw, &update); err != nil {
			log.Debugf("Skipping undecodable wallet update: %v", err)
			continue
		}
		if update.Updated != "offerStatus" || update.Status.InvitationSpec.InvitationMakerName != "SubmitEvidence" {
			continue
		}
		if update.Status.ID <= m.lastOfferID {
			continue
		}
		if update.Status.ID > maxSeen {
			maxSeen = update.Status.ID
		}

		offerID := strconv.FormatInt(update.Status.ID, 10)
		switch {
		case update.Status.Error == "":
			if err := m.state.UpdateSubmissionStatus(offerID, types.SubmissionSubmitted); err != nil {
				log.Errorf("Failed to mark offer %s submitted: %v", offerID, err)
			}
		case strings.Contains(update.Status.Error, "conflicting evidence"):
			log.Warnf("Offer %s rejected for conflicting evidence", offerID)
			metrics.Watcher().ObserveSubmissionFailed("conflicting_evidence")
			if err := m.state.UpdateSubmissionStatus(offerID, types.SubmissionFailed); err != nil {
				log.Errorf("Failed to mark offer %s failed: %v", offerID, err)
			}
		default:
			// transient errors resolve through the timeout-and-requeue path
			log.Warnf("Offer %s errored: %s", offerID, update.Status.Error)
		}
	}

	if maxSeen > m.lastOfferID {
		m.lastOfferID = maxSeen
		metrics.Watcher().SetLastOfferID(float64(maxSeen))
		if err := m.state.SetLastOfferID(strconv.FormatInt(maxSeen, 10)); err != nil {
			return err
		}
	}
	return nil
}

// requeueExpired re-enqueues evidence whose broadcast passed its timeout
// height without landing in a block.
func (m *Monitor) requeueExpired(height int64) error {
	expired, err := m.state.GetExpiredInflightSubmissions(height)
	if err != nil {
		return err
	}
	for _, sub := range expired {
		tx, err := m.state.GetTransactionByHash(sub.TxHash)
		if err == gorm.ErrRecordNotFound {
			log.Warnf("Expired submission %s has no transaction row, marking failed", sub.OfferID)
			if err := m.state.UpdateSubmissionStatus(sub.OfferID, types.SubmissionFailed); err != nil {
				log.Errorf("Failed to mark orphan offer %s failed: %v", sub.OfferID, err)
			}
			continue
		}
		if err != nil {
			return err
		}

		evidence, risks := processor.EvidenceForTransaction(tx)
		if sub.Reorged {
			evidence.Status = types.TxStatusReorged
		}
		log.Infof("Submission %s for %s expired at height %d, re-enqueueing", sub.OfferID, sub.TxHash, height)
		m.queue.Enqueue(evidence, risks)
	}
	return nil
}
