package agoric

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/fastusdc/cctp-relayer/internal/config"
	"github.com/fastusdc/cctp-relayer/internal/db"
	"github.com/fastusdc/cctp-relayer/internal/metrics"
	"github.com/fastusdc/cctp-relayer/internal/state"
	"github.com/fastusdc/cctp-relayer/internal/types"
	"github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var sequenceMismatchRe = regexp.MustCompile(`expected (\d+)`)

// wire form of the evidence record inside the offer
type evidenceDoc struct {
	Aux            evidenceAuxDoc `json:"aux"`
	BlockHash      string         `json:"blockHash"`
	BlockNumber    Bigint         `json:"blockNumber"`
	BlockTimestamp Bigint         `json:"blockTimestamp"`
	ChainID        int64          `json:"chainId"`
	Tx             evidenceTxDoc  `json:"tx"`
	TxHash         string         `json:"txHash"`
}

type evidenceAuxDoc struct {
	ForwardingChannel string `json:"forwardingChannel"`
	RecipientAddress  string `json:"recipientAddress"`
}

type evidenceTxDoc struct {
	Amount            Bigint `json:"amount"`
	ForwardingAddress string `json:"forwardingAddress"`
}

type offerSpec struct {
	ID             int64          `json:"id"`
	InvitationSpec invitationSpec `json:"invitationSpec"`
	Proposal       struct{}       `json:"proposal"`
}

type invitationSpec struct {
	Source              string        `json:"source"`
	PreviousOffer       string        `json:"previousOffer"`
	InvitationMakerName string        `json:"invitationMakerName"`
	InvitationArgs      []interface{} `json:"invitationArgs"`
}

type walletAction struct {
	Method string    `json:"method"`
	Offer  offerSpec `json:"offer"`
}

type walletBroadcaster interface {
	SubmitWalletAction(ctx context.Context, spendAction string, accountNumber, sequence uint64, timeoutHeight uint64) (*BroadcastResult, error)
}

// Submitter broadcasts evidence offers to the destination chain. Calls come
// in one at a time from the submission queue.
type Submitter struct {
	client walletBroadcaster
	state  *state.State
}

func NewSubmitter(client walletBroadcaster, st *state.State) *Submitter {
	return &Submitter{client: client, state: st}
}

// Submit broadcasts one piece of evidence unless a live submission for the
// same evidence is still within its timeout window.
func (s *Submitter) Submit(ctx context.Context, evidence *types.Evidence, risks []string, status *Status) error {
	reorged := evidence.Status == types.TxStatusReorged

	existing, err := s.state.GetSubmission(evidence.TxHash, reorged)
	if err != nil && err != gorm.ErrRecordNotFound {
		return err
	}
	if existing != nil && existing.SubmissionStatus != types.SubmissionCancelled && status.Height < existing.TimeoutHeight {
		log.Debugf("Submission for %s still pending until height %d, skipping", evidence.TxHash, existing.TimeoutHeight)
		return nil
	}

	// a retraction supersedes any confirmation still waiting in the mempool
	if reorged {
		if err := s.state.CancelConfirmedSubmission(evidence.TxHash); err != nil {
			return errors.Errorf("failed to cancel superseded submission for %s: %v", evidence.TxHash, err)
		}
	}

	offerID := time.Now().UnixMilli()
	spendAction, err := s.buildSpendAction(offerID, evidence, risks)
	if err != nil {
		return err
	}

	timeoutHeight := status.Height + config.AppConfig.TxTimeoutBlocks
	result, err := s.broadcast(ctx, spendAction, uint64(timeoutHeight))
	if err != nil {
		metrics.Watcher().ObserveSubmissionFailed("broadcast_error")
		return err
	}
	if result.Code != 0 {
		metrics.Watcher().ObserveSubmissionFailed("tx_rejected")
		return errors.Errorf("evidence tx for %s rejected with code %d: %s", evidence.TxHash, result.Code, result.RawLog)
	}

	s.state.Account.IncrementSequence()
	if err := s.state.SaveSubmission(&db.Submission{
		OfferID:          strconv.FormatInt(offerID, 10),
		TxHash:           evidence.TxHash,
		Reorged:          reorged,
		SubmissionStatus: types.SubmissionInflight,
		TimeoutHeight:    timeoutHeight,
		BroadcastTxHash:  result.TxHash,
	}); err != nil {
		return errors.Errorf("failed to record submission for %s: %v", evidence.TxHash, err)
	}

	log.Infof("Submitted evidence for %s as offer %d, broadcast tx %s, timeout height %d",
		evidence.TxHash, offerID, result.TxHash, timeoutHeight)
	return nil
}

// broadcast signs and sends the spend action, retrying once when the chain
// reports a sequence mismatch.
func (s *Submitter) broadcast(ctx context.Context, spendAction string, timeoutHeight uint64) (*BroadcastResult, error) {
	result, err := s.client.SubmitWalletAction(ctx, spendAction, s.state.Account.AccountNumber, s.state.Account.Sequence(), timeoutHeight)
	if err != nil {
		return nil, err
	}
	if result.Code == 32 { // sdkerrors.ErrWrongSequence
		if m := sequenceMismatchRe.FindStringSubmatch(result.RawLog); m != nil {
			expected, parseErr := strconv.ParseUint(m[1], 10, 64)
			if parseErr == nil {
				log.Warnf("Sequence mismatch, resetting to %d and retrying", expected)
				s.state.Account.SetSequence(expected)
				return s.client.SubmitWalletAction(ctx, spendAction, s.state.Account.AccountNumber, expected, timeoutHeight)
			}
		}
	}
	return result, err
}

func (s *Submitter) buildSpendAction(offerID int64, evidence *types.Evidence, risks []string) (string, error) {
	doc := evidenceDoc{
		Aux: evidenceAuxDoc{
			ForwardingChannel: evidence.ForwardingChannel,
			RecipientAddress:  evidence.RecipientAddress,
		},
		BlockHash:      evidence.BlockHash,
		BlockNumber:    Bigint(evidence.BlockNumber),
		BlockTimestamp: Bigint(evidence.BlockTimestamp),
		ChainID:        evidence.ChainID,
		Tx: evidenceTxDoc{
			Amount:            Bigint(evidence.Amount),
			ForwardingAddress: evidence.ForwardingAddress,
		},
		TxHash: evidence.TxHash,
	}

	args := []interface{}{doc}
	if len(risks) > 0 {
		args = append(args, map[string]interface{}{"risksIdentified": risks})
	}

	action := walletAction{
		Method: "executeOffer",
		Offer: offerSpec{
			ID: offerID,
			InvitationSpec: invitationSpec{
				Source:              "continuing",
				PreviousOffer:       config.AppConfig.WatcherInvitation,
				InvitationMakerName: "SubmitEvidence",
				InvitationArgs:      args,
			},
		},
	}
	return MarshalCapData(action)
}
