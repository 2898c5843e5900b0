package processor

import (
	"context"
	"strings"

	"github.com/fastusdc/cctp-relayer/internal/db"
	"github.com/fastusdc/cctp-relayer/internal/metrics"
	"github.com/fastusdc/cctp-relayer/internal/policy"
	"github.com/fastusdc/cctp-relayer/internal/state"
	"github.com/fastusdc/cctp-relayer/internal/types"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ForwardingResolver resolves a noble address to its forwarding registration.
type ForwardingResolver interface {
	Resolve(ctx context.Context, nobleAddress string) *types.ForwardingAccount
}

// PolicyProvider serves the current feed policy and settlement account.
type PolicyProvider interface {
	ChainPolicy(chain string) (types.ChainPolicy, bool)
	SettlementAccount() string
	NobleDomain() uint32
	EventFilter() string
}

// Processor turns raw DepositForBurn observations into signed-evidence
// candidates. It owns the per-transaction state machine: unseen, CONFIRMED,
// REORGED.
type Processor struct {
	state    *state.State
	resolver ForwardingResolver
	policies PolicyProvider
}

func NewProcessor(st *state.State, resolver ForwardingResolver, policies PolicyProvider) *Processor {
	return &Processor{
		state:    st,
		resolver: resolver,
		policies: policies,
	}
}

// Process runs one observation through the state machine. A nil evidence with
// nil error means the event was rejected or was a duplicate. backfilling
// switches the rate-limit window source to the durable aggregate, since the
// in-memory window is not warmed while scanning historical ranges.
func (p *Processor) Process(ctx context.Context, event *types.DepositForBurnEvent, chain string, backfilling bool) (*types.Evidence, []string, error) {
	chainPolicy, ok := p.policies.ChainPolicy(chain)
	if !ok {
		log.Warnf("No policy for chain %s, ignoring event, txHash: %s", chain, event.TxHash)
		return nil, nil, nil
	}

	if event.DestinationDomain != p.policies.NobleDomain() {
		log.Debugf("Ignoring burn to foreign domain %d, txHash: %s", event.DestinationDomain, event.TxHash)
		return nil, nil, nil
	}
	if !p.senderAllowed(event.Depositor, chainPolicy) {
		log.Warnf("Depositor not in bridge allow list, chain: %s, depositor: %s, txHash: %s",
			chain, event.Depositor, event.TxHash)
		return nil, nil, nil
	}

	nobleAddr, err := types.DecodeToNoble(event.MintRecipient)
	if err != nil {
		log.Warnf("Undecodable mint recipient, chain: %s, txHash: %s, error: %v", chain, event.TxHash, err)
		return nil, nil, nil
	}

	fa := p.resolver.Resolve(ctx, nobleAddr)
	if fa == nil {
		log.Debugf("Recipient is not a forwarding account, chain: %s, address: %s, txHash: %s",
			chain, nobleAddr, event.TxHash)
		return nil, nil, nil
	}

	existing, err := p.state.GetTransaction(chain, event.TxHash)
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, nil, err
	}

	if event.Removed {
		return p.processRemoval(chain, event, existing)
	}

	if existing != nil && existing.Status != types.TxStatusReorged {
		// duplicate delivery, watchers and backfill can double-observe
		return nil, nil, nil
	}

	if fa.Recipient != types.UnknownForwardingAccount {
		base, _, err := types.DecodeAddressHook(fa.Recipient)
		if err != nil || base != p.policies.SettlementAccount() {
			log.Warnf("Recipient does not target the settlement account, chain: %s, recipient: %s, txHash: %s",
				chain, fa.Recipient, event.TxHash)
			return nil, nil, nil
		}
	}

	windowSum, err := p.windowSum(chain, chainPolicy, event.BlockNumber, backfilling)
	if err != nil {
		return nil, nil, err
	}
	result := policy.Evaluate(event.Amount, chainPolicy, windowSum)

	tx := &db.Transaction{
		Chain:             chain,
		ChainID:           chainPolicy.ChainID,
		TxHash:            event.TxHash,
		BlockHash:         event.BlockHash,
		BlockNumber:       event.BlockNumber,
		BlockTimestamp:    event.BlockTimestamp,
		Amount:            event.Amount,
		Sender:            event.Sender,
		Depositor:         event.Depositor,
		Recipient:         nobleAddr,
		ForwardingAddress: fa.Recipient,
		ForwardingChannel: fa.Channel,
		Status:            types.TxStatusConfirmed,
		RisksIdentified:   strings.Join(result.Risks, ","),
		ConfirmationBlock: event.BlockNumber + result.Confirmations,
	}
	created, err := p.state.SaveTransaction(tx)
	if err != nil {
		return nil, nil, err
	}

	if created {
		if len(result.Risks) == 0 {
			p.state.Window(chain, chainPolicy.RateLimits.BlockWindowSize).Add(event.BlockNumber, event.Amount)
		}
		if fa.Recipient != types.UnknownForwardingAccount {
			p.bumpCounters(chain, event.Amount)
		}
	}

	log.Infof("Burn event recorded, chain: %s, txHash: %s, amount: %d, confirmationBlock: %d, risks: %q",
		chain, event.TxHash, event.Amount, tx.ConfirmationBlock, tx.RisksIdentified)

	return evidenceFromTransaction(tx), result.Risks, nil
}

// processRemoval handles a reorg signal for an already observed transaction.
func (p *Processor) processRemoval(chain string, event *types.DepositForBurnEvent, existing *db.Transaction) (*types.Evidence, []string, error) {
	if existing == nil {
		// never recorded, nothing to retract
		return nil, nil, nil
	}
	if existing.Status == types.TxStatusReorged {
		return nil, nil, nil
	}

	tx, err := p.state.MarkTransactionReorged(chain, event.TxHash)
	if err != nil {
		return nil, nil, err
	}

	chainPolicy, ok := p.policies.ChainPolicy(chain)
	if ok && tx.RisksIdentified == "" {
		p.state.Window(chain, chainPolicy.RateLimits.BlockWindowSize).Sub(tx.BlockNumber, tx.Amount)
	}
	if count, err := p.state.AddGaugeValue("reverted_tx_count", chain, 1); err == nil {
		metrics.Watcher().SetRevertedTxCount(chain, count)
	}

	log.Warnf("Burn event reorged out, chain: %s, txHash: %s, amount: %d", chain, tx.TxHash, tx.Amount)

	return evidenceFromTransaction(tx), splitRisks(tx.RisksIdentified), nil
}

// EvidenceForTransaction rebuilds submission evidence from a persisted row,
// used when a due or expired transaction is re-enqueued.
func EvidenceForTransaction(tx *db.Transaction) (*types.Evidence, []string) {
	return evidenceFromTransaction(tx), splitRisks(tx.RisksIdentified)
}

func (p *Processor) windowSum(chain string, chainPolicy types.ChainPolicy, block uint64, backfilling bool) (uint64, error) {
	if !backfilling {
		return p.state.Window(chain, chainPolicy.RateLimits.BlockWindowSize).Total(), nil
	}

	var from uint64
	if size := uint64(chainPolicy.RateLimits.BlockWindowSize); block > size {
		from = block - size + 1
	}
	sums, err := p.state.GetBlockSums(chain, from, block)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, s := range sums {
		total += s.Sum
	}
	return total, nil
}

func (p *Processor) senderAllowed(depositor string, chainPolicy types.ChainPolicy) bool {
	if len(chainPolicy.AttenuatedCctpBridgeAddresses) == 0 {
		return true
	}
	for _, addr := range chainPolicy.AttenuatedCctpBridgeAddresses {
		if strings.EqualFold(addr, depositor) {
			return true
		}
	}
	return false
}

func (p *Processor) bumpCounters(chain string, amount uint64) {
	if count, err := p.state.AddGaugeValue("events_count", chain, 1); err == nil {
		metrics.Watcher().SetEventsCount(chain, count)
	}
	if total, err := p.state.AddGaugeValue("total_amount", chain, float64(amount)); err == nil {
		metrics.Watcher().SetTotalAmount(chain, total)
	}
}

func evidenceFromTransaction(tx *db.Transaction) *types.Evidence {
	return &types.Evidence{
		Amount:            tx.Amount,
		Status:            tx.Status,
		BlockHash:         tx.BlockHash,
		BlockNumber:       tx.BlockNumber,
		BlockTimestamp:    tx.BlockTimestamp,
		ForwardingAddress: tx.Recipient,
		ForwardingChannel: tx.ForwardingChannel,
		RecipientAddress:  tx.ForwardingAddress,
		TxHash:            tx.TxHash,
		ChainID:           tx.ChainID,
		Sender:            tx.Sender,
	}
}

func splitRisks(risks string) []string {
	if risks == "" {
		return nil
	}
	return strings.Split(risks, ",")
}
