package noble

import (
	"context"
	"time"

	"github.com/fastusdc/cctp-relayer/internal/config"
	"github.com/fastusdc/cctp-relayer/internal/metrics"
	"github.com/fastusdc/cctp-relayer/internal/state"
	"github.com/fastusdc/cctp-relayer/internal/types"
	log "github.com/sirupsen/logrus"
)

// Sweep retries resolution for recently observed transactions whose
// forwarding account was unknown at observation time. Forwarding accounts can
// be registered on noble after the burn event fires, so a bounded lookback
// keeps those transfers alive.
type Sweep struct {
	state    *state.State
	resolver *Resolver
}

func NewSweep(st *state.State, resolver *Resolver) *Sweep {
	return &Sweep{state: st, resolver: resolver}
}

// Start subscribes to scanned-block notifications and retries resolution as
// the chains advance. Throttled so a burst of heads across chains does not
// hammer the noble LCD.
func (s *Sweep) Start(ctx context.Context) {
	blockCh := make(chan interface{}, 64)
	s.state.EventBus.Subscribe(state.BlockScanned, blockCh)
	defer s.state.EventBus.Unsubscribe(state.BlockScanned, blockCh)

	log.Infof("Unknown recipient sweep started, throttle: %s, lookback: %s",
		config.AppConfig.UnknownSweepTick, config.AppConfig.UnknownSweepback)

	var lastSweep time.Time
	for {
		select {
		case <-ctx.Done():
			log.Info("Unknown recipient sweep stopping...")
			return
		case <-blockCh:
			if time.Since(lastSweep) < config.AppConfig.UnknownSweepTick {
				continue
			}
			lastSweep = time.Now()
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweep) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-config.AppConfig.UnknownSweepback)
	txs, err := s.state.GetUnknownRecipientTransactions(cutoff)
	if err != nil {
		log.Errorf("Failed to load unknown recipient transactions: %v", err)
		return
	}
	if len(txs) == 0 {
		return
	}
	log.Debugf("Sweeping %d transactions with unknown recipient", len(txs))

	for _, tx := range txs {
		fa := s.resolver.ResolveFresh(ctx, tx.Recipient)
		if fa == nil {
			// confirmed non-forwarding, the transfer can never settle
			log.Infof("Dropping transaction with non-forwarding recipient, chain: %s, txHash: %s, recipient: %s",
				tx.Chain, tx.TxHash, tx.Recipient)
			if err := s.state.DeleteTransaction(tx.Chain, tx.TxHash); err != nil {
				log.Errorf("Failed to delete transaction, txHash: %s, error: %v", tx.TxHash, err)
			}
			continue
		}
		if fa.Recipient == types.UnknownForwardingAccount {
			// still unresolved, try again next tick
			continue
		}

		tx.ForwardingAddress = fa.Recipient
		tx.ForwardingChannel = fa.Channel
		if _, err := s.state.SaveTransaction(tx); err != nil {
			log.Errorf("Failed to update resolved transaction, txHash: %s, error: %v", tx.TxHash, err)
			continue
		}

		// the transfer was excluded from counters while unresolved
		if count, err := s.state.AddGaugeValue("events_count", tx.Chain, 1); err == nil {
			metrics.Watcher().SetEventsCount(tx.Chain, count)
		}
		if total, err := s.state.AddGaugeValue("total_amount", tx.Chain, float64(tx.Amount)); err == nil {
			metrics.Watcher().SetTotalAmount(tx.Chain, total)
		}
		log.Infof("Resolved unknown recipient, chain: %s, txHash: %s, forwarding: %s",
			tx.Chain, tx.TxHash, fa.Recipient)
	}
}
