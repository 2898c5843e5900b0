package evm

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fastusdc/cctp-relayer/internal/config"
	"github.com/fastusdc/cctp-relayer/internal/metrics"
	"github.com/fastusdc/cctp-relayer/internal/processor"
	"github.com/fastusdc/cctp-relayer/internal/state"
	"github.com/fastusdc/cctp-relayer/internal/types"
	"github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"
)

// EvidenceEnqueuer receives evidence ready for destination-chain submission.
type EvidenceEnqueuer interface {
	Enqueue(ev *types.Evidence, risks []string)
}

// Watcher follows one origin chain: a live log subscription for
// DepositForBurn events, new-head notifications for confirmation tracking,
// and gap backfills whenever heights jump.
type Watcher struct {
	chain     config.ChainConfig
	state     *state.State
	processor *processor.Processor
	policies  processor.PolicyProvider
	queue     EvidenceEnqueuer
	decoder   *Decoder

	client      *Client
	reconnectCh chan struct{}
}

func NewWatcher(chain config.ChainConfig, st *state.State, proc *processor.Processor, policies processor.PolicyProvider, queue EvidenceEnqueuer) *Watcher {
	decoder, err := NewDecoder()
	if err != nil {
		log.Fatalf("Failed to build event decoder: %v", err)
	}
	return &Watcher{
		chain:       chain,
		state:       st,
		processor:   proc,
		policies:    policies,
		queue:       queue,
		decoder:     decoder,
		reconnectCh: make(chan struct{}, 1),
	}
}

func (w *Watcher) Name() string {
	return w.chain.Name
}

// ForceReconnect tears down the current subscriptions; the run loop redials.
func (w *Watcher) ForceReconnect() {
	select {
	case w.reconnectCh <- struct{}{}:
	default:
	}
}

func (w *Watcher) Start(ctx context.Context) {
	for {
		if err := w.run(ctx); err != nil {
			log.Errorf("Chain watcher disconnected, chain: %s, error: %v", w.chain.Name, err)
			metrics.Watcher().SetRPCAlive(w.chain.Name, false)
		}
		if w.client != nil {
			w.client.Close()
			w.client = nil
		}
		select {
		case <-ctx.Done():
			log.Infof("Chain watcher stopping, chain: %s", w.chain.Name)
			return
		case <-time.After(config.AppConfig.RPCReconnectDelay):
		}
	}
}

func (w *Watcher) run(ctx context.Context) error {
	client, err := DialEthClient(ctx, w.chain.Name, w.chain.RPCURL)
	if err != nil {
		return err
	}
	w.client = client

	latest, err := client.Eth().BlockNumber(ctx)
	if err != nil {
		return err
	}

	last, err := w.state.GetChainHeight(w.chain.Name)
	if err != nil {
		return err
	}
	if last == 0 {
		last = w.chain.StartHeight
	}
	if last > 0 && latest > last+1 {
		if err := w.backfill(ctx, last+1, latest); err != nil {
			return err
		}
	} else if err := w.state.SetChainHeight(w.chain.Name, latest); err != nil {
		return err
	}

	address := w.contractAddress()
	topic := w.eventTopic()
	query := ethereum.FilterQuery{
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{topic}},
	}
	logsCh := make(chan ethtypes.Log, 256)
	logSub, err := client.Eth().SubscribeFilterLogs(ctx, query, logsCh)
	if err != nil {
		return err
	}
	defer logSub.Unsubscribe()

	headsCh := make(chan *ethtypes.Header, 64)
	headSub, err := client.Eth().SubscribeNewHead(ctx, headsCh)
	if err != nil {
		return err
	}
	defer headSub.Unsubscribe()

	// a policy refresh can move the messenger address or the event
	// signature; the log filter is fixed at subscription time, so redial
	policyCh := make(chan interface{}, 4)
	w.state.EventBus.Subscribe(state.PolicyUpdated, policyCh)
	defer w.state.EventBus.Unsubscribe(state.PolicyUpdated, policyCh)

	metrics.Watcher().SetRPCAlive(w.chain.Name, true)
	w.state.MarkActivity(w.chain.Name)
	log.Infof("Chain watcher connected, chain: %s, height: %d, contract: %s",
		w.chain.Name, latest, w.contractAddress().Hex())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.reconnectCh:
			return errors.New("reconnect forced by liveness monitor")
		case err := <-logSub.Err():
			return errors.Errorf("log subscription closed: %v", err)
		case err := <-headSub.Err():
			return errors.Errorf("head subscription closed: %v", err)
		case <-policyCh:
			if w.contractAddress() != address || w.eventTopic() != topic {
				return errors.New("feed policy changed the log filter, resubscribing")
			}
		case vLog := <-logsCh:
			w.handleLog(ctx, vLog, false)
		case header := <-headsCh:
			w.handleNewHead(ctx, header.Number.Uint64())
		}
	}
}

func (w *Watcher) handleNewHead(ctx context.Context, height uint64) {
	w.state.MarkActivity(w.chain.Name)
	metrics.Watcher().SetRPCHeight(w.chain.Name, height)

	last, err := w.state.GetChainHeight(w.chain.Name)
	if err != nil {
		log.Errorf("Failed to read chain height, chain: %s, error: %v", w.chain.Name, err)
		return
	}
	if last > 0 && height > last+1 {
		log.Warnf("Height gap detected, chain: %s, last: %d, new: %d", w.chain.Name, last, height)
		if err := w.backfill(ctx, last+1, height); err != nil {
			log.Errorf("Backfill failed, chain: %s, error: %v", w.chain.Name, err)
			return
		}
	}

	window := w.state.Window(w.chain.Name, w.windowSize())
	window.AdvanceTo(height)
	rangeAmount := float64(window.Total())
	metrics.Watcher().SetBlockRangeAmount(w.chain.Name, rangeAmount)
	if err := w.state.SetGaugeValue("current_block_range_amount", w.chain.Name, rangeAmount); err != nil {
		log.Warnf("Failed to persist window gauge, chain: %s, error: %v", w.chain.Name, err)
	}

	w.enqueueDue(height)

	if err := w.state.SetChainHeight(w.chain.Name, height); err != nil {
		log.Errorf("Failed to persist chain height, chain: %s, error: %v", w.chain.Name, err)
	}

	w.state.EventBus.Publish(state.BlockScanned, state.BlockScannedEvent{Chain: w.chain.Name, Height: height})
}

// enqueueDue pushes evidence for every transaction whose confirmation depth
// has been reached at the given height.
func (w *Watcher) enqueueDue(height uint64) {
	due, err := w.state.GetDueTransactions(w.chain.Name, height)
	if err != nil {
		log.Errorf("Failed to load due transactions, chain: %s, error: %v", w.chain.Name, err)
		return
	}
	for _, tx := range due {
		ev, risks := processor.EvidenceForTransaction(tx)
		log.Infof("Transaction reached confirmation depth, chain: %s, txHash: %s, height: %d",
			w.chain.Name, tx.TxHash, height)
		w.queue.Enqueue(ev, risks)
	}
}

func (w *Watcher) handleLog(ctx context.Context, vLog ethtypes.Log, backfilling bool) {
	event, err := w.decoder.DecodeLog(vLog)
	if err != nil {
		log.Warnf("Undecodable log, chain: %s, txHash: %s, error: %v", w.chain.Name, vLog.TxHash.Hex(), err)
		return
	}
	w.state.MarkActivity(w.chain.Name)

	if !event.Removed {
		event.BlockTimestamp, err = w.client.BlockTimestamp(ctx, event.BlockHash)
		if err != nil {
			log.Errorf("Failed to fetch block timestamp, chain: %s, txHash: %s, error: %v",
				w.chain.Name, event.TxHash, err)
			return
		}
		event.Sender, err = w.client.TxSender(ctx, event.TxHash)
		if err != nil {
			log.Errorf("Failed to fetch tx sender, chain: %s, txHash: %s, error: %v",
				w.chain.Name, event.TxHash, err)
			return
		}
	}

	ev, risks, err := w.processor.Process(ctx, event, w.chain.Name, backfilling)
	if err != nil {
		log.Errorf("Failed to process event, chain: %s, txHash: %s, error: %v", w.chain.Name, event.TxHash, err)
		return
	}
	if ev == nil {
		return
	}

	// a reorg retraction bypasses confirmation tracking
	if ev.Status == types.TxStatusReorged {
		w.queue.Enqueue(ev, risks)
	}
}

func (w *Watcher) contractAddress() common.Address {
	if p, ok := w.policies.ChainPolicy(w.chain.Name); ok && p.CctpTokenMessengerAddress != "" {
		return common.HexToAddress(p.CctpTokenMessengerAddress)
	}
	return common.HexToAddress(w.chain.ContractAddress)
}

// eventTopic prefers the event signature published in the feed policy over
// the compiled-in ABI, so a messenger upgrade does not need a new binary.
func (w *Watcher) eventTopic() common.Hash {
	if filter := w.policies.EventFilter(); filter != "" {
		return crypto.Keccak256Hash([]byte(filter))
	}
	return w.decoder.EventID()
}

func (w *Watcher) windowSize() int {
	if p, ok := w.policies.ChainPolicy(w.chain.Name); ok {
		return p.RateLimits.BlockWindowSize
	}
	return 0
}
