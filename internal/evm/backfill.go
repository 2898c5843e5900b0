package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fastusdc/cctp-relayer/internal/config"
	"github.com/fastusdc/cctp-relayer/internal/state"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// backfill scans [from, to] through direct log queries, feeding each event to
// the processor with the durable-aggregate window source. The in-memory block
// window is rebuilt from persisted sums afterwards.
func (w *Watcher) backfill(ctx context.Context, from, to uint64) error {
	jobID := uuid.New().String()
	log.Infof("Backfill started, chain: %s, job: %s, range: [%d, %d]", w.chain.Name, jobID, from, to)

	step := config.AppConfig.EvmMaxBlockRange
	if step == 0 {
		step = 10000
	}
	address := w.contractAddress()

	for start := from; start <= to; start += step {
		end := start + step - 1
		if end > to {
			end = to
		}
		query := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{address},
			Topics:    [][]common.Hash{{w.eventTopic()}},
		}
		logs, err := w.client.Eth().FilterLogs(ctx, query)
		if err != nil {
			return err
		}
		for _, vLog := range logs {
			w.handleLog(ctx, vLog, true)
		}
		log.Debugf("Backfill chunk done, chain: %s, job: %s, range: [%d, %d], logs: %d",
			w.chain.Name, jobID, start, end, len(logs))
	}

	if size := uint64(w.windowSize()); size > 0 {
		var windowFrom uint64
		if to > size {
			windowFrom = to - size + 1
		}
		sums, err := w.state.GetBlockSums(w.chain.Name, windowFrom, to)
		if err != nil {
			return err
		}
		w.state.Window(w.chain.Name, int(size)).SetEntries(sums)
	}

	if err := w.state.SetChainHeight(w.chain.Name, to); err != nil {
		return err
	}
	w.enqueueDue(to)
	w.state.EventBus.Publish(state.BlockScanned, state.BlockScannedEvent{Chain: w.chain.Name, Height: to})

	log.Infof("Backfill finished, chain: %s, job: %s, height: %d", w.chain.Name, jobID, to)
	return nil
}
