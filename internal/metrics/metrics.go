package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// WatcherMetrics exposes the operational gauges of the relayer. Per-chain
// gauges are labelled by chain name; amount gauges are persisted through the
// state store so restarts do not reset them.
type WatcherMetrics struct {
	rpcAlive          *prometheus.GaugeVec
	rpcHeight         *prometheus.GaugeVec
	eventsCount       *prometheus.GaugeVec
	revertedTxCount   *prometheus.GaugeVec
	totalAmount       *prometheus.GaugeVec
	blockRangeAmount  *prometheus.GaugeVec
	lastOfferID       prometheus.Gauge
	submissionsFailed *prometheus.CounterVec
}

var (
	watcherOnce     sync.Once
	watcherRegistry *WatcherMetrics
)

func Watcher() *WatcherMetrics {
	watcherOnce.Do(func() {
		watcherRegistry = &WatcherMetrics{
			rpcAlive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "watcher_rpc_alive",
				Help: "Whether the RPC connection for a chain is alive (1) or down (0).",
			}, []string{"chain"}),
			rpcHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "watcher_rpc_height",
				Help: "Latest block height observed per chain.",
			}, []string{"chain"}),
			eventsCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "watcher_events_count",
				Help: "Total DepositForBurn events observed per chain.",
			}, []string{"chain"}),
			revertedTxCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "watcher_reverted_tx_count",
				Help: "Total transactions removed by chain reorganizations per chain.",
			}, []string{"chain"}),
			totalAmount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "watcher_total_amount",
				Help: "Cumulative observed transfer amount per chain.",
			}, []string{"chain"}),
			blockRangeAmount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "watcher_current_block_range_amount",
				Help: "Risk-free amount within the current block window per chain.",
			}, []string{"chain"}),
			lastOfferID: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "watcher_last_offer_id",
				Help: "Most recent offer id acknowledged by the destination wallet.",
			}),
			submissionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "watcher_submissions_failed_total",
				Help: "Count of evidence submissions that failed terminally by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			watcherRegistry.rpcAlive,
			watcherRegistry.rpcHeight,
			watcherRegistry.eventsCount,
			watcherRegistry.revertedTxCount,
			watcherRegistry.totalAmount,
			watcherRegistry.blockRangeAmount,
			watcherRegistry.lastOfferID,
			watcherRegistry.submissionsFailed,
		)
	})
	return watcherRegistry
}

func (m *WatcherMetrics) SetRPCAlive(chain string, alive bool) {
	if m == nil {
		return
	}
	v := 0.0
	if alive {
		v = 1.0
	}
	m.rpcAlive.WithLabelValues(chain).Set(v)
}

func (m *WatcherMetrics) SetRPCHeight(chain string, height uint64) {
	if m == nil {
		return
	}
	m.rpcHeight.WithLabelValues(chain).Set(float64(height))
}

func (m *WatcherMetrics) SetEventsCount(chain string, count float64) {
	if m == nil {
		return
	}
	m.eventsCount.WithLabelValues(chain).Set(count)
}

func (m *WatcherMetrics) SetRevertedTxCount(chain string, count float64) {
	if m == nil {
		return
	}
	m.revertedTxCount.WithLabelValues(chain).Set(count)
}

func (m *WatcherMetrics) SetTotalAmount(chain string, amount float64) {
	if m == nil {
		return
	}
	m.totalAmount.WithLabelValues(chain).Set(amount)
}

func (m *WatcherMetrics) SetBlockRangeAmount(chain string, amount float64) {
	if m == nil {
		return
	}
	m.blockRangeAmount.WithLabelValues(chain).Set(amount)
}

func (m *WatcherMetrics) SetLastOfferID(id float64) {
	if m == nil {
		return
	}
	m.lastOfferID.Set(id)
}

func (m *WatcherMetrics) ObserveSubmissionFailed(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.submissionsFailed.WithLabelValues(reason).Inc()
}
