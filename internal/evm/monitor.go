package evm

import (
	"context"
	"time"

	"github.com/fastusdc/cctp-relayer/internal/config"
	"github.com/fastusdc/cctp-relayer/internal/metrics"
	"github.com/fastusdc/cctp-relayer/internal/state"
	log "github.com/sirupsen/logrus"
)

// LivenessMonitor forces reconnection of watchers whose last block
// notification is older than the staleness threshold. Websocket subscriptions
// can stall without the socket reporting an error.
type LivenessMonitor struct {
	state    *state.State
	watchers []*Watcher
}

func NewLivenessMonitor(st *state.State, watchers []*Watcher) *LivenessMonitor {
	return &LivenessMonitor{state: st, watchers: watchers}
}

func (m *LivenessMonitor) Start(ctx context.Context) {
	threshold := config.AppConfig.RPCStaleThreshold
	ticker := time.NewTicker(threshold / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Liveness monitor stopping...")
			return
		case <-ticker.C:
			for _, w := range m.watchers {
				last := m.state.LastActivity(w.Name())
				if last.IsZero() {
					continue
				}
				if time.Since(last) > threshold {
					log.Warnf("Chain connection stale, chain: %s, last activity: %s, forcing reconnect",
						w.Name(), last.Format(time.RFC3339))
					metrics.Watcher().SetRPCAlive(w.Name(), false)
					w.ForceReconnect()
				}
			}
		}
	}
}
