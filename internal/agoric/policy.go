package agoric

import (
	"context"
	"sync"
	"time"

	"github.com/fastusdc/cctp-relayer/internal/config"
	"github.com/fastusdc/cctp-relayer/internal/state"
	"github.com/fastusdc/cctp-relayer/internal/types"
	"github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"
)

const (
	feedPolicyPath = "published.fastUsdc.feedPolicy"
	contractPath   = "published.fastUsdc"
)

// wire form of the published feed policy
type feedPolicyDoc struct {
	ChainPolicies        map[string]chainPolicyDoc `json:"chainPolicies"`
	EventFilter          string                    `json:"eventFilter"`
	NobleAgoricChannelID string                    `json:"nobleAgoricChannelId"`
	NobleDomainID        uint32                    `json:"nobleDomainId"`
}

type chainPolicyDoc struct {
	// note the Cttp spelling on the wire
	AttenuatedCttpBridgeAddresses []string         `json:"attenuatedCttpBridgeAddresses"`
	CctpTokenMessengerAddress     string           `json:"cctpTokenMessengerAddress"`
	NobleContractAddress          string           `json:"nobleContractAddress"`
	ChainID                       int64            `json:"chainId"`
	Confirmations                 uint64           `json:"confirmations"`
	RateLimits                    *rateLimitsDoc   `json:"rateLimits"`
	TxThresholds                  []txThresholdDoc `json:"txThresholds"`
}

type rateLimitsDoc struct {
	Tx              Bigint `json:"tx"`
	BlockWindow     Bigint `json:"blockWindow"`
	BlockWindowSize int    `json:"blockWindowSize"`
}

type txThresholdDoc struct {
	MaxAmount     Bigint `json:"maxAmount"`
	Confirmations uint64 `json:"confirmations"`
}

type contractRecordDoc struct {
	SettlementAccount string `json:"settlementAccount"`
	PoolAccount       string `json:"poolAccount"`
}

type vstorageReader interface {
	ReadVstorage(ctx context.Context, path string) ([]string, error)
}

// PolicyCache holds the last policy document read from the destination
// ledger. It is refreshed on an interval and read by every watcher on every
// event, so reads take a shared lock.
type PolicyCache struct {
	mu                sync.RWMutex
	client            vstorageReader
	state             *state.State
	policy            types.FeedPolicy
	settlementAccount string
}

func NewPolicyCache(client vstorageReader, st *state.State) *PolicyCache {
	return &PolicyCache{client: client, state: st}
}

// Load performs the initial policy fetch. The process cannot run without a
// policy, so failures here are fatal to the caller.
func (p *PolicyCache) Load(ctx context.Context) error {
	if err := p.Refresh(ctx); err != nil {
		return err
	}
	if p.NobleDomain() == 0 {
		return errors.New("feed policy has no noble domain id")
	}
	return nil
}

func (p *PolicyCache) Refresh(ctx context.Context) error {
	values, err := p.client.ReadVstorage(ctx, feedPolicyPath)
	if err != nil {
		return errors.Errorf("failed to read feed policy: %v", err)
	}
	if len(values) == 0 {
		return errors.New("feed policy not published")
	}

	var doc feedPolicyDoc
	if err := UnmarshalCapData(values[len(values)-1], &doc); err != nil {
		return errors.Errorf("failed to decode feed policy: %v", err)
	}

	policy := types.FeedPolicy{
		ChainPolicies:        make(map[string]types.ChainPolicy, len(doc.ChainPolicies)),
		EventFilter:          doc.EventFilter,
		NobleAgoricChannelID: doc.NobleAgoricChannelID,
		NobleDomainID:        doc.NobleDomainID,
	}
	for chain, cp := range doc.ChainPolicies {
		messenger := cp.CctpTokenMessengerAddress
		if messenger == "" {
			messenger = cp.NobleContractAddress
		}
		converted := types.ChainPolicy{
			AttenuatedCctpBridgeAddresses: cp.AttenuatedCttpBridgeAddresses,
			CctpTokenMessengerAddress:     messenger,
			ChainID:                       cp.ChainID,
			Confirmations:                 cp.Confirmations,
		}
		if cp.RateLimits != nil {
			converted.RateLimits = types.RateLimits{
				Tx:              uint64(cp.RateLimits.Tx),
				BlockWindow:     uint64(cp.RateLimits.BlockWindow),
				BlockWindowSize: cp.RateLimits.BlockWindowSize,
			}
		}
		for _, t := range cp.TxThresholds {
			converted.TxThresholds = append(converted.TxThresholds, types.TxThreshold{
				MaxAmount:     uint64(t.MaxAmount),
				Confirmations: t.Confirmations,
			})
		}
		policy.ChainPolicies[chain] = converted
	}

	settlementAccount, err := p.readSettlementAccount(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.policy = policy
	p.settlementAccount = settlementAccount
	p.mu.Unlock()

	p.state.EventBus.Publish(state.PolicyUpdated, policy)
	log.Debugf("Refreshed feed policy: %d chains, noble domain %d", len(policy.ChainPolicies), policy.NobleDomainID)
	return nil
}

func (p *PolicyCache) readSettlementAccount(ctx context.Context) (string, error) {
	values, err := p.client.ReadVstorage(ctx, contractPath)
	if err != nil {
		return "", errors.Errorf("failed to read contract record: %v", err)
	}
	if len(values) == 0 {
		return "", errors.New("contract record not published")
	}
	var doc contractRecordDoc
	if err := UnmarshalCapData(values[len(values)-1], &doc); err != nil {
		return "", errors.Errorf("failed to decode contract record: %v", err)
	}
	return doc.SettlementAccount, nil
}

// Start refreshes the policy on an interval until the context is cancelled.
func (p *PolicyCache) Start(ctx context.Context) {
	ticker := time.NewTicker(config.AppConfig.QueryParamsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				log.Errorf("Failed to refresh feed policy: %v", err)
			}
		}
	}
}

func (p *PolicyCache) ChainPolicy(chain string) (types.ChainPolicy, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp, ok := p.policy.ChainPolicies[chain]
	return cp, ok
}

func (p *PolicyCache) SettlementAccount() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settlementAccount
}

func (p *PolicyCache) NobleDomain() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.policy.NobleDomainID
}

func (p *PolicyCache) EventFilter() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.policy.EventFilter
}

func (p *PolicyCache) NobleChannel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.policy.NobleAgoricChannelID
}
