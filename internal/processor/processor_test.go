package processor

import (
	"context"
	"testing"
	"time"

	"github.com/fastusdc/cctp-relayer/internal/config"
	"github.com/fastusdc/cctp-relayer/internal/db"
	"github.com/fastusdc/cctp-relayer/internal/state"
	"github.com/fastusdc/cctp-relayer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testNobleAddr  = "noble1x0ydg69dh6fqvr27xjvp6maqmrldam6yfelqkd"
	testSettlement = "agoric16kv2g7snfc4q24vg3pjdlnnqgngtjpwtetd2h689nz09lcklvh5s8u37ek"
	testRecipient  = testSettlement + "+osmo183dejcnmkka5dzcu9xw6mywq0p2m5peks28men"
)

type fakeResolver struct {
	accounts map[string]*types.ForwardingAccount
}

func (f *fakeResolver) Resolve(_ context.Context, nobleAddress string) *types.ForwardingAccount {
	return f.accounts[nobleAddress]
}

type fakePolicies struct {
	policies    map[string]types.ChainPolicy
	settlement  string
	eventFilter string
}

func (f *fakePolicies) ChainPolicy(chain string) (types.ChainPolicy, bool) {
	p, ok := f.policies[chain]
	return p, ok
}

func (f *fakePolicies) SettlementAccount() string { return f.settlement }

func (f *fakePolicies) NobleDomain() uint32 { return types.NobleCCTPDomain }

func (f *fakePolicies) EventFilter() string { return f.eventFilter }

func setupProcessorTest(t *testing.T) (*Processor, *state.State, *fakeResolver) {
	config.AppConfig.DbDir = t.TempDir()
	st := state.InitializeState(db.NewDatabaseManager())

	resolver := &fakeResolver{accounts: map[string]*types.ForwardingAccount{
		testNobleAddr: {Recipient: testRecipient, Channel: "channel-21"},
	}}
	policies := &fakePolicies{
		settlement: testSettlement,
		policies: map[string]types.ChainPolicy{
			"Ethereum": {
				ChainID:       1,
				Confirmations: 2,
				TxThresholds: []types.TxThreshold{
					{MaxAmount: 100000000, Confirmations: 2},
					{MaxAmount: 1000000000, Confirmations: 5},
				},
				RateLimits: types.RateLimits{
					Tx:              1000000000,
					BlockWindow:     10000000000,
					BlockWindowSize: 10,
				},
			},
		},
	}
	return NewProcessor(st, resolver, policies), st, resolver
}

func burnEvent() *types.DepositForBurnEvent {
	encoded, _ := types.EncodeMintRecipient(testNobleAddr)
	return &types.DepositForBurnEvent{
		TxHash:            "0x01e0b7e3fe7e4b4c1c0a9b2e7d31c2ee55c9a8b96a7d1a3c5b7d9f1e3a5c7e9b",
		BlockHash:         "0x90bdce30c6b67bf5733264114c6a325b9a29b1fb5b1f8cbc1b0160ed6b8f5a92",
		BlockNumber:       21037650,
		BlockTimestamp:    1730412800,
		Amount:            150000000,
		MintRecipient:     encoded,
		DestinationDomain: types.NobleCCTPDomain,
		Sender:            "0x9a9eE9e9e8F7e06154B1b9f9b3A2f6a9b8c7d6e5",
		Depositor:         "0x9a9eE9e9e8F7e06154B1b9f9b3A2f6a9b8c7d6e5",
	}
}

func TestProcessConfirmedEvent(t *testing.T) {
	p, st, _ := setupProcessorTest(t)

	ev, risks, err := p.Process(context.Background(), burnEvent(), "Ethereum", false)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Empty(t, risks)

	assert.Equal(t, types.TxStatusConfirmed, ev.Status)
	assert.Equal(t, uint64(150000000), ev.Amount)
	assert.Equal(t, testNobleAddr, ev.ForwardingAddress)
	assert.Equal(t, "channel-21", ev.ForwardingChannel)
	assert.Equal(t, testRecipient, ev.RecipientAddress)
	assert.Equal(t, int64(1), ev.ChainID)

	tx, err := st.GetTransaction("Ethereum", ev.TxHash)
	require.NoError(t, err)
	// 150000000 sits in the second threshold tier
	assert.Equal(t, uint64(21037650+5), tx.ConfirmationBlock)
	assert.Equal(t, "", tx.RisksIdentified)

	// risk-free amount lands in the block window
	assert.Equal(t, uint64(150000000), st.Window("Ethereum", 10).Total())
}

func TestProcessDuplicateIsNoop(t *testing.T) {
	p, st, _ := setupProcessorTest(t)

	ev, _, err := p.Process(context.Background(), burnEvent(), "Ethereum", false)
	require.NoError(t, err)
	require.NotNil(t, ev)

	ev, _, err = p.Process(context.Background(), burnEvent(), "Ethereum", false)
	require.NoError(t, err)
	assert.Nil(t, ev)

	// the window must not double-count
	assert.Equal(t, uint64(150000000), st.Window("Ethereum", 10).Total())

	count, err := st.GetGaugeValue("events_count", "Ethereum")
	require.NoError(t, err)
	assert.Equal(t, float64(1), count)
}

func TestProcessReorgRoundTrip(t *testing.T) {
	p, st, _ := setupProcessorTest(t)

	ev, _, err := p.Process(context.Background(), burnEvent(), "Ethereum", false)
	require.NoError(t, err)
	require.NotNil(t, ev)

	removed := burnEvent()
	removed.Removed = true
	ev, _, err = p.Process(context.Background(), removed, "Ethereum", false)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, types.TxStatusReorged, ev.Status)
	assert.Equal(t, uint64(150000000), ev.Amount)

	// reorged amount leaves the window
	assert.Equal(t, uint64(0), st.Window("Ethereum", 10).Total())

	// second removal is idempotent
	ev, _, err = p.Process(context.Background(), removed, "Ethereum", false)
	require.NoError(t, err)
	assert.Nil(t, ev)

	// audit record exists
	removedRows, err := st.GetRemovedSince(time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, removedRows, 1)
	assert.Equal(t, removed.TxHash, removedRows[0].TxHash)
}

func TestProcessRemovalOfUnseenTx(t *testing.T) {
	p, _, _ := setupProcessorTest(t)

	removed := burnEvent()
	removed.Removed = true
	ev, _, err := p.Process(context.Background(), removed, "Ethereum", false)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestProcessForeignDomainRejected(t *testing.T) {
	p, st, _ := setupProcessorTest(t)

	event := burnEvent()
	event.DestinationDomain = 3
	ev, _, err := p.Process(context.Background(), event, "Ethereum", false)
	require.NoError(t, err)
	assert.Nil(t, ev)

	_, err = st.GetTransaction("Ethereum", event.TxHash)
	assert.Error(t, err)
}

func TestProcessDepositorAllowList(t *testing.T) {
	p, _, _ := setupProcessorTest(t)
	pp := p.policies.(*fakePolicies)
	cp := pp.policies["Ethereum"]
	cp.AttenuatedCctpBridgeAddresses = []string{"0x1111111111111111111111111111111111111111"}
	pp.policies["Ethereum"] = cp

	ev, _, err := p.Process(context.Background(), burnEvent(), "Ethereum", false)
	require.NoError(t, err)
	assert.Nil(t, ev)

	// case-insensitive match admits the depositor
	cp.AttenuatedCctpBridgeAddresses = []string{"0x9A9EE9E9E8F7E06154B1B9F9B3A2F6A9B8C7D6E5"}
	pp.policies["Ethereum"] = cp
	ev, _, err = p.Process(context.Background(), burnEvent(), "Ethereum", false)
	require.NoError(t, err)
	assert.NotNil(t, ev)
}

func TestProcessNonForwardingRejected(t *testing.T) {
	p, _, resolver := setupProcessorTest(t)
	resolver.accounts = map[string]*types.ForwardingAccount{}

	ev, _, err := p.Process(context.Background(), burnEvent(), "Ethereum", false)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestProcessSettlementMismatchRejected(t *testing.T) {
	p, _, resolver := setupProcessorTest(t)
	resolver.accounts[testNobleAddr] = &types.ForwardingAccount{
		Recipient: "agoric1other000000000000000000000000000000000+osmo183dejcnmkka5dzcu9xw6mywq0p2m5peks28men",
		Channel:   "channel-21",
	}

	ev, _, err := p.Process(context.Background(), burnEvent(), "Ethereum", false)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestProcessUnknownRecipientRetained(t *testing.T) {
	p, st, resolver := setupProcessorTest(t)
	resolver.accounts[testNobleAddr] = &types.ForwardingAccount{
		Recipient: types.UnknownForwardingAccount,
		Channel:   "channel-21",
	}

	ev, _, err := p.Process(context.Background(), burnEvent(), "Ethereum", false)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, types.UnknownForwardingAccount, ev.RecipientAddress)

	tx, err := st.GetTransaction("Ethereum", ev.TxHash)
	require.NoError(t, err)
	assert.Equal(t, types.UnknownForwardingAccount, tx.ForwardingAddress)

	// counters wait for the sweep to resolve the recipient
	count, err := st.GetGaugeValue("events_count", "Ethereum")
	require.NoError(t, err)
	assert.Equal(t, float64(0), count)
}

func TestProcessRiskyEventFlaggedNotDropped(t *testing.T) {
	p, st, _ := setupProcessorTest(t)

	event := burnEvent()
	event.Amount = 5000000000
	ev, risks, err := p.Process(context.Background(), event, "Ethereum", false)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Contains(t, risks, types.RiskTxLimitExceeded)

	// risky amounts never advance the window
	assert.Equal(t, uint64(0), st.Window("Ethereum", 10).Total())

	tx, err := st.GetTransaction("Ethereum", event.TxHash)
	require.NoError(t, err)
	assert.Contains(t, tx.RisksIdentified, types.RiskTxLimitExceeded)
}

func TestProcessBackfillUsesDurableAggregate(t *testing.T) {
	p, _, _ := setupProcessorTest(t)

	first := burnEvent()
	first.Amount = 9900000000
	_, risks, err := p.Process(context.Background(), first, "Ethereum", true)
	require.NoError(t, err)
	// 9.9e9 exceeds the per-tx thresholds but fits the window cap
	assert.Contains(t, risks, types.RiskTxLimitExceeded)

	second := burnEvent()
	second.TxHash = "0x02e0b7e3fe7e4b4c1c0a9b2e7d31c2ee55c9a8b96a7d1a3c5b7d9f1e3a5c7e9b"
	second.BlockNumber = first.BlockNumber + 1
	second.Amount = 200000000
	// first event carried risks so it is excluded from the aggregate
	_, risks, err = p.Process(context.Background(), second, "Ethereum", true)
	require.NoError(t, err)
	assert.Empty(t, risks)
}
