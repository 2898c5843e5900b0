package agoric

import (
	"context"
	"testing"

	"github.com/fastusdc/cctp-relayer/internal/config"
	"github.com/fastusdc/cctp-relayer/internal/db"
	"github.com/fastusdc/cctp-relayer/internal/state"
	"github.com/go-errors/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedPolicyFixture = `{"body":"#{\"chainPolicies\":{\"Ethereum\":{\"attenuatedCttpBridgeAddresses\":[\"0x92d6A8C91AEFAE50b9c0E69629D3F6Ca40cA3B3F\"],\"cctpTokenMessengerAddress\":\"0xBd3fa81B58Ba92a82136038B25aDec7066af3155\",\"chainId\":1,\"confirmations\":2,\"rateLimits\":{\"blockWindow\":\"+20000000000\",\"blockWindowSize\":10,\"tx\":\"+10000000000\"},\"txThresholds\":[{\"confirmations\":2,\"maxAmount\":\"+100000000\"},{\"confirmations\":5,\"maxAmount\":\"+1000000000\"}]},\"Arbitrum\":{\"attenuatedCttpBridgeAddresses\":[],\"nobleContractAddress\":\"0x19330d10D9Cc8751218eaf51E8885D058642E08A\",\"chainId\":42161,\"confirmations\":96}},\"eventFilter\":\"DepositForBurn(uint64,address,uint256,bytes32,uint32,bytes32,bytes32)\",\"nobleAgoricChannelId\":\"channel-21\",\"nobleDomainId\":4}","slots":[]}`

const contractRecordFixture = `{"body":"#{\"poolAccount\":\"agoric1pool\",\"settlementAccount\":\"agoric16kv2g7snfc4q24vg3pjdlnnqgngtjpwtetd2h689nz09lcklvh5s8u37ek\"}","slots":[]}`

type fakeVstorage struct {
	cells map[string][]string
	err   error
}

func (f *fakeVstorage) ReadVstorage(ctx context.Context, path string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.cells[path], nil
}

func setupPolicyTest(t *testing.T, reader vstorageReader) *PolicyCache {
	config.AppConfig.DbDir = t.TempDir()
	st := state.InitializeState(db.NewDatabaseManager())
	return NewPolicyCache(reader, st)
}

func TestPolicyRefreshParsesFeedPolicy(t *testing.T) {
	p := setupPolicyTest(t, &fakeVstorage{cells: map[string][]string{
		feedPolicyPath: {`{"body":"#{\"stale\":true}","slots":[]}`, feedPolicyFixture},
		contractPath:   {contractRecordFixture},
	}})

	require.NoError(t, p.Load(context.Background()))

	assert.Equal(t, uint32(4), p.NobleDomain())
	assert.Equal(t, "channel-21", p.NobleChannel())
	assert.Equal(t, "agoric16kv2g7snfc4q24vg3pjdlnnqgngtjpwtetd2h689nz09lcklvh5s8u37ek", p.SettlementAccount())

	eth, ok := p.ChainPolicy("Ethereum")
	require.True(t, ok)
	assert.Equal(t, int64(1), eth.ChainID)
	assert.Equal(t, "0xBd3fa81B58Ba92a82136038B25aDec7066af3155", eth.CctpTokenMessengerAddress)
	assert.Equal(t, uint64(2), eth.Confirmations)
	assert.Equal(t, uint64(10000000000), eth.RateLimits.Tx)
	assert.Equal(t, uint64(20000000000), eth.RateLimits.BlockWindow)
	assert.Equal(t, 10, eth.RateLimits.BlockWindowSize)
	require.Len(t, eth.TxThresholds, 2)
	assert.Equal(t, uint64(100000000), eth.TxThresholds[0].MaxAmount)
	assert.Equal(t, uint64(5), eth.TxThresholds[1].Confirmations)

	// messenger address falls back to the legacy field name
	arb, ok := p.ChainPolicy("Arbitrum")
	require.True(t, ok)
	assert.Equal(t, "0x19330d10D9Cc8751218eaf51E8885D058642E08A", arb.CctpTokenMessengerAddress)
	assert.Zero(t, arb.RateLimits.Tx)
	assert.Empty(t, arb.TxThresholds)

	_, ok = p.ChainPolicy("Base")
	assert.False(t, ok)
}

func TestPolicyLoadRejectsZeroNobleDomain(t *testing.T) {
	p := setupPolicyTest(t, &fakeVstorage{cells: map[string][]string{
		feedPolicyPath: {`{"body":"#{\"chainPolicies\":{},\"nobleDomainId\":0}","slots":[]}`},
		contractPath:   {contractRecordFixture},
	}})
	assert.Error(t, p.Load(context.Background()))
}

func TestPolicyRefreshKeepsLastGoodPolicy(t *testing.T) {
	reader := &fakeVstorage{cells: map[string][]string{
		feedPolicyPath: {feedPolicyFixture},
		contractPath:   {contractRecordFixture},
	}}
	p := setupPolicyTest(t, reader)
	require.NoError(t, p.Load(context.Background()))

	reader.err = errors.New("rpc unavailable")
	assert.Error(t, p.Refresh(context.Background()))

	_, ok := p.ChainPolicy("Ethereum")
	assert.True(t, ok)
	assert.Equal(t, uint32(4), p.NobleDomain())
}

func TestPolicyRefreshRequiresPublishedPolicy(t *testing.T) {
	p := setupPolicyTest(t, &fakeVstorage{cells: map[string][]string{}})
	assert.Error(t, p.Refresh(context.Background()))
}
