package agoric

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fastusdc/cctp-relayer/internal/config"
	"github.com/fastusdc/cctp-relayer/internal/db"
	"github.com/fastusdc/cctp-relayer/internal/state"
	"github.com/fastusdc/cctp-relayer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroadcaster struct {
	results   []*BroadcastResult
	calls     []fakeBroadcastCall
	callIndex int
}

type fakeBroadcastCall struct {
	spendAction   string
	sequence      uint64
	timeoutHeight uint64
}

func (f *fakeBroadcaster) SubmitWalletAction(ctx context.Context, spendAction string, accountNumber, sequence uint64, timeoutHeight uint64) (*BroadcastResult, error) {
	f.calls = append(f.calls, fakeBroadcastCall{spendAction: spendAction, sequence: sequence, timeoutHeight: timeoutHeight})
	result := f.results[f.callIndex]
	if f.callIndex < len(f.results)-1 {
		f.callIndex++
	}
	return result, nil
}

func setupSubmitterTest(t *testing.T, results ...*BroadcastResult) (*fakeBroadcaster, *state.State, *Submitter) {
	config.AppConfig.DbDir = t.TempDir()
	config.AppConfig.WatcherInvitation = "watcherInvitation-1"
	config.AppConfig.TxTimeoutBlocks = 3
	st := state.InitializeState(db.NewDatabaseManager())
	st.Account.SetSequence(7)
	broadcaster := &fakeBroadcaster{results: results}
	return broadcaster, st, NewSubmitter(broadcaster, st)
}

func acceptedResult() *BroadcastResult {
	return &BroadcastResult{Code: 0, TxHash: "B0B1"}
}

func TestSubmitRecordsInflightSubmission(t *testing.T) {
	broadcaster, st, s := setupSubmitterTest(t, acceptedResult())

	evidence := &types.Evidence{
		TxHash:            "0xc81bc6105b60a234c7c50ac17816ebcd5561d366df8bf3be59ff387552761702",
		Status:            types.TxStatusConfirmed,
		Amount:            150000000,
		BlockHash:         "0x90d7343e04f8160892e94f02d6a9b9f255663ed0ac34caca98544c8143fee699",
		BlockNumber:       21037669,
		BlockTimestamp:    1730762099,
		ForwardingAddress: "noble1x0ydg69dh6fqvr27xjvp6maqmrldam6yfelqkd",
		ForwardingChannel: "channel-21",
		RecipientAddress:  "agoric16kv2g7snfc4q24vg3pjdlnnqgngtjpwtetd2h689nz09lcklvh5s8u37ek",
		ChainID:           1,
	}
	require.NoError(t, s.Submit(context.Background(), evidence, nil, &Status{Height: 500}))

	require.Len(t, broadcaster.calls, 1)
	call := broadcaster.calls[0]
	assert.Equal(t, uint64(7), call.sequence)
	assert.Equal(t, uint64(503), call.timeoutHeight)
	assert.Equal(t, uint64(8), st.Account.Sequence())

	var cd CapData
	require.NoError(t, json.Unmarshal([]byte(call.spendAction), &cd))
	assert.True(t, strings.HasPrefix(cd.Body, "#"))
	assert.Contains(t, cd.Body, `"method":"executeOffer"`)
	assert.Contains(t, cd.Body, `"previousOffer":"watcherInvitation-1"`)
	assert.Contains(t, cd.Body, `"invitationMakerName":"SubmitEvidence"`)
	assert.Contains(t, cd.Body, `"amount":"+150000000"`)
	assert.NotContains(t, cd.Body, "risksIdentified")

	sub, err := st.GetSubmission(evidence.TxHash, false)
	require.NoError(t, err)
	assert.Equal(t, types.SubmissionInflight, sub.SubmissionStatus)
	assert.Equal(t, int64(503), sub.TimeoutHeight)
	assert.Equal(t, "B0B1", sub.BroadcastTxHash)
}

func TestSubmitIncludesRisks(t *testing.T) {
	broadcaster, _, s := setupSubmitterTest(t, acceptedResult())

	evidence := &types.Evidence{TxHash: "0xa1", Status: types.TxStatusConfirmed, ChainID: 1}
	require.NoError(t, s.Submit(context.Background(), evidence, []string{types.RiskTxLimitExceeded}, &Status{Height: 500}))

	require.Len(t, broadcaster.calls, 1)
	assert.Contains(t, broadcaster.calls[0].spendAction, "TX_LIMIT_EXCEEDED")
}

func TestSubmitSkipsWhilePendingWithinTimeout(t *testing.T) {
	broadcaster, st, s := setupSubmitterTest(t, acceptedResult())

	evidence := &types.Evidence{TxHash: "0xa2", Status: types.TxStatusConfirmed, ChainID: 1}
	require.NoError(t, s.Submit(context.Background(), evidence, nil, &Status{Height: 500}))
	require.NoError(t, s.Submit(context.Background(), evidence, nil, &Status{Height: 501}))
	assert.Len(t, broadcaster.calls, 1)

	// past the timeout height it broadcasts again with a fresh offer id
	require.NoError(t, s.Submit(context.Background(), evidence, nil, &Status{Height: 504}))
	assert.Len(t, broadcaster.calls, 2)
	assert.Equal(t, uint64(9), st.Account.Sequence())
}

func TestSubmitReorgCancelsConfirmedSubmission(t *testing.T) {
	broadcaster, st, s := setupSubmitterTest(t, acceptedResult())

	confirmed := &types.Evidence{TxHash: "0xa3", Status: types.TxStatusConfirmed, ChainID: 1}
	require.NoError(t, s.Submit(context.Background(), confirmed, nil, &Status{Height: 500}))

	reorged := &types.Evidence{TxHash: "0xa3", Status: types.TxStatusReorged, ChainID: 1}
	require.NoError(t, s.Submit(context.Background(), reorged, nil, &Status{Height: 501}))
	assert.Len(t, broadcaster.calls, 2)

	prior, err := st.GetSubmission("0xa3", false)
	require.NoError(t, err)
	assert.Equal(t, types.SubmissionCancelled, prior.SubmissionStatus)

	retraction, err := st.GetSubmission("0xa3", true)
	require.NoError(t, err)
	assert.Equal(t, types.SubmissionInflight, retraction.SubmissionStatus)
}

func TestSubmitRetriesOnSequenceMismatch(t *testing.T) {
	broadcaster, st, s := setupSubmitterTest(t,
		&BroadcastResult{Code: 32, RawLog: "account sequence mismatch, expected 12, got 7: incorrect account sequence"},
		acceptedResult(),
	)

	evidence := &types.Evidence{TxHash: "0xa4", Status: types.TxStatusConfirmed, ChainID: 1}
	require.NoError(t, s.Submit(context.Background(), evidence, nil, &Status{Height: 500}))

	require.Len(t, broadcaster.calls, 2)
	assert.Equal(t, uint64(7), broadcaster.calls[0].sequence)
	assert.Equal(t, uint64(12), broadcaster.calls[1].sequence)
	assert.Equal(t, uint64(13), st.Account.Sequence())
}

func TestSubmitRejectedTxReturnsError(t *testing.T) {
	broadcaster, st, s := setupSubmitterTest(t, &BroadcastResult{Code: 5, RawLog: "insufficient funds"})

	evidence := &types.Evidence{TxHash: "0xa5", Status: types.TxStatusConfirmed, ChainID: 1}
	err := s.Submit(context.Background(), evidence, nil, &Status{Height: 500})
	require.Error(t, err)
	assert.Len(t, broadcaster.calls, 1)
	assert.Equal(t, uint64(7), st.Account.Sequence())

	_, err = st.GetSubmission("0xa5", false)
	assert.Error(t, err)
}
