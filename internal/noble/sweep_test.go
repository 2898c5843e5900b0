package noble

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/fastusdc/cctp-relayer/internal/config"
	"github.com/fastusdc/cctp-relayer/internal/db"
	"github.com/fastusdc/cctp-relayer/internal/state"
	"github.com/fastusdc/cctp-relayer/internal/types"
	"github.com/stretchr/testify/require"
)

func unknownRecipientTx(txHash string) *db.Transaction {
	return &db.Transaction{
		Chain:             "Ethereum",
		ChainID:           1,
		TxHash:            txHash,
		BlockNumber:       100,
		Amount:            5000,
		Recipient:         testNobleAddr,
		ForwardingAddress: types.UnknownForwardingAccount,
		Status:            types.TxStatusConfirmed,
	}
}

func TestSweepResolvesOnScannedBlocks(t *testing.T) {
	r, st := setupResolverTest(t, func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, forwardingAccountJSON("channel-21", testRecipient))
	})
	config.AppConfig.UnknownSweepTick = 50 * time.Millisecond
	config.AppConfig.UnknownSweepback = time.Hour

	_, err := st.SaveTransaction(unknownRecipientTx("0xaa"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewSweep(st, r).Start(ctx)

	// publish until the subscriber is attached and has swept the row
	require.Eventually(t, func() bool {
		st.EventBus.Publish(state.BlockScanned, state.BlockScannedEvent{Chain: "Ethereum", Height: 101})
		tx, err := st.GetTransaction("Ethereum", "0xaa")
		return err == nil && tx.ForwardingAddress == testRecipient
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSweepDropsNonForwardingRecipient(t *testing.T) {
	r, st := setupResolverTest(t, func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"account":{"@type":"/cosmos.auth.v1beta1.BaseAccount"}}`)
	})
	config.AppConfig.UnknownSweepTick = 50 * time.Millisecond
	config.AppConfig.UnknownSweepback = time.Hour

	_, err := st.SaveTransaction(unknownRecipientTx("0xbb"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewSweep(st, r).Start(ctx)

	require.Eventually(t, func() bool {
		st.EventBus.Publish(state.BlockScanned, state.BlockScannedEvent{Chain: "Ethereum", Height: 101})
		_, err := st.GetTransaction("Ethereum", "0xbb")
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
}
