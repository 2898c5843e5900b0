package agoric

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	swingsettypes "github.com/Agoric/agoric-sdk/golang/cosmos/x/swingset/types"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	"github.com/cosmos/cosmos-sdk/client/flags"
	"github.com/cosmos/cosmos-sdk/client/tx"
	"github.com/cosmos/cosmos-sdk/crypto/keys/secp256k1"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/cosmos-sdk/types/bech32"
	sdktx "github.com/cosmos/cosmos-sdk/types/tx"
	"github.com/cosmos/cosmos-sdk/types/tx/signing"
	authsigning "github.com/cosmos/cosmos-sdk/x/auth/signing"
	authtypes "github.com/cosmos/cosmos-sdk/x/auth/types"
	"github.com/fastusdc/cctp-relayer/internal/config"
	"github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Status is a condensed view of the destination-chain node state. A node is
// treated as syncing when it reports catching up or when its latest block is
// older than a minute, which catches stalled-but-connected nodes.
type Status struct {
	Height  int64
	Syncing bool
}

type BroadcastResult struct {
	Code   uint32
	RawLog string
	TxHash string
}

// Client talks to the destination chain: cometbft RPC for status and
// vstorage reads, gRPC for account queries and tx broadcast. The RPC
// endpoint rotates through the configured list on failure.
type Client struct {
	mu        sync.Mutex
	rpcURLs   []string
	rpcIndex  int
	rpcClient *rpchttp.HTTP

	grpcConn    *grpc.ClientConn
	queryClient authtypes.QueryClient
	encoding    EncodingConfig

	privKey *secp256k1.PrivKey
	address string
}

func NewClient() (*Client, error) {
	rpcURLs := config.AppConfig.AgoricRPCs
	if len(rpcURLs) == 0 {
		return nil, errors.New("no destination RPC endpoints configured")
	}
	rpcClient, err := rpchttp.New(rpcURLs[0], "/")
	if err != nil {
		return nil, err
	}
	grpcConn, err := grpc.NewClient(config.AppConfig.AgoricGRPCURI, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	privKeyBytes, err := hex.DecodeString(config.AppConfig.WatcherPriKey)
	if err != nil {
		return nil, errors.Errorf("invalid watcher private key: %v", err)
	}
	privKey := &secp256k1.PrivKey{Key: privKeyBytes}
	address, err := bech32.ConvertAndEncode(config.AppConfig.AgoricAccountPrefix, privKey.PubKey().Address().Bytes())
	if err != nil {
		return nil, err
	}
	if address != config.AppConfig.WatcherAddress {
		return nil, errors.Errorf("watcher key derives %s, configured address is %s", address, config.AppConfig.WatcherAddress)
	}

	return &Client{
		rpcURLs:     rpcURLs,
		rpcClient:   rpcClient,
		grpcConn:    grpcConn,
		queryClient: authtypes.NewQueryClient(grpcConn),
		encoding:    makeEncodingConfig(),
		privKey:     privKey,
		address:     address,
	}, nil
}

func (c *Client) Address() string {
	return c.address
}

func (c *Client) rpc() *rpchttp.HTTP {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rpcClient
}

// RotateRPC advances to the next configured RPC endpoint.
func (c *Client) RotateRPC() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rpcIndex = (c.rpcIndex + 1) % len(c.rpcURLs)
	next, err := rpchttp.New(c.rpcURLs[c.rpcIndex], "/")
	if err != nil {
		log.Errorf("Failed to dial destination RPC %s: %v", c.rpcURLs[c.rpcIndex], err)
		return
	}
	c.rpcClient = next
	log.Warnf("Rotated destination RPC to %s", c.rpcURLs[c.rpcIndex])
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	st, err := c.rpc().Status(ctx)
	if err != nil {
		return nil, err
	}
	syncing := st.SyncInfo.CatchingUp || time.Since(st.SyncInfo.LatestBlockTime) > time.Minute
	return &Status{
		Height:  st.SyncInfo.LatestBlockHeight,
		Syncing: syncing,
	}, nil
}

// QueryAccount fetches the watcher account number and sequence.
func (c *Client) QueryAccount(ctx context.Context) (accountNumber, sequence uint64, err error) {
	resp, err := c.queryClient.Account(ctx, &authtypes.QueryAccountRequest{Address: c.address})
	if err != nil {
		return 0, 0, err
	}
	var account sdk.AccountI
	if err = c.encoding.Codec.UnpackAny(resp.GetAccount(), &account); err != nil {
		return 0, 0, err
	}
	return account.GetAccountNumber(), account.GetSequence(), nil
}

// SubmitWalletAction signs and broadcasts a wallet spend action with the
// given sequence and timeout height.
func (c *Client) SubmitWalletAction(ctx context.Context, spendAction string, accountNumber, sequence uint64, timeoutHeight uint64) (*BroadcastResult, error) {
	txConfig := c.encoding.TxConfig
	txBuilder := txConfig.NewTxBuilder()

	owner := sdk.AccAddress(c.privKey.PubKey().Address().Bytes())
	msg := swingsettypes.NewMsgWalletSpendAction(owner, spendAction)
	if err := txBuilder.SetMsgs(msg); err != nil {
		return nil, err
	}

	fees := sdk.NewCoins(sdk.NewInt64Coin(config.AppConfig.AgoricDenom, 2000))
	txBuilder.SetGasLimit(uint64(flags.DefaultGasLimit))
	txBuilder.SetFeeAmount(fees)
	txBuilder.SetTimeoutHeight(timeoutHeight)

	if err := txBuilder.SetSignatures(signing.SignatureV2{
		PubKey: c.privKey.PubKey(),
		Data: &signing.SingleSignatureData{
			SignMode:  signing.SignMode(txConfig.SignModeHandler().DefaultMode()),
			Signature: nil,
		},
		Sequence: sequence,
	}); err != nil {
		return nil, err
	}

	signerData := authsigning.SignerData{
		ChainID:       config.AppConfig.AgoricChainID,
		AccountNumber: accountNumber,
		Sequence:      sequence,
	}
	sigV2, err := tx.SignWithPrivKey(ctx, signing.SignMode(txConfig.SignModeHandler().DefaultMode()), signerData, txBuilder, c.privKey, txConfig, sequence)
	if err != nil {
		return nil, err
	}
	if err = txBuilder.SetSignatures(sigV2); err != nil {
		return nil, err
	}

	txBytes, err := txConfig.TxEncoder()(txBuilder.GetTx())
	if err != nil {
		return nil, err
	}

	serviceClient := sdktx.NewServiceClient(c.grpcConn)
	txResp, err := serviceClient.BroadcastTx(ctx, &sdktx.BroadcastTxRequest{
		Mode:    sdktx.BroadcastMode_BROADCAST_MODE_SYNC,
		TxBytes: txBytes,
	})
	if err != nil {
		return nil, err
	}

	return &BroadcastResult{
		Code:   txResp.TxResponse.Code,
		RawLog: txResp.TxResponse.RawLog,
		TxHash: txResp.TxResponse.TxHash,
	}, nil
}

// ReadVstorage returns the history cells stored at a vstorage path, newest
// last. Each cell is a CapData JSON string.
func (c *Client) ReadVstorage(ctx context.Context, path string) ([]string, error) {
	resp, err := c.rpc().ABCIQuery(ctx, fmt.Sprintf("custom/vstorage/data/%s", path), nil)
	if err != nil {
		return nil, err
	}
	if resp.Response.Code != 0 {
		return nil, errors.Errorf("vstorage query failed for %s: %s", path, resp.Response.Log)
	}
	if len(resp.Response.Value) == 0 {
		return nil, nil
	}

	var outer struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(resp.Response.Value, &outer); err != nil {
		return nil, errors.Errorf("failed to decode vstorage response for %s: %v", path, err)
	}

	// stream cells carry {blockHeight, values}; plain cells are bare strings
	var cell struct {
		BlockHeight string   `json:"blockHeight"`
		Values      []string `json:"values"`
	}
	if err := json.Unmarshal([]byte(outer.Value), &cell); err == nil && len(cell.Values) > 0 {
		return cell.Values, nil
	}
	return []string{outer.Value}, nil
}
