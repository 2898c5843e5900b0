package evm

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/node"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/fastusdc/cctp-relayer/internal/config"
	"github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"
)

// Client wraps one origin-chain RPC connection. Auxiliary lookups retry a
// bounded number of times because freshly subscribed logs can reference
// blocks the RPC node has not indexed yet.
type Client struct {
	eth   *ethclient.Client
	chain string
}

// DialEthClient connects to an origin chain with optional JWT authentication.
func DialEthClient(ctx context.Context, chain, rpcURL string) (*Client, error) {
	var opts []rpc.ClientOption

	if config.AppConfig.EvmJwtSecret != "" {
		jwtSecret := common.FromHex(strings.TrimSpace(config.AppConfig.EvmJwtSecret))
		if len(jwtSecret) != 32 {
			return nil, errors.New("jwt secret is not a 32 bytes hex string")
		}
		var jwtKey [32]byte
		copy(jwtKey[:], jwtSecret)
		opts = append(opts, rpc.WithHTTPAuth(node.NewJWTAuth(jwtKey)))
	}
	dialCtx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()
	client, err := rpc.DialOptions(dialCtx, rpcURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{eth: ethclient.NewClient(client), chain: chain}, nil
}

func (c *Client) Eth() *ethclient.Client {
	return c.eth
}

func (c *Client) Close() {
	c.eth.Close()
}

// BlockTimestamp fetches the timestamp of a block by hash with bounded retry.
func (c *Client) BlockTimestamp(ctx context.Context, blockHash string) (uint64, error) {
	var header *ethtypes.Header
	err := c.withRetry(ctx, "header by hash", func() error {
		var err error
		header, err = c.eth.HeaderByHash(ctx, common.HexToHash(blockHash))
		return err
	})
	if err != nil {
		return 0, err
	}
	return header.Time, nil
}

// TxSender recovers the from address of a transaction with bounded retry.
func (c *Client) TxSender(ctx context.Context, txHash string) (string, error) {
	var sender common.Address
	err := c.withRetry(ctx, "transaction by hash", func() error {
		tx, _, err := c.eth.TransactionByHash(ctx, common.HexToHash(txHash))
		if err != nil {
			return err
		}
		sender, err = ethtypes.Sender(ethtypes.LatestSignerForChainID(tx.ChainId()), tx)
		return err
	})
	if err != nil {
		return "", err
	}
	return sender.Hex(), nil
}

func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for i := 0; i < config.AppConfig.EvmRequestRetry; i++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		log.Debugf("Retrying %s, chain: %s, attempt: %d, error: %v", op, c.chain, i+1, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(config.AppConfig.EvmRequestInterval):
		}
	}
	return errors.Errorf("%s failed after %d attempts on %s: %v", op, config.AppConfig.EvmRequestRetry, c.chain, lastErr)
}
