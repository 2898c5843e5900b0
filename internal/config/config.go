package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var AppConfig Config

// ChainConfig describes one watched origin chain. The contract address is
// superseded by the policy's token messenger address once the feed policy
// has been loaded in PROD.
type ChainConfig struct {
	Name            string
	RPCURL          string
	ContractAddress string
	StartHeight     uint64
}

type Config struct {
	HTTPPort  string
	APISecret string
	DbDir     string
	LogLevel  logrus.Level
	Env       string

	Chains []ChainConfig

	NobleLCDURL      string
	NFAWorkerURL     string
	ExpectedChannel  string
	UnknownSweepback time.Duration
	UnknownSweepTick time.Duration

	AgoricRPCs          []string
	AgoricGRPCURI       string
	AgoricChainID       string
	AgoricAccountPrefix string
	AgoricDenom         string
	WatcherAddress      string
	WatcherPriKey       string
	WatcherInvitation   string

	TxTimeoutBlocks     int64
	QueryParamsInterval time.Duration
	AgoricCheckInterval time.Duration
	RPCReconnectDelay   time.Duration
	RPCStaleThreshold   time.Duration
	EvmRequestRetry     int
	EvmRequestInterval  time.Duration
	EvmJwtSecret        string
	EvmMaxBlockRange    uint64
}

func InitConfig() {
	// .env is optional, real env vars win
	_ = godotenv.Load()
	viper.AutomaticEnv()

	// Default config
	viper.SetDefault("HTTP_PORT", "3011")
	viper.SetDefault("API_SECRET", "")
	viper.SetDefault("DB_DIR", "/app/db")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("ENV", "PROD")
	viper.SetDefault("MAINNET_RPC_URL", "")
	viper.SetDefault("POLYGON_RPC_URL", "")
	viper.SetDefault("OPTIMISM_RPC_URL", "")
	viper.SetDefault("BASE_RPC_URL", "")
	viper.SetDefault("ARBITRUM_RPC_URL", "")
	viper.SetDefault("MAINNET_START_HEIGHT", 0)
	viper.SetDefault("POLYGON_START_HEIGHT", 0)
	viper.SetDefault("OPTIMISM_START_HEIGHT", 0)
	viper.SetDefault("BASE_START_HEIGHT", 0)
	viper.SetDefault("ARBITRUM_START_HEIGHT", 0)
	viper.SetDefault("NOBLE_LCD_URL", "https://noble-api.polkachu.com")
	viper.SetDefault("NFA_WORKER_ENDPOINT", "")
	viper.SetDefault("EXPECTED_NOBLE_CHANNEL_ID", "channel-21")
	viper.SetDefault("UNKNOWN_SWEEP_WINDOW", "120m")
	viper.SetDefault("UNKNOWN_SWEEP_INTERVAL", "60s")
	viper.SetDefault("AGORIC_RPCS", "https://agoric-rpc.polkachu.com")
	viper.SetDefault("AGORIC_GRPC_URI", "127.0.0.1:9090")
	viper.SetDefault("AGORIC_NETWORK", "agoric-3")
	viper.SetDefault("AGORIC_ACCOUNT_PREFIX", "agoric")
	viper.SetDefault("AGORIC_DENOM", "ubld")
	viper.SetDefault("WATCHER_WALLET_ADDRESS", "")
	viper.SetDefault("WATCHER_PRIVATE_KEY", "")
	viper.SetDefault("WATCHER_INVITATION_ID", "")
	viper.SetDefault("TX_TIMEOUT_BLOCKS", 3)
	viper.SetDefault("QUERY_PARAMS_INTERVAL", "300s")
	viper.SetDefault("AGORIC_RPC_CHECK_INTERVAL", "20s")
	viper.SetDefault("RPC_RECONNECT_DELAY", "3s")
	viper.SetDefault("RPC_STALE_THRESHOLD", "60s")
	viper.SetDefault("EVM_REQUEST_RETRY", 5)
	viper.SetDefault("EVM_REQUEST_INTERVAL", "2s")
	viper.SetDefault("EVM_JWT_SECRET", "")
	viper.SetDefault("EVM_MAX_BLOCK_RANGE", 10000)

	logLevel, err := logrus.ParseLevel(strings.ToLower(viper.GetString("LOG_LEVEL")))
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}

	AppConfig = Config{
		HTTPPort:  viper.GetString("HTTP_PORT"),
		APISecret: viper.GetString("API_SECRET"),
		DbDir:     viper.GetString("DB_DIR"),
		LogLevel:  logLevel,
		Env:       viper.GetString("ENV"),

		Chains: buildChains(),

		NobleLCDURL:      viper.GetString("NOBLE_LCD_URL"),
		NFAWorkerURL:     viper.GetString("NFA_WORKER_ENDPOINT"),
		ExpectedChannel:  viper.GetString("EXPECTED_NOBLE_CHANNEL_ID"),
		UnknownSweepback: viper.GetDuration("UNKNOWN_SWEEP_WINDOW"),
		UnknownSweepTick: viper.GetDuration("UNKNOWN_SWEEP_INTERVAL"),

		AgoricRPCs:          strings.Split(viper.GetString("AGORIC_RPCS"), ","),
		AgoricGRPCURI:       viper.GetString("AGORIC_GRPC_URI"),
		AgoricChainID:       viper.GetString("AGORIC_NETWORK"),
		AgoricAccountPrefix: viper.GetString("AGORIC_ACCOUNT_PREFIX"),
		AgoricDenom:         viper.GetString("AGORIC_DENOM"),
		WatcherAddress:      viper.GetString("WATCHER_WALLET_ADDRESS"),
		WatcherPriKey:       viper.GetString("WATCHER_PRIVATE_KEY"),
		WatcherInvitation:   viper.GetString("WATCHER_INVITATION_ID"),

		TxTimeoutBlocks:     viper.GetInt64("TX_TIMEOUT_BLOCKS"),
		QueryParamsInterval: viper.GetDuration("QUERY_PARAMS_INTERVAL"),
		AgoricCheckInterval: viper.GetDuration("AGORIC_RPC_CHECK_INTERVAL"),
		RPCReconnectDelay:   viper.GetDuration("RPC_RECONNECT_DELAY"),
		RPCStaleThreshold:   viper.GetDuration("RPC_STALE_THRESHOLD"),
		EvmRequestRetry:     viper.GetInt("EVM_REQUEST_RETRY"),
		EvmRequestInterval:  viper.GetDuration("EVM_REQUEST_INTERVAL"),
		EvmJwtSecret:        viper.GetString("EVM_JWT_SECRET"),
		EvmMaxBlockRange:    viper.GetUint64("EVM_MAX_BLOCK_RANGE"),
	}

	if AppConfig.WatcherAddress == "" {
		logrus.Fatal("WATCHER_WALLET_ADDRESS cannot be empty")
	}
	if AppConfig.WatcherPriKey == "" {
		logrus.Fatal("WATCHER_PRIVATE_KEY cannot be empty")
	}
}

// buildChains returns the supported chains that have an RPC URL configured.
// Contract addresses are the CCTP TokenMessenger deployments.
func buildChains() []ChainConfig {
	all := []ChainConfig{
		{Name: "Ethereum", RPCURL: viper.GetString("MAINNET_RPC_URL"), ContractAddress: "0xBd3fa81B58Ba92a82136038B25aDec7066af3155", StartHeight: viper.GetUint64("MAINNET_START_HEIGHT")},
		{Name: "Polygon", RPCURL: viper.GetString("POLYGON_RPC_URL"), ContractAddress: "0x9daF8c91AEFAE50b9c0E69629D3F6Ca40cA3B3FE", StartHeight: viper.GetUint64("POLYGON_START_HEIGHT")},
		{Name: "Optimism", RPCURL: viper.GetString("OPTIMISM_RPC_URL"), ContractAddress: "0x2B4069517957735bE00ceE0fadAE88a26365528f", StartHeight: viper.GetUint64("OPTIMISM_START_HEIGHT")},
		{Name: "Base", RPCURL: viper.GetString("BASE_RPC_URL"), ContractAddress: "0x1682Ae6375C4E4A97e4B583BC394c861A46D8962", StartHeight: viper.GetUint64("BASE_START_HEIGHT")},
		{Name: "Arbitrum", RPCURL: viper.GetString("ARBITRUM_RPC_URL"), ContractAddress: "0x19330d10D9Cc8751218eaf51E8885D058642E08A", StartHeight: viper.GetUint64("ARBITRUM_START_HEIGHT")},
	}
	chains := make([]ChainConfig, 0, len(all))
	for _, c := range all {
		if c.RPCURL != "" {
			chains = append(chains, c)
		}
	}
	return chains
}
