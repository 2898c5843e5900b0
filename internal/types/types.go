package types

// Transaction status on an origin chain.
const (
	TxStatusConfirmed = "CONFIRMED"
	TxStatusReorged   = "REORGED"
)

// Submission status on the destination chain.
const (
	SubmissionInflight  = "INFLIGHT"
	SubmissionSubmitted = "SUBMITTED"
	SubmissionCancelled = "CANCELLED"
	SubmissionFailed    = "FAILED"
)

// Risk flags attached to evidence instead of dropping it; the destination
// contract makes the final accept/reject call.
const (
	RiskTxLimitExceeded         = "TX_LIMIT_EXCEEDED"
	RiskBlockRangeLimitExceeded = "BLOCK_RANGE_LIMIT_EXCEEDED"
)

// UnknownForwardingAccount marks a transaction whose forwarding account could
// not be resolved yet. Such rows are retried by the unknown-recipient sweep.
const UnknownForwardingAccount = "UNKNOWN"

// NobleCCTPDomain is the CCTP destination domain id of the Noble chain.
const NobleCCTPDomain = 4

// DepositForBurnEvent is one decoded DepositForBurn log from an origin chain.
type DepositForBurnEvent struct {
	TxHash            string
	BlockHash         string
	BlockNumber       uint64
	BlockTimestamp    uint64
	Removed           bool
	Amount            uint64
	MintRecipient     string // 32-byte hex encoding of the noble address
	DestinationDomain uint32
	Sender            string
	Depositor         string
}

// ForwardingAccount is the resolved forwarding target of a noble address.
type ForwardingAccount struct {
	Recipient string
	Channel   string
}

// Evidence is the normalized record of a qualifying burn event, submitted to
// the destination chain for settlement.
type Evidence struct {
	Amount            uint64
	Status            string
	BlockHash         string
	BlockNumber       uint64
	BlockTimestamp    uint64
	ForwardingAddress string
	ForwardingChannel string
	RecipientAddress  string
	TxHash            string
	ChainID           int64
	Sender            string
}

// TxThreshold maps a maximum amount to the confirmation depth it requires.
type TxThreshold struct {
	MaxAmount     uint64
	Confirmations uint64
}

// RateLimits bounds the per-tx amount and the rolling block-window amount.
type RateLimits struct {
	Tx              uint64
	BlockWindow     uint64
	BlockWindowSize int
}

// ChainPolicy is the per origin chain policy published on the destination
// ledger. Mutated only by the periodic policy refresh, read-mostly elsewhere.
type ChainPolicy struct {
	AttenuatedCctpBridgeAddresses []string
	CctpTokenMessengerAddress     string
	ChainID                       int64
	Confirmations                 uint64
	RateLimits                    RateLimits
	TxThresholds                  []TxThreshold
}

// FeedPolicy is the full policy document read from the destination ledger.
type FeedPolicy struct {
	ChainPolicies        map[string]ChainPolicy
	EventFilter          string
	NobleAgoricChannelID string
	NobleDomainID        uint32
}

// BlockSum is one entry of the rolling block-window accounting.
type BlockSum struct {
	Block uint64
	Sum   uint64
}
