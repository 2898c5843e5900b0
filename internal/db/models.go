package db

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Transaction model, one row per observed DepositForBurn transaction
type Transaction struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Chain             string    `gorm:"not null;index:unique_chain_tx_hash,unique" json:"chain"`
	ChainID           int64     `gorm:"not null" json:"chain_id"`
	TxHash            string    `gorm:"not null;index:unique_chain_tx_hash,unique" json:"tx_hash"`
	BlockHash         string    `gorm:"not null" json:"block_hash"`
	BlockNumber       uint64    `gorm:"not null;index" json:"block_number"`
	BlockTimestamp    uint64    `gorm:"not null" json:"block_timestamp"`
	Amount            uint64    `gorm:"not null" json:"amount"`
	Sender            string    `gorm:"not null" json:"sender"`
	Depositor         string    `gorm:"not null" json:"depositor"`
	Recipient         string    `gorm:"not null" json:"recipient"` // noble forwarding address
	ForwardingAddress string    `json:"forwarding_address"`        // agoric settlement base address
	ForwardingChannel string    `json:"forwarding_channel"`
	Status            string    `gorm:"not null;index" json:"status"` // "CONFIRMED", "REORGED"
	RisksIdentified   string    `json:"risks_identified"`             // comma separated risk flags
	ConfirmationBlock uint64    `gorm:"not null;index" json:"confirmation_block"`
	CreatedAt         time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time `gorm:"not null" json:"updated_at"`
}

// Submission model, one row per broadcast attempt; a REORGED submission is a
// distinct row from the CONFIRMED one for the same tx hash
type Submission struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	OfferID          string    `gorm:"not null;uniqueIndex" json:"offer_id"`
	TxHash           string    `gorm:"not null;index:unique_tx_hash_reorged,unique" json:"tx_hash"`
	Reorged          bool      `gorm:"not null;index:unique_tx_hash_reorged,unique" json:"reorged"`
	SubmissionStatus string    `gorm:"not null;index" json:"submission_status"` // "INFLIGHT", "SUBMITTED", "CANCELLED", "FAILED"
	TimeoutHeight    int64     `gorm:"not null" json:"timeout_height"`
	BroadcastTxHash  string    `json:"broadcast_tx_hash"`
	UpdatedAt        time.Time `gorm:"not null" json:"updated_at"`
}

// RemovedTx model, audit log of reorged-out transactions
type RemovedTx struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Chain       string    `gorm:"not null" json:"chain"`
	TxHash      string    `gorm:"not null;index" json:"tx_hash"`
	BlockHash   string    `gorm:"not null" json:"block_hash"`
	BlockNumber uint64    `gorm:"not null" json:"block_number"`
	Amount      uint64    `gorm:"not null" json:"amount"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}

// NobleAccount model, forwarding account resolution cache
type NobleAccount struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	NobleAddress string    `gorm:"not null;uniqueIndex" json:"noble_address"`
	Recipient    string    `json:"recipient"` // agoric address hook, empty when unknown
	Channel      string    `json:"channel"`
	IsForwarding bool      `gorm:"not null" json:"is_forwarding"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

// ChainHeight model, last processed height per chain (only 1 record per chain)
type ChainHeight struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Chain      string    `gorm:"not null;uniqueIndex" json:"chain"`
	LastHeight uint64    `gorm:"not null" json:"last_height"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

// NodeState model (only 1 record)
type NodeState struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	LastOfferID string    `json:"last_offer_id"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

// GaugeValue model, persisted metric values restored on restart
type GaugeValue struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Gauge     string    `gorm:"not null;index:unique_gauge_chain,unique" json:"gauge"`
	Chain     string    `gorm:"not null;index:unique_gauge_chain,unique" json:"chain"`
	Value     float64   `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (dm *DatabaseManager) autoMigrate() {
	if err := dm.relayerDb.AutoMigrate(&Transaction{}, &Submission{}, &RemovedTx{}, &NodeState{}); err != nil {
		log.Fatalf("Failed to migrate relayer database: %v", err)
	}
	if err := dm.cacheDb.AutoMigrate(&NobleAccount{}, &ChainHeight{}, &GaugeValue{}); err != nil {
		log.Fatalf("Failed to migrate cache database: %v", err)
	}
}
