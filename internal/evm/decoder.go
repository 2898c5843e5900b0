package evm

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/fastusdc/cctp-relayer/internal/types"
	"github.com/go-errors/errors"
)

// TokenMessengerABI covers the single event the watcher cares about.
const TokenMessengerABI = `[{"anonymous":false,"inputs":[{"indexed":true,"internalType":"uint64","name":"nonce","type":"uint64"},{"indexed":true,"internalType":"address","name":"burnToken","type":"address"},{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},{"indexed":true,"internalType":"address","name":"depositor","type":"address"},{"indexed":false,"internalType":"bytes32","name":"mintRecipient","type":"bytes32"},{"indexed":false,"internalType":"uint32","name":"destinationDomain","type":"uint32"},{"indexed":false,"internalType":"bytes32","name":"destinationTokenMessenger","type":"bytes32"},{"indexed":false,"internalType":"bytes32","name":"destinationCaller","type":"bytes32"}],"name":"DepositForBurn","type":"event"}]`

// Decoder unpacks DepositForBurn logs emitted by the CCTP TokenMessenger.
type Decoder struct {
	abi     abi.ABI
	eventID common.Hash
}

func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(TokenMessengerABI))
	if err != nil {
		return nil, errors.Errorf("failed to parse token messenger abi: %v", err)
	}
	return &Decoder{
		abi:     parsed,
		eventID: parsed.Events["DepositForBurn"].ID,
	}, nil
}

// EventID is the topic0 of DepositForBurn, used to build subscription filters.
func (d *Decoder) EventID() common.Hash {
	return d.eventID
}

func (d *Decoder) DecodeLog(vLog ethtypes.Log) (*types.DepositForBurnEvent, error) {
	if len(vLog.Topics) != 4 || vLog.Topics[0] != d.eventID {
		return nil, errors.Errorf("log is not a DepositForBurn event, txHash: %s", vLog.TxHash.Hex())
	}

	var data struct {
		Amount                    *big.Int
		MintRecipient             [32]byte
		DestinationDomain         uint32
		DestinationTokenMessenger [32]byte
		DestinationCaller         [32]byte
	}
	if err := d.abi.UnpackIntoInterface(&data, "DepositForBurn", vLog.Data); err != nil {
		return nil, errors.Errorf("failed to unpack DepositForBurn data: %v", err)
	}

	depositor := common.BytesToAddress(vLog.Topics[3].Bytes())

	return &types.DepositForBurnEvent{
		TxHash:            vLog.TxHash.Hex(),
		BlockHash:         vLog.BlockHash.Hex(),
		BlockNumber:       vLog.BlockNumber,
		Removed:           vLog.Removed,
		Amount:            data.Amount.Uint64(),
		MintRecipient:     "0x" + hex.EncodeToString(data.MintRecipient[:]),
		DestinationDomain: data.DestinationDomain,
		Depositor:         depositor.Hex(),
	}, nil
}
