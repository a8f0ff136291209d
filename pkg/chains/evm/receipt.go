package evm

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sigweihq/ethreconcile/pkg/chains"
	"github.com/sigweihq/ethreconcile/pkg/constants"
)

var transferEventSignature = common.HexToHash(constants.ERC20TransferEventTopic)

// patchedTransactionReceipt gets a transaction receipt, tolerating the
// non-standard blockTimestamp field some L2 nodes add to logs
func patchedTransactionReceipt(ctx context.Context, client *ethclient.Client, txHash common.Hash) (*ethtypes.Receipt, error) {
	var raw json.RawMessage
	err := client.Client().CallContext(ctx, &raw, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, chains.ErrNotFound
	}

	cleaned, err := stripBlockTimestampFromLogs(raw)
	if err != nil {
		return nil, err
	}

	var receipt ethtypes.Receipt
	err = json.Unmarshal(cleaned, &receipt)
	if err != nil {
		return nil, err
	}

	return &receipt, nil
}

// stripBlockTimestampFromLogs removes the blockTimestamp field from transaction logs
func stripBlockTimestampFromLogs(raw json.RawMessage) ([]byte, error) {
	var receiptMap map[string]interface{}
	if err := json.Unmarshal(raw, &receiptMap); err != nil {
		return nil, err
	}

	logs, ok := receiptMap["logs"].([]interface{})
	if ok {
		for _, log := range logs {
			logMap, ok := log.(map[string]interface{})
			if ok {
				delete(logMap, "blockTimestamp")
			}
		}
	}

	return json.Marshal(receiptMap)
}

// EVMReceipt implements chains.TransactionReceipt
type EVMReceipt struct {
	receipt *ethtypes.Receipt
}

// NewEVMReceipt creates a new EVM receipt wrapper
func NewEVMReceipt(receipt *ethtypes.Receipt) *EVMReceipt {
	return &EVMReceipt{receipt: receipt}
}

var _ chains.TransactionReceipt = (*EVMReceipt)(nil)

func (r *EVMReceipt) TxHash() string {
	return r.receipt.TxHash.Hex()
}

func (r *EVMReceipt) IsSuccessful() bool {
	return r.receipt.Status == ethtypes.ReceiptStatusSuccessful
}

func (r *EVMReceipt) BlockNumber() uint64 {
	if r.receipt.BlockNumber == nil {
		return 0
	}
	return r.receipt.BlockNumber.Uint64()
}

// GetUnderlyingReceipt returns the underlying go-ethereum receipt
func (r *EVMReceipt) GetUnderlyingReceipt() *ethtypes.Receipt {
	return r.receipt
}

// TransferEvent implements chains.TransactionReceipt.
// Only logs emitted by tokenAddress count: a Transfer from any other contract
// in the same transaction is ignored. Without a transfer to recipient the first
// transfer of the token is returned.
func (r *EVMReceipt) TransferEvent(tokenAddress, recipient string) (*chains.TransferEvent, error) {
	token := common.HexToAddress(tokenAddress)

	var first *chains.TransferEvent
	for _, log := range r.receipt.Logs {
		if log.Address != token {
			continue
		}
		// Transfer(address indexed from, address indexed to, uint256 value);
		// ERC-721 transfers index the token id as a fourth topic.
		if len(log.Topics) != 3 || log.Topics[0] != transferEventSignature || len(log.Data) != 32 {
			continue
		}

		event := &chains.TransferEvent{
			From:  common.BytesToAddress(log.Topics[1].Bytes()).Hex(),
			To:    common.BytesToAddress(log.Topics[2].Bytes()).Hex(),
			Value: new(big.Int).SetBytes(log.Data),
			Asset: log.Address.Hex(),
		}
		if recipient != "" && AddressesEqual(event.To, recipient) {
			return event, nil
		}
		if first == nil {
			first = event
		}
	}

	if first == nil {
		return nil, chains.ErrNoMatchingTransfer
	}
	return first, nil
}
