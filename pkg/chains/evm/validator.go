package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sigweihq/ethreconcile/pkg/chains"
	"github.com/sigweihq/ethreconcile/pkg/constants"
)

// ExpectedTransfer is what a payment requires to appear on chain
type ExpectedTransfer struct {
	From  string
	To    string
	Value *big.Int // minimum amount in base units
	Asset string   // token contract, empty for the native coin
}

// ValidateTransfer checks an observed transfer against the expected payment.
// Overpayment is accepted. Mismatches are returned as *TransferMismatchError.
func ValidateTransfer(expected ExpectedTransfer, actual chains.TransferEvent) error {
	if !AddressesEqual(actual.From, expected.From) {
		return &TransferMismatchError{Field: "sender", Expected: expected.From, Actual: actual.From}
	}

	if !AddressesEqual(actual.To, expected.To) {
		return &TransferMismatchError{Field: "recipient", Expected: expected.To, Actual: actual.To}
	}

	if expected.Asset != "" && !AddressesEqual(actual.Asset, expected.Asset) {
		return &TransferMismatchError{Field: "token contract", Expected: expected.Asset, Actual: actual.Asset}
	}

	if expected.Value == nil {
		return fmt.Errorf("expected amount not set")
	}
	actualValue := actual.Value
	if actualValue == nil {
		actualValue = new(big.Int)
	}
	if actualValue.Cmp(expected.Value) < 0 {
		return &TransferMismatchError{Field: "amount", Expected: expected.Value.String(), Actual: actualValue.String()}
	}

	return nil
}

// NormalizeTransactionHash lowercases a transaction hash, adding the 0x prefix if missing
func NormalizeTransactionHash(txHash string) (string, error) {
	txHash = strings.ToLower(strings.TrimSpace(txHash))
	if txHash == "" {
		return "", fmt.Errorf("empty transaction hash")
	}

	if !strings.HasPrefix(txHash, "0x") {
		txHash = "0x" + txHash
	}

	if len(txHash) != constants.TransactionHashHexLength { // 0x + 64 hex chars
		return "", fmt.Errorf("invalid transaction hash format: %s", txHash)
	}
	if _, err := hexutil.Decode(txHash); err != nil {
		return "", fmt.Errorf("invalid transaction hash format: %s", txHash)
	}

	return txHash, nil
}

// AddressesEqual compares two addresses.
// EVM addresses are case-insensitive due to EIP-55 checksumming.
func AddressesEqual(addr1, addr2 string) bool {
	return strings.EqualFold(strings.TrimSpace(addr1), strings.TrimSpace(addr2))
}
