package chains

import (
	"context"
	"errors"
	"math/big"
)

var (
	// ErrNotFound is returned when the node does not know the transaction (not mined, dropped or never broadcast)
	ErrNotFound = errors.New("not found")

	// ErrNoMatchingTransfer is returned when a receipt has no Transfer log emitted by the expected token
	ErrNoMatchingTransfer = errors.New("no transfer event from expected token contract")
)

// Observer provides the read-only chain queries needed to verify payments on one network
type Observer interface {
	SignatureChecker
	BalanceReader

	// Network returns the network id (e.g., "L1", "Optimism")
	Network() string

	// ChainID returns the numeric EVM chain id
	ChainID() int64

	// GetReceipt returns the receipt of a mined transaction or ErrNotFound
	GetReceipt(ctx context.Context, txHash string) (TransactionReceipt, error)

	// GetTransaction returns the transaction envelope or ErrNotFound
	GetTransaction(ctx context.Context, txHash string) (*Transaction, error)

	// BlockHeight returns the latest block number
	BlockHeight(ctx context.Context) (uint64, error)
}

// SignatureChecker is the subset of chain access needed to verify a signature
type SignatureChecker interface {
	// HasCode reports whether the address holds contract bytecode
	HasCode(ctx context.Context, address string) (bool, error)

	// IsValidSignature calls EIP-1271 isValidSignature(bytes32,bytes) on a contract wallet
	// and returns the 4-byte value it answered with. A revert or empty answer yields a zero value.
	IsValidSignature(ctx context.Context, wallet string, hash [32]byte, signature []byte) ([4]byte, error)
}

// BalanceReader reads account balances
type BalanceReader interface {
	NativeBalance(ctx context.Context, address string) (*big.Int, error)
	TokenBalance(ctx context.Context, token, address string) (*big.Int, error)
}

// TransactionReceipt is a mined transaction receipt
type TransactionReceipt interface {
	// TxHash returns the lowercase 0x-prefixed transaction hash
	TxHash() string

	// IsSuccessful returns whether the transaction succeeded
	IsSuccessful() bool

	// BlockNumber returns the block the transaction was included in
	BlockNumber() uint64

	// TransferEvent returns the ERC-20 Transfer emitted by tokenAddress, or ErrNoMatchingTransfer.
	// A transfer to recipient is preferred over other transfers of the same token.
	TransferEvent(tokenAddress, recipient string) (*TransferEvent, error)
}

// Transaction is the envelope of a native transfer
type Transaction struct {
	Hash  string
	From  string
	To    string // empty for contract creation
	Value *big.Int
}

// TransferEvent represents a token transfer event
type TransferEvent struct {
	From  string // Sender wallet address
	To    string // Recipient wallet address
	Value *big.Int
	Asset string // Token contract address
}
