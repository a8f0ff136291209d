package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sigweihq/ethreconcile/pkg/chains"
	"github.com/sigweihq/ethreconcile/pkg/constants"
	"github.com/sigweihq/ethreconcile/pkg/metrics"
)

const walletABIJSON = `[
	{"inputs":[{"internalType":"bytes32","name":"hash","type":"bytes32"},{"internalType":"bytes","name":"signature","type":"bytes"}],"name":"isValidSignature","outputs":[{"internalType":"bytes4","name":"magicValue","type":"bytes4"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// contractABI covers the EIP-1271 and ERC-20 view methods the observer calls
var contractABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(walletABIJSON))
	if err != nil {
		panic(fmt.Sprintf("failed to parse contract ABI: %v", err))
	}
	return parsed
}()

// RPCClient implements chains.Observer for EVM chains.
// Calls go to one endpoint at a time; on failure the next endpoint is tried.
type RPCClient struct {
	network   string
	chainID   int64
	endpoints []string
	logger    *slog.Logger
	recorder  metrics.Recorder
}

// NewRPCClient creates a new EVM RPC client
func NewRPCClient(network string, chainID int64, endpoints []string, logger *slog.Logger, recorder metrics.Recorder) *RPCClient {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &RPCClient{
		network:   network,
		chainID:   chainID,
		endpoints: endpoints,
		logger:    logger,
		recorder:  recorder,
	}
}

var _ chains.Observer = (*RPCClient)(nil)

// Network implements chains.Observer
func (r *RPCClient) Network() string {
	return r.network
}

// ChainID implements chains.Observer
func (r *RPCClient) ChainID() int64 {
	return r.chainID
}

// GetReceipt implements chains.Observer
func (r *RPCClient) GetReceipt(ctx context.Context, txHash string) (chains.TransactionReceipt, error) {
	var receipt *EVMReceipt
	err := r.withFailover(ctx, "eth_getTransactionReceipt", constants.TransactionReceiptTimeout, func(ctx context.Context, client *ethclient.Client) error {
		raw, err := patchedTransactionReceipt(ctx, client, common.HexToHash(txHash))
		if err != nil {
			return err
		}
		receipt = NewEVMReceipt(raw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// rpcTransaction is the subset of eth_getTransactionByHash we read. Decoding it
// directly keeps L2 system transaction types from failing envelope parsing.
type rpcTransaction struct {
	Hash  common.Hash     `json:"hash"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value"`
}

// GetTransaction implements chains.Observer
func (r *RPCClient) GetTransaction(ctx context.Context, txHash string) (*chains.Transaction, error) {
	var tx *chains.Transaction
	err := r.withFailover(ctx, "eth_getTransactionByHash", constants.TransactionTimeout, func(ctx context.Context, client *ethclient.Client) error {
		var raw json.RawMessage
		if err := client.Client().CallContext(ctx, &raw, "eth_getTransactionByHash", common.HexToHash(txHash)); err != nil {
			return err
		}
		if len(raw) == 0 || string(raw) == "null" {
			return chains.ErrNotFound
		}

		var decoded rpcTransaction
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("failed to decode transaction: %w", err)
		}

		tx = &chains.Transaction{
			Hash:  decoded.Hash.Hex(),
			From:  decoded.From.Hex(),
			Value: new(big.Int),
		}
		if decoded.To != nil {
			tx.To = decoded.To.Hex()
		}
		if decoded.Value != nil {
			tx.Value = decoded.Value.ToInt()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// BlockHeight implements chains.Observer
func (r *RPCClient) BlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := r.withFailover(ctx, "eth_blockNumber", constants.BlockNumberTimeout, func(ctx context.Context, client *ethclient.Client) error {
		var err error
		height, err = client.BlockNumber(ctx)
		return err
	})
	return height, err
}

// HasCode implements chains.SignatureChecker
func (r *RPCClient) HasCode(ctx context.Context, address string) (bool, error) {
	if !common.IsHexAddress(address) {
		return false, fmt.Errorf("invalid address: %s", address)
	}

	var hasCode bool
	err := r.withFailover(ctx, "eth_getCode", constants.CallContractTimeout, func(ctx context.Context, client *ethclient.Client) error {
		code, err := client.CodeAt(ctx, common.HexToAddress(address), nil)
		if err != nil {
			return err
		}
		hasCode = len(code) > 0
		return nil
	})
	return hasCode, err
}

// IsValidSignature implements chains.SignatureChecker
func (r *RPCClient) IsValidSignature(ctx context.Context, wallet string, hash [32]byte, signature []byte) ([4]byte, error) {
	var magic [4]byte

	data, err := contractABI.Pack("isValidSignature", hash, signature)
	if err != nil {
		return magic, fmt.Errorf("failed to pack function call: %w", err)
	}

	to := common.HexToAddress(wallet)
	err = r.withFailover(ctx, "isValidSignature", constants.CallContractTimeout, func(ctx context.Context, client *ethclient.Client) error {
		out, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		if err != nil {
			if isExecutionReverted(err) {
				// The wallet rejected the signature
				return nil
			}
			return err
		}
		if len(out) >= 4 {
			copy(magic[:], out[:4])
		}
		return nil
	})
	return magic, err
}

// NativeBalance implements chains.BalanceReader
func (r *RPCClient) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	var balance *big.Int
	err := r.withFailover(ctx, "eth_getBalance", constants.CallContractTimeout, func(ctx context.Context, client *ethclient.Client) error {
		var err error
		balance, err = client.BalanceAt(ctx, common.HexToAddress(address), nil)
		return err
	})
	return balance, err
}

// TokenBalance implements chains.BalanceReader
func (r *RPCClient) TokenBalance(ctx context.Context, token, address string) (*big.Int, error) {
	data, err := contractABI.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("failed to pack function call: %w", err)
	}

	to := common.HexToAddress(token)
	var balance *big.Int
	err = r.withFailover(ctx, "balanceOf", constants.CallContractTimeout, func(ctx context.Context, client *ethclient.Client) error {
		out, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		if err != nil {
			return err
		}
		values, err := contractABI.Unpack("balanceOf", out)
		if err != nil {
			return fmt.Errorf("failed to decode contract call result: %w", err)
		}
		b, ok := values[0].(*big.Int)
		if !ok {
			return fmt.Errorf("unexpected balanceOf result type %T", values[0])
		}
		balance = b
		return nil
	})
	return balance, err
}

// IsHealthy checks that an endpoint answers eth_blockNumber
func (r *RPCClient) IsHealthy(ctx context.Context, endpoint string) bool {
	return isEndpointHealthy(ctx, endpoint)
}

// withFailover runs fn against each endpoint in turn, starting at a random one.
// chains.ErrNotFound is an answer, not a failure, and is returned immediately.
func (r *RPCClient) withFailover(ctx context.Context, operation string, timeout time.Duration, fn func(ctx context.Context, client *ethclient.Client) error) error {
	if len(r.endpoints) == 0 {
		return fmt.Errorf("no RPC endpoints configured for network %s", r.network)
	}

	labels := map[string]string{"network": r.network, "result": operation}

	// Start at a random position for load balancing
	startIdx := rand.Intn(len(r.endpoints))

	var lastErr error
	for i := 0; i < len(r.endpoints); i++ {
		if i > 0 {
			delay := time.Duration(i*constants.DelayBetweenRPCCalls) * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		// Wrap around using modulo for round-robin
		endpoint := r.endpoints[(startIdx+i)%len(r.endpoints)]

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := r.call(callCtx, endpoint, fn)
		cancel()
		r.recorder.ObserveLatency(operation, time.Since(start), labels)

		if err == nil || errors.Is(err, chains.ErrNotFound) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.recorder.IncCounter(metrics.EventRPCError, labels)
		r.logger.Debug("RPC call failed, trying next endpoint",
			"network", r.network,
			"operation", operation,
			"endpoint", redactEndpoint(endpoint),
			"error", err)
		lastErr = &RPCError{Endpoint: endpoint, Err: err}
	}

	return fmt.Errorf("all RPC endpoints failed for network %s: %w", r.network, lastErr)
}

func (r *RPCClient) call(ctx context.Context, endpoint string, fn func(ctx context.Context, client *ethclient.Client) error) error {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(ctx, client)
}

func isEndpointHealthy(ctx context.Context, endpoint string) bool {
	ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return false
	}
	defer client.Close()

	_, err = client.BlockNumber(ctx)
	return err == nil
}
