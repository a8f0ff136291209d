package evm

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// UnsupportedNetworkError is returned when a network is not supported
type UnsupportedNetworkError struct {
	Network string
}

func (e *UnsupportedNetworkError) Error() string {
	return fmt.Sprintf("unsupported network: %s", e.Network)
}

// RPCError represents an RPC-related error
type RPCError struct {
	Endpoint string
	Err      error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error on %s: %v", redactEndpoint(e.Endpoint), e.Err)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

// TransferMismatchError is returned when an on-chain transfer does not match the expected payment
type TransferMismatchError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *TransferMismatchError) Error() string {
	return fmt.Sprintf("transaction %s mismatch: got %s, expected %s", e.Field, e.Actual, e.Expected)
}

// isExecutionReverted reports whether an eth_call failed because the contract reverted,
// as opposed to the node or transport failing.
func isExecutionReverted(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == 3 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

// redactEndpoint drops path and query from an endpoint URL, where providers put API keys
func redactEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "<endpoint>"
	}
	return u.Scheme + "://" + u.Host
}
