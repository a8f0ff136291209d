package reconciler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sigweihq/ethreconcile/pkg/chains/evm"
	"github.com/sigweihq/ethreconcile/pkg/safe"
	"github.com/sigweihq/ethreconcile/pkg/storage"
)

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o deadline reached" }
func (timeoutError) Timeout() bool { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error is not transient", err: nil, expected: false},
		{name: "deadline exceeded", err: fmt.Errorf("list intents: %w", context.DeadlineExceeded), expected: true},
		{name: "net timeout", err: fmt.Errorf("query: %w", timeoutError{}), expected: true},
		{name: "connection refused", err: errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), expected: true},
		{name: "connection reset", err: errors.New("read: connection reset by peer"), expected: true},
		{name: "network unreachable", err: errors.New("network is unreachable"), expected: true},
		{name: "host not found", err: errors.New("lookup db: no such host"), expected: true},
		{name: "HTTP 503", err: errors.New("HTTP 503: Service Unavailable"), expected: true},
		{name: "HTTP 404 is not transient", err: errors.New("HTTP 404: Not found."), expected: false},
		{name: "state conflict is not transient", err: fmt.Errorf("confirm payment: %w", storage.ErrStateConflict), expected: false},
		{name: "canceled run is not transient", err: context.Canceled, expected: false},
		{
			name:     "rate limited RPC endpoint",
			err:      fmt.Errorf("read ETH balance: %w", &evm.RPCError{Endpoint: "https://rpc.example.com", Err: errors.New("429 Too Many Requests: rate limited")}),
			expected: true,
		},
		{
			name:     "safe service server error",
			err:      fmt.Errorf("failed to fetch safe transaction: %w", &safe.HTTPError{StatusCode: 502, Status: "502 Bad Gateway"}),
			expected: true,
		},
		{
			name:     "safe service rate limit",
			err:      &safe.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"},
			expected: true,
		},
		{
			name:     "safe service bad request",
			err:      &safe.HTTPError{StatusCode: 400, Status: "400 Bad Request"},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isTransient(tt.err))
		})
	}
}
