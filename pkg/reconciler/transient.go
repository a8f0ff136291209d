package reconciler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/sigweihq/ethreconcile/pkg/chains/evm"
	"github.com/sigweihq/ethreconcile/pkg/safe"
)

// isTransient reports whether a failure is worth retrying on the next run rather
// than reporting it as a failed run.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Every configured endpoint of the network failed
	var rpcErr *evm.RPCError
	if errors.As(err, &rpcErr) {
		return true
	}
	var httpErr *safe.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.IsServerError() || httpErr.StatusCode == http.StatusTooManyRequests
	}

	errStr := strings.ToLower(err.Error())

	// Network/infrastructure errors
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "too many connections") {
		return true
	}

	// HTTP 5xx from a service in front of the database or chain
	if strings.Contains(errStr, "http 500") ||
		strings.Contains(errStr, "http 502") ||
		strings.Contains(errStr, "http 503") ||
		strings.Contains(errStr, "http 504") {
		return true
	}

	return false
}
