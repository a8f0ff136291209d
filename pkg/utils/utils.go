package utils

import (
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sigweihq/ethreconcile/pkg/constants"
)

func CreateHTTPClientWithTimeouts() *http.Client {
	return &http.Client{
		Timeout: constants.HTTPClientTimeout,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   constants.TLSHandshakeTimeout,
			ResponseHeaderTimeout: constants.ResponseHeaderTimeout,
			ExpectContinueTimeout: constants.ExpectContinueTimeout,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse // Disable redirects to prevent redirect-based SSRF
		},
	}
}

// ValidateServiceURL validates that an RPC or Safe service URL is secure
// Returns error if URL doesn't use HTTPS (except for localhost/127.0.0.1 for testing)
func ValidateServiceURL(url string) error {
	if !strings.HasPrefix(url, "https://") {
		// Allow http://localhost and http://127.0.0.1 for testing
		if strings.HasPrefix(url, "http://localhost") ||
			strings.HasPrefix(url, "http://127.0.0.1") ||
			strings.HasPrefix(url, "http://[::1]") {
			return nil
		}
		return fmt.Errorf("service URL must use HTTPS: %s", url)
	}
	return nil
}

// ExplorerTxURL returns the block explorer page of a transaction, or "" without an explorer
func ExplorerTxURL(explorerBase, txHash string) string {
	if explorerBase == "" || txHash == "" {
		return ""
	}
	return strings.TrimRight(explorerBase, "/") + "/tx/" + txHash
}

// ExplorerAddressURL returns the block explorer page of an address, or "" without an explorer
func ExplorerAddressURL(explorerBase, address string) string {
	if explorerBase == "" || address == "" {
		return ""
	}
	return strings.TrimRight(explorerBase, "/") + "/address/" + address
}

// ERC681URL builds an EIP-681 payment request. The chain id is omitted for mainnet.
// An empty tokenAddress requests a native transfer.
func ERC681URL(to string, amount *big.Int, chainID int64, tokenAddress string) string {
	chain := ""
	if chainID != 1 {
		chain = fmt.Sprintf("@%d", chainID)
	}
	if tokenAddress != "" {
		return fmt.Sprintf("ethereum:%s%s/transfer?address=%s&uint256=%s", tokenAddress, chain, to, amount.String())
	}
	return fmt.Sprintf("ethereum:%s%s?value=%s", to, chain, amount.String())
}

// FormatBaseUnits renders an amount of base units in whole tokens, e.g. 1500000 with 6 decimals is "1.5"
func FormatBaseUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// FiatToBaseUnits converts a fiat total into token base units at rate (fiat per whole token),
// rounding up so the buyer never underpays
func FiatToBaseUnits(total, rate decimal.Decimal, decimals uint8) (*big.Int, error) {
	if !rate.IsPositive() {
		return nil, fmt.Errorf("rate must be positive, got %s", rate)
	}
	tokens := total.DivRound(rate, int32(decimals)+8)
	return tokens.Shift(int32(decimals)).Ceil().BigInt(), nil
}
