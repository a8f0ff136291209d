package safe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sigweihq/ethreconcile/pkg/chains"
	"github.com/sigweihq/ethreconcile/pkg/constants"
)

var (
	// ErrInvalidURL is returned for URLs that are not multisig-transaction URLs of a known service
	ErrInvalidURL = errors.New("invalid safe transaction url")

	// ErrUnknownTransaction is returned when the service does not know the safeTxHash
	ErrUnknownTransaction = errors.New("safe transaction not found")
)

var multisigPath = regexp.MustCompile(`^/api/v1/multisig-transactions/(0x[0-9a-fA-F]{64})/?$`)

// TransactionRef identifies a multisig transaction on one network's service
type TransactionRef struct {
	Network    string
	SafeTxHash string
	URL        string
}

// MultisigTransaction is the service's view of a Safe transaction
type MultisigTransaction struct {
	Safe            string
	To              string
	Value           *big.Int
	Data            []byte
	Operation       int
	SafeTxHash      string
	IsExecuted      bool
	IsSuccessful    bool
	TransactionHash string
}

type multisigTransactionResponse struct {
	Safe            string  `json:"safe"`
	To              string  `json:"to"`
	Value           string  `json:"value"`
	Data            *string `json:"data"`
	Operation       int     `json:"operation"`
	SafeTxHash      string  `json:"safeTxHash"`
	IsExecuted      bool    `json:"isExecuted"`
	IsSuccessful    *bool   `json:"isSuccessful"`
	TransactionHash *string `json:"transactionHash"`
}

// NativeTransfer returns the transfer a plain value-carrying Safe call makes.
// The ETH moves inside the Safe's execution, so it does not show up as the
// envelope value of the executing transaction.
func (m *MultisigTransaction) NativeTransfer() (*chains.TransferEvent, bool) {
	if m.Operation != 0 || len(m.Data) > 0 || m.Value == nil || m.Value.Sign() == 0 {
		return nil, false
	}
	return &chains.TransferEvent{From: m.Safe, To: m.To, Value: new(big.Int).Set(m.Value)}, true
}

// Client reads multisig transactions from the Safe transaction service
type Client struct {
	HTTPClient  *http.Client
	serviceURLs map[string]string // network -> base url
	logger      *slog.Logger
}

// NewClient creates a client for the default services, with overrides
// (e.g. self-hosted services) taking precedence per network
func NewClient(httpClient *http.Client, overrides map[string]string, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.SafeServiceTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}

	serviceURLs := make(map[string]string, len(constants.SafeTransactionServiceURL)+len(overrides))
	for network, base := range constants.SafeTransactionServiceURL {
		serviceURLs[network] = base
	}
	for network, base := range overrides {
		serviceURLs[network] = strings.TrimRight(base, "/")
	}

	return &Client{
		HTTPClient:  httpClient,
		serviceURLs: serviceURLs,
		logger:      logger,
	}
}

// TransactionURL returns the multisig-transaction URL of a safeTxHash on a network
func (c *Client) TransactionURL(network, safeTxHash string) (string, error) {
	base, ok := c.serviceURLs[network]
	if !ok {
		return "", fmt.Errorf("%w: no safe transaction service for network %s", ErrInvalidURL, network)
	}
	return fmt.Sprintf("%s/api/v1/multisig-transactions/%s/", base, strings.ToLower(safeTxHash)), nil
}

// ParseURL checks that rawURL points at the multisig-transactions endpoint of a
// known service and returns the network and safeTxHash it refers to. Only known
// hosts are accepted so a buyer cannot make the reconciler fetch arbitrary URLs.
func (c *Client) ParseURL(rawURL string) (*TransactionRef, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	m := multisigPath.FindStringSubmatch(u.Path)
	if m == nil {
		return nil, fmt.Errorf("%w: unexpected path %s", ErrInvalidURL, u.Path)
	}

	origin := u.Scheme + "://" + u.Host
	for network, base := range c.serviceURLs {
		if strings.EqualFold(strings.TrimRight(base, "/"), origin) {
			return &TransactionRef{
				Network:    network,
				SafeTxHash: strings.ToLower(m[1]),
				URL:        fmt.Sprintf("%s/api/v1/multisig-transactions/%s/", base, strings.ToLower(m[1])),
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: unknown service %s", ErrInvalidURL, origin)
}

// GetTransaction fetches a multisig transaction by its service URL
func (c *Client) GetTransaction(ctx context.Context, rawURL string) (*MultisigTransaction, error) {
	ref, err := c.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, constants.SafeServiceTimeout)
	defer cancel()

	var resp multisigTransactionResponse
	if err := getJSON(ctx, c.HTTPClient, ref.URL, &resp); err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.IsNotFound() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTransaction, ref.SafeTxHash)
		}
		return nil, fmt.Errorf("failed to fetch safe transaction: %w", err)
	}

	return convertResponse(&resp)
}

func convertResponse(resp *multisigTransactionResponse) (*MultisigTransaction, error) {
	tx := &MultisigTransaction{
		Safe:       resp.Safe,
		To:         resp.To,
		Value:      new(big.Int),
		Operation:  resp.Operation,
		SafeTxHash: strings.ToLower(resp.SafeTxHash),
		IsExecuted: resp.IsExecuted,
	}

	if resp.Value != "" {
		if _, ok := tx.Value.SetString(resp.Value, 10); !ok {
			return nil, fmt.Errorf("invalid value in safe transaction: %q", resp.Value)
		}
	}

	if resp.Data != nil && *resp.Data != "" {
		data, err := hexutil.Decode(*resp.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid data in safe transaction: %w", err)
		}
		tx.Data = data
	}

	if resp.IsSuccessful != nil {
		tx.IsSuccessful = *resp.IsSuccessful
	}
	if resp.TransactionHash != nil {
		tx.TransactionHash = strings.ToLower(*resp.TransactionHash)
	}

	if tx.Safe != "" && !common.IsHexAddress(tx.Safe) {
		return nil, fmt.Errorf("invalid safe address: %q", tx.Safe)
	}

	return tx, nil
}
