package chains

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sigweihq/ethreconcile/pkg/constants"
	"github.com/sigweihq/ethreconcile/pkg/types"
)

// ErrUnknownCurrency matches every *UnknownCurrencyError
var ErrUnknownCurrency = errors.New("unknown currency")

// UnknownCurrencyError is returned when a (symbol, network) pair is not in the table
type UnknownCurrencyError struct {
	TokenSymbol string
	NetworkID   string
}

func (e *UnknownCurrencyError) Error() string {
	return fmt.Sprintf("unknown currency: %s on network %s", e.TokenSymbol, e.NetworkID)
}

func (e *UnknownCurrencyError) Is(target error) bool {
	return target == ErrUnknownCurrency
}

// Descriptor describes one accepted token on one network
type Descriptor struct {
	TokenSymbol      string `validate:"required,uppercase,excludes=-"`
	NetworkID        string `validate:"required,excludes=-"`
	NetworkName      string `validate:"required"`
	ChainID          int64  `validate:"gt=0"`
	Native           bool
	ContractAddress  string `validate:"omitempty,eth_addr"`
	Decimals         uint8  `validate:"lte=36"`
	ExplorerURL      string `validate:"omitempty,url"`
	SafetyBlockCount uint64
	Disabled         bool
}

// CurrencyType returns the "<SYMBOL>-<NETWORK_ID>" key stored on payments
func (d Descriptor) CurrencyType() string {
	return types.FormatCurrencyType(d.TokenSymbol, d.NetworkID)
}

// RPCURLKey returns the key under which a tenant configures this network's RPC URL
func (d Descriptor) RPCURLKey() string {
	return d.NetworkID + constants.RPCURLKeySuffix
}

// RateKey returns the key under which a tenant configures this token's fiat rate
func (d Descriptor) RateKey() string {
	return d.TokenSymbol + constants.RatesKeySuffix
}

type tokenKey struct {
	symbol  string
	network string
}

// TokenRegistry is the static table of accepted (token, network) pairs.
// It is validated once at construction and read-only afterwards.
type TokenRegistry struct {
	descriptors []Descriptor
	index       map[tokenKey]int
}

// NewTokenRegistry validates the descriptors and builds the lookup index
func NewTokenRegistry(descriptors []Descriptor) (*TokenRegistry, error) {
	validate := validator.New()

	r := &TokenRegistry{
		descriptors: make([]Descriptor, 0, len(descriptors)),
		index:       make(map[tokenKey]int, len(descriptors)),
	}

	for _, d := range descriptors {
		if err := validate.Struct(d); err != nil {
			return nil, fmt.Errorf("invalid descriptor %s: %w", d.CurrencyType(), err)
		}
		if d.Native == (d.ContractAddress != "") {
			return nil, fmt.Errorf("invalid descriptor %s: exactly one of native and contract address must be set", d.CurrencyType())
		}

		key := tokenKey{symbol: d.TokenSymbol, network: d.NetworkID}
		if _, exists := r.index[key]; exists {
			return nil, fmt.Errorf("duplicate descriptor for %s", d.CurrencyType())
		}

		for _, other := range r.descriptors {
			if other.NetworkID == d.NetworkID && other.ChainID != d.ChainID {
				return nil, fmt.Errorf("network %s declared with chain ids %d and %d", d.NetworkID, other.ChainID, d.ChainID)
			}
		}

		r.index[key] = len(r.descriptors)
		r.descriptors = append(r.descriptors, d)
	}

	return r, nil
}

// MustNewTokenRegistry is like NewTokenRegistry but panics on an invalid table
func MustNewTokenRegistry(descriptors []Descriptor) *TokenRegistry {
	r, err := NewTokenRegistry(descriptors)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the descriptor for a token symbol on a network
func (r *TokenRegistry) Lookup(tokenSymbol, networkID string) (Descriptor, error) {
	idx, ok := r.index[tokenKey{symbol: strings.ToUpper(tokenSymbol), network: networkID}]
	if !ok {
		return Descriptor{}, &UnknownCurrencyError{TokenSymbol: tokenSymbol, NetworkID: networkID}
	}
	return r.descriptors[idx], nil
}

// LookupCurrencyType resolves a "<SYMBOL>-<NETWORK_ID>" key
func (r *TokenRegistry) LookupCurrencyType(currencyType string) (Descriptor, error) {
	symbol, network, err := types.ParseCurrencyType(currencyType)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrUnknownCurrency, err)
	}
	return r.Lookup(symbol, network)
}

// IsAllowed reports whether a tenant may accept the token: a rate must be
// configured for the symbol and the network must be enabled.
func (r *TokenRegistry) IsAllowed(d Descriptor, rates map[string]decimal.Decimal, enabledNetworks []string) bool {
	if d.Disabled {
		return false
	}
	if _, ok := rates[d.RateKey()]; !ok {
		return false
	}
	for _, network := range enabledNetworks {
		if network == d.NetworkID {
			return true
		}
	}
	return false
}

// Descriptors returns a copy of the table in declaration order
func (r *TokenRegistry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Networks returns the distinct network ids in the table, sorted
func (r *TokenRegistry) Networks() []string {
	seen := make(map[string]struct{})
	for _, d := range r.descriptors {
		seen[d.NetworkID] = struct{}{}
	}
	networks := make([]string, 0, len(seen))
	for network := range seen {
		networks = append(networks, network)
	}
	sort.Strings(networks)
	return networks
}

// ChainID returns the chain id of a network in the table
func (r *TokenRegistry) ChainID(networkID string) (int64, bool) {
	for _, d := range r.descriptors {
		if d.NetworkID == networkID {
			return d.ChainID, true
		}
	}
	return 0, false
}

func nativeETH(network string, safetyBlocks uint64) Descriptor {
	return Descriptor{
		TokenSymbol:      constants.SymbolETH,
		NetworkID:        network,
		NetworkName:      constants.NetworkVerboseName[network],
		ChainID:          constants.NetworkToChainID[network],
		Native:           true,
		Decimals:         constants.NativeTokenDecimals,
		ExplorerURL:      constants.NetworkExplorerURL[network],
		SafetyBlockCount: safetyBlocks,
	}
}

func erc20(symbol, network, contract string, decimals uint8, safetyBlocks uint64) Descriptor {
	return Descriptor{
		TokenSymbol:      symbol,
		NetworkID:        network,
		NetworkName:      constants.NetworkVerboseName[network],
		ChainID:          constants.NetworkToChainID[network],
		ContractAddress:  contract,
		Decimals:         decimals,
		ExplorerURL:      constants.NetworkExplorerURL[network],
		SafetyBlockCount: safetyBlocks,
	}
}

// DefaultDescriptors is the built-in token table
var DefaultDescriptors = []Descriptor{
	nativeETH(constants.NetworkL1, 10),
	erc20(constants.SymbolDAI, constants.NetworkL1, constants.DAIAddressL1, constants.DAIDecimals, 10),
	erc20(constants.SymbolUSDC, constants.NetworkL1, constants.USDCAddressL1, constants.USDCDecimals, 10),

	nativeETH(constants.NetworkOptimism, 10),
	erc20(constants.SymbolDAI, constants.NetworkOptimism, constants.DAIAddressOptimism, constants.DAIDecimals, 10),
	erc20(constants.SymbolUSDC, constants.NetworkOptimism, constants.USDCAddressOptimism, constants.USDCDecimals, 10),

	nativeETH(constants.NetworkArbitrum, 20),
	erc20(constants.SymbolDAI, constants.NetworkArbitrum, constants.DAIAddressArbitrum, constants.DAIDecimals, 20),
	erc20(constants.SymbolUSDC, constants.NetworkArbitrum, constants.USDCAddressArbitrum, constants.USDCDecimals, 20),

	nativeETH(constants.NetworkSepolia, 5),
}
