package evm

import (
	"log/slog"

	"github.com/sigweihq/ethreconcile/pkg/chains"
	"github.com/sigweihq/ethreconcile/pkg/metrics"
)

// NewObserver creates an observer for a network of the token table
func NewObserver(tokens *chains.TokenRegistry, network string, endpoints []string, logger *slog.Logger, recorder metrics.Recorder) (*RPCClient, error) {
	chainID, ok := tokens.ChainID(network)
	if !ok {
		return nil, &UnsupportedNetworkError{Network: network}
	}
	return NewRPCClient(network, chainID, endpoints, logger, recorder), nil
}

// NewObserverRegistry registers an observer for every network of the token
// table that has endpoints. Networks without endpoints are returned so callers
// can report them as configuration errors when payments need them.
func NewObserverRegistry(tokens *chains.TokenRegistry, provider *ConfigEndpointProvider, logger *slog.Logger, recorder metrics.Recorder) (*chains.Registry, []string) {
	if logger == nil {
		logger = slog.Default()
	}

	registry := chains.NewRegistry()
	var unconfigured []string

	for _, network := range tokens.Networks() {
		endpoints := provider.GetEndpoints(network)
		if len(endpoints) == 0 {
			unconfigured = append(unconfigured, network)
			continue
		}

		observer, err := NewObserver(tokens, network, endpoints, logger, recorder)
		if err != nil {
			logger.Warn("failed to create EVM observer", "network", network, "error", err)
			unconfigured = append(unconfigured, network)
			continue
		}

		if err := registry.Register(observer); err != nil {
			logger.Warn("failed to register EVM observer", "network", network, "error", err)
		}
	}

	for _, network := range provider.Networks() {
		if _, ok := tokens.ChainID(network); !ok {
			logger.Warn("RPC URL configured for unknown network", "network", network)
		}
	}

	return registry, unconfigured
}
