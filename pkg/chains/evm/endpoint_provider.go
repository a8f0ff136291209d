package evm

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/sigweihq/ethreconcile/pkg/constants"
)

// ConfigEndpointProvider serves RPC endpoints from a tenant's configuration map
// ({"<NETWORK_ID>_RPC_URL": "url[,fallback...]"}) and health-checks them to put
// reliable endpoints first
type ConfigEndpointProvider struct {
	endpoints map[string][]string // network -> []rpc_urls
	logger    *slog.Logger
	mu        sync.RWMutex
}

// NewConfigEndpointProvider parses the RPC URL map. Keys without the
// _RPC_URL suffix and empty values are ignored.
func NewConfigEndpointProvider(rpcURLs map[string]string, logger *slog.Logger) *ConfigEndpointProvider {
	if logger == nil {
		logger = slog.Default()
	}

	p := &ConfigEndpointProvider{
		endpoints: make(map[string][]string),
		logger:    logger,
	}

	for key, value := range rpcURLs {
		network, ok := networkFromRPCKey(key)
		if !ok {
			logger.Warn("ignoring RPC configuration key", "key", key)
			continue
		}
		for _, endpoint := range strings.Split(value, ",") {
			endpoint = strings.TrimSpace(endpoint)
			if endpoint != "" {
				p.endpoints[network] = append(p.endpoints[network], endpoint)
			}
		}
	}

	return p
}

// networkFromRPCKey maps "L1_RPC_URL" to "L1". Network ids are case-sensitive
// but configuration keys are often upper-cased by environment tooling.
func networkFromRPCKey(key string) (string, bool) {
	upper := strings.ToUpper(key)
	if !strings.HasSuffix(upper, constants.RPCURLKeySuffix) {
		return "", false
	}
	prefix := key[:len(key)-len(constants.RPCURLKeySuffix)]
	for network := range constants.NetworkToChainID {
		if strings.EqualFold(network, prefix) {
			return network, true
		}
	}
	return prefix, prefix != ""
}

// GetEndpoints returns the endpoints of a network in priority order
func (p *ConfigEndpointProvider) GetEndpoints(network string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	endpoints := p.endpoints[network]
	out := make([]string, len(endpoints))
	copy(out, endpoints)
	return out
}

// Networks returns the networks that have at least one endpoint
func (p *ConfigEndpointProvider) Networks() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	networks := make([]string, 0, len(p.endpoints))
	for network, endpoints := range p.endpoints {
		if len(endpoints) > 0 {
			networks = append(networks, network)
		}
	}
	sort.Strings(networks)
	return networks
}

// RefreshEndpoints health-checks every endpoint and moves healthy ones first.
// Unhealthy endpoints stay as backup.
func (p *ConfigEndpointProvider) RefreshEndpoints(ctx context.Context) {
	p.mu.RLock()
	snapshot := make(map[string][]string, len(p.endpoints))
	for network, endpoints := range p.endpoints {
		snapshot[network] = append([]string(nil), endpoints...)
	}
	p.mu.RUnlock()

	prioritized := make(map[string][]string, len(snapshot))
	for network, endpoints := range snapshot {
		var healthyEndpoints, unhealthyEndpoints []string
		for _, endpoint := range endpoints {
			if isEndpointHealthy(ctx, endpoint) {
				healthyEndpoints = append(healthyEndpoints, endpoint)
			} else {
				unhealthyEndpoints = append(unhealthyEndpoints, endpoint)
			}
		}
		prioritized[network] = append(healthyEndpoints, unhealthyEndpoints...)

		p.logger.Debug("health check complete",
			"network", network,
			"healthy", len(healthyEndpoints),
			"unhealthy", len(unhealthyEndpoints))
	}

	p.mu.Lock()
	p.endpoints = prioritized
	p.mu.Unlock()
}
