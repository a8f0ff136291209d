package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/sigweihq/ethreconcile/pkg/constants"
	"github.com/sigweihq/ethreconcile/pkg/utils"
)

// Config is the process configuration
type Config struct {
	// DatabaseDSN selects the Postgres stores; empty means in-memory stores
	DatabaseDSN string `mapstructure:"database_dsn"`

	ListenAddr  string        `mapstructure:"listen_addr" validate:"required"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
	LogLevel    string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Workers     int           `mapstructure:"workers" validate:"gte=1,lte=64"`
	RunInterval time.Duration `mapstructure:"run_interval" validate:"gte=0"`

	Tenants []TenantConfig `mapstructure:"tenants" validate:"dive"`
}

// TenantConfig holds the settings of one shop
type TenantConfig struct {
	Slug             string `mapstructure:"slug" validate:"required,excludesall= /"`
	ReceivingAddress string `mapstructure:"receiving_address" validate:"required,eth_addr"`

	// RPCURLs maps "<NETWORK_ID>_RPC_URL" to one or more comma separated endpoints
	RPCURLs map[string]string `mapstructure:"rpc_urls"`

	// Networks are the networks the shop admin enabled for checkout
	Networks []string `mapstructure:"networks"`

	// Rates maps "<SYMBOL>_RATE" to the fiat price of one whole token
	Rates map[string]string `mapstructure:"rates"`

	SafetyBlockCount uint64 `mapstructure:"safety_block_count"`

	// PaymentNotReceivedRetryTimeout is in seconds
	PaymentNotReceivedRetryTimeout int `mapstructure:"payment_not_received_retry_timeout" validate:"gte=0"`

	SafeServiceURLs map[string]string `mapstructure:"safe_service_urls"`
}

// Default returns the configuration used for unset keys
func Default() *Config {
	return &Config{
		ListenAddr:  ":8080",
		MetricsAddr: ":9090",
		LogLevel:    "info",
		Workers:     constants.DefaultWorkers,
		RunInterval: constants.DefaultRunInterval,
	}
}

// Validate checks the configuration and fills tenant defaults
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]bool, len(c.Tenants))
	for i := range c.Tenants {
		t := &c.Tenants[i]
		if seen[t.Slug] {
			return fmt.Errorf("invalid configuration: duplicate tenant %q", t.Slug)
		}
		seen[t.Slug] = true

		if t.SafetyBlockCount == 0 {
			t.SafetyBlockCount = constants.DefaultSafetyBlockCount
		}
		if t.PaymentNotReceivedRetryTimeout == 0 {
			t.PaymentNotReceivedRetryTimeout = int(constants.DefaultPaymentNotReceivedRetryTimeout / time.Second)
		}

		for key, value := range t.RPCURLs {
			if !strings.HasSuffix(strings.ToUpper(key), constants.RPCURLKeySuffix) {
				return fmt.Errorf("tenant %s: rpc url key %q must end in %s", t.Slug, key, constants.RPCURLKeySuffix)
			}
			for _, endpoint := range strings.Split(value, ",") {
				endpoint = strings.TrimSpace(endpoint)
				if endpoint == "" {
					continue
				}
				if err := utils.ValidateServiceURL(endpoint); err != nil {
					return fmt.Errorf("tenant %s: %s: %w", t.Slug, key, err)
				}
			}
		}
		for network, url := range t.SafeServiceURLs {
			if err := utils.ValidateServiceURL(url); err != nil {
				return fmt.Errorf("tenant %s: safe service for %s: %w", t.Slug, network, err)
			}
		}
		if _, err := t.ParsedRates(); err != nil {
			return fmt.Errorf("tenant %s: %w", t.Slug, err)
		}
	}
	return nil
}

// Tenant returns the configuration of one tenant
func (c *Config) Tenant(slug string) (TenantConfig, error) {
	for _, t := range c.Tenants {
		if t.Slug == slug {
			return t, nil
		}
	}
	return TenantConfig{}, fmt.Errorf("unknown tenant %q", slug)
}

// ParsedRates returns the fiat rates as decimals
func (t TenantConfig) ParsedRates() (map[string]decimal.Decimal, error) {
	rates := make(map[string]decimal.Decimal, len(t.Rates))
	for key, value := range t.Rates {
		key = strings.ToUpper(key)
		if !strings.HasSuffix(key, constants.RatesKeySuffix) {
			return nil, fmt.Errorf("rate key %q must end in %s", key, constants.RatesKeySuffix)
		}
		rate, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("rate %s: %w", key, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rate %s must be positive", key)
		}
		rates[key] = rate
	}
	return rates, nil
}

// SafeServiceOverrides returns the Safe service overrides keyed by network id.
// Configuration keys arrive lower-cased, so they are matched case-insensitively.
func (t TenantConfig) SafeServiceOverrides() map[string]string {
	overrides := make(map[string]string, len(t.SafeServiceURLs))
	for key, url := range t.SafeServiceURLs {
		network := key
		for known := range constants.NetworkToChainID {
			if strings.EqualFold(known, key) {
				network = known
				break
			}
		}
		overrides[network] = url
	}
	return overrides
}

// RetryTimeout returns how long unmined evidence is waited for
func (t TenantConfig) RetryTimeout() time.Duration {
	return time.Duration(t.PaymentNotReceivedRetryTimeout) * time.Second
}
