package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ETHRECONCILE_DATABASE_DSN
const EnvPrefix = "ETHRECONCILE"

// Load reads the configuration file at path (YAML or JSON, by extension) over the
// defaults, applies environment overrides and validates the result. An empty
// path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	defaults := Default()
	v.SetDefault("database_dsn", defaults.DatabaseDSN)
	v.SetDefault("listen_addr", defaults.ListenAddr)
	v.SetDefault("metrics_addr", defaults.MetricsAddr)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("workers", defaults.Workers)
	v.SetDefault("run_interval", defaults.RunInterval)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
