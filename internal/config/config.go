// Package config loads the engine's runtime configuration from the
// environment: bus connection URLs, the configured market list, the base
// currency, and the snapshot/faucet toggles. Unlike a bot with a large
// strategy surface, the engine's configuration is small enough that
// environment variables alone (rather than a YAML file) are the natural
// source — but the loading mechanics still go through viper, the same
// library this family of services reaches for.
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the engine's full runtime configuration.
type Config struct {
	// Markets is the list of BASE_QUOTE symbols to seed order books for.
	Markets []string `mapstructure:"markets"`

	// BaseCurrency is the asset credited by ON_RAMP.
	BaseCurrency string `mapstructure:"base_currency"`

	// OrdersBusURL, FanoutBusURL, DBWriterBusURL are the three Redis
	// connection strings: the request queue, the reply/broadcast
	// pub-sub, and the DB writer's queue. Kept separate per connection
	// rather than a single shared client (see internal/bus).
	OrdersBusURL   string `mapstructure:"orders_bus_url"`
	FanoutBusURL   string `mapstructure:"fanout_bus_url"`
	DBWriterBusURL string `mapstructure:"db_writer_bus_url"`

	// AllowFaucet enables lazy zero-balance account creation on first
	// Lock instead of requiring an explicit ON_RAMP. Off by default: a
	// sandbox-only convenience, never a production default.
	AllowFaucet bool `mapstructure:"allow_faucet"`

	// SnapshotPath, if non-empty, is loaded at startup and written on
	// graceful shutdown.
	SnapshotPath string `mapstructure:"snapshot_path"`

	// AdminListenAddr is where /healthz and /metrics are served.
	AdminListenAddr string `mapstructure:"admin_listen_addr"`

	// LogLevel sets the level of the engine's logger ("debug", "info", "warn", "error").
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from environment variables prefixed EXCHANGE_,
// e.g. EXCHANGE_MARKETS, EXCHANGE_BASE_CURRENCY, EXCHANGE_ORDERS_BUS_URL.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("base_currency", "INR")
	v.SetDefault("markets", []string{"SOL_USDC"})
	v.SetDefault("orders_bus_url", "redis://localhost:6379/0")
	v.SetDefault("fanout_bus_url", "redis://localhost:6379/1")
	v.SetDefault("db_writer_bus_url", "redis://localhost:6379/2")
	v.SetDefault("allow_faucet", false)
	v.SetDefault("snapshot_path", "")
	v.SetDefault("admin_listen_addr", ":9090")
	v.SetDefault("log_level", "info")

	// viper's AutomaticEnv only binds keys that have been referenced
	// (via Get/SetDefault/BindEnv); every field above already has a
	// default, so each env var is reachable by name.
	for _, key := range []string{
		"markets", "base_currency", "orders_bus_url", "fanout_bus_url",
		"db_writer_bus_url", "allow_faucet", "snapshot_path", "admin_listen_addr", "log_level",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if len(c.Markets) == 0 {
		return fmt.Errorf("at least one market is required")
	}
	if c.BaseCurrency == "" {
		return fmt.Errorf("base_currency is required")
	}
	if c.OrdersBusURL == "" || c.FanoutBusURL == "" || c.DBWriterBusURL == "" {
		return fmt.Errorf("orders_bus_url, fanout_bus_url, and db_writer_bus_url are all required")
	}
	return nil
}
