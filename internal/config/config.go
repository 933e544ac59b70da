// Package config loads orchestrator-core's runtime configuration: the
// metadata store DSN, successful-node cache sizing, tick cadence, and log
// level, via a viper-backed loader with environment-variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is orchestrator-core's full runtime configuration.
type Config struct {
	Store      StoreConfig      `mapstructure:"store"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Tick       TickConfig       `mapstructure:"tick"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// StoreConfig configures the metadata store backend.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"` // sqlite DSN, e.g. "file:orchestrator.db"
}

// CacheConfig configures the in-process successful-nodes cache.
type CacheConfig struct {
	SuccessfulNodeCapacity int `mapstructure:"successful_node_capacity"`
}

// TickConfig configures the `tick --loop` driver cadence.
type TickConfig struct {
	Interval string `mapstructure:"interval"` // e.g. "2s"
}

// IntervalDuration parses Tick.Interval, defaulting to 2s if unset or invalid.
func (t TickConfig) IntervalDuration() time.Duration {
	if t.Interval == "" {
		return 2 * time.Second
	}
	d, err := time.ParseDuration(t.Interval)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `mapstructure:"level"` // debug | info | warn | error
}

// MonitoringConfig configures the Prometheus metrics endpoint.
type MonitoringConfig struct {
	Enable bool   `mapstructure:"enable"`
	Addr   string `mapstructure:"addr"` // e.g. ":9090"
}

// Defaults mirror a single-node local run: an on-disk sqlite file next to
// the working directory, the cache capacity the spec names, a 2s tick
// interval, info logging, metrics off.
func Defaults() Config {
	return Config{
		Store:      StoreConfig{DSN: "file:orchestrator-core.db"},
		Cache:      CacheConfig{SuccessfulNodeCapacity: 1024},
		Tick:       TickConfig{Interval: "2s"},
		Log:        LogConfig{Level: "info"},
		Monitoring: MonitoringConfig{Enable: false, Addr: ":9090"},
	}
}

// Load reads configuration from configPath (if non-empty) and environment
// variables prefixed ORCHESTRATOR_ (e.g. ORCHESTRATOR_STORE_DSN), layered
// over Defaults().
func Load(configPath string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.MergeConfigMap(defaultsAsMap(cfg)); err != nil {
		return Config{}, fmt.Errorf("config: seeding defaults: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %q: %w", configPath, err)
		}
	}

	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return Config{}, fmt.Errorf("config: unmarshalling: %w", err)
	}
	return out, nil
}

func defaultsAsMap(c Config) map[string]any {
	return map[string]any{
		"store": map[string]any{
			"dsn": c.Store.DSN,
		},
		"cache": map[string]any{
			"successful_node_capacity": c.Cache.SuccessfulNodeCapacity,
		},
		"tick": map[string]any{
			"interval": c.Tick.Interval,
		},
		"log": map[string]any{
			"level": c.Log.Level,
		},
		"monitoring": map[string]any{
			"enable": c.Monitoring.Enable,
			"addr":   c.Monitoring.Addr,
		},
	}
}
