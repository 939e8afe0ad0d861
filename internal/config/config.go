// Package config loads server settings from config/config.yaml and
// CRONCAT_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envPrefix = "CRONCAT"

// Storage drivers
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config is the full server configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// ChainConfig drives the block clock: height and time advance together
// from the genesis values.
type ChainConfig struct {
	GenesisHeight uint64        `mapstructure:"genesis_height"`
	GenesisTime   time.Time     `mapstructure:"genesis_time"`
	BlockTime     time.Duration `mapstructure:"block_time"`
}

type SchedulerConfig struct {
	OwnerID          string `mapstructure:"owner_id"`
	ContractAddress  string `mapstructure:"contract_address"`
	NativeDenom      string `mapstructure:"native_denom"`
	MinTasksPerAgent uint64 `mapstructure:"min_tasks_per_agent"`
	// SlotGranularity is the width of a time slot
	SlotGranularity time.Duration `mapstructure:"slot_granularity"`
}

type AgentConfig struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
}

type MetricsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "croncat")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.path", "croncat.db")
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("chain.genesis_height", 1)
	v.SetDefault("chain.genesis_time", "2022-01-01T00:00:00Z")
	v.SetDefault("chain.block_time", 6*time.Second)
	v.SetDefault("scheduler.owner_id", "")
	v.SetDefault("scheduler.contract_address", "croncat")
	v.SetDefault("scheduler.native_denom", "atom")
	v.SetDefault("scheduler.min_tasks_per_agent", 3)
	v.SetDefault("scheduler.slot_granularity", time.Minute)
	v.SetDefault("agent.heartbeat_timeout", 15*time.Second)
	v.SetDefault("metrics.interval", 30*time.Second)
}

// Load reads the configuration. An empty path looks for config.yaml under
// ./config and falls back to defaults when there is none; an explicit path
// must exist.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToTimeHookFunc(time.RFC3339),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges that defaults cannot guarantee
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			return errors.New("invalid config: storage.path is required for sqlite")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid config: unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Scheduler.NativeDenom == "" {
		return errors.New("invalid config: scheduler.native_denom is required")
	}
	if c.Scheduler.SlotGranularity <= 0 {
		return errors.New("invalid config: scheduler.slot_granularity must be positive")
	}
	if c.Agent.HeartbeatTimeout < time.Second {
		return errors.New("invalid config: agent.heartbeat_timeout must be at least 1s")
	}
	if c.Metrics.Interval <= 0 {
		return errors.New("invalid config: metrics.interval must be positive")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// WatchLogLevel applies log.level changes from the config file to level
func WatchLogLevel(v *viper.Viper, level zap.AtomicLevel, logger *zap.Logger) {
	v.OnConfigChange(func(e fsnotify.Event) {
		lvl, err := zapcore.ParseLevel(v.GetString("log.level"))
		if err != nil {
			logger.Warn("Ignoring invalid log level",
				zap.String("file", e.Name),
				zap.Error(err))
			return
		}
		if lvl == level.Level() {
			return
		}
		level.SetLevel(lvl)
		logger.Info("Log level changed",
			zap.String("file", e.Name),
			zap.Stringer("level", lvl))
	})
	v.WatchConfig()
}
