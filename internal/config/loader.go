package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the TOML configuration file structure.
type TOMLConfig struct {
	Redis      TOMLRedisConfig      `toml:"redis"`
	MongoDB    TOMLMongoDBConfig    `toml:"mongodb"`
	Store      TOMLStoreConfig      `toml:"store"`
	Scheduler  TOMLSchedulerConfig  `toml:"scheduler"`
	Dispatcher TOMLDispatcherConfig `toml:"dispatcher"`
	Webhook    TOMLWebhookConfig    `toml:"webhook"`
	Admin      TOMLAdminConfig      `toml:"admin"`
	LogLevel   string               `toml:"log_level"`
	DevMode    bool                 `toml:"dev_mode"`
}

// TOMLRedisConfig represents Redis configuration in TOML.
type TOMLRedisConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// TOMLMongoDBConfig represents MongoDB configuration in TOML.
type TOMLMongoDBConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

// TOMLStoreConfig represents store configuration in TOML.
type TOMLStoreConfig struct {
	JournalDir string `toml:"journal_dir"`
}

// TOMLSchedulerConfig represents scheduler configuration in TOML.
type TOMLSchedulerConfig struct {
	MaxConcurrentPolls int    `toml:"max_concurrent_polls"`
	PollInterval       string `toml:"poll_interval"`
	ReconcileInterval  string `toml:"reconcile_interval"`
	WatchdogInterval   string `toml:"watchdog_interval"`
	WatchdogCeiling    string `toml:"watchdog_ceiling"`
	DrainDeadline      string `toml:"drain_deadline"`
	RequestTimeout     string `toml:"request_timeout"`
	PollDeadline       string `toml:"poll_deadline"`
	PeakHourStart      int    `toml:"peak_hour_start"`
	PeakHourEnd        int    `toml:"peak_hour_end"`
}

// TOMLDispatcherConfig represents dispatcher configuration in TOML.
type TOMLDispatcherConfig struct {
	ProcessingInterval string `toml:"processing_interval"`
	BatchSize          int    `toml:"batch_size"`
	LeaseDuration      string `toml:"lease_duration"`
	MaxRetries         int    `toml:"max_retries"`
	DeliveryTimeout    string `toml:"delivery_timeout"`
	Shards             int    `toml:"shards"`
}

// TOMLWebhookConfig represents webhook configuration in TOML.
type TOMLWebhookConfig struct {
	Secret string `toml:"secret"`
}

// TOMLAdminConfig represents admin configuration in TOML.
type TOMLAdminConfig struct {
	Port int `toml:"port"`
}

// ConfigPaths lists the paths to search for config files.
var ConfigPaths = []string{
	"config.toml",
	"application.toml",
	"listingwatch.toml",
	"./config/config.toml",
	"./config/application.toml",
	"/etc/listingwatch/config.toml",
}

// LoadFromFile loads configuration from a TOML file.
func LoadFromFile(path string) (*Config, error) {
	var tomlCfg TOMLConfig

	if _, err := toml.DecodeFile(path, &tomlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return tomlConfigToConfig(&tomlCfg)
}

// LoadWithFile loads configuration from environment variables, then layers
// any values found in a TOML config file underneath as defaults, with env
// vars that differ from their hardcoded default taking precedence.
func LoadWithFile() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	configPath := os.Getenv("LISTINGWATCH_CONFIG")
	if configPath == "" {
		for _, path := range ConfigPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}

	if configPath == "" {
		return cfg, nil
	}

	fileCfg, err := LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	return mergeConfigs(fileCfg, cfg), nil
}

func tomlConfigToConfig(tc *TOMLConfig) (*Config, error) {
	cfg := &Config{
		Redis: RedisConfig{
			Host: tc.Redis.Host,
			Port: tc.Redis.Port,
		},
		MongoDB: MongoDBConfig{
			URI:      tc.MongoDB.URI,
			Database: tc.MongoDB.Database,
		},
		Store: StoreConfig{
			JournalDir: tc.Store.JournalDir,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentPolls: tc.Scheduler.MaxConcurrentPolls,
			PeakHourStart:      tc.Scheduler.PeakHourStart,
			PeakHourEnd:        tc.Scheduler.PeakHourEnd,
		},
		Dispatcher: DispatcherConfig{
			BatchSize:  tc.Dispatcher.BatchSize,
			MaxRetries: tc.Dispatcher.MaxRetries,
			Shards:     tc.Dispatcher.Shards,
		},
		Webhook: WebhookConfig{
			Secret: tc.Webhook.Secret,
		},
		Admin: AdminConfig{
			Port: tc.Admin.Port,
		},
		LogLevel: tc.LogLevel,
		DevMode:  tc.DevMode,
	}

	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{tc.Scheduler.PollInterval, &cfg.Scheduler.PollInterval},
		{tc.Scheduler.ReconcileInterval, &cfg.Scheduler.ReconcileInterval},
		{tc.Scheduler.WatchdogInterval, &cfg.Scheduler.WatchdogInterval},
		{tc.Scheduler.WatchdogCeiling, &cfg.Scheduler.WatchdogCeiling},
		{tc.Scheduler.DrainDeadline, &cfg.Scheduler.DrainDeadline},
		{tc.Scheduler.RequestTimeout, &cfg.Scheduler.RequestTimeout},
		{tc.Scheduler.PollDeadline, &cfg.Scheduler.PollDeadline},
		{tc.Dispatcher.ProcessingInterval, &cfg.Dispatcher.ProcessingInterval},
		{tc.Dispatcher.LeaseDuration, &cfg.Dispatcher.LeaseDuration},
		{tc.Dispatcher.DeliveryTimeout, &cfg.Dispatcher.DeliveryTimeout},
	} {
		if d.raw == "" {
			continue
		}
		if parsed, err := time.ParseDuration(d.raw); err == nil {
			*d.dst = parsed
		}
	}

	return cfg, nil
}

// mergeConfigs merges two configs, with override taking precedence whenever
// its value differs from the hardcoded Load() default.
func mergeConfigs(base, override *Config) *Config {
	result := *base
	defaults, _ := Load()

	if override.Redis.Host != "" && override.Redis.Host != defaults.Redis.Host {
		result.Redis.Host = override.Redis.Host
	}
	if override.Redis.Port != 0 && override.Redis.Port != defaults.Redis.Port {
		result.Redis.Port = override.Redis.Port
	}

	if override.MongoDB.URI != "" && override.MongoDB.URI != defaults.MongoDB.URI {
		result.MongoDB.URI = override.MongoDB.URI
	}
	if override.MongoDB.Database != "" && override.MongoDB.Database != defaults.MongoDB.Database {
		result.MongoDB.Database = override.MongoDB.Database
	}

	if override.Store.JournalDir != "" && override.Store.JournalDir != defaults.Store.JournalDir {
		result.Store.JournalDir = override.Store.JournalDir
	}

	if override.Scheduler.MaxConcurrentPolls != defaults.Scheduler.MaxConcurrentPolls {
		result.Scheduler.MaxConcurrentPolls = override.Scheduler.MaxConcurrentPolls
	}
	if override.Scheduler.PollInterval != defaults.Scheduler.PollInterval {
		result.Scheduler.PollInterval = override.Scheduler.PollInterval
	}
	if override.Scheduler.PeakHourStart != defaults.Scheduler.PeakHourStart {
		result.Scheduler.PeakHourStart = override.Scheduler.PeakHourStart
	}
	if override.Scheduler.PeakHourEnd != defaults.Scheduler.PeakHourEnd {
		result.Scheduler.PeakHourEnd = override.Scheduler.PeakHourEnd
	}

	if override.Dispatcher.BatchSize != defaults.Dispatcher.BatchSize {
		result.Dispatcher.BatchSize = override.Dispatcher.BatchSize
	}
	if override.Dispatcher.MaxRetries != defaults.Dispatcher.MaxRetries {
		result.Dispatcher.MaxRetries = override.Dispatcher.MaxRetries
	}
	if override.Dispatcher.Shards != defaults.Dispatcher.Shards {
		result.Dispatcher.Shards = override.Dispatcher.Shards
	}

	if override.Webhook.Secret != "" {
		result.Webhook.Secret = override.Webhook.Secret
	}

	if override.Admin.Port != 0 && override.Admin.Port != defaults.Admin.Port {
		result.Admin.Port = override.Admin.Port
	}

	if override.LogLevel != "" && override.LogLevel != defaults.LogLevel {
		result.LogLevel = override.LogLevel
	}
	if override.DevMode {
		result.DevMode = true
	}

	return &result
}

// WriteExampleConfig writes an example configuration file.
func WriteExampleConfig(path string) error {
	example := `# listingwatch configuration
# Environment variables override these settings.

[redis]
host = "localhost"
port = 6379

[mongodb]
uri = "mongodb://localhost:27017/?replicaSet=rs0&directConnection=true"
database = "listingwatch"

[store]
journal_dir = "./data/journal"

[scheduler]
max_concurrent_polls = 10
poll_interval = "1s"
reconcile_interval = "24h"
watchdog_interval = "30s"
watchdog_ceiling = "5m"
drain_deadline = "30s"
request_timeout = "30s"
poll_deadline = "2m"
peak_hour_start = 8
peak_hour_end = 20

[dispatcher]
processing_interval = "2s"
batch_size = 100
lease_duration = "60s"
max_retries = 5
delivery_timeout = "15s"
shards = 16

[webhook]
secret = ""

[admin]
port = 8080

log_level = "info"
dev_mode = false
`

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	return os.WriteFile(path, []byte(example), 0644)
}
