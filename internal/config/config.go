// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. ENGAGEMENT_SERVER_PORT.
const EnvPrefix = "ENGAGEMENT"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Hub      HubConfig      `mapstructure:"hub"`
	Sinks    SinksConfig    `mapstructure:"sinks"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int     `mapstructure:"port"`
	ReplayRate      float64 `mapstructure:"replay_rate"`
	ReplayBurst     int     `mapstructure:"replay_burst"`
	MaxBodyBytes    int64   `mapstructure:"max_body_bytes"`
	ShutdownTimeout int     `mapstructure:"shutdown_timeout_seconds"`

	// TrustedProxies are CIDRs or addresses allowed to set X-Forwarded-For.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls OpenTelemetry span sampling.
type TracingConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// TrackingConfig tunes the trackers and the bot filter.
type TrackingConfig struct {
	DebounceMs         int               `mapstructure:"debounce_ms"`
	DwellFloorSeconds  int               `mapstructure:"dwell_floor_seconds"`
	DefaultReadMinutes int               `mapstructure:"default_read_minutes"`
	BotMissingGlobals  int               `mapstructure:"bot_missing_globals"`
	Titles             map[string]string `mapstructure:"titles"`
}

// HubConfig sizes the event hub.
type HubConfig struct {
	BufferSize         int `mapstructure:"buffer_size"`
	MaxBatchEvents     int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs     int `mapstructure:"max_batch_wait_ms"`
	SinkTimeoutSeconds int `mapstructure:"sink_timeout_seconds"`
}

// SinksConfig enables event destinations. A destination is active when its
// required field (DSN, address, topic, bucket, directory or path) is set.
type SinksConfig struct {
	Log        bool             `mapstructure:"log"`
	Prometheus bool             `mapstructure:"prometheus"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	AMQP       AMQPConfig       `mapstructure:"amqp"`
	GCS        GCSConfig        `mapstructure:"gcs"`
	Local      LocalConfig      `mapstructure:"local"`
	Content    ContentConfig    `mapstructure:"content"`
}

// PostgresConfig controls the relational event store.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// ClickHouseConfig controls the columnar event store.
type ClickHouseConfig struct {
	Addr     string `mapstructure:"addr"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Table    string `mapstructure:"table"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// AMQPConfig points at a broker exchange.
type AMQPConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

// GCSConfig sets the bucket and prefix for archived batches.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// LocalConfig archives batches on the local filesystem.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// ContentConfig mirrors events into a keyed document collection.
type ContentConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
	Collection string `mapstructure:"collection"`
}

// Load builds a Config from an optional .env file, disk and environment.
func Load(path string) (Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadDotEnv exports the variables in each existing file without overriding
// values already present in the environment. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.replay_rate", 5.0)
	v.SetDefault("server.replay_burst", 10)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.service_name", "engagement-analytics")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracking.debounce_ms", 100)
	v.SetDefault("tracking.dwell_floor_seconds", 5)
	v.SetDefault("tracking.default_read_minutes", 5)
	v.SetDefault("tracking.bot_missing_globals", 2)
	v.SetDefault("hub.buffer_size", 1024)
	v.SetDefault("hub.max_batch_events", 200)
	v.SetDefault("hub.max_batch_wait_ms", 1000)
	v.SetDefault("hub.sink_timeout_seconds", 10)
	v.SetDefault("sinks.log", true)
	v.SetDefault("sinks.prometheus", true)
	v.SetDefault("sinks.postgres.table", "engagement_events")
	v.SetDefault("sinks.clickhouse.database", "default")
	v.SetDefault("sinks.clickhouse.username", "default")
	v.SetDefault("sinks.clickhouse.table", "engagement_events")
	v.SetDefault("sinks.amqp.exchange", "engagement")
	v.SetDefault("sinks.amqp.routing_key", "events")
	v.SetDefault("sinks.gcs.prefix", "engagement")
	v.SetDefault("sinks.local.prefix", "engagement")
	v.SetDefault("sinks.content.collection", "engagement_events")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.ReplayRate <= 0 || c.Server.ReplayBurst <= 0 {
		return fmt.Errorf("server.replay_rate and server.replay_burst must be > 0")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be > 0")
	}
	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		return err
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.Tracking.DebounceMs < 0 {
		return fmt.Errorf("tracking.debounce_ms must be >= 0")
	}
	if c.Tracking.DwellFloorSeconds < 0 {
		return fmt.Errorf("tracking.dwell_floor_seconds must be >= 0")
	}
	if c.Hub.BufferSize <= 0 || c.Hub.MaxBatchEvents <= 0 {
		return fmt.Errorf("hub.buffer_size and hub.max_batch_events must be > 0")
	}
	if c.Sinks.PubSub.TopicName != "" && c.Sinks.PubSub.ProjectID == "" {
		return fmt.Errorf("sinks.pubsub.project_id must be set when a topic is configured")
	}
	if c.Sinks.AMQP.URL != "" && c.Sinks.AMQP.Exchange == "" {
		return fmt.Errorf("sinks.amqp.exchange must be set when a broker url is configured")
	}
	return nil
}

// TrustedProxyPrefixes parses server.trusted_proxies. Bare addresses become
// single-host prefixes.
func (c ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("server.trusted_proxies: %w", err)
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("server.trusted_proxies: %w", err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Debounce returns the navigation debounce window.
func (c TrackingConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// MaxBatchWait returns the hub flush interval.
func (c HubConfig) MaxBatchWait() time.Duration {
	return time.Duration(c.MaxBatchWaitMs) * time.Millisecond
}

// SinkTimeout returns the per-sink delivery budget.
func (c HubConfig) SinkTimeout() time.Duration {
	return time.Duration(c.SinkTimeoutSeconds) * time.Second
}

// ShutdownGrace returns how long the server waits for in-flight requests.
func (c ServerConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}
