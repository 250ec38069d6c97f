package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/streamrec/streamrec/internal/match"
)

// CatalogDisabled is the catalog_path value that turns the session
// catalog off entirely.
const CatalogDisabled = "none"

// Config holds all configuration for the recorder.
type Config struct {
	// Stream selection. Streams mixes literal ids and '*' patterns;
	// the env form joins them with '+'.
	Streams       []string `yaml:"streams"`
	IgnoreStreams []string `yaml:"ignore_streams"`
	ControlKey    string   `yaml:"control_key"`

	// Redis connection
	RedisHost string `yaml:"redis_host"`
	RedisPort int    `yaml:"redis_port"`
	RedisDB   int    `yaml:"redis_db"`

	// Capture timing, all in milliseconds
	StreamRefreshMs  int `yaml:"stream_refresh_ms"`   // between discovery scans
	DataBlockMs      int `yaml:"data_block_ms"`       // data read block
	WaitBlockMs      int `yaml:"wait_block_ms"`       // control read block while idle
	NoStreamsSleepMs int `yaml:"no_streams_sleep_ms"` // sleep when nothing to record
	DrainTimeoutMs   int `yaml:"drain_timeout_ms"`    // 0 drains without bound

	// Output
	OutDir      string `yaml:"out_dir"`
	PayloadMode string `yaml:"payload_mode"` // "envelope" or "raw"
	Sink        string `yaml:"sink"`         // "zip" or "clickhouse"
	MaxLen      int    `yaml:"max_len"`      // entries per archive
	MaxSize     int64  `yaml:"max_size"`     // bytes per archive
	CatalogPath string `yaml:"catalog_path"` // "" derives {out_dir}/catalog.db, "none" disables

	// ClickHouse sink
	ClickHouseAddr  string `yaml:"clickhouse_addr"`
	ClickHouseDB    string `yaml:"clickhouse_db"`
	ClickHouseTable string `yaml:"clickhouse_table"`

	// Observability
	LogLevel        string `yaml:"log_level"`
	LogFile         string `yaml:"log_file"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
	TracingProtocol string `yaml:"tracing_protocol"`
}

// Load builds configuration from defaults, an optional YAML file, and
// environment variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Streams:    []string{"*"},
		ControlKey: "recording:name",

		RedisHost: "localhost",
		RedisPort: 6379,
		RedisDB:   0,

		StreamRefreshMs:  3000,
		DataBlockMs:      1000,
		WaitBlockMs:      3000,
		NoStreamsSleepMs: 1000,
		DrainTimeoutMs:   0,

		OutDir:      "./recordings",
		PayloadMode: "envelope",
		Sink:        "zip",
		MaxLen:      1000,
		MaxSize:     9961472, // 9.5 MiB

		ClickHouseAddr:  "localhost:9000",
		ClickHouseDB:    "streams",
		ClickHouseTable: "stream_entries",

		LogLevel:        "info",
		TracingProtocol: "grpc",
	}
}

func (c *Config) applyEnv() {
	c.Streams = parseStreamList(getEnv("STREAMREC_STREAMS", ""), c.Streams)
	c.IgnoreStreams = parseStreamList(getEnv("STREAMREC_IGNORE", ""), c.IgnoreStreams)
	c.ControlKey = getEnv("STREAMREC_RECORD_KEY", c.ControlKey)

	c.RedisHost = getEnv("REDIS_HOST", c.RedisHost)
	c.RedisPort = getEnvInt("REDIS_PORT", c.RedisPort)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)

	c.StreamRefreshMs = getEnvInt("STREAMREC_STREAM_REFRESH_MS", c.StreamRefreshMs)
	c.DataBlockMs = getEnvInt("STREAMREC_DATA_BLOCK_MS", c.DataBlockMs)
	c.WaitBlockMs = getEnvInt("STREAMREC_WAIT_BLOCK_MS", c.WaitBlockMs)
	c.NoStreamsSleepMs = getEnvInt("STREAMREC_NO_STREAMS_SLEEP_MS", c.NoStreamsSleepMs)
	c.DrainTimeoutMs = getEnvInt("STREAMREC_DRAIN_TIMEOUT_MS", c.DrainTimeoutMs)

	c.OutDir = getEnv("STREAMREC_OUT_DIR", c.OutDir)
	c.PayloadMode = getEnv("STREAMREC_PAYLOAD_MODE", c.PayloadMode)
	c.Sink = getEnv("STREAMREC_SINK", c.Sink)
	c.MaxLen = getEnvInt("STREAMREC_MAX_LEN", c.MaxLen)
	c.MaxSize = getEnvInt64("STREAMREC_MAX_SIZE", c.MaxSize)
	c.CatalogPath = getEnv("STREAMREC_CATALOG", c.CatalogPath)

	c.ClickHouseAddr = getEnv("CLICKHOUSE_ADDR", c.ClickHouseAddr)
	c.ClickHouseDB = getEnv("CLICKHOUSE_DB", c.ClickHouseDB)
	c.ClickHouseTable = getEnv("CLICKHOUSE_TABLE", c.ClickHouseTable)

	c.LogLevel = getEnv("STREAMREC_LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("STREAMREC_LOG_FILE", c.LogFile)
	c.TracingEnabled = getEnvBool("STREAMREC_TRACING", c.TracingEnabled)
	c.TracingEndpoint = getEnv("STREAMREC_TRACING_ENDPOINT", c.TracingEndpoint)
	c.TracingProtocol = getEnv("STREAMREC_TRACING_PROTOCOL", c.TracingProtocol)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	ids, patterns := match.Split(c.Streams)
	if len(ids) == 0 && len(patterns) == 0 {
		return fmt.Errorf("at least one stream id or pattern is required")
	}
	if _, err := match.Compile(patterns); err != nil {
		return err
	}
	if _, err := match.Compile(c.IgnoreStreams); err != nil {
		return err
	}
	if c.ControlKey == "" {
		return fmt.Errorf("control_key is required")
	}
	if c.RedisHost == "" {
		return fmt.Errorf("redis_host is required")
	}
	if c.RedisPort <= 0 || c.RedisPort > 65535 {
		return fmt.Errorf("redis_port must be between 1 and 65535")
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("redis_db must not be negative")
	}
	if c.StreamRefreshMs < 0 || c.DataBlockMs < 0 || c.WaitBlockMs < 0 ||
		c.NoStreamsSleepMs < 0 || c.DrainTimeoutMs < 0 {
		return fmt.Errorf("timing values must not be negative")
	}
	if c.OutDir == "" {
		return fmt.Errorf("out_dir is required")
	}
	if c.PayloadMode != "envelope" && c.PayloadMode != "raw" {
		return fmt.Errorf("payload_mode must be 'envelope' or 'raw', got %q", c.PayloadMode)
	}
	if c.Sink != "zip" && c.Sink != "clickhouse" {
		return fmt.Errorf("sink must be 'zip' or 'clickhouse', got %q", c.Sink)
	}
	if c.MaxLen < 1 {
		return fmt.Errorf("max_len must be at least 1")
	}
	if c.MaxSize < 1 {
		return fmt.Errorf("max_size must be at least 1")
	}
	if c.Sink == "clickhouse" {
		if c.ClickHouseAddr == "" {
			return fmt.Errorf("clickhouse_addr is required for the clickhouse sink")
		}
		if c.ClickHouseDB == "" || c.ClickHouseTable == "" {
			return fmt.Errorf("clickhouse_db and clickhouse_table are required for the clickhouse sink")
		}
	}
	if c.TracingProtocol != "grpc" && c.TracingProtocol != "http" {
		return fmt.Errorf("tracing_protocol must be 'grpc' or 'http', got %q", c.TracingProtocol)
	}

	return nil
}

// SplitStreams partitions the configured stream specs into literal
// ids and patterns.
func (c *Config) SplitStreams() (ids, patterns []string) {
	return match.Split(c.Streams)
}

// ResolvedCatalogPath returns the catalog location, deriving the
// default under the output directory. Empty means disabled.
func (c *Config) ResolvedCatalogPath() string {
	switch c.CatalogPath {
	case CatalogDisabled:
		return ""
	case "":
		return filepath.Join(c.OutDir, "catalog.db")
	default:
		return c.CatalogPath
	}
}

// Duration accessors for the millisecond-valued settings.

func (c *Config) StreamRefresh() time.Duration {
	return time.Duration(c.StreamRefreshMs) * time.Millisecond
}
func (c *Config) DataBlock() time.Duration { return time.Duration(c.DataBlockMs) * time.Millisecond }
func (c *Config) WaitBlock() time.Duration { return time.Duration(c.WaitBlockMs) * time.Millisecond }
func (c *Config) NoStreamsSleep() time.Duration {
	return time.Duration(c.NoStreamsSleepMs) * time.Millisecond
}
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutMs) * time.Millisecond
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 gets a 64-bit integer environment variable or returns a default value
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// parseStreamList parses a '+'-separated list of stream specs.
func parseStreamList(specsStr string, defaultValue []string) []string {
	if specsStr == "" {
		return defaultValue
	}

	specs := strings.Split(specsStr, "+")
	result := make([]string, 0, len(specs))

	for _, spec := range specs {
		trimmed := strings.TrimSpace(spec)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
