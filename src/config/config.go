package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"screener-engine/src/helpers"
	"screener-engine/src/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file. Variables from a
// .env file next to the process and SCREENER_* environment variables
// override the file values.
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, helpers.NewConfigurationError(fmt.Sprintf("failed to read config file '%s'", configPath), err)
	}

	// 2. Pick up .env if present; a missing file is not an error
	_ = godotenv.Load()

	return Parse(data, os.Getenv)
}

// -----------------------------------------------------------------------------

// Parse builds a validated Config from YAML bytes, applying defaults and the
// overrides returned by getenv.
func Parse(data []byte, getenv func(string) string) (*Config, error) {
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, helpers.NewConfigurationError("failed to parse config from YAML", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.applyDefaults()
	if getenv != nil {
		if err := config.applyEnv(getenv); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, helpers.NewConfigurationError("config validation failed", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "screener-engine"
	}
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Storage.Schema == "" {
		c.Storage.Schema = "screener"
	}
	if c.Calendar.MIC == "" {
		c.Calendar.MIC = "XNYS"
	}

	r := &c.Refresh
	if r.Workers == 0 {
		r.Workers = 1
	}
	if r.BatchLimit == 0 {
		r.BatchLimit = 100
	}
	if r.PassInterval == "" {
		r.PassInterval = "1s"
	}
	if r.PassTimeout == "" {
		r.PassTimeout = "30s"
	}
	if r.ClaimTimeout == "" {
		r.ClaimTimeout = "2m"
	}
	if r.MaxCommitRetry == 0 {
		r.MaxCommitRetry = 3
	}

	if c.Reference.DailyCadence == "" {
		c.Reference.DailyCadence = "15m"
	}
	if c.Reference.MinuteCadence == "" {
		c.Reference.MinuteCadence = "30s"
	}
	if c.Reference.Concurrency == 0 {
		c.Reference.Concurrency = 8
	}

	if c.Tiering.Interval == "" {
		c.Tiering.Interval = "1h"
	}
	if c.Tiering.RollupRetentionDays == 0 {
		c.Tiering.RollupRetentionDays = 3
	}

	if c.Cache.RowTTL == "" {
		c.Cache.RowTTL = "24h"
	}

	f := &c.Feed
	if f.BaseURL == "" {
		f.BaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"
	}
	if f.PollInterval == "" {
		f.PollInterval = "1m"
	}
	if f.RequestTimeout == "" {
		f.RequestTimeout = "10s"
	}
	if f.MaxRetries == 0 {
		f.MaxRetries = 3
	}
	if f.Concurrency == 0 {
		f.Concurrency = 4
	}
	if f.UserAgent == "" {
		f.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	}
}

// -----------------------------------------------------------------------------

func (c *Config) applyEnv(getenv func(string) string) error {
	set := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	set("SCREENER_LOG_LEVEL", &c.LogLevel)
	set("SCREENER_DB_TYPE", &c.Storage.DBType)
	set("SCREENER_DB_PATH", &c.Storage.DBPath)
	set("SCREENER_DB_CONNECTION_STRING", &c.Storage.DBConnectionString)
	set("SCREENER_ARCHIVE_DIR", &c.Storage.ArchiveDir)
	set("SCREENER_REDIS_ADDR", &c.Cache.RedisAddr)
	set("SCREENER_REDIS_PASSWORD", &c.Cache.RedisPassword)
	set("SCREENER_BENCHMARK", &c.Refresh.Benchmark)
	set("SCREENER_FEED_BASE_URL", &c.Feed.BaseURL)

	if v := getenv("SCREENER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return helpers.NewConfigurationError("invalid SCREENER_PORT", err)
		}
		c.Port = port
	}
	if v := getenv("SCREENER_WORKERS"); v != "" {
		workers, err := strconv.Atoi(v)
		if err != nil {
			return helpers.NewConfigurationError("invalid SCREENER_WORKERS", err)
		}
		c.Refresh.Workers = workers
	}
	return nil
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Validate Server configuration (Flattened)
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort != 0 && (c.GrpcPort <= 1024 || c.GrpcPort > 65535) {
		return fmt.Errorf("invalid grpc port number: %d", c.GrpcPort)
	}

	// Validate Storage configuration
	switch c.Storage.DBType {
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return fmt.Errorf("database connection string cannot be empty for postgres")
		}
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
	case "memory":
	case "":
		return fmt.Errorf("database type cannot be empty")
	default:
		return fmt.Errorf("unsupported database type %q", c.Storage.DBType)
	}

	// Validate Refresh configuration
	if c.Refresh.Workers <= 0 {
		return fmt.Errorf("refresh workers must be greater than 0")
	}
	if c.Refresh.BatchLimit <= 0 {
		return fmt.Errorf("refresh batch limit must be greater than 0")
	}
	for name, value := range map[string]string{
		"refresh.pass_interval":    c.Refresh.PassInterval,
		"refresh.pass_timeout":     c.Refresh.PassTimeout,
		"refresh.claim_timeout":    c.Refresh.ClaimTimeout,
		"reference.daily_cadence":  c.Reference.DailyCadence,
		"reference.minute_cadence": c.Reference.MinuteCadence,
		"tiering.interval":         c.Tiering.Interval,
		"cache.row_ttl":            c.Cache.RowTTL,
		"feed.poll_interval":       c.Feed.PollInterval,
		"feed.request_timeout":     c.Feed.RequestTimeout,
	} {
		d, err := ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be greater than 0", name)
		}
	}
	if c.Reference.Concurrency <= 0 {
		return fmt.Errorf("reference concurrency must be greater than 0")
	}

	// Validate Tiering configuration
	if c.Tiering.RollupRetentionDays < 2 {
		return fmt.Errorf("rollup retention must keep at least 2 trading days")
	}
	if _, err := c.Retention(); err != nil {
		return err
	}

	if c.Cache.RedisEnabled && c.Cache.RedisAddr == "" {
		return fmt.Errorf("redis address cannot be empty when redis is enabled")
	}

	if c.Feed.Enabled && c.Feed.Concurrency <= 0 {
		return fmt.Errorf("feed concurrency must be greater than 0")
	}

	return nil
}

// -----------------------------------------------------------------------------

// Retention parses the per-resolution tiering policies.
func (c *Config) Retention() (map[models.Resolution]models.MRetention, error) {
	out := make(map[models.Resolution]models.MRetention, len(c.Tiering.Policies))
	for name, policy := range c.Tiering.Policies {
		res, err := models.ParseResolution(name)
		if err != nil {
			return nil, fmt.Errorf("tiering policy: %w", err)
		}
		compress, err := ParseDuration(policy.CompressAfter)
		if err != nil {
			return nil, fmt.Errorf("tiering policy %s compress_after: %w", name, err)
		}
		retain, err := ParseDuration(policy.RetainFor)
		if err != nil {
			return nil, fmt.Errorf("tiering policy %s retain_for: %w", name, err)
		}
		if compress <= 0 {
			return nil, fmt.Errorf("tiering policy %s: compress_after must be greater than 0", name)
		}
		if retain < 0 || (retain > 0 && retain <= compress) {
			return nil, fmt.Errorf("tiering policy %s: retain_for must be 0 or greater than compress_after", name)
		}
		out[res] = models.MRetention{CompressAfter: compress, RetainFor: retain}
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func (c *Config) PassInterval() time.Duration  { return mustDuration(c.Refresh.PassInterval) }
func (c *Config) PassTimeout() time.Duration   { return mustDuration(c.Refresh.PassTimeout) }
func (c *Config) ClaimTimeout() time.Duration  { return mustDuration(c.Refresh.ClaimTimeout) }
func (c *Config) DailyCadence() time.Duration  { return mustDuration(c.Reference.DailyCadence) }
func (c *Config) MinuteCadence() time.Duration { return mustDuration(c.Reference.MinuteCadence) }
func (c *Config) TieringInterval() time.Duration {
	return mustDuration(c.Tiering.Interval)
}
func (c *Config) RowTTL() time.Duration { return mustDuration(c.Cache.RowTTL) }

func (c *Config) FeedPollInterval() time.Duration   { return mustDuration(c.Feed.PollInterval) }
func (c *Config) FeedRequestTimeout() time.Duration { return mustDuration(c.Feed.RequestTimeout) }

func mustDuration(s string) time.Duration {
	d, _ := ParseDuration(s)
	return d
}

// -----------------------------------------------------------------------------

// ParseDuration accepts time.ParseDuration syntax plus a whole-day "d" suffix
// ("30d"). An empty string or "0" is zero.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
