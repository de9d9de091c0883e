package models

import "time"

// MConfig Structure
type MConfig struct {
	Name      string           `yaml:"name"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	LogLevel  string           `yaml:"log_level"`
	GrpcHost  string           `yaml:"grpc_host"`
	GrpcPort  int              `yaml:"grpc_port"`
	MemoryMB  int              `yaml:"memory_limit_mb"` // 0 derives it from the host
	Storage   MStorageConfig   `yaml:"storage"`
	Calendar  MCalendarConfig  `yaml:"calendar"`
	Refresh   MRefreshConfig   `yaml:"refresh"`
	Reference MReferenceConfig `yaml:"reference"`
	Tiering   MTieringConfig   `yaml:"tiering"`
	Cache     MCacheConfig     `yaml:"cache"`
	Feed      MFeedConfig      `yaml:"feed"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"` // "postgres", "sqlite" or "memory"
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
	Schema             string `yaml:"schema"`
	ArchiveDir         string `yaml:"archive_dir"`
}

type MCalendarConfig struct {
	MIC string `yaml:"mic"` // exchange calendar, e.g. "XNYS"
}

type MRefreshConfig struct {
	Workers        int    `yaml:"workers"`
	BatchLimit     int    `yaml:"batch_limit"`
	PassInterval   string `yaml:"pass_interval"`
	PassTimeout    string `yaml:"pass_timeout"`
	ClaimTimeout   string `yaml:"claim_timeout"`
	Benchmark      string `yaml:"benchmark"`
	MaxCommitRetry int    `yaml:"max_commit_retry"`
}

type MReferenceConfig struct {
	DailyCadence  string `yaml:"daily_cadence"`
	MinuteCadence string `yaml:"minute_cadence"`
	Concurrency   int    `yaml:"concurrency"`
}

type MTieringConfig struct {
	Interval            string                 `yaml:"interval"`
	RollupRetentionDays int                    `yaml:"rollup_retention_days"`
	Policies            map[string]MTierPolicy `yaml:"policies"` // keyed by resolution name
}

// MTierPolicy holds durations as strings ("72h", "0" = keep forever).
type MTierPolicy struct {
	CompressAfter string `yaml:"compress_after"`
	RetainFor     string `yaml:"retain_for"`
}

type MCacheConfig struct {
	RedisEnabled  bool   `yaml:"redis_enabled"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RowTTL        string `yaml:"row_ttl"`
}

// MFeedConfig configures the optional chart-API poller that fills the bar
// store when no other producer pushes bars.
type MFeedConfig struct {
	Enabled        bool     `yaml:"enabled"`
	BaseURL        string   `yaml:"base_url"`
	PollInterval   string   `yaml:"poll_interval"`
	RequestTimeout string   `yaml:"request_timeout"`
	MaxRetries     int      `yaml:"max_retries"`
	Concurrency    int      `yaml:"concurrency"`
	UserAgent      string   `yaml:"user_agent"`
	Proxies        []string `yaml:"proxies,omitempty"`
}

// MRetention is the parsed form of MTierPolicy. A zero RetainFor keeps
// archived bars forever.
type MRetention struct {
	CompressAfter time.Duration
	RetainFor     time.Duration
}
