package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"screener-engine/src/helpers"
	"screener-engine/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
port: 8080
storage:
  db_type: memory
tiering:
  policies:
    minute:
      compress_after: 3d
      retain_for: 400d
    day:
      compress_after: 30d
      retain_for: "0"
`

func noEnv(string) string { return "" }

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML), noEnv)
	require.NoError(t, err)

	assert.Equal(t, "screener-engine", cfg.Name)
	assert.Equal(t, 100, cfg.Refresh.BatchLimit)
	assert.Equal(t, time.Second, cfg.PassInterval())
	assert.Equal(t, 2*time.Minute, cfg.ClaimTimeout())
	assert.Equal(t, 15*time.Minute, cfg.DailyCadence())
	assert.Equal(t, "XNYS", cfg.Calendar.MIC)
	assert.False(t, cfg.Feed.Enabled)
	assert.Equal(t, time.Minute, cfg.FeedPollInterval())
	assert.Equal(t, 10*time.Second, cfg.FeedRequestTimeout())

	retention, err := cfg.Retention()
	require.NoError(t, err)
	assert.Equal(t, models.MRetention{CompressAfter: 72 * time.Hour, RetainFor: 400 * 24 * time.Hour}, retention[models.ResolutionMinute])
	assert.Equal(t, time.Duration(0), retention[models.ResolutionDay].RetainFor)
}

func TestParseEnvOverrides(t *testing.T) {
	env := map[string]string{
		"SCREENER_DB_TYPE":       "sqlite",
		"SCREENER_DB_PATH":       "/tmp/x.db",
		"SCREENER_PORT":          "9000",
		"SCREENER_WORKERS":       "4",
		"SCREENER_BENCHMARK":     "QQQ",
		"SCREENER_FEED_BASE_URL": "http://127.0.0.1:9999/chart",
	}
	cfg, err := Parse([]byte(minimalYAML), func(k string) string { return env[k] })
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.DBType)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.DBPath)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 4, cfg.Refresh.Workers)
	assert.Equal(t, "QQQ", cfg.Refresh.Benchmark)
	assert.Equal(t, "http://127.0.0.1:9999/chart", cfg.Feed.BaseURL)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"retain not after compress": `
port: 8080
storage: {db_type: memory}
tiering:
  policies:
    minute: {compress_after: 3d, retain_for: 2d}
`,
		"unknown resolution": `
port: 8080
storage: {db_type: memory}
tiering:
  policies:
    fortnight: {compress_after: 3d, retain_for: 0}
`,
		"bad port":        "port: 80\nstorage: {db_type: memory}\n",
		"sqlite no path":  "port: 8080\nstorage: {db_type: sqlite}\n",
		"unknown db":      "port: 8080\nstorage: {db_type: oracle}\n",
		"negative batch":  "port: 8080\nstorage: {db_type: memory}\nrefresh: {batch_limit: -1}\n",
		"bad duration":    "port: 8080\nstorage: {db_type: memory}\nrefresh: {pass_interval: soon}\n",
		"redis no addr":   "port: 8080\nstorage: {db_type: memory}\ncache: {redis_enabled: true}\n",
		"short retention": "port: 8080\nstorage: {db_type: memory}\ntiering: {rollup_retention_days: 1}\n",
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), noEnv)
			require.Error(t, err)
			var cerr *helpers.ConfigurationError
			assert.True(t, errors.As(err, &cerr))
		})
	}
}

func TestParseDuration(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"":    0,
		"0":   0,
		"90s": 90 * time.Second,
		"2d":  48 * time.Hour,
	} {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDuration("xd")
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML), noEnv)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	again, err := Parse(data, noEnv)
	require.NoError(t, err)
	assert.Equal(t, cfg.MConfig, again.MConfig)
}

func TestNewConfigMissingFile(t *testing.T) {
	_, err := NewConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	var cerr *helpers.ConfigurationError
	assert.True(t, errors.As(err, &cerr))
}
