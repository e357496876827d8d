package finanzgw

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("server:\n  origin: http://finanzapp.local/\n"))
	require.NoError(t, err)

	assert.Equal(t, "finanzapp-v1", cfg.Version)
	assert.Equal(t, DefaultAssets, cfg.Assets)
	assert.Equal(t, "http://finanzapp.local", cfg.Server.Origin)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadHeaderTimeoutDuration())
	assert.Equal(t, 30*time.Second, cfg.Network.timeoutDur)
	assert.Equal(t, int64(32<<20), cfg.Network.maxBodyBytes)
	assert.Equal(t, time.Minute, cfg.Install.retryEveryDur)
	assert.Equal(t, DriverLevelDB, cfg.Storage.Driver)
	assert.Zero(t, cfg.Storage.ramMaxBytes)
	assert.True(t, cfg.Monitoring.Enabled)
	assert.Equal(t, ":9091", cfg.Monitoring.Listen)
}

func TestParseConfigFile(t *testing.T) {
	raw := `
version: finanzapp-v3
assets:
  - /
  - /index.html
server:
  port: 9000
  origin: https://finanzapp.example
install:
  concurrency: 8
  retryEvery: 30s
storage:
  driver: s3
  ram:
    max: 64mb
  s3:
    bucket: finanzapp-cache
    endpoint: http://minio:9000
logging:
  level: debug
  json: true
  logStatsEvery: 5m
monitoring:
  enabled: false
`
	path := filepath.Join(t.TempDir(), "finanzgw.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "finanzapp-v3", cfg.Version)
	assert.Equal(t, []string{"/", "/index.html"}, cfg.Assets)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Install.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Install.retryEveryDur)
	assert.Equal(t, DriverS3, cfg.Storage.Driver)
	assert.Equal(t, int64(64<<20), cfg.Storage.ramMaxBytes)
	assert.Equal(t, "finanzapp-cache", cfg.Storage.S3.Bucket)
	assert.Equal(t, "http://minio:9000", cfg.Storage.S3.Endpoint)
	assert.Equal(t, "us-east-1", cfg.Storage.S3.Region)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
	assert.Equal(t, 5*time.Minute, cfg.Logging.logStatsEveryDur)
	assert.False(t, cfg.Monitoring.Enabled)
}

func TestParseConfigEnvOverrides(t *testing.T) {
	t.Setenv("FINANZGW_SERVER_ORIGIN", "http://from-env:3000")
	t.Setenv("FINANZGW_VERSION", "finanzapp-v9")
	t.Setenv("FINANZGW_ASSETS", "/,/app.js")
	t.Setenv("FINANZGW_STORAGE_DRIVER", "memory")
	t.Setenv("FINANZGW_MONITORING_ENABLED", "false")

	cfg, err := ParseConfig([]byte("server:\n  origin: http://from-file\n"))
	require.NoError(t, err)

	assert.Equal(t, "http://from-env:3000", cfg.Server.Origin)
	assert.Equal(t, "finanzapp-v9", cfg.Version)
	assert.Equal(t, []string{"/", "/app.js"}, cfg.Assets)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.False(t, cfg.Monitoring.Enabled)
}

func TestParseConfigRejects(t *testing.T) {
	cases := map[string]string{
		"missing origin":     "version: v1\n",
		"relative asset":     "server: {origin: http://o}\nassets: [index.html]\n",
		"empty version":      "server: {origin: http://o}\nversion: \" \"\n",
		"unknown driver":     "server: {origin: http://o}\nstorage: {driver: redis}\n",
		"s3 without bucket":  "server: {origin: http://o}\nstorage: {driver: s3}\n",
		"bad duration":       "server: {origin: http://o}\nnetwork: {timeout: soon}\n",
		"bad size":           "server: {origin: http://o}\nstorage: {ram: {max: lots}}\n",
		"zero concurrency":   "server: {origin: http://o}\ninstall: {concurrency: 0}\n",
		"bad log level":      "server: {origin: http://o}\nlogging: {level: loud}\n",
		"bad yaml":           "server: [\n",
		"version with slash": "server: {origin: http://o}\nversion: app/v1\n",
		"version with space": "server: {origin: http://o}\nversion: app v1\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("")
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = parseDuration(" 90s ")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = parseDuration("-1s")
	assert.Error(t, err)
}
