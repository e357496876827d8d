package finanzgw

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"finanzgw/internal/monitoring"
)

// EnvPrefix prefixes every environment override, e.g. FINANZGW_SERVER_ORIGIN.
const EnvPrefix = "FINANZGW_"

type Config struct {
	// Version names the cache bucket owned by this deployment.
	Version string   `yaml:"version" env:"VERSION"`
	Assets  []string `yaml:"assets" env:"ASSETS" envSeparator:","`

	Server     ServerConfig      `yaml:"server"`
	Network    NetworkConfig     `yaml:"network"`
	Install    InstallConfig     `yaml:"install"`
	Storage    StorageConfig     `yaml:"storage"`
	Logging    LoggingConfig     `yaml:"logging"`
	Monitoring monitoring.Config `yaml:"monitoring"`
}

type ServerConfig struct {
	Port              int    `yaml:"port" env:"SERVER_PORT"`
	Origin            string `yaml:"origin" env:"SERVER_ORIGIN"`
	ReadHeaderTimeout string `yaml:"readHeaderTimeout" env:"SERVER_READ_HEADER_TIMEOUT"`

	readHeaderTimeoutDur time.Duration
}

type NetworkConfig struct {
	Timeout string `yaml:"timeout" env:"NETWORK_TIMEOUT"`
	MaxBody string `yaml:"maxBody" env:"NETWORK_MAX_BODY"`

	timeoutDur   time.Duration
	maxBodyBytes int64
}

type InstallConfig struct {
	Concurrency int    `yaml:"concurrency" env:"INSTALL_CONCURRENCY"`
	RetryEvery  string `yaml:"retryEvery" env:"INSTALL_RETRY_EVERY"`

	retryEveryDur time.Duration
}

type StorageConfig struct {
	Driver string `yaml:"driver" env:"STORAGE_DRIVER"`

	RAM struct {
		Max string `yaml:"max" env:"STORAGE_RAM_MAX"`
	} `yaml:"ram"`

	LevelDB struct {
		Path string `yaml:"path" env:"STORAGE_LEVELDB_PATH"`
	} `yaml:"leveldb"`

	S3 S3Config `yaml:"s3"`

	ramMaxBytes int64
}

type S3Config struct {
	Bucket    string `yaml:"bucket" env:"STORAGE_S3_BUCKET"`
	Region    string `yaml:"region" env:"STORAGE_S3_REGION"`
	Endpoint  string `yaml:"endpoint" env:"STORAGE_S3_ENDPOINT"`
	AccessKey string `yaml:"accessKey" env:"STORAGE_S3_ACCESS_KEY"`
	SecretKey string `yaml:"secretKey" env:"STORAGE_S3_SECRET_KEY"`
	Prefix    string `yaml:"prefix" env:"STORAGE_S3_PREFIX"`
}

type LoggingConfig struct {
	Level         string `yaml:"level" env:"LOGGING_LEVEL"`
	JSON          bool   `yaml:"json" env:"LOGGING_JSON"`
	LogStatsEvery string `yaml:"logStatsEvery" env:"LOGGING_LOG_STATS_EVERY"`

	logStatsEveryDur time.Duration
}

const (
	DriverLevelDB = "leveldb"
	DriverMemory  = "memory"
	DriverS3      = "s3"
)

// versionPattern keeps bucket names safe as leveldb key segments and S3
// path components.
var versionPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// DefaultAssets is the app shell pre-populated at install.
var DefaultAssets = []string{
	"/",
	"/index.html",
	"/styles.css",
	"/app.js",
	"/manifest.json",
	"/icons/icon-192x192.png",
	"/icons/icon-512x512.png",
}

func DefaultConfig() Config {
	var cfg Config
	cfg.Version = "finanzapp-v1"
	cfg.Assets = append([]string(nil), DefaultAssets...)
	cfg.Server.Port = 8080
	cfg.Server.ReadHeaderTimeout = "10s"
	cfg.Network.Timeout = "30s"
	cfg.Network.MaxBody = "32mb"
	cfg.Install.Concurrency = 4
	cfg.Install.RetryEvery = "1m"
	cfg.Storage.Driver = DriverLevelDB
	cfg.Storage.LevelDB.Path = "./data/leveldb"
	cfg.Storage.S3.Region = "us-east-1"
	cfg.Storage.S3.Prefix = "finanzgw/"
	cfg.Logging.Level = "info"
	cfg.Monitoring = *monitoring.DefaultConfig()
	return cfg
}

// LoadConfig reads the YAML file at path, applies FINANZGW_* environment
// overrides and validates the result.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("env overrides: %w", err)
	}
	if err := cfg.compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) compile() error {
	cfg.Version = strings.TrimSpace(cfg.Version)
	if cfg.Version == "" {
		return fmt.Errorf("version is required")
	}
	if !versionPattern.MatchString(cfg.Version) {
		return fmt.Errorf("version %q: only letters, digits, '.', '_' and '-' are allowed", cfg.Version)
	}
	if len(cfg.Assets) == 0 {
		return fmt.Errorf("assets: at least one path is required")
	}
	for i, a := range cfg.Assets {
		a = strings.TrimSpace(a)
		if !strings.HasPrefix(a, "/") {
			return fmt.Errorf("assets[%d]: %q must start with /", i, a)
		}
		cfg.Assets[i] = a
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Origin == "" {
		return fmt.Errorf("server.origin is required")
	}
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")

	var err error
	if cfg.Server.readHeaderTimeoutDur, err = parseDuration(cfg.Server.ReadHeaderTimeout); err != nil {
		return fmt.Errorf("server.readHeaderTimeout: %w", err)
	}
	if cfg.Network.timeoutDur, err = parseDuration(cfg.Network.Timeout); err != nil {
		return fmt.Errorf("network.timeout: %w", err)
	}
	if cfg.Network.maxBodyBytes, err = parseBytes(cfg.Network.MaxBody); err != nil {
		return fmt.Errorf("network.maxBody: %w", err)
	}
	if cfg.Install.Concurrency < 1 {
		return fmt.Errorf("install.concurrency must be at least 1")
	}
	if cfg.Install.retryEveryDur, err = parseDuration(cfg.Install.RetryEvery); err != nil {
		return fmt.Errorf("install.retryEvery: %w", err)
	}
	if cfg.Storage.ramMaxBytes, err = parseBytes(cfg.Storage.RAM.Max); err != nil {
		return fmt.Errorf("storage.ram.max: %w", err)
	}
	if cfg.Logging.logStatsEveryDur, err = parseDuration(cfg.Logging.LogStatsEvery); err != nil {
		return fmt.Errorf("logging.logStatsEvery: %w", err)
	}

	switch cfg.Storage.Driver {
	case DriverLevelDB:
		if cfg.Storage.LevelDB.Path == "" {
			return fmt.Errorf("storage.leveldb.path is required")
		}
	case DriverMemory:
	case DriverS3:
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required")
		}
	default:
		return fmt.Errorf("storage.driver: unknown %q", cfg.Storage.Driver)
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown %q", cfg.Logging.Level)
	}

	if err := cfg.Monitoring.Validate(); err != nil {
		return fmt.Errorf("monitoring: %w", err)
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func (c ServerConfig) ReadHeaderTimeoutDuration() time.Duration { return c.readHeaderTimeoutDur }
