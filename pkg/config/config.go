package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "TILLSYNC"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	// Canonical variable names, shared with tests and deploy tooling.
	EnvAppEnv        = "TILLSYNC_APP_ENV"
	EnvPort          = "TILLSYNC_APP_PORT"
	EnvStorePath     = "TILLSYNC_STORE_PATH"
	EnvRemoteBaseURL = "TILLSYNC_REMOTE_BASE_URL"
)

type Config struct {
	App          AppConfig
	Store        StoreConfig
	Remote       RemoteConfig
	Sync         SyncConfig
	API          APIConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Remote.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TILLSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"TILLSYNC_APP_PORT" default:"7373"`
	LogLevel     string `envconfig:"TILLSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TILLSYNC_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// StoreConfig describes the terminal-local record store. Path points at the
// sqlite file; when the file cannot be opened the store degrades to an
// in-memory database with the same semantics.
type StoreConfig struct {
	Path        string        `envconfig:"TILLSYNC_STORE_PATH" default:"tillsync.db"`
	BusyTimeout time.Duration `envconfig:"TILLSYNC_STORE_BUSY_TIMEOUT" default:"5s"`
}

// RemoteConfig describes the payment acceptance endpoint.
type RemoteConfig struct {
	BaseURL       string        `envconfig:"TILLSYNC_REMOTE_BASE_URL" required:"true"`
	APIToken      string        `envconfig:"TILLSYNC_REMOTE_API_TOKEN"`
	PaymentsPath  string        `envconfig:"TILLSYNC_REMOTE_PAYMENTS_PATH" default:"/payments"`
	SubmitTimeout time.Duration `envconfig:"TILLSYNC_REMOTE_SUBMIT_TIMEOUT" default:"10s"`
}

func (r RemoteConfig) validate() error {
	parsed, err := url.Parse(r.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("remote base URL %q is not a valid absolute URL", r.BaseURL)
	}
	return nil
}

// SyncConfig tunes the retry scheduler.
type SyncConfig struct {
	BaseDelay    time.Duration `envconfig:"TILLSYNC_SYNC_BASE_DELAY" default:"30s"`
	MaxDelay     time.Duration `envconfig:"TILLSYNC_SYNC_MAX_DELAY" default:"1h"`
	PollInterval time.Duration `envconfig:"TILLSYNC_SYNC_POLL_INTERVAL" default:"1m"`
	BatchSize    int           `envconfig:"TILLSYNC_SYNC_BATCH_SIZE" default:"50"`
}

type APIConfig struct {
	CORSOrigins []string `envconfig:"TILLSYNC_API_CORS_ORIGINS" default:"http://localhost:3000"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"TILLSYNC_FEATURE_AUTO_MIGRATE" default:"true"`
}
