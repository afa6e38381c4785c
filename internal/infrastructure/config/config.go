package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig
	Log      LogConfig
	Database DatabaseConfig
	Rest     RestSourceConfig
	Graph    GraphSourceConfig
	Scrape   ScrapeSourceConfig
	Replay   ReplayConfig
	Storage  StorageConfig
	Sync     SyncConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// RestSourceConfig holds settings for the REST statistics API
type RestSourceConfig struct {
	Enabled        bool
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	// MinRequestDelay is the fixed minimum delay between consecutive
	// requests (single-slot throttle).
	MinRequestDelay time.Duration
}

// GraphSourceConfig holds settings for the GraphQL statistics API
type GraphSourceConfig struct {
	Enabled        bool
	Endpoint       string
	BearerToken    string
	RequestTimeout time.Duration
	// AttemptsPerProfile is how many tries each network profile gets
	// before the adapter moves to the next profile.
	AttemptsPerProfile int
	// RetryBaseDelay is the linear backoff unit between attempts.
	RetryBaseDelay time.Duration
}

// ScrapeSourceConfig holds settings for the headless-browser scraper
type ScrapeSourceConfig struct {
	Enabled        bool
	BaseURL        string
	RequestTimeout time.Duration
	// MinRequestDelay is enforced between page fetches regardless of outcome.
	MinRequestDelay time.Duration
	// FetchRetries is the per-page retry budget (exponential backoff).
	FetchRetries   int
	RetryBaseDelay time.Duration
	Headless       bool
	NoSandbox      bool
}

// ReplayConfig holds the replay pipeline settings
type ReplayConfig struct {
	// ScratchDir is local transient disk space for in-progress downloads.
	ScratchDir string
	// DecoderPath is the external decoder binary.
	DecoderPath string
	// DownloadTimeout bounds one replay download (files are 50-200MB).
	DownloadTimeout time.Duration
	// DecodeTimeout bounds one decoder invocation.
	DecodeTimeout time.Duration
	// BatchConcurrency bounds concurrent replay jobs.
	BatchConcurrency int
}

// StorageConfig holds object storage (S3-compatible) settings
type StorageConfig struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
}

// SyncConfig holds sync orchestrator settings
type SyncConfig struct {
	// EntityConcurrency bounds the reconciliation fan-out per entity kind.
	EntityConcurrency int
	// AdapterTimeout bounds each individual adapter call.
	AdapterTimeout time.Duration
	// SeedTeams is the prioritized team-id seed list for the sweep.
	SeedTeams []string
	// SeedTournaments is the prioritized tournament seed list.
	SeedTournaments []string
	// SyncNowWindow is the lookback for the "sync now" variant.
	SyncNowWindow time.Duration
}

// Load loads configuration from TOML file and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with ESPORTS_ prefix (e.g. ESPORTS_GRAPH_BEARER_TOKEN)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("ESPORTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Database: DatabaseConfig{
			Host:         v.GetString("database.host"),
			Port:         v.GetInt("database.port"),
			User:         v.GetString("database.user"),
			Password:     v.GetString("database.password"),
			DBName:       v.GetString("database.dbname"),
			SSLMode:      v.GetString("database.sslmode"),
			MaxOpenConns: v.GetInt("database.max_open_conns"),
			MaxIdleConns: v.GetInt("database.max_idle_conns"),
		},
		Rest: RestSourceConfig{
			Enabled:         v.GetBool("rest.enabled"),
			BaseURL:         v.GetString("rest.base_url"),
			APIKey:          v.GetString("rest.api_key"),
			RequestTimeout:  v.GetDuration("rest.request_timeout"),
			MinRequestDelay: v.GetDuration("rest.min_request_delay"),
		},
		Graph: GraphSourceConfig{
			Enabled:            v.GetBool("graph.enabled"),
			Endpoint:           v.GetString("graph.endpoint"),
			BearerToken:        v.GetString("graph.bearer_token"),
			RequestTimeout:     v.GetDuration("graph.request_timeout"),
			AttemptsPerProfile: v.GetInt("graph.attempts_per_profile"),
			RetryBaseDelay:     v.GetDuration("graph.retry_base_delay"),
		},
		Scrape: ScrapeSourceConfig{
			Enabled:         v.GetBool("scrape.enabled"),
			BaseURL:         v.GetString("scrape.base_url"),
			RequestTimeout:  v.GetDuration("scrape.request_timeout"),
			MinRequestDelay: v.GetDuration("scrape.min_request_delay"),
			FetchRetries:    v.GetInt("scrape.fetch_retries"),
			RetryBaseDelay:  v.GetDuration("scrape.retry_base_delay"),
			Headless:        v.GetBool("scrape.headless"),
			NoSandbox:       v.GetBool("scrape.no_sandbox"),
		},
		Replay: ReplayConfig{
			ScratchDir:       v.GetString("replay.scratch_dir"),
			DecoderPath:      v.GetString("replay.decoder_path"),
			DownloadTimeout:  v.GetDuration("replay.download_timeout"),
			DecodeTimeout:    v.GetDuration("replay.decode_timeout"),
			BatchConcurrency: v.GetInt("replay.batch_concurrency"),
		},
		Storage: StorageConfig{
			Endpoint:     v.GetString("storage.endpoint"),
			Region:       v.GetString("storage.region"),
			Bucket:       v.GetString("storage.bucket"),
			AccessKey:    v.GetString("storage.access_key"),
			SecretKey:    v.GetString("storage.secret_key"),
			UseSSL:       v.GetBool("storage.use_ssl"),
			UsePathStyle: v.GetBool("storage.use_path_style"),
		},
		Sync: SyncConfig{
			EntityConcurrency: v.GetInt("sync.entity_concurrency"),
			AdapterTimeout:    v.GetDuration("sync.adapter_timeout"),
			SeedTeams:         v.GetStringSlice("sync.seed_teams"),
			SeedTournaments:   v.GetStringSlice("sync.seed_tournaments"),
			SyncNowWindow:     v.GetDuration("sync.sync_now_window"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "esports-backend"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "esports"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Rest.BaseURL == "" {
		cfg.Rest.BaseURL = "https://api.opendota.com/api"
	}
	if cfg.Rest.RequestTimeout == 0 {
		cfg.Rest.RequestTimeout = 30 * time.Second
	}
	if cfg.Rest.MinRequestDelay == 0 {
		cfg.Rest.MinRequestDelay = 1100 * time.Millisecond
	}
	if cfg.Graph.Endpoint == "" {
		cfg.Graph.Endpoint = "https://api.stratz.com/graphql"
	}
	if cfg.Graph.RequestTimeout == 0 {
		cfg.Graph.RequestTimeout = 30 * time.Second
	}
	if cfg.Graph.AttemptsPerProfile == 0 {
		cfg.Graph.AttemptsPerProfile = 3
	}
	if cfg.Graph.RetryBaseDelay == 0 {
		cfg.Graph.RetryBaseDelay = 2 * time.Second
	}
	if cfg.Scrape.BaseURL == "" {
		cfg.Scrape.BaseURL = "https://liquipedia.net/dota2"
	}
	if cfg.Scrape.RequestTimeout == 0 {
		cfg.Scrape.RequestTimeout = 45 * time.Second
	}
	if cfg.Scrape.MinRequestDelay == 0 {
		cfg.Scrape.MinRequestDelay = 2 * time.Second
	}
	if cfg.Scrape.FetchRetries == 0 {
		cfg.Scrape.FetchRetries = 3
	}
	if cfg.Scrape.RetryBaseDelay == 0 {
		cfg.Scrape.RetryBaseDelay = 1 * time.Second
	}
	if cfg.Replay.ScratchDir == "" {
		cfg.Replay.ScratchDir = "/tmp/replays"
	}
	if cfg.Replay.DecoderPath == "" {
		cfg.Replay.DecoderPath = "decoder"
	}
	if cfg.Replay.DownloadTimeout == 0 {
		cfg.Replay.DownloadTimeout = 30 * time.Minute
	}
	if cfg.Replay.DecodeTimeout == 0 {
		cfg.Replay.DecodeTimeout = time.Hour
	}
	if cfg.Replay.BatchConcurrency == 0 {
		cfg.Replay.BatchConcurrency = 2
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "esports-replays"
	}
	if cfg.Sync.EntityConcurrency == 0 {
		cfg.Sync.EntityConcurrency = 4
	}
	if cfg.Sync.AdapterTimeout == 0 {
		cfg.Sync.AdapterTimeout = 60 * time.Second
	}
	if cfg.Sync.SyncNowWindow == 0 {
		cfg.Sync.SyncNowWindow = 4 * time.Hour
	}
}

// validate performs validation on the configuration. Missing credentials
// for an enabled source make the whole source unusable and are fatal here;
// everything downstream treats source failure as data, not an exception.
func (c *Config) validate() error {
	if c.Graph.Enabled && c.Graph.BearerToken == "" {
		return fmt.Errorf("graph.bearer_token is required when the GraphQL source is enabled")
	}
	if c.Replay.BatchConcurrency < 1 || c.Replay.BatchConcurrency > 8 {
		return fmt.Errorf("replay.batch_concurrency must be between 1 and 8, got %d", c.Replay.BatchConcurrency)
	}
	if c.Sync.EntityConcurrency < 1 {
		return fmt.Errorf("sync.entity_concurrency must be positive")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
			return fmt.Errorf("storage credentials are required in production")
		}
	}
	return nil
}

// DSN returns the database connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}
