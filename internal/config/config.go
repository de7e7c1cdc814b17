// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. MEDIACRAWLER_SERVER_PORT.
const EnvPrefix = "MEDIACRAWLER"

// Storage backends for finished archive files.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	State     StateConfig     `mapstructure:"state"`
}

// LoggingConfig toggles zap development features and locates line logs.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Dir receives crawl.log and extractorYoutubeDL.log.
	Dir string `mapstructure:"dir"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
	// APIKey, when set, is required on every request.
	APIKey string `mapstructure:"api_key"`
}

// CrawlerConfig governs the worker pool and crawl scope.
type CrawlerConfig struct {
	Workers        int                `mapstructure:"workers"`
	QueueSize      int                `mapstructure:"queue_size"`
	Seeds          []string           `mapstructure:"seeds"`
	UserAgent      string             `mapstructure:"user_agent"`
	MaxHops        int                `mapstructure:"max_hops"`
	MaxTransHops   int                `mapstructure:"max_trans_hops"`
	Blocklist      []string           `mapstructure:"blocklist"`
	AllowHosts     []string           `mapstructure:"allow_hosts"`
	MaxRetries     int                `mapstructure:"max_retries"`
	RetryBackoff   time.Duration      `mapstructure:"retry_backoff"`
	RateLimitRPS   float64            `mapstructure:"rate_limit_rps"`
	RateLimitBurst int                `mapstructure:"rate_limit_burst"`
	PerHostRPS     map[string]float64 `mapstructure:"per_host_rps"`
	// ExitWhenIdle ends the crawl once the frontier runs dry.
	ExitWhenIdle bool `mapstructure:"exit_when_idle"`
}

// HTTPConfig configures the fetch stage.
type HTTPConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	MaxBodySize   int           `mapstructure:"max_body_size"`
}

// ExtractorConfig configures link extraction and media discovery.
type ExtractorConfig struct {
	MediaEnabled      bool          `mapstructure:"media_enabled"`
	YtdlpArgs         []string      `mapstructure:"ytdlp_args"`
	ExitTimeout       time.Duration `mapstructure:"exit_timeout"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
	ScratchDir        string        `mapstructure:"scratch_dir"`
	LogMetadataRecord bool          `mapstructure:"log_metadata_record"`
	MaxOutlinks       int           `mapstructure:"max_outlinks"`
}

// ArchiveConfig controls the record writer.
type ArchiveConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Dir          string `mapstructure:"dir"`
	Prefix       string `mapstructure:"prefix"`
	MaxSize      int64  `mapstructure:"max_size"`
	UploadPrefix string `mapstructure:"upload_prefix"`
	KeepLocal    bool   `mapstructure:"keep_local"`
}

// StorageConfig selects where finished archive files are uploaded.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the capture index database. An empty DSN keeps
// the index in memory.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// PubSubConfig holds the URL subscription and capture event topic.
type PubSubConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ProjectID    string `mapstructure:"project_id"`
	Subscription string `mapstructure:"subscription"`
	Topic        string `mapstructure:"topic"`
}

// StateConfig locates crawl state kept across runs.
type StateConfig struct {
	SeenDir string `mapstructure:"seen_dir"`
	Resume  bool   `mapstructure:"resume"`
}

// Load builds a Config from disk/environment. A .env file in the working
// directory is applied to the environment first when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

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
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.dir", "logs")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.queue_size", 256)
	v.SetDefault("crawler.seeds", []string{})
	v.SetDefault("crawler.user_agent", "mediacrawler/0.1 (+https://github.com/JakeFAU/mediacrawler)")
	v.SetDefault("crawler.max_hops", 20)
	v.SetDefault("crawler.max_trans_hops", 3)
	v.SetDefault("crawler.blocklist", []string{})
	v.SetDefault("crawler.allow_hosts", []string{})
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.retry_backoff", "250ms")
	v.SetDefault("crawler.rate_limit_rps", 1.0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("crawler.exit_when_idle", true)
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("http.max_body_size", 10*1024*1024)
	v.SetDefault("extractor.media_enabled", true)
	v.SetDefault("extractor.ytdlp_args", []string{})
	v.SetDefault("extractor.exit_timeout", "1s")
	v.SetDefault("extractor.run_timeout", "2m")
	v.SetDefault("extractor.scratch_dir", "scratch")
	v.SetDefault("extractor.log_metadata_record", true)
	v.SetDefault("extractor.max_outlinks", 6000)
	v.SetDefault("archive.enabled", true)
	v.SetDefault("archive.dir", "warcs")
	v.SetDefault("archive.prefix", "MEDIACRAWLER")
	v.SetDefault("archive.max_size", int64(1<<30))
	v.SetDefault("archive.upload_prefix", "")
	v.SetDefault("archive.keep_local", false)
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "warcs")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.subscription", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("state.seen_dir", "")
	v.SetDefault("state.resume", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return errors.New("crawler.workers must be > 0")
	}
	if c.Crawler.QueueSize <= 0 {
		return errors.New("crawler.queue_size must be > 0")
	}
	if c.Crawler.MaxHops < 0 {
		return errors.New("crawler.max_hops must be >= 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return errors.New("crawler.max_retries must be >= 0")
	}
	if c.HTTP.Timeout <= 0 {
		return errors.New("http.timeout must be > 0")
	}
	if c.Extractor.MediaEnabled && c.Extractor.ExitTimeout <= 0 {
		return errors.New("extractor.exit_timeout must be > 0")
	}
	if c.Extractor.MediaEnabled && c.Extractor.RunTimeout <= 0 {
		return errors.New("extractor.run_timeout must be > 0")
	}
	if c.Archive.Enabled && strings.TrimSpace(c.Archive.Dir) == "" {
		return errors.New("archive.dir must be set when archiving is enabled")
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if c.PubSub.Enabled {
		if c.PubSub.ProjectID == "" {
			return errors.New("pubsub.project_id must be set when pubsub is enabled")
		}
		if c.PubSub.Subscription == "" && c.PubSub.Topic == "" {
			return errors.New("pubsub.subscription or pubsub.topic must be set when pubsub is enabled")
		}
	}
	return nil
}

func (s StorageConfig) validate() error {
	backends := []string{"", StorageNone, StorageMemory, StorageLocal, StorageGCS}
	if !slices.Contains(backends, s.Backend) {
		return fmt.Errorf("storage.backend %q is not one of none, memory, local, gcs", s.Backend)
	}
	if s.Backend == StorageLocal && strings.TrimSpace(s.LocalDir) == "" {
		return errors.New("storage.local_dir must be set for the local backend")
	}
	if s.Backend == StorageGCS && strings.TrimSpace(s.GCSBucket) == "" {
		return errors.New("storage.gcs_bucket must be set for the gcs backend")
	}
	return nil
}
