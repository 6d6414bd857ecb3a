// Package config loads harvester configuration from file, .env and environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

// Storage backends accepted by storage.backend.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendGCS    = "gcs"
)

// Config captures all runtime configuration.
type Config struct {
	Run     RunConfig     `mapstructure:"run"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// RunConfig identifies the run the artifacts belong to. An empty ID makes the
// CLI generate one.
type RunConfig struct {
	ID string `mapstructure:"id"`
}

// CrawlerConfig controls link discovery and product extraction.
type CrawlerConfig struct {
	BaseURL     string            `mapstructure:"base_url"`
	ListingURL  string            `mapstructure:"listing_url"`
	DelayMillis int               `mapstructure:"delay_ms"`
	Resume      bool              `mapstructure:"resume"`
	FieldText   string            `mapstructure:"field_text"`
	Selectors   crawler.Selectors `mapstructure:"selectors"`
}

// Delay returns the pacing interval between requests.
func (c CrawlerConfig) Delay() time.Duration {
	return time.Duration(c.DelayMillis) * time.Millisecond
}

// HTTPConfig configures the request client.
type HTTPConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	RetryDelayMillis int    `mapstructure:"retry_delay_ms"`
	UserAgent        string `mapstructure:"user_agent"`
}

// Timeout returns the per-request timeout.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryDelay returns the fixed pause between attempts.
func (c HTTPConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMillis) * time.Millisecond
}

// StorageConfig selects where staged artifacts live.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	Prefix      string `mapstructure:"prefix"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	GCSEndpoint string `mapstructure:"gcs_endpoint"`
}

// DBConfig configures the optional Postgres export. Export is off when DSN is empty.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// Enabled reports whether rows should be exported to Postgres.
func (c DBConfig) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

// MaxConnLifetime returns the pool connection lifetime.
func (c DBConfig) MaxConnLifetime() time.Duration {
	return time.Duration(c.MaxConnLifetimeSeconds) * time.Second
}

// PubSubConfig configures run event publishing. Events stay in memory when
// ProjectID is empty.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig configures the artifact HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig guards the artifact endpoints with an API key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig selects the log encoder and minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load reads configuration from the optional file path, a .env file in the
// working directory and HARVESTER_ prefixed environment variables.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.id", "")

	v.SetDefault("crawler.base_url", "https://online.metro-cc.ru")
	v.SetDefault("crawler.listing_url", "https://online.metro-cc.ru/category/chaj-kofe-kakao/kofe")
	v.SetDefault("crawler.delay_ms", 1000)
	v.SetDefault("crawler.resume", false)
	v.SetDefault("crawler.field_text", string(crawler.TextOwn))
	sel := crawler.DefaultSelectors()
	v.SetDefault("crawler.selectors.pagination", sel.Pagination)
	v.SetDefault("crawler.selectors.product_anchor", sel.ProductAnchor)
	v.SetDefault("crawler.selectors.id", sel.ID)
	v.SetDefault("crawler.selectors.name", sel.Name)
	v.SetDefault("crawler.selectors.regular_price", sel.RegularPrice)
	v.SetDefault("crawler.selectors.promotional_price", sel.PromotionalPrice)
	v.SetDefault("crawler.selectors.brand", sel.Brand)

	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.retry_delay_ms", 2000)
	v.SetDefault("http.user_agent", "")

	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_endpoint", "")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "products")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "harvest-runs")

	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate performs semantic validation on the loaded configuration.
func (c Config) Validate() error {
	if err := validateURL("crawler.listing_url", c.Crawler.ListingURL, true); err != nil {
		return err
	}
	if err := validateURL("crawler.base_url", c.Crawler.BaseURL, false); err != nil {
		return err
	}
	if c.Crawler.DelayMillis < 0 {
		return errors.New("crawler.delay_ms must be >= 0")
	}
	if err := c.Crawler.Selectors.Validate(); err != nil {
		return err
	}
	if _, err := crawler.ParseTextMode(c.Crawler.FieldText); err != nil {
		return fmt.Errorf("crawler.field_text: %w", err)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return errors.New("http.max_attempts must be > 0")
	}
	if c.HTTP.RetryDelayMillis < 0 {
		return errors.New("http.retry_delay_ms must be >= 0")
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.Storage.BaseDir) == "" {
			return errors.New("storage.base_dir required for local backend")
		}
	case BackendMemory:
	case BackendGCS:
		if strings.TrimSpace(c.Storage.GCSBucket) == "" {
			return errors.New("storage.gcs_bucket required for gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q must be one of local, memory, gcs", c.Storage.Backend)
	}
	if c.DB.Enabled() && c.DB.MaxConns < 0 {
		return errors.New("db.max_conns must be >= 0")
	}
	if c.PubSub.ProjectID != "" && strings.TrimSpace(c.PubSub.TopicName) == "" {
		return errors.New("pubsub.topic_name required when pubsub.project_id is set")
	}
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key required when auth.enabled")
	}
	return nil
}

func validateURL(key, raw string, required bool) error {
	if strings.TrimSpace(raw) == "" {
		if required {
			return fmt.Errorf("%s must be set", key)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL", key)
	}
	return nil
}
