package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	WooCommerce WooCommerceConfig `yaml:"woocommerce" mapstructure:"woocommerce"`
	SourcesFile string            `yaml:"sources_file" mapstructure:"sources_file"`
	Match       MatchConfig       `yaml:"match" mapstructure:"match"`
	Breaker     BreakerConfig     `yaml:"breaker" mapstructure:"breaker"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// WooCommerceConfig configures one WooCommerce store. The primary store is
// set under "woocommerce"; backups are listed in the sources file.
type WooCommerceConfig struct {
	Name           string `yaml:"name" mapstructure:"name"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	ConsumerKey    string `yaml:"consumer_key" mapstructure:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret" mapstructure:"consumer_secret"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the request timeout, defaulting to 60s.
func (c WooCommerceConfig) Timeout() time.Duration {
	if c.TimeoutSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSecs) * time.Second
}

// MatchConfig configures extraction, search, and scoring.
type MatchConfig struct {
	PaymentMethod  string   `yaml:"payment_method" mapstructure:"payment_method"`
	Statuses       []string `yaml:"statuses" mapstructure:"statuses"`
	PerPage        int      `yaml:"per_page" mapstructure:"per_page"`
	After          string   `yaml:"after" mapstructure:"after"`
	PageDelayMs    int      `yaml:"page_delay_ms" mapstructure:"page_delay_ms"`
	HighMinRecords int      `yaml:"high_min_records" mapstructure:"high_min_records"`
	MajorityShare  float64  `yaml:"majority_share" mapstructure:"majority_share"`
	CacheFile      string   `yaml:"cache_file" mapstructure:"cache_file"`
	BulkFile       string   `yaml:"bulk_file" mapstructure:"bulk_file"`
	OutputDir      string   `yaml:"output_dir" mapstructure:"output_dir"`
	OutputName     string   `yaml:"output_name" mapstructure:"output_name"`
	Formats        []string `yaml:"formats" mapstructure:"formats"`
}

// PageDelay returns the minimum spacing between remote page fetches.
func (c MatchConfig) PageDelay() time.Duration {
	return time.Duration(c.PageDelayMs) * time.Millisecond
}

// BreakerConfig configures the per-source circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// StoreConfig configures the run ledger.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ORDERMATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("woocommerce.name", "primary")
	v.SetDefault("woocommerce.base_url", "")
	v.SetDefault("woocommerce.consumer_key", "")
	v.SetDefault("woocommerce.consumer_secret", "")
	v.SetDefault("woocommerce.timeout_secs", 60)
	v.SetDefault("sources_file", "")
	v.SetDefault("match.payment_method", "WC_Gateway_SnappPay")
	v.SetDefault("match.statuses", []string{"processing", "completed"})
	v.SetDefault("match.per_page", 100)
	v.SetDefault("match.after", "2025-11-27T00:00:00")
	v.SetDefault("match.page_delay_ms", 100)
	v.SetDefault("match.high_min_records", 2)
	v.SetDefault("match.majority_share", 0.7)
	v.SetDefault("match.cache_file", "name-search-cache.json")
	v.SetDefault("match.bulk_file", "woocommerce-guest-orders-snapppay-data.json")
	v.SetDefault("match.output_dir", ".")
	v.SetDefault("match.output_name", "guessed-orders-with-phones")
	v.SetDefault("match.formats", []string{"json", "xlsx"})
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout_secs", 60)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "ordermatch.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode is one of "match",
// "offline", "serve" or "runs".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "match":
		if c.WooCommerce.BaseURL == "" {
			errs = append(errs, "woocommerce.base_url is required")
		}
		if c.WooCommerce.ConsumerKey == "" {
			errs = append(errs, "woocommerce.consumer_key is required")
		}
		if c.WooCommerce.ConsumerSecret == "" {
			errs = append(errs, "woocommerce.consumer_secret is required")
		}
		errs = append(errs, c.validateMatch()...)
	case "offline":
		if c.Match.BulkFile == "" {
			errs = append(errs, "match.bulk_file is required")
		}
		errs = append(errs, c.validateMatch()...)
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", c.Server.Port))
		}
		errs = append(errs, c.validateStore()...)
	case "runs":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateMatch() []string {
	var errs []string
	if c.Match.PaymentMethod == "" {
		errs = append(errs, "match.payment_method is required")
	}
	if c.Match.PerPage < 1 || c.Match.PerPage > 100 {
		errs = append(errs, fmt.Sprintf("match.per_page must be between 1 and 100, got %d", c.Match.PerPage))
	}
	if c.Match.PageDelayMs < 0 {
		errs = append(errs, "match.page_delay_ms must be >= 0")
	}
	if c.Match.HighMinRecords < 1 {
		errs = append(errs, "match.high_min_records must be >= 1")
	}
	if c.Match.MajorityShare <= 0 || c.Match.MajorityShare > 1 {
		errs = append(errs, fmt.Sprintf("match.majority_share must be in (0, 1], got %.2f", c.Match.MajorityShare))
	}
	return errs
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

// LoadSources reads the backup store list from a YAML file with a top-level
// "sources" key. ${VAR} references are expanded from the environment so
// credentials can stay out of the file. An empty path yields no sources.
func LoadSources(path string) ([]WooCommerceConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read sources %s", path)
	}

	var wrapper struct {
		Sources []WooCommerceConfig `yaml:"sources"`
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &wrapper); err != nil {
		return nil, eris.Wrap(err, "config: parse sources")
	}

	for i, s := range wrapper.Sources {
		if s.BaseURL == "" {
			return nil, eris.Errorf("config: sources[%d]: base_url is required", i)
		}
		if s.Name == "" {
			wrapper.Sources[i].Name = fmt.Sprintf("backup-%d", i+1)
		}
	}
	return wrapper.Sources, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
