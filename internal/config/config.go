package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/tender-sync/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig              `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig              `yaml:"redis" mapstructure:"redis"`
	Fetch      FetchConfig              `yaml:"fetch" mapstructure:"fetch"`
	Enrich     EnrichConfig             `yaml:"enrich" mapstructure:"enrich"`
	Pipeline   PipelineConfig           `yaml:"pipeline" mapstructure:"pipeline"`
	Columns    map[string]model.Columns `yaml:"columns" mapstructure:"columns"`
	Sources    []model.Source           `yaml:"sources" mapstructure:"sources"`
	Server     ServerConfig             `yaml:"server" mapstructure:"server"`
	Schedule   ScheduleConfig           `yaml:"schedule" mapstructure:"schedule"`
	Monitoring MonitoringConfig         `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig                `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the aggregate store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures the optional run lock. Locking is disabled when URL is empty.
type RedisConfig struct {
	URL        string `yaml:"url" mapstructure:"url"`
	LockTTLSec int    `yaml:"lock_ttl_secs" mapstructure:"lock_ttl_secs"`
}

// FetchConfig configures report downloads.
type FetchConfig struct {
	TempDir     string       `yaml:"temp_dir" mapstructure:"temp_dir"`
	TimeoutSecs int          `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent   string       `yaml:"user_agent" mapstructure:"user_agent"`
	FTPUser     string       `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword string       `yaml:"ftp_password" mapstructure:"ftp_password"`
	Export      ExportConfig `yaml:"export" mapstructure:"export"`
}

// ExportConfig configures the headless dashboard export.
type ExportConfig struct {
	Steps    []string `yaml:"steps" mapstructure:"steps"`
	WaitSecs int      `yaml:"wait_secs" mapstructure:"wait_secs"`
	Headless bool     `yaml:"headless" mapstructure:"headless"`
}

// EnrichConfig configures detail-page enrichment.
type EnrichConfig struct {
	Concurrency int            `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSec  float64        `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs int            `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PhoneRegion string         `yaml:"phone_region" mapstructure:"phone_region"`
	Selectors   SelectorConfig `yaml:"selectors" mapstructure:"selectors"`
}

// SelectorConfig overrides the CSS selectors used on detail pages.
type SelectorConfig struct {
	Contact  string `yaml:"contact" mapstructure:"contact"`
	Phone    string `yaml:"phone" mapstructure:"phone"`
	Email    string `yaml:"email" mapstructure:"email"`
	LotTitle string `yaml:"lot_title" mapstructure:"lot_title"`
	LotDate  string `yaml:"lot_date" mapstructure:"lot_date"`
}

// PipelineConfig configures batching.
type PipelineConfig struct {
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	Token       string   `yaml:"token" mapstructure:"token"`
	JWTSecret   string   `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// ScheduleConfig configures the periodic full sync run by the server.
type ScheduleConfig struct {
	Spec string `yaml:"spec" mapstructure:"spec"`
}

// MonitoringConfig configures run alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	StaleRunHours        int     `yaml:"stale_run_hours" mapstructure:"stale_run_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ColumnsFor returns the column mapping for kind, with unset headers filled
// from the defaults.
func (c *Config) ColumnsFor(k model.Kind) model.Columns {
	return c.Columns[string(k)].Merge(model.DefaultColumns(k))
}

// Source returns the configured source with the given name.
func (c *Config) Source(name string) (model.Source, bool) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return model.Source{}, false
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	// .env is optional; values already present in the environment win.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TENDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.lock_ttl_secs", 3600)
	v.SetDefault("fetch.temp_dir", "/tmp/tender-sync")
	v.SetDefault("fetch.timeout_secs", 120)
	v.SetDefault("fetch.user_agent", "tender-sync/1.0")
	v.SetDefault("fetch.export.steps", []string{
		`//button[contains(normalize-space(.), "Export")]`,
		`//button[contains(normalize-space(.), "Formatted Excel")]`,
	})
	v.SetDefault("fetch.export.wait_secs", 180)
	v.SetDefault("fetch.export.headless", true)
	v.SetDefault("enrich.concurrency", 8)
	v.SetDefault("enrich.rate_per_sec", 5.0)
	v.SetDefault("enrich.timeout_secs", 15)
	v.SetDefault("enrich.phone_region", "UA")
	v.SetDefault("pipeline.batch_size", 10000)
	v.SetDefault("fetch.ftp_user", "")
	v.SetDefault("fetch.ftp_password", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.token", "")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("schedule.spec", "@weekly")
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.lookback_hours", 168)
	v.SetDefault("monitoring.check_interval_secs", 900)
	v.SetDefault("monitoring.stale_run_hours", 6)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks that the settings required by a command are present.
// mode is one of "sync", "serve" or "store".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
	default:
		problems = append(problems, "store.driver must be postgres or sqlite")
	}

	if mode == "sync" || mode == "serve" {
		if c.Pipeline.BatchSize <= 0 {
			problems = append(problems, "pipeline.batch_size must be positive")
		}
		if c.Enrich.Concurrency <= 0 {
			problems = append(problems, "enrich.concurrency must be positive")
		}
		if err := ValidateSources(c.Sources); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be between 1 and 65535")
		}
		if c.Server.Token == "" && c.Server.JWTSecret == "" {
			problems = append(problems, "server.token or server.jwt_secret is required")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateSources checks every source definition and rejects duplicate names.
func ValidateSources(sources []model.Source) error {
	seen := make(map[string]bool, len(sources))
	for i, s := range sources {
		if err := validate.Struct(s); err != nil {
			return eris.Wrapf(err, "sources[%d]", i)
		}
		if seen[s.Name] {
			return eris.Errorf("sources[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
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
