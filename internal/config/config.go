package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrMissing is returned by Validate when required settings are absent.
var ErrMissing = eris.New("config: required settings missing")

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Police     PoliceConfig     `yaml:"police" mapstructure:"police"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database connection. DatabaseURL wins over the
// individual fields when set.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Host        string `yaml:"host" mapstructure:"host"`
	Port        int    `yaml:"port" mapstructure:"port"`
	User        string `yaml:"user" mapstructure:"user"`
	Password    string `yaml:"password" mapstructure:"password"`
	Database    string `yaml:"database" mapstructure:"database"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// DSN returns the connection string for pgx.
func (s StoreConfig) DSN() string {
	if s.DatabaseURL != "" {
		return s.DatabaseURL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Path:   "/" + s.Database,
	}
	if s.User != "" {
		if s.Password != "" {
			u.User = url.UserPassword(s.User, s.Password)
		} else {
			u.User = url.User(s.User)
		}
	}
	return u.String()
}

// PoliceConfig configures the upstream API client.
type PoliceConfig struct {
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent     string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts   int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryWaitSecs int     `yaml:"retry_wait_secs" mapstructure:"retry_wait_secs"`
	Backoff       string  `yaml:"backoff" mapstructure:"backoff"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst     int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// SyncConfig configures a sync run.
type SyncConfig struct {
	Region       string `yaml:"region" mapstructure:"region"`
	Options      string `yaml:"options" mapstructure:"options"`
	ReplayMonths int    `yaml:"replay_months" mapstructure:"replay_months"`
	MaxMonths    int    `yaml:"max_months" mapstructure:"max_months"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MetricsConfig configures the Prometheus Pushgateway. An empty URL disables pushing.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" mapstructure:"pushgateway_url"`
	Job            string `yaml:"job" mapstructure:"job"`
}

// MonitoringConfig configures failure alerts. An empty URL disables them.
type MonitoringConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("POLICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.host", "localhost")
	v.SetDefault("store.port", 5432)
	v.SetDefault("store.user", "datamap")
	v.SetDefault("store.password", "datamap")
	v.SetDefault("store.database", "datamap")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("police.base_url", "https://data.police.uk/api/")
	v.SetDefault("police.user_agent", "police-sync/1.0")
	v.SetDefault("police.timeout_secs", 60)
	v.SetDefault("police.max_attempts", 6)
	v.SetDefault("police.retry_wait_secs", 10)
	v.SetDefault("police.backoff", "fixed")
	v.SetDefault("police.rate_limit", 15)
	v.SetDefault("police.rate_burst", 30)
	v.SetDefault("sync.region", "Reading Borough")
	v.SetDefault("sync.options", "")
	v.SetDefault("sync.replay_months", 13)
	v.SetDefault("sync.max_months", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "police_sync")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.timeout_secs", 10)

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

// Validate checks the settings a command needs. mode is "sync" for a load
// run; any other mode only needs storage.
func (c *Config) Validate(mode string) error {
	var missing []string
	if c.Store.DatabaseURL == "" {
		if c.Store.Host == "" {
			missing = append(missing, "store.host is required")
		}
		if c.Store.Database == "" {
			missing = append(missing, "store.database is required")
		}
		if c.Store.Port <= 0 || c.Store.Port > 65535 {
			missing = append(missing, fmt.Sprintf("store.port %d is out of range", c.Store.Port))
		}
	}
	if mode == "sync" {
		if strings.TrimSpace(c.Sync.Region) == "" {
			missing = append(missing, "sync.region is required")
		}
		if c.Sync.ReplayMonths < 1 {
			missing = append(missing, "sync.replay_months must be at least 1")
		}
		if c.Police.BaseURL == "" {
			missing = append(missing, "police.base_url is required")
		}
		if b := c.Police.Backoff; b != "" && b != "fixed" && b != "exponential" {
			missing = append(missing, fmt.Sprintf("police.backoff %q must be fixed or exponential", b))
		}
	}
	if len(missing) > 0 {
		return eris.Wrap(ErrMissing, strings.Join(missing, "; "))
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
