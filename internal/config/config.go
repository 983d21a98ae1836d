package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/language"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Source      SourceConfig    `mapstructure:"source"`
	Ingest      IngestConfig    `mapstructure:"ingest"`
	Dashboard   DashboardConfig `mapstructure:"dashboard"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
	Security    SecurityConfig  `mapstructure:"security"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	ReadTimeout    string   `mapstructure:"read_timeout"`
	WriteTimeout   string   `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SourceConfig points at the upstream case tables.
type SourceConfig struct {
	TimeSeriesURL string `mapstructure:"time_series_url"`
	LatestURL     string `mapstructure:"latest_url"`
	WorldDataURL  string `mapstructure:"world_data_url"`
	// Timeout is in seconds.
	Timeout int `mapstructure:"timeout"`
	// FailureThreshold consecutive failed fetches open the upstream breaker
	// for Cooldown.
	FailureThreshold int    `mapstructure:"failure_threshold"`
	Cooldown         string `mapstructure:"cooldown"`
}

// GetTimeout returns the request timeout as a duration.
func (c *SourceConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// GetCooldown returns how long the upstream breaker stays open. An
// unparseable value falls back to fifteen minutes.
func (c *SourceConfig) GetCooldown() time.Duration {
	d, err := time.ParseDuration(c.Cooldown)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

type IngestConfig struct {
	Interval               string   `mapstructure:"interval"`
	RunOnStart             bool     `mapstructure:"run_on_start"`
	RetrospectDays         int      `mapstructure:"retrospect_days"`
	PredictionDays         int      `mapstructure:"prediction_days"`
	ExcludedFromPrediction []string `mapstructure:"excluded_from_prediction"`
}

// GetInterval returns the refresh interval. An unparseable value falls back
// to six hours.
func (c *IngestConfig) GetInterval() time.Duration {
	d, err := time.ParseDuration(c.Interval)
	if err != nil || d <= 0 {
		return 6 * time.Hour
	}
	return d
}

// IsExcluded reports whether country is never fitted or projected.
func (c *IngestConfig) IsExcluded(country string) bool {
	for _, name := range c.ExcludedFromPrediction {
		if strings.EqualFold(name, country) {
			return true
		}
	}
	return false
}

type DashboardConfig struct {
	DefaultCountry  string `mapstructure:"default_country"`
	DefaultHorizon  int    `mapstructure:"default_horizon"`
	MaxHorizon      int    `mapstructure:"max_horizon"`
	Locale          string `mapstructure:"locale"`
	CacheTTL        string `mapstructure:"cache_ttl"`
	SmoothingPeriod int    `mapstructure:"smoothing_period"`
}

// GetCacheTTL returns how long rendered views stay cached.
func (c *DashboardConfig) GetCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil || d < 0 {
		return 10 * time.Minute
	}
	return d
}

// ClampHorizon limits a requested horizon to [0, MaxHorizon].
func (c *DashboardConfig) ClampHorizon(horizon int) int {
	if horizon < 0 {
		return 0
	}
	if horizon > c.MaxHorizon {
		return c.MaxHorizon
	}
	return horizon
}

type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Exporter       string  `mapstructure:"exporter"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

type SecurityConfig struct {
	// AdminAPIKeyHash is the bcrypt hash of the key guarding admin routes.
	AdminAPIKeyHash string `mapstructure:"admin_api_key_hash" json:"-" yaml:"-"`
	BcryptCost      int    `mapstructure:"bcrypt_cost"`
}

// Load reads configuration from an optional .env file, configs/config.yaml
// and the environment, in increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("security.admin_api_key_hash", "ADMIN_API_KEY_HASH"); err != nil {
		return nil, fmt.Errorf("failed to bind ADMIN_API_KEY_HASH environment variable: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	config.Environment = strings.ToLower(config.Environment)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	if c.Environment != "development" && c.Security.AdminAPIKeyHash == "" {
		return errors.New("ADMIN_API_KEY_HASH environment variable is required in non-development environments")
	}
	if c.Security.AdminAPIKeyHash != "" {
		if _, err := bcrypt.Cost([]byte(c.Security.AdminAPIKeyHash)); err != nil {
			return fmt.Errorf("admin API key hash is not a bcrypt hash: %w", err)
		}
	}
	if c.Security.BcryptCost < bcrypt.MinCost || c.Security.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d, got %d",
			bcrypt.MinCost, bcrypt.MaxCost, c.Security.BcryptCost)
	}

	for name, value := range map[string]string{
		"ingest.interval":     c.Ingest.Interval,
		"dashboard.cache_ttl": c.Dashboard.CacheTTL,
		"server.read_timeout": c.Server.ReadTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s duration: %w", name, err)
		}
	}

	if c.Ingest.RetrospectDays < 1 {
		return fmt.Errorf("ingest.retrospect_days must be >= 1, got %d", c.Ingest.RetrospectDays)
	}
	if c.Ingest.PredictionDays < 0 {
		return fmt.Errorf("ingest.prediction_days must be >= 0, got %d", c.Ingest.PredictionDays)
	}
	if c.Dashboard.DefaultHorizon < 0 || c.Dashboard.MaxHorizon < c.Dashboard.DefaultHorizon {
		return fmt.Errorf("dashboard horizons must satisfy 0 <= default (%d) <= max (%d)",
			c.Dashboard.DefaultHorizon, c.Dashboard.MaxHorizon)
	}
	if _, err := language.Parse(c.Dashboard.Locale); err != nil {
		return fmt.Errorf("invalid dashboard.locale %q: %w", c.Dashboard.Locale, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Environment
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "covid_pulse")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.database_url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "300s")
	v.SetDefault("database.conn_max_idle_time", "60s")
	v.SetDefault("database.auto_migrate", true)

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Upstream sources
	v.SetDefault("source.time_series_url",
		"https://raw.githubusercontent.com/CSSEGISandData/COVID-19/master/csse_covid_19_data/csse_covid_19_time_series")
	v.SetDefault("source.latest_url",
		"https://raw.githubusercontent.com/CSSEGISandData/COVID-19/web-data/data/cases_country.csv")
	v.SetDefault("source.world_data_url", "")
	v.SetDefault("source.timeout", 30)
	v.SetDefault("source.failure_threshold", 3)
	v.SetDefault("source.cooldown", "15m")

	// Ingest
	v.SetDefault("ingest.interval", "6h")
	v.SetDefault("ingest.run_on_start", true)
	v.SetDefault("ingest.retrospect_days", 7)
	v.SetDefault("ingest.prediction_days", 180)
	v.SetDefault("ingest.excluded_from_prediction", []string{"Diamond Princess", "MS Zaandam"})

	// Dashboard
	v.SetDefault("dashboard.default_country", "Germany")
	v.SetDefault("dashboard.default_horizon", 7)
	v.SetDefault("dashboard.max_horizon", 180)
	v.SetDefault("dashboard.locale", "de-DE")
	v.SetDefault("dashboard.cache_ttl", "10m")
	v.SetDefault("dashboard.smoothing_period", 7)

	// Telemetry
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.exporter", "otlp")
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "covid-pulse-go")
	v.SetDefault("telemetry.service_version", "1.0.0")
	v.SetDefault("telemetry.sample_rate", 1.0)

	// Security
	v.SetDefault("security.admin_api_key_hash", "")
	v.SetDefault("security.bcrypt_cost", 12)
}
