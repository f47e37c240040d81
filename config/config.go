package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Market    MarketConfig    `mapstructure:"market"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

type AppConfig struct {
	Env  string `mapstructure:"env"`
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
	Development bool   `mapstructure:"development"`
}

type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// AuthConfig holds the shared secret that gates mutating queue calls
type AuthConfig struct {
	AdminSecret string `mapstructure:"admin_secret"`
}

type ProvidersConfig struct {
	Quote        ProviderConfig `mapstructure:"quote"`
	Aggregates   ProviderConfig `mapstructure:"aggregates"`
	Fundamentals ProviderConfig `mapstructure:"fundamentals"`
}

// ProviderConfig configures one external data provider and its pacing
type ProviderConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	PerMinute   int           `mapstructure:"per_minute"`
}

// MarketConfig describes the exchange session windows in exchange-local time.
// Windows use the "HH:MM-HH:MM" format and are half-open.
type MarketConfig struct {
	Timezone      string        `mapstructure:"timezone"`
	PreMarket     string        `mapstructure:"pre_market"`
	RegularMarket string        `mapstructure:"regular_market"`
	PostMarket    string        `mapstructure:"post_market"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
}

type BatchConfig struct {
	Size            int `mapstructure:"size"`
	MaxSize         int `mapstructure:"max_size"`
	CheckpointEvery int `mapstructure:"checkpoint_every"`
}

type QueueConfig struct {
	BatchInterval time.Duration `mapstructure:"batch_interval"`
}

type SchedulerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	StartAt      string `mapstructure:"start_at"`
	StopAt       string `mapstructure:"stop_at"`
	BatchEvery   int    `mapstructure:"batch_every_minutes"`
	WeekdaysOnly bool   `mapstructure:"weekdays_only"`
}

type MirrorConfig struct {
	MongoURI   string        `mapstructure:"mongodb_uri"`
	Database   string        `mapstructure:"database"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type ProgressConfig struct {
	MaxClients int `mapstructure:"max_clients"`
}

// LoadConfig loads configuration from an optional YAML file, the .env file
// and ETL_* environment variables, in increasing order of precedence.
func LoadConfig(path string) (*Config, error) {
	// Missing .env is fine; deployments usually inject real env vars
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")

	v.SetDefault("auth.admin_secret", "")

	v.SetDefault("providers.quote.enabled", true)
	v.SetDefault("providers.quote.base_url", "https://finnhub.io/api/v1")
	v.SetDefault("providers.quote.api_key", "")
	v.SetDefault("providers.quote.timeout", "10s")
	v.SetDefault("providers.quote.min_interval", "1100ms")
	v.SetDefault("providers.quote.per_minute", 55)

	v.SetDefault("providers.aggregates.enabled", true)
	v.SetDefault("providers.aggregates.base_url", "https://api.polygon.io")
	v.SetDefault("providers.aggregates.api_key", "")
	v.SetDefault("providers.aggregates.timeout", "10s")
	v.SetDefault("providers.aggregates.min_interval", "12s")
	v.SetDefault("providers.aggregates.per_minute", 5)

	v.SetDefault("providers.fundamentals.enabled", true)
	v.SetDefault("providers.fundamentals.base_url", "https://finnhub.io/api/v1")
	v.SetDefault("providers.fundamentals.api_key", "")
	v.SetDefault("providers.fundamentals.timeout", "10s")
	v.SetDefault("providers.fundamentals.min_interval", "1100ms")
	v.SetDefault("providers.fundamentals.per_minute", 55)

	v.SetDefault("market.timezone", "America/New_York")
	v.SetDefault("market.pre_market", "04:00-09:30")
	v.SetDefault("market.regular_market", "09:30-16:00")
	v.SetDefault("market.post_market", "16:00-20:00")
	v.SetDefault("market.stale_after", "24h")

	v.SetDefault("batch.size", 70)
	v.SetDefault("batch.max_size", 200)
	v.SetDefault("batch.checkpoint_every", 10)

	v.SetDefault("queue.batch_interval", "15m")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.start_at", "09:00")
	v.SetDefault("scheduler.stop_at", "16:30")
	v.SetDefault("scheduler.batch_every_minutes", 15)
	v.SetDefault("scheduler.weekdays_only", true)

	v.SetDefault("mirror.mongodb_uri", "")
	v.SetDefault("mirror.database", "market_etl")
	v.SetDefault("mirror.collection", "instrument_snapshots")
	v.SetDefault("mirror.timeout", "10s")

	v.SetDefault("progress.max_clients", 50)
}

// Validate checks the settings every deployment needs. Provider credentials
// are checked later by the batch processor, which treats them as fatal only
// for the operation that needs them.
func (c *Config) Validate() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("db.driver must be postgres or sqlite, got %q", c.DB.Driver)
	}
	if c.Batch.Size <= 0 {
		return fmt.Errorf("batch.size must be positive")
	}
	if c.Batch.MaxSize < c.Batch.Size {
		return fmt.Errorf("batch.max_size (%d) must be >= batch.size (%d)", c.Batch.MaxSize, c.Batch.Size)
	}
	if c.Batch.CheckpointEvery <= 0 {
		return fmt.Errorf("batch.checkpoint_every must be positive")
	}
	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return fmt.Errorf("market.timezone: %w", err)
	}
	return nil
}

// IsProduction reports whether the app runs in production mode
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
