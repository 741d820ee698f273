package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces the environment overrides, e.g. LABCASE_DATABASE_PASSWORD.
const EnvPrefix = "LABCASE"

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Database     DatabaseConfig     `mapstructure:"database"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Outbox       OutboxConfig       `mapstructure:"outbox"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit" envconfig:"RATE_LIMIT"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Notification NotificationConfig `mapstructure:"notification"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Log          LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Timeout        time.Duration `mapstructure:"timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// WorkerConfig is the worker's operational listener for health and metrics.
type WorkerConfig struct {
	Port int `mapstructure:"port"`
}

// JWTConfig only covers validation; tokens are issued elsewhere.
type JWTConfig struct {
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Channel      string        `mapstructure:"channel"`
	MaxRetries   int           `mapstructure:"max_retries" envconfig:"MAX_RETRIES"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" envconfig:"RETRY_BACKOFF"`
	PoolSize     int           `mapstructure:"pool_size" envconfig:"POOL_SIZE"`
	MinIdleConns int           `mapstructure:"min_idle_conns" envconfig:"MIN_IDLE_CONNS"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size" envconfig:"BATCH_SIZE"`
	PollInterval  time.Duration `mapstructure:"poll_interval" envconfig:"POLL_INTERVAL"`
	RetryAttempts int           `mapstructure:"retry_attempts" envconfig:"RETRY_ATTEMPTS"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" envconfig:"RETRY_DELAY"`
	MaxRetries    int           `mapstructure:"max_retries" envconfig:"MAX_RETRIES"`
	Retention     time.Duration `mapstructure:"retention"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type CacheConfig struct {
	CatalogTTL time.Duration `mapstructure:"catalog_ttl" envconfig:"CATALOG_TTL"`
	RolesTTL   time.Duration `mapstructure:"roles_ttl" envconfig:"ROLES_TTL"`
}

type NotificationConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	SMTPHost string   `mapstructure:"smtp_host" envconfig:"SMTP_HOST"`
	SMTPPort int      `mapstructure:"smtp_port" envconfig:"SMTP_PORT"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("worker.port", 8081)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.channel", "labcase.events")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", time.Second)
	v.SetDefault("outbox.max_retries", 5)
	v.SetDefault("outbox.retention", 7*24*time.Hour)
	v.SetDefault("rate_limit.rps", 50)
	v.SetDefault("rate_limit.burst", 100)
	v.SetDefault("cache.catalog_ttl", 5*time.Minute)
	v.SetDefault("cache.roles_ttl", time.Minute)
	v.SetDefault("notification.smtp_port", 587)
	v.SetDefault("metrics.namespace", "labcase")
	v.SetDefault("log.level", "info")
}

// Load reads config.yml (from path, or ., ./config and /app/config when path
// is empty) and applies LABCASE_* environment overrides on top. A missing file
// is not an error; defaults and the environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app/config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	if c.Outbox.BatchSize <= 0 || c.Outbox.PollInterval <= 0 {
		return fmt.Errorf("outbox.batch_size and outbox.poll_interval must be positive")
	}
	if c.Outbox.RetryAttempts <= 0 || c.Outbox.RetryDelay <= 0 {
		return fmt.Errorf("outbox.retry_attempts and outbox.retry_delay must be positive")
	}
	return nil
}
