package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Log       LogConfig
	Storage   StorageConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	ShortCode ShortCodeConfig
	Redirect  RedirectConfig
	Scan      ScanConfig
	Geo       GeoConfig
	Bloom     BloomConfig
	Snowflake SnowflakeConfig
	Auth      AuthConfig
}

type AppConfig struct {
	Env     string
	Port    string
	BaseURL string
}

type LogConfig struct {
	Level string
}

// StorageConfig selects the ShortCode/RoutingRule/ScanEvent backend.
// Driver is one of "postgres", "sqlite" or "mysql".
type StorageConfig struct {
	Driver     string
	SQLitePath string
	MySQLDSN   string
}

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
	PoolSize int
}

type RateLimitConfig struct {
	Requests         int
	Duration         time.Duration
	PasswordAttempts int
	PasswordWindow   time.Duration
}

type ShortCodeConfig struct {
	Length    int
	MaxLength int
}

// RedirectConfig tunes the scan path. The local rule cache keeps decoded
// rules in process; a zero size or TTL disables it.
type RedirectConfig struct {
	Timeout            time.Duration
	RuleCacheTTL       time.Duration
	LocalRuleCacheTTL  time.Duration
	LocalRuleCacheSize int
}

type ScanConfig struct {
	QueueSize  int
	Workers    int
	JobTimeout time.Duration
}

// GeoConfig configures the geolocation provider.
// Provider is one of "ipapi", "maxmind" or "none".
type GeoConfig struct {
	Provider     string
	Endpoint     string
	DatabasePath string
	Timeout      time.Duration
	CacheTTL     time.Duration
}

type BloomConfig struct {
	Capacity          uint
	FalsePositiveRate float64
}

type SnowflakeConfig struct {
	Node int64
}

type AuthConfig struct {
	BasicUser     string
	BasicPassword string
}

func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	setDefaults()

	// Read config file (optional, env vars take precedence)
	_ = viper.ReadInConfig()

	cfg := &Config{
		App: AppConfig{
			Env:     viper.GetString("APP_ENV"),
			Port:    viper.GetString("APP_PORT"),
			BaseURL: viper.GetString("APP_BASE_URL"),
		},
		Log: LogConfig{
			Level: viper.GetString("LOG_LEVEL"),
		},
		Storage: StorageConfig{
			Driver:     viper.GetString("STORAGE_DRIVER"),
			SQLitePath: viper.GetString("SQLITE_PATH"),
			MySQLDSN:   viper.GetString("MYSQL_DSN"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("POSTGRES_HOST"),
			Port:     viper.GetString("POSTGRES_PORT"),
			User:     viper.GetString("POSTGRES_USER"),
			Password: viper.GetString("POSTGRES_PASSWORD"),
			DBName:   viper.GetString("POSTGRES_DB"),
			SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
			MaxConns: viper.GetInt("POSTGRES_MAX_CONNS"),
			MinConns: viper.GetInt("POSTGRES_MIN_CONNS"),
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("REDIS_ENABLED"),
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
			PoolSize: viper.GetInt("REDIS_POOL_SIZE"),
		},
		RateLimit: RateLimitConfig{
			Requests:         viper.GetInt("RATE_LIMIT_REQUESTS"),
			Duration:         viper.GetDuration("RATE_LIMIT_DURATION"),
			PasswordAttempts: viper.GetInt("PASSWORD_ATTEMPTS_LIMIT"),
			PasswordWindow:   viper.GetDuration("PASSWORD_ATTEMPTS_WINDOW"),
		},
		ShortCode: ShortCodeConfig{
			Length:    viper.GetInt("SHORT_CODE_LENGTH"),
			MaxLength: viper.GetInt("SHORT_CODE_MAX_LENGTH"),
		},
		Redirect: RedirectConfig{
			Timeout:            viper.GetDuration("REDIRECT_TIMEOUT"),
			RuleCacheTTL:       viper.GetDuration("RULE_CACHE_TTL"),
			LocalRuleCacheTTL:  viper.GetDuration("LOCAL_RULE_CACHE_TTL"),
			LocalRuleCacheSize: viper.GetInt("LOCAL_RULE_CACHE_SIZE"),
		},
		Scan: ScanConfig{
			QueueSize:  viper.GetInt("SCAN_QUEUE_SIZE"),
			Workers:    viper.GetInt("SCAN_WORKERS"),
			JobTimeout: viper.GetDuration("SCAN_JOB_TIMEOUT"),
		},
		Geo: GeoConfig{
			Provider:     viper.GetString("GEO_PROVIDER"),
			Endpoint:     viper.GetString("GEO_ENDPOINT"),
			DatabasePath: viper.GetString("GEO_DATABASE_PATH"),
			Timeout:      viper.GetDuration("GEO_TIMEOUT"),
			CacheTTL:     viper.GetDuration("GEO_CACHE_TTL"),
		},
		Bloom: BloomConfig{
			Capacity:          viper.GetUint("BLOOM_CAPACITY"),
			FalsePositiveRate: viper.GetFloat64("BLOOM_FALSE_POSITIVE_RATE"),
		},
		Snowflake: SnowflakeConfig{
			Node: viper.GetInt64("SNOWFLAKE_NODE"),
		},
		Auth: AuthConfig{
			BasicUser:     viper.GetString("AUTH_BASIC_USER"),
			BasicPassword: viper.GetString("AUTH_BASIC_PASSWORD"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("APP_BASE_URL", "http://localhost:8080")

	viper.SetDefault("LOG_LEVEL", "info")

	viper.SetDefault("STORAGE_DRIVER", "postgres")
	viper.SetDefault("SQLITE_PATH", "qr_redirect.db")
	viper.SetDefault("MYSQL_DSN", "")

	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", "5432")
	viper.SetDefault("POSTGRES_USER", "qrredirect")
	viper.SetDefault("POSTGRES_PASSWORD", "qrredirect")
	viper.SetDefault("POSTGRES_DB", "qrredirect")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")
	viper.SetDefault("POSTGRES_MAX_CONNS", 25)
	viper.SetDefault("POSTGRES_MIN_CONNS", 5)

	viper.SetDefault("REDIS_ENABLED", true)
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_POOL_SIZE", 10)

	viper.SetDefault("RATE_LIMIT_REQUESTS", 100)
	viper.SetDefault("RATE_LIMIT_DURATION", "1m")
	viper.SetDefault("PASSWORD_ATTEMPTS_LIMIT", 5)
	viper.SetDefault("PASSWORD_ATTEMPTS_WINDOW", "15m")

	viper.SetDefault("SHORT_CODE_LENGTH", 6)
	viper.SetDefault("SHORT_CODE_MAX_LENGTH", 12)

	viper.SetDefault("REDIRECT_TIMEOUT", "3s")
	viper.SetDefault("RULE_CACHE_TTL", "30s")
	viper.SetDefault("LOCAL_RULE_CACHE_TTL", "5s")
	viper.SetDefault("LOCAL_RULE_CACHE_SIZE", 10000)

	viper.SetDefault("SCAN_QUEUE_SIZE", 1024)
	viper.SetDefault("SCAN_WORKERS", 4)
	viper.SetDefault("SCAN_JOB_TIMEOUT", "5s")

	viper.SetDefault("GEO_PROVIDER", "ipapi")
	viper.SetDefault("GEO_ENDPOINT", "http://ip-api.com/json/")
	viper.SetDefault("GEO_DATABASE_PATH", "GeoLite2-City.mmdb")
	viper.SetDefault("GEO_TIMEOUT", "300ms")
	viper.SetDefault("GEO_CACHE_TTL", "24h")

	viper.SetDefault("BLOOM_CAPACITY", 1000000)
	viper.SetDefault("BLOOM_FALSE_POSITIVE_RATE", 0.001)

	viper.SetDefault("SNOWFLAKE_NODE", 1)

	viper.SetDefault("AUTH_BASIC_USER", "")
	viper.SetDefault("AUTH_BASIC_PASSWORD", "")
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "sqlite":
	case "mysql":
		if c.Storage.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN is required when STORAGE_DRIVER=mysql")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}

	switch c.Geo.Provider {
	case "ipapi", "maxmind", "none":
	default:
		return fmt.Errorf("unsupported GEO_PROVIDER %q", c.Geo.Provider)
	}

	if c.ShortCode.Length < 6 || c.ShortCode.MaxLength > 12 || c.ShortCode.Length > c.ShortCode.MaxLength {
		return fmt.Errorf("short code length must satisfy 6 <= SHORT_CODE_LENGTH <= SHORT_CODE_MAX_LENGTH <= 12")
	}

	if c.Scan.Workers < 1 {
		return fmt.Errorf("SCAN_WORKERS must be at least 1")
	}

	timeouts := []struct {
		name  string
		value time.Duration
	}{
		{"REDIRECT_TIMEOUT", c.Redirect.Timeout},
		{"SCAN_JOB_TIMEOUT", c.Scan.JobTimeout},
		{"GEO_TIMEOUT", c.Geo.Timeout},
	}
	for _, t := range timeouts {
		if t.value <= 0 {
			return fmt.Errorf("%s must be a positive duration", t.name)
		}
	}

	if c.Redis.Enabled {
		if c.RateLimit.Requests < 1 || c.RateLimit.Duration <= 0 {
			return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_DURATION must be positive")
		}
		if c.RateLimit.PasswordAttempts < 1 || c.RateLimit.PasswordWindow <= 0 {
			return fmt.Errorf("PASSWORD_ATTEMPTS_LIMIT and PASSWORD_ATTEMPTS_WINDOW must be positive")
		}
	}

	return nil
}

func (c *PostgresConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

func (c *RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

func (c *AppConfig) Addr() string {
	return ":" + c.Port
}
