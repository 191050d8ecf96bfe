package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"treasuryd/internal/logger"
)

// Config represents the application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Market   MarketConfig   `yaml:"market"`
	Logging  logger.Config  `yaml:"logging"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

// ServerConfig represents the metrics/health listener configuration
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	DBName   string        `yaml:"dbname"`
	SSLMode  string        `yaml:"sslmode"`
	MaxOpen  int           `yaml:"max_open"`
	MaxIdle  int           `yaml:"max_idle"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// MarketConfig represents the ingestion pipeline configuration
type MarketConfig struct {
	// Cron spec for scheduled ingestion cycles
	IngestSchedule string `yaml:"ingest_schedule"`

	// Per-source API keys; absence means the free fallback source is used
	FREDAPIKey         string `yaml:"fred_api_key"`
	ExchangeRateAPIKey string `yaml:"exchange_rate_api_key"`

	// Timeouts
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	CycleTimeout time.Duration `yaml:"cycle_timeout"`

	// Circuit breaker
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`

	// Quality validation
	PassScore       float64       `yaml:"pass_score"`
	StalenessWindow time.Duration `yaml:"staleness_window"`

	// Anomaly detection
	SigmaThreshold    float64       `yaml:"sigma_threshold"`
	SigmaEscalation   float64       `yaml:"sigma_escalation"`
	RelativeThreshold float64       `yaml:"relative_threshold"`
	MinHistory        int           `yaml:"min_history"`
	HistoryWindow     int           `yaml:"history_window"`
	SummaryCacheTTL   time.Duration `yaml:"summary_cache_ttl"`
	RetentionDays     int           `yaml:"retention_days"`
}

// Load loads configuration from a YAML file and applies environment overrides
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	config.applyEnvOverrides(NewEnvManager("", ""))

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 9180
	}
	if c.Market.IngestSchedule == "" {
		c.Market.IngestSchedule = "0 */15 * * * *"
	}
	if c.Market.FetchTimeout <= 0 {
		c.Market.FetchTimeout = 10 * time.Second
	}
	if c.Market.CycleTimeout <= 0 {
		c.Market.CycleTimeout = 45 * time.Second
	}
	if c.Market.BreakerThreshold <= 0 {
		c.Market.BreakerThreshold = 3
	}
	if c.Market.BreakerCooldown <= 0 {
		c.Market.BreakerCooldown = 5 * time.Minute
	}
	if c.Market.PassScore <= 0 {
		c.Market.PassScore = 70
	}
	if c.Market.StalenessWindow <= 0 {
		c.Market.StalenessWindow = 48 * time.Hour
	}
	if c.Market.SigmaThreshold <= 0 {
		c.Market.SigmaThreshold = 3
	}
	if c.Market.SigmaEscalation <= 0 {
		c.Market.SigmaEscalation = 6
	}
	if c.Market.RelativeThreshold <= 0 {
		c.Market.RelativeThreshold = 0.5
	}
	if c.Market.MinHistory <= 0 {
		c.Market.MinHistory = 3
	}
	if c.Market.HistoryWindow <= 0 {
		c.Market.HistoryWindow = 30
	}
	if c.Market.SummaryCacheTTL <= 0 {
		c.Market.SummaryCacheTTL = time.Minute
	}
	if c.Market.RetentionDays <= 0 {
		c.Market.RetentionDays = 365
	}
}

// applyEnvOverrides lets environment variables win over file values.
// API keys may be stored encrypted with the ENC: prefix.
func (c *Config) applyEnvOverrides(env *EnvManager) {
	c.Database.Host = env.GetString("DB_HOST", c.Database.Host)
	c.Database.Port = env.GetInt("DB_PORT", c.Database.Port)
	c.Database.User = env.GetString("DB_USER", c.Database.User)
	c.Database.Password = env.GetEncryptedString("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = env.GetString("DB_NAME", c.Database.DBName)

	c.Redis.Enabled = env.GetBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = env.GetString("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = env.GetEncryptedString("REDIS_PASSWORD", c.Redis.Password)

	c.Market.FREDAPIKey = env.GetEncryptedString("FRED_API_KEY", c.Market.FREDAPIKey)
	c.Market.ExchangeRateAPIKey = env.GetEncryptedString("EXCHANGE_RATE_API_KEY", c.Market.ExchangeRateAPIKey)

	c.Market.FetchTimeout = env.GetDuration("FETCH_TIMEOUT", c.Market.FetchTimeout)
	c.Market.CycleTimeout = env.GetDuration("CYCLE_TIMEOUT", c.Market.CycleTimeout)
	c.Market.BreakerThreshold = env.GetInt("BREAKER_THRESHOLD", c.Market.BreakerThreshold)
	c.Market.BreakerCooldown = env.GetDuration("BREAKER_COOLDOWN", c.Market.BreakerCooldown)
}

// Validate checks the configuration for startup-fatal problems.
// A missing API key is not an error: fetchers fall back to free sources.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Market.CycleTimeout < c.Market.FetchTimeout {
		return fmt.Errorf("cycle timeout %v is shorter than fetch timeout %v",
			c.Market.CycleTimeout, c.Market.FetchTimeout)
	}
	if c.Market.PassScore < 0 || c.Market.PassScore > 100 {
		return fmt.Errorf("pass score must be within [0,100]: %f", c.Market.PassScore)
	}
	if c.Market.SigmaEscalation < c.Market.SigmaThreshold {
		return fmt.Errorf("sigma escalation %f below sigma threshold %f",
			c.Market.SigmaEscalation, c.Market.SigmaThreshold)
	}
	return nil
}
