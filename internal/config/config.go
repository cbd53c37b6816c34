package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when CONFIG_PATH is not set.
const DefaultPath = "internal/config/config.yaml"

// DefaultSettlementTimeout caps a settlement call. The wallet stays locked
// while the call is in flight.
const DefaultSettlementTimeout = 5 * time.Second

// Config top-level struct
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit"`
	Log        LogConfig        `yaml:"log"`
	Settlement SettlementConfig `yaml:"settlement"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Outbox     OutboxConfig     `yaml:"outbox"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// SettlementConfig selects how withdrawals are settled.
// Mode "http" posts to URL; mode "stub" draws from StubOutcomes.
// Timeout is also the longest a withdrawal holds its wallet locked.
type SettlementConfig struct {
	Mode          string        `yaml:"mode"`
	URL           string        `yaml:"url"`
	Timeout       time.Duration `yaml:"timeout"`
	SuccessStatus int           `yaml:"success_status"`
	StubOutcomes  []StubOutcome `yaml:"stub_outcomes"`
}

type StubOutcome struct {
	Status int     `yaml:"status"`
	Data   string  `yaml:"data"`
	Weight float64 `yaml:"weight"`
}

type SchedulerConfig struct {
	DefaultWithdrawDelay time.Duration `yaml:"default_withdraw_delay"`
}

type OutboxConfig struct {
	Interval time.Duration `yaml:"interval"`
	Batch    int           `yaml:"batch"`
}

// Path returns CONFIG_PATH or DefaultPath.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads yaml file, then applies .env / environment overrides and defaults.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if u := os.Getenv("SETTLEMENT_URL"); u != "" {
		cfg.Settlement.URL = u
	}
	if m := os.Getenv("SETTLEMENT_MODE"); m != "" {
		cfg.Settlement.Mode = m
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 50
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "wallet.transactions"
	}
	if c.Settlement.Mode == "" {
		c.Settlement.Mode = "http"
	}
	if c.Settlement.URL == "" {
		c.Settlement.URL = "http://localhost:8010/"
	}
	if c.Settlement.Timeout == 0 {
		c.Settlement.Timeout = DefaultSettlementTimeout
	}
	if c.Settlement.SuccessStatus == 0 {
		c.Settlement.SuccessStatus = 200
	}
	if c.Scheduler.DefaultWithdrawDelay == 0 {
		c.Scheduler.DefaultWithdrawDelay = time.Minute
	}
	if c.Outbox.Interval == 0 {
		c.Outbox.Interval = time.Second
	}
	if c.Outbox.Batch == 0 {
		c.Outbox.Batch = 100
	}
}
