package config

import (
	"io/ioutil"
	"os"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Service   ServiceConfig   `yaml:"service"`
	Replay    ReplayConfig    `yaml:"replay"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
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

// ServiceConfig holds restaurant-level knobs. FeePercent is the service fee
// applied on the consumption subtotal at close-out; LockWaitMS bounds how
// long a command waits for a table lock.
type ServiceConfig struct {
	FeePercent float64 `yaml:"fee_percent"`
	LockWaitMS int     `yaml:"lock_wait_ms"`
	SeedTables int     `yaml:"seed_tables"`
}

// ReplayConfig bounds each channel's reconnect catch-up buffer.
type ReplayConfig struct {
	Capacity   int `yaml:"capacity"`
	TTLSeconds int `yaml:"ttl_seconds"`
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
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
	if cfg.Service.FeePercent == 0 {
		cfg.Service.FeePercent = 10
	}
	if cfg.Service.LockWaitMS == 0 {
		cfg.Service.LockWaitMS = 3000
	}
	if cfg.Replay.Capacity == 0 {
		cfg.Replay.Capacity = 256
	}
	if cfg.Replay.TTLSeconds == 0 {
		cfg.Replay.TTLSeconds = 600
	}
	return &cfg, nil
}
