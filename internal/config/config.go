package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  DatabaseConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	Outbox    OutboxConfig    `mapstructure:"outbox"`
	Webhooks  WebhooksConfig  `mapstructure:"webhooks"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// DedupTTL bounds how long a processed-event marker lives in Redis.
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

type AMQPConfig struct {
	URL             string        `mapstructure:"url"`
	Exchange        string        `mapstructure:"exchange"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	Prefetch        int           `mapstructure:"prefetch"`
	ReconnectDelay  time.Duration `mapstructure:"reconnect_delay"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type WebhooksConfig struct {
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	FailThreshold       int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs           int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
	HalfOpenMaxAttempts int `mapstructure:"half_open_max_attempts" yaml:"half_open_max_attempts"`
}

type RateLimitConfig struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (ORDERING_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (ORDERING_*)
	v.SetEnvPrefix("ORDERING")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
