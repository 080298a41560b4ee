package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppEnv      string
	LogLevel    string
	HTTPAddr    string
	MetricsAddr string

	DatabaseURL string
	DBMigrate   bool

	Kafka    KafkaConfig
	Outbox   OutboxConfig
	Redis    RedisConfig
	Telegram TelegramConfig
	Breaker  BreakerConfig
}

type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	Topic          string
	DLQTopic       string
	GroupID        string
	StartOffset    string
	WriteTimeout   time.Duration
	SendRetries    int
	SendRetryDelay time.Duration
}

type OutboxConfig struct {
	PollInterval      time.Duration
	MaxRetries        int
	BatchSize         int
	ProcessingTimeout time.Duration
}

// RedisConfig enables the cross-instance drain lock when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockKey  string
	LockTTL  time.Duration
}

type TelegramConfig struct {
	BotToken string
	APIURL   string
}

type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

var defaults = map[string]any{
	"APP_ENV":      "dev",
	"LOG_LEVEL":    "info",
	"HTTP_ADDR":    ":8080",
	"METRICS_ADDR": ":9090",
	"DB_MIGRATE":   false,

	"KAFKA_ENABLED":          true,
	"KAFKA_BROKERS":          "kafka:9092",
	"KAFKA_TOPIC":            "order_activated",
	"KAFKA_DLQ_TOPIC":        "order_activated_dlq",
	"KAFKA_GROUP_ID":         "ugc-bot",
	"KAFKA_START_OFFSET":     "first",
	"KAFKA_WRITE_TIMEOUT":    "5s",
	"KAFKA_SEND_RETRIES":     3,
	"KAFKA_SEND_RETRY_DELAY": "1s",

	"OUTBOX_POLL_INTERVAL":      "5s",
	"OUTBOX_MAX_RETRIES":        3,
	"OUTBOX_BATCH_SIZE":         100,
	"OUTBOX_PROCESSING_TIMEOUT": "2m",

	"REDIS_ADDR":      "",
	"REDIS_PASSWORD":  "",
	"REDIS_DB":        0,
	"OUTBOX_LOCK_KEY": "lock:outbox:drain",
	"OUTBOX_LOCK_TTL": "30s",

	"TELEGRAM_BOT_TOKEN": "",
	"TELEGRAM_API_URL":   "https://api.telegram.org",

	"BREAKER_FAILURES":     5,
	"BREAKER_OPEN_TIMEOUT": "30s",
}

// Load reads .env (never overriding the real environment), an optional
// config.yaml, and then the environment itself.
func Load() (Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ugc-offers")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		AppEnv:      v.GetString("APP_ENV"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		HTTPAddr:    v.GetString("HTTP_ADDR"),
		MetricsAddr: v.GetString("METRICS_ADDR"),
		DatabaseURL: v.GetString("DATABASE_URL"),
		DBMigrate:   v.GetBool("DB_MIGRATE"),
		Kafka: KafkaConfig{
			Enabled:        v.GetBool("KAFKA_ENABLED"),
			Brokers:        splitCSV(v.GetString("KAFKA_BROKERS")),
			Topic:          v.GetString("KAFKA_TOPIC"),
			DLQTopic:       v.GetString("KAFKA_DLQ_TOPIC"),
			GroupID:        v.GetString("KAFKA_GROUP_ID"),
			StartOffset:    v.GetString("KAFKA_START_OFFSET"),
			WriteTimeout:   v.GetDuration("KAFKA_WRITE_TIMEOUT"),
			SendRetries:    v.GetInt("KAFKA_SEND_RETRIES"),
			SendRetryDelay: v.GetDuration("KAFKA_SEND_RETRY_DELAY"),
		},
		Outbox: OutboxConfig{
			PollInterval:      v.GetDuration("OUTBOX_POLL_INTERVAL"),
			MaxRetries:        v.GetInt("OUTBOX_MAX_RETRIES"),
			BatchSize:         v.GetInt("OUTBOX_BATCH_SIZE"),
			ProcessingTimeout: v.GetDuration("OUTBOX_PROCESSING_TIMEOUT"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			LockKey:  v.GetString("OUTBOX_LOCK_KEY"),
			LockTTL:  v.GetDuration("OUTBOX_LOCK_TTL"),
		},
		Telegram: TelegramConfig{
			BotToken: v.GetString("TELEGRAM_BOT_TOKEN"),
			APIURL:   v.GetString("TELEGRAM_API_URL"),
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: v.GetUint32("BREAKER_FAILURES"),
			OpenTimeout:         v.GetDuration("BREAKER_OPEN_TIMEOUT"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Outbox.PollInterval <= 0 {
		return fmt.Errorf("OUTBOX_POLL_INTERVAL must be positive")
	}
	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
	}
	if c.Outbox.MaxRetries < 0 {
		return fmt.Errorf("OUTBOX_MAX_RETRIES must not be negative")
	}
	if c.Kafka.SendRetries < 1 {
		return fmt.Errorf("KAFKA_SEND_RETRIES must be at least 1")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is empty")
	}
	return nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
