package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Database  DatabaseConfig
	Rabbit    RabbitConfig
	Redis     RedisConfig
	HTTP      HTTPConfig
	Ledger    LedgerConfig
	Sync      SyncConfig
	Processor ProcessorConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RabbitConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	VHost         string
	Exchange      string
	IntentQueue   string
	Prefetch      int
	Workers       int
	PublishEvents bool
	ConsumeIntake bool
}

// URL is the AMQP connection string.
func (r RabbitConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", r.User, r.Password, r.Host, r.Port, r.VHost)
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

type HTTPConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LedgerConfig carries the system account ids and the commission rule used
// until an admin publishes one.
type LedgerConfig struct {
	PlatformAccount string
	EscrowAccount   string
	OpTimeout       time.Duration

	DirectCommissionRate decimal.Decimal
	NetworkOverrideRate  decimal.Decimal
	OverrideDepth        int
	TaskFeeRate          decimal.Decimal
	CampaignRefundFee    decimal.Decimal
	CashOutFeeRate       decimal.Decimal
	CashOutRefundFee     decimal.Decimal
}

type SyncConfig struct {
	Interval  time.Duration
	BatchSize int
}

type ProcessorConfig struct {
	MaxRetries int
	Timeout    time.Duration
}

func Load() *Config {
	// .env is optional; real deployments pass the environment directly.
	_ = godotenv.Load()

	return &Config{
		Database: DatabaseConfig{
			Host:         getenv("DB_HOST", "localhost"),
			Port:         intFromEnv("DB_PORT", 5432),
			User:         getenv("DB_USER", "postgres"),
			Password:     getenv("DB_PASSWORD", "postgres"),
			DBName:       getenv("DB_NAME", "ledger_db"),
			SSLMode:      getenv("DB_SSLMODE", "disable"),
			MaxOpenConns: intFromEnv("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns: intFromEnv("DB_MAX_IDLE_CONNS", 25),
		},
		Rabbit: RabbitConfig{
			Host:          getenv("RABBITMQ_HOST", "localhost"),
			Port:          intFromEnv("RABBITMQ_PORT", 5672),
			User:          getenv("RABBITMQ_USER", "guest"),
			Password:      getenv("RABBITMQ_PASSWORD", "guest"),
			VHost:         getenv("RABBITMQ_VHOST", "/"),
			Exchange:      getenv("RABBITMQ_EXCHANGE", "ledger.events"),
			IntentQueue:   getenv("RABBITMQ_INTENT_QUEUE", "ledger_intents"),
			Prefetch:      intFromEnv("RABBITMQ_PREFETCH", 50),
			Workers:       clamp(intFromEnv("RABBITMQ_WORKERS", 5), 1, 32),
			PublishEvents: boolFromEnv("RABBITMQ_PUBLISH_EVENTS", true),
			ConsumeIntake: boolFromEnv("RABBITMQ_CONSUME_INTENTS", true),
		},
		Redis: RedisConfig{
			Enabled:  boolFromEnv("REDIS_ENABLED", false),
			Host:     getenv("REDIS_HOST", "localhost"),
			Port:     intFromEnv("REDIS_PORT", 6379),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       intFromEnv("REDIS_DB", 0),
			TTL:      time.Duration(intFromEnv("REDIS_BALANCE_TTL_SECONDS", 300)) * time.Second,
		},
		HTTP: HTTPConfig{
			Port:         getenv("HTTP_PORT", "8080"),
			ReadTimeout:  time.Duration(intFromEnv("HTTP_READ_TIMEOUT_SECONDS", 10)) * time.Second,
			WriteTimeout: time.Duration(intFromEnv("HTTP_WRITE_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Ledger: LedgerConfig{
			PlatformAccount:      getenv("LEDGER_PLATFORM_ACCOUNT", "platform"),
			EscrowAccount:        getenv("LEDGER_ESCROW_ACCOUNT", "escrow"),
			OpTimeout:            time.Duration(intFromEnv("LEDGER_OP_TIMEOUT_SECONDS", 10)) * time.Second,
			DirectCommissionRate: decimalFromEnv("LEDGER_DIRECT_COMMISSION_RATE", "0.50"),
			NetworkOverrideRate:  decimalFromEnv("LEDGER_NETWORK_OVERRIDE_RATE", "0.10"),
			OverrideDepth:        clamp(intFromEnv("LEDGER_OVERRIDE_DEPTH", 2), 1, 2),
			TaskFeeRate:          decimalFromEnv("LEDGER_TASK_FEE_RATE", "0.10"),
			CampaignRefundFee:    decimalFromEnv("LEDGER_CAMPAIGN_REFUND_FEE_RATE", "0.10"),
			CashOutFeeRate:       decimalFromEnv("LEDGER_CASH_OUT_FEE_RATE", "0"),
			CashOutRefundFee:     decimalFromEnv("LEDGER_CASH_OUT_REFUND_FEE_RATE", "0"),
		},
		Sync: SyncConfig{
			Interval:  time.Duration(intFromEnv("SYNC_INTERVAL_SECONDS", 30)) * time.Second,
			BatchSize: intFromEnv("SYNC_BATCH_SIZE", 500),
		},
		Processor: ProcessorConfig{
			MaxRetries: intFromEnv("PROCESSOR_MAX_RETRIES", 3),
			Timeout:    time.Duration(intFromEnv("PROCESSOR_TIMEOUT_SECONDS", 15)) * time.Second,
		},
	}
}

func getenv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return def
}

func intFromEnv(key string, def int) int {
	val := getenv(key, "")
	if val == "" {
		return def
	}

	if parsed, err := strconv.Atoi(val); err == nil {
		return parsed
	}

	return def
}

func boolFromEnv(key string, def bool) bool {
	val := getenv(key, "")
	if val == "" {
		return def
	}

	if parsed, err := strconv.ParseBool(val); err == nil {
		return parsed
	}

	return def
}

func decimalFromEnv(key, def string) decimal.Decimal {
	if parsed, err := decimal.NewFromString(getenv(key, def)); err == nil {
		return parsed
	}

	return decimal.RequireFromString(def)
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
