package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

type Config struct {
	Server   ServerConfig
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Order    OrderConfig
}

type ServerConfig struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	GRPCAddr        string        `envconfig:"GRPC_ADDR" default:":50051"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

type AppConfig struct {
	Environment string `envconfig:"APP_ENV" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

type DatabaseConfig struct {
	Driver          string        `envconfig:"DB_DRIVER" default:"mysql"` // mysql or sqlite
	MySQLDSN        string        `envconfig:"MYSQL_DSN" default:"root:root@tcp(localhost:3306)/ticketrush?parseTime=true"`
	SQLitePath      string        `envconfig:"SQLITE_PATH" default:"./data/ticketrush.db"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"50"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"25"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
	AutoMigrate     bool          `envconfig:"DB_AUTO_MIGRATE" default:"false"`
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
	PoolSize int    `envconfig:"REDIS_POOL_SIZE" default:"100"`
}

type QueueConfig struct {
	Driver       string   `envconfig:"QUEUE_DRIVER" default:"redis"` // redis, kafka or memory
	Name         string   `envconfig:"QUEUE_NAME" default:"ticket_orders"`
	DLQ          string   `envconfig:"QUEUE_DLQ" default:"ticket_orders_dlq"`
	Group        string   `envconfig:"QUEUE_GROUP" default:"order_workers"`
	Buffer       int      `envconfig:"QUEUE_BUFFER" default:"10000"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
}

type OrderConfig struct {
	MinQuantity        int           `envconfig:"ORDER_MIN_QUANTITY" default:"1"`
	MaxQuantity        int           `envconfig:"ORDER_MAX_QUANTITY" default:"10"`
	Workers            int           `envconfig:"ORDER_WORKERS" default:"10"`
	LockTTL            time.Duration `envconfig:"ORDER_LOCK_TTL" default:"10s"`
	MaxLockRetries     int           `envconfig:"ORDER_MAX_LOCK_RETRIES" default:"3"`
	RetryTTL           time.Duration `envconfig:"ORDER_RETRY_TTL" default:"1h"`
	TxTimeout          time.Duration `envconfig:"ORDER_TX_TIMEOUT" default:"5s"`
	RestockOnDepletion bool          `envconfig:"ORDER_RESTOCK_ON_DEPLETION" default:"false"`
	IdempotencyTTL     time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	ClaimTTL           time.Duration `envconfig:"IDEMPOTENCY_CLAIM_TTL" default:"30s"`
}

func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "mysql", "sqlite":
	default:
		return errors.Errorf("unknown DB_DRIVER %q", c.Database.Driver)
	}

	switch strings.ToLower(c.Queue.Driver) {
	case "redis", "kafka", "memory":
	default:
		return errors.Errorf("unknown QUEUE_DRIVER %q", c.Queue.Driver)
	}

	o := c.Order
	if o.MinQuantity < 1 || o.MinQuantity > o.MaxQuantity {
		return errors.Errorf("invalid quantity bounds [%d, %d]", o.MinQuantity, o.MaxQuantity)
	}
	if o.MaxLockRetries < 1 {
		return errors.New("ORDER_MAX_LOCK_RETRIES must be at least 1")
	}
	if o.Workers < 1 {
		return errors.New("ORDER_WORKERS must be at least 1")
	}
	// The item lock must outlive the longest transaction it guards.
	if o.LockTTL <= o.TxTimeout {
		return errors.Errorf("ORDER_LOCK_TTL (%s) must exceed ORDER_TX_TIMEOUT (%s)", o.LockTTL, o.TxTimeout)
	}
	if o.ClaimTTL <= 0 || o.IdempotencyTTL <= 0 {
		return errors.New("idempotency TTLs must be positive")
	}

	return nil
}
