// Package config builds typed configuration from environment variables so
// main stays lean. Every knob has a default that works for local development.
package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	Environment     string
	ShutdownTimeout time.Duration

	Queue      Queue
	Transport  Transport
	Privacy    Privacy
	Redis      Redis
	Postgres   Postgres
	ClickHouse ClickHouse
	Kafka      Kafka
	Retention  Retention
	Rollup     Rollup
}

// Queue configures the client-side event buffer.
type Queue struct {
	MaxSize        int
	FlushInterval  time.Duration
	FlushBatchSize int
	RetryAttempts  int
	RetryDelay     time.Duration
	MaxRetryDelay  time.Duration
	OfflineStorage bool
}

// Transport configures the batch sender.
type Transport struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Privacy configures consent defaults and anonymization behavior.
type Privacy struct {
	ConsentRequired   bool
	DefaultConsent    []string
	AnonymizeIP       bool
	RespectDoNotTrack bool
	RetentionDays     int
}

// Redis configures the realtime counter backend. Empty URL disables it.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Postgres configures the relational event/aggregate stores. Empty URL disables it.
type Postgres struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ClickHouse configures the columnar event store. Empty Addr disables it.
type ClickHouse struct {
	Addr     string
	Database string
	Username string
	Password string
}

// Kafka configures the accepted-event fan-out producer. Empty Brokers disables it.
type Kafka struct {
	Brokers         string
	Topic           string
	DeliveryTimeout time.Duration
}

// Retention configures the expired-event cleanup worker.
type Retention struct {
	Interval time.Duration
	Horizon  time.Duration
}

// Rollup configures the periodic aggregate recompute worker.
type Rollup struct {
	Interval time.Duration
	Lookback time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	return Server{
		Addr:            envStr("PULSE_ADDR", ":8080"),
		Environment:     envStr("PULSE_ENV", "development"),
		ShutdownTimeout: envDur("PULSE_SHUTDOWN_TIMEOUT", 10*time.Second),
		Queue: Queue{
			MaxSize:        envInt("PULSE_QUEUE_MAX_SIZE", 1000),
			FlushInterval:  envDur("PULSE_QUEUE_FLUSH_INTERVAL", 30*time.Second),
			FlushBatchSize: envInt("PULSE_QUEUE_FLUSH_BATCH_SIZE", 50),
			RetryAttempts:  envInt("PULSE_QUEUE_RETRY_ATTEMPTS", 3),
			RetryDelay:     envDur("PULSE_QUEUE_RETRY_DELAY", time.Second),
			MaxRetryDelay:  envDur("PULSE_QUEUE_MAX_RETRY_DELAY", 30*time.Second),
			OfflineStorage: envBool("PULSE_QUEUE_OFFLINE_STORAGE", true),
		},
		Transport: Transport{
			Endpoint: envStr("PULSE_ENDPOINT", ""),
			APIKey:   envStr("PULSE_API_KEY", ""),
			Timeout:  envDur("PULSE_TRANSPORT_TIMEOUT", 10*time.Second),
		},
		Privacy: Privacy{
			ConsentRequired:   envBool("PULSE_CONSENT_REQUIRED", true),
			DefaultConsent:    []string{"necessary"},
			AnonymizeIP:       envBool("PULSE_ANONYMIZE_IP", true),
			RespectDoNotTrack: envBool("PULSE_RESPECT_DNT", true),
			RetentionDays:     envInt("PULSE_RETENTION_DAYS", 90),
		},
		Redis: Redis{
			URL:          envStr("PULSE_REDIS_URL", ""),
			PoolSize:     envInt("PULSE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("PULSE_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDur("PULSE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDur("PULSE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDur("PULSE_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: Postgres{
			URL:             envStr("PULSE_POSTGRES_URL", ""),
			MaxOpenConns:    envInt("PULSE_POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("PULSE_POSTGRES_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDur("PULSE_POSTGRES_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		ClickHouse: ClickHouse{
			Addr:     envStr("PULSE_CLICKHOUSE_ADDR", ""),
			Database: envStr("PULSE_CLICKHOUSE_DB", "pulse"),
			Username: envStr("PULSE_CLICKHOUSE_USER", "default"),
			Password: envStr("PULSE_CLICKHOUSE_PASSWORD", ""),
		},
		Kafka: Kafka{
			Brokers:         envStr("PULSE_KAFKA_BROKERS", ""),
			Topic:           envStr("PULSE_KAFKA_TOPIC", "pulse.events.accepted"),
			DeliveryTimeout: envDur("PULSE_KAFKA_DELIVERY_TIMEOUT", 30*time.Second),
		},
		Retention: Retention{
			Interval: envDur("PULSE_RETENTION_INTERVAL", time.Hour),
			Horizon:  envDur("PULSE_RETENTION_HORIZON", 90*24*time.Hour),
		},
		Rollup: Rollup{
			Interval: envDur("PULSE_ROLLUP_INTERVAL", 15*time.Minute),
			Lookback: envDur("PULSE_ROLLUP_LOOKBACK", 24*time.Hour),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
