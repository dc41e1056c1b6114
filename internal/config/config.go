package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stakemint/sagad/pkg/api"
)

type (
	// Config holds configuration settings for a dispatch process and
	// its collaborators
	Config struct {
		// API server
		APIHost  string
		APIPort  int
		LogLevel string

		// Relational store
		DatabaseDSN string

		// Nonce cache / locks
		Redis RedisConfig

		// Broker
		SubscriptionURL string
		TopicURL        string

		// Dispatch
		Process      string
		Prefetch     int
		TaskTimeout  time.Duration
		DrainPoll    time.Duration
		ZombieCheck  time.Duration
		HeartbeatSec int

		// Nonce allocator
		NonceLockTTL time.Duration
		NoncePoll    time.Duration
		NonceTimeout time.Duration

		// Per-chain RPC endpoints, e.g. "eth=http://...;base=http://..."
		ChainRPC map[api.Chain]string

		ShutdownTimeout time.Duration
	}

	// RedisConfig describes the key-value store connection
	RedisConfig struct {
		Addr     string
		Password string
		DB       int
	}
)

const (
	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535

	DefaultDatabaseDSN = "sagad:sagad@tcp(localhost:3306)/sagad" +
		"?parseTime=true"
	DefaultRedisAddr      = "localhost:6379"
	DefaultSubscription   = "mem://steps"
	DefaultTopic          = "mem://steps"
	DefaultProcess        = "dispatch"
	DefaultPrefetch       = 16
	DefaultTaskTimeout    = 60 * time.Second
	DefaultDrainPoll      = 250 * time.Millisecond
	DefaultZombieCheck    = 5 * time.Second
	DefaultHeartbeatSec   = 300
	DefaultNonceLockTTL   = 10 * time.Second
	DefaultNoncePoll      = 100 * time.Millisecond
	DefaultNonceTimeout   = 15 * time.Second
	DefaultShutdownWindow = 30 * time.Second

	MaxPrefetch    = 1024
	MaxTaskTimeout = int64(time.Hour)
)

var (
	ErrInvalidAPIPort     = errors.New("invalid API port")
	ErrInvalidPrefetch    = errors.New("prefetch must be positive")
	ErrInvalidTaskTimeout = errors.New("task timeout must be positive")
	ErrEmptyDatabaseDSN   = errors.New("database DSN empty")
	ErrEmptySubscription  = errors.New("subscription URL empty")
	ErrEmptyTopic         = errors.New("topic URL empty")
	ErrInvalidChainRPC    = errors.New("invalid chain RPC entry")
)

// NewDefaultConfig creates a configuration with sensible defaults for
// local development
func NewDefaultConfig() *Config {
	return &Config{
		APIHost:         DefaultAPIHost,
		APIPort:         DefaultAPIPort,
		LogLevel:        "info",
		DatabaseDSN:     DefaultDatabaseDSN,
		Redis:           RedisConfig{Addr: DefaultRedisAddr},
		SubscriptionURL: DefaultSubscription,
		TopicURL:        DefaultTopic,
		Process:         DefaultProcess,
		Prefetch:        DefaultPrefetch,
		TaskTimeout:     DefaultTaskTimeout,
		DrainPoll:       DefaultDrainPoll,
		ZombieCheck:     DefaultZombieCheck,
		HeartbeatSec:    DefaultHeartbeatSec,
		NonceLockTTL:    DefaultNonceLockTTL,
		NoncePoll:       DefaultNoncePoll,
		NonceTimeout:    DefaultNonceTimeout,
		ChainRPC:        map[api.Chain]string{},
		ShutdownTimeout: DefaultShutdownWindow,
	}
}

// LoadFromEnv populates configuration values from environment
// variables. Returns an error if any value cannot be parsed
func (c *Config) LoadFromEnv() error {
	if host := os.Getenv("API_HOST"); host != "" {
		c.APIHost = host
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		c.DatabaseDSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
	if sub := os.Getenv("BROKER_SUBSCRIPTION_URL"); sub != "" {
		c.SubscriptionURL = sub
	}
	if topic := os.Getenv("BROKER_TOPIC_URL"); topic != "" {
		c.TopicURL = topic
	}
	if process := os.Getenv("PROCESS_NAME"); process != "" {
		c.Process = process
	}
	if rpc := os.Getenv("CHAIN_RPC_ENDPOINTS"); rpc != "" {
		endpoints, err := parseChainRPC(rpc)
		if err != nil {
			return err
		}
		c.ChainRPC = endpoints
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt("REDIS_DB", &c.Redis.DB, -1, 15); err != nil {
		return err
	}
	if err := loadEnvInt("PREFETCH", &c.Prefetch, 0, MaxPrefetch); err != nil {
		return err
	}
	if err := loadEnvInt(
		"HEARTBEAT_INTERVAL_SEC", &c.HeartbeatSec, 0, 24*60*60,
	); err != nil {
		return err
	}

	if err := loadEnvDuration("TASK_TIMEOUT_MS", &c.TaskTimeout); err != nil {
		return err
	}
	if err := loadEnvDuration("NONCE_LOCK_TTL_MS", &c.NonceLockTTL); err != nil {
		return err
	}
	if err := loadEnvDuration("NONCE_POLL_MS", &c.NoncePoll); err != nil {
		return err
	}
	if err := loadEnvDuration("NONCE_TIMEOUT_MS", &c.NonceTimeout); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"SHUTDOWN_TIMEOUT_MS", &c.ShutdownTimeout,
	); err != nil {
		return err
	}

	return nil
}

// Validate checks that all configuration values are usable
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}
	if c.DatabaseDSN == "" {
		return ErrEmptyDatabaseDSN
	}
	if c.SubscriptionURL == "" {
		return ErrEmptySubscription
	}
	if c.TopicURL == "" {
		return ErrEmptyTopic
	}
	if c.Prefetch <= 0 {
		return ErrInvalidPrefetch
	}
	if c.TaskTimeout <= 0 {
		return ErrInvalidTaskTimeout
	}
	return nil
}

// parseChainRPC parses "chain=url" pairs separated by semicolons
func parseChainRPC(raw string) (map[api.Chain]string, error) {
	res := map[api.Chain]string{}
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, url, ok := strings.Cut(entry, "=")
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidChainRPC, entry)
		}
		res[api.Chain(name)] = url
	}
	return res, nil
}

// loadEnvInt reads key from the environment, parses it as an integer,
// and sets *dst if the value is in the range (min, max)
func loadEnvInt[T ~int](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}

// loadEnvDuration reads key as a millisecond count
func loadEnvDuration(key string, dst *time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}
