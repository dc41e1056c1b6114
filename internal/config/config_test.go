package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakemint/sagad/internal/config"
	"github.com/stakemint/sagad/pkg/api"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.NewDefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, config.DefaultAPIPort, cfg.APIPort)
	assert.Equal(t, config.DefaultPrefetch, cfg.Prefetch)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("API_PORT", "9090")
	t.Setenv("DATABASE_DSN", "user:pass@tcp(db:3306)/saga?parseTime=true")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("BROKER_SUBSCRIPTION_URL", "rabbit://steps")
	t.Setenv("BROKER_TOPIC_URL", "rabbit://steps")
	t.Setenv("PROCESS_NAME", "dispatch-7")
	t.Setenv("PREFETCH", "32")
	t.Setenv("TASK_TIMEOUT_MS", "30000")
	t.Setenv("NONCE_TIMEOUT_MS", "5000")
	t.Setenv("CHAIN_RPC_ENDPOINTS",
		"eth=http://eth-node:8545;base=http://base-node:8545")

	cfg := config.NewDefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9090, cfg.APIPort)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "rabbit://steps", cfg.SubscriptionURL)
	assert.Equal(t, "dispatch-7", cfg.Process)
	assert.Equal(t, 32, cfg.Prefetch)
	assert.Equal(t, 30*time.Second, cfg.TaskTimeout)
	assert.Equal(t, 5*time.Second, cfg.NonceTimeout)
	assert.Equal(t, map[api.Chain]string{
		"eth":  "http://eth-node:8545",
		"base": "http://base-node:8545",
	}, cfg.ChainRPC)
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"API_PORT":        "not-a-number",
		"PREFETCH":        "0",
		"TASK_TIMEOUT_MS": "-5",
		"REDIS_DB":        "99",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			cfg := config.NewDefaultConfig()
			assert.Error(t, cfg.LoadFromEnv())
		})
	}
}

func TestLoadFromEnvRejectsBadChainRPC(t *testing.T) {
	t.Setenv("CHAIN_RPC_ENDPOINTS", "eth;base=http://base:8545")

	cfg := config.NewDefaultConfig()
	assert.ErrorIs(t, cfg.LoadFromEnv(), config.ErrInvalidChainRPC)
}

func TestValidate(t *testing.T) {
	broken := func(mutate func(*config.Config)) error {
		cfg := config.NewDefaultConfig()
		mutate(cfg)
		return cfg.Validate()
	}

	assert.ErrorIs(t,
		broken(func(c *config.Config) { c.APIPort = 0 }),
		config.ErrInvalidAPIPort)
	assert.ErrorIs(t,
		broken(func(c *config.Config) { c.DatabaseDSN = "" }),
		config.ErrEmptyDatabaseDSN)
	assert.ErrorIs(t,
		broken(func(c *config.Config) { c.SubscriptionURL = "" }),
		config.ErrEmptySubscription)
	assert.ErrorIs(t,
		broken(func(c *config.Config) { c.TopicURL = "" }),
		config.ErrEmptyTopic)
	assert.ErrorIs(t,
		broken(func(c *config.Config) { c.Prefetch = -1 }),
		config.ErrInvalidPrefetch)
	assert.ErrorIs(t,
		broken(func(c *config.Config) { c.TaskTimeout = 0 }),
		config.ErrInvalidTaskTimeout)
}
