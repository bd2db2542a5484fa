package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestConfig_Validate(t *testing.T) {
	cfg := Config{Env: EnvDevelopment, Queue: QueueConfig{MaxAttempts: 5}}
	require.NoError(t, cfg.validate())

	cfg.Env = "staging"
	require.Error(t, cfg.validate())

	cfg = Config{Env: EnvProduction, Queue: QueueConfig{MaxAttempts: 0}}
	require.Error(t, cfg.validate())
}

func TestConfig_Secret(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	lg := zap.New(core)

	prod := Config{Env: EnvProduction}
	_, err := prod.secret(lg, "download", "")
	require.Error(t, err)

	s, err := prod.secret(lg, "download", "configured")
	require.NoError(t, err)
	assert.Equal(t, []byte("configured"), s)
	assert.Zero(t, logs.Len())

	dev := Config{Env: EnvDevelopment}
	a, err := dev.secret(lg, "download", "")
	require.NoError(t, err)
	b, err := dev.secret(lg, "download", "")
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, logs.FilterField(zap.String("secret", "download")).Len())
}

func TestConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform")
	t.Setenv("PORT", "3000")

	cfg := Config{Addr: "0.0.0.0:8080"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:3000", cfg.Addr)

	cfg = Config{Addr: "127.0.0.1:9000", DatabaseURL: "postgres://explicit"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
}

func TestQueueConfig_Topology(t *testing.T) {
	topo := QueueConfig{
		Name:           "delivery",
		MaxAttempts:    4,
		InitialBackoff: time.Second,
		MaxBackoff:     3 * time.Second,
	}.Topology()

	assert.Equal(t, "delivery", topo.Name)
	assert.Equal(t, "delivery.failed", topo.FailedQueue())
	assert.Equal(t, time.Second, topo.Policy.Backoff(1))
	assert.Equal(t, 2*time.Second, topo.Policy.Backoff(2))
	assert.Equal(t, 3*time.Second, topo.Policy.Backoff(3))
	assert.True(t, topo.Policy.Exhausted(4))
}
