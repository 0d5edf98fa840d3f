package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "cercle-core", cfg.ServiceName)
	assert.Equal(t, 4000, cfg.MaxMessageRunes)
	assert.NotEmpty(t, cfg.NatsUrl)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("NATS_URL", "nats://broker:4222")
	t.Setenv("MAX_MESSAGE_RUNES", "500")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "nats://broker:4222", cfg.NatsUrl)
	assert.Equal(t, 500, cfg.MaxMessageRunes)
}

func TestLoad_RejectsInvalidLimit(t *testing.T) {
	t.Setenv("MAX_MESSAGE_RUNES", "-1")

	_, err := Load()
	assert.Error(t, err)
}
