package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing-for-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, int64(65536), cfg.ReadLimit)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 0, cfg.Workers)
	assert.Equal(t, uint64(1_500_000), cfg.MaxIncomingBitrate)
	assert.Equal(t, "0.0.0.0", cfg.RTC.ListenIP)
	assert.Equal(t, uint16(40000), cfg.RTC.MinPort)
	assert.Equal(t, uint16(40100), cfg.RTC.MaxPort)
	assert.Equal(t, 10, cfg.JoinLimit)
	assert.Equal(t, 10*time.Second, cfg.JoinWindow)
	assert.Equal(t, "calls:events", cfg.Redis.Channel)
}
