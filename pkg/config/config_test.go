package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 120*time.Second, cfg.Server.WSIdleTimeout)
	assert.Equal(t, "sonnet", cfg.Engine.Model)
	assert.Equal(t, 100, cfg.Engine.MaxTurns)
	assert.Equal(t, "default", cfg.Engine.PermissionMode)
	assert.NotEmpty(t, cfg.Engine.CWD, "CWD should default to the process working directory")
	assert.Equal(t, "./data/ccsdk.db", cfg.Store.DBPath)
	assert.Equal(t, 60*time.Second, cfg.Hub.IdleGrace)
	assert.Equal(t, 4, cfg.Hub.QueueCapacity)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("MODEL", "opus")
	t.Setenv("MAX_TURNS", "5")
	t.Setenv("PERMISSION_MODE", "plan")
	t.Setenv("DB_PATH", "/tmp/test.db")
	t.Setenv("IDLE_GRACE_MS", "1500")
	t.Setenv("WS_IDLE_TIMEOUT_S", "30")
	t.Setenv("ALLOWED_TOOLS", "Read, Write ,Bash")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "opus", cfg.Engine.Model)
	assert.Equal(t, 5, cfg.Engine.MaxTurns)
	assert.Equal(t, "plan", cfg.Engine.PermissionMode)
	assert.Equal(t, "/tmp/test.db", cfg.Store.DBPath)
	assert.Equal(t, 1500*time.Millisecond, cfg.Hub.IdleGrace)
	assert.Equal(t, 30*time.Second, cfg.Server.WSIdleTimeout)
	assert.Equal(t, []string{"Read", "Write", "Bash"}, cfg.Engine.AllowedTools)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad permission mode", "PERMISSION_MODE", "yolo"},
		{"non-numeric max turns", "MAX_TURNS", "many"},
		{"non-numeric idle grace", "IDLE_GRACE_MS", "1m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestValidate_QueueCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.CWD = "/"
	cfg.Hub.QueueCapacity = 0
	require.Error(t, cfg.Validate())
}
