package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Valid permission modes, mirroring the engine CLI's --permission-mode values.
var permissionModes = map[string]bool{
	"default":           true,
	"acceptEdits":       true,
	"bypassPermissions": true,
	"plan":              true,
}

// Load builds a Config from environment variables layered over the defaults,
// then validates it.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Server.LogLevel = getEnv("LOG_LEVEL", cfg.Server.LogLevel)
	if v, err := getEnvInt("WS_IDLE_TIMEOUT_S"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.Server.WSIdleTimeout = time.Duration(v) * time.Second
	}
	if v, err := getEnvInt("WS_WRITE_TIMEOUT_S"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.Server.WSWriteTimeout = time.Duration(v) * time.Second
	}

	cfg.Engine.Bin = getEnv("CLAUDE_BIN", cfg.Engine.Bin)
	cfg.Engine.Model = getEnv("MODEL", cfg.Engine.Model)
	cfg.Engine.PermissionMode = getEnv("PERMISSION_MODE", cfg.Engine.PermissionMode)
	cfg.Engine.SystemPromptSuffix = getEnv("SYSTEM_PROMPT_SUFFIX", cfg.Engine.SystemPromptSuffix)
	if v, err := getEnvInt("MAX_TURNS"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.Engine.MaxTurns = v
	}
	if v := os.Getenv("ALLOWED_TOOLS"); v != "" {
		for _, tool := range strings.Split(v, ",") {
			if tool = strings.TrimSpace(tool); tool != "" {
				cfg.Engine.AllowedTools = append(cfg.Engine.AllowedTools, tool)
			}
		}
	}
	if v := os.Getenv("CWD"); v != "" {
		cfg.Engine.CWD = v
	} else if cfg.Engine.CWD == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		cfg.Engine.CWD = wd
	}

	cfg.Store.DBPath = getEnv("DB_PATH", cfg.Store.DBPath)
	if v, err := getEnvInt("RETENTION_DAYS"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.Store.RetentionDays = v
	}
	if v, err := getEnvInt("CLEANUP_INTERVAL_H"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.Store.CleanupInterval = time.Duration(v) * time.Hour
	}

	if v, err := getEnvInt("IDLE_GRACE_MS"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.Hub.IdleGrace = time.Duration(v) * time.Millisecond
	}
	if v, err := getEnvInt("QUEUE_CAPACITY"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.Hub.QueueCapacity = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. Called by Load; exported so tests
// can validate hand-built configs.
func (c *Config) Validate() error {
	if !permissionModes[c.Engine.PermissionMode] {
		return fmt.Errorf("invalid PERMISSION_MODE %q: must be default, acceptEdits, bypassPermissions, or plan", c.Engine.PermissionMode)
	}
	if c.Engine.MaxTurns <= 0 {
		return fmt.Errorf("MAX_TURNS must be positive, got %d", c.Engine.MaxTurns)
	}
	if c.Hub.QueueCapacity < 1 {
		return fmt.Errorf("QUEUE_CAPACITY must be at least 1, got %d", c.Hub.QueueCapacity)
	}
	if c.Store.DBPath == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt reads an integer environment variable. Returns 0 when unset and
// an error when set but unparseable.
func getEnvInt(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}
