// Package config loads and validates gateway configuration from the
// environment.
package config

import "time"

// Config is the umbrella configuration object for the gateway process.
// It is loaded once at startup by Load() and passed to constructors;
// nothing reads the environment after that.
type Config struct {
	Server ServerConfig
	Engine EngineConfig
	Store  StoreConfig
	Hub    HubConfig
}

// ServerConfig contains HTTP/WebSocket server settings.
type ServerConfig struct {
	// Port the HTTP server listens on.
	Port string

	// WSIdleTimeout closes a WebSocket connection that has not sent any
	// frame (including ping) for this long.
	WSIdleTimeout time.Duration

	// WSWriteTimeout bounds a single WebSocket write. A client that cannot
	// drain within this window is dropped.
	WSWriteTimeout time.Duration

	// LogLevel is the minimum slog level (debug, info, warn, error).
	LogLevel string
}

// EngineConfig contains the default options passed to the engine adapter
// for every turn. Per-turn fields (prompt, resume token) are supplied by
// the session.
type EngineConfig struct {
	// Bin is the engine CLI binary name or path.
	Bin string

	// Model is the default model alias.
	Model string

	// MaxTurns caps agentic tool-use rounds within one turn.
	MaxTurns int

	// CWD is the working directory the engine operates in.
	CWD string

	// PermissionMode is one of default, acceptEdits, bypassPermissions, plan.
	PermissionMode string

	// AllowedTools restricts the engine's tool set. Empty means the
	// engine default.
	AllowedTools []string

	// SystemPromptSuffix is appended to the engine's system prompt.
	SystemPromptSuffix string
}

// StoreConfig contains persistence settings.
type StoreConfig struct {
	// DBPath is the SQLite database file path. Parent directories are
	// created on open.
	DBPath string

	// RetentionDays enables the background retention sweep when positive:
	// inactive sessions idle longer than this are deleted. 0 disables it;
	// POST /db/cleanup remains available either way.
	RetentionDays int

	// CleanupInterval is how often the retention sweep runs.
	CleanupInterval time.Duration
}

// HubConfig contains session hub settings.
type HubConfig struct {
	// IdleGrace is how long a zero-subscriber idle session stays in
	// memory before reclamation.
	IdleGrace time.Duration

	// QueueCapacity bounds the per-session prompt queue. Enqueue on a
	// full queue fails with backpressure rather than blocking.
	QueueCapacity int
}

// DefaultConfig returns the built-in defaults, before environment overrides.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			WSIdleTimeout:  120 * time.Second,
			WSWriteTimeout: 10 * time.Second,
			LogLevel:       "info",
		},
		Engine: EngineConfig{
			Bin:            "claude",
			Model:          "sonnet",
			MaxTurns:       100,
			PermissionMode: "default",
		},
		Store: StoreConfig{
			DBPath:          "./data/ccsdk.db",
			CleanupInterval: 24 * time.Hour,
		},
		Hub: HubConfig{
			IdleGrace:     60 * time.Second,
			QueueCapacity: 4,
		},
	}
}
