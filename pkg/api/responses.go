package api

import (
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/database"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/hub"
	"github.com/NakiriYuuzu/ccsdk-gateway/pkg/store"
)

// LiveSessionsResponse lists in-memory session snapshots.
type LiveSessionsResponse struct {
	Sessions []hub.SessionInfo `json:"sessions"`
	Count    int               `json:"count"`
}

// SessionsResponse lists persisted sessions.
type SessionsResponse struct {
	Sessions []*store.Session `json:"sessions"`
	Count    int              `json:"count"`
}

// MessagesResponse lists persisted messages for one session.
type MessagesResponse struct {
	Messages []*store.Message `json:"messages"`
	Count    int              `json:"count"`
}

// DeleteResponse acknowledges a session deletion.
type DeleteResponse struct {
	Success bool `json:"success"`
}

// CleanupResponse reports how many sessions a cleanup removed.
type CleanupResponse struct {
	Deleted int64 `json:"deleted"`
}

// BackupResponse reports where the snapshot was written.
type BackupResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status         string                `json:"status"`
	ActiveSessions int                   `json:"activeSessions"`
	Timestamp      int64                 `json:"timestamp"`
	Database       database.HealthStatus `json:"database"`
}

// ConfigResponse exposes the effective default engine options.
type ConfigResponse struct {
	Model              string   `json:"model"`
	MaxTurns           int      `json:"maxTurns"`
	CWD                string   `json:"cwd"`
	PermissionMode     string   `json:"permissionMode"`
	AllowedTools       []string `json:"allowedTools,omitempty"`
	SystemPromptSuffix string   `json:"systemPromptSuffix,omitempty"`
}

// QueryResponse is the one-shot prompt result.
type QueryResponse struct {
	Success  bool     `json:"success"`
	Result   string   `json:"result,omitempty"`
	Cost     *float64 `json:"cost,omitempty"`
	Duration *int64   `json:"duration,omitempty"`
	Error    string   `json:"error,omitempty"`
}
