package hub

import "encoding/json"

// Outbound WebSocket frame types. All frames are JSON text; Type
// discriminates on the wire.
const (
	FrameConnected        = "connected"
	FrameSessionInfo      = "session_info"
	FrameSubscribed       = "subscribed"
	FrameUnsubscribed     = "unsubscribed"
	FrameAssistantMessage = "assistant_message"
	FrameToolUse          = "tool_use"
	FrameToolResult       = "tool_result"
	FrameSystem           = "system"
	FrameResult           = "result"
	FrameCancelling       = "cancelling"
	FrameCancelled        = "cancelled"
	FrameError            = "error"
	FramePong             = "pong"
)

// SessionInfo is the snapshot shape shared by the connected frame, the
// session_info frame, and the REST session list. Timestamps are epoch ms.
type SessionInfo struct {
	ID           string `json:"id"`
	MessageCount int    `json:"messageCount"`
	IsActive     bool   `json:"isActive"`
	CreatedAt    int64  `json:"createdAt"`
	LastActivity int64  `json:"lastActivity"`
}

// ConnectedFrame greets a client on attach with the in-memory session list.
type ConnectedFrame struct {
	Type              string        `json:"type"`
	Message           string        `json:"message"`
	AvailableSessions []SessionInfo `json:"availableSessions"`
}

// SessionInfoFrame delivers a session snapshot on subscribe.
type SessionInfoFrame struct {
	Type string      `json:"type"`
	Data SessionInfo `json:"data"`
}

// AckFrame confirms a subscribe or unsubscribe.
type AckFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// AssistantMessageFrame carries one assistant text segment.
type AssistantMessageFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	SessionID string `json:"sessionId"`
}

// ToolUseFrame announces a tool invocation.
type ToolUseFrame struct {
	Type      string          `json:"type"`
	ToolName  string          `json:"toolName"`
	ToolID    string          `json:"toolId"`
	ToolInput json.RawMessage `json:"toolInput,omitempty"`
	SessionID string          `json:"sessionId"`
}

// ToolResultFrame carries a tool's output.
type ToolResultFrame struct {
	Type      string `json:"type"`
	ToolUseID string `json:"toolUseId"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"isError"`
	SessionID string `json:"sessionId"`
}

// SystemFrame carries engine system events (init and others).
type SystemFrame struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"sessionId"`
	Data      any    `json:"data,omitempty"`
}

// SystemInitData is the Data payload of a system{init} frame.
type SystemInitData struct {
	Model          string   `json:"model,omitempty"`
	CWD            string   `json:"cwd,omitempty"`
	Tools          []string `json:"tools,omitempty"`
	MCPServers     []string `json:"mcpServers,omitempty"`
	PermissionMode string   `json:"permissionMode,omitempty"`
}

// ResultFrame terminates a turn.
type ResultFrame struct {
	Type      string   `json:"type"`
	Success   bool     `json:"success"`
	Result    string   `json:"result,omitempty"`
	Cost      *float64 `json:"cost,omitempty"`
	Duration  *int64   `json:"duration,omitempty"`
	Error     string   `json:"error,omitempty"`
	SessionID string   `json:"sessionId"`
}

// CancelFrame is either a cancelling or cancelled notification.
type CancelFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// ErrorFrame reports a failure to a client.
type ErrorFrame struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	SessionID string `json:"sessionId,omitempty"`
}

// PongFrame answers a ping.
type PongFrame struct {
	Type string `json:"type"`
}
