package ws

import "github.com/NakiriYuuzu/ccsdk-gateway/pkg/hub"

// clientCommand is the JSON structure for client → server frames.
type clientCommand struct {
	Type            string `json:"type"`
	Content         string `json:"content,omitempty"`
	SessionID       string `json:"sessionId,omitempty"`
	NewConversation bool   `json:"newConversation,omitempty"`
}

// Inbound command types.
const (
	cmdChat        = "chat"
	cmdSubscribe   = "subscribe"
	cmdUnsubscribe = "unsubscribe"
	cmdCancel      = "cancel"
	cmdSystemInfo  = "system_info"
	cmdPing        = "ping"
)

// systemInfoFrame answers a system_info command with the in-memory session
// list and the live client count.
type systemInfoFrame struct {
	Type string         `json:"type"`
	Data systemInfoData `json:"data"`
}

type systemInfoData struct {
	Sessions    []hub.SessionInfo `json:"sessions"`
	ClientCount int               `json:"clientCount"`
}
