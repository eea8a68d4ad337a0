package control

import "encoding/json"

// Message types. Every request is answered with a reply of the same type.
const (
	TypeStatus   = "status"
	TypeUnhook   = "unhook"
	TypeLogLevel = "log_level"
	TypeHUD      = "hud"
	TypePing     = "ping"
)

// MaxMessageSize bounds one JSON message (1MB).
const MaxMessageSize = 1 << 20

// ProtocolVersion is reported in ping replies.
const ProtocolVersion = 1

// Envelope is the wire-format wrapper for all control messages.
type Envelope struct {
	ID      string          `json:"id"`
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	HMAC    string          `json:"hmac"`
}

// LogLevelRequest changes the runtime log level.
type LogLevelRequest struct {
	Level string `json:"level"`
}

// LogLevelReply reports the level before and after the change.
type LogLevelReply struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// HUDRequest shows or hides the diagnostics HUD.
type HUDRequest struct {
	Enabled bool `json:"enabled"`
}

// UnhookReply reports the coordinator state once the detach finished.
type UnhookReply struct {
	State string `json:"state"`
}

type PingReply struct {
	ProtocolVersion int `json:"protocolVersion"`
	PID             int `json:"pid"`
}
