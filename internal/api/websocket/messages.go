package websocket

import (
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/types"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeTelemetry       MessageType = "telemetry"
	MessageTypeActuatorState   MessageType = "actuator_state"
	MessageTypeLinkState       MessageType = "link_state"
	MessageTypeCommandExecuted MessageType = "command_executed"
	MessageTypeSystemStatus    MessageType = "system_status"

	MessageTypeAuthSuccess MessageType = "auth_success"
	MessageTypeAuthFailed  MessageType = "auth_failed"
	MessageTypePong        MessageType = "pong"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

type StateChangeData struct {
	State    string `json:"state"`
	Previous string `json:"previous_state"`
}

type CommandData struct {
	CommandID string  `json:"command_id"`
	Type      string  `json:"type"`
	Origin    string  `json:"origin"`
	Outcome   string  `json:"outcome"`
	Pressure  int     `json:"pressure"`
	Duration  float64 `json:"duration_ms"`
	Error     string  `json:"error,omitempty"`
}

type AuthData struct {
	Permissions interface{} `json:"permissions,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewTelemetryMessage(sample types.TelemetrySample) Message {
	return NewMessage(MessageTypeTelemetry, sample)
}

func NewStateMessage(msgType MessageType, state, previous string) Message {
	return NewMessage(msgType, StateChangeData{State: state, Previous: previous})
}
