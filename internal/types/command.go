package types

import (
	"strings"
	"time"
)

// CommandKind is the closed set of actuation instructions the device understands.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandGrip
	CommandRelease
	CommandStepGrip
	CommandStepRelease
	CommandReset
)

func (k CommandKind) String() string {
	switch k {
	case CommandGrip:
		return "GRIP"
	case CommandRelease:
		return "RELEASE"
	case CommandStepGrip:
		return "STEP_GRIP"
	case CommandStepRelease:
		return "STEP_RELEASE"
	case CommandReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// ParseCommandKind maps the queue's type column to a CommandKind.
// Anything unrecognized is CommandUnknown.
func ParseCommandKind(s string) CommandKind {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GRIP":
		return CommandGrip
	case "RELEASE":
		return CommandRelease
	case "STEP_GRIP", "STEPGRIP":
		return CommandStepGrip
	case "STEP_RELEASE", "STEPRELEASE":
		return CommandStepRelease
	case "RESET":
		return CommandReset
	default:
		return CommandUnknown
	}
}

type CommandStatus string

const (
	CommandPending  CommandStatus = "pending"
	CommandExecuted CommandStatus = "executed"
)

// CommandOrigin tells the control loop whether a command has to be
// acknowledged on the remote queue.
type CommandOrigin string

const (
	OriginQueue CommandOrigin = "queue"
	OriginLocal CommandOrigin = "local"
)

type Command struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Kind      CommandKind   `json:"-"`
	Value     *float64      `json:"value,omitempty"`
	Status    CommandStatus `json:"status"`
	Origin    CommandOrigin `json:"origin"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewCommand builds a pending command and resolves its kind from rawType.
func NewCommand(id, rawType string, value *float64, origin CommandOrigin, createdAt time.Time) Command {
	return Command{
		ID:        id,
		Type:      rawType,
		Kind:      ParseCommandKind(rawType),
		Value:     value,
		Status:    CommandPending,
		Origin:    origin,
		CreatedAt: createdAt,
	}
}

// TargetPressure returns the requested grip pressure for Grip/StepGrip,
// or 0 when the command carries none.
func (c Command) TargetPressure() int {
	if c.Value == nil {
		return 0
	}
	if c.Kind != CommandGrip && c.Kind != CommandStepGrip {
		return 0
	}
	v := int(*c.Value)
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
