package storage

import (
	"errors"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/types"
)

var (
	ErrNoPendingCommand = errors.New("no pending command")
	// ErrCommandNotFound means the command is gone or no longer pending.
	ErrCommandNotFound = errors.New("command not found or not pending")
)

// commandItem is the DynamoDB shape of a queued command. created_at is Unix
// milliseconds so the status index sorts numerically.
type commandItem struct {
	ID         string   `dynamodbav:"id"`
	Type       string   `dynamodbav:"type"`
	Value      *float64 `dynamodbav:"value,omitempty"`
	Status     string   `dynamodbav:"status"`
	CreatedAt  int64    `dynamodbav:"created_at"`
	ExecutedAt int64    `dynamodbav:"executed_at,omitempty"`
}

func (c commandItem) command() types.Command {
	return types.NewCommand(c.ID, c.Type, c.Value, types.OriginQueue, time.UnixMilli(c.CreatedAt).UTC())
}

type telemetryItem struct {
	DeviceID      string   `dynamodbav:"device_id"`
	CreatedAt     int64    `dynamodbav:"created_at"`
	GripPressure  int      `dynamodbav:"grip_pressure"`
	MotorCurrent  float64  `dynamodbav:"motor_current"`
	Temperature   *float64 `dynamodbav:"temperature"`
	Humidity      *float64 `dynamodbav:"humidity"`
	PowerLevel    int      `dynamodbav:"power_level"`
	ActuatorState string   `dynamodbav:"actuator_state"`
	Faults        []string `dynamodbav:"faults"`
	ExpiresAt     int64    `dynamodbav:"expires_at,omitempty"`
}

func newTelemetryItem(s types.TelemetrySample, now time.Time, ttl time.Duration) telemetryItem {
	item := telemetryItem{
		DeviceID:      s.DeviceID,
		CreatedAt:     now.UnixMilli(),
		GripPressure:  s.GripPressure,
		MotorCurrent:  s.MotorCurrent,
		Temperature:   s.Temperature,
		Humidity:      s.Humidity,
		PowerLevel:    s.PowerLevel,
		ActuatorState: s.ActuatorState,
		Faults:        s.FaultStrings(),
	}
	if ttl > 0 {
		item.ExpiresAt = now.Add(ttl).Unix()
	}
	return item
}
