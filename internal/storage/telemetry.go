package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenGripCore/internal/types"
)

// InsertTelemetry appends one sample; created_at is set by the database.
func (p *PostgresClient) InsertTelemetry(ctx context.Context, s types.TelemetrySample) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO telemetry (device_id, grip_pressure, motor_current, temperature, humidity,
		                       power_level, actuator_state, faults)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.DeviceID, s.GripPressure, s.MotorCurrent, s.Temperature, s.Humidity,
		s.PowerLevel, s.ActuatorState, s.FaultStrings())
	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}
	return nil
}
