package interfaces

import (
	"context"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/actuator"
	"github.com/KevinKickass/OpenGripCore/internal/config"
	"github.com/KevinKickass/OpenGripCore/internal/control"
	"github.com/KevinKickass/OpenGripCore/internal/devices"
	"github.com/KevinKickass/OpenGripCore/internal/hardware"
	"github.com/KevinKickass/OpenGripCore/internal/link"
	"github.com/KevinKickass/OpenGripCore/internal/telemetry"
	"github.com/KevinKickass/OpenGripCore/internal/types"
)

// SystemStatus is the device snapshot served by the operator API and sent to
// console clients on connect.
type SystemStatus struct {
	State           string            `json:"state"`
	DeviceID        string            `json:"device_id"`
	StartedAt       time.Time         `json:"started_at"`
	HardwareProfile string            `json:"hardware_profile,omitempty"`
	Link            link.Status       `json:"link"`
	Actuator        actuator.Status   `json:"actuator"`
	Loop            control.Status    `json:"loop"`
	Outputs         *hardware.Outputs `json:"outputs,omitempty"`
	Publish         telemetry.Stats   `json:"publish"`
	PendingLocal    int               `json:"pending_local_commands"`
}

type LifecycleManager interface {
	Config() *config.Config
	GetCurrentStatus() SystemStatus
	LastTelemetry() (types.TelemetrySample, bool)
	HardwareProfile() *types.HardwareProfile
	HardwareProfiles() []devices.ProfileSummary
	// SubmitCommand hands an operator command to the control loop.
	SubmitCommand(rawType string, value *float64) (types.Command, error)
	Shutdown(ctx context.Context) error
}
