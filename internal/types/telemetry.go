package types

import "time"

// Fault marks a reading or actuator condition that telemetry must surface.
type Fault string

const (
	FaultGripSensor    Fault = "grip_sensor_fault"
	FaultCurrentSensor Fault = "current_sensor_fault"
	FaultSupplySensor  Fault = "supply_sensor_fault"
	FaultEnvSensor     Fault = "environment_sensor_fault"
	FaultOverPressure  Fault = "over_pressure"
	FaultDriver        Fault = "driver_fault"
)

// TelemetrySample is the fixed-shape record published once per cycle.
// Environment readings are null when the hardware has no such sensor.
type TelemetrySample struct {
	DeviceID      string    `json:"device_id"`
	GripPressure  int       `json:"grip_pressure"`
	MotorCurrent  float64   `json:"motor_current"`
	Temperature   *float64  `json:"temperature"`
	Humidity      *float64  `json:"humidity"`
	PowerLevel    int       `json:"power_level"`
	ActuatorState string    `json:"actuator_state"`
	Faults        []Fault   `json:"faults"`
	SampledAt     time.Time `json:"sampled_at"`
}

func (s TelemetrySample) HasFault(f Fault) bool {
	for _, x := range s.Faults {
		if x == f {
			return true
		}
	}
	return false
}

// FaultStrings is used by sinks that store faults as a text array.
func (s TelemetrySample) FaultStrings() []string {
	out := make([]string, 0, len(s.Faults))
	for _, f := range s.Faults {
		out = append(out, string(f))
	}
	return out
}
