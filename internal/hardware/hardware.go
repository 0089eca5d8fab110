// Package hardware defines the narrow I/O surface the control loop needs
// from a gripper build: raw analog channels and a two-direction motor driver.
package hardware

import (
	"context"
	"errors"
)

// Channel names an analog input.
type Channel string

const (
	ChannelGripForce     Channel = "grip_force"
	ChannelMotorCurrent  Channel = "motor_current"
	ChannelSupplyVoltage Channel = "supply_voltage"
)

var ErrChannelNotFitted = errors.New("channel not fitted")

// ADC returns raw counts for an analog channel.
type ADC interface {
	ReadRaw(ctx context.Context, ch Channel) (int, error)
}

// Direction of the motor winding. A driver accepts exactly one direction per
// call, so forward and reverse can never be requested together.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionForward
	DirectionReverse
)

func (d Direction) String() string {
	switch d {
	case DirectionForward:
		return "forward"
	case DirectionReverse:
		return "reverse"
	default:
		return "none"
	}
}

// MotorDriver drives an H-bridge. Drive must deassert the opposite direction
// before asserting the requested one; Stop deasserts both and zeroes PWM.
type MotorDriver interface {
	Drive(ctx context.Context, dir Direction, duty float64) error
	Stop(ctx context.Context) error
}

// Environment is an optional reading some builds provide.
type Environment struct {
	Temperature float64
	Humidity    float64
}

// EnvironmentSensor is implemented by backends with a temperature/humidity sensor.
type EnvironmentSensor interface {
	ReadEnvironment(ctx context.Context) (Environment, error)
}

// Backend is a complete I/O build.
type Backend interface {
	ADC
	MotorDriver
	Close() error
}

// Outputs is the observable state of the motor outputs.
type Outputs struct {
	Forward bool    `json:"forward"`
	Reverse bool    `json:"reverse"`
	Duty    float64 `json:"duty"`
}

// Energized reports whether any winding is asserted.
func (o Outputs) Energized() bool {
	return o.Forward || o.Reverse
}
