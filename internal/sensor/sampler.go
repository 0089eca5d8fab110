package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/hardware"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"go.uber.org/zap"
)

// ErrSensorFault is matched by every *FaultError.
var ErrSensorFault = errors.New("sensor fault")

// FaultError reports an anomalous reading on one channel.
type FaultError struct {
	Fault   types.Fault
	Channel hardware.Channel
	Raw     int
	Err     error
}

func (e *FaultError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s on %s: %v", e.Fault, e.Channel, e.Err)
	}
	return fmt.Sprintf("%s on %s: raw %d out of range", e.Fault, e.Channel, e.Raw)
}

func (e *FaultError) Is(target error) bool {
	return target == ErrSensorFault
}

func (e *FaultError) Unwrap() error {
	return e.Err
}

// MainsPowerLevel is reported when the build has no supply channel.
const MainsPowerLevel = 100

// Reading is one synchronous pass over all channels.
type Reading struct {
	GripPressure int
	MotorCurrent float64
	PowerLevel   int
	Temperature  *float64
	Humidity     *float64
	Faults       []types.Fault
	SampledAt    time.Time
}

// Sample packages the reading into an immutable telemetry record.
func (r Reading) Sample(deviceID, actuatorState string, extra ...types.Fault) types.TelemetrySample {
	faults := make([]types.Fault, 0, len(r.Faults)+len(extra))
	faults = append(faults, r.Faults...)
	faults = append(faults, extra...)

	return types.TelemetrySample{
		DeviceID:      deviceID,
		GripPressure:  r.GripPressure,
		MotorCurrent:  r.MotorCurrent,
		Temperature:   r.Temperature,
		Humidity:      r.Humidity,
		PowerLevel:    r.PowerLevel,
		ActuatorState: actuatorState,
		Faults:        faults,
		SampledAt:     r.SampledAt,
	}
}

// Sampler reads the analog channels and applies the calibration.
type Sampler struct {
	adc    hardware.ADC
	env    hardware.EnvironmentSensor
	cal    Calibration
	logger *zap.Logger
}

// NewSampler wires the sampler to an ADC. When adc also implements
// hardware.EnvironmentSensor, temperature and humidity are reported.
func NewSampler(adc hardware.ADC, cal Calibration, logger *zap.Logger) *Sampler {
	s := &Sampler{adc: adc, cal: cal, logger: logger}
	if env, ok := adc.(hardware.EnvironmentSensor); ok {
		s.env = env
	}
	return s
}

// SampleGripPressure reads the force channel. On a fault the clamped value is
// still returned together with a *FaultError.
func (s *Sampler) SampleGripPressure(ctx context.Context) (int, error) {
	raw, err := s.adc.ReadRaw(ctx, hardware.ChannelGripForce)
	if err != nil {
		return 0, &FaultError{Fault: types.FaultGripSensor, Channel: hardware.ChannelGripForce, Err: err}
	}

	pressure, ok := s.cal.GripPressure(raw)
	if !ok {
		return pressure, &FaultError{Fault: types.FaultGripSensor, Channel: hardware.ChannelGripForce, Raw: raw}
	}
	return pressure, nil
}

// SampleMotorCurrent reads the current channel.
func (s *Sampler) SampleMotorCurrent(ctx context.Context) (float64, error) {
	raw, err := s.adc.ReadRaw(ctx, hardware.ChannelMotorCurrent)
	if err != nil {
		return 0, &FaultError{Fault: types.FaultCurrentSensor, Channel: hardware.ChannelMotorCurrent, Err: err}
	}

	amps, ok := s.cal.MotorCurrent(raw)
	if !ok {
		return amps, &FaultError{Fault: types.FaultCurrentSensor, Channel: hardware.ChannelMotorCurrent, Raw: raw}
	}
	return amps, nil
}

func (s *Sampler) samplePowerLevel(ctx context.Context) (int, error) {
	if !s.cal.HasSupplyChannel() {
		return MainsPowerLevel, nil
	}

	raw, err := s.adc.ReadRaw(ctx, hardware.ChannelSupplyVoltage)
	if err != nil {
		return 0, &FaultError{Fault: types.FaultSupplySensor, Channel: hardware.ChannelSupplyVoltage, Err: err}
	}

	level, ok := s.cal.PowerLevel(raw)
	if !ok {
		return level, &FaultError{Fault: types.FaultSupplySensor, Channel: hardware.ChannelSupplyVoltage, Raw: raw}
	}
	return level, nil
}

// Sample reads every channel once. Anomalies become faults on the reading.
func (s *Sampler) Sample(ctx context.Context) Reading {
	r := Reading{SampledAt: time.Now()}

	collect := func(err error) {
		var fe *FaultError
		if errors.As(err, &fe) {
			r.Faults = append(r.Faults, fe.Fault)
			s.logger.Debug("Sensor fault", zap.String("fault", string(fe.Fault)), zap.Error(err))
		}
	}

	var err error
	r.GripPressure, err = s.SampleGripPressure(ctx)
	collect(err)

	r.MotorCurrent, err = s.SampleMotorCurrent(ctx)
	collect(err)

	r.PowerLevel, err = s.samplePowerLevel(ctx)
	collect(err)

	if s.env != nil {
		env, err := s.env.ReadEnvironment(ctx)
		switch {
		case err == nil:
			r.Temperature = &env.Temperature
			r.Humidity = &env.Humidity
		case !errors.Is(err, hardware.ErrChannelNotFitted):
			r.Faults = append(r.Faults, types.FaultEnvSensor)
		}
	}

	return r
}
