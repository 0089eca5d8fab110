package sensor

import (
	"context"
	"errors"
	"testing"

	"github.com/KevinKickass/OpenGripCore/internal/hardware"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"go.uber.org/zap/zaptest"
)

type fakeADC struct {
	raw  map[hardware.Channel]int
	errs map[hardware.Channel]error
}

func (f *fakeADC) ReadRaw(ctx context.Context, ch hardware.Channel) (int, error) {
	if err := f.errs[ch]; err != nil {
		return 0, err
	}
	raw, ok := f.raw[ch]
	if !ok {
		return 0, hardware.ErrChannelNotFitted
	}
	return raw, nil
}

type fakeEnvADC struct {
	fakeADC
	env hardware.Environment
}

func (f *fakeEnvADC) ReadEnvironment(ctx context.Context) (hardware.Environment, error) {
	return f.env, nil
}

func TestSampler_Sample(t *testing.T) {
	adc := &fakeADC{raw: map[hardware.Channel]int{
		hardware.ChannelGripForce:     2048,
		hardware.ChannelMotorCurrent:  2278,
		hardware.ChannelSupplyVoltage: 3585,
	}}

	s := NewSampler(adc, testCalibration(), zaptest.NewLogger(t))
	r := s.Sample(context.Background())

	if r.GripPressure != 50 {
		t.Errorf("GripPressure = %d, want 50", r.GripPressure)
	}
	if r.MotorCurrent < 0.99 || r.MotorCurrent > 1.01 {
		t.Errorf("MotorCurrent = %f, want ~1.0", r.MotorCurrent)
	}
	if len(r.Faults) != 0 {
		t.Errorf("unexpected faults: %v", r.Faults)
	}
	if r.Temperature != nil || r.Humidity != nil {
		t.Error("environment readings present without an environment sensor")
	}
	if r.SampledAt.IsZero() {
		t.Error("SampledAt not set")
	}
}

func TestSampler_FaultsAreSurfaced(t *testing.T) {
	adc := &fakeADC{
		raw: map[hardware.Channel]int{
			hardware.ChannelGripForce:     9000,
			hardware.ChannelSupplyVoltage: 3585,
		},
		errs: map[hardware.Channel]error{
			hardware.ChannelMotorCurrent: errors.New("bus timeout"),
		},
	}

	s := NewSampler(adc, testCalibration(), zaptest.NewLogger(t))
	r := s.Sample(context.Background())

	sample := r.Sample("dev-1", "idle")
	if !sample.HasFault(types.FaultGripSensor) {
		t.Error("missing grip_sensor_fault")
	}
	if !sample.HasFault(types.FaultCurrentSensor) {
		t.Error("missing current_sensor_fault")
	}
	if sample.GripPressure != 100 {
		t.Errorf("faulted grip pressure = %d, want clamped 100", sample.GripPressure)
	}
}

func TestSampler_SampleGripPressureError(t *testing.T) {
	adc := &fakeADC{raw: map[hardware.Channel]int{hardware.ChannelGripForce: -5}}
	s := NewSampler(adc, testCalibration(), zaptest.NewLogger(t))

	_, err := s.SampleGripPressure(context.Background())
	if !errors.Is(err, ErrSensorFault) {
		t.Fatalf("error = %v, want ErrSensorFault", err)
	}

	var fe *FaultError
	if !errors.As(err, &fe) || fe.Raw != -5 {
		t.Errorf("FaultError = %+v", fe)
	}
}

func TestSampler_EnvironmentSensor(t *testing.T) {
	adc := &fakeEnvADC{
		fakeADC: fakeADC{raw: map[hardware.Channel]int{
			hardware.ChannelGripForce:     0,
			hardware.ChannelMotorCurrent:  2048,
			hardware.ChannelSupplyVoltage: 3585,
		}},
		env: hardware.Environment{Temperature: 21.5, Humidity: 55},
	}

	r := NewSampler(adc, testCalibration(), zaptest.NewLogger(t)).Sample(context.Background())
	if r.Temperature == nil || *r.Temperature != 21.5 {
		t.Errorf("Temperature = %v, want 21.5", r.Temperature)
	}
	if r.Humidity == nil || *r.Humidity != 55 {
		t.Errorf("Humidity = %v, want 55", r.Humidity)
	}
}

func TestSampler_MainsPowered(t *testing.T) {
	cal := testCalibration()
	cal.SupplyDividerRatio = 0

	adc := &fakeADC{raw: map[hardware.Channel]int{
		hardware.ChannelGripForce:    0,
		hardware.ChannelMotorCurrent: 2048,
	}}

	r := NewSampler(adc, cal, zaptest.NewLogger(t)).Sample(context.Background())
	if r.PowerLevel != MainsPowerLevel {
		t.Errorf("PowerLevel = %d, want %d", r.PowerLevel, MainsPowerLevel)
	}
	if len(r.Faults) != 0 {
		t.Errorf("unexpected faults: %v", r.Faults)
	}
}
