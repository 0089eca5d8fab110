package modbus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/hardware"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"go.uber.org/zap"
)

// Device is a Modbus TCP I/O module wired as gripper hardware: analog inputs
// as input registers, H-bridge directions as coils and PWM as a holding register.
type Device struct {
	Name        string
	Profile     *types.HardwareProfile
	Client      *Client
	RegisterMap map[string]*types.RegisterDefinition
	unitID      uint8
	logger      *zap.Logger

	mu      sync.RWMutex
	outputs hardware.Outputs
}

var _ hardware.Backend = (*Device)(nil)

func NewDevice(profile *types.HardwareProfile, logger *zap.Logger) (*Device, error) {
	if profile.Connection.Protocol != "" && profile.Connection.Protocol != "modbus_tcp" {
		return nil, fmt.Errorf("unsupported protocol: %s", profile.Connection.Protocol)
	}
	if profile.Connection.Address == "" {
		return nil, errors.New("hardware profile has no connection address")
	}

	registerMap := make(map[string]*types.RegisterDefinition)
	for i := range profile.Inputs {
		reg := &profile.Inputs[i]
		registerMap[reg.Name] = reg
	}
	for i := range profile.Outputs {
		reg := &profile.Outputs[i]
		registerMap[reg.Name] = reg
	}

	for _, name := range []string{types.RegisterGripForce, types.RegisterMotorCurrent, types.RegisterMotorForward, types.RegisterMotorReverse} {
		if _, ok := registerMap[name]; !ok {
			return nil, fmt.Errorf("hardware profile %s lacks register %q", profile.HardwareProfile.ID, name)
		}
	}

	timeout := time.Duration(profile.Connection.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Second
	}

	return &Device{
		Name:        profile.HardwareProfile.ID,
		Profile:     profile,
		Client:      NewClient(profile.Connection.Address, timeout),
		RegisterMap: registerMap,
		unitID:      uint8(profile.Connection.UnitID),
		logger:      logger,
	}, nil
}

func (d *Device) Connect(ctx context.Context) error {
	if err := d.Client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", d.Name, err)
	}
	return nil
}

func (d *Device) Close() error {
	return d.Client.Close()
}

// ReadRaw returns the raw counts of an analog input.
func (d *Device) ReadRaw(ctx context.Context, ch hardware.Channel) (int, error) {
	reg, ok := d.RegisterMap[string(ch)]
	if !ok {
		return 0, hardware.ErrChannelNotFitted
	}

	word, err := d.readWord(ctx, reg)
	if err != nil {
		return 0, fmt.Errorf("failed to read register %s: %w", reg.Name, err)
	}

	if reg.DataType == types.DataTypeInt16 {
		return int(int16(word)), nil
	}
	return int(word), nil
}

// ReadEnvironment reads the optional temperature and humidity registers,
// scaled by their scale factor.
func (d *Device) ReadEnvironment(ctx context.Context) (hardware.Environment, error) {
	tReg, okT := d.RegisterMap[types.RegisterTemperature]
	hReg, okH := d.RegisterMap[types.RegisterHumidity]
	if !okT || !okH {
		return hardware.Environment{}, hardware.ErrChannelNotFitted
	}

	t, err := d.readScaled(ctx, tReg)
	if err != nil {
		return hardware.Environment{}, err
	}
	h, err := d.readScaled(ctx, hReg)
	if err != nil {
		return hardware.Environment{}, err
	}
	return hardware.Environment{Temperature: t, Humidity: h}, nil
}

func (d *Device) readScaled(ctx context.Context, reg *types.RegisterDefinition) (float64, error) {
	word, err := d.readWord(ctx, reg)
	if err != nil {
		return 0, fmt.Errorf("failed to read register %s: %w", reg.Name, err)
	}

	scale := reg.ScaleFactor
	if scale == 0 {
		scale = 1.0
	}
	if reg.DataType == types.DataTypeInt16 {
		return float64(int16(word)) * scale, nil
	}
	return float64(word) * scale, nil
}

func (d *Device) readWord(ctx context.Context, reg *types.RegisterDefinition) (uint16, error) {
	var (
		values []uint16
		err    error
	)
	switch reg.Type {
	case types.RegisterTypeInputRegister:
		values, err = d.Client.ReadInputRegisters(ctx, d.unitID, reg.Address, 1)
	case types.RegisterTypeHoldingRegister:
		values, err = d.Client.ReadHoldingRegisters(ctx, d.unitID, reg.Address, 1)
	default:
		return 0, fmt.Errorf("unsupported register type: %s", reg.Type)
	}
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

// Drive deasserts the opposite direction before the PWM is set and the
// requested direction is asserted.
func (d *Device) Drive(ctx context.Context, dir hardware.Direction, duty float64) error {
	var on, off string
	switch dir {
	case hardware.DirectionForward:
		on, off = types.RegisterMotorForward, types.RegisterMotorReverse
	case hardware.DirectionReverse:
		on, off = types.RegisterMotorReverse, types.RegisterMotorForward
	default:
		return d.Stop(ctx)
	}

	if err := d.writeBool(ctx, off, false); err != nil {
		return err
	}
	d.setOutputs(func(o *hardware.Outputs) {
		if dir == hardware.DirectionForward {
			o.Reverse = false
		} else {
			o.Forward = false
		}
	})

	if err := d.writePWM(ctx, duty); err != nil {
		return err
	}
	d.setOutputs(func(o *hardware.Outputs) { o.Duty = duty })

	if err := d.writeBool(ctx, on, true); err != nil {
		return err
	}
	d.setOutputs(func(o *hardware.Outputs) {
		o.Forward = dir == hardware.DirectionForward
		o.Reverse = dir == hardware.DirectionReverse
	})

	d.logger.Debug("Motor driven",
		zap.String("device", d.Name),
		zap.String("direction", dir.String()),
		zap.Float64("duty", duty))
	return nil
}

// Stop deasserts both directions and zeroes PWM. Every write is attempted
// even if an earlier one failed.
func (d *Device) Stop(ctx context.Context) error {
	var errs []error

	if err := d.writeBool(ctx, types.RegisterMotorForward, false); err != nil {
		errs = append(errs, err)
	} else {
		d.setOutputs(func(o *hardware.Outputs) { o.Forward = false })
	}

	if err := d.writeBool(ctx, types.RegisterMotorReverse, false); err != nil {
		errs = append(errs, err)
	} else {
		d.setOutputs(func(o *hardware.Outputs) { o.Reverse = false })
	}

	if err := d.writePWM(ctx, 0); err != nil {
		errs = append(errs, err)
	} else {
		d.setOutputs(func(o *hardware.Outputs) { o.Duty = 0 })
	}

	return errors.Join(errs...)
}

// Outputs returns the last successfully written output state.
func (d *Device) Outputs() hardware.Outputs {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.outputs
}

func (d *Device) setOutputs(fn func(o *hardware.Outputs)) {
	d.mu.Lock()
	fn(&d.outputs)
	d.mu.Unlock()
}

func (d *Device) writeBool(ctx context.Context, name string, on bool) error {
	reg := d.RegisterMap[name]

	var err error
	switch reg.Type {
	case types.RegisterTypeCoil:
		err = d.Client.WriteSingleCoil(ctx, d.unitID, reg.Address, on)
	case types.RegisterTypeHoldingRegister:
		var v uint16
		if on {
			v = 1
		}
		err = d.Client.WriteSingleRegister(ctx, d.unitID, reg.Address, v)
	default:
		err = fmt.Errorf("unsupported register type: %s", reg.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// writePWM is a no-op when the build switches the bridge without PWM.
func (d *Device) writePWM(ctx context.Context, duty float64) error {
	reg, ok := d.RegisterMap[types.RegisterMotorPWM]
	if !ok {
		return nil
	}

	maxValue := reg.MaxValue
	if maxValue == 0 {
		maxValue = math.MaxUint16
	}
	duty = math.Max(0, math.Min(1, duty))
	value := uint16(math.Round(duty * float64(maxValue)))

	if err := d.Client.WriteSingleRegister(ctx, d.unitID, reg.Address, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", reg.Name, err)
	}
	return nil
}
