package hardware

import (
	"context"
	"math"
	"sync"
	"time"
)

// SimConfig shapes the simulated gripper.
type SimConfig struct {
	FullScale int
	// GripRate is the force increase in counts per second at full forward duty.
	GripRate float64
	// ReleaseRate is the force decrease in counts per second at full reverse duty.
	ReleaseRate float64
	// ContactAt is the force reading (counts) where the jaws touch the object.
	ContactAt float64
	// CurrentZero is the raw reading of the current sensor at 0A.
	CurrentZero int
	// CurrentPerDuty is the raw count rise at full duty with no load.
	CurrentPerDuty float64
	SupplyRaw      int
	Environment    *Environment
}

func DefaultSimConfig() SimConfig {
	return SimConfig{
		FullScale:      4095,
		GripRate:       2600,
		ReleaseRate:    3200,
		ContactAt:      600,
		CurrentZero:    3103,
		CurrentPerDuty: 180,
		SupplyRaw:      3500,
		Environment:    &Environment{Temperature: 24.5, Humidity: 40},
	}
}

// Simulator is an in-process gripper: grip force integrates motor drive over time.
type Simulator struct {
	cfg SimConfig
	now func() time.Time

	mu      sync.Mutex
	outputs Outputs
	force   float64
	last    time.Time
	history []Outputs
	fail    map[Channel]error
}

func NewSimulator(cfg SimConfig) *Simulator {
	return &Simulator{
		cfg:  cfg,
		now:  time.Now,
		last: time.Now(),
		fail: make(map[Channel]error),
	}
}

func (s *Simulator) advance() {
	now := s.now()
	dt := now.Sub(s.last).Seconds()
	s.last = now
	if dt <= 0 {
		return
	}

	switch {
	case s.outputs.Forward:
		s.force += s.cfg.GripRate * s.outputs.Duty * dt
	case s.outputs.Reverse:
		s.force -= s.cfg.ReleaseRate * s.outputs.Duty * dt
	}
	s.force = math.Max(0, math.Min(s.force, float64(s.cfg.FullScale)))
}

func (s *Simulator) ReadRaw(ctx context.Context, ch Channel) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fail[ch]; err != nil {
		return 0, err
	}
	s.advance()

	switch ch {
	case ChannelGripForce:
		return int(s.force), nil
	case ChannelMotorCurrent:
		if !s.outputs.Energized() {
			return s.cfg.CurrentZero, nil
		}
		load := 1.0
		if s.force > s.cfg.ContactAt {
			load += (s.force - s.cfg.ContactAt) / float64(s.cfg.FullScale)
		}
		return s.cfg.CurrentZero + int(s.cfg.CurrentPerDuty*s.outputs.Duty*load), nil
	case ChannelSupplyVoltage:
		return s.cfg.SupplyRaw, nil
	default:
		return 0, ErrChannelNotFitted
	}
}

func (s *Simulator) ReadEnvironment(ctx context.Context) (Environment, error) {
	if s.cfg.Environment == nil {
		return Environment{}, ErrChannelNotFitted
	}
	return *s.cfg.Environment, nil
}

func (s *Simulator) Drive(ctx context.Context, dir Direction, duty float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()

	switch dir {
	case DirectionForward:
		s.set(Outputs{Forward: false, Reverse: false, Duty: 0})
		s.set(Outputs{Forward: true, Duty: duty})
	case DirectionReverse:
		s.set(Outputs{Forward: false, Reverse: false, Duty: 0})
		s.set(Outputs{Reverse: true, Duty: duty})
	default:
		s.set(Outputs{})
	}
	return nil
}

func (s *Simulator) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.set(Outputs{})
	return nil
}

func (s *Simulator) set(o Outputs) {
	s.outputs = o
	s.history = append(s.history, o)
}

func (s *Simulator) Close() error {
	return s.Stop(context.Background())
}

// Outputs returns the current output state.
func (s *Simulator) Outputs() Outputs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs
}

// History returns every output state the simulator has been put in.
func (s *Simulator) History() []Outputs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Outputs(nil), s.history...)
}

// SetForce places the jaws at a given raw force reading.
func (s *Simulator) SetForce(raw int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.force = float64(raw)
}

// FailChannel makes reads of ch return err until cleared with a nil err.
func (s *Simulator) FailChannel(ch Channel, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, ch)
		return
	}
	s.fail[ch] = err
}
