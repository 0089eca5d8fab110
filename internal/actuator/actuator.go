// Package actuator runs the gripper motor state machine. Every command
// energizes the H-bridge for a bounded hold or pulse and always ends in Idle
// with both directions deasserted.
package actuator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/config"
	"github.com/KevinKickass/OpenGripCore/internal/hardware"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"go.uber.org/zap"
)

var ErrBusy = errors.New("actuator busy")

const stopAttempts = 3

// PressureProbe returns the current grip pressure; ok is false on a sensor fault.
type PressureProbe func(ctx context.Context) (pressure int, ok bool)

type plan struct {
	state State
	dir   hardware.Direction
	duty  float64
	hold  time.Duration
}

type Actuator struct {
	driver hardware.MotorDriver
	cfg    config.ActuatorConfig
	logger *zap.Logger
	now    func() time.Time

	mu          sync.RWMutex
	state       State
	current     types.Command
	started     time.Time
	deadline    time.Time
	target      int
	faults      []types.Fault
	lastOutcome Outcome
	executed    int
	lastChange  time.Time
	onChange    func(state, previous State)
}

// New forces the outputs off before returning. A driver that cannot be
// stopped is a hardware initialization failure.
func New(ctx context.Context, driver hardware.MotorDriver, cfg config.ActuatorConfig, logger *zap.Logger) (*Actuator, error) {
	if driver == nil {
		return nil, errors.New("actuator requires a motor driver")
	}

	a := &Actuator{
		driver: driver,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		state:  StateIdle,
	}
	a.lastChange = a.now()

	if err := driver.Stop(ctx); err != nil {
		return nil, fmt.Errorf("failed to stop motor outputs: %w", err)
	}
	return a, nil
}

// OnStateChange registers a callback invoked after every transition,
// outside the actuator lock.
func (a *Actuator) OnStateChange(fn func(state, previous State)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onChange = fn
}

func (a *Actuator) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Faults returns the latched actuator faults. Only Reset clears them.
func (a *Actuator) Faults() []types.Fault {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]types.Fault(nil), a.faults...)
}

func (a *Actuator) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st := Status{
		State:           a.state,
		Faults:          append([]types.Fault{}, a.faults...),
		LastOutcome:     a.lastOutcome,
		Executed:        a.executed,
		LastStateChange: a.lastChange,
	}
	if a.state != StateIdle {
		st.CommandID = a.current.ID
		st.CommandType = a.current.Kind.String()
		st.TargetPressure = a.target
	}
	return st
}

func (a *Actuator) planFor(kind types.CommandKind) (plan, bool) {
	switch kind {
	case types.CommandGrip:
		return plan{StateEngaging, hardware.DirectionForward, a.cfg.HighDuty, a.cfg.EngageHold}, true
	case types.CommandRelease:
		return plan{StateReleasing, hardware.DirectionReverse, a.cfg.HighDuty, a.cfg.ReleaseHold}, true
	case types.CommandStepGrip:
		return plan{StateStepEngaging, hardware.DirectionForward, a.cfg.StepDuty, a.cfg.StepPulse}, true
	case types.CommandStepRelease:
		return plan{StateStepReleasing, hardware.DirectionReverse, a.cfg.StepDuty, a.cfg.StepPulse}, true
	}
	return plan{}, false
}

// Dispatch starts cmd at now. A nil result means a hold is running and Poll
// has to be called until it returns one. Reset, unknown commands and driver
// failures finish immediately.
func (a *Actuator) Dispatch(ctx context.Context, cmd types.Command, now time.Time) (*Result, error) {
	if cmd.Kind == types.CommandReset {
		return a.reset(cmd, now), nil
	}

	p, ok := a.planFor(cmd.Kind)
	if !ok {
		a.logger.Warn("Ignoring unknown command",
			zap.String("command_id", cmd.ID),
			zap.String("type", cmd.Type))
		return &Result{Command: cmd, Outcome: OutcomeIgnored, State: StateIdle, Started: now, Ended: now}, nil
	}

	a.mu.Lock()
	if a.state != StateIdle {
		state := a.state
		a.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot accept %s in state %s", ErrBusy, cmd.Kind, state)
	}
	a.mu.Unlock()

	if err := a.driver.Drive(ctx, p.dir, p.duty); err != nil {
		a.logger.Error("Failed to energize motor",
			zap.String("command_id", cmd.ID),
			zap.String("direction", p.dir.String()),
			zap.Error(err))
		a.stopOutputs()

		a.mu.Lock()
		a.latch(types.FaultDriver)
		a.lastOutcome = OutcomeDriverFault
		a.executed++
		a.mu.Unlock()

		return &Result{Command: cmd, Outcome: OutcomeDriverFault, State: p.state, Started: now, Ended: now, Err: err}, nil
	}

	a.mu.Lock()
	a.current = cmd
	a.started = now
	a.deadline = now.Add(p.hold)
	a.target = cmd.TargetPressure()
	a.mu.Unlock()

	a.logger.Info("Command dispatched",
		zap.String("command_id", cmd.ID),
		zap.String("command", cmd.Kind.String()),
		zap.String("direction", p.dir.String()),
		zap.Float64("duty", p.duty),
		zap.Duration("hold", p.hold))

	a.setState(p.state, now)
	return nil, nil
}

// Poll ends the running hold when its deadline passed, the target pressure
// was reached, the safety ceiling was hit or the grip sensor faulted.
// Pressure is only evaluated while gripping.
func (a *Actuator) Poll(now time.Time, pressure int, pressureOK bool) *Result {
	a.mu.RLock()
	state := a.state
	deadline := a.deadline
	target := a.target
	a.mu.RUnlock()

	if state == StateIdle {
		return nil
	}

	if state.Gripping() {
		// a saturated sensor reports the clamped maximum, that is over pressure
		switch {
		case pressure >= a.cfg.PressureCeiling:
			a.logger.Warn("Grip pressure ceiling reached",
				zap.Int("pressure", pressure),
				zap.Int("ceiling", a.cfg.PressureCeiling),
				zap.Bool("sensor_ok", pressureOK))
			a.mu.Lock()
			a.latch(types.FaultOverPressure)
			a.mu.Unlock()
			return a.finish(OutcomeOverPressure, now, pressure)
		case !pressureOK:
			a.logger.Warn("Grip sensor fault during engage, releasing drive")
			return a.finish(OutcomeSensorFault, now, pressure)
		case target > 0 && pressure >= target:
			return a.finish(OutcomeTargetReached, now, pressure)
		}
	}

	if !now.Before(deadline) {
		return a.finish(OutcomeCompleted, now, pressure)
	}
	return nil
}

// Run executes cmd to completion. Cancelling ctx stops the outputs and ends
// the hold with OutcomeCancelled. probe may be nil for pure timed holds.
func (a *Actuator) Run(ctx context.Context, cmd types.Command, probe PressureProbe) (Result, error) {
	res, err := a.Dispatch(ctx, cmd, a.now())
	if err != nil {
		return Result{}, err
	}
	if res != nil {
		return *res, nil
	}

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Warn("Hold interrupted", zap.String("command_id", cmd.ID))
			return *a.finish(OutcomeCancelled, a.now(), 0), nil

		case <-ticker.C:
			pressure, ok := 0, true
			if probe != nil {
				pressure, ok = probe(ctx)
			}
			if r := a.Poll(a.now(), pressure, ok); r != nil {
				return *r, nil
			}
		}
	}
}

// Halt stops the outputs and returns to Idle without touching latched faults.
// Used on shutdown.
func (a *Actuator) Halt() error {
	err := a.stopOutputs()
	if a.State() != StateIdle {
		a.finish(OutcomeCancelled, a.now(), 0)
	}
	return err
}

func (a *Actuator) reset(cmd types.Command, now time.Time) *Result {
	a.mu.Lock()
	from := a.state
	a.mu.Unlock()

	err := a.stopOutputs()

	a.mu.Lock()
	a.faults = nil
	if err != nil {
		a.latch(types.FaultDriver)
	}
	a.current = types.Command{}
	a.target = 0
	a.lastOutcome = OutcomeReset
	a.executed++
	a.mu.Unlock()

	a.logger.Info("Actuator reset", zap.String("from", string(from)))
	a.setState(StateIdle, now)

	return &Result{Command: cmd, Outcome: OutcomeReset, State: from, Started: now, Ended: now, Err: err}
}

func (a *Actuator) finish(outcome Outcome, now time.Time, pressure int) *Result {
	err := a.stopOutputs()

	a.mu.Lock()
	res := &Result{
		Command:  a.current,
		Outcome:  outcome,
		State:    a.state,
		Pressure: pressure,
		Started:  a.started,
		Ended:    now,
		Err:      err,
	}
	if err != nil {
		a.latch(types.FaultDriver)
	}
	a.current = types.Command{}
	a.target = 0
	a.lastOutcome = outcome
	if outcome != OutcomeCancelled {
		a.executed++
	}
	a.mu.Unlock()

	a.logger.Info("Hold finished",
		zap.String("command_id", res.Command.ID),
		zap.String("outcome", string(outcome)),
		zap.Int("pressure", pressure),
		zap.Duration("duration", res.Duration()))

	a.setState(StateIdle, now)
	return res
}

// stopOutputs uses its own context so it still runs after ctx was cancelled.
func (a *Actuator) stopOutputs() error {
	var err error
	for i := 0; i < stopAttempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err = a.driver.Stop(ctx)
		cancel()
		if err == nil {
			return nil
		}
		a.logger.Error("Failed to stop motor outputs", zap.Int("attempt", i+1), zap.Error(err))
	}
	return err
}

// latch must be called with mu held.
func (a *Actuator) latch(f types.Fault) {
	for _, x := range a.faults {
		if x == f {
			return
		}
	}
	a.faults = append(a.faults, f)
}

func (a *Actuator) setState(state State, now time.Time) {
	a.mu.Lock()
	previous := a.state
	a.state = state
	a.lastChange = now
	fn := a.onChange
	a.mu.Unlock()

	if previous == state {
		return
	}

	a.logger.Info("Actuator state changed",
		zap.String("state", string(state)),
		zap.String("previous", string(previous)))

	if fn != nil {
		fn(state, previous)
	}
}
