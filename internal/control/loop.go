// Package control runs the fixed-period gripper cycle: link, sample,
// publish, fetch, actuate, acknowledge. The loop goroutine is the only one
// that dispatches commands to the actuator.
package control

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/actuator"
	"github.com/KevinKickass/OpenGripCore/internal/commands"
	"github.com/KevinKickass/OpenGripCore/internal/sensor"
	"github.com/KevinKickass/OpenGripCore/internal/telemetry"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"go.uber.org/zap"
)

type LinkSupervisor interface {
	EnsureLink(ctx context.Context) types.LinkState
}

type Sampler interface {
	Sample(ctx context.Context) sensor.Reading
	SampleGripPressure(ctx context.Context) (int, error)
}

type Actuator interface {
	State() actuator.State
	Faults() []types.Fault
	Run(ctx context.Context, cmd types.Command, probe actuator.PressureProbe) (actuator.Result, error)
	Halt() error
}

type CommandSource interface {
	FetchPendingCommand(ctx context.Context, link types.LinkState) (*types.Command, error)
	Acknowledge(ctx context.Context, link types.LinkState, cmd types.Command) error
	NextLocal() (*types.Command, bool)
}

type Publisher interface {
	Publish(ctx context.Context, link types.LinkState, sample types.TelemetrySample) telemetry.Result
}

// Components are the parts the loop drives, in cycle order.
type Components struct {
	Link      LinkSupervisor
	Sampler   Sampler
	Actuator  Actuator
	Commands  CommandSource
	Publisher Publisher
}

// CycleReport is what one cycle did. Errors are typed results, nothing in a
// cycle is fatal.
type CycleReport struct {
	Cycle    uint64
	Link     types.LinkState
	Sample   types.TelemetrySample
	Publish  telemetry.Result
	Command  *actuator.Result
	Acked    []string
	FetchErr error
	RunErr   error
	AckErr   error
	Started  time.Time
	Duration time.Duration
}

// Status is a snapshot for the operator API.
type Status struct {
	Cycles       uint64           `json:"cycles"`
	Period       time.Duration    `json:"period"`
	Link         string           `json:"link"`
	LastCycleAt  time.Time        `json:"last_cycle_at"`
	LastDuration time.Duration    `json:"last_duration"`
	PendingAck   string           `json:"pending_ack,omitempty"`
	LastCommand  string           `json:"last_command,omitempty"`
	LastOutcome  actuator.Outcome `json:"last_outcome,omitempty"`
}

type Loop struct {
	deviceID string
	period   time.Duration
	c        Components
	logger   *zap.Logger

	mu         sync.RWMutex
	pendingAck *types.Command
	cycles     uint64
	last       CycleReport
	lastResult *actuator.Result
	onCommand  func(res actuator.Result)

	// only touched by the loop goroutine
	heldLocal *types.Command
}

func NewLoop(deviceID string, period time.Duration, c Components, logger *zap.Logger) (*Loop, error) {
	if c.Link == nil || c.Sampler == nil || c.Actuator == nil || c.Commands == nil || c.Publisher == nil {
		return nil, errors.New("control loop requires link, sampler, actuator, commands and publisher")
	}
	if period <= 0 {
		return nil, errors.New("control loop period must be positive")
	}
	return &Loop{deviceID: deviceID, period: period, c: c, logger: logger}, nil
}

// OnCommand registers a callback for every finished command.
func (l *Loop) OnCommand(fn func(res actuator.Result)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onCommand = fn
}

// Run cycles until ctx is cancelled, sleeping for the rest of each period.
// The motor is halted on the way out.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("Control loop started",
		zap.String("device_id", l.deviceID),
		zap.Duration("period", l.period))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := l.c.Actuator.Halt(); err != nil {
				l.logger.Error("Failed to halt actuator", zap.Error(err))
			}
			l.logger.Info("Control loop stopped", zap.Uint64("cycles", l.Status().Cycles))
			return nil
		case <-timer.C:
		}

		report := l.RunCycle(ctx)

		wait := l.period - report.Duration
		if wait < 0 {
			l.logger.Debug("Cycle overran period",
				zap.Duration("duration", report.Duration),
				zap.Duration("period", l.period))
			wait = 0
		}
		timer.Reset(wait)
	}
}

// RunCycle executes one pass. At most one command is executed per cycle and
// a queue command is never fetched while the acknowledgment of the previous
// one is outstanding.
func (l *Loop) RunCycle(ctx context.Context) CycleReport {
	r := CycleReport{Started: time.Now()}

	r.Link = l.c.Link.EnsureLink(ctx)

	reading := l.c.Sampler.Sample(ctx)
	r.Sample = reading.Sample(l.deviceID, string(l.c.Actuator.State()), l.c.Actuator.Faults()...)

	r.Publish = l.c.Publisher.Publish(ctx, r.Link, r.Sample)

	l.retryAck(ctx, &r)

	if cmd := l.nextCommand(ctx, &r); cmd != nil {
		l.execute(ctx, *cmd, &r)
	}

	r.Duration = time.Since(r.Started)

	l.mu.Lock()
	l.cycles++
	r.Cycle = l.cycles
	l.last = r
	if r.Command != nil {
		l.lastResult = r.Command
	}
	l.mu.Unlock()

	return r
}

func (l *Loop) retryAck(ctx context.Context, r *CycleReport) {
	l.mu.RLock()
	pending := l.pendingAck
	l.mu.RUnlock()

	if pending == nil || !r.Link.Connected() {
		return
	}

	if err := l.c.Commands.Acknowledge(ctx, r.Link, *pending); err != nil {
		r.AckErr = err
		l.logger.Warn("Acknowledgment retry failed",
			zap.String("command_id", pending.ID),
			zap.Error(err))
		return
	}

	l.logger.Info("Command acknowledged", zap.String("command_id", pending.ID))
	r.Acked = append(r.Acked, pending.ID)

	l.mu.Lock()
	l.pendingAck = nil
	l.mu.Unlock()
}

// nextCommand prefers operator commands. Nothing but a Reset starts while the
// acknowledgment of the previous command is outstanding, and the queue is only
// asked when the link is up.
func (l *Loop) nextCommand(ctx context.Context, r *CycleReport) *types.Command {
	if state := l.c.Actuator.State(); state != actuator.StateIdle {
		l.logger.Warn("Actuator not idle, skipping command fetch", zap.String("state", string(state)))
		return nil
	}

	l.mu.RLock()
	blocked := l.pendingAck != nil
	l.mu.RUnlock()

	if cmd := l.nextLocal(blocked); cmd != nil {
		return cmd
	}
	if blocked || !r.Link.Connected() {
		return nil
	}

	cmd, err := l.c.Commands.FetchPendingCommand(ctx, r.Link)
	if err != nil {
		r.FetchErr = err
		l.logger.Warn("Failed to fetch pending command", zap.Error(err))
		return nil
	}
	return cmd
}

// nextLocal takes the oldest operator command. While blocked it is held back
// unless it is a Reset, so the order of operator commands is kept.
func (l *Loop) nextLocal(blocked bool) *types.Command {
	if l.heldLocal == nil {
		cmd, ok := l.c.Commands.NextLocal()
		if !ok {
			return nil
		}
		l.heldLocal = cmd
	}

	if blocked && l.heldLocal.Kind != types.CommandReset {
		l.logger.Debug("Operator command waits for outstanding acknowledgment",
			zap.String("command_id", l.heldLocal.ID))
		return nil
	}

	cmd := l.heldLocal
	l.heldLocal = nil
	return cmd
}

func (l *Loop) execute(ctx context.Context, cmd types.Command, r *CycleReport) {
	l.logger.Info("Executing command",
		zap.String("command_id", cmd.ID),
		zap.String("type", cmd.Type),
		zap.String("origin", string(cmd.Origin)))

	res, err := l.c.Actuator.Run(ctx, cmd, l.probe)
	if err != nil {
		r.RunErr = err
		l.logger.Warn("Command rejected", zap.String("command_id", cmd.ID), zap.Error(err))
		return
	}
	r.Command = &res

	l.mu.RLock()
	fn := l.onCommand
	l.mu.RUnlock()
	if fn != nil {
		fn(res)
	}

	if !res.Acknowledge() {
		// interrupted by shutdown, the command stays pending
		return
	}
	if cmd.Origin == types.OriginLocal {
		return
	}

	if err := l.c.Commands.Acknowledge(ctx, r.Link, cmd); err != nil {
		r.AckErr = err
		if !errors.Is(err, commands.ErrLinkDown) {
			l.logger.Warn("Failed to acknowledge command",
				zap.String("command_id", cmd.ID),
				zap.Error(err))
		}
		l.mu.Lock()
		l.pendingAck = &cmd
		l.mu.Unlock()
		return
	}

	l.logger.Info("Command acknowledged",
		zap.String("command_id", cmd.ID),
		zap.String("outcome", string(res.Outcome)))
	r.Acked = append(r.Acked, cmd.ID)
}

func (l *Loop) probe(ctx context.Context) (int, bool) {
	pressure, err := l.c.Sampler.SampleGripPressure(ctx)
	return pressure, err == nil
}

// PendingAck returns the executed command whose acknowledgment is outstanding.
func (l *Loop) PendingAck() (types.Command, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.pendingAck == nil {
		return types.Command{}, false
	}
	return *l.pendingAck, true
}

func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := Status{
		Cycles:       l.cycles,
		Period:       l.period,
		Link:         l.last.Link.String(),
		LastCycleAt:  l.last.Started,
		LastDuration: l.last.Duration,
	}
	if l.pendingAck != nil {
		st.PendingAck = l.pendingAck.ID
	}
	if l.lastResult != nil {
		st.LastCommand = l.lastResult.Command.ID
		st.LastOutcome = l.lastResult.Outcome
	}
	return st
}
