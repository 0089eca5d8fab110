package actuator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/config"
	"github.com/KevinKickass/OpenGripCore/internal/hardware"
	"github.com/KevinKickass/OpenGripCore/internal/types"
	"go.uber.org/zap/zaptest"
)

type fakeDriver struct {
	mu       sync.Mutex
	outputs  hardware.Outputs
	history  []hardware.Outputs
	driveErr error
	stopErr  error
	stops    int
}

func (d *fakeDriver) Drive(ctx context.Context, dir hardware.Direction, duty float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.driveErr != nil {
		return d.driveErr
	}
	d.outputs = hardware.Outputs{
		Forward: dir == hardware.DirectionForward,
		Reverse: dir == hardware.DirectionReverse,
		Duty:    duty,
	}
	d.history = append(d.history, d.outputs)
	return nil
}

func (d *fakeDriver) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	if d.stopErr != nil {
		return d.stopErr
	}
	d.outputs = hardware.Outputs{}
	d.history = append(d.history, d.outputs)
	return nil
}

func (d *fakeDriver) Outputs() hardware.Outputs {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outputs
}

func testConfig() config.ActuatorConfig {
	return config.ActuatorConfig{
		EngageHold:      2 * time.Second,
		ReleaseHold:     2 * time.Second,
		StepPulse:       220 * time.Millisecond,
		HighDuty:        0.9,
		StepDuty:        0.5,
		PressureCeiling: 85,
		PollInterval:    time.Millisecond,
	}
}

func newTestActuator(t *testing.T, cfg config.ActuatorConfig) (*Actuator, *fakeDriver) {
	t.Helper()
	d := &fakeDriver{}
	a, err := New(context.Background(), d, cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a, d
}

func command(kind string, value *float64) types.Command {
	return types.NewCommand("cmd-1", kind, value, types.OriginQueue, time.Now())
}

func TestNew_StopsOutputs(t *testing.T) {
	_, d := newTestActuator(t, testConfig())
	if d.stops != 1 {
		t.Errorf("stops = %d, want 1", d.stops)
	}

	_, err := New(context.Background(), &fakeDriver{stopErr: errors.New("bus down")}, testConfig(), zaptest.NewLogger(t))
	if err == nil {
		t.Error("New() with failing driver returned no error")
	}
}

func TestDispatch_StateTable(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		command string
		state   State
		outputs hardware.Outputs
		hold    time.Duration
	}{
		{"GRIP", StateEngaging, hardware.Outputs{Forward: true, Duty: 0.9}, cfg.EngageHold},
		{"RELEASE", StateReleasing, hardware.Outputs{Reverse: true, Duty: 0.9}, cfg.ReleaseHold},
		{"STEP_GRIP", StateStepEngaging, hardware.Outputs{Forward: true, Duty: 0.5}, cfg.StepPulse},
		{"STEP_RELEASE", StateStepReleasing, hardware.Outputs{Reverse: true, Duty: 0.5}, cfg.StepPulse},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			a, d := newTestActuator(t, cfg)
			start := time.Unix(1000, 0)

			res, err := a.Dispatch(context.Background(), command(tt.command, nil), start)
			if err != nil || res != nil {
				t.Fatalf("Dispatch() = %v, %v, want running hold", res, err)
			}
			if a.State() != tt.state {
				t.Errorf("State() = %s, want %s", a.State(), tt.state)
			}
			if d.Outputs() != tt.outputs {
				t.Errorf("outputs = %+v, want %+v", d.Outputs(), tt.outputs)
			}

			if r := a.Poll(start.Add(tt.hold-time.Millisecond), 10, true); r != nil {
				t.Fatalf("hold ended early: %+v", r)
			}

			r := a.Poll(start.Add(tt.hold), 10, true)
			if r == nil {
				t.Fatal("hold did not end at deadline")
			}
			if r.Outcome != OutcomeCompleted || r.State != tt.state {
				t.Errorf("result = %s in %s, want completed in %s", r.Outcome, r.State, tt.state)
			}
			if a.State() != StateIdle {
				t.Errorf("State() after hold = %s, want idle", a.State())
			}
			if d.Outputs().Energized() {
				t.Errorf("outputs still energized: %+v", d.Outputs())
			}
		})
	}
}

func TestDispatch_BusyRejected(t *testing.T) {
	a, d := newTestActuator(t, testConfig())
	now := time.Unix(1000, 0)

	if _, err := a.Dispatch(context.Background(), command("GRIP", nil), now); err != nil {
		t.Fatal(err)
	}

	_, err := a.Dispatch(context.Background(), command("RELEASE", nil), now.Add(time.Millisecond))
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("second Dispatch() error = %v, want ErrBusy", err)
	}
	if a.State() != StateEngaging {
		t.Errorf("State() = %s, want engaging", a.State())
	}
	if d.Outputs().Reverse {
		t.Error("reverse asserted by rejected command")
	}
}

func TestReset_ForcesIdleFromEveryState(t *testing.T) {
	for _, kind := range []string{"GRIP", "RELEASE", "STEP_GRIP", "STEP_RELEASE", "RESET"} {
		t.Run(kind, func(t *testing.T) {
			a, d := newTestActuator(t, testConfig())
			now := time.Unix(1000, 0)

			if _, err := a.Dispatch(context.Background(), command(kind, nil), now); err != nil {
				t.Fatal(err)
			}

			res, err := a.Dispatch(context.Background(), command("RESET", nil), now.Add(time.Millisecond))
			if err != nil {
				t.Fatalf("Reset error = %v", err)
			}
			if res == nil || res.Outcome != OutcomeReset {
				t.Fatalf("Reset result = %+v", res)
			}
			if a.State() != StateIdle || d.Outputs().Energized() {
				t.Errorf("after reset: state %s, outputs %+v", a.State(), d.Outputs())
			}
		})
	}
}

func TestPoll_OverPressureEndsHoldEarly(t *testing.T) {
	a, d := newTestActuator(t, testConfig())
	now := time.Unix(1000, 0)

	if _, err := a.Dispatch(context.Background(), command("GRIP", nil), now); err != nil {
		t.Fatal(err)
	}

	if r := a.Poll(now.Add(100*time.Millisecond), 60, true); r != nil {
		t.Fatalf("hold ended below ceiling: %+v", r)
	}

	r := a.Poll(now.Add(200*time.Millisecond), 90, true)
	if r == nil || r.Outcome != OutcomeOverPressure {
		t.Fatalf("result = %+v, want over_pressure", r)
	}
	if a.State() != StateIdle || d.Outputs().Energized() {
		t.Errorf("after over-pressure: state %s, outputs %+v", a.State(), d.Outputs())
	}

	faults := a.Faults()
	if len(faults) != 1 || faults[0] != types.FaultOverPressure {
		t.Errorf("Faults() = %v, want [over_pressure]", faults)
	}

	// latched until reset
	a.Dispatch(context.Background(), command("RELEASE", nil), now.Add(time.Second))
	a.Poll(now.Add(4*time.Second), 0, true)
	if len(a.Faults()) != 1 {
		t.Error("over_pressure cleared without reset")
	}

	a.Dispatch(context.Background(), command("RESET", nil), now.Add(5*time.Second))
	if len(a.Faults()) != 0 {
		t.Errorf("Faults() after reset = %v", a.Faults())
	}
}

func TestPoll_TargetPressure(t *testing.T) {
	a, _ := newTestActuator(t, testConfig())
	now := time.Unix(1000, 0)
	target := 40.0

	if _, err := a.Dispatch(context.Background(), command("GRIP", &target), now); err != nil {
		t.Fatal(err)
	}
	if st := a.Status(); st.TargetPressure != 40 {
		t.Errorf("Status().TargetPressure = %d, want 40", st.TargetPressure)
	}

	if r := a.Poll(now.Add(50*time.Millisecond), 39, true); r != nil {
		t.Fatalf("hold ended below target: %+v", r)
	}
	r := a.Poll(now.Add(60*time.Millisecond), 41, true)
	if r == nil || r.Outcome != OutcomeTargetReached {
		t.Fatalf("result = %+v, want target_reached", r)
	}
	if len(a.Faults()) != 0 {
		t.Errorf("unexpected faults %v", a.Faults())
	}
}

func TestPoll_PressureIgnoredWhileReleasing(t *testing.T) {
	a, _ := newTestActuator(t, testConfig())
	now := time.Unix(1000, 0)

	a.Dispatch(context.Background(), command("RELEASE", nil), now)
	if r := a.Poll(now.Add(time.Millisecond), 100, false); r != nil {
		t.Fatalf("release ended on pressure reading: %+v", r)
	}
}

func TestPoll_SensorFaultAbortsGrip(t *testing.T) {
	a, d := newTestActuator(t, testConfig())
	now := time.Unix(1000, 0)

	a.Dispatch(context.Background(), command("STEP_GRIP", nil), now)
	r := a.Poll(now.Add(time.Millisecond), 0, false)
	if r == nil || r.Outcome != OutcomeSensorFault {
		t.Fatalf("result = %+v, want sensor_fault", r)
	}
	if d.Outputs().Energized() {
		t.Error("outputs energized after sensor fault")
	}
}

func TestPoll_SaturatedSensorIsOverPressure(t *testing.T) {
	a, d := newTestActuator(t, testConfig())
	now := time.Unix(1000, 0)

	a.Dispatch(context.Background(), command("GRIP", nil), now)
	r := a.Poll(now.Add(time.Millisecond), 100, false)
	if r == nil || r.Outcome != OutcomeOverPressure {
		t.Fatalf("result = %+v, want over_pressure", r)
	}
	faults := a.Faults()
	if len(faults) != 1 || faults[0] != types.FaultOverPressure {
		t.Errorf("Faults() = %v, want [over_pressure]", faults)
	}
	if d.Outputs().Energized() {
		t.Error("outputs energized after saturated reading")
	}
}

func TestDispatch_UnknownIgnored(t *testing.T) {
	a, d := newTestActuator(t, testConfig())

	res, err := a.Dispatch(context.Background(), command("WIGGLE", nil), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.Outcome != OutcomeIgnored || !res.Acknowledge() {
		t.Fatalf("result = %+v, want acknowledged ignored", res)
	}
	if a.State() != StateIdle || len(d.history) != 1 {
		t.Errorf("unknown command touched outputs: %v", d.history)
	}
}

func TestDispatch_DriverFault(t *testing.T) {
	a, d := newTestActuator(t, testConfig())
	d.driveErr = errors.New("coil write failed")

	res, err := a.Dispatch(context.Background(), command("GRIP", nil), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.Outcome != OutcomeDriverFault || res.Err == nil {
		t.Fatalf("result = %+v, want driver_fault", res)
	}
	if a.State() != StateIdle {
		t.Errorf("State() = %s, want idle", a.State())
	}
	if f := a.Faults(); len(f) != 1 || f[0] != types.FaultDriver {
		t.Errorf("Faults() = %v", f)
	}
}

func TestRun_CompletesAndNeverAssertsBoth(t *testing.T) {
	cfg := testConfig()
	cfg.StepPulse = 20 * time.Millisecond
	a, d := newTestActuator(t, cfg)

	var transitions []State
	a.OnStateChange(func(state, previous State) {
		transitions = append(transitions, state)
	})

	for _, kind := range []string{"STEP_GRIP", "STEP_RELEASE", "STEP_GRIP"} {
		res, err := a.Run(context.Background(), command(kind, nil), func(ctx context.Context) (int, bool) {
			return 10, true
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != OutcomeCompleted {
			t.Errorf("%s outcome = %s", kind, res.Outcome)
		}
		if res.Duration() < cfg.StepPulse {
			t.Errorf("%s pulse lasted %v, want >= %v", kind, res.Duration(), cfg.StepPulse)
		}
	}

	for i, o := range d.history {
		if o.Forward && o.Reverse {
			t.Fatalf("history[%d] asserts both directions", i)
		}
	}
	if d.Outputs().Energized() {
		t.Error("outputs energized after run")
	}

	want := []State{StateStepEngaging, StateIdle, StateStepReleasing, StateIdle, StateStepEngaging, StateIdle}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %s, want %s", i, transitions[i], want[i])
		}
	}
	if a.Status().Executed != 3 {
		t.Errorf("Executed = %d, want 3", a.Status().Executed)
	}
}

func TestRun_OverPressureDuringEngage(t *testing.T) {
	cfg := testConfig()
	a, d := newTestActuator(t, cfg)

	pressure := 0
	start := time.Now()
	res, err := a.Run(context.Background(), command("GRIP", nil), func(ctx context.Context) (int, bool) {
		pressure += 5
		return pressure, true
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeOverPressure {
		t.Fatalf("outcome = %s, want over_pressure", res.Outcome)
	}
	if time.Since(start) >= cfg.EngageHold {
		t.Error("over-pressure did not end the hold early")
	}
	if a.State() != StateIdle || d.Outputs().Energized() {
		t.Errorf("after run: state %s, outputs %+v", a.State(), d.Outputs())
	}
}

func TestRun_CancelStopsOutputs(t *testing.T) {
	a, d := newTestActuator(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := a.Run(ctx, command("RELEASE", nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeCancelled || res.Acknowledge() {
		t.Errorf("result = %+v, want unacknowledged cancel", res)
	}
	if a.State() != StateIdle || d.Outputs().Energized() {
		t.Errorf("after cancel: state %s, outputs %+v", a.State(), d.Outputs())
	}
}

func TestHalt(t *testing.T) {
	a, d := newTestActuator(t, testConfig())
	a.Dispatch(context.Background(), command("GRIP", nil), time.Now())

	if err := a.Halt(); err != nil {
		t.Fatal(err)
	}
	if a.State() != StateIdle || d.Outputs().Energized() {
		t.Errorf("after halt: state %s, outputs %+v", a.State(), d.Outputs())
	}
}
