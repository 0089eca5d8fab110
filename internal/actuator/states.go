package actuator

import (
	"time"

	"github.com/KevinKickass/OpenGripCore/internal/types"
)

type State string

const (
	StateIdle          State = "idle"
	StateEngaging      State = "engaging"
	StateReleasing     State = "releasing"
	StateStepEngaging  State = "step_engaging"
	StateStepReleasing State = "step_releasing"
)

// Gripping reports whether the state closes the jaws.
func (s State) Gripping() bool {
	return s == StateEngaging || s == StateStepEngaging
}

// Outcome says how a command ended.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeTargetReached Outcome = "target_reached"
	OutcomeOverPressure  Outcome = "over_pressure"
	OutcomeSensorFault   Outcome = "sensor_fault"
	OutcomeDriverFault   Outcome = "driver_fault"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeReset         Outcome = "reset"
	OutcomeCancelled     Outcome = "cancelled"
)

// Result of one command from dispatch to the return to Idle.
type Result struct {
	Command  types.Command
	Outcome  Outcome
	State    State
	Pressure int
	Started  time.Time
	Ended    time.Time
	Err      error
}

// Acknowledge reports whether the command counts as executed on the queue.
// A hold interrupted by shutdown is not.
func (r Result) Acknowledge() bool {
	return r.Outcome != OutcomeCancelled
}

func (r Result) Duration() time.Duration {
	return r.Ended.Sub(r.Started)
}

type Status struct {
	State           State         `json:"state"`
	CommandID       string        `json:"command_id,omitempty"`
	CommandType     string        `json:"command_type,omitempty"`
	TargetPressure  int           `json:"target_pressure,omitempty"`
	Faults          []types.Fault `json:"faults"`
	LastOutcome     Outcome       `json:"last_outcome,omitempty"`
	Executed        int           `json:"executed"`
	LastStateChange time.Time     `json:"last_state_change"`
}
