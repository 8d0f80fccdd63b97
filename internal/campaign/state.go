package campaign

import "fmt"

// Phase tells which delay, if any, the controller is waiting on
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseWaitingForNext Phase = "waiting_for_next"
	PhaseWaitingForSend Phase = "waiting_for_send"
	PhaseFinished       Phase = "finished"
)

// Status is the operator-facing lifecycle of a campaign
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
)

// State is the composite of Status and Phase. Only legal combinations exist,
// so a finished campaign can never be waiting on a send, and a stopped one
// never holds a pending delay.
type State int

const (
	StateStopped State = iota
	StateRunningNext
	StateRunningSend
	StatePausedNext
	StatePausedSend
	StateFinished
)

var stateNames = map[State]string{
	StateStopped:     "stopped",
	StateRunningNext: "running_next",
	StateRunningSend: "running_send",
	StatePausedNext:  "paused_next",
	StatePausedSend:  "paused_send",
	StateFinished:    "finished",
}

// AllStates lists every state in declaration order
var AllStates = []State{
	StateStopped,
	StateRunningNext,
	StateRunningSend,
	StatePausedNext,
	StatePausedSend,
	StateFinished,
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *State) UnmarshalText(b []byte) error {
	for st, name := range stateNames {
		if name == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown campaign state %q", string(b))
}

// Phase projects the state onto the progression phase
func (s State) Phase() Phase {
	switch s {
	case StateRunningNext, StatePausedNext:
		return PhaseWaitingForNext
	case StateRunningSend, StatePausedSend:
		return PhaseWaitingForSend
	case StateFinished:
		return PhaseFinished
	default:
		return PhaseIdle
	}
}

// Status projects the state onto the operator-facing lifecycle
func (s State) Status() Status {
	switch s {
	case StateRunningNext, StateRunningSend:
		return StatusRunning
	case StatePausedNext, StatePausedSend:
		return StatusPaused
	case StateFinished:
		return StatusFinished
	default:
		return StatusStopped
	}
}

// Event drives a state transition
type Event string

const (
	EventStart   Event = "start"
	EventArmNext Event = "arm_next"
	EventArmSend Event = "arm_send"
	EventSkip    Event = "skip"
	EventPause   Event = "pause"
	EventResume  Event = "resume"
	EventStop    Event = "stop"
	EventFinish  Event = "finish"
)

// transitions is the complete transition table. Anything not listed is
// rejected and leaves the state untouched.
var transitions = map[State]map[Event]State{
	StateStopped: {
		EventStart: StateRunningNext,
	},
	StateRunningNext: {
		EventStart:   StateRunningNext,
		EventArmNext: StateRunningNext,
		EventArmSend: StateRunningSend,
		EventPause:   StatePausedNext,
		EventStop:    StateStopped,
		EventFinish:  StateFinished,
	},
	StateRunningSend: {
		EventStart:   StateRunningNext,
		EventArmNext: StateRunningNext,
		EventArmSend: StateRunningSend,
		EventSkip:    StateRunningSend,
		EventPause:   StatePausedSend,
		EventStop:    StateStopped,
		EventFinish:  StateFinished,
	},
	StatePausedNext: {
		EventStart:  StateRunningNext,
		EventResume: StateRunningNext,
		EventStop:   StateStopped,
	},
	StatePausedSend: {
		EventStart:  StateRunningNext,
		EventResume: StateRunningSend,
		EventStop:   StateStopped,
	},
	StateFinished: {
		EventStart: StateRunningNext,
	},
}

// Next returns the state reached by applying ev, and false if ev is not
// allowed from s.
func (s State) Next(ev Event) (State, bool) {
	next, ok := transitions[s][ev]
	if !ok {
		return s, false
	}
	return next, true
}

// Can reports whether ev is allowed from s
func (s State) Can(ev Event) bool {
	_, ok := transitions[s][ev]
	return ok
}

// Active reports whether a run is in progress (running or paused)
func (s State) Active() bool {
	st := s.Status()
	return st == StatusRunning || st == StatusPaused
}
