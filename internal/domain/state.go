package domain

import "fmt"

// State is the lifecycle state of a task
type State int

const (
	StateInitialized State = 0x00
	StateWaiting     State = 0x10
	StateRunning     State = 0x20
	StateRetrying    State = 0x21
	StatePaused      State = 0x30
	StateStopped     State = 0x31
	StateCompleted   State = 0x40
	StateFailed      State = 0x41
	StateRemoved     State = 0x50
	StateDefault     State = 0x60
	StateAny         State = 0x61
)

var stateNames = map[State]string{
	StateInitialized: "initialized",
	StateWaiting:     "waiting",
	StateRunning:     "running",
	StateRetrying:    "retrying",
	StatePaused:      "paused",
	StateStopped:     "stopped",
	StateCompleted:   "completed",
	StateFailed:      "failed",
	StateRemoved:     "removed",
	StateDefault:     "default",
	StateAny:         "any",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(0x%02x)", int(s))
}

// ParseState resolves a state name
func ParseState(name string) (State, bool) {
	for s, n := range stateNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// IsTerminal reports whether no further progress can happen in this state
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateStopped, StateRemoved:
		return true
	}
	return false
}

// IsFilterable reports whether s may be used to narrow a search
func (s State) IsFilterable() bool {
	switch s {
	case StateInitialized, StateWaiting, StateRunning, StateRetrying, StatePaused,
		StateStopped, StateCompleted, StateFailed, StateRemoved, StateDefault:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StateInitialized: {StateWaiting, StateRunning, StateFailed, StateStopped, StateRemoved},
	StateWaiting:     {StateRunning, StateFailed, StateStopped, StateRemoved},
	StateRunning:     {StateRetrying, StatePaused, StateStopped, StateCompleted, StateFailed, StateRemoved},
	StateRetrying:    {StateRunning, StatePaused, StateStopped, StateCompleted, StateFailed, StateRemoved},
	StatePaused:      {StateRunning, StateStopped, StateCompleted, StateFailed, StateRemoved},
	StateCompleted:   {StateRemoved},
	StateFailed:      {StateRemoved},
	StateStopped:     {StateRemoved},
}

// CanTransition reports whether a task may move from one state to another.
// Staying in the same state is never a transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Advance moves the task to the given state. It returns false, leaving the
// task untouched, when the move is not a legal transition.
func (t *Task) Advance(to State) bool {
	if !CanTransition(t.Progress.State, to) {
		return false
	}
	t.Progress.State = to
	return true
}

// CanStart reports whether a fresh download may be issued for the task
func (t *Task) CanStart() bool {
	return t.Progress.State == StateInitialized || t.Progress.State == StateWaiting
}

// IsActive reports whether the task is currently transferring
func (t *Task) IsActive() bool {
	return t.Progress.State == StateRunning || t.Progress.State == StateRetrying
}
