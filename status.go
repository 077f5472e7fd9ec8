package kidwatch

import (
	"time"
)

// State is the state of the monitor.
type State string

// States of the monitor. A session cycles through StateAnalyzing and one of
// StateGood, StateWarning or StateError. StateIdle is the state before the first
// cycle of a session and after Stop.
const (
	StateIdle      State = "idle"
	StateAnalyzing State = "analyzing"
	StateGood      State = "good"
	StateWarning   State = "warning"
	StateError     State = "error"
)

// Status is a snapshot of the monitor, for display by a presentation layer.
type Status struct {
	State State `json:"state"`

	// Whether a session is running. An active session with StateIdle is
	// waiting for its first cycle.
	Active bool `json:"active"`

	// Mode of the current or last session.
	Mode Mode `json:"mode,omitempty"`

	// Last human-readable message: the verdict message for warnings, a fixed
	// text otherwise. Kept from the previous cycle when a cycle fails.
	Message string `json:"message"`

	// Error of the last cycle, if it failed.
	Err string `json:"error,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`

	// Completed cycles in the current session, and how many of them were
	// violations.
	Cycles     int `json:"cycles"`
	Violations int `json:"violations"`

	// Moving average of bad verdicts over the last analyses, in [0, 1].
	ViolationRate float64 `json:"violation_rate"`
}
