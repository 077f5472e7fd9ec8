// Package kidwatch watches a child through a camera, asks a vision model whether
// they are behaving, and reacts with a spoken reminder and a logged event.
//
// The Monitor ties together a Sampler (package frame), an Analyzer (package
// verdict), an Announcer (package speech) and an EventSink (package sink).
package kidwatch

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Mode selects what behavior is being watched, and so which instruction is sent
// to the model.
type Mode string

const (
	// ModeHomework watches for slouching, distraction, sleeping or playing
	// during homework.
	ModeHomework Mode = "homework"

	// ModeEating watches for improper utensil use, distraction from food, or
	// talking and playing instead of eating.
	ModeEating Mode = "eating"
)

// Modes lists all valid modes.
var Modes = []Mode{ModeHomework, ModeEating}

// Valid returns whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeHomework || m == ModeEating
}

// ParseMode parses a mode name, case-insensitive.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w %q, need one of: homework, eating", ErrInvalidMode, s)
	}
	return m, nil
}

// Frame is a single encoded still image taken from a video source.
type Frame struct {
	Data       []byte
	MIMEType   string // Eg "image/jpeg".
	Width      int
	Height     int
	CapturedAt time.Time
}

// Outcome is the judgment in a Verdict.
type Outcome string

// Outcomes returned by the model.
const (
	OutcomeGood Outcome = "good"
	OutcomeBad  Outcome = "bad"
)

// Verdict is the result of analyzing one frame.
type Verdict struct {
	Outcome Outcome `json:"status"`

	// Short imperative sentence, eg "Sit up straight". Always set for
	// OutcomeBad, optional for OutcomeGood.
	Message string `json:"message"`
}

// String returns a human-readable verdict.
func (v Verdict) String() string {
	if v.Message == "" {
		return string(v.Outcome)
	}
	return fmt.Sprintf("%s: %s", v.Outcome, v.Message)
}

// CategoryViolation is the category of events recorded for bad verdicts.
const CategoryViolation = "violation"

// EventRecord is a logged violation. Records are written once and never read
// back by the Monitor.
type EventRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Mode      Mode      `json:"mode"`
	Message   string    `json:"message"`
	Category  string    `json:"category"`
	SubjectID string    `json:"subject_id,omitempty"`
}

// Sampler captures a frame from an already running video source.
type Sampler interface {
	// Capture returns the current frame, or an error wrapping
	// ErrSourceUnavailable if no usable frame is available.
	Capture(ctx context.Context) (Frame, error)
}

// Analyzer asks a model for a verdict on a frame.
type Analyzer interface {
	Analyze(ctx context.Context, frame Frame, mode Mode, credential string) (Verdict, error)
}

// Announcer speaks short messages. Announce must not block on playback, and
// must ignore calls while an earlier message is still being spoken. It returns
// whether the message was accepted.
type Announcer interface {
	Announce(text string) bool
}

// EventSink receives violation events. Record must not block, and failures are
// the sink's own concern.
type EventSink interface {
	Record(ev EventRecord)
}
