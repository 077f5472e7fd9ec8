package kidwatch

import (
	"fmt"
)

// ViolationAverage is a moving average filter over verdicts, for smoothing the
// violation rate shown to observers.
type ViolationAverage struct {
	index  int
	count  int
	sum    float64
	values []float64
}

// NewViolationAverage returns a filter with a history of given size.
// Values are initialized to all zeroes.
func NewViolationAverage(size int) (*ViolationAverage, error) {
	if size <= 0 {
		return nil, fmt.Errorf("size must be > 0")
	}
	return &ViolationAverage{values: make([]float64, size)}, nil
}

// Update adds one verdict outcome and returns the fraction of bad outcomes in
// the history. Until the history is full, only the outcomes seen so far count.
func (a *ViolationAverage) Update(outcome Outcome) (float64, error) {
	if a.values == nil {
		return 0, fmt.Errorf("invalid filter, use NewViolationAverage")
	}
	var v float64
	switch outcome {
	case OutcomeBad:
		v = 1
	case OutcomeGood:
	default:
		return 0, fmt.Errorf("unknown outcome %q", outcome)
	}

	a.sum -= a.values[a.index]
	a.sum += v
	a.values[a.index] = v
	a.index++
	if a.index >= len(a.values) {
		a.index = 0
	}
	if a.count < len(a.values) {
		a.count++
	}
	return a.sum / float64(a.count), nil
}

// Reset clears the history.
func (a *ViolationAverage) Reset() {
	for i := range a.values {
		a.values[i] = 0
	}
	a.index = 0
	a.count = 0
	a.sum = 0
}
