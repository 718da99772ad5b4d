// Package progress decides when a download's progress is worth reporting.
package progress

// DefaultStep reports every 5%.
const DefaultStep float32 = 0.05

// Throttle passes through progress updates that advanced by at least one
// step since the last reported value. Completion is always reported once.
// It is not safe for concurrent use.
type Throttle struct {
	step     float32
	last     float32
	reported bool
	done     bool
}

func NewThrottle(step float32) *Throttle {
	if step <= 0 {
		step = DefaultStep
	}

	return &Throttle{step: step}
}

// Update reports whether fraction should be surfaced.
func (t *Throttle) Update(fraction float32) bool {
	if t.done {
		return false
	}

	if fraction >= 1 {
		t.done = true
		t.last = 1

		return true
	}

	if t.reported && fraction-t.last < t.step {
		return false
	}

	if !t.reported && fraction < t.step {
		return false
	}

	t.reported = true
	t.last = fraction

	return true
}
