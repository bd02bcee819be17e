package blow

import (
	"time"

	"github.com/guidoenr/blowcounter/internal/params"
)

// State of a blow session.
type State int

const (
	Idle State = iota
	Blowing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Blowing:
		return "blowing"
	default:
		return "unknown"
	}
}

// Session is the state of the blow currently being tracked.
type Session struct {
	State   State
	Start   time.Time
	Missed  int
	Counted bool
}

// Machine turns the per-frame candidate stream into counted blows. A blow is
// counted once it has been sustained for BlowDuration, at most once per
// session, and never within Cooldown of the previous count. Up to GracePeriod
// consecutive misses are tolerated without restarting the session.
type Machine struct {
	session     Session
	count       int
	lastCounted time.Time
}

// Step advances the machine by one frame and reports whether a blow was
// counted on it.
func (m *Machine) Step(candidate bool, now time.Time, th params.Thresholds) bool {
	s := &m.session
	switch s.State {
	case Idle:
		if candidate {
			*s = Session{State: Blowing, Start: now}
		}
		return false

	case Blowing:
		if !candidate {
			s.Missed++
			if s.Missed > th.GracePeriod {
				*s = Session{}
			}
			return false
		}

		s.Missed = 0
		if s.Counted || now.Sub(s.Start) < th.BlowDuration || !m.cooledDown(now, th.Cooldown) {
			return false
		}
		s.Counted = true
		m.count++
		m.lastCounted = now
		return true
	}
	return false
}

// cooledDown reports whether more than cooldown has passed since the last
// counted blow. With no previous count the cooldown is always satisfied.
func (m *Machine) cooledDown(now time.Time, cooldown time.Duration) bool {
	if m.lastCounted.IsZero() {
		return true
	}
	return now.Sub(m.lastCounted) > cooldown
}

// Reset returns to Idle and zeroes the counter and all timers.
func (m *Machine) Reset() {
	*m = Machine{}
}

// Abandon drops the current session and the cooldown timer but keeps the count.
func (m *Machine) Abandon() {
	m.session = Session{}
	m.lastCounted = time.Time{}
}

// Count is the number of blows counted since the last Reset.
func (m *Machine) Count() int {
	return m.count
}

// Session returns a copy of the current session.
func (m *Machine) Session() Session {
	return m.session
}

// State is the current session state.
func (m *Machine) State() State {
	return m.session.State
}
