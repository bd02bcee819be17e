package blow

import (
	"testing"
	"time"
)

// feed steps m once per candidate value, tick apart, starting at start, with a
// 110ms minimum duration. It returns the time of the last step and how many
// blows were counted.
func feed(m *Machine, start time.Time, tick time.Duration, candidates ...bool) (time.Time, int) {
	return feedWith(m, 110*time.Millisecond, start, tick, candidates...)
}

func feedWith(m *Machine, duration time.Duration, start time.Time, tick time.Duration, candidates ...bool) (time.Time, int) {
	th := testThresholds()
	th.BlowDuration = duration
	now := start
	counted := 0
	for i, c := range candidates {
		now = start.Add(time.Duration(i) * tick)
		if m.Step(c, now, th) {
			counted++
		}
	}
	return now, counted
}

func repeat(v bool, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func concat(parts ...[]bool) []bool {
	var out []bool
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestSustainedBlowCountsOnce(t *testing.T) {
	var m Machine
	tick := time.Second / 60
	th := testThresholds()

	counted := 0
	firstCount := -1
	for i := 0; i < 120; i++ {
		if m.Step(true, epoch.Add(time.Duration(i)*tick), th) {
			counted++
			if firstCount < 0 {
				firstCount = i
			}
		}
	}
	if counted != 1 {
		t.Fatalf("counted=%d want=1 for one continuous blow", counted)
	}
	if elapsed := time.Duration(firstCount) * tick; elapsed < th.BlowDuration {
		t.Fatalf("counted after %s, before the %s minimum", elapsed, th.BlowDuration)
	}
	if firstCount < 6 {
		t.Fatalf("counted on tick %d, want at least 7 ticks of blowing", firstCount)
	}
}

func TestFirstCandidateOnlyOpensSession(t *testing.T) {
	var m Machine
	th := testThresholds()
	th.BlowDuration = 100 * time.Millisecond
	if m.Step(true, epoch, th) {
		t.Fatalf("counted on the frame that opened the session")
	}
	if m.State() != Blowing || !m.Session().Start.Equal(epoch) {
		t.Fatalf("session=%+v want Blowing started at epoch", m.Session())
	}
}

func TestGracePeriodKeepsDurationTimer(t *testing.T) {
	var m Machine
	tick := 10 * time.Millisecond

	_, counted := feed(&m, epoch, tick, concat(repeat(true, 5), repeat(false, 2), repeat(true, 5))...)
	if counted != 1 {
		t.Fatalf("counted=%d want=1 with a two-frame dip", counted)
	}
	if !m.Session().Start.Equal(epoch) {
		t.Fatalf("session start moved to %s during the dip", m.Session().Start)
	}
}

func TestDipLongerThanGraceAbandonsSession(t *testing.T) {
	var m Machine
	tick := 10 * time.Millisecond

	_, counted := feed(&m, epoch, tick, concat(repeat(true, 5), repeat(false, 3))...)
	if m.State() != Idle {
		t.Fatalf("state=%s want idle after three misses", m.State())
	}
	_, more := feed(&m, epoch.Add(8*tick), tick, repeat(true, 5)...)
	if counted+more != 0 {
		t.Fatalf("counted=%d want=0 when the dip resets the session", counted+more)
	}
}

func TestCooldownSuppressesSecondBlow(t *testing.T) {
	var m Machine
	tick := 10 * time.Millisecond
	duration := 100 * time.Millisecond

	last, first := feedWith(&m, duration, epoch, tick, repeat(true, 11)...)
	if first != 1 {
		t.Fatalf("first blow counted=%d want=1", first)
	}
	countedAt := last

	// drop to idle, then start a second blow 40ms after the count
	last, _ = feedWith(&m, duration, last.Add(tick), tick, repeat(false, 3)...)
	secondStart := last.Add(tick)
	last, second := feedWith(&m, duration, secondStart, tick, repeat(true, 17)...)
	if second != 0 {
		t.Fatalf("second blow counted %d times inside the cooldown", second)
	}
	if last.Sub(countedAt) > testThresholds().Cooldown {
		t.Fatalf("test ran past the cooldown: %s", last.Sub(countedAt))
	}

	// keep blowing past the cooldown
	_, later := feedWith(&m, duration, last.Add(tick), tick, repeat(true, 40)...)
	if later != 1 {
		t.Fatalf("counted=%d after cooldown elapsed, want=1", later)
	}
	if m.Count() != 2 {
		t.Fatalf("count=%d want=2", m.Count())
	}
}

func TestResetMidBlow(t *testing.T) {
	var m Machine
	feed(&m, epoch, 10*time.Millisecond, repeat(true, 20)...)
	if m.Count() != 1 || m.State() != Blowing {
		t.Fatalf("setup: count=%d state=%s", m.Count(), m.State())
	}

	m.Reset()
	if m.Count() != 0 || m.State() != Idle || m.Session() != (Session{}) {
		t.Fatalf("after reset: count=%d session=%+v", m.Count(), m.Session())
	}

	// the cooldown timer is cleared too
	_, counted := feed(&m, epoch.Add(300*time.Millisecond), 10*time.Millisecond, repeat(true, 12)...)
	if counted != 1 {
		t.Fatalf("counted=%d want=1 right after reset", counted)
	}
}

func TestIdleIgnoresMisses(t *testing.T) {
	var m Machine
	_, counted := feed(&m, epoch, 10*time.Millisecond, repeat(false, 10)...)
	if counted != 0 || m.State() != Idle || m.Session().Missed != 0 {
		t.Fatalf("idle machine changed on misses: %+v", m.Session())
	}
}
