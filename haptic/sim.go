package haptic

import (
	"sync"

	"buzzcode-go/errcode"
)

// SimOp records one driver call, for assertions and the simulator's trace
// output.
type SimOp struct {
	Kind   string // "activate", "deactivate", "setfreq", "stopall"
	Finger int
	Value  int // amplitude or frequency
}

// Sim is an in-memory Driver for host builds and tests. Channels can be
// disabled or made to fail to exercise the skip paths.
type Sim struct {
	mu       sync.Mutex
	active   [5]bool
	amp      [5]int
	freq     [5]int
	disabled [5]bool
	failing  [5]bool
	ops      []SimOp
}

func NewSim() *Sim { return &Sim{} }

func (s *Sim) Activate(finger, amplitudePct int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if finger < 0 || finger >= len(s.active) {
		return errcode.FingerRange
	}
	if s.disabled[finger] {
		return errcode.MotorDisabled
	}
	if s.failing[finger] {
		return errcode.MotorFault
	}
	s.active[finger] = true
	s.amp[finger] = amplitudePct
	s.ops = append(s.ops, SimOp{Kind: "activate", Finger: finger, Value: amplitudePct})
	return nil
}

func (s *Sim) Deactivate(finger int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if finger < 0 || finger >= len(s.active) {
		return errcode.FingerRange
	}
	s.active[finger] = false
	s.ops = append(s.ops, SimOp{Kind: "deactivate", Finger: finger})
	return nil
}

func (s *Sim) SetFrequency(finger, hz int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if finger < 0 || finger >= len(s.freq) {
		return errcode.FingerRange
	}
	s.freq[finger] = hz
	s.ops = append(s.ops, SimOp{Kind: "setfreq", Finger: finger, Value: hz})
	return nil
}

func (s *Sim) Enabled(finger int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return finger >= 0 && finger < len(s.active) && !s.disabled[finger]
}

func (s *Sim) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.active {
		s.active[i] = false
	}
	s.ops = append(s.ops, SimOp{Kind: "stopall"})
}

// Test hooks.

func (s *Sim) SetDisabled(finger int, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled[finger] = v
}

func (s *Sim) SetFailing(finger int, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[finger] = v
}

// Active reports whether a finger is currently driven.
func (s *Sim) Active(finger int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return finger >= 0 && finger < len(s.active) && s.active[finger]
}

// AnyActive reports whether any finger is currently driven.
func (s *Sim) AnyActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.active {
		if a {
			return true
		}
	}
	return false
}

// Ops returns a copy of the recorded call trace.
func (s *Sim) Ops() []SimOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimOp, len(s.ops))
	copy(out, s.ops)
	return out
}

// ResetOps clears the recorded trace.
func (s *Sim) ResetOps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = s.ops[:0]
}
