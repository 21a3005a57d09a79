// Package timex provides the module's time source. Control-loop and
// synchronization code reads time through a Clock so tests can drive it
// deterministically; production code uses Monotonic.
package timex

import "time"

// Clock is a monotonic microsecond time source.
type Clock interface {
	// NowUs returns microseconds since an arbitrary epoch, never decreasing.
	NowUs() uint64
}

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// MsOf converts a microsecond reading to whole milliseconds.
func MsOf(us uint64) uint32 { return uint32(us / 1000) }

// Monotonic reads the runtime monotonic clock.
type Monotonic struct {
	base time.Time
}

func NewMonotonic() *Monotonic { return &Monotonic{base: time.Now()} }

func (m *Monotonic) NowUs() uint64 {
	return uint64(time.Since(m.base) / time.Microsecond)
}

// Manual is a hand-advanced clock for tests and the simulator.
type Manual struct {
	us uint64
}

func NewManual(startUs uint64) *Manual { return &Manual{us: startUs} }

func (m *Manual) NowUs() uint64 { return m.us }

// AdvanceUs moves the clock forward.
func (m *Manual) AdvanceUs(d uint64) { m.us += d }

// AdvanceMs moves the clock forward by whole milliseconds.
func (m *Manual) AdvanceMs(d uint64) { m.us += d * 1000 }

// Set jumps to an absolute reading. Readings never move backwards.
func (m *Manual) Set(us uint64) {
	if us > m.us {
		m.us = us
	}
}
