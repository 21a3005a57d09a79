// Package staging holds not-yet-fired, precisely timed actuation events in a
// fixed-capacity single-producer single-consumer ring. The producer (the
// timing context computing fire times) only writes the head slot and
// advances the head index; the consumer (the main control loop) only reads
// the tail slot and advances the tail index. No field is touched by both,
// so no locks are needed.
//
// Clear is the one dual-index operation; call it only once the producer is
// quiesced (emergency shutdown path).
package staging

import "sync/atomic"

// Capacity is the total slot count; Capacity-1 slots are usable (head==tail
// is "empty"). Sized to hold several macrocycles' worth of events so a full
// buffer always indicates a timing fault.
const Capacity = 32

// Event is a value type copied into and out of the buffer.
type Event struct {
	// ActivateAtUs is the local-clock fire deadline; zero fires immediately.
	ActivateAtUs uint64
	Finger       uint8
	AmplitudePct uint8
	DurationMs   uint16
	FrequencyHz  uint16
	// IsMacrocycleLast marks the final event of a macrocycle; dequeuing it
	// clears the pending flag.
	IsMacrocycleLast bool
	Valid            bool
}

// Buffer is the SPSC event ring. The zero value is ready to use.
type Buffer struct {
	slots [Capacity]Event
	head  atomic.Uint32 // producer-owned
	tail  atomic.Uint32 // consumer-owned

	pending atomic.Bool
}

// Stage appends one event. Returns false when full; never blocks or
// allocates.
func (b *Buffer) Stage(ev Event) bool {
	head := b.head.Load()
	next := (head + 1) % Capacity
	if next == b.tail.Load() {
		return false
	}
	ev.Valid = true
	b.slots[head] = ev
	b.head.Store(next)
	return true
}

// Unstage removes the oldest event. Returns false when empty.
func (b *Buffer) Unstage() (Event, bool) {
	tail := b.tail.Load()
	if tail == b.head.Load() {
		return Event{}, false
	}
	ev := b.slots[tail]
	b.slots[tail].Valid = false
	b.tail.Store((tail + 1) % Capacity)
	if ev.IsMacrocycleLast {
		b.pending.Store(false)
	}
	return ev, true
}

// Peek returns the oldest event without removing it.
func (b *Buffer) Peek() (Event, bool) {
	tail := b.tail.Load()
	if tail == b.head.Load() {
		return Event{}, false
	}
	return b.slots[tail], true
}

// Count returns the number of staged events.
func (b *Buffer) Count() int {
	return int((b.head.Load() + Capacity - b.tail.Load()) % Capacity)
}

// Empty reports whether nothing is staged.
func (b *Buffer) Empty() bool { return b.head.Load() == b.tail.Load() }

// BeginMacrocycle marks a macrocycle's events as in flight. The flag clears
// itself when an IsMacrocycleLast event is dequeued.
func (b *Buffer) BeginMacrocycle() { b.pending.Store(true) }

// MacrocyclePending reports whether a begun macrocycle has not yet drained.
func (b *Buffer) MacrocyclePending() bool { return b.pending.Load() }

// EndMacrocycle clears the pending flag directly, for producers that fired
// the final event immediately instead of staging it.
func (b *Buffer) EndMacrocycle() { b.pending.Store(false) }

// Clear resets both indices and the pending flag. Producer must be quiesced.
func (b *Buffer) Clear() {
	b.tail.Store(0)
	b.head.Store(0)
	b.pending.Store(false)
}
