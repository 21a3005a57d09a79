package protocol

import "sync/atomic"

// Sequence hands out monotonically increasing command sequence ids, starting
// at 1. Zero is reserved as "unset". Safe for concurrent use.
type Sequence struct {
	n atomic.Uint32
}

// Next returns the next sequence id, skipping zero on wrap.
func (s *Sequence) Next() uint32 {
	for {
		v := s.n.Add(1)
		if v != 0 {
			return v
		}
	}
}

// Last returns the most recently issued id, zero if none yet.
func (s *Sequence) Last() uint32 {
	return s.n.Load()
}
