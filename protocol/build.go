package protocol

// Typed constructors and payload views. Only commands that carry data get a
// parser; session lifecycle commands are kind+timestamp only.

// BuzzArgs is the decoded payload of a BUZZ command.
type BuzzArgs struct {
	Finger       int
	AmplitudePct int
	DurationMs   int
	FrequencyHz  int
	// ActivateAtUs is the leader-clock activation deadline. Zero when the
	// buzz is immediate.
	ActivateAtUs uint64
}

// PongArgs is the decoded payload of a PONG command: the responder's receive
// and transmit timestamps on its own clock.
type PongArgs struct {
	T2Us uint64
	T3Us uint64
}

// NewBuzz builds an immediate buzz.
func NewBuzz(seq uint32, tsUs uint64, finger, amplitudePct, durationMs, freqHz int) Command {
	c := New(KindBuzz, seq, tsUs)
	c.appendInt(int64(finger))
	c.appendInt(int64(amplitudePct))
	c.appendInt(int64(durationMs))
	c.appendInt(int64(freqHz))
	return c
}

// NewBuzzAt builds a buzz scheduled for activateAtUs on the leader clock.
func NewBuzzAt(seq uint32, tsUs uint64, finger, amplitudePct, durationMs, freqHz int, activateAtUs uint64) Command {
	c := NewBuzz(seq, tsUs, finger, amplitudePct, durationMs, freqHz)
	c.appendUint(activateAtUs)
	return c
}

// NewDeactivate builds a motor release for one finger.
func NewDeactivate(seq uint32, tsUs uint64, finger int) Command {
	c := New(KindDeactivate, seq, tsUs)
	c.appendInt(int64(finger))
	return c
}

// NewPing builds a sync probe. The timestamp field carries T1, the sender's
// transmit time.
func NewPing(seq uint32, t1Us uint64) Command {
	return New(KindPing, seq, t1Us)
}

// NewPong builds the reply to a ping. The timestamp echoes the ping's T1;
// the data carries the responder's T2 (receive) and T3 (transmit).
func NewPong(seq uint32, t1Us, t2Us, t3Us uint64) Command {
	c := New(KindPong, seq, t1Us)
	c.appendUint(t2Us)
	c.appendUint(t3Us)
	return c
}

// NewHeartbeat builds a liveness beacon.
func NewHeartbeat(seq uint32, tsUs uint64) Command {
	return New(KindHeartbeat, seq, tsUs)
}

// ParseBuzz validates and extracts a BUZZ payload.
func ParseBuzz(c Command) (BuzzArgs, error) {
	if c.Kind != KindBuzz {
		return BuzzArgs{}, ErrBadPayload
	}
	if len(c.Data) < 4 {
		return BuzzArgs{}, ErrBadPayload
	}
	a := BuzzArgs{
		Finger:       int(c.Int(0, -1)),
		AmplitudePct: int(c.Int(1, -1)),
		DurationMs:   int(c.Int(2, -1)),
		FrequencyHz:  int(c.Int(3, -1)),
		ActivateAtUs: c.Uint64(4, 0),
	}
	if a.Finger < 0 || a.AmplitudePct < 0 || a.DurationMs < 0 || a.FrequencyHz < 0 {
		return BuzzArgs{}, ErrBadPayload
	}
	return a, nil
}

// ParseDeactivate extracts the finger index of a DEACTIVATE payload.
func ParseDeactivate(c Command) (int, error) {
	if c.Kind != KindDeactivate || len(c.Data) < 1 {
		return 0, ErrBadPayload
	}
	f := int(c.Int(0, -1))
	if f < 0 {
		return 0, ErrBadPayload
	}
	return f, nil
}

// ParsePong extracts T2/T3 from a PONG payload.
func ParsePong(c Command) (PongArgs, error) {
	if c.Kind != KindPong || len(c.Data) < 2 {
		return PongArgs{}, ErrBadPayload
	}
	return PongArgs{T2Us: c.Uint64(0, 0), T3Us: c.Uint64(1, 0)}, nil
}
