package protocol

import "errors"

// Errors returned by the codec. Decode failures carry no state: the caller
// drops the message and moves on.
var (
	ErrEmpty         = errors.New("protocol: empty message")
	ErrNoSeparator   = errors.New("protocol: missing kind separator")
	ErrUnknownKind   = errors.New("protocol: unknown command kind")
	ErrBadSequence   = errors.New("protocol: sequence not a base-10 integer")
	ErrBadTimestamp  = errors.New("protocol: timestamp not a base-10 integer")
	ErrTooManyValues = errors.New("protocol: too many data values")
	ErrValueTooLong  = errors.New("protocol: data value over length limit")
	ErrBadPayload    = errors.New("protocol: malformed payload for kind")
)
