// Package protocol implements the inter-device command codec.
//
// Wire format, one command per EOT-framed message:
//
//	KIND:sequenceId|timestamp[|value0|value1|...]
//
// Example: BUZZ:5|1000000|2|80|100|235
//
// The kind string is separated from the parameters by a single ':'; all
// parameters after it are '|'-delimited. Data values are positional and
// interpreted per kind. The codec is stateless and makes no ordering
// assumptions beyond what the transport provides.
package protocol

import (
	"bytes"
	"strings"

	"buzzcode-go/x/strconvx"
)

const (
	kindSep  = ':'
	fieldSep = '|'

	// MaxDataValues bounds the positional payload.
	MaxDataValues = 8
	// MaxValueLen bounds each encoded data value.
	MaxValueLen = 32

	// Terminator is the framing byte the link layer appends to each
	// encoded command and strips before delivery (ASCII EOT).
	Terminator byte = 0x04
)

// Handshake strings, sent bare (not as commands) once per connection to
// classify the peer's role.
const (
	HandshakeFollower = "IDENTIFY:FOLLOWER"
	HandshakeConsole  = "IDENTIFY:CONSOLE"
)

// Command is one inter-device command. Immutable once encoded; each side
// owns its own instance.
type Command struct {
	Kind        Kind
	Seq         uint32
	TimestampUs uint64
	Data        []string
}

// New builds a command with no data values.
func New(kind Kind, seq uint32, tsUs uint64) Command {
	return Command{Kind: kind, Seq: seq, TimestampUs: tsUs}
}

// Encode renders the wire form. It fails if the payload exceeds the value
// count or length limits.
func (c Command) Encode() ([]byte, error) {
	if len(c.Data) > MaxDataValues {
		return nil, ErrTooManyValues
	}
	for _, v := range c.Data {
		if len(v) > MaxValueLen {
			return nil, ErrValueTooLong
		}
	}

	var b bytes.Buffer
	b.Grow(32 + len(c.Data)*8)
	b.WriteString(c.Kind.String())
	b.WriteByte(kindSep)
	b.WriteString(strconvx.FormatUint(uint64(c.Seq), 10))
	b.WriteByte(fieldSep)
	b.WriteString(strconvx.FormatUint(c.TimestampUs, 10))
	for _, v := range c.Data {
		b.WriteByte(fieldSep)
		b.WriteString(v)
	}
	return b.Bytes(), nil
}

// Decode parses one de-framed message. Missing trailing data values are
// left absent; accessors apply per-call-site defaults.
func Decode(raw []byte) (Command, error) {
	s := string(raw)
	if len(s) < 3 {
		return Command{}, ErrEmpty
	}

	ci := strings.IndexByte(s, kindSep)
	if ci < 0 {
		return Command{}, ErrNoSeparator
	}
	kind, ok := ParseKind(s[:ci])
	if !ok {
		return Command{}, ErrUnknownKind
	}

	params := strings.Split(s[ci+1:], string(rune(fieldSep)))
	if len(params) < 2 {
		return Command{}, ErrBadSequence
	}
	seq, err := strconvx.ParseUint(params[0], 10, 32)
	if err != nil {
		return Command{}, ErrBadSequence
	}
	ts, err := strconvx.ParseUint(params[1], 10, 64)
	if err != nil {
		return Command{}, ErrBadTimestamp
	}

	cmd := Command{Kind: kind, Seq: uint32(seq), TimestampUs: ts}
	if rest := params[2:]; len(rest) > 0 {
		if len(rest) > MaxDataValues {
			return Command{}, ErrTooManyValues
		}
		cmd.Data = rest
	}
	return cmd, nil
}

// Int returns data value i as int64, or def when absent or non-numeric.
func (c Command) Int(i int, def int64) int64 {
	if i < 0 || i >= len(c.Data) {
		return def
	}
	v, err := strconvx.ParseInt(c.Data[i], 10, 64)
	if err != nil {
		return def
	}
	return v
}

// Uint64 returns data value i as uint64, or def when absent or non-numeric.
func (c Command) Uint64(i int, def uint64) uint64 {
	if i < 0 || i >= len(c.Data) {
		return def
	}
	v, err := strconvx.ParseUint(c.Data[i], 10, 64)
	if err != nil {
		return def
	}
	return v
}

func (c *Command) appendInt(v int64) {
	c.Data = append(c.Data, strconvx.FormatInt(v, 10))
}

func (c *Command) appendUint(v uint64) {
	c.Data = append(c.Data, strconvx.FormatUint(v, 10))
}
