package link

import (
	"io"

	"buzzcode-go/protocol"
)

// maxFrameLen bounds a single de-framed message; anything longer is a
// corrupt stream and the partial frame is discarded.
const maxFrameLen = 512

// Framer splits a byte stream into messages on the terminator byte. Reads
// may deliver partial frames or several concatenated ones; the tail is
// buffered across reads.
type Framer struct {
	r    io.Reader
	buf  [maxFrameLen]byte
	tail []byte
	// queued frames fully contained in the last read
	ready [][]byte
}

func NewFramer(r io.Reader) *Framer {
	return &Framer{r: r}
}

// ReadFrame returns the next de-framed message, blocking on the underlying
// reader when none is buffered. The terminator is stripped.
func (f *Framer) ReadFrame() ([]byte, error) {
	for {
		if len(f.ready) > 0 {
			frame := f.ready[0]
			f.ready = f.ready[1:]
			return frame, nil
		}
		n, err := f.r.Read(f.buf[:])
		if n > 0 {
			f.feed(f.buf[:n])
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

func (f *Framer) feed(p []byte) {
	for _, b := range p {
		if b == protocol.Terminator {
			if len(f.tail) > 0 {
				frame := make([]byte, len(f.tail))
				copy(frame, f.tail)
				f.ready = append(f.ready, frame)
			}
			f.tail = f.tail[:0]
			continue
		}
		if len(f.tail) >= maxFrameLen {
			// Corrupt stream; resync at the next terminator.
			println("[LINK] frame overflow, discarding", len(f.tail), "bytes")
			f.tail = f.tail[:0]
		}
		f.tail = append(f.tail, b)
	}
}

// WriteFrame appends the terminator and writes the whole frame.
func WriteFrame(w io.Writer, frame []byte) error {
	out := make([]byte, 0, len(frame)+1)
	out = append(out, frame...)
	out = append(out, protocol.Terminator)
	_, err := w.Write(out)
	return err
}
