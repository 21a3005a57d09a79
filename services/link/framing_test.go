package link

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buzzcode-go/protocol"
)

// chunkReader delivers its script one slice per Read call, simulating a
// stream that splits and concatenates frames arbitrarily.
type chunkReader struct {
	chunks [][]byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if len(c.chunks[0]) == 0 {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func framed(s string) []byte {
	return append([]byte(s), protocol.Terminator)
}

func TestSingleFrame(t *testing.T) {
	fr := NewFramer(&chunkReader{chunks: [][]byte{framed("PING:1|100")}})
	f, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "PING:1|100", string(f))

	_, err = fr.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestConcatenatedFrames(t *testing.T) {
	var both []byte
	both = append(both, framed("PING:1|100")...)
	both = append(both, framed("PONG:1|100|150|160")...)
	fr := NewFramer(&chunkReader{chunks: [][]byte{both}})

	f, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "PING:1|100", string(f))

	f, err = fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "PONG:1|100|150|160", string(f))
}

func TestPartialFrameAcrossReads(t *testing.T) {
	whole := framed("HEARTBEAT:42|999999")
	fr := NewFramer(&chunkReader{chunks: [][]byte{
		whole[:5], whole[5:11], whole[11:],
	}})
	f, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "HEARTBEAT:42|999999", string(f))
}

func TestTailCarriesIntoNextRead(t *testing.T) {
	first := framed("PING:1|1")
	second := framed("PING:2|2")
	// First read ends mid-second-frame.
	split := append(append([]byte{}, first...), second[:4]...)
	fr := NewFramer(&chunkReader{chunks: [][]byte{split, second[4:]}})

	f, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "PING:1|1", string(f))

	f, err = fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "PING:2|2", string(f))
}

func TestEmptyFramesSkipped(t *testing.T) {
	fr := NewFramer(&chunkReader{chunks: [][]byte{
		{protocol.Terminator, protocol.Terminator},
		framed("PING:1|1"),
	}})
	f, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "PING:1|1", string(f))
}

func TestOversizeFrameResyncs(t *testing.T) {
	junk := bytes.Repeat([]byte{'x'}, maxFrameLen+100)
	script := append(append([]byte{}, junk...), protocol.Terminator)
	script = append(script, framed("PING:9|9")...)
	fr := NewFramer(&chunkReader{chunks: [][]byte{script}})

	// The truncated junk remainder comes out as one (garbage) frame, then
	// the stream resynchronizes.
	for {
		f, err := fr.ReadFrame()
		require.NoError(t, err)
		if string(f) == "PING:9|9" {
			return
		}
	}
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("BUZZ:5|1000000|2|80|100|235")))
	assert.Equal(t, framed("BUZZ:5|1000000|2|80|100|235"), buf.Bytes())
}
