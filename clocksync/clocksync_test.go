package clocksync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buzzcode-go/x/timex"
)

// feed injects one exchange with the given RTT (µs), split evenly between
// the two directions, remote clock offset by off.
func feed(e *Engine, clk *timex.Manual, rttUs uint64, off int64) bool {
	oneWay := rttUs / 2
	t1 := clk.NowUs()
	t2 := uint64(int64(t1+oneWay) + off)
	t3 := t2 + 50 // remote processing time
	t4 := t1 + rttUs + 50
	clk.Set(t4)
	return e.AddRoundTrip(t1, t2, t3, t4)
}

func TestOffsetFormula(t *testing.T) {
	assert.Equal(t, int64(35), offsetOf(1000, 1050, 2000, 1980))
}

func TestNotSyncedBeforeThreeSamples(t *testing.T) {
	clk := timex.NewManual(1_000_000)
	e := New(clk)

	require.True(t, feed(e, clk, 2000, 500))
	assert.False(t, e.Synced())
	_, ok := e.OffsetUs()
	assert.False(t, ok)

	clk.AdvanceMs(200)
	require.True(t, feed(e, clk, 2000, 500))
	assert.False(t, e.Synced())

	clk.AdvanceMs(200)
	require.True(t, feed(e, clk, 2000, 500))
	assert.True(t, e.Synced())
	off, ok := e.OffsetUs()
	require.True(t, ok)
	assert.Equal(t, int64(500), off)
}

func TestLatencySeedAndSmoothing(t *testing.T) {
	clk := timex.NewManual(1_000_000)
	e := New(clk)

	// RTTs 2000, 2200, 2100 -> one-way 1000, 1100, 1050.
	require.True(t, feed(e, clk, 2000, 0))
	assert.Equal(t, uint64(0), e.LatencyUs(), "untrusted after one sample")

	clk.AdvanceMs(500)
	require.True(t, feed(e, clk, 2200, 0))
	assert.Equal(t, uint64(0), e.LatencyUs(), "untrusted after two samples")

	clk.AdvanceMs(500)
	require.True(t, feed(e, clk, 2100, 0))
	// seed 1000, then (3*1100+7*1000)/10 = 1030, then (3*1050+7*1030)/10 = 1036.
	assert.Equal(t, uint64(1036), e.LatencyUs())
}

func TestLatencyOutlierRejected(t *testing.T) {
	clk := timex.NewManual(1_000_000)
	e := New(clk)
	for i := 0; i < 3; i++ {
		clk.AdvanceMs(500)
		require.True(t, feed(e, clk, 2000, 0))
	}
	before := e.LatencyUs()
	require.NotZero(t, before)

	clk.AdvanceMs(500)
	assert.False(t, feed(e, clk, 4200, 0), "over 2x smoothed must be rejected")
	assert.Equal(t, before, e.LatencyUs(), "rejected sample leaves estimate untouched")
}

func TestSlowRoundTripDiscarded(t *testing.T) {
	clk := timex.NewManual(1_000_000)
	e := New(clk)
	assert.False(t, feed(e, clk, maxRTTUs+1000, 0))
	assert.Equal(t, 0, e.ringLen)
	assert.Equal(t, 0, e.latSamples)
}

func TestOffsetTrackedByEMA(t *testing.T) {
	clk := timex.NewManual(1_000_000)
	e := New(clk)
	for i := 0; i < 3; i++ {
		clk.AdvanceMs(500)
		require.True(t, feed(e, clk, 2000, 1000))
	}
	off, _ := e.OffsetUs()
	require.Equal(t, int64(1000), off)

	// One divergent sample moves the tracked offset by a tenth.
	clk.AdvanceMs(500)
	require.True(t, feed(e, clk, 2000, 2000))
	off, _ = e.OffsetUs()
	assert.Equal(t, int64(1100), off)
}

func TestDriftCompensation(t *testing.T) {
	clk := timex.NewManual(1_000_000)
	e := New(clk)
	for i := 0; i < 3; i++ {
		clk.AdvanceMs(500)
		require.True(t, feed(e, clk, 2000, 0))
	}

	// Remote gains 1µs/ms. Drive enough spaced samples for the drift EMA
	// to converge, then check extrapolation between updates.
	off := int64(0)
	for i := 0; i < 40; i++ {
		clk.AdvanceMs(500)
		off += 500
		require.True(t, feed(e, clk, 2000, off))
	}
	base, ok := e.OffsetUs()
	require.True(t, ok)

	clk.AdvanceMs(1000)
	extrapolated, _ := e.OffsetUs()
	assert.Greater(t, extrapolated, base, "tracked offset must advance with drift between samples")
}

func TestLeadTimeDefaultAndClamp(t *testing.T) {
	clk := timex.NewManual(1_000_000)
	e := New(clk)
	assert.Equal(t, uint64(LeadDefaultUs), e.LeadTimeUs())

	// Tiny steady latency clamps to the floor.
	for i := 0; i < 3; i++ {
		clk.AdvanceMs(500)
		require.True(t, feed(e, clk, 2000, 0))
	}
	assert.Equal(t, uint64(LeadMinUs), e.LeadTimeUs())
}

func TestLeadTimeCeiling(t *testing.T) {
	clk := timex.NewManual(1_000_000)
	e := New(clk)
	for i := 0; i < 3; i++ {
		clk.AdvanceMs(500)
		require.True(t, feed(e, clk, 60_000, 0))
	}
	assert.Equal(t, uint64(LeadMaxUs), e.LeadTimeUs())
}

func TestTimeSinceRoundTrip(t *testing.T) {
	clk := timex.NewManual(1_000_000)
	e := New(clk)
	assert.Equal(t, uint64(0), e.TimeSinceRoundTripUs())

	require.True(t, feed(e, clk, 2000, 0))
	clk.AdvanceMs(250)
	assert.Equal(t, uint64(250_000), e.TimeSinceRoundTripUs())
}

func TestReset(t *testing.T) {
	clk := timex.NewManual(1_000_000)
	e := New(clk)
	for i := 0; i < 3; i++ {
		clk.AdvanceMs(500)
		require.True(t, feed(e, clk, 2000, 100))
	}
	require.True(t, e.Synced())

	e.ResetLatency()
	assert.True(t, e.Synced(), "latency reset keeps offset")
	assert.Equal(t, uint64(0), e.LatencyUs())

	e.Reset()
	assert.False(t, e.Synced())
	assert.Equal(t, uint64(LeadDefaultUs), e.LeadTimeUs())
}

func TestToRemote(t *testing.T) {
	clk := timex.NewManual(1_000_000)
	e := New(clk)
	_, ok := e.ToRemoteUs(5_000_000)
	assert.False(t, ok)

	for i := 0; i < 3; i++ {
		clk.AdvanceMs(500)
		require.True(t, feed(e, clk, 2000, 700))
	}
	remote, ok := e.ToRemoteUs(5_000_000)
	require.True(t, ok)
	assert.Equal(t, uint64(5_000_700), remote)
}
