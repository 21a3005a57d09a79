// Package clocksync estimates the clock offset and one-way transport latency
// between two paired devices from PING/PONG round trips.
//
// One exchange yields four timestamps: T1 local send, T2 remote receive,
// T3 remote send, T4 local receive, all on their owner's monotonic
// microsecond clock. From those:
//
//	offset = ((T2-T1)+(T3-T4))/2   (remote clock minus local clock)
//	rtt    = (T4-T1)-(T3-T2)
//
// Until three good samples exist the engine reports "not synced" and callers
// fall back to uncompensated immediate action. Degradation is silent: a
// rejected sample leaves every estimate untouched.
package clocksync

import (
	"sort"

	"buzzcode-go/x/timex"
)

// ---------------------------------------------------------------------------
// Tuning
// ---------------------------------------------------------------------------

// Empirical thresholds. Validated against 2.4GHz links at a few metres range;
// retune before trusting on anything slower.
const (
	offsetRingSize = 8
	minSamples     = 3

	// maxRTTUs discards round trips too slow to carry timing information.
	maxRTTUs = 120_000

	// outlierMult rejects a latency sample exceeding this multiple of the
	// current smoothed value.
	outlierMult = 2

	// minDriftSpacingMs is the minimum gap between offset updates before a
	// drift-rate sample is taken; closer pairs divide by near-zero time.
	minDriftSpacingMs = 100

	// Lead-time window for remote scheduling. Below the floor the command
	// cannot reliably arrive in time; above the ceiling it would overlap
	// the burst itself.
	LeadMinUs     = 15_000
	LeadMaxUs     = 50_000
	LeadDefaultUs = 50_000

	// marginMult scales the latency deviation estimate into the lead-time
	// safety margin.
	marginMult = 6
)

// EMA weights, numerator over denominator.
const (
	offsetAlphaNum, offsetAlphaDen   = 1, 10
	driftAlphaNum, driftAlphaDen     = 3, 10
	latencyAlphaNum, latencyAlphaDen = 3, 10
)

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Engine holds the sync state for one link. Not safe for concurrent use;
// the owning control loop is its only caller.
type Engine struct {
	clk timex.Clock

	// Offset estimation, all µs.
	ring     [offsetRingSize]int64
	ringLen  int
	ringPos  int
	valid    bool
	tracked  int64   // EMA-tracked offset
	driftPMs float64 // offset drift, µs per ms of local time

	lastOffsetAtUs uint64 // local time of last accepted offset sample
	lastTripUs     uint64 // local time of last accepted round trip

	// Latency estimation, one-way, µs.
	latSmoothed uint64
	latDevEMA   uint64
	latSamples  int
}

func New(clk timex.Clock) *Engine {
	return &Engine{clk: clk}
}

// AddRoundTrip feeds one completed exchange. Returns false when the sample
// was rejected (RTT over threshold, or latency outlier after seeding).
func (e *Engine) AddRoundTrip(t1, t2, t3, t4 uint64) bool {
	if t4 < t1 || t3 < t2 {
		return false
	}
	rtt := (t4 - t1) - (t3 - t2)
	if rtt > maxRTTUs {
		return false
	}

	ok := e.addLatency(rtt / 2)
	e.addOffset(offsetOf(t1, t2, t3, t4), t4)
	e.lastTripUs = t4
	return ok
}

// offsetOf computes remote-minus-local from one exchange.
func offsetOf(t1, t2, t3, t4 uint64) int64 {
	return (int64(t2) - int64(t1) + int64(t3) - int64(t4)) / 2
}

func (e *Engine) addOffset(sample int64, nowUs uint64) {
	e.ring[e.ringPos] = sample
	e.ringPos = (e.ringPos + 1) % offsetRingSize
	if e.ringLen < offsetRingSize {
		e.ringLen++
	}

	if !e.valid {
		if e.ringLen < minSamples {
			return
		}
		e.tracked = e.median()
		e.valid = true
		e.lastOffsetAtUs = nowUs
		return
	}

	prev := e.tracked
	e.tracked = (offsetAlphaNum*sample + (offsetAlphaDen-offsetAlphaNum)*prev) / offsetAlphaDen

	// Drift rate from consecutive tracked offsets, skipped when the
	// samples are too close together to divide meaningfully.
	elapsedMs := (nowUs - e.lastOffsetAtUs) / 1000
	if elapsedMs >= minDriftSpacingMs {
		rate := float64(e.tracked-prev) / float64(elapsedMs)
		e.driftPMs = (float64(driftAlphaNum)*rate + float64(driftAlphaDen-driftAlphaNum)*e.driftPMs) / float64(driftAlphaDen)
		e.lastOffsetAtUs = nowUs
	}
}

func (e *Engine) addLatency(sample uint64) bool {
	if e.latSamples == 0 {
		e.latSmoothed = sample
		e.latSamples = 1
		return true
	}
	if sample > outlierMult*e.latSmoothed {
		return false
	}
	dev := absDiff(sample, e.latSmoothed)
	e.latSmoothed = (latencyAlphaNum*sample + (latencyAlphaDen-latencyAlphaNum)*e.latSmoothed) / latencyAlphaDen
	e.latDevEMA = (latencyAlphaNum*dev + (latencyAlphaDen-latencyAlphaNum)*e.latDevEMA) / latencyAlphaDen
	e.latSamples++
	return true
}

func (e *Engine) median() int64 {
	tmp := make([]int64, e.ringLen)
	copy(tmp, e.ring[:e.ringLen])
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })
	mid := len(tmp) / 2
	if len(tmp)%2 == 0 {
		return (tmp[mid-1] + tmp[mid]) / 2
	}
	return tmp[mid]
}

// ---------------------------------------------------------------------------
// Readouts
// ---------------------------------------------------------------------------

// Synced reports whether the offset estimate is trustworthy.
func (e *Engine) Synced() bool { return e.valid }

// OffsetUs returns the drift-corrected remote-minus-local offset. The second
// return is false until the estimate is valid.
func (e *Engine) OffsetUs() (int64, bool) {
	if !e.valid {
		return 0, false
	}
	elapsedMs := (e.clk.NowUs() - e.lastOffsetAtUs) / 1000
	return e.tracked + int64(e.driftPMs*float64(elapsedMs)), true
}

// ToRemoteUs converts a local timestamp to the remote clock. Without a valid
// offset the input is returned unchanged, with ok=false.
func (e *Engine) ToRemoteUs(localUs uint64) (uint64, bool) {
	off, ok := e.OffsetUs()
	if !ok {
		return localUs, false
	}
	return uint64(int64(localUs) + off), true
}

// LatencyUs returns the smoothed one-way latency, or 0 while fewer than
// three samples have been accepted.
func (e *Engine) LatencyUs() uint64 {
	if e.latSamples < minSamples {
		return 0
	}
	return e.latSmoothed
}

// LeadTimeUs returns how far ahead of the intended fire time a remote
// command should be sent. Never zero; a safe default before measurement.
func (e *Engine) LeadTimeUs() uint64 {
	if e.latSamples < minSamples {
		return LeadDefaultUs
	}
	lead := 2*e.latSmoothed + marginMult*e.latDevEMA
	if lead < LeadMinUs {
		return LeadMinUs
	}
	if lead > LeadMaxUs {
		return LeadMaxUs
	}
	return lead
}

// TimeSinceRoundTripUs returns the local time elapsed since the last
// accepted exchange, so the caller can drive its own timeout policy.
func (e *Engine) TimeSinceRoundTripUs() uint64 {
	if e.lastTripUs == 0 {
		return 0
	}
	return e.clk.NowUs() - e.lastTripUs
}

// Reset drops all state, offset and latency both. Used on reconnect.
func (e *Engine) Reset() {
	clk := e.clk
	*e = Engine{clk: clk}
}

// ResetLatency drops only the latency estimate, keeping the offset. Used
// when the link characteristics change but the clocks have not.
func (e *Engine) ResetLatency() {
	e.latSmoothed = 0
	e.latDevEMA = 0
	e.latSamples = 0
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
