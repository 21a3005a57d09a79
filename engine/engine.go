// Package engine orchestrates a stimulation session: it owns the session
// lifecycle, drives the per-step state machine through burst/rest/relax
// phases, generates a fresh pattern each cycle, and coordinates local and
// remote actuation using the clock-sync lead-time estimate.
//
// The engine is advanced once per control-loop tick by the owning service
// and never blocks. All collaborators are explicit instances passed at
// construction; nothing global.
package engine

import (
	"math/rand"

	"buzzcode-go/haptic"
	"buzzcode-go/pattern"
	"buzzcode-go/staging"
	"buzzcode-go/x/timex"
)

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Commander emits wire commands to the paired device. Nil on a follower or
// while no link is up; send failures are reported, not fatal.
type Commander interface {
	// Buzz requests a remote activation. activateAtUs is in the REMOTE
	// clock; zero means fire on receipt.
	Buzz(finger, amplitudePct, durationMs, freqHz int, activateAtUs uint64) bool
	// Deactivate requests a remote release.
	Deactivate(finger int) bool
}

// Sync is the read surface of the clock synchronization engine.
type Sync interface {
	Synced() bool
	LeadTimeUs() uint64
	// ToRemoteUs converts a local timestamp to the remote clock.
	ToRemoteUs(localUs uint64) (uint64, bool)
}

// Listener receives lifecycle events, delivered synchronously and in order
// from within Tick. Implementations must not call back into the engine.
type Listener interface {
	CycleComplete(count uint32)
	MacrocycleStart(count uint32)
	FrequencyChanged(finger, hz int)
	Activated(finger, amplitudePct int)
	Deactivated(finger int)
}

// NopListener discards all events.
type NopListener struct{}

func (NopListener) CycleComplete(uint32)      {}
func (NopListener) MacrocycleStart(uint32)    {}
func (NopListener) FrequencyChanged(int, int) {}
func (NopListener) Activated(int, int)        {}
func (NopListener) Deactivated(int)           {}

// ---------------------------------------------------------------------------
// Session parameters
// ---------------------------------------------------------------------------

// AmplitudeRange selects a fixed amplitude (Min==Max) or a uniform-random
// draw per step.
type AmplitudeRange struct {
	Min, Max int
}

// SessionParams configure one session.
type SessionParams struct {
	DurationSec   int // 0 = run until stopped
	Kind          pattern.Kind
	BurstMs       float64
	RestMs        float64
	JitterPercent float64
	NumFingers    int
	Mirror        bool
	Amplitude     AmplitudeRange
	// Frequency randomization window; zero FreqMaxHz disables it.
	FreqMinHz int
	FreqMaxHz int
}

// Macrocycle structure. Carried over from validated therapy parameters;
// tunable only with domain sign-off.
const (
	PatternsPerMacrocycle = 3
	// macroRelaxMult scales the pattern relax into the macrocycle rest.
	macroRelaxMult = 2
	// freqStepHz quantizes randomized drive frequencies.
	freqStepHz = 5
)

// ---------------------------------------------------------------------------
// State machine
// ---------------------------------------------------------------------------

// State is the step machine position.
type State uint8

const (
	StateIdle State = iota
	StateActive
	StateWaitingOff
	StateWaitingRelax
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateActive:
		return "ACTIVE"
	case StateWaitingOff:
		return "WAITING_OFF"
	case StateWaitingRelax:
		return "WAITING_RELAX"
	}
	return "?"
}

// Engine drives one device's half of a session. Single-threaded; the owning
// control loop is its only caller.
type Engine struct {
	clk  timex.Clock
	drv  haptic.Driver
	buf  *staging.Buffer
	rng  *rand.Rand
	l    Listener
	cmd  Commander // nil unless leading
	sync Sync      // nil unless leading

	params  SessionParams
	running bool
	paused  bool

	pat          pattern.Pattern
	state        State
	step         int
	patternCount int // 0..PatternsPerMacrocycle-1
	cycleCount   uint32
	macroCount   uint32

	sessionStartUs uint64
	phaseStartUs   uint64 // start of the current phase (fire time for ACTIVE)
	pauseStartUs   uint64

	activeFinger       int
	activeRemoteFinger int

	// Current per-finger drive frequency, carried in outgoing BUZZ
	// commands and retuned at macrocycle boundaries.
	freqHz [pattern.MaxFingers]int
}

// defaultFreqHz is the LRA resonant default used when no randomization
// window is configured.
const defaultFreqHz = 250

// New builds an engine. cmd and sync may be nil (follower / standalone).
func New(clk timex.Clock, drv haptic.Driver, buf *staging.Buffer, rng *rand.Rand, l Listener) *Engine {
	if l == nil {
		l = NopListener{}
	}
	return &Engine{clk: clk, drv: drv, buf: buf, rng: rng, l: l, activeFinger: -1, activeRemoteFinger: -1}
}

// SetCommander installs or clears the remote command sink. Safe between
// ticks only.
func (e *Engine) SetCommander(cmd Commander, sync Sync) {
	e.cmd = cmd
	e.sync = sync
}

// SetListener replaces the event listener. Safe between ticks only.
func (e *Engine) SetListener(l Listener) {
	if l == nil {
		l = NopListener{}
	}
	e.l = l
}

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

// Start resets all counters, generates the first pattern, and enters the
// step machine at IDLE.
func (e *Engine) Start(p SessionParams) error {
	pat, err := pattern.Generate(p.Kind, e.genParams(p), e.rng)
	if err != nil {
		return err
	}
	e.params = p
	e.pat = pat
	e.state = StateIdle
	e.step = 0
	e.patternCount = 0
	e.cycleCount = 0
	e.macroCount = 0
	e.activeFinger = -1
	e.activeRemoteFinger = -1
	e.running = true
	e.paused = false
	base := p.FreqMinHz
	if base <= 0 {
		base = defaultFreqHz
	}
	for i := range e.freqHz {
		e.freqHz[i] = base
	}
	e.sessionStartUs = e.clk.NowUs()
	e.phaseStartUs = e.sessionStartUs
	e.buf.Clear()
	e.buf.BeginMacrocycle()
	e.l.MacrocycleStart(e.macroCount)
	return nil
}

// Pause freezes stepping, releases any active actuator and drops staged
// lead-time activations: nothing may drive a motor while paused. The
// producer is quiesced once paused is set, so the clear cannot race.
func (e *Engine) Pause() {
	if !e.running || e.paused {
		return
	}
	e.paused = true
	e.pauseStartUs = e.clk.NowUs()
	e.releaseActive()
	e.buf.Clear()
}

// Resume unfreezes stepping, shifting phase references so elapsed-time
// checks exclude the paused interval. A burst interrupted by pause resumes
// for its remainder.
func (e *Engine) Resume() {
	if !e.running || !e.paused {
		return
	}
	shift := e.clk.NowUs() - e.pauseStartUs
	e.sessionStartUs += shift
	e.phaseStartUs += shift
	e.paused = false
	if e.state == StateActive {
		e.reactivate()
	}
}

// Stop ends the session. Idempotent, callable from any state; actuator
// release is the non-skippable final step.
func (e *Engine) Stop() {
	if !e.running {
		e.drv.StopAll()
		return
	}
	e.running = false
	e.paused = false
	e.activeFinger = -1
	e.activeRemoteFinger = -1
	e.buf.Clear()
	e.drv.StopAll()
}

// Running reports whether a session is in progress (paused counts).
func (e *Engine) Running() bool { return e.running }

// Paused reports whether stepping is frozen.
func (e *Engine) Paused() bool { return e.paused }

// CurrentState returns the step machine position.
func (e *Engine) CurrentState() State { return e.state }

// CycleCount returns completed macrocycles.
func (e *Engine) CycleCount() uint32 { return e.cycleCount }

// ElapsedUs returns session time excluding paused intervals.
func (e *Engine) ElapsedUs() uint64 {
	if !e.running {
		return 0
	}
	now := e.clk.NowUs()
	if e.paused {
		now = e.pauseStartUs
	}
	return now - e.sessionStartUs
}

// ---------------------------------------------------------------------------
// Tick
// ---------------------------------------------------------------------------

// Tick advances the step machine by at most one transition and fires any
// staged activation that has come due. Never blocks.
func (e *Engine) Tick() {
	if e.running && !e.paused {
		if e.expired() {
			println("[ENGINE] session duration reached, stopping")
			e.Stop()
			return
		}
		e.stepMachine()
	}
	e.drainDue()
}

func (e *Engine) expired() bool {
	return e.params.DurationSec > 0 &&
		e.clk.NowUs()-e.sessionStartUs >= uint64(e.params.DurationSec)*1_000_000
}

func (e *Engine) stepMachine() {
	now := e.clk.NowUs()
	switch e.state {
	case StateIdle:
		e.fireStep(now)

	case StateActive:
		// phaseStartUs may be a future fire time under lead-time
		// compensation; elapsed is zero until then.
		if now >= e.phaseStartUs && now-e.phaseStartUs >= usOf(e.pat.BurstMs) {
			e.releaseActive()
			e.phaseStartUs = now
			e.state = StateWaitingOff
		}

	case StateWaitingOff:
		if now-e.phaseStartUs >= usOf(e.pat.RestMs[e.step]) {
			e.advanceStep(now)
		}

	case StateWaitingRelax:
		if now-e.phaseStartUs >= macroRelaxMult*usOf(e.pat.RelaxMs) {
			e.finishMacrocycle(now)
		}
	}
}

// fireStep begins the current step: choose amplitude, emit the remote buzz,
// and activate (or stage) the local actuator.
func (e *Engine) fireStep(now uint64) {
	finger := e.pat.Primary[e.step]
	remote := e.pat.Secondary[e.step]
	amp := e.chooseAmplitude()
	durMs := int(e.pat.BurstMs)
	freq := e.freqHz[finger]
	isLast := e.patternCount == PatternsPerMacrocycle-1 && e.step == e.pat.Steps()-1

	fireAt := now
	compensated := false
	if e.cmd != nil && e.sync != nil && e.sync.Synced() {
		fireAt = now + e.sync.LeadTimeUs()
		compensated = true
	}

	if e.cmd != nil {
		remoteAt := uint64(0)
		if compensated {
			if at, ok := e.sync.ToRemoteUs(fireAt); ok {
				remoteAt = at
			}
		}
		if !e.cmd.Buzz(remote, amp, durMs, freq, remoteAt) {
			println("[ENGINE] remote buzz send failed, finger", remote)
		}
	}

	if compensated {
		ok := e.buf.Stage(staging.Event{
			ActivateAtUs:     fireAt,
			Finger:           uint8(finger),
			AmplitudePct:     uint8(amp),
			DurationMs:       uint16(durMs),
			FrequencyHz:      uint16(freq),
			IsMacrocycleLast: isLast,
		})
		if !ok {
			println("[ENGINE] staging buffer full, timing fault: firing immediately, finger", finger)
			e.activateLocal(finger, amp)
		}
	} else {
		e.activateLocal(finger, amp)
		if isLast {
			// Nothing staged this macrocycle path; clear the in-flight
			// flag directly.
			e.buf.EndMacrocycle()
		}
	}

	e.activeFinger = finger
	e.activeRemoteFinger = remote
	e.phaseStartUs = fireAt
	e.state = StateActive
}

// activateLocal drives the actuator now, skipping disabled or faulting
// channels without halting the session.
func (e *Engine) activateLocal(finger, amp int) {
	if !e.drv.Enabled(finger) {
		println("[ENGINE] finger", finger, "disabled, skipping step")
		return
	}
	if err := e.drv.Activate(finger, amp); err != nil {
		println("[ENGINE] activate failed, finger", finger, ":", err.Error())
		return
	}
	e.l.Activated(finger, amp)
}

func (e *Engine) releaseActive() {
	if e.activeFinger < 0 {
		return
	}
	if err := e.drv.Deactivate(e.activeFinger); err != nil {
		println("[ENGINE] deactivate failed, finger", e.activeFinger, ":", err.Error())
	} else {
		e.l.Deactivated(e.activeFinger)
	}
	if e.cmd != nil && e.activeRemoteFinger >= 0 && e.paused {
		// Remote self-times its burst; an explicit release is only needed
		// when pause interrupts mid-burst.
		e.cmd.Deactivate(e.activeRemoteFinger)
	}
	e.activeFinger = -1
	e.activeRemoteFinger = -1
}

// reactivate re-drives the finger whose burst was interrupted by pause.
func (e *Engine) reactivate() {
	finger := e.pat.Primary[e.step]
	amp := e.chooseAmplitude()
	e.activateLocal(finger, amp)
	e.activeFinger = finger
	e.activeRemoteFinger = e.pat.Secondary[e.step]
}

// advanceStep moves past a completed rest: next finger, next pattern, or the
// macrocycle relax.
func (e *Engine) advanceStep(now uint64) {
	e.step++
	if e.step < e.pat.Steps() {
		e.state = StateIdle
		return
	}

	e.step = 0
	e.patternCount++
	if e.patternCount < PatternsPerMacrocycle {
		// No rest between patterns inside a macrocycle.
		if !e.nextPattern() {
			return
		}
		e.state = StateIdle
		return
	}

	e.phaseStartUs = now
	e.state = StateWaitingRelax
}

// finishMacrocycle ends the relax: report the completed cycle, regenerate,
// optionally retune frequencies, and announce the next macrocycle.
func (e *Engine) finishMacrocycle(now uint64) {
	e.cycleCount++
	e.l.CycleComplete(e.cycleCount)

	e.patternCount = 0
	if !e.nextPattern() {
		return
	}
	e.randomizeFrequencies()

	e.macroCount++
	e.buf.BeginMacrocycle()
	e.l.MacrocycleStart(e.macroCount)

	e.phaseStartUs = now
	e.state = StateIdle
}

func (e *Engine) nextPattern() bool {
	pat, err := pattern.Generate(e.params.Kind, e.genParams(e.params), e.rng)
	if err != nil {
		println("[ENGINE] pattern generation failed:", err.Error())
		e.Stop()
		return false
	}
	e.pat = pat
	return true
}

// randomizeFrequencies draws each finger's drive frequency from the fixed
// step set inside the configured window.
func (e *Engine) randomizeFrequencies() {
	p := e.params
	if p.FreqMaxHz <= p.FreqMinHz || e.rng == nil {
		return
	}
	steps := (p.FreqMaxHz-p.FreqMinHz)/freqStepHz + 1
	for f := 0; f < p.NumFingers; f++ {
		hz := p.FreqMinHz + e.rng.Intn(steps)*freqStepHz
		if err := e.drv.SetFrequency(f, hz); err != nil {
			println("[ENGINE] setfrequency failed, finger", f, ":", err.Error())
			continue
		}
		e.freqHz[f] = hz
		e.l.FrequencyChanged(f, hz)
	}
}

func (e *Engine) chooseAmplitude() int {
	a := e.params.Amplitude
	if a.Max <= a.Min || e.rng == nil {
		return a.Min
	}
	return a.Min + e.rng.Intn(a.Max-a.Min+1)
}

func (e *Engine) genParams(p SessionParams) pattern.Params {
	return pattern.Params{
		NumFingers:    p.NumFingers,
		BurstMs:       p.BurstMs,
		RestMs:        p.RestMs,
		JitterPercent: p.JitterPercent,
		Mirror:        p.Mirror,
	}
}

// drainDue fires staged activations whose deadline has arrived.
func (e *Engine) drainDue() {
	now := e.clk.NowUs()
	for {
		ev, ok := e.buf.Peek()
		if !ok || ev.ActivateAtUs > now {
			return
		}
		e.buf.Unstage()
		if !e.running || e.paused {
			continue
		}
		e.activateLocal(int(ev.Finger), int(ev.AmplitudePct))
	}
}

func usOf(ms float64) uint64 { return uint64(ms * 1000) }
