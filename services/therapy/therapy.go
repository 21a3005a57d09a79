// Package therapy runs the device's control loop: it owns the pattern
// execution engine (leader), the clock synchronization engine, inbound
// command dispatch, liveness heartbeats, and the safety stop paths.
//
// Bus surface:
//
//	therapy/control (consumed)  Control messages from console/profile
//	therapy/state   (published, retained) session status
//	link/rx         (consumed)  inbound wire commands
//	link/tx         (published) outbound wire commands
//	link/state      (consumed)  link up/down
//	battery/state   (consumed)  critical battery triggers emergency stop
//
// The loop itself is single-threaded: one goroutine advances everything and
// nothing blocks. All timing state lives in Loop so tests can drive it with
// a manual clock.
package therapy

import (
	"context"
	"time"

	"buzzcode-go/bus"
	"buzzcode-go/clocksync"
	"buzzcode-go/engine"
	"buzzcode-go/haptic"
	"buzzcode-go/protocol"
	"buzzcode-go/services/link"
	"buzzcode-go/staging"
	"buzzcode-go/x/timex"
)

// Liveness timing. The timeout is three missed beacons.
const (
	heartbeatIntervalUs = 2_000_000
	heartbeatTimeoutUs  = 6_000_000
	// probeIntervalUs paces PING probes while a session runs; an extra
	// probe fires at each macrocycle start.
	probeIntervalUs = 1_000_000
	// probeTimeoutUs writes off an unanswered PING so a lost PONG cannot
	// gate probing forever.
	probeTimeoutUs = 2_000_000

	// tickInterval is the control-loop cadence on real hardware.
	tickInterval = time.Millisecond
)

// Control is the payload accepted on therapy/control.
type Control struct {
	Cmd string // "start", "pause", "resume", "stop"
	// Params apply to "start" on the leader.
	Params engine.SessionParams
}

// Status is the retained payload published on therapy/state.
type Status struct {
	Running   bool
	Paused    bool
	Cycles    uint32
	PeerAlive bool
	Synced    bool
	LatencyUs uint64
}

// Loop is the single-threaded control loop core.
type Loop struct {
	conn *bus.Connection
	clk  timex.Clock
	drv  haptic.Driver
	role link.Role

	eng  *engine.Engine
	sync *clocksync.Engine
	seq  *protocol.Sequence
	buf  *staging.Buffer

	linkUp    bool
	peerAlive bool

	lastPeerUs      uint64
	lastBeatUs      uint64
	lastProbeUs     uint64
	probeRequested   bool
	probeOutstanding bool
	outstandingSeq   uint32
	outstandingT1Us  uint64

	// Follower burst deadlines, one per finger; zero when idle.
	offAtUs [5]uint64

	activations uint32

	lastStatus Status
}

// Stats summarizes a finished session, published on session/stats when the
// session stops.
type Stats struct {
	Cycles      uint32
	Activations uint32
	Reason      string
}

// NewLoop wires the loop. The engine is leader-only equipment but is built
// for both roles; a follower simply never starts it (remote BUZZes drive
// the actuator directly).
func NewLoop(conn *bus.Connection, clk timex.Clock, drv haptic.Driver, role link.Role, eng *engine.Engine, buf *staging.Buffer) *Loop {
	l := &Loop{
		conn: conn,
		clk:  clk,
		drv:  drv,
		role: role,
		eng:  eng,
		buf:  buf,
		sync: clocksync.New(clk),
		seq:  &protocol.Sequence{},
	}
	eng.SetListener(l)
	if role == link.RoleLeader {
		eng.SetCommander(l, l.sync)
	}
	return l
}

// Sync exposes the clock-sync readouts (for status/console).
func (l *Loop) Sync() *clocksync.Engine { return l.sync }

// Engine exposes the execution engine (for status/console).
func (l *Loop) Engine() *engine.Engine { return l.eng }

// ---------------------------------------------------------------------------
// engine.Commander via the bus
// ---------------------------------------------------------------------------

// Buzz sends a remote activation over link/tx.
func (l *Loop) Buzz(finger, amplitudePct, durationMs, freqHz int, activateAtUs uint64) bool {
	if !l.linkUp {
		return false
	}
	var cmd protocol.Command
	if activateAtUs > 0 {
		cmd = protocol.NewBuzzAt(l.seq.Next(), l.clk.NowUs(), finger, amplitudePct, durationMs, freqHz, activateAtUs)
	} else {
		cmd = protocol.NewBuzz(l.seq.Next(), l.clk.NowUs(), finger, amplitudePct, durationMs, freqHz)
	}
	l.send(cmd)
	l.activations++
	return true
}

// Deactivate sends a remote release over link/tx.
func (l *Loop) Deactivate(finger int) bool {
	if !l.linkUp {
		return false
	}
	l.send(protocol.NewDeactivate(l.seq.Next(), l.clk.NowUs(), finger))
	return true
}

func (l *Loop) send(cmd protocol.Command) {
	l.conn.Publish(l.conn.NewMessage(bus.T("link", "tx"), cmd, false))
}

// ---------------------------------------------------------------------------
// engine.Listener
// ---------------------------------------------------------------------------

func (l *Loop) CycleComplete(count uint32) {
	println("[THERAPY] macrocycle complete:", count)
	l.publishStatus()
}

// MacrocycleStart schedules a fresh latency probe at each macrocycle
// boundary, when the link is otherwise quiet.
func (l *Loop) MacrocycleStart(uint32) {
	l.probeRequested = true
}

func (l *Loop) FrequencyChanged(finger, hz int) {
	println("[THERAPY] finger", finger, "retuned to", hz, "Hz")
}

func (l *Loop) Activated(int, int) { l.activations++ }
func (l *Loop) Deactivated(int)    {}

// ---------------------------------------------------------------------------
// Control operations
// ---------------------------------------------------------------------------

// Apply handles one therapy/control message.
func (l *Loop) Apply(c Control) {
	switch c.Cmd {
	case "start":
		l.startSession(c.Params)
	case "pause":
		l.eng.Pause()
		l.sendSessionCtl(protocol.KindPauseSession)
		l.publishStatus()
	case "resume":
		l.eng.Resume()
		l.sendSessionCtl(protocol.KindResumeSession)
		l.publishStatus()
	case "stop":
		l.stopSession("console stop")
	default:
		println("[THERAPY] unknown control command:", c.Cmd)
	}
}

func (l *Loop) startSession(p engine.SessionParams) {
	if l.role != link.RoleLeader {
		println("[THERAPY] follower cannot start a session")
		return
	}
	if err := l.eng.Start(p); err != nil {
		println("[THERAPY] session start failed:", err.Error())
		return
	}
	l.activations = 0
	l.sendSessionCtl(protocol.KindStartSession)
	l.probeRequested = true
	l.probeOutstanding = false
	l.publishStatus()
}

// stopSession is every stop path's single implementation: engine stop (which
// releases the actuator last), remote notification, estimator reset.
func (l *Loop) stopSession(reason string) {
	wasRunning := l.eng.Running()
	println("[THERAPY] stopping session:", reason)
	l.eng.Stop()
	l.clearFollowerState()
	l.sendSessionCtl(protocol.KindStopSession)
	if wasRunning {
		l.publishStats(reason)
	}
	l.publishStatus()
}

// publishStats emits the end-of-session summary.
func (l *Loop) publishStats(reason string) {
	l.conn.Publish(l.conn.NewMessage(bus.T("session", "stats"), Stats{
		Cycles:      l.eng.CycleCount(),
		Activations: l.activations,
		Reason:      reason,
	}, false))
}

func (l *Loop) sendSessionCtl(kind protocol.Kind) {
	if l.role != link.RoleLeader || !l.linkUp {
		return
	}
	l.send(protocol.New(kind, l.seq.Next(), l.clk.NowUs()))
}

// ---------------------------------------------------------------------------
// Inbound wire commands
// ---------------------------------------------------------------------------

// HandleCommand dispatches one de-framed, decoded peer command.
func (l *Loop) HandleCommand(cmd protocol.Command) {
	now := l.clk.NowUs()
	l.lastPeerUs = now
	if !l.peerAlive {
		l.peerAlive = true
		l.publishStatus()
	}

	switch cmd.Kind {
	case protocol.KindHeartbeat:
		// Timer refresh only; duplicates are harmless.

	case protocol.KindPing:
		// T2 and T3 collapse to "now" at this loop's resolution.
		l.send(protocol.NewPong(cmd.Seq, cmd.TimestampUs, now, l.clk.NowUs()))

	case protocol.KindPong:
		l.handlePong(cmd, now)

	case protocol.KindBuzz:
		l.handleBuzz(cmd)

	case protocol.KindDeactivate:
		finger, err := protocol.ParseDeactivate(cmd)
		if err != nil {
			println("[THERAPY] bad deactivate payload")
			return
		}
		l.offAtUs[finger] = 0
		if err := l.drv.Deactivate(finger); err != nil {
			println("[THERAPY] deactivate failed, finger", finger)
		}

	case protocol.KindStartSession:
		l.activations = 0
		l.publishStatus()

	case protocol.KindPauseSession:
		l.clearFollowerState()
		l.drv.StopAll()
		l.publishStatus()

	case protocol.KindStopSession:
		l.clearFollowerState()
		l.drv.StopAll()
		l.publishStats("leader stop")
		l.publishStatus()

	case protocol.KindResumeSession:
		l.publishStatus()
	}
}

func (l *Loop) handlePong(cmd protocol.Command, t4 uint64) {
	if !l.probeOutstanding || cmd.Seq != l.outstandingSeq {
		// Stale reply from an expired or previous probe; a late answer
		// would skew the RTT estimate.
		return
	}
	l.probeOutstanding = false
	args, err := protocol.ParsePong(cmd)
	if err != nil {
		println("[THERAPY] bad pong payload")
		return
	}
	if !l.sync.AddRoundTrip(l.outstandingT1Us, args.T2Us, args.T3Us, t4) {
		println("[THERAPY] sync sample rejected")
	}
}

// handleBuzz executes a leader activation: scheduled through the staging
// buffer when it carries a deadline, immediate otherwise.
func (l *Loop) handleBuzz(cmd protocol.Command) {
	args, err := protocol.ParseBuzz(cmd)
	if err != nil {
		println("[THERAPY] bad buzz payload, dropped")
		return
	}
	if args.ActivateAtUs > 0 && args.ActivateAtUs > l.clk.NowUs() {
		ok := l.buf.Stage(staging.Event{
			ActivateAtUs: args.ActivateAtUs,
			Finger:       uint8(args.Finger),
			AmplitudePct: uint8(args.AmplitudePct),
			DurationMs:   uint16(args.DurationMs),
			FrequencyHz:  uint16(args.FrequencyHz),
		})
		if !ok {
			println("[THERAPY] staging buffer full, timing fault: firing now")
			l.fireBuzz(args)
		}
		return
	}
	l.fireBuzz(args)
}

func (l *Loop) fireBuzz(args protocol.BuzzArgs) {
	if !l.drv.Enabled(args.Finger) {
		println("[THERAPY] finger", args.Finger, "disabled, buzz skipped")
		return
	}
	if err := l.drv.Activate(args.Finger, args.AmplitudePct); err != nil {
		println("[THERAPY] activate failed, finger", args.Finger)
		return
	}
	l.offAtUs[args.Finger] = l.clk.NowUs() + uint64(args.DurationMs)*1000
	l.activations++
}

func (l *Loop) clearFollowerState() {
	l.buf.Clear()
	for i := range l.offAtUs {
		l.offAtUs[i] = 0
	}
}

// ---------------------------------------------------------------------------
// Link and battery events
// ---------------------------------------------------------------------------

// HandleLinkState reacts to link/state transitions.
func (l *Loop) HandleLinkState(level string) {
	up := level == "up"
	if up == l.linkUp {
		return
	}
	l.linkUp = up
	l.probeOutstanding = false // any in-flight probe died with the link
	if up {
		l.sync.Reset()
		l.lastPeerUs = l.clk.NowUs()
		l.lastBeatUs = 0 // beat immediately
		l.probeRequested = l.role == link.RoleLeader
	} else {
		l.peerAlive = false
		if l.eng.Running() {
			l.stopSession("link lost")
			return
		}
		l.clearFollowerState()
		l.drv.StopAll()
	}
	l.publishStatus()
}

// HandleBattery stops everything on a critical battery report.
func (l *Loop) HandleBattery(level string) {
	if level != "critical" {
		return
	}
	println("[THERAPY] battery critical, emergency stop")
	if l.eng.Running() {
		l.stopSession("battery critical")
		return
	}
	l.clearFollowerState()
	l.drv.StopAll()
}

// ---------------------------------------------------------------------------
// Tick
// ---------------------------------------------------------------------------

// Tick advances one control-loop iteration.
func (l *Loop) Tick() {
	now := l.clk.NowUs()

	l.eng.Tick()
	if l.role == link.RoleFollower {
		l.drainStaged(now)
	}
	l.expireBursts(now)

	if l.linkUp {
		l.heartbeat(now)
		if l.role == link.RoleLeader {
			l.probe(now)
		}
		if l.lastPeerUs > 0 && now-l.lastPeerUs > heartbeatTimeoutUs {
			l.peerAlive = false
			if l.eng.Running() {
				l.stopSession("peer timeout")
			} else {
				l.clearFollowerState()
				l.drv.StopAll()
				l.publishStatus()
			}
			l.lastPeerUs = now // one stop per timeout
		}
	}
}

func (l *Loop) heartbeat(now uint64) {
	if l.lastBeatUs != 0 && now-l.lastBeatUs < heartbeatIntervalUs {
		return
	}
	l.lastBeatUs = now
	l.send(protocol.NewHeartbeat(l.seq.Next(), now))
}

// probe sends a PING when one is due and none is outstanding. An
// unanswered probe expires after probeTimeoutUs; its late PONG, if any,
// is dropped as stale.
func (l *Loop) probe(now uint64) {
	if !l.eng.Running() {
		return
	}
	if l.probeOutstanding && now-l.outstandingT1Us >= probeTimeoutUs {
		println("[THERAPY] probe unanswered, retrying")
		l.probeOutstanding = false
	}
	due := l.probeRequested || l.lastProbeUs == 0 || now-l.lastProbeUs >= probeIntervalUs
	if !due || l.probeOutstanding {
		return
	}
	l.probeRequested = false
	l.probeOutstanding = true
	l.lastProbeUs = now
	l.outstandingSeq = l.seq.Next()
	l.outstandingT1Us = now
	l.send(protocol.New(protocol.KindPing, l.outstandingSeq, now))
}

// drainStaged fires due leader-scheduled buzzes on the follower.
func (l *Loop) drainStaged(now uint64) {
	for {
		ev, ok := l.buf.Peek()
		if !ok || ev.ActivateAtUs > now {
			return
		}
		l.buf.Unstage()
		l.fireBuzz(protocol.BuzzArgs{
			Finger:       int(ev.Finger),
			AmplitudePct: int(ev.AmplitudePct),
			DurationMs:   int(ev.DurationMs),
			FrequencyHz:  int(ev.FrequencyHz),
		})
	}
}

// expireBursts releases fingers whose burst duration has elapsed.
func (l *Loop) expireBursts(now uint64) {
	for f, off := range l.offAtUs {
		if off == 0 || now < off {
			continue
		}
		l.offAtUs[f] = 0
		if err := l.drv.Deactivate(f); err != nil {
			println("[THERAPY] timed release failed, finger", f)
		}
	}
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

func (l *Loop) publishStatus() {
	st := Status{
		Running:   l.eng.Running(),
		Paused:    l.eng.Paused(),
		Cycles:    l.eng.CycleCount(),
		PeerAlive: l.peerAlive,
		Synced:    l.sync.Synced(),
		LatencyUs: l.sync.LatencyUs(),
	}
	if st == l.lastStatus {
		return
	}
	l.lastStatus = st
	l.conn.Publish(l.conn.NewMessage(bus.T("therapy", "state"), st, true))
}

// ---------------------------------------------------------------------------
// Service wrapper
// ---------------------------------------------------------------------------

// Start runs the control loop until ctx is cancelled. The loop goroutine is
// the sole caller of every Loop method.
func Start(ctx context.Context, conn *bus.Connection, clk timex.Clock, drv haptic.Driver, role link.Role, eng *engine.Engine, buf *staging.Buffer) {
	l := NewLoop(conn, clk, drv, role, eng, buf)

	ctlSub := conn.Subscribe(bus.T("therapy", "control"))
	rxSub := conn.Subscribe(bus.T("link", "rx"))
	linkSub := conn.Subscribe(bus.T("link", "state"))
	battSub := conn.Subscribe(bus.T("battery", "state"))
	defer conn.Disconnect()

	l.publishStatus()

	tick := time.NewTicker(tickInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			l.eng.Stop()
			return

		case <-tick.C:
			l.Tick()

		case msg, ok := <-ctlSub.Channel():
			if !ok {
				return
			}
			if c, ok := msg.Payload.(Control); ok {
				l.Apply(c)
			}

		case msg, ok := <-rxSub.Channel():
			if !ok {
				return
			}
			if cmd, ok := msg.Payload.(protocol.Command); ok {
				l.HandleCommand(cmd)
			}

		case msg, ok := <-linkSub.Channel():
			if !ok {
				return
			}
			if st, ok := msg.Payload.(map[string]any); ok {
				if level, ok := st["level"].(string); ok {
					l.HandleLinkState(level)
				}
			}

		case msg, ok := <-battSub.Channel():
			if !ok {
				return
			}
			if level, ok := msg.Payload.(string); ok {
				l.HandleBattery(level)
			}
		}
	}
}
