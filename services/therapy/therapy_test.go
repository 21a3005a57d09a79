package therapy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buzzcode-go/bus"
	"buzzcode-go/engine"
	"buzzcode-go/haptic"
	"buzzcode-go/pattern"
	"buzzcode-go/protocol"
	"buzzcode-go/services/link"
	"buzzcode-go/staging"
	"buzzcode-go/x/timex"
)

type rig struct {
	b    *bus.Bus
	clk  *timex.Manual
	sim  *haptic.Sim
	buf  *staging.Buffer
	loop *Loop
	tx   *bus.Subscription
}

func newRig(role link.Role) *rig {
	r := &rig{
		b:   bus.NewBus(64),
		clk: timex.NewManual(1_000_000),
		sim: haptic.NewSim(),
		buf: &staging.Buffer{},
	}
	eng := engine.New(r.clk, r.sim, r.buf, rand.New(rand.NewSource(7)), nil)
	r.loop = NewLoop(r.b.NewConnection("therapy"), r.clk, r.sim, role, eng, r.buf)
	r.tx = r.b.NewConnection("probe").Subscribe(bus.T("link", "tx"))
	return r
}

func (r *rig) up() {
	r.loop.HandleLinkState("up")
	r.drainTx()
}

// drainTx empties the outbound queue, returning what was sent.
func (r *rig) drainTx() []protocol.Command {
	var out []protocol.Command
	for {
		select {
		case msg := <-r.tx.Channel():
			out = append(out, msg.Payload.(protocol.Command))
		default:
			return out
		}
	}
}

func (r *rig) tickMs(d int) []protocol.Command {
	var out []protocol.Command
	for i := 0; i < d; i++ {
		r.clk.AdvanceMs(1)
		r.loop.Tick()
		out = append(out, r.drainTx()...)
	}
	return out
}

func sessionParams() engine.SessionParams {
	return engine.SessionParams{
		Kind:       pattern.KindSequential,
		BurstMs:    100,
		RestMs:     67,
		NumFingers: 4,
		Amplitude:  engine.AmplitudeRange{Min: 80, Max: 80},
	}
}

func kindsOf(cmds []protocol.Command) map[protocol.Kind]int {
	m := map[protocol.Kind]int{}
	for _, c := range cmds {
		m[c.Kind]++
	}
	return m
}

// ---------------------------------------------------------------------------
// Leader
// ---------------------------------------------------------------------------

func TestLeaderStartAnnouncesSession(t *testing.T) {
	r := newRig(link.RoleLeader)
	r.up()

	r.loop.Apply(Control{Cmd: "start", Params: sessionParams()})
	sent := r.drainTx()
	assert.Equal(t, 1, kindsOf(sent)[protocol.KindStartSession])
	assert.True(t, r.loop.Engine().Running())
}

func TestSessionStatsPublishedOnStop(t *testing.T) {
	r := newRig(link.RoleLeader)
	r.up()
	statsSub := r.b.NewConnection("stats").Subscribe(bus.T("session", "stats"))

	r.loop.Apply(Control{Cmd: "start", Params: sessionParams()})
	r.tickMs(600) // a few bursts' worth
	r.loop.Apply(Control{Cmd: "stop"})

	var st Stats
	select {
	case msg := <-statsSub.Channel():
		st = msg.Payload.(Stats)
	default:
		t.Fatal("no session/stats event")
	}
	assert.Equal(t, "console stop", st.Reason)
	assert.Greater(t, st.Activations, uint32(0))

	// A second stop is a no-op and must not emit again.
	r.loop.Apply(Control{Cmd: "stop"})
	select {
	case <-statsSub.Channel():
		t.Fatal("stats emitted for idempotent stop")
	default:
	}
}

func TestLeaderHeartbeatCadence(t *testing.T) {
	r := newRig(link.RoleLeader)
	r.up()

	sent := r.tickMs(5000)
	beats := kindsOf(sent)[protocol.KindHeartbeat]
	// Immediate beat plus one every 2s.
	assert.GreaterOrEqual(t, beats, 3)
	assert.LessOrEqual(t, beats, 4)
}

func TestLeaderProbesDuringSession(t *testing.T) {
	r := newRig(link.RoleLeader)
	r.up()
	r.loop.Apply(Control{Cmd: "start", Params: sessionParams()})
	r.drainTx()

	sent := r.tickMs(100)
	require.Equal(t, 1, kindsOf(sent)[protocol.KindPing], "one probe at session start, none while it is outstanding")

	// Answer it; the next probe waits for the 1s pacing.
	var ping protocol.Command
	for _, c := range sent {
		if c.Kind == protocol.KindPing {
			ping = c
		}
	}
	now := r.clk.NowUs()
	r.loop.HandleCommand(protocol.NewPong(ping.Seq, ping.TimestampUs, now, now))

	sent = r.tickMs(1100)
	assert.GreaterOrEqual(t, kindsOf(sent)[protocol.KindPing], 1)
}

func TestUnansweredProbeRetries(t *testing.T) {
	r := newRig(link.RoleLeader)
	r.up()
	r.loop.Apply(Control{Cmd: "start", Params: sessionParams()})
	r.drainTx()

	sent := r.tickMs(100)
	require.Equal(t, 1, kindsOf(sent)[protocol.KindPing])

	// Never answer. The probe must be written off and retried, not gate
	// probing forever.
	sent = r.tickMs(5000)
	assert.GreaterOrEqual(t, kindsOf(sent)[protocol.KindPing], 2, "lost PONG must not stall probing")
}

func TestProbeSurvivesLinkBounce(t *testing.T) {
	r := newRig(link.RoleLeader)
	r.up()
	r.loop.Apply(Control{Cmd: "start", Params: sessionParams()})
	r.drainTx()

	sent := r.tickMs(10)
	require.Equal(t, 1, kindsOf(sent)[protocol.KindPing])

	// Link drops mid-probe; the PONG is lost with it.
	r.loop.HandleLinkState("down")
	r.loop.HandleLinkState("up")
	r.drainTx()

	r.loop.Apply(Control{Cmd: "start", Params: sessionParams()})
	r.drainTx()
	sent = r.tickMs(1500)
	assert.GreaterOrEqual(t, kindsOf(sent)[protocol.KindPing], 1, "fresh session must probe after reconnect")
}

func TestPongFeedsSyncEngine(t *testing.T) {
	r := newRig(link.RoleLeader)
	r.up()
	r.loop.Apply(Control{Cmd: "start", Params: sessionParams()})
	r.drainTx()

	for i := 0; i < 3; i++ {
		var ping protocol.Command
		for j := 0; j < 1200 && ping.Seq == 0; j++ {
			for _, c := range r.tickMs(1) {
				if c.Kind == protocol.KindPing {
					ping = c
				}
			}
		}
		require.NotZero(t, ping.Seq, "expected a probe in window %d", i)
		// 2ms round trip, symmetric.
		t2 := ping.TimestampUs + 1000
		t3 := t2 + 50
		r.clk.AdvanceUs(2050)
		r.loop.HandleCommand(protocol.NewPong(ping.Seq, ping.TimestampUs, t2, t3))
	}
	assert.True(t, r.loop.Sync().Synced())
	assert.NotZero(t, r.loop.Sync().LatencyUs())
}

func TestStalePongIgnored(t *testing.T) {
	r := newRig(link.RoleLeader)
	r.up()
	r.loop.Apply(Control{Cmd: "start", Params: sessionParams()})
	r.drainTx()
	r.tickMs(10)

	now := r.clk.NowUs()
	r.loop.HandleCommand(protocol.NewPong(9999, now-2000, now-1000, now-900))
	assert.False(t, r.loop.Sync().Synced())
	assert.Equal(t, uint64(0), r.loop.Sync().LatencyUs())
}

func TestPeerTimeoutStopsSession(t *testing.T) {
	r := newRig(link.RoleLeader)
	r.up()
	r.loop.Apply(Control{Cmd: "start", Params: sessionParams()})
	r.drainTx()
	r.tickMs(5)
	r.loop.HandleCommand(protocol.NewHeartbeat(1, 0))

	sent := r.tickMs(6100)
	assert.False(t, r.loop.Engine().Running(), "silence past the timeout stops the session")
	assert.False(t, r.sim.AnyActive())
	assert.Equal(t, 1, kindsOf(sent)[protocol.KindStopSession])
}

func TestLinkLossStopsSession(t *testing.T) {
	r := newRig(link.RoleLeader)
	r.up()
	r.loop.Apply(Control{Cmd: "start", Params: sessionParams()})
	r.drainTx()
	r.tickMs(5)
	require.True(t, r.sim.AnyActive())

	r.loop.HandleLinkState("down")
	assert.False(t, r.loop.Engine().Running())
	assert.False(t, r.sim.AnyActive())
}

func TestBatteryCriticalEmergencyStop(t *testing.T) {
	r := newRig(link.RoleLeader)
	r.up()
	r.loop.Apply(Control{Cmd: "start", Params: sessionParams()})
	r.tickMs(5)
	require.True(t, r.sim.AnyActive())

	r.loop.HandleBattery("critical")
	assert.False(t, r.loop.Engine().Running())
	assert.False(t, r.sim.AnyActive())

	r.loop.HandleBattery("warning")
	assert.False(t, r.loop.Engine().Running(), "warning alone is not a stop")
}

func TestPauseResumeForwarded(t *testing.T) {
	r := newRig(link.RoleLeader)
	r.up()
	r.loop.Apply(Control{Cmd: "start", Params: sessionParams()})
	r.tickMs(5)
	r.drainTx()

	r.loop.Apply(Control{Cmd: "pause"})
	assert.True(t, r.loop.Engine().Paused())
	assert.Equal(t, 1, kindsOf(r.drainTx())[protocol.KindPauseSession])

	r.loop.Apply(Control{Cmd: "resume"})
	assert.False(t, r.loop.Engine().Paused())
	assert.Equal(t, 1, kindsOf(r.drainTx())[protocol.KindResumeSession])
}

// ---------------------------------------------------------------------------
// Follower
// ---------------------------------------------------------------------------

func TestFollowerImmediateBuzz(t *testing.T) {
	r := newRig(link.RoleFollower)
	r.up()

	r.loop.HandleCommand(protocol.NewBuzz(1, r.clk.NowUs(), 2, 80, 100, 235))
	assert.True(t, r.sim.Active(2))

	// Self-timed release after durationMs.
	r.tickMs(99)
	assert.True(t, r.sim.Active(2))
	r.tickMs(2)
	assert.False(t, r.sim.Active(2))
}

func TestFollowerScheduledBuzz(t *testing.T) {
	r := newRig(link.RoleFollower)
	r.up()

	at := r.clk.NowUs() + 30_000
	r.loop.HandleCommand(protocol.NewBuzzAt(1, r.clk.NowUs(), 1, 90, 100, 235, at))
	assert.False(t, r.sim.AnyActive(), "deadline in the future stages the event")
	assert.Equal(t, 1, r.buf.Count())

	r.tickMs(29)
	assert.False(t, r.sim.AnyActive())
	r.tickMs(1)
	assert.True(t, r.sim.Active(1))
}

func TestFollowerPastDeadlineFiresNow(t *testing.T) {
	r := newRig(link.RoleFollower)
	r.up()

	at := r.clk.NowUs() - 1000
	r.loop.HandleCommand(protocol.NewBuzzAt(1, r.clk.NowUs(), 0, 70, 50, 200, at))
	assert.True(t, r.sim.Active(0), "missed deadline degrades to immediate")
}

func TestFollowerAnswersPing(t *testing.T) {
	r := newRig(link.RoleFollower)
	r.up()

	r.loop.HandleCommand(protocol.NewPing(7, 123456))
	sent := r.drainTx()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.KindPong, sent[0].Kind)
	assert.Equal(t, uint32(7), sent[0].Seq)
	assert.Equal(t, uint64(123456), sent[0].TimestampUs, "pong echoes T1")

	args, err := protocol.ParsePong(sent[0])
	require.NoError(t, err)
	assert.NotZero(t, args.T2Us)
	assert.NotZero(t, args.T3Us)
}

func TestFollowerStopReleasesEverything(t *testing.T) {
	r := newRig(link.RoleFollower)
	r.up()

	r.loop.HandleCommand(protocol.NewBuzz(1, 0, 3, 80, 500, 235))
	at := r.clk.NowUs() + 40_000
	r.loop.HandleCommand(protocol.NewBuzzAt(2, 0, 1, 80, 100, 235, at))
	require.True(t, r.sim.Active(3))
	require.Equal(t, 1, r.buf.Count())

	r.loop.HandleCommand(protocol.New(protocol.KindStopSession, 3, 0))
	assert.False(t, r.sim.AnyActive())
	assert.True(t, r.buf.Empty(), "staged events are cleared, not fired")

	r.tickMs(100)
	assert.False(t, r.sim.AnyActive())
}

func TestFollowerTimeoutReleases(t *testing.T) {
	r := newRig(link.RoleFollower)
	r.up()
	r.loop.HandleCommand(protocol.NewBuzz(1, 0, 2, 80, 30_000, 235))
	require.True(t, r.sim.Active(2))

	r.tickMs(6100)
	assert.False(t, r.sim.AnyActive(), "peer silence releases the actuator")
}

func TestFollowerMalformedBuzzDropped(t *testing.T) {
	r := newRig(link.RoleFollower)
	r.up()

	bad := protocol.New(protocol.KindBuzz, 1, 0)
	bad.Data = []string{"2", "80"}
	r.loop.HandleCommand(bad)
	assert.False(t, r.sim.AnyActive())
}

func TestFollowerCannotStart(t *testing.T) {
	r := newRig(link.RoleFollower)
	r.up()
	r.loop.Apply(Control{Cmd: "start", Params: sessionParams()})
	assert.False(t, r.loop.Engine().Running())
}
