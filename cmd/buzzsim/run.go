package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"

	"github.com/spf13/cobra"

	"buzzcode-go/bus"
	"buzzcode-go/console"
	"buzzcode-go/engine"
	"buzzcode-go/haptic"
	"buzzcode-go/services/battery"
	"buzzcode-go/services/link"
	"buzzcode-go/services/profile"
	"buzzcode-go/services/therapy"
	"buzzcode-go/staging"
	"buzzcode-go/x/timex"
)

type runOptions struct {
	Addr     string
	Profile  string
	Duration time.Duration
	Latency  time.Duration
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a leader/follower session over loopback TCP",
		Long: `Start a leader node and a follower node in-process, connect them over
loopback TCP, start the named profile on the leader, and report the
haptic activity both nodes produced. --latency adds a one-way delay to
every chunk on the wire, so sync quality and lead-time compensation can
be observed under realistic round-trip times.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPair(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:9470", "leader listen address")
	cmd.Flags().StringVar(&opts.Profile, "profile", "default", "therapy profile to start")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 10*time.Second, "how long to run the session")
	cmd.Flags().DurationVar(&opts.Latency, "latency", 0, "injected one-way wire latency")

	return cmd
}

// node is one simulated device: its own bus, clock and motor sim, with the
// full service set started on top.
type node struct {
	b   *bus.Bus
	sim *haptic.Sim
}

func startNode(ctx context.Context, role link.Role, tc link.TransportConfig) *node {
	b := bus.NewBus(32)
	clk := timex.NewMonotonic()
	sim := haptic.NewSim()
	buf := &staging.Buffer{}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	eng := engine.New(clk, sim, buf, rng, nil)

	battery.Start(ctx, b.NewConnection("battery"), nil)
	go profile.Start(ctx, b.NewConnection("profile"))
	go link.Start(ctx, b.NewConnection("link"), link.Config{Role: role, Transport: tc})
	go therapy.Start(ctx, b.NewConnection("therapy"), clk, sim, role, eng, buf)

	return &node{b: b, sim: sim}
}

func runPair(ctx context.Context, opts *runOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	leader := startNode(ctx, link.RoleLeader, link.TransportConfig{
		Type: "tcp-listen", Addr: opts.Addr,
	})

	dialAddr := opts.Addr
	if opts.Latency > 0 {
		addr, err := startProxy(ctx, opts.Addr, opts.Latency)
		if err != nil {
			return err
		}
		dialAddr = addr
		fmt.Printf("latency proxy on %s (+%s each way)\n", addr, opts.Latency)
	}
	follower := startNode(ctx, link.RoleFollower, link.TransportConfig{
		Type: "tcp-dial", Addr: dialAddr,
	})

	watcher := leader.b.NewConnection("buzzsim")
	if err := waitLinkUp(watcher, 5*time.Second); err != nil {
		return err
	}
	fmt.Println("link up")

	con := console.New(watcher)
	out, err := con.Exec("start " + opts.Profile)
	if err != nil {
		return err
	}
	fmt.Println(out)

	statusSub := watcher.Subscribe(bus.T("therapy", "state"))
	defer statusSub.Unsubscribe()
	deadline := time.After(opts.Duration)

loop:
	for {
		select {
		case msg := <-statusSub.Channel():
			if st, ok := msg.Payload.(therapy.Status); ok {
				fmt.Printf("status: running=%v synced=%v cycles=%d latency=%dus\n",
					st.Running, st.Synced, st.Cycles, st.LatencyUs)
			}
		case <-deadline:
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	if out, err := con.Exec("stop"); err == nil {
		fmt.Println(out)
	}
	time.Sleep(200 * time.Millisecond)

	fmt.Println("leader:  ", summarize(leader.sim))
	fmt.Println("follower:", summarize(follower.sim))
	return nil
}

func waitLinkUp(conn *bus.Connection, timeout time.Duration) error {
	sub := conn.Subscribe(bus.T("link", "state"))
	defer sub.Unsubscribe()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-sub.Channel():
			if st, ok := msg.Payload.(map[string]any); ok && st["level"] == "up" {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("no link after %s", timeout)
		}
	}
}

// summarize counts activations per finger from the sim's op trace.
func summarize(s *haptic.Sim) string {
	var counts [5]int
	total := 0
	for _, op := range s.Ops() {
		if op.Kind == "activate" {
			counts[op.Finger]++
			total++
		}
	}
	return fmt.Sprintf("%d activations %v", total, counts)
}

// ---------------------------------------------------------------------------
// Latency proxy
// ---------------------------------------------------------------------------

// startProxy listens on an ephemeral loopback port and forwards traffic to
// target, delaying every chunk by delay in both directions.
func startProxy(ctx context.Context, target string, delay time.Duration) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			up, err := net.Dial("tcp", target)
			if err != nil {
				c.Close()
				continue
			}
			go pump(up, c, delay)
			go pump(c, up, delay)
		}
	}()
	return ln.Addr().String(), nil
}

func pump(dst io.WriteCloser, src io.ReadCloser, delay time.Duration) {
	defer dst.Close()
	defer src.Close()
	buf := make([]byte, 256)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if delay > 0 {
				time.Sleep(delay)
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}
