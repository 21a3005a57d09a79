// Package console parses operator command lines and drives the bus. It
// backs both the simulator prompt and the serial console peer.
package console

import (
	"strings"
	"time"

	"github.com/google/shlex"

	"buzzcode-go/bus"
	"buzzcode-go/errcode"
	"buzzcode-go/services/therapy"
	"buzzcode-go/x/fmtx"
)

// retainedWait bounds how long a query command waits for a retained value.
const retainedWait = 250 * time.Millisecond

// Console executes one command line at a time against the bus.
type Console struct {
	conn *bus.Connection
}

func New(conn *bus.Connection) *Console {
	return &Console{conn: conn}
}

// Exec parses and runs one line, returning operator-facing output.
func (c *Console) Exec(line string) (string, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return "", &errcode.E{C: errcode.InvalidParams, Op: "console.Exec", Err: err}
	}
	if len(args) == 0 {
		return "", nil
	}

	switch args[0] {
	case "start":
		name := "default"
		if len(args) > 1 {
			name = args[1]
		}
		c.conn.Publish(c.conn.NewMessage(bus.T("profile", "start"), name, false))
		return "starting profile " + name, nil

	case "pause", "resume", "stop":
		c.conn.Publish(c.conn.NewMessage(bus.T("therapy", "control"), therapy.Control{Cmd: args[0]}, false))
		return args[0] + " requested", nil

	case "profiles":
		names, ok := c.retained(bus.T("profile", "list"))
		if !ok {
			return "", errcode.Timeout
		}
		return strings.Join(names.([]string), "\n"), nil

	case "status":
		st, ok := c.retained(bus.T("therapy", "state"))
		if !ok {
			return "no status yet", nil
		}
		return formatStatus(st.(therapy.Status)), nil

	case "help":
		return helpText, nil
	}
	return "", &errcode.E{C: errcode.Unsupported, Op: "console.Exec", Msg: "unknown command: " + args[0]}
}

// retained fetches the current retained value on a topic, if any.
func (c *Console) retained(topic bus.Topic) (any, bool) {
	sub := c.conn.Subscribe(topic)
	defer c.conn.Unsubscribe(sub)
	select {
	case msg := <-sub.Channel():
		return msg.Payload, true
	case <-time.After(retainedWait):
		return nil, false
	}
}

func formatStatus(st therapy.Status) string {
	var b strings.Builder
	fmtx.Fprintf(&b, "running: %v\n", st.Running)
	fmtx.Fprintf(&b, "paused: %v\n", st.Paused)
	fmtx.Fprintf(&b, "cycles: %d\n", st.Cycles)
	fmtx.Fprintf(&b, "peer: %v\n", st.PeerAlive)
	fmtx.Fprintf(&b, "synced: %v\n", st.Synced)
	fmtx.Fprintf(&b, "latency: %dus", st.LatencyUs)
	return b.String()
}

const helpText = `commands:
  start [profile]   begin a session (default profile if omitted)
  pause             freeze the session, motors off
  resume            continue a paused session
  stop              end the session
  status            show session state
  profiles          list available profiles
  help              this text`
