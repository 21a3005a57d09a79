// Package link owns the inter-device connection: transport supervision with
// reconnect backoff, handshake-based peer classification, terminator-byte
// framing, and the bridge between the wire and the local bus.
//
// Bus surface:
//
//	link/tx     (consumed)  protocol.Command to send to the peer
//	link/rx     (published) decoded inbound protocol.Command
//	link/state  (published, retained) map with level/peer/status
//
// The transport must provide reliable, ordered, per-link delivery; no
// retransmission logic lives here.
package link

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"buzzcode-go/bus"
	"buzzcode-go/protocol"
	"buzzcode-go/x/fmtx"
	"buzzcode-go/x/timex"
)

// Role determines handshake behaviour: a follower announces itself, a
// leader waits to classify whoever connected.
type Role uint8

const (
	RoleLeader Role = iota
	RoleFollower
)

func (r Role) String() string {
	if r == RoleFollower {
		return "follower"
	}
	return "leader"
}

// Peer is the classified remote end.
type Peer uint8

const (
	PeerUnknown Peer = iota
	PeerFollower
	PeerConsole
)

func (p Peer) String() string {
	switch p {
	case PeerFollower:
		return "follower"
	case PeerConsole:
		return "console"
	}
	return "unknown"
}

// handshakeTimeout bounds how long a leader waits for the peer to identify.
const handshakeTimeout = 3 * time.Second

// Config selects the role and transport.
type Config struct {
	Role      Role
	Transport TransportConfig
}

type TransportConfig struct {
	// Type is a registry key: "tcp-dial", "tcp-listen", or "uart".
	Type string
	// Addr is the host:port for TCP transports.
	Addr string
	// Baud applies to the UART transport; zero keeps the default.
	Baud int
}

// Service supervises one link.
type Service struct {
	conn *bus.Connection
	cfg  Config

	mu  sync.Mutex
	out io.Writer // nil while down
}

// Start runs the link service until ctx is cancelled.
func Start(ctx context.Context, conn *bus.Connection, cfg Config) {
	s := &Service{conn: conn, cfg: cfg}
	s.run(ctx)
}

func (s *Service) run(ctx context.Context) {
	tr, err := newTransport(s.cfg.Transport)
	if err != nil {
		s.publishState("error", PeerUnknown, err.Error())
		return
	}

	s.publishState("down", PeerUnknown, "connecting")
	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rwc, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("down", PeerUnknown, fmtx.Sprintf("dial failed, retry in %s", delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		fr := NewFramer(rwc)
		peer, err := s.handshake(rwc, fr)
		if err != nil {
			_ = rwc.Close()
			s.publishState("down", PeerUnknown, "handshake failed")
			if !sleep(ctx, backoff()) {
				return
			}
			continue
		}

		backoff = backoffSeq(250*time.Millisecond, 5*time.Second)
		// Subscribe before announcing the link so a command published in
		// response to the state change cannot be missed.
		txSub := s.conn.Subscribe(bus.T("link", "tx"))
		s.publishState("up", peer, "connected")
		err = s.handleLink(ctx, rwc, fr, txSub)
		s.conn.Unsubscribe(txSub)
		_ = rwc.Close()
		if ctx.Err() != nil {
			return
		}
		s.publishState("down", PeerUnknown, "link lost")
		if err != nil {
			println("[LINK] link lost:", err.Error())
		}
	}
}

// handshake classifies the peer. A follower announces its role and assumes
// the far end is the leader; a leader reads the first frame and expects an
// identify string.
func (s *Service) handshake(rwc io.ReadWriteCloser, fr *Framer) (Peer, error) {
	if s.cfg.Role == RoleFollower {
		if err := WriteFrame(rwc, []byte(protocol.HandshakeFollower)); err != nil {
			return PeerUnknown, err
		}
		return PeerUnknown, nil
	}

	type result struct {
		frame []byte
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := fr.ReadFrame()
		ch <- result{f, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return PeerUnknown, r.err
		}
		switch string(r.frame) {
		case protocol.HandshakeFollower:
			return PeerFollower, nil
		case protocol.HandshakeConsole:
			return PeerConsole, nil
		}
		return PeerUnknown, errors.New("unrecognized identify")
	case <-time.After(handshakeTimeout):
		// The reader goroutine stays blocked until the caller closes rwc.
		return PeerUnknown, errors.New("handshake timeout")
	}
}

// handleLink owns the active link: reader goroutine feeding link/rx, writer
// draining link/tx.
func (s *Service) handleLink(ctx context.Context, rwc io.ReadWriteCloser, fr *Framer, txSub *bus.Subscription) error {
	s.mu.Lock()
	s.out = rwc
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.out = nil
		s.mu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		for {
			frame, err := fr.ReadFrame()
			if err != nil {
				errCh <- err
				return
			}
			cmd, err := protocol.Decode(frame)
			if err != nil {
				// Malformed commands are dropped, no state change.
				println("[LINK] decode failed:", err.Error())
				continue
			}
			s.conn.Publish(s.conn.NewMessage(bus.T("link", "rx"), cmd, false))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case msg, ok := <-txSub.Channel():
			if !ok {
				return nil
			}
			cmd, ok := msg.Payload.(protocol.Command)
			if !ok {
				println("[LINK] tx: unexpected payload type")
				continue
			}
			if err := s.send(cmd); err != nil {
				return err
			}
		}
	}
}

// send encodes and writes one command. Safe for the bus loop only.
func (s *Service) send(cmd protocol.Command) error {
	raw, err := cmd.Encode()
	if err != nil {
		println("[LINK] encode failed:", err.Error())
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return nil
	}
	return WriteFrame(s.out, raw)
}

func (s *Service) publishState(level string, peer Peer, status string) {
	payload := map[string]any{
		"level":  level,
		"peer":   peer.String(),
		"status": status,
		"ts_ms":  timex.NowMs(),
	}
	s.conn.Publish(s.conn.NewMessage(bus.T("link", "state"), payload, true))
}

// ---------------------------------------------------------------------------
// Transport registry
// ---------------------------------------------------------------------------

// Transport is a pluggable link dialler/owner.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

type transportFactory func(TransportConfig) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}
)

// RegisterTransport adds a transport type; platform files register theirs
// at init.
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if !ok {
		return nil, fmtx.Errorf("unknown transport type: %q", cfg.Type)
	}
	return f(cfg)
}

// ---------------------------------------------------------------------------
// Utilities
// ---------------------------------------------------------------------------

func backoffSeq(min, max time.Duration) func() time.Duration {
	cur := min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
