//go:build !rp2040

package link

import (
	"context"
	"errors"
	"io"
	"net"
	"time"
)

// Host transports: plain TCP, used by the simulator and integration tests.
// Leader listens, follower (or console) dials.

func init() {
	RegisterTransport("tcp-dial", func(cfg TransportConfig) (Transport, error) {
		if cfg.Addr == "" {
			return nil, errors.New("tcp-dial requires an address")
		}
		return &tcpDial{addr: cfg.Addr}, nil
	})
	RegisterTransport("tcp-listen", func(cfg TransportConfig) (Transport, error) {
		if cfg.Addr == "" {
			return nil, errors.New("tcp-listen requires an address")
		}
		return &tcpListen{addr: cfg.Addr}, nil
	})
}

type tcpDial struct {
	addr string
}

func (t *tcpDial) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	var d net.Dialer
	d.Timeout = 5 * time.Second
	return d.DialContext(ctx, "tcp", t.addr)
}

func (t *tcpDial) String() string { return "tcp-dial" }

// tcpListen accepts one connection at a time; the listener persists across
// link losses so the peer can reconnect to the same address.
type tcpListen struct {
	addr string
	ln   net.Listener
}

func (t *tcpListen) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	if t.ln == nil {
		ln, err := net.Listen("tcp", t.addr)
		if err != nil {
			return nil, err
		}
		t.ln = ln
		go func() {
			<-ctx.Done()
			_ = ln.Close()
		}()
	}
	conn, err := t.ln.Accept()
	if err != nil {
		t.ln = nil
		return nil, err
	}
	return conn, nil
}

func (t *tcpListen) String() string { return "tcp-listen" }
