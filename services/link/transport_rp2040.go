//go:build rp2040

package link

import (
	"context"
	"errors"
	"io"
	"machine"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"
)

// RP2040 transport: a hardware UART wired to the radio module. The module
// handles pairing and presents the peer as a byte stream, so the link comes
// "up" as soon as the port is configured.

const defaultUARTBaud = 115200

// UART pin plan for the glove board revision in production.
const (
	uartTXPin = machine.Pin(8)
	uartRXPin = machine.Pin(9)
)

func init() {
	RegisterTransport("uart", func(cfg TransportConfig) (Transport, error) {
		return &uartTransport{cfg: cfg}, nil
	})
}

type uartTransport struct {
	cfg TransportConfig
}

func (t *uartTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	baud := uint32(t.cfg.Baud)
	if baud == 0 {
		baud = defaultUARTBaud
	}
	hw := uartx.UART1
	if err := hw.Configure(uartx.UARTConfig{
		BaudRate: baud,
		TX:       uartTXPin,
		RX:       uartRXPin,
	}); err != nil {
		return nil, err
	}
	return &uartPort{u: hw, ctx: ctx}, nil
}

func (t *uartTransport) String() string { return "uart" }

type uartPort struct {
	u   *uartx.UART
	ctx context.Context
}

func (p *uartPort) Write(b []byte) (int, error) { return p.u.Write(b) }

func (p *uartPort) Read(b []byte) (int, error) {
	n, err := p.u.RecvSomeContext(p.ctx, b)
	if err != nil && errors.Is(err, context.Canceled) {
		return n, io.EOF
	}
	return n, err
}

func (p *uartPort) Close() error { return nil }
