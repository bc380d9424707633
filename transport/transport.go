// Package transport carries one JSON document per frame in each direction
// over a single accepted TCP connection.
//
// There is no framing: each Receive is exactly one Read of at most
// MaxPayload bytes, decoded as a whole document. A state that arrives split
// across reads, or that exceeds MaxPayload, fails to decode and ends the
// session. The emulator sends one small document per frame and waits for the
// reply, so in practice every read carries exactly one document.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/sf2bot/game"
)

const (
	DefaultAddr           = "127.0.0.1:9999"
	MaxPayload            = 4096
	DefaultReceiveTimeout = 10 * time.Second
)

var (
	ErrPeerClosed  = errors.New("connection closed by peer")
	ErrClosed      = errors.New("connection closed")
	// ErrInterrupted is returned by every Receive after Interrupt.
	ErrInterrupted = errors.New("receive interrupted")
)

// DecodeError reports an inbound payload that was not a valid state.
type DecodeError struct {
	Payload []byte
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode state (%d bytes): %v", len(e.Payload), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Listener is bound but has not yet accepted its peer.
type Listener struct {
	ln net.Listener
}

// Listen binds addr. The caller treats an error as fatal.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept waits for exactly one peer and then stops listening. Cancelling ctx
// aborts the wait.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	defer l.ln.Close()

	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()

	c, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	return NewConn(c), nil
}

func (l *Listener) Close() error { return l.ln.Close() }

// Conn is the per-session channel to the emulator.
type Conn struct {
	c       net.Conn
	buf     []byte
	timeout time.Duration

	interrupted atomic.Bool

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

func NewConn(c net.Conn) *Conn {
	return &Conn{
		c:       c,
		buf:     make([]byte, MaxPayload),
		timeout: DefaultReceiveTimeout,
		closed:  make(chan struct{}),
	}
}

// SetReceiveTimeout bounds each Receive. Zero disables the deadline.
func (c *Conn) SetReceiveTimeout(d time.Duration) { c.timeout = d }

// Receive reads one payload and decodes it into a fresh GameState.
func (c *Conn) Receive() (*game.GameState, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	deadline := time.Time{}
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.c.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	// Checked after the deadline is set: an Interrupt that lands before this
	// point is seen here, one that lands after moves the deadline to now.
	if c.interrupted.Load() {
		return nil, ErrInterrupted
	}

	n, err := c.c.Read(c.buf)
	if n == 0 {
		if c.interrupted.Load() {
			return nil, ErrInterrupted
		}
		if err == nil || errors.Is(err, io.EOF) {
			return nil, ErrPeerClosed
		}
		return nil, fmt.Errorf("receive: %w", err)
	}
	// Bytes that arrived together with an error are still one payload; the
	// error resurfaces on the next read.

	payload := c.buf[:n]
	state, derr := game.DecodeState(payload)
	if derr != nil {
		return nil, &DecodeError{Payload: append([]byte(nil), payload...), Err: derr}
	}
	return state, nil
}

// Send writes the command as a single JSON document.
func (c *Conn) Send(cmd game.Command) error {
	if c.isClosed() {
		return ErrClosed
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	if _, err := c.c.Write(payload); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Interrupt makes a pending Receive return immediately, and every later
// Receive fail with ErrInterrupted.
func (c *Conn) Interrupt() {
	c.interrupted.Store(true)
	_ = c.c.SetReadDeadline(time.Now())
}

// Close is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.c.Close()
	})
	return c.closeErr
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// IsTimeout reports whether err is a receive deadline expiry.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
