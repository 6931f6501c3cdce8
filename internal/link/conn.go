package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 1 * time.Second
	DefaultReceiveBytes   = 2048
)

var (
	// ErrTimeout is returned by Receive when no bytes arrived within the read
	// timeout. It is recoverable.
	ErrTimeout = errors.New("link: receive timeout")
	// ErrPeerClosed is terminal: the vehicle closed or reset the stream.
	ErrPeerClosed = errors.New("link: peer closed connection")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("link: connection closed")
)

// ConnectionError is returned by Dial when the vehicle cannot be reached.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("link: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Conn is the persistent TCP stream to the vehicle.
//
// Receive is called by a single reader goroutine. Send is not serialized:
// only one foreground flow may send at a time. Close may be called from any
// goroutine and unblocks a pending Receive.
type Conn struct {
	addr string
	nc   net.Conn

	readTimeout time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

type Stats struct {
	Addr     string `json:"addr"`
	Closed   bool   `json:"closed"`
	BytesIn  uint64 `json:"bytes_in"`
	BytesOut uint64 `json:"bytes_out"`
}

// Dial connects to addr, bounded by connectTimeout and ctx.
func Dial(ctx context.Context, addr string, connectTimeout time.Duration) (*Conn, error) {
	if addr == "" {
		return nil, &ConnectionError{Addr: addr, Err: errors.New("address is required")}
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	dialer := &net.Dialer{Timeout: connectTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Err: err}
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return New(nc), nil
}

// New wraps an established connection.
func New(nc net.Conn) *Conn {
	addr := ""
	if ra := nc.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	return &Conn{addr: addr, nc: nc, readTimeout: DefaultReadTimeout}
}

// SetReadTimeout sets the per-Receive deadline. Zero blocks until data or
// close.
func (c *Conn) SetReadTimeout(d time.Duration) {
	c.readTimeout = d
}

func (c *Conn) Addr() string { return c.addr }

// Send writes sentence verbatim.
func (c *Conn) Send(sentence string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	n, err := io.WriteString(c.nc, sentence)
	c.bytesOut.Add(uint64(n))
	if err != nil {
		if c.closed.Load() || errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("link: send: %w", err)
	}
	return nil
}

// Receive returns up to max bytes. A zero-byte read is reported as
// ErrPeerClosed, never as an empty buffer.
func (c *Conn) Receive(max int) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if max <= 0 {
		max = DefaultReceiveBytes
	}
	if c.readTimeout > 0 {
		_ = c.nc.SetReadDeadline(time.Now().Add(c.readTimeout))
	} else {
		_ = c.nc.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, max)
	n, err := c.nc.Read(buf)
	if n > 0 {
		c.bytesIn.Add(uint64(n))
		return buf[:n], nil
	}
	return nil, c.classify(err)
}

func (c *Conn) classify(err error) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err == nil || errors.Is(err, io.EOF) {
		return ErrPeerClosed
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrPeerClosed, err)
}

// Close shuts the socket down in both directions and releases it. It is safe
// to call more than once; later calls return nil.
func (c *Conn) Close() error {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.closed.Store(true)
		shutErr := shutdown(c.nc)
		c.closeErr = c.nc.Close()
		if c.closeErr == nil && shutErr != nil {
			c.closeErr = fmt.Errorf("link: shutdown: %w", shutErr)
		}
	})
	if !first {
		return nil
	}
	return c.closeErr
}

func (c *Conn) Closed() bool { return c.closed.Load() }

func (c *Conn) Stats() Stats {
	return Stats{
		Addr:     c.addr,
		Closed:   c.closed.Load(),
		BytesIn:  c.bytesIn.Load(),
		BytesOut: c.bytesOut.Load(),
	}
}
