// Package udp repeats raw vehicle sentences to a LAN destination so chart
// plotters can follow the vehicle without their own TCP session.
package udp

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Repeater sends one datagram per sentence. Sentences are terminated with
// CRLF on the wire.
type Repeater struct {
	dest string

	mu     sync.Mutex
	conn   udpConn
	closed bool

	sent    atomic.Uint64
	errors  atomic.Uint64
	errLog  rate.Sometimes
	lastErr atomic.Value // string
}

type Stats struct {
	Dest      string `json:"dest"`
	Sent      uint64 `json:"sent"`
	Errors    uint64 `json:"errors"`
	LastError string `json:"last_error,omitempty"`
}

func NewRepeater(dest string) (*Repeater, error) {
	return newRepeater(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newRepeater(dest string, resolve resolveFunc, dial dialFunc) (*Repeater, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}

	return &Repeater{
		dest:   dest,
		conn:   conn,
		errLog: rate.Sometimes{Interval: 10 * time.Second},
	}, nil
}

// Forward sends line. It never blocks on the network and never fails the
// caller; errors are counted and logged at a bounded rate.
func (r *Repeater) Forward(line string) {
	if len(line) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, err := r.conn.Write([]byte(line + "\r\n")); err != nil {
		r.errors.Add(1)
		r.lastErr.Store(err.Error())
		r.errLog.Do(func() {
			log.Printf("udp repeat write failed dest=%s err=%v", r.dest, err)
		})
		return
	}
	r.sent.Add(1)
}

func (r *Repeater) Stats() Stats {
	st := Stats{Dest: r.dest, Sent: r.sent.Load(), Errors: r.errors.Load()}
	if v, ok := r.lastErr.Load().(string); ok {
		st.LastError = v
	}
	return st
}

func (r *Repeater) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.conn == nil {
		return nil
	}
	r.closed = true
	return r.conn.Close()
}
