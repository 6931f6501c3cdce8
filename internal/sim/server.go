package sim

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"surveyor/internal/command"
	"surveyor/internal/nmea"
)

type Config struct {
	Addr     string
	Start    command.Waypoint
	SpeedMPS float64
	// Period is both the telemetry interval and the model time step.
	Period   time.Duration
	Scenario *Scenario
}

// Server speaks the vehicle protocol over TCP against one shared Vessel.
// The model advances on its own clock; each client gets its own telemetry
// stream and scenario timeline, and commands from any client drive the same
// vessel.
type Server struct {
	cfg Config
	ln  net.Listener

	mu     sync.Mutex
	vessel *Vessel

	wg        sync.WaitGroup
	connMu    sync.Mutex
	conns     map[net.Conn]struct{}
	closed    bool
	closeOnce sync.Once
}

// Snapshot is a copy of the simulated vessel state.
type Snapshot struct {
	Pos      command.Waypoint
	Heading  float64
	Mode     nmea.ControlMode
	Throttle int
	Mission  []command.Waypoint
}

func Listen(cfg Config) (*Server, error) {
	if cfg.Period <= 0 {
		cfg.Period = 200 * time.Millisecond
	}
	if cfg.Start.Lat == 0 && cfg.Start.Lon == 0 {
		cfg.Start = command.Waypoint{Lat: 26.0, Lon: -81.0}
	}
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("sim listen: %w", err)
	}
	return &Server{
		cfg:    cfg,
		ln:     ln,
		vessel: NewVessel(cfg.Start, cfg.SpeedMPS),
		conns:  map[net.Conn]struct{}{},
	}, nil
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.vessel
	return Snapshot{Pos: v.Pos, Heading: v.Heading, Mode: v.Mode(), Throttle: v.Throttle(), Mission: v.Mission()}
}

// Serve accepts clients until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	log.Printf("sim listening addr=%s", s.Addr())
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(runCtx)
	}()

	for {
		c, err := s.ln.Accept()
		if err != nil {
			cancel()
			s.wg.Wait()
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.connMu.Lock()
		if s.closed {
			s.connMu.Unlock()
			_ = c.Close()
			continue
		}
		s.conns[c] = struct{}{}
		s.connMu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, c)
		}()
	}
}

func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.ln.Close()
		s.connMu.Lock()
		s.closed = true
		for c := range s.conns {
			_ = c.Close()
		}
		s.connMu.Unlock()
	})
	return err
}

func (s *Server) run(ctx context.Context) {
	t := time.NewTicker(s.cfg.Period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.mu.Lock()
			s.vessel.Step(s.cfg.Period)
			s.mu.Unlock()
		}
	}
}

func (s *Server) forget(c net.Conn) {
	s.connMu.Lock()
	delete(s.conns, c)
	s.connMu.Unlock()
	_ = c.Close()
}

func (s *Server) handle(ctx context.Context, c net.Conn) {
	defer s.forget(c)
	remote := c.RemoteAddr().String()
	log.Printf("sim client connected remote=%s", remote)

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		sc := bufio.NewScanner(c)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			s.mu.Lock()
			err := s.vessel.Apply(line)
			s.mu.Unlock()
			if err != nil {
				log.Printf("sim command rejected remote=%s line=%q err=%v", remote, line, err)
			}
		}
	}()

	t := time.NewTicker(s.cfg.Period)
	defer t.Stop()

	var elapsed time.Duration
	prev := time.Duration(-1)
	var quietUntil time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case <-readerDone:
			log.Printf("sim client disconnected remote=%s", remote)
			return
		case now := <-t.C:
			elapsed += s.cfg.Period

			var out strings.Builder
			drop := false
			for _, ev := range s.cfg.Scenario.Due(prev, elapsed) {
				if ev.Mode != "" {
					s.mu.Lock()
					s.vessel.ForceMode(nmea.ModeFromCode(ev.Mode))
					s.mu.Unlock()
				}
				if ev.Raw != "" {
					out.WriteString(ev.Raw + "\r\n")
				}
				if ev.Silence > 0 {
					quietUntil = elapsed + ev.Silence
				}
				drop = drop || ev.Drop
			}
			prev = elapsed

			s.mu.Lock()
			lines := s.vessel.Telemetry(now)
			s.mu.Unlock()
			if elapsed >= quietUntil {
				for _, l := range lines {
					out.WriteString(l)
				}
			}

			if out.Len() > 0 {
				_ = c.SetWriteDeadline(time.Now().Add(time.Second))
				if _, err := c.Write([]byte(out.String())); err != nil {
					log.Printf("sim write failed remote=%s err=%v", remote, err)
					return
				}
			}
			if drop {
				log.Printf("sim dropping client remote=%s", remote)
				return
			}
		}
	}
}
