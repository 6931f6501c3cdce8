package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"surveyor/internal/command"
	"surveyor/internal/link"
	"surveyor/internal/nav"
	"surveyor/internal/nmea"
	"surveyor/internal/state"
)

const DefaultJoinTimeout = 2 * time.Second

// ErrJoinTimeout is reported by Close when the reader did not stop in time.
var ErrJoinTimeout = errors.New("session: reader did not stop")

type Config struct {
	Addr           string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	ReceiveBytes   int

	// WaitForState, if > 0, makes Open block until the first telemetry
	// sentence has been merged.
	WaitForState time.Duration
	JoinTimeout  time.Duration

	// OnLine, if set, is called from the reader goroutine with every raw
	// inbound line. It must not block.
	OnLine func(line string)

	Nav nav.Config
}

// Session owns one vehicle connection: the link, the reader goroutine that
// keeps the state store current, and the foreground command flow.
type Session struct {
	id      string
	cfg     Config
	started time.Time

	conn   *link.Conn
	store  *state.Store
	router *nmea.Router
	cmd    *command.Dispatcher
	nav    *nav.Navigator

	parseLog rate.Sometimes

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error

	closeOnce sync.Once
	closeErr  error
}

type Status struct {
	ID            string           `json:"id"`
	Addr          string           `json:"addr"`
	Running       bool             `json:"running"`
	StartedUTC    string           `json:"started_utc"`
	LastError     string           `json:"last_error,omitempty"`
	StateFields   int              `json:"state_fields"`
	StateVersion  uint64           `json:"state_version"`
	LastUpdateUTC string           `json:"last_update_utc,omitempty"`
	Link          link.Stats       `json:"link"`
	Router        nmea.RouterStats `json:"router"`
	Commands      command.Stats    `json:"commands"`
	Nav           nav.Status       `json:"nav"`
}

// Open connects to the vehicle and starts the reader.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx is nil")
	}
	conn, err := link.Dial(ctx, cfg.Addr, cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	s := newSession(conn, cfg)
	s.start(ctx)
	log.Printf("session connected id=%s addr=%s", s.id, conn.Addr())

	if cfg.WaitForState > 0 {
		if err := s.waitForState(ctx, cfg.WaitForState); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func newSession(conn *link.Conn, cfg Config) *Session {
	if cfg.ReadTimeout > 0 {
		conn.SetReadTimeout(cfg.ReadTimeout)
	}
	if cfg.ReceiveBytes <= 0 {
		cfg.ReceiveBytes = link.DefaultReceiveBytes
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		started:  time.Now().UTC(),
		conn:     conn,
		store:    state.NewStore(),
		parseLog: rate.Sometimes{Interval: 10 * time.Second},
		done:     make(chan struct{}),
	}
	s.router = &nmea.Router{OnError: s.onParseError, OnLine: cfg.OnLine}
	s.cmd = command.NewDispatcher(conn)
	s.nav = nav.New(s.store, s.cmd, cfg.Nav)
	return s
}

func (s *Session) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	// Cancellation from the parent also interrupts a blocked Receive.
	stop := context.AfterFunc(runCtx, func() { _ = s.conn.Close() })

	go func() {
		defer close(s.done)
		defer stop()
		err := s.readLoop(runCtx)
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
		log.Printf("session reader stopped id=%s err=%v", s.id, err)
	}()
}

// readLoop is the only writer of the state store.
func (s *Session) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		buf, err := s.conn.Receive(s.cfg.ReceiveBytes)
		switch {
		case err == nil:
			s.store.Merge(s.router.Feed(buf))
		case errors.Is(err, link.ErrTimeout):
			continue
		case errors.Is(err, link.ErrClosed):
			return nil
		default:
			return err
		}
	}
}

func (s *Session) onParseError(err error) {
	s.parseLog.Do(func() {
		log.Printf("session parse error id=%s err=%v", s.id, err)
	})
}

func (s *Session) waitForState(ctx context.Context, d time.Duration) error {
	wctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	for {
		ch := s.store.Changed()
		if s.store.Len() > 0 {
			return nil
		}
		select {
		case <-ch:
		case <-s.done:
			if err := s.Err(); err != nil {
				return err
			}
			return link.ErrClosed
		case <-wctx.Done():
			return fmt.Errorf("session: no vehicle state within %s: %w", d, wctx.Err())
		}
	}
}

func (s *Session) ID() string                      { return s.id }
func (s *Session) Store() *state.Store             { return s.store }
func (s *Session) Dispatcher() *command.Dispatcher { return s.cmd }
func (s *Session) Navigator() *nav.Navigator       { return s.nav }

// Done is closed when the reader has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the terminal reader error, or nil while running and after a
// local close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the reader, releases the link and waits up to JoinTimeout for
// the reader to exit. The reader's terminal error, if any, is included in the
// result. Close is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs *multierror.Error
		if s.cancel != nil {
			s.cancel()
		}
		if err := s.conn.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}

		t := time.NewTimer(s.cfg.JoinTimeout)
		defer t.Stop()
		select {
		case <-s.done:
			if err := s.Err(); err != nil {
				errs = multierror.Append(errs, err)
			}
		case <-t.C:
			errs = multierror.Append(errs, ErrJoinTimeout)
		}
		s.closeErr = errs.ErrorOrNil()
		log.Printf("session closed id=%s", s.id)
	})
	return s.closeErr
}

func (s *Session) Status() Status {
	st := Status{
		ID:           s.id,
		Addr:         s.conn.Addr(),
		StartedUTC:   s.started.Format(time.RFC3339),
		StateFields:  s.store.Len(),
		StateVersion: s.store.Version(),
		Link:         s.conn.Stats(),
		Router:       s.router.Stats(),
		Commands:     s.cmd.Stats(),
		Nav:          s.nav.Status(),
	}
	select {
	case <-s.done:
	default:
		st.Running = true
	}
	if err := s.Err(); err != nil {
		st.LastError = err.Error()
	}
	if t := s.store.LastUpdate(); !t.IsZero() {
		st.LastUpdateUTC = t.Format(time.RFC3339Nano)
	}
	return st
}
