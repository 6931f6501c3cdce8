package nav

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"surveyor/internal/command"
	"surveyor/internal/nmea"
	"surveyor/internal/state"
)

var (
	// ErrModeChanged means the vehicle left Waypoint mode, typically an
	// operator override, before arriving.
	ErrModeChanged = errors.New("nav: control mode changed")
	// ErrUnreachable means the distance to the target stopped shrinking for
	// longer than the configured stall timeout.
	ErrUnreachable = errors.New("nav: waypoint unreachable")
)

const (
	DefaultToleranceM   = 2.0
	DefaultPollInterval = 200 * time.Millisecond
	DefaultKeepAlive    = 1 * time.Second
	DefaultModeGrace    = 3 * time.Second
	DefaultStallProgM   = 0.5
)

// Commander is the subset of the dispatcher the navigator drives.
type Commander interface {
	UploadMission(ctx context.Context, m command.Mission) error
	SetWaypointMode(ctx context.Context) error
}

type Config struct {
	// PollInterval bounds how long the loop waits for a state change before
	// re-checking.
	PollInterval time.Duration
	// KeepAlive is the minimum spacing of repeated waypoint-mode commands.
	KeepAlive time.Duration
	// ModeGrace is how long a non-Waypoint mode is tolerated after the mode
	// command, while the vehicle is still finishing the mission upload.
	ModeGrace time.Duration
	// StallTimeout, if > 0, fails with ErrUnreachable when the distance has
	// not improved by StallProgressM within the window.
	StallTimeout   time.Duration
	StallProgressM float64
}

type Status struct {
	Active    bool             `json:"active"`
	Target    command.Waypoint `json:"target"`
	DistanceM float64          `json:"distance_m"` // -1 until a fix is seen
	Mode      string           `json:"mode,omitempty"`
	Result    string           `json:"result,omitempty"`
}

// Navigator runs the waypoint convergence loop against the state store.
type Navigator struct {
	cfg   Config
	store *state.Store
	cmd   Commander

	status atomic.Value // Status
}

func New(store *state.Store, cmd Commander, cfg Config) *Navigator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.ModeGrace <= 0 {
		cfg.ModeGrace = DefaultModeGrace
	}
	if cfg.StallProgressM <= 0 {
		cfg.StallProgressM = DefaultStallProgM
	}
	n := &Navigator{cfg: cfg, store: store, cmd: cmd}
	n.status.Store(Status{})
	return n
}

func (n *Navigator) Status() Status {
	st, _ := n.status.Load().(Status)
	return st
}

// Position returns the latest fix from the store.
func (n *Navigator) Position() (command.Waypoint, bool) {
	lat, ok1 := n.store.Float(nmea.FieldLatitude)
	lon, ok2 := n.store.Float(nmea.FieldLongitude)
	if !ok1 || !ok2 {
		return command.Waypoint{}, false
	}
	return command.Waypoint{Lat: lat, Lon: lon}, true
}

// GoToWaypoint uploads a one-waypoint mission, switches to Waypoint mode and
// blocks until the vehicle is within toleranceM of target.
//
// It returns ErrModeChanged if the vehicle reports another mode, ErrUnreachable
// if the stall timeout is enabled and exceeded, or ctx.Err().
func (n *Navigator) GoToWaypoint(ctx context.Context, target, erp command.Waypoint, throttle int, toleranceM float64) (err error) {
	if toleranceM <= 0 {
		toleranceM = DefaultToleranceM
	}
	m := command.Mission{ERP: erp, Waypoints: []command.Waypoint{target}, Throttle: throttle}
	if err := n.cmd.UploadMission(ctx, m); err != nil {
		return err
	}
	if err := n.cmd.SetWaypointMode(ctx); err != nil {
		return err
	}

	n.status.Store(Status{Active: true, Target: target, DistanceM: -1})
	defer func() {
		st := n.Status()
		st.Active = false
		st.Result = "arrived"
		if err != nil {
			st.Result = err.Error()
		}
		n.status.Store(st)
	}()

	// The first token is spent by the mode command above.
	keepAlive := rate.NewLimiter(rate.Every(n.cfg.KeepAlive), 1)
	keepAlive.Allow()

	poll := time.NewTicker(n.cfg.PollInterval)
	defer poll.Stop()

	start := time.Now()
	best := math.Inf(1)
	bestAt := start
	sawWaypoint := false

	for {
		changed := n.store.Changed()
		now := time.Now()

		dist := -1.0
		if pos, ok := n.Position(); ok {
			dist = Distance(pos, target)
			if dist <= toleranceM {
				n.setProgress(dist, nmea.ModeWaypoint.String())
				log.Printf("nav arrived lat=%.7f lon=%.7f dist_m=%.2f", target.Lat, target.Lon, dist)
				return nil
			}
			if best-dist >= n.cfg.StallProgressM {
				best = dist
				bestAt = now
			}
		}
		if n.cfg.StallTimeout > 0 && now.Sub(bestAt) >= n.cfg.StallTimeout {
			if dist < 0 {
				return fmt.Errorf("%w: no position fix after %s", ErrUnreachable, n.cfg.StallTimeout)
			}
			return fmt.Errorf("%w: %.1f m from target after %s", ErrUnreachable, dist, n.cfg.StallTimeout)
		}

		mode, _ := n.store.String(nmea.FieldControlMode)
		n.setProgress(dist, mode)
		switch nmea.ModeFromName(mode) {
		case nmea.ModeWaypoint:
			sawWaypoint = true
		case nmea.ModeUnknown:
		default:
			if sawWaypoint || now.Sub(start) >= n.cfg.ModeGrace {
				return fmt.Errorf("%w: %s", ErrModeChanged, mode)
			}
		}

		if keepAlive.Allow() {
			if err := n.cmd.SetWaypointMode(ctx); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		case <-poll.C:
		}
	}
}

func (n *Navigator) setProgress(dist float64, mode string) {
	st := n.Status()
	st.DistanceM = dist
	st.Mode = mode
	n.status.Store(st)
}

// RunMission visits waypoints in order, one GoToWaypoint per point.
func (n *Navigator) RunMission(ctx context.Context, waypoints []command.Waypoint, erp command.Waypoint, throttle int, toleranceM float64) error {
	if len(waypoints) == 0 {
		return &command.ValidationError{Field: "waypoints", Value: 0, Reason: "mission has no waypoints"}
	}
	for i, wp := range waypoints {
		if err := n.GoToWaypoint(ctx, wp, erp, throttle, toleranceM); err != nil {
			return fmt.Errorf("waypoint %d/%d: %w", i+1, len(waypoints), err)
		}
	}
	log.Printf("nav mission complete waypoints=%d", len(waypoints))
	return nil
}
