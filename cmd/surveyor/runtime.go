package main

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"surveyor/internal/command"
	"surveyor/internal/config"
	"surveyor/internal/nav"
	"surveyor/internal/record"
	"surveyor/internal/sensors"
	"surveyor/internal/session"
	"surveyor/internal/udp"
	"surveyor/internal/web"
)

// lineTap fans raw inbound lines out to the repeater and the wire log. It
// runs on the session reader goroutine.
type lineTap struct {
	repeater *udp.Repeater
	recorder atomic.Pointer[record.Recorder]
}

func (t *lineTap) Forward(line string) {
	if t.repeater != nil {
		t.repeater.Forward(line)
	}
	if rec := t.recorder.Load(); rec != nil {
		rec.Line(line)
	}
}

// vehicleRuntime owns everything started for one configured vehicle session.
type vehicleRuntime struct {
	cfg config.Config

	sess     *session.Session
	camera   *sensors.CameraClient
	serial   *sensors.SerialSonde
	sampler  *record.Sampler
	recorder *record.Recorder
	repeater *udp.Repeater
	status   *web.Status
	states   *web.StateBroadcaster
}

func openSession(ctx context.Context, c config.Config, onLine func(string)) (*session.Session, error) {
	return session.Open(ctx, session.Config{
		Addr:           c.Vehicle.Addr,
		ConnectTimeout: c.Vehicle.ConnectTimeout,
		ReadTimeout:    c.Vehicle.ReadTimeout,
		ReceiveBytes:   c.Vehicle.ReceiveBytes,
		WaitForState:   c.Vehicle.WaitForState,
		OnLine:         onLine,
		Nav: nav.Config{
			PollInterval: c.Nav.PollInterval,
			KeepAlive:    c.Nav.KeepAlive,
			ModeGrace:    c.Nav.ModeGrace,
			StallTimeout: c.Nav.StallTimeout,
		},
	})
}

func newRuntime(ctx context.Context, cfg config.Config) (*vehicleRuntime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}

	tap := &lineTap{}
	if c.Repeat.Enable {
		rep, err := udp.NewRepeater(c.Repeat.Dest)
		if err != nil {
			return nil, fmt.Errorf("repeat: %w", err)
		}
		tap.repeater = rep
		log.Printf("repeat enabled dest=%s", c.Repeat.Dest)
	}
	var onLine func(string)
	if c.Repeat.Enable || (c.Record.Enable && c.Record.WireLog) {
		onLine = tap.Forward
	}

	sess, err := openSession(ctx, c, onLine)
	if err != nil {
		if tap.repeater != nil {
			_ = tap.repeater.Close()
		}
		return nil, err
	}
	r := &vehicleRuntime{cfg: c, sess: sess, repeater: tap.repeater, states: web.NewStateBroadcaster()}
	r.sampler = &record.Sampler{State: sess.Store()}

	// Sensor bring-up failures are logged and leave that sensor out; the
	// session stays usable.
	if err := r.initSensors(ctx); err != nil {
		log.Printf("sensors init incomplete: %v", err)
	}

	if c.Record.Enable {
		var sondeCols []string
		if r.sampler.Sonde != nil {
			sondeCols = c.Sensors.Sonde.Params
			if len(sondeCols) == 0 {
				sondeCols = sensors.DefaultSondeParams
			}
		}
		r.recorder = record.New(record.Config{
			Root:         c.Record.Root,
			Dir:          c.Record.Dir,
			Interval:     c.Record.Interval,
			Columns:      c.Record.Columns,
			SondeColumns: sondeCols,
			Timestamp:    c.Record.Timestamp,
			WireLog:      c.Record.WireLog,
		}, r.sampler)
		if err := r.recorder.Start(ctx); err != nil {
			r.Close()
			return nil, fmt.Errorf("record start: %w", err)
		}
		tap.recorder.Store(r.recorder)
	}

	src := web.Sources{Session: sess.Status}
	if r.recorder != nil {
		src.Recorder = r.recorder.Stats
	}
	if r.camera != nil {
		src.Camera = r.camera.Snapshot
	}
	if r.repeater != nil {
		src.Repeat = r.repeater.Stats
	}
	r.status = web.NewStatus(src)
	return r, nil
}

func (r *vehicleRuntime) initSensors(ctx context.Context) error {
	s := r.cfg.Sensors
	if s.Fake {
		if s.Camera.Enable {
			r.sampler.Camera = &sensors.FakeCamera{}
		}
		if s.Lidar.Enable {
			r.sampler.Lidar = &sensors.FakeLidar{}
		}
		if s.Sonde.Enable {
			r.sampler.Sonde = &sensors.FakeSonde{}
		}
		log.Printf("sensors fake camera=%t lidar=%t sonde=%t", s.Camera.Enable, s.Lidar.Enable, s.Sonde.Enable)
		return nil
	}

	var errs *multierror.Error
	if s.Camera.Enable {
		cam, err := sensors.NewCameraClient(s.Camera.URL)
		if err == nil {
			err = cam.Start(ctx)
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("camera: %w", err))
		} else {
			r.camera = cam
			r.sampler.Camera = cam
		}
	}
	if s.Lidar.Enable {
		lidar, err := sensors.NewLidarClient(s.Lidar.URL, s.Lidar.Timeout)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("lidar: %w", err))
		} else {
			r.sampler.Lidar = lidar
		}
	}
	if s.Sonde.Enable {
		switch s.Sonde.Source {
		case "serial":
			sonde, err := sensors.OpenSerialSonde(s.Sonde.Device, s.Sonde.Baud, s.Sonde.Params)
			if err != nil {
				errs = multierror.Append(errs, err)
			} else {
				r.serial = sonde
				r.sampler.Sonde = sonde
			}
		default:
			sonde, err := sensors.NewSondeClient(s.Sonde.URL, s.Sonde.Params, s.Sonde.Timeout)
			if err == nil {
				initCtx, cancel := context.WithTimeout(ctx, s.Sonde.Timeout)
				err = sonde.Init(initCtx)
				cancel()
				if err != nil {
					// The bridge may come up later; reads retry every tick.
					log.Printf("sonde init failed url=%s err=%v", s.Sonde.URL, err)
					err = nil
				}
				r.sampler.Sonde = sonde
			}
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("sonde: %w", err))
			}
		}
	}
	return errs.ErrorOrNil()
}

// runMission uploads and drives the configured waypoint file, one waypoint
// at a time.
func (r *vehicleRuntime) runMission(ctx context.Context) error {
	n := r.cfg.Nav
	wps, err := command.LoadWaypointsCSV(n.Mission)
	if err != nil {
		return fmt.Errorf("load mission: %w", err)
	}
	erp := command.Waypoint{Lat: n.ERPLat, Lon: n.ERPLon}
	log.Printf("mission start path=%s waypoints=%d throttle=%d", n.Mission, len(wps), *n.Throttle)
	started := time.Now()
	if err := r.sess.Navigator().RunMission(ctx, wps, erp, *n.Throttle, n.ToleranceM); err != nil {
		return err
	}
	log.Printf("mission complete waypoints=%d elapsed=%s", len(wps), time.Since(started).Round(time.Second))
	return nil
}

func (r *vehicleRuntime) webDeps(logs *web.LogBuffer) web.Deps {
	return web.Deps{
		Status:   r.status,
		Store:    r.sess.Store(),
		States:   r.states,
		Logs:     logs,
		Commands: r.sess.Dispatcher(),
	}
}

// Close stops the recorder before the session so the last sample still sees
// live state. It is safe to call more than once.
func (r *vehicleRuntime) Close() error {
	if r == nil {
		return nil
	}
	var errs *multierror.Error
	if r.recorder != nil {
		if err := r.recorder.Stop(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("recorder: %w", err))
		}
	}
	if r.camera != nil {
		r.camera.Close()
	}
	if r.serial != nil {
		if err := r.serial.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("sonde: %w", err))
		}
		r.serial = nil
	}
	if r.sess != nil {
		if err := r.sess.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("session: %w", err))
		}
	}
	// After the session so the reader never forwards into a closed socket.
	if r.repeater != nil {
		if err := r.repeater.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("repeat: %w", err))
		}
	}
	return errs.ErrorOrNil()
}
