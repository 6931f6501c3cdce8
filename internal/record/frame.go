// Package record samples vehicle state and the survey sensors once per tick
// and appends each sample to three per-session files: a CSV of state plus
// sonde columns, NDJSON lidar scans and a compressed image frame store.
package record

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"surveyor/internal/sensors"
	"surveyor/internal/state"
)

// Frame is one sample. It is built once per tick and not modified after.
type Frame struct {
	At    time.Time
	State state.Fields
	Sonde sensors.Reading
	Lidar []float64 // nil when the lidar was unavailable

	Image      sensors.Image
	ImageValid bool
}

// Row merges state and sonde values into one record. Sonde values win on a
// name collision.
func (f Frame) Row() map[string]any {
	out := make(map[string]any, len(f.State)+len(f.Sonde))
	for k, v := range f.State {
		out[k] = v
	}
	for k, v := range f.Sonde {
		out[k] = v
	}
	return out
}

// StateSource is satisfied by *state.Store.
type StateSource interface {
	Snapshot() state.Fields
}

// Sampler gathers a Frame from whichever sources are configured. Nil
// sources are skipped.
type Sampler struct {
	State  StateSource
	Camera sensors.Camera
	Lidar  sensors.Lidar
	Sonde  sensors.Sonde

	now func() time.Time
}

// Sample always returns a usable Frame. Sensor failures leave that part of
// the frame empty and are reported together in the error.
func (s *Sampler) Sample(ctx context.Context) (Frame, error) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	f := Frame{At: now()}
	if s.State != nil {
		f.State = s.State.Snapshot()
	}

	var errs *multierror.Error
	if s.Sonde != nil {
		r, err := s.Sonde.Read(ctx)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("sonde: %w", err))
		} else {
			f.Sonde = r
		}
	}
	if s.Lidar != nil {
		scan, err := s.Lidar.Scan(ctx)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("lidar: %w", err))
		} else {
			f.Lidar = scan
		}
	}
	if s.Camera != nil {
		f.Image, f.ImageValid = s.Camera.Image()
		if f.ImageValid && !f.Image.Valid() {
			f.ImageValid = false
		}
	}
	return f, errs.ErrorOrNil()
}
