package record

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"surveyor/internal/nmea"
)

const (
	DefaultInterval = time.Second

	StateFile = "state_data.csv"
	LidarFile = "lidar_data.json"
	ImageFile = "image_data.frames"
)

type Config struct {
	// Root is where a timestamped session directory is created. Ignored when
	// Dir is set.
	Root string
	// Dir, when set, is used as-is and appended to across restarts.
	Dir string

	Interval time.Duration

	// Columns presets the CSV header for a new state file. When empty the
	// header is the timestamp (if enabled), every state field, then
	// SondeColumns.
	Columns []string
	// SondeColumns are the sonde reading names for the default header.
	SondeColumns []string
	// Timestamp adds a UTC RFC 3339 column to every row.
	Timestamp bool
	// WireLog keeps every raw inbound line passed to Line in WireFile.
	WireLog bool
}

// Recorder runs the sampling loop and owns the sinks.
type Recorder struct {
	cfg     Config
	sampler *Sampler

	errLog rate.Sometimes

	// Fed from the session reader goroutine; never guarded by mu.
	wire     atomic.Pointer[WireLog]
	wireErrs atomic.Uint64

	mu        sync.Mutex
	dir       string
	csv       *CSVSink
	lidar     *LidarSink
	images    *ImageStore
	running   bool
	ticks     uint64
	skipped   uint64
	wireLines uint64
	errs      uint64
	lastErr   string

	cancel context.CancelFunc
	done   chan struct{}
	result error
}

type Stats struct {
	Running   bool   `json:"running"`
	Dir       string `json:"dir,omitempty"`
	Ticks     uint64 `json:"ticks"`
	Skipped   uint64 `json:"skipped,omitempty"`
	Rows      uint64 `json:"rows"`
	Scans     uint64 `json:"scans"`
	Frames    uint64 `json:"frames"`
	WireLines uint64 `json:"wire_lines,omitempty"`
	Errors    uint64 `json:"errors"`
	LastError string `json:"last_error,omitempty"`
}

func New(cfg Config, sampler *Sampler) *Recorder {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if sampler == nil {
		sampler = &Sampler{}
	}
	return &Recorder{cfg: cfg, sampler: sampler, errLog: rate.Sometimes{Interval: 10 * time.Second}}
}

// Start creates the output directory, opens the state sink and begins
// sampling. The loop ends when ctx is done or Stop is called.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return errors.New("recorder already started")
	}

	dir, err := r.makeDir(time.Now())
	if err != nil {
		return err
	}
	csv, err := OpenCSVSink(filepath.Join(dir, StateFile), r.cfg.columns())
	if err != nil {
		return err
	}
	if r.cfg.WireLog {
		w, err := OpenWireLog(filepath.Join(dir, WireFile), time.Now())
		if err != nil {
			_ = csv.Close()
			return err
		}
		r.wire.Store(w)
	}
	r.dir = dir
	r.csv = csv
	r.running = true

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	log.Printf("record started dir=%s interval=%s", dir, r.cfg.Interval)
	go r.loop(runCtx)
	return nil
}

func (c Config) columns() []string {
	if len(c.Columns) > 0 {
		return c.Columns
	}
	var out []string
	if c.Timestamp {
		out = append(out, TimestampColumn)
	}
	out = append(out, nmea.StateFields()...)
	for _, k := range c.SondeColumns {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}

func (r *Recorder) makeDir(now time.Time) (string, error) {
	if r.cfg.Dir != "" {
		if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
			return "", fmt.Errorf("record dir: %w", err)
		}
		return r.cfg.Dir, nil
	}
	root := r.cfg.Root
	if root == "" {
		root = "."
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("record root: %w", err)
	}
	name := filepath.Join(root, "records_"+now.Format("20060102_150405"))
	err := os.Mkdir(name, 0o755)
	if errors.Is(err, os.ErrExist) {
		name = name + "_" + uuid.NewString()[:8]
		err = os.Mkdir(name, 0o755)
	}
	if err != nil {
		return "", fmt.Errorf("record dir: %w", err)
	}
	return name, nil
}

func (r *Recorder) loop(ctx context.Context) {
	defer close(r.done)
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()
	for {
		r.tick(ctx)
		select {
		case <-ctx.Done():
			r.finish()
			return
		case <-t.C:
		}
	}
}

func (r *Recorder) tick(ctx context.Context) {
	f, err := r.sampler.Sample(ctx)
	if ctx.Err() != nil {
		return
	}
	// Nothing is written until the vehicle has reported state.
	if len(f.State) == 0 {
		r.mu.Lock()
		r.ticks++
		r.skipped++
		first, dir := r.skipped == 1, r.dir
		r.mu.Unlock()
		if first {
			log.Printf("record waiting for vehicle state dir=%s", dir)
		}
		return
	}
	if err != nil {
		r.noteErr(err)
	}
	if err := r.write(f); err != nil {
		r.noteErr(err)
	}
	r.mu.Lock()
	r.ticks++
	r.mu.Unlock()
}

func (r *Recorder) write(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs *multierror.Error
	row := f.Row()
	if r.cfg.Timestamp {
		row[TimestampColumn] = f.At.UTC().Format(time.RFC3339Nano)
	}
	if err := r.csv.Append(row); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("state row: %w", err))
	}
	if f.Lidar != nil {
		if r.lidar == nil {
			s, err := OpenLidarSink(filepath.Join(r.dir, LidarFile))
			if err != nil {
				errs = multierror.Append(errs, err)
			}
			r.lidar = s
		}
		if r.lidar != nil {
			if err := r.lidar.Append(f.Lidar); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("lidar scan: %w", err))
			}
		}
	}
	if f.ImageValid {
		if r.images == nil {
			s, err := OpenImageStore(filepath.Join(r.dir, ImageFile))
			if err != nil {
				errs = multierror.Append(errs, err)
			}
			r.images = s
		}
		if r.images != nil {
			if err := r.images.Append(f.Image); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("image frame: %w", err))
			}
		}
	}
	return errs.ErrorOrNil()
}

func (r *Recorder) noteErr(err error) {
	r.mu.Lock()
	r.errs++
	r.lastErr = err.Error()
	r.mu.Unlock()
	r.errLog.Do(func() {
		log.Printf("record tick error err=%v", err)
	})
}

// Line appends one raw inbound line to the wire log. It is a no-op unless
// wire logging is on and the recorder is running.
func (r *Recorder) Line(line string) {
	w := r.wire.Load()
	if w == nil {
		return
	}
	if err := w.Append(time.Now(), line); err != nil && r.wire.Load() != nil {
		r.wireErrs.Add(1)
		r.errLog.Do(func() {
			log.Printf("record wire log error err=%v", err)
		})
	}
}

// finish closes every sink and keeps the combined error for Stop.
func (r *Recorder) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs *multierror.Error
	if w := r.wire.Swap(nil); w != nil {
		if err := w.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close %s: %w", WireFile, err))
		}
		r.wireLines = w.Lines()
	}
	if r.csv != nil {
		if err := r.csv.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close %s: %w", StateFile, err))
		}
	}
	if r.lidar != nil {
		if err := r.lidar.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close %s: %w", LidarFile, err))
		}
	}
	if r.images != nil {
		if err := r.images.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close %s: %w", ImageFile, err))
		}
	}
	r.running = false
	r.result = errs.ErrorOrNil()
	log.Printf("record stopped dir=%s ticks=%d errors=%d", r.dir, r.ticks, r.errs+r.wireErrs.Load())
}

// Stop ends the loop, waits for the final flush and returns any close
// errors. It is safe to call more than once and after ctx cancellation.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	<-done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Done is closed once the sinks have been closed. Nil before Start.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Recorder) Dir() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dir
}

func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Stats{Running: r.running, Dir: r.dir, Ticks: r.ticks, Skipped: r.skipped, Errors: r.errs + r.wireErrs.Load(), LastError: r.lastErr}
	st.WireLines = r.wireLines
	if w := r.wire.Load(); w != nil {
		st.WireLines = w.Lines()
	}
	if r.csv != nil {
		st.Rows = r.csv.Rows()
	}
	if r.lidar != nil {
		st.Scans = r.lidar.Scans()
	}
	if r.images != nil {
		st.Frames = r.images.Frames()
	}
	return st
}
