package command

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSender struct {
	lines []string
	err   error
	// failAt, if > 0, fails the n-th Send (1-based).
	failAt int
}

func (f *fakeSender) Send(s string) error {
	if f.err != nil {
		return f.err
	}
	if f.failAt > 0 && len(f.lines)+1 == f.failAt {
		return errors.New("broken pipe")
	}
	f.lines = append(f.lines, s)
	return nil
}

type sleepLog struct {
	delays []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func TestDispatcher_ThrusterSettles(t *testing.T) {
	tx := &fakeSender{}
	sl := &sleepLog{}
	d := newDispatcher(tx, sl.sleep)

	if err := d.SetThruster(context.Background(), 50, -10); err != nil {
		t.Fatalf("SetThruster: %v", err)
	}
	if len(tx.lines) != 1 || !strings.HasPrefix(tx.lines[0], "$PSEAC,T,0,50,-10,*") {
		t.Fatalf("lines=%q", tx.lines)
	}
	want := []time.Duration{InterSentenceDelay, 50 * time.Millisecond}
	if len(sl.delays) != len(want) || sl.delays[0] != want[0] || sl.delays[1] != want[1] {
		t.Fatalf("delays=%v want %v", sl.delays, want)
	}
}

func TestDispatcher_ValidationBeforeIO(t *testing.T) {
	tx := &fakeSender{}
	d := newDispatcher(tx, (&sleepLog{}).sleep)

	err := d.SetHeading(context.Background(), 10, 400)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err=%v want *ValidationError", err)
	}
	if len(tx.lines) != 0 {
		t.Fatalf("sent %d lines on invalid command", len(tx.lines))
	}
}

func TestDispatcher_UploadMission(t *testing.T) {
	tx := &fakeSender{}
	sl := &sleepLog{}
	d := newDispatcher(tx, sl.sleep)

	m := Mission{
		ERP:       Waypoint{Lat: 25.7617, Lon: -80.1918},
		Waypoints: []Waypoint{{Lat: 25.7620, Lon: -80.1920}},
		Throttle:  20,
	}
	if err := d.UploadMission(context.Background(), m); err != nil {
		t.Fatalf("UploadMission: %v", err)
	}

	if len(tx.lines) != 5 {
		t.Fatalf("lines=%d want 5: %q", len(tx.lines), tx.lines)
	}
	if tx.lines[0] != "$PSEAC,F,3,000,000,*1D\r\n" {
		t.Fatalf("begin=%q", tx.lines[0])
	}
	if tx.lines[1] != "$PSEAR,0,000,20,0,000*7B\r\n" {
		t.Fatalf("psear=%q", tx.lines[1])
	}
	if !strings.HasPrefix(tx.lines[2], "$OIWPL,2545.7020,N,08011.5080,W,0*") {
		t.Fatalf("erp=%q", tx.lines[2])
	}
	if !strings.HasPrefix(tx.lines[3], "$OIWPL,2545.7200,N,08011.5200,W,1*") {
		t.Fatalf("waypoint=%q", tx.lines[3])
	}
	if tx.lines[4] != "$PSEAC,F,000,000,000*32\r\n" {
		t.Fatalf("end=%q", tx.lines[4])
	}

	// Every line is followed by the inter-sentence delay; begin and end also
	// settle.
	var inter, settle int
	for _, dl := range sl.delays {
		switch dl {
		case InterSentenceDelay:
			inter++
		case 100 * time.Millisecond:
			settle++
		}
	}
	if inter != 5 || settle != 2 {
		t.Fatalf("inter=%d settle=%d delays=%v", inter, settle, sl.delays)
	}
	if st := d.Stats(); st.Sent != 5 || st.Last != "end_file_download" {
		t.Fatalf("stats=%+v", st)
	}
}

func TestDispatcher_EmptyMissionSendsNothing(t *testing.T) {
	tx := &fakeSender{}
	d := newDispatcher(tx, (&sleepLog{}).sleep)

	err := d.UploadMission(context.Background(), Mission{ERP: Waypoint{Lat: 1, Lon: 1}, Throttle: 20})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err=%v want *ValidationError", err)
	}
	if len(tx.lines) != 0 {
		t.Fatalf("sent %d lines for empty mission", len(tx.lines))
	}
}

func TestDispatcher_UploadStopsOnSendError(t *testing.T) {
	tx := &fakeSender{failAt: 3}
	d := newDispatcher(tx, (&sleepLog{}).sleep)

	m := Mission{ERP: Waypoint{Lat: 1, Lon: 1}, Waypoints: []Waypoint{{Lat: 2, Lon: 2}}, Throttle: 50}
	err := d.UploadMission(context.Background(), m)
	if err == nil || !strings.Contains(err.Error(), "line 2/3") {
		t.Fatalf("err=%v want failure on line 2/3", err)
	}
	if len(tx.lines) != 2 {
		t.Fatalf("lines=%d want 2", len(tx.lines))
	}
}

func TestDispatcher_CanceledContext(t *testing.T) {
	tx := &fakeSender{}
	d := newDispatcher(tx, (&sleepLog{}).sleep)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.SetStandby(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want %v", err, context.Canceled)
	}
	if len(tx.lines) != 0 {
		t.Fatalf("sent on canceled context")
	}
}

func TestDispatcher_CommandWaitsForUpload(t *testing.T) {
	tx := &fakeSender{}
	started := make(chan struct{})
	var once sync.Once
	d := newDispatcher(tx, func(ctx context.Context, dur time.Duration) error {
		once.Do(func() { close(started) })
		time.Sleep(2 * time.Millisecond)
		return ctx.Err()
	})
	m := Mission{
		ERP:       Waypoint{Lat: 25.7617, Lon: -80.1918},
		Waypoints: []Waypoint{{Lat: 25.7620, Lon: -80.1920}, {Lat: 25.7625, Lon: -80.1925}},
		Throttle:  20,
	}

	done := make(chan error, 1)
	go func() { done <- d.UploadMission(context.Background(), m) }()
	<-started
	if err := d.SetStandby(context.Background()); err != nil {
		t.Fatalf("SetStandby: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("UploadMission: %v", err)
	}

	// begin, PSEAR, ERP, two waypoints, end, then standby.
	if len(tx.lines) != 7 {
		t.Fatalf("lines=%d want 7: %q", len(tx.lines), tx.lines)
	}
	if !strings.HasPrefix(tx.lines[0], "$PSEAC,F,4,") {
		t.Fatalf("begin=%q", tx.lines[0])
	}
	if tx.lines[5] != "$PSEAC,F,000,000,000*32\r\n" {
		t.Fatalf("end=%q want end of download before standby", tx.lines[5])
	}
	if !strings.HasPrefix(tx.lines[6], "$PSEAC,L,") {
		t.Fatalf("last=%q want standby", tx.lines[6])
	}
}
