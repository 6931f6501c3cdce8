package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"surveyor/internal/command"
	"surveyor/internal/config"
	"surveyor/internal/nav"
	"surveyor/internal/sim"
	"surveyor/internal/web"
)

func startSim(t *testing.T, speed float64) *sim.Server {
	t.Helper()
	srv, err := sim.Listen(sim.Config{
		Start:    command.Waypoint{Lat: 26.0, Lon: -81.0},
		SpeedMPS: speed,
		Period:   20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("sim.Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Errorf("sim Serve did not return")
		}
	})
	return srv
}

func testConfig(addr, recordDir string) config.Config {
	cfg := config.Config{}
	cfg.Vehicle.Addr = addr
	cfg.Vehicle.ReadTimeout = 100 * time.Millisecond
	cfg.Vehicle.WaitForState = 2 * time.Second
	cfg.Nav.PollInterval = 20 * time.Millisecond
	cfg.Nav.KeepAlive = 500 * time.Millisecond
	cfg.Record.Enable = recordDir != ""
	cfg.Record.Dir = recordDir
	cfg.Record.Interval = 50 * time.Millisecond
	cfg.Sensors.Fake = true
	cfg.Sensors.Camera.Enable = true
	cfg.Sensors.Lidar.Enable = true
	cfg.Sensors.Sonde.Enable = true
	return cfg
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRuntime_RecordsFakeSensorsAgainstSim(t *testing.T) {
	srv := startSim(t, 1.5)
	dir := filepath.Join(t.TempDir(), "run")

	cfg := testConfig(srv.Addr(), dir)
	cfg.Record.WireLog = true
	rt, err := newRuntime(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	waitFor(t, 3*time.Second, "3 recorded rows", func() bool { return rt.recorder.Stats().Rows >= 3 })
	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	s, err := summarizeRecording(dir)
	if err != nil {
		t.Fatalf("summarizeRecording: %v", err)
	}
	if s.Rows < 3 || s.Scans < 3 || s.Frames < 3 {
		t.Fatalf("summary=%+v", s)
	}
	if s.WireSegments != 1 || s.WireLines == 0 || s.TagCounts["GPGGA"] == 0 || s.TagCounts["PSEAD"] == 0 {
		t.Fatalf("wire summary segments=%d lines=%d tags=%v", s.WireSegments, s.WireLines, s.TagCounts)
	}
	if s.Shape != [3]int{64, 128, 3} {
		t.Fatalf("shape=%v want [64 128 3]", s.Shape)
	}
	has := map[string]bool{}
	for _, c := range s.Columns {
		has[c] = true
	}
	for _, want := range []string{"Latitude", "DO (mg/l)"} {
		if !has[want] {
			t.Fatalf("columns=%v missing %q", s.Columns, want)
		}
	}
}

func TestRuntime_RunMission(t *testing.T) {
	srv := startSim(t, 20)
	start := command.Waypoint{Lat: 26.0, Lon: -81.0}
	a := nav.Destination(start, 90, 25)
	b := nav.Destination(a, 0, 25)

	mission := filepath.Join(t.TempDir(), "mission.csv")
	body := fmt.Sprintf("Latitude,Longitude\n%.7f,%.7f\n%.7f,%.7f\n", a.Lat, a.Lon, b.Lat, b.Lon)
	if err := os.WriteFile(mission, []byte(body), 0o644); err != nil {
		t.Fatalf("write mission: %v", err)
	}

	cfg := testConfig(srv.Addr(), "")
	cfg.Nav.Mission = mission
	cfg.Nav.ERPLat, cfg.Nav.ERPLon = start.Lat, start.Lon
	rt, err := newRuntime(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := rt.runMission(ctx); err != nil {
		t.Fatalf("runMission: %v", err)
	}
	pos := srv.Snapshot().Pos
	if d := nav.Distance(pos, b); d > 3 {
		t.Fatalf("vessel %.1fm from last waypoint", d)
	}
}

func TestRuntime_MissingMissionFile(t *testing.T) {
	srv := startSim(t, 1.5)
	cfg := testConfig(srv.Addr(), "")
	cfg.Nav.Mission = filepath.Join(t.TempDir(), "missing.csv")
	rt, err := newRuntime(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	defer rt.Close()
	if err := rt.runMission(context.Background()); err == nil {
		t.Fatalf("expected error for missing mission file")
	}
}

func TestRuntime_WebStatus(t *testing.T) {
	srv := startSim(t, 1.5)
	rt, err := newRuntime(context.Background(), testConfig(srv.Addr(), filepath.Join(t.TempDir(), "rec")))
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	defer rt.Close()

	ts := httptest.NewServer(web.Handler(rt.webDeps(web.NewLogBuffer(10))))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	var snap web.StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Session == nil || !snap.Session.Running {
		t.Fatalf("session=%+v", snap.Session)
	}
	if snap.Recorder == nil || !snap.Recorder.Running {
		t.Fatalf("recorder=%+v", snap.Recorder)
	}
	if snap.Camera != nil {
		t.Fatalf("fake camera should not report a stream snapshot")
	}
}

func TestNewRuntime_InvalidConfig(t *testing.T) {
	if _, err := newRuntime(context.Background(), config.Config{}); err == nil || err.Error() != "vehicle.addr is required" {
		t.Fatalf("err=%v want vehicle.addr is required", err)
	}
}

func TestRuntime_RepeatsRawSentences(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer pc.Close()

	srv := startSim(t, 1.5)
	cfg := testConfig(srv.Addr(), "")
	cfg.Repeat.Enable = true
	cfg.Repeat.Dest = pc.LocalAddr().String()
	rt, err := newRuntime(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	defer rt.Close()

	_ = pc.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 512)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read udp: %v", err)
	}
	got := string(buf[:n])
	if !strings.HasPrefix(got, "$") || !strings.HasSuffix(got, "\r\n") {
		t.Fatalf("datagram=%q", got)
	}
	if st := rt.repeater.Stats(); st.Sent == 0 {
		t.Fatalf("repeat stats=%+v", st)
	}
}
