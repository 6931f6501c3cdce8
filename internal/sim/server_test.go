package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"surveyor/internal/command"
	"surveyor/internal/nav"
	"surveyor/internal/nmea"
	"surveyor/internal/session"
)

func startSim(t *testing.T, cfg Config) *Server {
	t.Helper()
	srv, err := Listen(cfg)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Errorf("Serve did not return")
		}
	})
	return srv
}

func openSession(t *testing.T, addr string, nc nav.Config) *session.Session {
	t.Helper()
	s, err := session.Open(context.Background(), session.Config{
		Addr:         addr,
		ReadTimeout:  100 * time.Millisecond,
		WaitForState: 2 * time.Second,
		Nav:          nc,
	})
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEndToEnd_NavigatorConverges(t *testing.T) {
	start := command.Waypoint{Lat: 26.0, Lon: -81.0}
	srv := startSim(t, Config{Start: start, SpeedMPS: 20, Period: 20 * time.Millisecond})
	s := openSession(t, srv.Addr(), nav.Config{PollInterval: 20 * time.Millisecond, KeepAlive: 500 * time.Millisecond})

	target := nav.Destination(start, 45, 30)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Navigator().GoToWaypoint(ctx, target, start, 20, 2.0); err != nil {
		t.Fatalf("GoToWaypoint: %v", err)
	}

	pos, ok := s.Navigator().Position()
	if !ok {
		t.Fatalf("no position after arrival")
	}
	if d := nav.Distance(pos, target); d > 2.0 {
		t.Fatalf("reported dist=%v want <= 2", d)
	}
	snap := srv.Snapshot()
	if len(snap.Mission) != 2 || snap.Throttle != 20 {
		t.Fatalf("sim mission=%v throttle=%d", snap.Mission, snap.Throttle)
	}
	if st := s.Navigator().Status(); st.Active || st.Result != "arrived" {
		t.Fatalf("nav status=%+v", st)
	}
}

func TestEndToEnd_RunMissionSquare(t *testing.T) {
	start := command.Waypoint{Lat: 26.0, Lon: -81.0}
	srv := startSim(t, Config{Start: start, SpeedMPS: 25, Period: 20 * time.Millisecond})
	s := openSession(t, srv.Addr(), nav.Config{PollInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	square := nav.SquareAround(start, 20)
	if err := s.Navigator().RunMission(ctx, square, start, 20, 2.0); err != nil {
		t.Fatalf("RunMission: %v", err)
	}
	if d := nav.Distance(srv.Snapshot().Pos, square[len(square)-1]); d > 2.0 {
		t.Fatalf("sim ended %v m from last corner", d)
	}
}

func TestEndToEnd_OperatorOverrideStopsNavigator(t *testing.T) {
	script := ScenarioScript{Events: []ScenarioEvent{{T: 1500 * time.Millisecond, Mode: "L"}}}
	scn, err := NewScenario(script)
	if err != nil {
		t.Fatalf("NewScenario: %v", err)
	}
	start := command.Waypoint{Lat: 26.0, Lon: -81.0}
	srv := startSim(t, Config{Start: start, SpeedMPS: 1, Period: 20 * time.Millisecond, Scenario: scn})
	s := openSession(t, srv.Addr(), nav.Config{PollInterval: 20 * time.Millisecond, KeepAlive: 10 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = s.Navigator().GoToWaypoint(ctx, nav.Destination(start, 0, 500), start, 20, 2.0)
	if !errors.Is(err, nav.ErrModeChanged) {
		t.Fatalf("err=%v want ErrModeChanged", err)
	}
	if srv.Snapshot().Mode != nmea.ModeStandby {
		t.Fatalf("sim mode=%v", srv.Snapshot().Mode)
	}
}

func TestEndToEnd_DropIsTerminal(t *testing.T) {
	scn, _ := NewScenario(ScenarioScript{Events: []ScenarioEvent{{T: 200 * time.Millisecond, Drop: true}}})
	srv := startSim(t, Config{Period: 20 * time.Millisecond, Scenario: scn})
	s := openSession(t, srv.Addr(), nav.Config{})

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("session reader did not stop after drop")
	}
	if err := s.Err(); err == nil {
		t.Fatalf("expected terminal error after drop")
	}
}

func TestEndToEnd_GarbageIsIgnored(t *testing.T) {
	scn, _ := NewScenario(ScenarioScript{Events: []ScenarioEvent{
		{T: 0, Raw: "$PSEAA,1,2,3*00"},
		{T: 100 * time.Millisecond, Raw: "not a sentence at all"},
	}})
	srv := startSim(t, Config{Period: 20 * time.Millisecond, Scenario: scn})
	s := openSession(t, srv.Addr(), nav.Config{})

	time.Sleep(300 * time.Millisecond)
	st := s.Status()
	if !st.Running || st.Router.Errors == 0 {
		t.Fatalf("status=%+v want running with parse errors counted", st)
	}
	if _, ok := s.Store().Float(nmea.FieldLatitude); !ok {
		t.Fatalf("latitude missing")
	}
}
