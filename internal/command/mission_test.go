package command

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMission_SentencesSingleWaypoint(t *testing.T) {
	m := Mission{
		ERP:       Waypoint{Lat: 26.1, Lon: -81.1},
		Waypoints: []Waypoint{{Lat: 26.2, Lon: -81.2}},
		Throttle:  20,
	}
	if m.LineCount() != 3 {
		t.Fatalf("line count=%d want 3", m.LineCount())
	}
	got, err := m.Sentences()
	if err != nil {
		t.Fatalf("Sentences: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("len=%d want 5", len(got))
	}
	if !strings.HasPrefix(got[0], "$PSEAC,F,3,") {
		t.Fatalf("begin=%q", got[0])
	}
	if !strings.Contains(got[2], ",0*") {
		t.Fatalf("ERP should carry ordinal 0: %q", got[2])
	}
	if !strings.Contains(got[3], ",1*") {
		t.Fatalf("first waypoint should carry ordinal 1: %q", got[3])
	}
}

func TestMission_ValidateRejects(t *testing.T) {
	cases := []Mission{
		{ERP: Waypoint{Lat: 1, Lon: 1}, Throttle: 20},
		{ERP: Waypoint{Lat: 1, Lon: 1}, Waypoints: []Waypoint{{Lat: 1, Lon: 1}}, Throttle: -1},
		{ERP: Waypoint{Lat: 91, Lon: 1}, Waypoints: []Waypoint{{Lat: 1, Lon: 1}}, Throttle: 20},
		{ERP: Waypoint{Lat: 1, Lon: 1}, Waypoints: []Waypoint{{Lat: 1, Lon: 181}}, Throttle: 20},
	}
	for i, m := range cases {
		var ve *ValidationError
		if err := m.Validate(); !errors.As(err, &ve) {
			t.Fatalf("case %d: err=%v want *ValidationError", i, err)
		}
	}
}

func TestMission_WriteSEA(t *testing.T) {
	m := Mission{
		ERP:       Waypoint{Lat: 26.1, Lon: -81.1},
		Waypoints: []Waypoint{{Lat: 26.2, Lon: -81.2}, {Lat: 26.3, Lon: -81.3}},
		Throttle:  35,
	}
	var buf bytes.Buffer
	if err := m.WriteSEA(&buf); err != nil {
		t.Fatalf("WriteSEA: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\r\n"), "\r\n")
	if len(lines) != 4 {
		t.Fatalf("lines=%d want 4: %q", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "$PSEAR,0,000,35,0,000*") {
		t.Fatalf("first line=%q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "$OIWPL,2606.0000,N,08106.0000,W,0*") {
		t.Fatalf("erp line=%q", lines[1])
	}
}

func TestReadWaypointsCSV_HeaderVariants(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"title case", "Latitude,Longitude\n26.1,-81.1\n26.2,-81.2\n"},
		{"lower case", "name,longitude,latitude\na,-81.1,26.1\nb,-81.2,26.2\n"},
		{"no header", "26.1,-81.1\n26.2,-81.2\n"},
		{"unknown header", "y,x\n26.1,-81.1\n26.2,-81.2\n"},
	}
	for _, tc := range cases {
		got, err := ReadWaypointsCSV(strings.NewReader(tc.in))
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if len(got) != 2 {
			t.Fatalf("%s: len=%d want 2", tc.name, len(got))
		}
		if got[0] != (Waypoint{Lat: 26.1, Lon: -81.1}) || got[1] != (Waypoint{Lat: 26.2, Lon: -81.2}) {
			t.Fatalf("%s: got %v", tc.name, got)
		}
	}
}

func TestLoadWaypointsCSV_File(t *testing.T) {
	p := filepath.Join(t.TempDir(), "square.csv")
	if err := os.WriteFile(p, []byte("latitude,longitude\n25.0,-80.0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadWaypointsCSV(p)
	if err != nil {
		t.Fatalf("LoadWaypointsCSV: %v", err)
	}
	if len(got) != 1 || got[0].Lat != 25.0 || got[0].Lon != -80.0 {
		t.Fatalf("got %v", got)
	}
}

func TestReadWaypointsCSV_BadRow(t *testing.T) {
	_, err := ReadWaypointsCSV(strings.NewReader("Latitude,Longitude\nx,1\n"))
	if err == nil {
		t.Fatalf("expected error")
	}
}
