package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"surveyor/internal/record"
	"surveyor/internal/sensors"
)

func writeRecording(t *testing.T, dir string) {
	t.Helper()
	csv, err := record.OpenCSVSink(filepath.Join(dir, record.StateFile), nil)
	if err != nil {
		t.Fatalf("OpenCSVSink: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := csv.Append(map[string]any{"Latitude": 26.0, "Longitude": -81.0}); err != nil {
			t.Fatalf("csv Append: %v", err)
		}
	}
	if err := csv.Close(); err != nil {
		t.Fatalf("csv Close: %v", err)
	}

	lidar, err := record.OpenLidarSink(filepath.Join(dir, record.LidarFile))
	if err != nil {
		t.Fatalf("OpenLidarSink: %v", err)
	}
	scan, _ := (&sensors.FakeLidar{}).Scan(context.Background())
	if err := lidar.Append(scan); err != nil {
		t.Fatalf("lidar Append: %v", err)
	}
	if err := lidar.Close(); err != nil {
		t.Fatalf("lidar Close: %v", err)
	}

	images, err := record.OpenImageStore(filepath.Join(dir, record.ImageFile))
	if err != nil {
		t.Fatalf("OpenImageStore: %v", err)
	}
	cam := &sensors.FakeCamera{Width: 16, Height: 8}
	for i := 0; i < 3; i++ {
		im, _ := cam.Image()
		if err := images.Append(im); err != nil {
			t.Fatalf("image Append: %v", err)
		}
	}
	if err := images.Close(); err != nil {
		t.Fatalf("image Close: %v", err)
	}

	t0 := time.Now()
	wire, err := record.OpenWireLog(filepath.Join(dir, record.WireFile), t0)
	if err != nil {
		t.Fatalf("OpenWireLog: %v", err)
	}
	for i, line := range []string{"$GPGGA,1*00", "$PSEAD,L,1*00", "$GPGGA,2*00", "garbage"} {
		if err := wire.Append(t0.Add(time.Duration(i)*time.Second), line); err != nil {
			t.Fatalf("wire Append: %v", err)
		}
	}
	if err := wire.Close(); err != nil {
		t.Fatalf("wire Close: %v", err)
	}
}

func TestPrintRecordSummary_PrintsExpectedFields(t *testing.T) {
	dir := t.TempDir()
	writeRecording(t, dir)

	// A torn lidar line is counted, not fatal.
	f, err := os.OpenFile(filepath.Join(dir, record.LidarFile), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open lidar: %v", err)
	}
	_, _ = f.WriteString("{\"distances\":[1,2")
	_ = f.Close()

	// So is a torn wire log line.
	f, err = os.OpenFile(filepath.Join(dir, record.WireFile), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open wire log: %v", err)
	}
	_, _ = f.WriteString("4000")
	_ = f.Close()

	var out bytes.Buffer
	if err := printRecordSummary(&out, dir); err != nil {
		t.Fatalf("printRecordSummary: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"state_rows: 2\n",
		"state_columns: Latitude,Longitude\n",
		"lidar_scans: 1\n",
		"lidar_bad_lines: 1\n",
		"image_frames: 3\n",
		"image_shape: 8x16x3\n",
		"wire_segments: 1\n",
		"wire_lines: 4\n",
		"wire_max_duration: 3s\n",
		"  ?: 1\n",
		"  GPGGA: 2\n",
		"  PSEAD: 1\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "image_corrupt_frames") {
		t.Fatalf("unexpected corrupt frames:\n%s", got)
	}
}

func TestSummarizeRecording_EmptyDir(t *testing.T) {
	s, err := summarizeRecording(t.TempDir())
	if err != nil {
		t.Fatalf("summarizeRecording: %v", err)
	}
	if s.Rows != 0 || s.Scans != 0 || s.Frames != 0 || s.Columns != nil || s.WireLines != 0 {
		t.Fatalf("summary=%+v want empty", s)
	}
}

func TestSentenceTag(t *testing.T) {
	cases := map[string]string{
		"$GPGGA,1,2*6E": "GPGGA",
		" $PSEAD*1B":    "PSEAD",
		"$":             "?",
		"DEBUG,x":       "?",
	}
	for in, want := range cases {
		if got := sentenceTag(in); got != want {
			t.Fatalf("sentenceTag(%q)=%q want %q", in, got, want)
		}
	}
}

func TestPrintRecordSummary_Errors(t *testing.T) {
	var out bytes.Buffer
	if err := printRecordSummary(&out, "  "); err == nil {
		t.Fatalf("expected error for empty dir")
	}
	file := filepath.Join(t.TempDir(), "x")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := printRecordSummary(&out, file); err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Fatalf("err=%v want not a directory", err)
	}
}
