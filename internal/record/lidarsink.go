package record

import (
	"encoding/json"
	"errors"
	"os"

	"surveyor/internal/sensors"
)

// LidarRecord is one line of the lidar NDJSON file.
type LidarRecord struct {
	Distances []float64 `json:"distances"`
	Angles    []int     `json:"angles"`
}

// LidarSink appends one JSON object per line. Each scan is a single write so
// a reader never sees half a record except after a crash.
type LidarSink struct {
	f      *os.File
	angles []int
	scans  uint64
	closed bool
}

func OpenLidarSink(path string) (*LidarSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &LidarSink{f: f, angles: sensors.Angles()}, nil
}

func (s *LidarSink) Append(scan []float64) error {
	if s.closed {
		return errors.New("lidar sink is closed")
	}
	b, err := json.Marshal(LidarRecord{Distances: scan, Angles: s.angles})
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := s.f.Write(b); err != nil {
		return err
	}
	s.scans++
	return nil
}

func (s *LidarSink) Scans() uint64 { return s.scans }

func (s *LidarSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}
