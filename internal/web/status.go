package web

import (
	"time"

	"surveyor/internal/record"
	"surveyor/internal/sensors"
	"surveyor/internal/session"
	"surveyor/internal/udp"
)

// Sources supplies the live snapshots shown on /api/status. Any of them may
// be nil when that component is not running.
type Sources struct {
	Session  func() session.Status
	Recorder func() record.Stats
	Camera   func() sensors.CameraSnapshot
	Repeat   func() udp.Stats
}

type Status struct {
	start time.Time
	src   Sources
}

func NewStatus(src Sources) *Status {
	return &Status{start: time.Now().UTC(), src: src}
}

type StatusSnapshot struct {
	Service   string                  `json:"service"`
	NowUTC    string                  `json:"now_utc"`
	UptimeSec int64                   `json:"uptime_sec"`
	Session   *session.Status         `json:"session,omitempty"`
	Recorder  *record.Stats           `json:"recorder,omitempty"`
	Camera    *sensors.CameraSnapshot `json:"camera,omitempty"`
	Repeat    *udp.Stats              `json:"repeat,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	snap := StatusSnapshot{
		Service: "surveyor",
		NowUTC:  nowUTC.UTC().Format(time.RFC3339Nano),
	}
	if s == nil {
		return snap
	}
	snap.UptimeSec = int64(nowUTC.Sub(s.start).Seconds())
	if s.src.Session != nil {
		st := s.src.Session()
		snap.Session = &st
	}
	if s.src.Recorder != nil {
		st := s.src.Recorder()
		snap.Recorder = &st
	}
	if s.src.Camera != nil {
		st := s.src.Camera()
		snap.Camera = &st
	}
	if s.src.Repeat != nil {
		st := s.src.Repeat()
		snap.Repeat = &st
	}
	return snap
}
