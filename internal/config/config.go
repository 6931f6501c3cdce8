package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Vehicle VehicleConfig `yaml:"vehicle"`
	Nav     NavConfig     `yaml:"nav"`
	Record  RecordConfig  `yaml:"record"`
	Sensors SensorsConfig `yaml:"sensors"`
	Web     WebConfig     `yaml:"web"`
	Repeat  RepeatConfig  `yaml:"repeat"`
	Sim     SimConfig     `yaml:"sim"`
}

type VehicleConfig struct {
	Addr           string        `yaml:"addr"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	ReceiveBytes   int           `yaml:"receive_bytes"`
	WaitForState   time.Duration `yaml:"wait_for_state"`
}

type NavConfig struct {
	ToleranceM   float64       `yaml:"tolerance_m"`
	PollInterval time.Duration `yaml:"poll_interval"`
	KeepAlive    time.Duration `yaml:"keepalive_interval"`
	ModeGrace    time.Duration `yaml:"mode_grace"`
	StallTimeout time.Duration `yaml:"stall_timeout"`
	// Mission is an optional waypoint CSV run once after connecting.
	Mission string  `yaml:"mission"`
	ERPLat  float64 `yaml:"erp_lat"`
	ERPLon  float64 `yaml:"erp_lon"`
	// Throttle is nil until defaulted; an explicit 0 is kept.
	Throttle *int `yaml:"throttle"`
}

type RecordConfig struct {
	Enable    bool          `yaml:"enable"`
	Root      string        `yaml:"root"`
	Dir       string        `yaml:"dir"`
	Interval  time.Duration `yaml:"interval"`
	Columns   []string      `yaml:"columns"`
	Timestamp bool          `yaml:"timestamp"`
	WireLog   bool          `yaml:"wire_log"`
}

type SensorsConfig struct {
	Camera CameraConfig `yaml:"camera"`
	Lidar  LidarConfig  `yaml:"lidar"`
	Sonde  SondeConfig  `yaml:"sonde"`
	// Fake replaces every enabled sensor with a deterministic generator.
	Fake bool `yaml:"fake"`
}

type CameraConfig struct {
	Enable bool   `yaml:"enable"`
	URL    string `yaml:"url"`
}

type LidarConfig struct {
	Enable  bool          `yaml:"enable"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type SondeConfig struct {
	Enable bool `yaml:"enable"`
	// Source is "http" (bridge server) or "serial" (direct).
	Source  string        `yaml:"source"`
	URL     string        `yaml:"url"`
	Device  string        `yaml:"device"`
	Baud    int           `yaml:"baud"`
	Params  []string      `yaml:"params"`
	Timeout time.Duration `yaml:"timeout"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

// RepeatConfig forwards every raw inbound vehicle sentence over UDP.
type RepeatConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

// SimConfig configures cmd/surveyor-sim.
type SimConfig struct {
	Listen   string        `yaml:"listen"`
	StartLat float64       `yaml:"start_lat"`
	StartLon float64       `yaml:"start_lon"`
	SpeedMPS float64       `yaml:"speed_mps"`
	Period   time.Duration `yaml:"period"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, rejecting unknown keys, then applies defaults.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	v := &cfg.Vehicle
	v.Addr = strings.TrimSpace(v.Addr)
	if v.Addr == "" {
		return fmt.Errorf("vehicle.addr is required")
	}
	if _, _, err := net.SplitHostPort(v.Addr); err != nil {
		return fmt.Errorf("vehicle.addr must be host:port: %v", err)
	}
	if v.ConnectTimeout <= 0 {
		v.ConnectTimeout = 5 * time.Second
	}
	if v.ReadTimeout <= 0 {
		v.ReadTimeout = 1 * time.Second
	}
	if v.ReceiveBytes <= 0 {
		v.ReceiveBytes = 2048
	}
	if v.WaitForState < 0 {
		return fmt.Errorf("vehicle.wait_for_state must be >= 0")
	}

	n := &cfg.Nav
	if n.ToleranceM == 0 {
		n.ToleranceM = 2.0
	}
	if n.ToleranceM < 0 {
		return fmt.Errorf("nav.tolerance_m must be > 0")
	}
	if n.PollInterval <= 0 {
		n.PollInterval = 200 * time.Millisecond
	}
	if n.KeepAlive <= 0 {
		n.KeepAlive = 1 * time.Second
	}
	if n.ModeGrace <= 0 {
		n.ModeGrace = 3 * time.Second
	}
	if n.StallTimeout < 0 {
		return fmt.Errorf("nav.stall_timeout must be >= 0")
	}
	if n.Throttle == nil {
		throttle := 20
		n.Throttle = &throttle
	}
	if *n.Throttle < 0 || *n.Throttle > 100 {
		return fmt.Errorf("nav.throttle must be 0..100")
	}
	if n.Mission != "" {
		if n.ERPLat < -90 || n.ERPLat > 90 || n.ERPLon < -180 || n.ERPLon > 180 {
			return fmt.Errorf("nav.erp_lat/erp_lon out of range")
		}
	}

	r := &cfg.Record
	if r.Interval <= 0 {
		r.Interval = 1 * time.Second
	}
	if r.Root == "" {
		r.Root = "."
	}

	s := &cfg.Sensors
	if s.Camera.Enable && !s.Fake && s.Camera.URL == "" {
		return fmt.Errorf("sensors.camera.url is required when sensors.camera.enable is true")
	}
	if s.Lidar.Enable && !s.Fake && s.Lidar.URL == "" {
		return fmt.Errorf("sensors.lidar.url is required when sensors.lidar.enable is true")
	}
	if s.Lidar.Timeout <= 0 {
		s.Lidar.Timeout = 3 * time.Second
	}
	if s.Sonde.Source == "" {
		s.Sonde.Source = "http"
	}
	if s.Sonde.Timeout <= 0 {
		s.Sonde.Timeout = 3 * time.Second
	}
	if s.Sonde.Baud <= 0 {
		s.Sonde.Baud = 9600
	}
	if s.Sonde.Enable && !s.Fake {
		switch s.Sonde.Source {
		case "http":
			if s.Sonde.URL == "" {
				return fmt.Errorf("sensors.sonde.url is required when sensors.sonde.source is 'http'")
			}
		case "serial":
			if s.Sonde.Device == "" {
				return fmt.Errorf("sensors.sonde.device is required when sensors.sonde.source is 'serial'")
			}
		default:
			return fmt.Errorf("sensors.sonde.source must be 'http' or 'serial'")
		}
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}

	rp := &cfg.Repeat
	rp.Dest = strings.TrimSpace(rp.Dest)
	if rp.Enable {
		if rp.Dest == "" {
			return fmt.Errorf("repeat.dest is required when repeat.enable is true")
		}
		if _, _, err := net.SplitHostPort(rp.Dest); err != nil {
			return fmt.Errorf("repeat.dest must be host:port: %v", err)
		}
	}

	sim := &cfg.Sim
	if sim.Listen == "" {
		sim.Listen = v.Addr
	}
	if sim.StartLat == 0 && sim.StartLon == 0 {
		sim.StartLat, sim.StartLon = 26.0, -81.0
	}
	if sim.SpeedMPS <= 0 {
		sim.SpeedMPS = 1.5
	}
	if sim.Period <= 0 {
		sim.Period = 200 * time.Millisecond
	}
	return nil
}
