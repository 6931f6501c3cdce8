package sim

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"surveyor/internal/command"
	"surveyor/internal/nav"
	"surveyor/internal/nmea"
)

// arriveM is how close the vessel must get before it advances to the next
// waypoint. It is kept below the navigator's default tolerance.
const arriveM = 1.0

// Vessel is a deterministic kinematic model of the survey vehicle's firmware:
// it accepts PSEAC/PSEAR/OIWPL sentences and reports GGA/PSEAA/PSEAD.
//
// Vessel is not safe for concurrent use.
type Vessel struct {
	Pos      command.Waypoint
	Heading  float64
	SpeedMPS float64

	mode       nmea.ControlMode
	cmdHeading float64
	thrust     int
	thrustDiff int
	throttle   int

	mission []command.Waypoint // index 0 is the ERP
	next    int

	downloading bool
	expect      int
	received    int
	pending     map[int]command.Waypoint

	elapsed time.Duration
}

func NewVessel(start command.Waypoint, speedMPS float64) *Vessel {
	if speedMPS <= 0 {
		speedMPS = 1.5
	}
	return &Vessel{Pos: start, SpeedMPS: speedMPS, mode: nmea.ModeStandby}
}

func (v *Vessel) Mode() nmea.ControlMode      { return v.mode }
func (v *Vessel) Mission() []command.Waypoint { return append([]command.Waypoint(nil), v.mission...) }
func (v *Vessel) Throttle() int               { return v.throttle }

// ForceMode changes mode as if the operator overrode it from the shore
// console.
func (v *Vessel) ForceMode(m nmea.ControlMode) {
	v.mode = m
	v.downloading = false
}

// Apply handles one inbound sentence.
func (v *Vessel) Apply(line string) error {
	s, err := nmea.ParseSentence(line)
	if err != nil {
		return err
	}
	switch s.Tag {
	case "PSEAC":
		return v.applyControl(s.Fields)
	case "PSEAR":
		if len(s.Fields) < 4 {
			return fmt.Errorf("short PSEAR")
		}
		t, err := atoiField(s.Fields[3])
		if err != nil || t < 0 || t > 100 {
			return fmt.Errorf("bad PSEAR throttle %q", s.Fields[3])
		}
		v.throttle = t
		v.countDownload()
		return nil
	case "OIWPL":
		if !v.downloading {
			return errors.New("waypoint outside file download")
		}
		lat, lon, ord, err := nmea.ParseWaypoint(s)
		if err != nil {
			return err
		}
		v.pending[ord] = command.Waypoint{Lat: lat, Lon: lon}
		v.countDownload()
		return nil
	default:
		return fmt.Errorf("unsupported sentence %s", s.Tag)
	}
}

func (v *Vessel) countDownload() {
	if v.downloading {
		v.received++
	}
}

func (v *Vessel) applyControl(f []string) error {
	if len(f) < 2 {
		return errors.New("short PSEAC")
	}
	arg := func(i int) int {
		if i >= len(f) {
			return 0
		}
		n, _ := atoiField(f[i])
		return n
	}

	switch strings.TrimSpace(f[1]) {
	case "F":
		if n := arg(2); n > 0 {
			v.downloading = true
			v.expect = n
			v.received = 0
			v.pending = map[int]command.Waypoint{}
			v.mode = nmea.ModeFileDownload
			return nil
		}
		return v.endDownload()
	case "L":
		v.mode = nmea.ModeStandby
		v.thrust, v.thrustDiff = 0, 0
	case "T":
		v.mode = nmea.ModeThruster
		v.thrust, v.thrustDiff = arg(3), arg(4)
	case "C":
		v.mode = nmea.ModeHeading
		v.cmdHeading = float64(arg(2))
		v.thrust = arg(3)
	case "R":
		v.mode = nmea.ModeStationKeep
	case "W":
		if len(v.mission) < 2 {
			return errors.New("waypoint mode without a mission")
		}
		if v.mode != nmea.ModeWaypoint {
			v.next = 1
		}
		v.mode = nmea.ModeWaypoint
	case "H":
		if len(v.mission) == 0 {
			return errors.New("go to ERP without a mission")
		}
		v.mode = nmea.ModeGoToERP
	default:
		return fmt.Errorf("unsupported PSEAC code %q", f[1])
	}
	return nil
}

func (v *Vessel) endDownload() error {
	if !v.downloading {
		return errors.New("end of file download without begin")
	}
	v.downloading = false
	v.mode = nmea.ModeStandby
	if v.received != v.expect {
		return fmt.Errorf("file download got %d lines want %d", v.received, v.expect)
	}
	if _, ok := v.pending[0]; !ok {
		return errors.New("file download has no ERP")
	}
	ords := make([]int, 0, len(v.pending))
	for k := range v.pending {
		ords = append(ords, k)
	}
	sort.Ints(ords)
	m := make([]command.Waypoint, 0, len(ords))
	for _, k := range ords {
		m = append(m, v.pending[k])
	}
	v.mission = m
	v.next = 1
	return nil
}

// Step advances the model by dt.
func (v *Vessel) Step(dt time.Duration) {
	sec := dt.Seconds()
	v.elapsed += dt
	switch v.mode {
	case nmea.ModeWaypoint:
		if v.next >= len(v.mission) {
			v.mode = nmea.ModeStationKeep
			return
		}
		if v.moveToward(v.mission[v.next], v.SpeedMPS*sec) {
			v.next++
			if v.next >= len(v.mission) {
				v.mode = nmea.ModeStationKeep
			}
		}
	case nmea.ModeGoToERP:
		if v.moveToward(v.mission[0], v.SpeedMPS*sec) {
			v.mode = nmea.ModeStationKeep
		}
	case nmea.ModeHeading:
		v.Heading = v.cmdHeading
		v.Pos = nav.Destination(v.Pos, v.Heading, v.SpeedMPS*sec*float64(v.thrust)/100)
	case nmea.ModeThruster:
		v.Heading = math.Mod(v.Heading+float64(v.thrustDiff)*0.5*sec+360, 360)
		v.Pos = nav.Destination(v.Pos, v.Heading, v.SpeedMPS*sec*float64(v.thrust)/100)
	}
}

// moveToward reports whether the target was reached this step.
func (v *Vessel) moveToward(target command.Waypoint, stepM float64) bool {
	d := nav.Distance(v.Pos, target)
	if d <= arriveM || d <= stepM {
		v.Pos = target
		return true
	}
	v.Heading = nav.Bearing(v.Pos, target)
	v.Pos = nav.Destination(v.Pos, v.Heading, stepM)
	return false
}

// Telemetry returns one framed GGA, PSEAA and PSEAD sentence, in that order.
func (v *Vessel) Telemetry(now time.Time) []string {
	lat, latH := nmea.FormatLat(v.Pos.Lat)
	lon, lonH := nmea.FormatLon(v.Pos.Lon)
	gga := fmt.Sprintf("GPGGA,%s,%s,%s,%s,%s,1,09,0.9,0.0,M,,M,,",
		now.UTC().Format("150405.00"), lat, latH, lon, lonH)

	// Gentle swell: small sinusoids in pitch, roll and heave.
	w := 2 * math.Pi * v.elapsed.Seconds() / 4
	att := fmt.Sprintf("PSEAA,%.1f,%.1f,%.1f,%.2f,%.1f,%.3f,%.3f,%.3f,%.2f",
		1.5*math.Sin(w), 2.5*math.Cos(w), v.Heading, 0.1*math.Sin(w), 27.0,
		0.0, 0.0, 1.0, 0.0)

	code := v.mode.Code()
	if code == "" {
		code = "L"
	}
	status := fmt.Sprintf("PSEAD,%s,%.1f,%d,%d,", code, v.cmdHeading, v.thrust, v.thrustDiff)

	return []string{nmea.Encode(gga), nmea.Encode(att), nmea.Encode(status)}
}

func atoiField(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
