package command

import (
	"fmt"
	"time"

	"surveyor/internal/nmea"
)

// Kind identifies which vehicle command a Command carries.
type Kind int

const (
	KindStandby Kind = iota + 1
	KindThruster
	KindHeading
	KindStationKeep
	KindWaypoint
	KindGoToERP
	KindBeginFileDownload
	KindEndFileDownload
	KindThrottle
)

func (k Kind) String() string {
	switch k {
	case KindStandby:
		return "standby"
	case KindThruster:
		return "thruster"
	case KindHeading:
		return "heading"
	case KindStationKeep:
		return "station_keep"
	case KindWaypoint:
		return "waypoint"
	case KindGoToERP:
		return "go_to_erp"
	case KindBeginFileDownload:
		return "begin_file_download"
	case KindEndFileDownload:
		return "end_file_download"
	case KindThrottle:
		return "throttle"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

const (
	thrusterSettle     = 50 * time.Millisecond
	fileDownloadSettle = 100 * time.Millisecond

	maxMissionLines = 999
)

// Command is one outbound vehicle command. Only the fields relevant to Kind
// are meaningful; use the constructors to build valid values.
type Command struct {
	Kind Kind

	Thrust     int // -100..100
	ThrustDiff int // -100..100
	Degrees    int // 0..359
	Lines      int // file download line count
	Throttle   int // 0..100
}

// ValidationError is returned for out-of-range command or mission arguments.
// Nothing has been sent when it is returned.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("command: invalid %s=%v: %s", e.Field, e.Value, e.Reason)
}

func invalid(field string, v any, reason string) error {
	return &ValidationError{Field: field, Value: v, Reason: reason}
}

func Standby() Command      { return Command{Kind: KindStandby} }
func StationKeep() Command  { return Command{Kind: KindStationKeep} }
func WaypointMode() Command { return Command{Kind: KindWaypoint} }
func GoToERP() Command      { return Command{Kind: KindGoToERP} }

func EndFileDownload() Command { return Command{Kind: KindEndFileDownload} }

// Thruster drives the motors directly. Negative values mean reverse and
// counter-clockwise.
func Thruster(thrust, thrustDiff int) (Command, error) {
	c := Command{Kind: KindThruster, Thrust: thrust, ThrustDiff: thrustDiff}
	return c, c.Validate()
}

// Heading holds a compass bearing at the given thrust.
func Heading(thrust, degrees int) (Command, error) {
	c := Command{Kind: KindHeading, Thrust: thrust, Degrees: degrees}
	return c, c.Validate()
}

// BeginFileDownload announces that exactly lines sentences follow.
func BeginFileDownload(lines int) (Command, error) {
	c := Command{Kind: KindBeginFileDownload, Lines: lines}
	return c, c.Validate()
}

// Throttle is the PSEAR mission header carrying the cruise throttle.
func Throttle(throttle int) (Command, error) {
	c := Command{Kind: KindThrottle, Throttle: throttle}
	return c, c.Validate()
}

func (c Command) Validate() error {
	switch c.Kind {
	case KindStandby, KindStationKeep, KindWaypoint, KindGoToERP, KindEndFileDownload:
		return nil
	case KindThruster:
		if c.Thrust < -100 || c.Thrust > 100 {
			return invalid("thrust", c.Thrust, "must be in [-100,100]")
		}
		if c.ThrustDiff < -100 || c.ThrustDiff > 100 {
			return invalid("thrust_diff", c.ThrustDiff, "must be in [-100,100]")
		}
		return nil
	case KindHeading:
		if c.Thrust < -100 || c.Thrust > 100 {
			return invalid("thrust", c.Thrust, "must be in [-100,100]")
		}
		if c.Degrees < 0 || c.Degrees >= 360 {
			return invalid("degrees", c.Degrees, "must be in [0,360)")
		}
		return nil
	case KindBeginFileDownload:
		if c.Lines < 1 || c.Lines > maxMissionLines {
			return invalid("lines", c.Lines, fmt.Sprintf("must be in [1,%d]", maxMissionLines))
		}
		return nil
	case KindThrottle:
		if c.Throttle < 0 || c.Throttle > 100 {
			return invalid("throttle", c.Throttle, "must be in [0,100]")
		}
		return nil
	default:
		return invalid("kind", int(c.Kind), "unknown command")
	}
}

// Body returns the unframed sentence body in the vehicle firmware's template.
func (c Command) Body() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	switch c.Kind {
	case KindStandby:
		return "PSEAC,L,0,0,0,", nil
	case KindThruster:
		return fmt.Sprintf("PSEAC,T,0,%d,%d,", c.Thrust, c.ThrustDiff), nil
	case KindHeading:
		return fmt.Sprintf("PSEAC,C,%d,%d,,", c.Degrees, c.Thrust), nil
	case KindStationKeep:
		return "PSEAC,R,,,,", nil
	case KindWaypoint:
		return "PSEAC,W,0,0,0,", nil
	case KindGoToERP:
		return "PSEAC,H,0,0,0,", nil
	case KindBeginFileDownload:
		return fmt.Sprintf("PSEAC,F,%d,000,000,", c.Lines), nil
	case KindEndFileDownload:
		return "PSEAC,F,000,000,000", nil
	default: // KindThrottle
		return fmt.Sprintf("PSEAR,0,000,%d,0,000", c.Throttle), nil
	}
}

// Sentence returns the framed, checksummed sentence.
func (c Command) Sentence() (string, error) {
	body, err := c.Body()
	if err != nil {
		return "", err
	}
	return nmea.Encode(body), nil
}

// Settle is the delay the vehicle needs after this command before the next
// one. It is part of the command contract.
func (c Command) Settle() time.Duration {
	switch c.Kind {
	case KindThruster:
		return thrusterSettle
	case KindBeginFileDownload, KindEndFileDownload:
		return fileDownloadSettle
	default:
		return 0
	}
}

// Mode is the control mode this command requests, or ModeUnknown for the
// PSEAR mission header.
func (c Command) Mode() nmea.ControlMode {
	switch c.Kind {
	case KindStandby:
		return nmea.ModeStandby
	case KindThruster:
		return nmea.ModeThruster
	case KindHeading:
		return nmea.ModeHeading
	case KindStationKeep:
		return nmea.ModeStationKeep
	case KindWaypoint:
		return nmea.ModeWaypoint
	case KindGoToERP:
		return nmea.ModeGoToERP
	case KindBeginFileDownload, KindEndFileDownload:
		return nmea.ModeFileDownload
	default:
		return nmea.ModeUnknown
	}
}
