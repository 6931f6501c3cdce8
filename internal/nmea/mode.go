package nmea

// ControlMode is the vehicle's operating state as reported in PSEAD.
type ControlMode int

const (
	ModeUnknown ControlMode = iota
	ModeStandby
	ModeThruster
	ModeHeading
	ModeSpeed
	ModeStationKeep
	ModeRiverNav
	ModeWaypoint
	ModeAutopilot
	ModeCompassCal
	ModeGoToERP
	ModeDepth
	ModeGravityVector
	ModeFileDownload
	ModeBootLoader
)

// Mode codes as they appear on the wire. The same letters prefix PSEAC
// command sentences.
var modeCodes = map[string]ControlMode{
	"L": ModeStandby,
	"T": ModeThruster,
	"C": ModeHeading,
	"G": ModeSpeed,
	"R": ModeStationKeep,
	"N": ModeRiverNav,
	"W": ModeWaypoint,
	"I": ModeAutopilot,
	"3": ModeCompassCal,
	"H": ModeGoToERP,
	"D": ModeDepth,
	"S": ModeGravityVector,
	"F": ModeFileDownload,
	"!": ModeBootLoader,
}

var modeNames = map[ControlMode]string{
	ModeUnknown:       "Unknown",
	ModeStandby:       "Standby",
	ModeThruster:      "Thruster",
	ModeHeading:       "Heading",
	ModeSpeed:         "Speed",
	ModeStationKeep:   "Station Keep",
	ModeRiverNav:      "River Nav",
	ModeWaypoint:      "Waypoint",
	ModeAutopilot:     "Autopilot",
	ModeCompassCal:    "Compass Cal",
	ModeGoToERP:       "Go To ERP",
	ModeDepth:         "Depth",
	ModeGravityVector: "Gravity Vector Direction",
	ModeFileDownload:  "File Download",
	ModeBootLoader:    "Boot Loader",
}

func (m ControlMode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return "Unknown"
}

// Code returns the single-character wire code, or "" for ModeUnknown.
func (m ControlMode) Code() string {
	for code, mode := range modeCodes {
		if mode == m {
			return code
		}
	}
	return ""
}

// ModeFromCode maps a wire code to a ControlMode; unrecognized codes map to
// ModeUnknown.
func ModeFromCode(code string) ControlMode {
	if m, ok := modeCodes[code]; ok {
		return m
	}
	return ModeUnknown
}

// ModeFromName is the inverse of String.
func ModeFromName(name string) ControlMode {
	for m, n := range modeNames {
		if n == name {
			return m
		}
	}
	return ModeUnknown
}
