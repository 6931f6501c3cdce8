package nmea

import (
	"math"
	"strconv"
	"strings"
)

// Field names published into the vehicle state. They match the column names
// of historical recordings.
const (
	FieldLatitude   = "Latitude"
	FieldLongitude  = "Longitude"
	FieldFixQuality = "Fix Quality"
	FieldSatellites = "Satellites"
	FieldHDOP       = "HDOP"
	FieldAltitude   = "Altitude"

	FieldPitch       = "Pitch"
	FieldRoll        = "Roll"
	FieldHeading     = "Heading"
	FieldHeave       = "Heave"
	FieldTemperature = "Temperature"
	FieldAccelX      = "Accel X"
	FieldAccelY      = "Accel Y"
	FieldAccelZ      = "Accel Z"
	FieldYawRate     = "Yaw Rate"

	FieldControlMode      = "Control Mode"
	FieldCommandedHeading = "Commanded Heading"
	FieldThrust           = "Thrust"
	FieldThrustDiff       = "Thrust Diff"
)

// StateFields lists every field the parsers can publish, in recording column
// order.
func StateFields() []string {
	return []string{
		FieldLatitude, FieldLongitude, FieldFixQuality, FieldSatellites, FieldHDOP, FieldAltitude,
		FieldPitch, FieldRoll, FieldHeading, FieldHeave, FieldTemperature,
		FieldAccelX, FieldAccelY, FieldAccelZ, FieldYawRate,
		FieldControlMode, FieldCommandedHeading, FieldThrust, FieldThrustDiff,
	}
}

type parseFunc func(f []string) (map[string]any, bool)

// Inbound sentence prefixes. Keys include the leading '$'.
var parsers = map[string]parseFunc{
	"$GPGGA": parsePosition,
	"$GNGGA": parsePosition,
	"$PSEAA": parseAttitude,
	"$PSEAD": parseCommandStatus,
}

// Tags returns the recognized inbound prefixes.
func Tags() []string {
	out := make([]string, 0, len(parsers))
	for k := range parsers {
		out = append(out, k)
	}
	return out
}

// Parse decodes one sentence into a partial state update.
//
// Unknown prefixes return an empty mapping and a nil error. Recognized
// sentences that fail framing, checksum or field-count checks return an empty
// mapping and a *ParseError.
func Parse(line string) (map[string]any, error) {
	line = strings.TrimSpace(line)
	fn, ok := lookup(line)
	if !ok {
		return map[string]any{}, nil
	}
	sent, err := ParseSentence(line)
	if err != nil {
		return map[string]any{}, err
	}
	out, ok := fn(sent.Fields)
	if !ok {
		return map[string]any{}, parseErr(line, "malformed "+sent.Tag)
	}
	return out, nil
}

// ParseByPrefix is Parse without the error: malformed and unknown sentences
// both yield an empty mapping.
func ParseByPrefix(line string) map[string]any {
	out, _ := Parse(line)
	return out
}

// Known reports whether line starts with a recognized inbound prefix.
func Known(line string) bool {
	_, ok := lookup(strings.TrimSpace(line))
	return ok
}

func lookup(line string) (parseFunc, bool) {
	if len(line) < 6 {
		return nil, false
	}
	fn, ok := parsers[line[:6]]
	return fn, ok
}

// GGA: Global Positioning System Fix Data
//
//	0: talker+type
//	1: time
//	2: latitude (ddmm.mmmm)
//	3: N/S
//	4: longitude (dddmm.mmmm)
//	5: E/W
//	6: fix quality
//	7: satellites
//	8: HDOP
//	9: altitude (meters)
//
// No fix (blank coordinates) and a fix at exactly 0,0 are empty updates.
// Unparseable coordinates are malformed.
func parsePosition(f []string) (map[string]any, bool) {
	if len(f) < 10 {
		return nil, false
	}
	if strings.TrimSpace(f[2]) == "" && strings.TrimSpace(f[4]) == "" {
		return map[string]any{}, true
	}
	lat, latOK := parseLatLon(f[2], f[3])
	lon, lonOK := parseLatLon(f[4], f[5])
	if !latOK || !lonOK {
		return nil, false
	}
	if lat == 0 && lon == 0 {
		return map[string]any{}, true
	}
	out := map[string]any{
		FieldLatitude:  lat,
		FieldLongitude: lon,
	}
	if q, err := strconv.Atoi(strings.TrimSpace(f[6])); err == nil {
		out[FieldFixQuality] = q
	}
	if n, err := strconv.Atoi(strings.TrimSpace(f[7])); err == nil {
		out[FieldSatellites] = n
	}
	if v, ok := parseFloat(f[8]); ok {
		out[FieldHDOP] = v
	}
	if v, ok := parseFloat(f[9]); ok {
		out[FieldAltitude] = v
	}
	return out, true
}

// PSEAA: attitude
//
//	1: pitch (deg)
//	2: roll (deg)
//	3: heading (deg)
//	4: heave
//	5: temperature (C)
//	6-8: acceleration x/y/z (g)
//	9: yaw rate
var attitudeFields = []string{
	FieldPitch, FieldRoll, FieldHeading, FieldHeave, FieldTemperature,
	FieldAccelX, FieldAccelY, FieldAccelZ, FieldYawRate,
}

func parseAttitude(f []string) (map[string]any, bool) {
	if len(f) < len(attitudeFields)+1 {
		return nil, false
	}
	out := make(map[string]any, len(attitudeFields))
	for i, name := range attitudeFields {
		v, ok := coerceFloat(f[i+1])
		if !ok {
			return nil, false
		}
		out[name] = v
	}
	return out, true
}

// PSEAD: command status
//
//	1: control mode code
//	2: commanded heading (deg)
//	3: thrust
//	4: thrust differential
func parseCommandStatus(f []string) (map[string]any, bool) {
	if len(f) < 5 {
		return nil, false
	}
	out := map[string]any{
		FieldControlMode: ModeFromCode(strings.TrimSpace(f[1])).String(),
	}
	names := []string{FieldCommandedHeading, FieldThrust, FieldThrustDiff}
	for i, name := range names {
		v, ok := coerceFloat(f[i+2])
		if !ok {
			return nil, false
		}
		out[name] = v
	}
	return out, true
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// coerceFloat treats an empty field as 0.0.
func coerceFloat(s string) (float64, bool) {
	if strings.TrimSpace(s) == "" {
		return 0, true
	}
	return parseFloat(s)
}

// parseLatLon parses ddmm.mmmm (lat) or dddmm.mmmm (lon) plus hemisphere.
func parseLatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	// The last two digits of the integer part are whole minutes.
	dot := strings.IndexByte(v, '.')
	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil || mins >= 60 {
		return 0, false
	}

	dec := float64(deg) + (mins / 60.0)
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}
