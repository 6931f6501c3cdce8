package nmea

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatLat converts decimal degrees to ddmm.mmmm plus 'N' or 'S'.
func FormatLat(dec float64) (string, string) {
	hemi := "N"
	if dec < 0 {
		hemi = "S"
	}
	return formatDegMin(math.Abs(dec), 2), hemi
}

// FormatLon converts decimal degrees to dddmm.mmmm plus 'E' or 'W'.
func FormatLon(dec float64) (string, string) {
	hemi := "E"
	if dec < 0 {
		hemi = "W"
	}
	return formatDegMin(math.Abs(dec), 3), hemi
}

func formatDegMin(abs float64, degDigits int) string {
	deg := int(abs)
	// Round to the 4 decimals we emit so 59.99996 carries into the degrees.
	mins := math.Round((abs-float64(deg))*60*1e4) / 1e4
	if mins >= 60 {
		deg++
		mins -= 60
	}
	return fmt.Sprintf("%0*d%07.4f", degDigits, deg, mins)
}

// WaypointBody builds an unframed OIWPL waypoint line. ordinal 0 is the
// emergency recovery point.
func WaypointBody(lat, lon float64, ordinal int) string {
	latStr, latHemi := FormatLat(lat)
	lonStr, lonHemi := FormatLon(lon)
	return fmt.Sprintf("OIWPL,%s,%s,%s,%s,%d", latStr, latHemi, lonStr, lonHemi, ordinal)
}

// ParseWaypoint decodes an OIWPL sentence back into decimal degrees and its
// ordinal.
func ParseWaypoint(s Sentence) (lat, lon float64, ordinal int, err error) {
	if s.Tag != "OIWPL" || len(s.Fields) < 6 {
		return 0, 0, 0, parseErr(strings.Join(s.Fields, ","), "malformed OIWPL")
	}
	lat, latOK := parseLatLon(s.Fields[1], s.Fields[2])
	lon, lonOK := parseLatLon(s.Fields[3], s.Fields[4])
	if !latOK || !lonOK {
		return 0, 0, 0, parseErr(strings.Join(s.Fields, ","), "bad OIWPL coordinates")
	}
	ordinal, err = strconv.Atoi(strings.TrimSpace(s.Fields[5]))
	if err != nil {
		return 0, 0, 0, parseErr(strings.Join(s.Fields, ","), "bad OIWPL ordinal")
	}
	return lat, lon, ordinal, nil
}
