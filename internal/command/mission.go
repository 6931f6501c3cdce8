package command

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"surveyor/internal/nmea"
)

// Waypoint is a position in decimal degrees.
type Waypoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (w Waypoint) valid() bool {
	if math.IsNaN(w.Lat) || math.IsNaN(w.Lon) {
		return false
	}
	return w.Lat >= -90 && w.Lat <= 90 && w.Lon >= -180 && w.Lon <= 180
}

// Mission is an uploadable route. The ERP (emergency recovery point) is
// always transmitted as ordinal 0, ahead of the waypoints.
type Mission struct {
	ERP       Waypoint
	Waypoints []Waypoint
	Throttle  int
}

func (m Mission) Validate() error {
	if len(m.Waypoints) == 0 {
		return invalid("waypoints", 0, "mission has no waypoints")
	}
	if m.Throttle < 0 || m.Throttle > 100 {
		return invalid("throttle", m.Throttle, "must be in [0,100]")
	}
	if !m.ERP.valid() {
		return invalid("erp", m.ERP, "coordinates out of range")
	}
	for i, wp := range m.Waypoints {
		if !wp.valid() {
			return invalid(fmt.Sprintf("waypoints[%d]", i), wp, "coordinates out of range")
		}
	}
	if n := m.LineCount(); n > maxMissionLines {
		return invalid("waypoints", len(m.Waypoints), fmt.Sprintf("mission exceeds %d lines", maxMissionLines))
	}
	return nil
}

// LineCount is the number announced in the file-download header: the
// waypoints plus the ERP plus the PSEAR throttle line.
func (m Mission) LineCount() int {
	return len(m.Waypoints) + 2
}

// Payload returns the framed lines sent between the file-download begin and
// end commands: PSEAR, then ERP (ordinal 0), then waypoints 1..N.
func (m Mission) Payload() ([]string, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	thr, err := Throttle(m.Throttle)
	if err != nil {
		return nil, err
	}
	first, _ := thr.Sentence()

	out := make([]string, 0, m.LineCount())
	out = append(out, first)
	out = append(out, nmea.Encode(nmea.WaypointBody(m.ERP.Lat, m.ERP.Lon, 0)))
	for i, wp := range m.Waypoints {
		out = append(out, nmea.Encode(nmea.WaypointBody(wp.Lat, wp.Lon, i+1)))
	}
	return out, nil
}

// Sentences returns the complete upload sequence, including the begin and
// end file-download commands.
func (m Mission) Sentences() ([]string, error) {
	payload, err := m.Payload()
	if err != nil {
		return nil, err
	}
	begin, err := BeginFileDownload(m.LineCount())
	if err != nil {
		return nil, err
	}
	b, _ := begin.Sentence()
	e, _ := EndFileDownload().Sentence()

	out := make([]string, 0, len(payload)+2)
	out = append(out, b)
	out = append(out, payload...)
	out = append(out, e)
	return out, nil
}

// WriteSEA writes the mission payload in the .sea mission file layout used by
// the vehicle's desktop tooling.
func (m Mission) WriteSEA(w io.Writer) error {
	payload, err := m.Payload()
	if err != nil {
		return err
	}
	for _, line := range payload {
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return nil
}

// LoadWaypointsCSV reads waypoints from a CSV file. A header naming
// Latitude/Longitude columns (any case) selects those columns; otherwise the
// first two columns are used and a non-numeric first row is skipped as a
// header.
func LoadWaypointsCSV(path string) ([]Waypoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadWaypointsCSV(f)
}

func ReadWaypointsCSV(r io.Reader) ([]Waypoint, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read waypoints csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("read waypoints csv: empty file")
	}

	latCol, lonCol := 0, 1
	start := 0
	if lc, oc, ok := headerColumns(rows[0]); ok {
		latCol, lonCol = lc, oc
		start = 1
	} else if !numericRow(rows[0], latCol, lonCol) {
		start = 1
	}

	out := make([]Waypoint, 0, len(rows)-start)
	for i := start; i < len(rows); i++ {
		row := rows[i]
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		if latCol >= len(row) || lonCol >= len(row) {
			return nil, fmt.Errorf("read waypoints csv: row %d: missing columns", i+1)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(row[latCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("read waypoints csv: row %d latitude: %w", i+1, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(row[lonCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("read waypoints csv: row %d longitude: %w", i+1, err)
		}
		out = append(out, Waypoint{Lat: lat, Lon: lon})
	}
	return out, nil
}

func headerColumns(row []string) (int, int, bool) {
	latCol, lonCol := -1, -1
	for i, name := range row {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "latitude", "lat":
			latCol = i
		case "longitude", "lon", "lng":
			lonCol = i
		}
	}
	return latCol, lonCol, latCol >= 0 && lonCol >= 0
}

func numericRow(row []string, cols ...int) bool {
	for _, c := range cols {
		if c >= len(row) {
			return false
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(row[c]), 64); err != nil {
			return false
		}
	}
	return true
}
