// Package sensors holds the contracts and clients for the survey payload:
// camera, 2D lidar and water-quality sonde. Each device is served by its own
// process; these types only speak to those servers.
package sensors

import (
	"context"
	"fmt"
)

// ScanSize is the number of lidar bins, one per integer degree.
const ScanSize = 360

// Image is a packed RGB frame, 3 bytes per pixel, row-major.
type Image struct {
	Width  int
	Height int
	Pix    []byte
}

// Shape returns (height, width, channels).
func (im Image) Shape() [3]int {
	return [3]int{im.Height, im.Width, 3}
}

func (im Image) Valid() bool {
	return im.Width > 0 && im.Height > 0 && len(im.Pix) == im.Width*im.Height*3
}

// Reading maps sonde parameter names to values. Numeric values are float64;
// date and time columns stay strings.
type Reading map[string]any

// Camera returns the most recent frame and whether one has been received.
// It never blocks on the network.
type Camera interface {
	Image() (Image, bool)
}

// Lidar returns one scan of ScanSize distances in meters, indexed by degree.
// A zero distance means no return.
type Lidar interface {
	Scan(ctx context.Context) ([]float64, error)
}

type Sonde interface {
	Read(ctx context.Context) (Reading, error)
}

// Angles returns 0..359, matching the index of a scan.
func Angles() []int {
	out := make([]int, ScanSize)
	for i := range out {
		out[i] = i
	}
	return out
}

func checkScan(scan []float64) error {
	if len(scan) != ScanSize {
		return fmt.Errorf("lidar scan has %d bins, want %d", len(scan), ScanSize)
	}
	return nil
}

// DefaultSondeParams is the column order of the sonde's "data" reply with the
// factory parameter template.
var DefaultSondeParams = []string{
	"Date",
	"Time",
	"DO (sat)",
	"DO (mg/l)",
	"Temp (C)",
	"Cond (muS/l)",
	"sal (psu)",
	"Pressure (psi a)",
	"Depth (m)",
}
