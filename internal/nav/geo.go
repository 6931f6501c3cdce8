package nav

import (
	"math"

	"surveyor/internal/command"
)

// Mean earth radius in meters.
const earthRadiusM = 6371008.8

func rad(deg float64) float64 { return deg * math.Pi / 180.0 }
func deg(r float64) float64   { return r * 180.0 / math.Pi }

// Distance returns the great-circle (haversine) distance in meters.
func Distance(a, b command.Waypoint) float64 {
	lat1, lat2 := rad(a.Lat), rad(b.Lat)
	dLat := lat2 - lat1
	dLon := rad(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Bearing returns the initial great-circle bearing from a to b in degrees
// [0,360).
func Bearing(a, b command.Waypoint) float64 {
	lat1, lat2 := rad(a.Lat), rad(b.Lat)
	dLon := rad(b.Lon - a.Lon)
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return math.Mod(deg(math.Atan2(y, x))+360, 360)
}

// Destination returns the point distM meters from p along bearingDeg.
func Destination(p command.Waypoint, bearingDeg, distM float64) command.Waypoint {
	lat1, lon1 := rad(p.Lat), rad(p.Lon)
	brg := rad(bearingDeg)
	d := distM / earthRadiusM

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(brg))
	lon2 := lon1 + math.Atan2(math.Sin(brg)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))

	// Normalize to [-180,180).
	lonDeg := math.Mod(deg(lon2)+540, 360) - 180
	return command.Waypoint{Lat: deg(lat2), Lon: lonDeg}
}

// SquareAround returns the four corners of a square with the given side
// length centered on c, clockwise from the north-east corner.
func SquareAround(c command.Waypoint, sideM float64) []command.Waypoint {
	half := sideM / math.Sqrt2
	out := make([]command.Waypoint, 0, 4)
	for i := 0; i < 4; i++ {
		out = append(out, Destination(c, 45+90*float64(i), half))
	}
	return out
}

// GradientPair returns the north-west and north-east corners of the square
// around c. Sampling both gives a two-point gradient estimate.
func GradientPair(c command.Waypoint, sideM float64) [2]command.Waypoint {
	half := sideM / math.Sqrt2
	return [2]command.Waypoint{
		Destination(c, 315, half),
		Destination(c, 45, half),
	}
}
