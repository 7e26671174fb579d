package geo

import (
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// MetersPerMile is the conversion factor between meters and statute miles.
const MetersPerMile = 1609.344

// Point represents a geographic coordinate.
type Point struct {
	Lat float64
	Lon float64
}

func (p Point) orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// DistanceMiles calculates the haversine distance between two points in
// statute miles.
func DistanceMiles(p1, p2 Point) float64 {
	return orbgeo.DistanceHaversine(p1.orb(), p2.orb()) / MetersPerMile
}

// Destination calculates the point reached by travelling distMiles from start
// at the given bearing (degrees clockwise from north).
func Destination(start Point, distMiles, bearing float64) Point {
	p := orbgeo.PointAtBearingAndDistance(start.orb(), bearing, distMiles*MetersPerMile)
	return Point{Lat: p.Lat(), Lon: p.Lon()}
}

// Bearing calculates the initial bearing (forward azimuth) from p1 to p2 in
// degrees, normalized to [0, 360).
func Bearing(p1, p2 Point) float64 {
	b := orbgeo.Bearing(p1.orb(), p2.orb())
	if b < 0 {
		b += 360
	}
	return b
}
