package domain

import "math"

const earthRadiusKm = 6371.0

// Coordinate is a WGS-84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether the coordinate lies within the WGS-84 range.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180 &&
		!math.IsNaN(c.Lat) && !math.IsNaN(c.Lon)
}

// DistanceKm returns the great-circle distance between two coordinates.
func DistanceKm(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// WeightedCentroid moves c toward p in proportion to their weights. A
// non-positive total weight returns p.
func WeightedCentroid(c Coordinate, cw float64, p Coordinate, pw float64) Coordinate {
	total := cw + pw
	if total <= 0 {
		return p
	}
	// Longitudes are averaged on the shorter arc so clusters straddling the
	// antimeridian stay together.
	dLon := p.Lon - c.Lon
	if dLon > 180 {
		dLon -= 360
	} else if dLon < -180 {
		dLon += 360
	}
	lon := c.Lon + dLon*pw/total
	if lon > 180 {
		lon -= 360
	} else if lon < -180 {
		lon += 360
	}
	return Coordinate{
		Lat: (c.Lat*cw + p.Lat*pw) / total,
		Lon: lon,
	}
}

// DefaultDepthKm is used wherever a depth is needed but none was reported.
const DefaultDepthKm = 10.0

// MaxFeltRadiusKm caps every felt radius estimate.
const MaxFeltRadiusKm = 800.0

// FeltRadius estimates the radius in kilometres within which a quake of the
// given magnitude and depth is perceptible.
func FeltRadius(magnitude, depthKm float64) float64 {
	if depthKm <= 0 {
		depthKm = DefaultDepthKm
	}
	r := math.Exp(0.666*magnitude+1.2) * math.Pow(depthKm, 0.2)
	return math.Min(MaxFeltRadiusKm, r)
}
