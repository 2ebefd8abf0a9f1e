// Package geometry converts coordinate pairs into scalar distances and,
// optionally, directional angles. It is the foundation for covariance
// estimation and neighborhood selection. All functions are pure: no state,
// no side effects.
package geometry

import (
	"fmt"
	"math"
)

// Convention selects how coordinates are interpreted. It is a fixed
// configuration of the calling context, never auto-detected from the data.
type Convention int

const (
	// Planar treats coordinates as Euclidean in an arbitrary number of
	// dimensions.
	Planar Convention = iota

	// Geographic treats the first two coordinates as (longitude, latitude)
	// in degrees and measures great-circle distance in kilometers.
	Geographic
)

func (c Convention) String() string {
	switch c {
	case Planar:
		return "planar"
	case Geographic:
		return "geographic"
	default:
		return "unknown"
	}
}

// MarshalYAML renders the convention by name.
func (c Convention) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}

// UnmarshalYAML accepts the names produced by String.
func (c *Convention) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	switch name {
	case "planar":
		*c = Planar
	case "geographic":
		*c = Geographic
	default:
		return fmt.Errorf("unknown coordinate convention %q", name)
	}
	return nil
}

// earthRadiusKm is the mean Earth radius used for great-circle distances.
const earthRadiusKm = 6371.0

// Distance returns the scalar distance between two coordinate vectors
// under the given convention.
func Distance(conv Convention, a, b []float64) float64 {
	switch conv {
	case Geographic:
		return haversine(a[0], a[1], b[0], b[1])
	default:
		sum := 0.0
		n := len(a)
		if len(b) < n {
			n = len(b)
		}
		for i := 0; i < n; i++ {
			d := b[i] - a[i]
			sum += d * d
		}
		return math.Sqrt(sum)
	}
}

// Bearing returns the direction from a to b in degrees within [0, 360).
// For planar coordinates the angle is measured counterclockwise from the
// first axis using the first two dimensions; for geographic coordinates it
// is the initial great-circle bearing clockwise from north.
func Bearing(conv Convention, a, b []float64) float64 {
	var deg float64
	switch conv {
	case Geographic:
		lon1, lat1 := a[0]*math.Pi/180, a[1]*math.Pi/180
		lon2, lat2 := b[0]*math.Pi/180, b[1]*math.Pi/180
		dLon := lon2 - lon1
		y := math.Sin(dLon) * math.Cos(lat2)
		x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
		deg = math.Atan2(y, x) * 180 / math.Pi
	default:
		deg = math.Atan2(b[1]-a[1], b[0]-a[0]) * 180 / math.Pi
	}
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// AxialBearing folds a bearing into [0, 180). Covariance sectors are
// axial: a pair separated along 30 degrees belongs to the same sector as
// one separated along 210 degrees.
func AxialBearing(deg float64) float64 {
	deg = math.Mod(deg, 180)
	if deg < 0 {
		deg += 180
	}
	return deg
}

// InSector reports whether the axial bearing falls within tolerance
// degrees of the sector center, wrapping at 180.
func InSector(bearing, center, tolerance float64) bool {
	d := math.Abs(AxialBearing(bearing) - AxialBearing(center))
	if d > 90 {
		d = 180 - d
	}
	return d <= tolerance
}

// PairwiseDistances returns the distance between every element of a and
// every element of b as a row-major matrix with len(a) rows.
func PairwiseDistances(conv Convention, a, b [][]float64) [][]float64 {
	out := make([][]float64, len(a))
	for i := range a {
		out[i] = make([]float64, len(b))
		for j := range b {
			out[i][j] = Distance(conv, a[i], b[j])
		}
	}
	return out
}

// PairwiseBearings returns the bearing from every element of a to every
// element of b, companion to PairwiseDistances for directional covariance.
func PairwiseBearings(conv Convention, a, b [][]float64) [][]float64 {
	out := make([][]float64, len(a))
	for i := range a {
		out[i] = make([]float64, len(b))
		for j := range b {
			out[i][j] = Bearing(conv, a[i], b[j])
		}
	}
	return out
}

// haversine computes the great-circle distance in kilometers between two
// (longitude, latitude) pairs given in degrees.
func haversine(lon1, lat1, lon2, lat2 float64) float64 {
	toRad := math.Pi / 180
	dLat := (lat2 - lat1) * toRad
	dLon := (lon2 - lon1) * toRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*toRad)*math.Cos(lat2*toRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}
