package domain

import (
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the mean Earth radius used for km/degree conversion.
const EarthRadiusKm = 6371.0

// DefaultMinDistance is the default minimum epicentral distance in degrees.
const DefaultMinDistance = 15.0

// KilometersToDegrees converts a surface distance to the angle it subtends at
// the Earth's centre.
func KilometersToDegrees(km float64) float64 {
	return s1.Angle(km / EarthRadiusKm).Degrees()
}

// DegreesToKilometers is the inverse of KilometersToDegrees.
func DegreesToKilometers(deg float64) float64 {
	return (s1.Angle(deg) * s1.Degree).Radians() * EarthRadiusKm
}

// EpicentralDistance returns the great-circle separation between an epicentre
// and a station, in degrees.
func EpicentralDistance(evLat, evLon, stLat, stLon float64) float64 {
	ev := s2.LatLngFromDegrees(evLat, evLon)
	st := s2.LatLngFromDegrees(stLat, stLon)
	return ev.Distance(st).Degrees()
}
