package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// AreaRange is a rectangular geographic region in decimal degrees.
// X is longitude and Y is latitude.
type AreaRange struct {
	XMin float64 `json:"xmin"`
	XMax float64 `json:"xmax"`
	YMin float64 `json:"ymin"`
	YMax float64 `json:"ymax"`
}

// WorldArea covers the whole globe. It is the default event region.
func WorldArea() AreaRange {
	return AreaRange{XMin: -180, XMax: 180, YMin: -90, YMax: 90}
}

// BrazilArea is the default station region.
func BrazilArea() AreaRange {
	return AreaRange{XMin: -74, XMax: -34, YMin: -34, YMax: 6}
}

// Contains reports whether the point lies inside the region, bounds included.
func (a AreaRange) Contains(lat, lon float64) bool {
	return lon >= a.XMin && lon <= a.XMax && lat >= a.YMin && lat <= a.YMax
}

// String renders the region in the same "xmin/xmax/ymin/ymax" form ParseArea accepts.
func (a AreaRange) String() string {
	return fmt.Sprintf("%g/%g/%g/%g", a.XMin, a.XMax, a.YMin, a.YMax)
}

// ParseArea parses "xmin/xmax/ymin/ymax", optionally wrapped in parentheses.
// An empty string yields fallback. Bounds are taken positionally and are not
// reordered: an inverted region is passed through as given.
func ParseArea(s string, fallback AreaRange) (AreaRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback, nil
	}
	s = strings.TrimSpace(strings.Trim(s, "()"))

	parts := strings.Split(s, "/")
	if len(parts) != 4 {
		return AreaRange{}, fmt.Errorf("%w: %q: want 4 values separated by '/', got %d", ErrInvalidArea, s, len(parts))
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return AreaRange{}, fmt.Errorf("%w: %q: value %d is not a number", ErrInvalidArea, s, i+1)
		}
		v[i] = f
	}
	return AreaRange{XMin: v[0], XMax: v[1], YMin: v[2], YMax: v[3]}, nil
}
