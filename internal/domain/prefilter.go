package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// PreFilter holds the four corner frequencies (Hz) of the cosine band-pass
// applied during instrument-response removal. The passband is [F2, F3];
// the response tapers to zero at F1 and F4.
type PreFilter struct {
	F1 float64 `json:"f1"`
	F2 float64 `json:"f2"`
	F3 float64 `json:"f3"`
	F4 float64 `json:"f4"`
}

// DefaultPreFilter is "0.001,0.004,2,3".
func DefaultPreFilter() PreFilter {
	return PreFilter{F1: 0.001, F2: 0.004, F3: 2, F4: 3}
}

// ParsePreFilter parses four comma-separated corner frequencies.
func ParsePreFilter(s string) (PreFilter, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 4 {
		return PreFilter{}, fmt.Errorf("%w: %q: want 4 comma-separated values, got %d", ErrInvalidPreFilter, s, len(parts))
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return PreFilter{}, fmt.Errorf("%w: %q: value %d is not a number", ErrInvalidPreFilter, s, i+1)
		}
		if f < 0 {
			return PreFilter{}, fmt.Errorf("%w: %q: frequencies must be non-negative", ErrInvalidPreFilter, s)
		}
		v[i] = f
	}
	for i := 1; i < 4; i++ {
		if v[i] < v[i-1] {
			return PreFilter{}, fmt.Errorf("%w: %q: corners must be non-decreasing", ErrInvalidPreFilter, s)
		}
	}
	return PreFilter{F1: v[0], F2: v[1], F3: v[2], F4: v[3]}, nil
}

func (p PreFilter) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", p.F1, p.F2, p.F3, p.F4)
}
