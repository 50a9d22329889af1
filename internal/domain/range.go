package domain

import "fmt"

// Range is a closed [Low, High] interval used for magnitude, depth and
// time-offset constraints.
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// NewRange builds a Range and rejects inverted bounds.
func NewRange(low, high float64) (Range, error) {
	if low > high {
		return Range{}, fmt.Errorf("%w: range low %g is greater than high %g", ErrInvalidRequest, low, high)
	}
	return Range{Low: low, High: high}, nil
}

// Contains reports whether v lies inside the range, bounds included.
func (r Range) Contains(v float64) bool {
	return v >= r.Low && v <= r.High
}

func (r Range) String() string {
	return fmt.Sprintf("[%g, %g]", r.Low, r.High)
}
