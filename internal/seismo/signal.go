package seismo

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"
)

// DetrendMethod selects the trend removed by Detrend.
type DetrendMethod string

const (
	DetrendLinear DetrendMethod = "linear"
	DetrendDemean DetrendMethod = "demean"
)

// Detrend removes the least-squares line (or the mean) from the samples in place.
func Detrend(tr *Trace, method DetrendMethod) error {
	switch method {
	case DetrendDemean:
		demean(tr.Data)
		return nil
	case DetrendLinear:
		if len(tr.Data) < 2 {
			demean(tr.Data)
			return nil
		}
		x := sampleTimes(len(tr.Data), 1)
		alpha, beta := stat.LinearRegression(x, tr.Data, nil, false)
		for i := range tr.Data {
			tr.Data[i] -= alpha + beta*x[i]
		}
		return nil
	default:
		return fmt.Errorf("detrend %s: unknown method %q", tr.ID, method)
	}
}

// Resample interpolates the trace linearly onto a grid of the given rate (Hz)
// starting at the first sample.
func Resample(tr *Trace, rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("resample %s: non-positive rate %g", tr.ID, rate)
	}
	n := len(tr.Data)
	if n < 2 {
		return fmt.Errorf("resample %s: need at least 2 samples, have %d", tr.ID, n)
	}

	duration := float64(n-1) * tr.Delta
	delta := 1 / rate
	m := int(math.Floor(duration/delta+1e-9)) + 1

	var pl interp.PiecewiseLinear
	if err := pl.Fit(sampleTimes(n, tr.Delta), tr.Data); err != nil {
		return fmt.Errorf("resample %s: %w", tr.ID, err)
	}
	out := make([]float64, m)
	for i := range out {
		out[i] = pl.Predict(float64(i) * delta)
	}
	tr.Data = out
	tr.Delta = delta
	return nil
}

func sampleTimes(n int, delta float64) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i) * delta
	}
	return x
}
