package seismo

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"slices"
	"strings"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
)

// ErrUnstable is returned when deconvolution produces non-finite samples.
var ErrUnstable = errors.New("response removal is numerically unstable")

const (
	// WaterLevelDB clips the inverse spectrum at this many dB below the
	// response maximum.
	WaterLevelDB = 60.0
	// TaperFraction is the cosine taper width at each end of the trace.
	TaperFraction = 0.05
)

// RemoveResponse deconvolves the channel response from a trace in counts and
// returns a new trace in the requested ground-motion unit. The spectrum is
// band-limited by the cosine pre-filter before division.
func RemoveResponse(tr *Trace, cha *Channel, output Unit, pf domain.PreFilter) (*Trace, error) {
	n := len(tr.Data)
	if n < 2 {
		return nil, fmt.Errorf("remove response %s: need at least 2 samples, have %d", tr.ID, n)
	}
	if tr.Delta <= 0 {
		return nil, fmt.Errorf("remove response %s: non-positive sample interval", tr.ID)
	}

	pz, err := cha.PolesZeros()
	if err != nil {
		return nil, fmt.Errorf("remove response %s: %w", tr.ID, err)
	}
	// Sensitivity in counts per SI unit, so the output is in metres.
	sensitivity := cha.OverallSensitivity() / cha.InputScale()
	if sensitivity == 0 {
		return nil, fmt.Errorf("remove response %s: %w: zero sensitivity", tr.ID, ErrNoResponse)
	}
	order, err := derivativeOrder(cha.InputUnit(), output)
	if err != nil {
		return nil, fmt.Errorf("remove response %s: %w", tr.ID, err)
	}

	nfft := nextPow2(2 * n)
	seq := make([]float64, nfft)
	copy(seq, tr.Data)
	demean(seq[:n])
	cosineTaper(seq[:n], TaperFraction)

	fft := fourier.NewFFT(nfft)
	coeff := fft.Coefficients(nil, seq)

	rate := tr.SampleRate()
	resp := make([]complex128, len(coeff))
	for i := 1; i < len(coeff); i++ {
		f := fft.Freq(i) * rate
		h, err := pz.evaluate(f)
		if err != nil {
			return nil, fmt.Errorf("remove response %s: %w", tr.ID, err)
		}
		resp[i] = complex(sensitivity, 0) * h * cmplx.Pow(complex(0, 2*math.Pi*f), complex(float64(order), 0))
	}
	applyWaterLevel(resp, WaterLevelDB)

	for i := range coeff {
		if i == 0 {
			coeff[i] = 0
			continue
		}
		w := preFilterWeight(fft.Freq(i)*rate, pf)
		if w == 0 || resp[i] == 0 {
			coeff[i] = 0
			continue
		}
		coeff[i] = coeff[i] * complex(w, 0) / resp[i]
	}

	out := fft.Sequence(nil, coeff)[:n]
	scale := 1 / float64(nfft)
	for i := range out {
		out[i] *= scale
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			return nil, fmt.Errorf("remove response %s: %w", tr.ID, ErrUnstable)
		}
	}

	res := *tr
	res.Data = slices.Clone(out)
	res.Unit = output
	return &res, nil
}

// evaluate returns A0 * prod(s - z) / prod(s - p) at frequency f (Hz).
func (pz *PolesZeros) evaluate(f float64) (complex128, error) {
	var s complex128
	switch kind := strings.ToUpper(pz.TransferFunctionType); {
	case strings.Contains(kind, "RADIANS"):
		s = complex(0, 2*math.Pi*f)
	case strings.Contains(kind, "HERTZ"):
		s = complex(0, f)
	default:
		return 0, fmt.Errorf("%w: transfer function type %q", ErrNoResponse, pz.TransferFunctionType)
	}

	a0 := pz.NormalizationFactor
	if a0 == 0 {
		a0 = 1
	}
	h := complex(a0, 0)
	for _, z := range pz.Zeros {
		h *= s - z.Complex()
	}
	for _, p := range pz.Poles {
		d := s - p.Complex()
		if d == 0 {
			return 0, nil
		}
		h /= d
	}
	return h, nil
}

func motionOrder(u Unit) (int, bool) {
	switch u {
	case UnitDisplacement:
		return 0, true
	case UnitVelocity:
		return 1, true
	case UnitAcceleration:
		return 2, true
	default:
		return 0, false
	}
}

// derivativeOrder is the power of (i*omega) that converts a response from
// the instrument's input unit to the requested output unit.
func derivativeOrder(input, output Unit) (int, error) {
	in, ok := motionOrder(input)
	if !ok {
		return 0, fmt.Errorf("%w: unknown response input unit", ErrNoResponse)
	}
	out, ok := motionOrder(output)
	if !ok {
		return 0, fmt.Errorf("unsupported output unit %q", output)
	}
	return in - out, nil
}

func applyWaterLevel(resp []complex128, db float64) {
	var peak float64
	for _, h := range resp {
		peak = max(peak, cmplx.Abs(h))
	}
	level := peak * math.Pow(10, -db/20)
	for i, h := range resp {
		a := cmplx.Abs(h)
		switch {
		case a == 0:
			resp[i] = complex(level, 0)
		case a < level:
			resp[i] = h * complex(level/a, 0)
		}
	}
}

// preFilterWeight is the four-corner cosine taper: zero outside [F1, F4],
// one inside [F2, F3].
func preFilterWeight(f float64, pf domain.PreFilter) float64 {
	switch {
	case f < pf.F1 || f > pf.F4:
		return 0
	case f < pf.F2:
		return 0.5 * (1 - math.Cos(math.Pi*(f-pf.F1)/(pf.F2-pf.F1)))
	case f <= pf.F3:
		return 1
	default:
		return 0.5 * (1 + math.Cos(math.Pi*(f-pf.F3)/(pf.F4-pf.F3)))
	}
}

func demean(data []float64) {
	m := stat.Mean(data, nil)
	for i := range data {
		data[i] -= m
	}
}

// cosineTaper applies a Hann taper over frac of the samples at each end.
func cosineTaper(data []float64, frac float64) {
	n := len(data)
	width := int(frac * float64(n))
	if width < 1 {
		return
	}
	for i := range width {
		w := 0.5 * (1 - math.Cos(math.Pi*float64(i)/float64(width)))
		data[i] *= w
		data[n-1-i] *= w
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
