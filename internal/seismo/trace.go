package seismo

import (
	"math"
	"time"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
)

// Undefined is the SAC sentinel for an unset header value.
const Undefined = -12345.0

// Unit is the physical quantity of trace samples.
type Unit string

const (
	UnitCounts       Unit = "COUNTS"
	UnitDisplacement Unit = "DISP"
	UnitVelocity     Unit = "VEL"
	UnitAcceleration Unit = "ACC"
)

// Trace is one continuous, evenly sampled recording plus the event and station
// context stored in its SAC header.
type Trace struct {
	ID    domain.TraceID
	Start time.Time
	Delta float64 // sample interval, seconds
	Data  []float64
	Unit  Unit

	StationLat  float64
	StationLon  float64
	StationElev float64
	CmpAz       float64
	CmpInc      float64

	EventName  string
	EventLat   float64
	EventLon   float64
	EventDepth float64 // km
	Magnitude  float64
	Origin     time.Time // zero when unknown

	DistKm   float64 // Undefined when unknown
	GcarcDeg float64
	Az       float64
	Baz      float64
}

// NewTrace returns a trace with every optional header unset.
func NewTrace(id domain.TraceID, start time.Time, delta float64, data []float64) *Trace {
	return &Trace{
		ID:          id,
		Start:       start,
		Delta:       delta,
		Data:        data,
		Unit:        UnitCounts,
		StationLat:  Undefined,
		StationLon:  Undefined,
		StationElev: Undefined,
		CmpAz:       Undefined,
		CmpInc:      Undefined,
		EventLat:    Undefined,
		EventLon:    Undefined,
		EventDepth:  Undefined,
		Magnitude:   Undefined,
		DistKm:      Undefined,
		GcarcDeg:    Undefined,
		Az:          Undefined,
		Baz:         Undefined,
	}
}

// SampleRate is 1/Delta.
func (t *Trace) SampleRate() float64 {
	if t.Delta <= 0 {
		return 0
	}
	return 1 / t.Delta
}

// End is the time of the last sample.
func (t *Trace) End() time.Time {
	if len(t.Data) == 0 {
		return t.Start
	}
	return t.Start.Add(secondsToDuration(float64(len(t.Data)-1) * t.Delta))
}

// HasEvent reports whether event coordinates are set.
func (t *Trace) HasEvent() bool {
	return IsDefined(t.EventLat) && IsDefined(t.EventLon)
}

// HasStation reports whether station coordinates are set.
func (t *Trace) HasStation() bool {
	return IsDefined(t.StationLat) && IsDefined(t.StationLon)
}

// SetGeometry fills dist, gcarc, az and baz from the event and station coordinates.
func (t *Trace) SetGeometry() {
	if !t.HasEvent() || !t.HasStation() {
		return
	}
	t.GcarcDeg = domain.EpicentralDistance(t.EventLat, t.EventLon, t.StationLat, t.StationLon)
	t.DistKm = domain.DegreesToKilometers(t.GcarcDeg)
	t.Az = bearing(t.EventLat, t.EventLon, t.StationLat, t.StationLon)
	t.Baz = bearing(t.StationLat, t.StationLon, t.EventLat, t.EventLon)
}

// DistanceDegrees returns the epicentral distance in degrees, from the dist
// header when set and from the coordinates otherwise. ok is false when
// neither is available.
func (t *Trace) DistanceDegrees() (deg float64, ok bool) {
	if IsDefined(t.DistKm) {
		return domain.KilometersToDegrees(t.DistKm), true
	}
	if t.HasEvent() && t.HasStation() {
		return domain.EpicentralDistance(t.EventLat, t.EventLon, t.StationLat, t.StationLon), true
	}
	return 0, false
}

// IsDefined reports whether a header value differs from the SAC sentinel.
func IsDefined(v float64) bool {
	return v != Undefined && !math.IsNaN(v)
}

func bearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dl := (lon2 - lon1) * math.Pi / 180
	y := math.Sin(dl) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dl)
	return math.Mod(math.Atan2(y, x)*180/math.Pi+360, 360)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
