package seismo

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
)

// ErrChannelNotFound is returned when an inventory has no epoch for a channel
// at the requested time.
var ErrChannelNotFound = errors.New("channel not found in inventory")

// ErrNoResponse is returned for a channel epoch without a usable
// poles-and-zeros response.
var ErrNoResponse = errors.New("channel has no poles-and-zeros response")

// Inventory is the subset of an FDSN StationXML document needed to locate a
// channel and evaluate its response.
type Inventory struct {
	XMLName  xml.Name  `xml:"FDSNStationXML"`
	Source   string    `xml:"Source"`
	Networks []Network `xml:"Network"`
}

type Network struct {
	Code     string    `xml:"code,attr"`
	Stations []Station `xml:"Station"`
}

type Station struct {
	Code      string    `xml:"code,attr"`
	Latitude  float64   `xml:"Latitude"`
	Longitude float64   `xml:"Longitude"`
	Elevation float64   `xml:"Elevation"`
	Channels  []Channel `xml:"Channel"`
}

type Channel struct {
	Code         string    `xml:"code,attr"`
	LocationCode string    `xml:"locationCode,attr"`
	StartDate    xmlTime   `xml:"startDate,attr"`
	EndDate      xmlTime   `xml:"endDate,attr"`
	Latitude     float64   `xml:"Latitude"`
	Longitude    float64   `xml:"Longitude"`
	Elevation    float64   `xml:"Elevation"`
	Azimuth      float64   `xml:"Azimuth"`
	Dip          float64   `xml:"Dip"`
	SampleRate   float64   `xml:"SampleRate"`
	Response     *Response `xml:"Response"`
}

type Response struct {
	Sensitivity *Sensitivity `xml:"InstrumentSensitivity"`
	Stages      []Stage      `xml:"Stage"`
}

type Sensitivity struct {
	Value       float64 `xml:"Value"`
	Frequency   float64 `xml:"Frequency"`
	InputUnits  Units   `xml:"InputUnits"`
	OutputUnits Units   `xml:"OutputUnits"`
}

type Units struct {
	Name string `xml:"Name"`
}

type Stage struct {
	Number     int         `xml:"number,attr"`
	PolesZeros *PolesZeros `xml:"PolesZeros"`
	Gain       *StageGain  `xml:"StageGain"`
}

type StageGain struct {
	Value     float64 `xml:"Value"`
	Frequency float64 `xml:"Frequency"`
}

type PolesZeros struct {
	InputUnits             Units          `xml:"InputUnits"`
	OutputUnits            Units          `xml:"OutputUnits"`
	TransferFunctionType   string         `xml:"PzTransferFunctionType"`
	NormalizationFactor    float64        `xml:"NormalizationFactor"`
	NormalizationFrequency float64        `xml:"NormalizationFrequency"`
	Zeros                  []ComplexValue `xml:"Zero"`
	Poles                  []ComplexValue `xml:"Pole"`
}

type ComplexValue struct {
	Real      float64 `xml:"Real"`
	Imaginary float64 `xml:"Imaginary"`
}

func (c ComplexValue) Complex() complex128 { return complex(c.Real, c.Imaginary) }

// xmlTime accepts the timestamp variants data centers emit (with or without
// zone designator and fractional seconds).
type xmlTime struct{ time.Time }

var xmlTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

func (t *xmlTime) UnmarshalXMLAttr(attr xml.Attr) error {
	v := strings.TrimSpace(attr.Value)
	if v == "" {
		return nil
	}
	for _, layout := range xmlTimeLayouts {
		if parsed, err := time.Parse(layout, v); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("stationxml: bad timestamp %q", v)
}

// ParseStationXML decodes a StationXML document.
func ParseStationXML(r io.Reader) (*Inventory, error) {
	var inv Inventory
	if err := xml.NewDecoder(r).Decode(&inv); err != nil {
		return nil, fmt.Errorf("decode StationXML: %w", err)
	}
	return &inv, nil
}

// ReadStationXML loads a StationXML file.
func ReadStationXML(path string) (*Inventory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	inv, err := ParseStationXML(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return inv, nil
}

// Lookup finds the channel epoch covering at. An exact location-code match is
// preferred; otherwise any location with the same network, station and
// channel is accepted.
func (inv *Inventory) Lookup(id domain.TraceID, at time.Time) (*Station, *Channel, error) {
	var fallbackSta *Station
	var fallbackCha *Channel
	for ni := range inv.Networks {
		net := &inv.Networks[ni]
		if net.Code != id.Network {
			continue
		}
		for si := range net.Stations {
			sta := &net.Stations[si]
			if sta.Code != id.Station {
				continue
			}
			for ci := range sta.Channels {
				cha := &sta.Channels[ci]
				if cha.Code != id.Channel || !cha.activeAt(at) {
					continue
				}
				if cha.LocationCode == id.Location {
					return sta, cha, nil
				}
				if fallbackCha == nil {
					fallbackSta, fallbackCha = sta, cha
				}
			}
		}
	}
	if fallbackCha != nil {
		return fallbackSta, fallbackCha, nil
	}
	return nil, nil, fmt.Errorf("%w: %s at %s", ErrChannelNotFound, id, at.Format(time.RFC3339))
}

func (c *Channel) activeAt(at time.Time) bool {
	if at.IsZero() {
		return true
	}
	if !c.StartDate.IsZero() && at.Before(c.StartDate.Time) {
		return false
	}
	return c.EndDate.IsZero() || at.Before(c.EndDate.Time)
}

// PolesZeros returns the first poles-and-zeros stage of the channel response.
func (c *Channel) PolesZeros() (*PolesZeros, error) {
	if c.Response == nil {
		return nil, ErrNoResponse
	}
	for i := range c.Response.Stages {
		if pz := c.Response.Stages[i].PolesZeros; pz != nil {
			return pz, nil
		}
	}
	return nil, ErrNoResponse
}

// OverallSensitivity is the instrument sensitivity, or the product of the
// stage gains when the document omits it.
func (c *Channel) OverallSensitivity() float64 {
	if c.Response == nil {
		return 0
	}
	if s := c.Response.Sensitivity; s != nil && s.Value != 0 {
		return s.Value
	}
	gain := 1.0
	found := false
	for _, st := range c.Response.Stages {
		if st.Gain != nil && st.Gain.Value != 0 {
			gain *= st.Gain.Value
			found = true
		}
	}
	if !found {
		return 0
	}
	return gain
}

// InputUnit is the ground-motion quantity the response maps from.
func (c *Channel) InputUnit() Unit {
	u, _ := parseUnit(c.inputUnitName())
	return u
}

// InputScale is the size of one response input unit in SI units, e.g. 1e-9
// for a response given in nm/s.
func (c *Channel) InputScale() float64 {
	_, scale := parseUnit(c.inputUnitName())
	return scale
}

func (c *Channel) inputUnitName() string {
	if c.Response != nil && c.Response.Sensitivity != nil && c.Response.Sensitivity.InputUnits.Name != "" {
		return c.Response.Sensitivity.InputUnits.Name
	}
	if pz, err := c.PolesZeros(); err == nil {
		return pz.InputUnits.Name
	}
	return ""
}

func parseUnit(name string) (Unit, float64) {
	n := strings.ToUpper(strings.ReplaceAll(name, " ", ""))
	scale := 1.0
	for _, p := range []struct {
		prefix string
		scale  float64
	}{{"NM", 1e-9}, {"MM", 1e-3}, {"CM", 1e-2}} {
		if strings.HasPrefix(n, p.prefix) {
			n, scale = "M"+n[len(p.prefix):], p.scale
			break
		}
	}
	switch n {
	case "M":
		return UnitDisplacement, scale
	case "M/S", "M/SEC":
		return UnitVelocity, scale
	case "M/S**2", "M/S2", "M/SEC**2":
		return UnitAcceleration, scale
	default:
		return UnitCounts, 1
	}
}
