package seismo

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
)

// ErrNotSAC is returned when a file does not carry a version 6 SAC header.
var ErrNotSAC = errors.New("not a SAC file")

const (
	sacFloatWords  = 70
	sacIntWords    = 40
	sacStringBytes = 192
	sacHeaderBytes = (sacFloatWords+sacIntWords)*4 + sacStringBytes
	sacVersion     = 6
	undefinedInt   = -12345
	undefinedStr   = "-12345"
)

// Float header word indices.
const (
	hDelta  = 0
	hDepMin = 1
	hDepMax = 2
	hB      = 5
	hE      = 6
	hO      = 7
	hStla   = 31
	hStlo   = 32
	hStel   = 33
	hEvla   = 35
	hEvlo   = 36
	hEvdp   = 38
	hMag    = 39
	hDist   = 50
	hAz     = 51
	hBaz    = 52
	hGcarc  = 53
	hDepMen = 56
	hCmpAz  = 57
	hCmpInc = 58
)

// Integer header word indices.
const (
	hNzYear = 0
	hNzJDay = 1
	hNzHour = 2
	hNzMin  = 3
	hNzSec  = 4
	hNzMSec = 5
	hNvHdr  = 6
	hNpts   = 9
	hIfType = 15
	hIDep   = 16
	hIzType = 17
	hLeven  = 35
	hLovrok = 37
	hLcalda = 38
)

// Enumerated header values.
const (
	iTime  = 1
	iUnkn  = 5
	iDisp  = 6
	iVel   = 7
	iAcc   = 8
	iBegin = 9
)

// String header byte offsets and widths within the string block.
type sacString struct{ off, width int }

var (
	kStnm  = sacString{0, 8}
	kEvnm  = sacString{8, 16}
	kHole  = sacString{24, 8}
	kCmpnm = sacString{160, 8}
	kNetwk = sacString{168, 8}
)

type sacHeader struct {
	F [sacFloatWords]float32
	I [sacIntWords]int32
	S [sacStringBytes]byte
}

// ReadSAC loads a SAC file.
func ReadSAC(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tr, err := DecodeSAC(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return tr, nil
}

// WriteSAC stores a trace as a little-endian SAC file.
func WriteSAC(path string, tr *Trace) error {
	var buf bytes.Buffer
	if err := EncodeSAC(&buf, tr); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// DecodeSAC parses a SAC stream in either byte order.
func DecodeSAC(r io.Reader) (*Trace, error) {
	raw := make([]byte, sacHeaderBytes)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("%w: short header: %w", ErrNotSAC, err)
	}

	order, err := sacByteOrder(raw)
	if err != nil {
		return nil, err
	}

	var h sacHeader
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return nil, fmt.Errorf("decode SAC header: %w", err)
	}

	npts := int(h.I[hNpts])
	if npts < 0 {
		return nil, fmt.Errorf("%w: negative npts %d", ErrNotSAC, npts)
	}
	// npts is untrusted: read what the stream holds before allocating samples.
	payload, err := io.ReadAll(io.LimitReader(r, int64(npts)*4))
	if err != nil {
		return nil, fmt.Errorf("decode SAC data: %w", err)
	}
	if len(payload) < npts*4 {
		return nil, fmt.Errorf("%w: header declares %d samples, data holds %d", ErrNotSAC, npts, len(payload)/4)
	}
	samples := make([]float32, npts)
	if err := binary.Read(bytes.NewReader(payload), order, samples); err != nil {
		return nil, fmt.Errorf("decode SAC data: %w", err)
	}

	ref := time.Date(int(h.I[hNzYear]), time.January, int(h.I[hNzJDay]),
		int(h.I[hNzHour]), int(h.I[hNzMin]), int(h.I[hNzSec]),
		int(h.I[hNzMSec])*int(time.Millisecond), time.UTC)

	data := make([]float64, npts)
	for i, v := range samples {
		data[i] = float64(v)
	}

	id := domain.TraceID{
		Network:  h.str(kNetwk),
		Station:  h.str(kStnm),
		Location: h.str(kHole),
		Channel:  h.str(kCmpnm),
	}
	tr := NewTrace(id, ref.Add(secondsToDuration(h.float(hB, 0))), float64(h.F[hDelta]), data)
	tr.Unit = unitFromIDep(h.I[hIDep])
	tr.StationLat = h.float(hStla, Undefined)
	tr.StationLon = h.float(hStlo, Undefined)
	tr.StationElev = h.float(hStel, Undefined)
	tr.CmpAz = h.float(hCmpAz, Undefined)
	tr.CmpInc = h.float(hCmpInc, Undefined)
	tr.EventName = h.str(kEvnm)
	tr.EventLat = h.float(hEvla, Undefined)
	tr.EventLon = h.float(hEvlo, Undefined)
	tr.EventDepth = h.float(hEvdp, Undefined)
	tr.Magnitude = h.float(hMag, Undefined)
	tr.DistKm = h.float(hDist, Undefined)
	tr.GcarcDeg = h.float(hGcarc, Undefined)
	tr.Az = h.float(hAz, Undefined)
	tr.Baz = h.float(hBaz, Undefined)
	if o := h.float(hO, Undefined); IsDefined(o) {
		tr.Origin = ref.Add(secondsToDuration(o))
	}
	return tr, nil
}

// EncodeSAC writes a trace as a little-endian, evenly sampled time series.
func EncodeSAC(w io.Writer, tr *Trace) error {
	if tr.Delta <= 0 {
		return fmt.Errorf("encode SAC %s: non-positive sample interval %g", tr.ID, tr.Delta)
	}

	var h sacHeader
	for i := range h.F {
		h.F[i] = Undefined
	}
	for i := range h.I {
		h.I[i] = undefinedInt
	}
	for i := 0; i < sacStringBytes; i += 8 {
		copy(h.S[i:i+8], fmt.Sprintf("%-8s", undefinedStr))
	}

	ref := tr.Start.UTC().Truncate(time.Millisecond)
	b := tr.Start.Sub(ref).Seconds()

	minV, maxV, mean := stats(tr.Data)
	h.F[hDelta] = float32(tr.Delta)
	h.F[hDepMin] = float32(minV)
	h.F[hDepMax] = float32(maxV)
	h.F[hDepMen] = float32(mean)
	h.F[hB] = float32(b)
	h.F[hE] = float32(b + float64(max(len(tr.Data)-1, 0))*tr.Delta)
	if !tr.Origin.IsZero() {
		h.F[hO] = float32(tr.Origin.Sub(ref).Seconds())
	}
	h.F[hStla] = float32(tr.StationLat)
	h.F[hStlo] = float32(tr.StationLon)
	h.F[hStel] = float32(tr.StationElev)
	h.F[hCmpAz] = float32(tr.CmpAz)
	h.F[hCmpInc] = float32(tr.CmpInc)
	h.F[hEvla] = float32(tr.EventLat)
	h.F[hEvlo] = float32(tr.EventLon)
	h.F[hEvdp] = float32(tr.EventDepth)
	h.F[hMag] = float32(tr.Magnitude)
	h.F[hDist] = float32(tr.DistKm)
	h.F[hGcarc] = float32(tr.GcarcDeg)
	h.F[hAz] = float32(tr.Az)
	h.F[hBaz] = float32(tr.Baz)

	h.I[hNzYear] = int32(ref.Year())
	h.I[hNzJDay] = int32(ref.YearDay())
	h.I[hNzHour] = int32(ref.Hour())
	h.I[hNzMin] = int32(ref.Minute())
	h.I[hNzSec] = int32(ref.Second())
	h.I[hNzMSec] = int32(ref.Nanosecond() / int(time.Millisecond))
	h.I[hNvHdr] = sacVersion
	h.I[hNpts] = int32(len(tr.Data))
	h.I[hIfType] = iTime
	h.I[hIDep] = iDepFromUnit(tr.Unit)
	h.I[hIzType] = iBegin
	h.I[hLeven] = 1
	h.I[hLovrok] = 1
	h.I[hLcalda] = 1

	h.setStr(kStnm, tr.ID.Station)
	h.setStr(kHole, tr.ID.Location)
	h.setStr(kCmpnm, tr.ID.Channel)
	h.setStr(kNetwk, tr.ID.Network)
	if tr.EventName != "" {
		h.setStr(kEvnm, sacEventName(tr.EventName))
	}

	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("encode SAC header: %w", err)
	}
	samples := make([]float32, len(tr.Data))
	for i, v := range tr.Data {
		samples[i] = float32(v)
	}
	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("encode SAC data: %w", err)
	}
	return nil
}

func sacByteOrder(raw []byte) (binary.ByteOrder, error) {
	off := (sacFloatWords + hNvHdr) * 4
	switch {
	case binary.LittleEndian.Uint32(raw[off:]) == sacVersion:
		return binary.LittleEndian, nil
	case binary.BigEndian.Uint32(raw[off:]) == sacVersion:
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("%w: header version is not %d", ErrNotSAC, sacVersion)
	}
}

func (h *sacHeader) float(i int, fallback float64) float64 {
	v := float64(h.F[i])
	if v == Undefined {
		return fallback
	}
	return v
}

func (h *sacHeader) str(s sacString) string {
	v := strings.TrimRight(string(h.S[s.off:s.off+s.width]), " \x00")
	v = strings.TrimSpace(v)
	if v == undefinedStr {
		return ""
	}
	return v
}

func (h *sacHeader) setStr(s sacString, v string) {
	padded := fmt.Sprintf("%-*s", s.width, v)
	copy(h.S[s.off:s.off+s.width], padded[:s.width])
}

// sacEventName fits an event name into the 16-byte kevnm field. Names that
// are too long lose their dot separators, so "2012.227.03.02.58" is stored
// as "2012227030258".
func sacEventName(name string) string {
	if len(name) <= kEvnm.width {
		return name
	}
	return strings.ReplaceAll(name, ".", "")
}

func unitFromIDep(v int32) Unit {
	switch v {
	case iDisp:
		return UnitDisplacement
	case iVel:
		return UnitVelocity
	case iAcc:
		return UnitAcceleration
	default:
		return UnitCounts
	}
}

func iDepFromUnit(u Unit) int32 {
	switch u {
	case UnitDisplacement:
		return iDisp
	case UnitVelocity:
		return iVel
	case UnitAcceleration:
		return iAcc
	default:
		return iUnkn
	}
}

func stats(data []float64) (minV, maxV, mean float64) {
	if len(data) == 0 {
		return Undefined, Undefined, Undefined
	}
	minV, maxV = math.Inf(1), math.Inf(-1)
	var sum float64
	for _, v := range data {
		minV = min(minV, v)
		maxV = max(maxV, v)
		sum += v
	}
	return minV, maxV, sum / float64(len(data))
}
