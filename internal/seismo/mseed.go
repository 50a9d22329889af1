package seismo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
)

// ErrUnsupportedEncoding is returned for miniSEED data encodings other than
// INT16, INT32, FLOAT32, FLOAT64, Steim1 and Steim2.
var ErrUnsupportedEncoding = errors.New("unsupported miniSEED encoding")

const (
	mseedFixedHeader = 48
	steimFrameBytes  = 64
	defaultRecordExp = 12
	minRecordExp     = 7
	maxRecordExp     = 16
)

const (
	encInt16   = 1
	encInt32   = 3
	encFloat32 = 4
	encFloat64 = 5
	encSteim1  = 10
	encSteim2  = 11
)

type mseedRecord struct {
	id      domain.TraceID
	start   time.Time
	rate    float64
	samples []float64
	length  int
}

// DecodeMiniSEED decodes a stream of miniSEED 2 records and merges them into
// one trace per channel. Gaps are filled with the last sample before the gap
// and overlapping samples are dropped.
func DecodeMiniSEED(r io.Reader) ([]*Trace, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read miniSEED: %w", err)
	}

	var records []mseedRecord
	for off := 0; off+mseedFixedHeader <= len(buf); {
		rec, err := decodeRecord(buf[off:])
		if err != nil {
			return nil, fmt.Errorf("record at byte %d: %w", off, err)
		}
		off += rec.length
		if len(rec.samples) == 0 || rec.rate <= 0 {
			continue
		}
		records = append(records, rec)
	}
	return mergeRecords(records), nil
}

func decodeRecord(b []byte) (mseedRecord, error) {
	var rec mseedRecord

	order := headerByteOrder(b)
	rec.id = domain.TraceID{
		Station:  strings.TrimSpace(string(b[8:13])),
		Location: strings.TrimSpace(string(b[13:15])),
		Channel:  strings.TrimSpace(string(b[15:18])),
		Network:  strings.TrimSpace(string(b[18:20])),
	}

	year := int(order.Uint16(b[20:]))
	doy := int(order.Uint16(b[22:]))
	frac := int(order.Uint16(b[28:]))
	rec.start = time.Date(year, time.January, doy, int(b[24]), int(b[25]), int(b[26]),
		frac*100*int(time.Microsecond), time.UTC)

	nsamp := int(order.Uint16(b[30:]))
	rec.rate = sampleRate(int16(order.Uint16(b[32:])), int16(order.Uint16(b[34:])))

	activity := b[36]
	if correction := int32(order.Uint32(b[40:])); correction != 0 && activity&0x02 == 0 {
		rec.start = rec.start.Add(time.Duration(correction) * 100 * time.Microsecond)
	}

	dataOff := int(order.Uint16(b[44:]))
	encoding := -1
	dataOrder := binary.ByteOrder(binary.BigEndian)
	exp := defaultRecordExp

	for next := int(order.Uint16(b[46:])); next > 0 && next+4 <= len(b); {
		kind := order.Uint16(b[next:])
		switch kind {
		case 1000:
			if next+7 > len(b) {
				return rec, fmt.Errorf("truncated blockette 1000")
			}
			encoding = int(b[next+4])
			if b[next+5] == 0 {
				dataOrder = binary.LittleEndian
			}
			exp = int(b[next+6])
		case 1001:
			if next+6 <= len(b) {
				rec.start = rec.start.Add(time.Duration(int8(b[next+5])) * time.Microsecond)
			}
		}
		n := int(order.Uint16(b[next+2:]))
		if n <= next {
			break
		}
		next = n
	}

	if exp < minRecordExp || exp > maxRecordExp {
		return rec, fmt.Errorf("record length exponent %d outside [%d, %d]", exp, minRecordExp, maxRecordExp)
	}
	rec.length = 1 << exp
	if rec.length > len(b) {
		return rec, fmt.Errorf("record length %d exceeds remaining %d bytes", rec.length, len(b))
	}
	if encoding < 0 {
		return rec, fmt.Errorf("%w: missing blockette 1000", ErrUnsupportedEncoding)
	}
	if nsamp == 0 || dataOff == 0 {
		return rec, nil
	}
	if dataOff >= rec.length {
		return rec, fmt.Errorf("data offset %d beyond record length %d", dataOff, rec.length)
	}

	samples, err := decodeSamples(b[dataOff:rec.length], encoding, dataOrder, nsamp)
	if err != nil {
		return rec, fmt.Errorf("%s: %w", rec.id, err)
	}
	rec.samples = samples
	return rec, nil
}

// headerByteOrder picks the order in which the start year is plausible.
func headerByteOrder(b []byte) binary.ByteOrder {
	if y := binary.BigEndian.Uint16(b[20:]); y >= 1900 && y <= 2100 {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func sampleRate(factor, mult int16) float64 {
	f, m := float64(factor), float64(mult)
	switch {
	case factor == 0 || mult == 0:
		return 0
	case factor > 0 && mult > 0:
		return f * m
	case factor > 0 && mult < 0:
		return -f / m
	case factor < 0 && mult > 0:
		return -m / f
	default:
		return 1 / (f * m)
	}
}

func decodeSamples(b []byte, encoding int, order binary.ByteOrder, n int) ([]float64, error) {
	out := make([]float64, 0, n)
	switch encoding {
	case encInt16:
		for i := 0; i+2 <= len(b) && len(out) < n; i += 2 {
			out = append(out, float64(int16(order.Uint16(b[i:]))))
		}
	case encInt32:
		for i := 0; i+4 <= len(b) && len(out) < n; i += 4 {
			out = append(out, float64(int32(order.Uint32(b[i:]))))
		}
	case encFloat32:
		for i := 0; i+4 <= len(b) && len(out) < n; i += 4 {
			out = append(out, float64(math.Float32frombits(order.Uint32(b[i:]))))
		}
	case encFloat64:
		for i := 0; i+8 <= len(b) && len(out) < n; i += 8 {
			out = append(out, math.Float64frombits(order.Uint64(b[i:])))
		}
	case encSteim1, encSteim2:
		return decodeSteim(b, encoding, order, n)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedEncoding, encoding)
	}
	if len(out) < n {
		return nil, fmt.Errorf("data section holds %d of %d samples", len(out), n)
	}
	return out, nil
}

func decodeSteim(b []byte, encoding int, order binary.ByteOrder, n int) ([]float64, error) {
	if len(b) < steimFrameBytes {
		return nil, fmt.Errorf("steim data shorter than one frame")
	}
	x0 := int32(order.Uint32(b[4:]))
	xn := int32(order.Uint32(b[8:]))

	diffs := make([]int32, 0, n)
	for f := 0; f+steimFrameBytes <= len(b) && len(diffs) < n; f += steimFrameBytes {
		frame := b[f : f+steimFrameBytes]
		ctrl := order.Uint32(frame)
		first := 1
		if f == 0 {
			first = 3
		}
		for j := first; j < 16; j++ {
			nib := (ctrl >> (30 - 2*uint(j))) & 0x3
			w := order.Uint32(frame[4*j:])
			var err error
			if encoding == encSteim1 {
				diffs = steim1Word(diffs, nib, w)
			} else {
				diffs, err = steim2Word(diffs, nib, w)
				if err != nil {
					return nil, err
				}
			}
		}
	}
	if len(diffs) < n {
		return nil, fmt.Errorf("steim frames hold %d of %d samples", len(diffs), n)
	}

	out := make([]float64, n)
	acc := x0
	out[0] = float64(acc)
	for i := 1; i < n; i++ {
		acc += diffs[i]
		out[i] = float64(acc)
	}
	if acc != xn {
		return nil, fmt.Errorf("steim integrity check failed: last sample %d, expected %d", acc, xn)
	}
	return out, nil
}

func steim1Word(diffs []int32, nib, w uint32) []int32 {
	switch nib {
	case 1:
		for k := range 4 {
			diffs = append(diffs, signExtend(w>>(24-8*uint(k)), 8))
		}
	case 2:
		diffs = append(diffs, signExtend(w>>16, 16), signExtend(w, 16))
	case 3:
		diffs = append(diffs, int32(w))
	}
	return diffs
}

func steim2Word(diffs []int32, nib, w uint32) ([]int32, error) {
	unpack := func(count, bits int) {
		for k := range count {
			shift := uint(bits * (count - 1 - k))
			diffs = append(diffs, signExtend(w>>shift, uint(bits)))
		}
	}
	dnib := w >> 30
	switch nib {
	case 0:
	case 1:
		unpack(4, 8)
	case 2:
		switch dnib {
		case 1:
			unpack(1, 30)
		case 2:
			unpack(2, 15)
		case 3:
			unpack(3, 10)
		default:
			return nil, fmt.Errorf("steim2: invalid dnib %d for nibble 2", dnib)
		}
	case 3:
		switch dnib {
		case 0:
			unpack(5, 6)
		case 1:
			unpack(6, 5)
		case 2:
			unpack(7, 4)
		default:
			return nil, fmt.Errorf("steim2: invalid dnib %d for nibble 3", dnib)
		}
	}
	return diffs, nil
}

func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

func mergeRecords(records []mseedRecord) []*Trace {
	slices.SortStableFunc(records, func(a, b mseedRecord) int {
		if c := strings.Compare(a.id.String(), b.id.String()); c != 0 {
			return c
		}
		return a.start.Compare(b.start)
	})

	var traces []*Trace
	var cur *Trace
	for _, rec := range records {
		delta := 1 / rec.rate
		if cur == nil || cur.ID != rec.id || math.Abs(cur.Delta-delta) > delta*1e-4 {
			cur = NewTrace(rec.id, rec.start, delta, slices.Clone(rec.samples))
			traces = append(traces, cur)
			continue
		}

		expected := cur.End().Add(secondsToDuration(delta))
		offset := int(math.Round(rec.start.Sub(expected).Seconds() / delta))
		switch {
		case offset > 0:
			last := cur.Data[len(cur.Data)-1]
			for range offset {
				cur.Data = append(cur.Data, last)
			}
			cur.Data = append(cur.Data, rec.samples...)
		case offset < 0:
			if skip := -offset; skip < len(rec.samples) {
				cur.Data = append(cur.Data, rec.samples[skip:]...)
			}
		default:
			cur.Data = append(cur.Data, rec.samples...)
		}
	}
	return traces
}
