package seismo

import (
	"fmt"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
)

// Toolkit bundles the file codecs and signal operations behind the method set
// the processing pipeline expects.
type Toolkit struct{}

func (Toolkit) ReadTrace(path string) (*Trace, error) { return ReadSAC(path) }

func (Toolkit) WriteTrace(path string, tr *Trace) error { return WriteSAC(path, tr) }

// RemoveResponse loads the StationXML file at respPath, finds the channel
// epoch covering the trace start and deconvolves it.
func (Toolkit) RemoveResponse(tr *Trace, respPath string, output Unit, pf domain.PreFilter) (*Trace, error) {
	inv, err := ReadStationXML(respPath)
	if err != nil {
		return nil, fmt.Errorf("load response: %w", err)
	}
	_, cha, err := inv.Lookup(tr.ID, tr.Start)
	if err != nil {
		return nil, err
	}
	return RemoveResponse(tr, cha, output, pf)
}

func (Toolkit) Detrend(tr *Trace, method DetrendMethod) error { return Detrend(tr, method) }

func (Toolkit) Resample(tr *Trace, rate float64) error { return Resample(tr, rate) }
