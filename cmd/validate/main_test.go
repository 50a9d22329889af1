package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
	"github.com/nascimentoandre/download-surftomo-data/internal/seismo"
)

var (
	aqdb = domain.TraceID{Network: "BL", Station: "AQDB", Channel: "BHZ"}
	saml = domain.TraceID{Network: "IU", Station: "SAML", Location: "00", Channel: "BHZ"}
	ptga = domain.TraceID{Network: "IU", Station: "PTGA", Channel: "LHZ"}
)

func writeTrace(t *testing.T, dir string, id domain.TraceID, deg, delta float64, unit seismo.Unit) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	tr := seismo.NewTrace(id, time.Date(2013, 5, 24, 5, 41, 28, 0, time.UTC), delta, []float64{1, 2, 3, 4})
	tr.DistKm = domain.DegreesToKilometers(deg)
	tr.Unit = unit
	require.NoError(t, seismo.WriteSAC(filepath.Join(dir, id.FileName()), tr))
}

func writeResponse(t *testing.T, layout domain.Layout, ev string, id domain.TraceID) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(layout.RespDir(ev), id.ResponseFileName()), []byte("<FDSNStationXML/>"), 0o644))
}

// completedRun builds the folder a successful run with one metadata failure
// and one processing failure leaves behind.
func completedRun(t *testing.T) (domain.Layout, string) {
	t.Helper()
	layout := domain.NewLayout(t.TempDir())
	const ev = "2013.144.05.44.48"
	require.NoError(t, layout.EnsureEventDirectory(ev))
	require.NoError(t, os.MkdirAll(layout.ProcDir(ev), 0o755))

	for _, id := range []domain.TraceID{aqdb, saml, ptga} {
		writeTrace(t, layout.RawDir(ev), id, 40, 0.05, seismo.UnitCounts)
	}
	writeResponse(t, layout, ev, aqdb)
	writeResponse(t, layout, ev, ptga)
	writeTrace(t, layout.ProcDir(ev), aqdb, 40, 0.1, seismo.UnitDisplacement)

	report := domain.NewReport()
	report.Fail(domain.ItemResult{Stage: domain.StageMetadata, EventID: ev, Trace: saml}, errors.New("no data"))
	report.Fail(domain.ItemResult{Stage: domain.StageProcess, EventID: ev, Trace: saml}, errors.New("response metadata: missing"))
	report.Fail(domain.ItemResult{Stage: domain.StageProcess, EventID: ev, Trace: ptga}, seismo.ErrUnstable)
	report.Finish()

	reportPath := filepath.Join(layout.Root, "report.json")
	require.NoError(t, report.WriteFile(reportPath))
	return layout, reportPath
}

func TestRun_CompletedFolderPasses(t *testing.T) {
	layout, reportPath := completedRun(t)

	var out bytes.Buffer
	code := run(&out, layout.Root, reportPath, domain.DefaultMinDistance)

	assert.Equal(t, 0, code, out.String())
	assert.Contains(t, out.String(), "All validations passed.")
	assert.Contains(t, out.String(), "Events: 1")
}

func TestRun_DetectsViolations(t *testing.T) {
	layout, reportPath := completedRun(t)
	const ev = "2013.144.05.44.48"

	// leftover staging tree
	writeTrace(t, layout.StagingEventDir("IRIS", ev), aqdb, 40, 0.05, seismo.UnitCounts)
	// raw trace too close, without response or reported failure
	near := domain.TraceID{Network: "BL", Station: "PTGA", Channel: "HHZ"}
	writeTrace(t, layout.RawDir(ev), near, 10, 0.05, seismo.UnitCounts)
	// processed trace without raw counterpart
	orphan := domain.TraceID{Network: "BL", Station: "ORPH", Channel: "BHZ"}
	writeTrace(t, layout.ProcDir(ev), orphan, 40, 0.1, seismo.UnitDisplacement)

	var out bytes.Buffer
	code := run(&out, layout.Root, reportPath, domain.DefaultMinDistance)

	assert.Equal(t, 1, code)
	s := out.String()
	assert.Contains(t, s, "Validation FAILED.")
	assert.Contains(t, s, "IRIS: directory without raw/")
	assert.Contains(t, s, "BL.PTGA..HHZ.SAC: distance 10.00° below 15.00°")
	assert.Contains(t, s, "BL.PTGA..HHZ.SAC: no STXML.BL.PTGA.HHZ and no reported metadata failure")
	assert.Contains(t, s, "proc/BL.ORPH..BHZ.SAC: no matching raw trace")
	assert.Contains(t, s, "raw/BL.PTGA..HHZ.SAC: not processed and no reported processing failure")
}

func TestRun_WithoutReportEveryGapIsAnError(t *testing.T) {
	layout, _ := completedRun(t)

	var out bytes.Buffer
	code := run(&out, layout.Root, filepath.Join(t.TempDir(), "missing.json"), domain.DefaultMinDistance)

	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "warning: no run report")
	assert.Contains(t, out.String(), "IU.SAML.00.BHZ.SAC: no STXML.IU.SAML.BHZ and no reported metadata failure")
}

func TestRun_MissingFolder(t *testing.T) {
	var out bytes.Buffer
	code := run(&out, filepath.Join(t.TempDir(), "nope"), "", domain.DefaultMinDistance)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "FATAL")
}
