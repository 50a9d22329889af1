package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
	"github.com/nascimentoandre/download-surftomo-data/internal/observability"
	"github.com/nascimentoandre/download-surftomo-data/internal/pipeline"
	"github.com/nascimentoandre/download-surftomo-data/internal/seismo"
)

// --- fakes ---

// staged describes one file a fake server writes into its staging tree.
type staged struct {
	event   string
	id      domain.TraceID
	distDeg float64 // < 0 leaves the dist header unset
	value   float64 // first sample, to tell copies from different servers apart
}

type fakeSearcher struct {
	files []staged
	err   error
}

func (s *fakeSearcher) Search(_ context.Context, _ domain.Request, dir string) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	for _, f := range s.files {
		evDir := filepath.Join(dir, f.event)
		if err := os.MkdirAll(evDir, 0o755); err != nil {
			return 0, err
		}
		if err := seismo.WriteSAC(filepath.Join(evDir, f.id.FileName()), stagedTrace(f)); err != nil {
			return 0, err
		}
	}
	return len(s.files), nil
}

func stagedTrace(f staged) *seismo.Trace {
	data := make([]float64, 40)
	for i := range data {
		data[i] = f.value + float64(i)
	}
	tr := seismo.NewTrace(f.id, time.Date(2013, 5, 24, 5, 41, 28, 0, time.UTC), 0.05, data)
	if f.distDeg >= 0 {
		tr.DistKm = domain.DegreesToKilometers(f.distDeg)
	}
	return tr
}

type fakeConnector map[string]*fakeSearcher

func (c fakeConnector) Connect(server string) (pipeline.WaveformSearcher, error) {
	s, ok := c[server]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return s, nil
}

type metadataCall struct {
	server string
	id     domain.TraceID
}

type fakeMetadata struct {
	calls   []metadataCall
	failFor map[string]bool // station codes
}

func (m *fakeMetadata) FetchResponse(_ context.Context, server string, id domain.TraceID) ([]byte, error) {
	m.calls = append(m.calls, metadataCall{server: server, id: id})
	if m.failFor[id.Station] {
		return nil, errors.New("no response available")
	}
	return []byte("<FDSNStationXML/>"), nil
}

type fakeRemover struct {
	failFor map[string]bool
	calls   int
}

func (r *fakeRemover) RemoveResponse(tr *seismo.Trace, respPath string, output seismo.Unit, _ domain.PreFilter) (*seismo.Trace, error) {
	r.calls++
	if r.failFor[tr.ID.Station] {
		return nil, seismo.ErrUnstable
	}
	if _, err := os.Stat(respPath); err != nil {
		return nil, err
	}
	out := *tr
	out.Data = slices.Clone(tr.Data)
	out.Unit = output
	return &out, nil
}

type fakeNotifier struct {
	summaries []domain.EventSummary
}

func (n *fakeNotifier) NotifyEventReady(_ context.Context, s domain.EventSummary) error {
	n.summaries = append(n.summaries, s)
	return nil
}

// --- helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	root     string
	layout   domain.Layout
	metadata *fakeMetadata
	remover  *fakeRemover
	notifier *fakeNotifier
	metrics  *observability.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	return &harness{
		root:     root,
		layout:   domain.NewLayout(root),
		metadata: &fakeMetadata{failFor: map[string]bool{}},
		remover:  &fakeRemover{failFor: map[string]bool{}},
		notifier: &fakeNotifier{},
		metrics:  observability.NewMetricsForTesting(),
	}
}

func (h *harness) pipeline(conn pipeline.Connector) *pipeline.Pipeline {
	return pipeline.New(pipeline.Config{
		Layout:      h.layout,
		MinDistance: domain.DefaultMinDistance,
		PreFilter:   domain.DefaultPreFilter(),
	}, pipeline.Deps{
		Connector:   conn,
		Metadata:    h.metadata,
		Codec:       seismo.Toolkit{},
		Remover:     h.remover,
		Conditioner: seismo.Toolkit{},
		Notifier:    h.notifier,
	}, testLogger(), h.metrics)
}

func requestsFor(t *testing.T, servers ...string) []domain.Request {
	t.Helper()
	reqs, err := domain.BuildRequests(domain.RequestParams{
		Start:        "2013-05-01",
		End:          "2013-05-31",
		Preset:       200,
		Offset:       4000,
		EventArea:    domain.WorldArea(),
		StationArea:  domain.BrazilArea(),
		MinMagnitude: 5.5,
		MaxDepth:     100,
	}, servers)
	require.NoError(t, err)
	return reqs
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

var (
	aqdbBHZ = domain.TraceID{Network: "BL", Station: "AQDB", Channel: "BHZ"}
	samlBHZ = domain.TraceID{Network: "IU", Station: "SAML", Channel: "BHZ"}
	ptgaBHZ = domain.TraceID{Network: "IU", Station: "PTGA", Location: "00", Channel: "BHZ"}
)

// --- end-to-end scenarios ---

func TestPipeline_TwoServersWithoutOverlap(t *testing.T) {
	h := newHarness(t)
	conn := fakeConnector{
		"IRIS": {files: []staged{{event: "E1", id: samlBHZ, distDeg: 20}}},
		"USP":  {files: []staged{{event: "E1", id: aqdbBHZ, distDeg: 20}}},
	}

	report, err := h.pipeline(conn).Run(context.Background(), requestsFor(t, "IRIS", "USP"))
	require.NoError(t, err)

	want := []string{"BL.AQDB..BHZ.SAC", "IU.SAML..BHZ.SAC"}
	if diff := cmp.Diff(want, listDir(t, h.layout.RawDir("E1"))); diff != "" {
		t.Errorf("raw/ mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"STXML.BL.AQDB.BHZ", "STXML.IU.SAML.BHZ"}, listDir(t, h.layout.RespDir("E1")))
	assert.Equal(t, want, listDir(t, h.layout.ProcDir("E1")))

	// only the canonical event directory remains
	assert.Equal(t, []string{"E1"}, listDir(t, h.root))
	assert.Empty(t, report.Failures(""))

	proc, err := seismo.ReadSAC(filepath.Join(h.layout.ProcDir("E1"), "BL.AQDB..BHZ.SAC"))
	require.NoError(t, err)
	assert.Equal(t, seismo.UnitDisplacement, proc.Unit)
	assert.InDelta(t, 0.1, proc.Delta, 1e-6)
	assert.Len(t, proc.Data, 20)
}

func TestPipeline_DuplicateKeepsFirstServer(t *testing.T) {
	h := newHarness(t)
	conn := fakeConnector{
		"IRIS": {files: []staged{{event: "E1", id: aqdbBHZ, distDeg: 20, value: 1}}},
		"USP":  {files: []staged{{event: "E1", id: aqdbBHZ, distDeg: 20, value: 1000}}},
	}

	_, err := h.pipeline(conn).Run(context.Background(), requestsFor(t, "IRIS", "USP"))
	require.NoError(t, err)

	assert.Equal(t, []string{"BL.AQDB..BHZ.SAC"}, listDir(t, h.layout.RawDir("E1")))
	raw, err := seismo.ReadSAC(filepath.Join(h.layout.RawDir("E1"), "BL.AQDB..BHZ.SAC"))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, raw.Data[0], 0, "copy from the first server survives")

	require.Len(t, h.metadata.calls, 1)
	assert.Equal(t, "IRIS", h.metadata.calls[0].server)
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.TracesRejected.WithLabelValues("duplicate")), 0)
}

func TestPipeline_CloseTraceExcluded(t *testing.T) {
	h := newHarness(t)
	conn := fakeConnector{
		"IRIS": {files: []staged{
			{event: "E1", id: aqdbBHZ, distDeg: 10},
			{event: "E1", id: samlBHZ, distDeg: 16},
		}},
	}

	_, err := h.pipeline(conn).Run(context.Background(), requestsFor(t, "IRIS"))
	require.NoError(t, err)

	assert.Equal(t, []string{"IU.SAML..BHZ.SAC"}, listDir(t, h.layout.RawDir("E1")))
	require.Len(t, h.metadata.calls, 1)
	assert.Equal(t, samlBHZ, h.metadata.calls[0].id)
	assert.Empty(t, listDir(t, h.layout.StagingDir("IRIS")))
}

// --- consolidation properties ---

func TestConsolidator_DisallowedChannelExcludedRegardlessOfDistance(t *testing.T) {
	h := newHarness(t)
	conn := fakeConnector{
		"IRIS": {files: []staged{
			{event: "E1", id: domain.TraceID{Network: "BL", Station: "AQDB", Channel: "EHZ"}, distDeg: 80},
			{event: "E1", id: domain.TraceID{Network: "BL", Station: "AQDB", Channel: "SHZ"}, distDeg: 80},
			{event: "E1", id: samlBHZ, distDeg: 80},
		}},
	}

	_, err := h.pipeline(conn).Run(context.Background(), requestsFor(t, "IRIS"))
	require.NoError(t, err)

	assert.Equal(t, []string{"IU.SAML..BHZ.SAC"}, listDir(t, h.layout.RawDir("E1")))
	assert.InDelta(t, 2.0, testutil.ToFloat64(h.metrics.TracesRejected.WithLabelValues("channel")), 0)
}

func TestConsolidator_DistanceFromCoordinatesWhenHeaderUnset(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.MkdirAll(h.layout.StagingEventDir("IRIS", "E1"), 0o755))

	near := stagedTrace(staged{id: aqdbBHZ, distDeg: -1})
	near.EventLat, near.EventLon = -20, -55
	near.StationLat, near.StationLon = -20.48, -55.70
	require.NoError(t, seismo.WriteSAC(filepath.Join(h.layout.StagingEventDir("IRIS", "E1"), aqdbBHZ.FileName()), near))

	far := stagedTrace(staged{id: samlBHZ, distDeg: -1})
	far.EventLat, far.EventLon = 54.9, 153.2
	far.StationLat, far.StationLon = -3.1, -60.0
	require.NoError(t, seismo.WriteSAC(filepath.Join(h.layout.StagingEventDir("IRIS", "E1"), samlBHZ.FileName()), far))

	c := pipeline.NewConsolidator(seismo.Toolkit{}, h.metadata, h.layout, domain.DefaultMinDistance,
		domain.NewReport(), testLogger(), h.metrics)
	res, err := c.Run(context.Background(), []string{"IRIS"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, []string{"IU.SAML..BHZ.SAC"}, listDir(t, h.layout.RawDir("E1")))
}

func TestConsolidator_EveryRawFileHasResponseOrReportedFailure(t *testing.T) {
	h := newHarness(t)
	h.metadata.failFor["SAML"] = true
	conn := fakeConnector{
		"IRIS": {files: []staged{
			{event: "E1", id: aqdbBHZ, distDeg: 30},
			{event: "E1", id: samlBHZ, distDeg: 30},
			{event: "E2", id: ptgaBHZ, distDeg: 30},
		}},
	}

	report, err := h.pipeline(conn).Run(context.Background(), requestsFor(t, "IRIS"))
	require.NoError(t, err)

	failed := make(map[string]bool)
	for _, f := range report.Failures(domain.StageMetadata) {
		failed[f.EventID+"/"+f.Trace.FileName()] = true
	}
	require.Len(t, failed, 1)

	for _, ev := range []string{"E1", "E2"} {
		for _, name := range listDir(t, h.layout.RawDir(ev)) {
			id, err := domain.ParseTraceFileName(name)
			require.NoError(t, err)
			_, statErr := os.Stat(filepath.Join(h.layout.RespDir(ev), id.ResponseFileName()))
			assert.True(t, statErr == nil || failed[ev+"/"+name], "%s/%s has neither response nor failure", ev, name)
		}
	}
	assert.True(t, failed["E1/IU.SAML..BHZ.SAC"])
}

func TestConsolidator_IgnoresEmptyStagingEvents(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.MkdirAll(h.layout.StagingEventDir("IRIS", "EMPTY"), 0o755))

	c := pipeline.NewConsolidator(seismo.Toolkit{}, h.metadata, h.layout, domain.DefaultMinDistance,
		domain.NewReport(), testLogger(), h.metrics)
	res, err := c.Run(context.Background(), []string{"IRIS", "USP"})
	require.NoError(t, err)

	assert.Empty(t, res.Events)
	assert.Empty(t, listDir(t, h.root))
}

func TestConsolidator_UnreadableFileReported(t *testing.T) {
	h := newHarness(t)
	dir := h.layout.StagingEventDir("IRIS", "E1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, aqdbBHZ.FileName()), []byte("garbage"), 0o644))

	report := domain.NewReport()
	c := pipeline.NewConsolidator(seismo.Toolkit{}, h.metadata, h.layout, domain.DefaultMinDistance,
		report, testLogger(), h.metrics)
	_, err := c.Run(context.Background(), []string{"IRIS"})
	require.NoError(t, err)

	assert.Empty(t, listDir(t, h.layout.RawDir("E1")))
	require.Len(t, report.Failures(domain.StageConsolidate), 1)
	assert.Empty(t, h.metadata.calls)
}

// --- fetch and processing failures ---

func TestFetcher_UnreachableServerIsSkipped(t *testing.T) {
	h := newHarness(t)
	conn := fakeConnector{
		"IRIS": {err: errors.New("authentication failed")},
		"USP":  {files: []staged{{event: "E1", id: aqdbBHZ, distDeg: 20}}},
	}

	report, err := h.pipeline(conn).Run(context.Background(), requestsFor(t, "NOWHERE", "IRIS", "USP"))
	require.NoError(t, err)

	failures := report.Failures(domain.StageFetch)
	require.Len(t, failures, 2)
	assert.Equal(t, "NOWHERE", failures[0].Server)
	assert.Equal(t, "IRIS", failures[1].Server)

	ok := report.Successes(domain.StageFetch)
	require.Len(t, ok, 1)
	assert.Equal(t, 1, ok[0].Count)
	assert.Equal(t, []string{"BL.AQDB..BHZ.SAC"}, listDir(t, h.layout.ProcDir("E1")))
}

func TestFetcher_EmptyResultIsNotAnError(t *testing.T) {
	h := newHarness(t)
	report, err := h.pipeline(fakeConnector{"IRIS": {}}).Run(context.Background(), requestsFor(t, "IRIS"))
	require.NoError(t, err)
	assert.Empty(t, report.Failures(""))
	assert.Empty(t, listDir(t, h.root))
}

func TestProcessor_FailureDoesNotStopOtherTraces(t *testing.T) {
	h := newHarness(t)
	h.remover.failFor["AQDB"] = true
	conn := fakeConnector{
		"IRIS": {files: []staged{
			{event: "E1", id: aqdbBHZ, distDeg: 30},
			{event: "E1", id: samlBHZ, distDeg: 30},
			{event: "E2", id: aqdbBHZ, distDeg: 30},
			{event: "E2", id: ptgaBHZ, distDeg: 30},
		}},
	}

	report, err := h.pipeline(conn).Run(context.Background(), requestsFor(t, "IRIS"))
	require.NoError(t, err)

	assert.Equal(t, []string{"IU.SAML..BHZ.SAC"}, listDir(t, h.layout.ProcDir("E1")))
	assert.Equal(t, []string{"IU.PTGA.00.BHZ.SAC"}, listDir(t, h.layout.ProcDir("E2")))
	assert.Equal(t, 4, h.remover.calls)

	failures := report.Failures(domain.StageProcess)
	require.Len(t, failures, 2)
	for _, f := range failures {
		assert.Equal(t, "AQDB", f.Trace.Station)
		assert.Contains(t, f.Reason, "unstable")
	}
}

func TestProcessor_MissingResponseIsReported(t *testing.T) {
	h := newHarness(t)
	h.metadata.failFor["AQDB"] = true
	conn := fakeConnector{"IRIS": {files: []staged{
		{event: "E1", id: aqdbBHZ, distDeg: 30},
		{event: "E1", id: samlBHZ, distDeg: 30},
	}}}

	report, err := h.pipeline(conn).Run(context.Background(), requestsFor(t, "IRIS"))
	require.NoError(t, err)

	assert.Equal(t, []string{"IU.SAML..BHZ.SAC"}, listDir(t, h.layout.ProcDir("E1")))
	require.Len(t, report.Failures(domain.StageProcess), 1)
	assert.Equal(t, 1, h.remover.calls, "remover is not called without a response file")
}

func TestProcessor_CreatesProcDirForEmptyEvent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.layout.EnsureEventDirectory("E9"))

	p := pipeline.NewProcessor(pipeline.Deps{
		Codec:       seismo.Toolkit{},
		Remover:     h.remover,
		Conditioner: seismo.Toolkit{},
		Notifier:    h.notifier,
	}, pipeline.Config{Layout: h.layout, PreFilter: domain.DefaultPreFilter()}, domain.NewReport(), testLogger(), h.metrics)

	require.NoError(t, p.Run(context.Background(), []string{"E9"}))
	assert.DirExists(t, h.layout.ProcDir("E9"))
	require.Len(t, h.notifier.summaries, 1)
	assert.Zero(t, h.notifier.summaries[0].Raw)
}

func TestPipeline_NotifiesProcessedEvents(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC))
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })

	h := newHarness(t)
	conn := fakeConnector{"IRIS": {files: []staged{
		{event: "E1", id: aqdbBHZ, distDeg: 30},
		{event: "E1", id: samlBHZ, distDeg: 30},
	}}}

	_, err := h.pipeline(conn).Run(context.Background(), requestsFor(t, "IRIS"))
	require.NoError(t, err)

	want := []domain.EventSummary{{
		EventID:     "E1",
		Dir:         h.layout.EventDir("E1"),
		Raw:         2,
		Responses:   2,
		Processed:   2,
		ProcessedAt: fake.Now(),
	}}
	if diff := cmp.Diff(want, h.notifier.summaries); diff != "" {
		t.Errorf("summaries mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 1.0, testutil.ToFloat64(h.metrics.EventsNotified), 0)
}

// --- run control ---

func TestPipeline_CancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := h.pipeline(fakeConnector{"IRIS": {files: []staged{{event: "E1", id: aqdbBHZ, distDeg: 30}}}})
	_, err := p.Run(ctx, requestsFor(t, "IRIS"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, listDir(t, h.layout.StagingDir("IRIS")))
}

func TestPipeline_Readiness(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(fakeConnector{})
	require.Error(t, p.CheckReadiness(context.Background()))

	_, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 0.0, testutil.ToFloat64(h.metrics.PipelineRunning), 0)
}
