package domain

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Stage names the pipeline stage an item result belongs to.
type Stage string

const (
	StageFetch       Stage = "fetch"
	StageConsolidate Stage = "consolidate"
	StageMetadata    Stage = "metadata"
	StageProcess     Stage = "process"
)

// ItemResult is the outcome of one unit of work: a server fetch, a metadata
// download or a trace processing step. Failures carry a reason instead of
// being swallowed.
type ItemResult struct {
	Stage   Stage     `json:"stage"`
	Server  string    `json:"server,omitempty"`
	EventID string    `json:"event_id,omitempty"`
	Trace   TraceID   `json:"trace,omitzero"`
	OK      bool      `json:"ok"`
	Reason  string    `json:"reason,omitempty"`
	Count   int       `json:"count,omitempty"`
	At      time.Time `json:"at"`
}

// Report collects the item results of one run.
type Report struct {
	mu       sync.Mutex
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Results  []ItemResult `json:"results"`
}

// NewReport starts a report at the current clock time.
func NewReport() *Report {
	return &Report{Started: clock.Now()}
}

// Succeed records a successful item.
func (r *Report) Succeed(res ItemResult) {
	res.OK = true
	res.Reason = ""
	r.add(res)
}

// Fail records a failed item with the error as reason.
func (r *Report) Fail(res ItemResult, err error) {
	res.OK = false
	if err != nil {
		res.Reason = err.Error()
	}
	r.add(res)
}

func (r *Report) add(res ItemResult) {
	res.At = clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Results = append(r.Results, res)
}

// Finish stamps the end of the run.
func (r *Report) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Finished = clock.Now()
}

// Failures returns the failed results of a stage, or of every stage when
// stage is empty.
func (r *Report) Failures(stage Stage) []ItemResult {
	return r.filter(stage, false)
}

// Successes returns the successful results of a stage, or of every stage when
// stage is empty.
func (r *Report) Successes(stage Stage) []ItemResult {
	return r.filter(stage, true)
}

func (r *Report) filter(stage Stage, ok bool) []ItemResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ItemResult
	for _, res := range r.Results {
		if res.OK == ok && (stage == "" || res.Stage == stage) {
			out = append(out, res)
		}
	}
	return out
}

// StageCounts tallies the item results of one stage.
type StageCounts struct {
	OK     int `json:"ok"`
	Failed int `json:"failed"`
}

// ReportSummary is a point-in-time view of a report without the item list.
type ReportSummary struct {
	Started  time.Time             `json:"started"`
	Finished time.Time             `json:"finished,omitzero"`
	Stages   map[Stage]StageCounts `json:"stages"`
}

// Summary counts the results recorded so far, per stage.
func (r *Report) Summary() ReportSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := ReportSummary{Started: r.Started, Finished: r.Finished, Stages: make(map[Stage]StageCounts)}
	for _, res := range r.Results {
		c := sum.Stages[res.Stage]
		if res.OK {
			c.OK++
		} else {
			c.Failed++
		}
		sum.Stages[res.Stage] = c
	}
	return sum
}

// Elapsed is the wall-clock duration of the run.
func (r *Report) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	end := r.Finished
	if end.IsZero() {
		end = clock.Now()
	}
	return end.Sub(r.Started)
}

// WriteFile stores the report as indented JSON.
func (r *Report) WriteFile(path string) error {
	r.mu.Lock()
	data, err := json.MarshalIndent(r, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// ReadReport loads a report written by WriteFile.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

// FormatElapsed renders a duration as "H hours, M minutes and S seconds".
func FormatElapsed(d time.Duration) string {
	total := d.Seconds()
	hours := int(total) / 3600
	minutes := (int(total) % 3600) / 60
	seconds := total - float64(hours*3600) - float64(minutes*60)
	return fmt.Sprintf("%d hours, %d minutes and %.f seconds", hours, minutes, seconds)
}
