// Command validate checks a download folder for the invariants a completed
// run leaves behind: staging trees removed, selection rules honoured, every
// raw trace backed by a response file or a reported metadata failure, and
// processed traces that correspond to raw ones.
//
// Usage:
//
//	go run ./cmd/validate -folder /data/run1 [-report /data/run1/report.json] [-min-epi 15]
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
	"github.com/nascimentoandre/download-surftomo-data/internal/pipeline"
	"github.com/nascimentoandre/download-surftomo-data/internal/seismo"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// folder is the loaded state of a download folder.
type folder struct {
	layout domain.Layout
	events []string
	stray  []string // top-level directories that are not event directories
	report *domain.Report
}

func main() {
	dir := flag.String("folder", "", "download folder to validate")
	reportPath := flag.String("report", "", "run report (default: <folder>/report.json)")
	minEpi := flag.Float64("min-epi", domain.DefaultMinDistance, "minimum epicentral distance used for the run, in degrees")
	flag.Parse()

	if *dir == "" {
		flag.Usage()
		os.Exit(1)
	}
	if *reportPath == "" {
		*reportPath = filepath.Join(*dir, "report.json")
	}

	if code := run(os.Stdout, *dir, *reportPath, *minEpi); code != 0 {
		os.Exit(code)
	}
}

func run(out io.Writer, dir, reportPath string, minEpi float64) int {
	fmt.Fprintln(out, "=== Download Folder Validation ===")
	fmt.Fprintln(out)

	f, err := loadFolder(dir, reportPath)
	if err != nil {
		fmt.Fprintf(out, "FATAL: %v\n", err)
		return 1
	}
	if f.report == nil {
		fmt.Fprintf(out, "warning: no run report at %s; reported failures cannot be matched\n\n", reportPath)
	}

	phases := []*phase{
		validateStagingRemoved(f),
		validateSelection(f, minEpi),
		validateResponses(f),
		validateProcessed(f),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Events: %d\n", len(f.events))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

func loadFolder(dir, reportPath string) (*folder, error) {
	f := &folder{layout: domain.NewLayout(dir)}

	events, err := f.layout.EventIDs()
	if err != nil {
		return nil, err
	}
	f.events = events

	entries, err := os.ReadDir(f.layout.Root)
	if err != nil {
		return nil, fmt.Errorf("list folder: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && !slices.Contains(events, e.Name()) {
			f.stray = append(f.stray, e.Name())
		}
	}

	report, err := domain.ReadReport(reportPath)
	switch {
	case err == nil:
		f.report = report
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, err
	}
	return f, nil
}

// reported reports whether the run recorded a failure for a trace of an event
// at the given stage.
func (f *folder) reported(stage domain.Stage, ev string, id domain.TraceID) bool {
	if f.report == nil {
		return false
	}
	return slices.ContainsFunc(f.report.Failures(stage), func(r domain.ItemResult) bool {
		return r.EventID == ev && r.Trace == id
	})
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func validateStagingRemoved(f *folder) *phase {
	p := &phase{name: "Staging trees removed"}
	for _, name := range f.stray {
		p.errorf("%s: directory without raw/, likely a leftover staging tree", name)
	}
	return p
}

func validateSelection(f *folder, minEpi float64) *phase {
	p := &phase{name: "Raw traces honour selection rules"}
	for _, ev := range f.events {
		names, err := listFiles(f.layout.RawDir(ev))
		if err != nil {
			p.errorf("%s: %v", ev, err)
			continue
		}
		for _, name := range names {
			id, err := domain.ParseTraceFileName(name)
			if err != nil {
				p.errorf("%s/raw/%s: %v", ev, name, err)
				continue
			}
			if !domain.IsAllowedChannel(id.Channel) {
				p.errorf("%s/raw/%s: channel %s is not allowed", ev, name, id.Channel)
			}
			tr, err := seismo.ReadSAC(filepath.Join(f.layout.RawDir(ev), name))
			if err != nil {
				p.errorf("%s/raw/%s: %v", ev, name, err)
				continue
			}
			if deg, ok := tr.DistanceDegrees(); !ok {
				p.errorf("%s/raw/%s: no distance information", ev, name)
			} else if deg < minEpi {
				p.errorf("%s/raw/%s: distance %.2f° below %.2f°", ev, name, deg, minEpi)
			}
		}
	}
	return p
}

func validateResponses(f *folder) *phase {
	p := &phase{name: "Raw traces have responses or failures"}
	for _, ev := range f.events {
		names, err := listFiles(f.layout.RawDir(ev))
		if err != nil {
			p.errorf("%s: %v", ev, err)
			continue
		}
		for _, name := range names {
			id, err := domain.ParseTraceFileName(name)
			if err != nil {
				continue
			}
			if _, err := os.Stat(filepath.Join(f.layout.RespDir(ev), id.ResponseFileName())); err == nil {
				continue
			}
			if !f.reported(domain.StageMetadata, ev, id) {
				p.errorf("%s/raw/%s: no %s and no reported metadata failure", ev, name, id.ResponseFileName())
			}
		}
	}
	return p
}

func validateProcessed(f *folder) *phase {
	p := &phase{name: "Processed traces match raw traces"}
	for _, ev := range f.events {
		raw, err := listFiles(f.layout.RawDir(ev))
		if err != nil {
			p.errorf("%s: %v", ev, err)
			continue
		}
		if _, err := os.Stat(f.layout.ProcDir(ev)); err != nil {
			p.errorf("%s: proc/ missing", ev)
			continue
		}
		proc, err := listFiles(f.layout.ProcDir(ev))
		if err != nil {
			p.errorf("%s: %v", ev, err)
			continue
		}

		for _, name := range proc {
			if !slices.Contains(raw, name) {
				p.errorf("%s/proc/%s: no matching raw trace", ev, name)
				continue
			}
			tr, err := seismo.ReadSAC(filepath.Join(f.layout.ProcDir(ev), name))
			if err != nil {
				p.errorf("%s/proc/%s: %v", ev, name, err)
				continue
			}
			if tr.Unit != seismo.UnitDisplacement {
				p.errorf("%s/proc/%s: unit %s, want %s", ev, name, tr.Unit, seismo.UnitDisplacement)
			}
			if rate := tr.SampleRate(); rate < pipeline.DefaultOutputRate*0.999 || rate > pipeline.DefaultOutputRate*1.001 {
				p.errorf("%s/proc/%s: sample rate %g Hz, want %g Hz", ev, name, rate, pipeline.DefaultOutputRate)
			}
		}

		for _, name := range raw {
			if slices.Contains(proc, name) {
				continue
			}
			id, err := domain.ParseTraceFileName(name)
			if err != nil || !f.reported(domain.StageProcess, ev, id) {
				p.errorf("%s/raw/%s: not processed and no reported processing failure", ev, name)
			}
		}
	}
	return p
}
