package output

import (
	"encoding/json"
	"io"
	"os"

	"github.com/wesleyorama2/pipestress/internal/metrics"
	"github.com/wesleyorama2/pipestress/internal/stress"
	"github.com/wesleyorama2/pipestress/internal/validate"
)

// JSONReporter writes a machine-readable report.
type JSONReporter struct {
	w           io.Writer
	includeRuns bool
}

// NewJSONReporter creates a JSON reporter. With includeRuns every run is
// listed; otherwise only runs that did not pass.
func NewJSONReporter(w io.Writer, includeRuns bool) *JSONReporter {
	if w == nil {
		w = os.Stdout
	}
	return &JSONReporter{w: w, includeRuns: includeRuns}
}

// Report is the JSON document written by JSONReporter.
type Report struct {
	Target    string           `json:"target"`
	Passed    bool             `json:"passed"`
	Scenarios []ScenarioReport `json:"scenarios"`
}

// ScenarioReport is one scenario in a Report.
type ScenarioReport struct {
	Name         string            `json:"name"`
	State        string            `json:"state"`
	Counts       stress.Counts     `json:"counts"`
	FirstFailure *FailureReport    `json:"firstFailure,omitempty"`
	Metrics      *metrics.Snapshot `json:"metrics,omitempty"`
	DurationMs   int64             `json:"durationMs"`
	Runs         []RunReport       `json:"runs,omitempty"`
}

// RunReport is one run in a ScenarioReport.
type RunReport struct {
	Worker     int             `json:"worker"`
	Iteration  int             `json:"iteration"`
	State      string          `json:"state"`
	Error      string          `json:"error,omitempty"`
	Failures   []FailureReport `json:"failures,omitempty"`
	Requests   int             `json:"requests"`
	Responses  int             `json:"responses"`
	ConnIDs    []uint64        `json:"connIds,omitempty"`
	DurationMs int64           `json:"durationMs"`
}

// FailureReport describes a failed expectation or a transport error.
type FailureReport struct {
	Rule      string `json:"rule"`
	Reason    string `json:"reason"`
	Request   string `json:"request,omitempty"`
	Worker    *int   `json:"worker,omitempty"`
	Iteration *int   `json:"iteration,omitempty"`
	Status    int    `json:"status,omitempty"`
	ConnID    uint64 `json:"connId,omitempty"`
	Group     *int   `json:"group,omitempty"`
	Seq       *int   `json:"seq,omitempty"`
}

// Build converts results into a Report, scenarios in name order.
func (j *JSONReporter) Build(target string, results map[string]*stress.ScenarioResult) *Report {
	report := &Report{Target: target, Passed: len(results) > 0, Scenarios: []ScenarioReport{}}
	for _, name := range sortedNames(results) {
		r := results[name]
		if !r.Passed() {
			report.Passed = false
		}

		sr := ScenarioReport{
			Name:       r.Name,
			State:      r.State.String(),
			Counts:     r.Counts,
			Metrics:    r.Metrics,
			DurationMs: r.Duration.Milliseconds(),
		}
		if f := r.FirstFailure; f != nil {
			fr := FailureReport{Rule: f.Rule, Reason: f.Reason, Worker: intPtr(f.Worker), Iteration: intPtr(f.Iteration)}
			if f.Request != nil {
				fr.Request = f.Request.DisplayName()
			}
			if rec := f.Record; rec != nil {
				fr.Status = rec.StatusCode
				fr.ConnID = rec.ConnID
				fr.Group = intPtr(rec.Group)
				fr.Seq = intPtr(rec.Seq)
			}
			sr.FirstFailure = &fr
		}

		for _, run := range r.Runs {
			if !j.includeRuns && run.State == stress.StatePassed {
				continue
			}
			rr := RunReport{
				Worker:     run.Worker,
				Iteration:  run.Iteration,
				State:      run.State.String(),
				Requests:   run.Requests,
				Responses:  run.Responses,
				ConnIDs:    run.ConnIDs,
				DurationMs: run.Duration.Milliseconds(),
			}
			if run.Err != nil {
				rr.Error = run.Err.Error()
			}
			for _, f := range run.Failures {
				rr.Failures = append(rr.Failures, failureReport(f))
			}
			sr.Runs = append(sr.Runs, rr)
		}
		report.Scenarios = append(report.Scenarios, sr)
	}
	return report
}

// Report writes the report as indented JSON.
func (j *JSONReporter) Report(target string, results map[string]*stress.ScenarioResult) error {
	enc := json.NewEncoder(j.w)
	enc.SetIndent("", "  ")
	return enc.Encode(j.Build(target, results))
}

func failureReport(f *validate.Failure) FailureReport {
	fr := FailureReport{Rule: f.Rule, Reason: f.Reason, Request: f.Request.DisplayName()}
	if rec := f.Record; rec != nil {
		fr.Status = rec.StatusCode
		fr.ConnID = rec.ConnID
		fr.Group = intPtr(rec.Group)
		fr.Seq = intPtr(rec.Seq)
	}
	return fr
}

func intPtr(v int) *int { return &v }
