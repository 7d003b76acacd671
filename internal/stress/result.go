package stress

import (
	"time"

	phttp "github.com/wesleyorama2/pipestress/internal/http"
	"github.com/wesleyorama2/pipestress/internal/metrics"
	"github.com/wesleyorama2/pipestress/internal/script"
	"github.com/wesleyorama2/pipestress/internal/validate"
)

// RuleTransport is the rule reported in a FirstFailure caused by a transport
// error rather than a validation failure.
const RuleTransport = "transport"

// RunResult is the outcome of one run of a scenario on one worker.
type RunResult struct {
	Scenario  string   `json:"scenario"`
	Worker    int      `json:"worker"`
	Iteration int      `json:"iteration"`
	State     RunState `json:"state"`

	// Failures lists every validation failure of the run
	Failures []*validate.Failure `json:"-"`

	// Err is the transport error or cancellation that aborted the run
	Err error `json:"-"`

	Requests  int           `json:"requests"`
	Responses int           `json:"responses"`
	ConnIDs   []uint64      `json:"connIds"`
	Duration  time.Duration `json:"duration"`
}

func newRunResult(scenario string, worker, iteration int) *RunResult {
	return &RunResult{
		Scenario:  scenario,
		Worker:    worker,
		Iteration: iteration,
		State:     StatePending,
	}
}

// transition moves the run to a new state, refusing moves out of a terminal
// state or backwards.
func (r *RunResult) transition(to RunState) error {
	if !canTransition(r.State, to) {
		return &InvalidTransitionError{From: r.State, To: to}
	}
	r.State = to
	return nil
}

// FirstFailure is the first failure observed in a scenario, with the request
// and response that exhibited it. Request and Record are nil when a
// transport error struck before any response arrived.
type FirstFailure struct {
	Worker    int                   `json:"worker"`
	Iteration int                   `json:"iteration"`
	Rule      string                `json:"rule"`
	Reason    string                `json:"reason"`
	Request   *script.RequestSpec   `json:"request,omitempty"`
	Record    *phttp.ResponseRecord `json:"record,omitempty"`
	At        time.Time             `json:"at"`
}

// Counts summarizes the runs of a scenario.
type Counts struct {
	Runs    int `json:"runs"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Aborted int `json:"aborted"`

	// Skipped counts runs never started because FailFast stopped the scenario
	Skipped int `json:"skipped,omitempty"`

	Requests  int `json:"requests"`
	Responses int `json:"responses"`
	Failures  int `json:"failures"`
}

// ScenarioResult aggregates every run of one scenario.
type ScenarioResult struct {
	Name         string            `json:"name"`
	State        RunState          `json:"state"`
	FirstFailure *FirstFailure     `json:"firstFailure,omitempty"`
	Runs         []*RunResult      `json:"runs"`
	Counts       Counts            `json:"counts"`
	Metrics      *metrics.Snapshot `json:"metrics"`
	Duration     time.Duration     `json:"duration"`
}

// Passed reports whether every run of the scenario passed.
func (r *ScenarioResult) Passed() bool {
	return r.State == StatePassed
}

// aggregate derives the scenario state and counts from its runs: ABORTED if
// any run aborted, else FAILED if any failed, else PASSED.
func (r *ScenarioResult) aggregate() {
	c := Counts{Skipped: r.Counts.Skipped}
	for _, run := range r.Runs {
		c.Runs++
		c.Requests += run.Requests
		c.Responses += run.Responses
		c.Failures += len(run.Failures)
		switch run.State {
		case StatePassed:
			c.Passed++
		case StateFailed:
			c.Failed++
		case StateAborted:
			c.Aborted++
		}
	}
	r.Counts = c

	switch {
	case c.Aborted > 0:
		r.State = StateAborted
	case c.Failed > 0 || c.Runs == 0:
		r.State = StateFailed
	default:
		r.State = StatePassed
	}
}
