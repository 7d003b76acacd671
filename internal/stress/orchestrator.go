// Package stress runs traffic scripts repeatedly and concurrently against a
// target and aggregates pass/fail per scenario.
package stress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	phttp "github.com/wesleyorama2/pipestress/internal/http"
	"github.com/wesleyorama2/pipestress/internal/metrics"
	"github.com/wesleyorama2/pipestress/internal/pipeline"
	"github.com/wesleyorama2/pipestress/internal/rate"
	"github.com/wesleyorama2/pipestress/internal/script"
	"github.com/wesleyorama2/pipestress/internal/validate"
)

// Resolver looks up traffic scripts by scenario name.
type Resolver interface {
	Resolve(name string) (*script.TrafficScript, error)
}

// Runner materializes scripts and drives them over the wire.
type Runner interface {
	Prepare(s *script.TrafficScript) (*pipeline.Plan, error)
	RunPlan(ctx context.Context, plan *pipeline.Plan, ep pipeline.Endpoint) ([]*phttp.ResponseRecord, error)
}

// Checker validates the responses of one request group.
type Checker interface {
	ValidateGroup(group script.RequestGroup, gi int, records []*phttp.ResponseRecord) []validate.Outcome
}

// Options tunes how scenarios are scheduled.
type Options struct {
	// FailFast stops starting new runs of a scenario after its first failure
	FailFast bool

	// Rate limits run starts per second across all workers (0 = unlimited)
	Rate float64

	// Sequential runs scenarios one after another instead of in parallel
	Sequential bool
}

// Orchestrator runs scenarios against one endpoint.
//
// Example usage:
//
//	driver := pipeline.NewDriver(builder, pipeline.DefaultConfig())
//	o := stress.New(script.Default(), driver, validate.New(builder.Sizes()), ep)
//	results, err := o.Execute(ctx, []string{"head_get"}, 8, 50)
type Orchestrator struct {
	resolver Resolver
	runner   Runner
	checker  Checker
	endpoint pipeline.Endpoint
	options  Options
	logger   *zap.Logger
}

// Option is a function that configures an Orchestrator
type Option func(*Orchestrator)

// WithOptions sets the scheduling options
func WithOptions(options Options) Option {
	return func(o *Orchestrator) {
		o.options = options
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an orchestrator.
func New(resolver Resolver, runner Runner, checker Checker, endpoint pipeline.Endpoint, options ...Option) *Orchestrator {
	o := &Orchestrator{
		resolver: resolver,
		runner:   runner,
		checker:  checker,
		endpoint: endpoint,
		logger:   zap.NewNop(),
	}
	for _, option := range options {
		option(o)
	}
	return o
}

// scenario is the shared, read-only state of one scenario during Execute,
// plus the first-failure slot guarded by mu.
type scenario struct {
	name    string
	plan    *pipeline.Plan
	metrics *metrics.Engine
	stopped atomic.Bool

	mu    sync.Mutex
	first *FirstFailure
}

// Execute runs each named scenario iterations times on each of concurrency
// workers and returns one result per scenario.
//
// Every name is resolved and every request built before any traffic is sent;
// an unknown name or malformed request fails the whole call. When ctx is
// cancelled, open connections are closed, unfinished runs are marked ABORTED
// and the results are returned together with ctx.Err().
func (o *Orchestrator) Execute(ctx context.Context, names []string, concurrency, iterations int) (map[string]*ScenarioResult, error) {
	if concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1, got %d", concurrency)
	}
	if iterations < 1 {
		return nil, fmt.Errorf("iterations must be at least 1, got %d", iterations)
	}
	if len(names) == 0 {
		return nil, errors.New("no scenarios to run")
	}

	scenarios := make([]*scenario, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		s, err := o.resolver.Resolve(name)
		if err != nil {
			return nil, err
		}
		plan, err := o.runner.Prepare(s)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, &scenario{name: name, plan: plan, metrics: metrics.NewEngine()})
	}

	var limiter rate.Limiter = rate.Unlimited{}
	if o.options.Rate > 0 {
		limiter = rate.NewLeakyBucket(o.options.Rate)
	}

	results := make(map[string]*ScenarioResult, len(scenarios))
	var resultsMu sync.Mutex
	store := func(r *ScenarioResult) {
		resultsMu.Lock()
		results[r.Name] = r
		resultsMu.Unlock()
	}

	if o.options.Sequential {
		for _, sc := range scenarios {
			store(o.runScenario(ctx, sc, concurrency, iterations, limiter))
		}
	} else {
		var g errgroup.Group
		for _, sc := range scenarios {
			g.Go(func() error {
				store(o.runScenario(ctx, sc, concurrency, iterations, limiter))
				return nil
			})
		}
		g.Wait()
	}

	return results, ctx.Err()
}

func (o *Orchestrator) runScenario(ctx context.Context, sc *scenario, concurrency, iterations int, limiter rate.Limiter) *ScenarioResult {
	log := o.logger.With(zap.String("scenario", sc.name))
	log.Info("scenario started",
		zap.Int("concurrency", concurrency),
		zap.Int("iterations", iterations),
		zap.String("target", o.endpoint.String()),
	)
	start := time.Now()

	perWorker := make([][]*RunResult, concurrency)
	skipped := make([]int, concurrency)

	var g errgroup.Group
	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			runs := make([]*RunResult, 0, iterations)
			for it := 0; it < iterations; it++ {
				if sc.stopped.Load() {
					skipped[w] = iterations - it
					break
				}

				run := newRunResult(sc.name, w, it)
				runs = append(runs, run)

				if err := limiter.Wait(ctx); err != nil {
					o.abort(log, sc, run, err)
					continue
				}
				o.runOnce(ctx, log, sc, run)
			}
			perWorker[w] = runs
			return nil
		})
	}
	g.Wait()

	result := &ScenarioResult{Name: sc.name}
	for w := range perWorker {
		result.Runs = append(result.Runs, perWorker[w]...)
		result.Counts.Skipped += skipped[w]
	}
	result.aggregate()
	result.FirstFailure = sc.first
	result.Metrics = sc.metrics.Snapshot()
	result.Duration = time.Since(start)

	log.Info("scenario finished",
		zap.Stringer("state", result.State),
		zap.Int("passed", result.Counts.Passed),
		zap.Int("failed", result.Counts.Failed),
		zap.Int("aborted", result.Counts.Aborted),
		zap.Duration("duration", result.Duration),
	)
	return result
}

// runOnce drives one run and validates every group that came back.
func (o *Orchestrator) runOnce(ctx context.Context, log *zap.Logger, sc *scenario, run *RunResult) {
	o.setState(log, run, StateRunning)

	s := sc.plan.Script
	run.Requests = s.RequestCount()

	start := time.Now()
	records, err := o.runner.RunPlan(ctx, sc.plan, o.endpoint)
	run.Duration = time.Since(start)
	run.Responses = len(records)
	run.ConnIDs = connIDs(records)

	byGroup := make([][]*phttp.ResponseRecord, len(s.Groups))
	for _, rec := range records {
		if rec.Group >= 0 && rec.Group < len(byGroup) {
			byGroup[rec.Group] = append(byGroup[rec.Group], rec)
		}
	}

	for gi, group := range s.Groups {
		recs := byGroup[gi]
		if err != nil && len(recs) < len(group.Requests) {
			// The transport failed inside this group; only what arrived can
			// be judged.
			if len(recs) == 0 {
				continue
			}
			group = script.RequestGroup{Requests: group.Requests[:len(recs)]}
		}

		outcomes := o.checker.ValidateGroup(group, gi, recs)
		for i, out := range outcomes {
			if i < len(recs) {
				rec := recs[i]
				sc.metrics.RecordResponse(rec.Latency, group.Requests[i].DisplayName(), out.Passed, int64(len(rec.Body)))
			}
			run.Failures = append(run.Failures, out.Failures...)
		}
	}
	sc.metrics.RecordRun(int64(sc.plan.Bytes()), len(run.ConnIDs))

	switch {
	case err != nil:
		o.abort(log, sc, run, err)
	case len(run.Failures) > 0:
		o.setState(log, run, StateFailed)
		f := run.Failures[0]
		sc.recordFirst(&FirstFailure{
			Worker:    run.Worker,
			Iteration: run.Iteration,
			Rule:      f.Rule,
			Reason:    f.Reason,
			Request:   &f.Request,
			Record:    f.Record,
			At:        time.Now(),
		})
		if o.options.FailFast {
			sc.stopped.Store(true)
		}
		log.Warn("run failed",
			zap.Int("worker", run.Worker),
			zap.Int("iteration", run.Iteration),
			zap.Int("failures", len(run.Failures)),
			zap.String("first", f.Error()),
		)
	default:
		o.setState(log, run, StatePassed)
	}
}

// abort marks a run ABORTED because of err.
func (o *Orchestrator) abort(log *zap.Logger, sc *scenario, run *RunResult, err error) {
	run.Err = err
	o.setState(log, run, StateAborted)

	first := &FirstFailure{
		Worker:    run.Worker,
		Iteration: run.Iteration,
		Rule:      RuleTransport,
		Reason:    err.Error(),
		At:        time.Now(),
	}
	var te *pipeline.TransportError
	if errors.As(err, &te) && te.Group >= 0 && te.Group < len(sc.plan.Script.Groups) {
		reqs := sc.plan.Script.Groups[te.Group].Requests
		if te.Request >= 0 && te.Request < len(reqs) {
			spec := reqs[te.Request]
			first.Request = &spec
		}
	}
	sc.recordFirst(first)
	if o.options.FailFast {
		sc.stopped.Store(true)
	}

	fields := []zap.Field{
		zap.Int("worker", run.Worker),
		zap.Int("iteration", run.Iteration),
		zap.Error(err),
	}
	if isCancellation(err) {
		log.Debug("run cancelled", fields...)
		return
	}
	log.Error("run aborted", fields...)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (o *Orchestrator) setState(log *zap.Logger, run *RunResult, to RunState) {
	from := run.State
	if err := run.transition(to); err != nil {
		log.Error("run state", zap.Error(err))
		return
	}
	log.Debug("run state",
		zap.Int("worker", run.Worker),
		zap.Int("iteration", run.Iteration),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}

func (sc *scenario) recordFirst(f *FirstFailure) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.first == nil {
		sc.first = f
	}
}

// connIDs lists the distinct connections records arrived on, in order.
func connIDs(records []*phttp.ResponseRecord) []uint64 {
	var ids []uint64
	for _, rec := range records {
		if len(ids) == 0 || ids[len(ids)-1] != rec.ConnID {
			ids = append(ids, rec.ConnID)
		}
	}
	return ids
}
