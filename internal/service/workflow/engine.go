// Package workflow executes node graphs. The Runner schedules nodes in waves:
// every node whose dependencies succeeded runs concurrently with its wave
// siblings, and the next wave starts only once the current one settled.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/events"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/logging"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/service"
)

// DefaultOwner is recorded on runs submitted without an owner.
const DefaultOwner = "local"

// Config holds configuration for the runner.
type Config struct {
	// RunTimeout bounds a whole run. Zero disables the bound.
	RunTimeout time.Duration
	// NodeTimeout bounds a single node execution, retries included.
	NodeTimeout time.Duration
	// MaxConcurrency caps the nodes running at once within a wave.
	// Zero means unbounded.
	MaxConcurrency int
	// StrictScalarHandles fails nodes with several edges into one scalar
	// handle instead of keeping the first.
	StrictScalarHandles bool
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		RunTimeout:  5 * time.Minute,
		NodeTimeout: 2 * time.Minute,
	}
}

// Runner orchestrates workflow runs.
type Runner struct {
	registry *Registry
	ledger   core.Ledger
	bus      *events.EventBus
	logger   *logging.Logger
	config   Config
	resolver Resolver

	wg sync.WaitGroup
}

// NewRunner creates a new runner. bus may be nil.
func NewRunner(registry *Registry, ledger core.Ledger, bus *events.EventBus, logger *logging.Logger, cfg Config) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		registry: registry,
		ledger:   ledger,
		bus:      bus,
		logger:   logger,
		config:   cfg,
		resolver: Resolver{Strict: cfg.StrictScalarHandles},
	}
}

// Execute runs req to completion and returns its report. The returned error
// is non-nil when the run could not start, or when it was aborted for a
// structural reason; in the latter case the report is returned as well.
func (r *Runner) Execute(ctx context.Context, req core.RunRequest) (*core.RunReport, error) {
	state, err := r.start(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.run(ctx, state)
}

// Submit starts req in the background and returns its run ID once the run
// record exists. Progress is observable through the ledger and the event bus.
func (r *Runner) Submit(ctx context.Context, req core.RunRequest) (core.RunID, error) {
	state, err := r.start(ctx, req)
	if err != nil {
		return "", err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// The run outlives the request that submitted it.
		_, _ = r.run(context.WithoutCancel(ctx), state)
	}()
	return state.run.ID, nil
}

// Wait blocks until every submitted run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// runState is the mutable bookkeeping of one run. It is only touched by the
// goroutine driving the run; node goroutines report through wave results.
type runState struct {
	plan    *Plan
	run     *core.WorkflowRun
	logger  *logging.Logger
	deps    map[core.NodeID][]core.NodeID
	status  map[core.NodeID]core.NodeStatus
	results map[core.NodeID]core.NodeResult
	outputs map[core.NodeID]string
}

func newRunState(plan *Plan, run *core.WorkflowRun, logger *logging.Logger) *runState {
	scope := make([]core.Node, 0, len(plan.Execute))
	for _, id := range plan.Execute {
		scope = append(scope, plan.Nodes[id])
	}

	s := &runState{
		plan:    plan,
		run:     run,
		logger:  logger,
		deps:    service.BuildDependencies(scope, plan.Edges).Deps,
		status:  make(map[core.NodeID]core.NodeStatus, len(plan.Execute)),
		results: make(map[core.NodeID]core.NodeResult, len(plan.Execute)),
		outputs: make(map[core.NodeID]string, len(plan.Preloaded)),
	}
	for id, out := range plan.Preloaded {
		s.outputs[id] = out
	}
	for _, id := range plan.Execute {
		s.status[id] = core.NodeStatusPending
	}
	return s
}

func (r *Runner) start(ctx context.Context, req core.RunRequest) (*runState, error) {
	plan, err := NewPlan(req)
	if err != nil {
		return nil, err
	}

	owner := req.Owner
	if owner == "" {
		owner = DefaultOwner
	}
	run := &core.WorkflowRun{
		ID:         core.RunID(uuid.NewString()),
		Owner:      owner,
		WorkflowID: req.WorkflowID,
		Status:     core.RunStatusRunning,
		RunType:    plan.RunType,
		NodeCount:  len(plan.Execute),
		StartedAt:  time.Now(),
	}
	if err := r.ledger.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run record: %w", err)
	}

	logger := r.logger.WithRun(string(run.ID), string(plan.RunType))
	for _, e := range plan.Dropped {
		logger.Warn("ignoring edge to unknown node", "edge_id", e.ID, "source", e.Source, "target", e.Target)
	}
	logger.Info("run started", "nodes", len(plan.Execute), "cached", len(plan.Cached))
	r.bus.Publish(events.NewRunStartedEvent(string(run.ID), string(plan.RunType), len(plan.Execute)))

	return newRunState(plan, run, logger), nil
}

// run drives the wave loop and finalizes the run.
func (r *Runner) run(ctx context.Context, s *runState) (*core.RunReport, error) {
	ledgerCtx := context.WithoutCancel(ctx)

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.config.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.config.RunTimeout)
	}
	defer cancel()

	for _, id := range s.plan.Cached {
		s.status[id] = core.NodeStatusSuccess
		s.results[id] = core.NodeResult{
			NodeID: id,
			Status: core.NodeStatusSuccess,
			Output: s.outputs[id],
			Cached: true,
		}
		s.logger.Info("using cached output", "node_id", id)
	}

	abortErr := r.drive(runCtx, ledgerCtx, s)

	if runCtx.Err() != nil && abortErr == nil {
		msg := "workflow run timed out"
		if ctx.Err() != nil {
			msg = "workflow run cancelled"
		}
		r.failRemaining(ledgerCtx, s, core.ErrTimeout(msg))
	}

	return r.finish(ledgerCtx, s, abortErr)
}

// drive executes waves until nothing is pending. It returns a structural
// error when the remaining nodes can never become ready.
func (r *Runner) drive(ctx, ledgerCtx context.Context, s *runState) error {
	for wave := 1; ; wave++ {
		r.propagateSkips(ledgerCtx, s)

		ready := s.ready()
		if len(ready) == 0 {
			remaining := s.pending()
			if len(remaining) == 0 {
				return nil
			}
			err := core.ErrStructural(core.CodeExecutionStuck,
				fmt.Sprintf("Workflow stuck: %d nodes cannot execute", len(remaining))).
				WithDetail("nodes", remaining)
			s.logger.Error("run aborted", "error", err)
			r.failRemaining(ledgerCtx, s, err)
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		s.logger.Info("executing wave", "wave", wave, "ready", len(ready), "completed", len(s.results))
		for id, res := range r.runWave(ctx, ledgerCtx, s, ready) {
			s.status[id] = res.Status
			s.results[id] = res
			if res.Status == core.NodeStatusSuccess {
				s.outputs[id] = res.Output
			}
		}
	}
}

// runWave executes ready concurrently and returns their results. The output
// cache is read-only while the wave runs; results are merged by the caller.
func (r *Runner) runWave(ctx, ledgerCtx context.Context, s *runState, ready []core.NodeID) map[core.NodeID]core.NodeResult {
	for _, id := range ready {
		s.status[id] = core.NodeStatusRunning
	}

	results := make([]core.NodeResult, len(ready))
	var g errgroup.Group
	if r.config.MaxConcurrency > 0 {
		g.SetLimit(r.config.MaxConcurrency)
	}
	for i, id := range ready {
		node := s.plan.Nodes[id]
		g.Go(func() error {
			// Node failures are recorded, never propagated: siblings keep running.
			results[i] = r.invoke(ctx, ledgerCtx, s, node)
			return nil
		})
	}
	_ = g.Wait()

	merged := make(map[core.NodeID]core.NodeResult, len(ready))
	for _, res := range results {
		merged[res.NodeID] = res
	}
	return merged
}

// invoke runs one node through resolution, execution and recording.
func (r *Runner) invoke(ctx, ledgerCtx context.Context, s *runState, node core.Node) core.NodeResult {
	logger := s.logger.WithNode(string(node.ID), string(node.Type))
	started := time.Now()

	exec := &core.NodeExecution{
		ID:         uuid.NewString(),
		RunID:      s.run.ID,
		NodeID:     node.ID,
		NodeType:   node.Type,
		Status:     core.NodeStatusRunning,
		ExecutedAt: started,
	}
	if err := r.ledger.StartNode(ledgerCtx, exec); err != nil {
		logger.Warn("failed to record node start", "error", err)
	}
	logger.Info("node running")
	r.bus.Publish(events.NewNodeStatusEvent(string(s.run.ID), string(node.ID), string(node.Type), string(core.NodeStatusRunning)))

	var (
		output  string
		retries int
	)
	in, err := r.resolver.Resolve(node, s.plan.Graph.Edges, s.plan.Nodes, s.outputs)
	if err == nil {
		if len(in.Ignored) > 0 {
			logger.Warn("ignoring extra edges into scalar handles", "edges", in.Ignored)
		}
		exec.Inputs = SummarizeInputs(in)
		output, retries, err = r.call(ctx, node, in, logger)
	}

	res := core.NodeResult{
		NodeID:   node.ID,
		Duration: time.Since(started).Milliseconds(),
		Retries:  retries,
	}
	if err != nil {
		res.Status = core.NodeStatusFailed
		res.Error = core.Message(err)
		logger.Error("node failed", "error", err, "retries", retries, "duration_ms", res.Duration)
	} else {
		res.Status = core.NodeStatusSuccess
		res.Output = output
		exec.Outputs = SummarizeOutput(output)
		logger.Info("node completed", "retries", retries, "duration_ms", res.Duration)
	}

	exec.Status = res.Status
	exec.Error = res.Error
	exec.Duration = res.Duration
	exec.Retries = res.Retries
	if err := r.ledger.FinishNode(ledgerCtx, exec); err != nil {
		logger.Warn("failed to record node result", "error", err)
	}
	r.publishNode(s, node, res)
	return res
}

// call runs the node's executor under its retry policy, racing it against
// the node timeout. Panics are recovered into execution errors.
func (r *Runner) call(ctx context.Context, node core.Node, in Inputs, logger *logging.Logger) (string, int, error) {
	entry, err := r.registry.Lookup(node.Type)
	if err != nil {
		return "", 0, err
	}
	policy := entry.Retry
	if policy == nil {
		policy = service.NoRetry()
	}

	nodeCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.config.NodeTimeout > 0 {
		nodeCtx, cancel = context.WithTimeout(ctx, r.config.NodeTimeout)
	}
	defer cancel()

	type outcome struct {
		output  string
		retries int
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		var o outcome
		defer func() {
			if p := recover(); p != nil {
				o = outcome{err: core.ErrExecution(core.CodeExecutorPanic, fmt.Sprintf("executor panicked: %v", p))}
			}
			done <- o
		}()
		o.retries, o.err = policy.Run(nodeCtx, func(ctx context.Context) error {
			out, err := entry.Execute(ctx, node, in)
			if err != nil {
				return err
			}
			o.output = out
			return nil
		}, func(attempt int, err error, delay time.Duration) {
			logger.Warn("retrying node", "attempt", attempt, "delay", delay, "error", err)
		})
	}()

	select {
	case o := <-done:
		return o.output, o.retries, r.timeoutError(ctx, o.err)
	case <-nodeCtx.Done():
		// A result that landed together with the deadline still counts.
		select {
		case o := <-done:
			return o.output, o.retries, r.timeoutError(ctx, o.err)
		default:
		}
		return "", 0, r.timeoutError(ctx, nodeCtx.Err())
	}
}

// timeoutError maps bare context errors onto timeout domain errors, naming
// whichever bound fired.
func (r *Runner) timeoutError(runCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var domErr *core.DomainError
	if errors.As(err, &domErr) {
		return err
	}
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	if runCtx.Err() != nil {
		return core.ErrTimeout("workflow run timed out").WithCause(err)
	}
	return core.ErrTimeout(fmt.Sprintf("node timed out after %s", r.config.NodeTimeout)).WithCause(err)
}

// propagateSkips marks every pending node with a failed or skipped
// dependency as skipped, until no more nodes change.
func (r *Runner) propagateSkips(ledgerCtx context.Context, s *runState) {
	for changed := true; changed; {
		changed = false
		for _, id := range s.plan.Execute {
			if s.status[id] != core.NodeStatusPending {
				continue
			}
			for _, dep := range s.deps[id] {
				if !s.status[dep].Blocks() {
					continue
				}
				res := core.NodeResult{
					NodeID: id,
					Status: core.NodeStatusSkipped,
					Error:  fmt.Sprintf("skipped: dependency %s did not succeed", dep),
				}
				s.status[id] = core.NodeStatusSkipped
				s.results[id] = res
				r.record(ledgerCtx, s, s.plan.Nodes[id], res)
				s.logger.Info("node skipped", "node_id", id, "dependency", dep)
				changed = true
				break
			}
		}
	}
}

// failRemaining forces every pending node to failed with cause.
func (r *Runner) failRemaining(ledgerCtx context.Context, s *runState, cause error) {
	for _, id := range s.pending() {
		res := core.NodeResult{
			NodeID: id,
			Status: core.NodeStatusFailed,
			Error:  core.Message(cause),
		}
		s.status[id] = core.NodeStatusFailed
		s.results[id] = res
		r.record(ledgerCtx, s, s.plan.Nodes[id], res)
	}
}

// record writes a node that never started straight to its terminal row.
func (r *Runner) record(ledgerCtx context.Context, s *runState, node core.Node, res core.NodeResult) {
	exec := &core.NodeExecution{
		ID:         uuid.NewString(),
		RunID:      s.run.ID,
		NodeID:     node.ID,
		NodeType:   node.Type,
		Status:     res.Status,
		Error:      res.Error,
		ExecutedAt: time.Now(),
	}
	if err := r.ledger.FinishNode(ledgerCtx, exec); err != nil {
		s.logger.Warn("failed to record node result", "node_id", node.ID, "error", err)
	}
	r.publishNode(s, node, res)
}

func (r *Runner) publishNode(s *runState, node core.Node, res core.NodeResult) {
	ev := events.NewNodeStatusEvent(string(s.run.ID), string(node.ID), string(node.Type), string(res.Status))
	ev.Error = res.Error
	ev.Duration = res.Duration
	ev.Retries = res.Retries
	r.bus.Publish(ev)
}

// finish computes the final status, closes the run record and announces
// completion.
func (r *Runner) finish(ledgerCtx context.Context, s *runState, abortErr error) (*core.RunReport, error) {
	status := core.FinalStatus(s.results)
	var errMsg string
	if abortErr != nil {
		status = core.RunStatusFailed
		errMsg = core.Message(abortErr)
	}

	completed := time.Now()
	duration := completed.Sub(s.run.StartedAt)
	if err := r.ledger.FinishRun(ledgerCtx, s.run.ID, status, completed, duration.Milliseconds(), errMsg); err != nil {
		s.logger.Warn("failed to record run result", "error", err)
	}

	ev := events.NewRunCompletedEvent(string(s.run.ID), string(status), duration)
	ev.Error = errMsg
	for _, res := range s.results {
		switch res.Status {
		case core.NodeStatusSuccess:
			ev.Succeeded++
		case core.NodeStatusFailed:
			ev.Failed++
		case core.NodeStatusSkipped:
			ev.Skipped++
		}
	}
	r.bus.PublishPriority(ev)
	s.logger.Info("run completed",
		"status", status,
		"succeeded", ev.Succeeded,
		"failed", ev.Failed,
		"skipped", ev.Skipped,
		"duration", duration,
	)

	return &core.RunReport{
		RunID:    s.run.ID,
		Status:   status,
		Results:  s.results,
		Duration: duration.Milliseconds(),
		Error:    errMsg,
	}, abortErr
}

// ready lists pending nodes whose dependencies all succeeded, in plan order.
func (s *runState) ready() []core.NodeID {
	var ready []core.NodeID
	for _, id := range s.plan.Execute {
		if s.status[id] != core.NodeStatusPending {
			continue
		}
		ok := true
		for _, dep := range s.deps[id] {
			if s.status[dep] != core.NodeStatusSuccess {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

func (s *runState) pending() []core.NodeID {
	var pending []core.NodeID
	for _, id := range s.plan.Execute {
		if s.status[id] == core.NodeStatusPending {
			pending = append(pending, id)
		}
	}
	return pending
}
