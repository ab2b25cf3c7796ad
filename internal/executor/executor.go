package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/newsletter/internal/artifact"
	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/internal/planner"
)

var executorTracer trace.Tracer = otel.Tracer("newsletter/internal/executor")

// Resolver returns the capability bound to a kind.
type Resolver interface {
	Lookup(kind capability.Kind) (capability.Capability, error)
}

// Executor runs a plan against bound capabilities.
type Executor struct {
	checkpoints Checkpointer
	metrics     Metrics
	stepTimeout time.Duration
	maxRetries  int
	retryDelay  time.Duration
	concurrent  bool
	logger      *log.Logger
}

// Metrics aggregates optional telemetry callbacks.
type Metrics struct {
	RetryCounter func(ctx context.Context, node planner.TaskNode, attempt int)
	Duration     func(ctx context.Context, node planner.TaskNode, d time.Duration)
	Outcome      func(ctx context.Context, node planner.TaskNode, status planner.Status)
}

// Option configures executor behaviour.
type Option func(*Executor)

// WithCheckpointer sets the progress recorder.
func WithCheckpointer(c Checkpointer) Option {
	return func(ex *Executor) {
		ex.checkpoints = c
	}
}

// WithMetrics sets executor metrics callbacks.
func WithMetrics(m Metrics) Option {
	return func(ex *Executor) {
		ex.metrics = m
	}
}

// WithStepTimeout bounds each capability call. Zero disables the bound.
func WithStepTimeout(d time.Duration) Option {
	return func(ex *Executor) {
		ex.stepTimeout = d
	}
}

// WithRetries retries a failing capability up to max extra times.
func WithRetries(max int, delay time.Duration) Option {
	return func(ex *Executor) {
		if max < 0 {
			max = 0
		}
		ex.maxRetries = max
		ex.retryDelay = delay
	}
}

// WithConcurrency runs independent ready nodes in parallel.
func WithConcurrency(enabled bool) Option {
	return func(ex *Executor) {
		ex.concurrent = enabled
	}
}

// WithLogger sets the executor logger.
func WithLogger(l *log.Logger) Option {
	return func(ex *Executor) {
		ex.logger = l
	}
}

// New creates a new Executor instance.
func New(opts ...Option) *Executor {
	ex := &Executor{}
	for _, opt := range opts {
		opt(ex)
	}
	if ex.checkpoints == nil {
		ex.checkpoints = NewNoopCheckpointer()
	}
	if ex.logger == nil {
		ex.logger = log.New(io.Discard, "", 0)
	}
	return ex
}

var (
	// ErrUnknownDependency indicates a dependency reference that is missing from the graph.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrCycleDetected indicates the graph contains a cycle.
	ErrCycleDetected = errors.New("cycle detected")
	// ErrEmptyPlan indicates there is nothing to execute.
	ErrEmptyPlan = errors.New("empty plan")
	// ErrDuplicateNode indicates two nodes share an id.
	ErrDuplicateNode = errors.New("duplicate node id")
)

// Order validates the plan graph and returns a topological order that keeps
// plan order wherever dependencies allow.
func Order(plan planner.Plan) ([]string, error) {
	if len(plan.Nodes) == 0 {
		return nil, ErrEmptyPlan
	}
	index := make(map[string]int, len(plan.Nodes))
	for i, n := range plan.Nodes {
		if _, dup := index[n.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
		index[n.ID] = i
	}
	indegree := make(map[string]int, len(plan.Nodes))
	adjacency := make(map[string][]string, len(plan.Nodes))
	for _, n := range plan.Nodes {
		if _, ok := indegree[n.ID]; !ok {
			indegree[n.ID] = 0
		}
		for _, dep := range n.Deps() {
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("%w: %s -> %s", ErrUnknownDependency, n.ID, dep)
			}
			adjacency[dep] = append(adjacency[dep], n.ID)
			indegree[n.ID]++
		}
	}

	var queue []string
	for _, n := range plan.Nodes {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	order := make([]string, 0, len(plan.Nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)
		for _, next := range adjacency[current] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
		sort.SliceStable(queue, func(i, j int) bool { return index[queue[i]] < index[queue[j]] })
	}
	if len(order) != len(plan.Nodes) {
		return nil, ErrCycleDetected
	}
	return order, nil
}

// Execute runs every node of plan and returns the final artifact with the
// execution log. Node failures are recorded, never returned; an error means
// the plan itself was invalid and nothing ran. Node statuses on plan are
// updated in place.
func (e *Executor) Execute(ctx context.Context, rc artifact.RunContext, plan planner.Plan, registry Resolver) (Result, error) {
	order, err := Order(plan)
	if err != nil {
		return Result{}, err
	}
	ctx, span := executorTracer.Start(ctx, "executor.execute",
		trace.WithAttributes(
			attribute.String("run.id", rc.RunID),
			attribute.String("run.base_filename", rc.BaseFilename),
			attribute.Int("plan.nodes", len(plan.Nodes)),
			attribute.Bool("executor.concurrent", e.concurrent),
		))
	defer span.End()

	if err := e.checkpoints.StartRun(ctx, rc, plan); err != nil {
		e.logger.Printf("checkpoint start run %s: %v", rc.RunID, err)
	}

	st := newRunState(plan)
	if e.concurrent {
		e.runBatches(ctx, rc, st, registry)
	} else {
		for _, id := range order {
			e.runNode(ctx, rc, st, st.nodes[id], registry)
		}
	}

	result := st.result(plan)
	if result.FinalErr != "" {
		span.SetStatus(codes.Error, result.FinalErr)
	} else {
		span.SetStatus(codes.Ok, "completed")
	}
	if err := e.checkpoints.FinishRun(ctx, rc.RunID, result); err != nil {
		e.logger.Printf("checkpoint finish run %s: %v", rc.RunID, err)
	}
	return result, nil
}

// runBatches starts every node whose dependencies are terminal, waits for
// the batch and repeats.
func (e *Executor) runBatches(ctx context.Context, rc artifact.RunContext, st *runState, registry Resolver) {
	for {
		ready := st.ready()
		if len(ready) == 0 {
			return
		}
		g, batchCtx := errgroup.WithContext(ctx)
		for _, node := range ready {
			node := node
			g.Go(func() error {
				e.runNode(batchCtx, rc, st, node, registry)
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (e *Executor) runNode(ctx context.Context, rc artifact.RunContext, st *runState, node *planner.TaskNode, registry Resolver) {
	ctx, span := executorTracer.Start(ctx, "executor.node",
		trace.WithAttributes(
			attribute.String("node.id", node.ID),
			attribute.String("node.kind", string(node.Kind)),
		))
	defer span.End()

	entry := LogEntry{NodeID: node.ID, Kind: node.Kind, StartedAt: time.Now()}
	finish := func(status planner.Status, art capability.Artifact, err error) {
		entry.Outcome = status
		entry.Artifact = art
		entry.Duration = time.Since(entry.StartedAt)
		if err != nil {
			entry.Error = err.Error()
			entry.Artifact = capability.Status(entry.Error)
			span.RecordError(err)
			span.SetStatus(codes.Error, entry.Error)
			e.logger.Printf("node %s (%s) failed: %s", node.ID, node.Kind, entry.Error)
		} else {
			span.SetStatus(codes.Ok, "done")
			e.logger.Printf("node %s (%s) done in %s", node.ID, node.Kind, entry.Duration.Round(time.Millisecond))
		}
		st.record(node, entry)
		if e.metrics.Outcome != nil {
			e.metrics.Outcome(ctx, *node, status)
		}
		if e.metrics.Duration != nil {
			e.metrics.Duration(ctx, *node, entry.Duration)
		}
		if cpErr := e.checkpoints.NodeFinished(ctx, rc.RunID, entry); cpErr != nil {
			e.logger.Printf("checkpoint node %s: %v", node.ID, cpErr)
		}
	}

	for _, dep := range node.DependsOn {
		if depErr, failed := st.failure(dep); failed {
			entry.Notes = append(entry.Notes, fmt.Sprintf("not attempted: dependency %s failed", dep))
			finish(planner.StatusFailed, capability.Artifact{}, errors.New(depErr))
			return
		}
	}
	if err := ctx.Err(); err != nil {
		finish(planner.StatusFailed, capability.Artifact{}, fmt.Errorf("run cancelled: %w", err))
		return
	}

	params, notes, err := st.resolve(node)
	entry.Notes = append(entry.Notes, notes...)
	if err != nil {
		finish(planner.StatusFailed, capability.Artifact{}, err)
		return
	}
	impl, err := registry.Lookup(node.Kind)
	if err != nil {
		finish(planner.StatusFailed, capability.Artifact{}, err)
		return
	}

	st.setStatus(node, planner.StatusRunning)
	var art capability.Artifact
	for attempt := 0; ; attempt++ {
		entry.Attempts = attempt + 1
		if cpErr := e.checkpoints.NodeStarted(ctx, rc.RunID, *node, attempt); cpErr != nil {
			e.logger.Printf("checkpoint node %s start: %v", node.ID, cpErr)
		}
		art, err = e.invoke(ctx, impl, node, params)
		if err == nil {
			break
		}
		if attempt >= e.maxRetries || ctx.Err() != nil {
			break
		}
		if e.metrics.RetryCounter != nil {
			e.metrics.RetryCounter(ctx, *node, attempt+1)
		}
		e.logger.Printf("node %s attempt %d failed: %v; retrying", node.ID, attempt+1, err)
		if e.retryDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.retryDelay):
			}
		}
	}
	if err != nil {
		finish(planner.StatusFailed, capability.Artifact{}, err)
		return
	}
	if art.Note != "" {
		entry.Notes = append(entry.Notes, art.Note)
	}
	finish(planner.StatusDone, art, nil)
}

// invoke calls the capability under the per-step timeout. A timeout is an
// ordinary node failure.
func (e *Executor) invoke(ctx context.Context, impl capability.Capability, node *planner.TaskNode, params capability.Params) (capability.Artifact, error) {
	callCtx := ctx
	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}

	type outcome struct {
		art capability.Artifact
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%s panicked: %v", node.Kind, r)}
			}
		}()
		a, invokeErr := impl.Invoke(callCtx, params.Clone())
		done <- outcome{art: a, err: invokeErr}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return capability.Artifact{}, fmt.Errorf("%s timed out after %s: %w", node.Kind, e.stepTimeout, out.err)
		}
		return out.art, out.err
	case <-callCtx.Done():
		if ctx.Err() == nil {
			return capability.Artifact{}, fmt.Errorf("%s timed out after %s", node.Kind, e.stepTimeout)
		}
		return capability.Artifact{}, fmt.Errorf("run cancelled: %w", ctx.Err())
	}
}
