package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/nodeflow/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	instrumentationName   = "github.com/BaSui01/nodeflow/workflow"
	defaultMaxConcurrency = 8
	defaultEventBuffer    = 64
	defaultRunRetention   = 256
)

// RunObserver receives run and node outcomes, e.g. for metrics.
type RunObserver interface {
	ObserveRunStart()
	ObserveRun(status RunStatus, duration time.Duration)
	ObserveNode(nodeType NodeType, status NodeStatus, duration time.Duration)
}

// Engine executes compiled workflow definitions.
//
// At most one run per WorkflowDefinition.ID is active at a time; Start
// rejects a second run with ErrRunInProgress until the first finishes.
type Engine struct {
	processors     *ProcessorRegistry
	logger         *zap.Logger
	tracer         trace.Tracer
	observer       RunObserver
	history        *ExecutionHistoryStore
	maxConcurrency int
	nodeTimeout    time.Duration
	eventBuffer    int
	retention      int

	mu       sync.Mutex
	active   map[string]string
	runs     map[string]*Run
	runOrder []string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger.
func WithEngineLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxConcurrency bounds how many processors run at once.
// A limit of 1 dispatches nodes exactly in execution order.
func WithMaxConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// WithNodeTimeout bounds each processor invocation. Zero disables it.
func WithNodeTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.nodeTimeout = d }
}

// WithRunObserver attaches an observer.
func WithRunObserver(o RunObserver) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithHistoryStore sets where run histories are recorded.
func WithHistoryStore(s *ExecutionHistoryStore) EngineOption {
	return func(e *Engine) {
		if s != nil {
			e.history = s
		}
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithRunRetention sets how many finished runs stay available to Lookup.
func WithRunRetention(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.retention = n
		}
	}
}

// WithEventBuffer sets the per-subscriber event buffer size.
func WithEventBuffer(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.eventBuffer = n
		}
	}
}

// NewEngine creates an engine dispatching to processors.
func NewEngine(processors *ProcessorRegistry, opts ...EngineOption) *Engine {
	if processors == nil {
		processors = NewProcessorRegistry()
	}
	e := &Engine{
		processors:     processors,
		logger:         zap.NewNop(),
		tracer:         otel.Tracer(instrumentationName),
		history:        NewExecutionHistoryStore(defaultRunRetention),
		maxConcurrency: defaultMaxConcurrency,
		eventBuffer:    defaultEventBuffer,
		retention:      defaultRunRetention,
		active:         make(map[string]string),
		runs:           make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "workflow_engine"))
	return e
}

// History returns the execution history store.
func (e *Engine) History() *ExecutionHistoryStore {
	return e.history
}

// Run is one execution of a WorkflowDefinition.
type Run struct {
	id     string
	def    *WorkflowDefinition
	state  *RunState
	events *eventHub
	cancel context.CancelFunc
	done   chan struct{}

	eventBuffer int
}

// ID returns the run ID.
func (r *Run) ID() string { return r.id }

// Definition returns the definition being executed.
func (r *Run) Definition() *WorkflowDefinition { return r.def }

// Cancel stops dispatching new nodes. Nodes that have not started are
// marked cancelled; finished results are kept.
func (r *Run) Cancel() { r.cancel() }

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes and returns its final state.
func (r *Run) Wait() *RunSnapshot {
	<-r.done
	return r.state.Snapshot()
}

// Snapshot returns the current state without waiting.
func (r *Run) Snapshot() *RunSnapshot {
	return r.state.Snapshot()
}

// Subscribe streams run events. The channel is closed after the
// run_complete event. Call the returned function to unsubscribe early.
// A buffer <= 0 uses the engine's default.
func (r *Run) Subscribe(buffer int) (<-chan RunEvent, func()) {
	if buffer <= 0 {
		buffer = r.eventBuffer
	}
	return r.events.subscribe(buffer)
}

// Run executes def and blocks until it finishes. The returned error is
// non-nil only when the run could not start; node failures are recorded
// in the snapshot.
func (e *Engine) Run(ctx context.Context, def *WorkflowDefinition) (*RunSnapshot, error) {
	r, err := e.Start(ctx, def)
	if err != nil {
		return nil, err
	}
	return r.Wait(), nil
}

// Start begins executing def in the background.
func (e *Engine) Start(ctx context.Context, def *WorkflowDefinition) (*Run, error) {
	if def == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "workflow definition is nil")
	}
	if !def.Valid() {
		return nil, types.NewError(types.ErrGraphInvalid,
			fmt.Sprintf("workflow %s is not executable: %d error(s), %d node(s) in execution order",
				def.ID, len(def.Errors), len(def.ExecutionOrder)))
	}

	runID := uuid.NewString()
	e.mu.Lock()
	if activeID, busy := e.active[def.ID]; busy {
		e.mu.Unlock()
		return nil, types.NewError(types.ErrRunInProgress,
			fmt.Sprintf("workflow %s already has an active run %s", def.ID, activeID))
	}
	e.active[def.ID] = runID
	e.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	r := &Run{
		id:     runID,
		def:    def,
		state:  newRunState(runID, def),
		events: newEventHub(e.logger.With(zap.String("run_id", runID))),
		cancel: cancel,
		done:   make(chan struct{}),

		eventBuffer: e.eventBuffer,
	}
	e.track(r)

	go e.execute(runCtx, r)
	return r, nil
}

// Lookup returns a run that is active or recently finished.
func (e *Engine) Lookup(runID string) (*Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[runID]
	return r, ok
}

// ActiveRun returns the ID of the run currently executing workflowID.
func (e *Engine) ActiveRun(workflowID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.active[workflowID]
	return id, ok
}

func (e *Engine) track(r *Run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs[r.id] = r
	e.runOrder = append(e.runOrder, r.id)

	if len(e.runOrder) <= e.retention {
		return
	}
	kept := e.runOrder[:0]
	excess := len(e.runOrder) - e.retention
	for _, id := range e.runOrder {
		old := e.runs[id]
		if excess > 0 && old.finished() {
			delete(e.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	e.runOrder = kept
}

func (r *Run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (e *Engine) execute(ctx context.Context, r *Run) {
	def := r.def
	start := time.Now()
	logger := e.logger.With(zap.String("run_id", r.id), zap.String("workflow_id", def.ID))

	ctx = types.WithRunID(ctx, r.id)
	ctx = types.WithWorkflowID(ctx, def.ID)
	ctx, span := e.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.id", def.ID),
		attribute.String("workflow.run_id", r.id),
		attribute.Int("workflow.nodes", len(def.ExecutionOrder)),
	))

	history := NewExecutionHistory(r.id, def.ID)
	e.history.Save(history)
	r.state.setStatus(RunStatusRunning)
	if e.observer != nil {
		e.observer.ObserveRunStart()
	}
	logger.Info("workflow run started", zap.Int("nodes", len(def.ExecutionOrder)))

	cancelled := e.dispatch(ctx, r, history, logger)

	status := RunStatusCompleted
	var runErr error
	switch {
	case r.state.anyNodeStatus(NodeStatusCancelled):
		status = RunStatusCancelled
		runErr = types.NewError(types.ErrRunCancelled, "run cancelled")
	case r.state.anyNodeStatus(NodeStatusError):
		status = RunStatusFailed
		runErr = types.NewError(types.ErrProcessorFailed, "one or more nodes failed")
	}
	r.state.setStatus(status)
	history.Complete(status, runErr)

	duration := time.Since(start)
	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
	}
	span.SetAttributes(attribute.String("workflow.status", string(status)))
	span.End()
	if e.observer != nil {
		e.observer.ObserveRun(status, duration)
	}
	logger.Info("workflow run finished",
		zap.String("status", string(status)),
		zap.Bool("cancel_requested", cancelled),
		zap.Int("dropped_events", r.events.droppedEvents()),
		zap.Duration("duration", duration),
	)

	e.mu.Lock()
	if e.active[def.ID] == r.id {
		delete(e.active, def.ID)
	}
	e.mu.Unlock()

	final := RunEvent{
		Type:       RunEventRunComplete,
		RunID:      r.id,
		WorkflowID: def.ID,
		Status:     string(status),
		Timestamp:  time.Now(),
	}
	if runErr != nil {
		final.Error = runErr.Error()
		final.ErrorCode = types.GetErrorCode(runErr)
	}
	r.events.close(final)
	r.cancel()
	close(r.done)
}

// dispatch walks the graph, starting each node once all of its producers
// are terminal. It reports whether dispatching stopped on cancellation.
func (e *Engine) dispatch(ctx context.Context, r *Run, history *ExecutionHistory, logger *zap.Logger) bool {
	def := r.def
	pending := make(map[string]int, len(def.ExecutionOrder))
	for _, id := range def.ExecutionOrder {
		pending[id] = 0
	}
	for _, id := range def.ExecutionOrder {
		for _, dep := range def.Dependencies[id] {
			if _, known := pending[dep.Node]; known {
				pending[id]++
			}
		}
	}

	ready := make([]string, 0, len(def.ExecutionOrder))
	for _, id := range def.ExecutionOrder {
		if pending[id] == 0 {
			ready = append(ready, id)
		}
	}

	var g errgroup.Group
	g.SetLimit(e.maxConcurrency)
	done := make(chan string, len(def.ExecutionOrder))
	inFlight := 0
	cancelled := false

	settle := func(id string) {
		inFlight--
		for _, d := range def.Dependents[id] {
			if _, known := pending[d.Node]; !known {
				continue
			}
			pending[d.Node]--
			if pending[d.Node] == 0 {
				ready = append(ready, d.Node)
			}
		}
	}

	for {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
		}
		for !cancelled && len(ready) > 0 {
			id := ready[0]
			ready = ready[1:]
			node, _ := def.Node(id)
			deps := def.Dependencies[id]
			inFlight++

			if upstream, failed := r.state.failedProducer(deps); failed {
				err := types.NewError(types.ErrUpstreamFailed, fmt.Sprintf("upstream node %q failed", upstream))
				e.skipNode(r, history, node, NodeStatusError, err)
				done <- id
				continue
			}
			g.Go(func() error {
				e.runNode(ctx, r, history, node, deps, logger)
				done <- id
				return nil
			})
			if ctx.Err() != nil {
				cancelled = true
			}
		}
		if inFlight == 0 {
			break
		}
		if cancelled {
			settle(<-done)
			continue
		}
		select {
		case id := <-done:
			settle(id)
		case <-ctx.Done():
			cancelled = true
		}
	}
	_ = g.Wait()

	if cancelled {
		err := types.NewError(types.ErrRunCancelled, "run cancelled before node started")
		for _, id := range def.ExecutionOrder {
			node, _ := def.Node(id)
			e.skipNode(r, history, node, NodeStatusCancelled, err)
		}
	}
	return cancelled
}

func (e *Engine) runNode(ctx context.Context, r *Run, history *ExecutionHistory, node Node, deps []Dependency, logger *zap.Logger) {
	// a node that waited for a slot past cancellation is left idle for the
	// final sweep
	if ctx.Err() != nil {
		return
	}
	if !r.state.begin(node.ID) {
		return
	}
	targets, inputErr := gatherInputs(r.state, node, deps)
	rec := history.RecordNodeStart(node.ID, node.Type, targets)
	r.events.publish(RunEvent{
		Type:       RunEventNodeStart,
		RunID:      r.id,
		WorkflowID: r.def.ID,
		NodeID:     node.ID,
		NodeType:   node.Type,
		Status:     string(NodeStatusProcessing),
		Timestamp:  time.Now(),
	})

	nctx := types.WithNodeID(ctx, node.ID)
	nctx, span := e.tracer.Start(nctx, "workflow.node", trace.WithAttributes(
		attribute.String("workflow.node.id", node.ID),
		attribute.String("workflow.node.type", string(node.Type)),
	))
	defer span.End()
	if e.nodeTimeout > 0 {
		var cancel context.CancelFunc
		nctx, cancel = context.WithTimeout(nctx, e.nodeTimeout)
		defer cancel()
	}

	start := time.Now()
	var result any
	err := inputErr
	if err == nil {
		result, err = e.invoke(nctx, node, targets)
	}
	duration := time.Since(start)
	history.RecordNodeEnd(rec, result, err)

	ev := RunEvent{
		RunID:      r.id,
		WorkflowID: r.def.ID,
		NodeID:     node.ID,
		NodeType:   node.Type,
		Timestamp:  time.Now(),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.state.finish(node.ID, NodeStatusError, nil, err)
		logger.Warn("node failed",
			zap.String("node_id", node.ID),
			zap.String("node_type", string(node.Type)),
			zap.String("error_code", string(types.GetErrorCode(err))),
			zap.Error(err),
			zap.Duration("duration", duration),
		)
		ev.Type = RunEventNodeError
		ev.Status = string(NodeStatusError)
		ev.Error = err.Error()
		ev.ErrorCode = types.GetErrorCode(err)
		r.events.publish(ev)
		if e.observer != nil {
			e.observer.ObserveNode(node.Type, NodeStatusError, duration)
		}
		return
	}

	r.state.finish(node.ID, NodeStatusSuccess, result, nil)
	logger.Debug("node completed",
		zap.String("node_id", node.ID),
		zap.String("node_type", string(node.Type)),
		zap.Duration("duration", duration),
	)
	ev.Type = RunEventNodeComplete
	ev.Status = string(NodeStatusSuccess)
	ev.Result = result
	r.events.publish(ev)
	if e.observer != nil {
		e.observer.ObserveNode(node.Type, NodeStatusSuccess, duration)
	}
}

// gatherInputs assembles targetsData, turning a panicking HandleValuer on a
// producer's result into an error on the consuming node.
func gatherInputs(s *RunState, node Node, deps []Dependency) (targets TargetsData, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			targets = nil
			err = types.NewError(types.ErrProcessorFailed, fmt.Sprintf("assembling inputs for node %q panicked: %v", node.ID, rec))
		}
	}()
	return s.inputs(deps), nil
}

// invoke calls the node's processor. Failures come back as *types.Error:
// ErrProcessorNotFound when the engine has no processor for the node type,
// ErrProcessorFailed for ordinary processor failures.
func (e *Engine) invoke(ctx context.Context, node Node, targets TargetsData) (result any, err error) {
	p, ok := e.processors.Get(node.Type)
	if !ok {
		return nil, types.NewError(types.ErrProcessorNotFound,
			fmt.Sprintf("engine misconfigured: no processor registered for node type %q", node.Type))
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = types.NewError(types.ErrProcessorFailed, fmt.Sprintf("processor for node %q panicked: %v", node.ID, rec))
		}
	}()

	result, err = p.Process(ctx, node, targets)
	if err == nil {
		return result, nil
	}
	if _, typed := types.AsError(err); typed {
		return nil, err
	}
	return nil, types.NewError(types.ErrProcessorFailed, fmt.Sprintf("node %q failed", node.ID)).WithCause(err)
}

// skipNode records a node that never reaches its processor.
func (e *Engine) skipNode(r *Run, history *ExecutionHistory, node Node, status NodeStatus, err error) {
	if !r.state.finish(node.ID, status, nil, err) {
		return
	}
	history.RecordNodeSkipped(node.ID, node.Type, status, err)

	evType := RunEventNodeError
	if status == NodeStatusCancelled {
		evType = RunEventNodeCancelled
	}
	r.events.publish(RunEvent{
		Type:       evType,
		RunID:      r.id,
		WorkflowID: r.def.ID,
		NodeID:     node.ID,
		NodeType:   node.Type,
		Status:     string(status),
		Error:      err.Error(),
		ErrorCode:  types.GetErrorCode(err),
		Timestamp:  time.Now(),
	})
	if e.observer != nil {
		e.observer.ObserveNode(node.Type, status, 0)
	}
}
