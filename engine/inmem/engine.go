// Package inmem provides an in-memory implementation of the workflow engine
// for tests, the manctl test subcommand, and local development. It is not
// deterministic or replay-safe and must not be used for production workloads.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/manorchestra/core/engine"
	"github.com/manorchestra/core/telemetry"
)

type (
	eng struct {
		mu                sync.RWMutex
		workflows         map[string]engine.WorkflowDefinition
		activities        map[string]activityDef
		handles           map[string]*handle
		telemetryOverride *telemetryBundle
	}

	handle struct {
		mu     sync.Mutex
		done   chan struct{}
		err    error
		result any
		wfCtx  *wfCtx
	}

	wfCtx struct {
		ctx   context.Context
		id    string
		runID string
		eng   *eng

		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer

		sigMu sync.Mutex
		sigs  map[string]*signalChan
	}

	future struct {
		mu     sync.Mutex
		ready  chan struct{}
		result any
		err    error
	}

	signalChan struct{ ch chan any }

	activityDef struct {
		handler engine.ActivityFunc
		opts    engine.ActivityOptions
	}
)

// New returns a new in-memory Engine. Workflows execute in their own
// goroutine; each activity call runs in a goroutine spawned by
// ExecuteActivityAsync, and ExecuteActivity blocks until it finishes.
func New() engine.Engine {
	return &eng{
		workflows:  make(map[string]engine.WorkflowDefinition),
		activities: make(map[string]activityDef),
		handles:    make(map[string]*handle),
	}
}

// NewWithTelemetry returns a new in-memory Engine whose workflow contexts use
// the given logger/metrics/tracer instead of no-ops.
func NewWithTelemetry(logger telemetry.Logger, metrics telemetry.Metrics, tracer telemetry.Tracer) engine.Engine {
	return &eng{
		workflows:  make(map[string]engine.WorkflowDefinition),
		activities: make(map[string]activityDef),
		handles:    make(map[string]*handle),
		telemetryOverride: &telemetryBundle{
			logger:  logger,
			metrics: metrics,
			tracer:  tracer,
		},
	}
}

type telemetryBundle struct {
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer
}

func (e *eng) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if def.Name == "" || def.Handler == nil {
		return errors.New("inmem: invalid workflow definition")
	}
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("inmem: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

func (e *eng) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if def.Name == "" || def.Handler == nil {
		return errors.New("inmem: invalid activity definition")
	}
	if _, dup := e.activities[def.Name]; dup {
		return fmt.Errorf("inmem: activity %q already registered", def.Name)
	}
	e.activities[def.Name] = activityDef{handler: def.Handler, opts: def.Options}
	return nil
}

func (e *eng) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	e.mu.RLock()
	def, ok := e.workflows[req.Workflow]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("inmem: workflow %q not registered", req.Workflow)
	}
	if req.ID == "" {
		return nil, errors.New("inmem: workflow id is required")
	}

	w := &wfCtx{
		ctx:     ctx,
		id:      req.ID,
		runID:   req.ID,
		eng:     e,
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		tracer:  telemetry.NewNoopTracer(),
		sigs:    make(map[string]*signalChan),
	}
	if e.telemetryOverride != nil {
		w.logger = e.telemetryOverride.logger
		w.metrics = e.telemetryOverride.metrics
		w.tracer = e.telemetryOverride.tracer
	}

	h := &handle{done: make(chan struct{}), wfCtx: w}
	e.mu.Lock()
	e.handles[req.ID] = h
	e.mu.Unlock()
	go func() {
		defer close(h.done)
		res, err := def.Handler(w, req.Input)
		h.mu.Lock()
		h.result, h.err = res, err
		h.mu.Unlock()
	}()
	return h, nil
}

func (e *eng) GetWorkflowHandle(_ context.Context, id string) (engine.WorkflowHandle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handles[id]
	if !ok {
		return nil, fmt.Errorf("inmem: no workflow execution with id %q", id)
	}
	return h, nil
}

func (w *wfCtx) Context() context.Context             { return w.ctx }
func (w *wfCtx) WorkflowID() string                   { return w.id }
func (w *wfCtx) RunID() string                        { return w.runID }
func (w *wfCtx) Logger() telemetry.Logger             { return w.logger }
func (w *wfCtx) Metrics() telemetry.Metrics           { return w.metrics }
func (w *wfCtx) Tracer() telemetry.Tracer             { return w.tracer }
func (w *wfCtx) Now() time.Time                       { return time.Now() }

func (w *wfCtx) ExecuteActivity(ctx context.Context, req engine.ActivityRequest, result any) error {
	fut, err := w.ExecuteActivityAsync(ctx, req)
	if err != nil {
		return err
	}
	return fut.Get(ctx, result)
}

func (w *wfCtx) ExecuteActivityAsync(ctx context.Context, req engine.ActivityRequest) (engine.Future, error) {
	w.eng.mu.RLock()
	def, ok := w.eng.activities[req.Name]
	w.eng.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("inmem: activity %q not registered", req.Name)
	}

	retry := req.RetryPolicy
	if retry.MaxAttempts == 0 && retry.InitialInterval == 0 && retry.BackoffCoefficient == 0 && retry.MaxInterval == 0 {
		retry = def.opts.RetryPolicy
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = def.opts.Timeout
	}

	f := &future{ready: make(chan struct{})}
	go func() {
		defer close(f.ready)

		runCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		res, err := runWithRetry(runCtx, retry, func() (any, error) {
			return def.handler(runCtx, req.Input)
		})
		f.mu.Lock()
		f.result, f.err = res, err
		f.mu.Unlock()
	}()
	return f, nil
}

// runWithRetry invokes fn, retrying on error according to policy. It stops
// early once ctx is done, since a dead or timed-out activity has nothing to
// gain from further attempts.
func runWithRetry(ctx context.Context, policy engine.RetryPolicy, fn func() (any, error)) (any, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	interval := policy.InitialInterval

	var res any
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err = fn()
		if err == nil || attempt == maxAttempts {
			return res, err
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if interval > 0 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return res, ctx.Err()
			}
		}
		if policy.BackoffCoefficient > 1 {
			interval = time.Duration(float64(interval) * policy.BackoffCoefficient)
			if policy.MaxInterval > 0 && interval > policy.MaxInterval {
				interval = policy.MaxInterval
			}
		}
	}
	return res, err
}

func (w *wfCtx) SignalChannel(name string) engine.SignalChannel {
	w.sigMu.Lock()
	defer w.sigMu.Unlock()
	ch, ok := w.sigs[name]
	if !ok {
		ch = &signalChan{ch: make(chan any, 8)}
		w.sigs[name] = ch
	}
	return ch
}

func (f *future) Get(ctx context.Context, result any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.ready:
		f.mu.Lock()
		defer f.mu.Unlock()
		assignResult(result, f.result)
		return f.err
	}
}

func (f *future) IsReady() bool {
	select {
	case <-f.ready:
		return true
	default:
		return false
	}
}

func (s *signalChan) Receive(ctx context.Context, dest any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case v := <-s.ch:
		assignResult(dest, v)
		return nil
	}
}

func (s *signalChan) ReceiveAsync(dest any) bool {
	select {
	case v := <-s.ch:
		assignResult(dest, v)
		return true
	default:
		return false
	}
}

func (h *handle) Wait(ctx context.Context, result any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		assignResult(result, h.result)
		return h.err
	}
}

func (h *handle) Signal(ctx context.Context, name string, payload any) error {
	ch := h.wfCtx.SignalChannel(name).(*signalChan)
	select {
	case ch.ch <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return errors.New("inmem: workflow already completed")
	}
}

func (h *handle) Cancel(_ context.Context) error {
	return nil
}

func assignResult(dst, src any) {
	if dst == nil || src == nil {
		return
	}
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return
	}
	sv := reflect.ValueOf(src)
	if sv.IsValid() && sv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(sv)
		return
	}
	if dv.Elem().Kind() == reflect.Interface && sv.Type().Implements(dv.Elem().Type()) {
		dv.Elem().Set(sv)
	}
}
