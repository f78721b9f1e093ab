package modest

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine owns the shared State, accepts queued operations, and dispatches
// admitted ones to a ThreadPool. Admission runs under one lock so guard
// evaluation and state mutation are always serialized.
type Engine struct {
	mu    sync.Mutex
	state *State
	pool  *ThreadPool
	queue []*Operation

	registry  *prometheus.Registry
	queued    prometheus.Gauge
	admitted  prometheus.Counter
	cancelled prometheus.Counter
}

// NewEngine creates an Engine dispatching admitted operations to pool. Each
// Engine owns its own metrics registry rather than registering into the
// global default one, so multiple engines (e.g. in tests) can coexist.
func NewEngine(pool *ThreadPool) *Engine {
	e := &Engine{state: NewState(), pool: pool, registry: prometheus.NewRegistry()}
	e.queued = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "modest_engine_queued_operations",
		Help: "Operations currently queued awaiting admission.",
	})
	e.admitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "modest_engine_admitted_operations_total",
		Help: "Operations admitted and dispatched to the thread pool.",
	})
	e.cancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "modest_engine_cancelled_operations_total",
		Help: "Operations canceled by a guard's mustCancel before running.",
	})
	e.registry.MustRegister(e.queued, e.admitted, e.cancelled)
	return e
}

// Registry returns the engine's private metrics registry, for an HTTP
// handler to expose via promhttp.
func (e *Engine) Registry() *prometheus.Registry {
	return e.registry
}

// State returns the engine's shared state.
func (e *Engine) State() *State {
	return e.state
}

// Queue enqueues op and immediately runs an admission pass.
func (e *Engine) Queue(op *Operation) {
	e.mu.Lock()
	e.queue = append(e.queue, op)
	e.queued.Set(float64(len(e.queue)))
	e.mu.Unlock()
	e.admit()
}

// admit evaluates every queued operation's guard against the current state,
// in FIFO order, canceling or dispatching as appropriate and leaving the
// rest queued.
func (e *Engine) admit() {
	e.mu.Lock()
	remaining := e.queue[:0]
	var toDispatch []*Operation
	var cancelled int
	for _, op := range e.queue {
		if op.guards.mustCancel(e.state) {
			op.markCanceled()
			cancelled++
			continue
		}
		if op.guards.canExecute(e.state) {
			op.mutators.mutatePre(e.state, op)
			toDispatch = append(toDispatch, op)
			continue
		}
		remaining = append(remaining, op)
	}
	e.queue = remaining
	e.queued.Set(float64(len(e.queue)))
	e.admitted.Add(float64(len(toDispatch)))
	e.cancelled.Add(float64(cancelled))
	e.mu.Unlock()

	for _, op := range toDispatch {
		go e.pool.RunJob(context.Background(), e.jobFor(op))
	}
}

func (e *Engine) jobFor(op *Operation) Job {
	return func(ctx context.Context, t *Thread) {
		op.run(ctx, t)
		e.complete(op)
	}
}

// complete applies op's post-mutators under the state lock, then re-runs
// admission since state may now satisfy previously blocked guards.
func (e *Engine) complete(op *Operation) {
	e.mu.Lock()
	op.mutators.mutatePost(e.state, op)
	e.mu.Unlock()
	e.admit()
}

// markCanceled transitions op straight to stopped/canceled without ever
// running, used when a guard's mustCancel fires before admission.
func (op *Operation) markCanceled() {
	op.mu.Lock()
	if op.stopped {
		op.mu.Unlock()
		return
	}
	op.canceled = true
	op.stopped = true
	op.mu.Unlock()
	close(op.done)
}
