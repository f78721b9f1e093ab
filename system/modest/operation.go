package modest

import (
	"context"
	"sync"
	"time"
)

// Runnable is the unit of work an Operation executes on a worker.
type Runnable func(ctx context.Context) error

// Operation is a unit of work combining a runnable, a guard chain, and a
// state-mutator chain, with interruption and completion signalling. A Go
// *Operation is an ordinary GC-managed value: every holder of a pointer
// keeps it alive, which is what the original reference-counted handle
// bought without the manual bookkeeping.
type Operation struct {
	mu sync.Mutex

	runnable Runnable
	guards   *guardChain
	mutators *mutatorChain

	thread *Thread
	err    error

	started     bool
	interrupted bool
	stopped     bool
	finished    bool
	canceled    bool

	done chan struct{}
}

// NewOperation constructs a detached Operation around r.
func NewOperation(r Runnable) *Operation {
	return &Operation{
		runnable: r,
		guards:   newGuardChain(),
		mutators: newMutatorChain(),
		done:     make(chan struct{}),
	}
}

// AddGuard prepends (front=true) or appends a guard to the operation's
// guard chain.
func (op *Operation) AddGuard(g Guard, front bool) {
	op.guards.add(g, front)
}

// AddStateMutator prepends (front=true) or appends a state mutator to the
// operation's mutator chain.
func (op *Operation) AddStateMutator(m StateMutator, front bool) {
	op.mutators.add(m, front)
}

// Started reports whether the operation has begun execution.
func (op *Operation) Started() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.started
}

// Interrupted reports whether Interrupt has been called.
func (op *Operation) Interrupted() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.interrupted
}

// Stopped reports whether the operation has finished executing, one way or
// another.
func (op *Operation) Stopped() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.stopped
}

// Finished reports whether the operation ran to completion without being
// interrupted.
func (op *Operation) Finished() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.finished
}

// Canceled reports whether the operation stopped due to interruption.
func (op *Operation) Canceled() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.canceled
}

// Err returns the error the runnable returned, if any.
func (op *Operation) Err() error {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.err
}

// Interrupt sets the operation's interrupted flag (monotonic) and, if it is
// currently running, interrupts its executing thread and wakes it from any
// wait.
func (op *Operation) Interrupt() {
	op.mu.Lock()
	op.interrupted = true
	t := op.thread
	op.mu.Unlock()
	if t != nil {
		t.Interrupt()
	}
}

// WaitFor blocks the caller until the operation stops, or timeout elapses
// (0 means wait indefinitely), or — if interruptible — the caller's ambient
// thread is interrupted. It returns whether the operation had stopped
// before the wait ended. An uninterruptible wait that is woken by the
// caller's own interruption re-raises that interruption on return instead
// of treating it as a timeout, then keeps waiting.
//
// The wait always re-checks the deadline via a live timer rather than
// assuming a single wakeup means completion, so a spurious or unrelated
// wakeup can never be mistaken for timeout exhaustion.
func (op *Operation) WaitFor(ctx context.Context, interruptible bool, timeout time.Duration) bool {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	callerThread := CurrentThread(ctx)
	var wake <-chan struct{}
	if callerThread != nil {
		wake = callerThread.wake
	}

	for {
		select {
		case <-op.done:
			return true
		case <-timeoutCh:
			return false
		case <-wake:
			// The caller's Thread.interrupted flag is already set by
			// whoever called Interrupt() on it and stays set (monotonic)
			// until explicitly cleared, so an uninterruptible wait that
			// swallows this wakeup still leaves the caller able to observe
			// the interruption once it returns.
			if interruptible {
				return false
			}
			continue
		}
	}
}

// run executes the operation's runnable on behalf of a worker thread t,
// transitioning through started -> running -> stopped{finished|canceled}.
func (op *Operation) run(ctx context.Context, t *Thread) {
	op.mu.Lock()
	op.started = true
	if op.interrupted {
		t.Interrupt()
	}
	op.thread = t
	op.mu.Unlock()

	err := op.runnable(withThread(ctx, t))

	op.mu.Lock()
	op.err = err
	if t.Interrupted(false) {
		op.canceled = true
	} else {
		op.finished = true
	}
	op.thread = nil
	op.stopped = true
	op.mu.Unlock()

	close(op.done)
	t.SetLastError(nil)
}
