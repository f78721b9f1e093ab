// Package modest implements the Operation/State/Engine/ThreadPool
// scheduling core: operations carry a guard chain and a state-mutator
// chain, the Engine admits them against a shared State under guard
// evaluation, and admitted operations run on a bounded ThreadPool.
//
// There is no per-OS-thread TLS in Go, so the "current thread" context the
// original engine exposed to running code is carried explicitly as a
// *Thread value inside a context.Context, installed by the pool for the
// duration of a job.
package modest

import (
	"context"
	"runtime"
	"sync"
	"time"

	moderr "github.com/r3e-labs/modest/infrastructure/errors"
)

type threadKey struct{}

// Thread is the ambient per-job handle exposed to a running Runnable:
// its interruption flag and its last error slot.
type Thread struct {
	mu          sync.Mutex
	interrupted bool
	lastError   error
	wake        chan struct{}
}

func newThread() *Thread {
	return &Thread{wake: make(chan struct{}, 1)}
}

func withThread(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, t)
}

// CurrentThread returns the Thread installed in ctx by the pool running the
// calling job, or nil if ctx carries none (e.g. a caller outside any job).
func CurrentThread(ctx context.Context) *Thread {
	t, _ := ctx.Value(threadKey{}).(*Thread)
	return t
}

// Interrupt sets the thread's interrupted flag (monotonic: once set, stays
// set until explicitly cleared) and wakes it from Sleep or a waitFor.
func (t *Thread) Interrupt() {
	t.mu.Lock()
	t.interrupted = true
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Interrupted reports the thread's interrupted flag, clearing it if clear
// is true.
func (t *Thread) Interrupted(clear bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.interrupted
	if clear {
		t.interrupted = false
	}
	return v
}

// SetLastError records err on the thread's last-error slot.
func (t *Thread) SetLastError(err error) {
	t.mu.Lock()
	t.lastError = err
	t.mu.Unlock()
}

// LastError returns the thread's last-error slot.
func (t *Thread) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastError
}

// Interrupted reads (and optionally clears) the interruption flag of the
// thread ambient in ctx. It returns false if ctx carries no Thread.
func Interrupted(ctx context.Context, clear bool) bool {
	if t := CurrentThread(ctx); t != nil {
		return t.Interrupted(clear)
	}
	return false
}

// LastError returns the last error recorded on the thread ambient in ctx.
func LastError(ctx context.Context) error {
	if t := CurrentThread(ctx); t != nil {
		return t.LastError()
	}
	return nil
}

// Yield is a hint to the Go scheduler to run other goroutines; it has no
// interruption semantics of its own.
func Yield() {
	runtime.Gosched()
}

// Sleep blocks the calling job for d, returning early with
// errors.Interrupted if the ambient thread is interrupted during the
// sleep.
func Sleep(ctx context.Context, d time.Duration) error {
	t := CurrentThread(ctx)
	timer := time.NewTimer(d)
	defer timer.Stop()

	var wake <-chan struct{}
	if t != nil {
		wake = t.wake
	}

	select {
	case <-timer.C:
		return nil
	case <-wake:
		return moderr.ErrInterrupted()
	case <-ctx.Done():
		return ctx.Err()
	}
}
