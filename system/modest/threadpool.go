package modest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Job is a unit of work a ThreadPool hands to a worker goroutine.
type Job func(ctx context.Context, t *Thread)

// pooledThread is a reusable worker: it idles on jobCh, running whatever
// Job arrives, until idleExpire passes with nothing to do.
type pooledThread struct {
	pool    *ThreadPool
	thread  *Thread
	jobCh   chan Job
	quit    chan struct{}
	expired atomic.Bool
}

func (w *pooledThread) loop() {
	for {
		select {
		case job := <-w.jobCh:
			job(withThread(context.Background(), w.thread), w.thread)
			w.pool.jobCompleted(w)
		case <-time.After(w.pool.idleExpire):
			if w.pool.tryExpire(w) {
				return
			}
			// Lost the race to dispatch: w was already claimed off the idle
			// list (and a job is already on its way to jobCh), so this
			// timeout must be discarded rather than stopping the loop.
		case <-w.quit:
			return
		}
	}
}

// ThreadPool is a bounded pool of reusable worker goroutines, admitting
// concurrent job submission through a permit count rather than a fixed-size
// channel so the pool can be resized at runtime.
type ThreadPool struct {
	mu   sync.Mutex
	cond *sync.Cond

	size  int
	inUse int

	all        []*pooledThread
	idle       []*pooledThread
	idleExpire time.Duration
}

// NewThreadPool creates a pool admitting up to size concurrent jobs, whose
// idle workers self-terminate after idleExpire with nothing to do.
func NewThreadPool(size int, idleExpire time.Duration) *ThreadPool {
	p := &ThreadPool{size: size, idleExpire: idleExpire}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// TryRunJob acquires one permit non-blockingly; if none is available it
// returns false without any side effect.
func (p *ThreadPool) TryRunJob(job Job) bool {
	p.mu.Lock()
	if p.inUse >= p.size {
		p.mu.Unlock()
		return false
	}
	p.inUse++
	p.mu.Unlock()
	p.dispatch(job)
	return true
}

// RunJob acquires one permit, blocking until available or until ctx's
// ambient thread is interrupted, in which case it returns false. The pool
// polls for interruption rather than waking instantly on it — an
// acceptable latency trade given Go's monitors have no built-in interrupt
// channel the way the original runtime's did.
func (p *ThreadPool) RunJob(ctx context.Context, job Job) bool {
	acquired := make(chan struct{})
	go func() {
		p.mu.Lock()
		for p.inUse >= p.size {
			p.cond.Wait()
		}
		p.inUse++
		p.mu.Unlock()
		close(acquired)
	}()

	t := CurrentThread(ctx)
	const pollInterval = 5 * time.Millisecond
	for {
		select {
		case <-acquired:
			p.dispatch(job)
			return true
		case <-time.After(pollInterval):
			if t != nil && t.Interrupted(false) {
				go func() {
					<-acquired
					p.release()
				}()
				return false
			}
		}
	}
}

func (p *ThreadPool) dispatch(job Job) {
	w := p.getIdleThread()
	w.jobCh <- job
}

func (p *ThreadPool) getIdleThread() *pooledThread {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drainExpiredLocked()

	if n := len(p.idle); n > 0 {
		w := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return w
	}

	w := &pooledThread{thread: newThread(), jobCh: make(chan Job), quit: make(chan struct{})}
	w.pool = p
	p.all = append(p.all, w)
	go w.loop()
	return w
}

// tryExpire removes w from the idle list and marks it expired, but only if
// w is still sitting idle. If dispatch already popped w off the idle list
// (a job is in flight to its jobCh) this returns false, so the caller's
// idle-expiry timeout is a no-op rather than racing a send on an unbuffered
// channel nobody will ever receive.
func (p *ThreadPool) tryExpire(w *pooledThread) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, idle := range p.idle {
		if idle != w {
			continue
		}
		p.idle = append(p.idle[:i], p.idle[i+1:]...)
		for j, a := range p.all {
			if a == w {
				p.all = append(p.all[:j], p.all[j+1:]...)
				break
			}
		}
		w.expired.Store(true)
		return true
	}
	return false
}

func (p *ThreadPool) jobCompleted(w *pooledThread) {
	p.mu.Lock()
	p.drainExpiredLocked()
	if !w.expired.Load() {
		p.idle = append(p.idle, w)
	}
	p.mu.Unlock()
	p.release()
}

func (p *ThreadPool) release() {
	p.mu.Lock()
	p.inUse--
	p.cond.Broadcast()
	p.mu.Unlock()
}

// drainExpiredLocked removes every worker marked expired from all and idle.
// Callers must hold p.mu.
func (p *ThreadPool) drainExpiredLocked() {
	if len(p.all) > 0 {
		kept := p.all[:0]
		for _, w := range p.all {
			if !w.expired.Load() {
				kept = append(kept, w)
			}
		}
		p.all = kept
	}
	if len(p.idle) > 0 {
		kept := p.idle[:0]
		for _, w := range p.idle {
			if !w.expired.Load() {
				kept = append(kept, w)
			}
		}
		p.idle = kept
	}
}

// ThreadCount reports the current number of live workers (idle or running).
func (p *ThreadPool) ThreadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drainExpiredLocked()
	return len(p.all)
}

// InterruptAllThreads interrupts every live worker's ambient thread without
// waiting for them to stop.
func (p *ThreadPool) InterruptAllThreads() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drainExpiredLocked()
	for _, w := range p.all {
		w.thread.Interrupt()
	}
}

// TerminateAllThreads interrupts and stops every live worker and removes
// them from the pool.
func (p *ThreadPool) TerminateAllThreads() {
	p.mu.Lock()
	workers := append([]*pooledThread(nil), p.all...)
	p.all = nil
	p.idle = nil
	p.mu.Unlock()

	for _, w := range workers {
		w.thread.Interrupt()
		select {
		case <-w.quit:
		default:
			close(w.quit)
		}
	}
}

// SetPoolSize changes the number of concurrent jobs the pool admits. If the
// size shrinks, up to the delta currently-idle workers are interrupted and
// terminated immediately; running workers are left to finish their current
// job and are not replaced once idle, down to the new size.
func (p *ThreadPool) SetPoolSize(n int) {
	p.mu.Lock()
	delta := p.size - n
	p.size = n
	p.cond.Broadcast()

	var toStop []*pooledThread
	if delta > 0 {
		p.drainExpiredLocked()
		k := delta
		if k > len(p.idle) {
			k = len(p.idle)
		}
		toStop = append(toStop, p.idle[len(p.idle)-k:]...)
		p.idle = p.idle[:len(p.idle)-k]
	}
	p.mu.Unlock()

	for _, w := range toStop {
		w.expired.Store(true)
		w.thread.Interrupt()
		close(w.quit)
	}
}
