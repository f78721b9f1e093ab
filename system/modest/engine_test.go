package modest

import (
	"context"
	"sync"
	"testing"
	"time"
)

type maxRunningGuard struct {
	key string
	max int64
}

func (g maxRunningGuard) CanExecute(s *State) bool { return s.Get(g.key) < g.max }
func (g maxRunningGuard) MustCancel(s *State) bool { return false }

type incrDecrMutator struct {
	key   string
	delta int64
}

func (m incrDecrMutator) MutatePreExecutionState(s *State, op *Operation) { s.Add(m.key, m.delta) }
func (incrDecrMutator) MutatePostExecutionState(s *State, op *Operation)  {}

type decrOnlyMutator struct {
	key   string
	delta int64
}

func (decrOnlyMutator) MutatePreExecutionState(s *State, op *Operation) {}
func (m decrOnlyMutator) MutatePostExecutionState(s *State, op *Operation) {
	s.Add(m.key, m.delta)
}

func TestEngineGuardGatedCounter(t *testing.T) {
	pool := NewThreadPool(100, 50*time.Millisecond)
	engine := NewEngine(pool)

	var peak int64
	var peakMu sync.Mutex

	const total = 100
	var wg sync.WaitGroup
	wg.Add(total)

	for i := 0; i < total; i++ {
		op := NewOperation(func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		})
		op.AddGuard(maxRunningGuard{key: "running", max: 5}, false)
		op.AddStateMutator(incrDecrMutator{key: "running", delta: 1}, false)
		op.AddStateMutator(decrOnlyMutator{key: "running", delta: -1}, false)

		opDone := op
		go func() {
			defer wg.Done()
			opDone.WaitFor(context.Background(), false, 2*time.Second)
			if !opDone.Finished() {
				t.Errorf("expected operation to finish")
			}
		}()

		engine.Queue(op)

		running := engine.State().Get("running")
		peakMu.Lock()
		if running > peak {
			peak = running
		}
		peakMu.Unlock()
		if running > 5 {
			t.Fatalf("running exceeded 5: %d", running)
		}
	}

	wg.Wait()

	if peak > 5 {
		t.Fatalf("observed peak running count %d exceeds limit of 5", peak)
	}
	if engine.State().Get("running") != 0 {
		t.Fatalf("expected running==0 after all complete, got %d", engine.State().Get("running"))
	}
}

func TestOperationInterruptDuringWait(t *testing.T) {
	pool := NewThreadPool(4, time.Second)
	engine := NewEngine(pool)

	op := NewOperation(func(ctx context.Context) error {
		return Sleep(ctx, time.Hour)
	})
	engine.Queue(op)

	time.Sleep(50 * time.Millisecond)
	op.Interrupt()

	stopped := op.WaitFor(context.Background(), false, 200*time.Millisecond)
	if !stopped {
		t.Fatal("expected operation to stop within 200ms of interrupt")
	}
	if !op.Canceled() {
		t.Fatal("expected operation to be canceled")
	}
	if op.Finished() {
		t.Fatal("expected operation not to be finished")
	}
}
