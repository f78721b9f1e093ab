package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/r3e-labs/modest/system/modest"
)

type recordingObserver struct {
	mu   sync.Mutex
	seen []uint64
	gate chan struct{} // if non-nil, HandleEvent blocks on it
}

func (r *recordingObserver) HandleEvent(ctx context.Context, e Event) {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	r.seen = append(r.seen, e["sequenceId"].(uint64))
	r.mu.Unlock()
}

func (r *recordingObserver) snapshot() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.seen))
	copy(out, r.seen)
	return out
}

func TestScheduleSerialOrderingAcrossObservers(t *testing.T) {
	pool := modest.NewThreadPool(4, time.Second)
	o := NewObservable(pool, nil)
	o.Start(context.Background())
	defer o.Stop()

	a := &recordingObserver{}
	b := &recordingObserver{}
	o.Register(a, "42", nil)
	o.Register(b, "42", nil)

	e1 := o.Schedule(Event{"payload": 1}, "42", true)
	e2 := o.Schedule(Event{"payload": 2}, "42", true)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(a.snapshot()) >= 2 && len(b.snapshot()) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	aSeen, bSeen := a.snapshot(), b.snapshot()
	if len(aSeen) != 2 || len(bSeen) != 2 {
		t.Fatalf("expected both observers to see 2 events, got a=%v b=%v", aSeen, bSeen)
	}
	if aSeen[0] != e1["sequenceId"] || aSeen[1] != e2["sequenceId"] {
		t.Fatalf("expected A to see e1 before e2, got %v", aSeen)
	}
	if bSeen[0] != e1["sequenceId"] || bSeen[1] != e2["sequenceId"] {
		t.Fatalf("expected B to see e1 before e2, got %v", bSeen)
	}
}

func TestScheduleSerialEventWaitsForAllObserversBeforeNext(t *testing.T) {
	pool := modest.NewThreadPool(4, time.Second)
	o := NewObservable(pool, nil)
	o.Start(context.Background())
	defer o.Stop()

	gate := make(chan struct{})
	a := &recordingObserver{gate: gate}
	b := &recordingObserver{}
	o.Register(a, "7", nil)
	o.Register(b, "7", nil)

	o.Schedule(Event{}, "7", true)
	o.Schedule(Event{}, "7", true)

	time.Sleep(100 * time.Millisecond)
	if len(b.snapshot()) != 1 {
		t.Fatal("expected B to not receive the second event while A is still blocked on the first")
	}

	close(gate)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(a.snapshot()) >= 2 && len(b.snapshot()) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(a.snapshot()) != 2 || len(b.snapshot()) != 2 {
		t.Fatalf("expected both observers to eventually see both events once unblocked")
	}
}

func TestFilterMatchesSubset(t *testing.T) {
	f := Filter{"kind": "deposit"}
	if !f.Match(Event{"kind": "deposit", "amount": 10}) {
		t.Fatal("expected filter to match a superset event")
	}
	if f.Match(Event{"kind": "withdrawal"}) {
		t.Fatal("expected filter to reject a mismatched value")
	}
	if f.Match(Event{"amount": 10}) {
		t.Fatal("expected filter to reject a missing key")
	}
}

func TestAddTapFansOutToTappedObservers(t *testing.T) {
	o := NewObservable(nil, nil)
	a := &recordingObserver{}
	o.Register(a, "summary", nil)
	o.AddTap("detail", "summary")

	e := o.Schedule(Event{}, "detail", false)

	seen := a.snapshot()
	if len(seen) != 1 || seen[0] != e["sequenceId"] {
		t.Fatalf("expected the tapped observer to receive the event, got %v", seen)
	}
}

func TestUnregisterWaitsForInFlightDelivery(t *testing.T) {
	o := NewObservable(nil, nil)
	gate := make(chan struct{})
	a := &recordingObserver{gate: gate}
	h := o.Register(a, "x", nil)

	go o.Schedule(Event{}, "x", false)
	time.Sleep(20 * time.Millisecond)

	unregistered := make(chan struct{})
	go func() {
		o.Unregister(context.Background(), h)
		close(unregistered)
	}()

	select {
	case <-unregistered:
		t.Fatal("expected Unregister to block while delivery is in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case <-unregistered:
	case <-time.After(time.Second):
		t.Fatal("expected Unregister to return once delivery finished")
	}
}

func TestUnregisterFromWithinOwnDeliveryDoesNotDeadlock(t *testing.T) {
	o := NewObservable(nil, nil)
	var h Registration
	done := make(chan struct{})
	self := ObserverFunc(func(ctx context.Context, e Event) {
		o.Unregister(ctx, h)
		close(done)
	})
	h = o.Register(self, "y", nil)

	o.Schedule(Event{}, "y", false)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected self-unregister to return without deadlocking")
	}
}

func TestSequenceIDStrictlyIncreases(t *testing.T) {
	o := NewObservable(nil, nil)
	var last uint64
	for i := 0; i < 5; i++ {
		e := o.Schedule(Event{}, "z", false)
		seq := e["sequenceId"].(uint64)
		if seq <= last {
			t.Fatalf("expected strictly increasing sequence ids, got %d after %d", seq, last)
		}
		last = seq
	}
}

func TestSequenceIDWrapsToOne(t *testing.T) {
	o := NewObservable(nil, nil)
	o.seq = ^uint64(0)
	e := o.Schedule(Event{}, "w", false)
	if e["sequenceId"].(uint64) != 1 {
		t.Fatalf("expected sequence id to wrap to 1, got %d", e["sequenceId"])
	}
}
