// Package events implements the publish/subscribe primitive that SPEC_FULL.md
// calls the Observable: observers register interest in an event id with an
// optional filter, event ids can tap into one another so a single Schedule
// call fans out to every tapped id's observers, and delivery runs each
// observer's handler as a job on a shared modest.ThreadPool.
package events

import (
	"context"
	"sync"

	"github.com/r3e-labs/modest/pkg/logger"
	"github.com/r3e-labs/modest/system/modest"
)

// Event is the payload carried through a Schedule call. Schedule stamps the
// "id" and "sequenceId" keys before delivery; callers set whatever other
// keys their observers expect, plus the optional "parallel" bool.
type Event map[string]interface{}

func cloneEvent(e Event) Event {
	out := make(Event, len(e)+2)
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Filter matches an Event by subset inclusion: every key in the filter must
// be present in the event with an equal value. A nil or empty Filter matches
// everything.
type Filter map[string]interface{}

// Match reports whether e contains every key/value pair in f.
func (f Filter) Match(e Event) bool {
	for k, v := range f {
		ev, ok := e[k]
		if !ok || ev != v {
			return false
		}
	}
	return true
}

// Observer receives delivered events.
type Observer interface {
	HandleEvent(ctx context.Context, event Event)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(ctx context.Context, event Event)

// HandleEvent calls f.
func (f ObserverFunc) HandleEvent(ctx context.Context, event Event) { f(ctx, event) }

// Registration is the handle returned by Register, used to Unregister later.
type Registration struct {
	id int64
}

type registration struct {
	id       int64
	observer Observer
	eventID  string
	filter   Filter

	mu       sync.Mutex
	idle     *sync.Cond
	inflight int
}

func (r *registration) beginDelivery() {
	r.mu.Lock()
	r.inflight++
	r.mu.Unlock()
}

func (r *registration) endDelivery() {
	r.mu.Lock()
	r.inflight--
	if r.inflight == 0 && r.idle != nil {
		r.idle.Broadcast()
	}
	r.mu.Unlock()
}

// waitIdle blocks until no delivery is in flight for this registration.
func (r *registration) waitIdle() {
	r.mu.Lock()
	if r.idle == nil {
		r.idle = sync.NewCond(&r.mu)
	}
	for r.inflight > 0 {
		r.idle.Wait()
	}
	r.mu.Unlock()
}

type deliveryKey struct{}

// currentDeliveryID reports the registration id whose delivery is running on
// ctx, if any.
func currentDeliveryID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(deliveryKey{}).(int64)
	return id, ok
}

type scheduledEvent struct {
	event Event
	id    string
}

// Observable is a registry of observers keyed by event id, with a delivery
// loop that pumps scheduled events through a ThreadPool.
type Observable struct {
	mu   sync.RWMutex
	regs map[string][]*registration
	taps map[string]map[string]struct{}

	nextRegID int64
	seq       uint64

	pool *modest.ThreadPool
	log  *logger.Logger

	queue   chan scheduledEvent
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewObservable creates an Observable dispatching asynchronous deliveries
// through pool. log may be nil, in which case a default logger is created.
func NewObservable(pool *modest.ThreadPool, log *logger.Logger) *Observable {
	if log == nil {
		log = logger.NewDefault("events")
	}
	return &Observable{
		regs: make(map[string][]*registration),
		taps: make(map[string]map[string]struct{}),
		pool: pool,
		log:  log,
		queue: make(chan scheduledEvent, 1024),
	}
}

// Start runs the asynchronous delivery loop until ctx is done or Stop is
// called.
func (o *Observable) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})
	o.mu.Unlock()

	go o.loop(ctx)
}

// Stop halts the delivery loop and waits for it to exit. Events already
// queued but not yet delivered are discarded.
func (o *Observable) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	stopCh := o.stopCh
	doneCh := o.doneCh
	o.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (o *Observable) loop(ctx context.Context) {
	defer close(o.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case se := <-o.queue:
			o.deliver(ctx, se.event, se.id)
		}
	}
}

// Register subscribes observer to events scheduled under eventID whose
// payload matches filter (nil matches every event). It returns a handle for
// Unregister.
func (o *Observable) Register(observer Observer, eventID string, filter Filter) Registration {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextRegID++
	r := &registration{id: o.nextRegID, observer: observer, eventID: eventID, filter: filter}
	o.regs[eventID] = append(o.regs[eventID], r)
	return Registration{id: r.id}
}

// Unregister removes a prior Register. If the registration has a delivery
// in flight, Unregister blocks until it completes — unless ctx is the
// context passed into that very delivery's HandleEvent call, in which case
// it returns immediately to avoid a self-deadlock.
func (o *Observable) Unregister(ctx context.Context, h Registration) {
	o.mu.Lock()
	var removed *registration
	for evID, list := range o.regs {
		for i, r := range list {
			if r.id == h.id {
				removed = r
				o.regs[evID] = append(append([]*registration{}, list[:i]...), list[i+1:]...)
				break
			}
		}
		if removed != nil {
			break
		}
	}
	o.mu.Unlock()

	if removed == nil {
		return
	}
	if current, ok := currentDeliveryID(ctx); ok && current == removed.id {
		return
	}
	removed.waitIdle()
}

// AddTap declares that events scheduled under id also dispatch to every
// observer registered for tap. A self-tap (id taps itself) is always in
// effect, even without an explicit AddTap call.
func (o *Observable) AddTap(id, tap string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	set, ok := o.taps[id]
	if !ok {
		set = map[string]struct{}{id: {}}
		o.taps[id] = set
	}
	set[tap] = struct{}{}
}

func (o *Observable) tappedIDs(id string) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	set, ok := o.taps[id]
	if !ok {
		return []string{id}
	}
	ids := make([]string, 0, len(set))
	for k := range set {
		ids = append(ids, k)
	}
	return ids
}

// nextSequence returns a strictly increasing sequence number, wrapping from
// the uint64 maximum back to 1 rather than to 0.
func (o *Observable) nextSequence() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	if o.seq == 0 {
		o.seq = 1
	}
	return o.seq
}

// Schedule stamps event with its id and a sequence number and dispatches it
// to every observer registered for id or any id tapping into it. When async
// is false, Schedule delivers inline and blocks until every observer has
// run, unless the event's "parallel" key is true, in which case it returns
// once the deliveries are submitted. When async is true, the event is queued for the delivery loop
// started by Start; within the loop, an event dispatches serially with
// respect to the next queued event unless its "parallel" key is true, in
// which case the loop moves on to the next event without waiting for this
// one's deliveries to finish.
func (o *Observable) Schedule(event Event, id string, async bool) Event {
	e := cloneEvent(event)
	e["id"] = id
	e["sequenceId"] = o.nextSequence()

	if !async {
		o.deliver(context.Background(), e, id)
		return e
	}

	select {
	case o.queue <- scheduledEvent{event: e, id: id}:
	default:
		o.log.WithField("event_id", id).Warn("observable queue full, event dropped")
	}
	return e
}

func (o *Observable) matchingRegistrations(id string, event Event) []*registration {
	ids := o.tappedIDs(id)

	o.mu.RLock()
	defer o.mu.RUnlock()

	var targets []*registration
	seen := make(map[int64]bool)
	for _, tid := range ids {
		for _, r := range o.regs[tid] {
			if seen[r.id] {
				continue
			}
			if r.filter == nil || r.filter.Match(event) {
				targets = append(targets, r)
				seen[r.id] = true
			}
		}
	}
	return targets
}

func (o *Observable) deliver(ctx context.Context, event Event, id string) {
	targets := o.matchingRegistrations(id, event)
	if len(targets) == 0 {
		return
	}

	parallel, _ := event["parallel"].(bool)

	var wg sync.WaitGroup
	for _, r := range targets {
		r.beginDelivery()
		wg.Add(1)
		reg := r
		job := func(jctx context.Context, _ *modest.Thread) {
			defer wg.Done()
			defer reg.endDelivery()
			deliveryCtx := context.WithValue(jctx, deliveryKey{}, reg.id)
			reg.observer.HandleEvent(deliveryCtx, event)
		}
		if o.pool != nil {
			go o.pool.RunJob(ctx, job)
		} else {
			go func() { job(ctx, nil) }()
		}
	}

	if !parallel {
		wg.Wait()
	}
}
