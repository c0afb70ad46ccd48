// Package harness watches a relay controller and keeps the trace of what it
// forwarded, for tests to query.
package harness

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/distcodep7/dsgate/controller"
	"github.com/distcodep7/dsgate/trace"
)

// Observation is a normalized, easy-to-query view of a controller event.
type Observation struct {
	Kind      trace.EvtType
	From      string
	To        string
	Type      string
	Direction string
	Lamport   uint64
	Time      time.Time
}

// Harness subscribes to controller events and retains a trace.
type Harness struct {
	Ctrl    *controller.Server
	events  chan *controller.Event
	done    chan struct{}
	traceMu sync.RWMutex
	trace   []*Observation
	closed  atomic.Bool
}

const defaultEventBuf = 4096

// New registers an observer channel on the controller. eventsBuf controls how
// many controller events are buffered.
func New(ctrlSrv *controller.Server, eventsBuf int) *Harness {
	if eventsBuf <= 0 {
		eventsBuf = defaultEventBuf
	}
	h := &Harness{
		Ctrl:   ctrlSrv,
		events: make(chan *controller.Event, eventsBuf),
		done:   make(chan struct{}),
		trace:  make([]*Observation, 0, 1024),
	}
	ctrlSrv.RegisterObserver(h.events)
	go h.loop()
	return h
}

// Close unregisters the observer and waits for buffered events to be traced.
// The trace stays readable.
func (h *Harness) Close() {
	if h.closed.Swap(true) {
		return
	}
	h.Ctrl.UnregisterObserver(h.events)
	close(h.events)
	<-h.done
}

func (h *Harness) loop() {
	defer close(h.done)
	for ev := range h.events {
		if ev == nil {
			continue
		}
		obs := &Observation{Kind: ev.Kind, Time: ev.RecvTime}
		if ev.Env != nil {
			obs.From = ev.Env.From
			obs.To = ev.Env.To
			obs.Type = ev.Env.Type
			obs.Direction = ev.Env.Direction
			obs.Lamport = ev.Env.Timestamp
		}
		h.traceMu.Lock()
		h.trace = append(h.trace, obs)
		h.traceMu.Unlock()
	}
}

// SnapshotTrace returns a copy of the current trace.
func (h *Harness) SnapshotTrace() []*Observation {
	h.traceMu.RLock()
	defer h.traceMu.RUnlock()
	out := make([]*Observation, len(h.trace))
	copy(out, h.trace)
	return out
}

// Count returns how many observations match pred.
func (h *Harness) Count(pred func(*Observation) bool) int {
	n := 0
	for _, o := range h.SnapshotTrace() {
		if pred(o) {
			n++
		}
	}
	return n
}

// WaitFor waits up to timeout for an observation matching pred and returns
// it, or nil.
func (h *Harness) WaitFor(ctx context.Context, timeout time.Duration, pred func(*Observation) bool) *Observation {
	ctx2, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, o := range h.SnapshotTrace() {
			if pred(o) {
				return o
			}
		}
		select {
		case <-ctx2.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Forwarded matches relayed protocol envelopes of the given type, or of any
// type when typ is empty. Held and later flushed envelopes count too.
func Forwarded(typ string) func(*Observation) bool {
	return func(o *Observation) bool {
		if o.Kind != trace.EvtTypeForward && o.Kind != trace.EvtTypeBuffer {
			return false
		}
		return typ == "" || o.Type == typ
	}
}
