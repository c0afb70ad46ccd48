package gate

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Engine is the per-peer state machine. It is driven from a single goroutine:
// Enter, Leave, Serve and Step must not be called concurrently.
type Engine struct {
	self   PeerID
	cfg    Config
	link   Link
	logger Logger

	clock Clock
	queue *Queue
	acks  *AckTracker
	gate  *Gate

	state      State
	want       Direction
	reqTS      uint64
	deferred   []PeerID
	others     []PeerID
	gone       map[PeerID]bool
	terminated bool
}

func New(self PeerID, link Link, cfg Config) (*Engine, error) {
	if err := cfg.validate(self); err != nil {
		return nil, err
	}
	if link == nil {
		return nil, fmt.Errorf("gate: nil link")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = NoOpLogger{}
	}
	others := make([]PeerID, 0, cfg.Peers-1)
	for i := 0; i < cfg.Peers; i++ {
		if PeerID(i) != self {
			others = append(others, PeerID(i))
		}
	}
	return &Engine{
		self:   self,
		cfg:    cfg,
		link:   link,
		logger: logger,
		queue:  NewQueue(cfg.Order),
		acks:   NewAckTracker(),
		gate:   NewGate(cfg.InitialGate, cfg.Batch, cfg.Flip),
		others: others,
		gone:   make(map[PeerID]bool),
	}, nil
}

// Enter requests the critical section going dir and blocks until granted.
func (e *Engine) Enter(ctx context.Context, dir Direction) error {
	if err := e.Request(ctx, dir); err != nil {
		return err
	}
	return e.Await(ctx)
}

// Request starts a round: it broadcasts REQUEST and queues the local request
// without waiting for the grant. Sends are not cut short by ctx. If no peer
// could be reached the engine is back in RELEASED and Request may be retried;
// after a partial broadcast it stays WANTED and the error is returned.
func (e *Engine) Request(ctx context.Context, dir Direction) error {
	if e.terminated {
		return fmt.Errorf("%w: request after terminate", ErrProtocolViolation)
	}
	if e.state != Released {
		return fmt.Errorf("%w: enter while %s", ErrProtocolViolation, e.state)
	}
	if !dir.valid() {
		return fmt.Errorf("gate: invalid direction %d", dir)
	}
	e.state = Wanted
	e.want = dir
	e.acks.Reset()
	ts := e.clock.Tick()
	e.reqTS = ts
	e.logf("requesting critical section (dir %s)", dir)
	sent, err := e.broadcast(ctx, Message{Kind: KindRequest, Direction: dir, Timestamp: ts})
	if err != nil && sent == 0 {
		// No peer saw the request, so the round never started.
		e.state = Released
		return err
	}
	e.queue.Insert(Request{Timestamp: ts, Peer: e.self, Direction: dir})
	e.gate.Settle(e.queue)
	return err
}

// Await dispatches incoming messages until every live peer has acknowledged
// and the gate grants the turn. A cancelled ctx aborts the wait for the next
// message but never a reply already being sent; Await may be called again.
func (e *Engine) Await(ctx context.Context) error {
	if e.state != Wanted {
		return fmt.Errorf("%w: await while %s", ErrProtocolViolation, e.state)
	}
	for !e.Ready() {
		if err := e.Step(ctx); err != nil {
			return err
		}
	}
	e.state = Held
	e.logf("in critical section (dir %s)", e.want)
	return nil
}

// Ready reports whether a pending request can be granted now.
func (e *Engine) Ready() bool {
	return e.state == Wanted &&
		e.acks.IsComplete(e.live()) &&
		e.gate.MyTurn(e.queue, e.self)
}

// Leave exits the critical section: it broadcasts RELEASE with the current
// gate direction, drops the local entry and sends any deferred acks. If no
// peer could be reached the engine stays HELD and Leave may be retried. Once
// any peer has the RELEASE the local exit completes and the error is
// returned.
func (e *Engine) Leave(ctx context.Context) error {
	if e.state != Held {
		return fmt.Errorf("%w: leave while %s", ErrProtocolViolation, e.state)
	}
	dir := e.gate.Direction()
	ts := e.clock.Tick()
	e.logf("leaving critical section (dir %s)", dir)
	sent, err := e.broadcast(ctx, Message{Kind: KindRelease, Direction: dir, Timestamp: ts})
	if err != nil && sent == 0 {
		return err
	}
	e.queue.RemoveByPeer(e.self)
	// Only a draining gate moves here; FlipOnRelease leaves the local view alone.
	e.gate.Settle(e.queue)
	e.state = Released
	return errors.Join(err, e.flushDeferred(ctx))
}

// Terminate tells every peer this one is done. Peers stop waiting for its
// acknowledgment. The engine cannot request again afterwards.
func (e *Engine) Terminate(ctx context.Context) error {
	if e.state != Released {
		return fmt.Errorf("%w: terminate while %s", ErrProtocolViolation, e.state)
	}
	if e.terminated {
		return nil
	}
	e.terminated = true
	e.logf("terminating")
	_, err := e.broadcast(ctx, Message{Kind: KindTerminate, Timestamp: e.clock.Tick()})
	return err
}

// Serve dispatches messages until ctx is done. It is meant for the idle and
// critical-section phases so peers keep getting answers. A done ctx is not
// an error.
func (e *Engine) Serve(ctx context.Context) error {
	for {
		msg, err := e.link.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := e.dispatch(ctx, msg); err != nil {
			return err
		}
	}
}

// Step blocks for one message and dispatches it. ctx bounds only the wait.
func (e *Engine) Step(ctx context.Context) error {
	msg, err := e.link.Recv(ctx)
	if err != nil {
		return err
	}
	return e.dispatch(ctx, msg)
}

// dispatch handles a received message. Replies go out even if the receive
// deadline has passed, since a received REQUEST must be answered or deferred.
func (e *Engine) dispatch(ctx context.Context, msg Message) error {
	return e.handle(context.WithoutCancel(ctx), msg)
}

func (e *Engine) handle(ctx context.Context, msg Message) error {
	if msg.From == e.self || !slices.Contains(e.others, msg.From) {
		return fmt.Errorf("gate: %s: unknown sender", msg)
	}
	e.clock.Observe(msg.Timestamp)

	switch msg.Kind {
	case KindRequest:
		return e.onRequest(ctx, msg)
	case KindAck:
		e.acks.Mark(msg.From)
	case KindRelease:
		e.queue.RemoveByPeer(msg.From)
		e.gate.OnRelease(msg.Direction, e.queue)
	case KindTerminate:
		e.gone[msg.From] = true
		e.queue.RemoveByPeer(msg.From)
		e.deferred = slices.DeleteFunc(e.deferred, func(p PeerID) bool { return p == msg.From })
		e.gate.Settle(e.queue)
	default:
		return fmt.Errorf("gate: %s: unknown kind", msg)
	}
	return nil
}

func (e *Engine) onRequest(ctx context.Context, msg Message) error {
	r := Request{Timestamp: msg.Timestamp, Peer: msg.From, Direction: msg.Direction}
	e.queue.Insert(r)
	e.gate.Settle(e.queue)

	if e.grants(r) {
		return e.sendAck(ctx, msg.From)
	}
	e.logf("withholding ack from %d %s", msg.From, r)
	if e.cfg.DeferAcks && !slices.Contains(e.deferred, msg.From) {
		e.deferred = append(e.deferred, msg.From)
	}
	return nil
}

// grants decides whether r is acknowledged on arrival.
func (e *Engine) grants(r Request) bool {
	switch e.state {
	case Held:
		// Same-direction arrivals queue behind the holder.
		return r.Direction == e.want && r.Direction == e.gate.Direction()
	case Wanted:
		return r.Less(Request{Timestamp: e.reqTS, Peer: e.self})
	default:
		return true
	}
}

func (e *Engine) flushDeferred(ctx context.Context) error {
	pending := e.deferred
	e.deferred = nil
	for i, p := range pending {
		if err := e.sendAck(ctx, p); err != nil {
			e.deferred = pending[i:]
			return err
		}
	}
	return nil
}

func (e *Engine) sendAck(ctx context.Context, to PeerID) error {
	msg := Message{From: e.self, Kind: KindAck, Timestamp: e.clock.Tick()}
	if err := e.link.Send(context.WithoutCancel(ctx), to, msg); err != nil {
		return fmt.Errorf("gate: send %s to %d: %w", msg.Kind, to, err)
	}
	return nil
}

// broadcast sends msg, stamped once, to every live peer and reports how many
// got it before the first failure.
func (e *Engine) broadcast(ctx context.Context, msg Message) (int, error) {
	msg.From = e.self
	ctx = context.WithoutCancel(ctx)
	for i, p := range e.live() {
		if err := e.link.Send(ctx, p, msg); err != nil {
			return i, fmt.Errorf("gate: send %s to %d: %w", msg.Kind, p, err)
		}
	}
	return len(e.live()), nil
}

// live returns the peers that have not terminated.
func (e *Engine) live() []PeerID {
	if len(e.gone) == 0 {
		return e.others
	}
	out := make([]PeerID, 0, len(e.others))
	for _, p := range e.others {
		if !e.gone[p] {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) logf(format string, v ...any) {
	e.logger.Printf("[%d] [t%d] "+format, append([]any{e.self, e.clock.Now()}, v...)...)
}

func (e *Engine) Self() PeerID { return e.self }

func (e *Engine) State() State { return e.state }

// Direction returns the local view of the open gate direction.
func (e *Engine) Direction() Direction { return e.gate.Direction() }

func (e *Engine) Clock() uint64 { return e.clock.Now() }

// Pending returns a copy of the local queue.
func (e *Engine) Pending() []Request { return e.queue.Snapshot() }

// Deferred returns the peers whose acknowledgment is being withheld.
func (e *Engine) Deferred() []PeerID { return slices.Clone(e.deferred) }
