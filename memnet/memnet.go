// Package memnet is an in-process gate.Link: every peer owns an unbounded
// FIFO mailbox and sends are appended to the receiver's mailbox directly.
package memnet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/distcodep7/dsgate/gate"
)

var ErrClosed = errors.New("memnet: mailbox closed")

// Mailbox is an unbounded FIFO queue with a blocking, cancellable Take.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
	closed bool
}

func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{notify: make(chan struct{}, 1)}
}

// Put appends v. It never blocks.
func (m *Mailbox[T]) Put(v T) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.items = append(m.items, v)
	select {
	case m.notify <- struct{}{}:
	default:
	}
	m.mu.Unlock()
	return nil
}

// Take removes the oldest item, waiting until one arrives, ctx is done or the
// mailbox is closed and drained.
func (m *Mailbox[T]) Take(ctx context.Context) (T, error) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			v := m.items[0]
			var zero T
			m.items[0] = zero
			m.items = m.items[1:]
			m.mu.Unlock()
			return v, nil
		}
		closed := m.closed
		m.mu.Unlock()

		var zero T
		if closed {
			return zero, ErrClosed
		}
		select {
		case <-m.notify:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close rejects further puts. Items already queued can still be taken.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.notify)
}

// Network connects a fixed set of peers 0..n-1.
type Network struct {
	boxes []*Mailbox[gate.Message]

	mu   sync.Mutex
	sent map[gate.Kind]int
}

func New(n int) *Network {
	net := &Network{
		boxes: make([]*Mailbox[gate.Message], n),
		sent:  make(map[gate.Kind]int),
	}
	for i := range net.boxes {
		net.boxes[i] = NewMailbox[gate.Message]()
	}
	return net
}

// Link returns the endpoint of peer id.
func (n *Network) Link(id gate.PeerID) *Endpoint {
	return &Endpoint{net: n, id: id}
}

// Pending returns the number of undelivered messages for id.
func (n *Network) Pending(id gate.PeerID) int {
	return n.boxes[id].Len()
}

// Sent returns how many messages of kind have been sent so far.
func (n *Network) Sent(kind gate.Kind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[kind]
}

func (n *Network) Close() {
	for _, b := range n.boxes {
		b.Close()
	}
}

// Endpoint implements gate.Link for one peer.
type Endpoint struct {
	net *Network
	id  gate.PeerID
}

func (e *Endpoint) Send(ctx context.Context, to gate.PeerID, msg gate.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to < 0 || int(to) >= len(e.net.boxes) {
		return fmt.Errorf("memnet: unknown destination %d", to)
	}
	msg.From = e.id
	if err := e.net.boxes[to].Put(msg); err != nil {
		return err
	}
	e.net.mu.Lock()
	e.net.sent[msg.Kind]++
	e.net.mu.Unlock()
	return nil
}

func (e *Endpoint) Recv(ctx context.Context) (gate.Message, error) {
	return e.net.boxes[e.id].Take(ctx)
}
