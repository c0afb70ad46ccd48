package gate

import (
	"fmt"
	"slices"
)

// Request is a demand to enter, local or learned from a peer.
type Request struct {
	Timestamp uint64
	Peer      PeerID
	Direction Direction
}

// Less orders requests by (timestamp, peer) ascending. Peer ids are unique,
// so two distinct requests never compare equal.
func (r Request) Less(o Request) bool {
	if r.Timestamp != o.Timestamp {
		return r.Timestamp < o.Timestamp
	}
	return r.Peer < o.Peer
}

func (r Request) String() string {
	return fmt.Sprintf("(t%d, %d, %s)", r.Timestamp, r.Peer, r.Direction)
}

// Queue is a peer's local view of outstanding requests. It holds at most one
// entry per peer.
type Queue struct {
	order Ordering
	items []Request
}

func NewQueue(order Ordering) *Queue {
	return &Queue{order: order}
}

// Insert adds r. With ArrivalOrder it goes to the tail; with TimestampOrder
// it goes to its sorted position. An older entry of the same peer is
// replaced.
func (q *Queue) Insert(r Request) {
	q.RemoveByPeer(r.Peer)
	if q.order == ArrivalOrder {
		q.items = append(q.items, r)
		return
	}
	i, _ := slices.BinarySearchFunc(q.items, r, func(a, b Request) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	q.items = slices.Insert(q.items, i, r)
}

// RemoveByPeer deletes the entry owned by peer and reports whether one was
// found.
func (q *Queue) RemoveByPeer(peer PeerID) bool {
	i := q.index(peer)
	if i < 0 {
		return false
	}
	q.items = slices.Delete(q.items, i, i+1)
	return true
}

func (q *Queue) Head() (Request, bool) {
	if len(q.items) == 0 {
		return Request{}, false
	}
	return q.items[0], true
}

// PositionAmong counts entries going dir, in queue order, up to and including
// the entry of peer (1-based). It returns 0 when peer has no entry going dir.
func (q *Queue) PositionAmong(dir Direction, peer PeerID) int {
	pos := 0
	for _, r := range q.items {
		if r.Direction != dir {
			continue
		}
		pos++
		if r.Peer == peer {
			return pos
		}
	}
	return 0
}

// Get returns the entry owned by peer.
func (q *Queue) Get(peer PeerID) (Request, bool) {
	i := q.index(peer)
	if i < 0 {
		return Request{}, false
	}
	return q.items[i], true
}

func (q *Queue) Len() int {
	return len(q.items)
}

// Snapshot returns a copy of the entries in queue order.
func (q *Queue) Snapshot() []Request {
	return slices.Clone(q.items)
}

func (q *Queue) index(peer PeerID) int {
	return slices.IndexFunc(q.items, func(r Request) bool { return r.Peer == peer })
}
