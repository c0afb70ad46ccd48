package gate

// Gate holds the currently open direction and decides whose turn it is.
type Gate struct {
	dir    Direction
	batch  int
	policy FlipPolicy
}

func NewGate(initial Direction, batch int, policy FlipPolicy) *Gate {
	return &Gate{dir: initial, batch: batch, policy: policy}
}

func (g *Gate) Direction() Direction {
	return g.dir
}

// MyTurn reports whether peer may cross now: the head of q must be going the
// open direction and peer must be among the first Batch entries going that
// way.
func (g *Gate) MyTurn(q *Queue, peer PeerID) bool {
	head, ok := q.Head()
	if !ok || head.Direction != g.dir {
		return false
	}
	pos := q.PositionAmong(g.dir, peer)
	return pos > 0 && pos <= g.batch
}

// OnRelease applies a RELEASE carrying released. q must already have the
// releasing peer's entry removed.
func (g *Gate) OnRelease(released Direction, q *Queue) {
	switch g.policy {
	case FlipOnRelease:
		if released == g.dir {
			g.dir = g.dir.Opposite()
		}
	case FlipOnDrain:
		g.Settle(q)
	}
}

// Settle re-points a draining gate at the direction of the queue head. It is
// a no-op for FlipOnRelease and for an empty queue.
func (g *Gate) Settle(q *Queue) {
	if g.policy != FlipOnDrain {
		return
	}
	if head, ok := q.Head(); ok && head.Direction != g.dir {
		g.dir = head.Direction
	}
}
