package gate

import (
	"fmt"
	"strings"
)

// Ordering selects how the pending queue orders its entries.
type Ordering int

const (
	// ArrivalOrder appends each request at the tail, in the order it was seen.
	ArrivalOrder Ordering = iota
	// TimestampOrder keeps entries sorted by (timestamp, peer).
	TimestampOrder
)

func (o Ordering) String() string {
	switch o {
	case ArrivalOrder:
		return "arrival"
	case TimestampOrder:
		return "timestamp"
	default:
		return fmt.Sprintf("Ordering(%d)", int(o))
	}
}

func ParseOrdering(s string) (Ordering, error) {
	switch strings.ToLower(s) {
	case "arrival":
		return ArrivalOrder, nil
	case "timestamp", "ts":
		return TimestampOrder, nil
	}
	return 0, fmt.Errorf("gate: unknown ordering %q", s)
}

// FlipPolicy selects when the gate changes direction.
type FlipPolicy int

const (
	// FlipOnRelease toggles the gate on every release that carries the
	// currently open direction.
	FlipOnRelease FlipPolicy = iota
	// FlipOnDrain points the gate at the direction of the oldest pending
	// request, so it only flips once the open direction has drained from the
	// head of the queue.
	FlipOnDrain
)

func (p FlipPolicy) String() string {
	switch p {
	case FlipOnRelease:
		return "release"
	case FlipOnDrain:
		return "drain"
	default:
		return fmt.Sprintf("FlipPolicy(%d)", int(p))
	}
}

func ParseFlipPolicy(s string) (FlipPolicy, error) {
	switch strings.ToLower(s) {
	case "release":
		return FlipOnRelease, nil
	case "drain":
		return FlipOnDrain, nil
	}
	return 0, fmt.Errorf("gate: unknown flip policy %q", s)
}

// Config holds the options of one engine. All peers of a run must share the
// same values.
type Config struct {
	// Peers is N, the fixed membership size.
	Peers int
	// Batch is Y, the number of same-direction requests admitted per opening.
	Batch       int
	InitialGate Direction
	Order       Ordering
	Flip        FlipPolicy
	// DeferAcks remembers withheld acknowledgments and sends them on leave.
	DeferAcks bool
	Logger    Logger
}

const DefaultBatch = 2

// DefaultConfig returns the configuration that keeps the protocol live:
// timestamp-ordered queue, gate following the queue head, deferred acks.
func DefaultConfig(peers int) Config {
	return Config{
		Peers:       peers,
		Batch:       DefaultBatch,
		InitialGate: DirA,
		Order:       TimestampOrder,
		Flip:        FlipOnDrain,
		DeferAcks:   true,
	}
}

// BaselineConfig returns the unmodified protocol: arrival-ordered queue, a
// flip on every matching release seen from another peer and withheld acks
// that are never sent. The leaver does not flip its own gate. It can stall
// and is kept for comparison. FlipOnRelease stalls in practice even with
// TimestampOrder and DeferAcks.
func BaselineConfig(peers int) Config {
	return Config{
		Peers:       peers,
		Batch:       DefaultBatch,
		InitialGate: DirA,
		Order:       ArrivalOrder,
		Flip:        FlipOnRelease,
	}
}

func (c Config) validate(self PeerID) error {
	if c.Peers < 1 {
		return fmt.Errorf("gate: peer count must be positive, got %d", c.Peers)
	}
	if self < 0 || int(self) >= c.Peers {
		return fmt.Errorf("gate: peer id %d outside membership 0..%d", self, c.Peers-1)
	}
	if c.Batch < 1 {
		return fmt.Errorf("gate: batch bound must be positive, got %d", c.Batch)
	}
	if !c.InitialGate.valid() {
		return fmt.Errorf("gate: invalid initial direction %d", c.InitialGate)
	}
	if c.Order != ArrivalOrder && c.Order != TimestampOrder {
		return fmt.Errorf("gate: invalid ordering %d", c.Order)
	}
	if c.Flip != FlipOnRelease && c.Flip != FlipOnDrain {
		return fmt.Errorf("gate: invalid flip policy %d", c.Flip)
	}
	return nil
}
