package gate

// Clock is a Lamport scalar clock. It is owned by a single engine and is not
// safe for concurrent use.
type Clock struct {
	time uint64
}

// Tick advances the clock for an outgoing message and returns the stamp.
func (c *Clock) Tick() uint64 {
	c.time++
	return c.time
}

// Observe merges a received stamp: time = max(time, ts) + 1.
func (c *Clock) Observe(ts uint64) uint64 {
	c.time = max(c.time, ts) + 1
	return c.time
}

func (c *Clock) Now() uint64 {
	return c.time
}
