// Package workload drives an engine the way a bridge user would: wait a
// while, ask to cross, cross, leave, repeat.
package workload

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/distcodep7/dsgate/gate"
)

// Section is told when the peer is actually on the bridge.
// *testutils.CriticalSection satisfies it.
type Section interface {
	Enter(peer gate.PeerID, dir gate.Direction) error
	Exit(peer gate.PeerID) error
}

type Config struct {
	Rounds int
	// Idle and Work are upper bounds; each phase lasts a random duration in
	// [0, bound].
	Idle time.Duration
	Work time.Duration
	// Direction picks the direction of a round. Nil means random.
	Direction func(round int) gate.Direction
	Seed      int64
	Section   Section
	Logger    gate.Logger
}

// Stats summarizes one run.
type Stats struct {
	Rounds  int
	MaxWait time.Duration
	Total   time.Duration
}

// Run plays cfg.Rounds rounds on e and terminates it. Messages are served
// during the idle and work phases. The first error ends the run.
func Run(ctx context.Context, e *gate.Engine, cfg Config) (Stats, error) {
	var st Stats
	logger := cfg.Logger
	if logger == nil {
		logger = gate.NoOpLogger{}
	}
	rng := rand.New(rand.NewSource(cfg.Seed + int64(e.Self())))

	for round := 0; round < cfg.Rounds; round++ {
		if err := serveFor(ctx, e, jitter(rng, cfg.Idle)); err != nil {
			return st, err
		}

		dir := gate.Direction(rng.Intn(2))
		if cfg.Direction != nil {
			dir = cfg.Direction(round)
		}

		start := time.Now()
		if err := e.Enter(ctx, dir); err != nil {
			return st, fmt.Errorf("round %d: enter: %w", round, err)
		}
		wait := time.Since(start)
		st.Total += wait
		if wait > st.MaxWait {
			st.MaxWait = wait
		}
		logger.Printf("[%d] round %d: crossing %s after %v", e.Self(), round, dir, wait)

		if cfg.Section != nil {
			if err := cfg.Section.Enter(e.Self(), dir); err != nil {
				logger.Printf("[%d] round %d: enter: %v", e.Self(), round, err)
			}
		}
		if err := serveFor(ctx, e, jitter(rng, cfg.Work)); err != nil {
			return st, err
		}
		if cfg.Section != nil {
			if err := cfg.Section.Exit(e.Self()); err != nil {
				logger.Printf("[%d] round %d: exit: %v", e.Self(), round, err)
			}
		}

		if err := e.Leave(ctx); err != nil {
			return st, fmt.Errorf("round %d: leave: %w", round, err)
		}
		st.Rounds++
	}
	return st, e.Terminate(ctx)
}

// serveFor answers peers for d, returning early only when ctx ends.
func serveFor(ctx context.Context, e *gate.Engine, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	if err := e.Serve(sctx); err != nil {
		return err
	}
	return ctx.Err()
}

func jitter(rng *rand.Rand, bound time.Duration) time.Duration {
	if bound <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(int64(bound) + 1))
}
