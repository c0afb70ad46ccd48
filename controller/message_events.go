package controller

import (
	"math/rand"
	"sync"
	"time"
)

// JitterConfig delays forwarding to shake up the interleaving of different
// senders. The delay is taken on the sender's own stream goroutine, so the
// order of one sender's envelopes is never changed.
type JitterConfig struct {
	Prob     float64
	MinDelay time.Duration
	MaxDelay time.Duration
	Seed     int64
}

type jitter struct {
	cfg   JitterConfig
	rng   *rand.Rand
	rngMu sync.Mutex
}

func newJitter(cfg JitterConfig) *jitter {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &jitter{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// probCheck returns true with probability p.
func (j *jitter) probCheck(p float64) bool {
	j.rngMu.Lock()
	r := j.rng.Float64()
	j.rngMu.Unlock()
	return r < p
}

// randDuration returns a pseudo-random duration in [min, max].
func (j *jitter) randDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	j.rngMu.Lock()
	v := j.rng.Int63n(int64(max-min) + 1)
	j.rngMu.Unlock()
	return min + time.Duration(v)
}

// delay returns how long the next envelope should wait, zero for most.
func (j *jitter) delay() time.Duration {
	if j == nil || j.cfg.Prob <= 0 || !j.probCheck(j.cfg.Prob) {
		return 0
	}
	return j.randDuration(j.cfg.MinDelay, j.cfg.MaxDelay)
}
