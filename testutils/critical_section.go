package testutils

import (
	"fmt"
	"sync"
	"time"

	"github.com/distcodep7/dsgate/gate"
)

// CriticalSection is a one-lane bridge: it records who is on it and reports
// any entry that crosses against traffic or exceeds the batch limit.
type CriticalSection struct {
	Limit  int
	Logger gate.Logger

	mu        sync.Mutex
	dir       gate.Direction
	occupants map[gate.PeerID]gate.Direction
	value     int
	maxSeen   int
	faults    []error
}

func NewCriticalSection(limit int) *CriticalSection {
	return &CriticalSection{Limit: limit}
}

// Enter puts peer on the bridge going dir. It always admits the peer so that
// a run can go on after a fault; the fault is returned and kept.
func (cs *CriticalSection) Enter(peer gate.PeerID, dir gate.Direction) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.occupants == nil {
		cs.occupants = make(map[gate.PeerID]gate.Direction)
	}

	_, inside := cs.occupants[peer]
	var err error
	switch {
	case inside:
		err = fmt.Errorf("peer %d entered twice", peer)
	case len(cs.occupants) > 0 && dir != cs.dir:
		err = fmt.Errorf("peer %d entered %s while %d peers cross %s", peer, dir, len(cs.occupants), cs.dir)
	case cs.Limit > 0 && len(cs.occupants)+1 > cs.Limit:
		err = fmt.Errorf("peer %d entered as holder %d, limit %d", peer, len(cs.occupants)+1, cs.Limit)
	}
	if err != nil {
		cs.faults = append(cs.faults, err)
	}

	if len(cs.occupants) == 0 {
		cs.dir = dir
	}
	cs.occupants[peer] = dir
	cs.value++
	if len(cs.occupants) > cs.maxSeen {
		cs.maxSeen = len(cs.occupants)
	}
	cs.logf("[%d] ENTER CS %s (%d on bridge)", peer, dir, len(cs.occupants))
	return err
}

func (cs *CriticalSection) Exit(peer gate.PeerID) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, ok := cs.occupants[peer]; !ok {
		err := fmt.Errorf("peer %d exited without entering", peer)
		cs.faults = append(cs.faults, err)
		return err
	}
	delete(cs.occupants, peer)
	cs.logf("[%d] EXIT CS", peer)
	return nil
}

// Work holds the bridge for duration, running f while on it.
func (cs *CriticalSection) Work(peer gate.PeerID, dir gate.Direction, duration time.Duration, f func()) error {
	enterErr := cs.Enter(peer, dir)
	if f != nil {
		f()
	}
	time.Sleep(duration)
	if err := cs.Exit(peer); err != nil {
		return err
	}
	return enterErr
}

// Value is the number of entries so far.
func (cs *CriticalSection) Value() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.value
}

// MaxConcurrent is the largest number of simultaneous occupants seen.
func (cs *CriticalSection) MaxConcurrent() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.maxSeen
}

func (cs *CriticalSection) Faults() []error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]error(nil), cs.faults...)
}

func (cs *CriticalSection) logf(format string, v ...any) {
	if cs.Logger != nil {
		cs.Logger.Printf(format, v...)
	}
}
