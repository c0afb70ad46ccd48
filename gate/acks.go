package gate

// AckTracker records which peers acknowledged the current request round.
type AckTracker struct {
	acked map[PeerID]bool
}

func NewAckTracker() *AckTracker {
	return &AckTracker{acked: make(map[PeerID]bool)}
}

// Reset starts a new round.
func (a *AckTracker) Reset() {
	clear(a.acked)
}

func (a *AckTracker) Mark(peer PeerID) {
	a.acked[peer] = true
}

// IsComplete reports whether every peer in peers has acknowledged.
func (a *AckTracker) IsComplete(peers []PeerID) bool {
	for _, p := range peers {
		if !a.acked[p] {
			return false
		}
	}
	return true
}

func (a *AckTracker) Count() int {
	return len(a.acked)
}
