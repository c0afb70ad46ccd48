// Package predicates checks relay traces of a gate run.
package predicates

import (
	"fmt"

	"github.com/distcodep7/dsgate/gate"
	"github.com/distcodep7/dsgate/testing/harness"
)

func protocol(trace []*harness.Observation) []*harness.Observation {
	match := harness.Forwarded("")
	var out []*harness.Observation
	for _, o := range trace {
		if !match(o) {
			continue
		}
		if _, err := gate.ParseKind(o.Type); err == nil {
			out = append(out, o)
		}
	}
	return out
}

// ClockMonotonic checks that every sender stamps its messages with
// non-decreasing Lamport values.
func ClockMonotonic(trace []*harness.Observation) error {
	last := make(map[string]uint64)
	for _, o := range protocol(trace) {
		if prev, ok := last[o.From]; ok && o.Lamport < prev {
			return fmt.Errorf("%s sent %s at t%d after t%d", o.From, o.Type, o.Lamport, prev)
		}
		last[o.From] = o.Lamport
	}
	return nil
}

// KindCounts tallies relayed messages per kind.
func KindCounts(trace []*harness.Observation) map[gate.Kind]int {
	counts := make(map[gate.Kind]int)
	for _, o := range protocol(trace) {
		k, _ := gate.ParseKind(o.Type)
		counts[k]++
	}
	return counts
}

// AcksAnswerRequests checks that no peer acknowledges another more often
// than it was asked. When complete is true every request must have been
// answered, which holds for runs where no peer terminated early.
func AcksAnswerRequests(trace []*harness.Observation, complete bool) error {
	type pair struct{ from, to string }
	requests := make(map[pair]int)
	acks := make(map[pair]int)
	for _, o := range protocol(trace) {
		switch o.Type {
		case gate.KindRequest.String():
			requests[pair{o.From, o.To}]++
		case gate.KindAck.String():
			acks[pair{o.To, o.From}]++
		}
	}
	for p, n := range acks {
		if n > requests[p] {
			return fmt.Errorf("%s got %d acks from %s for %d requests", p.from, n, p.to, requests[p])
		}
	}
	if complete {
		for p, n := range requests {
			if acks[p] != n {
				return fmt.Errorf("%s sent %d requests to %s, got %d acks", p.from, n, p.to, acks[p])
			}
		}
	}
	return nil
}

// RoundsAlternate checks that each sender's requests and releases to every
// destination alternate, starting with a request.
func RoundsAlternate(trace []*harness.Observation) error {
	type pair struct{ from, to string }
	open := make(map[pair]bool)
	for _, o := range protocol(trace) {
		p := pair{o.From, o.To}
		switch o.Type {
		case gate.KindRequest.String():
			if open[p] {
				return fmt.Errorf("%s requested twice from %s without releasing", o.From, o.To)
			}
			open[p] = true
		case gate.KindRelease.String():
			if !open[p] {
				return fmt.Errorf("%s released to %s without a request", o.From, o.To)
			}
			open[p] = false
		}
	}
	return nil
}
