// Package gate implements a Lamport-ordered permission protocol for a shared
// resource that is crossed in one of two directions, like traffic on a
// one-lane bridge. Requests going the open direction proceed in batches of at
// most Batch, opposite requests wait for the gate to flip.
package gate

import (
	"errors"
	"fmt"
	"strings"
)

// PeerID identifies a peer. Membership is the fixed set 0..N-1.
type PeerID int

type Direction int

const (
	DirA Direction = iota
	DirB
)

func (d Direction) String() string {
	switch d {
	case DirA:
		return "A"
	case DirB:
		return "B"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirA {
		return DirB
	}
	return DirA
}

func (d Direction) valid() bool {
	return d == DirA || d == DirB
}

// ParseDirection accepts "A" or "B" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return DirA, nil
	case "B":
		return DirB, nil
	}
	return 0, fmt.Errorf("gate: unknown direction %q", s)
}

type State int

const (
	Released State = iota
	Wanted
	Held
)

func (s State) String() string {
	switch s {
	case Released:
		return "RELEASED"
	case Wanted:
		return "WANTED"
	case Held:
		return "HELD"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Kind is the message kind carried between peers.
type Kind int

const (
	KindRequest Kind = iota + 1
	KindAck
	KindRelease
	KindTerminate
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "REQUEST"
	case KindAck:
		return "ACK"
	case KindRelease:
		return "RELEASE"
	case KindTerminate:
		return "TERMINATE"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{KindRequest, KindAck, KindRelease, KindTerminate} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("gate: unknown message kind %q", s)
}

// Message is the tagged union exchanged over a Link. Direction is only
// meaningful for REQUEST and RELEASE.
type Message struct {
	From      PeerID
	Kind      Kind
	Direction Direction
	Timestamp uint64
}

func (m Message) String() string {
	switch m.Kind {
	case KindRequest, KindRelease:
		return fmt.Sprintf("%s(%s, t%d) from %d", m.Kind, m.Direction, m.Timestamp, m.From)
	default:
		return fmt.Sprintf("%s(t%d) from %d", m.Kind, m.Timestamp, m.From)
	}
}

// ErrProtocolViolation is returned when the caller drives the engine out of
// order, e.g. Leave while not HELD.
var ErrProtocolViolation = errors.New("gate: protocol violation")

type Logger interface {
	Printf(format string, v ...any)
}

type NoOpLogger struct{}

func (NoOpLogger) Printf(format string, v ...any) {}
