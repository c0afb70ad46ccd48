package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/distcodep7/dsgate/gate"
	"github.com/google/uuid"
)

// Control envelope types exchanged between a node and the controller.
const (
	TypeHandshake  = "HANDSHAKE"
	TypeRegistered = "REGISTERED"
)

// ControllerName is the destination of control envelopes.
const ControllerName = "CTRL"

// BaseMessage is the addressing header every envelope carries.
type BaseMessage struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// Envelope is what travels on the relay stream.
type Envelope struct {
	BaseMessage
	ID        string `json:"id"`
	Direction string `json:"direction,omitempty"`
	Timestamp uint64 `json:"timestamp"`
}

// PeerName maps a peer id to its node name, e.g. 0 -> "N0".
func PeerName(id gate.PeerID) string {
	return "N" + strconv.Itoa(int(id))
}

// ParsePeerName is the inverse of PeerName.
func ParsePeerName(name string) (gate.PeerID, error) {
	rest, ok := strings.CutPrefix(name, "N")
	if !ok {
		return 0, fmt.Errorf("wire: invalid peer name %q", name)
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("wire: invalid peer name %q", name)
	}
	return gate.PeerID(n), nil
}

// FromMessage wraps a protocol message for the relay.
func FromMessage(to gate.PeerID, msg gate.Message) *Envelope {
	env := &Envelope{
		BaseMessage: BaseMessage{
			From: PeerName(msg.From),
			To:   PeerName(to),
			Type: msg.Kind.String(),
		},
		ID:        uuid.NewString(),
		Timestamp: msg.Timestamp,
	}
	if msg.Kind == gate.KindRequest || msg.Kind == gate.KindRelease {
		env.Direction = msg.Direction.String()
	}
	return env
}

// Message unwraps a protocol envelope.
func (e *Envelope) Message() (gate.Message, error) {
	from, err := ParsePeerName(e.From)
	if err != nil {
		return gate.Message{}, err
	}
	kind, err := gate.ParseKind(e.Type)
	if err != nil {
		return gate.Message{}, err
	}
	msg := gate.Message{From: from, Kind: kind, Timestamp: e.Timestamp}
	if kind == gate.KindRequest || kind == gate.KindRelease {
		dir, err := gate.ParseDirection(e.Direction)
		if err != nil {
			return gate.Message{}, fmt.Errorf("wire: %s from %s: %w", e.Type, e.From, err)
		}
		msg.Direction = dir
	}
	return msg, nil
}

// Control builds a control envelope.
func Control(from, to, typ string) *Envelope {
	return &Envelope{
		BaseMessage: BaseMessage{From: from, To: to, Type: typ},
		ID:          uuid.NewString(),
	}
}
