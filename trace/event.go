package trace

import (
	"time"

	"github.com/google/uuid"
)

type EvtType string

const (
	EvtTypeRegister   EvtType = "REGISTER"
	EvtTypeForward    EvtType = "FORWARD"
	EvtTypeBuffer     EvtType = "BUFFER"
	EvtTypeDisconnect EvtType = "DISCONNECT"

	// Recorded by nodes rather than the controller.
	EvtTypeSend EvtType = "SEND"
	EvtTypeRecv EvtType = "RECV"
)

// Event is one entry of the relay trace.
type Event struct {
	ID        string  `json:"id"`
	MessageID string  `json:"message_id,omitempty"`
	Timestamp int64   `json:"timestamp"` // wall clock, unix nanos
	EvtType   EvtType `json:"evt_type"`
	MsgType   string  `json:"msg_type,omitempty"`
	From      string  `json:"from,omitempty"`
	To        string  `json:"to,omitempty"`
	Direction string  `json:"direction,omitempty"`
	Lamport   uint64  `json:"lamport,omitempty"`
}

// NewEvent stamps a fresh event with an id and the current time.
func NewEvent(typ EvtType) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixNano(),
		EvtType:   typ,
	}
}
