package gate

import "context"

// Link is the point-to-point messaging substrate between peers. It must be
// reliable, free of duplicates and FIFO per sender. Recv returns the next
// message from any sender and is the only place an engine blocks.
type Link interface {
	Send(ctx context.Context, to PeerID, msg Message) error
	Recv(ctx context.Context) (Message, error)
}
