// Package dsnet connects a gate engine to the relay controller over gRPC.
package dsnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/distcodep7/dsgate/gate"
	"github.com/distcodep7/dsgate/memnet"
	"github.com/distcodep7/dsgate/trace"
	"github.com/distcodep7/dsgate/wire"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrClosed is returned by Recv once the stream has ended and the inbox is
// drained.
var ErrClosed = errors.New("dsnet: node closed")

// Recorder receives SEND and RECV events. *trace.Store satisfies it.
type Recorder interface {
	Append(ev trace.Event) error
}

type NodeProps struct {
	Logger   gate.Logger
	Recorder Recorder
}

// Node is a gate.Link backed by a relay stream.
type Node struct {
	ID gate.PeerID

	conn   *grpc.ClientConn
	stream wire.RelayStreamClient
	cancel context.CancelFunc
	sendMu sync.Mutex

	inbox        *memnet.Mailbox[gate.Message]
	registeredCh chan struct{}
	recvDone     chan struct{}
	wg           sync.WaitGroup
	closeOnce    sync.Once

	logger   gate.Logger
	recorder Recorder
}

// NewNode dials the controller, performs the handshake and waits for the
// controller to confirm registration. It fails early if the stream ends
// first, e.g. when the id is already taken.
func NewNode(ctx context.Context, id gate.PeerID, controllerAddr string, props NodeProps) (*Node, error) {
	conn, err := grpc.NewClient(controllerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to controller at %s: %w", controllerAddr, err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := wire.NewRelayClient(conn).Stream(streamCtx)
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	logger := props.Logger
	if logger == nil {
		logger = gate.NoOpLogger{}
	}
	n := &Node{
		ID:           id,
		conn:         conn,
		stream:       stream,
		cancel:       cancel,
		inbox:        memnet.NewMailbox[gate.Message](),
		registeredCh: make(chan struct{}),
		recvDone:     make(chan struct{}),
		logger:       logger,
		recorder:     props.Recorder,
	}

	hello, err := wire.Encode(wire.Control(wire.PeerName(id), wire.ControllerName, wire.TypeHandshake))
	if err == nil {
		err = stream.Send(hello)
	}
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("handshake failed: %w", err)
	}

	n.wg.Add(1)
	go n.runRecvLoop()

	select {
	case <-n.registeredCh:
		return n, nil
	case <-n.recvDone:
		select {
		case <-n.registeredCh:
			return n, nil
		default:
		}
		n.Close()
		return nil, fmt.Errorf("stream to %s closed before registration", controllerAddr)
	case <-ctx.Done():
		n.Close()
		return nil, ctx.Err()
	}
}

// Send relays msg to peer to. Calls may come from any goroutine.
func (n *Node) Send(ctx context.Context, to gate.PeerID, msg gate.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg.From = n.ID
	env := wire.FromMessage(to, msg)
	s, err := wire.Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg, err)
	}

	n.sendMu.Lock()
	err = n.stream.Send(s)
	n.sendMu.Unlock()
	if err != nil {
		return fmt.Errorf("gRPC send failed: %w", err)
	}
	n.record(trace.EvtTypeSend, env)
	return nil
}

// Recv returns the next protocol message from any peer.
func (n *Node) Recv(ctx context.Context) (gate.Message, error) {
	msg, err := n.inbox.Take(ctx)
	if errors.Is(err, memnet.ErrClosed) {
		return gate.Message{}, ErrClosed
	}
	return msg, err
}

// Close ends the stream and waits for the receive loop to exit.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.sendMu.Lock()
		n.stream.CloseSend()
		n.sendMu.Unlock()
		n.cancel()
		err = n.conn.Close()
		n.wg.Wait()
		n.inbox.Close()
	})
	return err
}

func (n *Node) runRecvLoop() {
	defer n.wg.Done()
	defer close(n.recvDone)
	defer n.inbox.Close()

	registered := false
	for {
		in, err := n.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			n.logger.Printf("[%s] stream error: %v", wire.PeerName(n.ID), err)
			return
		}

		env, err := wire.Decode(in)
		if err != nil {
			n.logger.Printf("[%s] dropping undecodable envelope: %v", wire.PeerName(n.ID), err)
			continue
		}
		if env.Type == wire.TypeRegistered {
			if !registered {
				registered = true
				close(n.registeredCh)
			}
			continue
		}

		msg, err := env.Message()
		if err != nil {
			n.logger.Printf("[%s] dropping %s from %s: %v", wire.PeerName(n.ID), env.Type, env.From, err)
			continue
		}
		n.record(trace.EvtTypeRecv, env)
		if err := n.inbox.Put(msg); err != nil {
			return
		}
	}
}

func (n *Node) record(kind trace.EvtType, env *wire.Envelope) {
	if n.recorder == nil {
		return
	}
	ev := trace.NewEvent(kind)
	ev.MessageID = env.ID
	ev.MsgType = env.Type
	ev.From = env.From
	ev.To = env.To
	ev.Direction = env.Direction
	ev.Lamport = env.Timestamp
	if err := n.recorder.Append(ev); err != nil {
		n.logger.Printf("[%s] record %s: %v", wire.PeerName(n.ID), kind, err)
	}
}
