package controller

import (
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/distcodep7/dsgate/trace"
	"github.com/distcodep7/dsgate/wire"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	structpb "google.golang.org/protobuf/types/known/structpb"
)

type sender interface {
	Send(*structpb.Struct) error
}

type Node struct {
	id     string
	stream sender
	sendMu sync.Mutex
}

func (n *Node) send(msg *structpb.Struct) error {
	n.sendMu.Lock()
	defer n.sendMu.Unlock()
	return n.stream.Send(msg)
}

// Event is what observers see for every registration, forward and
// disconnect.
type Event struct {
	Kind     trace.EvtType
	Env      *wire.Envelope
	RecvTime time.Time
}

type ControllerProps struct {
	Logger   Logger
	Recorder Recorder
	Jitter   JitterConfig
}

// Server relays envelopes between registered nodes. Envelopes are forwarded
// in the order they are received from each sender. Envelopes for a node that
// has not registered yet are held back and delivered when it registers.
type Server struct {
	mu        sync.Mutex
	nodes     map[string]*Node
	pending   map[string][]*structpb.Struct
	observers []chan<- *Event

	logger   Logger
	recorder Recorder
	jitter   *jitter
}

func NewServer(props ControllerProps) *Server {
	logger := props.Logger
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Server{
		nodes:    make(map[string]*Node),
		pending:  make(map[string][]*structpb.Struct),
		logger:   logger,
		recorder: props.Recorder,
		jitter:   newJitter(props.Jitter),
	}
}

// RegisterObserver subscribes ch to controller events. Events are dropped for
// an observer whose channel is full.
func (s *Server) RegisterObserver(ch chan<- *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, ch)
}

func (s *Server) UnregisterObserver(ch chan<- *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.observers {
		if o == ch {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			return
		}
	}
}

func (s *Server) Stream(stream wire.RelayStreamServer) error {
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	hello, err := wire.Decode(first)
	if err != nil {
		return fmt.Errorf("decode handshake: %w", err)
	}
	if hello.Type != wire.TypeHandshake || hello.From == "" {
		return fmt.Errorf("expected %s, got %q from %q", wire.TypeHandshake, hello.Type, hello.From)
	}

	nodeID := hello.From
	if err := s.register(nodeID, stream); err != nil {
		s.logger.Printf("[ERR] register %s: %v", nodeID, err)
		return err
	}

	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			s.removeNode(nodeID)
			return nil
		}
		if err != nil {
			s.removeNode(nodeID)
			return err
		}

		env, err := wire.Decode(msg)
		if err != nil {
			s.logger.Printf("[ERR] decode from %s: %v", nodeID, err)
			continue
		}
		if env.To == wire.ControllerName {
			continue
		}
		s.forward(env, msg)
	}
}

// register adds the node, acknowledges the handshake and flushes whatever
// was held back for it. The flush happens under s.mu so no later envelope
// can overtake a held one.
func (s *Server) register(nodeID string, stream sender) error {
	ack, err := wire.Encode(wire.Control(wire.ControllerName, nodeID, wire.TypeRegistered))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[nodeID]; exists {
		return fmt.Errorf("node %s already registered", nodeID)
	}
	n := &Node{id: nodeID, stream: stream}
	if err := n.send(ack); err != nil {
		return fmt.Errorf("send %s to %s: %w", wire.TypeRegistered, nodeID, err)
	}
	held := s.pending[nodeID]
	delete(s.pending, nodeID)
	for _, msg := range held {
		if err := n.send(msg); err != nil {
			return fmt.Errorf("flush to %s: %w", nodeID, err)
		}
	}
	s.nodes[nodeID] = n

	s.logger.Printf("[CTRL] Node Registered: %s (%d held envelopes flushed)", nodeID, len(held))
	s.notifyLocked(trace.EvtTypeRegister, wire.Control(nodeID, wire.ControllerName, wire.TypeHandshake))
	return nil
}

func (s *Server) forward(env *wire.Envelope, msg *structpb.Struct) {
	if d := s.jitter.delay(); d > 0 {
		time.Sleep(d)
	}

	s.mu.Lock()
	target, ok := s.nodes[env.To]
	if !ok {
		s.pending[env.To] = append(s.pending[env.To], proto.Clone(msg).(*structpb.Struct))
		s.notifyLocked(trace.EvtTypeBuffer, env)
		s.mu.Unlock()
		s.logger.Printf("[CTRL] Holding %s %s -> %s until it registers", env.Type, env.From, env.To)
		return
	}
	s.notifyLocked(trace.EvtTypeForward, env)
	s.mu.Unlock()

	s.logger.Printf("[LOG] %s -> %s [%s] t%d %s", env.From, env.To, env.Type, env.Timestamp, env.Direction)
	if err := target.send(msg); err != nil {
		s.logger.Printf("[ERR] send %s -> %s failed: %v", env.From, env.To, err)
	}
}

func (s *Server) removeNode(id string) {
	s.mu.Lock()
	_, exists := s.nodes[id]
	delete(s.nodes, id)
	if exists {
		s.notifyLocked(trace.EvtTypeDisconnect, wire.Control(id, wire.ControllerName, string(trace.EvtTypeDisconnect)))
	}
	s.mu.Unlock()

	if exists {
		s.logger.Printf("[CTRL] Node Disconnected: %s", id)
	}
}

// notifyLocked fans an event out to the recorder and observers. s.mu must be
// held so events keep the forwarding order.
func (s *Server) notifyLocked(kind trace.EvtType, env *wire.Envelope) {
	now := time.Now()
	if s.recorder != nil {
		ev := trace.NewEvent(kind)
		ev.Timestamp = now.UnixNano()
		ev.MessageID = env.ID
		ev.MsgType = env.Type
		ev.From = env.From
		ev.To = env.To
		ev.Direction = env.Direction
		ev.Lamport = env.Timestamp
		if err := s.recorder.Append(ev); err != nil {
			s.logger.Printf("[ERR] record %s: %v", kind, err)
		}
	}
	for _, o := range s.observers {
		select {
		case o <- &Event{Kind: kind, Env: env, RecvTime: now}:
		default:
			s.logger.Printf("[ERR] observer full; dropping %s event", kind)
		}
	}
}

// Serve listens on addr and blocks serving the relay.
func Serve(addr string, props ControllerProps) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	grpcServer := grpc.NewServer()
	wire.RegisterRelayServer(grpcServer, NewServer(props))
	log.Printf("Controller listening on %s...", lis.Addr())
	return grpcServer.Serve(lis)
}
