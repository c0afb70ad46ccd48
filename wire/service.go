package wire

import (
	"context"

	"google.golang.org/grpc"
	structpb "google.golang.org/protobuf/types/known/structpb"
)

// The relay service has a single bidirectional stream of structpb.Struct
// messages, each one an encoded Envelope.
const (
	RelayServiceName  = "dsgate.Relay"
	relayStreamMethod = "/dsgate.Relay/Stream"
)

// RelayServer is implemented by the controller.
type RelayServer interface {
	Stream(RelayStreamServer) error
}

type RelayStreamServer interface {
	Send(*structpb.Struct) error
	Recv() (*structpb.Struct, error)
	grpc.ServerStream
}

type relayStreamServer struct {
	grpc.ServerStream
}

func (x *relayStreamServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func (x *relayStreamServer) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func relayStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(RelayServer).Stream(&relayStreamServer{stream})
}

var RelayServiceDesc = grpc.ServiceDesc{
	ServiceName: RelayServiceName,
	HandlerType: (*RelayServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       relayStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "dsgate/relay",
}

func RegisterRelayServer(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&RelayServiceDesc, srv)
}

type RelayClient interface {
	Stream(ctx context.Context, opts ...grpc.CallOption) (RelayStreamClient, error)
}

type RelayStreamClient interface {
	Send(*structpb.Struct) error
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type relayClient struct {
	cc grpc.ClientConnInterface
}

func NewRelayClient(cc grpc.ClientConnInterface) RelayClient {
	return &relayClient{cc: cc}
}

func (c *relayClient) Stream(ctx context.Context, opts ...grpc.CallOption) (RelayStreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &RelayServiceDesc.Streams[0], relayStreamMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &relayStreamClient{stream}, nil
}

type relayStreamClient struct {
	grpc.ClientStream
}

func (x *relayStreamClient) Send(m *structpb.Struct) error {
	return x.ClientStream.SendMsg(m)
}

func (x *relayStreamClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
