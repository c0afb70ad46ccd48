package testutils

import (
	"log"
	"net"
	"testing"

	"github.com/distcodep7/dsgate/controller"
	"github.com/distcodep7/dsgate/wire"

	"google.golang.org/grpc"
)

// StartTestServer runs a relay controller on a free loopback port until the
// test ends, and returns it with its address.
func StartTestServer(t *testing.T, props controller.ControllerProps) (*controller.Server, string) {
	t.Helper()

	grpcServer := grpc.NewServer()
	ctrl := controller.NewServer(props)
	wire.RegisterRelayServer(grpcServer, ctrl)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() {
		if err := grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
			log.Printf("gRPC server failed: %v", err)
		}
	}()
	t.Cleanup(grpcServer.Stop)

	return ctrl, lis.Addr().String()
}
