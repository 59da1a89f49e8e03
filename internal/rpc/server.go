package rpc

import (
	"context"
	"fmt"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	swarmsyncv1 "github.com/swarmgrid/swarm-core/gen/proto/swarmsync/v1"
)

const (
	controlServiceName = "swarmsync.v1.ControlService"
	syncServiceName    = "swarmsync.v1.SyncService"
)

var controlServiceDesc = grpc.ServiceDesc{
	ServiceName: controlServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ExecuteCommand",
			Handler:    executeCommandHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamStatusUpdates",
			Handler:       streamStatusUpdatesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "proto/swarmsync/v1/control.proto",
}

var syncServiceDesc = grpc.ServiceDesc{
	ServiceName: syncServiceName,
	HandlerType: (*SyncServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Sync",
			Handler:       syncHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "proto/swarmsync/v1/sync.proto",
}

func executeCommandHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(swarmsyncv1.CommandRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*ControlServer).ExecuteCommand(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + controlServiceName + "/ExecuteCommand",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*ControlServer).ExecuteCommand(ctx, req.(*swarmsyncv1.CommandRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamStatusUpdatesHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(swarmsyncv1.StatusRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(*ControlServer).StreamStatusUpdates(in, stream)
}

func syncHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(*SyncServer).Sync(stream)
}

// Server hosts both services on the Core port.
type Server struct {
	grpc *grpc.Server
	addr string
}

func NewServer(host string, port int, control *ControlServer, syncSrv *SyncServer) *Server {
	gs := grpc.NewServer(
		grpc.ForceServerCodec(Codec()),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	gs.RegisterService(&controlServiceDesc, control)
	gs.RegisterService(&syncServiceDesc, syncSrv)
	return &Server{
		grpc: gs,
		addr: fmt.Sprintf("%s:%d", host, port),
	}
}

// Serve blocks until the listener fails or Stop is called.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.grpc.Serve(lis)
}

// Stop drains active RPCs gracefully.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}
