// Package grpc exposes the coordinator's balance_tablets operation over the
// wire, mirroring tablets/streaming/grpc: a thin, mostly-stub frontend that
// forwards onto the real Coordinator. The REST debug mux in cmd/tabletd is
// the actually-wired entry point for manual exercising; this package
// documents where the gRPC surface attaches once a .proto exists.
package grpc

import (
	"github.com/gogo/protobuf/proto"
	"google.golang.org/grpc"

	"github.com/jrife/tabletcore/tablets/coordinator"
)

// BalanceTabletsRequest is the wire message for a BalanceTablets call. Like
// streamingpb.StartRequest, it implements proto.Message via reflection over
// struct tags rather than a generated Marshal/Unmarshal pair.
type BalanceTabletsRequest struct {
	SkipHosts [][]byte `protobuf:"bytes,1,rep,name=skip_hosts"`
}

func (m *BalanceTabletsRequest) Reset()         { *m = BalanceTabletsRequest{} }
func (m *BalanceTabletsRequest) String() string { return proto.CompactTextString(m) }
func (m *BalanceTabletsRequest) ProtoMessage()  {}

// BalanceTabletsResponse reports how many migrations and resize decisions a
// call committed; the REST mux returns the full plan, this reports only
// counts until a real .proto gives the wire message a place for the rest.
type BalanceTabletsResponse struct {
	MigrationCount int32 `protobuf:"varint,1,opt,name=migration_count"`
	ResizeCount    int32 `protobuf:"varint,2,opt,name=resize_count"`
}

func (m *BalanceTabletsResponse) Reset()         { *m = BalanceTabletsResponse{} }
func (m *BalanceTabletsResponse) String() string { return proto.CompactTextString(m) }
func (m *BalanceTabletsResponse) ProtoMessage()  {}

// Server adapts a *coordinator.Coordinator so it can be called over gRPC.
type Server struct {
	Coordinator *coordinator.Coordinator
}

// NewServer wraps co for gRPC exposure.
func NewServer(co *coordinator.Coordinator) *Server {
	return &Server{Coordinator: co}
}

// Register attaches this server's methods to grpcServer.
//
// TODO(coordinator): register against a generated service descriptor once
// the .proto for this service exists; for now this is a placeholder that
// documents the intended wiring point. The REST debug mux drives the real
// Coordinator.BalanceAndCommit call in the meantime.
func (s *Server) Register(grpcServer *grpc.Server) {
}
