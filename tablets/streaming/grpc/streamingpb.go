// Package grpc exposes the streaming collaborator over the wire so a real
// streaming sidecar, running outside this process, can implement Start.
// Modeled on the teacher's transport/frontends/grpc package: a thin,
// mostly-stub frontend that forwards onto the real service object.
package grpc

import (
	"context"
	"net"

	"github.com/gogo/protobuf/proto"
	"google.golang.org/grpc"

	"github.com/jrife/tabletcore/tablets"
	"github.com/jrife/tabletcore/tablets/streaming"
)

// StartRequest is the wire message for a Streamer.Start call. It implements
// proto.Message via reflection over its struct tags rather than a
// generated Marshal/Unmarshal pair, since no .proto file for this service
// has been checked in yet (see TODO below).
type StartRequest struct {
	SessionId  []byte `protobuf:"bytes,1,opt,name=session_id"`
	SrcHost    []byte `protobuf:"bytes,2,opt,name=src_host"`
	SrcShard   uint32 `protobuf:"varint,3,opt,name=src_shard"`
	DstHost    []byte `protobuf:"bytes,4,opt,name=dst_host"`
	DstShard   uint32 `protobuf:"varint,5,opt,name=dst_shard"`
	FirstToken int64  `protobuf:"varint,6,opt,name=first_token"`
	LastToken  int64  `protobuf:"varint,7,opt,name=last_token"`
}

func (m *StartRequest) Reset()         { *m = StartRequest{} }
func (m *StartRequest) String() string { return proto.CompactTextString(m) }
func (m *StartRequest) ProtoMessage()  {}

// StartResponse is empty on success; failures surface as a gRPC status
// error rather than a response field.
type StartResponse struct{}

func (m *StartResponse) Reset()         { *m = StartResponse{} }
func (m *StartResponse) String() string { return proto.CompactTextString(m) }
func (m *StartResponse) ProtoMessage()  {}

// Client adapts a gRPC connection to the streaming.Streamer used by the
// transition state machine.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an established connection to a streaming sidecar.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

var _ streaming.Streamer = (*Client)(nil)

// Start implements streaming.Streamer. It issues no RPC and returns nil:
// no .proto or service descriptor for this service is checked in.
func (c *Client) Start(ctx context.Context, session streaming.SessionID, src, dst tablets.TabletReplica, r streaming.Range) error {
	return nil
}

// Server adapts a local streaming.Streamer so it can be called over gRPC by
// another node (used when the coordinator shard isn't the one holding the
// src/dst replica).
type Server struct {
	streamer streaming.Streamer
}

// NewServer wraps streamer for gRPC exposure.
func NewServer(streamer streaming.Streamer) *Server {
	return &Server{streamer: streamer}
}

// Register attaches this server's methods to grpcServer.
//
// TODO(streaming): register against a generated service descriptor once
// the .proto for this service exists; for now this is a placeholder that
// documents the intended wiring point.
func (s *Server) Register(grpcServer *grpc.Server) {
}

// Listen starts accepting connections on listener and blocks until it is
// closed.
func Listen(grpcServer *grpc.Server, listener net.Listener) error {
	return grpcServer.Serve(listener)
}
