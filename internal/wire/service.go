package wire

import (
	"context"

	"google.golang.org/grpc"
)

// Full method names.
const (
	ServiceName   = "skinsync.v1.SkinSync"
	SessionMethod = "/" + ServiceName + "/Session"
	ResyncMethod  = "/" + ServiceName + "/Resync"
	StatusMethod  = "/" + ServiceName + "/Status"
	ReloadMethod  = "/" + ServiceName + "/Reload"
)

// SkinSyncServer is implemented by the coordinator's gRPC layer.
type SkinSyncServer interface {
	Session(SessionServer) error
	Resync(context.Context, *ResyncRequest) (*ResyncReply, error)
	Status(context.Context, *StatusRequest) (*StatusReply, error)
	Reload(context.Context, *ReloadRequest) (*ReloadReply, error)
}

// SessionServer is the server side of a participant session.
type SessionServer interface {
	Send(*Envelope) error
	Recv() (*Envelope, error)
	grpc.ServerStream
}

type sessionServer struct{ grpc.ServerStream }

func (s *sessionServer) Send(m *Envelope) error { return s.ServerStream.SendMsg(m) }

func (s *sessionServer) Recv() (*Envelope, error) {
	m := new(Envelope)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func sessionHandler(srv any, stream grpc.ServerStream) error {
	return srv.(SkinSyncServer).Session(&sessionServer{stream})
}

// unaryHandler adapts a typed unary method to grpc.MethodDesc.
func unaryHandler[Req any, Resp any](
	method string, call func(SkinSyncServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SkinSyncServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SkinSyncServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes SkinSync for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SkinSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Resync", Handler: unaryHandler(ResyncMethod, SkinSyncServer.Resync)},
		{MethodName: "Status", Handler: unaryHandler(StatusMethod, SkinSyncServer.Status)},
		{MethodName: "Reload", Handler: unaryHandler(ReloadMethod, SkinSyncServer.Reload)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Session", Handler: sessionHandler, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "skinsync/v1/skinsync.cbor",
}

// RegisterSkinSyncServer registers srv on s.
func RegisterSkinSyncServer(s grpc.ServiceRegistrar, srv SkinSyncServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// --- Client ---

// SessionClient is the participant side of a session.
type SessionClient interface {
	Send(*Envelope) error
	Recv() (*Envelope, error)
	grpc.ClientStream
}

type sessionClient struct{ grpc.ClientStream }

func (c *sessionClient) Send(m *Envelope) error { return c.ClientStream.SendMsg(m) }

func (c *sessionClient) Recv() (*Envelope, error) {
	m := new(Envelope)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Client calls SkinSync over a connection; every call uses the CBOR codec.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

// Session opens the bidirectional participant stream.
func (c *Client) Session(ctx context.Context, opts ...grpc.CallOption) (SessionClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], SessionMethod, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &sessionClient{stream}, nil
}

// Resync calls the admin resync.
func (c *Client) Resync(ctx context.Context, in *ResyncRequest, opts ...grpc.CallOption) (*ResyncReply, error) {
	out := new(ResyncReply)
	if err := c.cc.Invoke(ctx, ResyncMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Status calls the admin status query.
func (c *Client) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusReply, error) {
	out := new(StatusReply)
	if err := c.cc.Invoke(ctx, StatusMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Reload calls the admin reload.
func (c *Client) Reload(ctx context.Context, in *ReloadRequest, opts ...grpc.CallOption) (*ReloadReply, error) {
	out := new(ReloadReply)
	if err := c.cc.Invoke(ctx, ReloadMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
