// Package grpcserver exposes the SkinSync gRPC service backed by a coordinator.
package grpcserver

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/skin-sync/internal/convert"
	"github.com/and161185/skin-sync/internal/coordinator"
	"github.com/and161185/skin-sync/internal/errs"
	"github.com/and161185/skin-sync/internal/model"
	"github.com/and161185/skin-sync/internal/transfer"
	"github.com/and161185/skin-sync/internal/wire"
)

// Defaults for Options zero values.
const (
	DefaultOutboxSize     = 256
	DefaultMaxRecvMsgSize = 64 << 10
	DefaultPendingTTL     = 2 * time.Minute
)

// Options tunes a Server.
type Options struct {
	OutboxSize    int // per-session outbound buffer, in transfers
	MaxResolution int // largest accepted square upload side
	MaxAssetSize  int // reassembly limit
}

// Server wires the coordinator into gRPC handlers.
type Server struct {
	coord  *coordinator.Coordinator
	reasm  *transfer.Reassembler
	log    *zap.Logger
	outbox int
	maxRes int
}

var _ wire.SkinSyncServer = (*Server)(nil)

// New constructs a gRPC server around coord.
func New(coord *coordinator.Coordinator, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = DefaultOutboxSize
	}
	return &Server{
		coord:  coord,
		reasm:  transfer.NewReassembler(opts.MaxAssetSize),
		log:    log,
		outbox: opts.OutboxSize,
		maxRes: opts.MaxResolution,
	}
}

// GRPCOptions returns the server options the service expects: the receive
// size limit that makes chunking necessary plus the interceptor chains.
func GRPCOptions(signKey []byte, maxRecv int, log *zap.Logger) []grpc.ServerOption {
	if maxRecv <= 0 {
		maxRecv = DefaultMaxRecvMsgSize
	}
	return []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxRecv),
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log), AuthUnary(signKey)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log), AuthStream(signKey)),
	}
}

// Register attaches s to gs.
func (s *Server) Register(gs *grpc.Server) { wire.RegisterSkinSyncServer(gs, s) }

// --- Session ---

var errOutboxFull = errors.New("outbox full")

// outbox is a non-blocking Sender; the coordinator never waits on a slow
// participant. Each slot holds one whole transfer, however many chunks it has.
type outbox struct {
	ch chan []*wire.Envelope
}

func (o *outbox) Send(envs ...*wire.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	select {
	case o.ch <- envs:
		return nil
	default:
		return errOutboxFull
	}
}

// Session serves one connected participant until the stream ends.
func (s *Server) Session(stream wire.SessionServer) error {
	ctx := stream.Context()
	id, ok := IdentityFromCtx(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "no auth")
	}
	pid := id.Participant
	out := &outbox{ch: make(chan []*wire.Envelope, s.outbox)}

	if err := s.coord.Post(ctx, func() { s.coord.Join(pid, out) }); err != nil {
		return toStatus(err)
	}
	defer func() {
		s.reasm.Drop(pid)
		if err := s.coord.Post(context.Background(), func() { s.coord.Leave(pid, out) }); err != nil {
			s.log.Debug("leave not posted", zap.String("participant", pid), zap.Error(err))
		}
	}()

	go s.pump(ctx, pid, stream, out)

	for {
		env, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.route(ctx, pid, env); err != nil {
			return toStatus(err)
		}
	}
}

// pump writes queued transfers chunk by chunk until the stream context ends.
func (s *Server) pump(ctx context.Context, pid string, stream wire.SessionServer, out *outbox) {
	for {
		select {
		case <-ctx.Done():
			return
		case envs := <-out.ch:
			for _, env := range envs {
				if err := stream.Send(env); err != nil {
					s.log.Debug("session send failed", zap.String("participant", pid), zap.Error(err))
					return
				}
			}
		}
	}
}

// route dispatches one inbound message. Malformed input is logged and
// dropped; only a stopped coordinator ends the session.
func (s *Server) route(ctx context.Context, pid string, env *wire.Envelope) error {
	switch env.Kind {
	case wire.KindUpload, wire.KindUploadChunk:
		asset, ok := s.receiveUpload(pid, env)
		if !ok {
			return nil
		}
		return s.coord.Post(ctx, func() { s.coord.SubmitAsset(pid, asset) })

	case wire.KindRequest:
		if env.Owner == "" {
			s.log.Warn("request without target", zap.String("participant", pid))
			return nil
		}
		target := env.Owner
		return s.coord.Post(ctx, func() { s.coord.RequestAsset(pid, target) })

	case wire.KindReset:
		return s.coord.Post(ctx, func() { s.coord.ResetAsset(pid) })

	default:
		s.log.Warn("unexpected message", zap.String("participant", pid), zap.Stringer("kind", env.Kind))
		return nil
	}
}

func (s *Server) receiveUpload(pid string, env *wire.Envelope) (model.SkinAsset, bool) {
	c, err := convert.FromWireChunk(env.Chunk)
	if err != nil {
		s.log.Warn("bad upload", zap.String("participant", pid), zap.Error(err))
		return model.SkinAsset{}, false
	}
	done, complete, err := s.reasm.Receive(pid, c)
	if err != nil {
		s.log.Warn("bad upload chunk", zap.String("participant", pid), zap.Int("index", c.Index), zap.Error(err))
		return model.SkinAsset{}, false
	}
	if !complete {
		return model.SkinAsset{}, false
	}
	asset, err := transfer.Decode(done.Meta, done.Payload, pid)
	if err != nil {
		s.log.Warn("undecodable upload", zap.String("participant", pid), zap.Error(err))
		return model.SkinAsset{}, false
	}
	if err := model.CheckDimensions(asset.Width, asset.Height, s.maxRes); err != nil {
		s.log.Warn("rejected upload", zap.String("participant", pid), zap.Error(err))
		return model.SkinAsset{}, false
	}
	return asset, true
}

// EvictStale drops partial uploads older than maxAge every interval until ctx ends.
func (s *Server) EvictStale(ctx context.Context, interval, maxAge time.Duration) error {
	if maxAge <= 0 {
		maxAge = DefaultPendingTTL
	}
	if interval <= 0 {
		interval = maxAge / 2
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := s.reasm.Evict(maxAge); n > 0 {
				s.log.Info("evicted stale uploads", zap.Int("count", n))
			}
		}
	}
}

// --- Admin ---

// Resync re-broadcasts one owner's record, or every cached record.
func (s *Server) Resync(ctx context.Context, req *wire.ResyncRequest) (*wire.ResyncReply, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	var rep wire.ResyncReply
	err := s.coord.Exec(ctx, func() {
		if req.Participant == "" {
			rep.Sent = s.coord.ResyncAll()
			rep.Found = true
			return
		}
		rep.Sent, rep.Found = s.coord.ResyncOne(req.Participant)
	})
	if err != nil {
		return nil, toStatus(err)
	}
	if !rep.Found {
		return nil, status.Error(codes.NotFound, "no cached skin")
	}
	return &rep, nil
}

// Status returns coordinator counters.
func (s *Server) Status(ctx context.Context, _ *wire.StatusRequest) (*wire.StatusReply, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	var st coordinator.Status
	if err := s.coord.Exec(ctx, func() { st = s.coord.Status() }); err != nil {
		return nil, toStatus(err)
	}
	return &wire.StatusReply{
		Cached:       st.Cached,
		Participants: st.Participants,
		PendingJoins: st.PendingJoins,
		Persistence:  st.Persistence,
	}, nil
}

// Reload merges the durable store into the cache and resyncs everyone.
func (s *Server) Reload(ctx context.Context, _ *wire.ReloadRequest) (*wire.ReloadReply, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	res := make(chan coordinator.ReloadResult, 1)
	if err := s.coord.Post(ctx, func() {
		s.coord.Reload(func(r coordinator.ReloadResult) { res <- r })
	}); err != nil {
		return nil, toStatus(err)
	}
	select {
	case r := <-res:
		if !r.OK {
			return nil, status.Error(codes.Unavailable, "durable store unavailable")
		}
		return &wire.ReloadReply{Loaded: r.Loaded, Sent: r.Sent}, nil
	case <-ctx.Done():
		return nil, toStatus(ctx.Err())
	}
}

func requireAdmin(ctx context.Context) error {
	id, ok := IdentityFromCtx(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "no auth")
	}
	if !id.Admin {
		return status.Error(codes.PermissionDenied, "admin only")
	}
	return nil
}

func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, coordinator.ErrStopped), errors.Is(err, errs.ErrUnavailable):
		return status.Error(codes.Unavailable, "coordinator unavailable")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "no auth")
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrInvalidArgument), errors.Is(err, errs.ErrDimensions),
		errors.Is(err, errs.ErrTooLarge), errors.Is(err, errs.ErrMalformedChunk):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrSelected):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "too many attempts")
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}
