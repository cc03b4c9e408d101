package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/skin-sync/internal/auth"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

func TestLoggingUnary_Passthrough(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := LoggingUnary(log)

	ctx := context.Background()

	ctx = peer.NewContext(ctx, &peer.Peer{Addr: fakeAddr{}})

	h := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/skinsync.v1.SkinSync/Method"}

	resp, err := ic(ctx, "req", info, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s, _ := resp.(string); s != "ok" {
		t.Fatalf("resp mismatch: %v", resp)
	}

	wantErr := errors.New("boom")
	hErr := func(ctx context.Context, req any) (any, error) { return nil, wantErr }
	_, err = ic(ctx, "req", info, hErr)
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := RecoverUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/skinsync.v1.SkinSync/Panic"}

	panicH := func(ctx context.Context, req any) (any, error) {
		panic("oh no")
	}

	_, err := ic(ctx, "req", info, panicH)
	if err == nil {
		t.Fatalf("expected error from panic")
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}

func TestRecoverUnary_NoPanicPassThrough(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := RecoverUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/skinsync.v1.SkinSync/Ok"}

	h := func(ctx context.Context, req any) (any, error) { return 42, nil }

	resp, err := ic(ctx, "req", info, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if resp.(int) != 42 {
		t.Fatalf("resp mismatch: %v", resp)
	}
}

func TestLoggingUnary_DurationFieldDoesNotBlock(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := LoggingUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/skinsync.v1.SkinSync/Sleep"}
	h := func(ctx context.Context, req any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return "done", nil
	}

	start := time.Now()
	resp, err := ic(ctx, "req", info, h)
	if err != nil || resp.(string) != "done" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatalf("duration should reflect handler time")
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s fakeStream) Context() context.Context { return s.ctx }

func TestRecoverStream_CatchesPanic(t *testing.T) {
	t.Parallel()

	ic := RecoverStream(zaptest.NewLogger(t))
	info := &grpc.StreamServerInfo{FullMethod: "/skinsync.v1.SkinSync/Session"}

	err := ic(nil, fakeStream{ctx: context.Background()}, info, func(any, grpc.ServerStream) error {
		panic("oh no")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}

func TestLoggingStream_Passthrough(t *testing.T) {
	t.Parallel()

	ic := LoggingStream(zaptest.NewLogger(t))
	info := &grpc.StreamServerInfo{FullMethod: "/skinsync.v1.SkinSync/Session"}
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})

	wantErr := errors.New("boom")
	err := ic(nil, fakeStream{ctx: ctx}, info, func(any, grpc.ServerStream) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}
}

func TestAuthUnary_StoresIdentity(t *testing.T) {
	t.Parallel()

	key := []byte("k")
	const pid = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	tok, _, err := auth.Issue(key, pid, true, time.Minute, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	ic := AuthUnary(key)
	info := &grpc.UnaryServerInfo{FullMethod: "/skinsync.v1.SkinSync/Status"}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+tok))
	resp, err := ic(ctx, nil, info, func(ctx context.Context, _ any) (any, error) {
		id, ok := IdentityFromCtx(ctx)
		if !ok {
			return nil, errors.New("no identity")
		}
		return id, nil
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if id := resp.(auth.Identity); id.Participant != pid || !id.Admin {
		t.Fatalf("identity mismatch: %+v", id)
	}

	bad := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer nope"))
	_, err = ic(bad, nil, info, func(context.Context, any) (any, error) { return nil, nil })
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated, got: %v", err)
	}
}

func TestAuthStream_RejectsMissingToken(t *testing.T) {
	t.Parallel()

	ic := AuthStream([]byte("k"))
	info := &grpc.StreamServerInfo{FullMethod: "/skinsync.v1.SkinSync/Session"}
	called := false
	err := ic(nil, fakeStream{ctx: context.Background()}, info, func(any, grpc.ServerStream) error {
		called = true
		return nil
	})
	if called || status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated without calling handler, got: %v", err)
	}
}
