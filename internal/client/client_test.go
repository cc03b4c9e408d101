package client

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/skin-sync/internal/auth"
	"github.com/and161185/skin-sync/internal/coordinator"
	"github.com/and161185/skin-sync/internal/model"
	grpcserver "github.com/and161185/skin-sync/internal/server/grpc"
)

const (
	pidA = "11111111-1111-4111-8111-111111111111"
	pidB = "22222222-2222-4222-8222-222222222222"
)

var key = []byte("client-test")

func startServer(t *testing.T) (*coordinator.Coordinator, func(pid string) *Conn) {
	t.Helper()
	log := zaptest.NewLogger(t)
	coord := coordinator.New(coordinator.Config{}, nil, log)
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = coord.Run(ctx, time.Hour)
	}()

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpcserver.GRPCOptions(key, 0, log)...)
	grpcserver.New(coord, grpcserver.Options{}, log).Register(gs)
	go func() { _ = gs.Serve(lis) }()

	var conns []*Conn
	t.Cleanup(func() {
		for _, c := range conns {
			_ = c.Close()
		}
		gs.GracefulStop()
		cancel()
		<-runDone
	})

	dialer := grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() })
	connect := func(pid string) *Conn {
		tok, _, err := auth.Issue(key, pid, false, time.Hour, time.Now())
		require.NoError(t, err)
		c, err := Dial(Config{Addr: "passthrough:///bufnet", Plaintext: true, Token: tok}, dialer)
		require.NoError(t, err)
		conns = append(conns, c)
		return c
	}
	return coord, connect
}

func waitJoined(t *testing.T, coord *coordinator.Coordinator, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		var st coordinator.Status
		_ = coord.Exec(context.Background(), func() { st = coord.Status() })
		return st.Participants == n
	}, 5*time.Second, 10*time.Millisecond)
}

type event struct {
	owner string
	asset *model.SkinAsset
}

func TestSession_UploadAndResetReachPeer(t *testing.T) {
	coord, connect := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	a, err := connect(pidA).Open(ctx, zaptest.NewLogger(t))
	require.NoError(t, err)
	b, err := connect(pidB).Open(ctx, zaptest.NewLogger(t))
	require.NoError(t, err)

	events := make(chan event, 4)
	peers := NewPeers(func(owner string, a *model.SkinAsset) { events <- event{owner, a} })
	go func() { _ = b.Receive(peers) }()
	waitJoined(t, coord, 2)

	want, err := model.NewAsset(model.AssetConfig{
		Name: "Steve", Width: 64, Height: 64, Slim: true,
		Primary: bytes.Repeat([]byte{7}, 70000),
	})
	require.NoError(t, err)
	n, err := a.Upload(want)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	select {
	case ev := <-events:
		assert.Equal(t, pidA, ev.owner)
		require.NotNil(t, ev.asset)
		assert.Equal(t, want.Primary, ev.asset.Primary)
		assert.True(t, ev.asset.Slim)
	case <-time.After(5 * time.Second):
		t.Fatal("no skin received")
	}
	got, ok := peers.Get(pidA)
	require.True(t, ok)
	assert.Equal(t, "Steve", got.Name)
	assert.Equal(t, []string{pidA}, peers.Owners())

	require.NoError(t, a.Reset())
	select {
	case ev := <-events:
		assert.Equal(t, pidA, ev.owner)
		assert.Nil(t, ev.asset)
	case <-time.After(5 * time.Second):
		t.Fatal("no clear received")
	}
	_, ok = peers.Get(pidA)
	assert.False(t, ok)
}

func TestRelevant(t *testing.T) {
	assert.True(t, relevant(fsnotify.Event{Name: "/x/steve.meta", Op: fsnotify.Create}))
	assert.True(t, relevant(fsnotify.Event{Name: "/x/steve.meta", Op: fsnotify.Remove}))
	assert.False(t, relevant(fsnotify.Event{Name: "/x/steve.meta.tmp", Op: fsnotify.Write}))
	assert.False(t, relevant(fsnotify.Event{Name: "/x/steve.png", Op: fsnotify.Write}))
	assert.False(t, relevant(fsnotify.Event{Name: "/x/.hidden.meta", Op: fsnotify.Write}))
	assert.False(t, relevant(fsnotify.Event{Name: "/x/steve.meta", Op: fsnotify.Chmod}))
}

func TestWatchDir_DebouncesMetaChanges(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() { done <- WatchDir(ctx, dir, 50*time.Millisecond, zaptest.NewLogger(t), func() { calls.Add(1) }) }()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "steve.meta"), []byte("name=Steve\n"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "steve.png"), []byte("png"), 0o644))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	require.NoError(t, <-done)
}
