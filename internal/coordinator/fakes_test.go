package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/skin-sync/internal/convert"
	"github.com/and161185/skin-sync/internal/model"
	"github.com/and161185/skin-sync/internal/skinstore"
	"github.com/and161185/skin-sync/internal/transfer"
	"github.com/and161185/skin-sync/internal/wire"
)

type fakeSender struct {
	mu   sync.Mutex
	got   []*wire.Envelope
	sends int
	fail  bool
}

var _ Sender = (*fakeSender)(nil)

func (s *fakeSender) Send(envs ...*wire.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("unreachable")
	}
	s.got = append(s.got, envs...)
	s.sends++
	return nil
}

func (s *fakeSender) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends
}

func (s *fakeSender) envelopes() []*wire.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*wire.Envelope(nil), s.got...)
}

// assets reassembles every skin received, keyed by owner.
func (s *fakeSender) assets(t *testing.T) map[string]model.SkinAsset {
	t.Helper()
	r := transfer.NewReassembler(0)
	out := map[string]model.SkinAsset{}
	for _, env := range s.envelopes() {
		if env.Kind != wire.KindSkin && env.Kind != wire.KindSkinChunk {
			continue
		}
		c, err := convert.FromWireChunk(env.Chunk)
		require.NoError(t, err)
		done, ok, err := r.Receive(env.Owner, c)
		require.NoError(t, err)
		if ok {
			a, err := transfer.Decode(done.Meta, done.Payload, env.Owner)
			require.NoError(t, err)
			out[env.Owner] = a
		}
	}
	return out
}

type fakeStore struct {
	mu      sync.Mutex
	skins   map[string]model.StoredSkin
	fetches int
	deletes []string
	down    bool
	gate    chan struct{} // when set, fetch results wait for it to close
}

var _ Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore { return &fakeStore{skins: map[string]model.StoredSkin{}} }

func (f *fakeStore) Fetch(owner string) <-chan skinstore.Fetched {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	ch := make(chan skinstore.Fetched, 1)
	s, ok := f.skins[owner]
	res := skinstore.Fetched{Skin: s, OK: ok && !f.down}
	if f.gate != nil {
		gate := f.gate
		go func() {
			<-gate
			ch <- res
		}()
		return ch
	}
	ch <- res
	return ch
}

func (f *fakeStore) Upsert(s model.StoredSkin) <-chan bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan bool, 1)
	if !f.down {
		f.skins[s.OwnerID] = s
	}
	ch <- !f.down
	return ch
}

func (f *fakeStore) Delete(owner string) <-chan bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, owner)
	delete(f.skins, owner)
	ch := make(chan bool, 1)
	ch <- !f.down
	return ch
}

func (f *fakeStore) List() <-chan []model.StoredSkin {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan []model.StoredSkin, 1)
	if f.down {
		ch <- nil
		return ch
	}
	out := []model.StoredSkin{}
	for _, s := range f.skins {
		out = append(out, s)
	}
	ch <- out
	return ch
}

func (f *fakeStore) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeStore) has(owner string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.skins[owner]
	return ok
}

// start runs a coordinator whose ticks are driven by the test through Exec.
func start(t *testing.T, cfg Config, store Store) *Coordinator {
	t.Helper()
	c := New(cfg, store, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = c.Run(ctx, time.Hour)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return c
}

func exec(t *testing.T, c *Coordinator, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Exec(ctx, fn))
}

func asset(t *testing.T, name string, size int) model.SkinAsset {
	t.Helper()
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(i + len(name))
	}
	a, err := model.NewAsset(model.AssetConfig{Name: name, Width: 64, Height: 64, Primary: b})
	require.NoError(t, err)
	return a
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}
