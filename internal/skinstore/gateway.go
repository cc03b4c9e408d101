package skinstore

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/skin-sync/internal/errs"
	"github.com/and161185/skin-sync/internal/model"
)

// Backend is the blocking store API; *Client implements it.
type Backend interface {
	Fetch(ctx context.Context, owner string) (model.StoredSkin, error)
	Upsert(ctx context.Context, s model.StoredSkin) error
	Delete(ctx context.Context, owner string) error
	List(ctx context.Context) ([]model.StoredSkin, error)
}

var _ Backend = (*Client)(nil)

// Fetched is the resolved value of Gateway.Fetch. OK is false both when the
// store has no record and when it could not be asked.
type Fetched struct {
	Skin model.StoredSkin
	OK   bool
}

// Gateway runs Backend calls on a bounded worker pool.
type Gateway struct {
	backend Backend
	log     *zap.Logger
	jobs    chan func(context.Context)

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Pool defaults.
const (
	DefaultQueue   = 256 // calls that may wait for a worker
	DefaultWorkers = 2
)

// NewGateway starts workers goroutines serving b.
func NewGateway(b Backend, workers int, log *zap.Logger) *Gateway {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		backend: b,
		log:     log,
		jobs:    make(chan func(context.Context), DefaultQueue),
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		g.wg.Add(1)
		go g.worker(ctx)
	}
	return g
}

func (g *Gateway) worker(ctx context.Context) {
	defer g.wg.Done()
	for job := range g.jobs {
		job(ctx)
	}
}

// Close stops accepting calls, cancels in-flight ones and waits for workers.
func (g *Gateway) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	close(g.jobs)
	g.mu.Unlock()
	g.cancel()
	g.wg.Wait()
}

// submit queues job; it reports false without blocking when the gateway is
// closed or saturated.
func (g *Gateway) submit(op string, job func(context.Context)) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return false
	}
	select {
	case g.jobs <- job:
		return true
	default:
		g.log.Warn("store queue full, dropping call", zap.String("op", op))
		return false
	}
}

func (g *Gateway) logFailure(op, owner string, err error) {
	if errors.Is(err, errs.ErrNotFound) {
		g.log.Debug("store: not found", zap.String("op", op), zap.String("owner", owner))
		return
	}
	g.log.Warn("store call failed", zap.String("op", op), zap.String("owner", owner), zap.Error(err))
}

// Fetch resolves to the record of owner.
func (g *Gateway) Fetch(owner string) <-chan Fetched {
	out := make(chan Fetched, 1)
	ok := g.submit("fetch", func(ctx context.Context) {
		s, err := g.backend.Fetch(ctx, owner)
		if err != nil {
			g.logFailure("fetch", owner, err)
			out <- Fetched{}
			return
		}
		out <- Fetched{Skin: s, OK: true}
	})
	if !ok {
		out <- Fetched{}
	}
	return out
}

// Upsert resolves to true once s is stored.
func (g *Gateway) Upsert(s model.StoredSkin) <-chan bool {
	return g.boolCall("upsert", s.OwnerID, func(ctx context.Context) error { return g.backend.Upsert(ctx, s) })
}

// Delete resolves to true once owner's record is gone.
func (g *Gateway) Delete(owner string) <-chan bool {
	return g.boolCall("delete", owner, func(ctx context.Context) error { return g.backend.Delete(ctx, owner) })
}

func (g *Gateway) boolCall(op, owner string, call func(context.Context) error) <-chan bool {
	out := make(chan bool, 1)
	ok := g.submit(op, func(ctx context.Context) {
		if err := call(ctx); err != nil {
			g.logFailure(op, owner, err)
			out <- false
			return
		}
		out <- true
	})
	if !ok {
		out <- false
	}
	return out
}

// List resolves to every stored record, or nil on failure.
func (g *Gateway) List() <-chan []model.StoredSkin {
	out := make(chan []model.StoredSkin, 1)
	ok := g.submit("list", func(ctx context.Context) {
		skins, err := g.backend.List(ctx)
		if err != nil {
			g.logFailure("list", "", err)
			out <- nil
			return
		}
		out <- skins
	})
	if !ok {
		out <- nil
	}
	return out
}
