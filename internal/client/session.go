package client

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/skin-sync/internal/convert"
	"github.com/and161185/skin-sync/internal/model"
	"github.com/and161185/skin-sync/internal/transfer"
	"github.com/and161185/skin-sync/internal/wire"
)

// Handler receives what the coordinator pushes to a participant.
type Handler interface {
	OnSkin(owner string, a model.SkinAsset)
	OnCleared(owner string)
}

// Session is an open participant stream. Send methods are safe for
// concurrent use; Receive must run in a single goroutine.
type Session struct {
	stream   wire.SessionClient
	splitter transfer.Splitter
	reasm    *transfer.Reassembler
	log      *zap.Logger

	mu sync.Mutex // serialises sends so chunks of one upload stay contiguous
}

// Open starts a session. It ends when ctx is cancelled.
func (c *Conn) Open(ctx context.Context, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	stream, err := c.API.Session(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{
		stream:   stream,
		splitter: transfer.NewSplitter(0),
		reasm:    transfer.NewReassembler(0),
		log:      log,
	}, nil
}

// Upload announces a as the caller's current asset. It returns the number of messages sent.
func (s *Session) Upload(a model.SkinAsset) (int, error) {
	meta, payload := transfer.Encode(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.splitter.Send(meta, payload, func(c transfer.Chunk) error {
		return s.stream.Send(convert.UploadEnvelope(c))
	})
}

// Request asks for owner's asset.
func (s *Session) Request(owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.Send(&wire.Envelope{Kind: wire.KindRequest, Owner: owner})
}

// Reset clears the caller's asset for everyone.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.Send(&wire.Envelope{Kind: wire.KindReset})
}

// CloseSend half-closes the stream; Receive keeps draining until the server ends it.
func (s *Session) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.CloseSend()
}

// Receive dispatches incoming messages to h until the stream ends. A clean
// end of stream returns nil.
func (s *Session) Receive(h Handler) error {
	for {
		env, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		s.dispatch(env, h)
	}
}

func (s *Session) dispatch(env *wire.Envelope, h Handler) {
	switch env.Kind {
	case wire.KindSkin, wire.KindSkinChunk:
		c, err := convert.FromWireChunk(env.Chunk)
		if err != nil {
			s.log.Warn("bad skin message", zap.String("owner", env.Owner), zap.Error(err))
			return
		}
		done, ok, err := s.reasm.Receive(env.Owner, c)
		if err != nil {
			s.log.Warn("bad skin chunk", zap.String("owner", env.Owner), zap.Error(err))
			return
		}
		if !ok {
			return
		}
		a, err := transfer.Decode(done.Meta, done.Payload, env.Owner)
		if err != nil {
			s.log.Warn("undecodable skin", zap.String("owner", env.Owner), zap.Error(err))
			return
		}
		h.OnSkin(env.Owner, a)
	case wire.KindCleared:
		s.reasm.Drop(env.Owner)
		h.OnCleared(env.Owner)
	default:
		s.log.Warn("unexpected message", zap.Stringer("kind", env.Kind))
	}
}

// Peers is a Handler that keeps the latest asset of every other participant.
type Peers struct {
	mu     sync.RWMutex
	skins  map[string]model.SkinAsset
	notify func(owner string, a *model.SkinAsset)
}

// NewPeers returns an empty Peers. notify, if set, runs after every change
// with a nil asset for a cleared owner.
func NewPeers(notify func(owner string, a *model.SkinAsset)) *Peers {
	return &Peers{skins: map[string]model.SkinAsset{}, notify: notify}
}

func (p *Peers) OnSkin(owner string, a model.SkinAsset) {
	p.mu.Lock()
	p.skins[owner] = a
	p.mu.Unlock()
	if p.notify != nil {
		p.notify(owner, &a)
	}
}

func (p *Peers) OnCleared(owner string) {
	p.mu.Lock()
	delete(p.skins, owner)
	p.mu.Unlock()
	if p.notify != nil {
		p.notify(owner, nil)
	}
}

// Get returns owner's asset.
func (p *Peers) Get(owner string) (model.SkinAsset, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.skins[owner]
	return a, ok
}

// Owners lists known owners, sorted.
func (p *Peers) Owners() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.skins))
	for o := range p.skins {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}
