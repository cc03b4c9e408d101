// Package coordinator holds the authoritative in-memory asset cache of a
// session and fans assets out to connected participants.
//
// All state is owned by a single loop goroutine (Run). Transport goroutines
// and durable-store completions hand work to the loop with Post or Exec; the
// exported operations documented as loop-only must be called from inside
// such a function.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/skin-sync/internal/convert"
	"github.com/and161185/skin-sync/internal/model"
	"github.com/and161185/skin-sync/internal/skinstore"
	"github.com/and161185/skin-sync/internal/transfer"
	"github.com/and161185/skin-sync/internal/wire"
)

// ErrStopped is returned by Post and Exec once Run has returned.
var ErrStopped = errors.New("coordinator stopped")

// Defaults for Config zero values.
const (
	DefaultJoinSyncDelayTicks = 40 // two seconds at 20 ticks per second
	DefaultTickInterval       = 50 * time.Millisecond
	DefaultQueueSize          = 1024
)

// Sender delivers one transfer to a participant: every chunk of an asset is
// queued as a unit or not at all. It must not block; an error means the
// participant is currently unreachable.
type Sender interface {
	Send(envs ...*wire.Envelope) error
}

// Store is the asynchronous durable store; *skinstore.Gateway implements it.
type Store interface {
	Fetch(owner string) <-chan skinstore.Fetched
	Upsert(s model.StoredSkin) <-chan bool
	Delete(owner string) <-chan bool
	List() <-chan []model.StoredSkin
}

var _ Store = (*skinstore.Gateway)(nil)

// State is a participant's position in the join-sync lifecycle.
type State int

// Participant states. A disconnected participant is simply removed.
const (
	StateJoining State = iota
	StateSyncPending
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateSyncPending:
		return "sync_pending"
	case StateSynced:
		return "synced"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type participant struct {
	id        string
	sender    Sender
	state     State
	countdown int
}

// Config tunes a Coordinator.
type Config struct {
	MaxChunkSize       int // transfer.DefaultMaxChunkSize when zero
	JoinSyncDelayTicks int // DefaultJoinSyncDelayTicks when zero; negative means sync on the first tick
	QueueSize          int
}

// Status is a snapshot for operators.
type Status struct {
	Cached       int
	Participants int
	PendingJoins int
	Persistence  bool
}

// Coordinator is the server-side authority for session assets.
type Coordinator struct {
	log       *zap.Logger
	store     Store
	splitter  transfer.Splitter
	joinDelay int

	cache        map[string]model.ServerSkinRecord
	gen          map[string]uint64 // bumped when an owner's record is replaced or cleared
	participants map[string]*participant

	events chan func()
	done   chan struct{}
}

// New builds a coordinator. store may be nil to run without persistence.
func New(cfg Config, store Store, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	delay := cfg.JoinSyncDelayTicks
	switch {
	case delay == 0:
		delay = DefaultJoinSyncDelayTicks
	case delay < 0:
		delay = 0
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = DefaultQueueSize
	}
	return &Coordinator{
		log:          log,
		store:        store,
		splitter:     transfer.NewSplitter(cfg.MaxChunkSize),
		joinDelay:    delay,
		cache:        map[string]model.ServerSkinRecord{},
		gen:          map[string]uint64{},
		participants: map[string]*participant{},
		events:       make(chan func(), queue),
		done:         make(chan struct{}),
	}
}

// Run owns the coordinator state until ctx is cancelled. It warms the cache
// from the durable store, then alternates between ticks and posted events.
func (c *Coordinator) Run(ctx context.Context, tick time.Duration) error {
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	defer close(c.done)

	c.warm()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.safely("tick", c.Tick)
		case fn := <-c.events:
			c.safely("event", fn)
		}
	}
}

// safely runs fn so that a panic in one event never stops the loop.
func (c *Coordinator) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("coordinator panic", zap.String("in", what), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// Post queues fn to run on the loop.
func (c *Coordinator) Post(ctx context.Context, fn func()) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.events <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// Exec runs fn on the loop and waits for it to finish.
func (c *Coordinator) Exec(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := c.Post(ctx, func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// await delivers the value of ch to fn on the loop.
func await[T any](c *Coordinator, ch <-chan T, fn func(T)) {
	go func() {
		select {
		case v := <-ch:
			select {
			case c.events <- func() { fn(v) }:
			case <-c.done:
			}
		case <-c.done:
		}
	}()
}

// --- Participants (loop-only) ---

// Join registers a connected participant and starts its join-sync countdown.
// A reconnecting id replaces the previous sender.
func (c *Coordinator) Join(id string, s Sender) {
	p := &participant{id: id, sender: s, state: StateJoining}
	c.participants[id] = p
	p.state = StateSyncPending
	p.countdown = c.joinDelay
	c.log.Info("participant joined", zap.String("participant", id), zap.Int("sync_in_ticks", p.countdown))

	if _, cached := c.cache[id]; !cached && c.store != nil {
		gen := c.gen[id]
		await(c, c.store.Fetch(id), func(f skinstore.Fetched) { c.joinFetched(id, gen, f) })
	}
}

func (c *Coordinator) joinFetched(id string, gen uint64, f skinstore.Fetched) {
	if !f.OK {
		return
	}
	if _, cached := c.cache[id]; cached || c.gen[id] != gen {
		return // an upload or reset arrived while the store was being asked
	}
	rec := convert.StoredToRecord(f.Skin)
	c.cache[id] = rec
	sent := c.broadcast(rec)
	c.log.Info("restored skin on join", zap.String("owner", id), zap.Int("sent", sent))
}

// Leave forgets a participant and any pending join-sync. Its cached asset stays.
// When s is non-nil the participant is only removed if it is still served by
// s, so a stale session ending after a reconnect leaves the new one alone.
func (c *Coordinator) Leave(id string, s Sender) bool {
	p, ok := c.participants[id]
	if !ok || (s != nil && p.sender != s) {
		return false
	}
	delete(c.participants, id)
	c.log.Info("participant left", zap.String("participant", id))
	return true
}

// State reports a participant's lifecycle state.
func (c *Coordinator) State(id string) (State, bool) {
	p, ok := c.participants[id]
	if !ok {
		return 0, false
	}
	return p.state, true
}

// Tick advances join-sync countdowns and pushes the cache to participants
// whose countdown reached zero.
func (c *Coordinator) Tick() {
	for _, id := range c.participantIDs() {
		p := c.participants[id]
		if p.state != StateSyncPending {
			continue
		}
		p.countdown--
		if p.countdown > 0 {
			continue
		}
		sent := c.syncParticipant(p)
		p.state = StateSynced
		c.log.Debug("join sync done", zap.String("participant", id), zap.Int("sent", sent))
	}
}

func (c *Coordinator) syncParticipant(p *participant) int {
	sent := 0
	for _, owner := range c.ownerIDs() {
		if owner == p.id {
			continue
		}
		if c.sendTo(p, owner, c.envelopesOf(c.cache[owner])) {
			sent++
		}
	}
	return sent
}

// Status returns counters for operators.
func (c *Coordinator) Status() Status {
	st := Status{
		Cached:       len(c.cache),
		Participants: len(c.participants),
		Persistence:  c.store != nil,
	}
	for _, p := range c.participants {
		if p.state == StateSyncPending {
			st.PendingJoins++
		}
	}
	return st
}

// Record returns the cached record of owner.
func (c *Coordinator) Record(owner string) (model.ServerSkinRecord, bool) {
	r, ok := c.cache[owner]
	return r, ok
}

func (c *Coordinator) participantIDs() []string {
	ids := make([]string, 0, len(c.participants))
	for id := range c.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Coordinator) ownerIDs() []string {
	ids := make([]string, 0, len(c.cache))
	for id := range c.cache {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
