package transfer

import (
	"fmt"
	"sync"
	"time"

	"github.com/and161185/skin-sync/internal/errs"
	"github.com/and161185/skin-sync/internal/model"
)

// MaxChunks bounds the chunk count a transfer may announce.
const MaxChunks = 4096

// Completed is a fully reassembled payload.
type Completed struct {
	Sender  string
	Meta    Meta
	Payload []byte
}

// pendingTransfer is the reassembly buffer of one sender.
type pendingTransfer struct {
	mu        sync.Mutex
	assetID   string
	totalSize int
	total     int
	chunks    map[int][]byte // filled lazily; memory follows bytes actually received
	bytes     int
	meta      Meta
	started   time.Time
}

// Reassembler collects chunks per sender key. Each sender owns at most one
// buffer; a chunk for another asset id from the same sender replaces it.
// Safe for concurrent use by different senders.
type Reassembler struct {
	maxSize int
	pending sync.Map // sender key -> *pendingTransfer
	now     func() time.Time
}

// NewReassembler returns a reassembler accepting payloads up to maxSize bytes
// (model.MaxAssetSize when maxSize <= 0).
func NewReassembler(maxSize int) *Reassembler {
	if maxSize <= 0 {
		maxSize = model.MaxAssetSize
	}
	return &Reassembler{maxSize: maxSize, now: time.Now}
}

// Receive stores c for sender. It returns the completed transfer once every
// index has arrived; the buffer is removed at that point. Malformed chunks
// are rejected with errs.ErrMalformedChunk and leave existing buffers untouched.
func (r *Reassembler) Receive(sender string, c Chunk) (Completed, bool, error) {
	if err := r.check(c); err != nil {
		return Completed{}, false, err
	}

	p := r.bufferFor(sender, c)

	p.mu.Lock()
	if _, dup := p.chunks[c.Index]; !dup {
		if p.bytes+len(c.Data) > p.totalSize {
			p.mu.Unlock()
			r.pending.CompareAndDelete(sender, p)
			return Completed{}, false, fmt.Errorf("%d bytes past announced %d: %w", p.bytes+len(c.Data), p.totalSize, errs.ErrMalformedChunk)
		}
		p.chunks[c.Index] = c.Data
		p.bytes += len(c.Data)
	}
	if len(p.chunks) < p.total {
		p.mu.Unlock()
		return Completed{}, false, nil
	}
	payload := make([]byte, 0, p.totalSize)
	for i := 0; i < p.total; i++ {
		payload = append(payload, p.chunks[i]...)
	}
	meta := p.meta
	p.mu.Unlock()

	r.pending.CompareAndDelete(sender, p)

	if len(payload) != p.totalSize {
		return Completed{}, false, fmt.Errorf("assembled %d bytes, announced %d: %w", len(payload), p.totalSize, errs.ErrMalformedChunk)
	}
	return Completed{Sender: sender, Meta: meta, Payload: payload}, true, nil
}

func (r *Reassembler) check(c Chunk) error {
	if c.Total < 1 || c.Total > MaxChunks || c.Index < 0 || c.Index >= c.Total {
		return fmt.Errorf("index %d of %d: %w", c.Index, c.Total, errs.ErrMalformedChunk)
	}
	if c.TotalSize < 0 || c.TotalSize > r.maxSize {
		return fmt.Errorf("total size %d: %w", c.TotalSize, errs.ErrMalformedChunk)
	}
	if len(c.Data) > c.TotalSize {
		return fmt.Errorf("%d bytes of %d: %w", len(c.Data), c.TotalSize, errs.ErrMalformedChunk)
	}
	if c.Total == 1 || c.Index == c.Total-1 {
		return nil
	}
	// every chunk but the last is full, so its size fixes the chunk count
	if n := len(c.Data); n == 0 || c.Total != (c.TotalSize+n-1)/n {
		return fmt.Errorf("%d chunks of %d bytes for %d: %w", c.Total, len(c.Data), c.TotalSize, errs.ErrMalformedChunk)
	}
	return nil
}

func (r *Reassembler) bufferFor(sender string, c Chunk) *pendingTransfer {
	if v, ok := r.pending.Load(sender); ok {
		p := v.(*pendingTransfer)
		if p.assetID == c.AssetID && p.total == c.Total && p.totalSize == c.TotalSize {
			return p
		}
	}
	p := &pendingTransfer{
		assetID:   c.AssetID,
		totalSize: c.TotalSize,
		total:     c.Total,
		chunks:    map[int][]byte{},
		meta:      c.Meta,
		started:   r.now(),
	}
	r.pending.Store(sender, p)
	return p
}

// Progress reports the received and total chunk counts of sender's buffer.
func (r *Reassembler) Progress(sender string) (received, total int, ok bool) {
	v, ok := r.pending.Load(sender)
	if !ok {
		return 0, 0, false
	}
	p := v.(*pendingTransfer)
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chunks), p.total, true
}

// Drop discards sender's buffer, if any.
func (r *Reassembler) Drop(sender string) {
	r.pending.Delete(sender)
}

// Evict discards buffers started before now-maxAge and returns how many were dropped.
func (r *Reassembler) Evict(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)
	n := 0
	r.pending.Range(func(k, v any) bool {
		if v.(*pendingTransfer).started.Before(cutoff) {
			if r.pending.CompareAndDelete(k, v) {
				n++
			}
		}
		return true
	})
	return n
}

// Len returns the number of in-progress transfers.
func (r *Reassembler) Len() int {
	n := 0
	r.pending.Range(func(_, _ any) bool { n++; return true })
	return n
}
