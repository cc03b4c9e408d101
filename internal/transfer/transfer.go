// Package transfer moves payloads larger than one message across a size-limited channel.
//
// A payload no larger than the chunk ceiling travels as one self-contained
// message (Total == 1). Anything larger is split into ceil(len/ceiling)
// chunks emitted in index order. The receiving side tolerates arbitrary
// arrival order and duplicate chunks.
package transfer

import (
	"fmt"

	"github.com/and161185/skin-sync/internal/errs"
	"github.com/and161185/skin-sync/internal/model"
)

// DefaultMaxChunkSize is kept well below the transport's per-message limit.
const DefaultMaxChunkSize = 28000

// Meta is the display metadata repeated in every message of a transfer.
type Meta struct {
	AssetID       string
	Name          string
	Slim          bool
	Width         int
	Height        int
	SecondarySize int // trailing bytes of the payload that form the alternate image
}

// Chunk is one message of a transfer.
type Chunk struct {
	Meta
	TotalSize int
	Index     int
	Total     int
	Data      []byte
}

// Single reports whether the chunk carries a whole payload on its own.
func (c Chunk) Single() bool { return c.Total == 1 }

// Sink receives the messages produced by Splitter.Send, in order.
type Sink func(Chunk) error

// Splitter cuts payloads into chunks of at most MaxChunk bytes.
type Splitter struct {
	MaxChunk int
}

// NewSplitter returns a splitter; maxChunk <= 0 means DefaultMaxChunkSize.
func NewSplitter(maxChunk int) Splitter {
	if maxChunk <= 0 {
		maxChunk = DefaultMaxChunkSize
	}
	return Splitter{MaxChunk: maxChunk}
}

// Split returns the messages for payload. Chunk data aliases payload.
func (s Splitter) Split(meta Meta, payload []byte) []Chunk {
	limit := s.MaxChunk
	if limit <= 0 {
		limit = DefaultMaxChunkSize
	}
	size := len(payload)
	if size <= limit {
		return []Chunk{{Meta: meta, TotalSize: size, Index: 0, Total: 1, Data: payload}}
	}

	total := (size + limit - 1) / limit
	out := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * limit
		end := start + limit
		if end > size {
			end = size
		}
		out = append(out, Chunk{Meta: meta, TotalSize: size, Index: i, Total: total, Data: payload[start:end]})
	}
	return out
}

// Send splits payload and hands every message to sink in index order.
// It stops at the first sink error and returns the number of messages sent.
func (s Splitter) Send(meta Meta, payload []byte, sink Sink) (int, error) {
	chunks := s.Split(meta, payload)
	for i, c := range chunks {
		if err := sink(c); err != nil {
			return i, fmt.Errorf("chunk %d/%d: %w", c.Index+1, c.Total, err)
		}
	}
	return len(chunks), nil
}

// Encode flattens an asset into transfer metadata and payload (primary followed by secondary).
func Encode(a model.SkinAsset) (Meta, []byte) {
	meta := Meta{
		AssetID:       a.ID,
		Name:          a.Name,
		Slim:          a.Slim,
		Width:         a.Width,
		Height:        a.Height,
		SecondarySize: len(a.Secondary),
	}
	if len(a.Secondary) == 0 {
		return meta, a.Primary
	}
	payload := make([]byte, 0, len(a.Primary)+len(a.Secondary))
	payload = append(payload, a.Primary...)
	payload = append(payload, a.Secondary...)
	return meta, payload
}

// Decode rebuilds the asset owned by owner from a completed transfer.
func Decode(meta Meta, payload []byte, owner string) (model.SkinAsset, error) {
	if meta.SecondarySize < 0 || meta.SecondarySize > len(payload) {
		return model.SkinAsset{}, fmt.Errorf("secondary size %d of %d: %w", meta.SecondarySize, len(payload), errs.ErrMalformedChunk)
	}
	cut := len(payload) - meta.SecondarySize
	cfg := model.AssetConfig{
		ID:      meta.AssetID,
		Name:    meta.Name,
		Width:   meta.Width,
		Height:  meta.Height,
		Slim:    meta.Slim,
		OwnerID: owner,
		Primary: payload[:cut:cut],
	}
	if meta.SecondarySize > 0 {
		cfg.Secondary = payload[cut:]
	}
	return model.NewAsset(cfg)
}
