// Package convert maps between domain values, transfer chunks and wire/API shapes.
package convert

import (
	"fmt"

	"github.com/and161185/skin-sync/internal/errs"
	"github.com/and161185/skin-sync/internal/transfer"
	"github.com/and161185/skin-sync/internal/wire"
)

// --- transfer <-> wire ---

// ToWireChunk converts a transfer chunk to its wire form.
func ToWireChunk(c transfer.Chunk) *wire.Chunk {
	return &wire.Chunk{
		AssetID:       c.AssetID,
		Name:          c.Name,
		Slim:          c.Slim,
		Width:         c.Width,
		Height:        c.Height,
		SecondarySize: c.SecondarySize,
		TotalSize:     c.TotalSize,
		Index:         c.Index,
		Total:         c.Total,
		Data:          c.Data,
	}
}

// FromWireChunk converts a wire chunk back. A nil chunk is malformed.
func FromWireChunk(c *wire.Chunk) (transfer.Chunk, error) {
	if c == nil {
		return transfer.Chunk{}, fmt.Errorf("missing chunk: %w", errs.ErrMalformedChunk)
	}
	return transfer.Chunk{
		Meta: transfer.Meta{
			AssetID:       c.AssetID,
			Name:          c.Name,
			Slim:          c.Slim,
			Width:         c.Width,
			Height:        c.Height,
			SecondarySize: c.SecondarySize,
		},
		TotalSize: c.TotalSize,
		Index:     c.Index,
		Total:     c.Total,
		Data:      c.Data,
	}, nil
}

// UploadEnvelope wraps a participant-to-server transfer message.
func UploadEnvelope(c transfer.Chunk) *wire.Envelope {
	kind := wire.KindUploadChunk
	if c.Single() {
		kind = wire.KindUpload
	}
	return &wire.Envelope{Kind: kind, Chunk: ToWireChunk(c)}
}

// SkinEnvelope wraps a server-to-participant transfer message about owner's asset.
func SkinEnvelope(owner string, c transfer.Chunk) *wire.Envelope {
	kind := wire.KindSkinChunk
	if c.Single() {
		kind = wire.KindSkin
	}
	return &wire.Envelope{Kind: kind, Owner: owner, Chunk: ToWireChunk(c)}
}

// ClearedEnvelope tells a participant that owner has no asset anymore.
func ClearedEnvelope(owner string) *wire.Envelope {
	return &wire.Envelope{Kind: wire.KindCleared, Owner: owner}
}
