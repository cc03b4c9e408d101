package convert

import (
	"time"

	"github.com/and161185/skin-sync/internal/model"
)

// Defaults applied when a stored record omits a field.
const (
	DefaultName   = "Unknown"
	DefaultWidth  = 64
	DefaultHeight = 64
)

// SkinJSON is the durable store API body. Byte fields travel as base64.
type SkinJSON struct {
	UUID               string `json:"uuid"`
	Name               string `json:"name"`
	Slim               bool   `json:"slim"`
	Width              int    `json:"width"`
	Height             int    `json:"height"`
	ImageData          []byte `json:"imageData"`
	SecondaryImageData []byte `json:"secondaryImageData,omitempty"`
	Timestamp          int64  `json:"timestamp"`
	UpdatedAt          string `json:"updatedAt,omitempty"`
}

// ToSkinJSON converts a stored record to its API body.
func ToSkinJSON(s model.StoredSkin) SkinJSON {
	out := SkinJSON{
		UUID:               s.OwnerID,
		Name:               s.Name,
		Slim:               s.Slim,
		Width:              s.Width,
		Height:             s.Height,
		ImageData:          s.Image,
		SecondaryImageData: s.Secondary,
		Timestamp:          s.Timestamp,
	}
	if !s.UpdatedAt.IsZero() {
		out.UpdatedAt = s.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// FromSkinJSON converts an API body, filling defaults for missing fields.
func FromSkinJSON(in SkinJSON) model.StoredSkin {
	out := model.StoredSkin{
		OwnerID:   in.UUID,
		Name:      in.Name,
		Slim:      in.Slim,
		Width:     in.Width,
		Height:    in.Height,
		Image:     in.ImageData,
		Secondary: in.SecondaryImageData,
		Timestamp: in.Timestamp,
	}
	if out.Name == "" {
		out.Name = DefaultName
	}
	if out.Width <= 0 {
		out.Width = DefaultWidth
	}
	if out.Height <= 0 {
		out.Height = DefaultHeight
	}
	if in.UpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339, in.UpdatedAt); err == nil {
			out.UpdatedAt = t
		}
	}
	return out
}

// RecordToStored converts a coordinator cache entry to a durable record.
func RecordToStored(r model.ServerSkinRecord) model.StoredSkin {
	return model.StoredSkin{
		OwnerID:   r.OwnerID,
		Name:      r.Name,
		Slim:      r.Slim,
		Width:     r.Width,
		Height:    r.Height,
		Image:     r.Primary,
		Secondary: r.Secondary,
		Timestamp: r.UpdatedAt.UnixMilli(),
	}
}

// StoredToRecord converts a durable record to a cache entry.
// The asset id is derived from the image checksum since the store keeps none.
func StoredToRecord(s model.StoredSkin) model.ServerSkinRecord {
	updated := s.UpdatedAt
	if updated.IsZero() && s.Timestamp > 0 {
		updated = time.UnixMilli(s.Timestamp)
	}
	return model.ServerSkinRecord{
		AssetID:   model.IDFromChecksum(model.Checksum(s.Image)),
		OwnerID:   s.OwnerID,
		Name:      s.Name,
		Primary:   s.Image,
		Secondary: s.Secondary,
		Width:     s.Width,
		Height:    s.Height,
		Slim:      s.Slim,
		UpdatedAt: updated,
	}
}
