// Package model defines domain entities shared by the catalog, transfer, store and coordinator layers.
package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/png" // secondary images are decoded for their dimensions
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/skin-sync/internal/errs"
)

// Limits applied on every upload and import path.
const (
	MaxAssetSize    = 10 * 1024 * 1024 // primary + secondary bytes
	MaxNameLength   = 32767
	checksumIDChars = 16
)

// SkinAsset is an immutable identity texture with an optional alternate image.
type SkinAsset struct {
	ID        string
	Name      string
	Width     int
	Height    int
	Slim      bool
	OwnerID   string // empty for local-only assets
	CreatedAt int64  // epoch milliseconds
	Primary   []byte
	Secondary []byte // nil when the asset has no alternate image
}

// HasSecondary reports whether the asset carries an alternate image.
func (a SkinAsset) HasSecondary() bool { return len(a.Secondary) > 0 }

// Size returns the number of image bytes carried by the asset.
func (a SkinAsset) Size() int { return len(a.Primary) + len(a.Secondary) }

// AssetConfig holds the named fields accepted by NewAsset. Zero values mean "not set".
type AssetConfig struct {
	ID        string // explicit id; wins over Checksum
	Checksum  string // hex SHA-256 of Primary; id is derived from it when ID is empty
	Name      string
	Width     int
	Height    int
	Slim      bool
	OwnerID   string
	CreatedAt int64
	Primary   []byte
	Secondary []byte
}

// NewAsset validates cfg once and builds the asset.
func NewAsset(cfg AssetConfig) (SkinAsset, error) {
	if cfg.Name == "" {
		return SkinAsset{}, fmt.Errorf("name is empty: %w", errs.ErrInvalidArgument)
	}
	if len(cfg.Name) > MaxNameLength {
		return SkinAsset{}, fmt.Errorf("name longer than %d bytes: %w", MaxNameLength, errs.ErrInvalidArgument)
	}
	if cfg.Primary == nil {
		return SkinAsset{}, fmt.Errorf("primary image missing: %w", errs.ErrInvalidArgument)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return SkinAsset{}, fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, errs.ErrDimensions)
	}
	if len(cfg.Primary)+len(cfg.Secondary) > MaxAssetSize {
		return SkinAsset{}, fmt.Errorf("%d bytes: %w", len(cfg.Primary)+len(cfg.Secondary), errs.ErrTooLarge)
	}
	if len(cfg.Secondary) > 0 {
		if err := matchDimensions(cfg.Secondary, cfg.Width, cfg.Height); err != nil {
			return SkinAsset{}, fmt.Errorf("secondary image: %w", err)
		}
	}

	a := SkinAsset{
		ID:        cfg.ID,
		Name:      cfg.Name,
		Width:     cfg.Width,
		Height:    cfg.Height,
		Slim:      cfg.Slim,
		OwnerID:   cfg.OwnerID,
		CreatedAt: cfg.CreatedAt,
		Primary:   cfg.Primary,
	}
	if len(cfg.Secondary) > 0 {
		a.Secondary = cfg.Secondary
	}
	if a.ID == "" {
		if cfg.Checksum != "" {
			a.ID = IDFromChecksum(cfg.Checksum)
		} else {
			a.ID = uuid.Must(uuid.NewV4()).String()
		}
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().UnixMilli()
	}
	return a, nil
}

func matchDimensions(img []byte, width, height int) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return fmt.Errorf("decode: %v: %w", err, errs.ErrDimensions)
	}
	if cfg.Width != width || cfg.Height != height {
		return fmt.Errorf("%dx%d, primary is %dx%d: %w", cfg.Width, cfg.Height, width, height, errs.ErrDimensions)
	}
	return nil
}

// Checksum returns the hex SHA-256 of b.
func Checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// IDFromChecksum derives the stable asset id from a hex checksum.
func IDFromChecksum(sum string) string {
	if len(sum) <= checksumIDChars {
		return sum
	}
	return sum[:checksumIDChars]
}

// ServerSkinRecord is the coordinator's authoritative cache entry, one per owner.
type ServerSkinRecord struct {
	AssetID   string
	OwnerID   string
	Name      string
	Primary   []byte
	Secondary []byte
	Width     int
	Height    int
	Slim      bool
	UpdatedAt time.Time
}

// RecordFromAsset builds the cache entry stored for owner.
func RecordFromAsset(owner string, a SkinAsset) ServerSkinRecord {
	return ServerSkinRecord{
		AssetID:   a.ID,
		OwnerID:   owner,
		Name:      a.Name,
		Primary:   a.Primary,
		Secondary: a.Secondary,
		Width:     a.Width,
		Height:    a.Height,
		Slim:      a.Slim,
		UpdatedAt: time.Now(),
	}
}

// Asset returns the record as a SkinAsset owned by the record owner.
func (r ServerSkinRecord) Asset() SkinAsset {
	return SkinAsset{
		ID:        r.AssetID,
		Name:      r.Name,
		Width:     r.Width,
		Height:    r.Height,
		Slim:      r.Slim,
		OwnerID:   r.OwnerID,
		CreatedAt: r.UpdatedAt.UnixMilli(),
		Primary:   r.Primary,
		Secondary: r.Secondary,
	}
}

// StoredSkin is the per-owner record kept by the durable store.
type StoredSkin struct {
	OwnerID   string
	Name      string
	Slim      bool
	Width     int
	Height    int
	Image     []byte
	Secondary []byte
	Timestamp int64 // client-side epoch millis of the upload
	UpdatedAt time.Time
}
