// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/skin-sync/internal/model"
)

// SkinRepository keeps at most one skin per owner.
type SkinRepository interface {
	// Get loads owner's skin; errs.ErrNotFound when there is none.
	Get(ctx context.Context, owner uuid.UUID) (*model.StoredSkin, error)
	// Upsert replaces owner's skin and returns the stored update time.
	Upsert(ctx context.Context, owner uuid.UUID, s *model.StoredSkin) (time.Time, error)
	// Delete removes owner's skin; errs.ErrNotFound when there is none.
	Delete(ctx context.Context, owner uuid.UUID) error
	// List returns every stored skin.
	List(ctx context.Context) ([]model.StoredSkin, error)
}
