package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/skin-sync/internal/errs"
	"github.com/and161185/skin-sync/internal/model"
	"github.com/and161185/skin-sync/internal/repository"
)

// SkinService defines durable store operations, one skin per owner.
type SkinService interface {
	// Get returns owner's skin.
	Get(ctx context.Context, owner string) (*model.StoredSkin, error)
	// Put validates and stores s as owner's skin and returns the stored record.
	Put(ctx context.Context, owner string, s model.StoredSkin) (model.StoredSkin, error)
	// Delete removes owner's skin.
	Delete(ctx context.Context, owner string) error
	// List returns every stored skin.
	List(ctx context.Context) ([]model.StoredSkin, error)
}

type SkinServiceImpl struct {
	repo   repository.SkinRepository
	maxRes int
}

// NewSkinService constructs SkinService; maxRes bounds accepted square sizes.
func NewSkinService(repo repository.SkinRepository, maxRes int) *SkinServiceImpl {
	return &SkinServiceImpl{repo: repo, maxRes: maxRes}
}

func parseOwner(owner string) (uuid.UUID, error) {
	id, err := uuid.FromString(owner)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("validation: owner %q: %w", owner, errs.ErrInvalidArgument)
	}
	return id, nil
}

func (s *SkinServiceImpl) Get(ctx context.Context, owner string) (*model.StoredSkin, error) {
	id, err := parseOwner(owner)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Put validation rules:
// - owner is a UUID
// - image not empty
// - name at most model.MaxNameLength bytes
// - image plus secondary at most model.MaxAssetSize bytes
// - dimensions follow the size policy
func (s *SkinServiceImpl) Put(ctx context.Context, owner string, in model.StoredSkin) (model.StoredSkin, error) {
	id, err := parseOwner(owner)
	if err != nil {
		return model.StoredSkin{}, err
	}
	if len(in.Image) == 0 {
		return model.StoredSkin{}, fmt.Errorf("validation: empty image: %w", errs.ErrInvalidArgument)
	}
	if len(in.Name) > model.MaxNameLength {
		return model.StoredSkin{}, fmt.Errorf("validation: name length %d: %w", len(in.Name), errs.ErrInvalidArgument)
	}
	if size := len(in.Image) + len(in.Secondary); size > model.MaxAssetSize {
		return model.StoredSkin{}, fmt.Errorf("validation: %d bytes: %w", size, errs.ErrTooLarge)
	}
	if err := model.CheckDimensions(in.Width, in.Height, s.maxRes); err != nil {
		return model.StoredSkin{}, fmt.Errorf("validation: %w", err)
	}

	in.OwnerID = id.String()
	updated, err := s.repo.Upsert(ctx, id, &in)
	if err != nil {
		return model.StoredSkin{}, err
	}
	in.UpdatedAt = updated
	return in, nil
}

func (s *SkinServiceImpl) Delete(ctx context.Context, owner string) error {
	id, err := parseOwner(owner)
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *SkinServiceImpl) List(ctx context.Context) ([]model.StoredSkin, error) {
	return s.repo.List(ctx)
}
