package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgcrypto "github.com/and161185/skin-sync/internal/crypto"
	"github.com/and161185/skin-sync/internal/errs"
	"github.com/and161185/skin-sync/internal/limiter"
	"github.com/and161185/skin-sync/internal/model"
	"github.com/and161185/skin-sync/internal/repository"
)

type fakeSkinRepo struct {
	mu      sync.Mutex
	skins   map[uuid.UUID]model.StoredSkin
	now     time.Time
	upserts int
	err     error
}

var _ repository.SkinRepository = (*fakeSkinRepo)(nil)

func newFakeRepo() *fakeSkinRepo {
	return &fakeSkinRepo{skins: map[uuid.UUID]model.StoredSkin{}, now: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeSkinRepo) Get(_ context.Context, owner uuid.UUID) (*model.StoredSkin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.skins[owner]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &s, nil
}

func (f *fakeSkinRepo) Upsert(_ context.Context, owner uuid.UUID, s *model.StoredSkin) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return time.Time{}, f.err
	}
	f.upserts++
	rec := *s
	rec.UpdatedAt = f.now
	f.skins[owner] = rec
	return f.now, nil
}

func (f *fakeSkinRepo) Delete(_ context.Context, owner uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.skins[owner]; !ok {
		return errs.ErrNotFound
	}
	delete(f.skins, owner)
	return nil
}

func (f *fakeSkinRepo) List(context.Context) ([]model.StoredSkin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.StoredSkin, 0, len(f.skins))
	for _, s := range f.skins {
		out = append(out, s)
	}
	return out, nil
}

const owner = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

func validSkin() model.StoredSkin {
	return model.StoredSkin{Name: "Steve", Width: 64, Height: 64, Image: []byte("png"), Timestamp: 1}
}

func TestSkinService_PutGetDelete(t *testing.T) {
	repo := newFakeRepo()
	svc := NewSkinService(repo, 0)
	ctx := context.Background()

	got, err := svc.Put(ctx, strings.ToUpper(owner), validSkin())
	require.NoError(t, err)
	assert.Equal(t, owner, got.OwnerID)
	assert.Equal(t, repo.now, got.UpdatedAt)

	s, err := svc.Get(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "Steve", s.Name)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, svc.Delete(ctx, owner))
	require.ErrorIs(t, svc.Delete(ctx, owner), errs.ErrNotFound)
	_, err = svc.Get(ctx, owner)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSkinService_PutValidation(t *testing.T) {
	svc := NewSkinService(newFakeRepo(), 256)
	ctx := context.Background()

	cases := map[string]struct {
		owner  string
		mutate func(*model.StoredSkin)
		want   error
	}{
		"bad owner":   {"steve", func(*model.StoredSkin) {}, errs.ErrInvalidArgument},
		"nil owner":   {uuid.Nil.String(), func(*model.StoredSkin) {}, errs.ErrInvalidArgument},
		"empty image": {owner, func(s *model.StoredSkin) { s.Image = nil }, errs.ErrInvalidArgument},
		"long name":   {owner, func(s *model.StoredSkin) { s.Name = strings.Repeat("x", model.MaxNameLength+1) }, errs.ErrInvalidArgument},
		"too large":   {owner, func(s *model.StoredSkin) { s.Secondary = make([]byte, model.MaxAssetSize) }, errs.ErrTooLarge},
		"bad dims":    {owner, func(s *model.StoredSkin) { s.Width, s.Height = 100, 100 }, errs.ErrDimensions},
		"above max":   {owner, func(s *model.StoredSkin) { s.Width, s.Height = 512, 512 }, errs.ErrDimensions},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s := validSkin()
			tc.mutate(&s)
			_, err := svc.Put(ctx, tc.owner, s)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSkinService_PutRepoError(t *testing.T) {
	repo := newFakeRepo()
	repo.err = errors.New("down")
	_, err := NewSkinService(repo, 0).Put(context.Background(), owner, validSkin())
	require.Error(t, err)
}

type countingLimiter struct {
	limiter.Limiter
	failures, successes int
}

func (c *countingLimiter) Failure(ctx context.Context, s string, ip []byte) (bool, time.Duration, error) {
	c.failures++
	return c.Limiter.Failure(ctx, s, ip)
}

func (c *countingLimiter) Success(ctx context.Context, s string, ip []byte) error {
	c.successes++
	return c.Limiter.Success(ctx, s, ip)
}

func TestKeyAuth(t *testing.T) {
	hash, err := pkgcrypto.HashAPIKey("right")
	require.NoError(t, err)
	lim := &countingLimiter{Limiter: limiter.NewMemory(limiter.Policy{Window: time.Hour, MaxFails: 2, BlockFor: time.Hour})}
	a := NewKeyAuth(hash, lim)
	ctx := context.Background()

	require.NoError(t, a.Authenticate(ctx, "right", "10.0.0.1"))
	require.NoError(t, a.Authenticate(ctx, "right", "10.0.0.1"))
	assert.Equal(t, 2, lim.successes)

	require.ErrorIs(t, a.Authenticate(ctx, "", "10.0.0.2"), errs.ErrUnauthorized)
	require.ErrorIs(t, a.Authenticate(ctx, "wrong", "10.0.0.2"), errs.ErrRateLimited)
	require.ErrorIs(t, a.Authenticate(ctx, "right", "10.0.0.2"), errs.ErrRateLimited)
	assert.Equal(t, 2, lim.failures)

	require.NoError(t, a.Authenticate(ctx, "right", "10.0.0.1"))
}

func TestKeyAuth_BadHash(t *testing.T) {
	a := NewKeyAuth("not-a-hash", limiter.NewMemory(limiter.DefaultPolicy))
	err := a.Authenticate(context.Background(), "k", "10.0.0.1")
	require.ErrorIs(t, err, pkgcrypto.ErrBadHash)
}
