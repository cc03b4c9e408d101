package storeapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/skin-sync/internal/errs"
	"github.com/and161185/skin-sync/internal/limiter"
	"github.com/and161185/skin-sync/internal/model"
	"github.com/and161185/skin-sync/internal/repository"
	"github.com/and161185/skin-sync/internal/service"
	"github.com/and161185/skin-sync/internal/skinstore"
)

type memRepo struct {
	mu    sync.Mutex
	skins map[uuid.UUID]model.StoredSkin
}

var _ repository.SkinRepository = (*memRepo)(nil)

func (m *memRepo) Get(_ context.Context, owner uuid.UUID) (*model.StoredSkin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.skins[owner]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &s, nil
}

func (m *memRepo) Upsert(_ context.Context, owner uuid.UUID, s *model.StoredSkin) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := *s
	rec.UpdatedAt = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	m.skins[owner] = rec
	return rec.UpdatedAt, nil
}

func (m *memRepo) Delete(_ context.Context, owner uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.skins[owner]; !ok {
		return errs.ErrNotFound
	}
	delete(m.skins, owner)
	return nil
}

func (m *memRepo) List(context.Context) ([]model.StoredSkin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StoredSkin
	for _, s := range m.skins {
		out = append(out, s)
	}
	return out, nil
}

// fixedKey accepts one key without hashing; argon2 is covered in the service tests.
type fixedKey struct{ key string }

func (f fixedKey) Authenticate(_ context.Context, key, _ string) error {
	if key != f.key {
		return errs.ErrUnauthorized
	}
	return nil
}

const owner = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

func startStore(t *testing.T, keys service.KeyAuth) (*httptest.Server, *memRepo) {
	t.Helper()
	repo := &memRepo{skins: map[uuid.UUID]model.StoredSkin{}}
	h := NewHandler(service.NewSkinService(repo, 0), keys, zaptest.NewLogger(t))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, repo
}

func TestStoreAPI_ClientRoundTrip(t *testing.T) {
	srv, _ := startStore(t, fixedKey{"k"})
	c := skinstore.NewClient(srv.URL, "k", zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := c.Fetch(ctx, owner)
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, c.Upsert(ctx, model.StoredSkin{
		OwnerID: owner, Name: "Steve", Slim: true, Width: 64, Height: 64,
		Image: []byte("png"), Secondary: []byte("mouth"), Timestamp: 5,
	}))

	got, err := c.Fetch(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "Steve", got.Name)
	assert.True(t, got.Slim)
	assert.Equal(t, []byte("mouth"), got.Secondary)
	assert.Equal(t, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), got.UpdatedAt)

	all, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, owner, all[0].OwnerID)

	require.NoError(t, c.Delete(ctx, owner))
	require.NoError(t, c.Delete(ctx, owner)) // 404 counts as deleted
}

func do(t *testing.T, method, url, key, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestStoreAPI_StatusCodes(t *testing.T) {
	srv, repo := startStore(t, fixedKey{"k"})
	skin := srv.URL + "/skins/" + owner

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/ping", "", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, srv.URL+"/skins", "", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, skin, "nope", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, skin, "k", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPut, skin, "k", "{").StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPut, srv.URL+"/skins/steve", "k", `{"imageData":"cG5n"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPut, skin, "k", `{"imageData":"cG5n","width":100,"height":100}`).StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, http.MethodPost, skin, "k", "").StatusCode)

	resp := do(t, http.MethodPut, skin, "k", `{"uuid":"ignored","imageData":"cG5n","timestamp":7}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stored := repo.skins[uuid.Must(uuid.FromString(owner))]
	assert.Equal(t, owner, stored.OwnerID)
	assert.Equal(t, "Unknown", stored.Name)
	assert.Equal(t, 64, stored.Width)
	assert.Equal(t, []byte("png"), stored.Image)

	assert.Equal(t, http.StatusNoContent, do(t, http.MethodDelete, skin, "k", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodDelete, skin, "k", "").StatusCode)
}

func TestStoreAPI_RateLimitsFailedKeys(t *testing.T) {
	hash := "$argon2id$v=19$m=8,t=1,p=1$c2FsdHNhbHQ$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	lim := limiter.NewMemory(limiter.Policy{Window: time.Hour, MaxFails: 2, BlockFor: time.Hour})
	srv, _ := startStore(t, service.NewKeyAuth(hash, lim))

	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, srv.URL+"/skins", "a", "").StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, do(t, http.MethodGet, srv.URL+"/skins", "b", "").StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, do(t, http.MethodGet, srv.URL+"/skins", "c", "").StatusCode)
}
