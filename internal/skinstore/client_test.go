package skinstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/skin-sync/internal/errs"
	"github.com/and161185/skin-sync/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithHTTPClient(srv.Client())}, opts...)
	return NewClient(srv.URL, "secret", zaptest.NewLogger(t), opts...)
}

func TestFetch_OKWithDefaults(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/skins/owner-1", r.URL.Path)
		_, _ = io.WriteString(w, `{"uuid":"owner-1","imageData":"AQID","slim":true}`)
	})

	s, err := c.Fetch(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", s.OwnerID)
	assert.Equal(t, "Unknown", s.Name)
	assert.Equal(t, 64, s.Width)
	assert.True(t, s.Slim)
	assert.Equal(t, []byte{1, 2, 3}, s.Image)
}

func TestFetch_StatusMapping(t *testing.T) {
	status := http.StatusNotFound
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})

	_, err := c.Fetch(context.Background(), "x")
	require.ErrorIs(t, err, errs.ErrNotFound)

	status = http.StatusInternalServerError
	_, err = c.Fetch(context.Background(), "x")
	require.ErrorIs(t, err, errs.ErrUnavailable)
}

func TestFetch_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeouts(Timeouts{Fetch: 50 * time.Millisecond}))
	defer close(release)

	_, err := c.Fetch(context.Background(), "slow")
	require.ErrorIs(t, err, errs.ErrUnavailable)
}

func TestUpsert_Body(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	})

	err := c.Upsert(context.Background(), model.StoredSkin{
		OwnerID: "o", Name: "steve", Width: 64, Height: 32, Image: []byte{1, 2, 3}, Secondary: []byte{4},
	})
	require.NoError(t, err)
	assert.Equal(t, "o", got["uuid"])
	assert.Equal(t, "AQID", got["imageData"])
	assert.Equal(t, "BA==", got["secondaryImageData"])
	assert.EqualValues(t, 32, got["height"])
	assert.NotZero(t, got["timestamp"])
}

func TestUpsert_Failure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	require.ErrorIs(t, c.Upsert(context.Background(), model.StoredSkin{OwnerID: "o"}), errs.ErrUnavailable)
}

func TestDelete_Statuses(t *testing.T) {
	for _, tc := range []struct {
		status int
		ok     bool
	}{
		{http.StatusOK, true},
		{http.StatusNoContent, true},
		{http.StatusNotFound, true},
		{http.StatusBadGateway, false},
	} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			w.WriteHeader(tc.status)
		})
		err := c.Delete(context.Background(), "o")
		assert.Equal(t, tc.ok, err == nil, "status %d", tc.status)
	}
}

func TestList_SkipsIncomplete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/skins", r.URL.Path)
		_, _ = io.WriteString(w, `[{"uuid":"a","imageData":"AQ=="},{"uuid":"","imageData":"AQ=="},{"uuid":"c"}]`)
	})
	skins, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, skins, 1)
	assert.Equal(t, "a", skins[0].OwnerID)
}

func TestConfigured(t *testing.T) {
	assert.False(t, NewClient("", "", nil).Configured())
	assert.True(t, NewClient("", "k", nil).Configured())
}
