package convert

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/skin-sync/internal/errs"
	"github.com/and161185/skin-sync/internal/model"
	"github.com/and161185/skin-sync/internal/transfer"
	"github.com/and161185/skin-sync/internal/wire"
)

func TestChunkWireRoundTrip(t *testing.T) {
	t.Parallel()

	c := transfer.Chunk{
		Meta:      transfer.Meta{AssetID: "a", Name: "n", Slim: true, Width: 64, Height: 32, SecondarySize: 2},
		TotalSize: 10, Index: 1, Total: 2, Data: []byte{1, 2, 3},
	}
	got, err := FromWireChunk(ToWireChunk(c))
	require.NoError(t, err)
	assert.Equal(t, c, got)

	_, err = FromWireChunk(nil)
	require.ErrorIs(t, err, errs.ErrMalformedChunk)
}

func TestEnvelopeKinds(t *testing.T) {
	t.Parallel()

	single := transfer.Chunk{Total: 1}
	part := transfer.Chunk{Total: 3}

	assert.Equal(t, wire.KindUpload, UploadEnvelope(single).Kind)
	assert.Equal(t, wire.KindUploadChunk, UploadEnvelope(part).Kind)
	assert.Equal(t, wire.KindSkin, SkinEnvelope("o", single).Kind)
	env := SkinEnvelope("o", part)
	assert.Equal(t, wire.KindSkinChunk, env.Kind)
	assert.Equal(t, "o", env.Owner)

	cl := ClearedEnvelope("o")
	assert.Equal(t, wire.KindCleared, cl.Kind)
	assert.Nil(t, cl.Chunk)
}

func TestSkinJSON_DefaultsAndBase64(t *testing.T) {
	t.Parallel()

	var in SkinJSON
	require.NoError(t, json.Unmarshal([]byte(`{"uuid":"u1","imageData":"AQID","timestamp":5}`), &in))
	s := FromSkinJSON(in)
	assert.Equal(t, "u1", s.OwnerID)
	assert.Equal(t, DefaultName, s.Name)
	assert.Equal(t, 64, s.Width)
	assert.Equal(t, 64, s.Height)
	assert.Equal(t, []byte{1, 2, 3}, s.Image)

	s.UpdatedAt = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	out, err := json.Marshal(ToSkinJSON(s))
	require.NoError(t, err)
	assert.Contains(t, string(out), `"imageData":"AQID"`)
	assert.Contains(t, string(out), `"updatedAt":"2025-01-02T03:04:05Z"`)
	assert.NotContains(t, string(out), "secondaryImageData")
}

func TestRecordStoredRoundTrip(t *testing.T) {
	t.Parallel()

	r := model.ServerSkinRecord{
		OwnerID: "o", Name: "n", Primary: []byte("img"), Secondary: []byte("alt"),
		Width: 128, Height: 128, Slim: true, UpdatedAt: time.UnixMilli(1700000000000),
	}
	back := StoredToRecord(RecordToStored(r))
	assert.Equal(t, r.OwnerID, back.OwnerID)
	assert.Equal(t, r.Primary, back.Primary)
	assert.Equal(t, r.Secondary, back.Secondary)
	assert.True(t, r.UpdatedAt.Equal(back.UpdatedAt))
	assert.Equal(t, model.IDFromChecksum(model.Checksum([]byte("img"))), back.AssetID)
}
