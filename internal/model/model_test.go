package model

import (
	"bytes"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/skin-sync/internal/errs"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestNewAsset_Defaults(t *testing.T) {
	a, err := NewAsset(AssetConfig{Name: "steve", Width: 64, Height: 64, Primary: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.NotZero(t, a.CreatedAt)
	assert.False(t, a.HasSecondary())
	assert.Equal(t, 3, a.Size())
}

func TestNewAsset_IDFromChecksum(t *testing.T) {
	sum := Checksum([]byte("abc"))
	a, err := NewAsset(AssetConfig{Name: "x", Width: 64, Height: 64, Primary: []byte("abc"), Checksum: sum})
	require.NoError(t, err)
	assert.Equal(t, sum[:16], a.ID)

	b, err := NewAsset(AssetConfig{ID: "explicit", Name: "x", Width: 64, Height: 64, Primary: []byte("abc"), Checksum: sum})
	require.NoError(t, err)
	assert.Equal(t, "explicit", b.ID)
}

func TestNewAsset_Rejects(t *testing.T) {
	cases := []struct {
		name string
		cfg  AssetConfig
		want error
	}{
		{"empty name", AssetConfig{Width: 64, Height: 64, Primary: []byte{1}}, errs.ErrInvalidArgument},
		{"long name", AssetConfig{Name: strings.Repeat("a", MaxNameLength+1), Width: 64, Height: 64, Primary: []byte{1}}, errs.ErrInvalidArgument},
		{"no primary", AssetConfig{Name: "a", Width: 64, Height: 64}, errs.ErrInvalidArgument},
		{"zero dims", AssetConfig{Name: "a", Primary: []byte{1}}, errs.ErrDimensions},
		{"too large", AssetConfig{Name: "a", Width: 64, Height: 64, Primary: make([]byte, MaxAssetSize+1)}, errs.ErrTooLarge},
		{"secondary garbage", AssetConfig{Name: "a", Width: 64, Height: 64, Primary: []byte{1}, Secondary: []byte{9, 9}}, errs.ErrDimensions},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAsset(tc.cfg)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestNewAsset_SecondaryMustMatchPrimary(t *testing.T) {
	_, err := NewAsset(AssetConfig{Name: "a", Width: 64, Height: 64, Primary: pngBytes(t, 64, 64), Secondary: pngBytes(t, 128, 128)})
	require.ErrorIs(t, err, errs.ErrDimensions)

	a, err := NewAsset(AssetConfig{Name: "a", Width: 64, Height: 32, Primary: pngBytes(t, 64, 32), Secondary: pngBytes(t, 64, 32)})
	require.NoError(t, err)
	assert.True(t, a.HasSecondary())
}

func TestValidDimensions(t *testing.T) {
	ok := [][2]int{{64, 64}, {64, 32}, {128, 128}, {256, 256}, {8192, 8192}}
	for _, d := range ok {
		assert.True(t, ValidDimensions(d[0], d[1], 0), "%v", d)
	}
	bad := [][2]int{{32, 32}, {64, 16}, {100, 100}, {128, 64}, {16384, 16384}, {0, 0}}
	for _, d := range bad {
		assert.False(t, ValidDimensions(d[0], d[1], 0), "%v", d)
	}
	assert.False(t, ValidDimensions(1024, 1024, 512))
	require.ErrorIs(t, CheckDimensions(100, 100, 0), errs.ErrDimensions)
}

func TestRecordAssetRoundTrip(t *testing.T) {
	a, err := NewAsset(AssetConfig{ID: "id1", Name: "n", Width: 64, Height: 64, Slim: true, Primary: []byte{7}})
	require.NoError(t, err)
	r := RecordFromAsset("owner", a)
	got := r.Asset()
	assert.Equal(t, "owner", got.OwnerID)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.Primary, got.Primary)
	assert.True(t, got.Slim)
}
