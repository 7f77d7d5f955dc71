package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/core/decoder"
	"firestige.xyz/shredtap/internal/testutil"
)

func decode(t *testing.T, raw []byte) *core.DecodedShred {
	t.Helper()
	s, err := decoder.Decode(raw)
	require.NoError(t, err)
	return &s
}

func startStore(t *testing.T, cfg map[string]any) *Output {
	t.Helper()
	o := New().(*Output)
	require.NoError(t, o.Init(cfg))
	require.NoError(t, o.Start(context.Background()))
	return o
}

func TestStoreOutput_Init(t *testing.T) {
	assert.Error(t, New().Init(nil), "dir is required")
	assert.Error(t, New().Init(map[string]any{"dir": t.TempDir(), "ttl": "-1s"}))
	assert.Error(t, New().Init(map[string]any{"dir": t.TempDir(), "format": "gob"}))
	assert.NoError(t, New().Init(map[string]any{"dir": t.TempDir(), "ttl": "24h"}))
}

func TestStoreOutput_WritesAndReadsBack(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archive")
	o := startStore(t, map[string]any{"dir": dir, "node": "tap-1"})
	ctx := context.Background()

	raw := testutil.DataShred(42, 7, []byte("entries"))
	require.NoError(t, o.Handle(ctx, decode(t, testutil.DataShred(42, 8, nil))))
	require.NoError(t, o.Handle(ctx, decode(t, raw)))
	require.NoError(t, o.Handle(ctx, decode(t, testutil.CodeShred(42, 0, 1))))
	require.NoError(t, o.Handle(ctx, decode(t, testutil.DataShred(43, 0, nil))))
	require.NoError(t, o.Stop(ctx))

	r, err := OpenReader(dir, "cbor")
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Get(42, 7, "data")
	require.NoError(t, err)
	assert.Equal(t, raw, rec.Raw)
	assert.Equal(t, "tap-1", rec.Node)

	_, err = r.Get(42, 99, "data")
	assert.ErrorIs(t, err, ErrNotFound)

	slot, err := r.Slot(42)
	require.NoError(t, err)
	require.Len(t, slot, 3)
	assert.Equal(t, uint32(1), slot[0].Index)
	assert.Equal(t, "code", slot[0].Type)
	assert.Equal(t, uint32(7), slot[1].Index)
	assert.Equal(t, uint32(8), slot[2].Index)
}

func TestStoreOutput_SkipsDuplicates(t *testing.T) {
	o := startStore(t, map[string]any{"dir": t.TempDir()})
	defer o.Stop(context.Background())

	s := decode(t, testutil.DataShred(1, 1, nil))
	for i := 0; i < 3; i++ {
		require.NoError(t, o.Handle(context.Background(), s))
	}

	assert.Equal(t, uint64(1), o.stored.Load())
	assert.Equal(t, uint64(2), o.duplicates.Load())
}

func TestStoreOutput_HandleBeforeStart(t *testing.T) {
	o := New().(*Output)
	require.NoError(t, o.Init(map[string]any{"dir": t.TempDir()}))
	assert.Error(t, o.Handle(context.Background(), decode(t, testutil.DataShred(1, 1, nil))))
	assert.NoError(t, o.Stop(context.Background()))
}
