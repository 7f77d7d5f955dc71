package pcap

import (
	"context"
	"io"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/core/decoder"
	"firestige.xyz/shredtap/internal/replay"
	"firestige.xyz/shredtap/internal/testutil"
)

func shredFrom(t *testing.T, raw []byte, src string) *core.DecodedShred {
	t.Helper()
	s, err := decoder.Decode(raw)
	require.NoError(t, err)
	if src != "" {
		s.Source = netip.MustParseAddrPort(src)
	}
	s.ReceivedAt = time.Date(2026, 10, 15, 8, 30, 0, 0, time.UTC)
	return &s
}

func TestPcapOutput_Init(t *testing.T) {
	assert.Error(t, New().Init(nil), "path is required")
	assert.Error(t, New().Init(map[string]any{"path": "x.pcap", "dst": "nowhere"}))
	assert.NoError(t, New().Init(map[string]any{"path": "x.pcap", "dst": "[::1]:8001", "snap_len": "2048"}))
}

func TestPcapOutput_WritesReplayableCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shreds.pcap")
	o := New().(*Output)
	require.NoError(t, o.Init(map[string]any{"path": path, "dst": "10.0.0.1:8001"}))
	require.NoError(t, o.Start(context.Background()))

	first := testutil.DataShred(42, 7, []byte("entries"))
	require.NoError(t, o.Handle(context.Background(), shredFrom(t, first, "192.0.2.10:9000")))
	require.NoError(t, o.Handle(context.Background(), shredFrom(t, testutil.CodeShred(42, 0, 1), "[2001:db8::1]:9000")))
	require.NoError(t, o.Handle(context.Background(), shredFrom(t, testutil.DataShred(42, 8, nil), "")))
	require.NoError(t, o.Stop(context.Background()))

	src, err := replay.Open(path, 8001)
	require.NoError(t, err)
	defer src.Close()

	d, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, first, d.Data)
	assert.Equal(t, netip.MustParseAddrPort("192.0.2.10:9000"), d.Source)
	assert.True(t, d.ReceivedAt.Equal(time.Date(2026, 10, 15, 8, 30, 0, 0, time.UTC)))

	d, err = src.Next()
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("[2001:db8::1]:9000"), d.Source)

	d, err = src.Next()
	require.NoError(t, err)
	assert.Equal(t, uint16(0), d.Source.Port())

	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestPcapOutput_HandleBeforeStart(t *testing.T) {
	o := New().(*Output)
	require.NoError(t, o.Init(map[string]any{"path": filepath.Join(t.TempDir(), "x.pcap")}))
	assert.Error(t, o.Handle(context.Background(), shredFrom(t, testutil.DataShred(1, 1, nil), "")))
	assert.NoError(t, o.Stop(context.Background()))
}
