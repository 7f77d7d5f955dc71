package cmd

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/core/decoder"
	"firestige.xyz/shredtap/internal/log"
	"firestige.xyz/shredtap/internal/testutil"
	"firestige.xyz/shredtap/plugins/output/pcap"
	"firestige.xyz/shredtap/plugins/output/store"
)

func keepLogger(t *testing.T) {
	old := log.GetLogger()
	t.Cleanup(func() { log.SetLogger(old) })
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDecodeInput(t *testing.T) {
	raw := testutil.DataShred(1, 2, nil)
	file := writeFile(t, "shred.bin", string(raw))

	got, err := decodeInput([]string{"0x" + hex.EncodeToString(raw)}, "")
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = decodeInput(nil, file)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = decodeInput(nil, "")
	assert.Error(t, err)
	_, err = decodeInput([]string{"zz"}, "")
	assert.Error(t, err)
	_, err = decodeInput([]string{"00"}, file)
	assert.Error(t, err)
}

func TestRunDecodeText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runDecode(&buf, testutil.DataShred(42, 7, []byte("entries")), "text"))

	out := buf.String()
	assert.Contains(t, out, "Variant:       data/legacy(0xa5)")
	assert.Contains(t, out, "Slot:          42")
	assert.Contains(t, out, "Index:         7")
	assert.Contains(t, out, "Data bytes:    7")

	buf.Reset()
	require.NoError(t, runDecode(&buf, testutil.CodeShred(42, 32, 3), "text"))
	assert.Contains(t, buf.String(), "Position:      3")
}

func TestRunDecodeJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runDecode(&buf, testutil.CodeShred(9, 0, 1), "json"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "code", rec["type"])
	assert.Equal(t, float64(9), rec["slot"])
}

func TestRunDecodeRejectsGarbage(t *testing.T) {
	err := runDecode(&bytes.Buffer{}, []byte("short"), "text")
	assert.ErrorIs(t, err, core.ErrTooShort)

	err = runDecode(&bytes.Buffer{}, testutil.DataShred(1, 1, nil), "yaml")
	assert.Error(t, err)
}

func TestRunValidate(t *testing.T) {
	path := writeFile(t, "config.yml", `
shredtap:
  receiver:
    bind: "127.0.0.1:8001"
  plugins:
    outputs:
      - type: console
      - name: archive
        type: store
        config:
          dir: /tmp/shredtap-archive
`)
	var buf bytes.Buffer
	require.NoError(t, runValidate(&buf, path))
	assert.Equal(t, "VALID: bind 127.0.0.1:8001, 2 output(s) [console archive], discovery disabled\n", buf.String())
}

func TestRunValidateInvalid(t *testing.T) {
	tests := map[string]string{
		"bad section":   "shredtap:\n  receiver:\n    bind: nowhere\n",
		"unknown type":  "shredtap:\n  plugins:\n    outputs:\n      - type: carrier_pigeon\n",
		"plugin config": "shredtap:\n  plugins:\n    outputs:\n      - type: kafka\n        config:\n          topic: shreds\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			err := runValidate(&bytes.Buffer{}, writeFile(t, "config.yml", content))
			require.Error(t, err)
			assert.True(t, strings.HasPrefix(err.Error(), "INVALID: "))
		})
	}
}

func writeCapture(t *testing.T, path string, shreds ...[]byte) {
	t.Helper()
	out := pcap.New()
	require.NoError(t, out.Init(map[string]any{"path": path, "dst": "10.0.0.1:8001"}))
	require.NoError(t, out.Start(context.Background()))
	for _, raw := range shreds {
		s, err := decoder.Decode(raw)
		require.NoError(t, err)
		s.Source = netip.MustParseAddrPort("192.0.2.1:9000")
		s.ReceivedAt = time.Now()
		require.NoError(t, out.Handle(context.Background(), &s))
	}
	require.NoError(t, out.Stop(context.Background()))
}

func TestRunReplay(t *testing.T) {
	keepLogger(t)
	dir := t.TempDir()
	capture := filepath.Join(dir, "in.pcap")
	writeCapture(t, capture,
		testutil.DataShred(5, 0, []byte("a")),
		testutil.DataShred(5, 1, []byte("b")),
		testutil.CodeShred(5, 0, 0),
	)
	copyPath := filepath.Join(dir, "out.pcap")
	cfg := writeFile(t, "config.yml", `
shredtap:
  log:
    level: error
  plugins:
    outputs:
      - type: pcap
        config:
          path: `+copyPath+`
`)

	var buf bytes.Buffer
	err := runReplay(context.Background(), &buf, replayOptions{configPath: cfg, pcapPath: capture, port: 8001, limit: 2})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "2 datagrams, 2 shreds, 0 rejected")

	info, err := os.Stat(copyPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(24), "output capture holds frames")
}

func TestRunReplayMissingFile(t *testing.T) {
	keepLogger(t)
	err := runReplay(context.Background(), &bytes.Buffer{}, replayOptions{pcapPath: filepath.Join(t.TempDir(), "none.pcap")})
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.True(t, strings.HasPrefix(buf.String(), "shredtap "+Version))
}

func writeArchive(t *testing.T) string {
	t.Helper()
	keepLogger(t)
	dir := filepath.Join(t.TempDir(), "archive")
	o := store.New()
	require.NoError(t, o.Init(map[string]any{"dir": dir}))
	ctx := context.Background()
	require.NoError(t, o.Start(ctx))
	for _, raw := range [][]byte{
		testutil.DataShred(42, 7, []byte("entries")),
		testutil.CodeShred(42, 0, 1),
		testutil.DataShred(43, 0, nil),
	} {
		s, err := decoder.Decode(raw)
		require.NoError(t, err)
		require.NoError(t, o.Handle(ctx, &s))
	}
	require.NoError(t, o.Stop(ctx))
	return dir
}

func TestRunStoreSlot(t *testing.T) {
	dir := writeArchive(t)

	var buf bytes.Buffer
	require.NoError(t, runStoreSlot(&buf, dir, "cbor", 42, "text"))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "code slot=42 index=1"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "data slot=42 index=7"), lines[1])
	assert.Equal(t, "2 shreds in slot 42", lines[2])

	buf.Reset()
	require.NoError(t, runStoreSlot(&buf, dir, "cbor", 44, "json"))
	assert.Empty(t, buf.String())

	assert.Error(t, runStoreSlot(&buf, dir, "cbor", 42, "yaml"))
}

func TestRunStoreGet(t *testing.T) {
	dir := writeArchive(t)

	var buf bytes.Buffer
	require.NoError(t, runStoreGet(&buf, dir, "cbor", 42, 7, "data", "json"))
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "data", rec["type"])
	assert.Equal(t, float64(7), rec["index"])

	err := runStoreGet(&buf, dir, "cbor", 42, 99, "data", "text")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Error(t, runStoreGet(&buf, dir, "cbor", 42, 7, "parity", "text"))
}
