package replay

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/core/decoder"
	"firestige.xyz/shredtap/internal/log"
	"firestige.xyz/shredtap/internal/plugin"
	"firestige.xyz/shredtap/internal/testutil"
)

var (
	srcMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	dstMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 2}
)

// captureWriter writes Ethernet frames into a pcap file.
type captureWriter struct {
	t  *testing.T
	w  *pcapgo.Writer
	ts time.Time
}

func newCapture(t *testing.T, path string) (*captureWriter, func()) {
	f, err := os.Create(path)
	require.NoError(t, err)
	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	return &captureWriter{t: t, w: w, ts: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}, func() { f.Close() }
}

func (c *captureWriter) write(ls ...gopacket.SerializableLayer) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(c.t, gopacket.SerializeLayers(buf, opts, ls...))
	data := buf.Bytes()
	c.ts = c.ts.Add(time.Millisecond)
	require.NoError(c.t, c.w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     c.ts,
		CaptureLength: len(data),
		Length:        len(data),
	}, data))
}

func (c *captureWriter) udp(dstPort uint16, payload []byte) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(192, 0, 2, 10),
		DstIP:    net.IPv4(192, 0, 2, 20),
	}
	udp := &layers.UDP{SrcPort: 9000, DstPort: layers.UDPPort(dstPort)}
	require.NoError(c.t, udp.SetNetworkLayerForChecksum(ip))
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	c.write(eth, ip, udp, gopacket.Payload(payload))
}

func (c *captureWriter) arp() {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeARP}
	c.write(eth, gopacket.Payload(make([]byte, 28)))
}

type collectingOutput struct {
	mu     sync.Mutex
	shreds []*core.DecodedShred
}

func (c *collectingOutput) Name() string                { return "collect" }
func (c *collectingOutput) Init(map[string]any) error   { return nil }
func (c *collectingOutput) Start(context.Context) error { return nil }
func (c *collectingOutput) Stop(context.Context) error  { return nil }

func (c *collectingOutput) Handle(_ context.Context, s *core.DecodedShred) error {
	c.mu.Lock()
	c.shreds = append(c.shreds, s)
	c.mu.Unlock()
	return nil
}

func writeMixedCapture(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "mixed.pcap")
	c, done := newCapture(t, path)
	defer done()
	c.udp(8001, testutil.DataShred(100, 1, []byte("tx")))
	c.udp(9999, testutil.DataShred(100, 2, nil))
	c.arp()
	c.udp(8001, []byte("garbage"))
	c.udp(8001, testutil.CodeShred(100, 0, 4))
	return path
}

func quiet(t *testing.T) {
	old := log.GetLogger()
	log.SetLogger(log.NewForTest(io.Discard))
	t.Cleanup(func() { log.SetLogger(old) })
}

func TestSource_FiltersByPort(t *testing.T) {
	src, err := Open(writeMixedCapture(t), 8001)
	require.NoError(t, err)
	defer src.Close()

	var n int
	for {
		d, err := src.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, "192.0.2.10:9000", d.Source.String())
		n++
	}
	assert.Equal(t, 3, n)
	assert.Equal(t, uint64(2), src.Skipped())
}

func TestSource_AnyPort(t *testing.T) {
	src, err := Open(writeMixedCapture(t), 0)
	require.NoError(t, err)
	defer src.Close()

	var n int
	for {
		if _, err := src.Next(); err == io.EOF {
			break
		}
		n++
	}
	assert.Equal(t, 4, n)
	assert.Equal(t, uint64(1), src.Skipped())
}

func TestOpen_NotAPcap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a capture file"), 0o644))
	_, err := Open(path, 0)
	assert.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "missing.pcap"), 0)
	assert.Error(t, err)
}

func TestRun_DispatchesShreds(t *testing.T) {
	quiet(t)
	src, err := Open(writeMixedCapture(t), 8001)
	require.NoError(t, err)
	defer src.Close()

	out := &collectingOutput{}
	runner := plugin.NewRunner(plugin.BestEffort, out)
	require.NoError(t, runner.StartAll(context.Background()))

	res, err := Run(context.Background(), src, decoder.NewShredDecoder(decoder.Config{}), runner, 0)
	require.NoError(t, err)
	assert.Equal(t, Result{Datagrams: 3, Shreds: 2, Rejected: 1, Skipped: 2}, res)

	require.Len(t, out.shreds, 2)
	assert.Equal(t, core.ShredTypeData, out.shreds[0].Type())
	assert.Equal(t, uint32(1), out.shreds[0].Common.Index)
	assert.Equal(t, "192.0.2.10:9000", out.shreds[0].Source.String())
	assert.False(t, out.shreds[0].ReceivedAt.IsZero())
	assert.Equal(t, core.ShredTypeCode, out.shreds[1].Type())
}

func TestRun_Limit(t *testing.T) {
	quiet(t)
	src, err := Open(writeMixedCapture(t), 8001)
	require.NoError(t, err)
	defer src.Close()

	out := &collectingOutput{}
	runner := plugin.NewRunner(plugin.BestEffort, out)
	res, err := Run(context.Background(), src, decoder.NewShredDecoder(decoder.Config{}), runner, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Shreds)
	assert.Equal(t, uint64(1), res.Datagrams)
}

func TestRun_Canceled(t *testing.T) {
	quiet(t)
	src, err := Open(writeMixedCapture(t), 8001)
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Run(ctx, src, decoder.NewShredDecoder(decoder.Config{}), plugin.NewRunner(plugin.BestEffort), 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Datagrams)
}
