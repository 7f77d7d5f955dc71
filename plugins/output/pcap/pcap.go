// Package pcap implements an output that writes shreds to a pcap file as
// Ethernet/IP/UDP frames, so captures open in standard tooling and can be
// replayed later.
package pcap

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/log"
	"firestige.xyz/shredtap/pkg/plugin"
)

const (
	TypeName = "pcap"

	defaultSnapLen = 65536
	defaultDst     = "127.0.0.1:8001"
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// Config represents pcap output configuration.
type Config struct {
	Path    string `mapstructure:"path"` // required
	Dst     string `mapstructure:"dst"`  // destination written into frames
	SnapLen uint32 `mapstructure:"snap_len"`
}

// Output appends one frame per shred.
type Output struct {
	name   string
	config Config
	dst    netip.AddrPort
	logger log.Logger

	f  *os.File
	bw *bufio.Writer
	w  *pcapgo.Writer

	buf     gopacket.SerializeBuffer
	written atomic.Uint64
}

// New creates a pcap output.
func New() plugin.Output {
	return &Output{name: TypeName, buf: gopacket.NewSerializeBuffer()}
}

func (o *Output) Name() string        { return o.name }
func (o *Output) SetName(name string) { o.name = name }

// Init parses configuration. The file is created in Start.
func (o *Output) Init(cfg map[string]any) error {
	c := Config{Dst: defaultDst, SnapLen: defaultSnapLen}
	if err := plugin.DecodeConfig(cfg, &c); err != nil {
		return err
	}
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	dst, err := netip.ParseAddrPort(c.Dst)
	if err != nil {
		return fmt.Errorf("invalid dst %q: %w", c.Dst, err)
	}
	o.config = c
	o.dst = dst
	o.logger = log.GetLogger().WithField(core.FieldPlugin, o.name)
	return nil
}

// Start creates the file and writes the pcap header.
func (o *Output) Start(ctx context.Context) error {
	f, err := os.Create(o.config.Path)
	if err != nil {
		return fmt.Errorf("create pcap file: %w", err)
	}
	bw := bufio.NewWriter(f)
	w := pcapgo.NewWriter(bw)
	if err := w.WriteFileHeader(o.config.SnapLen, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return fmt.Errorf("write pcap header: %w", err)
	}
	o.f, o.bw, o.w = f, bw, w
	o.logger.WithField("path", o.config.Path).Info("pcap output started")
	return nil
}

// Stop flushes and closes the file.
func (o *Output) Stop(ctx context.Context) error {
	if o.f == nil {
		return nil
	}
	flushErr := o.bw.Flush()
	closeErr := o.f.Close()
	o.f, o.bw, o.w = nil, nil, nil
	o.logger.WithField("total_written", o.written.Load()).Info("pcap output stopped")
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Handle writes the raw shred as the payload of one UDP frame.
func (o *Output) Handle(ctx context.Context, shred *core.DecodedShred) error {
	if o.w == nil {
		return fmt.Errorf("pcap output %s not started", o.name)
	}
	if err := o.serialize(shred); err != nil {
		return fmt.Errorf("build frame: %w", err)
	}
	frame := o.buf.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     shred.ReceivedAt,
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if ci.CaptureLength > int(o.config.SnapLen) {
		ci.CaptureLength = int(o.config.SnapLen)
		frame = frame[:ci.CaptureLength]
	}
	if err := o.w.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	o.written.Add(1)
	return nil
}

func (o *Output) serialize(shred *core.DecodedShred) error {
	src := shred.Source
	dst := o.dst
	if !src.IsValid() {
		src = netip.AddrPortFrom(netip.IPv4Unspecified(), 0)
	}
	src = netip.AddrPortFrom(src.Addr().Unmap(), src.Port())
	dst = netip.AddrPortFrom(dst.Addr().Unmap(), dst.Port())

	udp := &layers.UDP{SrcPort: layers.UDPPort(src.Port()), DstPort: layers.UDPPort(dst.Port())}
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC}
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	var ip gopacket.SerializableLayer
	if src.Addr().Is4() {
		if !dst.Addr().Is4() {
			dst = netip.AddrPortFrom(netip.IPv4Unspecified(), dst.Port())
		}
		ip4 := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    src.Addr().AsSlice(),
			DstIP:    dst.Addr().AsSlice(),
		}
		eth.EthernetType = layers.EthernetTypeIPv4
		if err := udp.SetNetworkLayerForChecksum(ip4); err != nil {
			return err
		}
		ip = ip4
	} else {
		if !dst.Addr().Is6() {
			dst = netip.AddrPortFrom(netip.IPv6Unspecified(), dst.Port())
		}
		ip6 := &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolUDP,
			SrcIP:      src.Addr().AsSlice(),
			DstIP:      dst.Addr().AsSlice(),
		}
		eth.EthernetType = layers.EthernetTypeIPv6
		if err := udp.SetNetworkLayerForChecksum(ip6); err != nil {
			return err
		}
		ip = ip6
	}
	return gopacket.SerializeLayers(o.buf, opts, eth, ip, udp, gopacket.Payload(shred.Raw))
}
