// Package replay feeds UDP payloads captured in a pcap file through the
// shred decoder and output plugins, offline.
package replay

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/shredtap/internal/core"
)

// Source reads UDP datagrams from a pcap file. Frames that are not UDP, or
// not addressed to the configured port, are skipped.
type Source struct {
	f      *os.File
	r      *pcapgo.Reader
	port   uint16 // 0 = any
	parser *gopacket.DecodingLayerParser

	eth     layers.Ethernet
	sll     layers.LinuxSLL
	ip4     layers.IPv4
	ip6     layers.IPv6
	udp     layers.UDP
	payload gopacket.Payload
	decoded []gopacket.LayerType

	skipped uint64
}

// Open opens a pcap file. dstPort filters datagrams by destination port;
// 0 accepts every UDP datagram.
func Open(path string, dstPort uint16) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read pcap header %s: %w", path, err)
	}

	s := &Source{f: f, r: r, port: dstPort, decoded: make([]gopacket.LayerType, 0, 4)}
	var first gopacket.LayerType
	switch lt := r.LinkType(); lt {
	case layers.LinkTypeEthernet:
		first = layers.LayerTypeEthernet
	case layers.LinkTypeLinuxSLL:
		first = layers.LayerTypeLinuxSLL
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		first = layers.LayerTypeIPv4
	case layers.LinkTypeIPv6:
		first = layers.LayerTypeIPv6
	default:
		f.Close()
		return nil, fmt.Errorf("unsupported pcap link type %s", lt)
	}
	s.parser = gopacket.NewDecodingLayerParser(first, &s.eth, &s.sll, &s.ip4, &s.ip6, &s.udp, &s.payload)
	s.parser.IgnoreUnsupported = true
	return s, nil
}

// Next returns the next UDP datagram, or io.EOF at the end of the file.
func (s *Source) Next() (core.Datagram, error) {
	for {
		data, ci, err := s.r.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return core.Datagram{}, io.EOF
			}
			return core.Datagram{}, err
		}

		if err := s.parser.DecodeLayers(data, &s.decoded); err != nil {
			s.skipped++
			continue
		}
		src, ok := s.source()
		if !ok || (s.port != 0 && uint16(s.udp.DstPort) != s.port) {
			s.skipped++
			continue
		}
		return core.Datagram{
			Data:       append([]byte(nil), s.udp.Payload...),
			Source:     src,
			ReceivedAt: ci.Timestamp,
		}, nil
	}
}

// source returns the sender of the last decoded frame, false if it had no
// UDP layer.
func (s *Source) source() (netip.AddrPort, bool) {
	var addr netip.Addr
	hasUDP := false
	for _, lt := range s.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			addr, _ = netip.AddrFromSlice(s.ip4.SrcIP.To4())
		case layers.LayerTypeIPv6:
			addr, _ = netip.AddrFromSlice(s.ip6.SrcIP)
		case layers.LayerTypeUDP:
			hasUDP = true
		}
	}
	if !hasUDP {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr, uint16(s.udp.SrcPort)), true
}

// Skipped returns the number of frames that were not matching UDP datagrams.
func (s *Source) Skipped() uint64 { return s.skipped }

// Close closes the file.
func (s *Source) Close() error { return s.f.Close() }
