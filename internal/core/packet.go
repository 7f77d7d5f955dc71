// Package core defines core data structures with zero external dependencies.
package core

import (
	"net/netip"
	"time"
)

// Datagram is a single read from the shred socket.
type Datagram struct {
	Data       []byte         // owned copy, safe to retain
	Source     netip.AddrPort // zero if the reader cannot tell
	ReceivedAt time.Time
}

// DecodedShred is the result of decoding one shred packet.
// Once published to the dispatch queue it must be treated as read-only.
type DecodedShred struct {
	Common CommonHeader
	// Data is set only for data shreds.
	Data DataHeader
	// Code is set only for code shreds.
	Code CodeHeader

	Payload []byte // bytes after the type-specific header, zero-copy slice of Raw
	Raw     []byte // whole packet

	Source     netip.AddrPort
	ReceivedAt time.Time
}

// Type returns the shred kind.
func (s *DecodedShred) Type() ShredType { return s.Common.Variant.Type }

// Slot returns the slot the shred belongs to.
func (s *DecodedShred) Slot() uint64 { return s.Common.Slot }

// Index returns the shred index within its slot.
func (s *DecodedShred) Index() uint32 { return s.Common.Index }

// DataPayload returns the data bytes of a data shred, trimmed to the size
// claimed in its header when that claim is consistent with the packet.
func (s *DecodedShred) DataPayload() []byte {
	if s.Type() != ShredTypeData {
		return nil
	}
	size := int(s.Data.Size)
	if size >= DataHeadersSize && size <= len(s.Raw) {
		return s.Raw[DataHeadersSize:size]
	}
	return s.Payload
}
