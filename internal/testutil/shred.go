// Package testutil builds wire-format shreds for tests.
package testutil

import (
	"encoding/binary"

	"firestige.xyz/shredtap/internal/core"
)

// Variant bytes for the four known shred kinds.
const (
	VariantLegacyCode byte = 0x5a
	VariantLegacyData byte = 0xa5
	VariantMerkleCode byte = 0x46
	VariantMerkleData byte = 0x86
)

// ShredFields describes a shred to encode.
type ShredFields struct {
	Variant      byte
	Slot         uint64
	Index        uint32
	ShredVersion uint16
	FECSetIndex  uint32

	// Data header fields
	ParentOffset uint16
	Flags        uint8
	Size         uint16

	// Code header fields
	NumData   uint16
	NumCoding uint16
	Position  uint16

	Payload []byte
}

// Encode lays out a shred in wire format. The type-specific header is always
// six bytes long so the packet never falls below the decoder minimum.
func Encode(s ShredFields) []byte {
	headerLen := core.CodeHeadersSize
	isData := s.Variant>>4 == 0xa || s.Variant>>4 == 0x8
	if isData {
		headerLen = core.DataHeadersSize
	}
	buf := make([]byte, headerLen+len(s.Payload))
	if len(buf) < core.MinHeadersSize {
		buf = append(buf, make([]byte, core.MinHeadersSize-len(buf))...)
	}

	for i := 0; i < core.SignatureSize; i++ {
		buf[i] = byte(i)
	}
	buf[core.OffsetVariant] = s.Variant
	binary.LittleEndian.PutUint64(buf[core.OffsetSlot:], s.Slot)
	binary.LittleEndian.PutUint32(buf[core.OffsetIndex:], s.Index)
	binary.LittleEndian.PutUint16(buf[core.OffsetShredVersion:], s.ShredVersion)
	binary.LittleEndian.PutUint32(buf[core.OffsetFECSetIndex:], s.FECSetIndex)

	h := buf[core.CommonHeaderSize:]
	if isData {
		binary.LittleEndian.PutUint16(h[0:], s.ParentOffset)
		h[2] = s.Flags
		binary.LittleEndian.PutUint16(h[3:], s.Size)
	} else {
		binary.LittleEndian.PutUint16(h[0:], s.NumData)
		binary.LittleEndian.PutUint16(h[2:], s.NumCoding)
		binary.LittleEndian.PutUint16(h[4:], s.Position)
	}
	copy(buf[headerLen:], s.Payload)
	return buf
}

// DataShred returns a legacy data shred for the given slot and index.
func DataShred(slot uint64, index uint32, payload []byte) []byte {
	return Encode(ShredFields{
		Variant:      VariantLegacyData,
		Slot:         slot,
		Index:        index,
		ShredVersion: 9065,
		FECSetIndex:  index - index%32,
		ParentOffset: 1,
		Size:         uint16(core.DataHeadersSize + len(payload)),
		Payload:      payload,
	})
}

// CodeShred returns a legacy code shred for the given FEC set position.
func CodeShred(slot uint64, fecSet uint32, position uint16) []byte {
	return Encode(ShredFields{
		Variant:      VariantLegacyCode,
		Slot:         slot,
		Index:        fecSet + uint32(position),
		ShredVersion: 9065,
		FECSetIndex:  fecSet,
		NumData:      32,
		NumCoding:    32,
		Position:     position,
		Payload:      make([]byte, 64),
	})
}
