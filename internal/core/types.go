// Package core defines core types with zero external dependencies.
package core

import "fmt"

// Wire layout constants. Offsets are fixed by the network protocol.
const (
	SignatureSize = 64

	OffsetSignature    = 0x00
	OffsetVariant      = 0x40
	OffsetSlot         = 0x41
	OffsetIndex        = 0x49
	OffsetShredVersion = 0x4d
	OffsetFECSetIndex  = 0x4f

	// CommonHeaderSize is the size of the prefix shared by every shred.
	CommonHeaderSize = 0x53

	// TypeHeaderSize is the minimum size of the data or code header.
	TypeHeaderSize = 6

	// MinHeadersSize is the shortest packet a type-specific header can be read from.
	MinHeadersSize = CommonHeaderSize + TypeHeaderSize

	// DataHeadersSize is where the payload of a data shred starts.
	DataHeadersSize = CommonHeaderSize + 5
	// CodeHeadersSize is where the payload of a code shred starts.
	CodeHeadersSize = CommonHeaderSize + 6

	// MaxDatagramSize bounds every read from the shred socket.
	MaxDatagramSize = 1232
	// MaxLegacyShredSize is the largest well-formed legacy shred.
	MaxLegacyShredSize = 1228
	// MaxMerkleDataShredSize is the largest well-formed Merkle data shred.
	MaxMerkleDataShredSize = 1203
	// MaxMerkleCodeShredSize is the largest well-formed Merkle code shred.
	MaxMerkleCodeShredSize = 1228
)

// ShredType is the kind of a shred.
type ShredType uint8

const (
	ShredTypeUnknown ShredType = iota
	ShredTypeData
	ShredTypeCode
)

func (t ShredType) String() string {
	switch t {
	case ShredTypeData:
		return "data"
	case ShredTypeCode:
		return "code"
	default:
		return "unknown"
	}
}

// AuthScheme is the authentication mechanism of a shred.
type AuthScheme uint8

const (
	AuthUnknown AuthScheme = iota
	AuthLegacy
	AuthMerkle
)

func (a AuthScheme) String() string {
	switch a {
	case AuthLegacy:
		return "legacy"
	case AuthMerkle:
		return "merkle"
	default:
		return "unknown"
	}
}

// Variant is the classified variant byte.
type Variant struct {
	Raw  uint8
	Type ShredType
	Auth AuthScheme
	// ProofSize is the low nibble of a Merkle variant (number of proof entries).
	ProofSize uint8
}

func (v Variant) String() string {
	return fmt.Sprintf("%s/%s(0x%02x)", v.Type, v.Auth, v.Raw)
}

// MaxShredSize returns the largest well-formed packet for this variant.
func (v Variant) MaxShredSize() int {
	if v.Auth == AuthMerkle && v.Type == ShredTypeData {
		return MaxMerkleDataShredSize
	}
	if v.Auth == AuthMerkle {
		return MaxMerkleCodeShredSize
	}
	return MaxLegacyShredSize
}

// CommonHeader is the fixed 83-byte prefix present in every shred.
type CommonHeader struct {
	Signature    [SignatureSize]byte
	Variant      Variant
	Slot         uint64
	Index        uint32
	ShredVersion uint16
	FECSetIndex  uint32
}

// Data flag bits.
const (
	DataFlagReferenceTickMask uint8 = 0x3f
	DataFlagDataComplete      uint8 = 0x40
	DataFlagLastInSlot        uint8 = 0xc0
)

// DataHeader follows the common header of data shreds.
type DataHeader struct {
	ParentOffset uint16
	Flags        uint8
	Size         uint16 // headers plus data, as claimed by the producer
}

// ReferenceTick returns the tick number encoded in the flags.
func (h DataHeader) ReferenceTick() uint8 { return h.Flags & DataFlagReferenceTickMask }

// DataComplete reports whether this shred ends a data batch.
func (h DataHeader) DataComplete() bool { return h.Flags&DataFlagDataComplete != 0 }

// LastInSlot reports whether this is the final data shred of its slot.
func (h DataHeader) LastInSlot() bool { return h.Flags&DataFlagLastInSlot == DataFlagLastInSlot }

// CodeHeader follows the common header of code shreds.
type CodeHeader struct {
	NumDataShreds   uint16
	NumCodingShreds uint16
	Position        uint16
}
