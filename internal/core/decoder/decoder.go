// Package decoder implements shred wire-format decoding.
package decoder

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/shredtap/internal/core"
)

// Decoder decodes raw packets into shreds.
type Decoder interface {
	Decode(data []byte) (core.DecodedShred, error)
}

// Error describes why a packet was rejected. It unwraps to one of the core
// sentinel errors.
type Error struct {
	Reason  error
	Length  int
	Variant core.Variant // zero unless the variant byte was read
}

func (e *Error) Error() string {
	if e.Variant.Type != core.ShredTypeUnknown {
		return fmt.Sprintf("%v (len=%d, variant=%s)", e.Reason, e.Length, e.Variant)
	}
	return fmt.Sprintf("%v (len=%d)", e.Reason, e.Length)
}

func (e *Error) Unwrap() error { return e.Reason }

// Config contains decoder options.
type Config struct {
	// ExpectedShredVersion rejects shreds of other networks. 0 accepts any.
	ExpectedShredVersion uint16
}

// ShredDecoder decodes shreds and optionally filters by shred version.
type ShredDecoder struct {
	config Config
}

// NewShredDecoder creates a decoder.
func NewShredDecoder(cfg Config) *ShredDecoder {
	return &ShredDecoder{config: cfg}
}

// Decode implements Decoder.
func (d *ShredDecoder) Decode(data []byte) (core.DecodedShred, error) {
	shred, err := Decode(data)
	if err != nil {
		return shred, err
	}
	if want := d.config.ExpectedShredVersion; want != 0 && shred.Common.ShredVersion != want {
		return core.DecodedShred{}, &Error{
			Reason:  fmt.Errorf("%w: got %d, want %d", core.ErrShredVersionMismatch, shred.Common.ShredVersion, want),
			Length:  len(data),
			Variant: shred.Common.Variant,
		}
	}
	return shred, nil
}

// Classify reads the common header and returns the shred variant.
func Classify(data []byte) (core.Variant, error) {
	if len(data) < core.CommonHeaderSize {
		return core.Variant{}, &Error{Reason: core.ErrTooShort, Length: len(data)}
	}
	v, ok := parseVariant(data[core.OffsetVariant])
	if !ok {
		return v, &Error{Reason: core.ErrUnknownVariant, Length: len(data)}
	}
	return v, nil
}

// Decode classifies a packet and extracts its headers. The payload and raw
// fields alias data; callers must not reuse the buffer while the shred lives.
// Signatures and erasure coding are not checked.
func Decode(data []byte) (core.DecodedShred, error) {
	variant, err := Classify(data)
	if err != nil {
		return core.DecodedShred{}, err
	}

	if len(data) < core.MinHeadersSize {
		return core.DecodedShred{}, &Error{Reason: core.ErrTruncatedHeader, Length: len(data), Variant: variant}
	}
	if len(data) > variant.MaxShredSize() {
		return core.DecodedShred{}, &Error{Reason: core.ErrOversized, Length: len(data), Variant: variant}
	}

	shred := core.DecodedShred{
		Common: decodeCommonHeader(data, variant),
		Raw:    data,
	}

	switch variant.Type {
	case core.ShredTypeData:
		shred.Data = decodeDataHeader(data[core.CommonHeaderSize:])
		shred.Payload = data[core.DataHeadersSize:]
	case core.ShredTypeCode:
		shred.Code = decodeCodeHeader(data[core.CommonHeaderSize:])
		shred.Payload = data[core.CodeHeadersSize:]
	}

	return shred, nil
}

// decodeCommonHeader reads the 83-byte prefix. Integers are little-endian.
func decodeCommonHeader(data []byte, variant core.Variant) core.CommonHeader {
	h := core.CommonHeader{Variant: variant}
	copy(h.Signature[:], data[core.OffsetSignature:core.OffsetVariant])
	h.Slot = binary.LittleEndian.Uint64(data[core.OffsetSlot:core.OffsetIndex])
	h.Index = binary.LittleEndian.Uint32(data[core.OffsetIndex:core.OffsetShredVersion])
	h.ShredVersion = binary.LittleEndian.Uint16(data[core.OffsetShredVersion:core.OffsetFECSetIndex])
	h.FECSetIndex = binary.LittleEndian.Uint32(data[core.OffsetFECSetIndex:core.CommonHeaderSize])
	return h
}

// decodeDataHeader reads the data header starting at offset 0x53.
// | 0x53 parent_offset u16 | 0x55 flags u8 | 0x56 size u16 |
func decodeDataHeader(data []byte) core.DataHeader {
	return core.DataHeader{
		ParentOffset: binary.LittleEndian.Uint16(data[0:2]),
		Flags:        data[2],
		Size:         binary.LittleEndian.Uint16(data[3:5]),
	}
}

// decodeCodeHeader reads the code header starting at offset 0x53.
// | 0x53 num_data u16 | 0x55 num_coding u16 | 0x57 position u16 |
func decodeCodeHeader(data []byte) core.CodeHeader {
	return core.CodeHeader{
		NumDataShreds:   binary.LittleEndian.Uint16(data[0:2]),
		NumCodingShreds: binary.LittleEndian.Uint16(data[2:4]),
		Position:        binary.LittleEndian.Uint16(data[4:6]),
	}
}
