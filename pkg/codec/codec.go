// Package codec encodes decoded shreds into the envelope records shipped by
// network and storage outputs.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"firestige.xyz/shredtap/internal/core"
)

// Supported formats.
const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// Record is the envelope of one shred. Header fields of the other shred kind
// are left zero.
type Record struct {
	ID         string    `json:"id" cbor:"id"`
	Node       string    `json:"node,omitempty" cbor:"node,omitempty"`
	Source     string    `json:"source,omitempty" cbor:"source,omitempty"`
	ReceivedAt time.Time `json:"received_at" cbor:"received_at"`

	Type         string `json:"type" cbor:"type"`
	Auth         string `json:"auth" cbor:"auth"`
	Variant      uint8  `json:"variant" cbor:"variant"`
	Slot         uint64 `json:"slot" cbor:"slot"`
	Index        uint32 `json:"index" cbor:"index"`
	ShredVersion uint16 `json:"shred_version" cbor:"shred_version"`
	FECSetIndex  uint32 `json:"fec_set_index" cbor:"fec_set_index"`

	ParentOffset uint16 `json:"parent_offset,omitempty" cbor:"parent_offset,omitempty"`
	Flags        uint8  `json:"flags,omitempty" cbor:"flags,omitempty"`
	Size         uint16 `json:"size,omitempty" cbor:"size,omitempty"`

	NumData   uint16 `json:"num_data,omitempty" cbor:"num_data,omitempty"`
	NumCoding uint16 `json:"num_coding,omitempty" cbor:"num_coding,omitempty"`
	Position  uint16 `json:"position,omitempty" cbor:"position,omitempty"`

	Payload []byte `json:"payload,omitempty" cbor:"payload,omitempty"`
	Raw     []byte `json:"raw,omitempty" cbor:"raw,omitempty"`
}

// Options selects what NewRecord copies from a shred.
type Options struct {
	Node           string
	IncludePayload bool
	IncludeRaw     bool
}

// NewRecord builds the envelope of s. Byte slices are copied, so the record
// may outlive the shred.
func NewRecord(s *core.DecodedShred, opts Options) Record {
	r := Record{
		ID:           uuid.NewString(),
		Node:         opts.Node,
		ReceivedAt:   s.ReceivedAt,
		Type:         s.Type().String(),
		Auth:         s.Common.Variant.Auth.String(),
		Variant:      s.Common.Variant.Raw,
		Slot:         s.Common.Slot,
		Index:        s.Common.Index,
		ShredVersion: s.Common.ShredVersion,
		FECSetIndex:  s.Common.FECSetIndex,
	}
	if s.Source.IsValid() {
		r.Source = s.Source.String()
	}
	switch s.Type() {
	case core.ShredTypeData:
		r.ParentOffset = s.Data.ParentOffset
		r.Flags = s.Data.Flags
		r.Size = s.Data.Size
		if opts.IncludePayload {
			r.Payload = clone(s.DataPayload())
		}
	case core.ShredTypeCode:
		r.NumData = s.Code.NumDataShreds
		r.NumCoding = s.Code.NumCodingShreds
		r.Position = s.Code.Position
		if opts.IncludePayload {
			r.Payload = clone(s.Payload)
		}
	}
	if opts.IncludeRaw {
		r.Raw = clone(s.Raw)
	}
	return r
}

// Key returns the "slot:index:type" key of the record, unique per shred
// within a cluster.
func (r Record) Key() string {
	return fmt.Sprintf("%020d:%010d:%s", r.Slot, r.Index, r.Type)
}

// Codec marshals records in one wire format.
type Codec interface {
	Marshal(r Record) ([]byte, error)
	Unmarshal(data []byte, r *Record) error
	ContentType() string
}

// New returns the codec for format.
func New(format string) (Codec, error) {
	switch format {
	case FormatJSON, "":
		return jsonCodec{}, nil
	case FormatCBOR:
		return cborCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported codec format %q (must be %s or %s)", format, FormatJSON, FormatCBOR)
	}
}

type jsonCodec struct{}

func (jsonCodec) Marshal(r Record) ([]byte, error)       { return json.Marshal(r) }
func (jsonCodec) Unmarshal(data []byte, r *Record) error { return json.Unmarshal(data, r) }
func (jsonCodec) ContentType() string                    { return "application/json" }

var cborEnc = mustEncMode(cbor.EncOptions{Time: cbor.TimeRFC3339Nano})

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

type cborCodec struct{}

func (cborCodec) Marshal(r Record) ([]byte, error)       { return cborEnc.Marshal(r) }
func (cborCodec) Unmarshal(data []byte, r *Record) error { return cbor.Unmarshal(data, r) }
func (cborCodec) ContentType() string                    { return "application/cbor" }

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
