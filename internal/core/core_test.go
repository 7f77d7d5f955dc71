package core

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"
)

// Test zero values of core structs
func TestStructZeroValues(t *testing.T) {
	t.Run("Variant", func(t *testing.T) {
		var v Variant
		if v.Type != ShredTypeUnknown {
			t.Errorf("expected ShredTypeUnknown, got %v", v.Type)
		}
		if v.Auth != AuthUnknown {
			t.Errorf("expected AuthUnknown, got %v", v.Auth)
		}
	})

	t.Run("DecodedShred", func(t *testing.T) {
		var s DecodedShred
		if s.Payload != nil {
			t.Errorf("expected Payload=nil, got %v", s.Payload)
		}
		if s.Source.IsValid() {
			t.Errorf("expected invalid Source, got %v", s.Source)
		}
		if s.DataPayload() != nil {
			t.Errorf("expected nil data payload for unknown type")
		}
	})

	t.Run("PeerRecord", func(t *testing.T) {
		var p PeerRecord
		if p.HasRelay() {
			t.Error("expected zero peer to have no relay address")
		}
	})
}

func TestVariantMaxShredSize(t *testing.T) {
	tests := []struct {
		v    Variant
		want int
	}{
		{Variant{Type: ShredTypeData, Auth: AuthLegacy}, MaxLegacyShredSize},
		{Variant{Type: ShredTypeCode, Auth: AuthLegacy}, MaxLegacyShredSize},
		{Variant{Type: ShredTypeData, Auth: AuthMerkle}, MaxMerkleDataShredSize},
		{Variant{Type: ShredTypeCode, Auth: AuthMerkle}, MaxMerkleCodeShredSize},
	}
	for _, tt := range tests {
		if got := tt.v.MaxShredSize(); got != tt.want {
			t.Errorf("%v.MaxShredSize() = %d, want %d", tt.v, got, tt.want)
		}
	}
}

func TestDataHeaderFlags(t *testing.T) {
	tests := []struct {
		flags        uint8
		tick         uint8
		dataComplete bool
		lastInSlot   bool
	}{
		{0x00, 0, false, false},
		{0x05, 5, false, false},
		{0x40 | 0x3f, 63, true, false},
		{0xc0 | 0x02, 2, true, true},
		{0x80, 0, false, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("0x%02x", tt.flags), func(t *testing.T) {
			h := DataHeader{Flags: tt.flags}
			if h.ReferenceTick() != tt.tick {
				t.Errorf("ReferenceTick() = %d, want %d", h.ReferenceTick(), tt.tick)
			}
			if h.DataComplete() != tt.dataComplete {
				t.Errorf("DataComplete() = %v, want %v", h.DataComplete(), tt.dataComplete)
			}
			if h.LastInSlot() != tt.lastInSlot {
				t.Errorf("LastInSlot() = %v, want %v", h.LastInSlot(), tt.lastInSlot)
			}
		})
	}
}

func TestDataPayload(t *testing.T) {
	raw := make([]byte, 200)
	s := DecodedShred{
		Common:  CommonHeader{Variant: Variant{Type: ShredTypeData, Auth: AuthLegacy}},
		Raw:     raw,
		Payload: raw[DataHeadersSize:],
	}

	t.Run("TrimmedToClaimedSize", func(t *testing.T) {
		s.Data.Size = 120
		if got := len(s.DataPayload()); got != 120-DataHeadersSize {
			t.Errorf("expected %d payload bytes, got %d", 120-DataHeadersSize, got)
		}
	})

	t.Run("InconsistentSizeFallsBack", func(t *testing.T) {
		s.Data.Size = 5000
		if got := len(s.DataPayload()); got != len(s.Payload) {
			t.Errorf("expected full payload %d, got %d", len(s.Payload), got)
		}
	})

	t.Run("CodeShredHasNoDataPayload", func(t *testing.T) {
		code := s
		code.Common.Variant.Type = ShredTypeCode
		if code.DataPayload() != nil {
			t.Error("expected nil data payload for code shred")
		}
	})
}

func TestPeerRecordHasRelay(t *testing.T) {
	p := PeerRecord{
		Identity: "peer-1",
		Gossip:   netip.MustParseAddrPort("10.0.0.1:8001"),
	}
	if p.HasRelay() {
		t.Error("expected no relay without TVU")
	}
	p.TVU = netip.MustParseAddrPort("10.0.0.1:8002")
	if !p.HasRelay() {
		t.Error("expected relay with TVU set")
	}
}

// Test sentinel errors
func TestSentinelErrors(t *testing.T) {
	t.Run("ErrorMessages", func(t *testing.T) {
		tests := []struct {
			err     error
			message string
		}{
			{ErrTooShort, "shredtap: packet too short"},
			{ErrUnknownVariant, "shredtap: unknown shred variant"},
			{ErrTruncatedHeader, "shredtap: truncated shred header"},
			{ErrQueueClosed, "shredtap: queue closed"},
			{ErrPluginNotFound, "shredtap: plugin not found"},
			{ErrConfigInvalid, "shredtap: invalid configuration"},
		}

		for _, tt := range tests {
			if tt.err.Error() != tt.message {
				t.Errorf("expected error message %q, got %q", tt.message, tt.err.Error())
			}
		}
	})

	t.Run("ErrorWrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("decode: %w", ErrUnknownVariant)
		if !errors.Is(wrapped, ErrUnknownVariant) {
			t.Error("errors.Is failed for wrapped error")
		}
	})
}
