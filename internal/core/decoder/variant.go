// Package decoder implements shred decoding.
package decoder

import "firestige.xyz/shredtap/internal/core"

// Variant nibbles. The variant byte packs two 4-bit fields: high at bits 4..8,
// low at bits 0..4.
const (
	nibbleLegacyCode = 0x5
	nibbleLegacyData = 0xa
	nibbleMerkleCode = 0x4
	nibbleMerkleData = 0x8
)

// parseVariant classifies a variant byte. The second return is false when the
// nibble pair matches no known variant.
func parseVariant(b byte) (core.Variant, bool) {
	high, low := b>>4, b&0x0f
	v := core.Variant{Raw: b}

	switch {
	case high == nibbleLegacyCode && low == nibbleLegacyData:
		v.Type, v.Auth = core.ShredTypeCode, core.AuthLegacy
	case high == nibbleLegacyData && low == nibbleLegacyCode:
		v.Type, v.Auth = core.ShredTypeData, core.AuthLegacy
	case high == nibbleMerkleCode:
		v.Type, v.Auth, v.ProofSize = core.ShredTypeCode, core.AuthMerkle, low
	case high == nibbleMerkleData:
		v.Type, v.Auth, v.ProofSize = core.ShredTypeData, core.AuthMerkle, low
	default:
		return core.Variant{Raw: b}, false
	}
	return v, true
}
