// Package core defines core types.
package core

// Field names shared by log lines and output envelopes.
const (
	FieldSlot         = "slot"
	FieldIndex        = "index"
	FieldType         = "type"
	FieldAuth         = "auth"
	FieldShredVersion = "shred_version"
	FieldFECSetIndex  = "fec_set_index"
	FieldSource       = "source"
	FieldSize         = "size"
	FieldPlugin       = "plugin"
	FieldNode         = "node"
)
