// Package core defines sentinel errors.
package core

import "errors"

var (
	// Shred decoding errors. These are expected traffic noise, never fatal.
	ErrTooShort             = errors.New("shredtap: packet too short")
	ErrUnknownVariant       = errors.New("shredtap: unknown shred variant")
	ErrTruncatedHeader      = errors.New("shredtap: truncated shred header")
	ErrOversized            = errors.New("shredtap: packet exceeds shred size limit")
	ErrShredVersionMismatch = errors.New("shredtap: shred version mismatch")

	// Pipeline errors
	ErrQueueClosed = errors.New("shredtap: queue closed")

	// Plugin errors
	ErrPluginNotFound   = errors.New("shredtap: plugin not found")
	ErrPluginInitFailed = errors.New("shredtap: plugin init failed")
	ErrPluginPanic      = errors.New("shredtap: plugin panicked")

	// Discovery errors
	ErrPeerTableUnavailable = errors.New("shredtap: peer table unavailable")

	// Configuration errors
	ErrConfigInvalid = errors.New("shredtap: invalid configuration")
)
