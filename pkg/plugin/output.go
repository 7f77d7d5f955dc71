// Package plugin defines the output plugin interfaces and their registry.
package plugin

import (
	"context"

	"firestige.xyz/shredtap/internal/core"
)

// Plugin is the lifecycle shared by every plugin: Init once with its config
// section, Start before the first shred, Stop after the last one. Init must
// not open connections or files.
type Plugin interface {
	Name() string
	Init(cfg map[string]any) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Output consumes decoded shreds.
//
// Handle receives a pointer shared with every other output; implementations
// must not modify the shred or retain its byte slices past the call unless
// they copy them. Calls to Handle on one instance never overlap.
type Output interface {
	Plugin
	Handle(ctx context.Context, shred *core.DecodedShred) error
}

// Named is implemented by outputs whose instance name can be set by
// configuration, so two instances of one type can coexist.
type Named interface {
	SetName(name string)
}
