package plugin

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/log"
)

// mockOutput is a testify mock of plugin.Output.
type mockOutput struct {
	mock.Mock
	name string
}

func newMockOutput(name string) *mockOutput { return &mockOutput{name: name} }

func (m *mockOutput) Name() string { return m.name }

func (m *mockOutput) Init(cfg map[string]any) error {
	return m.Called(cfg).Error(0)
}

func (m *mockOutput) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockOutput) Stop(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockOutput) Handle(ctx context.Context, shred *core.DecodedShred) error {
	return m.Called(ctx, shred).Error(0)
}

// recordingOutput remembers every shred it handled.
type recordingOutput struct {
	name string

	mu      sync.Mutex
	shreds  []*core.DecodedShred
	active  atomic.Int32
	overlap atomic.Bool
}

func (r *recordingOutput) Name() string                { return r.name }
func (r *recordingOutput) Init(map[string]any) error   { return nil }
func (r *recordingOutput) Start(context.Context) error { return nil }
func (r *recordingOutput) Stop(context.Context) error  { return nil }

func (r *recordingOutput) Handle(_ context.Context, shred *core.DecodedShred) error {
	if r.active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	time.Sleep(20 * time.Microsecond)

	r.mu.Lock()
	r.shreds = append(r.shreds, shred)
	r.mu.Unlock()

	r.active.Add(-1)
	return nil
}

func (r *recordingOutput) handled() []*core.DecodedShred {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*core.DecodedShred(nil), r.shreds...)
}

// panickingOutput panics in Handle.
type panickingOutput struct{ recordingOutput }

func (p *panickingOutput) Handle(context.Context, *core.DecodedShred) error {
	panic("index out of range")
}

func quietLogger() log.Logger { return log.NewForTest(&bytes.Buffer{}) }

func testShred(slot uint64, index uint32) *core.DecodedShred {
	s := &core.DecodedShred{}
	s.Common.Slot = slot
	s.Common.Index = index
	s.Common.Variant = core.Variant{Raw: 0xa5, Type: core.ShredTypeData, Auth: core.AuthLegacy}
	return s
}
