// Package fecset implements an output that tracks forward error correction
// sets and reports whether each one arrived complete, recoverable through
// its code shreds, or short.
package fecset

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/log"
	"firestige.xyz/shredtap/internal/metrics"
	"firestige.xyz/shredtap/pkg/plugin"
)

const (
	TypeName = "fecset"

	defaultIdle    = 30 * time.Second
	defaultCleanup = 5 * time.Second
)

// Outcome label values.
const (
	OutcomeComplete    = "complete"
	OutcomeRecoverable = "recoverable"
	OutcomeIncomplete  = "incomplete"
	OutcomeUnknown     = "unknown" // no code shred seen, set size unknown
)

// Config represents FEC set tracker configuration.
type Config struct {
	Idle            time.Duration `mapstructure:"idle"` // a set is final after this long without shreds
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	LogIncomplete   bool          `mapstructure:"log_incomplete"`
}

// Stats counts finalized sets by outcome.
type Stats struct {
	Complete    uint64
	Recoverable uint64
	Incomplete  uint64
	Unknown     uint64
	Tracking    int
}

type fecSet struct {
	slot      uint64
	fecIndex  uint32
	data      map[uint32]struct{}
	code      map[uint16]struct{}
	numData   uint16
	numCoding uint16
	final     bool
}

func (s *fecSet) outcome() string {
	switch {
	case s.numData == 0:
		return OutcomeUnknown
	case len(s.data) >= int(s.numData):
		return OutcomeComplete
	case len(s.data)+len(s.code) >= int(s.numData):
		return OutcomeRecoverable
	default:
		return OutcomeIncomplete
	}
}

// Output tracks FEC sets in an expiring cache.
type Output struct {
	name   string
	config Config
	logger log.Logger

	mu   sync.Mutex // guards sets, and the set values against the eviction callback
	sets *cache.Cache // nil before Start and after Stop

	complete    atomic.Uint64
	recoverable atomic.Uint64
	incomplete  atomic.Uint64
	unknown     atomic.Uint64
}

// New creates a FEC set tracker.
func New() plugin.Output {
	return &Output{name: TypeName}
}

func (o *Output) Name() string        { return o.name }
func (o *Output) SetName(name string) { o.name = name }

// Init parses configuration.
func (o *Output) Init(cfg map[string]any) error {
	c := Config{Idle: defaultIdle, CleanupInterval: defaultCleanup, LogIncomplete: true}
	if err := plugin.DecodeConfig(cfg, &c); err != nil {
		return err
	}
	if c.Idle <= 0 || c.CleanupInterval <= 0 {
		return fmt.Errorf("idle and cleanup_interval must be positive")
	}
	o.config = c
	o.logger = log.GetLogger().WithField(core.FieldPlugin, o.name)
	return nil
}

// Start creates the set cache.
func (o *Output) Start(ctx context.Context) error {
	sets := cache.New(o.config.Idle, o.config.CleanupInterval)
	sets.OnEvicted(func(_ string, v interface{}) {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.finalize(v.(*fecSet))
	})
	o.mu.Lock()
	o.sets = sets
	o.mu.Unlock()
	o.logger.WithField("idle", o.config.Idle.String()).Info("fecset output started")
	return nil
}

// Stop finalizes every set still tracked, expired or not, and releases the
// cache so its janitor goroutine can exit.
func (o *Output) Stop(ctx context.Context) error {
	o.mu.Lock()
	sets := o.sets
	o.sets = nil
	o.mu.Unlock()
	if sets == nil {
		return nil
	}

	// Delete and DeleteExpired finalize through the eviction callback, so
	// o.mu must not be held here.
	for key := range sets.Items() {
		sets.Delete(key)
	}
	sets.DeleteExpired()

	st := o.Stats()
	o.logger.WithFields(map[string]interface{}{
		OutcomeComplete:    st.Complete,
		OutcomeRecoverable: st.Recoverable,
		OutcomeIncomplete:  st.Incomplete,
		OutcomeUnknown:     st.Unknown,
	}).Info("fecset output stopped")
	return nil
}

// Handle records the shred in its FEC set and refreshes the set's expiry.
func (o *Output) Handle(ctx context.Context, shred *core.DecodedShred) error {
	c := shred.Common
	key := fmt.Sprintf("%d:%d", c.Slot, c.FECSetIndex)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sets == nil {
		return fmt.Errorf("fecset output %s not running", o.name)
	}

	var set *fecSet
	if v, ok := o.sets.Get(key); ok {
		set = v.(*fecSet)
	} else {
		set = &fecSet{
			slot:     c.Slot,
			fecIndex: c.FECSetIndex,
			data:     make(map[uint32]struct{}),
			code:     make(map[uint16]struct{}),
		}
	}

	switch shred.Type() {
	case core.ShredTypeData:
		set.data[c.Index] = struct{}{}
	case core.ShredTypeCode:
		set.code[shred.Code.Position] = struct{}{}
		set.numData = shred.Code.NumDataShreds
		set.numCoding = shred.Code.NumCodingShreds
	}
	o.sets.SetDefault(key, set)
	return nil
}

// Stats returns outcome counters and the number of sets still open.
func (o *Output) Stats() Stats {
	st := Stats{
		Complete:    o.complete.Load(),
		Recoverable: o.recoverable.Load(),
		Incomplete:  o.incomplete.Load(),
		Unknown:     o.unknown.Load(),
	}
	o.mu.Lock()
	if o.sets != nil {
		st.Tracking = o.sets.ItemCount()
	}
	o.mu.Unlock()
	return st
}

// finalize counts s once. Handle can re-insert a set whose eviction is
// still waiting on o.mu, so the same set may be evicted twice.
func (o *Output) finalize(s *fecSet) {
	if s.final {
		return
	}
	s.final = true
	outcome := s.outcome()
	switch outcome {
	case OutcomeComplete:
		o.complete.Add(1)
	case OutcomeRecoverable:
		o.recoverable.Add(1)
	case OutcomeIncomplete:
		o.incomplete.Add(1)
		if o.config.LogIncomplete {
			o.logger.WithFields(map[string]interface{}{
				core.FieldSlot:        s.slot,
				core.FieldFECSetIndex: s.fecIndex,
				"data":                len(s.data),
				"code":                len(s.code),
				"num_data":            s.numData,
			}).Warn("fec set incomplete")
		}
	default:
		o.unknown.Add(1)
	}
	metrics.FECSetsTotal.WithLabelValues(outcome).Inc()
}
