// Package stats tracks receive throughput for the shred socket.
package stats

import (
	"time"

	"firestige.xyz/shredtap/internal/log"
)

// DefaultInterval is how often throughput is written to the log.
const DefaultInterval = 10 * time.Second

// ThroughputStats counts datagrams read by one receive loop and periodically
// logs the cumulative and windowed totals. It is owned by a single goroutine
// and is not safe for concurrent use.
type ThroughputStats struct {
	count     uint64
	rejected  uint64
	lastCount uint64
	lastLog   time.Time
	interval  time.Duration
	now       func() time.Time
	logger    log.Logger
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Count    uint64 // datagrams read since start
	Window   uint64 // datagrams read since the last log line
	Rejected uint64 // datagrams that did not decode as shreds
}

// Option customizes ThroughputStats.
type Option func(*ThroughputStats)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *ThroughputStats) { s.now = now }
}

// WithLogger replaces the process logger.
func WithLogger(l log.Logger) Option {
	return func(s *ThroughputStats) { s.logger = l }
}

// New creates stats that log every interval. A non-positive interval uses
// DefaultInterval.
func New(interval time.Duration, opts ...Option) *ThroughputStats {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &ThroughputStats{
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.GetLogger()
	}
	s.lastLog = s.now()
	return s
}

// Record counts one successful read, shred or not.
func (s *ThroughputStats) Record() {
	s.count++
}

// Reject counts a datagram the decoder refused. It does not affect Count.
func (s *ThroughputStats) Reject() {
	s.rejected++
}

// Snapshot returns the current counters.
func (s *ThroughputStats) Snapshot() Snapshot {
	return Snapshot{
		Count:    s.count,
		Window:   s.count - s.lastCount,
		Rejected: s.rejected,
	}
}

// MaybeLog writes a stats line and starts a new window once the interval has
// elapsed. It reports whether a line was written.
func (s *ThroughputStats) MaybeLog() bool {
	now := s.now()
	elapsed := now.Sub(s.lastLog)
	if elapsed < s.interval {
		return false
	}

	snap := s.Snapshot()
	s.logger.WithFields(map[string]interface{}{
		"total":    snap.Count,
		"window":   snap.Window,
		"rejected": snap.Rejected,
	}).Infof("Shred Stats: %d total, %d in last %s", snap.Count, snap.Window, elapsed.Truncate(time.Second))

	s.lastCount = s.count
	s.lastLog = now
	return true
}
