package pipeline

import (
	"sync/atomic"
)

// Metrics contains dispatcher counters.
type Metrics struct {
	Dispatched       atomic.Uint64
	DispatchFailures atomic.Uint64 // shreds at least one output failed on
	Dropped          atomic.Uint64 // evicted from a full queue
}

// Stats represents pipeline statistics.
type Stats struct {
	Dispatched       uint64
	DispatchFailures uint64
	Dropped          uint64
}

func (m *Metrics) snapshot() Stats {
	return Stats{
		Dispatched:       m.Dispatched.Load(),
		DispatchFailures: m.DispatchFailures.Load(),
		Dropped:          m.Dropped.Load(),
	}
}
