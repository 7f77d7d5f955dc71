// Package receiver implements the shred receive loop.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/core/decoder"
	"firestige.xyz/shredtap/internal/log"
	"firestige.xyz/shredtap/internal/metrics"
	"firestige.xyz/shredtap/internal/stats"
)

// Defaults for Config fields left zero.
const (
	DefaultReadTimeout  = time.Second
	DefaultErrorBackoff = 100 * time.Millisecond
)

// State is the lifecycle of a Receiver. It only moves forward.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Publisher accepts decoded shreds. Push returns core.ErrQueueClosed once the
// consumer is gone.
type Publisher interface {
	Push(shred *core.DecodedShred) error
}

// Config contains receive loop timing.
type Config struct {
	ReadTimeout   time.Duration // bound on one blocking read, so shutdown is observed
	ErrorBackoff  time.Duration // pause after a failed read
	StatsInterval time.Duration
}

// Receiver reads datagrams, decodes them and publishes shreds in arrival order.
type Receiver struct {
	reader  Reader
	decoder decoder.Decoder
	out     Publisher
	config  Config

	state    atomic.Int32
	stats    *stats.ThroughputStats
	logger   log.Logger
	rejectLL *rate.Limiter
}

// Option customizes a Receiver.
type Option func(*Receiver)

// WithStats replaces the receiver's throughput stats.
func WithStats(s *stats.ThroughputStats) Option {
	return func(r *Receiver) { r.stats = s }
}

// WithLogger replaces the process logger.
func WithLogger(l log.Logger) Option {
	return func(r *Receiver) { r.logger = l }
}

// New creates a receiver. The receiver owns reader and closes it when Run returns.
func New(reader Reader, dec decoder.Decoder, out Publisher, cfg Config, opts ...Option) *Receiver {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}
	r := &Receiver{
		reader:   reader,
		decoder:  dec,
		out:      out,
		config:   cfg,
		rejectLL: rate.NewLimiter(rate.Every(time.Second), 10),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.GetLogger()
	}
	if r.stats == nil {
		r.stats = stats.New(cfg.StatsInterval, stats.WithLogger(r.logger))
	}
	return r
}

// State returns the current lifecycle state.
func (r *Receiver) State() State {
	return State(r.state.Load())
}

// Stats returns the throughput counters. Only safe once Run has returned.
func (r *Receiver) Stats() stats.Snapshot {
	return r.stats.Snapshot()
}

// LocalAddr returns the bound socket address, or nil if the reader has none.
func (r *Receiver) LocalAddr() net.Addr {
	if a, ok := r.reader.(interface{ LocalAddr() net.Addr }); ok {
		return a.LocalAddr()
	}
	return nil
}

// Close releases the socket of a receiver that never ran. A running receiver
// closes its socket itself when Run returns.
func (r *Receiver) Close() error {
	if r.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		return r.reader.Close()
	}
	return nil
}

// Run receives until ctx is done or the publisher is closed; both are clean
// exits and return nil. Read errors are logged and retried after a backoff.
func (r *Receiver) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("receiver is %s, cannot run", r.State())
	}
	defer func() {
		r.state.Store(int32(StateStopped))
		if err := r.reader.Close(); err != nil {
			r.logger.WithError(err).Debug("close shred socket")
		}
	}()

	r.logger.Info("shred receiver started")

	for {
		if ctx.Err() != nil {
			r.logger.Info("shred receiver stopped")
			return nil
		}

		datagrams, err := r.reader.ReadDatagrams(time.Now().Add(r.config.ReadTimeout))
		if err != nil {
			if isTimeout(err) {
				r.stats.MaybeLog()
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			metrics.ReadErrorsTotal.Inc()
			r.logger.WithError(err).Warn("shred socket read failed")
			r.backoff(ctx)
			continue
		}

		for i := range datagrams {
			if err := r.handle(&datagrams[i]); err != nil {
				if errors.Is(err, core.ErrQueueClosed) {
					r.logger.Info("dispatch queue closed, shred receiver exiting")
					return nil
				}
				return err
			}
		}
		r.stats.MaybeLog()
	}
}

func (r *Receiver) handle(d *core.Datagram) error {
	r.stats.Record()
	metrics.DatagramsTotal.Inc()

	shred, err := r.decoder.Decode(d.Data)
	if err != nil {
		r.reject(d, err)
		return nil
	}
	shred.Source = d.Source
	shred.ReceivedAt = d.ReceivedAt

	v := shred.Common.Variant
	metrics.ShredsDecodedTotal.WithLabelValues(v.Type.String(), v.Auth.String()).Inc()
	return r.out.Push(&shred)
}

func (r *Receiver) reject(d *core.Datagram, err error) {
	r.stats.Reject()
	metrics.ShredsRejectedTotal.WithLabelValues(rejectReason(err)).Inc()

	if r.logger.IsDebugEnabled() && r.rejectLL.Allow() {
		r.logger.WithFields(map[string]interface{}{
			core.FieldSource: d.Source.String(),
			core.FieldSize:   len(d.Data),
		}).WithError(err).Debug("non-shred packet")
	}
}

func (r *Receiver) backoff(ctx context.Context) {
	t := time.NewTimer(r.config.ErrorBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, core.ErrTooShort):
		return "too_short"
	case errors.Is(err, core.ErrUnknownVariant):
		return "unknown_variant"
	case errors.Is(err, core.ErrTruncatedHeader):
		return "truncated_header"
	case errors.Is(err, core.ErrOversized):
		return "oversized"
	case errors.Is(err, core.ErrShredVersionMismatch):
		return "shred_version_mismatch"
	default:
		return "other"
	}
}
