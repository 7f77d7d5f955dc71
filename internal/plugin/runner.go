// Package plugin runs output plugins: lifecycle fan-out and per-shred
// dispatch with failure isolation.
package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/log"
	"firestige.xyz/shredtap/internal/metrics"
	"firestige.xyz/shredtap/pkg/plugin"
)

// StartPolicy controls StartAll when a plugin fails to start.
type StartPolicy int

const (
	// BestEffort attempts every plugin and reports all failures.
	BestEffort StartPolicy = iota
	// FailFast stops at the first failure.
	FailFast
)

func (p StartPolicy) String() string {
	if p == FailFast {
		return "fail_fast"
	}
	return "best_effort"
}

// ParseStartPolicy parses "best_effort" (or "") and "fail_fast".
func ParseStartPolicy(s string) (StartPolicy, error) {
	switch s {
	case "", "best_effort":
		return BestEffort, nil
	case "fail_fast":
		return FailFast, nil
	default:
		return BestEffort, fmt.Errorf("%w: unknown start policy %q", core.ErrConfigInvalid, s)
	}
}

type entry struct {
	output  plugin.Output
	name    string
	mu      sync.Mutex // serializes Handle
	started bool
}

// Runner owns an ordered set of outputs.
type Runner struct {
	policy  StartPolicy
	entries []*entry
	logger  log.Logger

	lifecycle sync.Mutex
}

// NewRunner creates a runner. Outputs receive shreds in the given order.
func NewRunner(policy StartPolicy, outputs ...plugin.Output) *Runner {
	r := &Runner{
		policy: policy,
		logger: log.GetLogger(),
	}
	for _, o := range outputs {
		r.entries = append(r.entries, &entry{output: o, name: o.Name()})
	}
	return r
}

// SetLogger replaces the process logger.
func (r *Runner) SetLogger(l log.Logger) { r.logger = l }

// Names returns output names in registration order.
func (r *Runner) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	return names
}

// Len returns the number of outputs.
func (r *Runner) Len() int { return len(r.entries) }

// StartAll starts every output in registration order. If any output fails,
// the ones already started are stopped again and the aggregate error is
// returned: the runner is either fully started or not started at all.
func (r *Runner) StartAll(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	var errs error
	for _, e := range r.entries {
		if e.started {
			continue
		}
		err := call(func() error { return e.output.Start(ctx) })
		if err != nil {
			metrics.PluginErrorsTotal.WithLabelValues(e.name, metrics.ErrorTypeStart).Inc()
			r.logger.WithField(core.FieldPlugin, e.name).WithError(err).Error("output failed to start")
			errs = multierr.Append(errs, fmt.Errorf("start %s: %w", e.name, err))
			if r.policy == FailFast {
				break
			}
			continue
		}
		e.started = true
		r.logger.WithField(core.FieldPlugin, e.name).Info("output started")
	}

	if errs != nil {
		if err := r.stopStarted(ctx); err != nil {
			r.logger.WithError(err).Warn("rollback of started outputs failed")
		}
		return errs
	}
	return nil
}

// Dispatch hands shred to every output in registration order. A failing or
// panicking output is logged and counted and does not affect the others. The
// returned error aggregates those failures for callers that want them.
func (r *Runner) Dispatch(ctx context.Context, shred *core.DecodedShred) error {
	var errs error
	for _, e := range r.entries {
		if err := r.handle(ctx, e, shred); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (r *Runner) handle(ctx context.Context, e *entry, shred *core.DecodedShred) error {
	e.mu.Lock()
	start := time.Now()
	err := call(func() error { return e.output.Handle(ctx, shred) })
	e.mu.Unlock()

	metrics.PluginHandleSeconds.WithLabelValues(e.name).Observe(time.Since(start).Seconds())
	if err == nil {
		metrics.PluginHandledTotal.WithLabelValues(e.name).Inc()
		return nil
	}

	errType := metrics.ErrorTypeHandle
	if isPanic(err) {
		errType = metrics.ErrorTypePanic
	}
	metrics.PluginErrorsTotal.WithLabelValues(e.name, errType).Inc()
	r.logger.WithFields(map[string]interface{}{
		core.FieldPlugin: e.name,
		core.FieldSlot:   shred.Slot(),
		core.FieldIndex:  shred.Index(),
	}).WithError(err).Warn("output failed to handle shred")
	return fmt.Errorf("%s: %w", e.name, err)
}

// StopAll stops every started output, continuing past failures. All errors
// are returned combined; errors.Is matches any of them and the first one
// comes first.
func (r *Runner) StopAll(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.stopStarted(ctx)
}

func (r *Runner) stopStarted(ctx context.Context) error {
	var errs error
	for _, e := range r.entries {
		if !e.started {
			continue
		}
		e.started = false
		err := call(func() error { return e.output.Stop(ctx) })
		if err != nil {
			metrics.PluginErrorsTotal.WithLabelValues(e.name, metrics.ErrorTypeStop).Inc()
			r.logger.WithField(core.FieldPlugin, e.name).WithError(err).Error("output failed to stop")
			errs = multierr.Append(errs, fmt.Errorf("stop %s: %w", e.name, err))
			continue
		}
		r.logger.WithField(core.FieldPlugin, e.name).Info("output stopped")
	}
	return errs
}

// call runs fn and turns a panic into an error wrapping core.ErrPluginPanic.
func call(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &panicError{value: v}
		}
	}()
	return fn()
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("%v: %v", core.ErrPluginPanic, e.value)
}

func (e *panicError) Unwrap() error { return core.ErrPluginPanic }

func isPanic(err error) bool {
	_, ok := err.(*panicError)
	return ok
}
