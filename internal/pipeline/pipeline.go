// Package pipeline wires the receive loop, the plugin dispatcher and peer
// discovery together and runs them until shutdown.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/discovery"
	"firestige.xyz/shredtap/internal/log"
	globalmetrics "firestige.xyz/shredtap/internal/metrics"
	"firestige.xyz/shredtap/internal/plugin"
	"firestige.xyz/shredtap/internal/queue"
)

const stopTimeout = 10 * time.Second

// Receiver is the producer side of the pipeline.
type Receiver interface {
	Run(ctx context.Context) error
}

// Pipeline runs one receiver, one dispatcher and optionally one discovery
// loop, each on its own goroutine.
type Pipeline struct {
	receiver  Receiver
	runner    *plugin.Runner
	queue     *queue.Queue[*core.DecodedShred]
	discovery *discovery.Loop
	maxWait   time.Duration
	metrics   Metrics
	logger    log.Logger
}

// Config contains pipeline collaborators.
type Config struct {
	Receiver  Receiver
	Runner    *plugin.Runner
	Queue     *queue.Queue[*core.DecodedShred]
	Discovery *discovery.Loop // nil disables discovery
	MaxWait   time.Duration   // bound on discovery, 0 = until shutdown
}

// New creates a new pipeline.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		receiver:  cfg.Receiver,
		runner:    cfg.Runner,
		queue:     cfg.Queue,
		discovery: cfg.Discovery,
		maxWait:   cfg.MaxWait,
		logger:    log.GetLogger(),
	}
	p.queue.OnDrop = func(*core.DecodedShred) {
		p.metrics.Dropped.Add(1)
		globalmetrics.QueueDroppedTotal.Inc()
	}
	return p
}

// Run starts every output, then ingests until ctx is done. Output start
// failures are returned before any shred is read. Outputs are stopped before
// Run returns.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	if err := p.runner.StartAll(ctx); err != nil {
		if c, ok := p.receiver.(io.Closer); ok {
			_ = c.Close()
		}
		return fmt.Errorf("start outputs: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if stopErr := p.runner.StopAll(stopCtx); stopErr != nil {
			p.logger.WithError(stopErr).Error("outputs did not stop cleanly")
			if err == nil {
				err = stopErr
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.receiver.Run(gctx) })
	g.Go(func() error { return p.dispatch(gctx) })
	if p.discovery != nil {
		g.Go(func() error { return p.discover(gctx) })
	}

	p.logger.WithField("outputs", p.runner.Names()).Info("pipeline running")
	err = g.Wait()
	p.logger.WithFields(map[string]interface{}{
		"dispatched": p.metrics.Dispatched.Load(),
		"failures":   p.metrics.DispatchFailures.Load(),
		"dropped":    p.metrics.Dropped.Load(),
	}).Info("pipeline stopped")
	return err
}

// dispatch feeds queued shreds to the runner. On exit it closes the queue,
// which ends the receiver, and hands over what was already queued.
func (p *Pipeline) dispatch(ctx context.Context) error {
	for {
		shred, ok := p.queue.Pop(ctx)
		if !ok {
			break
		}
		p.deliver(ctx, shred)
	}

	p.queue.Close()
	for {
		shred, ok := p.queue.Pop(context.Background())
		if !ok {
			return nil
		}
		p.deliver(context.Background(), shred)
	}
}

func (p *Pipeline) deliver(ctx context.Context, shred *core.DecodedShred) {
	if err := p.runner.Dispatch(ctx, shred); err != nil {
		p.metrics.DispatchFailures.Add(1)
	}
	p.metrics.Dispatched.Add(1)
	globalmetrics.QueueDepth.Set(float64(p.queue.Len()))
}

// discover runs peer discovery. Its outcome never stops ingestion.
func (p *Pipeline) discover(ctx context.Context) error {
	dctx := ctx
	if p.maxWait > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, p.maxWait)
		defer cancel()
	}

	res, err := p.discovery.Run(dctx)
	switch {
	case err == nil:
		p.logger.WithFields(map[string]interface{}{
			"peers":       res.Peers,
			"relay_peers": res.RelayPeers,
			"iterations":  res.Iterations,
		}).Info("peer discovery complete")
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		p.logger.WithFields(map[string]interface{}{
			"peers":    res.Peers,
			"max_wait": p.maxWait.String(),
		}).Warn("peer discovery did not reach its threshold, continuing ingestion")
	}
	return nil
}

// LocalAddr returns the receiver's bound address, if it has one.
func (p *Pipeline) LocalAddr() net.Addr {
	if a, ok := p.receiver.(interface{ LocalAddr() net.Addr }); ok {
		return a.LocalAddr()
	}
	return nil
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return p.metrics.snapshot()
}
