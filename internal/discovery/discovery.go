// Package discovery polls the gossip peer table until enough peers are known.
package discovery

import (
	"context"
	"net/netip"
	"time"

	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/gossip"
	"firestige.xyz/shredtap/internal/log"
	"firestige.xyz/shredtap/internal/metrics"
)

// Defaults for Config fields left zero.
const (
	DefaultInterval    = time.Second
	DefaultDetailEvery = 10
	DefaultDetailLimit = 5
	DefaultThreshold   = 100
)

// Config controls the poll cadence and readiness threshold.
type Config struct {
	Interval    time.Duration
	DetailEvery int // iterations between peer dumps, negative disables them
	DetailLimit int // peers per list in a dump
	Threshold   int // ready once the peer count exceeds this
}

// Result is the outcome of the last poll.
type Result struct {
	Ready      bool
	Iterations int
	Peers      int
	RelayPeers int
}

// Loop polls a gossip client on a fixed interval.
type Loop struct {
	client gossip.Client
	config Config
	logger log.Logger
}

// New creates a discovery loop. Zero config fields take their defaults.
func New(client gossip.Client, cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.DetailEvery == 0 {
		cfg.DetailEvery = DefaultDetailEvery
	}
	if cfg.DetailLimit <= 0 {
		cfg.DetailLimit = DefaultDetailLimit
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Loop{client: client, config: cfg, logger: log.GetLogger()}
}

// SetLogger replaces the process logger.
func (l *Loop) SetLogger(logger log.Logger) { l.logger = logger }

// Run polls until the peer count exceeds the threshold, returning a ready
// result. If ctx ends first the last result is returned with ctx.Err().
// An empty or unreachable table is not fatal; polling continues.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	l.logger.Info("starting gossip discovery")

	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()

	var last Result
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}

		last.Iterations++
		peers, relay, err := l.snapshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			l.logger.WithError(err).Warn("peer table poll failed")
			continue
		}
		last.Peers = len(peers)
		last.RelayPeers = len(relay)
		metrics.DiscoveryPeers.WithLabelValues("all").Set(float64(last.Peers))
		metrics.DiscoveryPeers.WithLabelValues("relay").Set(float64(last.RelayPeers))

		elapsed := time.Duration(last.Iterations) * l.config.Interval
		l.logger.Infof("Discovery [%02ds]: %d total peers, %d with TVU", int(elapsed.Seconds()), last.Peers, last.RelayPeers)

		if l.config.DetailEvery > 0 && last.Iterations%l.config.DetailEvery == 0 {
			l.logDetails(last.Iterations, peers, relay)
		}

		if last.Peers > l.config.Threshold {
			last.Ready = true
			metrics.DiscoveryReady.Set(1)
			l.logger.WithFields(map[string]interface{}{
				"peers":       last.Peers,
				"relay_peers": last.RelayPeers,
			}).Info("joined gossip network")
			return last, nil
		}
	}
}

func (l *Loop) snapshot(ctx context.Context) ([]core.PeerSighting, []core.PeerRecord, error) {
	snap, err := gossip.TakeSnapshot(ctx, l.client)
	if err != nil {
		return nil, nil, err
	}
	return snap.Peers, snap.Relay, nil
}

// logDetails dumps at most DetailLimit entries of each list.
func (l *Loop) logDetails(iteration int, peers []core.PeerSighting, relay []core.PeerRecord) {
	limit := l.config.DetailLimit
	l.logger.Infof("=== PEER DETAILS (iteration %d) ===", iteration)

	l.logger.Infof("All peers (showing first %d of %d):", min(limit, len(peers)), len(peers))
	for i, p := range peers[:min(limit, len(peers))] {
		rec := p.Peer
		fields := map[string]interface{}{
			"gossip":               addrString(rec.Gossip),
			core.FieldShredVersion: rec.ShredVersion,
			"wallclock":            rec.Wallclock,
			"last_seen":            p.LastSeen,
		}
		if rec.TVU.IsValid() {
			fields["tvu"] = rec.TVU.String()
		}
		if rec.TPU.IsValid() {
			fields["tpu"] = rec.TPU.String()
		}
		l.logger.WithFields(fields).Infof("  %d. %s", i+1, rec.Identity)
	}

	l.logger.Infof("TVU-enabled peers (showing first %d of %d):", min(limit, len(relay)), len(relay))
	for i, rec := range relay[:min(limit, len(relay))] {
		l.logger.Infof("  %d. %s -> TVU: %s", i+1, rec.Identity, rec.TVU)
	}
	l.logger.Info("=== END PEER DETAILS ===")
}

func addrString(ap netip.AddrPort) string {
	if !ap.IsValid() {
		return "-"
	}
	return ap.String()
}
