package pipeline

import (
	"context"
	"fmt"

	"firestige.xyz/shredtap/internal/config"
	"firestige.xyz/shredtap/internal/core"
	"firestige.xyz/shredtap/internal/core/decoder"
	"firestige.xyz/shredtap/internal/discovery"
	"firestige.xyz/shredtap/internal/gossip"
	"firestige.xyz/shredtap/internal/plugin"
	"firestige.xyz/shredtap/internal/queue"
	"firestige.xyz/shredtap/internal/receiver"
)

// Build assembles a pipeline from configuration. Every fatal setup step runs
// here: loading outputs, opening the peer table and binding the shred
// socket. On failure nothing is left open.
func Build(ctx context.Context, cfg *config.GlobalConfig) (*Pipeline, error) {
	runner, err := plugin.Load(cfg.Plugins)
	if err != nil {
		return nil, fmt.Errorf("load outputs: %w", err)
	}

	var loop *discovery.Loop
	if cfg.Discovery.Enabled {
		table, err := gossip.OpenFileTable(cfg.Discovery.PeersFile)
		if err != nil {
			return nil, err
		}
		loop = discovery.New(table, discovery.Config{
			Interval:    cfg.Discovery.Interval,
			DetailEvery: cfg.Discovery.DetailEvery,
			DetailLimit: cfg.Discovery.DetailLimit,
			Threshold:   cfg.Discovery.Threshold,
		})
	}

	rc := cfg.Receiver
	reader, err := receiver.Listen(ctx, receiver.ListenConfig{
		Bind:            rc.Bind,
		BatchSize:       rc.BatchSize,
		ReadBufferBytes: rc.ReadBufferBytes,
	})
	if err != nil {
		return nil, err
	}

	q := queue.New[*core.DecodedShred](rc.QueueCapacity)
	dec := decoder.NewShredDecoder(decoder.Config{ExpectedShredVersion: rc.ExpectedShredVersion})
	recv := receiver.New(reader, dec, q, receiver.Config{
		ReadTimeout:   rc.ReadTimeout,
		ErrorBackoff:  rc.ErrorBackoff,
		StatsInterval: rc.StatsInterval,
	})

	return New(Config{
		Receiver:  recv,
		Runner:    runner,
		Queue:     q,
		Discovery: loop,
		MaxWait:   cfg.Discovery.MaxWait,
	}), nil
}
