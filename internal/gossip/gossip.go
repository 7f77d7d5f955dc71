// Package gossip defines the peer table consumed by discovery and provides
// implementations backed by memory and by a YAML file.
package gossip

import (
	"context"
	"sync"

	"firestige.xyz/shredtap/internal/core"
)

// Client is the gossip membership service. Each call returns a point-in-time
// view; callers must not modify the returned slices.
type Client interface {
	// AllPeers returns every known peer with the time it was last heard of.
	AllPeers(ctx context.Context) ([]core.PeerSighting, error)
	// PeersWithRelayAddress returns the peers that advertise a TVU address.
	PeersWithRelayAddress(ctx context.Context) ([]core.PeerRecord, error)
}

// Snapshot is a consistent view of a peer table: Relay is the relay subset of
// the same table version as Peers.
type Snapshot struct {
	Peers []core.PeerSighting
	Relay []core.PeerRecord
}

// Snapshotter is implemented by clients that can return both peer lists from
// one table version.
type Snapshotter interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// TakeSnapshot returns both peer lists of c. Clients that are not
// Snapshotters are queried one list after the other.
func TakeSnapshot(ctx context.Context, c Client) (Snapshot, error) {
	if s, ok := c.(Snapshotter); ok {
		return s.Snapshot(ctx)
	}
	peers, err := c.AllPeers(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	relay, err := c.PeersWithRelayAddress(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Peers: peers, Relay: relay}, nil
}

// MemoryTable is a Client over an in-memory peer list.
type MemoryTable struct {
	mu    sync.RWMutex
	peers []core.PeerSighting
	relay []core.PeerRecord
}

// NewMemoryTable creates a table holding peers.
func NewMemoryTable(peers ...core.PeerSighting) *MemoryTable {
	t := &MemoryTable{}
	t.Update(peers)
	return t
}

// Update replaces the table contents.
func (t *MemoryTable) Update(peers []core.PeerSighting) {
	all := append([]core.PeerSighting(nil), peers...)
	relay := make([]core.PeerRecord, 0, len(all))
	for _, p := range all {
		if p.Peer.HasRelay() {
			relay = append(relay, p.Peer)
		}
	}

	t.mu.Lock()
	t.peers = all
	t.relay = relay
	t.mu.Unlock()
}

func (t *MemoryTable) AllPeers(ctx context.Context) ([]core.PeerSighting, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.peers, nil
}

func (t *MemoryTable) PeersWithRelayAddress(ctx context.Context) ([]core.PeerRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.relay, nil
}

func (t *MemoryTable) Snapshot(ctx context.Context) (Snapshot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{Peers: t.peers, Relay: t.relay}, nil
}
