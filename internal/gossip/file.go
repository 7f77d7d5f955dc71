package gossip

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"firestige.xyz/shredtap/internal/core"
)

// peerFile is the on-disk layout of a peer table:
//
//	peers:
//	  - identity: 7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2
//	    gossip: 198.51.100.7:8001
//	    tvu: 198.51.100.7:8002
//	    shred_version: 50093
//	    wallclock: 1718000000000
type peerFile struct {
	Peers []peerEntry `yaml:"peers"`
}

type peerEntry struct {
	Identity     string `yaml:"identity"`
	Gossip       string `yaml:"gossip"`
	TVU          string `yaml:"tvu,omitempty"`
	TPU          string `yaml:"tpu,omitempty"`
	ShredVersion uint16 `yaml:"shred_version"`
	Wallclock    uint64 `yaml:"wallclock"`
	LastSeen     uint64 `yaml:"last_seen,omitempty"` // defaults to wallclock
}

// FileTable is a Client reading a YAML peer table that an external gossip
// agent keeps up to date. The file is re-read when its modification time
// changes. A failed re-read is reported and the previous contents are kept.
type FileTable struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	table   *MemoryTable
}

// OpenFileTable reads the table at path. An unreadable or malformed file is
// a fatal setup error wrapping core.ErrPeerTableUnavailable.
func OpenFileTable(path string) (*FileTable, error) {
	t := &FileTable{path: path, table: NewMemoryTable()}
	if err := t.refresh(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *FileTable) AllPeers(ctx context.Context) ([]core.PeerSighting, error) {
	if err := t.refresh(); err != nil {
		return nil, err
	}
	return t.table.AllPeers(ctx)
}

func (t *FileTable) PeersWithRelayAddress(ctx context.Context) ([]core.PeerRecord, error) {
	if err := t.refresh(); err != nil {
		return nil, err
	}
	return t.table.PeersWithRelayAddress(ctx)
}

// Snapshot re-reads the file at most once and returns both lists from the
// resulting table version.
func (t *FileTable) Snapshot(ctx context.Context) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.refreshLocked(); err != nil {
		return Snapshot{}, err
	}
	return t.table.Snapshot(ctx)
}

func (t *FileTable) refresh() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshLocked()
}

func (t *FileTable) refreshLocked() error {
	info, err := os.Stat(t.path)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrPeerTableUnavailable, err)
	}
	if !t.modTime.IsZero() && info.ModTime().Equal(t.modTime) {
		return nil
	}

	peers, err := readPeerFile(t.path)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrPeerTableUnavailable, err)
	}
	t.table.Update(peers)
	t.modTime = info.ModTime()
	return nil
}

func readPeerFile(path string) ([]core.PeerSighting, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f peerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	peers := make([]core.PeerSighting, 0, len(f.Peers))
	for i, e := range f.Peers {
		rec, err := e.record()
		if err != nil {
			return nil, fmt.Errorf("%s: peer %d: %w", path, i, err)
		}
		lastSeen := e.LastSeen
		if lastSeen == 0 {
			lastSeen = e.Wallclock
		}
		peers = append(peers, core.PeerSighting{Peer: rec, LastSeen: lastSeen})
	}
	return peers, nil
}

func (e peerEntry) record() (core.PeerRecord, error) {
	if e.Identity == "" {
		return core.PeerRecord{}, fmt.Errorf("identity is required")
	}
	rec := core.PeerRecord{
		Identity:     e.Identity,
		ShredVersion: e.ShredVersion,
		Wallclock:    e.Wallclock,
	}
	var err error
	if rec.Gossip, err = parseAddr("gossip", e.Gossip); err != nil {
		return rec, err
	}
	if rec.TVU, err = parseAddr("tvu", e.TVU); err != nil {
		return rec, err
	}
	if rec.TPU, err = parseAddr("tpu", e.TPU); err != nil {
		return rec, err
	}
	return rec, nil
}

func parseAddr(field, s string) (netip.AddrPort, error) {
	if s == "" {
		return netip.AddrPort{}, nil
	}
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return ap, fmt.Errorf("invalid %s address %q: %w", field, s, err)
	}
	return ap, nil
}
