package core

import "net/netip"

// PeerRecord is one entry of the gossip peer table.
type PeerRecord struct {
	Identity     string
	Gossip       netip.AddrPort
	TVU          netip.AddrPort // zero if the peer does not relay shreds
	TPU          netip.AddrPort
	ShredVersion uint16
	Wallclock    uint64 // milliseconds since epoch, as advertised by the peer
}

// HasRelay reports whether the peer advertises a shred relay (TVU) address.
func (p PeerRecord) HasRelay() bool { return p.TVU.IsValid() }

// PeerSighting pairs a peer with the time this node last heard of it.
type PeerSighting struct {
	Peer     PeerRecord
	LastSeen uint64
}
