package peers

import (
	"sort"
	"sync"
	"time"
)

// NodeInfo is what the sync manager knows about a reachable peer.
type NodeInfo struct {
	ID       string
	Address  string
	Moniker  string
	LastSeen time.Time
}

// Discovery reports the active peers of a static PeerSet. A peer is active
// unless it failed to answer less than quarantine ago and has not been heard
// from since.
type Discovery struct {
	sync.RWMutex

	peerSet    *PeerSet
	self       string
	quarantine time.Duration

	lastSeen map[string]time.Time
	downAt   map[string]time.Time

	now func() time.Time
}

// NewDiscovery ...
func NewDiscovery(peerSet *PeerSet, self string, quarantine time.Duration) *Discovery {
	return &Discovery{
		peerSet:    peerSet,
		self:       self,
		quarantine: quarantine,
		lastSeen:   make(map[string]time.Time),
		downAt:     make(map[string]time.Time),
		now:        time.Now,
	}
}

// PeerSet ...
func (d *Discovery) PeerSet() *PeerSet {
	d.RLock()
	defer d.RUnlock()
	return d.peerSet
}

// SetPeerSet swaps the peer set, keeping liveness of the peers that remain.
func (d *Discovery) SetPeerSet(ps *PeerSet) {
	d.Lock()
	defer d.Unlock()
	d.peerSet = ps
}

// MarkSeen records a successful exchange with a peer.
func (d *Discovery) MarkSeen(id string) {
	d.Lock()
	defer d.Unlock()
	d.lastSeen[id] = d.now()
	delete(d.downAt, id)
}

// MarkDown records a failed exchange with a peer.
func (d *Discovery) MarkDown(id string) {
	d.Lock()
	defer d.Unlock()
	d.downAt[id] = d.now()
}

// ActiveNodes returns the reachable peers, excluding this node, sorted by id.
func (d *Discovery) ActiveNodes() []NodeInfo {
	d.RLock()
	defer d.RUnlock()

	now := d.now()
	res := []NodeInfo{}
	for _, p := range d.peerSet.Peers {
		id := p.NodeID()
		if id == d.self {
			continue
		}
		if down, ok := d.downAt[id]; ok && now.Sub(down) < d.quarantine {
			continue
		}
		res = append(res, NodeInfo{
			ID:       id,
			Address:  p.NetAddr,
			Moniker:  p.Moniker,
			LastSeen: d.lastSeen[id],
		})
	}

	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })

	return res
}
