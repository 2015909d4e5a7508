package replication

import (
	"time"
)

// PeerState is what the Manager remembers about syncing with one peer.
type PeerState struct {
	LastSync       time.Time
	LastAttempt    time.Time
	PendingUpdates int
	FailedAttempts int
	LastError      string
}

func (m *Manager) peerState(id string) PeerState {
	m.peersLock.RLock()
	defer m.peersLock.RUnlock()
	if ps, ok := m.peerStates[id]; ok {
		return *ps
	}
	return PeerState{}
}

func (m *Manager) recordSync(id string, started time.Time, pending int, err error) {
	m.peersLock.Lock()
	defer m.peersLock.Unlock()

	ps, ok := m.peerStates[id]
	if !ok {
		ps = &PeerState{}
		m.peerStates[id] = ps
	}

	ps.LastAttempt = started
	ps.PendingUpdates = pending
	if err != nil {
		ps.FailedAttempts++
		ps.LastError = err.Error()
		return
	}
	ps.LastSync = started
	ps.FailedAttempts = 0
	ps.LastError = ""
}

// PeerStates returns a copy of the per-peer sync state.
func (m *Manager) PeerStates() map[string]PeerState {
	m.peersLock.RLock()
	defer m.peersLock.RUnlock()

	res := make(map[string]PeerState, len(m.peerStates))
	for id, ps := range m.peerStates {
		res[id] = *ps
	}
	return res
}

func (m *Manager) prunePeerStates(before time.Time) int {
	m.peersLock.Lock()
	defer m.peersLock.Unlock()

	n := 0
	for id, ps := range m.peerStates {
		if ps.LastAttempt.Before(before) {
			delete(m.peerStates, id)
			n++
		}
	}
	return n
}
