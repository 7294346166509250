package meta

import (
	"github.com/infinivision/prophet"
)

// Shard is the unit of placement: one member slot of a derivation
// ring, replicated across store processes. Version is bumped on every
// peer or span change. Begin/End is the shard's key-hash span; a zero
// End means the full space.
type Shard struct {
	ID           uint64         `json:"id"`
	Derivation   string         `json:"derivation"`
	Index        uint32         `json:"index"`
	Begin        uint32         `json:"begin,omitempty"`
	End          uint32         `json:"end,omitempty"`
	Version      uint64         `json:"version"`
	Peers        []prophet.Peer `json:"peers,omitempty"`
	DisableSplit bool           `json:"disableSplit,omitempty"`
}

// Clone returns a deep copy of the shard
func (s Shard) Clone() Shard {
	value := s
	value.Peers = make([]prophet.Peer, len(s.Peers))
	copy(value.Peers, s.Peers)
	return value
}

// GetPeer returns the peer on the store, and false when absent
func (s Shard) GetPeer(storeID uint64) (prophet.Peer, bool) {
	for _, p := range s.Peers {
		if p.ContainerID == storeID {
			return p, true
		}
	}

	return prophet.Peer{}, false
}

// StoreMeta is the store process metadata exchanged with the scheduler
type StoreMeta struct {
	ID         uint64            `json:"id"`
	Addr       string            `json:"addr"`
	ClientAddr string            `json:"clientAddr"`
	Labels     map[string]string `json:"labels,omitempty"`
}
