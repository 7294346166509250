package sharding

import (
	"fmt"
	"sort"
	"sync"

	"github.com/infinivision/sluice/pkg/derive"
	"github.com/infinivision/sluice/pkg/meta"
)

// States returns the state of every member of the derivation served
// by this store
func (s *store) States(derivation string) ([]derive.DerivationState, error) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var states []derive.DerivationState
	var firstErr error

	s.ForeachReplicate(func(pr *PeerReplicate) bool {
		if pr.ShardMeta().Derivation != derivation {
			return true
		}

		wg.Add(1)
		pr.Worker().State(func(state derive.DerivationState, err error) {
			mu.Lock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
			} else {
				states = append(states, state)
			}
			mu.Unlock()
			wg.Done()
		})
		return true
	})

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].Index < states[j].Index
	})
	return states, nil
}

// Manual applies an operator action to the halted transform on every
// leader member of the derivation served by this store
func (s *store) Manual(manual meta.Manual) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	applied := false

	s.ForeachReplicate(func(pr *PeerReplicate) bool {
		if pr.ShardMeta().Derivation != manual.Derivation || !pr.IsLeader() {
			return true
		}

		applied = true
		wg.Add(1)
		pr.Worker().Manual(manual, func(err error) {
			mu.Lock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			wg.Done()
		})
		return true
	})

	wg.Wait()
	if firstErr != nil {
		return firstErr
	}

	if !applied {
		return fmt.Errorf("derivation %s has no leader member on this store", manual.Derivation)
	}

	return nil
}

// Shards returns the shards served by this store
func (s *store) Shards() []meta.Shard {
	var shards []meta.Shard
	s.ForeachReplicate(func(pr *PeerReplicate) bool {
		shards = append(shards, pr.ShardMeta())
		return true
	})

	sort.Slice(shards, func(i, j int) bool {
		return shards[i].ID < shards[j].ID
	})
	return shards
}
