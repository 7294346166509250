package registers

import (
	"fmt"
	"sync"

	"github.com/fagongzi/util/json"
	"github.com/infinivision/sluice/pkg/local"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/infinivision/sluice/pkg/reduce"
	jsoniter "github.com/json-iterator/go"
)

// Option registers store option
type Option func(*options)

type options struct {
	initial  []byte
	validate func(value []byte) error
}

func (opts *options) adjust() {
	if len(opts.initial) == 0 {
		opts.initial = []byte("null")
	}
}

// WithInitial set the value read for a register that has never been written
func WithInitial(value []byte) Option {
	return func(opts *options) {
		opts.initial = value
	}
}

// WithValidator set a validator applied to every reduced register value
func WithValidator(validate func(value []byte) error) Option {
	return func(opts *options) {
		opts.validate = validate
	}
}

type entry struct {
	value []byte
	prior []byte
	dirty bool
}

// Store maintains the registers of one shard over a local storage.
// Registers are keyed by the packed shuffle key of their source
// documents. Mutations accumulate in memory and reach the local
// storage only through Prepare, which writes the dirty registers and
// the read checkpoint in one atomic batch, so registers and read
// progress cannot diverge across a restart.
type Store struct {
	sync.Mutex

	opts    options
	sid     uint64
	local   local.Storage
	reducer *reduce.Reducer
	cache   map[string]*entry
	dirties map[string]struct{}
}

// NewStore returns a register store of the shard
func NewStore(sid uint64, ls local.Storage, reducer *reduce.Reducer, opts ...Option) *Store {
	s := &Store{
		sid:     sid,
		local:   ls,
		reducer: reducer,
		cache:   make(map[string]*entry),
		dirties: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(&s.opts)
	}
	s.opts.adjust()

	return s
}

// Restore clears the cache and returns the checkpoint of the last
// prepared batch, or a empty checkpoint if none was ever prepared.
// Call it when the shard becomes leader and after a failed apply.
func (s *Store) Restore() (meta.Checkpoint, error) {
	s.Lock()
	defer s.Unlock()

	s.cache = make(map[string]*entry)
	s.dirties = make(map[string]struct{})

	cp := meta.NewCheckpoint()
	value, err := s.local.Get(getCheckpointKey(s.sid))
	if err != nil {
		return cp, err
	}
	if len(value) > 0 {
		if jsoniter.Unmarshal(value, &cp) != nil {
			return meta.NewCheckpoint(), meta.ErrStorageCorrupt
		}
	}

	return cp, nil
}

// Read returns the current values of the keys. A mutated register
// reads its reduced value even before Prepare, a register never
// written reads the initial value.
func (s *Store) Read(keys ...[]byte) ([][]byte, error) {
	s.Lock()
	defer s.Unlock()

	values := make([][]byte, 0, len(keys))
	for _, key := range keys {
		e, err := s.load(key)
		if err != nil {
			return nil, err
		}

		values = append(values, e.value)
	}

	return values, nil
}

// Reduce folds the deltas into the register of the key, marking it
// dirty for the next Prepare. The first mutation since the last
// Prepare or Rollback snapshots the prior value. On a reduce or
// validation error the register keeps the partial result, call
// Rollback to restore every prior value.
func (s *Store) Reduce(key []byte, deltas ...[]byte) error {
	s.Lock()
	defer s.Unlock()

	e, err := s.load(key)
	if err != nil {
		return err
	}

	if !e.dirty {
		e.prior = e.value
		e.dirty = true
		s.dirties[string(key)] = struct{}{}
	}

	for _, delta := range deltas {
		value, err := s.reducer.Reduce(e.value, delta)
		if err != nil {
			return err
		}
		if s.opts.validate != nil {
			if err := s.opts.validate(value); err != nil {
				return err
			}
		}

		e.value = value
	}

	return nil
}

// Rollback restores every register mutated since the last Prepare to
// its prior value
func (s *Store) Rollback() {
	s.Lock()
	defer s.Unlock()

	for key := range s.dirties {
		e := s.cache[key]
		e.value = e.prior
		e.prior = nil
		e.dirty = false
	}
	s.dirties = make(map[string]struct{})
}

// Prepare writes every dirty register and the checkpoint to the local
// storage in one atomic batch and starts the next transaction
func (s *Store) Prepare(cp meta.Checkpoint) error {
	s.Lock()
	defer s.Unlock()

	pairs := make([][]byte, 0, 2+2*len(s.dirties))
	pairs = append(pairs, getCheckpointKey(s.sid), json.MustMarshal(&cp))
	for key := range s.dirties {
		e := s.cache[key]
		pairs = append(pairs, getRegisterKey(s.sid, []byte(key)), e.value)
	}

	if err := s.local.BatchSet(pairs...); err != nil {
		return err
	}

	for key := range s.dirties {
		e := s.cache[key]
		e.prior = nil
		e.dirty = false
	}
	s.dirties = make(map[string]struct{})

	return nil
}

// Count returns the count of registers in the local storage
func (s *Store) Count() (int, error) {
	c := 0
	err := s.local.Range(getRegisterPrefix(s.sid), 0, func(key, value []byte) bool {
		c++
		return true
	})
	if err != nil {
		return 0, err
	}

	return c, nil
}

// SizeEstimate returns the estimated byte size of the shard registers
func (s *Store) SizeEstimate() (uint64, error) {
	return s.local.SizeEstimate(getShardPrefix(s.sid))
}

// Move copies every stored register admitted by the filter under the
// target shard and removes it from this shard, returning the moved
// count. The current checkpoint is copied under the target as well,
// so the new shard resumes reading exactly where this one stopped.
// Used when a shard splits. Dirty registers must be prepared or
// rolled back first.
func (s *Store) Move(target uint64, admits func(key []byte) bool) (int, error) {
	s.Lock()
	defer s.Unlock()

	if len(s.dirties) > 0 {
		return 0, fmt.Errorf("move with %d dirty registers", len(s.dirties))
	}

	var pairs [][]byte
	var removes [][]byte

	cp, err := s.local.Get(getCheckpointKey(s.sid))
	if err != nil {
		return 0, err
	}
	if len(cp) > 0 {
		pairs = append(pairs, getCheckpointKey(target), cp)
	}
	prefix := getRegisterPrefix(s.sid)
	err = s.local.Range(prefix, 0, func(key, value []byte) bool {
		raw := key[len(prefix):]
		if admits(raw) {
			pairs = append(pairs,
				getRegisterKey(target, raw),
				append([]byte(nil), value...))
			removes = append(removes, append([]byte(nil), key...))
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if len(pairs) == 0 {
		return 0, nil
	}

	if err := s.local.BatchSet(pairs...); err != nil {
		return 0, err
	}
	if len(removes) > 0 {
		if err := s.local.BatchRemove(removes...); err != nil {
			return 0, err
		}
	}

	for _, key := range removes {
		delete(s.cache, string(key[len(prefix):]))
	}

	return len(removes), nil
}

func (s *Store) load(key []byte) (*entry, error) {
	if e, ok := s.cache[string(key)]; ok {
		return e, nil
	}

	value, err := s.local.Get(getRegisterKey(s.sid, key))
	if err != nil {
		return nil, err
	}
	if len(value) == 0 {
		value = append([]byte(nil), s.opts.initial...)
	}

	e := &entry{value: value}
	s.cache[string(key)] = e
	return e, nil
}
