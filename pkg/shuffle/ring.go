package shuffle

import (
	"github.com/infinivision/sluice/pkg/meta"
)

// Router routes shuffled documents of one journal to the members of
// its ring. Routing is pure arithmetic over the validated config, two
// routers built from the same config route identically on any store.
type Router struct {
	cfg    meta.ShuffleConfig
	hashes []uint32
}

// NewRouter returns a router of the shuffle config
func NewRouter(cfg meta.ShuffleConfig) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hashes := make([]uint32, len(cfg.Ring.Members))
	for i := range cfg.Ring.Members {
		hashes[i] = HashString(cfg.Ring.ShardID(i))
	}

	return &Router{
		cfg:    cfg,
		hashes: hashes,
	}, nil
}

// Config returns the validated shuffle config
func (r *Router) Config() meta.ShuffleConfig {
	return r.cfg
}

// Route appends to buf the indexes of the members that must receive
// the document and returns the extended buf. Transaction acknowledge
// documents fan to every member, they carry no key of their own.
// Members whose clock bounds or key span exclude the document are
// skipped.
func (r *Router) Route(shuffleIdx int, keyHash uint32, clock uint64, flags uint16, buf []int) []int {
	buf = buf[:0]

	if flags == meta.FlagAckTxn {
		for i := range r.cfg.Ring.Members {
			buf = append(buf, i)
		}
		return buf
	}

	s := r.cfg.Shuffles[shuffleIdx]
	n := int(s.Fan())

	if s.IsBroadcast() {
		for i, m := range r.cfg.Ring.Members {
			if len(buf) == n {
				break
			}
			if m.AdmitsClock(clock) && m.AdmitsHash(keyHash) {
				buf = append(buf, i)
			}
		}
		return buf
	}

	// rendezvous choice among the first n admitted members
	choice := -1
	best := uint32(0)
	seen := 0
	for i, m := range r.cfg.Ring.Members {
		if seen == n {
			break
		}
		if !m.AdmitsClock(clock) || !m.AdmitsHash(keyHash) {
			continue
		}

		seen++
		if score := r.hashes[i] ^ keyHash; choice == -1 || score > best {
			choice = i
			best = score
		}
	}
	if choice >= 0 {
		buf = append(buf, choice)
	}

	return buf
}
