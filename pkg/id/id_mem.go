package id

import (
	"sync/atomic"
)

type memGenerator struct {
	token uint64
}

func (g *memGenerator) Gen() (uint64, error) {
	return atomic.AddUint64(&g.token, 1), nil
}
