package id

// Generator session token generator. Tokens fence register writes, a
// token must never be generated twice across the stores of a cluster.
type Generator interface {
	Gen() (uint64, error)
}

// NewMemGenerator returns a mem generator, just for test
func NewMemGenerator() Generator {
	return &memGenerator{}
}
