package derive

// TransformState is the queryable state of one transform on a member
type TransformState struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Offset    int64  `json:"offset"`
	Pending   int    `json:"pending"`
	HaltError string `json:"haltError,omitempty"`
	HaltAt    int64  `json:"haltAt,omitempty"`
}

// DerivationState is the queryable state of one derivation member
type DerivationState struct {
	Derivation string           `json:"derivation"`
	Shard      uint64           `json:"shard"`
	Index      uint32           `json:"index"`
	Leader     bool             `json:"leader"`
	Token      uint64           `json:"token"`
	Transforms []TransformState `json:"transforms,omitempty"`
}
