package meta

// LambdaSpec names the execution strategy of one transformation
// lambda: a remote HTTP(S) endpoint invoked with document batches, or
// a builtin function registered in-process. Exactly one must be set.
type LambdaSpec struct {
	Remote  string `json:"remote,omitempty" yaml:"remote,omitempty"`
	Builtin string `json:"builtin,omitempty" yaml:"builtin,omitempty"`
}

// Validate validate
func (l LambdaSpec) Validate() error {
	if (l.Remote == "") == (l.Builtin == "") {
		return NewValidationError("expected one of Remote or Builtin")
	}

	return nil
}

// RegisterSpec governs the derivation's keyed register state: its
// schema (evaluated by the external validator), the value an unwritten
// key reads as, and the reduction strategy at each document location.
type RegisterSpec struct {
	Schema     string            `json:"schema,omitempty" yaml:"schema,omitempty"`
	Initial    string            `json:"initial,omitempty" yaml:"initial,omitempty"`
	Reductions map[string]string `json:"reductions,omitempty" yaml:"reductions,omitempty"`
}

// InitialValue returns the configured initial document, defaulting to
// JSON null.
func (r RegisterSpec) InitialValue() []byte {
	if r.Initial == "" {
		return []byte("null")
	}

	return []byte(r.Initial)
}

// TransformSpec is one transformation of a derivation. Name is stable
// and non-renameable: read progress is keyed by it, so a rename is a
// delete plus create.
type TransformSpec struct {
	Name             string      `json:"name" yaml:"name"`
	Source           string      `json:"source" yaml:"source"`
	SourceSchema     string      `json:"sourceSchema,omitempty" yaml:"sourceSchema,omitempty"`
	ShuffleKey       []string    `json:"shuffleKey,omitempty" yaml:"shuffleKey,omitempty"`
	ReadDelaySeconds uint32      `json:"readDelaySeconds,omitempty" yaml:"readDelaySeconds,omitempty"`
	Priority         uint32      `json:"priority,omitempty" yaml:"priority,omitempty"`
	Update           *LambdaSpec `json:"update,omitempty" yaml:"update,omitempty"`
	Publish          *LambdaSpec `json:"publish,omitempty" yaml:"publish,omitempty"`
	// DropOnError logs and drops a document that fails shuffle key
	// extraction instead of halting the transform
	DropOnError bool `json:"dropOnError,omitempty" yaml:"dropOnError,omitempty"`
}

// Validate validate
func (t TransformSpec) Validate() error {
	if err := ValidateToken(t.Name, minTokenLen, maxTokenLen); err != nil {
		return ExtendContext(err, "Name")
	}

	if err := ValidateToken(t.Source, minTokenLen, maxTokenLen); err != nil {
		return ExtendContext(err, "Source")
	}

	if t.Update == nil && t.Publish == nil {
		return NewValidationError("expected at least one of Update or Publish")
	}

	if t.Update != nil {
		if err := t.Update.Validate(); err != nil {
			return ExtendContext(err, "Update")
		}
	}

	if t.Publish != nil {
		if err := t.Publish.Validate(); err != nil {
			return ExtendContext(err, "Publish")
		}
	}

	return nil
}

// DerivationSpec declares how a collection's documents are derived
// from its source collections.
type DerivationSpec struct {
	// Members is the ring size of the derivation, defaulting to one
	Members    uint32          `json:"members,omitempty" yaml:"members,omitempty"`
	Register   RegisterSpec    `json:"register,omitempty" yaml:"register,omitempty"`
	Transforms []TransformSpec `json:"transforms,omitempty" yaml:"transforms,omitempty"`
}

// Validate validate
func (d DerivationSpec) Validate() error {
	if len(d.Transforms) == 0 {
		return NewValidationError("expected at least one Transform")
	}

	names := make(map[string]struct{}, len(d.Transforms))
	arity := 0
	for i, t := range d.Transforms {
		if err := t.Validate(); err != nil {
			return ExtendContext(err, "Transforms[%d]", i)
		}

		if _, ok := names[t.Name]; ok {
			return ExtendContext(
				NewValidationError("duplicated transform Name (%s)", t.Name),
				"Transforms[%d]", i)
		}
		names[t.Name] = struct{}{}

		// transforms that declare a shuffle key must agree on its arity
		if len(t.ShuffleKey) == 0 {
			continue
		}
		if arity == 0 {
			arity = len(t.ShuffleKey)
		} else if len(t.ShuffleKey) != arity {
			return ExtendContext(
				NewValidationError("shuffle key arity mismatch (%d components vs %d)",
					len(t.ShuffleKey),
					arity),
				"Transforms[%d]", i)
		}
	}

	return nil
}

// RingSize returns the configured member count, defaulting to one
func (d DerivationSpec) RingSize() int {
	if d.Members == 0 {
		return 1
	}

	return int(d.Members)
}

// CollectionSpec declares one collection: its backing journal, its
// document key, and the reduction strategy applied when documents of
// one key are combined. A collection with a Derivation is produced by
// this engine; others are captured externally.
type CollectionSpec struct {
	Name       string            `json:"name" yaml:"name"`
	Key        []string          `json:"key,omitempty" yaml:"key,omitempty"`
	Journal    string            `json:"journal,omitempty" yaml:"journal,omitempty"`
	Schema     string            `json:"schema,omitempty" yaml:"schema,omitempty"`
	Reductions map[string]string `json:"reductions,omitempty" yaml:"reductions,omitempty"`
	Derivation *DerivationSpec   `json:"derivation,omitempty" yaml:"derivation,omitempty"`
}

// Validate validate
func (c CollectionSpec) Validate() error {
	if err := ValidateToken(c.Name, minTokenLen, maxTokenLen); err != nil {
		return ExtendContext(err, "Name")
	}

	if len(c.Key) == 0 {
		return NewValidationError("expected at least one Key pointer")
	}

	if c.Derivation != nil {
		if err := c.Derivation.Validate(); err != nil {
			return ExtendContext(err, "Derivation")
		}
	}

	return nil
}

// JournalName returns the backing journal, defaulting to the
// collection name.
func (c CollectionSpec) JournalName() string {
	if c.Journal == "" {
		return c.Name
	}

	return c.Journal
}

// BuildRing returns the derivation's ring for this collection
func (c CollectionSpec) BuildRing() Ring {
	size := 1
	if c.Derivation != nil {
		size = c.Derivation.RingSize()
	}

	return Ring{
		Name:    c.Name,
		Members: make([]Member, size),
	}
}

// CatalogSpec is a complete catalog of collections and derivations,
// built once and replaced wholesale on redeployment.
type CatalogSpec struct {
	Generation  uint64           `json:"generation,omitempty" yaml:"generation,omitempty"`
	Collections []CollectionSpec `json:"collections,omitempty" yaml:"collections,omitempty"`
}

// Validate validate
func (c CatalogSpec) Validate() error {
	if len(c.Collections) == 0 {
		return NewValidationError("expected at least one Collection")
	}

	names := make(map[string]struct{}, len(c.Collections))
	for i, spec := range c.Collections {
		if err := spec.Validate(); err != nil {
			return ExtendContext(err, "Collections[%d]", i)
		}

		if _, ok := names[spec.Name]; ok {
			return ExtendContext(
				NewValidationError("duplicated collection Name (%s)", spec.Name),
				"Collections[%d]", i)
		}
		names[spec.Name] = struct{}{}
	}

	return nil
}

// Collection returns the named collection spec, and false when absent
func (c CatalogSpec) Collection(name string) (CollectionSpec, bool) {
	for _, spec := range c.Collections {
		if spec.Name == name {
			return spec, true
		}
	}

	return CollectionSpec{}, false
}
