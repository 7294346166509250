package lambda

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/infinivision/sluice/pkg/meta"
)

// Lambda invokes a pure transformation over a batch of rows. Row i
// joins sources[i] with befores[i] and afters[i], the register values
// around the row's update. Update lambdas are invoked without
// registers. The result holds the output documents of every row, in
// row order.
type Lambda interface {
	Invoke(ctx context.Context, sources, befores, afters [][]byte) ([][]json.RawMessage, error)
}

// GoFunc is a lambda implemented in process, invoked once per row
type GoFunc func(source, before, after []byte) ([]json.RawMessage, error)

// RowError locates a per-row failure within a batch invocation.
// Remote lambdas fail whole batches and cannot produce one.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %+v", e.Row, e.Err)
}

var (
	builtinsMu sync.RWMutex
	builtins   = make(map[string]GoFunc)
)

// RegisterBuiltin registers a in-process lambda under the name,
// usually from a init function of the hosting binary
func RegisterBuiltin(name string, fn GoFunc) error {
	builtinsMu.Lock()
	defer builtinsMu.Unlock()

	if _, ok := builtins[name]; ok {
		return fmt.Errorf("builtin lambda %s already registered", name)
	}

	builtins[name] = fn
	return nil
}

// NewBuiltin returns the registered in-process lambda
func NewBuiltin(name string) (Lambda, error) {
	builtinsMu.RLock()
	fn, ok := builtins[name]
	builtinsMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("builtin lambda %s not registered", name)
	}

	return &goLambda{fn: fn}, nil
}

// New returns the lambda of the spec
func New(spec meta.LambdaSpec, opts ...Option) (Lambda, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	if spec.Builtin != "" {
		return NewBuiltin(spec.Builtin)
	}

	return NewRemote(spec.Remote, opts...), nil
}

type goLambda struct {
	fn GoFunc
}

func (l *goLambda) Invoke(ctx context.Context, sources, befores, afters [][]byte) ([][]json.RawMessage, error) {
	rows := make([][]json.RawMessage, 0, len(sources))
	for i, source := range sources {
		var before, after []byte
		if i < len(befores) {
			before = befores[i]
		}
		if i < len(afters) {
			after = afters[i]
		}

		out, err := l.fn(source, before, after)
		if err != nil {
			return nil, &RowError{Row: i, Err: err}
		}

		rows = append(rows, out)
	}

	return rows, nil
}
