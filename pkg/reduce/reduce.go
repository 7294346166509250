package reduce

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var jsonit = jsoniter.ConfigCompatibleWithStandardLibrary

// Strategy names a reduction strategy declared at one document
// location.
type Strategy string

// Reduction strategies. Append, merge, subtract and sum accumulate
// into the left-hand document; the others select one side. Only merge
// recurses into children.
const (
	// Append concatenates the right-hand array onto the left
	Append = Strategy("append")
	// FirstWriteWins keeps the left-hand value once set
	FirstWriteWins = Strategy("firstWriteWins")
	// LastWriteWins takes the right-hand value
	LastWriteWins = Strategy("lastWriteWins")
	// Maximize keeps the larger value
	Maximize = Strategy("maximize")
	// Merge unions objects and element-wise reduces arrays
	Merge = Strategy("merge")
	// Minimize keeps the smaller value
	Minimize = Strategy("minimize")
	// Subtract subtracts the right-hand number from the left
	Subtract = Strategy("subtract")
	// Sum adds the right-hand number to the left
	Sum = Strategy("sum")
)

// ParseStrategy parses a strategy name
func ParseStrategy(value string) (Strategy, error) {
	switch Strategy(value) {
	case Append, FirstWriteWins, LastWriteWins, Maximize, Merge, Minimize, Subtract, Sum:
		return Strategy(value), nil
	}

	return "", fmt.Errorf("unknown reduction strategy (%s)", value)
}

// Idempotent returns true if re-applying the same right-hand document
// cannot change the reduced result. Accumulating strategies are not:
// under a non-transactional sink a replayed document is counted again.
func (s Strategy) Idempotent() bool {
	switch s {
	case Append, Subtract, Sum:
		return false
	}

	return true
}

// Reducer folds right-hand documents into a left-hand document, using
// the strategy declared at each JSON pointer location. An unannotated
// location inherits last-write-wins.
type Reducer struct {
	strategies map[string]Strategy
}

// NewReducer builds a reducer from location -> strategy-name
// annotations. The empty pointer annotates the document root.
func NewReducer(annotations map[string]string) (*Reducer, error) {
	strategies := make(map[string]Strategy, len(annotations))
	for ptr, name := range annotations {
		s, err := ParseStrategy(name)
		if err != nil {
			return nil, fmt.Errorf("at %q: %s", ptr, err)
		}
		strategies[ptr] = s
	}

	return &Reducer{strategies: strategies}, nil
}

// StrategyAt returns the strategy declared at the pointer, defaulting
// to last-write-wins.
func (r *Reducer) StrategyAt(ptr string) Strategy {
	if s, ok := r.strategies[ptr]; ok {
		return s
	}

	return LastWriteWins
}

// Reduce folds the delta document into the base document and returns
// the reduced serialization. The base is unchanged on error.
func (r *Reducer) Reduce(base, delta []byte) ([]byte, error) {
	var lhs, rhs interface{}
	if err := jsonit.Unmarshal(base, &lhs); err != nil {
		return nil, fmt.Errorf("parse base document failed with %+v", err)
	}
	if err := jsonit.Unmarshal(delta, &rhs); err != nil {
		return nil, fmt.Errorf("parse delta document failed with %+v", err)
	}

	value, err := r.reduceValue("", lhs, rhs)
	if err != nil {
		return nil, err
	}

	return jsonit.Marshal(value)
}

func (r *Reducer) reduceValue(ptr string, lhs, rhs interface{}) (interface{}, error) {
	switch r.StrategyAt(ptr) {
	case LastWriteWins:
		return rhs, nil
	case FirstWriteWins:
		if lhs == nil {
			return rhs, nil
		}
		return lhs, nil
	case Sum:
		return reduceNumbers(ptr, lhs, rhs, false)
	case Subtract:
		return reduceNumbers(ptr, lhs, rhs, true)
	case Minimize:
		return reduceCompare(ptr, lhs, rhs, -1)
	case Maximize:
		return reduceCompare(ptr, lhs, rhs, 1)
	case Append:
		return reduceAppend(ptr, lhs, rhs)
	case Merge:
		return r.reduceMerge(ptr, lhs, rhs)
	}

	return rhs, nil
}

func reduceNumbers(ptr string, lhs, rhs interface{}, negate bool) (interface{}, error) {
	l, err := asNumber(ptr, lhs)
	if err != nil {
		return nil, err
	}
	d, err := asNumber(ptr, rhs)
	if err != nil {
		return nil, err
	}

	if negate {
		return l - d, nil
	}

	return l + d, nil
}

func asNumber(ptr string, value interface{}) (float64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	}

	return 0, fmt.Errorf("expected a number at %q, got %T", ptr, value)
}

func reduceCompare(ptr string, lhs, rhs interface{}, keep int) (interface{}, error) {
	if lhs == nil {
		return rhs, nil
	}
	if rhs == nil {
		return lhs, nil
	}

	c, err := compareValues(ptr, lhs, rhs)
	if err != nil {
		return nil, err
	}

	if c*keep > 0 {
		return lhs, nil
	}

	return rhs, nil
}

func compareValues(ptr string, lhs, rhs interface{}) (int, error) {
	switch l := lhs.(type) {
	case float64:
		v, ok := rhs.(float64)
		if !ok {
			return 0, fmt.Errorf("cannot compare number and %T at %q", rhs, ptr)
		}
		switch {
		case l < v:
			return -1, nil
		case l > v:
			return 1, nil
		}
		return 0, nil
	case string:
		v, ok := rhs.(string)
		if !ok {
			return 0, fmt.Errorf("cannot compare string and %T at %q", rhs, ptr)
		}
		return strings.Compare(l, v), nil
	}

	return 0, fmt.Errorf("cannot compare %T at %q", lhs, ptr)
}

func reduceAppend(ptr string, lhs, rhs interface{}) (interface{}, error) {
	r, ok := rhs.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected an array to append at %q, got %T", ptr, rhs)
	}

	switch l := lhs.(type) {
	case nil:
		return append([]interface{}{}, r...), nil
	case []interface{}:
		return append(l, r...), nil
	}

	return nil, fmt.Errorf("expected an array to append onto at %q, got %T", ptr, lhs)
}

func (r *Reducer) reduceMerge(ptr string, lhs, rhs interface{}) (interface{}, error) {
	switch right := rhs.(type) {
	case map[string]interface{}:
		left, ok := lhs.(map[string]interface{})
		if !ok {
			if lhs == nil {
				left = make(map[string]interface{})
			} else {
				return rhs, nil
			}
		}

		out := make(map[string]interface{}, len(left)+len(right))
		for k, v := range left {
			out[k] = v
		}
		for k, v := range right {
			if prior, ok := out[k]; ok {
				child := ptr + "/" + escapePointerToken(k)
				// children of a merge keep merging unless annotated
				reduced, err := r.mergeChild(child, prior, v)
				if err != nil {
					return nil, err
				}
				out[k] = reduced
			} else {
				out[k] = v
			}
		}
		return out, nil

	case []interface{}:
		left, ok := lhs.([]interface{})
		if !ok {
			if lhs == nil {
				left = nil
			} else {
				return rhs, nil
			}
		}

		out := make([]interface{}, 0, max(len(left), len(right)))
		for i := range right {
			child := fmt.Sprintf("%s/%d", ptr, i)
			if i < len(left) {
				reduced, err := r.mergeChild(child, left[i], right[i])
				if err != nil {
					return nil, err
				}
				out = append(out, reduced)
			} else {
				out = append(out, right[i])
			}
		}
		if len(left) > len(right) {
			out = append(out, left[len(right):]...)
		}
		return out, nil
	}

	return rhs, nil
}

func (r *Reducer) mergeChild(ptr string, lhs, rhs interface{}) (interface{}, error) {
	if _, ok := r.strategies[ptr]; ok {
		return r.reduceValue(ptr, lhs, rhs)
	}

	switch rhs.(type) {
	case map[string]interface{}, []interface{}:
		return r.reduceMerge(ptr, lhs, rhs)
	}

	return rhs, nil
}

func escapePointerToken(token string) string {
	token = strings.Replace(token, "~", "~0", -1)
	return strings.Replace(token, "/", "~1", -1)
}

func max(a, b int) int {
	if a > b {
		return a
	}

	return b
}
