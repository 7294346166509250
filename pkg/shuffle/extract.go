package shuffle

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/infinivision/sluice/pkg/meta"
	jsoniter "github.com/json-iterator/go"
)

// UUIDPtr is the location of the identity inside every document
const UUIDPtr = "/_meta/uuid"

// key component tags. Values pack in tag order so that equal keys
// pack to equal bytes regardless of the producing store.
const (
	tagFalse  = byte(0x01)
	tagTrue   = byte(0x02)
	tagInt    = byte(0x03)
	tagString = byte(0x04)
)

// ExtractUUID returns the document identity at /_meta/uuid. Documents
// not stamped with a v1 UUID are rejected.
func ExtractUUID(doc []byte) (meta.UUIDParts, error) {
	any := jsoniter.Get(doc, "_meta", "uuid")
	if any.ValueType() != jsoniter.StringValue {
		return meta.UUIDParts{}, fmt.Errorf("missing document UUID at %s", UUIDPtr)
	}

	value, err := uuid.Parse(any.ToString())
	if err != nil {
		return meta.UUIDParts{}, fmt.Errorf("parse document UUID failed with %+v", err)
	}

	parts, ok := meta.DecomposeUUID(value)
	if !ok {
		return meta.UUIDParts{}, fmt.Errorf("not a v1 UUID (%s)", value)
	}

	return parts, nil
}

// Extractor packs the shuffle key of documents from the configured
// JSON pointer locations. Only strings, integers and booleans are
// supported as key components, a missing or higher typed location is
// a per-document error.
type Extractor struct {
	ptrs   []string
	tokens [][]string
}

// NewExtractor returns a extractor of the shuffle key locations
func NewExtractor(ptrs ...string) (*Extractor, error) {
	if len(ptrs) == 0 {
		return nil, fmt.Errorf("expected at least one ShuffleKeyPtr")
	}

	e := &Extractor{ptrs: ptrs}
	for _, ptr := range ptrs {
		tokens, err := parsePointer(ptr)
		if err != nil {
			return nil, err
		}
		e.tokens = append(e.tokens, tokens)
	}

	return e, nil
}

// ExtractKey appends the packed shuffle key of the document to buf
// and returns the extended buf
func (e *Extractor) ExtractKey(doc []byte, buf []byte) ([]byte, error) {
	for i, tokens := range e.tokens {
		any := valueAt(doc, tokens)

		switch any.ValueType() {
		case jsoniter.BoolValue:
			if any.ToBool() {
				buf = append(buf, tagTrue)
			} else {
				buf = append(buf, tagFalse)
			}
		case jsoniter.NumberValue:
			v := any.ToInt64()
			if float64(v) != any.ToFloat64() {
				return nil, fmt.Errorf("unsupported shuffle key at %s, fractional number", e.ptrs[i])
			}
			buf = append(buf, tagInt)
			buf = appendInt64(buf, v)
		case jsoniter.StringValue:
			s := any.ToString()
			buf = append(buf, tagString)
			buf = appendUvarint(buf, uint64(len(s)))
			buf = append(buf, s...)
		case jsoniter.InvalidValue:
			return nil, fmt.Errorf("%s (%s)", meta.ErrMissingKey, e.ptrs[i])
		default:
			return nil, fmt.Errorf("unsupported shuffle key at %s, expected a string, integer or boolean", e.ptrs[i])
		}
	}

	return buf, nil
}

// KeySignature returns the component type tags of a packed shuffle
// key, booleans collapsed to one tag. Transforms of one derivation
// index the same registers, so their keys must agree on component
// types, the worker halts a transform whose signature diverges.
func KeySignature(key []byte) ([]byte, error) {
	var sig []byte
	for i := 0; i < len(key); {
		tag := key[i]
		i++

		switch tag {
		case tagFalse, tagTrue:
			sig = append(sig, tagTrue)
		case tagInt:
			sig = append(sig, tagInt)
			i += 8
		case tagString:
			sig = append(sig, tagString)
			n, read := binary.Uvarint(key[i:])
			if read <= 0 {
				return nil, fmt.Errorf("malformed packed key")
			}
			i += read + int(n)
		default:
			return nil, fmt.Errorf("malformed packed key, unknown tag %d", tag)
		}

		if i > len(key) {
			return nil, fmt.Errorf("malformed packed key")
		}
	}

	return sig, nil
}

func valueAt(doc []byte, tokens []string) jsoniter.Any {
	any := jsoniter.Get(doc)
	for _, token := range tokens {
		if any.ValueType() == jsoniter.ArrayValue {
			if idx, err := strconv.Atoi(token); err == nil {
				any = any.Get(idx)
				continue
			}
		}
		any = any.Get(token)
	}

	return any
}

func parsePointer(ptr string) ([]string, error) {
	if len(ptr) == 0 || ptr[0] != '/' {
		return nil, fmt.Errorf("invalid shuffle key pointer (%s)", ptr)
	}

	tokens := strings.Split(ptr[1:], "/")
	for i, token := range tokens {
		token = strings.Replace(token, "~1", "/", -1)
		tokens[i] = strings.Replace(token, "~0", "~", -1)
	}

	return tokens, nil
}

// signed values bias so that packed bytes order as the values do
func appendInt64(buf []byte, v int64) []byte {
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], uint64(v)^(1<<63))
	return append(buf, scratch[:]...)
}

func appendUvarint(buf []byte, v uint64) []byte {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], v)
	return append(buf, scratch[:n]...)
}
