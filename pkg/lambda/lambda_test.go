package lambda

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/infinivision/sluice/pkg/meta"
	"github.com/stretchr/testify/assert"
)

func TestRegisterBuiltin(t *testing.T) {
	err := RegisterBuiltin("test-reg", func(source, before, after []byte) ([]json.RawMessage, error) {
		return nil, nil
	})
	assert.NoErrorf(t, err, "register builtin failed with %+v", err)

	err = RegisterBuiltin("test-reg", func(source, before, after []byte) ([]json.RawMessage, error) {
		return nil, nil
	})
	assert.Errorf(t, err, "check duplicated builtin failed")

	_, err = NewBuiltin("test-missing")
	assert.Errorf(t, err, "check missing builtin failed")
}

func TestBuiltinInvoke(t *testing.T) {
	err := RegisterBuiltin("test-echo", func(source, before, after []byte) ([]json.RawMessage, error) {
		out := json.RawMessage(fmt.Sprintf(`{"src":%s,"before":%s,"after":%s}`,
			source, before, after))
		return []json.RawMessage{out}, nil
	})
	assert.NoErrorf(t, err, "register builtin failed with %+v", err)

	l, err := NewBuiltin("test-echo")
	assert.NoErrorf(t, err, "new builtin failed with %+v", err)

	rows, err := l.Invoke(context.Background(),
		[][]byte{[]byte(`1`), []byte(`2`)},
		[][]byte{[]byte(`10`), []byte(`20`)},
		[][]byte{[]byte(`11`), []byte(`21`)})
	assert.NoErrorf(t, err, "invoke failed with %+v", err)
	assert.Equal(t, 2, len(rows), "check rows len failed")
	assert.Equal(t, `{"src":1,"before":10,"after":11}`, string(rows[0][0]), "check row failed")
	assert.Equal(t, `{"src":2,"before":20,"after":21}`, string(rows[1][0]), "check row failed")
}

func TestBuiltinInvokeError(t *testing.T) {
	err := RegisterBuiltin("test-fail", func(source, before, after []byte) ([]json.RawMessage, error) {
		return nil, fmt.Errorf("lambda exploded")
	})
	assert.NoErrorf(t, err, "register builtin failed with %+v", err)

	l, err := NewBuiltin("test-fail")
	assert.NoErrorf(t, err, "new builtin failed with %+v", err)

	_, err = l.Invoke(context.Background(), [][]byte{[]byte(`1`)}, nil, nil)
	assert.Errorf(t, err, "check invoke error failed")
}

func TestNew(t *testing.T) {
	_, err := New(meta.LambdaSpec{})
	assert.Errorf(t, err, "check empty spec failed")

	RegisterBuiltin("test-new", func(source, before, after []byte) ([]json.RawMessage, error) {
		return nil, nil
	})

	l, err := New(meta.LambdaSpec{Builtin: "test-new"})
	assert.NoErrorf(t, err, "new lambda failed with %+v", err)
	assert.NotNil(t, l, "check lambda failed")

	l, err = New(meta.LambdaSpec{Remote: "http://127.0.0.1:8080/update"})
	assert.NoErrorf(t, err, "new lambda failed with %+v", err)
	assert.NotNil(t, l, "check lambda failed")
}
