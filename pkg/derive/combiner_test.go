package derive

import (
	"testing"

	"github.com/infinivision/sluice/pkg/reduce"
	"github.com/stretchr/testify/assert"
)

func TestCombinerFoldsByKey(t *testing.T) {
	reducer, err := reduce.NewReducer(map[string]string{
		"":       "merge",
		"/total": "sum",
	})
	assert.NoErrorf(t, err, "new reducer failed with %+v", err)

	c, err := NewCombiner([]string{"/account"}, reducer)
	assert.NoErrorf(t, err, "new combiner failed with %+v", err)

	assert.NoError(t, c.Add([]byte(`{"account":"bob","total":5}`)), "add bob")
	assert.NoError(t, c.Add([]byte(`{"account":"alice","total":10}`)), "add alice")
	assert.NoError(t, c.Add([]byte(`{"account":"alice","total":-3}`)), "add alice again")
	assert.Equal(t, 2, c.Len(), "check combined count")

	values := c.Drain()
	assert.Equal(t, 2, len(values), "check drained count")

	// drained in packed key order
	assert.JSONEq(t, `{"account":"alice","total":7}`, string(values[0]), "check alice")
	assert.JSONEq(t, `{"account":"bob","total":5}`, string(values[1]), "check bob")

	assert.Equal(t, 0, c.Len(), "check cleared")
}

func TestCombinerRejectsMissingKey(t *testing.T) {
	reducer, err := reduce.NewReducer(nil)
	assert.NoErrorf(t, err, "new reducer failed with %+v", err)

	c, err := NewCombiner([]string{"/account"}, reducer)
	assert.NoErrorf(t, err, "new combiner failed with %+v", err)

	assert.Error(t, c.Add([]byte(`{"user":"alice"}`)), "check missing key")
}
