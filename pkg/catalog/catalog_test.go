package catalog

import (
	"fmt"
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

var testCatalog = `
collections:
- name: movements
  key: ["/id"]
- name: balances
  key: ["/account"]
  derivation:
    members: 2
    register:
      initial: "0"
    transforms:
    - name: fromMovements
      source: movements
      shuffleKey: ["/from"]
      update:
        remote: http://127.0.0.1:9000/update
      publish:
        remote: http://127.0.0.1:9000/publish
`

func TestParse(t *testing.T) {
	spec, err := Parse([]byte(testCatalog))
	assert.Nilf(t, err, "parse catalog failed with %+v", err)
	assert.Equal(t, 2, len(spec.Collections), "check collections count failed")

	c, ok := spec.Collection("balances")
	assert.True(t, ok, "check balances collection failed")
	assert.NotNil(t, c.Derivation, "check balances derivation failed")
	assert.Equal(t, 2, c.Derivation.RingSize(), "check ring size failed")
	assert.Equal(t, []byte("0"), c.Derivation.Register.InitialValue(), "check register initial failed")
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte("collections: ["))
	assert.NotNil(t, err, "check malformed yaml failed")
}

func TestParseValidation(t *testing.T) {
	value := `
collections:
- name: movements
`
	_, err := Parse([]byte(value))
	assert.NotNil(t, err, "check validation failed")
	assert.Contains(t, err.Error(), "Collections[0]", "check error context failed")
}

func TestParseUnknownSource(t *testing.T) {
	value := `
collections:
- name: balances
  key: ["/account"]
  derivation:
    transforms:
    - name: fromMovements
      source: movements
      update:
        remote: http://127.0.0.1:9000/update
`
	_, err := Parse([]byte(value))
	assert.NotNil(t, err, "check unknown source failed")
	assert.Contains(t, err.Error(), "unknown collection", "check unknown source error failed")
}

func TestParseCycle(t *testing.T) {
	value := `
collections:
- name: pings
  key: ["/id"]
  derivation:
    transforms:
    - name: fromPongs
      source: pongs
      update:
        remote: http://127.0.0.1:9000/update
- name: pongs
  key: ["/id"]
  derivation:
    transforms:
    - name: fromPings
      source: pings
      update:
        remote: http://127.0.0.1:9000/update
`
	_, err := Parse([]byte(value))
	assert.NotNil(t, err, "check cycle failed")
	assert.Contains(t, err.Error(), "cyclic derivation sources", "check cycle error failed")
}

func TestParseSelfSource(t *testing.T) {
	value := `
collections:
- name: edges
  key: ["/id"]
- name: reachable
  key: ["/node"]
  derivation:
    transforms:
    - name: fromEdges
      source: edges
      update:
        remote: http://127.0.0.1:9000/update
    - name: fromSelf
      source: reachable
      update:
        remote: http://127.0.0.1:9000/update
`
	_, err := Parse([]byte(value))
	assert.Nilf(t, err, "check self source failed with %+v", err)
}

func TestParseLambdaEndpoints(t *testing.T) {
	value := `
collections:
- name: movements
  key: ["/id"]
- name: balances
  key: ["/account"]
  derivation:
    transforms:
    - name: fromMovements
      source: movements
      update:
        %s
`
	_, err := Parse([]byte(fmt.Sprintf(value, "builtin: test-catalog-noop")))
	assert.Nilf(t, err, "check builtin lambda failed with %+v", err)

	_, err = Parse([]byte(fmt.Sprintf(value, "remote: ftp://127.0.0.1/update")))
	assert.NotNil(t, err, "check bad remote endpoint failed")
	assert.Contains(t, err.Error(), "not a http(s) endpoint", "check remote endpoint error failed")
}

func TestLoad(t *testing.T) {
	f, err := ioutil.TempFile("", "catalog-*.yaml")
	assert.Nilf(t, err, "create temp catalog failed with %+v", err)
	defer os.Remove(f.Name())

	_, err = f.WriteString(testCatalog)
	assert.Nilf(t, err, "write temp catalog failed with %+v", err)
	f.Close()

	spec, err := Load(f.Name())
	assert.Nilf(t, err, "load catalog failed with %+v", err)
	assert.Equal(t, 2, len(spec.Collections), "check loaded collections failed")

	_, err = Load(f.Name() + "-missing")
	assert.NotNil(t, err, "check load missing file failed")
}

func TestCatalogKey(t *testing.T) {
	reg := NewRegistry(nil, WithPrefix("/test/catalog"), WithGroup("prod"))
	assert.Equal(t, "/test/catalog/prod", reg.catalogKey(), "check catalog key failed")

	reg = NewRegistry(nil)
	assert.Equal(t, "/sluice/catalog/default", reg.catalogKey(), "check default catalog key failed")
}
