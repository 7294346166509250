package client

import (
	"net/http/httptest"
	"testing"

	"github.com/infinivision/sluice/pkg/api"
	"github.com/infinivision/sluice/pkg/derive"
	"github.com/infinivision/sluice/pkg/id"
	"github.com/infinivision/sluice/pkg/journal"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/stretchr/testify/assert"
)

type testShardAPI struct {
	states  []derive.DerivationState
	manuals []meta.Manual
	shards  []meta.Shard
}

func (t *testShardAPI) States(derivation string) ([]derive.DerivationState, error) {
	return t.states, nil
}

func (t *testShardAPI) Manual(manual meta.Manual) error {
	t.manuals = append(t.manuals, manual)
	return nil
}

func (t *testShardAPI) Shards() []meta.Shard {
	return t.shards
}

func newTestServer(shards *testShardAPI) *httptest.Server {
	cfg := api.Cfg{
		Catalog: meta.CatalogSpec{
			Collections: []meta.CollectionSpec{
				{
					Name: "movements",
					Key:  []string{"/id"},
				},
			},
		},
	}

	s := api.NewServer(cfg, journal.NewMemStore(), shards, id.NewMemGenerator())
	return httptest.NewServer(s.Handler())
}

func TestIngestAndDocuments(t *testing.T) {
	svr := newTestServer(&testShardAPI{})
	defer svr.Close()

	c := NewClient(svr.URL)
	result, err := c.Ingest("movements",
		[]byte(`{"id": "m-1"}`),
		[]byte(`{"id": "m-2"}`))
	assert.Nilf(t, err, "ingest failed with %+v", err)
	assert.Equal(t, int64(2), result.Offset, "check ingest offset failed")
	assert.Equal(t, 2, len(result.UUIDs), "check ingest uuids failed")

	page, err := c.Documents("movements", 0, 10)
	assert.Nilf(t, err, "read documents failed with %+v", err)
	assert.Equal(t, 2, len(page.Documents), "check documents count failed")
	assert.Equal(t, int64(2), page.Next, "check next offset failed")
}

func TestIngestUnknownCollection(t *testing.T) {
	svr := newTestServer(&testShardAPI{})
	defer svr.Close()

	c := NewClient(svr.URL)
	_, err := c.Ingest("missing", []byte(`{}`))
	assert.NotNil(t, err, "check unknown collection failed")
}

func TestStatesAndManual(t *testing.T) {
	shards := &testShardAPI{
		states: []derive.DerivationState{
			{Derivation: "balances", Shard: 1, Leader: true},
		},
	}
	svr := newTestServer(shards)
	defer svr.Close()

	c := NewClient(svr.URL)
	states, err := c.States("balances")
	assert.Nilf(t, err, "states failed with %+v", err)
	assert.Equal(t, 1, len(states), "check states count failed")
	assert.Equal(t, uint64(1), states[0].Shard, "check states shard failed")

	err = c.Resume("balances", "fromMovements")
	assert.Nilf(t, err, "resume failed with %+v", err)
	err = c.Skip("balances", "fromMovements")
	assert.Nilf(t, err, "skip failed with %+v", err)

	assert.Equal(t, 2, len(shards.manuals), "check manual actions failed")
	assert.Equal(t, meta.ManualResume, shards.manuals[0].Action, "check resume action failed")
	assert.Equal(t, meta.ManualSkip, shards.manuals[1].Action, "check skip action failed")
}

func TestCatalogAndShards(t *testing.T) {
	shards := &testShardAPI{
		shards: []meta.Shard{{ID: 1, Derivation: "balances"}},
	}
	svr := newTestServer(shards)
	defer svr.Close()

	c := NewClient(svr.URL)
	spec, err := c.Catalog()
	assert.Nilf(t, err, "catalog failed with %+v", err)
	assert.Equal(t, 1, len(spec.Collections), "check catalog collections failed")

	values, err := c.Shards()
	assert.Nilf(t, err, "shards failed with %+v", err)
	assert.Equal(t, 1, len(values), "check shards count failed")
	assert.Equal(t, uint64(1), values[0].ID, "check shard id failed")
}
