package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/infinivision/sluice/pkg/derive"
	"github.com/infinivision/sluice/pkg/id"
	"github.com/infinivision/sluice/pkg/journal"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/stretchr/testify/assert"
)

type testShardAPI struct {
	states    []derive.DerivationState
	statesErr error
	manuals   []meta.Manual
	shards    []meta.Shard
}

func (t *testShardAPI) States(derivation string) ([]derive.DerivationState, error) {
	return t.states, t.statesErr
}

func (t *testShardAPI) Manual(manual meta.Manual) error {
	t.manuals = append(t.manuals, manual)
	return nil
}

func (t *testShardAPI) Shards() []meta.Shard {
	return t.shards
}

func newTestServer(shards *testShardAPI) (*Server, journal.Store) {
	journals := journal.NewMemStore()
	cfg := Cfg{
		Addr: "127.0.0.1:0",
		Catalog: meta.CatalogSpec{
			Collections: []meta.CollectionSpec{
				{
					Name: "movements",
					Key:  []string{"/id"},
				},
				{
					Name: "balances",
					Key:  []string{"/account"},
					Derivation: &meta.DerivationSpec{
						Transforms: []meta.TransformSpec{
							{
								Name:   "fromMovements",
								Source: "movements",
							},
						},
					},
				},
			},
		},
	}

	return NewServer(cfg, journals, shards, id.NewMemGenerator()), journals
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(&testShardAPI{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code, "check health failed")
}

func TestIngest(t *testing.T) {
	s, journals := newTestServer(&testShardAPI{})

	req := httptest.NewRequest("POST", "/v1/collections/movements/documents",
		strings.NewReader(`{"id": "m-1", "amount": 10}`))
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code, "check ingest failed")

	result := struct {
		Code  int               `json:"code"`
		Value meta.IngestResult `json:"value"`
	}{}
	err := json.Unmarshal(rec.Body.Bytes(), &result)
	assert.Nilf(t, err, "parse ingest result failed with %+v", err)
	assert.Equal(t, succeed, result.Code, "check ingest code failed")
	assert.Equal(t, int64(1), result.Value.Offset, "check ingest offset failed")
	assert.Equal(t, 1, len(result.Value.UUIDs), "check ingest uuids failed")

	docs, next, err := journals.Read("movements", 0, 10)
	assert.Nilf(t, err, "read journal failed with %+v", err)
	assert.Equal(t, 1, len(docs), "check appended doc failed")
	assert.Equal(t, int64(1), next, "check journal offset failed")
	assert.Contains(t, string(docs[0]), `"uuid"`, "check stamped identity failed")
	assert.Contains(t, string(docs[0]), `"m-1"`, "check doc content failed")
}

func TestIngestArray(t *testing.T) {
	s, journals := newTestServer(&testShardAPI{})

	req := httptest.NewRequest("POST", "/v1/collections/movements/documents",
		strings.NewReader(`[{"id": "m-1"}, {"id": "m-2"}]`))
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)

	result := struct {
		Code  int               `json:"code"`
		Value meta.IngestResult `json:"value"`
	}{}
	err := json.Unmarshal(rec.Body.Bytes(), &result)
	assert.Nilf(t, err, "parse ingest result failed with %+v", err)
	assert.Equal(t, int64(2), result.Value.Offset, "check ingest offset failed")
	assert.Equal(t, 2, len(result.Value.UUIDs), "check ingest uuids failed")
	assert.NotEqual(t, result.Value.UUIDs[0], result.Value.UUIDs[1], "check distinct uuids failed")

	size, err := journals.Size("movements")
	assert.Nilf(t, err, "journal size failed with %+v", err)
	assert.Equal(t, int64(2), size, "check journal size failed")
}

func TestIngestUnknownCollection(t *testing.T) {
	s, _ := newTestServer(&testShardAPI{})

	req := httptest.NewRequest("POST", "/v1/collections/missing/documents",
		strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)
	assert.Equal(t, 404, rec.Code, "check unknown collection failed")
}

func TestIngestDerivedCollection(t *testing.T) {
	s, _ := newTestServer(&testShardAPI{})

	req := httptest.NewRequest("POST", "/v1/collections/balances/documents",
		strings.NewReader(`{"account": "alice"}`))
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code, "check derived ingest failed")

	result := meta.JSONResult{}
	err := json.Unmarshal(rec.Body.Bytes(), &result)
	assert.Nilf(t, err, "parse result failed with %+v", err)
	assert.Equal(t, failed, result.Code, "check derived ingest refused failed")
}

func TestReadDocuments(t *testing.T) {
	s, journals := newTestServer(&testShardAPI{})
	journals.Append("movements", []byte(`{"id": "m-1"}`), []byte(`{"id": "m-2"}`))

	req := httptest.NewRequest("GET", "/v1/collections/movements/documents?offset=1", nil)
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)

	result := struct {
		Code  int             `json:"code"`
		Value meta.ReadResult `json:"value"`
	}{}
	err := json.Unmarshal(rec.Body.Bytes(), &result)
	assert.Nilf(t, err, "parse read result failed with %+v", err)
	assert.Equal(t, 1, len(result.Value.Documents), "check read documents failed")
	assert.Equal(t, int64(2), result.Value.Next, "check read next offset failed")
}

func TestStates(t *testing.T) {
	shards := &testShardAPI{
		states: []derive.DerivationState{
			{Derivation: "balances", Shard: 1, Leader: true},
		},
	}
	s, _ := newTestServer(shards)

	req := httptest.NewRequest("GET", "/v1/derivations/balances/states", nil)
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)

	result := struct {
		Code  int                      `json:"code"`
		Value []derive.DerivationState `json:"value"`
	}{}
	err := json.Unmarshal(rec.Body.Bytes(), &result)
	assert.Nilf(t, err, "parse states failed with %+v", err)
	assert.Equal(t, 1, len(result.Value), "check states count failed")
	assert.Equal(t, "balances", result.Value[0].Derivation, "check states derivation failed")
}

func TestManual(t *testing.T) {
	shards := &testShardAPI{}
	s, _ := newTestServer(shards)

	req := httptest.NewRequest("PUT", "/v1/derivations/balances/transforms/fromMovements/resume", nil)
	rec := httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code, "check manual resume failed")

	req = httptest.NewRequest("PUT", "/v1/derivations/balances/transforms/fromMovements/skip", nil)
	rec = httptest.NewRecorder()
	s.server.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code, "check manual skip failed")

	assert.Equal(t, 2, len(shards.manuals), "check manual actions failed")
	assert.Equal(t, meta.ManualResume, shards.manuals[0].Action, "check resume action failed")
	assert.Equal(t, meta.ManualSkip, shards.manuals[1].Action, "check skip action failed")
	assert.Equal(t, "fromMovements", shards.manuals[0].Transform, "check manual transform failed")
}

func TestNextUUIDPartsMonotonic(t *testing.T) {
	s, _ := newTestServer(&testShardAPI{})

	last := uint64(0)
	for i := 0; i < 100; i++ {
		parts := s.nextUUIDParts()
		assert.True(t, parts.Clock > last, "check clock monotonic failed")
		last = parts.Clock
	}
}
