package journal

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/infinivision/sluice/pkg/local"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/stretchr/testify/assert"
)

func TestMemCreateStore(t *testing.T) {
	s, err := CreateStore("mem://")
	assert.Nilf(t, err, "create mem store failed with %+v", err)
	assert.NotNil(t, s, "create mem store failed")
}

func TestRedisCreateStore(t *testing.T) {
	s, err := CreateStore("redis://127.0.0.1:6379?proxy=127.0.0.1:6380&retry=3&maxActive=100&maxIdle=10&idleTimeout=30&dailTimeout=10&readTimeout=30&writeTimeout=10")
	assert.Nilf(t, err, "create redis store failed with %+v", err)
	assert.NotNil(t, s, "create redis store failed")
}

func createStores(t *testing.T) map[string]Store {
	dir := fmt.Sprintf("%s/sluice-journal-%d", os.TempDir(), time.Now().Nanosecond())
	ls, err := local.NewBadgerStorage(dir)
	assert.Nilf(t, err, "check badger failed with %+v", err)

	return map[string]Store{
		"mem":   NewMemStore(),
		"local": NewLocalStore(ls),
	}
}

func TestAppendAndRead(t *testing.T) {
	for name, s := range createStores(t) {
		head, err := s.Append("a/journal", []byte(`{"v":1}`), []byte(`{"v":2}`))
		assert.Nilf(t, err, "%s: append failed with %+v", name, err)
		assert.Equal(t, int64(2), head, "%s: check head failed", name)

		head, err = s.Append("a/journal", []byte(`{"v":3}`))
		assert.Nilf(t, err, "%s: append failed with %+v", name, err)
		assert.Equal(t, int64(3), head, "%s: check head failed", name)

		docs, next, err := s.Read("a/journal", 0, 2)
		assert.Nilf(t, err, "%s: read failed with %+v", name, err)
		assert.Equal(t, 2, len(docs), "%s: check docs len failed", name)
		assert.Equal(t, `{"v":1}`, string(docs[0]), "%s: check doc failed", name)
		assert.Equal(t, `{"v":2}`, string(docs[1]), "%s: check doc failed", name)
		assert.Equal(t, int64(2), next, "%s: check next offset failed", name)

		docs, next, err = s.Read("a/journal", next, 10)
		assert.Nilf(t, err, "%s: read failed with %+v", name, err)
		assert.Equal(t, 1, len(docs), "%s: check docs len failed", name)
		assert.Equal(t, `{"v":3}`, string(docs[0]), "%s: check doc failed", name)
		assert.Equal(t, int64(3), next, "%s: check next offset failed", name)

		s.Close()
	}
}

func TestReadAtHead(t *testing.T) {
	for name, s := range createStores(t) {
		docs, next, err := s.Read("a/journal", 0, 10)
		assert.Nilf(t, err, "%s: read failed with %+v", name, err)
		assert.Equal(t, 0, len(docs), "%s: check empty read failed", name)
		assert.Equal(t, int64(0), next, "%s: check next offset failed", name)

		s.Append("a/journal", []byte(`{"v":1}`))
		docs, next, err = s.Read("a/journal", 1, 10)
		assert.Nilf(t, err, "%s: read failed with %+v", name, err)
		assert.Equal(t, 0, len(docs), "%s: check head read failed", name)
		assert.Equal(t, int64(1), next, "%s: check next offset failed", name)

		_, _, err = s.Read("a/journal", -1, 10)
		assert.NotNilf(t, err, "%s: check invalid offset failed", name)

		s.Close()
	}
}

func TestSize(t *testing.T) {
	for name, s := range createStores(t) {
		size, err := s.Size("a/journal")
		assert.Nilf(t, err, "%s: size failed with %+v", name, err)
		assert.Equal(t, int64(0), size, "%s: check empty size failed", name)

		s.Append("a/journal", []byte(`1`), []byte(`2`))
		s.Append("b/journal", []byte(`3`))

		size, err = s.Size("a/journal")
		assert.Nilf(t, err, "%s: size failed with %+v", name, err)
		assert.Equal(t, int64(2), size, "%s: check size failed", name)

		size, err = s.Size("b/journal")
		assert.Nilf(t, err, "%s: size failed with %+v", name, err)
		assert.Equal(t, int64(1), size, "%s: check size failed", name)

		s.Close()
	}
}

func TestFencing(t *testing.T) {
	for name, s := range createStores(t) {
		head, err := s.AppendFenced("a/journal", 10, []byte(`1`))
		assert.Nilf(t, err, "%s: fenced append failed with %+v", name, err)
		assert.Equal(t, int64(1), head, "%s: check head failed", name)

		// an older writer is refused and appends nothing
		_, err = s.AppendFenced("a/journal", 5, []byte(`2`))
		assert.Equal(t, meta.ErrStaleToken, err, "%s: check stale token failed", name)

		size, err := s.Size("a/journal")
		assert.Nilf(t, err, "%s: size failed with %+v", name, err)
		assert.Equal(t, int64(1), size, "%s: check refused append failed", name)

		// raising the fence invalidates writers below it
		assert.Nil(t, s.Fence("a/journal", 20), "%s: fence failed", name)
		_, err = s.AppendFenced("a/journal", 15, []byte(`3`))
		assert.Equal(t, meta.ErrStaleToken, err, "%s: check fenced out failed", name)

		head, err = s.AppendFenced("a/journal", 20, []byte(`4`))
		assert.Nilf(t, err, "%s: fenced append failed with %+v", name, err)
		assert.Equal(t, int64(2), head, "%s: check head failed", name)

		// lowering the fence is a no-op
		assert.Nil(t, s.Fence("a/journal", 1), "%s: fence failed", name)
		_, err = s.AppendFenced("a/journal", 15, []byte(`5`))
		assert.Equal(t, meta.ErrStaleToken, err, "%s: check fence kept failed", name)

		// plain appends are not fenced
		head, err = s.Append("a/journal", []byte(`6`))
		assert.Nilf(t, err, "%s: append failed with %+v", name, err)
		assert.Equal(t, int64(3), head, "%s: check head failed", name)

		s.Close()
	}
}

func TestJournalsIsolated(t *testing.T) {
	for name, s := range createStores(t) {
		s.Append("a/journal", []byte(`1`))
		s.Append("a/journal2", []byte(`2`))

		docs, _, err := s.Read("a/journal", 0, 10)
		assert.Nilf(t, err, "%s: read failed with %+v", name, err)
		assert.Equal(t, 1, len(docs), "%s: check isolation failed", name)
		assert.Equal(t, `1`, string(docs[0]), "%s: check doc failed", name)

		s.Close()
	}
}
