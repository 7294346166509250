package local

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func create(t *testing.T) Storage {
	dir := fmt.Sprintf("%s/sluice-data-%d", os.TempDir(), time.Now().Nanosecond())
	s, err := NewBadgerStorage(dir)
	assert.Nilf(t, err, "check badger failed with %+v", err)

	return s
}

func TestGetAndSet(t *testing.T) {
	s := create(t)
	defer s.Close()

	value, err := s.Get([]byte("test-key"))
	assert.Nilf(t, err, "check badger storage failed with %+v", err)
	assert.Equal(t, 0, len(value), "check storage failed")

	err = s.Set([]byte("test-key"), []byte("sluice"))
	assert.Nilf(t, err, "check badger storage failed with %+v", err)

	value, err = s.Get([]byte("test-key"))
	assert.Nilf(t, err, "check badger storage failed with %+v", err)
	assert.Equal(t, "sluice", string(value), "check storage failed")

	s.Set([]byte("test-key"), []byte("sluice2"))
	value, err = s.Get([]byte("test-key"))
	assert.Nilf(t, err, "check badger storage failed with %+v", err)
	assert.Equal(t, "sluice2", string(value), "check storage failed")
}

func TestBatchSet(t *testing.T) {
	s := create(t)
	defer s.Close()

	err := s.BatchSet([]byte("batch-01"))
	assert.NotNil(t, err, "check odd pairs failed")

	err = s.BatchSet([]byte("batch-01"), []byte("v1"),
		[]byte("batch-02"), []byte("v2"))
	assert.Nilf(t, err, "check badger storage failed with %+v", err)

	value, err := s.Get([]byte("batch-01"))
	assert.Nilf(t, err, "check badger storage failed with %+v", err)
	assert.Equal(t, "v1", string(value), "check storage failed")

	value, err = s.Get([]byte("batch-02"))
	assert.Nilf(t, err, "check badger storage failed with %+v", err)
	assert.Equal(t, "v2", string(value), "check storage failed")
}

func TestRemove(t *testing.T) {
	s := create(t)
	defer s.Close()

	s.Set([]byte("test-key"), []byte("sluice"))

	value, err := s.Get([]byte("test-key"))
	assert.Nilf(t, err, "check badger storage failed with %+v", err)
	assert.Equal(t, "sluice", string(value), "check storage failed")

	err = s.Remove([]byte("test-key"))
	assert.Nilf(t, err, "check badger storage failed with %+v", err)

	value, err = s.Get([]byte("test-key"))
	assert.Nilf(t, err, "check badger storage failed with %+v", err)
	assert.Equal(t, 0, len(value), "check storage failed")
}

func TestBatchRemove(t *testing.T) {
	s := create(t)
	defer s.Close()

	s.BatchSet([]byte("batch-01"), []byte("v1"),
		[]byte("batch-02"), []byte("v2"),
		[]byte("batch-03"), []byte("v3"))

	err := s.BatchRemove([]byte("batch-01"), []byte("batch-03"))
	assert.Nilf(t, err, "check badger storage failed with %+v", err)

	value, err := s.Get([]byte("batch-01"))
	assert.Nilf(t, err, "check badger storage failed with %+v", err)
	assert.Equal(t, 0, len(value), "check storage failed")

	value, err = s.Get([]byte("batch-02"))
	assert.Nilf(t, err, "check badger storage failed with %+v", err)
	assert.Equal(t, "v2", string(value), "check storage failed")
}

func TestRange(t *testing.T) {
	s := create(t)
	defer s.Close()

	s.Set([]byte("test-"), []byte("sluice"))
	s.Set([]byte("test-02"), []byte("sluice"))
	s.Set([]byte("test-03"), []byte("sluice"))
	s.Set([]byte("test-04"), []byte("sluice"))
	s.Set([]byte("test-05"), []byte("sluice"))

	c := 0
	fn := func(key, value []byte) bool {
		c++
		return true
	}
	err := s.Range([]byte("test-"), 1, fn)
	assert.Nilf(t, err, "check badger storage failed with %+v", err)
	assert.Equal(t, 1, c, "check storage failed")

	c = 0
	err = s.Range([]byte("test-"), 5, fn)
	assert.Nilf(t, err, "check badger storage failed with %+v", err)
	assert.Equal(t, 5, c, "check storage failed")

	c = 0
	err = s.Range([]byte("test-"), 6, fn)
	assert.Nilf(t, err, "check badger storage failed with %+v", err)
	assert.Equal(t, 5, c, "check storage failed")

	c = 0
	err = s.Range([]byte("test-"), 0, fn)
	assert.Nilf(t, err, "check badger storage failed with %+v", err)
	assert.Equal(t, 5, c, "check storage failed")

	c = 0
	stop := func(key, value []byte) bool {
		c++
		return false
	}
	err = s.Range([]byte("test-"), 0, stop)
	assert.Nilf(t, err, "check badger storage failed with %+v", err)
	assert.Equal(t, 1, c, "check storage failed")
}

func TestSizeEstimate(t *testing.T) {
	s := create(t)
	defer s.Close()

	s.Set([]byte("size-01"), []byte("0123456789"))
	s.Set([]byte("size-02"), []byte("0123456789"))
	s.Set([]byte("other-01"), []byte("0123456789"))

	total, err := s.SizeEstimate([]byte("size-"))
	assert.Nilf(t, err, "check badger storage failed with %+v", err)
	assert.Equal(t, uint64(34), total, "check size estimate failed")
}
