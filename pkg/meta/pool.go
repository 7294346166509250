package meta

import (
	"sync"
)

var batchPool = sync.Pool{
	New: func() interface{} {
		return &DocumentBatch{}
	},
}

// AcquireBatch acquire a batch from the pool
func AcquireBatch() *DocumentBatch {
	return batchPool.Get().(*DocumentBatch)
}

// ReleaseBatch release a batch to the pool
func ReleaseBatch(value *DocumentBatch) {
	value.Reset()
	batchPool.Put(value)
}
