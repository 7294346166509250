package local

// Storage  local data storage
type Storage interface {
	// Get returns the key value
	Get(key []byte) ([]byte, error)
	// Set sets the key value to the local storage
	Set(key, value []byte) error
	// BatchSet sets the key value pairs to the local storage in one atomic write
	BatchSet(pairs ...[]byte) error
	// Remove remove the key from the local storage
	Remove(key []byte) error
	// BatchRemove remove the keys from the local storage in one atomic write
	BatchRemove(keys ...[]byte) error
	// Range visit all values that start with prefix, set limit to 0 for no limit,
	// return false from fn to stop the visit
	Range(prefix []byte, limit uint64, fn func(key, value []byte) bool) error
	// SizeEstimate returns the estimated byte size of all keys that start with prefix
	SizeEstimate(prefix []byte) (uint64, error)
	// Close close the local storage
	Close() error
}
