package meta

import (
	"errors"
)

var (
	// ErrNotLeader the store is not the shard's leader
	ErrNotLeader = errors.New("is not leader")
	// ErrStaleToken an append carried a token below the journal fence
	ErrStaleToken = errors.New("append token is stale")
	// ErrTooFewRows a lambda returned fewer rows than source documents
	ErrTooFewRows = errors.New("lambda returned too few rows")
	// ErrTooManyRows a lambda returned more rows than source documents
	ErrTooManyRows = errors.New("lambda returned too many rows")
	// ErrMissingKey a shuffle key location is absent from the document
	ErrMissingKey = errors.New("document is missing a shuffle key location")
	// ErrStorageCorrupt the shard's register database cannot be read
	ErrStorageCorrupt = errors.New("register storage is corrupt")
)
