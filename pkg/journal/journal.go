package journal

// Store provides named append-only document logs. A journal offset
// counts documents, the first document of a journal is at offset 0.
// Returned documents must not be modified.
//
// Every journal carries a fence token. Appends of a fenced writer
// carry the writer's current token, a token below the fence is
// refused with meta.ErrStaleToken, so a superseded writer cannot
// append behind its successor's back.
type Store interface {
	// Append appends the documents to the journal and returns the
	// offset past the last appended document. Plain appends are not
	// fenced.
	Append(journal string, docs ...[]byte) (int64, error)
	// AppendFenced appends the documents under the writer's token and
	// raises the journal fence to it. A token below the fence fails
	// with meta.ErrStaleToken and appends nothing.
	AppendFenced(journal string, token uint64, docs ...[]byte) (int64, error)
	// Fence raises the journal fence to the token, invalidating the
	// appends of older writers. A token below the fence is a no-op.
	Fence(journal string, token uint64) error
	// Read reads at most limit documents from the offset, returning
	// the documents and the next read offset. A read at the journal
	// head returns no documents.
	Read(journal string, offset int64, limit int) ([][]byte, int64, error)
	// Size returns the offset past the last document of the journal
	Size(journal string) (int64, error)
	// Close close the store
	Close() error
}
