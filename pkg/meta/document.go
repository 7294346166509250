package meta

// Document is one source document staged within a batch arena. Offset
// is the document's position in its source journal; Content and Key
// address the batch arena.
type Document struct {
	Offset  int64     `json:"offset"`
	UUID    UUIDParts `json:"uuid"`
	Content Slice     `json:"content"`
	Key     Slice     `json:"key,omitempty"`
	KeyHash uint32    `json:"keyHash,omitempty"`
}

// DocumentBatch moves a group of shuffled documents of one journal and
// transform between ring members. All byte payloads share the arena.
// NextOffset is the journal position after the last document the
// coordinator read for this subscription, it advances even when every
// read document was assigned to another member.
type DocumentBatch struct {
	Journal    string     `json:"journal"`
	Transform  string     `json:"transform"`
	NextOffset int64      `json:"nextOffset"`
	Arena      Arena      `json:"arena,omitempty"`
	Documents  []Document `json:"documents,omitempty"`
}

// Reset clears the batch for reuse, keeping allocated capacity
func (b *DocumentBatch) Reset() {
	b.Journal = ""
	b.Transform = ""
	b.NextOffset = 0
	b.Arena = b.Arena[:0]
	b.Documents = b.Documents[:0]
}

// Stage appends a document to the batch, copying content and key into
// the batch arena.
func (b *DocumentBatch) Stage(offset int64, uuid UUIDParts, content, key []byte, keyHash uint32) {
	b.Documents = append(b.Documents, Document{
		Offset:  offset,
		UUID:    uuid,
		Content: b.Arena.Add(content),
		Key:     b.Arena.Add(key),
		KeyHash: keyHash,
	})
}
