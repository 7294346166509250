package derive

import (
	"fmt"
	"time"

	"github.com/infinivision/sluice/pkg/lambda"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/infinivision/sluice/pkg/shuffle"
)

// stagedDoc is one shuffled document held by a member between arrival
// and apply. Content and key are copied out of the batch arena so the
// batch can be released.
type stagedDoc struct {
	journal string
	offset  int64
	uuid    meta.UUIDParts
	content []byte
	key     []byte
}

// transform is the runtime state of one transform of the derivation
// on this member.
type transform struct {
	spec    meta.TransformSpec
	source  meta.CollectionSpec
	keyPtrs []string
	delay   uint64 // read delay in clock ticks
	update  lambda.Lambda
	publish lambda.Lambda
	status  meta.TransformStatus
	haltErr error
	haltAt  int64

	// pending documents in arrival order, the head gates the stream
	pending []*stagedDoc
	// journal position covered by the applied and pending documents
	cursor int64
	// open transactions keyed by producer, flushed by their ack
	txns map[meta.ProducerID][]*stagedDoc
	// skip drops the document at this offset on re-delivery, -1 when
	// nothing is skipped
	skip int64
}

func newTransform(spec meta.TransformSpec, source meta.CollectionSpec, opts *options) (*transform, error) {
	keyPtrs := spec.ShuffleKey
	if len(keyPtrs) == 0 {
		// shuffle on the source collection key by default
		keyPtrs = source.Key
	}
	if len(keyPtrs) == 0 {
		return nil, fmt.Errorf("transform %s has no shuffle key", spec.Name)
	}

	t := &transform{
		spec:    spec,
		source:  source,
		keyPtrs: keyPtrs,
		delay:   delayTicks(time.Duration(spec.ReadDelaySeconds) * time.Second),
		txns:    make(map[meta.ProducerID][]*stagedDoc),
		skip:    -1,
	}

	var err error
	if spec.Update != nil {
		t.update, err = lambda.New(*spec.Update, opts.lambdaOptions...)
		if err != nil {
			return nil, err
		}
	}
	if spec.Publish != nil {
		t.publish, err = lambda.New(*spec.Publish, opts.lambdaOptions...)
		if err != nil {
			return nil, err
		}
	}

	return t, nil
}

// delayTicks maps a read delay to document clock ticks, 100ns units
// shifted past the sequence bits
func delayTicks(delay time.Duration) uint64 {
	return uint64(delay.Nanoseconds()/100) << 4
}

// adjustedClock is the document's gate: the encoded identity clock
// plus the transform's read delay
func (t *transform) adjustedClock(doc *stagedDoc) uint64 {
	return doc.uuid.Clock + t.delay
}

// readyAt returns the wall time at which the head document passes the
// gate, and false when nothing is pending
func (t *transform) readyAt() (time.Time, bool) {
	if len(t.pending) == 0 {
		return time.Time{}, false
	}
	if t.delay == 0 {
		return time.Time{}, true
	}

	return meta.ClockTime(t.adjustedClock(t.pending[0])), true
}

// gated returns true if the head document is still held by the read
// delay at the wall time
func (t *transform) gated(now time.Time) bool {
	at, ok := t.readyAt()
	if !ok {
		return true
	}

	return t.delay != 0 && at.After(now)
}

// stage copies the batch documents into the pending queue and
// advances the stream cursor. Documents behind the cursor come from a
// stale subscription and are dropped.
func (t *transform) stage(batch *meta.DocumentBatch) {
	for _, doc := range batch.Documents {
		if doc.Offset < t.cursor {
			continue
		}

		t.pending = append(t.pending, &stagedDoc{
			journal: batch.Journal,
			offset:  doc.Offset,
			uuid:    doc.UUID,
			content: append([]byte(nil), batch.Arena.Bytes(doc.Content)...),
			key:     append([]byte(nil), batch.Arena.Bytes(doc.Key)...),
		})
	}

	if batch.NextOffset > t.cursor {
		t.cursor = batch.NextOffset
	}
}

// halt stops the transform at the document pending an operator action
func (t *transform) halt(offset int64, err error) {
	t.status = meta.TransformStatusHalted
	t.haltErr = err
	t.haltAt = offset
	t.pending = t.pending[:0]
	t.txns = make(map[meta.ProducerID][]*stagedDoc)
}

// resume clears the halt. The caller re-subscribes from the
// checkpoint so the failing document is re-delivered.
func (t *transform) resume() {
	t.status = meta.TransformStatusRunning
	t.haltErr = nil
	t.haltAt = 0
	t.pending = t.pending[:0]
	t.txns = make(map[meta.ProducerID][]*stagedDoc)
}

// progressKey names this transform's read progress
func (t *transform) progressKey() string {
	return meta.ProgressKey(t.spec.Name, t.source.JournalName())
}

// coordinatorIndex returns the ring member coordinating the
// transform's shuffled reads. Spreading coordinators by transform
// name keeps one member from reading every source journal.
func coordinatorIndex(transform string, members int) uint32 {
	return shuffle.HashString(transform) % uint32(members)
}
