package derive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fagongzi/log"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/infinivision/sluice/pkg/metrics"
	"github.com/infinivision/sluice/pkg/shuffle"
	"github.com/infinivision/sluice/pkg/util"
)

const (
	cmdUnknown = iota
	cmdBecomeLeader
	cmdBecomeFollower
	cmdTransferLeader
	cmdSubscribe
	cmdBatch
	cmdFault
	cmdInvoked
	cmdDispatch
	cmdManual
	cmdSplit
	cmdState
	cmdTopology
)

var (
	cmdPool sync.Pool

	emptyReq    meta.ShuffleRequest
	emptyManual meta.Manual
)

func acquireCMD() *cmd {
	value := cmdPool.Get()
	if value == nil {
		return &cmd{}
	}

	return value.(*cmd)
}

func releaseCMD(value *cmd) {
	value.reset()
	cmdPool.Put(value)
}

type cmd struct {
	cmdType int

	req       meta.ShuffleRequest
	batch     *meta.DocumentBatch
	block     *block
	transform string
	fault     string
	manual    meta.Manual
	leader    uint64
	target    uint64
	splitAt   uint32

	errorCB func(error)
	moveCB  func(int, error)
	stateCB func(DerivationState, error)
}

func (c *cmd) reset() {
	c.cmdType = cmdUnknown

	c.req = emptyReq
	c.batch = nil
	c.block = nil
	c.transform = ""
	c.fault = ""
	c.manual = emptyManual
	c.leader = 0
	c.target = 0
	c.splitAt = 0

	c.errorCB = nil
	c.moveCB = nil
	c.stateCB = nil
}

func (c *cmd) respError(err error) {
	if c.errorCB != nil {
		c.errorCB(err)
	}
}

func (c *cmd) respMove(moved int, err error) {
	if c.moveCB != nil {
		c.moveCB(moved, err)
	}
}

func (c *cmd) respState(value DerivationState, err error) {
	if c.stateCB != nil {
		c.stateCB(value, err)
	}
}

// block is one pipelined unit of work: up to blockDocs documents of
// one transform, invoked concurrently and applied in seq order.
type block struct {
	seq      uint64
	tf       *transform
	docs     []*stagedDoc
	cpOffset int64
	rows     [][]json.RawMessage
	err      error
}

func (w *Worker) startEventLoop(ctx context.Context) {
	log.Infof("%s start the event loop", w.tag)

	for {
		if w.cmds.Len() == 0 && !w.cmds.IsDisposed() {
			time.Sleep(time.Millisecond * 10)
			continue
		}

		data, err := w.cmds.Get()
		if err != nil {
			log.Infof("%s exit event loop", w.tag)
			return
		}

		c := data.(*cmd)
		switch c.cmdType {
		case cmdUnknown:
			break
		case cmdBecomeLeader:
			w.handleBecomeLeader()
			break
		case cmdBecomeFollower:
			w.handleBecomeFollower()
			break
		case cmdTransferLeader:
			w.handleTransferLeader(c)
			break
		case cmdSubscribe:
			w.handleSubscribe(c)
			break
		case cmdBatch:
			w.handleBatch(c)
			break
		case cmdFault:
			w.handleFault(c)
			break
		case cmdInvoked:
			w.handleInvoked(c)
			break
		case cmdDispatch:
			w.handleDispatch()
			break
		case cmdManual:
			w.handleManual(c)
			break
		case cmdSplit:
			w.handleSplit(c)
			break
		case cmdState:
			w.handleState(c)
			break
		case cmdTopology:
			w.handleTopology()
			break
		}

		releaseCMD(c)
	}
}

func (w *Worker) handleBecomeLeader() {
	if w.leader {
		return
	}

	log.Infof("%s ********become leader now********", w.tag)

	w.leaderPeerID = w.peerID
	w.leader = true
	w.resetPipeline()

	cp, err := w.registers.Restore()
	if err != nil {
		log.Fatalf("%s restore checkpoint failed with %+v",
			w.tag,
			err)
	}
	w.cp = cp
	log.Infof("%s restored at token %d with %d progress offsets",
		w.tag,
		cp.Token,
		len(cp.Offsets))

	// invalidate the appends of a superseded leader still in flight
	if err := w.opts.journals.Fence(w.spec.JournalName(), cp.Token); err != nil {
		log.Errorf("%s fence output journal failed with %+v",
			w.tag,
			err)
	}

	for _, t := range w.transforms {
		t.resume()
		if err := w.subscribe(t); err != nil {
			log.Errorf("%s subscribe %s failed with %+v",
				w.tag,
				t.spec.Name,
				err)
		}
	}

	if w.opts.becomeLeader != nil {
		w.opts.becomeLeader()
	}
}

func (w *Worker) handleBecomeFollower() {
	if !w.leader {
		return
	}

	log.Infof("%s ********become follower now********", w.tag)

	w.leader = false
	w.resetPipeline()
	w.registers.Rollback()
	w.stopReads()

	if w.opts.becomeFollower != nil {
		w.opts.becomeFollower()
	}
}

func (w *Worker) handleTransferLeader(c *cmd) {
	log.Infof("%s my peer is %d, transfer leader to peer %d",
		w.tag,
		w.peerID,
		c.leader)

	if !w.leader || c.leader == w.peerID {
		return
	}

	err := w.elector.ChangeLeaderTo(w.id, w.peerID, c.leader)
	if err != nil {
		log.Errorf("%s transfer leader to peer %d failed with %+v",
			w.tag,
			c.leader,
			err)
		return
	}

	w.leaderPeerID = c.leader
	w.handleBecomeFollower()
}

func (w *Worker) handleBatch(c *cmd) {
	batch := c.batch
	defer meta.ReleaseBatch(batch)

	if !w.leader {
		return
	}

	t, ok := w.byName[batch.Transform]
	if !ok {
		log.Warnf("%s batch of unknown transform %s, ignored",
			w.tag,
			batch.Transform)
		return
	}
	if t.status == meta.TransformStatusHalted {
		return
	}

	// every transform of the derivation indexes the same registers,
	// diverging key component types would silently shear the keyspace
	for _, doc := range batch.Documents {
		if doc.UUID.Flags() == meta.FlagAckTxn {
			continue
		}

		sig, err := shuffle.KeySignature(batch.Arena.Bytes(doc.Key))
		if err != nil {
			w.haltTransform(t, doc.Offset, err)
			return
		}

		if len(w.keySig) == 0 {
			w.keySig = sig
		} else if !bytes.Equal(w.keySig, sig) {
			w.haltTransform(t, doc.Offset,
				fmt.Errorf("transforms disagree on shuffle key component types"))
			return
		}
	}

	t.stage(batch)
	metrics.ShuffledCounter.WithLabelValues(batch.Journal, w.idLabel).
		Add(float64(len(batch.Documents)))

	w.tryDispatch()
}

func (w *Worker) handleFault(c *cmd) {
	if !w.leader {
		return
	}

	t, ok := w.byName[c.transform]
	if !ok || t.status == meta.TransformStatusHalted {
		return
	}

	w.haltTransform(t, t.cursor, fmt.Errorf("shuffled read failed with %s", c.fault))
}

func (w *Worker) handleInvoked(c *cmd) {
	b := c.block
	if b.seq < w.applySeq {
		// the pipeline reset past this block while its invocation was
		// in flight, it is no longer accounted
		return
	}

	w.inflight--
	w.completed[b.seq] = b
	w.drainCompleted()
}

func (w *Worker) handleDispatch() {
	w.gateArmed = false
	if !w.leader {
		return
	}

	w.tryDispatch()
}

func (w *Worker) handleManual(c *cmd) {
	if !w.leader {
		c.respError(meta.ErrNotLeader)
		return
	}

	t, ok := w.byName[c.manual.Transform]
	if !ok {
		c.respError(fmt.Errorf("transform %s not found", c.manual.Transform))
		return
	}
	if t.status != meta.TransformStatusHalted {
		c.respError(fmt.Errorf("transform %s is not halted", c.manual.Transform))
		return
	}

	log.Infof("%s manual %s of %s at offset %d",
		w.tag,
		c.manual.Action.Name(),
		c.manual.Transform,
		t.haltAt)

	switch c.manual.Action {
	case meta.ManualResume:
		break
	case meta.ManualSkip:
		// the failing document is dropped when the re-subscription
		// delivers it again, its offset still commits with its block
		t.skip = t.haltAt
	default:
		c.respError(fmt.Errorf("unknown manual action %d", c.manual.Action))
		return
	}

	t.resume()
	metrics.HaltedGauge.WithLabelValues(w.shard.Derivation).Dec()

	if err := w.subscribe(t); err != nil {
		c.respError(err)
		return
	}

	c.respError(nil)
}

func (w *Worker) handleSplit(c *cmd) {
	if !w.leader {
		c.respMove(0, meta.ErrNotLeader)
		return
	}

	if w.inflight > 0 || len(w.completed) > 0 {
		c.respMove(0, fmt.Errorf("busy with %d in-flight blocks", w.inflight+len(w.completed)))
		return
	}

	moved, err := w.registers.Move(c.target, func(key []byte) bool {
		return shuffle.HashBytes(key) >= c.splitAt
	})
	if err != nil {
		c.respMove(0, err)
		return
	}

	log.Infof("%s moved %d registers to shard %d at split point %d",
		w.tag,
		moved,
		c.target,
		c.splitAt)
	metrics.SplitCounter.WithLabelValues(w.shard.Derivation).Inc()
	c.respMove(moved, nil)
}

func (w *Worker) handleState(c *cmd) {
	state := DerivationState{
		Derivation: w.shard.Derivation,
		Shard:      w.id,
		Index:      w.shard.Index,
		Leader:     w.leader,
		Token:      w.cp.Token,
	}

	for _, t := range w.transforms {
		ts := TransformState{
			Name:    t.spec.Name,
			Status:  t.status.Name(),
			Offset:  w.cp.Offsets[t.progressKey()],
			Pending: len(t.pending),
		}
		if t.haltErr != nil {
			ts.HaltError = t.haltErr.Error()
			ts.HaltAt = t.haltAt
		}

		state.Transforms = append(state.Transforms, ts)
	}

	c.respState(state, nil)
}

func (w *Worker) handleTopology() {
	if !w.leader {
		return
	}

	log.Infof("%s topology changed, re-subscribe every transform", w.tag)
	for _, t := range w.transforms {
		if t.status == meta.TransformStatusHalted {
			continue
		}

		t.pending = t.pending[:0]
		t.txns = make(map[meta.ProducerID][]*stagedDoc)
		if err := w.subscribe(t); err != nil {
			log.Errorf("%s subscribe %s failed with %+v",
				w.tag,
				t.spec.Name,
				err)
		}
	}
}

// resetPipeline drops every staged and in-flight block. In-flight
// invocations still complete, their blocks carry a seq below applySeq
// and are discarded on arrival.
func (w *Worker) resetPipeline() {
	w.applySeq = w.nextSeq
	w.inflight = 0
	w.completed = make(map[uint64]*block)

	for _, t := range w.transforms {
		t.pending = t.pending[:0]
		t.txns = make(map[meta.ProducerID][]*stagedDoc)
	}
}

// tryDispatch admits pending blocks to the invocation pipeline:
// ungated transforms are picked by priority then head document clock,
// a fully gated backlog arms the gate timer instead.
func (w *Worker) tryDispatch() {
	if w.dispatching {
		return
	}
	w.dispatching = true
	defer func() {
		w.dispatching = false
	}()

	now := w.opts.wall()

	for w.inflight+len(w.completed) < w.opts.concurrency {
		t := w.pickTransform(now)
		if t == nil {
			break
		}

		w.dispatchBlock(t, now)
	}

	w.armGate(now)
}

// pickTransform returns the ungated runnable transform with pending
// documents, preferring higher priority then the earliest head clock
func (w *Worker) pickTransform(now time.Time) *transform {
	var choice *transform
	for _, t := range w.transforms {
		if t.status != meta.TransformStatusRunning || len(t.pending) == 0 {
			continue
		}
		if t.gated(now) {
			continue
		}

		if choice == nil {
			choice = t
			continue
		}
		if t.spec.Priority > choice.spec.Priority {
			choice = t
			continue
		}
		if t.spec.Priority == choice.spec.Priority &&
			t.adjustedClock(t.pending[0]) < choice.adjustedClock(choice.pending[0]) {
			choice = t
		}
	}

	return choice
}

// armGate schedules a dispatch wakeup at the earliest gated head
func (w *Worker) armGate(now time.Time) {
	if w.gateArmed {
		return
	}

	var earliest time.Time
	for _, t := range w.transforms {
		if t.status != meta.TransformStatusRunning || !t.gated(now) {
			continue
		}

		at, ok := t.readyAt()
		if !ok {
			continue
		}
		if earliest.IsZero() || at.Before(earliest) {
			earliest = at
		}
	}
	if earliest.IsZero() {
		return
	}

	after := earliest.Sub(now)
	if after < 0 {
		after = 0
	}

	_, err := util.Wheel.Schedule(after, w.onGateTimeout, nil)
	if err != nil {
		log.Fatalf("%s schedule gate timeout failed with %+v",
			w.tag,
			err)
	}
	w.gateArmed = true
}

func (w *Worker) onGateTimeout(arg interface{}) {
	c := acquireCMD()
	c.cmdType = cmdDispatch
	w.cmds.Put(c)
}

// dispatchBlock pops ungated head documents of the transform into one
// block and starts its update invocation. Open-transaction documents
// are buffered until their producer's acknowledge, which also fences
// the checkpoint offset.
func (w *Worker) dispatchBlock(t *transform, now time.Time) {
	b := &block{
		seq: w.nextSeq,
		tf:  t,
	}
	w.nextSeq++

	var lastOffset int64 = -1
	for len(t.pending) > 0 && len(b.docs) < w.opts.blockDocs {
		doc := t.pending[0]
		if t.delay != 0 && meta.ClockTime(t.adjustedClock(doc)).After(now) {
			break
		}
		t.pending = t.pending[1:]
		lastOffset = doc.offset

		if doc.offset == t.skip {
			t.skip = -1
			log.Warnf("%s skipped document of %s at offset %d",
				w.tag,
				t.spec.Name,
				doc.offset)
			continue
		}

		switch doc.uuid.Flags() {
		case meta.FlagContinueTxn:
			producer := doc.uuid.Producer()
			t.txns[producer] = append(t.txns[producer], doc)
		case meta.FlagAckTxn:
			// the acknowledge fences its producer's open documents
			// into this block, the ACK itself never reaches a lambda
			producer := doc.uuid.Producer()
			for _, held := range t.txns[producer] {
				if held.uuid.Clock <= doc.uuid.Clock {
					b.docs = append(b.docs, held)
				}
			}
			delete(t.txns, producer)
		default:
			b.docs = append(b.docs, doc)
		}
	}

	b.cpOffset = w.blockOffset(t, lastOffset)
	if len(b.docs) == 0 && b.cpOffset <= w.cp.Offsets[t.progressKey()] {
		// nothing to invoke and no progress to commit
		w.nextSeq--
		return
	}

	w.inflight++

	if t.update == nil || len(b.docs) == 0 {
		w.inflight--
		w.completed[b.seq] = b
		w.drainCompleted()
		return
	}

	sources := make([][]byte, 0, len(b.docs))
	for _, doc := range b.docs {
		sources = append(sources, doc.content)
	}

	go func() {
		start := time.Now()
		// update lambdas never observe registers
		rows, err := t.update.Invoke(context.Background(), sources, nil, nil)
		metrics.LambdaDurationHistogram.WithLabelValues(
			w.shard.Derivation,
			t.spec.Name,
			metrics.KindUpdate).Observe(time.Since(start).Seconds())

		b.rows = rows
		b.err = err

		c := acquireCMD()
		c.cmdType = cmdInvoked
		c.block = b
		w.cmds.Put(c)
	}()
}

// blockOffset returns the checkpoint offset covered by a block ending
// at lastOffset: past the block's documents, up to the read cursor
// when the backlog drained, but never past a still-open transaction.
func (w *Worker) blockOffset(t *transform, lastOffset int64) int64 {
	offset := w.cp.Offsets[t.progressKey()]
	if lastOffset >= 0 && lastOffset+1 > offset {
		offset = lastOffset + 1
	}
	if len(t.pending) == 0 && t.cursor > offset {
		offset = t.cursor
	}

	for _, held := range t.txns {
		for _, doc := range held {
			if doc.offset < offset {
				offset = doc.offset
			}
		}
	}

	return offset
}

// drainCompleted applies completed blocks strictly in seq order
func (w *Worker) drainCompleted() {
	for {
		b, ok := w.completed[w.applySeq]
		if !ok {
			break
		}

		delete(w.completed, w.applySeq)
		w.applySeq++

		if !w.leader {
			continue
		}
		if b.tf.status == meta.TransformStatusHalted {
			// blocks in flight when the transform halted are discarded
			continue
		}

		w.applyBlock(b)
	}

	if w.leader {
		w.tryDispatch()
	}
}
