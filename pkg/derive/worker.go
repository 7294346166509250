package derive

import (
	"context"
	"fmt"
	"time"

	"github.com/fagongzi/log"
	"github.com/fagongzi/util/task"
	"github.com/infinivision/sluice/pkg/election"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/infinivision/sluice/pkg/reduce"
	"github.com/infinivision/sluice/pkg/registers"
)

// Worker drives one ring member of a derivation: it owns the member's
// registers, applies shuffled documents through the transform
// pipeline, and coordinates the shuffled reads of the source journals
// it is elected coordinator for. Update lambda invocations of many
// blocks run concurrently, their register effects and the publish
// reads that observe them are applied by the event loop strictly in
// block order, so the observable behavior is that of serial per-key
// processing.
type Worker struct {
	opts options

	id, peerID, leaderPeerID uint64

	tag        string
	idLabel    string
	shard      meta.Shard
	spec       meta.CollectionSpec
	transforms []*transform
	byName     map[string]*transform

	registers *registers.Store
	combiner  *Combiner
	cp        meta.Checkpoint

	// shuffle key type signature observed on the first shuffled
	// document, every later document must match
	keySig []byte

	producer meta.ProducerID
	clock    uint64

	leader  bool
	elector election.Elector
	cancel  context.CancelFunc
	runner  *task.Runner

	// pipelined blocks: invocations complete out of order, apply is
	// strictly by sequence
	nextSeq, applySeq uint64
	inflight          int
	completed         map[uint64]*block

	// coordinator side subscriptions, keyed transform@index
	subs map[string]*subscription

	gateArmed   bool
	dispatching bool

	// about event loop
	cmds *task.RingBuffer
}

// NewWorker returns a worker of the shard over the catalog
func NewWorker(shard meta.Shard, peerID uint64, catalog meta.CatalogSpec, opts ...Option) (*Worker, error) {
	w := &Worker{
		runner: task.NewRunner(),
	}

	for _, opt := range opts {
		opt(&w.opts)
	}
	w.opts.adjust()

	if w.opts.journals == nil {
		return nil, fmt.Errorf("worker requires a journal store")
	}
	if w.opts.local == nil {
		return nil, fmt.Errorf("worker requires a local storage")
	}

	spec, ok := catalog.Collection(shard.Derivation)
	if !ok || spec.Derivation == nil {
		return nil, fmt.Errorf("collection %s is not a derivation of the catalog",
			shard.Derivation)
	}

	w.id = shard.ID
	w.peerID = peerID
	w.shard = shard
	w.spec = spec
	w.tag = fmt.Sprintf("[shard-%d/%s-%03x]:", shard.ID, shard.Derivation, shard.Index)
	w.idLabel = fmt.Sprintf("%d", shard.ID)
	w.producer = meta.NewProducerID()
	w.byName = make(map[string]*transform, len(spec.Derivation.Transforms))
	w.completed = make(map[uint64]*block)
	w.subs = make(map[string]*subscription)
	w.cp = meta.NewCheckpoint()

	regReducer, err := reduce.NewReducer(spec.Derivation.Register.Reductions)
	if err != nil {
		return nil, meta.ExtendContext(err, "Register")
	}

	combReducer, err := reduce.NewReducer(spec.Reductions)
	if err != nil {
		return nil, meta.ExtendContext(err, "Reductions")
	}

	w.combiner, err = NewCombiner(spec.Key, combReducer)
	if err != nil {
		return nil, meta.ExtendContext(err, "Key")
	}

	regOpts := []registers.Option{
		registers.WithInitial(spec.Derivation.Register.InitialValue()),
	}
	if w.opts.registerValidator != nil {
		regOpts = append(regOpts, registers.WithValidator(w.opts.registerValidator))
	}
	w.registers = registers.NewStore(shard.ID, w.opts.local, regReducer, regOpts...)

	for i, tspec := range spec.Derivation.Transforms {
		source, ok := catalog.Collection(tspec.Source)
		if !ok {
			return nil, meta.ExtendContext(
				meta.NewValidationError("unknown Source collection (%s)", tspec.Source),
				"Transforms[%d]", i)
		}

		t, err := newTransform(tspec, source, &w.opts)
		if err != nil {
			return nil, meta.ExtendContext(err, "Transforms[%d]", i)
		}

		w.transforms = append(w.transforms, t)
		w.byName[tspec.Name] = t
	}

	if w.opts.topology == nil {
		// a single member ring of this shard, the default of every
		// test and single process run
		w.opts.topology = w.selfTopology
	}
	if w.opts.send == nil {
		w.opts.send = w.loopbackSend
	}

	if w.opts.elector != nil {
		w.elector = w.opts.elector
	} else {
		elector, err := election.NewElector(w.opts.electorOptions...)
		if err != nil {
			return nil, err
		}
		w.elector = elector
	}

	w.cmds = task.NewRingBuffer(uint64(w.opts.concurrency) * 64)

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.elector.ElectionLoop(ctx, w.id, peerID, func(data uint64) bool {
		return peerID == data
	}, w.onElectedLeader, w.onElectedFollower)
	go w.startEventLoop(ctx)

	log.Infof("%s created with %d transforms",
		w.tag,
		len(w.transforms))
	return w, nil
}

// Stop stop the worker
func (w *Worker) Stop() {
	w.cmds.Dispose()
	w.cancel()
	w.runner.Stop()
	w.elector.Stop(w.id)
	log.Infof("%s stopped", w.tag)
}

// IsLeader returns true if the worker serves the shard
func (w *Worker) IsLeader() bool {
	return w.leader
}

// CurrentLeader returns the peer serving the shard
func (w *Worker) CurrentLeader() (uint64, error) {
	if w.leader {
		return w.peerID, nil
	}

	if w.leaderPeerID != 0 {
		return w.leaderPeerID, nil
	}

	return w.elector.CurrentLeader(w.id)
}

// ChangeLeaderTo hand the shard off to the peer
func (w *Worker) ChangeLeaderTo(id uint64) {
	if id == w.peerID {
		return
	}

	c := acquireCMD()
	c.cmdType = cmdTransferLeader
	c.leader = id
	w.cmds.Put(c)
}

// OnSubscribe handle a member's subscription to a source journal this
// worker coordinates
func (w *Worker) OnSubscribe(req meta.ShuffleRequest) {
	c := acquireCMD()
	c.cmdType = cmdSubscribe
	c.req = req
	w.cmds.Put(c)
}

// OnBatch handle a batch of shuffled documents assigned to this
// member. The batch ownership moves to the worker.
func (w *Worker) OnBatch(batch *meta.DocumentBatch) {
	c := acquireCMD()
	c.cmdType = cmdBatch
	c.batch = batch
	if err := w.cmds.Put(c); err != nil {
		meta.ReleaseBatch(batch)
		releaseCMD(c)
	}
}

// OnFault handle a shuffle read fault reported by the coordinator
func (w *Worker) OnFault(transform string, err string) {
	c := acquireCMD()
	c.cmdType = cmdFault
	c.transform = transform
	c.fault = err
	w.cmds.Put(c)
}

// Manual apply an operator action to a halted transform
func (w *Worker) Manual(m meta.Manual, cb func(error)) {
	if !w.leader {
		cb(meta.ErrNotLeader)
		return
	}

	c := acquireCMD()
	c.cmdType = cmdManual
	c.manual = m
	c.errorCB = cb

	if err := w.cmds.Put(c); err != nil {
		cb(err)
		releaseCMD(c)
	}
}

// SplitTo moves every register whose key hash is at or above the
// split point to the target shard, seeding it with this shard's
// checkpoint. The move is refused while blocks are in flight, the
// caller retries on the next split check.
func (w *Worker) SplitTo(target uint64, at uint32, cb func(int, error)) {
	if !w.leader {
		cb(0, meta.ErrNotLeader)
		return
	}

	c := acquireCMD()
	c.cmdType = cmdSplit
	c.target = target
	c.splitAt = at
	c.moveCB = cb

	if err := w.cmds.Put(c); err != nil {
		cb(0, err)
		releaseCMD(c)
	}
}

// State query the derivation state of this member
func (w *Worker) State(cb func(DerivationState, error)) {
	c := acquireCMD()
	c.cmdType = cmdState
	c.stateCB = cb

	if err := w.cmds.Put(c); err != nil {
		cb(DerivationState{}, err)
		releaseCMD(c)
	}
}

// RefreshTopology re-subscribes every transform over the current
// ring. Called when the derivation's ring changed, usually after a
// split.
func (w *Worker) RefreshTopology() {
	c := acquireCMD()
	c.cmdType = cmdTopology
	w.cmds.Put(c)
}

// RegisterStats returns the count and estimated byte size of the
// shard registers
func (w *Worker) RegisterStats() (int, uint64, error) {
	count, err := w.registers.Count()
	if err != nil {
		return 0, 0, err
	}

	size, err := w.registers.SizeEstimate()
	if err != nil {
		return 0, 0, err
	}

	return count, size, nil
}

func (w *Worker) onElectedLeader() {
	c := acquireCMD()
	c.cmdType = cmdBecomeLeader
	w.cmds.Put(c)
}

func (w *Worker) onElectedFollower() {
	c := acquireCMD()
	c.cmdType = cmdBecomeFollower
	w.cmds.Put(c)
}

// selfTopology is the default single member topology
func (w *Worker) selfTopology(derivation string) (meta.Ring, []uint64, error) {
	return meta.Ring{
		Name:    w.shard.Derivation,
		Members: []meta.Member{{}},
	}, []uint64{w.id}, nil
}

// loopbackSend dispatches messages to this worker directly, the
// default of single member rings
func (w *Worker) loopbackSend(shard uint64, msg interface{}) {
	if shard != w.id {
		log.Fatalf("%s loopback send to shard %d", w.tag, shard)
	}

	switch value := msg.(type) {
	case *meta.SubscribeMsg:
		w.OnSubscribe(value.Request)
	case *meta.BatchMsg:
		w.OnBatch(value.Batch)
	case *meta.FaultMsg:
		w.OnFault(value.Transform, value.Err)
	default:
		log.Fatalf("%s loopback send of %T", w.tag, msg)
	}
}

// nextClock returns the next output document clock, strictly
// monotonic for this worker's producer
func (w *Worker) nextClock() uint64 {
	now := meta.NewClock(w.opts.wall())
	if now > w.clock {
		w.clock = now
	} else {
		w.clock = meta.TickClock(w.clock)
	}

	return w.clock
}

func (w *Worker) mustDo(doFunc func() error) error {
	times := 0

	for {
		err := doFunc()
		if err == nil {
			break
		}

		if times >= w.opts.retries {
			return err
		}
		times++
		time.Sleep(time.Millisecond * 100)
	}

	return nil
}
