package derive

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/infinivision/sluice/pkg/journal"
	"github.com/infinivision/sluice/pkg/lambda"
	"github.com/infinivision/sluice/pkg/local"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/infinivision/sluice/pkg/shuffle"
	"github.com/stretchr/testify/assert"
)

type testElector struct {
	sync.Mutex
	leaderCB, followerCB func()
}

func (e *testElector) Stop(shard uint64) {
}

func (e *testElector) CurrentLeader(shard uint64) (uint64, error) {
	return 0, nil
}

func (e *testElector) ElectionLoop(ctx context.Context, shard, currentPeerID uint64, nodeChecker func(uint64) bool, becomeLeader, becomeFollower func()) {
	e.Lock()
	e.leaderCB = becomeLeader
	e.followerCB = becomeFollower
	e.Unlock()

	<-ctx.Done()
}

func (e *testElector) ChangeLeaderTo(shard uint64, oldLeader, newLeader uint64) error {
	return nil
}

func (e *testElector) promote(t *testing.T) {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		e.Lock()
		cb := e.leaderCB
		e.Unlock()

		if cb != nil {
			cb()
			return
		}
		time.Sleep(time.Millisecond)
	}

	t.Fatalf("election loop never started")
}

func (e *testElector) demote() {
	e.Lock()
	cb := e.followerCB
	e.Unlock()

	if cb != nil {
		cb()
	}
}

type movement struct {
	Account string  `json:"account"`
	Amount  float64 `json:"amount"`
}

var malloryRejected int32

// holdUpdate makes the next hold-update invocation block until the
// test releases holdGate
var (
	holdUpdate  int32
	holdEntered = make(chan struct{}, 8)
	holdGate    = make(chan struct{}, 8)
)

func init() {
	lambda.RegisterBuiltin("test-balance-hold-update", func(source, before, after []byte) ([]json.RawMessage, error) {
		if atomic.CompareAndSwapInt32(&holdUpdate, 1, 0) {
			holdEntered <- struct{}{}
			<-holdGate
		}

		var m movement
		if err := json.Unmarshal(source, &m); err != nil {
			return nil, err
		}

		delta := fmt.Sprintf(`{"balance":%s}`,
			strconv.FormatFloat(m.Amount, 'f', -1, 64))
		return []json.RawMessage{json.RawMessage(delta)}, nil
	})
}

func init() {
	lambda.RegisterBuiltin("test-balance-update", func(source, before, after []byte) ([]json.RawMessage, error) {
		var m movement
		if err := json.Unmarshal(source, &m); err != nil {
			return nil, err
		}
		if m.Account == "mallory" && atomic.LoadInt32(&malloryRejected) == 1 {
			return nil, fmt.Errorf("mallory is rejected")
		}

		delta := fmt.Sprintf(`{"balance":%s}`,
			strconv.FormatFloat(m.Amount, 'f', -1, 64))
		return []json.RawMessage{json.RawMessage(delta)}, nil
	})

	lambda.RegisterBuiltin("test-balance-publish", func(source, before, after []byte) ([]json.RawMessage, error) {
		var m movement
		if err := json.Unmarshal(source, &m); err != nil {
			return nil, err
		}

		var reg struct {
			Balance float64 `json:"balance"`
		}
		if err := json.Unmarshal(after, &reg); err != nil {
			return nil, err
		}

		out := fmt.Sprintf(`{"account":%q,"balance":%s}`,
			m.Account,
			strconv.FormatFloat(reg.Balance, 'f', -1, 64))
		return []json.RawMessage{json.RawMessage(out)}, nil
	})
}

func balancesCatalog(readDelaySeconds uint32) meta.CatalogSpec {
	return meta.CatalogSpec{
		Collections: []meta.CollectionSpec{
			{
				Name: "movements",
				Key:  []string{"/account"},
			},
			{
				Name: "balances",
				Key:  []string{"/account"},
				Derivation: &meta.DerivationSpec{
					Register: meta.RegisterSpec{
						Reductions: map[string]string{
							"":         "merge",
							"/balance": "sum",
						},
					},
					Transforms: []meta.TransformSpec{
						{
							Name:             "fromMovements",
							Source:           "movements",
							ReadDelaySeconds: readDelaySeconds,
							Update:           &meta.LambdaSpec{Builtin: "test-balance-update"},
							Publish:          &meta.LambdaSpec{Builtin: "test-balance-publish"},
						},
					},
				},
			},
		},
	}
}

type ingestor struct {
	producer meta.ProducerID
	clock    uint64
}

func newIngestor() *ingestor {
	return &ingestor{
		producer: meta.NewProducerID(),
		clock:    meta.NewClock(time.Now()),
	}
}

func (i *ingestor) stamp(t *testing.T, doc string, flags uint16) []byte {
	i.clock = meta.TickClock(i.clock)
	value, err := shuffle.StampDocument([]byte(doc),
		meta.NewUUIDParts(i.producer, i.clock, flags), 0)
	assert.NoErrorf(t, err, "stamp failed with %+v", err)
	return value
}

func newTestWorker(t *testing.T, catalog meta.CatalogSpec) (*Worker, journal.Store, *testElector) {
	js := journal.NewMemStore()
	elector := &testElector{}

	w, err := NewWorker(meta.Shard{ID: 1, Derivation: "balances"}, 2, catalog,
		WithJournalStore(js),
		WithLocalStorage(local.NewMemStorage()),
		WithElector(elector))
	assert.NoErrorf(t, err, "create worker failed with %+v", err)

	return w, js, elector
}

func waitFor(t *testing.T, what string, check func() bool) {
	deadline := time.Now().Add(time.Second * 5)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}

	t.Fatalf("%s never reached", what)
}

func readBalances(t *testing.T, js journal.Store) map[string]float64 {
	docs, _, err := js.Read("balances", 0, 0)
	assert.NoErrorf(t, err, "read balances failed with %+v", err)

	out := make(map[string]float64)
	for _, doc := range docs {
		var v struct {
			Account string  `json:"account"`
			Balance float64 `json:"balance"`
		}
		assert.NoErrorf(t, json.Unmarshal(doc, &v), "parse balance failed")
		out[v.Account] = v.Balance
	}

	return out
}

func queryState(t *testing.T, w *Worker) DerivationState {
	c := make(chan DerivationState, 1)
	w.State(func(s DerivationState, err error) {
		assert.NoErrorf(t, err, "query state failed with %+v", err)
		c <- s
	})

	select {
	case s := <-c:
		return s
	case <-time.After(time.Second * 5):
		t.Fatalf("query state timeout")
	}

	return DerivationState{}
}

func TestWorkerBalances(t *testing.T) {
	w, js, elector := newTestWorker(t, balancesCatalog(0))
	defer w.Stop()

	in := newIngestor()
	js.Append("movements",
		in.stamp(t, `{"account":"alice","amount":-100}`, meta.FlagOutsideTxn),
		in.stamp(t, `{"account":"bob","amount":50}`, meta.FlagOutsideTxn),
		in.stamp(t, `{"account":"alice","amount":-25}`, meta.FlagOutsideTxn),
		in.stamp(t, `{"account":"carol","amount":75}`, meta.FlagOutsideTxn))

	elector.promote(t)

	waitFor(t, "all movements applied", func() bool {
		return queryState(t, w).Transforms[0].Offset == 4
	})

	balances := readBalances(t, js)
	assert.Equal(t, float64(-125), balances["alice"], "check alice")
	assert.Equal(t, float64(50), balances["bob"], "check bob")
	assert.Equal(t, float64(75), balances["carol"], "check carol")

	state := queryState(t, w)
	assert.True(t, state.Leader, "check leader")
	assert.Equal(t, meta.TransformStatusRunning.Name(), state.Transforms[0].Status, "check status")
	assert.NotEqual(t, uint64(0), state.Token, "check token")
}

func TestWorkerPipelinedMatchesSerial(t *testing.T) {
	w, js, elector := newTestWorker(t, balancesCatalog(0))
	defer w.Stop()

	elector.promote(t)

	// many single-document appends force many pipelined blocks, the
	// per-key result must still be the serial fold
	in := newIngestor()
	total := float64(0)
	for i := 1; i <= 40; i++ {
		js.Append("movements",
			in.stamp(t, fmt.Sprintf(`{"account":"alice","amount":%d}`, i), meta.FlagOutsideTxn))
		total += float64(i)
	}

	waitFor(t, "all movements applied", func() bool {
		return queryState(t, w).Transforms[0].Offset == 40
	})

	assert.Equal(t, total, readBalances(t, js)["alice"], "check folded balance")
}

func TestWorkerHaltAndResume(t *testing.T) {
	atomic.StoreInt32(&malloryRejected, 1)
	defer atomic.StoreInt32(&malloryRejected, 0)

	w, js, elector := newTestWorker(t, balancesCatalog(0))
	defer w.Stop()

	in := newIngestor()
	js.Append("movements",
		in.stamp(t, `{"account":"alice","amount":-100}`, meta.FlagOutsideTxn),
		in.stamp(t, `{"account":"mallory","amount":666}`, meta.FlagOutsideTxn),
		in.stamp(t, `{"account":"bob","amount":50}`, meta.FlagOutsideTxn))

	elector.promote(t)

	waitFor(t, "transform halted", func() bool {
		return queryState(t, w).Transforms[0].Status == meta.TransformStatusHalted.Name()
	})

	state := queryState(t, w)
	assert.Equal(t, int64(1), state.Transforms[0].HaltAt, "check halt offset")
	assert.NotEqual(t, "", state.Transforms[0].HaltError, "check halt error")

	// the halted block rolled back wholesale
	assert.Equal(t, 0, len(readBalances(t, js)), "check no partial commit")

	// the operator fixed the lambda, resume retries the block
	atomic.StoreInt32(&malloryRejected, 0)

	errC := make(chan error, 1)
	w.Manual(meta.Manual{
		Derivation: "balances",
		Transform:  "fromMovements",
		Action:     meta.ManualResume,
	}, func(err error) {
		errC <- err
	})
	assert.NoErrorf(t, <-errC, "manual resume failed")

	waitFor(t, "all movements applied", func() bool {
		return queryState(t, w).Transforms[0].Offset == 3
	})

	balances := readBalances(t, js)
	assert.Equal(t, float64(-100), balances["alice"], "check alice")
	assert.Equal(t, float64(666), balances["mallory"], "check mallory")
	assert.Equal(t, float64(50), balances["bob"], "check bob")
}

func TestWorkerHaltAndSkip(t *testing.T) {
	atomic.StoreInt32(&malloryRejected, 1)
	defer atomic.StoreInt32(&malloryRejected, 0)

	w, js, elector := newTestWorker(t, balancesCatalog(0))
	defer w.Stop()

	in := newIngestor()
	js.Append("movements",
		in.stamp(t, `{"account":"alice","amount":-100}`, meta.FlagOutsideTxn),
		in.stamp(t, `{"account":"mallory","amount":666}`, meta.FlagOutsideTxn),
		in.stamp(t, `{"account":"bob","amount":50}`, meta.FlagOutsideTxn))

	elector.promote(t)

	waitFor(t, "transform halted", func() bool {
		return queryState(t, w).Transforms[0].Status == meta.TransformStatusHalted.Name()
	})

	errC := make(chan error, 1)
	w.Manual(meta.Manual{
		Derivation: "balances",
		Transform:  "fromMovements",
		Action:     meta.ManualSkip,
	}, func(err error) {
		errC <- err
	})
	assert.NoErrorf(t, <-errC, "manual skip failed")

	waitFor(t, "all movements applied", func() bool {
		return queryState(t, w).Transforms[0].Offset == 3
	})

	balances := readBalances(t, js)
	assert.Equal(t, float64(-100), balances["alice"], "check alice")
	assert.Equal(t, float64(50), balances["bob"], "check bob")
	_, ok := balances["mallory"]
	assert.False(t, ok, "check mallory skipped")
}

func TestWorkerTransactionFencing(t *testing.T) {
	w, js, elector := newTestWorker(t, balancesCatalog(0))
	defer w.Stop()

	elector.promote(t)

	// open transaction documents hold until their producer's ack
	in := newIngestor()
	js.Append("movements",
		in.stamp(t, `{"account":"alice","amount":10}`, meta.FlagContinueTxn),
		in.stamp(t, `{"account":"alice","amount":5}`, meta.FlagContinueTxn))

	time.Sleep(time.Millisecond * 200)
	assert.Equal(t, 0, len(readBalances(t, js)), "check txn held")
	assert.Equal(t, int64(0), queryState(t, w).Transforms[0].Offset, "check offset fenced")

	js.Append("movements", in.stamp(t, `{}`, meta.FlagAckTxn))

	waitFor(t, "transaction applied", func() bool {
		return queryState(t, w).Transforms[0].Offset == 3
	})

	assert.Equal(t, float64(15), readBalances(t, js)["alice"], "check alice")
}

func TestWorkerReadDelayGates(t *testing.T) {
	w, js, elector := newTestWorker(t, balancesCatalog(1))
	defer w.Stop()

	elector.promote(t)

	in := newIngestor()
	js.Append("movements",
		in.stamp(t, `{"account":"alice","amount":30}`, meta.FlagOutsideTxn))

	time.Sleep(time.Millisecond * 300)
	assert.Equal(t, 0, len(readBalances(t, js)), "check gated")

	waitFor(t, "gate released", func() bool {
		return queryState(t, w).Transforms[0].Offset == 1
	})

	assert.Equal(t, float64(30), readBalances(t, js)["alice"], "check alice")
}

func TestWorkerFollowerRejectsManual(t *testing.T) {
	w, _, _ := newTestWorker(t, balancesCatalog(0))
	defer w.Stop()

	errC := make(chan error, 1)
	w.Manual(meta.Manual{Transform: "fromMovements"}, func(err error) {
		errC <- err
	})
	assert.Equal(t, meta.ErrNotLeader, <-errC, "check not leader")
}

func TestWorkerDemoteStopsApply(t *testing.T) {
	w, js, elector := newTestWorker(t, balancesCatalog(0))
	defer w.Stop()

	elector.promote(t)

	in := newIngestor()
	js.Append("movements",
		in.stamp(t, `{"account":"alice","amount":10}`, meta.FlagOutsideTxn))

	waitFor(t, "movement applied", func() bool {
		return queryState(t, w).Transforms[0].Offset == 1
	})

	elector.demote()
	waitFor(t, "follower", func() bool {
		return !w.IsLeader()
	})

	js.Append("movements",
		in.stamp(t, `{"account":"alice","amount":20}`, meta.FlagOutsideTxn))

	time.Sleep(time.Millisecond * 200)
	assert.Equal(t, float64(10), readBalances(t, js)["alice"], "check follower applies nothing")
}

func TestWorkerSplitAfterLeaderFlap(t *testing.T) {
	spec := balancesCatalog(0)
	spec.Collections[1].Derivation.Transforms[0].Update = &meta.LambdaSpec{Builtin: "test-balance-hold-update"}

	w, js, elector := newTestWorker(t, spec)
	defer w.Stop()

	atomic.StoreInt32(&holdUpdate, 1)
	in := newIngestor()
	js.Append("movements",
		in.stamp(t, `{"account":"alice","amount":10}`, meta.FlagOutsideTxn))

	elector.promote(t)

	select {
	case <-holdEntered:
	case <-time.After(time.Second * 5):
		t.Fatalf("update invocation never started")
	}

	// demote with the invocation still in flight
	elector.demote()
	waitFor(t, "follower", func() bool {
		return !w.IsLeader()
	})

	// the stale invocation completes after the demotion and must not
	// disturb the next term's pipeline accounting
	holdGate <- struct{}{}

	elector.promote(t)
	waitFor(t, "movement applied", func() bool {
		return queryState(t, w).Transforms[0].Offset == 1
	})

	moveC := make(chan error, 1)
	w.SplitTo(2, 0, func(moved int, err error) {
		moveC <- err
	})
	assert.NoErrorf(t, <-moveC, "split after leader flap failed")
}

func TestWorkerShuffleKeyTypeMismatch(t *testing.T) {
	w, js, elector := newTestWorker(t, balancesCatalog(0))
	defer w.Stop()

	in := newIngestor()
	js.Append("movements",
		in.stamp(t, `{"account":"alice","amount":1}`, meta.FlagOutsideTxn),
		in.stamp(t, `{"account":7,"amount":1}`, meta.FlagOutsideTxn))

	elector.promote(t)

	waitFor(t, "transform halted", func() bool {
		return queryState(t, w).Transforms[0].Status == meta.TransformStatusHalted.Name()
	})

	state := queryState(t, w)
	assert.Contains(t, state.Transforms[0].HaltError, "shuffle key component types", "check halt error failed")
	assert.Equal(t, int64(1), state.Transforms[0].HaltAt, "check halt offset failed")
	assert.Equal(t, 0, len(readBalances(t, js)), "check nothing applied failed")
}

func TestPickTransformPriority(t *testing.T) {
	newT := func(name string, priority uint32) *transform {
		tf, err := newTransform(
			meta.TransformSpec{Name: name, Source: "movements", Priority: priority},
			meta.CollectionSpec{Name: "movements", Key: []string{"/account"}},
			&options{})
		assert.NoErrorf(t, err, "new transform failed with %+v", err)
		return tf
	}
	stage := func(tf *transform, clocks ...uint64) {
		for _, c := range clocks {
			tf.pending = append(tf.pending, &stagedDoc{uuid: meta.UUIDParts{Clock: c}})
		}
	}

	clock := meta.NewClock(time.Now())
	now := time.Now()

	// the higher priority backlog drains before any lower priority
	// document is admitted, even with an earlier head clock pending
	low := newT("low", 0)
	high := newT("high", 10)
	stage(low, clock)
	stage(high, clock+10)

	w := &Worker{transforms: []*transform{low, high}}
	assert.Equal(t, high, w.pickTransform(now), "check priority admission failed")

	high.pending = high.pending[:0]
	assert.Equal(t, low, w.pickTransform(now), "check drained backlog handoff failed")

	// equal priorities tie break on the earliest adjusted head clock
	a := newT("a", 1)
	b := newT("b", 1)
	stage(a, clock+20)
	stage(b, clock+5)

	w = &Worker{transforms: []*transform{a, b}}
	assert.Equal(t, b, w.pickTransform(now), "check clock tie break failed")

	// a halted transform is never admitted
	b.halt(0, fmt.Errorf("rejected"))
	assert.Equal(t, a, w.pickTransform(now), "check halted skip failed")

	a.pending = a.pending[:0]
	assert.Nil(t, w.pickTransform(now), "check empty pick failed")
}
