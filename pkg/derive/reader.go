package derive

import (
	"context"
	"fmt"
	"time"

	"github.com/fagongzi/log"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/infinivision/sluice/pkg/metrics"
	"github.com/infinivision/sluice/pkg/shuffle"
)

var (
	readChunk    = 64
	pollInterval = time.Millisecond * 10
)

// subscription is one member's shuffled read of one source journal,
// served by this worker as the transform's coordinator
type subscription struct {
	key     string
	req     meta.ShuffleRequest
	target  uint64
	stopped chan struct{}
}

func (s *subscription) stop() {
	select {
	case <-s.stopped:
	default:
		close(s.stopped)
	}
}

// subscribe sends this member's subscription for the transform to its
// coordinator, beginning at the checkpointed offset
func (w *Worker) subscribe(t *transform) error {
	ring, shards, err := w.opts.topology(w.shard.Derivation)
	if err != nil {
		return err
	}
	if len(shards) != len(ring.Members) {
		return fmt.Errorf("topology returned %d shards for %d members",
			len(shards),
			len(ring.Members))
	}

	coordinator := coordinatorIndex(t.spec.Name, len(ring.Members))
	offset := w.cp.Offsets[t.progressKey()]
	t.cursor = offset

	req := meta.ShuffleRequest{
		Config: meta.ShuffleConfig{
			Journal:     t.source.JournalName(),
			Ring:        ring,
			Coordinator: coordinator,
			Shuffles: []meta.Shuffle{
				{
					ShuffleKeyPtrs: t.keyPtrs,
					ChooseFrom:     uint32(len(ring.Members)),
				},
			},
		},
		Transform:   t.spec.Name,
		RingIndex:   w.shard.Index,
		Offset:      offset,
		DropOnError: t.spec.DropOnError,
	}
	if err := req.Validate(); err != nil {
		return err
	}

	log.Infof("%s subscribe %s at offset %d, coordinated by %s",
		w.tag,
		t.spec.Name,
		offset,
		req.Config.CoordinatorShard())

	w.opts.send(shards[coordinator], &meta.SubscribeMsg{
		To:      shards[coordinator],
		Request: req,
	})
	return nil
}

func (w *Worker) handleSubscribe(c *cmd) {
	req := c.req

	if !w.leader {
		log.Warnf("%s subscription of %s@%d but not leader, ignored",
			w.tag,
			req.Transform,
			req.RingIndex)
		return
	}

	if err := req.Validate(); err != nil {
		log.Errorf("%s invalid subscription of %s@%d: %+v",
			w.tag,
			req.Transform,
			req.RingIndex,
			err)
		return
	}

	_, shards, err := w.opts.topology(req.Config.Ring.Name)
	if err != nil {
		log.Errorf("%s resolve topology of %s failed with %+v",
			w.tag,
			req.Config.Ring.Name,
			err)
		return
	}
	if int(req.RingIndex) >= len(shards) {
		log.Errorf("%s subscription of %s@%d but only %d shards",
			w.tag,
			req.Transform,
			req.RingIndex,
			len(shards))
		return
	}

	sub := &subscription{
		key:     fmt.Sprintf("%s@%d", req.Transform, req.RingIndex),
		req:     req,
		target:  shards[req.RingIndex],
		stopped: make(chan struct{}),
	}

	// a re-subscription replaces the member's previous read
	if prev, ok := w.subs[sub.key]; ok {
		prev.stop()
	}
	w.subs[sub.key] = sub

	log.Infof("%s start shuffled read %s of %s at offset %d for shard %d",
		w.tag,
		sub.key,
		req.Config.Journal,
		req.Offset,
		sub.target)

	_, err = w.runner.RunCancelableTask(func(ctx context.Context) {
		w.runRead(ctx, sub)
	})
	if err != nil {
		log.Errorf("%s start shuffled read %s failed with %+v",
			w.tag,
			sub.key,
			err)
		delete(w.subs, sub.key)
	}
}

func (w *Worker) stopReads() {
	for _, sub := range w.subs {
		sub.stop()
	}
	w.subs = make(map[string]*subscription)
}

// runRead reads the subscribed journal, routes every document over
// the ring, and ships the subscriber its assigned documents. The
// shipped NextOffset advances even when a read chunk held nothing for
// this member, so the member's checkpoint follows the read.
func (w *Worker) runRead(ctx context.Context, sub *subscription) {
	req := sub.req

	router, err := shuffle.NewRouter(req.Config)
	if err != nil {
		w.faultRead(sub, err)
		return
	}

	extractor, err := shuffle.NewExtractor(req.Config.Shuffles[0].ShuffleKeyPtrs...)
	if err != nil {
		w.faultRead(sub, err)
		return
	}

	var (
		offset  = req.Offset
		shipped = req.Offset
		routeds []int
		keyBuf  []byte
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.stopped:
			return
		default:
		}

		if req.EndOffset != 0 && offset >= req.EndOffset {
			log.Infof("%s shuffled read %s completed at offset %d",
				w.tag,
				sub.key,
				offset)
			return
		}

		docs, next, err := w.opts.journals.Read(req.Config.Journal, offset, readChunk)
		if err != nil {
			w.faultRead(sub, err)
			return
		}
		if len(docs) == 0 {
			time.Sleep(pollInterval)
			continue
		}
		metrics.ReadCounter.WithLabelValues(req.Config.Journal).
			Add(float64(len(docs)))

		batch := meta.AcquireBatch()
		batch.Journal = req.Config.Journal
		batch.Transform = req.Transform

		at := offset
		for _, doc := range docs {
			docOffset := at
			at++

			uuid, err := shuffle.ExtractUUID(doc)
			if err != nil {
				if req.DropOnError {
					log.Warnf("%s dropped document at %s:%d: %+v",
						w.tag,
						req.Config.Journal,
						docOffset,
						err)
					continue
				}
				meta.ReleaseBatch(batch)
				w.faultRead(sub, fmt.Errorf("document at %s:%d: %+v",
					req.Config.Journal, docOffset, err))
				return
			}

			var key []byte
			var keyHash uint32
			if uuid.Flags() != meta.FlagAckTxn {
				keyBuf, err = extractor.ExtractKey(doc, keyBuf[:0])
				if err != nil {
					if req.DropOnError {
						log.Warnf("%s dropped document at %s:%d: %+v",
							w.tag,
							req.Config.Journal,
							docOffset,
							err)
						continue
					}
					meta.ReleaseBatch(batch)
					w.faultRead(sub, fmt.Errorf("document at %s:%d: %+v",
						req.Config.Journal, docOffset, err))
					return
				}
				key = keyBuf
				keyHash = shuffle.HashBytes(key)
			}

			routeds = router.Route(0, keyHash, uuid.Clock, uuid.Flags(), routeds)
			for _, idx := range routeds {
				if uint32(idx) == req.RingIndex {
					batch.Stage(docOffset, uuid, doc, key, keyHash)
					break
				}
			}
		}

		offset = next
		batch.NextOffset = next

		// ship when the member got documents or the journal progressed
		if len(batch.Documents) > 0 || next > shipped {
			shipped = next
			w.opts.send(sub.target, &meta.BatchMsg{
				To:    sub.target,
				Batch: batch,
			})
		} else {
			meta.ReleaseBatch(batch)
		}
	}
}

func (w *Worker) faultRead(sub *subscription, err error) {
	log.Errorf("%s shuffled read %s failed with %+v",
		w.tag,
		sub.key,
		err)

	w.opts.send(sub.target, &meta.FaultMsg{
		To:        sub.target,
		Transform: sub.req.Transform,
		Err:       err.Error(),
	})
}
