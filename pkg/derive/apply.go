package derive

import (
	"context"
	"time"

	"github.com/fagongzi/log"
	"github.com/infinivision/sluice/pkg/lambda"
	"github.com/infinivision/sluice/pkg/meta"
	"github.com/infinivision/sluice/pkg/metrics"
	"github.com/infinivision/sluice/pkg/shuffle"
)

// applyBlock folds the block's update rows into the registers,
// publishes and combines the output documents, and commits the
// registers with the covered checkpoint in one atomic batch. Any
// error rolls the registers back and halts the transform, its blocks
// still in flight are discarded.
func (w *Worker) applyBlock(b *block) {
	t := b.tf
	pk := t.progressKey()

	if b.err != nil {
		w.haltBlock(b, b.err)
		return
	}

	if t.update != nil && len(b.docs) > 0 {
		if len(b.rows) < len(b.docs) {
			w.haltBlock(b, meta.ErrTooFewRows)
			return
		}
		if len(b.rows) > len(b.docs) {
			w.haltBlock(b, meta.ErrTooManyRows)
			return
		}
	}

	var sources, befores, afters [][]byte
	for i, doc := range b.docs {
		values, err := w.registers.Read(doc.key)
		if err != nil {
			w.registers.Rollback()
			w.haltTransform(t, doc.offset, err)
			return
		}
		before := values[0]

		if t.update != nil {
			deltas := make([][]byte, 0, len(b.rows[i]))
			for _, row := range b.rows[i] {
				deltas = append(deltas, []byte(row))
			}

			if err := w.registers.Reduce(doc.key, deltas...); err != nil {
				w.registers.Rollback()
				w.haltTransform(t, doc.offset, err)
				return
			}
		}

		if t.publish != nil {
			values, err = w.registers.Read(doc.key)
			if err != nil {
				w.registers.Rollback()
				w.haltTransform(t, doc.offset, err)
				return
			}

			sources = append(sources, doc.content)
			befores = append(befores, before)
			afters = append(afters, values[0])
		}
	}

	if t.publish != nil && len(sources) > 0 {
		start := time.Now()
		rows, err := t.publish.Invoke(context.Background(), sources, befores, afters)
		metrics.LambdaDurationHistogram.WithLabelValues(
			w.shard.Derivation,
			t.spec.Name,
			metrics.KindPublish).Observe(time.Since(start).Seconds())

		if err != nil {
			w.haltBlock(b, err)
			return
		}
		if len(rows) < len(sources) {
			w.haltBlock(b, meta.ErrTooFewRows)
			return
		}
		if len(rows) > len(sources) {
			w.haltBlock(b, meta.ErrTooManyRows)
			return
		}

		for i, row := range rows {
			for _, out := range row {
				if w.opts.outputValidator != nil {
					if err := w.opts.outputValidator([]byte(out)); err != nil {
						w.registers.Rollback()
						w.haltTransform(t, b.docs[i].offset, err)
						return
					}
				}

				if err := w.combiner.Add([]byte(out)); err != nil {
					w.registers.Rollback()
					w.haltTransform(t, b.docs[i].offset, err)
					return
				}
			}
		}
	}

	if err := w.commitBlock(b, pk); err != nil {
		w.haltBlock(b, err)
		return
	}

	metrics.AppliedCounter.WithLabelValues(
		w.shard.Derivation,
		t.spec.Name,
		metrics.StatusSucceed).Add(float64(len(b.docs)))
}

// commitBlock drains the combiner into the output journal and
// prepares the registers with the block's checkpoint. The append
// happens before the checkpoint, a crash between the two re-applies
// the block and the sink deduplicates on the stale token.
func (w *Worker) commitBlock(b *block, pk string) error {
	t := b.tf

	token, err := w.opts.gen.Gen()
	if err != nil {
		w.registers.Rollback()
		return err
	}

	outputs := w.combiner.Drain()
	if len(outputs) > 0 {
		journal := w.spec.JournalName()
		stamped := make([][]byte, 0, len(outputs))
		for _, doc := range outputs {
			parts := meta.NewUUIDParts(w.producer, w.nextClock(), meta.FlagOutsideTxn)
			value, err := shuffle.StampDocument(doc, parts, token)
			if err != nil {
				w.registers.Rollback()
				return err
			}
			stamped = append(stamped, value)
		}

		if err := w.mustDo(func() error {
			_, err := w.opts.journals.AppendFenced(journal, token, stamped...)
			return err
		}); err != nil {
			w.registers.Rollback()
			return err
		}

		metrics.AppendCounter.WithLabelValues(journal).Add(float64(len(stamped)))
		metrics.CombinedCounter.WithLabelValues(w.spec.Name).Add(float64(len(stamped)))
	}

	cp := w.cp.Clone()
	if b.cpOffset > cp.Offsets[pk] {
		cp.Offsets[pk] = b.cpOffset
	}
	cp.Token = token

	if err := w.mustDo(func() error {
		return w.registers.Prepare(cp)
	}); err != nil {
		w.registers.Rollback()
		return err
	}

	w.cp = cp
	log.Debugf("%s committed %s to offset %d at token %d",
		w.tag,
		t.spec.Name,
		cp.Offsets[pk],
		token)
	return nil
}

func (w *Worker) haltBlock(b *block, err error) {
	offset := b.tf.cursor
	if len(b.docs) > 0 {
		offset = b.docs[0].offset

		if rowErr, ok := err.(*lambda.RowError); ok && rowErr.Row < len(b.docs) {
			offset = b.docs[rowErr.Row].offset
		}
	}

	w.registers.Rollback()
	w.haltTransform(b.tf, offset, err)
}

// haltTransform stops the transform at the offset pending an operator
// resume or skip. Sibling transforms of the derivation continue.
func (w *Worker) haltTransform(t *transform, offset int64, err error) {
	log.Errorf("%s transform %s halted at offset %d with %+v",
		w.tag,
		t.spec.Name,
		offset,
		err)

	t.halt(offset, err)
	metrics.HaltedGauge.WithLabelValues(w.shard.Derivation).Inc()
	metrics.AppliedCounter.WithLabelValues(
		w.shard.Derivation,
		t.spec.Name,
		metrics.StatusFailed).Inc()
}
