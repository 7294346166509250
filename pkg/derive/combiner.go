package derive

import (
	"bytes"

	"github.com/google/btree"
	"github.com/infinivision/sluice/pkg/reduce"
	"github.com/infinivision/sluice/pkg/shuffle"
)

// Combiner folds published output documents per the derived
// collection's key and reduction annotations before they reach the
// output journal. It is purely a reduction over output documents,
// register state never enters it.
type Combiner struct {
	extractor *shuffle.Extractor
	reducer   *reduce.Reducer
	tree      *btree.BTree
}

// NewCombiner returns a combiner over the collection key locations
func NewCombiner(keyPtrs []string, reducer *reduce.Reducer) (*Combiner, error) {
	extractor, err := shuffle.NewExtractor(keyPtrs...)
	if err != nil {
		return nil, err
	}

	return &Combiner{
		extractor: extractor,
		reducer:   reducer,
		tree:      btree.New(8),
	}, nil
}

type combined struct {
	key   []byte
	value []byte
}

// Less tree order is the packed key order
func (c *combined) Less(than btree.Item) bool {
	return bytes.Compare(c.key, than.(*combined).key) < 0
}

// Add combines the document under its collection key
func (c *Combiner) Add(doc []byte) error {
	key, err := c.extractor.ExtractKey(doc, nil)
	if err != nil {
		return err
	}

	item := c.tree.Get(&combined{key: key})
	if item == nil {
		c.tree.ReplaceOrInsert(&combined{
			key:   key,
			value: append([]byte(nil), doc...),
		})
		return nil
	}

	value, err := c.reducer.Reduce(item.(*combined).value, doc)
	if err != nil {
		return err
	}

	item.(*combined).value = value
	return nil
}

// Len returns the count of combined documents
func (c *Combiner) Len() int {
	return c.tree.Len()
}

// Drain returns the combined documents in key order and clears the
// combiner
func (c *Combiner) Drain() [][]byte {
	values := make([][]byte, 0, c.tree.Len())
	c.tree.Ascend(func(item btree.Item) bool {
		values = append(values, item.(*combined).value)
		return true
	})
	c.tree.Clear(false)

	return values
}
