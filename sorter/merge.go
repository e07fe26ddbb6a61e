package sorter

import (
	"sync"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	gbam "github.com/jourdren/picard/encoding/bam"
	"v.io/x/lib/vlog"
)

// shardSource is a sorted run of entries: a sortshard file or the
// in-memory tail.
type shardSource interface {
	scan() bool
	key() sortEntry
}

// memShard yields entries from a sorted slice.
type memShard struct {
	entries []sortEntry
	cur     sortEntry
}

func (m *memShard) scan() bool {
	if len(m.entries) == 0 {
		return false
	}
	m.cur = m.entries[0]
	m.entries = m.entries[1:]
	return true
}

func (m *memShard) key() sortEntry { return m.cur }

// mergeLeaf is one input of the N-way merge.
type mergeLeaf struct {
	// seq is a number (0,1,2..) assigned to distinguish mergeLeafs that are
	// merged into one destination.
	seq   int
	order Order
	src   shardSource
}

func (l *mergeLeaf) Compare(c1 llrb.Comparable) int {
	l1 := c1.(*mergeLeaf)
	if c := compareEntries(l.order, l.src.key(), l1.src.key()); c != 0 {
		return c
	}
	return l.seq - l1.seq
}

// Iterator yields the records of a finished Sorter in ascending key order.
// It implements the bamprovider.Iterator interface. Thread compatible.
type Iterator struct {
	order   Order
	header  *sam.Header
	shards  []string
	readers []*sortShardReader
	err     *errors.Once

	// Sort the inputs using a binary tree. The hope is that the leaf at the
	// top of the tree will stay at the top for many records, in which case
	// the merge costs amortized O(1) per record.
	leafs llrb.Tree
	// top is the leaf the current record was read from. It is kept out of
	// the tree until it needs to move.
	top       *mergeLeaf
	rec       *sam.Record
	nRecords  uint64
	closeOnce sync.Once
	closed    bool
}

func (it *Iterator) addLeaf(seq int, src shardSource) {
	if !src.scan() {
		return
	}
	it.leafs.Insert(&mergeLeaf{seq: seq, order: it.order, src: src})
}

// next returns the leaf holding the smallest remaining entry, or nil when
// all leafs are exhausted.
func (it *Iterator) next() *mergeLeaf {
	if top := it.top; top != nil {
		it.top = nil
		if top.src.scan() {
			min := it.leafs.Min()
			if min == nil || top.Compare(min) < 0 {
				return top
			}
			it.leafs.Insert(top)
		}
	}
	min := it.leafs.Min()
	if min == nil {
		return nil
	}
	it.leafs.DeleteMin()
	return min.(*mergeLeaf)
}

// Scan advances to the next record. It returns false at the end or on
// error.
func (it *Iterator) Scan() bool {
	if it.closed {
		vlog.Fatal("sorter: Scan after Close")
	}
	if it.err.Err() != nil {
		return false
	}
	top := it.next()
	if it.err.Err() != nil || top == nil {
		return false
	}
	it.top = top
	rec, err := gbam.Unmarshal(top.src.key().body, it.header)
	if err != nil {
		it.err.Set(errors.E(errors.Integrity, err, "decode sorted record"))
		return false
	}
	it.rec = rec
	it.nRecords++
	return true
}

// Record returns the current record. The caller owns it.
//
// REQUIRES: Scan returned true.
func (it *Iterator) Record() *sam.Record { return it.rec }

// Err returns the error encountered during the merge, if any.
func (it *Iterator) Err() error { return it.err.Err() }

// Close releases the sortshard readers and removes the sortshard files. It
// returns the value of Err(). Only the first call has effect.
func (it *Iterator) Close() error {
	it.closeOnce.Do(func() {
		it.closed = true
		for _, r := range it.readers {
			if r != nil {
				r.close()
			}
		}
		removeShards(it.shards)
		vlog.VI(1).Infof("Sorter iterator closed after %d records, removed %d sortshards",
			it.nRecords, len(it.shards))
		it.readers = nil
		it.leafs = llrb.Tree{}
		it.top = nil
	})
	return it.err.Err()
}
