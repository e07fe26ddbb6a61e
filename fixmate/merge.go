package fixmate

import (
	"strings"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/jourdren/picard/encoding/bamprovider"
	"github.com/jourdren/picard/sorter"
)

// MergeHeaders merges the headers of the inputs into one header. It also
// returns, for each input, the table that maps the input's reference ids to
// references of the merged header. The merged header is queryname sorted if
// every input is, else unsorted. The input headers are not modified.
func MergeHeaders(headers []*sam.Header) (*sam.Header, [][]*sam.Reference, error) {
	if len(headers) == 0 {
		return nil, nil, errors.E(errors.Invalid, "no headers to merge")
	}
	if len(headers) == 1 {
		h := headers[0].Clone()
		h.SortOrder = sam.Unsorted
		if allQueryName(headers) {
			h.SortOrder = sam.QueryName
		}
		return h, [][]*sam.Reference{h.Refs()}, nil
	}
	clones := make([]*sam.Header, len(headers))
	for i, h := range headers {
		clones[i] = h.Clone()
	}
	merged, links, err := sam.MergeHeaders(clones)
	if err != nil {
		return nil, nil, errors.E(errors.Invalid, err, "merge input headers")
	}
	merged.SortOrder = sam.Unsorted
	if allQueryName(headers) {
		merged.SortOrder = sam.QueryName
	}
	if merged.Version == "" {
		merged.Version = headers[0].Version
	}
	return merged, links, nil
}

func allQueryName(headers []*sam.Header) bool {
	for _, h := range headers {
		if h.SortOrder != sam.QueryName {
			return false
		}
	}
	return true
}

// mergeStrategy is the way the inputs are turned into one name ordered
// stream.
type mergeStrategy int

const (
	// directMerge streams a k-way merge of inputs that are already queryname
	// sorted.
	directMerge mergeStrategy = iota
	// externalSort feeds every input record to an external sorter.
	externalSort
)

func (s mergeStrategy) String() string {
	if s == externalSort {
		return "external sort"
	}
	return "direct merge"
}

// chooseStrategy picks directMerge if every input declares queryname order or
// the caller asserts that they are.
func chooseStrategy(headers []*sam.Header, assumeSorted bool) mergeStrategy {
	if assumeSorted || allQueryName(headers) {
		return directMerge
	}
	return externalSort
}

// remapIterator points the references of the records of one input at the
// references of the merged header.
type remapIterator struct {
	bamprovider.Iterator
	links []*sam.Reference
	rec   *sam.Record // the current record, with remapped references.
	err   error
}

func (it *remapIterator) remap(ref *sam.Reference) *sam.Reference {
	if ref == nil {
		return nil
	}
	id := ref.ID()
	if id < 0 || id >= len(it.links) {
		it.err = errors.E(errors.Integrity, "reference", ref.Name(), "is not in the header")
		return nil
	}
	return it.links[id]
}

func (it *remapIterator) Scan() bool {
	if it.err != nil || !it.Iterator.Scan() {
		return false
	}
	// Some providers return a fresh copy on every Record call, so the
	// remapped record is kept here.
	it.rec = it.Iterator.Record()
	it.rec.Ref = it.remap(it.rec.Ref)
	it.rec.MateRef = it.remap(it.rec.MateRef)
	return it.err == nil
}

func (it *remapIterator) Record() *sam.Record { return it.rec }

func (it *remapIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.Iterator.Err()
}

func (it *remapIterator) Close() error {
	err := it.Iterator.Close()
	if it.err != nil {
		return it.err
	}
	return err
}

// mergeInputs returns one queryname ordered iterator over the records of all
// providers. The references of the records point into header. Closing the
// iterator closes every input iterator and removes any spill file.
func mergeInputs(providers []bamprovider.Provider, header *sam.Header, links [][]*sam.Reference,
	strategy mergeStrategy, opts *Opts) (bamprovider.Iterator, error) {
	iters := make([]bamprovider.Iterator, len(providers))
	for i, p := range providers {
		iters[i] = &remapIterator{Iterator: p.NewIterator(), links: links[i]}
	}
	log.Printf("merging %d inputs by %v", len(providers), strategy)
	if strategy == directMerge {
		if len(iters) == 1 {
			return iters[0], nil
		}
		return newNameMergeIterator(iters), nil
	}
	return sortByName(iters, header, opts)
}

// sortByName drains every iterator into an external sorter and closes them.
func sortByName(iters []bamprovider.Iterator, header *sam.Header, opts *Opts) (bamprovider.Iterator, error) {
	s := sorter.NewSorter(header, sorter.SortOptions{
		Order:         sorter.ByName,
		SortBatchSize: opts.MaxRecordsInRAM,
		TmpDir:        opts.TmpDir,
	})
	var err errors.Once
	for i, it := range iters {
		for err.Err() == nil && it.Scan() {
			err.Set(s.AddRecord(it.Record()))
		}
		if e := it.Close(); e != nil {
			err.Set(errors.E(e, "read", opts.Inputs[i]))
		}
	}
	if err.Err() != nil {
		s.Discard()
		return nil, err.Err()
	}
	log.Debug.Printf("sorted %d records by name, %d spills", s.NumRecords(), s.NumSpills())
	return s.Finish()
}

// nameLeaf is one input of nameMergeIterator.
type nameLeaf struct {
	index int
	iter  bamprovider.Iterator
	rec   *sam.Record
}

func (l *nameLeaf) Compare(c llrb.Comparable) int {
	l1 := c.(*nameLeaf)
	if c := strings.Compare(l.rec.Name, l1.rec.Name); c != 0 {
		return c
	}
	return l.index - l1.index
}

// nameMergeIterator merges queryname sorted iterators. Records with equal
// names are yielded in input order.
type nameMergeIterator struct {
	iters  []bamprovider.Iterator
	leafs  llrb.Tree
	top    *nameLeaf
	rec    *sam.Record
	err    errors.Once
	closed bool
}

func newNameMergeIterator(iters []bamprovider.Iterator) *nameMergeIterator {
	m := &nameMergeIterator{iters: iters}
	for i, it := range iters {
		m.advance(&nameLeaf{index: i, iter: it})
	}
	return m
}

// advance reads the next record of the leaf and puts the leaf back in the
// tree, unless its input is exhausted.
func (m *nameMergeIterator) advance(l *nameLeaf) {
	if !l.iter.Scan() {
		m.err.Set(l.iter.Err())
		l.rec = nil
		return
	}
	l.rec = l.iter.Record()
	m.leafs.Insert(l)
}

func (m *nameMergeIterator) Scan() bool {
	if m.top != nil {
		m.advance(m.top)
		m.top = nil
	}
	if m.err.Err() != nil {
		return false
	}
	min := m.leafs.Min()
	if min == nil {
		return false
	}
	m.leafs.DeleteMin()
	m.top = min.(*nameLeaf)
	m.rec = m.top.rec
	return true
}

func (m *nameMergeIterator) Record() *sam.Record { return m.rec }

func (m *nameMergeIterator) Err() error { return m.err.Err() }

func (m *nameMergeIterator) Close() error {
	if !m.closed {
		m.closed = true
		for _, it := range m.iters {
			m.err.Set(it.Close())
		}
	}
	return m.err.Err()
}
