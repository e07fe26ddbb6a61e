package bamprovider

import (
	"github.com/grailbio/hts/sam"
)

// fakeProvider is only for unittests. It yields the given records.
type fakeProvider struct {
	header *sam.Header
	recs   []*sam.Record

	// failAfter, when err is set, is the number of records yielded before
	// the iterator reports err.
	failAfter int
	err       error
	closed    bool
}

type fakeIterator struct {
	p    *fakeProvider
	recs []*sam.Record
	rec  *sam.Record
	n    int
	err  error
}

// NewFakeProvider creates a provider that returns "header" in response to a
// GetHeader() call, and recs, in order, from its iterators.
func NewFakeProvider(header *sam.Header, recs []*sam.Record) Provider {
	return &fakeProvider{header: header, recs: recs}
}

// NewFailingFakeProvider is like NewFakeProvider, but its iterators fail with
// err after yielding n records.
func NewFailingFakeProvider(header *sam.Header, recs []*sam.Record, n int, err error) Provider {
	return &fakeProvider{header: header, recs: recs, failAfter: n, err: err}
}

// GetHeader implements the Provider interface. It returns the header passed to
// the constructor.
func (b *fakeProvider) GetHeader() (*sam.Header, error) {
	return b.header, nil
}

// Close implements the Provider interface.
func (b *fakeProvider) Close() error {
	if b.closed {
		panic("fakeProvider closed twice")
	}
	b.closed = true
	return nil
}

// NewIterator implements the Provider interface.
func (b *fakeProvider) NewIterator() Iterator {
	return &fakeIterator{p: b, recs: b.recs}
}

// Err implements the Iterator interface.
func (i *fakeIterator) Err() error {
	return i.err
}

// Close implements the Iterator interface.
func (i *fakeIterator) Close() error {
	return i.err
}

func (i *fakeIterator) Scan() bool {
	if i.err != nil {
		return false
	}
	if i.p.err != nil && i.n >= i.p.failAfter {
		i.err = i.p.err
		return false
	}
	if len(i.recs) == 0 {
		return false
	}
	i.rec = i.recs[0]
	i.recs = i.recs[1:]
	i.n++
	return true
}

func (i *fakeIterator) Record() *sam.Record {
	// Return a copy so that the code under test cannot alter the
	// original test input data.
	copy := sam.GetFromFreePool()
	*copy = *i.rec
	return copy
}
