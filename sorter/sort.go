package sorter

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"sort"

	psort "github.com/exascience/pargo/sort"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hts/sam"
	gbam "github.com/jourdren/picard/encoding/bam"
	"v.io/x/lib/vlog"
)

// DefaultSortBatchSize is the default number of records to keep in
// memory before resorting to external sorting.
const DefaultSortBatchSize = 500000

// Order selects the key records are sorted by.
type Order int

const (
	// ByName orders records by query name, compared bytewise.
	ByName Order = iota
	// ByCoordinate orders records by reference id with unmapped records
	// last, then alignment position, then forward before reverse strand.
	ByCoordinate
)

func (o Order) String() string {
	if o == ByCoordinate {
		return "coordinate"
	}
	return "queryname"
}

// SortOptions controls options passed to NewSorter.
type SortOptions struct {
	// Order is the sort key.
	Order Order

	// SortBatchSize is the number of sam.Records to keep in memory before
	// spilling a sorted run to a temp file. If <= 0, DefaultSortBatchSize is
	// used.
	SortBatchSize int

	// NoCompressTmpFiles, if false (default), compress sortshards using snappy.
	NoCompressTmpFiles bool

	// TmpDir defines the directory to store temp files. "" means the system
	// default, usually /tmp.
	TmpDir string
}

// recCoord encodes reference id, alignment position, and the reverse flag.  Sort
// order of recCoord is the same as the SAM "coord" sort order.
type recCoord uint64

// A key used for all unmapped reads. Corresponds to (refid,pos)=(-1,-1)
const unmappedCoord recCoord = 0x7ffffffffffffffe

func makeCoord(refid, pos int, reverse bool) (key recCoord) {
	// This is the same as compareCoordinatesAndStrand function in sambamba.
	if refid < 0 {
		key = unmappedCoord
	} else {
		key = (recCoord(refid) << 33) | recCoord(uint32(pos))<<1
	}
	if reverse {
		key |= recCoord(1)
	}
	return
}

func parseCoord(coord recCoord) (refid, pos int, reverse bool) {
	if (coord & unmappedCoord) == unmappedCoord {
		refid = -1
		pos = -1
	} else {
		refid = int(int32(coord >> 33))
		pos = int(int32((coord & 0x1ffffffff) >> 1))
	}
	reverse = (coord & 1) != 0
	return
}

// sortEntry is an efficient encoding of sam.Record sort order.
type sortEntry struct {
	seq   uint64   // insertion sequence number, unique within a Sorter.
	coord recCoord // set iff the order is ByCoordinate.
	name  []byte   // set iff the order is ByName. Aliases body.
	body  []byte   // Contains the full record in bam serialized form.
}

func newSortEntry(order Order, seq uint64, body []byte) sortEntry {
	e := sortEntry{seq: seq, body: body}
	if order == ByCoordinate {
		refID, pos, reverse := gbam.CoordFromBAM(body)
		e.coord = makeCoord(int(refID), int(pos), reverse)
	} else {
		e.name = gbam.NameFromBAM(body)
	}
	return e
}

func (k sortEntry) String() string {
	if k.name != nil {
		return fmt.Sprintf("(%s,%d)", k.name, k.seq)
	}
	refid, pos, reverse := parseCoord(k.coord)
	return fmt.Sprintf("(%d,%d,%v,%d)", refid, pos, reverse, k.seq)
}

// compareEntries returns -1, 0, 1 if k0 < k1, k0==k1, k0 > k1, respectively.
// Ties on the sort key are broken by insertion order.
func compareEntries(order Order, k0, k1 sortEntry) int {
	if order == ByCoordinate {
		if k0.coord < k1.coord {
			return -1
		}
		if k0.coord > k1.coord {
			return 1
		}
	} else if c := bytes.Compare(k0.name, k1.name); c != 0 {
		return c
	}
	switch {
	case k0.seq < k1.seq:
		return -1
	case k0.seq > k1.seq:
		return 1
	}
	return 0
}

// entrySorter implements psort.StableSorter.
type entrySorter struct {
	order   Order
	entries []sortEntry
}

func (s entrySorter) SequentialSort(i, j int) {
	e := s.entries[i:j]
	sort.SliceStable(e, func(a, b int) bool {
		return compareEntries(s.order, e[a], e[b]) < 0
	})
}

func (s entrySorter) NewTemp() psort.StableSorter {
	return entrySorter{order: s.order, entries: make([]sortEntry, len(s.entries))}
}

func (s entrySorter) Len() int {
	return len(s.entries)
}

func (s entrySorter) Less(i, j int) bool {
	return compareEntries(s.order, s.entries[i], s.entries[j]) < 0
}

func (s entrySorter) Assign(source psort.StableSorter) func(i, j, len int) {
	dst, src := s.entries, source.(entrySorter).entries
	return func(i, j, len int) {
		copy(dst[i:i+len], src[j:j+len])
	}
}

// Sorter is an external sorter of sam.Records. Records are added in any
// order with AddRecord; Finish returns an iterator that yields them in
// ascending key order. Records with equal keys are yielded in the order they
// were added.
//
// At most SortBatchSize records are held in memory. When the buffer is full
// it is sorted and written to a sortshard file in TmpDir. Finish merges the
// sortshard files and the in-memory tail.
//
// Example:
//   sorter := NewSorter(header, SortOptions{Order: ByName})
//   for _, rec := range recordlist {
//     if err := sorter.AddRecord(rec); err != nil { ... }
//   }
//   iter, err := sorter.Finish()
//   for iter.Scan() { ... iter.Record() ... }
//   err = iter.Close()
//
// Thread compatible.
type Sorter struct {
	options  SortOptions
	header   *sam.Header
	nextSeq  uint64
	recs     []sortEntry
	shards   []string // pathnames of temp sortshard files.
	err      errors.Once
	finished bool
}

// NewSorter creates a Sorter object. "header" must contain all the
// references used by records to be added later.
func NewSorter(header *sam.Header, optList ...SortOptions) *Sorter {
	options := SortOptions{}
	if len(optList) > 0 {
		if len(optList) > 1 {
			vlog.Fatalf("More than options specified: %v", optList)
		}
		options = optList[0]
	}
	if options.SortBatchSize <= 0 {
		options.SortBatchSize = DefaultSortBatchSize
	}
	vlog.VI(1).Infof("New Sorter: %+v", options)
	return &Sorter{options: options, header: header}
}

// NumRecords returns the number of records added so far.
func (s *Sorter) NumRecords() uint64 { return s.nextSeq }

// NumSpills returns the number of sortshard files written so far.
func (s *Sorter) NumSpills() int { return len(s.shards) }

// AddRecord adds a record to the sorter. The record is serialized, so the
// caller keeps ownership of "rec". An error writing a sortshard is returned
// immediately and is sticky.
func (s *Sorter) AddRecord(rec *sam.Record) error {
	if s.finished {
		return errors.E(errors.Invalid, "sorter: AddRecord after Finish")
	}
	if err := s.err.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := gbam.Marshal(rec, &buf); err != nil {
		s.err.Set(errors.E(errors.Invalid, err, "record", rec.Name))
		return s.err.Err()
	}
	s.recs = append(s.recs, newSortEntry(s.options.Order, s.nextSeq, buf.Bytes()))
	s.nextSeq++
	if len(s.recs) >= s.options.SortBatchSize {
		s.spill()
	}
	return s.err.Err()
}

func (s *Sorter) sortRecords(records []sortEntry) {
	psort.StableSort(entrySorter{order: s.options.Order, entries: records})
}

// spill sorts the buffered records and writes them to a new sortshard file.
func (s *Sorter) spill() {
	vlog.VI(1).Infof("Sorting %d records, first seq %d", len(s.recs), s.recs[0].seq)
	s.sortRecords(s.recs)
	temp, err := ioutil.TempFile(s.options.TmpDir, "fixmatesort")
	if err != nil {
		s.err.Set(errors.E(err, "create sortshard"))
		return
	}
	s.shards = append(s.shards, temp.Name())
	writer := newSortShardWriter(temp, s.options.Order, !s.options.NoCompressTmpFiles)
	for _, key := range s.recs {
		if err := writer.add(key); err != nil {
			s.err.Set(err)
			break
		}
	}
	s.err.Set(writer.finish())
	s.err.Set(temp.Close())
	if err := s.err.Err(); err != nil {
		s.err.Set(errors.E(err, "write sortshard", temp.Name()))
	}
	vlog.VI(1).Infof("%v: wrote sortshard, %d records", temp.Name(), len(s.recs))
	s.recs = nil
}

// Discard drops every buffered record and removes the sortshard files. It is
// for callers that abandon the sorter before Finish. After Discard, Sorter
// becomes invalid.
func (s *Sorter) Discard() {
	if s.finished {
		return
	}
	s.finished = true
	s.recs = nil
	removeShards(s.shards)
	s.shards = nil
}

func removeShards(paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			vlog.Errorf("sort %v: failed to remove sorter tmp file: %v", path, err)
		}
	}
}

// Finish must be called after adding all the records. It returns an iterator
// that yields every record added, in ascending key order. The iterator owns
// the sortshard files and removes them when closed. After Finish, Sorter
// becomes invalid.
func (s *Sorter) Finish() (*Iterator, error) {
	if s.finished {
		return nil, errors.E(errors.Invalid, "sorter: Finish called twice")
	}
	s.finished = true
	if err := s.err.Err(); err != nil {
		removeShards(s.shards)
		return nil, err
	}
	tail := s.recs
	s.recs = nil
	s.sortRecords(tail)
	iter := &Iterator{
		order:  s.options.Order,
		header: s.header,
		shards: s.shards,
		err:    &errors.Once{},
	}
	s.shards = nil

	readers := make([]*sortShardReader, len(iter.shards))
	// Open the sortshards concurrently; each open reads the trailer of the
	// file.
	_ = traverse.Each(len(iter.shards), func(i int) error {
		readers[i] = newSortShardReader(iter.shards[i], iter.order, iter.err)
		return nil
	})
	iter.readers = readers
	if err := iter.err.Err(); err != nil {
		iter.Close() // nolint: errcheck
		return nil, err
	}
	for i, r := range readers {
		iter.addLeaf(i, r)
	}
	if len(tail) > 0 {
		iter.addLeaf(len(readers), &memShard{entries: tail})
	}
	vlog.VI(1).Infof("Merging %d sortshards and %d in-memory records, %d leafs active",
		len(readers), len(tail), iter.leafs.Len())
	if err := iter.err.Err(); err != nil {
		iter.Close() // nolint: errcheck
		return nil, err
	}
	return iter, nil
}
