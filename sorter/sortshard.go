package sorter

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/vcontext"
	"github.com/jourdren/picard/biopb"
	"v.io/x/lib/vlog"
)

// Sortshard format is used by the spill files written when the sorter runs
// out of its in-memory budget. The file is a recordio, where one recordio
// block stores a run of entries with no padding between them:
//
//   seq uint64        // insertion sequence number of the record
//   bytes uint32      // size of the record, in bytes
//   data [bytes]byte  // sam.Record serialized in BAM format
//
// Each recordio block is approx. sortShardBlockSize bytes long,
// pre-compression. Entries within a file are in ascending sort order.
//
// The recordio trailer stores a biopb.SortShardIndex, which tells whether the
// blocks are snappy-compressed and how many records the file holds.
const (
	sortShardBlockSize        = 1 << 20 // target size of one uncompressed block
	sortShardRecordHeaderSize = 12      // 8 byte seq + 4 byte record size.
)

func readSortShardIndex(rio recordio.Scanner) (biopb.SortShardIndex, error) {
	index := biopb.SortShardIndex{}
	header := rio.Header()
	if !header.HasTrailer() {
		return index, errors.E(errors.Integrity, fmt.Sprintf("no index found in sortshard file (header: %+v, version %+v)", header, rio.Version()))
	}
	if err := index.Unmarshal(rio.Trailer()); err != nil {
		return index, errors.E(errors.Integrity, err, "corrupt sortshard index")
	}
	return index, nil
}

// sortShardWriter produces one sortshard file. Entries must be added in
// ascending order.
//
// Example:
//   w := newSortShardWriter(out, order, true)
//   for _, e := range entries {
//     w.add(e)
//   }
//   err := w.finish()
type sortShardWriter struct {
	order   Order
	rio     recordio.Writer
	index   biopb.SortShardIndex
	buf     []byte // uncompressed contents of the current block.
	lastKey sortEntry
	err     error
}

func newSortShardWriter(out io.Writer, order Order, compress bool) *sortShardWriter {
	w := &sortShardWriter{
		order: order,
		index: biopb.SortShardIndex{Snappy: compress},
		buf:   make([]byte, 0, sortShardBlockSize),
	}
	w.rio = recordio.NewWriter(out, recordio.WriterOpts{
		Marshal: func(scratch []byte, v interface{}) ([]byte, error) {
			return v.([]byte), nil
		},
	})
	w.rio.AddHeader(recordio.KeyTrailer, true)
	return w
}

// add appends one entry. It returns an error if key sorts before the
// previously added entry.
func (w *sortShardWriter) add(key sortEntry) error {
	if w.err != nil {
		return w.err
	}
	if w.index.NumRecords > 0 && compareEntries(w.order, key, w.lastKey) < 0 {
		w.err = errors.E(errors.Invalid,
			fmt.Sprintf("sortshard key %v decreased, last %v", key, w.lastKey))
		return w.err
	}
	w.lastKey = key
	var hdr [sortShardRecordHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[:8], key.seq)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(key.body)))
	w.buf = append(w.buf, hdr[:]...)
	w.buf = append(w.buf, key.body...)
	w.index.NumRecords++
	if len(w.buf) >= sortShardBlockSize {
		w.flush()
	}
	return nil
}

func (w *sortShardWriter) flush() {
	if len(w.buf) == 0 {
		return
	}
	block := w.buf
	if w.index.Snappy {
		block = snappy.Encode(nil, w.buf)
	}
	// The recordio writer holds on to block until it is written, so the next
	// block gets a fresh buffer.
	w.rio.Append(block)
	w.rio.Flush()
	w.buf = make([]byte, 0, sortShardBlockSize)
}

// finish flushes pending data and writes the trailer. "w" becomes invalid
// after the call.
func (w *sortShardWriter) finish() error {
	if w.err != nil {
		return w.err
	}
	w.flush()
	// The index is never compressed; the snappy flag itself lives in it.
	w.rio.Wait()
	indexBytes, err := w.index.Marshal()
	if err != nil {
		return errors.E(err, "marshal sortshard index")
	}
	w.rio.SetTrailer(indexBytes)
	return w.rio.Finish()
}

// sortShardReader reads sortshard file in order.
//
// Example:
//   r := newSortShardReader(path, order, &err)
//   for r.scan() {
//     use r.key()
//   }
//   r.close()
type sortShardReader struct {
	path    string
	order   Order
	rawIn   file.File
	rio     recordio.Scanner
	index   biopb.SortShardIndex
	err     *errors.Once

	buf     []byte // rest of the current block.
	cur     sortEntry
	nRead   uint64
	lastKey sortEntry
}

// newSortShardReader opens the file at path. Any error is reported through
// errReporter, in which case the reader yields nothing.
func newSortShardReader(path string, order Order, errReporter *errors.Once) *sortShardReader {
	r := &sortShardReader{path: path, order: order, err: errReporter}
	ctx := vcontext.Background()
	var err error
	if r.rawIn, err = file.Open(ctx, path); err != nil {
		r.err.Set(errors.E(err, "open sortshard", path))
		return r
	}
	r.rio = recordio.NewScanner(r.rawIn.Reader(ctx), recordio.ScannerOpts{})
	if r.index, err = readSortShardIndex(r.rio); err != nil {
		r.fail(errors.E(err, path))
		return r
	}
	vlog.VI(1).Infof("%v: opened sortshard, %d records", path, r.index.NumRecords)
	return r
}

func (r *sortShardReader) fail(err error) {
	r.err.Set(err)
	r.close()
}

// nextBlock loads the next recordio block into r.buf.
func (r *sortShardReader) nextBlock() bool {
	if !r.rio.Scan() {
		r.err.Set(r.rio.Err())
		return false
	}
	data := r.rio.Get().([]byte)
	if r.index.Snappy {
		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			r.fail(errors.E(errors.Integrity, err, "corrupt block in", r.path))
			return false
		}
		r.buf = decoded
	} else {
		r.buf = append([]byte(nil), data...)
	}
	return true
}

// scan advances to the next entry. It returns false at the end of the file
// or on error.
func (r *sortShardReader) scan() bool {
	if r.rawIn == nil {
		return false
	}
	for len(r.buf) == 0 {
		if !r.nextBlock() {
			if r.rawIn != nil && r.nRead != r.index.NumRecords {
				r.err.Set(errors.E(errors.Integrity, fmt.Sprintf(
					"%s: read %d records, index says %d", r.path, r.nRead, r.index.NumRecords)))
			}
			r.close()
			return false
		}
	}
	if len(r.buf) < sortShardRecordHeaderSize {
		r.fail(errors.E(errors.Integrity, "truncated entry in", r.path))
		return false
	}
	seq := binary.LittleEndian.Uint64(r.buf[:8])
	n := int(binary.LittleEndian.Uint32(r.buf[8:12]))
	if len(r.buf) < sortShardRecordHeaderSize+n {
		r.fail(errors.E(errors.Integrity, "truncated entry in", r.path))
		return false
	}
	r.cur = newSortEntry(r.order, seq, r.buf[sortShardRecordHeaderSize:sortShardRecordHeaderSize+n])
	r.buf = r.buf[sortShardRecordHeaderSize+n:]
	if r.nRead > 0 && compareEntries(r.order, r.cur, r.lastKey) < 0 {
		r.fail(errors.E(errors.Integrity, fmt.Sprintf("%s: key %v decreased, last %v", r.path, r.cur, r.lastKey)))
		return false
	}
	r.lastKey = r.cur
	r.nRead++
	return true
}

// key returns the current entry. Its body aliases the block buffer, which is
// never reused.
//
// REQUIRES: scan() returned true.
func (r *sortShardReader) key() sortEntry {
	return r.cur
}

// close releases the file. It is safe to call more than once.
func (r *sortShardReader) close() {
	if r.rio != nil {
		r.err.Set(r.rio.Finish())
		r.rio = nil
	}
	if r.rawIn != nil {
		r.err.Set(r.rawIn.Close(vcontext.Background()))
		r.rawIn = nil
	}
}
