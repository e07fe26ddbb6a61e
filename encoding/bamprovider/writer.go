package bamprovider

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	gbam "github.com/jourdren/picard/encoding/bam"
)

const (
	// IndexSuffix is appended to a BAM path to form the path of its .gbai
	// index.
	IndexSuffix = ".gbai"
	// DefaultIndexByteInterval is the approximate spacing, in compressed
	// bytes, between two .gbai entries.
	DefaultIndexByteInterval = 64 << 10
)

// WriterOpts defines options for NewWriter.
type WriterOpts struct {
	// Type overrides the file type guessed from the path.
	Type FileType
	// Parallelism is the BGZF compression parallelism of BAM output. Values
	// below 1 mean 1.
	Parallelism int
}

// Writer writes records to one SAM or BAM file. The header is written at
// construction, before any record. Thread compatible.
type Writer struct {
	path string
	typ  FileType
	out  file.File
	bw   *bam.Writer
	sw   *sam.Writer
	n    int64
}

// IndexPath returns the path of the .gbai index that belongs to the BAM file
// at path.
func IndexPath(path string) string {
	return path + IndexSuffix
}

// NewWriter creates the file at path and writes header to it.
func NewWriter(ctx context.Context, path string, header *sam.Header, opts WriterOpts) (*Writer, error) {
	w := &Writer{path: path, typ: opts.Type}
	if w.typ == Unknown {
		w.typ = GuessFileType(path)
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	var err error
	if w.out, err = file.Create(ctx, path); err != nil {
		return nil, errors.E(err, "create", path)
	}
	if w.typ == SAM {
		w.sw, err = sam.NewWriter(w.out.Writer(ctx), header, sam.FlagDecimal)
	} else {
		w.bw, err = bam.NewWriter(w.out.Writer(ctx), header, opts.Parallelism)
	}
	if err != nil {
		w.out.Close(ctx) // nolint: errcheck
		return nil, errors.E(err, "write header", path)
	}
	return w, nil
}

// Path returns the path of the output file.
func (w *Writer) Path() string { return w.path }

// Type returns the format of the output file.
func (w *Writer) Type() FileType { return w.typ }

// NumRecords returns the number of records written so far.
func (w *Writer) NumRecords() int64 { return w.n }

// IndexPath returns the path of the companion index WriteIndex produces, or
// "" if the format cannot be indexed.
func (w *Writer) IndexPath() string {
	if w.typ != BAM {
		return ""
	}
	return IndexPath(w.path)
}

// Write appends one record.
func (w *Writer) Write(r *sam.Record) error {
	var err error
	if w.sw != nil {
		err = w.sw.Write(r)
	} else {
		err = w.bw.Write(r)
	}
	if err != nil {
		return errors.E(err, "write", w.path)
	}
	w.n++
	return nil
}

// Close flushes and closes the output file. It must be called exactly once.
func (w *Writer) Close(ctx context.Context) error {
	e := errors.Once{}
	if w.bw != nil {
		e.Set(w.bw.Close())
	}
	e.Set(w.out.Close(ctx))
	if err := e.Err(); err != nil {
		return errors.E(err, "close", w.path)
	}
	log.Debug.Printf("%s: wrote %d records", w.path, w.n)
	return nil
}

// WriteIndex generates the .gbai index of the output at IndexPath.
//
// REQUIRES: Close has been called and returned nil.
func (w *Writer) WriteIndex(ctx context.Context) error {
	if w.typ != BAM {
		return errors.E(errors.NotSupported, "cannot index "+w.typ.String()+" file", w.path)
	}
	return WriteIndex(ctx, w.path, w.IndexPath())
}

// WriteIndex reads the coordinate-ordered BAM file at bamPath and writes its
// .gbai index to indexPath.
func WriteIndex(ctx context.Context, bamPath, indexPath string) error {
	in, err := file.Open(ctx, bamPath)
	if err != nil {
		return errors.E(err, "open", bamPath)
	}
	defer in.Close(ctx) // nolint: errcheck
	out, err := file.Create(ctx, indexPath)
	if err != nil {
		return errors.E(err, "create", indexPath)
	}
	e := errors.Once{}
	e.Set(gbam.WriteGIndex(out.Writer(ctx), in.Reader(ctx), DefaultIndexByteInterval, 1))
	e.Set(out.Close(ctx))
	if err := e.Err(); err != nil {
		if rerr := file.Remove(ctx, indexPath); rerr != nil {
			log.Error.Printf("remove %s: %v", indexPath, rerr)
		}
		return errors.E(err, "write index", indexPath)
	}
	return nil
}
