package fixmate

import (
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/jourdren/picard/encoding/bamprovider"
	"github.com/jourdren/picard/sorter"
)

// headerVersion is the SAM version written to headers that declare none.
// sam.Header drops the SO field of a header without a version.
const headerVersion = "1.6"

// planOutput returns a copy of header whose sort order is the final order of
// the output: the SortOrder option if set, else firstOrder, the order
// declared by the first input.
func planOutput(header *sam.Header, firstOrder sam.SortOrder, opts *Opts) (*sam.Header, error) {
	order, err := parseSortOrder(opts.SortOrder)
	if err != nil {
		return nil, err
	}
	if order == sam.UnknownOrder {
		order = firstOrder
	}
	if opts.BuildIndex && order != sam.Coordinate {
		return nil, errors.E(errors.Invalid, "cannot build an index unless sort order is coordinate, got", order.String())
	}
	h := header.Clone()
	h.SortOrder = order
	if h.Version == "" && order != sam.UnknownOrder {
		h.Version = headerVersion
	}
	return h, nil
}

type outputResult struct {
	path      string
	indexPath string
	records   int64
}

// writeOutput writes every record of in to path, in the sort order declared
// by header, then writes the index if requested. It closes in. On error, the
// output and its index are removed.
func writeOutput(ctx context.Context, in bamprovider.Iterator, header *sam.Header, path string, opts *Opts) (outputResult, error) {
	if header.SortOrder == sam.Coordinate {
		s := sorter.NewSorter(header, sorter.SortOptions{
			Order:         sorter.ByCoordinate,
			SortBatchSize: opts.MaxRecordsInRAM,
			TmpDir:        opts.TmpDir,
		})
		var e errors.Once
		for e.Err() == nil && in.Scan() {
			e.Set(s.AddRecord(in.Record()))
		}
		e.Set(in.Close())
		if err := e.Err(); err != nil {
			s.Discard()
			return outputResult{}, err
		}
		sorted, err := s.Finish()
		if err != nil {
			return outputResult{}, err
		}
		log.Debug.Printf("sorted %d records by coordinate, %d spills", s.NumRecords(), s.NumSpills())
		in = sorted
	}

	w, err := bamprovider.NewWriter(ctx, path, header, bamprovider.WriterOpts{})
	if err != nil {
		in.Close() // nolint: errcheck
		return outputResult{}, err
	}
	var e errors.Once
	for e.Err() == nil && in.Scan() {
		e.Set(w.Write(in.Record()))
	}
	e.Set(in.Close())
	closeErr := w.Close(ctx)
	if err := e.Err(); err != nil {
		removeOutput(ctx, path, "")
		return outputResult{}, err
	}
	if closeErr != nil {
		removeOutput(ctx, path, "")
		return outputResult{}, closeErr
	}
	result := outputResult{path: path, records: w.NumRecords()}
	if opts.BuildIndex {
		result.indexPath = w.IndexPath()
		if err := w.WriteIndex(ctx); err != nil {
			removeOutput(ctx, path, result.indexPath)
			return outputResult{}, err
		}
		log.Printf("wrote index %s", result.indexPath)
	}
	log.Printf("wrote %d records to %s", result.records, path)
	return result, nil
}

// removeOutput deletes an output file and its index, logging failures.
func removeOutput(ctx context.Context, path, indexPath string) {
	for _, p := range []string{path, indexPath} {
		if p == "" {
			continue
		}
		if err := file.Remove(ctx, p); err != nil {
			log.Error.Printf("remove %s: %v", p, err)
		}
	}
}
