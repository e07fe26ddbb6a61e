package fixmate

import (
	"context"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

var metricsColumns = []string{
	"INPUTS", "RECORDS", "NAME_GROUPS", "PAIRS_FIXED", "SUPPLEMENTARY_FIXED",
	"MATE_CIGARS_ADDED", "MISSING_MATES", "SUPPLEMENTARY_ONLY_MATES",
	"SECONDARY_PASSED", "UNPAIRED_PASSED", "REPLACE_STATUS",
}

// writeMetrics writes a one-row TSV summary of the run to path.
func writeMetrics(ctx context.Context, path string, opts *Opts, result Result) (err error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "Couldn't create metrics file:", path)
	}
	defer file.CloseAndReport(ctx, f, &err)

	w := tsv.NewWriter(f.Writer(ctx))
	w.WriteString("# bio-fixmate")
	if err = w.EndLine(); err != nil {
		return errors.E(err, "error writing to metrics file:", path)
	}
	for _, col := range metricsColumns {
		w.WriteString(col)
	}
	if err = w.EndLine(); err != nil {
		return errors.E(err, "error writing to metrics file:", path)
	}
	s := result.Stats
	w.WriteString(strings.Join(opts.Inputs, ","))
	for _, v := range []int64{
		s.Records, s.Groups, s.PairsFixed, s.SupplementaryFixed, s.MateCigarsAdded,
		s.MissingMates, s.SupplementaryOnlyMates, s.SecondaryPassed, s.UnpairedPassed,
	} {
		w.WriteInt64(v)
	}
	w.WriteString(result.Status.String())
	if err = w.EndLine(); err != nil {
		return errors.E(err, "error writing to metrics file:", path)
	}
	if err = w.Flush(); err != nil {
		return errors.E(err, "error writing to metrics file:", path)
	}
	return nil
}
