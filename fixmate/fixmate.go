package fixmate

import (
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/jourdren/picard/encoding/bamprovider"
	"github.com/jourdren/picard/sorter"
)

// Opts defines the behavior of Run.
type Opts struct {
	// Inputs lists the SAM or BAM files to fix. Multiple inputs are merged.
	Inputs []string
	// Output is the destination path. If empty, the single input is replaced
	// in place.
	Output string
	// SortOrder is the sort order of the output: "queryname", "coordinate" or
	// "unsorted". If empty, the sort order of the first input is used.
	SortOrder string
	// AssumeSorted treats every input as queryname sorted, whatever its
	// header declares.
	AssumeSorted bool
	// AddMateCigar sets the MC tag of each record to its mate's CIGAR.
	AddMateCigar bool
	// TolerateMissingMates clears the mate fields of paired records whose mate
	// cannot be found, instead of failing the run.
	TolerateMissingMates bool
	// BuildIndex writes a .gbai index next to the output. The output must be
	// coordinate sorted BAM.
	BuildIndex bool
	// MaxRecordsInRAM is the number of records the sorters keep in memory
	// before spilling to TmpDir.
	MaxRecordsInRAM int
	// TmpDir holds the sorters' spill files. "" means the system default.
	TmpDir string
	// MetricsFile, if nonempty, receives a TSV summary of the run.
	MetricsFile string
}

// DefaultOpts holds the default values of Opts.
var DefaultOpts = Opts{
	AddMateCigar:         true,
	TolerateMissingMates: true,
	MaxRecordsInRAM:      sorter.DefaultSortBatchSize,
}

// inPlace reports whether the single input is to be replaced.
func (o *Opts) inPlace() bool { return o.Output == "" }

// Validate checks the options for configuration errors. It performs no I/O.
func (o *Opts) Validate() error {
	if len(o.Inputs) == 0 {
		return errors.E(errors.Invalid, "no input files")
	}
	for _, in := range o.Inputs {
		if in == "" {
			return errors.E(errors.Invalid, "empty input path")
		}
	}
	if o.inPlace() {
		if len(o.Inputs) != 1 {
			return errors.E(errors.Invalid,
				fmt.Sprintf("must specify either an explicit output or a single input to be overwritten, got %d inputs", len(o.Inputs)))
		}
		if scheme, _, err := file.ParsePath(o.Inputs[0]); err != nil || scheme != "" {
			return errors.E(errors.Invalid, "in-place fixing requires a local input file:", o.Inputs[0])
		}
	}
	order, err := parseSortOrder(o.SortOrder)
	if err != nil {
		return err
	}
	if o.BuildIndex {
		if o.SortOrder != "" && order != sam.Coordinate {
			return errors.E(errors.Invalid, "cannot build an index unless sort order is coordinate, got", order.String())
		}
		if bamprovider.GuessFileType(o.destination()) != bamprovider.BAM {
			return errors.E(errors.Invalid, "cannot build an index for non-BAM output", o.destination())
		}
	}
	if o.MaxRecordsInRAM < 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("negative max records in RAM: %d", o.MaxRecordsInRAM))
	}
	return nil
}

// destination is the path the fixed data ends up at.
func (o *Opts) destination() string {
	if o.inPlace() {
		return o.Inputs[0]
	}
	return o.Output
}

func parseSortOrder(s string) (sam.SortOrder, error) {
	switch strings.ToLower(s) {
	case "":
		return sam.UnknownOrder, nil
	case "queryname", "name":
		return sam.QueryName, nil
	case "coordinate":
		return sam.Coordinate, nil
	case "unsorted":
		return sam.Unsorted, nil
	}
	return sam.UnknownOrder, errors.E(errors.Invalid, "unknown sort order:", s)
}

// ReplaceStatus describes the outcome of an in-place replacement.
type ReplaceStatus int

const (
	// NotReplaced means no in-place replacement was requested.
	NotReplaced ReplaceStatus = iota
	// Replaced means the input now holds the fixed data.
	Replaced
	// ReplaceFailed means the fixed data could not be moved over the input.
	// The original is kept at BackupPath and the fixed data at StagedPath.
	ReplaceFailed
)

func (s ReplaceStatus) String() string {
	switch s {
	case Replaced:
		return "replaced"
	case ReplaceFailed:
		return "replace failed"
	}
	return "not replaced"
}

// Result summarizes a successful Run.
type Result struct {
	Stats Stats
	// OutputPath is where the fixed data was written. After a successful
	// in-place fix it is the input path.
	OutputPath string
	// IndexPath is the path of the .gbai index, if one was requested.
	IndexPath string

	Status ReplaceStatus
	// BackupPath is the <input>.old backup of an in-place fix.
	BackupPath string
	// StagedPath is the temporary output of an in-place fix.
	StagedPath string
	// LeftoverBackup is set when the backup could not be deleted.
	LeftoverBackup bool
	// LeftoverIndex is set when the staged index could not be renamed.
	LeftoverIndex bool
}

// ExitCode returns 0 if the run fully succeeded, and 1 if the in-place
// replacement failed or left files behind.
func (r Result) ExitCode() int {
	if r.Status == ReplaceFailed || r.LeftoverBackup || r.LeftoverIndex {
		return 1
	}
	return 0
}

// Run fixes the mate information of opts.Inputs. Configuration errors, I/O
// errors and unresolved mates are returned as errors; in that case no output
// and no temporary file is left behind. A failure of the final in-place swap
// is reported through Result instead, since the fixed data is still usable.
func Run(ctx context.Context, opts Opts) (Result, error) {
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}
	if opts.MaxRecordsInRAM == 0 {
		opts.MaxRecordsInRAM = sorter.DefaultSortBatchSize
	}
	providers := make([]bamprovider.Provider, len(opts.Inputs))
	for i, path := range opts.Inputs {
		providers[i] = bamprovider.NewProvider(path)
	}
	defer func() {
		for i, p := range providers {
			if err := p.Close(); err != nil {
				log.Debug.Printf("close %s: %v", opts.Inputs[i], err)
			}
		}
	}()
	return run(ctx, opts, providers, osFileSystem{})
}

// run implements Run on already opened providers.
func run(ctx context.Context, opts Opts, providers []bamprovider.Provider, fs fileSystem) (Result, error) {
	headers := make([]*sam.Header, len(providers))
	for i, p := range providers {
		h, err := p.GetHeader()
		if err != nil {
			return Result{}, errors.E(err, "read header of", opts.Inputs[i])
		}
		headers[i] = h
	}
	merged, links, err := MergeHeaders(headers)
	if err != nil {
		return Result{}, err
	}
	header, err := planOutput(merged, headers[0].SortOrder, &opts)
	if err != nil {
		return Result{}, err
	}

	dest := opts.Output
	if opts.inPlace() {
		dest = stagedPath(opts.Inputs[0])
	}
	log.Printf("fixing mate information of %v, output %s sorted by %v", opts.Inputs, dest, header.SortOrder)

	strategy := chooseStrategy(headers, opts.AssumeSorted)
	in, err := mergeInputs(providers, merged, links, strategy, &opts)
	if err != nil {
		return Result{}, err
	}
	syncer := newMateSynchronizer(in, opts.AddMateCigar, opts.TolerateMissingMates)
	out, err := writeOutput(ctx, syncer, header, dest, &opts)
	if err != nil {
		return Result{}, err
	}
	result := Result{
		Stats:      syncer.stats,
		OutputPath: out.path,
		IndexPath:  out.indexPath,
	}
	log.Printf("processed %d records in %d name groups: %d pairs fixed, %d supplementary fixed, %d missing mates",
		result.Stats.Records, result.Stats.Groups, result.Stats.PairsFixed,
		result.Stats.SupplementaryFixed, result.Stats.MissingMates+result.Stats.SupplementaryOnlyMates)

	if opts.inPlace() {
		r, err := replaceInPlace(fs, opts.Inputs[0], out.path, out.indexPath)
		if err != nil {
			return Result{}, err
		}
		result.Status = r.status
		result.BackupPath = r.backupPath
		result.StagedPath = r.stagedPath
		result.LeftoverBackup = r.leftoverBackup
		result.LeftoverIndex = r.leftoverIndex
		if r.status == Replaced {
			result.OutputPath = opts.Inputs[0]
			if out.indexPath != "" && !r.leftoverIndex {
				result.IndexPath = bamprovider.IndexPath(opts.Inputs[0])
			}
		}
	}
	if opts.MetricsFile != "" {
		if err := writeMetrics(ctx, opts.MetricsFile, &opts, result); err != nil {
			return result, err
		}
	}
	return result, nil
}
