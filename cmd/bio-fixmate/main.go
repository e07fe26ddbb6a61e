package main

// See doc.go for documentation.

import (
	"flag"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/jourdren/picard/fixmate"
)

// inputList collects the paths of repeated or comma separated -input flags.
type inputList []string

func (l *inputList) String() string { return strings.Join(*l, ",") }

func (l *inputList) Set(v string) error {
	for _, path := range strings.Split(v, ",") {
		if path != "" {
			*l = append(*l, path)
		}
	}
	return nil
}

var (
	inputs             inputList
	outputPath         = flag.String("output", "", "Output filename. If empty, the single input is fixed in place")
	sortOrder          = flag.String("sort-order", "", "Output sort order: queryname, coordinate or unsorted. By default, the sort order of the first input")
	assumeSorted       = flag.Bool("assume-sorted", false, "Treat the inputs as queryname sorted whatever their headers say")
	addMateCigar       = flag.Bool("add-mate-cigar", fixmate.DefaultOpts.AddMateCigar, "Add the MC tag holding the mate's CIGAR")
	ignoreMissingMates = flag.Bool("ignore-missing-mates", fixmate.DefaultOpts.TolerateMissingMates, "Clear the mate fields of reads whose mate is missing instead of failing")
	createIndex        = flag.Bool("create-index", false, "Write a .gbai index next to the output. Requires coordinate sorted BAM output")
	maxRecordsInRAM    = flag.Int("max-records-in-ram", fixmate.DefaultOpts.MaxRecordsInRAM, "Number of records to keep in memory before spilling to -tmp-dir")
	tmpDir             = flag.String("tmp-dir", "", "Directory to put spill files. By default, the system temp directory")
	metricsFile        = flag.String("metrics", "", "Output metrics file")
)

func init() {
	flag.Var(&inputs, "input", "Input SAM or BAM file. May be repeated or comma separated")
}

func main() {
	shutdown := grail.Init()
	exit := func(code int) {
		shutdown()
		os.Exit(code)
	}

	if flag.NArg() > 0 {
		a := flag.Args()
		log.Error.Printf("unparsed flags, please check flag syntax: '%s'", strings.Join(a[len(a)-flag.NArg():], " "))
		exit(2)
	}
	opts := fixmate.DefaultOpts
	opts.Inputs = inputs
	opts.Output = *outputPath
	opts.SortOrder = *sortOrder
	opts.AssumeSorted = *assumeSorted
	opts.AddMateCigar = *addMateCigar
	opts.TolerateMissingMates = *ignoreMissingMates
	opts.BuildIndex = *createIndex
	opts.MaxRecordsInRAM = *maxRecordsInRAM
	opts.TmpDir = *tmpDir
	opts.MetricsFile = *metricsFile

	ctx := vcontext.Background()
	result, err := fixmate.Run(ctx, opts)
	if err != nil {
		log.Error.Printf("bio-fixmate: %v", err)
		exit(2)
	}
	if code := result.ExitCode(); code != 0 {
		log.Error.Printf("bio-fixmate: %s finished with leftovers (status: %v, backup %s, staged %s)",
			opts.Inputs[0], result.Status, result.BackupPath, result.StagedPath)
		exit(code)
	}
	log.Debug.Printf("exiting")
	exit(0)
}
