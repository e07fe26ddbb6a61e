package main

// See doc.go for documentation

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/jourdren/picard/encoding/bam"
	"github.com/jourdren/picard/encoding/bamprovider"
	"v.io/x/lib/cmdline"
)

func openInput(ctx context.Context, path string) (io.Reader, func() error, error) {
	if path == "-" {
		return os.Stdin, func() error { return nil }, nil
	}
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return f.Reader(ctx), func() error { return f.Close(ctx) }, nil
}

func writeIndex(ctx context.Context, bamPath, indexPath string, shardSize, parallelism int) (err error) {
	in, closeIn, err := openInput(ctx, bamPath)
	if err != nil {
		return err
	}
	defer func() {
		if e := closeIn(); e != nil && err == nil {
			err = e
		}
	}()
	if indexPath == "-" {
		return bam.WriteGIndex(os.Stdout, in, shardSize, parallelism)
	}
	out, err := file.Create(ctx, indexPath)
	if err != nil {
		return err
	}
	e := errors.Once{}
	e.Set(bam.WriteGIndex(out.Writer(ctx), in, shardSize, parallelism))
	e.Set(out.Close(ctx))
	if e.Err() != nil {
		file.Remove(ctx, indexPath) // nolint: errcheck
	}
	return e.Err()
}

func dumpIndex(ctx context.Context, w io.Writer, indexPath string) (err error) {
	in, closeIn, err := openInput(ctx, indexPath)
	if err != nil {
		return err
	}
	defer func() {
		if e := closeIn(); e != nil && err == nil {
			err = e
		}
	}()
	index, err := bam.ReadGIndex(in)
	if err != nil {
		return err
	}
	for _, e := range index {
		off := e.Offset()
		if _, err := fmt.Fprintf(w, "%d\t%d\t%d\t%d:%d\n", e.RefID, e.Pos, e.Seq, off.File, off.Block); err != nil {
			return err
		}
	}
	return nil
}

func newCmdWrite() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "write",
		Short:    "Write the .gbai index of a coordinate sorted BAM file",
		ArgsName: "bampath [indexpath]",
	}
	shardSize := cmd.Flags.Int("shard-size", bamprovider.DefaultIndexByteInterval, "Approximate bytes per interval in index")
	parallelism := cmd.Flags.Int("parallelism", runtime.NumCPU(), "BGZF decompression parallelism")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) < 1 || len(argv) > 2 {
			return fmt.Errorf("write takes bampath [indexpath], but got %v", argv)
		}
		indexPath := bamprovider.IndexPath(argv[0])
		if len(argv) == 2 {
			indexPath = argv[1]
		}
		return writeIndex(vcontext.Background(), argv[0], indexPath, *shardSize, *parallelism)
	})
	return cmd
}

func newCmdDump() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "dump",
		Short:    "Print the entries of a .gbai index",
		ArgsName: "indexpath",
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("dump takes one pathname argument, but got %v", argv)
		}
		return dumpIndex(vcontext.Background(), env.Stdout, argv[0])
	})
	return cmd
}

func main() {
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "bio-bam-gindex",
			Short:    "Tools for .gbai BAM indexes",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdWrite(),
				newCmdDump(),
			},
		})
}
