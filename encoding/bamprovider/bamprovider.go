package bamprovider

import (
	"io"
	"sync"

	gerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
	"v.io/x/lib/vlog"
)

// FileProvider implements Provider for SAM and BAM files. The path is allowed
// to be an S3 URL, in which case the data will be read from S3. Otherwise the
// data will be read from the local filesystem.
type FileProvider struct {
	// Path of the input. Must be nonempty.
	Path string
	// Type selects the decoder. Unknown is treated as BAM.
	Type FileType
	err  gerrors.Once

	mu      sync.Mutex
	nActive int
	header  *sam.Header
}

// recordReader is the part of bam.Reader and sam.Reader used by fileIterator.
type recordReader interface {
	Read() (*sam.Record, error)
	Header() *sam.Header
}

type fileIterator struct {
	provider *FileProvider
	in       file.File
	reader   recordReader

	active bool
	err    error
	next   *sam.Record
}

func (b *FileProvider) open() (file.File, recordReader, error) {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, b.Path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %s", b.Path)
	}
	var reader recordReader
	if b.Type == SAM {
		reader, err = sam.NewReader(in.Reader(ctx))
	} else {
		reader, err = bam.NewReader(in.Reader(ctx), 1)
	}
	if err != nil {
		in.Close(ctx) // nolint: errcheck
		return nil, nil, errors.Wrapf(err, "read header of %s", b.Path)
	}
	return in, reader, nil
}

// GetHeader implements the Provider interface.
func (b *FileProvider) GetHeader() (*sam.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.header != nil {
		return b.header, nil
	}
	in, reader, err := b.open()
	if err != nil {
		b.err.Set(err)
		return nil, err
	}
	b.header = reader.Header()
	if err := closeReader(reader); err != nil {
		b.err.Set(err)
	}
	if err := in.Close(vcontext.Background()); err != nil {
		b.err.Set(err)
		return nil, err
	}
	return b.header, nil
}

// Close implements the Provider interface.
func (b *FileProvider) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nActive > 0 {
		vlog.Fatalf("%d iterators still active for %+v", b.nActive, b)
	}
	return b.err.Err()
}

// NewIterator implements the Provider interface.
func (b *FileProvider) NewIterator() Iterator {
	b.mu.Lock()
	b.nActive++
	b.mu.Unlock()
	iter := &fileIterator{provider: b, active: true}
	iter.in, iter.reader, iter.err = b.open()
	return iter
}

func (i *fileIterator) Scan() bool {
	if !i.active {
		vlog.Fatal("Reusing iterator")
	}
	if i.err != nil {
		return false
	}
	i.next, i.err = i.reader.Read()
	return i.err == nil
}

func (i *fileIterator) Record() *sam.Record {
	return i.next
}

// Err implements the Iterator interface.
func (i *fileIterator) Err() error {
	if i.err == io.EOF {
		return nil
	}
	if i.err != nil {
		return errors.Wrapf(i.err, "read %s", i.provider.Path)
	}
	return nil
}

// Close implements the Iterator interface.
func (i *fileIterator) Close() error {
	if !i.active {
		vlog.Fatal("Closing inactive iterator")
	}
	i.active = false
	if i.reader != nil {
		if err := closeReader(i.reader); err != nil && (i.err == nil || i.err == io.EOF) {
			i.err = err
		}
		i.reader = nil
	}
	if i.in != nil {
		if err := i.in.Close(vcontext.Background()); err != nil && (i.err == nil || i.err == io.EOF) {
			i.err = err
		}
		i.in = nil
	}
	err := i.Err()
	b := i.provider
	b.err.Set(err)
	b.mu.Lock()
	b.nActive--
	if b.nActive < 0 {
		vlog.Fatalf("Negative active count for %+v", b)
	}
	b.mu.Unlock()
	return err
}

// closeReader closes the BGZF stream of a BAM reader. SAM readers hold no
// resources of their own.
func closeReader(r recordReader) error {
	if c, ok := r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
