package bam

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
	"github.com/klauspost/compress/gzip"
)

const maxRecordSize = 0xffffff

// GIndex is the companion index written next to a coordinate-ordered BAM
// file, stored with the .gbai extension. It maps (RefID, Pos, Seq) to the
// voffset of the record in the BAM file.
//
// The file starts with the 16 byte magic "GBAI1" followed by 11 fixed
// bytes, then a gzip-compressed sequence of little-endian entries:
//   int32 RefID (-1 for the unmapped tail)
//   int32 Pos
//   uint32 Seq, the ordinal of the record among records sharing (RefID, Pos)
//   uint64 VOffset
//
// Entries ascend by (RefID with -1 last, Pos, Seq). The first record of
// every RefID present in the BAM file gets an entry, so the first entry
// always points at the first record.
type GIndex []GIndexEntry

var gbaiMagic = []byte{
	'G', 'B', 'A', 'I', 0x01, 0xf1, 0x78, 0x5c,
	0x7b, 0xcb, 0xc1, 0xba, 0x08, 0x23, 0xb1, 0x19,
}

// GIndexEntry is one entry of the .gbai index.
type GIndexEntry struct {
	RefID   int32
	Pos     int32
	Seq     uint32
	VOffset uint64
}

// Offset returns the entry's voffset as a bgzf.Offset.
func (e GIndexEntry) Offset() bgzf.Offset {
	return bgzf.Offset{File: int64(e.VOffset >> 16), Block: uint16(e.VOffset & 0xffff)}
}

func toVOffset(offset bgzf.Offset) uint64 {
	return uint64(offset.File)<<16 | uint64(offset.Block)
}

// comparePos orders entries by reference, unmapped (-1) last, then by
// position and seq.
func comparePos(x, y *GIndexEntry) int {
	if x.RefID != y.RefID {
		switch {
		case x.RefID < 0:
			return 1
		case y.RefID < 0:
			return -1
		case x.RefID < y.RefID:
			return -1
		default:
			return 1
		}
	}
	switch {
	case x.Pos < y.Pos:
		return -1
	case x.Pos > y.Pos:
		return 1
	case x.Seq < y.Seq:
		return -1
	case x.Seq > y.Seq:
		return 1
	}
	return 0
}

type gIndexWriter struct {
	gz *gzip.Writer
}

func newGIndexWriter(w io.Writer) (*gIndexWriter, error) {
	gw := &gIndexWriter{gz: gzip.NewWriter(w)}
	if _, err := gw.gz.Write(gbaiMagic); err != nil {
		return nil, err
	}
	return gw, nil
}

func (w *gIndexWriter) append(entry *GIndexEntry) error {
	return binary.Write(w.gz, binary.LittleEndian, entry)
}

// WriteGIndex reads a BAM file from r and writes its .gbai index to w.
// Entries are spaced roughly byteInterval compressed bytes apart, and
// parallelism controls the BGZF decompression parallelism. The BAM file
// must be coordinate ordered; a record that sorts before its predecessor
// yields an error.
func WriteGIndex(w io.Writer, r io.Reader, byteInterval, parallelism int) error {
	bgzfReader, err := bgzf.NewReader(r, parallelism)
	if err != nil {
		return err
	}
	header, err := sam.NewHeader(nil, nil)
	if err != nil {
		return err
	}
	if err := header.DecodeBinary(bgzfReader); err != nil {
		return err
	}
	gindex, err := newGIndexWriter(w)
	if err != nil {
		return err
	}

	var (
		prev           GIndexEntry
		prevFileOffset uint64
		sizeBuf        = make([]byte, 4)
		buf            = make([]byte, 0, 1024)
		first          = true
	)
	for {
		if _, err := io.ReadFull(bgzfReader, sizeBuf); err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		voffset := bgzfReader.LastChunk().Begin
		sz := int(binary.LittleEndian.Uint32(sizeBuf))
		if sz > maxRecordSize {
			return fmt.Errorf("bam record exceeds max: %d", sz)
		}
		if cap(buf) < sz {
			buf = make([]byte, sz)
		}
		buf = buf[:sz]
		if _, err := io.ReadFull(bgzfReader, buf); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return err
		}
		cur := GIndexEntry{
			RefID:   int32(binary.LittleEndian.Uint32(buf[0:4])),
			Pos:     int32(binary.LittleEndian.Uint32(buf[4:8])),
			VOffset: toVOffset(voffset),
		}
		if cur.RefID == -1 {
			// Unmapped records may carry any position.
			cur.Pos = 0
		}
		if !first && comparePos(&cur, &prev) < 0 {
			return fmt.Errorf("bam records out of coordinate order: (%d,%d) after (%d,%d)",
				cur.RefID, cur.Pos, prev.RefID, prev.Pos)
		}
		addEntry := first || cur.RefID != prev.RefID ||
			(cur.Pos != prev.Pos && uint64(voffset.File)-prevFileOffset >= uint64(byteInterval))
		if addEntry {
			if err := gindex.append(&cur); err != nil {
				return err
			}
			prevFileOffset = uint64(voffset.File)
		}
		prev, first = cur, false
	}
	return gindex.gz.Close()
}

// ReadGIndex parses a .gbai file and checks that its entries ascend both in
// position and in voffset.
func ReadGIndex(r io.Reader) (gindex GIndex, err error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := gz.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	buf := make([]byte, len(gbaiMagic))
	if _, err = io.ReadFull(gz, buf); err != nil {
		return nil, err
	}
	if !bytes.Equal(gbaiMagic, buf) {
		return nil, fmt.Errorf("unexpected gbai magic: %v should be %v", buf, gbaiMagic)
	}
	for {
		var entry GIndexEntry
		if err = binary.Read(gz, binary.LittleEndian, &entry); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		if n := len(gindex); n > 0 {
			prev := gindex[n-1]
			if comparePos(&prev, &entry) >= 0 {
				return nil, fmt.Errorf("index positions are out of order: %v must be less than %v", prev, entry)
			}
			if prev.VOffset >= entry.VOffset {
				return nil, fmt.Errorf("voffsets are out of order: %v must be less than %v", prev, entry)
			}
		}
		gindex = append(gindex, entry)
	}
	return gindex, nil
}
