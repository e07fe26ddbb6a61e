package bam

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/grailbio/hts/sam"
)

var jumps = [256]int{
	'A': 1,
	'c': 1, 'C': 1,
	's': 2, 'S': 2,
	'i': 4, 'I': 4,
	'f': 4,
	'Z': -1,
	'H': -1,
	'B': -1,
}

var (
	errCorruptAuxField = errors.New("bam: corrupt aux field")
	errRecordTooShort  = errors.New("bam: record too short")
)

// parseAux splits the serialized OPT fields of a record into sam.Aux values.
// Each value is copied, so the result does not alias aux.
func parseAux(aux []byte) ([]sam.Aux, error) {
	var aa []sam.Aux
	for i := 0; i+2 < len(aux); {
		t := aux[i+2]
		var n int
		switch j := jumps[t]; {
		case j > 0:
			n = j + 3
		case t == 'Z' || t == 'H':
			end := bytes.IndexByte(aux[i:], 0)
			if end < 0 {
				return nil, errCorruptAuxField
			}
			a := make(sam.Aux, end)
			copy(a, aux[i:i+end])
			aa = append(aa, a)
			i += end + 1
			continue
		case t == 'B':
			if len(aux) < i+8 {
				return nil, errCorruptAuxField
			}
			length := binary.LittleEndian.Uint32(aux[i+4 : i+8])
			n = int(length)*jumps[aux[i+3]] + 8
		default:
			return nil, errCorruptAuxField
		}
		if i+n > len(aux) {
			return nil, errCorruptAuxField
		}
		a := make(sam.Aux, n)
		copy(a, aux[i:i+n])
		aa = append(aa, a)
		i += n
	}
	return aa, nil
}

// Unmarshal parses a record produced by Marshal. References are resolved
// against header. The returned record owns all of its memory.
func Unmarshal(b []byte, header *sam.Header) (*sam.Record, error) {
	if len(b) < 4+bamFixedBytes {
		return nil, errRecordTooShort
	}
	if n := int(binary.LittleEndian.Uint32(b)); n != len(b)-4 {
		return nil, fmt.Errorf("bam: record length %d does not match buffer size %d", n, len(b)-4)
	}
	b = b[4:]
	rec := sam.GetFromFreePool()
	// int(int32(uint32)) keeps the sign of -1.
	refID := int(int32(binary.LittleEndian.Uint32(b)))
	rec.Pos = int(int32(binary.LittleEndian.Uint32(b[4:])))
	nLen := int(b[8])
	rec.MapQ = b[9]
	nCigar := int(binary.LittleEndian.Uint16(b[12:]))
	rec.Flags = sam.Flags(binary.LittleEndian.Uint16(b[14:]))
	lSeq := int(binary.LittleEndian.Uint32(b[16:]))
	nextRefID := int(int32(binary.LittleEndian.Uint32(b[20:])))
	rec.MatePos = int(int32(binary.LittleEndian.Uint32(b[24:])))
	rec.TempLen = int(int32(binary.LittleEndian.Uint32(b[28:])))

	nDoubletBytes := (lSeq + 1) >> 1
	auxOffset := bamFixedBytes + nLen + nCigar*4 + nDoubletBytes + lSeq
	if nLen < 1 || len(b) < auxOffset {
		return nil, fmt.Errorf("bam: corrupt record: len(b)=%d, auxoffset=%d", len(b), auxOffset)
	}
	off := bamFixedBytes
	rec.Name = string(b[off : off+nLen-1]) // drop trailing '\0'
	off += nLen

	rec.Cigar = nil
	if nCigar > 0 {
		rec.Cigar = make(sam.Cigar, nCigar)
		for i := range rec.Cigar {
			rec.Cigar[i] = sam.CigarOp(binary.LittleEndian.Uint32(b[off+i*4:]))
		}
		off += nCigar * 4
	}

	doublets := make([]sam.Doublet, nDoubletBytes)
	for i := range doublets {
		doublets[i] = sam.Doublet(b[off+i])
	}
	rec.Seq = sam.Seq{Length: lSeq, Seq: doublets}
	off += nDoubletBytes

	rec.Qual = make([]byte, lSeq)
	copy(rec.Qual, b[off:off+lSeq])
	off += lSeq

	var err error
	if rec.AuxFields, err = parseAux(b[off:]); err != nil {
		return nil, err
	}

	refs := header.Refs()
	rec.Ref, rec.MateRef = nil, nil
	if refID != -1 {
		if refID < -1 || refID >= len(refs) {
			return nil, fmt.Errorf("bam: reference id %v out of range", refID)
		}
		rec.Ref = refs[refID]
	}
	if nextRefID != -1 {
		if nextRefID < -1 || nextRefID >= len(refs) {
			return nil, fmt.Errorf("bam: mate reference id %v out of range", nextRefID)
		}
		rec.MateRef = refs[nextRefID]
	}
	return rec, nil
}

// NameFromBAM returns the query name stored in a record produced by Marshal,
// without decoding the rest of the record. The result aliases b.
func NameFromBAM(b []byte) []byte {
	nLen := int(b[4+8])
	off := 4 + bamFixedBytes
	return b[off : off+nLen-1]
}

// CoordFromBAM returns the reference id, position and reverse-strand flag of
// a record produced by Marshal.
func CoordFromBAM(b []byte) (refID, pos int32, reverse bool) {
	refID = int32(binary.LittleEndian.Uint32(b[4:]))
	pos = int32(binary.LittleEndian.Uint32(b[8:]))
	flags := sam.Flags(binary.LittleEndian.Uint16(b[4+14:]))
	return refID, pos, flags&sam.Reverse != 0
}

// UnmarshalHeader parses a sam.Header encoded in BAM binary format.
func UnmarshalHeader(buf []byte) (*sam.Header, error) {
	header, err := sam.NewHeader(nil, nil)
	if err != nil {
		return nil, err
	}
	hr := bytes.NewReader(buf)
	if err := header.DecodeBinary(hr); err != nil {
		return nil, err
	}
	if hr.Len() > 0 {
		return nil, fmt.Errorf("%d byte junk at the end of SAM header", hr.Len())
	}
	return header, nil
}
