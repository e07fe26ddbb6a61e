// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/grailbio/hts/sam"
	grailbam "github.com/jourdren/picard/encoding/bam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeader(t *testing.T) *sam.Header {
	chr1, err := sam.NewReference("chr1", "", "", 100000, nil, nil)
	require.NoError(t, err)
	chr2, err := sam.NewReference("chr2", "", "", 100000, nil, nil)
	require.NoError(t, err)
	h, err := sam.NewHeader(nil, []*sam.Reference{chr1, chr2})
	require.NoError(t, err)
	h.Version = "1.6"
	h.SortOrder = sam.Coordinate
	return h
}

func newTestRecord(t *testing.T, name string, ref *sam.Reference, pos int, flags sam.Flags, cigar string) *sam.Record {
	r := sam.GetFromFreePool()
	r.Name = name
	r.Ref = ref
	r.Pos = pos
	r.MapQ = 60
	r.Flags = flags
	r.MateRef = nil
	r.MatePos = -1
	r.TempLen = 0
	r.AuxFields = nil
	r.Cigar = nil
	if cigar != "" {
		c, err := sam.ParseCigar([]byte(cigar))
		require.NoError(t, err)
		r.Cigar = c
	}
	seq := []byte("ACGTNACGTA")
	r.Seq = sam.NewSeq(seq[:9])
	r.Qual = []byte{30, 31, 32, 33, 34, 35, 36, 37, 38}
	return r
}

func TestMarshalRoundTrip(t *testing.T) {
	h := newTestHeader(t)
	refs := h.Refs()

	mapped := newTestRecord(t, "read1", refs[1], 1234, sam.Paired|sam.Read1|sam.MateReverse, "4S5M")
	mapped.MateRef = refs[0]
	mapped.MatePos = 77
	mapped.TempLen = -345
	require.NoError(t, grailbam.SetTag(mapped, grailbam.MateCigarTag, "9M"))
	require.NoError(t, grailbam.SetTag(mapped, grailbam.MateMapQTag, 17))
	arr, err := sam.NewAux(sam.NewTag("XB"), []int16{-1, 2, 3})
	require.NoError(t, err)
	mapped.AuxFields = append(mapped.AuxFields, arr)

	unmapped := newTestRecord(t, "read2", nil, -1, sam.Paired|sam.Read2|sam.Unmapped|sam.MateUnmapped, "")
	unmapped.Qual = nil

	for _, rec := range []*sam.Record{mapped, unmapped} {
		var buf bytes.Buffer
		require.NoError(t, grailbam.Marshal(rec, &buf))
		b := buf.Bytes()
		require.Equal(t, int(binary.LittleEndian.Uint32(b)), len(b)-4)
		assert.Equal(t, rec.Name, string(grailbam.NameFromBAM(b)))
		refID, pos, reverse := grailbam.CoordFromBAM(b)
		assert.EqualValues(t, rec.Ref.ID(), refID)
		assert.EqualValues(t, rec.Pos, pos)
		assert.Equal(t, rec.Flags&sam.Reverse != 0, reverse)

		got, err := grailbam.Unmarshal(b, h)
		require.NoError(t, err)
		assert.Equal(t, rec.Name, got.Name)
		assert.Equal(t, rec.Flags, got.Flags)
		assert.Equal(t, rec.Ref, got.Ref)
		assert.Equal(t, rec.Pos, got.Pos)
		assert.Equal(t, rec.MateRef, got.MateRef)
		assert.Equal(t, rec.MatePos, got.MatePos)
		assert.Equal(t, rec.TempLen, got.TempLen)
		assert.Equal(t, rec.MapQ, got.MapQ)
		assert.Equal(t, grailbam.CigarString(rec), grailbam.CigarString(got))
		assert.Equal(t, rec.Seq.Expand(), got.Seq.Expand())
		assert.Equal(t, len(rec.AuxFields), len(got.AuxFields))
		for i := range rec.AuxFields {
			assert.Equal(t, rec.AuxFields[i], got.AuxFields[i])
		}
	}
	assert.Equal(t, []byte{30, 31, 32, 33, 34, 35, 36, 37, 38}, mapped.Qual)
}

func TestUnmarshalErrors(t *testing.T) {
	h := newTestHeader(t)
	rec := newTestRecord(t, "r", h.Refs()[0], 10, 0, "9M")
	var buf bytes.Buffer
	require.NoError(t, grailbam.Marshal(rec, &buf))
	b := buf.Bytes()

	_, err := grailbam.Unmarshal(b[:20], h)
	assert.Error(t, err)
	_, err = grailbam.Unmarshal(b[:len(b)-1], h)
	assert.Error(t, err)

	// A reference id beyond the header is rejected.
	other := newTestHeader(t)
	extra, err := sam.NewReference("chr3", "", "", 10, nil, nil)
	require.NoError(t, err)
	require.NoError(t, other.AddReference(extra))
	rec.Ref = extra
	buf.Reset()
	require.NoError(t, grailbam.Marshal(rec, &buf))
	_, err = grailbam.Unmarshal(buf.Bytes(), h)
	assert.Error(t, err)

	rec.Name = ""
	assert.Error(t, grailbam.Marshal(rec, &buf))
}

func TestHeaderRoundTrip(t *testing.T) {
	h := newTestHeader(t)
	b, err := grailbam.MarshalHeader(h)
	require.NoError(t, err)
	got, err := grailbam.UnmarshalHeader(b)
	require.NoError(t, err)
	require.Len(t, got.Refs(), 2)
	assert.Equal(t, "chr2", got.Refs()[1].Name())
}
