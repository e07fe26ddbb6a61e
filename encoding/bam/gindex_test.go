package bam_test

import (
	"bytes"
	"testing"

	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	grailbam "github.com/jourdren/picard/encoding/bam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestBAM(t *testing.T, h *sam.Header, recs []*sam.Record) []byte {
	var buf bytes.Buffer
	w, err := bam.NewWriter(&buf, h, 1)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestWriteGIndex(t *testing.T) {
	h := newTestHeader(t)
	refs := h.Refs()
	recs := []*sam.Record{
		newTestRecord(t, "a", refs[0], 10, 0, "9M"),
		newTestRecord(t, "b", refs[0], 10, 0, "9M"),
		newTestRecord(t, "c", refs[0], 500, 0, "9M"),
		newTestRecord(t, "d", refs[1], 5, 0, "9M"),
		newTestRecord(t, "e", refs[1], 5, sam.Reverse, "9M"),
		newTestRecord(t, "f", nil, -1, sam.Unmapped, ""),
		newTestRecord(t, "g", nil, -1, sam.Unmapped, ""),
	}
	data := writeTestBAM(t, h, recs)

	var indexBuf bytes.Buffer
	require.NoError(t, grailbam.WriteGIndex(&indexBuf, bytes.NewReader(data), 0, 1))
	index, err := grailbam.ReadGIndex(&indexBuf)
	require.NoError(t, err)

	// One entry per distinct (ref, pos), plus one for the unmapped tail.
	require.Len(t, index, 4)
	want := []struct{ ref, pos int32 }{{0, 10}, {0, 500}, {1, 5}, {-1, 0}}
	for i, e := range index {
		assert.Equal(t, want[i].ref, e.RefID)
		assert.Equal(t, want[i].pos, e.Pos)
		assert.Zero(t, e.Seq)
	}

	r, err := bam.NewReader(bytes.NewReader(data), 1)
	require.NoError(t, err)
	for _, e := range index {
		require.NoError(t, r.Seek(e.Offset()))
		rec, err := r.Read()
		require.NoError(t, err)
		assert.Equal(t, int(e.RefID), rec.Ref.ID())
		if e.RefID >= 0 {
			assert.Equal(t, int(e.Pos), rec.Pos)
		}
	}
	require.NoError(t, r.Close())
}

func TestWriteGIndexRejectsUnsorted(t *testing.T) {
	h := newTestHeader(t)
	refs := h.Refs()
	data := writeTestBAM(t, h, []*sam.Record{
		newTestRecord(t, "a", refs[1], 10, 0, "9M"),
		newTestRecord(t, "b", refs[0], 10, 0, "9M"),
	})
	var indexBuf bytes.Buffer
	assert.Error(t, grailbam.WriteGIndex(&indexBuf, bytes.NewReader(data), 0, 1))
}

func TestReadGIndexBadMagic(t *testing.T) {
	_, err := grailbam.ReadGIndex(bytes.NewReader([]byte("not a gzip stream")))
	assert.Error(t, err)
}
