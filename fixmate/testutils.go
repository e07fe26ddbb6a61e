package fixmate

import (
	"context"
	"fmt"
	"testing"

	"github.com/grailbio/hts/sam"
	gbam "github.com/jourdren/picard/encoding/bam"
	"github.com/jourdren/picard/encoding/bamprovider"
	"github.com/stretchr/testify/require"
)

// NewRecord creates a record with the given fields. Unset fields have their
// zero value.
func NewRecord(name string, ref *sam.Reference, pos int, flags sam.Flags, matePos int, mateRef *sam.Reference, cigar sam.Cigar) *sam.Record {
	r := sam.GetFromFreePool()
	r.Name = name
	r.Ref = ref
	r.Pos = pos
	r.MatePos = matePos
	r.MateRef = mateRef
	r.Flags = flags
	r.Cigar = cigar
	r.MapQ = 60
	return r
}

// NewRecordAux is NewRecord with aux fields.
func NewRecordAux(name string, ref *sam.Reference, pos int, flags sam.Flags, matePos int, mateRef *sam.Reference,
	cigar sam.Cigar, aux ...sam.Aux) *sam.Record {
	r := NewRecord(name, ref, pos, flags, matePos, mateRef, cigar)
	r.AuxFields = append(r.AuxFields, aux...)
	return r
}

// NewAux creates an aux field, panicking on invalid input.
func NewAux(name string, val interface{}) sam.Aux {
	aux, err := sam.NewAux(sam.NewTag(name), val)
	if err != nil {
		panic(fmt.Sprintf("error creating %s %v tag: %v", name, val, err))
	}
	return aux
}

// NewTestHeader creates a SAM 1.6 header with the given sort order and
// references named chr1, chr2, ..., each 1Mbp long.
func NewTestHeader(order sam.SortOrder, nRefs int) *sam.Header {
	refs := make([]*sam.Reference, nRefs)
	for i := range refs {
		ref, err := sam.NewReference(fmt.Sprintf("chr%d", i+1), "", "", 1000000, nil, nil)
		if err != nil {
			panic(err)
		}
		refs[i] = ref
	}
	h, err := sam.NewHeader(nil, refs)
	if err != nil {
		panic(err)
	}
	h.Version = headerVersion
	h.SortOrder = order
	return h
}

// WriteRecords writes a SAM or BAM file, depending on the extension of path.
func WriteRecords(t *testing.T, path string, header *sam.Header, recs ...*sam.Record) {
	ctx := context.Background()
	w, err := bamprovider.NewWriter(ctx, path, header, bamprovider.WriterOpts{})
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close(ctx))
}

// ReadRecords reads the header and records of a SAM or BAM file, in order.
func ReadRecords(t *testing.T, path string) (*sam.Header, []*sam.Record) {
	p := bamprovider.NewProvider(path)
	header, err := p.GetHeader()
	require.NoError(t, err)
	iter := p.NewIterator()
	var records []*sam.Record
	for iter.Scan() {
		records = append(records, iter.Record())
	}
	require.NoError(t, iter.Close())
	require.NoError(t, p.Close())
	return header, records
}

// MateFields returns a printable summary of the mate related fields of r.
func MateFields(r *sam.Record) string {
	mc, _ := gbam.TagValue(r, gbam.MateCigarTag)
	mq, _ := gbam.TagValue(r, gbam.MateMapQTag)
	return fmt.Sprintf("%s flags=%d ref=%d pos=%d mateRef=%d matePos=%d tlen=%d MC=%v MQ=%v",
		r.Name, r.Flags, r.Ref.ID(), r.Pos, r.MateRef.ID(), r.MatePos, r.TempLen, mc, mq)
}
