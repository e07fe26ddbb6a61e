package bam

import (
	"reflect"
	"runtime"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getFunctionName returns the runtime function name.
func getFunctionName(i interface{}) string {
	return runtime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
}

func TestFlagPredicates(t *testing.T) {
	tests := []struct {
		flag sam.Flags
		f    func(record *sam.Record) bool
		want bool
	}{
		{sam.Paired, IsPaired, true},
		{sam.Unmapped, IsUnmapped, true},
		{sam.Read1, IsRead1, true},
		{sam.Secondary, IsSecondary, true},
		{sam.Supplementary, IsSupplementary, true},
		{sam.Paired, IsPrimary, true},
		{sam.Paired | sam.MateUnmapped, HasNoMappedMate, true},
		{sam.Read1, HasNoMappedMate, true},

		{sam.Supplementary, IsPaired, false},
		{sam.MateUnmapped, IsUnmapped, false},
		{sam.Read2, IsRead1, false},
		{sam.Supplementary, IsSecondary, false},
		{sam.Secondary, IsSupplementary, false},
		{sam.Secondary, IsPrimary, false},
		{sam.Supplementary, IsPrimary, false},
		{sam.Paired, HasNoMappedMate, false},
	}
	for _, test := range tests {
		r := sam.Record{Name: "r", Flags: test.flag}
		assert.Equal(t, test.want, test.f(&r), "flag %v, func %v", test.flag, getFunctionName(test.f))
	}
}

func TestSetFlag(t *testing.T) {
	r := sam.Record{Flags: sam.Paired}
	SetFlag(&r, sam.MateUnmapped|sam.MateReverse, true)
	assert.Equal(t, sam.Paired|sam.MateUnmapped|sam.MateReverse, r.Flags)
	SetFlag(&r, sam.MateUnmapped, false)
	assert.Equal(t, sam.Paired|sam.MateReverse, r.Flags)
}

func TestAlignmentPositions(t *testing.T) {
	cigar, err := sam.ParseCigar([]byte("2S5M3D4M1I3S"))
	require.NoError(t, err)
	assert.Equal(t, 12, ReferenceLength(cigar))

	r := sam.Record{Pos: 99, Cigar: cigar}
	assert.Equal(t, 100, AlignmentStart(&r))
	assert.Equal(t, 111, AlignmentEnd(&r))
	assert.Equal(t, 100, FivePrimePosition(&r))
	r.Flags = sam.Reverse
	assert.Equal(t, 111, FivePrimePosition(&r))
	assert.Equal(t, "2S5M3D4M1I3S", CigarString(&r))
	assert.Equal(t, "*", CigarString(&sam.Record{}))
}

func TestTagEditing(t *testing.T) {
	xa, err := sam.NewAux(sam.NewTag("XA"), "foo")
	require.NoError(t, err)
	r := sam.Record{AuxFields: sam.AuxFields{xa}}
	shared := r

	require.NoError(t, SetTag(&r, MateCigarTag, "10M"))
	require.NoError(t, SetTag(&r, MateMapQTag, 30))
	require.NoError(t, SetTag(&r, MateCigarTag, "5M5S"))
	assert.Len(t, r.AuxFields, 3)
	v, ok := TagValue(&r, MateCigarTag)
	assert.True(t, ok)
	assert.Equal(t, "5M5S", v)
	v, ok = TagValue(&r, MateMapQTag)
	assert.True(t, ok)
	assert.EqualValues(t, 30, v)

	DeleteTag(&r, MateCigarTag)
	_, ok = TagValue(&r, MateCigarTag)
	assert.False(t, ok)
	DeleteTag(&r, MateCigarTag)
	assert.Len(t, r.AuxFields, 2)

	// The shallow copy still sees only its own field.
	assert.Len(t, shared.AuxFields, 1)
	assert.Equal(t, xa, shared.AuxFields[0])
}
