package fixmate

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/jourdren/picard/encoding/bamprovider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeHeaders(t *testing.T) {
	h1 := NewTestHeader(sam.QueryName, 2)
	h2 := NewTestHeader(sam.QueryName, 1)
	merged, links, err := MergeHeaders([]*sam.Header{h1, h2})
	require.NoError(t, err)
	assert.Equal(t, sam.QueryName, merged.SortOrder)
	require.Len(t, links, 2)
	assert.Equal(t, "chr2", links[0][1].Name())
	assert.Equal(t, "chr1", links[1][0].Name())

	h2.SortOrder = sam.Coordinate
	merged, _, err = MergeHeaders([]*sam.Header{h1, h2})
	require.NoError(t, err)
	assert.Equal(t, sam.Unsorted, merged.SortOrder)
	assert.Equal(t, sam.Coordinate, h2.SortOrder)

	// A single input follows the same rule as many.
	merged, links, err = MergeHeaders([]*sam.Header{h2})
	require.NoError(t, err)
	assert.Equal(t, sam.Unsorted, merged.SortOrder)
	assert.Equal(t, sam.Coordinate, h2.SortOrder)
	assert.Len(t, links[0], 1)

	merged, _, err = MergeHeaders([]*sam.Header{h1})
	require.NoError(t, err)
	assert.Equal(t, sam.QueryName, merged.SortOrder)
}

func TestChooseStrategy(t *testing.T) {
	name := NewTestHeader(sam.QueryName, 1)
	coord := NewTestHeader(sam.Coordinate, 1)
	assert.Equal(t, directMerge, chooseStrategy([]*sam.Header{name, name}, false))
	assert.Equal(t, externalSort, chooseStrategy([]*sam.Header{name, coord}, false))
	assert.Equal(t, directMerge, chooseStrategy([]*sam.Header{name, coord}, true))
}

func drainNames(t *testing.T, it bamprovider.Iterator) []string {
	var names []string
	for it.Scan() {
		r := it.Record()
		names = append(names, r.Name+":"+r.Ref.Name())
	}
	require.NoError(t, it.Close())
	return names
}

func TestNameMerge(t *testing.T) {
	h := NewTestHeader(sam.QueryName, 2)
	p0 := bamprovider.NewFakeProvider(h, []*sam.Record{
		NewRecord("a", chr1, 1, 0, 0, nil, nil),
		NewRecord("c", chr1, 1, 0, 0, nil, nil),
		NewRecord("c", chr1, 2, 0, 0, nil, nil),
	})
	p1 := bamprovider.NewFakeProvider(h, []*sam.Record{
		NewRecord("b", chr2, 1, 0, 0, nil, nil),
		NewRecord("c", chr2, 1, 0, 0, nil, nil),
		NewRecord("d", chr2, 1, 0, 0, nil, nil),
	})
	empty := bamprovider.NewFakeProvider(h, nil)
	m := newNameMergeIterator([]bamprovider.Iterator{p0.NewIterator(), empty.NewIterator(), p1.NewIterator()})
	// Equal names come in input order.
	assert.Equal(t, []string{"a:chr1", "b:chr2", "c:chr1", "c:chr1", "c:chr2", "d:chr2"}, drainNames(t, m))
	for _, p := range []bamprovider.Provider{p0, p1, empty} {
		require.NoError(t, p.Close())
	}
}

func TestMergeInputsRemap(t *testing.T) {
	for _, strategy := range []mergeStrategy{directMerge, externalSort} {
		t.Run(strategy.String(), func(t *testing.T) { testMergeInputsRemap(t, strategy) })
	}
}

func testMergeInputsRemap(t *testing.T, strategy mergeStrategy) {
	h0 := NewTestHeader(sam.QueryName, 2)
	ref, err := sam.NewReference("chrX", "", "", 100, nil, nil)
	require.NoError(t, err)
	h1, err := sam.NewHeader(nil, []*sam.Reference{ref})
	require.NoError(t, err)
	h1.SortOrder = sam.QueryName

	providers := []bamprovider.Provider{
		bamprovider.NewFakeProvider(h0, []*sam.Record{
			NewRecord("b", h0.Refs()[1], 1, 0, 0, nil, nil),
		}),
		bamprovider.NewFakeProvider(h1, []*sam.Record{
			NewRecord("a", ref, 1, 0, 5, ref, nil),
		}),
	}
	headers := []*sam.Header{h0, h1}
	merged, links, err := MergeHeaders(headers)
	require.NoError(t, err)
	opts := DefaultOpts
	opts.Inputs = []string{"in0", "in1"}
	it, err := mergeInputs(providers, merged, links, strategy, &opts)
	require.NoError(t, err)
	var recs []*sam.Record
	for it.Scan() {
		recs = append(recs, it.Record())
	}
	require.NoError(t, it.Close())
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].Name)
	assert.Equal(t, "chrX", recs[0].Ref.Name())
	assert.Equal(t, 2, recs[0].Ref.ID())
	assert.Equal(t, "chrX", recs[0].MateRef.Name())
	assert.Equal(t, 2, recs[0].MateRef.ID())
	assert.Equal(t, "b", recs[1].Name)
	assert.Equal(t, "chr2", recs[1].Ref.Name())
	assert.Equal(t, 1, recs[1].Ref.ID())
	for _, p := range providers {
		require.NoError(t, p.Close())
	}
}

func TestRemapUnknownReference(t *testing.T) {
	h := NewTestHeader(sam.QueryName, 2)
	p := bamprovider.NewFakeProvider(h, []*sam.Record{NewRecord("a", chr2, 1, 0, 0, nil, nil)})
	it := &remapIterator{Iterator: p.NewIterator(), links: h.Refs()[:1]}
	assert.False(t, it.Scan())
	assert.Error(t, it.Err())
	assert.Error(t, it.Close())
	require.NoError(t, p.Close())
}

func TestRemapIteratorRecord(t *testing.T) {
	h := NewTestHeader(sam.QueryName, 2)
	p := bamprovider.NewFakeProvider(h, []*sam.Record{NewRecord("a", chr1, 1, 0, 0, chr1, nil)})
	merged := NewTestHeader(sam.QueryName, 2)
	it := &remapIterator{Iterator: p.NewIterator(), links: []*sam.Reference{merged.Refs()[1], merged.Refs()[0]}}
	require.True(t, it.Scan())
	// Repeated calls see the same remapped record.
	assert.True(t, it.Record() == it.Record())
	assert.Equal(t, "chr2", it.Record().Ref.Name())
	assert.Equal(t, "chr2", it.Record().MateRef.Name())
	assert.False(t, it.Scan())
	require.NoError(t, it.Close())
	require.NoError(t, p.Close())
}

func TestPlanOutput(t *testing.T) {
	h := NewTestHeader(sam.QueryName, 1)
	h.Version = ""
	opts := DefaultOpts
	out, err := planOutput(h, sam.Unsorted, &opts)
	require.NoError(t, err)
	assert.Equal(t, sam.Unsorted, out.SortOrder)
	assert.Equal(t, headerVersion, out.Version)
	// The input header is not modified.
	assert.Equal(t, sam.QueryName, h.SortOrder)
	assert.Equal(t, "", h.Version)

	opts.SortOrder = "Coordinate"
	out, err = planOutput(h, sam.Unsorted, &opts)
	require.NoError(t, err)
	assert.Equal(t, sam.Coordinate, out.SortOrder)

	opts.SortOrder = ""
	opts.BuildIndex = true
	_, err = planOutput(h, sam.QueryName, &opts)
	assert.Error(t, err)
	_, err = planOutput(h, sam.Coordinate, &opts)
	assert.NoError(t, err)
}

func TestStagedPath(t *testing.T) {
	p1, p2 := stagedPath("/data/x/a.sam"), stagedPath("/data/x/a.sam")
	assert.NotEqual(t, p1, p2)
	assert.Regexp(t, `^/data/x/a\.sam\.being_fixed\.[0-9a-f-]{36}\.sam$`, p1)
	assert.Equal(t, bamprovider.SAM, bamprovider.GuessFileType(p1))
}
