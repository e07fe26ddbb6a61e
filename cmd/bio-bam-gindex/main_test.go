package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/jourdren/picard/fixmate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndDump(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	h := fixmate.NewTestHeader(sam.Coordinate, 2)
	cigar := sam.Cigar{sam.NewCigarOp(sam.CigarMatch, 10)}
	bamPath := filepath.Join(dir, "a.bam")
	fixmate.WriteRecords(t, bamPath, h,
		fixmate.NewRecord("a", h.Refs()[0], 10, 0, 0, nil, cigar),
		fixmate.NewRecord("b", h.Refs()[0], 20, 0, 0, nil, cigar),
		fixmate.NewRecord("c", h.Refs()[1], 5, 0, 0, nil, cigar),
		fixmate.NewRecord("d", nil, -1, sam.Unmapped, 0, nil, nil))

	ctx := context.Background()
	indexPath := filepath.Join(dir, "a.bam.gbai")
	require.NoError(t, writeIndex(ctx, bamPath, indexPath, 64<<10, 1))
	var out bytes.Buffer
	require.NoError(t, dumpIndex(ctx, &out, indexPath))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "0\t10\t0\t"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1\t5\t0\t"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "-1\t0\t0\t"), lines[2])
}

func TestWriteUnsorted(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	h := fixmate.NewTestHeader(sam.Unsorted, 1)
	bamPath := filepath.Join(dir, "a.bam")
	fixmate.WriteRecords(t, bamPath, h,
		fixmate.NewRecord("a", h.Refs()[0], 20, 0, 0, nil, nil),
		fixmate.NewRecord("b", h.Refs()[0], 10, 0, 0, nil, nil))
	indexPath := filepath.Join(dir, "a.bam.gbai")
	assert.Error(t, writeIndex(context.Background(), bamPath, indexPath, 64<<10, 1))
	_, err := os.Stat(indexPath)
	assert.True(t, os.IsNotExist(err), "%v", err)
}
