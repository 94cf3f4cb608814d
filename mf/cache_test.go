package mf

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eak1mov/go-mapfile/internal"
	"github.com/eak1mov/go-mapfile/mf/spec"
)

type countingReader struct {
	data  []byte
	reads int
}

func (r *countingReader) ReadRange(offset, length int64) ([]byte, error) {
	r.reads++
	return slices.Clone(r.data[offset : offset+length]), nil
}

func indexSegment(blockCount int64) []byte {
	data := make([]byte, 0, blockCount*spec.IndexEntryLength)
	for n := int64(0); n < blockCount; n++ {
		entry := spec.IndexEntry{Offset: uint64(n), Water: n%2 == 0}
		data = internal.AppendUintN(data, spec.EncodeIndexEntry(entry), spec.IndexEntryLength)
	}
	return data
}

func TestIndexCachePaging(t *testing.T) {
	sub := &spec.SubFileParams{IndexStart: 0, BlockCount: 600}
	source := &countingReader{data: indexSegment(sub.BlockCount)}

	cache, err := newIndexCache(source, DefaultIndexCachePages)
	require.NoError(t, err)

	for _, blockNumber := range []int64{0, 1, 100, 255} {
		entry, err := cache.IndexEntry(sub, blockNumber)
		require.NoError(t, err)
		require.Equal(t, uint64(blockNumber), entry.Offset)
		require.Equal(t, blockNumber%2 == 0, entry.Water)
	}
	require.Equal(t, 1, source.reads, "entries of one page resolved with a single read")

	// Last page is shorter than a full page.
	entry, err := cache.IndexEntry(sub, 599)
	require.NoError(t, err)
	require.Equal(t, uint64(599), entry.Offset)
	require.Equal(t, 2, source.reads)

	_, err = cache.IndexEntry(sub, 600)
	require.Error(t, err)
	_, err = cache.IndexEntry(sub, -1)
	require.Error(t, err)
}

func TestIndexCacheEviction(t *testing.T) {
	sub := &spec.SubFileParams{IndexStart: 0, BlockCount: 768}
	source := &countingReader{data: indexSegment(sub.BlockCount)}

	cache, err := newIndexCache(source, 2)
	require.NoError(t, err)

	mustRead := func(blockNumber int64) {
		entry, err := cache.IndexEntry(sub, blockNumber)
		require.NoError(t, err)
		require.Equal(t, uint64(blockNumber), entry.Offset)
	}

	mustRead(0)   // page 0
	mustRead(256) // page 1
	mustRead(512) // page 2, evicts page 0
	require.Equal(t, 3, source.reads)

	mustRead(0) // page 0 again, evicts page 1
	require.Equal(t, 4, source.reads)

	mustRead(512) // still cached
	require.Equal(t, 4, source.reads)

	cache.dispose()
	mustRead(512)
	require.Equal(t, 5, source.reads)
}
