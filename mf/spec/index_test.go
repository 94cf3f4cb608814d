package spec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eak1mov/go-mapfile/mf/spec"
)

func TestDecodeIndexEntry(t *testing.T) {
	for _, raw := range []uint64{
		0,
		1,
		0x7FFFFFFFFF,
		0x8000000000,
		0x8000000001,
		0xFFFFFFFFFF,
		0x123456789A,
	} {
		entry := spec.DecodeIndexEntry(raw)
		require.Equal(t, raw&0x7FFFFFFFFF, entry.Offset)
		require.Equal(t, raw&0x8000000000 != 0, entry.Water)
		require.Equal(t, raw, spec.EncodeIndexEntry(entry))
	}
}

func TestDecodeIndexEntryIgnoresHighBits(t *testing.T) {
	// Only the low 40 bits are significant.
	entry := spec.DecodeIndexEntry(0xFF_80000000AB)
	require.Equal(t, uint64(0xAB), entry.Offset)
	require.True(t, entry.Water)
}
