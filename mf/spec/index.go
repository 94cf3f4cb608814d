package spec

// IndexEntryLength is the on-disk size of one block index entry.
const IndexEntryLength = 5

const (
	indexOffsetMask uint64 = 0x7FFFFFFFFF
	indexWaterMask  uint64 = 0x8000000000
)

// IndexEntry locates a block inside a sub-file's data segment. Offset is
// relative to the data segment start; Water marks a block covered
// entirely by water.
type IndexEntry struct {
	Offset uint64
	Water  bool
}

// DecodeIndexEntry splits a 40-bit raw index value into the block pointer
// (bits 0-38) and the water flag (bit 39).
func DecodeIndexEntry(raw uint64) IndexEntry {
	return IndexEntry{
		Offset: raw & indexOffsetMask,
		Water:  raw&indexWaterMask != 0,
	}
}

// EncodeIndexEntry packs an index entry back into its 40-bit raw value.
func EncodeIndexEntry(entry IndexEntry) uint64 {
	raw := entry.Offset & indexOffsetMask
	if entry.Water {
		raw |= indexWaterMask
	}
	return raw
}
