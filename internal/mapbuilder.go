// Package internal builds synthetic map store files for tests.
package internal

import (
	"os"
	"slices"

	"github.com/eak1mov/go-mapfile/geo"
	"github.com/eak1mov/go-mapfile/mf/spec"
)

// Builder assembles a map store file in memory. Zero entities, blocks and
// sub-files are valid; the defaults produce the smallest well-formed file.
type Builder struct {
	MinLatE6, MinLonE6, MaxLatE6, MaxLonE6 int32

	Version        uint32
	CreationMillis uint64
	TilePixelSize  uint16
	Debug          bool
	StartPosition  *[2]int32 // latE6, lonE6
	StartZoom      *byte
	Languages      string
	Comment        string
	CreatedBy      string
	POITags        []string
	WayTags        []string

	subFiles []*SubFileBuilder
}

func NewBuilder(minLatE6, minLonE6, maxLatE6, maxLonE6 int32) *Builder {
	return &Builder{
		MinLatE6:       minLatE6,
		MinLonE6:       minLonE6,
		MaxLatE6:       maxLatE6,
		MaxLonE6:       maxLonE6,
		Version:        5,
		CreationMillis: 1700000000000,
		TilePixelSize:  256,
	}
}

type SubFileBuilder struct {
	parent   *Builder
	baseZoom byte
	zoomMin  byte
	zoomMax  byte

	blocks           map[[2]int64]*BlockBuilder
	pointerOverrides map[int64]uint64
}

func (b *Builder) AddSubFile(baseZoom, zoomMin, zoomMax byte) *SubFileBuilder {
	sub := &SubFileBuilder{
		parent:           b,
		baseZoom:         baseZoom,
		zoomMin:          zoomMin,
		zoomMax:          zoomMax,
		blocks:           make(map[[2]int64]*BlockBuilder),
		pointerOverrides: make(map[int64]uint64),
	}
	b.subFiles = append(b.subFiles, sub)
	return sub
}

// Block returns the block at the given grid coordinates, creating it on
// first use. Blocks never touched stay empty (zero-length).
func (s *SubFileBuilder) Block(column, row int64) *BlockBuilder {
	key := [2]int64{column, row}
	if s.blocks[key] == nil {
		s.blocks[key] = &BlockBuilder{}
	}
	return s.blocks[key]
}

// OverridePointer replaces the raw 40-bit index value of one block, for
// corruption tests.
func (s *SubFileBuilder) OverridePointer(blockNumber int64, raw uint64) {
	s.pointerOverrides[blockNumber] = raw
}

type BlockBuilder struct {
	Water bool
	pois  []POI
	ways  []Way
}

// POI describes one POI record. Coordinates are microdegree offsets from
// the block tile's top-left corner; Zoom is the lowest zoom row the POI
// counts toward.
type POI struct {
	Zoom        byte
	LatDiffE6   int64
	LonDiffE6   int64
	Layer       int8
	TagIDs      []int
	Name        string
	HouseNumber string
	Elevation   *int32
}

// Way describes one way record. Each coordinate block lists node
// positions as cumulative microdegree offsets from the block tile's
// top-left corner; the builder derives the delta encoding.
type Way struct {
	Zoom        byte
	Layer       int8
	TagIDs      []int
	Name        string
	HouseNumber string
	Ref         string
	LabelDiffE6 *[2]int64 // latE6, lonE6 relative to the first node
	DoubleDelta bool
	CoordBlocks [][][2]int64 // [block][node]{latE6, lonE6}
}

func (b *BlockBuilder) AddPOI(poi POI) {
	b.pois = append(b.pois, poi)
}

func (b *BlockBuilder) AddWay(way Way) {
	b.ways = append(b.ways, way)
}

// Build assembles the complete file.
func (b *Builder) Build() []byte {
	remaining := b.buildHeaderFields()

	headerTotal := int64(spec.PrologueLength + len(remaining) + 1 + 19*len(b.subFiles))
	blobs := make([][]byte, len(b.subFiles))
	starts := make([]int64, len(b.subFiles))
	next := headerTotal
	for i, sub := range b.subFiles {
		blobs[i] = sub.build()
		starts[i] = next
		next += int64(len(blobs[i]))
	}
	fileSize := next

	data := make([]byte, 0, fileSize)
	data = append(data, "mapsforge binary OSM"...)
	data = AppendUintN(data, uint64(len(remaining)+1+19*len(b.subFiles)), 4)
	data = append(data, remaining...)
	data = append(data, byte(len(b.subFiles)))
	for i, sub := range b.subFiles {
		data = append(data, sub.baseZoom, sub.zoomMin, sub.zoomMax)
		data = AppendUintN(data, uint64(starts[i]), 8)
		data = AppendUintN(data, uint64(len(blobs[i])), 8)
	}
	for _, blob := range blobs {
		data = append(data, blob...)
	}

	// The file size field sits right after the 4-byte version.
	sizeField := AppendUintN(nil, uint64(fileSize), 8)
	copy(data[spec.PrologueLength+4:], sizeField)

	return data
}

// WriteFile builds the file and writes it to path.
func (b *Builder) WriteFile(path string) error {
	return os.WriteFile(path, b.Build(), 0o644)
}

func (b *Builder) buildHeaderFields() []byte {
	data := make([]byte, 0, 256)
	data = AppendUintN(data, uint64(b.Version), 4)
	data = AppendUintN(data, 0, 8) // file size, patched in Build
	data = AppendUintN(data, b.CreationMillis, 8)
	data = AppendUintN(data, uint64(uint32(b.MinLatE6)), 4)
	data = AppendUintN(data, uint64(uint32(b.MinLonE6)), 4)
	data = AppendUintN(data, uint64(uint32(b.MaxLatE6)), 4)
	data = AppendUintN(data, uint64(uint32(b.MaxLonE6)), 4)
	data = AppendUintN(data, uint64(b.TilePixelSize), 2)
	data = AppendString(data, "Mercator")

	var flags byte
	if b.Debug {
		flags |= 0x80
	}
	if b.StartPosition != nil {
		flags |= 0x40
	}
	if b.StartZoom != nil {
		flags |= 0x20
	}
	if b.Languages != "" {
		flags |= 0x10
	}
	if b.Comment != "" {
		flags |= 0x08
	}
	if b.CreatedBy != "" {
		flags |= 0x04
	}
	data = append(data, flags)

	if b.StartPosition != nil {
		data = AppendUintN(data, uint64(uint32(b.StartPosition[0])), 4)
		data = AppendUintN(data, uint64(uint32(b.StartPosition[1])), 4)
	}
	if b.StartZoom != nil {
		data = append(data, *b.StartZoom)
	}
	if b.Languages != "" {
		data = AppendString(data, b.Languages)
	}
	if b.Comment != "" {
		data = AppendString(data, b.Comment)
	}
	if b.CreatedBy != "" {
		data = AppendString(data, b.CreatedBy)
	}

	data = AppendUintN(data, uint64(len(b.POITags)), 2)
	for _, tag := range b.POITags {
		data = AppendString(data, tag)
	}
	data = AppendUintN(data, uint64(len(b.WayTags)), 2)
	for _, tag := range b.WayTags {
		data = AppendString(data, tag)
	}

	return data
}

func (s *SubFileBuilder) build() []byte {
	b := s.parent
	left := geo.LongitudeToTileX(float64(b.MinLonE6)/1e6, s.baseZoom)
	right := geo.LongitudeToTileX(float64(b.MaxLonE6)/1e6, s.baseZoom)
	top := geo.LatitudeToTileY(float64(b.MaxLatE6)/1e6, s.baseZoom)
	bottom := geo.LatitudeToTileY(float64(b.MinLatE6)/1e6, s.baseZoom)
	width := right - left + 1
	blockCount := width * (bottom - top + 1)

	// A one-byte pad keeps every valid block pointer >= 1.
	data := []byte{0}
	rawEntries := make([]uint64, blockCount)
	for n := int64(0); n < blockCount; n++ {
		entry := spec.IndexEntry{Offset: uint64(len(data))}
		block := s.blocks[[2]int64{n % width, n / width}]
		if block != nil {
			entry.Water = block.Water
			data = append(data, s.buildBlock(block)...)
		}
		rawEntries[n] = spec.EncodeIndexEntry(entry)
		if raw, ok := s.pointerOverrides[n]; ok {
			rawEntries[n] = raw
		}
	}

	blob := make([]byte, 0, blockCount*spec.IndexEntryLength+int64(len(data)))
	for _, raw := range rawEntries {
		blob = AppendUintN(blob, raw, spec.IndexEntryLength)
	}
	return append(blob, data...)
}

func (s *SubFileBuilder) buildBlock(block *BlockBuilder) []byte {
	pois := slices.Clone(block.pois)
	slices.SortStableFunc(pois, func(a, b POI) int { return int(a.Zoom) - int(b.Zoom) })
	ways := slices.Clone(block.ways)
	slices.SortStableFunc(ways, func(a, b Way) int { return int(a.Zoom) - int(b.Zoom) })

	var data []byte
	if s.parent.Debug {
		data = appendSignature(data, "###TileStart")
	}
	for z := s.zoomMin; z <= s.zoomMax; z++ {
		countPOIs := uint64(0)
		for _, p := range pois {
			if p.Zoom <= z {
				countPOIs++
			}
		}
		countWays := uint64(0)
		for _, w := range ways {
			if w.Zoom <= z {
				countWays++
			}
		}
		data = AppendVarUint(data, countPOIs)
		data = AppendVarUint(data, countWays)
	}

	var poiData []byte
	for _, p := range pois {
		poiData = s.buildPOI(poiData, p)
	}
	data = AppendVarUint(data, uint64(len(poiData)))
	data = append(data, poiData...)
	for _, w := range ways {
		data = s.buildWay(data, w)
	}
	return data
}

func (s *SubFileBuilder) buildPOI(data []byte, p POI) []byte {
	if s.parent.Debug {
		data = appendSignature(data, "***POIStart")
	}
	data = AppendVarInt(data, p.LatDiffE6)
	data = AppendVarInt(data, p.LonDiffE6)
	data = append(data, byte(p.Layer+5)<<4|byte(len(p.TagIDs)))
	for _, id := range p.TagIDs {
		data = AppendVarUint(data, uint64(id))
	}

	var flags byte
	if p.Name != "" {
		flags |= 0x80
	}
	if p.HouseNumber != "" {
		flags |= 0x40
	}
	if p.Elevation != nil {
		flags |= 0x20
	}
	data = append(data, flags)
	if p.Name != "" {
		data = AppendString(data, p.Name)
	}
	if p.HouseNumber != "" {
		data = AppendString(data, p.HouseNumber)
	}
	if p.Elevation != nil {
		data = AppendVarInt(data, int64(*p.Elevation))
	}
	return data
}

func (s *SubFileBuilder) buildWay(data []byte, w Way) []byte {
	body := AppendUintN(nil, 0, 2) // sub-tile bitmap
	body = append(body, byte(w.Layer+5)<<4|byte(len(w.TagIDs)))
	for _, id := range w.TagIDs {
		body = AppendVarUint(body, uint64(id))
	}

	var flags byte
	if w.Name != "" {
		flags |= 0x80
	}
	if w.HouseNumber != "" {
		flags |= 0x40
	}
	if w.Ref != "" {
		flags |= 0x20
	}
	if w.LabelDiffE6 != nil {
		flags |= 0x10
	}
	if w.DoubleDelta {
		flags |= 0x04
	}
	body = append(body, flags)
	if w.Name != "" {
		body = AppendString(body, w.Name)
	}
	if w.HouseNumber != "" {
		body = AppendString(body, w.HouseNumber)
	}
	if w.Ref != "" {
		body = AppendString(body, w.Ref)
	}
	if w.LabelDiffE6 != nil {
		body = AppendVarInt(body, w.LabelDiffE6[0])
		body = AppendVarInt(body, w.LabelDiffE6[1])
	}

	body = AppendVarUint(body, uint64(len(w.CoordBlocks)))
	for _, nodes := range w.CoordBlocks {
		body = AppendVarUint(body, uint64(len(nodes)))
		body = appendWayNodes(body, nodes, w.DoubleDelta)
	}

	if s.parent.Debug {
		data = appendSignature(data, "---WayStart")
	}
	data = AppendVarUint(data, uint64(len(body)))
	return append(data, body...)
}

func appendWayNodes(data []byte, nodes [][2]int64, doubleDelta bool) []byte {
	var prevLat, prevLon, prevDLat, prevDLon int64
	for i, node := range nodes {
		dLat := node[0] - prevLat
		dLon := node[1] - prevLon
		if doubleDelta && i > 1 {
			data = AppendVarInt(data, dLat-prevDLat)
			data = AppendVarInt(data, dLon-prevDLon)
		} else {
			data = AppendVarInt(data, dLat)
			data = AppendVarInt(data, dLon)
		}
		prevDLat, prevDLon = dLat, dLon
		prevLat, prevLon = node[0], node[1]
	}
	return data
}

func appendSignature(data []byte, prefix string) []byte {
	sig := make([]byte, spec.BlockSignatureLength)
	copy(sig, prefix)
	for i := len(prefix); i < len(sig); i++ {
		sig[i] = ' '
	}
	return append(data, sig...)
}

// AppendVarUint appends the variable-length unsigned encoding of v.
func AppendVarUint(data []byte, v uint64) []byte {
	for v > 0x7f {
		data = append(data, byte(v&0x7f)|0x80)
		v >>= 7
	}
	return append(data, byte(v))
}

// AppendVarInt appends the variable-length signed encoding of v: the sign
// lives in bit 6 of the final byte.
func AppendVarInt(data []byte, v int64) []byte {
	negative := v < 0
	if negative {
		v = -v
	}
	for v > 0x3f {
		data = append(data, byte(v&0x7f)|0x80)
		v >>= 7
	}
	last := byte(v)
	if negative {
		last |= 0x40
	}
	return append(data, last)
}

// AppendUintN appends v as a big-endian integer of n bytes.
func AppendUintN(data []byte, v uint64, n int) []byte {
	for i := n - 1; i >= 0; i-- {
		data = append(data, byte(v>>(8*i)))
	}
	return data
}

// AppendString appends a string prefixed with its varint byte length.
func AppendString(data []byte, s string) []byte {
	data = AppendVarUint(data, uint64(len(s)))
	return append(data, s...)
}
