package spec

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/eak1mov/go-mapfile/mapdata"
)

var ErrInvalidSignature = errors.New("mapfile: invalid debug signature")

const (
	poiSignaturePrefix = "***POIStart"
	waySignaturePrefix = "---WayStart"

	entityFlagName        = 0x80
	entityFlagHouseNumber = 0x40
	poiFlagElevation      = 0x20
	wayFlagRef            = 0x20
	wayFlagLabelPosition  = 0x10
	wayFlagDataBlocks     = 0x08
	wayFlagDoubleDelta    = 0x04
)

// DecodeOptions configures entity record decoding for one block.
type DecodeOptions struct {
	// Debug expects a signature before each record.
	Debug bool
	// Filter drops entities outside the bound when set.
	Filter *orb.Bound
	// Language selects a localized name variant.
	Language string
}

// DeserializePOIs decodes count POI records at the cursor. Coordinates are
// stored as microdegree offsets from origin, the top-left corner of the
// block's tile.
func DeserializePOIs(rb *ReadBuffer, count int, origin orb.Point, tags []string, opts DecodeOptions) ([]mapdata.PointOfInterest, error) {
	pois := make([]mapdata.PointOfInterest, 0, count)

	for i := 0; i < count; i++ {
		if opts.Debug {
			if err := checkSignature(rb, poiSignaturePrefix); err != nil {
				return nil, err
			}
		}

		latDiff, err := rb.ReadVarInt()
		if err != nil {
			return nil, err
		}
		lonDiff, err := rb.ReadVarInt()
		if err != nil {
			return nil, err
		}
		position := orb.Point{
			origin[0] + float64(lonDiff)/1e6,
			origin[1] + float64(latDiff)/1e6,
		}

		poi := mapdata.PointOfInterest{Position: position}

		special, err := rb.ReadByte()
		if err != nil {
			return nil, err
		}
		poi.Layer = int8(special>>4) - 5
		if poi.Tags, err = deserializeTagIDs(rb, int(special&0x0f), tags); err != nil {
			return nil, err
		}

		flags, err := rb.ReadByte()
		if err != nil {
			return nil, err
		}
		if flags&entityFlagName != 0 {
			name, err := rb.ReadString()
			if err != nil {
				return nil, err
			}
			poi.Name = ExtractLocalized(name, opts.Language)
		}
		if flags&entityFlagHouseNumber != 0 {
			if poi.HouseNumber, err = rb.ReadString(); err != nil {
				return nil, err
			}
		}
		if flags&poiFlagElevation != 0 {
			elevation, err := rb.ReadVarInt()
			if err != nil {
				return nil, err
			}
			poi.Elevation = int32(elevation)
		}

		if opts.Filter != nil && !opts.Filter.Contains(position) {
			continue
		}
		pois = append(pois, poi)
	}

	return pois, nil
}

// DeserializeWays decodes count way records at the cursor. A record with
// multiple way data blocks yields one Way per data block, all sharing the
// record's tags and names. namedOnly drops ways without a name.
func DeserializeWays(rb *ReadBuffer, count int, origin orb.Point, tags []string, opts DecodeOptions, namedOnly bool) ([]mapdata.Way, error) {
	ways := make([]mapdata.Way, 0, count)

	for i := 0; i < count; i++ {
		if opts.Debug {
			if err := checkSignature(rb, waySignaturePrefix); err != nil {
				return nil, err
			}
		}

		dataSize, err := rb.ReadVarUint()
		if err != nil {
			return nil, err
		}
		recordEnd := rb.Position() + int(dataSize)
		if recordEnd > rb.Size() {
			return nil, fmt.Errorf("%w: way record of %d bytes at position %d, size %d", ErrBufferBounds, dataSize, rb.Position(), rb.Size())
		}

		// Sub-tile bitmap; decoding relies on the bounding-box filter
		// instead of the bitmap.
		if _, err := rb.ReadUint16(); err != nil {
			return nil, err
		}

		way := mapdata.Way{}

		special, err := rb.ReadByte()
		if err != nil {
			return nil, err
		}
		way.Layer = int8(special>>4) - 5
		if way.Tags, err = deserializeTagIDs(rb, int(special&0x0f), tags); err != nil {
			return nil, err
		}

		flags, err := rb.ReadByte()
		if err != nil {
			return nil, err
		}
		if flags&entityFlagName != 0 {
			name, err := rb.ReadString()
			if err != nil {
				return nil, err
			}
			way.Name = ExtractLocalized(name, opts.Language)
		}
		if flags&entityFlagHouseNumber != 0 {
			if way.HouseNumber, err = rb.ReadString(); err != nil {
				return nil, err
			}
		}
		if flags&wayFlagRef != 0 {
			if way.Ref, err = rb.ReadString(); err != nil {
				return nil, err
			}
		}

		if namedOnly && way.Name == "" {
			if err := rb.SetPosition(recordEnd); err != nil {
				return nil, err
			}
			continue
		}

		var labelLatDiff, labelLonDiff int64
		hasLabelPosition := flags&wayFlagLabelPosition != 0
		if hasLabelPosition {
			if labelLatDiff, err = rb.ReadVarInt(); err != nil {
				return nil, err
			}
			if labelLonDiff, err = rb.ReadVarInt(); err != nil {
				return nil, err
			}
		}

		dataBlocks := uint64(1)
		if flags&wayFlagDataBlocks != 0 {
			if dataBlocks, err = rb.ReadVarUint(); err != nil {
				return nil, err
			}
			if dataBlocks == 0 || dataBlocks > uint64(rb.Remaining()) {
				return nil, fmt.Errorf("mapfile: invalid way data block count %d", dataBlocks)
			}
		}

		doubleDelta := flags&wayFlagDoubleDelta != 0
		for block := uint64(0); block < dataBlocks; block++ {
			geometry, err := deserializeWayGeometry(rb, origin, doubleDelta)
			if err != nil {
				return nil, err
			}

			w := way
			w.Geometry = geometry
			if hasLabelPosition && len(geometry) > 0 && len(geometry[0]) > 0 {
				label := orb.Point{
					geometry[0][0][0] + float64(labelLonDiff)/1e6,
					geometry[0][0][1] + float64(labelLatDiff)/1e6,
				}
				w.LabelPosition = &label
			}

			if opts.Filter != nil && !opts.Filter.Intersects(w.Bound()) {
				continue
			}
			ways = append(ways, w)
		}
	}

	return ways, nil
}

func deserializeWayGeometry(rb *ReadBuffer, origin orb.Point, doubleDelta bool) ([][]orb.Point, error) {
	coordBlocks, err := rb.ReadVarUint()
	if err != nil {
		return nil, err
	}
	if coordBlocks == 0 || coordBlocks > uint64(rb.Remaining()) {
		return nil, fmt.Errorf("mapfile: invalid coordinate block count %d", coordBlocks)
	}

	geometry := make([][]orb.Point, 0, coordBlocks)
	for block := uint64(0); block < coordBlocks; block++ {
		nodes, err := rb.ReadVarUint()
		if err != nil {
			return nil, err
		}
		if nodes < 2 || nodes > uint64(rb.Remaining()) {
			return nil, fmt.Errorf("mapfile: invalid way node count %d", nodes)
		}

		points := make([]orb.Point, 0, nodes)
		var latE6, lonE6, latOffset, lonOffset int64
		for n := uint64(0); n < nodes; n++ {
			latDiff, err := rb.ReadVarInt()
			if err != nil {
				return nil, err
			}
			lonDiff, err := rb.ReadVarInt()
			if err != nil {
				return nil, err
			}
			if doubleDelta && n > 1 {
				latOffset += latDiff
				lonOffset += lonDiff
			} else {
				latOffset = latDiff
				lonOffset = lonDiff
			}
			latE6 += latOffset
			lonE6 += lonOffset
			points = append(points, orb.Point{
				origin[0] + float64(lonE6)/1e6,
				origin[1] + float64(latE6)/1e6,
			})
		}
		geometry = append(geometry, points)
	}

	return geometry, nil
}

func deserializeTagIDs(rb *ReadBuffer, count int, tags []string) ([]mapdata.Tag, error) {
	if count == 0 {
		return nil, nil
	}
	result := make([]mapdata.Tag, 0, count)
	for i := 0; i < count; i++ {
		id, err := rb.ReadVarUint()
		if err != nil {
			return nil, err
		}
		if id >= uint64(len(tags)) {
			return nil, fmt.Errorf("mapfile: tag id %d out of range (%d tags)", id, len(tags))
		}
		result = append(result, mapdata.ParseTag(tags[id]))
	}
	return result, nil
}

// CheckBlockSignature validates the 32-byte debug signature at the start
// of a block.
func CheckBlockSignature(rb *ReadBuffer) error {
	raw, err := rb.ReadBytes(BlockSignatureLength)
	if err != nil {
		return err
	}
	if !bytes.HasPrefix(raw, []byte("###TileStart")) {
		return fmt.Errorf("%w: %q", ErrInvalidSignature, raw)
	}
	return nil
}

func checkSignature(rb *ReadBuffer, prefix string) error {
	raw, err := rb.ReadBytes(BlockSignatureLength)
	if err != nil {
		return err
	}
	if !bytes.HasPrefix(raw, []byte(prefix)) {
		return fmt.Errorf("%w: %q", ErrInvalidSignature, raw)
	}
	return nil
}

// ExtractLocalized picks a language variant from a multi-language name
// value. Variants are separated by '\r'; the first is the default, each
// other one is a "lang\bvalue" pair.
func ExtractLocalized(value, language string) string {
	if !strings.Contains(value, "\r") {
		return value
	}
	variants := strings.Split(value, "\r")
	if language == "" {
		return variants[0]
	}
	for _, variant := range variants[1:] {
		lang, localized, ok := strings.Cut(variant, "\b")
		if ok && lang == language {
			return localized
		}
	}
	return variants[0]
}
