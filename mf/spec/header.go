package spec

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/eak1mov/go-mapfile/geo"
)

const (
	magic = "mapsforge binary OSM"

	// MagicLength is the size of the magic signature.
	MagicLength = 20
	// PrologueLength covers the magic signature and the 4-byte header size;
	// the remaining header starts at this file offset.
	PrologueLength = MagicLength + 4

	supportedVersionMin = 3
	supportedVersionMax = 5

	mercatorProjection = "Mercator"

	// DefaultStartZoomLevel is used when the header carries no start zoom.
	DefaultStartZoomLevel = 12

	// BlockSignatureLength is the size of the optional debug signature
	// preceding each block.
	BlockSignatureLength = 32
)

const (
	headerFlagDebug         = 0x80
	headerFlagStartPosition = 0x40
	headerFlagStartZoom     = 0x20
	headerFlagLanguages     = 0x10
	headerFlagComment       = 0x08
	headerFlagCreatedBy     = 0x04
)

var (
	ErrInvalidMagic    = errors.New("mapfile: invalid magic signature")
	ErrInvalidVersion  = errors.New("mapfile: unsupported file version")
	ErrInvalidHeader   = errors.New("mapfile: invalid header")
	ErrUnsupportedZoom = errors.New("mapfile: no sub-file for zoom level")
)

// SubFileParams describes one zoom-interval sub-file: where its index and
// data segments live and which block grid it spans at its base zoom.
type SubFileParams struct {
	Start      int64
	IndexStart int64
	DataStart  int64
	DataSize   int64

	BaseZoom byte
	ZoomMin  byte
	ZoomMax  byte

	BoundaryLeft   int64
	BoundaryTop    int64
	BoundaryRight  int64
	BoundaryBottom int64

	BlocksWidth  int64
	BlocksHeight int64
	BlockCount   int64
}

// Header holds the parsed file preamble. Immutable after parsing.
type Header struct {
	FileVersion   uint32
	FileSize      int64
	CreationDate  time.Time
	Bound         orb.Bound
	TilePixelSize uint16
	Projection    string
	Debug         bool
	StartPosition *orb.Point
	StartZoom     byte
	Languages     []string
	Comment       string
	CreatedBy     string
	POITags       []string
	WayTags       []string
	SubFiles      []SubFileParams
	ZoomMin       byte
	ZoomMax       byte
}

// DeserializeMagic validates the magic signature and returns the length of
// the remaining header.
func DeserializeMagic(rb *ReadBuffer) (int, error) {
	raw, err := rb.ReadBytes(MagicLength)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidMagic, err)
	}
	if string(raw) != magic {
		return 0, ErrInvalidMagic
	}
	headerLength, err := rb.ReadUint32()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	if headerLength == 0 {
		return 0, fmt.Errorf("%w: empty header", ErrInvalidHeader)
	}
	return int(headerLength), nil
}

// DeserializeHeader parses the header fields following the prologue.
// fileSize is the actual length of the file on disk.
func DeserializeHeader(rb *ReadBuffer, fileSize int64) (*Header, error) {
	header := &Header{}

	version, err := rb.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	if version < supportedVersionMin || version > supportedVersionMax {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, version)
	}
	header.FileVersion = version

	declaredSize, err := rb.ReadUint64()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	if int64(declaredSize) != fileSize {
		return nil, fmt.Errorf("%w: declared file size %d, actual %d", ErrInvalidHeader, declaredSize, fileSize)
	}
	header.FileSize = fileSize

	creationMillis, err := rb.ReadUint64()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	header.CreationDate = time.UnixMilli(int64(creationMillis)).UTC()

	if header.Bound, err = deserializeBound(rb); err != nil {
		return nil, err
	}

	if header.TilePixelSize, err = rb.ReadUint16(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}

	if header.Projection, err = rb.ReadString(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	if header.Projection != mercatorProjection {
		return nil, fmt.Errorf("%w: unsupported projection %q", ErrInvalidHeader, header.Projection)
	}

	flags, err := rb.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	header.Debug = flags&headerFlagDebug != 0

	if flags&headerFlagStartPosition != 0 {
		latE6, err := rb.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
		}
		lonE6, err := rb.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
		}
		position := geo.PointFromE6(int32(latE6), int32(lonE6))
		header.StartPosition = &position
	}

	header.StartZoom = DefaultStartZoomLevel
	if flags&headerFlagStartZoom != 0 {
		if header.StartZoom, err = rb.ReadByte(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
		}
	}

	if flags&headerFlagLanguages != 0 {
		languages, err := rb.ReadString()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
		}
		if languages != "" {
			header.Languages = strings.Split(languages, ",")
		}
	}

	if flags&headerFlagComment != 0 {
		if header.Comment, err = rb.ReadString(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
		}
	}

	if flags&headerFlagCreatedBy != 0 {
		if header.CreatedBy, err = rb.ReadString(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
		}
	}

	if header.POITags, err = deserializeTags(rb); err != nil {
		return nil, err
	}
	if header.WayTags, err = deserializeTags(rb); err != nil {
		return nil, err
	}

	if err := deserializeSubFiles(rb, header); err != nil {
		return nil, err
	}

	return header, nil
}

func deserializeBound(rb *ReadBuffer) (orb.Bound, error) {
	var e6 [4]int32
	for i := range e6 {
		v, err := rb.ReadUint32()
		if err != nil {
			return orb.Bound{}, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
		}
		e6[i] = int32(v)
	}
	minLat, minLon, maxLat, maxLon := e6[0], e6[1], e6[2], e6[3]
	if minLat > maxLat || minLon > maxLon {
		return orb.Bound{}, fmt.Errorf("%w: invalid bounding box", ErrInvalidHeader)
	}
	return orb.Bound{
		Min: geo.PointFromE6(minLat, minLon),
		Max: geo.PointFromE6(maxLat, maxLon),
	}, nil
}

func deserializeTags(rb *ReadBuffer) ([]string, error) {
	count, err := rb.ReadUint16()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	tags := make([]string, count)
	for i := range tags {
		if tags[i], err = rb.ReadString(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
		}
	}
	return tags, nil
}

func deserializeSubFiles(rb *ReadBuffer, header *Header) error {
	count, err := rb.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidHeader, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: no zoom intervals", ErrInvalidHeader)
	}

	header.SubFiles = make([]SubFileParams, count)
	for i := range header.SubFiles {
		sub := &header.SubFiles[i]

		if sub.BaseZoom, err = rb.ReadByte(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidHeader, err)
		}
		if sub.ZoomMin, err = rb.ReadByte(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidHeader, err)
		}
		if sub.ZoomMax, err = rb.ReadByte(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidHeader, err)
		}
		start, err := rb.ReadUint64()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidHeader, err)
		}
		size, err := rb.ReadUint64()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidHeader, err)
		}

		if sub.ZoomMin > sub.ZoomMax || sub.BaseZoom < sub.ZoomMin || sub.BaseZoom > sub.ZoomMax {
			return fmt.Errorf("%w: invalid zoom interval [%d,%d] base %d", ErrInvalidHeader, sub.ZoomMin, sub.ZoomMax, sub.BaseZoom)
		}

		sub.BoundaryLeft = geo.LongitudeToTileX(header.Bound.Min[0], sub.BaseZoom)
		sub.BoundaryRight = geo.LongitudeToTileX(header.Bound.Max[0], sub.BaseZoom)
		sub.BoundaryTop = geo.LatitudeToTileY(header.Bound.Max[1], sub.BaseZoom)
		sub.BoundaryBottom = geo.LatitudeToTileY(header.Bound.Min[1], sub.BaseZoom)
		sub.BlocksWidth = sub.BoundaryRight - sub.BoundaryLeft + 1
		sub.BlocksHeight = sub.BoundaryBottom - sub.BoundaryTop + 1
		sub.BlockCount = sub.BlocksWidth * sub.BlocksHeight

		indexSegmentSize := sub.BlockCount * IndexEntryLength
		sub.Start = int64(start)
		sub.IndexStart = sub.Start
		sub.DataStart = sub.Start + indexSegmentSize
		sub.DataSize = int64(size) - indexSegmentSize

		if sub.Start < PrologueLength || sub.DataSize < 1 || sub.Start+int64(size) > header.FileSize {
			return fmt.Errorf("%w: sub-file %d out of file bounds", ErrInvalidHeader, i)
		}
	}

	slices.SortFunc(header.SubFiles, func(a, b SubFileParams) int {
		return cmp.Compare(a.BaseZoom, b.BaseZoom)
	})

	// Zoom coverage must be contiguous so that every zoom level in
	// [0, ZoomMax] maps to exactly one sub-file.
	for i, sub := range header.SubFiles {
		if i == 0 {
			if sub.ZoomMin != 0 {
				return fmt.Errorf("%w: zoom coverage starts at %d", ErrInvalidHeader, sub.ZoomMin)
			}
			continue
		}
		if sub.ZoomMin != header.SubFiles[i-1].ZoomMax+1 {
			return fmt.Errorf("%w: zoom coverage gap before interval %d", ErrInvalidHeader, i)
		}
	}
	header.ZoomMin = header.SubFiles[0].ZoomMin
	header.ZoomMax = header.SubFiles[count-1].ZoomMax

	return nil
}

// SubFileForZoom returns the sub-file whose zoom interval contains the
// given zoom level.
func (h *Header) SubFileForZoom(zoom byte) (*SubFileParams, error) {
	for i := range h.SubFiles {
		sub := &h.SubFiles[i]
		if zoom >= sub.ZoomMin && zoom <= sub.ZoomMax {
			return sub, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedZoom, zoom)
}

// QueryZoomLevel returns the base zoom of the sub-file covering the given
// zoom level. It is monotonic non-decreasing over [ZoomMin, ZoomMax].
func (h *Header) QueryZoomLevel(zoom byte) (byte, error) {
	sub, err := h.SubFileForZoom(zoom)
	if err != nil {
		return 0, err
	}
	return sub.BaseZoom, nil
}
