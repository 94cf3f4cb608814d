// Package mf provides API for reading POIs and ways from a binary map
// store file: a single append-only file holding a geographic region as a
// hierarchy of zoom-interval sub-files, each spatially indexed into
// fixed-size blocks. Queries read only the blocks covering the requested
// tile range.
//
// A MapFile may serve multiple queries concurrently; callers should bound
// the number of in-flight queries to limit I/O contention.
package mf

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/eak1mov/go-mapfile/geo"
	"github.com/eak1mov/go-mapfile/mapdata"
	"github.com/eak1mov/go-mapfile/mf/spec"
)

// DefaultMaxBlockSize is the cutoff above which a block is considered
// corrupt and skipped.
const DefaultMaxBlockSize = 8 << 20

type options struct {
	maxBlockSize int64
	language     string
	logger       *slog.Logger
	cachePages   int
}

type Option func(*options)

// WithMaxBlockSize overrides the oversized-block cutoff in bytes.
func WithMaxBlockSize(n int64) Option {
	return func(o *options) { o.maxBlockSize = n }
}

// WithPreferredLanguage selects the name variant returned for
// multi-language entities.
func WithPreferredLanguage(language string) Option {
	return func(o *options) { o.language = language }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithIndexCachePages overrides the index cache page capacity.
func WithIndexCachePages(pages int) Option {
	return func(o *options) { o.cachePages = pages }
}

// MapFile reads a single map store file. It implements mapdata.Source.
type MapFile struct {
	fa     *fileAccess
	header *spec.Header
	cache  *indexCache
	logger *slog.Logger

	maxBlockSize int64
	language     string

	mu         sync.Mutex
	zoomMin    byte
	zoomMax    byte
	seenBlocks map[blockKey]struct{}
}

type blockKey struct {
	subFileStart int64
	blockNumber  int64
}

var _ mapdata.Source = (*MapFile)(nil)

// Open opens a map store file and parses its header. Format errors (bad
// magic, unsupported version, unreadable header) are fatal: no MapFile is
// produced.
func Open(path string, opts ...Option) (*MapFile, error) {
	o := options{
		maxBlockSize: DefaultMaxBlockSize,
		logger:       slog.Default(),
		cachePages:   DefaultIndexCachePages,
	}
	for _, opt := range opts {
		opt(&o)
	}

	fa, err := openFileAccess(path)
	if err != nil {
		return nil, err
	}

	prologue, err := fa.ReadRange(0, spec.PrologueLength)
	if err != nil {
		fa.CloseFile()
		return nil, err
	}
	headerLength, err := spec.DeserializeMagic(spec.NewReadBuffer(prologue))
	if err != nil {
		fa.CloseFile()
		return nil, err
	}

	headerData, err := fa.ReadRange(spec.PrologueLength, int64(headerLength))
	if err != nil {
		fa.CloseFile()
		return nil, err
	}
	header, err := spec.DeserializeHeader(spec.NewReadBuffer(headerData), fa.Size())
	if err != nil {
		fa.CloseFile()
		return nil, err
	}

	cache, err := newIndexCache(fa, o.cachePages)
	if err != nil {
		fa.CloseFile()
		return nil, err
	}

	return &MapFile{
		fa:           fa,
		header:       header,
		cache:        cache,
		logger:       o.logger,
		maxBlockSize: o.maxBlockSize,
		language:     o.language,
		zoomMin:      header.ZoomMin,
		zoomMax:      header.ZoomMax,
		seenBlocks:   make(map[blockKey]struct{}),
	}, nil
}

func (m *MapFile) BoundingBox() orb.Bound {
	return m.header.Bound
}

// StartPosition returns the suggested initial map position. The second
// result reports whether the header carried one.
func (m *MapFile) StartPosition() (orb.Point, bool) {
	if m.header.StartPosition == nil {
		return m.header.Bound.Center(), false
	}
	return *m.header.StartPosition, true
}

func (m *MapFile) StartZoomLevel() byte {
	return m.header.StartZoom
}

func (m *MapFile) Languages() []string {
	return m.header.Languages
}

func (m *MapFile) CreationDate() time.Time {
	return m.header.CreationDate
}

func (m *MapFile) Comment() string {
	return m.header.Comment
}

func (m *MapFile) CreatedBy() string {
	return m.header.CreatedBy
}

func (m *MapFile) ZoomRange() (byte, byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.zoomMin, m.zoomMax
}

// RestrictToZoomRange narrows the zoom window reported by SupportsTile
// without re-parsing the header.
func (m *MapFile) RestrictToZoomRange(minZoom, maxZoom byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zoomMin = max(minZoom, m.header.ZoomMin)
	m.zoomMax = min(maxZoom, m.header.ZoomMax)
}

// SupportsTile reports whether the tile's zoom is inside the usable zoom
// window and its geographic box intersects the file's bounding box.
func (m *MapFile) SupportsTile(t geo.Tile) bool {
	zoomMin, zoomMax := m.ZoomRange()
	if t.Zoom < zoomMin || t.Zoom > zoomMax {
		return false
	}
	return t.Bound().Intersects(m.header.Bound)
}

func (m *MapFile) ReadMapData(t geo.Tile) (*mapdata.Result, error) {
	return m.read(t, t, mapdata.SelectorAll)
}

func (m *MapFile) ReadMapDataRange(upperLeft, lowerRight geo.Tile) (*mapdata.Result, error) {
	return m.read(upperLeft, lowerRight, mapdata.SelectorAll)
}

func (m *MapFile) ReadLabels(t geo.Tile) (*mapdata.Result, error) {
	return m.read(t, t, mapdata.SelectorLabels)
}

func (m *MapFile) ReadLabelsRange(upperLeft, lowerRight geo.Tile) (*mapdata.Result, error) {
	return m.read(upperLeft, lowerRight, mapdata.SelectorLabels)
}

func (m *MapFile) ReadPoiData(t geo.Tile) (*mapdata.Result, error) {
	return m.read(t, t, mapdata.SelectorPOIs)
}

func (m *MapFile) ReadPoiDataRange(upperLeft, lowerRight geo.Tile) (*mapdata.Result, error) {
	return m.read(upperLeft, lowerRight, mapdata.SelectorPOIs)
}

// CloseFile releases the OS file handle. The MapFile stays usable: the
// next query reopens the file by name.
func (m *MapFile) CloseFile() error {
	return m.fa.CloseFile()
}

// Close releases the index cache and the file handle.
func (m *MapFile) Close() error {
	m.cache.dispose()
	return m.fa.CloseFile()
}

func (m *MapFile) read(upperLeft, lowerRight geo.Tile, selector mapdata.Selector) (*mapdata.Result, error) {
	sub, err := m.header.SubFileForZoom(upperLeft.Zoom)
	if err != nil {
		return nil, err
	}
	params, err := spec.CalculateQueryParams(sub, upperLeft, lowerRight)
	if err != nil {
		return nil, err
	}
	queryBound := upperLeft.Bound().Union(lowerRight.Bound())
	return m.processBlocks(sub, params, queryBound, selector)
}

func (m *MapFile) processBlocks(sub *spec.SubFileParams, params spec.QueryParams, queryBound orb.Bound, selector mapdata.Selector) (*mapdata.Result, error) {
	result := &mapdata.Result{}
	queryIsWater := true
	readWaterInfo := false

	// Partial results are deliberate: one corrupt block must not crash the
	// caller, so validation failures end the query with what has been
	// accumulated so far.
	finish := func() (*mapdata.Result, error) {
		result.IsWater = queryIsWater && readWaterInfo
		return result, nil
	}

	for row := params.FromBlockY; row <= params.ToBlockY; row++ {
		for column := params.FromBlockX; column <= params.ToBlockX; column++ {
			blockNumber := row*sub.BlocksWidth + column
			m.markBlockSeen(sub, blockNumber)

			entry, err := m.cache.IndexEntry(sub, blockNumber)
			if err != nil {
				return nil, err
			}
			queryIsWater = queryIsWater && entry.Water
			readWaterInfo = true

			currentPointer := int64(entry.Offset)
			if currentPointer < 1 || currentPointer > sub.DataSize {
				m.logger.Warn("invalid block pointer, returning partial result",
					"block", blockNumber, "pointer", currentPointer)
				return finish()
			}

			nextPointer := sub.DataSize
			if blockNumber+1 < sub.BlockCount {
				next, err := m.cache.IndexEntry(sub, blockNumber+1)
				if err != nil {
					return nil, err
				}
				nextPointer = int64(next.Offset)
				if nextPointer < 1 || nextPointer > sub.DataSize {
					m.logger.Warn("invalid next block pointer, returning partial result",
						"block", blockNumber+1, "pointer", nextPointer)
					return finish()
				}
			}

			blockSize := nextPointer - currentPointer
			if blockSize < 0 {
				m.logger.Warn("negative block size, returning partial result",
					"block", blockNumber, "size", blockSize)
				return finish()
			}
			if blockSize == 0 {
				continue
			}
			if blockSize > m.maxBlockSize {
				m.logger.Warn("block exceeds maximum buffer size, skipping",
					"block", blockNumber, "size", blockSize, "max", m.maxBlockSize)
				continue
			}
			if sub.DataStart+currentPointer+blockSize > m.fa.Size() {
				m.logger.Warn("block extends past end of file, returning partial result",
					"block", blockNumber, "size", blockSize)
				return finish()
			}

			blockData, err := m.fa.ReadRange(sub.DataStart+currentPointer, blockSize)
			if err != nil {
				return nil, err
			}

			origin := geo.Tile{
				X:    sub.BoundaryLeft + column,
				Y:    sub.BoundaryTop + row,
				Zoom: sub.BaseZoom,
			}.TopLeft()

			if err := m.processBlock(spec.NewReadBuffer(blockData), sub, params, origin, queryBound, selector, result); err != nil {
				m.logger.Warn("unreadable block, returning partial result",
					"block", blockNumber, "err", err)
				return finish()
			}
		}
	}

	return finish()
}

func (m *MapFile) processBlock(rb *spec.ReadBuffer, sub *spec.SubFileParams, params spec.QueryParams, origin orb.Point, queryBound orb.Bound, selector mapdata.Selector, result *mapdata.Result) error {
	if m.header.Debug {
		if err := spec.CheckBlockSignature(rb); err != nil {
			return err
		}
	}

	table, err := spec.DeserializeZoomTable(rb, int(sub.ZoomMax-sub.ZoomMin+1))
	if err != nil {
		return err
	}
	row := table[params.QueryZoom-sub.ZoomMin]

	firstWayOffset, err := rb.ReadVarUint()
	if err != nil {
		return err
	}
	firstWayPosition := rb.Position() + int(firstWayOffset)
	if firstWayPosition > rb.Size() {
		return fmt.Errorf("%w: first way offset %d", spec.ErrBufferBounds, firstWayOffset)
	}

	opts := spec.DecodeOptions{
		Debug:    m.header.Debug,
		Language: m.language,
	}
	if params.FilterRequired {
		opts.Filter = &queryBound
	}

	pois, err := spec.DeserializePOIs(rb, int(row.POIs), origin, m.header.POITags, opts)
	if err != nil {
		return err
	}
	result.POIs = append(result.POIs, pois...)

	if selector == mapdata.SelectorPOIs {
		return nil
	}

	if err := rb.SetPosition(firstWayPosition); err != nil {
		return err
	}
	ways, err := spec.DeserializeWays(rb, int(row.Ways), origin, m.header.WayTags, opts, selector == mapdata.SelectorLabels)
	if err != nil {
		return err
	}
	result.Ways = append(result.Ways, ways...)

	return nil
}

// markBlockSeen records the block in the diagnostic seen-set. Repeated
// reads are logged, never failed; the set does not affect correctness.
func (m *MapFile) markBlockSeen(sub *spec.SubFileParams, blockNumber int64) {
	key := blockKey{subFileStart: sub.Start, blockNumber: blockNumber}
	m.mu.Lock()
	_, seen := m.seenBlocks[key]
	m.seenBlocks[key] = struct{}{}
	m.mu.Unlock()
	if seen {
		m.logger.Debug("block read again", "subFileStart", sub.Start, "block", blockNumber)
	}
}
