package spec

import (
	"errors"
	"fmt"

	"github.com/eak1mov/go-mapfile/geo"
)

var ErrInvalidTileRange = errors.New("mapfile: invalid tile range")

// QueryParams maps a tile-range query onto a sub-file's block grid.
// Computed once per query, then immutable.
type QueryParams struct {
	QueryZoom  byte
	FromBlockX int64
	ToBlockX   int64
	FromBlockY int64
	ToBlockY   int64

	// FilterRequired is set when the requested zoom is finer than the
	// sub-file's base zoom, so decoded entities may lie outside the query
	// box and must be re-checked against it.
	FilterRequired bool
}

// CalculateQueryParams converts the query tile range to a block coordinate
// range at the sub-file's base zoom, clipped to its block grid. Both tiles
// must share one zoom level and upperLeft must not exceed lowerRight.
func CalculateQueryParams(sub *SubFileParams, upperLeft, lowerRight geo.Tile) (QueryParams, error) {
	if upperLeft.Zoom != lowerRight.Zoom {
		return QueryParams{}, fmt.Errorf("%w: zoom levels %d and %d differ", ErrInvalidTileRange, upperLeft.Zoom, lowerRight.Zoom)
	}
	if !upperLeft.Valid() || !lowerRight.Valid() {
		return QueryParams{}, fmt.Errorf("%w: tile coordinates out of range", ErrInvalidTileRange)
	}
	if upperLeft.X > lowerRight.X || upperLeft.Y > lowerRight.Y {
		return QueryParams{}, fmt.Errorf("%w: upper-left tile beyond lower-right tile", ErrInvalidTileRange)
	}

	fromX, fromY := upperLeft.X, upperLeft.Y
	toX, toY := lowerRight.X, lowerRight.Y

	// Convert to tile coordinates at the base zoom: shift right to
	// coarsen, shift left to refine.
	switch delta := int(sub.BaseZoom) - int(upperLeft.Zoom); {
	case delta > 0:
		fromX <<= delta
		fromY <<= delta
		toX = toX<<delta + (1<<delta - 1)
		toY = toY<<delta + (1<<delta - 1)
	case delta < 0:
		fromX >>= -delta
		fromY >>= -delta
		toX >>= -delta
		toY >>= -delta
	}

	clip := func(v, lo, hi int64) int64 { return max(lo, min(v, hi)) }
	fromX = clip(fromX, sub.BoundaryLeft, sub.BoundaryRight)
	toX = clip(toX, sub.BoundaryLeft, sub.BoundaryRight)
	fromY = clip(fromY, sub.BoundaryTop, sub.BoundaryBottom)
	toY = clip(toY, sub.BoundaryTop, sub.BoundaryBottom)

	return QueryParams{
		QueryZoom:      upperLeft.Zoom,
		FromBlockX:     fromX - sub.BoundaryLeft,
		ToBlockX:       toX - sub.BoundaryLeft,
		FromBlockY:     fromY - sub.BoundaryTop,
		ToBlockY:       toY - sub.BoundaryTop,
		FilterRequired: upperLeft.Zoom > sub.BaseZoom,
	}, nil
}
