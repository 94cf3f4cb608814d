// Package geo provides tile coordinates and the Mercator projection math
// shared by map data sources.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// LatitudeMax is the northern boundary of the Mercator projection.
const LatitudeMax = 85.05112877980659

// Tile represents tile coordinates in the XYZ scheme (Tiled web map).
type Tile struct {
	X    int64
	Y    int64
	Zoom byte
}

func (t Tile) Valid() bool {
	return t.Zoom < 32 &&
		t.X >= 0 && t.X < (1<<t.Zoom) &&
		t.Y >= 0 && t.Y < (1<<t.Zoom)
}

// TopLeft returns the geographic coordinate of the tile's north-west corner.
func (t Tile) TopLeft() orb.Point {
	return orb.Point{TileXToLongitude(t.X, t.Zoom), TileYToLatitude(t.Y, t.Zoom)}
}

// Bound returns the geographic rectangle covered by the tile.
func (t Tile) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{TileXToLongitude(t.X, t.Zoom), TileYToLatitude(t.Y+1, t.Zoom)},
		Max: orb.Point{TileXToLongitude(t.X+1, t.Zoom), TileYToLatitude(t.Y, t.Zoom)},
	}
}

func TileXToLongitude(x int64, zoom byte) float64 {
	return float64(x)/float64(int64(1)<<zoom)*360.0 - 180.0
}

func TileYToLatitude(y int64, zoom byte) float64 {
	n := math.Pi * (1.0 - 2.0*float64(y)/float64(int64(1)<<zoom))
	return math.Atan(math.Sinh(n)) * 180.0 / math.Pi
}

// LongitudeToTileX returns the X coordinate of the tile containing the
// given longitude, clamped to the valid range at the zoom level.
func LongitudeToTileX(longitude float64, zoom byte) int64 {
	x := int64(math.Floor((longitude + 180.0) / 360.0 * float64(int64(1)<<zoom)))
	return clampTileCoordinate(x, zoom)
}

// LatitudeToTileY returns the Y coordinate of the tile containing the
// given latitude, clamped to the valid range at the zoom level.
func LatitudeToTileY(latitude float64, zoom byte) int64 {
	latRad := latitude * math.Pi / 180.0
	y := int64(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * float64(int64(1)<<zoom)))
	return clampTileCoordinate(y, zoom)
}

func clampTileCoordinate(c int64, zoom byte) int64 {
	return max(0, min(c, int64(1)<<zoom-1))
}

// PointFromE6 converts microdegree coordinates to a geographic point.
func PointFromE6(latE6, lonE6 int32) orb.Point {
	return orb.Point{float64(lonE6) / 1e6, float64(latE6) / 1e6}
}
