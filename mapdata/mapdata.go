// Package mapdata defines the value objects produced by map data queries and
// the capability interface implemented by data sources.
package mapdata

import (
	"strings"

	"github.com/paulmach/orb"

	"github.com/eak1mov/go-mapfile/geo"
)

// Tag is a key/value pair attached to a POI or way.
type Tag struct {
	Key   string
	Value string
}

// ParseTag splits a dictionary entry of the form "key=value".
func ParseTag(s string) Tag {
	key, value, _ := strings.Cut(s, "=")
	return Tag{Key: key, Value: value}
}

// PointOfInterest is a named point feature with tags.
type PointOfInterest struct {
	Position    orb.Point
	Layer       int8
	Tags        []Tag
	Name        string
	HouseNumber string
	Elevation   int32
}

// Way is a polyline or polygon feature. Geometry holds one or more
// coordinate blocks; the first is the outer ring, the rest are holes.
type Way struct {
	Geometry      [][]orb.Point
	LabelPosition *orb.Point
	Layer         int8
	Tags          []Tag
	Name          string
	HouseNumber   string
	Ref           string
}

// Bound returns the geographic rectangle enclosing all way nodes.
func (w Way) Bound() orb.Bound {
	bound := orb.Bound{Min: orb.Point{180, 90}, Max: orb.Point{-180, -90}}
	for _, block := range w.Geometry {
		for _, point := range block {
			bound = bound.Extend(point)
		}
	}
	return bound
}

// Result accumulates the POIs and ways decoded by a single query.
type Result struct {
	POIs    []PointOfInterest
	Ways    []Way
	IsWater bool
}

// Selector chooses which entities a query decodes.
type Selector uint8

const (
	// SelectorAll decodes both POIs and ways.
	SelectorAll Selector = iota
	// SelectorPOIs skips way records entirely.
	SelectorPOIs
	// SelectorLabels decodes POIs and only the ways carrying a name.
	SelectorLabels
)

// Source defines the read capabilities of a map data source.
type Source interface {
	ReadMapData(t geo.Tile) (*Result, error)
	ReadMapDataRange(upperLeft, lowerRight geo.Tile) (*Result, error)
	ReadLabels(t geo.Tile) (*Result, error)
	ReadLabelsRange(upperLeft, lowerRight geo.Tile) (*Result, error)
	ReadPoiData(t geo.Tile) (*Result, error)
	ReadPoiDataRange(upperLeft, lowerRight geo.Tile) (*Result, error)

	SupportsTile(t geo.Tile) bool
	BoundingBox() orb.Bound
}
