package mf_test

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/eak1mov/go-mapfile/geo"
	"github.com/eak1mov/go-mapfile/internal"
	"github.com/eak1mov/go-mapfile/mapdata"
	"github.com/eak1mov/go-mapfile/mf"
	"github.com/eak1mov/go-mapfile/mf/spec"
)

var (
	tileA = geo.Tile{X: 550, Y: 335, Zoom: 10}
	tileB = geo.Tile{X: 551, Y: 335, Zoom: 10}
	tileC = geo.Tile{X: 552, Y: 335, Zoom: 10}
)

func e6(v float64) int32 {
	return int32(math.Round(v * 1e6))
}

// builderForTiles covers exactly the tile rectangle between the two
// corner tiles, inset so that E6 rounding keeps the bounding box inside.
func builderForTiles(upperLeft, lowerRight geo.Tile) *internal.Builder {
	bound := upperLeft.Bound().Union(lowerRight.Bound())
	const margin = 1e-4
	return internal.NewBuilder(
		e6(bound.Min[1]+margin), e6(bound.Min[0]+margin),
		e6(bound.Max[1]-margin), e6(bound.Max[0]-margin))
}

func openBuilt(t *testing.T, builder *internal.Builder, opts ...mf.Option) *mf.MapFile {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.map")
	require.NoError(t, builder.WriteFile(path))

	mapFile, err := mf.Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { mapFile.Close() })
	return mapFile
}

// pointAt resolves a microdegree offset from a tile's top-left corner.
func pointAt(tile geo.Tile, latDiffE6, lonDiffE6 int64) orb.Point {
	origin := tile.TopLeft()
	return orb.Point{
		origin[0] + float64(lonDiffE6)/1e6,
		origin[1] + float64(latDiffE6)/1e6,
	}
}

func TestReadEmptyWaterTile(t *testing.T) {
	builder := builderForTiles(tileA, tileA)
	sub := builder.AddSubFile(10, 0, 10)
	sub.Block(0, 0).Water = true

	mapFile := openBuilt(t, builder)

	result, err := mapFile.ReadMapData(tileA)
	require.NoError(t, err)
	require.Empty(t, result.POIs)
	require.Empty(t, result.Ways)
	require.True(t, result.IsWater)
}

func TestReadEmptyBlock(t *testing.T) {
	builder := builderForTiles(tileA, tileA)
	builder.AddSubFile(10, 0, 10)

	mapFile := openBuilt(t, builder)

	result, err := mapFile.ReadMapData(tileA)
	require.NoError(t, err)
	require.Empty(t, result.POIs)
	require.Empty(t, result.Ways)
	require.False(t, result.IsWater)
}

func TestReadPoisAndWays(t *testing.T) {
	builder := builderForTiles(tileA, tileA)
	builder.POITags = []string{"amenity=cafe", "tourism=hotel"}
	builder.WayTags = []string{"highway=primary", "building=yes"}
	sub := builder.AddSubFile(10, 0, 14)
	block := sub.Block(0, 0)

	elevation := int32(34)
	block.AddPOI(internal.POI{
		Zoom: 10, LatDiffE6: -50_000, LonDiffE6: 60_000,
		Layer: 1, TagIDs: []int{0}, Name: "Café A", HouseNumber: "12", Elevation: &elevation,
	})
	block.AddPOI(internal.POI{Zoom: 10, LatDiffE6: -80_000, LonDiffE6: 90_000})

	block.AddWay(internal.Way{
		Zoom: 10, Layer: 2, TagIDs: []int{0}, Name: "Hauptstraße", Ref: "B1",
		CoordBlocks: [][][2]int64{{{-10_000, 10_000}, {-20_000, 30_000}, {-40_000, 35_000}}},
	})
	block.AddWay(internal.Way{
		Zoom: 10, DoubleDelta: true, LabelDiffE6: &[2]int64{-1_000, 2_000},
		CoordBlocks: [][][2]int64{{{-5_000, 5_000}, {-6_000, 8_000}, {-9_000, 12_000}}},
	})

	mapFile := openBuilt(t, builder)

	wantPOIs := []mapdata.PointOfInterest{
		{
			Position: pointAt(tileA, -50_000, 60_000),
			Layer:    1,
			Tags:     []mapdata.Tag{{Key: "amenity", Value: "cafe"}},
			Name:     "Café A", HouseNumber: "12", Elevation: 34,
		},
		{Position: pointAt(tileA, -80_000, 90_000)},
	}

	firstNode := pointAt(tileA, -5_000, 5_000)
	label := orb.Point{firstNode[0] + 0.002, firstNode[1] - 0.001}
	wantWays := []mapdata.Way{
		{
			Geometry: [][]orb.Point{{
				pointAt(tileA, -10_000, 10_000),
				pointAt(tileA, -20_000, 30_000),
				pointAt(tileA, -40_000, 35_000),
			}},
			Layer: 2,
			Tags:  []mapdata.Tag{{Key: "highway", Value: "primary"}},
			Name:  "Hauptstraße", Ref: "B1",
		},
		{
			Geometry: [][]orb.Point{{
				firstNode,
				pointAt(tileA, -6_000, 8_000),
				pointAt(tileA, -9_000, 12_000),
			}},
			LabelPosition: &label,
		},
	}

	t.Run("all", func(t *testing.T) {
		t.Parallel()

		result, err := mapFile.ReadMapData(tileA)
		require.NoError(t, err)
		want := &mapdata.Result{POIs: wantPOIs, Ways: wantWays}
		if diff := cmp.Diff(want, result); diff != "" {
			t.Errorf("ReadMapData mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("pois only", func(t *testing.T) {
		t.Parallel()

		result, err := mapFile.ReadPoiData(tileA)
		require.NoError(t, err)
		want := &mapdata.Result{POIs: wantPOIs}
		if diff := cmp.Diff(want, result); diff != "" {
			t.Errorf("ReadPoiData mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("labels keep named ways", func(t *testing.T) {
		t.Parallel()

		result, err := mapFile.ReadLabels(tileA)
		require.NoError(t, err)
		want := &mapdata.Result{POIs: wantPOIs, Ways: wantWays[:1]}
		if diff := cmp.Diff(want, result); diff != "" {
			t.Errorf("ReadLabels mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestZoomTableBoundsDecoding(t *testing.T) {
	builder := builderForTiles(tileA, tileA)
	sub := builder.AddSubFile(10, 0, 14)
	block := sub.Block(0, 0)
	block.AddPOI(internal.POI{Zoom: 8, LatDiffE6: -10_000, LonDiffE6: 10_000, Name: "low zoom"})
	block.AddPOI(internal.POI{Zoom: 10, LatDiffE6: -20_000, LonDiffE6: 20_000, Name: "base zoom"})

	mapFile := openBuilt(t, builder)

	coarse := geo.Tile{X: tileA.X >> 1, Y: tileA.Y >> 1, Zoom: 9}
	result, err := mapFile.ReadMapData(coarse)
	require.NoError(t, err)
	require.Len(t, result.POIs, 1)
	require.Equal(t, "low zoom", result.POIs[0].Name)

	result, err = mapFile.ReadMapData(tileA)
	require.NoError(t, err)
	require.Len(t, result.POIs, 2)
}

func TestBoundingBoxFilterAtFinerZoom(t *testing.T) {
	builder := builderForTiles(tileA, tileA)
	sub := builder.AddSubFile(10, 0, 14)
	// Inside the north-west child tile.
	sub.Block(0, 0).AddPOI(internal.POI{Zoom: 10, LatDiffE6: -1_000, LonDiffE6: 1_000, Name: "nw"})

	mapFile := openBuilt(t, builder)

	northWest := geo.Tile{X: tileA.X * 2, Y: tileA.Y * 2, Zoom: 11}
	result, err := mapFile.ReadMapData(northWest)
	require.NoError(t, err)
	require.Len(t, result.POIs, 1)

	northEast := geo.Tile{X: tileA.X*2 + 1, Y: tileA.Y * 2, Zoom: 11}
	result, err = mapFile.ReadMapData(northEast)
	require.NoError(t, err)
	require.Empty(t, result.POIs)
}

func TestCorruptPointerReturnsPartialResult(t *testing.T) {
	newBuilder := func() (*internal.Builder, *internal.SubFileBuilder) {
		builder := builderForTiles(tileA, tileC)
		sub := builder.AddSubFile(10, 0, 14)
		for column := int64(0); column < 3; column++ {
			sub.Block(column, 0).AddPOI(internal.POI{Zoom: 10, LatDiffE6: -10_000, LonDiffE6: 10_000})
		}
		return builder, sub
	}

	t.Run("first block corrupt", func(t *testing.T) {
		t.Parallel()

		builder, sub := newBuilder()
		sub.OverridePointer(0, 0) // pointer < 1

		mapFile := openBuilt(t, builder)
		result, err := mapFile.ReadMapDataRange(tileA, tileC)
		require.NoError(t, err)
		require.Empty(t, result.POIs)
	})

	t.Run("later block corrupt", func(t *testing.T) {
		t.Parallel()

		builder, sub := newBuilder()
		sub.OverridePointer(2, 0x7FFFFFFFFF) // pointer > data segment size

		mapFile := openBuilt(t, builder)
		result, err := mapFile.ReadMapDataRange(tileA, tileC)
		require.NoError(t, err)
		require.Len(t, result.POIs, 1, "blocks before the corrupt pointer are kept")
	})
}

func TestOversizedBlockSkipped(t *testing.T) {
	builder := builderForTiles(tileA, tileB)
	sub := builder.AddSubFile(10, 0, 14)
	sub.Block(0, 0).AddPOI(internal.POI{
		Zoom: 10, LatDiffE6: -10_000, LonDiffE6: 10_000,
		Name: strings.Repeat("x", 300),
	})
	sub.Block(1, 0).AddPOI(internal.POI{Zoom: 10, LatDiffE6: -10_000, LonDiffE6: 10_000, Name: "small"})

	mapFile := openBuilt(t, builder, mf.WithMaxBlockSize(128))

	result, err := mapFile.ReadMapDataRange(tileA, tileB)
	require.NoError(t, err)
	require.Len(t, result.POIs, 1)
	require.Equal(t, "small", result.POIs[0].Name)
}

func TestWaterAggregation(t *testing.T) {
	t.Run("all water", func(t *testing.T) {
		t.Parallel()

		builder := builderForTiles(tileA, tileB)
		sub := builder.AddSubFile(10, 0, 10)
		sub.Block(0, 0).Water = true
		sub.Block(1, 0).Water = true

		mapFile := openBuilt(t, builder)
		result, err := mapFile.ReadMapDataRange(tileA, tileB)
		require.NoError(t, err)
		require.True(t, result.IsWater)
	})

	t.Run("mixed", func(t *testing.T) {
		t.Parallel()

		builder := builderForTiles(tileA, tileB)
		sub := builder.AddSubFile(10, 0, 10)
		sub.Block(0, 0).Water = true

		mapFile := openBuilt(t, builder)
		result, err := mapFile.ReadMapDataRange(tileA, tileB)
		require.NoError(t, err)
		require.False(t, result.IsWater)
	})
}

func TestMultipleSubFiles(t *testing.T) {
	builder := builderForTiles(tileA, tileA)
	low := builder.AddSubFile(8, 0, 9)
	low.Block(0, 0).AddPOI(internal.POI{Zoom: 8, LatDiffE6: -10_000, LonDiffE6: 10_000, Name: "overview"})
	high := builder.AddSubFile(10, 10, 14)
	high.Block(0, 0).AddPOI(internal.POI{Zoom: 10, LatDiffE6: -10_000, LonDiffE6: 10_000, Name: "detail"})

	mapFile := openBuilt(t, builder)

	coarse := geo.Tile{X: tileA.X >> 2, Y: tileA.Y >> 2, Zoom: 8}
	result, err := mapFile.ReadMapData(coarse)
	require.NoError(t, err)
	require.Len(t, result.POIs, 1)
	require.Equal(t, "overview", result.POIs[0].Name)

	result, err = mapFile.ReadMapData(tileA)
	require.NoError(t, err)
	require.Len(t, result.POIs, 1)
	require.Equal(t, "detail", result.POIs[0].Name)
}

func TestSupportsTileAndZoomRestriction(t *testing.T) {
	builder := builderForTiles(tileA, tileA)
	builder.AddSubFile(10, 0, 14)

	mapFile := openBuilt(t, builder)

	require.True(t, mapFile.SupportsTile(tileA))
	require.False(t, mapFile.SupportsTile(geo.Tile{X: 0, Y: 0, Zoom: 10}), "outside bounding box")
	require.False(t, mapFile.SupportsTile(geo.Tile{X: tileA.X, Y: tileA.Y, Zoom: 15}), "beyond max zoom")

	mapFile.RestrictToZoomRange(11, 12)
	zoomMin, zoomMax := mapFile.ZoomRange()
	require.Equal(t, byte(11), zoomMin)
	require.Equal(t, byte(12), zoomMax)
	require.False(t, mapFile.SupportsTile(tileA))
	require.True(t, mapFile.SupportsTile(geo.Tile{X: tileA.X * 2, Y: tileA.Y * 2, Zoom: 11}))
}

func TestReopenAfterCloseFile(t *testing.T) {
	builder := builderForTiles(tileA, tileA)
	sub := builder.AddSubFile(10, 0, 14)
	sub.Block(0, 0).AddPOI(internal.POI{Zoom: 10, LatDiffE6: -10_000, LonDiffE6: 10_000, Name: "poi"})

	mapFile := openBuilt(t, builder)

	before, err := mapFile.ReadMapData(tileA)
	require.NoError(t, err)
	require.NoError(t, mapFile.CloseFile())

	after, err := mapFile.ReadMapData(tileA)
	require.NoError(t, err)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("result changed after reopen (-before +after):\n%s", diff)
	}
}

func TestDebugSignatures(t *testing.T) {
	newBuilder := func() *internal.Builder {
		builder := builderForTiles(tileA, tileA)
		builder.Debug = true
		sub := builder.AddSubFile(10, 0, 14)
		sub.Block(0, 0).AddPOI(internal.POI{Zoom: 10, LatDiffE6: -10_000, LonDiffE6: 10_000, Name: "poi"})
		sub.Block(0, 0).AddWay(internal.Way{
			Zoom: 10, Name: "way",
			CoordBlocks: [][][2]int64{{{-10_000, 10_000}, {-20_000, 20_000}}},
		})
		return builder
	}

	t.Run("valid signatures", func(t *testing.T) {
		t.Parallel()

		mapFile := openBuilt(t, newBuilder())
		result, err := mapFile.ReadMapData(tileA)
		require.NoError(t, err)
		require.Len(t, result.POIs, 1)
		require.Len(t, result.Ways, 1)
	})

	t.Run("corrupt block signature", func(t *testing.T) {
		t.Parallel()

		data := newBuilder().Build()
		offset := bytes.Index(data, []byte("###TileStart"))
		require.Positive(t, offset)
		data[offset] = 'X'

		path := filepath.Join(t.TempDir(), "corrupt.map")
		require.NoError(t, os.WriteFile(path, data, 0o644))

		mapFile, err := mf.Open(path)
		require.NoError(t, err)
		defer mapFile.Close()

		result, err := mapFile.ReadMapData(tileA)
		require.NoError(t, err)
		require.Empty(t, result.POIs)
		require.Empty(t, result.Ways)
	})
}

func TestCorruptBlockData(t *testing.T) {
	// A debug file makes the block locatable by its signature; behind it
	// sit the 15 two-varint zoom table rows and the first-way offset.
	buildData := func() []byte {
		builder := builderForTiles(tileA, tileA)
		builder.Debug = true
		sub := builder.AddSubFile(10, 0, 14)
		sub.Block(0, 0).AddPOI(internal.POI{Zoom: 10, LatDiffE6: -10_000, LonDiffE6: 10_000})
		return builder.Build()
	}

	readPatched := func(t *testing.T, data []byte) *mapdata.Result {
		t.Helper()

		path := filepath.Join(t.TempDir(), "corrupt.map")
		require.NoError(t, os.WriteFile(path, data, 0o644))

		mapFile, err := mf.Open(path)
		require.NoError(t, err)
		t.Cleanup(func() { mapFile.Close() })

		result, err := mapFile.ReadMapData(tileA)
		require.NoError(t, err)
		return result
	}

	t.Run("decreasing zoom table counts", func(t *testing.T) {
		t.Parallel()

		data := buildData()
		block := bytes.Index(data, []byte("###TileStart"))
		require.Positive(t, block)
		// Bump the first row's POI count above the later rows.
		data[block+spec.BlockSignatureLength] = 2

		result := readPatched(t, data)
		require.Empty(t, result.POIs)
		require.Empty(t, result.Ways)
	})

	t.Run("first way offset past block end", func(t *testing.T) {
		t.Parallel()

		data := buildData()
		block := bytes.Index(data, []byte("###TileStart"))
		require.Positive(t, block)
		data[block+spec.BlockSignatureLength+30] = 0x7f

		result := readPatched(t, data)
		require.Empty(t, result.POIs)
		require.Empty(t, result.Ways)
	})
}

func TestPreferredLanguage(t *testing.T) {
	builder := builderForTiles(tileA, tileA)
	sub := builder.AddSubFile(10, 0, 14)
	sub.Block(0, 0).AddPOI(internal.POI{
		Zoom: 10, LatDiffE6: -10_000, LonDiffE6: 10_000,
		Name: "Munich\rde\bMünchen",
	})

	path := filepath.Join(t.TempDir(), "test.map")
	require.NoError(t, builder.WriteFile(path))

	mapFile, err := mf.Open(path)
	require.NoError(t, err)
	result, err := mapFile.ReadMapData(tileA)
	require.NoError(t, err)
	require.Equal(t, "Munich", result.POIs[0].Name)
	mapFile.Close()

	localized, err := mf.Open(path, mf.WithPreferredLanguage("de"))
	require.NoError(t, err)
	defer localized.Close()
	result, err = localized.ReadMapData(tileA)
	require.NoError(t, err)
	require.Equal(t, "München", result.POIs[0].Name)
}

func TestReadErrors(t *testing.T) {
	builder := builderForTiles(tileA, tileA)
	builder.AddSubFile(10, 0, 14)

	mapFile := openBuilt(t, builder)

	_, err := mapFile.ReadMapData(geo.Tile{X: tileA.X << 10, Y: tileA.Y << 10, Zoom: 20})
	require.ErrorIs(t, err, spec.ErrUnsupportedZoom)

	_, err = mapFile.ReadMapDataRange(tileB, tileA)
	require.ErrorIs(t, err, spec.ErrInvalidTileRange)

	_, err = mapFile.ReadMapDataRange(tileA, geo.Tile{X: tileA.X * 2, Y: tileA.Y * 2, Zoom: 11})
	require.ErrorIs(t, err, spec.ErrInvalidTileRange)
}

func TestOpenErrors(t *testing.T) {
	builder := builderForTiles(tileA, tileA)
	builder.AddSubFile(10, 0, 14)
	data := builder.Build()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := mf.Open(filepath.Join(t.TempDir(), "missing.map"))
		require.Error(t, err)
	})

	t.Run("bad magic", func(t *testing.T) {
		t.Parallel()

		corrupt := append([]byte(nil), data...)
		corrupt[0] = 'X'
		path := filepath.Join(t.TempDir(), "bad.map")
		require.NoError(t, os.WriteFile(path, corrupt, 0o644))

		_, err := mf.Open(path)
		require.ErrorIs(t, err, spec.ErrInvalidMagic)
	})

	t.Run("truncated", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "short.map")
		require.NoError(t, os.WriteFile(path, data[:40], 0o644))

		_, err := mf.Open(path)
		require.Error(t, err)
	})
}

func TestConcurrentReads(t *testing.T) {
	builder := builderForTiles(tileA, tileA)
	sub := builder.AddSubFile(10, 0, 14)
	sub.Block(0, 0).AddPOI(internal.POI{Zoom: 10, LatDiffE6: -10_000, LonDiffE6: 10_000, Name: "poi"})

	mapFile := openBuilt(t, builder)

	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := mapFile.ReadMapData(tileA)
			if err != nil {
				t.Errorf("ReadMapData failed: %v", err)
				return
			}
			if len(result.POIs) != 1 {
				t.Errorf("got %d POIs, want 1", len(result.POIs))
			}
		}()
	}
	wg.Wait()
}
