package spec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eak1mov/go-mapfile/geo"
	"github.com/eak1mov/go-mapfile/mf/spec"
)

func testSubFile() *spec.SubFileParams {
	return &spec.SubFileParams{
		BaseZoom:       10,
		ZoomMin:        0,
		ZoomMax:        14,
		BoundaryLeft:   100,
		BoundaryTop:    200,
		BoundaryRight:  103,
		BoundaryBottom: 202,
		BlocksWidth:    4,
		BlocksHeight:   3,
		BlockCount:     12,
	}
}

func TestCalculateQueryParams(t *testing.T) {
	sub := testSubFile()

	for _, tc := range []struct {
		name       string
		upperLeft  geo.Tile
		lowerRight geo.Tile
		want       spec.QueryParams
	}{
		{
			name:       "same zoom",
			upperLeft:  geo.Tile{X: 101, Y: 200, Zoom: 10},
			lowerRight: geo.Tile{X: 102, Y: 201, Zoom: 10},
			want:       spec.QueryParams{QueryZoom: 10, FromBlockX: 1, ToBlockX: 2, FromBlockY: 0, ToBlockY: 1},
		},
		{
			name:       "clipped to boundary",
			upperLeft:  geo.Tile{X: 90, Y: 190, Zoom: 10},
			lowerRight: geo.Tile{X: 500, Y: 500, Zoom: 10},
			want:       spec.QueryParams{QueryZoom: 10, FromBlockX: 0, ToBlockX: 3, FromBlockY: 0, ToBlockY: 2},
		},
		{
			name:       "finer zoom coarsens",
			upperLeft:  geo.Tile{X: 404, Y: 800, Zoom: 12},
			lowerRight: geo.Tile{X: 409, Y: 805, Zoom: 12},
			want:       spec.QueryParams{QueryZoom: 12, FromBlockX: 1, ToBlockX: 2, FromBlockY: 0, ToBlockY: 1, FilterRequired: true},
		},
		{
			name:       "coarser zoom refines",
			upperLeft:  geo.Tile{X: 25, Y: 50, Zoom: 8},
			lowerRight: geo.Tile{X: 25, Y: 50, Zoom: 8},
			want:       spec.QueryParams{QueryZoom: 8, FromBlockX: 0, ToBlockX: 3, FromBlockY: 0, ToBlockY: 2},
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := spec.CalculateQueryParams(sub, tc.upperLeft, tc.lowerRight)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)

			// Block ranges always land inside the grid.
			require.GreaterOrEqual(t, got.FromBlockX, int64(0))
			require.LessOrEqual(t, got.FromBlockX, got.ToBlockX)
			require.LessOrEqual(t, got.ToBlockX, sub.BlocksWidth-1)
			require.GreaterOrEqual(t, got.FromBlockY, int64(0))
			require.LessOrEqual(t, got.FromBlockY, got.ToBlockY)
			require.LessOrEqual(t, got.ToBlockY, sub.BlocksHeight-1)
		})
	}
}

func TestCalculateQueryParamsUsageErrors(t *testing.T) {
	sub := testSubFile()

	_, err := spec.CalculateQueryParams(sub, geo.Tile{X: 101, Y: 200, Zoom: 10}, geo.Tile{X: 102, Y: 201, Zoom: 11})
	require.ErrorIs(t, err, spec.ErrInvalidTileRange)

	_, err = spec.CalculateQueryParams(sub, geo.Tile{X: 102, Y: 200, Zoom: 10}, geo.Tile{X: 101, Y: 201, Zoom: 10})
	require.ErrorIs(t, err, spec.ErrInvalidTileRange)

	_, err = spec.CalculateQueryParams(sub, geo.Tile{X: 101, Y: 200, Zoom: 10}, geo.Tile{X: 5000, Y: 201, Zoom: 10})
	require.ErrorIs(t, err, spec.ErrInvalidTileRange)
}
