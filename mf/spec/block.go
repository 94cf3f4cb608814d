package spec

import "fmt"

// ZoomTableRow holds the cumulative POI and way counts for one zoom level
// of a block.
type ZoomTableRow struct {
	POIs uint64
	Ways uint64
}

// DeserializeZoomTable reads one row per supported zoom level of the
// sub-file. Counts are running totals and must be non-decreasing.
func DeserializeZoomTable(rb *ReadBuffer, rows int) ([]ZoomTableRow, error) {
	table := make([]ZoomTableRow, rows)
	for i := range table {
		pois, err := rb.ReadVarUint()
		if err != nil {
			return nil, err
		}
		ways, err := rb.ReadVarUint()
		if err != nil {
			return nil, err
		}
		table[i] = ZoomTableRow{POIs: pois, Ways: ways}
		if i > 0 && (pois < table[i-1].POIs || ways < table[i-1].Ways) {
			return nil, fmt.Errorf("mapfile: zoom table counts decrease at row %d", i)
		}
	}
	return table, nil
}
