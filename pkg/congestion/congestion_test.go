package congestion

import (
	"testing"
	"time"

	"github.com/pingmesh/pingmesh/pkg/hexgrid"
	"github.com/pingmesh/pingmesh/pkg/ping"
)

func recordAt(t *testing.T, device string, lat, lon float64, resolution int) ping.Record {
	t.Helper()
	cell, err := hexgrid.CellFromCoords(lat, lon, resolution)
	if err != nil {
		t.Fatalf("CellFromCoords failed: %v", err)
	}
	return ping.Record{
		Cell:      cell,
		DeviceID:  device,
		Timestamp: time.Now().UTC(),
		Lat:       lat,
		Lon:       lon,
	}
}

func TestDeviceCongestion_Empty(t *testing.T) {
	counts := DeviceCongestion(nil)
	if len(counts) != 0 {
		t.Errorf("Expected empty map, got %v", counts)
	}
}

func TestDeviceCongestion_DistinctDevices(t *testing.T) {
	// Three pings from one device in one cell count once.
	recs := []ping.Record{
		recordAt(t, "abc123", 40.743, -73.989, 12),
		recordAt(t, "abc123", 40.743, -73.989, 12),
		recordAt(t, "abc123", 40.743, -73.989, 12),
	}

	counts := DeviceCongestion(recs)
	if len(counts) != 1 {
		t.Fatalf("Expected 1 cell, got %d", len(counts))
	}
	if counts[recs[0].Cell] != 1 {
		t.Errorf("Expected count 1 for repeated device, got %d", counts[recs[0].Cell])
	}
}

func TestDeviceCongestion_CountsPerCell(t *testing.T) {
	// Two devices in Manhattan, one in London. The cells must never
	// merge counts.
	nyc1 := recordAt(t, "nyc-a", 40.743, -73.989, 12)
	nyc2 := recordAt(t, "nyc-b", 40.743, -73.989, 12)
	ldn := recordAt(t, "ldn-a", 51.507, -0.128, 12)

	if nyc1.Cell == ldn.Cell {
		t.Fatal("Test setup broken: NYC and London share a cell")
	}

	counts := DeviceCongestion([]ping.Record{nyc1, nyc2, ldn})
	if counts[nyc1.Cell] != 2 {
		t.Errorf("Expected 2 devices in the NYC cell, got %d", counts[nyc1.Cell])
	}
	if counts[ldn.Cell] != 1 {
		t.Errorf("Expected 1 device in the London cell, got %d", counts[ldn.Cell])
	}
}

func TestGroupCongestion_Empty(t *testing.T) {
	results, err := GroupCongestion(nil, 5)
	if err != nil {
		t.Fatalf("GroupCongestion failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected empty map for empty input, got %v", results)
	}
}

func TestGroupCongestion_RollUp(t *testing.T) {
	// Spread coordinates around a point so several distinct res-12
	// cells appear; expectations are derived through the same grid
	// operations the aggregator must agree with.
	coords := []struct {
		device   string
		lat, lon float64
	}{
		{"d1", 40.7430, -73.9890},
		{"d1", 40.7430, -73.9890}, // duplicate ping, same device
		{"d2", 40.7431, -73.9893},
		{"d3", 40.7436, -73.9884},
		{"d4", 40.7442, -73.9901},
	}

	var recs []ping.Record
	for _, c := range coords {
		recs = append(recs, recordAt(t, c.device, c.lat, c.lon, 12))
	}

	const target = 8
	results, err := GroupCongestion(recs, target)
	if err != nil {
		t.Fatalf("GroupCongestion failed: %v", err)
	}

	// Recompute the grouping independently.
	expectDevices := make(map[string]map[string]bool)
	expectChilds := make(map[string]map[string]bool)
	for _, rec := range recs {
		parent, err := hexgrid.Parent(rec.Cell, target)
		if err != nil {
			t.Fatalf("Parent failed: %v", err)
		}
		if expectDevices[parent] == nil {
			expectDevices[parent] = make(map[string]bool)
			expectChilds[parent] = make(map[string]bool)
		}
		expectDevices[parent][rec.DeviceID] = true
		expectChilds[parent][rec.Cell] = true
	}

	if len(results) != len(expectDevices) {
		t.Fatalf("Expected %d parents, got %d", len(expectDevices), len(results))
	}
	for parent, stats := range results {
		if stats.DeviceCount != len(expectDevices[parent]) {
			t.Errorf("Parent %s: expected %d devices, got %d", parent, len(expectDevices[parent]), stats.DeviceCount)
		}
		if stats.ActiveHexCount != len(expectChilds[parent]) {
			t.Errorf("Parent %s: expected %d active hexes, got %d", parent, len(expectChilds[parent]), stats.ActiveHexCount)
		}
		total, err := hexgrid.ChildCount(parent, 12)
		if err != nil {
			t.Fatalf("ChildCount failed: %v", err)
		}
		if stats.TotalHexCount != total {
			t.Errorf("Parent %s: expected %d total hexes, got %d", parent, total, stats.TotalHexCount)
		}
		if stats.ActiveHexCount > stats.TotalHexCount {
			t.Errorf("Parent %s: more active hexes than exist (%d > %d)", parent, stats.ActiveHexCount, stats.TotalHexCount)
		}
	}
}

func TestGroupCongestion_SameResolutionTarget(t *testing.T) {
	// Target equal to the source resolution degenerates to per-cell
	// grouping with every cell its own one-hex grid.
	rec := recordAt(t, "d1", 40.743, -73.989, 9)

	results, err := GroupCongestion([]ping.Record{rec}, 9)
	if err != nil {
		t.Fatalf("GroupCongestion failed: %v", err)
	}
	stats, ok := results[rec.Cell]
	if !ok {
		t.Fatalf("Expected the cell itself as parent, got %v", results)
	}
	if stats.DeviceCount != 1 || stats.ActiveHexCount != 1 || stats.TotalHexCount != 1 {
		t.Errorf("Expected 1/1/1, got %+v", stats)
	}
}

func TestGroupCongestion_FinerTargetRejected(t *testing.T) {
	rec := recordAt(t, "d1", 40.743, -73.989, 9)

	if _, err := GroupCongestion([]ping.Record{rec}, 12); err == nil {
		t.Error("Expected error for target resolution finer than source")
	}
}

func TestGroupCongestion_MixedResolutionsRejected(t *testing.T) {
	recs := []ping.Record{
		recordAt(t, "d1", 40.743, -73.989, 12),
		recordAt(t, "d2", 40.743, -73.989, 11),
	}

	if _, err := GroupCongestion(recs, 8); err == nil {
		t.Error("Expected error for mixed source resolutions")
	}
}

func TestGroupCongestion_InvalidCell(t *testing.T) {
	recs := []ping.Record{{Cell: "garbage", DeviceID: "d1"}}
	if _, err := GroupCongestion(recs, 5); err == nil {
		t.Error("Expected error for invalid cell identifier")
	}
}
