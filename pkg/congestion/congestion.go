// Package congestion computes device-density aggregates over stored
// ping records: per-cell distinct-device counts, and roll-ups to a
// coarser resolution with grid-occupancy statistics.
package congestion

import (
	"fmt"

	"github.com/pingmesh/pingmesh/pkg/hexgrid"
	"github.com/pingmesh/pingmesh/pkg/ping"
)

// GroupStats describes one parent cell in a grouped aggregation.
type GroupStats struct {
	// DeviceCount is the number of distinct devices seen under the
	// parent cell.
	DeviceCount int

	// ActiveHexCount is the number of distinct source-resolution child
	// cells with at least one device.
	ActiveHexCount int

	// TotalHexCount is the number of source-resolution child cells
	// that exist under the parent, occupied or not. ActiveHexCount /
	// TotalHexCount is the grid occupancy fraction.
	TotalHexCount int
}

// DeviceCongestion counts distinct devices per spatial cell. A device
// pinging the same cell many times counts once. Order-independent;
// empty input yields an empty map.
func DeviceCongestion(records []ping.Record) map[string]int {
	devicesByCell := make(map[string]map[string]bool)
	for _, rec := range records {
		devices, ok := devicesByCell[rec.Cell]
		if !ok {
			devices = make(map[string]bool)
			devicesByCell[rec.Cell] = devices
		}
		devices[rec.DeviceID] = true
	}

	counts := make(map[string]int, len(devicesByCell))
	for cell, devices := range devicesByCell {
		counts[cell] = len(devices)
	}
	return counts
}

// GroupCongestion rolls records up to targetResolution, reporting per
// parent cell the distinct device count and how many of its child
// cells are occupied.
//
// All records must share one source resolution; mixed input is an
// error rather than silently trusting the first record. The target
// must not be finer than the source. Empty input yields an empty map
// with no error.
func GroupCongestion(records []ping.Record, targetResolution int) (map[string]GroupStats, error) {
	results := make(map[string]GroupStats)
	if len(records) == 0 {
		return results, nil
	}

	sourceResolution, err := hexgrid.Resolution(records[0].Cell)
	if err != nil {
		return nil, fmt.Errorf("congestion: bad record cell: %w", err)
	}
	if targetResolution < hexgrid.MinResolution || targetResolution > sourceResolution {
		return nil, fmt.Errorf("congestion: target resolution %d not in [%d,%d] (source resolution %d)",
			targetResolution, hexgrid.MinResolution, sourceResolution, sourceResolution)
	}

	type accumulator struct {
		devices map[string]bool
		childs  map[string]bool
	}
	groups := make(map[string]*accumulator)

	for _, rec := range records {
		res, err := hexgrid.Resolution(rec.Cell)
		if err != nil {
			return nil, fmt.Errorf("congestion: bad record cell: %w", err)
		}
		if res != sourceResolution {
			return nil, fmt.Errorf("congestion: mixed resolutions: cell %s at %d, expected %d",
				rec.Cell, res, sourceResolution)
		}

		parent, err := hexgrid.Parent(rec.Cell, targetResolution)
		if err != nil {
			return nil, fmt.Errorf("congestion: rolling up %s: %w", rec.Cell, err)
		}

		acc, ok := groups[parent]
		if !ok {
			acc = &accumulator{devices: make(map[string]bool), childs: make(map[string]bool)}
			groups[parent] = acc
		}
		acc.devices[rec.DeviceID] = true
		acc.childs[rec.Cell] = true
	}

	for parent, acc := range groups {
		total, err := hexgrid.ChildCount(parent, sourceResolution)
		if err != nil {
			return nil, fmt.Errorf("congestion: sizing grid under %s: %w", parent, err)
		}
		results[parent] = GroupStats{
			DeviceCount:    len(acc.devices),
			ActiveHexCount: len(acc.childs),
			TotalHexCount:  total,
		}
	}
	return results, nil
}
