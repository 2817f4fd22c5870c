// Package hexgrid wraps the H3 hierarchical hexagonal grid behind the
// small set of operations the rest of the service needs: coordinate
// indexing, parent navigation, child counting, and resolution lookup.
//
// H3 guarantees the properties callers rely on: indexing is
// deterministic, longitude wraps modulo the full globe (lon=370 and
// lon=10 index identically), and finer resolutions mean smaller cells.
package hexgrid

import (
	"fmt"

	h3 "github.com/uber/h3-go/v4"
)

// Resolution bounds of the H3 grid.
const (
	MinResolution = 0
	MaxResolution = 15
)

// CellFromCoords indexes a latitude/longitude pair into the H3 cell
// containing it at the given resolution.
func CellFromCoords(lat, lon float64, resolution int) (string, error) {
	if err := checkResolution(resolution); err != nil {
		return "", err
	}
	cell := h3.LatLngToCell(h3.NewLatLng(lat, lon), resolution)
	if !cell.IsValid() {
		return "", fmt.Errorf("hexgrid: no valid cell for (%v, %v) at resolution %d", lat, lon, resolution)
	}
	return cell.String(), nil
}

// Parent returns the coarser-resolution cell containing cellID.
// The target resolution must not be finer than the cell's own.
func Parent(cellID string, resolution int) (string, error) {
	cell, err := parseCell(cellID)
	if err != nil {
		return "", err
	}
	if err := checkResolution(resolution); err != nil {
		return "", err
	}
	if resolution > cell.Resolution() {
		return "", fmt.Errorf("hexgrid: parent resolution %d finer than cell resolution %d", resolution, cell.Resolution())
	}
	return cell.Parent(resolution).String(), nil
}

// ChildCount returns the total number of cells that exist under cellID
// at the given finer resolution, occupied or not.
func ChildCount(cellID string, resolution int) (int, error) {
	cell, err := parseCell(cellID)
	if err != nil {
		return 0, err
	}
	if err := checkResolution(resolution); err != nil {
		return 0, err
	}
	if resolution < cell.Resolution() {
		return 0, fmt.Errorf("hexgrid: child resolution %d coarser than cell resolution %d", resolution, cell.Resolution())
	}
	return len(cell.Children(resolution)), nil
}

// Resolution reports the resolution encoded in a cell identifier.
func Resolution(cellID string) (int, error) {
	cell, err := parseCell(cellID)
	if err != nil {
		return 0, err
	}
	return cell.Resolution(), nil
}

func parseCell(cellID string) (h3.Cell, error) {
	cell := h3.Cell(h3.IndexFromString(cellID))
	if !cell.IsValid() {
		return 0, fmt.Errorf("hexgrid: invalid cell identifier %q", cellID)
	}
	return cell, nil
}

func checkResolution(resolution int) error {
	if resolution < MinResolution || resolution > MaxResolution {
		return fmt.Errorf("hexgrid: resolution %d out of range [%d,%d]", resolution, MinResolution, MaxResolution)
	}
	return nil
}
