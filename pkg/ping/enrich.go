package ping

import (
	"errors"
	"fmt"
	"time"

	"github.com/pingmesh/pingmesh/pkg/hexgrid"
)

// ErrMissingAcceptedAt means Enrich was handed a ping that never passed
// the ingestion boundary. That is an invariant violation, not user
// input to be validated.
var ErrMissingAcceptedAt = errors.New("ping: accepted_at not set")

// Enricher converts validated pings into durable records. Resolution is
// the grid resolution cells are computed at; it is fixed at enrichment
// time and never recomputed for a stored record.
type Enricher struct {
	Resolution int

	// Now is swappable for tests; nil means time.Now.
	Now func() time.Time
}

// Enrich computes the ping's spatial cell and stamps processing time.
// It has no side effects; persisting the record is the caller's job.
func (e Enricher) Enrich(p RawPing) (Record, error) {
	if p.AcceptedAt == nil {
		return Record{}, ErrMissingAcceptedAt
	}

	cell, err := hexgrid.CellFromCoords(p.Lat, p.Lon, e.Resolution)
	if err != nil {
		return Record{}, fmt.Errorf("ping: indexing coordinates: %w", err)
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}

	return Record{
		Cell:        cell,
		DeviceID:    p.DeviceID,
		Timestamp:   p.Timestamp,
		Lat:         p.Lat,
		Lon:         p.Lon,
		AcceptedAt:  *p.AcceptedAt,
		ProcessedAt: now().UTC(),
	}, nil
}
