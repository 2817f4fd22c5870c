// Package ping defines the ping data model and the processing steps
// that turn an untrusted RawPing into a durable, spatially indexed
// Record: payload validation, timestamp validation, and enrichment.
package ping

import (
	"encoding/json"
	"fmt"
	"time"
)

// RawPing is the untrusted payload a device submits. AcceptedAt is
// absent at submission time and stamped by the ingestion boundary when
// the ping is enqueued.
type RawPing struct {
	DeviceID   string     `json:"device_id"`
	Timestamp  time.Time  `json:"timestamp"`
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}

// Validate checks the fields a client controls. Coordinate ranges are
// enforced here, before the ping is ever queued; longitude wrap beyond
// ±180 is not accepted at the API boundary even though the hex grid
// could normalize it.
func (p *RawPing) Validate() error {
	if p.DeviceID == "" {
		return fmt.Errorf("ping: device_id must not be empty")
	}
	if p.Timestamp.IsZero() {
		return fmt.Errorf("ping: timestamp is required")
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("ping: latitude %v out of range [-90,90]", p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("ping: longitude %v out of range [-180,180]", p.Lon)
	}
	return nil
}

// Record is the durable, trusted form of a ping. It is created once by
// the enricher and immutable afterwards. The (Cell, Timestamp) pair is
// the storage primary key.
type Record struct {
	Cell        string    `json:"h3_hex"`
	DeviceID    string    `json:"device_id"`
	Timestamp   time.Time `json:"timestamp"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	AcceptedAt  time.Time `json:"accepted_at"`
	ProcessedAt time.Time `json:"processed_at"`
}

// EncodeRaw serializes a RawPing for the queue. The worker parses queue
// bodies with DecodeRaw exactly as the ingestion endpoint wrote them.
func EncodeRaw(p RawPing) ([]byte, error) {
	return json.Marshal(p)
}

// DecodeRaw parses a queue message body into a RawPing and validates it.
func DecodeRaw(data []byte) (RawPing, error) {
	var p RawPing
	if err := json.Unmarshal(data, &p); err != nil {
		return RawPing{}, fmt.Errorf("ping: unparsable payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return RawPing{}, err
	}
	return p, nil
}

// EncodeRecord serializes a Record for storage. Together with
// DecodeRecord it is the single typed boundary between the domain type
// and the stored representation.
func EncodeRecord(r Record) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord parses a stored value back into a Record.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("ping: corrupt stored record: %w", err)
	}
	return r, nil
}
