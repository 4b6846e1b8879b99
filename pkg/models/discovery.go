package models

import (
	"time"

	"github.com/google/uuid"
)

// ChannelDiscovery is one provenance edge: a source channel led to a
// discovered external channel id via a specific method. Uniqueness on
// (source, discovered, method) makes re-running a method idempotent.
type ChannelDiscovery struct {
	ID                  uuid.UUID `db:"id"                    json:"id"`
	SourceChannelID     uuid.UUID `db:"source_channel_id"     json:"source_channel_id"`
	DiscoveredChannelID string    `db:"discovered_channel_id" json:"discovered_channel_id"`
	DiscoveryMethod     string    `db:"discovery_method"      json:"discovery_method"`
	ServiceName         string    `db:"service_name"          json:"service_name"`
	ConfidenceScore     float64   `db:"confidence_score"      json:"confidence_score"`
	AlreadyExists       bool      `db:"already_exists"        json:"already_exists"`
	CreatedAt           time.Time `db:"created_at"            json:"created_at"`
}
