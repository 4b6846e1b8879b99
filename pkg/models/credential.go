package models

import (
	"time"

	"github.com/google/uuid"
)

// External services a credential can target.
const (
	ServiceYouTube = "youtube"
)

// DeactivateErrorThreshold is the consecutive-error count at which a
// credential is taken out of rotation.
const DeactivateErrorThreshold = 5

// Credential is one external-API key with its quota bookkeeping. Rows are
// mutated exclusively through the credential pool; counter updates happen as
// single-statement SQL increments so concurrent workers stay correct without
// in-process locking.
type Credential struct {
	ID             uuid.UUID  `db:"id"               json:"id"`
	Name           string     `db:"name"             json:"name"`
	Secret         string     `db:"secret"           json:"-"`
	Service        string     `db:"service"          json:"service"`
	QuotaLimit     int        `db:"quota_limit"      json:"quota_limit"`
	QuotaUsed      int        `db:"quota_used"       json:"quota_used"`
	QuotaResetDate time.Time  `db:"quota_reset_date" json:"quota_reset_date"`
	IsActive       bool       `db:"is_active"        json:"is_active"`
	ErrorCount     int        `db:"error_count"      json:"error_count"`
	LastUsed       *time.Time `db:"last_used"        json:"last_used,omitempty"`
	CreatedAt      time.Time  `db:"created_at"       json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"       json:"updated_at"`
}

// Usable reports whether the credential may serve another call.
func (c *Credential) Usable() bool {
	return c.IsActive && c.QuotaUsed < c.QuotaLimit
}
