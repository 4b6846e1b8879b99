package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan tiers, in ascending order of ceilings.
const (
	PlanFree         = "free"
	PlanStarter      = "starter"
	PlanProfessional = "professional"
	PlanBusiness     = "business"
	PlanEnterprise   = "enterprise"
)

// FreeTierCredits is the balance free-plan users are topped up to monthly.
const FreeTierCredits = 25

// User owns jobs, credits, and rate-limit counters. The balance column is
// the authoritative running balance; the ledger invariant is that it always
// equals the sum of completed transaction amounts.
type User struct {
	ID                    uuid.UUID `db:"id"                      json:"id"`
	Email                 string    `db:"email"                   json:"email"`
	CreditsBalance        int       `db:"credits_balance"         json:"credits_balance"`
	TotalCreditsPurchased int       `db:"total_credits_purchased" json:"total_credits_purchased"`
	Plan                  string    `db:"plan"                    json:"plan"`
	LastFreeCreditReset   time.Time `db:"last_free_credit_reset"  json:"last_free_credit_reset"`
	IsActive              bool      `db:"is_active"               json:"is_active"`
	CreatedAt             time.Time `db:"created_at"              json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at"              json:"updated_at"`
}

// CanAfford reports whether the user's balance covers cost.
func (u *User) CanAfford(cost int) bool {
	return u.CreditsBalance >= cost
}
