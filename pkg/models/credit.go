package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit transaction types.
const (
	TransactionPurchase  = "purchase"
	TransactionUsage     = "usage"
	TransactionRefund    = "refund"
	TransactionFreeReset = "free_reset"
)

// Credit transaction statuses. Usage and grant entries are written completed;
// only payment-gateway entries pass through pending.
const (
	TransactionPending   = "pending"
	TransactionCompleted = "completed"
	TransactionFailed    = "failed"
	TransactionRefunded  = "refunded"
)

// CreditTransaction is one append-only ledger entry. CreditsAmount is signed:
// positive for purchase/refund/reset, negative for usage.
type CreditTransaction struct {
	ID               uuid.UUID `db:"id"                json:"id"`
	UserID           uuid.UUID `db:"user_id"           json:"user_id"`
	TransactionType  string    `db:"transaction_type"  json:"transaction_type"`
	CreditsAmount    int       `db:"credits_amount"    json:"credits_amount"`
	PaymentReference *string   `db:"payment_reference" json:"payment_reference,omitempty"`
	Description      string    `db:"description"       json:"description"`
	Status           string    `db:"status"            json:"status"`
	APIEndpoint      *string   `db:"api_endpoint"      json:"api_endpoint,omitempty"`
	CreatedAt        time.Time `db:"created_at"        json:"created_at"`
}

// Credit costs per operation. Batch operations are priced per submission,
// not per item; per-item external quota is bounded by the credential pool.
var CreditCosts = map[string]int{
	"channel_metadata":  10,
	"channel_videos":    15,
	"channel_discovery": 5,
	"batch_metadata":    25,
	"batch_videos":      35,
	"batch_discovery":   50,
	"list_channels":     1,
}

// CreditCost returns the configured cost for an operation, defaulting to 1.
func CreditCost(operation string) int {
	if cost, ok := CreditCosts[operation]; ok {
		return cost
	}
	return 1
}
