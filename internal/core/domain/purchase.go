package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PurchaseStatus string

const (
	PurchaseStatusDraft     PurchaseStatus = "draft"
	PurchaseStatusFinalized PurchaseStatus = "finalized"
	PurchaseStatusCancelled PurchaseStatus = "cancelled"
)

type Purchase struct {
	ID        string         `db:"id"`
	Location  string         `db:"location"`
	Status    PurchaseStatus `db:"status"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// PurchaseLine carries the quantity the buyer intends to receive. Its units
// become real inventory once the header leaves draft.
type PurchaseLine struct {
	ID         string          `db:"id"`
	PurchaseID string          `db:"purchase_id"`
	ProductID  string          `db:"product_id"`
	Quantity   int             `db:"quantity"`
	UnitPrice  decimal.Decimal `db:"unit_price"`
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
}
