package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockLevel is the aggregate on-hand counter for a product at a location.
type StockLevel struct {
	ProductID string          `db:"product_id"`
	Location  string          `db:"location"`
	OnHand    decimal.Decimal `db:"on_hand"`
	Version   int             `db:"version"` // optimistic locking
	UpdatedAt time.Time       `db:"updated_at"`
}

// Add applies delta to the counter, clamping at zero.
func (s *StockLevel) Add(delta decimal.Decimal) {
	s.OnHand = s.OnHand.Add(delta)
	if s.OnHand.IsNegative() {
		s.OnHand = decimal.Zero
	}
}

type AdjustmentType string

const (
	AdjustmentIn  AdjustmentType = "in"
	AdjustmentOut AdjustmentType = "out"
)

// StockAdjustment is a signed bulk quantity event. It is not persisted.
type StockAdjustment struct {
	Type      AdjustmentType
	ProductID string
	Location  string
	Quantity  decimal.Decimal
}

type AdjustmentResult struct {
	Minted    []string        `json:"minted"`
	Deleted   []string        `json:"deleted"`
	Shortfall int             `json:"shortfall"` // requested deletions that found no deletable unit
	OnHand    decimal.Decimal `json:"on_hand"`
}
