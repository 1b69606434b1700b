package domain

import "github.com/shopspring/decimal"

// CartSnapshot is a read-only view of what active carts hold for one product.
// It can be stale by the time anyone acts on it.
type CartSnapshot struct {
	Codes    map[string]struct{} // scanned unit codes, tracked products
	Reserved decimal.Decimal     // summed reserved quantity, untracked products
}

func (c CartSnapshot) Holds(code string) bool {
	_, ok := c.Codes[code]
	return ok
}

// AddReserved folds one cart's reservation into the total. A negative
// reservation counts as nothing.
func (c *CartSnapshot) AddReserved(qty decimal.Decimal) {
	if qty.IsPositive() {
		c.Reserved = c.Reserved.Add(qty)
	}
}
