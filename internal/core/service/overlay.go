package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/unit-inventory/internal/core/domain"
	"github.com/rl1809/unit-inventory/internal/port"
)

// ReservationOverlay nets cart-held stock out of a base count. It takes no
// locks and its answer is advisory: a sale must re-check the unit tag before
// marking it sold.
type ReservationOverlay struct {
	store    port.Store
	registry *UnitRegistry
	carts    port.CartSnapshotSource
}

func NewReservationOverlay(store port.Store, registry *UnitRegistry, carts port.CartSnapshotSource) *ReservationOverlay {
	return &ReservationOverlay{store: store, registry: registry, carts: carts}
}

// Available reads a fresh cart snapshot and the counted unit codes, then
// applies ApplyOverlay to base.
func (o *ReservationOverlay) Available(ctx context.Context, productID, location string, base decimal.Decimal) (decimal.Decimal, error) {
	var product domain.Product
	err := o.store.View(ctx, func(ctx context.Context, r port.Reader) error {
		p, err := r.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		product = *p
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	snapshot, err := o.carts.Snapshot(ctx, productID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read cart snapshot: %w", err)
	}

	var counted []string
	if product.Tracked {
		counted, err = o.registry.CountedCodes(ctx, productID, location)
		if err != nil {
			return decimal.Zero, fmt.Errorf("list counted units: %w", err)
		}
	}
	return ApplyOverlay(product, base, counted, snapshot), nil
}

// ApplyOverlay is the pure part of the overlay. For tracked products it
// subtracts the counted units whose code sits in an active cart; for untracked
// ones it subtracts the reserved quantity. The result never drops below zero.
func ApplyOverlay(product domain.Product, base decimal.Decimal, counted []string, snapshot domain.CartSnapshot) decimal.Decimal {
	var held decimal.Decimal
	if product.Tracked {
		n := 0
		for _, code := range counted {
			if snapshot.Holds(code) {
				n++
			}
		}
		held = decimal.NewFromInt(int64(n))
	} else {
		held = snapshot.Reserved
	}

	available := base.Sub(held)
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}
