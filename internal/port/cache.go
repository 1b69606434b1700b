package port

import (
	"context"

	"github.com/rl1809/unit-inventory/internal/core/domain"
)

// CodeCache remembers recently issued identifiers so two transactions cannot be
// handed the same candidate before either commits. Entries expire on their own.
type CodeCache interface {
	// Reserve returns false if the code is already reserved.
	Reserve(ctx context.Context, code string) (bool, error)

	// Release drops a reservation, e.g. after the owning transaction rolled back.
	Release(ctx context.Context, code string) error
}

// CartSnapshotSource reads what active carts currently hold.
type CartSnapshotSource interface {
	Snapshot(ctx context.Context, productID string) (domain.CartSnapshot, error)
}
