package port

import (
	"context"

	"github.com/rl1809/unit-inventory/internal/core/domain"
)

// Store runs work against persistent state. Everything done through the Tx
// handed to fn commits together or not at all.
type Store interface {
	// RunInTx executes fn in one transaction and rolls back if fn returns an error.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// View executes fn against a read-only snapshot, outside any write transaction.
	View(ctx context.Context, fn func(ctx context.Context, r Reader) error) error
}

// CodeLookup answers global uniqueness questions for unit identifiers.
type CodeLookup interface {
	CodeExists(ctx context.Context, code string) (bool, error)
	ShortCodeExists(ctx context.Context, shortCode string) (bool, error)
}

// Reader is the read side shared by transactions and snapshots.
type Reader interface {
	CodeLookup

	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	GetPurchaseLine(ctx context.Context, id string) (*domain.PurchaseLine, error)
	ListPurchaseLines(ctx context.Context, purchaseID string) ([]domain.PurchaseLine, error)
	// ListLinesByProduct returns lines whose purchase has the given status.
	ListLinesByProduct(ctx context.Context, productID string, status domain.PurchaseStatus) ([]domain.PurchaseLine, error)

	GetUnitByCode(ctx context.Context, code string) (*domain.Unit, error)
	ListUnits(ctx context.Context, filter domain.UnitFilter) ([]domain.Unit, error)
	CountUnits(ctx context.Context, filter domain.UnitFilter) (int, error)

	// GetStock returns a zero level when no row exists yet.
	GetStock(ctx context.Context, productID, location string) (*domain.StockLevel, error)
	// ListStock returns every level of a product across locations.
	ListStock(ctx context.Context, productID string) ([]domain.StockLevel, error)
}

// Tx is a write transaction. The ForUpdate reads serialize concurrent writers
// on the same row until the transaction ends.
type Tx interface {
	Reader

	// LockProduct serializes writers that must see every unit of a product,
	// such as the placeholder check of an untracked product.
	LockProduct(ctx context.Context, id string) (*domain.Product, error)
	LockPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	LockPurchaseLine(ctx context.Context, id string) (*domain.PurchaseLine, error)
	LockUnit(ctx context.Context, code string) (*domain.Unit, error)
	LockStock(ctx context.Context, productID, location string) (*domain.StockLevel, error)

	InsertUnit(ctx context.Context, unit domain.Unit) error
	UpdateUnitTag(ctx context.Context, unitID string, tag domain.Tag) error
	DeleteUnits(ctx context.Context, unitIDs []string) error

	UpdatePurchaseStatus(ctx context.Context, id string, status domain.PurchaseStatus) error
	UpdateLineQuantity(ctx context.Context, id string, quantity int) error

	// SaveStock writes the level if its version still matches, bumping it.
	SaveStock(ctx context.Context, stock domain.StockLevel) error
}
