package service

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/unit-inventory/internal/adapter/storage"
	"github.com/rl1809/unit-inventory/internal/core/domain"
	"github.com/rl1809/unit-inventory/internal/port"
)

// testingT is satisfied by both *testing.T and *rapid.T.
type testingT interface {
	require.TestingT
	Helper()
}

type fixture struct {
	ctx        context.Context
	store      *storage.MemoryStore
	carts      *storage.MemoryCartSource
	registry   *UnitRegistry
	reconciler *PurchaseReconciler
	adjuster   *StockAdjustmentEngine
	overlay    *ReservationOverlay
	auditor    *ConsistencyAuditor
}

func setup(t testingT) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := storage.NewMemoryStore()
	carts := storage.NewMemoryCartSource()
	ids := NewIdentifierGenerator(storage.NewMemoryCodeCache(time.Hour))
	registry := NewUnitRegistry(store, ids, logger)

	return &fixture{
		ctx:        context.Background(),
		store:      store,
		carts:      carts,
		registry:   registry,
		reconciler: NewPurchaseReconciler(store, registry, logger),
		adjuster:   NewStockAdjustmentEngine(store, registry, logger),
		overlay:    NewReservationOverlay(store, registry, carts),
		auditor:    NewConsistencyAuditor(store, 4, logger),
	}
}

func (f *fixture) product(t testingT, id string, tracked bool) domain.Product {
	t.Helper()
	p := domain.Product{ID: id, SKU: "SKU" + id, Tracked: tracked}
	require.NoError(t, f.store.SaveProduct(f.ctx, p))
	return p
}

// line creates a purchase at location "wh" holding one line for productID.
func (f *fixture) line(t testingT, id, productID string, status domain.PurchaseStatus) domain.PurchaseLine {
	t.Helper()
	purchaseID := "po-" + id
	require.NoError(t, f.store.SavePurchase(f.ctx, domain.Purchase{ID: purchaseID, Location: "wh", Status: status}))
	l := domain.PurchaseLine{ID: id, PurchaseID: purchaseID, ProductID: productID, UnitPrice: decimal.NewFromInt(10)}
	require.NoError(t, f.store.SavePurchaseLine(f.ctx, l))
	return l
}

func (f *fixture) lineUnits(t testingT, lineID string) []domain.Unit {
	t.Helper()
	var units []domain.Unit
	err := f.store.View(f.ctx, func(ctx context.Context, r port.Reader) error {
		var err error
		units, err = r.ListUnits(ctx, domain.UnitFilter{LineID: lineID})
		return err
	})
	require.NoError(t, err)
	return units
}

func (f *fixture) productUnits(t testingT, productID string) []domain.Unit {
	t.Helper()
	var units []domain.Unit
	err := f.store.View(f.ctx, func(ctx context.Context, r port.Reader) error {
		var err error
		units, err = r.ListUnits(ctx, domain.UnitFilter{ProductID: productID})
		return err
	})
	require.NoError(t, err)
	return units
}

func (f *fixture) onHand(t testingT, productID, location string) decimal.Decimal {
	t.Helper()
	var level *domain.StockLevel
	err := f.store.View(f.ctx, func(ctx context.Context, r port.Reader) error {
		var err error
		level, err = r.GetStock(ctx, productID, location)
		return err
	})
	require.NoError(t, err)
	return level.OnHand
}

func (f *fixture) sell(t testingT, codes ...string) {
	t.Helper()
	for _, code := range codes {
		_, err := f.registry.Transition(f.ctx, code, domain.TagSold)
		require.NoError(t, err)
	}
}

func tagCounts(units []domain.Unit) map[domain.Tag]int {
	counts := make(map[domain.Tag]int)
	for _, u := range units {
		counts[u.Tag]++
	}
	return counts
}
