package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/unit-inventory/internal/core/domain"
	"github.com/rl1809/unit-inventory/internal/port"
)

const (
	tracerName    = "unit-inventory/service"
	maxTxAttempts = 3

	// maxMintBatch bounds how many units one operation may create.
	maxMintBatch = 100_000
)

// Origin says where a new unit comes from.
type Origin struct {
	Location   string
	LineID     string
	PurchaseID string
}

// UnitRegistry owns the unit lifecycle: minting, tag transitions and counting.
// Aggregate counters belong to its callers, except for the ±1 a transition
// implies when a unit enters or leaves on-hand stock.
type UnitRegistry struct {
	store  port.Store
	ids    *IdentifierGenerator
	logger logrus.FieldLogger
	tracer trace.Tracer
	now    func() time.Time
}

func NewUnitRegistry(store port.Store, ids *IdentifierGenerator, logger logrus.FieldLogger) *UnitRegistry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &UnitRegistry{
		store:  store,
		ids:    ids,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
}

// Create mints one unit inside tx.
func (r *UnitRegistry) Create(ctx context.Context, tx port.Tx, product domain.Product, origin Origin, tag domain.Tag) (domain.Unit, error) {
	if !tag.Valid() {
		return domain.Unit{}, fmt.Errorf("%w: %d", domain.ErrUnknownTag, uint8(tag))
	}

	if !product.Tracked {
		exists, err := r.HasPlaceholder(ctx, tx, product.ID)
		if err != nil {
			return domain.Unit{}, err
		}
		if exists {
			return domain.Unit{}, fmt.Errorf("%w: product %s", domain.ErrPlaceholderExists, product.ID)
		}
	}

	code, err := r.ids.Code(ctx, tx, product)
	if err != nil {
		return domain.Unit{}, err
	}
	shortCode, err := r.ids.ShortCode(ctx, tx, code)
	if err != nil {
		r.ids.release(ctx, []domain.Unit{{Code: code}})
		return domain.Unit{}, err
	}

	unit := domain.Unit{
		ID:         uuid.NewString(),
		Code:       code,
		ShortCode:  shortCode,
		Tag:        tag,
		ProductID:  product.ID,
		Location:   origin.Location,
		LineID:     origin.LineID,
		PurchaseID: origin.PurchaseID,
		CreatedAt:  r.now().UTC(),
	}
	if err := tx.InsertUnit(ctx, unit); err != nil {
		r.ids.release(ctx, []domain.Unit{unit})
		return domain.Unit{}, fmt.Errorf("insert unit: %w", err)
	}
	return unit, nil
}

// HasPlaceholder reports whether an untracked product already has its unit.
// It locks the product row first so concurrent callers take turns.
func (r *UnitRegistry) HasPlaceholder(ctx context.Context, tx port.Tx, productID string) (bool, error) {
	if _, err := tx.LockProduct(ctx, productID); err != nil {
		return false, fmt.Errorf("lock product: %w", err)
	}
	n, err := tx.CountUnits(ctx, domain.UnitFilter{ProductID: productID})
	if err != nil {
		return false, fmt.Errorf("count placeholders: %w", err)
	}
	return n > 0, nil
}

// Mint creates n units, releasing the reservations of any it made if one fails.
func (r *UnitRegistry) Mint(ctx context.Context, tx port.Tx, product domain.Product, origin Origin, n int) ([]domain.Unit, error) {
	if n < 0 || n > maxMintBatch {
		return nil, fmt.Errorf("%w: cannot mint %d units at once", domain.ErrInvalidQuantity, n)
	}
	units := make([]domain.Unit, 0, n)
	for i := 0; i < n; i++ {
		u, err := r.Create(ctx, tx, product, origin, domain.TagFresh)
		if err != nil {
			r.ids.release(ctx, units)
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

// TransitionTx moves unit to next inside tx and keeps the on-hand counter in
// step when the unit enters or leaves the counted set.
func (r *UnitRegistry) TransitionTx(ctx context.Context, tx port.Tx, unit domain.Unit, next domain.Tag) (domain.Unit, error) {
	if !unit.Tag.CanTransition(next) {
		return unit, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, unit.Tag, next)
	}
	if err := tx.UpdateUnitTag(ctx, unit.ID, next); err != nil {
		return unit, fmt.Errorf("update unit tag: %w", err)
	}

	prev := unit.Tag
	unit.Tag = next
	if prev.Counted() == next.Counted() {
		return unit, nil
	}

	onHand, err := r.isOnHand(ctx, tx, unit)
	if err != nil || !onHand {
		return unit, err
	}
	delta := decimal.NewFromInt(1)
	if prev.Counted() {
		delta = delta.Neg()
	}
	if _, err := adjustCounter(ctx, tx, unit.ProductID, unit.Location, delta); err != nil {
		return unit, err
	}
	return unit, nil
}

// Transition applies a tag change to the unit with the given code in its own
// transaction. Sale, return and defect flows call this directly.
func (r *UnitRegistry) Transition(ctx context.Context, code string, next domain.Tag) (domain.Unit, error) {
	ctx, span := r.tracer.Start(ctx, "registry.transition",
		trace.WithAttributes(
			attribute.String("unit.code", code),
			attribute.String("unit.tag", next.String()),
		),
	)
	defer span.End()

	var updated domain.Unit
	err := runInTx(ctx, r.store, func(ctx context.Context, tx port.Tx) error {
		unit, err := tx.LockUnit(ctx, code)
		if err != nil {
			return err
		}
		updated, err = r.TransitionTx(ctx, tx, *unit, next)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return domain.Unit{}, err
	}

	r.logger.WithFields(logrus.Fields{
		"code":       code,
		"product_id": updated.ProductID,
		"tag":        next.String(),
	}).Debug("unit transitioned")
	return updated, nil
}

// Count returns the number of units of a product carrying one of tags. An empty
// location counts every location. Units of draft purchases are left out.
func (r *UnitRegistry) Count(ctx context.Context, productID, location string, tags []domain.Tag) (int, error) {
	var n int
	err := r.store.View(ctx, func(ctx context.Context, rd port.Reader) error {
		var err error
		n, err = rd.CountUnits(ctx, domain.UnitFilter{
			ProductID:    productID,
			Location:     location,
			Tags:         tags,
			ExcludeDraft: true,
		})
		return err
	})
	return n, err
}

// CountedCodes lists the codes of the units that make up on-hand stock.
func (r *UnitRegistry) CountedCodes(ctx context.Context, productID, location string) ([]string, error) {
	var codes []string
	err := r.store.View(ctx, func(ctx context.Context, rd port.Reader) error {
		units, err := rd.ListUnits(ctx, domain.UnitFilter{
			ProductID:    productID,
			Location:     location,
			Tags:         domain.CountedTags,
			ExcludeDraft: true,
		})
		if err != nil {
			return err
		}
		codes = make([]string, 0, len(units))
		for _, u := range units {
			codes = append(codes, u.Code)
		}
		return nil
	})
	return codes, err
}

// isOnHand reports whether the unit belongs to a tracked product and is not
// held back by a draft purchase.
func (r *UnitRegistry) isOnHand(ctx context.Context, tx port.Tx, unit domain.Unit) (bool, error) {
	product, err := tx.GetProduct(ctx, unit.ProductID)
	if err != nil {
		return false, err
	}
	if !product.Tracked {
		return false, nil
	}
	if unit.PurchaseID == "" {
		return true, nil
	}
	purchase, err := tx.GetPurchase(ctx, unit.PurchaseID)
	if err != nil {
		return false, err
	}
	return purchase.Status != domain.PurchaseStatusDraft, nil
}

// adjustCounter locks the aggregate for product+location and applies delta,
// clamped at zero.
func adjustCounter(ctx context.Context, tx port.Tx, productID, location string, delta decimal.Decimal) (*domain.StockLevel, error) {
	stock, err := tx.LockStock(ctx, productID, location)
	if err != nil {
		return nil, fmt.Errorf("lock stock: %w", err)
	}
	stock.Add(delta)
	if err := tx.SaveStock(ctx, *stock); err != nil {
		return nil, err
	}
	stock.Version++
	return stock, nil
}

// runInTx runs fn in a transaction, retrying the whole transaction when the
// store reports a conflict. Identifier exhaustion already spent its own retry
// budget and is returned as is.
func runInTx(ctx context.Context, store port.Store, fn func(ctx context.Context, tx port.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = store.RunInTx(ctx, fn)
		if !retryable(err) {
			return err
		}
	}
	return err
}

func retryable(err error) bool {
	var conflict *domain.ConflictError
	return errors.As(err, &conflict) && !errors.Is(err, domain.ErrCodeExhausted)
}
