package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/unit-inventory/internal/core/domain"
	"github.com/rl1809/unit-inventory/internal/port"
)

// StockAdjustmentEngine turns bulk stock-in/out quantities into unit creation
// and deletion plus an update of the aggregate counter, all in one transaction.
type StockAdjustmentEngine struct {
	store    port.Store
	registry *UnitRegistry
	logger   logrus.FieldLogger
	tracer   trace.Tracer
	metrics  unitMetrics
}

func NewStockAdjustmentEngine(store port.Store, registry *UnitRegistry, logger logrus.FieldLogger) *StockAdjustmentEngine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StockAdjustmentEngine{
		store:    store,
		registry: registry,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		metrics:  newUnitMetrics(),
	}
}

// Apply executes adj. A stock-out deletes at most floor(quantity) non-sold
// units, oldest first; when fewer exist it deletes what it can and still
// lowers the counter by the full quantity, clamped at zero.
func (e *StockAdjustmentEngine) Apply(ctx context.Context, adj domain.StockAdjustment) (domain.AdjustmentResult, error) {
	ctx, span := e.tracer.Start(ctx, "adjustment.apply",
		trace.WithAttributes(
			attribute.String("product.id", adj.ProductID),
			attribute.String("location", adj.Location),
			attribute.String("type", string(adj.Type)),
			attribute.String("quantity", adj.Quantity.String()),
		),
	)
	defer span.End()

	if adj.Type != domain.AdjustmentIn && adj.Type != domain.AdjustmentOut {
		return domain.AdjustmentResult{}, fmt.Errorf("%w: %q", domain.ErrInvalidAdjustment, adj.Type)
	}
	if !adj.Quantity.IsPositive() {
		return domain.AdjustmentResult{}, fmt.Errorf("%w: %s", domain.ErrInvalidQuantity, adj.Quantity)
	}
	if !adj.Quantity.Floor().BigInt().IsInt64() {
		return domain.AdjustmentResult{}, fmt.Errorf("%w: %s out of range", domain.ErrInvalidQuantity, adj.Quantity)
	}

	var result domain.AdjustmentResult
	err := runInTx(ctx, e.store, func(ctx context.Context, tx port.Tx) error {
		result = domain.AdjustmentResult{}

		product, err := tx.GetProduct(ctx, adj.ProductID)
		if err != nil {
			return err
		}
		stock, err := tx.LockStock(ctx, adj.ProductID, adj.Location)
		if err != nil {
			return fmt.Errorf("lock stock: %w", err)
		}

		whole := int(adj.Quantity.Floor().IntPart())
		if adj.Type == domain.AdjustmentIn {
			err = e.stockIn(ctx, tx, *product, adj.Location, whole, &result)
			stock.Add(adj.Quantity)
		} else {
			err = e.stockOut(ctx, tx, *product, adj.Location, whole, &result)
			stock.Add(adj.Quantity.Neg())
		}
		if err != nil {
			return err
		}

		if err := tx.SaveStock(ctx, *stock); err != nil {
			return err
		}
		result.OnHand = stock.OnHand
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return domain.AdjustmentResult{}, err
	}

	e.metrics.churn(ctx, "adjust_"+string(adj.Type), len(result.Minted), len(result.Deleted))
	fields := logrus.Fields{
		"product_id": adj.ProductID,
		"location":   adj.Location,
		"type":       adj.Type,
		"quantity":   adj.Quantity.String(),
		"minted":     len(result.Minted),
		"deleted":    len(result.Deleted),
		"on_hand":    result.OnHand.String(),
	}
	if result.Shortfall > 0 {
		fields["shortfall"] = result.Shortfall
		e.logger.WithFields(fields).Warn("stock-out found fewer deletable units than requested")
	} else {
		e.logger.WithFields(fields).Info("stock adjusted")
	}
	return result, nil
}

func (e *StockAdjustmentEngine) stockIn(ctx context.Context, tx port.Tx, product domain.Product, location string, n int, result *domain.AdjustmentResult) error {
	if !product.Tracked {
		return e.ensurePlaceholder(ctx, tx, product, location, result)
	}
	minted, err := e.registry.Mint(ctx, tx, product, Origin{Location: location}, n)
	if err != nil {
		return err
	}
	result.Minted = unitCodes(minted)
	return nil
}

func (e *StockAdjustmentEngine) stockOut(ctx context.Context, tx port.Tx, product domain.Product, location string, n int, result *domain.AdjustmentResult) error {
	// The placeholder of an untracked product outlives any quantity change.
	if !product.Tracked || n == 0 {
		return nil
	}

	candidates, err := tx.ListUnits(ctx, domain.UnitFilter{
		ProductID:    product.ID,
		Location:     location,
		ExcludeDraft: true,
	})
	if err != nil {
		return fmt.Errorf("list units: %w", err)
	}

	victims := SelectForDeletion(candidates, n)
	if len(victims) > 0 {
		if err := tx.DeleteUnits(ctx, unitIDs(victims)); err != nil {
			return fmt.Errorf("delete units: %w", err)
		}
	}
	result.Deleted = unitCodes(victims)
	result.Shortfall = n - len(victims)
	return nil
}

func (e *StockAdjustmentEngine) ensurePlaceholder(ctx context.Context, tx port.Tx, product domain.Product, location string, result *domain.AdjustmentResult) error {
	exists, err := e.registry.HasPlaceholder(ctx, tx, product.ID)
	if err != nil || exists {
		return err
	}
	unit, err := e.registry.Create(ctx, tx, product, Origin{Location: location}, domain.TagFresh)
	if err != nil {
		return err
	}
	result.Minted = []string{unit.Code}
	return nil
}
