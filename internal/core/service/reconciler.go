package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/unit-inventory/internal/core/domain"
	"github.com/rl1809/unit-inventory/internal/port"
)

// ReconcileResult lists what a reconciliation changed.
type ReconcileResult struct {
	LineID   string   `json:"line_id"`
	Quantity int      `json:"quantity"`
	Minted   []string `json:"minted"`
	Deleted  []string `json:"deleted"`
}

// Mutated reports whether any unit was created or removed.
func (r ReconcileResult) Mutated() bool {
	return len(r.Minted) > 0 || len(r.Deleted) > 0
}

// PurchaseReconciler keeps the units of a purchase line in step with the
// line's intended quantity without ever removing a sold unit.
type PurchaseReconciler struct {
	store    port.Store
	registry *UnitRegistry
	logger   logrus.FieldLogger
	tracer   trace.Tracer
	metrics  unitMetrics
}

func NewPurchaseReconciler(store port.Store, registry *UnitRegistry, logger logrus.FieldLogger) *PurchaseReconciler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PurchaseReconciler{
		store:    store,
		registry: registry,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		metrics:  newUnitMetrics(),
	}
}

// Reconcile mints or deletes units so the line ends up with exactly target
// units. It fails with ErrBelowSoldCount, changing nothing, when target is
// below the number of sold units already linked to the line.
func (r *PurchaseReconciler) Reconcile(ctx context.Context, lineID string, target int) (ReconcileResult, error) {
	ctx, span := r.tracer.Start(ctx, "reconciler.reconcile",
		trace.WithAttributes(
			attribute.String("line.id", lineID),
			attribute.Int("target", target),
		),
	)
	defer span.End()

	if target < 0 {
		return ReconcileResult{}, fmt.Errorf("%w: target %d", domain.ErrInvalidQuantity, target)
	}

	var result ReconcileResult
	err := runInTx(ctx, r.store, func(ctx context.Context, tx port.Tx) error {
		result = ReconcileResult{LineID: lineID, Quantity: target}

		line, err := tx.LockPurchaseLine(ctx, lineID)
		if err != nil {
			return err
		}
		purchase, err := tx.GetPurchase(ctx, line.PurchaseID)
		if err != nil {
			return err
		}
		product, err := tx.GetProduct(ctx, line.ProductID)
		if err != nil {
			return err
		}

		if product.Tracked {
			err = r.reconcileTracked(ctx, tx, *product, *purchase, *line, target, &result)
		} else {
			err = r.reconcilePlaceholder(ctx, tx, *product, *purchase, *line, target, &result)
		}
		if err != nil {
			return err
		}

		if line.Quantity != target {
			if err := tx.UpdateLineQuantity(ctx, line.ID, target); err != nil {
				return fmt.Errorf("update line quantity: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return ReconcileResult{}, err
	}

	span.SetAttributes(
		attribute.Int("minted", len(result.Minted)),
		attribute.Int("deleted", len(result.Deleted)),
	)
	r.metrics.churn(ctx, "reconcile", len(result.Minted), len(result.Deleted))
	if result.Mutated() {
		r.logger.WithFields(logrus.Fields{
			"line_id": lineID,
			"target":  target,
			"minted":  len(result.Minted),
			"deleted": len(result.Deleted),
		}).Info("purchase line reconciled")
	}
	return result, nil
}

func (r *PurchaseReconciler) reconcileTracked(ctx context.Context, tx port.Tx, product domain.Product, purchase domain.Purchase, line domain.PurchaseLine, target int, result *ReconcileResult) error {
	existing, err := tx.ListUnits(ctx, domain.UnitFilter{LineID: line.ID})
	if err != nil {
		return fmt.Errorf("list line units: %w", err)
	}

	sold := countTag(existing, domain.TagSold)
	if target < sold {
		return fmt.Errorf("%w: line %s has %d sold units, target %d", domain.ErrBelowSoldCount, line.ID, sold, target)
	}

	delta := 0
	switch {
	case target > len(existing):
		minted, err := r.registry.Mint(ctx, tx, product, Origin{
			Location:   purchase.Location,
			LineID:     line.ID,
			PurchaseID: purchase.ID,
		}, target-len(existing))
		if err != nil {
			return err
		}
		result.Minted = unitCodes(minted)
		delta = len(minted)

	case target < len(existing):
		victims := SelectForDeletion(existing, len(existing)-target)
		if err := tx.DeleteUnits(ctx, unitIDs(victims)); err != nil {
			return fmt.Errorf("delete units: %w", err)
		}
		result.Deleted = unitCodes(victims)
		for _, v := range victims {
			if v.Tag.Counted() {
				delta--
			}
		}
	}

	if delta == 0 || purchase.Status == domain.PurchaseStatusDraft {
		return nil
	}
	_, err = adjustCounter(ctx, tx, product.ID, purchase.Location, decimal.NewFromInt(int64(delta)))
	return err
}

// reconcilePlaceholder only guarantees that an untracked product with a
// positive line quantity has its single placeholder. The numeric quantity
// lives in the aggregate ledger.
func (r *PurchaseReconciler) reconcilePlaceholder(ctx context.Context, tx port.Tx, product domain.Product, purchase domain.Purchase, line domain.PurchaseLine, target int, result *ReconcileResult) error {
	if target == 0 {
		return nil
	}
	exists, err := r.registry.HasPlaceholder(ctx, tx, product.ID)
	if err != nil || exists {
		return err
	}

	unit, err := r.registry.Create(ctx, tx, product, Origin{
		Location:   purchase.Location,
		LineID:     line.ID,
		PurchaseID: purchase.ID,
	}, domain.TagFresh)
	if err != nil {
		return err
	}
	result.Minted = []string{unit.Code}
	return nil
}

// Finalize moves a draft purchase to finalized and books the counted units of
// its tracked lines into the aggregate counters.
func (r *PurchaseReconciler) Finalize(ctx context.Context, purchaseID string) error {
	ctx, span := r.tracer.Start(ctx, "reconciler.finalize",
		trace.WithAttributes(attribute.String("purchase.id", purchaseID)),
	)
	defer span.End()

	err := runInTx(ctx, r.store, func(ctx context.Context, tx port.Tx) error {
		purchase, err := tx.LockPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		if purchase.Status != domain.PurchaseStatusDraft {
			return fmt.Errorf("%w: purchase %s is %s", domain.ErrPurchaseNotDraft, purchase.ID, purchase.Status)
		}

		lines, err := tx.ListPurchaseLines(ctx, purchase.ID)
		if err != nil {
			return fmt.Errorf("list purchase lines: %w", err)
		}

		deltas := make(map[string]int)
		for _, line := range lines {
			product, err := tx.GetProduct(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if !product.Tracked {
				continue
			}
			n, err := tx.CountUnits(ctx, domain.UnitFilter{LineID: line.ID, Tags: domain.CountedTags})
			if err != nil {
				return fmt.Errorf("count line units: %w", err)
			}
			deltas[product.ID] += n
		}

		if err := tx.UpdatePurchaseStatus(ctx, purchase.ID, domain.PurchaseStatusFinalized); err != nil {
			return fmt.Errorf("update purchase status: %w", err)
		}

		// Lock aggregates in a fixed order so concurrent finalizations cannot deadlock.
		productIDs := make([]string, 0, len(deltas))
		for id := range deltas {
			productIDs = append(productIDs, id)
		}
		sort.Strings(productIDs)
		for _, id := range productIDs {
			if deltas[id] == 0 {
				continue
			}
			if _, err := adjustCounter(ctx, tx, id, purchase.Location, decimal.NewFromInt(int64(deltas[id]))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	r.logger.WithField("purchase_id", purchaseID).Info("purchase finalized")
	return nil
}
