package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/unit-inventory/internal/core/domain"
	"github.com/rl1809/unit-inventory/internal/port"
)

var defaultTolerance = decimal.New(1, -4)

// ConsistencyAuditor compares aggregate counters and purchase lines with the
// unit registry. It only reads and it never fails: problems reading state are
// reported as findings too.
type ConsistencyAuditor struct {
	store     port.Store
	logger    logrus.FieldLogger
	tracer    trace.Tracer
	tolerance decimal.Decimal
	workers   int
	now       func() time.Time
	metrics   unitMetrics
}

func NewConsistencyAuditor(store port.Store, workers int, logger logrus.FieldLogger) *ConsistencyAuditor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if workers <= 0 {
		workers = 1
	}
	return &ConsistencyAuditor{
		store:     store,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		tolerance: defaultTolerance,
		workers:   workers,
		now:       time.Now,
		metrics:   newUnitMetrics(),
	}
}

// Check audits one product, at one location or at all of them when location is empty.
func (a *ConsistencyAuditor) Check(ctx context.Context, productID, location string) domain.ConsistencyReport {
	ctx, span := a.tracer.Start(ctx, "auditor.check",
		trace.WithAttributes(
			attribute.String("product.id", productID),
			attribute.String("location", location),
		),
	)
	defer span.End()

	report := domain.ConsistencyReport{
		ProductID: productID,
		Location:  location,
		CheckedAt: a.now().UTC(),
	}

	err := a.store.View(ctx, func(ctx context.Context, r port.Reader) error {
		product, err := r.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if product.Tracked {
			if err := a.checkCounters(ctx, r, *product, location, &report); err != nil {
				return err
			}
		} else if err := a.checkPlaceholder(ctx, r, *product, &report); err != nil {
			return err
		}
		return a.checkLines(ctx, r, *product, location, &report)
	})
	if err != nil {
		report.Issues = append(report.Issues, domain.ConsistencyError{
			Kind:      domain.IssueReadFailure,
			ProductID: productID,
			Location:  location,
			Detail:    err.Error(),
		})
	}

	span.SetAttributes(attribute.Int("issues", len(report.Issues)))
	a.metrics.findings(ctx, report.Issues)
	return report
}

// CheckAll audits every product with bounded parallelism and returns the
// reports that carry at least one finding.
func (a *ConsistencyAuditor) CheckAll(ctx context.Context) []domain.ConsistencyReport {
	var products []domain.Product
	err := a.store.View(ctx, func(ctx context.Context, r port.Reader) error {
		var err error
		products, err = r.ListProducts(ctx)
		return err
	})
	if err != nil {
		return []domain.ConsistencyReport{{
			CheckedAt: a.now().UTC(),
			Issues: []domain.ConsistencyError{{
				Kind:   domain.IssueReadFailure,
				Detail: fmt.Sprintf("list products: %v", err),
			}},
		}}
	}

	reports := make([]domain.ConsistencyReport, len(products))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, p := range products {
		g.Go(func() error {
			reports[i] = a.Check(gctx, p.ID, "")
			return nil
		})
	}
	_ = g.Wait()

	var flagged []domain.ConsistencyReport
	for _, rep := range reports {
		if !rep.OK() {
			flagged = append(flagged, rep)
		}
	}

	a.logger.WithFields(logrus.Fields{
		"products": len(products),
		"flagged":  len(flagged),
	}).Info("consistency audit finished")
	return flagged
}

func (a *ConsistencyAuditor) checkCounters(ctx context.Context, r port.Reader, product domain.Product, location string, report *domain.ConsistencyReport) error {
	var levels []domain.StockLevel
	if location != "" {
		level, err := r.GetStock(ctx, product.ID, location)
		if err != nil {
			return fmt.Errorf("get stock: %w", err)
		}
		levels = []domain.StockLevel{*level}
	} else {
		var err error
		levels, err = r.ListStock(ctx, product.ID)
		if err != nil {
			return fmt.Errorf("list stock: %w", err)
		}
	}

	units, err := r.ListUnits(ctx, domain.UnitFilter{
		ProductID:    product.ID,
		Location:     location,
		Tags:         domain.CountedTags,
		ExcludeDraft: true,
	})
	if err != nil {
		return fmt.Errorf("list counted units: %w", err)
	}

	counts := make(map[string]int)
	for _, u := range units {
		counts[u.Location]++
	}
	onHand := make(map[string]decimal.Decimal)
	for _, l := range levels {
		onHand[l.Location] = l.OnHand
		if _, ok := counts[l.Location]; !ok {
			counts[l.Location] = 0
		}
	}

	locations := make([]string, 0, len(counts))
	for loc := range counts {
		locations = append(locations, loc)
	}
	sort.Strings(locations)

	for _, loc := range locations {
		expected := onHand[loc]
		actual := decimal.NewFromInt(int64(counts[loc]))
		if expected.Sub(actual).Abs().GreaterThan(a.tolerance) {
			report.Issues = append(report.Issues, domain.ConsistencyError{
				Kind:      domain.IssueCounterMismatch,
				ProductID: product.ID,
				Location:  loc,
				Expected:  expected,
				Actual:    actual,
				Detail:    "aggregate on-hand counter differs from fresh+returned unit count",
			})
		}
	}
	return nil
}

func (a *ConsistencyAuditor) checkPlaceholder(ctx context.Context, r port.Reader, product domain.Product, report *domain.ConsistencyReport) error {
	n, err := r.CountUnits(ctx, domain.UnitFilter{ProductID: product.ID})
	if err != nil {
		return fmt.Errorf("count placeholders: %w", err)
	}
	if n > 1 {
		report.Issues = append(report.Issues, domain.ConsistencyError{
			Kind:      domain.IssueDuplicatePlaceholder,
			ProductID: product.ID,
			Expected:  decimal.NewFromInt(1),
			Actual:    decimal.NewFromInt(int64(n)),
			Detail:    "untracked product carries more than one unit",
		})
	}
	return nil
}

// checkLines compares finalized purchase lines with their units. An untracked
// product can only ever have one placeholder, so its lines are checked against
// the product's unit count rather than their own links.
func (a *ConsistencyAuditor) checkLines(ctx context.Context, r port.Reader, product domain.Product, location string, report *domain.ConsistencyReport) error {
	lines, err := r.ListLinesByProduct(ctx, product.ID, domain.PurchaseStatusFinalized)
	if err != nil {
		return fmt.Errorf("list finalized lines: %w", err)
	}

	placeholders := -1
	for _, line := range lines {
		purchase, err := r.GetPurchase(ctx, line.PurchaseID)
		if err != nil {
			return fmt.Errorf("get purchase %s: %w", line.PurchaseID, err)
		}
		if location != "" && purchase.Location != location {
			continue
		}

		if product.Tracked {
			linked, err := r.CountUnits(ctx, domain.UnitFilter{LineID: line.ID})
			if err != nil {
				return fmt.Errorf("count line units: %w", err)
			}
			if linked != line.Quantity {
				report.Issues = append(report.Issues, domain.ConsistencyError{
					Kind:      domain.IssueLineUnitMismatch,
					ProductID: product.ID,
					Location:  purchase.Location,
					LineID:    line.ID,
					Expected:  decimal.NewFromInt(int64(line.Quantity)),
					Actual:    decimal.NewFromInt(int64(linked)),
					Detail:    "linked unit count differs from line quantity",
				})
			}
			continue
		}

		if line.Quantity == 0 {
			continue
		}
		if placeholders < 0 {
			placeholders, err = r.CountUnits(ctx, domain.UnitFilter{ProductID: product.ID})
			if err != nil {
				return fmt.Errorf("count placeholders: %w", err)
			}
		}
		if placeholders != 1 {
			report.Issues = append(report.Issues, domain.ConsistencyError{
				Kind:      domain.IssueLineUnitMismatch,
				ProductID: product.ID,
				Location:  purchase.Location,
				LineID:    line.ID,
				Expected:  decimal.NewFromInt(1),
				Actual:    decimal.NewFromInt(int64(placeholders)),
				Detail:    "untracked line without exactly one placeholder",
			})
		}
	}
	return nil
}
