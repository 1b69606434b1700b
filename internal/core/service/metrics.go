package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rl1809/unit-inventory/internal/core/domain"
)

// unitMetrics counts unit churn per operation. Instruments come from the global
// meter provider, which is a no-op until the binary installs one.
type unitMetrics struct {
	minted  metric.Int64Counter
	deleted metric.Int64Counter
	issues  metric.Int64Counter
}

func newUnitMetrics() unitMetrics {
	meter := otel.Meter(tracerName)
	minted, _ := meter.Int64Counter("inventory.units.minted",
		metric.WithDescription("Units created by reconciliation and stock-in"))
	deleted, _ := meter.Int64Counter("inventory.units.deleted",
		metric.WithDescription("Units removed by reconciliation and stock-out"))
	issues, _ := meter.Int64Counter("inventory.audit.issues",
		metric.WithDescription("Consistency findings reported by the auditor"))
	return unitMetrics{minted: minted, deleted: deleted, issues: issues}
}

func (m unitMetrics) churn(ctx context.Context, op string, minted, deleted int) {
	attrs := metric.WithAttributes(attribute.String("op", op))
	if minted > 0 && m.minted != nil {
		m.minted.Add(ctx, int64(minted), attrs)
	}
	if deleted > 0 && m.deleted != nil {
		m.deleted.Add(ctx, int64(deleted), attrs)
	}
}

func (m unitMetrics) findings(ctx context.Context, issues []domain.ConsistencyError) {
	if m.issues == nil {
		return
	}
	for _, issue := range issues {
		m.issues.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(issue.Kind))))
	}
}
