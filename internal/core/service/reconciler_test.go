package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/unit-inventory/internal/core/domain"
)

func TestReconcile_SoldUnitsSurvive(t *testing.T) {
	f := setup(t)
	f.product(t, "p1", true)
	line := f.line(t, "l1", "p1", domain.PurchaseStatusFinalized)

	res, err := f.reconciler.Reconcile(f.ctx, line.ID, 10)
	require.NoError(t, err)
	require.Len(t, res.Minted, 10)
	f.sell(t, res.Minted[:4]...)

	// 10 -> 5 deletes fresh units only.
	res, err = f.reconciler.Reconcile(f.ctx, line.ID, 5)
	require.NoError(t, err)
	assert.Len(t, res.Deleted, 5)
	counts := tagCounts(f.lineUnits(t, line.ID))
	assert.Equal(t, 4, counts[domain.TagSold])
	assert.Equal(t, 1, counts[domain.TagFresh])
	assert.True(t, f.onHand(t, "p1", "wh").Equal(decimal.NewFromInt(1)))

	// Below the sold count nothing changes.
	_, err = f.reconciler.Reconcile(f.ctx, line.ID, 3)
	require.ErrorIs(t, err, domain.ErrBelowSoldCount)
	var validation *domain.ValidationError
	assert.ErrorAs(t, err, &validation)
	assert.Len(t, f.lineUnits(t, line.ID), 5)

	res, err = f.reconciler.Reconcile(f.ctx, line.ID, 8)
	require.NoError(t, err)
	assert.Len(t, res.Minted, 3)
	counts = tagCounts(f.lineUnits(t, line.ID))
	assert.Equal(t, 4, counts[domain.TagSold])
	assert.Equal(t, 4, counts[domain.TagFresh])
	assert.True(t, f.onHand(t, "p1", "wh").Equal(decimal.NewFromInt(4)))

	report := f.auditor.Check(f.ctx, "p1", "")
	assert.True(t, report.OK(), "%v", report.Issues)
}

func TestReconcile_DeletesOldestFirst(t *testing.T) {
	f := setup(t)
	f.product(t, "p1", true)
	line := f.line(t, "l1", "p1", domain.PurchaseStatusFinalized)

	first, err := f.reconciler.Reconcile(f.ctx, line.ID, 2)
	require.NoError(t, err)
	second, err := f.reconciler.Reconcile(f.ctx, line.ID, 4)
	require.NoError(t, err)

	res, err := f.reconciler.Reconcile(f.ctx, line.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, first.Minted, res.Deleted)
	assert.Equal(t, second.Minted, unitCodes(f.lineUnits(t, line.ID)))
}

func TestReconcile_Idempotent(t *testing.T) {
	f := setup(t)
	f.product(t, "p1", true)
	line := f.line(t, "l1", "p1", domain.PurchaseStatusFinalized)

	_, err := f.reconciler.Reconcile(f.ctx, line.ID, 6)
	require.NoError(t, err)
	before := f.lineUnits(t, line.ID)

	res, err := f.reconciler.Reconcile(f.ctx, line.ID, 6)
	require.NoError(t, err)
	assert.False(t, res.Mutated())
	assert.Equal(t, before, f.lineUnits(t, line.ID))
	assert.True(t, f.onHand(t, "p1", "wh").Equal(decimal.NewFromInt(6)))
}

func TestReconcile_UntrackedKeepsSinglePlaceholder(t *testing.T) {
	f := setup(t)
	f.product(t, "bulk", false)
	line := f.line(t, "l1", "bulk", domain.PurchaseStatusFinalized)
	other := f.line(t, "l2", "bulk", domain.PurchaseStatusFinalized)

	res, err := f.reconciler.Reconcile(f.ctx, line.ID, 5)
	require.NoError(t, err)
	assert.Len(t, res.Minted, 1)

	for _, target := range []int{7, 0, 1, 250} {
		res, err = f.reconciler.Reconcile(f.ctx, line.ID, target)
		require.NoError(t, err)
		assert.False(t, res.Mutated(), "target %d", target)
	}

	res, err = f.reconciler.Reconcile(f.ctx, other.ID, 3)
	require.NoError(t, err)
	assert.False(t, res.Mutated())

	assert.Len(t, f.productUnits(t, "bulk"), 1)
	assert.True(t, f.onHand(t, "bulk", "wh").IsZero())
}

func TestReconcile_UntrackedZeroTargetMintsNothing(t *testing.T) {
	f := setup(t)
	f.product(t, "bulk", false)
	line := f.line(t, "l1", "bulk", domain.PurchaseStatusDraft)

	res, err := f.reconciler.Reconcile(f.ctx, line.ID, 0)
	require.NoError(t, err)
	assert.False(t, res.Mutated())
	assert.Empty(t, f.productUnits(t, "bulk"))
}

func TestReconcile_DraftThenFinalize(t *testing.T) {
	f := setup(t)
	f.product(t, "p1", true)
	f.product(t, "bulk", false)
	line := f.line(t, "l1", "p1", domain.PurchaseStatusDraft)
	require.NoError(t, f.store.SavePurchaseLine(f.ctx, domain.PurchaseLine{ID: "l1-bulk", PurchaseID: line.PurchaseID, ProductID: "bulk"}))

	_, err := f.reconciler.Reconcile(f.ctx, line.ID, 4)
	require.NoError(t, err)
	_, err = f.reconciler.Reconcile(f.ctx, "l1-bulk", 9)
	require.NoError(t, err)
	assert.True(t, f.onHand(t, "p1", "wh").IsZero())

	n, err := f.registry.Count(f.ctx, "p1", "wh", domain.CountedTags)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, f.reconciler.Finalize(f.ctx, line.PurchaseID))
	assert.True(t, f.onHand(t, "p1", "wh").Equal(decimal.NewFromInt(4)))
	assert.True(t, f.onHand(t, "bulk", "wh").IsZero())

	n, err = f.registry.Count(f.ctx, "p1", "wh", domain.CountedTags)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	err = f.reconciler.Finalize(f.ctx, line.PurchaseID)
	assert.ErrorIs(t, err, domain.ErrPurchaseNotDraft)
	assert.True(t, f.onHand(t, "p1", "wh").Equal(decimal.NewFromInt(4)))
}

func TestReconcile_InvalidInput(t *testing.T) {
	f := setup(t)
	f.product(t, "p1", true)
	line := f.line(t, "l1", "p1", domain.PurchaseStatusFinalized)

	_, err := f.reconciler.Reconcile(f.ctx, line.ID, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = f.reconciler.Reconcile(f.ctx, "missing", 1)
	assert.ErrorIs(t, err, domain.ErrLineNotFound)

	_, err = f.reconciler.Reconcile(f.ctx, line.ID, maxMintBatch+1)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	assert.Empty(t, f.lineUnits(t, line.ID))
}

func TestFinalize_PassesAudit(t *testing.T) {
	f := setup(t)
	f.product(t, "p1", true)
	line := f.line(t, "l1", "p1", domain.PurchaseStatusDraft)

	_, err := f.reconciler.Reconcile(f.ctx, line.ID, 3)
	require.NoError(t, err)

	require.NoError(t, f.reconciler.Finalize(f.ctx, line.PurchaseID))
	report := f.auditor.Check(f.ctx, "p1", "wh")
	assert.True(t, report.OK(), "%v", report.Issues)
}
