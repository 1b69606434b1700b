package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/unit-inventory/internal/adapter/storage"
	"github.com/rl1809/unit-inventory/internal/core/domain"
	"github.com/rl1809/unit-inventory/internal/core/service"
)

const (
	productID     = "stress-tshirt"
	location      = "warehouse"
	shopLocation  = "shop"
	lineID        = "stress-line"
	initialUnits  = 50
	sellers       = 40
	reconcilers   = 20
	adjusters     = 20
	maxLineTarget = 80
)

func main() {
	ctx := context.Background()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := storage.NewMemoryStore()
	ids := service.NewIdentifierGenerator(storage.NewMemoryCodeCache(time.Hour))
	registry := service.NewUnitRegistry(store, ids, logger)
	reconciler := service.NewPurchaseReconciler(store, registry, logger)
	adjuster := service.NewStockAdjustmentEngine(store, registry, logger)
	auditor := service.NewConsistencyAuditor(store, 4, logger)

	must(store.SaveProduct(ctx, domain.Product{ID: productID, SKU: "TSHIRT", Tracked: true}))
	must(store.SavePurchase(ctx, domain.Purchase{ID: "stress-po", Location: location, Status: domain.PurchaseStatusFinalized}))
	must(store.SavePurchaseLine(ctx, domain.PurchaseLine{ID: lineID, PurchaseID: "stress-po", ProductID: productID}))

	seed, err := reconciler.Reconcile(ctx, lineID, initialUnits)
	must(err)

	var (
		sold       atomic.Int32
		saleMissed atomic.Int32
		reconciled atomic.Int32
		belowSold  atomic.Int32
		adjusted   atomic.Int32
		unexpected atomic.Int32
		wg         sync.WaitGroup
	)
	record := func(err error) {
		if err != nil {
			unexpected.Add(1)
			fmt.Printf("unexpected error: %v\n", err)
		}
	}

	start := time.Now()

	for i := 0; i < sellers; i++ {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			_, err := registry.Transition(ctx, code, domain.TagSold)
			switch {
			case err == nil:
				sold.Add(1)
			case errors.Is(err, domain.ErrUnitNotFound):
				// Deleted by a concurrent reconcile or stock-out first.
				saleMissed.Add(1)
			default:
				record(err)
			}
		}(seed.Minted[i])
	}

	for i := 0; i < reconcilers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reconciler.Reconcile(ctx, lineID, rand.IntN(maxLineTarget+1))
			switch {
			case err == nil:
				reconciled.Add(1)
			case errors.Is(err, domain.ErrBelowSoldCount):
				belowSold.Add(1)
			default:
				record(err)
			}
		}()
	}

	// Adjustments run at another location so they never take units away from
	// the purchase line.
	for i := 0; i < adjusters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			typ := domain.AdjustmentIn
			if i%2 == 1 {
				typ = domain.AdjustmentOut
			}
			_, err := adjuster.Apply(ctx, domain.StockAdjustment{
				Type:      typ,
				ProductID: productID,
				Location:  shopLocation,
				Quantity:  decimal.NewFromInt(int64(1 + rand.IntN(5))),
			})
			if err == nil {
				adjusted.Add(1)
			}
			record(err)
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	soldUnits, err := registry.Count(ctx, productID, "", []domain.Tag{domain.TagSold})
	must(err)
	reports := auditor.CheckAll(ctx)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Units:     %d\n", initialUnits)
	fmt.Printf("Sales:             %d (missed %d)\n", sold.Load(), saleMissed.Load())
	fmt.Printf("Reconciles:        %d (below sold %d)\n", reconciled.Load(), belowSold.Load())
	fmt.Printf("Adjustments:       %d\n", adjusted.Load())
	fmt.Printf("Unexpected Errors: %d\n", unexpected.Load())
	fmt.Printf("Duration:          %v\n", elapsed)
	fmt.Println("==========================================")

	if soldUnits == int(sold.Load()) {
		fmt.Printf("PASS: all %d sold units survived\n", soldUnits)
	} else {
		fmt.Printf("FAIL: expected %d sold units, found %d\n", sold.Load(), soldUnits)
	}

	if len(reports) == 0 && unexpected.Load() == 0 {
		fmt.Println("PASS: audit found no inconsistencies")
	} else {
		for _, r := range reports {
			for _, issue := range r.Issues {
				fmt.Printf("FAIL: %v\n", issue)
			}
		}
	}
}

func must(err error) {
	if err != nil {
		logrus.Fatal(err)
	}
}
