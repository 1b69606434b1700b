package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/unit-inventory/internal/adapter/storage"
	"github.com/rl1809/unit-inventory/internal/core/domain"
	"github.com/rl1809/unit-inventory/internal/core/service"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type testServer struct {
	store  *storage.MemoryStore
	carts  *storage.MemoryCartSource
	router http.Handler
}

func setup(t *testing.T, deps map[string]Pinger) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := storage.NewMemoryStore()
	carts := storage.NewMemoryCartSource()
	registry := service.NewUnitRegistry(store, service.NewIdentifierGenerator(storage.NewMemoryCodeCache(time.Hour)), logger)
	h := NewHTTPHandler(
		registry,
		service.NewPurchaseReconciler(store, registry, logger),
		service.NewStockAdjustmentEngine(store, registry, logger),
		service.NewReservationOverlay(store, registry, carts),
		service.NewConsistencyAuditor(store, 2, logger),
		NewHealthChecker(deps, logger),
		logger,
	)

	ctx := context.Background()
	require.NoError(t, store.SaveProduct(ctx, domain.Product{ID: "p1", SKU: "TSHIRT", Tracked: true}))
	require.NoError(t, store.SavePurchase(ctx, domain.Purchase{ID: "po1", Location: "wh", Status: domain.PurchaseStatusFinalized}))
	require.NoError(t, store.SavePurchaseLine(ctx, domain.PurchaseLine{ID: "l1", PurchaseID: "po1", ProductID: "p1"}))

	return &testServer{store: store, carts: carts, router: h.Router()}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestReconcile_ThenSellThenShrinkBelowSold(t *testing.T) {
	s := setup(t, nil)

	rec := s.do(t, http.MethodPost, "/api/lines/l1/reconcile", ReconcileHTTPRequest{Quantity: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result service.ReconcileResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	require.Len(t, result.Minted, 2)

	rec = s.do(t, http.MethodPost, "/api/units/"+result.Minted[0]+"/transition", map[string]string{"tag": "sold"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/lines/l1/reconcile", ReconcileHTTPRequest{Quantity: 0})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/products/p1/count?location=wh&tags=fresh,sold", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":2}`, rec.Body.String())
}

func TestTransition_Errors(t *testing.T) {
	s := setup(t, nil)

	rec := s.do(t, http.MethodPost, "/api/units/missing/transition", map[string]string{"tag": "sold"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/units/missing/transition", map[string]string{"tag": "lost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdjust(t *testing.T) {
	s := setup(t, nil)

	rec := s.do(t, http.MethodPost, "/api/adjustments", AdjustmentHTTPRequest{
		Type: "in", ProductID: "p1", Location: "shop", Quantity: decimal.RequireFromString("2.5"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result domain.AdjustmentResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Len(t, result.Minted, 2)
	assert.True(t, result.OnHand.Equal(decimal.RequireFromString("2.5")))

	rec = s.do(t, http.MethodPost, "/api/adjustments", AdjustmentHTTPRequest{Type: "in", ProductID: "p1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/adjustments", AdjustmentHTTPRequest{Type: "out", ProductID: "p1", Location: "shop"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAvailable_DefaultsBaseToCountedUnits(t *testing.T) {
	s := setup(t, nil)

	rec := s.do(t, http.MethodPost, "/api/lines/l1/reconcile", ReconcileHTTPRequest{Quantity: 3})
	require.Equal(t, http.StatusOK, rec.Code)
	var result service.ReconcileResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	require.NoError(t, s.carts.HoldCode(context.Background(), "p1", result.Minted[2]))

	rec = s.do(t, http.MethodGet, "/api/products/p1/available?location=wh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"base":"3","available":"2"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/products/p1/available?location=wh&base=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFinalize_NotDraft(t *testing.T) {
	s := setup(t, nil)

	rec := s.do(t, http.MethodPost, "/api/purchases/po1/finalize", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/purchases/nope/finalize", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAudit(t *testing.T) {
	s := setup(t, nil)

	rec := s.do(t, http.MethodGet, "/api/products/p1/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report domain.ConsistencyReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, "p1", report.ProductID)
	assert.True(t, report.OK())
}

func TestHealthCheck(t *testing.T) {
	s := setup(t, map[string]Pinger{"mysql": stubPinger{}})
	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	s = setup(t, map[string]Pinger{"redis": stubPinger{err: errors.New("connection refused")}})
	rec = s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis")
}
