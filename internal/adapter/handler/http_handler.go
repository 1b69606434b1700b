package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/unit-inventory/internal/core/domain"
	"github.com/rl1809/unit-inventory/internal/core/service"
)

// HTTPHandler exposes the inventory core to a surrounding service layer.
type HTTPHandler struct {
	registry   *service.UnitRegistry
	reconciler *service.PurchaseReconciler
	adjuster   *service.StockAdjustmentEngine
	overlay    *service.ReservationOverlay
	auditor    *service.ConsistencyAuditor
	health     *HealthChecker
	logger     logrus.FieldLogger
}

type ReconcileHTTPRequest struct {
	Quantity int `json:"quantity"`
}

type AdjustmentHTTPRequest struct {
	Type      string          `json:"type"`
	ProductID string          `json:"product_id"`
	Location  string          `json:"location"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type TransitionHTTPRequest struct {
	Tag domain.Tag `json:"tag"`
}

type ErrorHTTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewHTTPHandler(
	registry *service.UnitRegistry,
	reconciler *service.PurchaseReconciler,
	adjuster *service.StockAdjustmentEngine,
	overlay *service.ReservationOverlay,
	auditor *service.ConsistencyAuditor,
	health *HealthChecker,
	logger logrus.FieldLogger,
) *HTTPHandler {
	return &HTTPHandler{
		registry:   registry,
		reconciler: reconciler,
		adjuster:   adjuster,
		overlay:    overlay,
		auditor:    auditor,
		health:     health,
		logger:     logger,
	}
}

func (h *HTTPHandler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/lines/{id}/reconcile", h.Reconcile).Methods(http.MethodPost)
	api.HandleFunc("/purchases/{id}/finalize", h.Finalize).Methods(http.MethodPost)
	api.HandleFunc("/adjustments", h.Adjust).Methods(http.MethodPost)
	api.HandleFunc("/units/{code}/transition", h.Transition).Methods(http.MethodPost)
	api.HandleFunc("/products/{id}/count", h.Count).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}/available", h.Available).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}/audit", h.Audit).Methods(http.MethodGet)
	return r
}

func (h *HTTPHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.reconciler.Reconcile(r.Context(), mux.Vars(r)["id"], req.Quantity)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	if err := h.reconciler.Finalize(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" || req.Location == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	result, err := h.adjuster.Apply(r.Context(), domain.StockAdjustment{
		Type:      domain.AdjustmentType(req.Type),
		ProductID: req.ProductID,
		Location:  req.Location,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	unit, err := h.registry.Transition(r.Context(), mux.Vars(r)["code"], req.Tag)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

func (h *HTTPHandler) Count(w http.ResponseWriter, r *http.Request) {
	tags, err := parseTags(r.URL.Query().Get("tags"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := h.registry.Count(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("location"), tags)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// Available defaults the base to the registry's counted units when the caller
// passes none.
func (h *HTTPHandler) Available(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["id"]
	location := r.URL.Query().Get("location")

	var base decimal.Decimal
	if raw := r.URL.Query().Get("base"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid base")
			return
		}
		base = parsed
	} else {
		n, err := h.registry.Count(r.Context(), productID, location, domain.CountedTags)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		base = decimal.NewFromInt(int64(n))
	}

	available, err := h.overlay.Available(r.Context(), productID, location, base)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"base": base, "available": available})
}

func (h *HTTPHandler) Audit(w http.ResponseWriter, r *http.Request) {
	report := h.auditor.Check(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("location"))
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Check(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, err error) {
	var (
		validation *domain.ValidationError
		conflict   *domain.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrPurchaseNotFound),
		errors.Is(err, domain.ErrLineNotFound),
		errors.Is(err, domain.ErrUnitNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseTags(raw string) ([]domain.Tag, error) {
	if raw == "" {
		return domain.CountedTags, nil
	}
	var tags []domain.Tag
	for _, name := range strings.Split(raw, ",") {
		tag, err := domain.ParseTag(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorHTTPResponse{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
