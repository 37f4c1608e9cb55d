package interfaces

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"monat/internal/pkg/logger"
	"monat/internal/service/inventory/application"
	"monat/internal/service/inventory/domain"
)

const serviceName = "inventory-service"

// InventoryHandler 暴露库存服务的 RPC 端点。
// 业务结果(库存不足、商品不存在)通过 200 + success=false 返回，
// 只有基础设施故障才用 5xx —— 调用方的熔断器依赖这个区分。
type InventoryHandler struct {
	service *application.InventoryApplicationService
}

func NewInventoryHandler(service *application.InventoryApplicationService) *InventoryHandler {
	return &InventoryHandler{service: service}
}

func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/reserve_stock", h.reserveStock)
	mux.HandleFunc("/release_stock", h.releaseStock)
	mux.HandleFunc("/commit_stock", h.commitStock)
	mux.HandleFunc("/check_stock", h.checkStock)
	mux.HandleFunc("/add_stock", h.addStock)
}

type stockItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type reserveStockRequest struct {
	OrderID string      `json:"orderId"`
	Items   []stockItem `json:"items"`
}

type reserveStockResponse struct {
	Success       bool   `json:"success"`
	ReservationID string `json:"reservationId,omitempty"`
	Message       string `json:"message,omitempty"`
}

func (h *InventoryHandler) reserveStock(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	ctx, span := otel.Tracer(serviceName).Start(ctx, "inventory-service.ReserveStock")
	defer span.End()

	var req reserveStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.OrderID == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusOK, reserveStockResponse{Success: false, Message: "orderId and items are required"})
		return
	}

	items := make(map[string]int, len(req.Items))
	for _, it := range req.Items {
		items[it.ProductID] = it.Quantity
	}

	reservationID, err := h.service.ReserveBatch(ctx, req.OrderID, items)
	if err != nil {
		if isBusinessError(err) {
			// 部分预占可能已生效，把 reservationId 一并返回让调用方能补偿
			writeJSON(w, http.StatusOK, reserveStockResponse{
				Success:       false,
				ReservationID: reservationID,
				Message:       err.Error(),
			})
			return
		}
		logger.Ctx(ctx).Error().Err(err).Str("order_id", req.OrderID).Msg("reserve stock failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, reserveStockResponse{Success: true, ReservationID: reservationID})
}

type releaseStockRequest struct {
	ReservationID string `json:"reservationId"`
	OrderID       string `json:"orderId"`
	Reason        string `json:"reason"`
}

type statusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (h *InventoryHandler) releaseStock(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	ctx, span := otel.Tracer(serviceName).Start(ctx, "inventory-service.ReleaseStock")
	defer span.End()

	var req releaseStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	logger.Ctx(ctx).Info().
		Str("reservation_id", req.ReservationID).
		Str("order_id", req.OrderID).
		Str("reason", req.Reason).
		Msg("release stock requested")

	if err := h.service.Release(ctx, req.ReservationID); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("reservation_id", req.ReservationID).Msg("release stock failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Success: true})
}

type commitStockRequest struct {
	ReservationID string `json:"reservationId"`
	OrderID       string `json:"orderId"`
}

func (h *InventoryHandler) commitStock(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	ctx, span := otel.Tracer(serviceName).Start(ctx, "inventory-service.CommitStock")
	defer span.End()

	var req commitStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.Commit(ctx, req.ReservationID); err != nil {
		if errors.Is(err, domain.ErrReservationNotFound) {
			writeJSON(w, http.StatusOK, statusResponse{Success: false, Message: err.Error()})
			return
		}
		logger.Ctx(ctx).Error().Err(err).Str("reservation_id", req.ReservationID).Msg("commit stock failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Success: true})
}

type checkStockRequest struct {
	ProductID string `json:"productId"`
}

type checkStockResponse struct {
	AvailableQuantity int `json:"availableQuantity"`
	ReservedQuantity  int `json:"reservedQuantity"`
	TotalQuantity     int `json:"totalQuantity"`
}

func (h *InventoryHandler) checkStock(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	ctx, span := otel.Tracer(serviceName).Start(ctx, "inventory-service.CheckStock")
	defer span.End()

	var req checkStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	inv, err := h.service.CheckStock(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, checkStockResponse{
		AvailableQuantity: inv.AvailableQuantity,
		ReservedQuantity:  inv.ReservedQuantity,
		TotalQuantity:     inv.TotalQuantity,
	})
}

type addStockRequest struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
}

func (h *InventoryHandler) addStock(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	ctx, span := otel.Tracer(serviceName).Start(ctx, "inventory-service.AddStock")
	defer span.End()

	var req addStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.AddStock(ctx, req.ProductID, req.ProductName, req.Quantity); err != nil {
		if isBusinessError(err) {
			writeJSON(w, http.StatusOK, statusResponse{Success: false, Message: err.Error()})
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Success: true})
}

func extract(r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func isBusinessError(err error) bool {
	return errors.Is(err, domain.ErrInsufficientStock) ||
		errors.Is(err, domain.ErrProductNotFound) ||
		errors.Is(err, domain.ErrInvalidQuantity)
}
