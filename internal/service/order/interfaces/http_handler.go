package interfaces

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"monat/internal/pkg/logger"
	"monat/internal/service/order/application"
	"monat/internal/service/order/domain"
)

const serviceName = "order-service"

type OrderHandler struct {
	service *application.OrderApplicationService
}

func NewOrderHandler(service *application.OrderApplicationService) *OrderHandler {
	return &OrderHandler{service: service}
}

func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/create_order", h.createOrder)
	mux.HandleFunc("/get_order", h.getOrder)
}

type orderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

type createOrderRequest struct {
	UserID   string             `json:"userId"`
	Currency string             `json:"currency"`
	Items    []orderItemRequest `json:"items"`
}

type createOrderResponse struct {
	Success     bool   `json:"success"`
	OrderID     string `json:"orderId,omitempty"`
	OrderNumber string `json:"orderNumber,omitempty"`
	Status      string `json:"status,omitempty"`
	Message     string `json:"message,omitempty"`
}

// createOrder 同步返回 PENDING 订单，saga 在后台推进。
// 调用方轮询 /get_order 观察终态。
func (h *OrderHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "order-service.CreateOrder")
	defer span.End()

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	order, err := h.service.CreateOrder(ctx, application.CreateOrderCommand{
		UserID:   req.UserID,
		Currency: req.Currency,
		Items:    items,
	})
	if err != nil {
		if errors.Is(err, domain.ErrEmptyOrder) || errors.Is(err, domain.ErrInvalidItem) {
			writeJSON(w, http.StatusOK, createOrderResponse{Success: false, Message: err.Error()})
			return
		}
		logger.Ctx(ctx).Error().Err(err).Msg("create order failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, createOrderResponse{
		Success:     true,
		OrderID:     order.OrderID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
	})
}

type getOrderResponse struct {
	Success            bool   `json:"success"`
	OrderID            string `json:"orderId,omitempty"`
	OrderNumber        string `json:"orderNumber,omitempty"`
	Status             string `json:"status,omitempty"`
	TotalAmount        int64  `json:"totalAmount,omitempty"`
	PaymentReference   string `json:"paymentReference,omitempty"`
	CancellationReason string `json:"cancellationReason,omitempty"`
	SagaStatus         string `json:"sagaStatus,omitempty"`
	SagaStep           string `json:"sagaStep,omitempty"`
	Message            string `json:"message,omitempty"`
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "order-service.GetOrder")
	defer span.End()

	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		writeJSON(w, http.StatusOK, getOrderResponse{Success: false, Message: "orderId is required"})
		return
	}

	order, state, err := h.service.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			writeJSON(w, http.StatusOK, getOrderResponse{Success: false, Message: "order not found"})
			return
		}
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("get order failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := getOrderResponse{
		Success:            true,
		OrderID:            order.OrderID,
		OrderNumber:        order.OrderNumber,
		Status:             string(order.Status),
		TotalAmount:        order.TotalAmount,
		PaymentReference:   order.PaymentReference,
		CancellationReason: order.CancellationReason,
	}
	if state != nil {
		resp.SagaStatus = string(state.Status)
		resp.SagaStep = string(state.CurrentStep)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
