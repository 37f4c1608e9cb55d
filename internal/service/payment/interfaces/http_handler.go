package interfaces

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"monat/internal/pkg/logger"
	"monat/internal/service/payment/application"
	"monat/internal/service/payment/domain"
)

const serviceName = "payment-service"

// PaymentHandler 暴露支付服务的 RPC 端点。
// 支付被拒是业务结果，走 200 + success=false；5xx 留给基础设施故障。
type PaymentHandler struct {
	service *application.PaymentApplicationService
}

func NewPaymentHandler(service *application.PaymentApplicationService) *PaymentHandler {
	return &PaymentHandler{service: service}
}

func (h *PaymentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/process_payment", h.processPayment)
	mux.HandleFunc("/refund_payment", h.refundPayment)
}

type processPaymentRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	OrderID        string `json:"orderId"`
	UserID         string `json:"userId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Method         string `json:"method"`
}

type paymentResponse struct {
	Success          bool   `json:"success"`
	PaymentID        string `json:"paymentId,omitempty"`
	Status           string `json:"status,omitempty"`
	PaymentReference string `json:"paymentReference,omitempty"`
	Message          string `json:"message,omitempty"`
}

func (h *PaymentHandler) processPayment(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "payment-service.ProcessPayment")
	defer span.End()

	var req processPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.ProcessPayment(ctx, application.ProcessPaymentCommand{
		IdempotencyKey: req.IdempotencyKey,
		OrderID:        req.OrderID,
		UserID:         req.UserID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Method:         req.Method,
	})
	if err != nil {
		if errors.Is(err, domain.ErrMissingIdemKey) || errors.Is(err, domain.ErrInvalidAmount) {
			writeJSON(w, http.StatusOK, paymentResponse{Success: false, Message: err.Error()})
			return
		}
		logger.Ctx(ctx).Error().Err(err).Str("order_id", req.OrderID).Msg("process payment failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, paymentResponse{
		Success:          result.Status == domain.PaymentCompleted,
		PaymentID:        result.PaymentID,
		Status:           string(result.Status),
		PaymentReference: result.PaymentReference,
		Message:          result.FailureReason,
	})
}

type refundPaymentRequest struct {
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}

type refundPaymentResponse struct {
	Success         bool   `json:"success"`
	PaymentID       string `json:"paymentId,omitempty"`
	RefundReference string `json:"refundReference,omitempty"`
	Message         string `json:"message,omitempty"`
}

func (h *PaymentHandler) refundPayment(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "payment-service.RefundPayment")
	defer span.End()

	var req refundPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.RefundPayment(ctx, application.RefundPaymentCommand{
		PaymentID: req.PaymentID,
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyRefunded),
			errors.Is(err, domain.ErrNotRefundable),
			errors.Is(err, domain.ErrPaymentNotFound),
			errors.Is(err, domain.ErrInvalidAmount):
			writeJSON(w, http.StatusOK, refundPaymentResponse{Success: false, Message: err.Error()})
		default:
			logger.Ctx(ctx).Error().Err(err).Str("payment_id", req.PaymentID).Msg("refund failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, refundPaymentResponse{
		Success:         true,
		PaymentID:       result.PaymentID,
		RefundReference: result.RefundReference,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
