package interfaces

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"monat/internal/service/user/application"
)

const serviceName = "user-service"

type UserHandler struct {
	service *application.UserApplicationService
}

func NewUserHandler(service *application.UserApplicationService) *UserHandler {
	return &UserHandler{service: service}
}

func (h *UserHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/validate_user", h.validateUser)
}

type validateUserRequest struct {
	UserID string `json:"userId"`
}

type validateUserResponse struct {
	IsValid  bool   `json:"isValid"`
	IsActive bool   `json:"isActive"`
	Message  string `json:"message,omitempty"`
}

func (h *UserHandler) validateUser(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(serviceName).Start(ctx, "user-service.ValidateUser")
	defer span.End()

	var req validateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// isValid 表示用户是否存在，isActive 表示是否可下单
	resp := validateUserResponse{IsValid: true, IsActive: true}
	if err := h.service.ValidateUser(ctx, req.UserID); err != nil {
		resp = validateUserResponse{
			IsValid:  errors.Is(err, application.ErrUserBlocked),
			IsActive: false,
			Message:  err.Error(),
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
