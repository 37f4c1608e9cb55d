package infrastructure

import (
	"context"

	"github.com/pkg/errors"

	"monat/internal/pkg/httpclient"
	"monat/internal/pkg/logger"
	"monat/internal/pkg/nacos"
	"monat/internal/pkg/resilience"
	"monat/internal/service/order/port"
)

// ServiceResolver 把逻辑服务名解析成可访问的 base URL。
type ServiceResolver interface {
	ResolveServiceURL(serviceName string) (string, error)
}

// StaticResolver 不走注册中心，固定地址(本地联调用)。
type StaticResolver map[string]string

func (r StaticResolver) ResolveServiceURL(serviceName string) (string, error) {
	url, ok := r[serviceName]
	if !ok {
		return "", errors.Errorf("no static address for service %s", serviceName)
	}
	return url, nil
}

var _ ServiceResolver = (*nacos.Client)(nil)

// remoteCall 适配器的公共骨架: nacos 解析地址 → 熔断器包住 HTTP 调用。
// 业务拒绝不计入熔断失败，只有 5xx/网络错误才推高失败率。
type remoteCall struct {
	serviceName string
	resolver    ServiceResolver
	client      *httpclient.Client
	breaker     *resilience.Breaker
}

func (r *remoteCall) post(ctx context.Context, path string, in, out interface{}) error {
	return r.breaker.Do(func() error {
		base, err := r.resolver.ResolveServiceURL(r.serviceName)
		if err != nil {
			return errors.Wrapf(err, "resolve %s", r.serviceName)
		}
		return r.client.PostJSON(ctx, base+path, in, out)
	})
}

// HTTPInventoryAdapter 通过库存服务的 RPC 端点实现 port.InventoryService。
type HTTPInventoryAdapter struct {
	call remoteCall
}

func NewHTTPInventoryAdapter(resolver ServiceResolver, client *httpclient.Client, breaker *resilience.Breaker) *HTTPInventoryAdapter {
	return &HTTPInventoryAdapter{call: remoteCall{
		serviceName: "inventory-service",
		resolver:    resolver,
		client:      client,
		breaker:     breaker,
	}}
}

type reserveStockRequest struct {
	OrderID string             `json:"orderId"`
	Items   []reserveStockItem `json:"items"`
}

type reserveStockItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type reserveStockResponse struct {
	Success       bool   `json:"success"`
	ReservationID string `json:"reservationId"`
	Message       string `json:"message"`
}

func (a *HTTPInventoryAdapter) ReserveStock(ctx context.Context, orderID string, items []port.ReservationItem) (string, error) {
	req := reserveStockRequest{OrderID: orderID}
	for _, item := range items {
		req.Items = append(req.Items, reserveStockItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	var resp reserveStockResponse
	if err := a.call.post(ctx, "/reserve_stock", req, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		// 部分预占的 reservationId 也要带回去，编排器靠它补偿
		return resp.ReservationID, errors.Wrap(port.ErrStockRejected, resp.Message)
	}
	return resp.ReservationID, nil
}

type releaseStockRequest struct {
	ReservationID string `json:"reservationId"`
	OrderID       string `json:"orderId"`
	Reason        string `json:"reason"`
}

type commitStockRequest struct {
	ReservationID string `json:"reservationId"`
	OrderID       string `json:"orderId"`
}

type reservationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (a *HTTPInventoryAdapter) ReleaseStock(ctx context.Context, reservationID, orderID, reason string) error {
	req := releaseStockRequest{ReservationID: reservationID, OrderID: orderID, Reason: reason}
	var resp reservationResponse
	if err := a.call.post(ctx, "/release_stock", req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return errors.Wrap(port.ErrStockRejected, resp.Message)
	}
	return nil
}

func (a *HTTPInventoryAdapter) CommitStock(ctx context.Context, reservationID, orderID string) error {
	req := commitStockRequest{ReservationID: reservationID, OrderID: orderID}
	var resp reservationResponse
	if err := a.call.post(ctx, "/commit_stock", req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return errors.Wrap(port.ErrStockRejected, resp.Message)
	}
	return nil
}

// HTTPPaymentAdapter 通过支付服务的 RPC 端点实现 port.PaymentService。
type HTTPPaymentAdapter struct {
	call remoteCall
}

func NewHTTPPaymentAdapter(resolver ServiceResolver, client *httpclient.Client, breaker *resilience.Breaker) *HTTPPaymentAdapter {
	return &HTTPPaymentAdapter{call: remoteCall{
		serviceName: "payment-service",
		resolver:    resolver,
		client:      client,
		breaker:     breaker,
	}}
}

type processPaymentRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	OrderID        string `json:"orderId"`
	UserID         string `json:"userId"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Method         string `json:"method"`
}

type processPaymentResponse struct {
	Success          bool   `json:"success"`
	PaymentID        string `json:"paymentId"`
	Status           string `json:"status"`
	PaymentReference string `json:"paymentReference"`
	Message          string `json:"message"`
}

func (a *HTTPPaymentAdapter) ProcessPayment(ctx context.Context, req port.PaymentRequest) (*port.PaymentOutcome, error) {
	var resp processPaymentResponse
	err := a.call.post(ctx, "/process_payment", processPaymentRequest{
		IdempotencyKey: req.IdempotencyKey,
		OrderID:        req.OrderID,
		UserID:         req.UserID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Method:         req.Method,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.Wrap(port.ErrPaymentDeclined, resp.Message)
	}
	return &port.PaymentOutcome{
		PaymentID:        resp.PaymentID,
		PaymentReference: resp.PaymentReference,
	}, nil
}

type refundPaymentRequest struct {
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}

type refundPaymentResponse struct {
	Success         bool   `json:"success"`
	RefundReference string `json:"refundReference"`
	Message         string `json:"message"`
}

func (a *HTTPPaymentAdapter) RefundPayment(ctx context.Context, paymentID, orderID string, amount int64, reason string) error {
	req := refundPaymentRequest{PaymentID: paymentID, OrderID: orderID, Amount: amount, Reason: reason}
	var resp refundPaymentResponse
	if err := a.call.post(ctx, "/refund_payment", req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		// 已退款的重复请求当成功处理，补偿是幂等的
		logger.Ctx(ctx).Warn().
			Str("payment_id", paymentID).
			Str("message", resp.Message).
			Msg("refund rejected by payment service")
	}
	return nil
}

// HTTPUserAdapter 通过用户服务实现 port.UserService。
type HTTPUserAdapter struct {
	call remoteCall
}

func NewHTTPUserAdapter(resolver ServiceResolver, client *httpclient.Client, breaker *resilience.Breaker) *HTTPUserAdapter {
	return &HTTPUserAdapter{call: remoteCall{
		serviceName: "user-service",
		resolver:    resolver,
		client:      client,
		breaker:     breaker,
	}}
}

type validateUserRequest struct {
	UserID string `json:"userId"`
}

type validateUserResponse struct {
	IsValid  bool   `json:"isValid"`
	IsActive bool   `json:"isActive"`
	Message  string `json:"message"`
}

func (a *HTTPUserAdapter) ValidateUser(ctx context.Context, userID string) error {
	var resp validateUserResponse
	if err := a.call.post(ctx, "/validate_user", validateUserRequest{UserID: userID}, &resp); err != nil {
		return err
	}
	// 用户不存在或被禁用都算校验失败
	if !resp.IsValid || !resp.IsActive {
		return errors.Wrap(port.ErrUserInvalid, resp.Message)
	}
	return nil
}
