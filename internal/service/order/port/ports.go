// Package port 定义订单服务对下游协作方的出站接口。
// 业务拒绝用哨兵错误表达，基础设施故障原样上抛 ——
// 编排器用这个区分决定要不要补偿、适配器用它决定要不要计入熔断。
package port

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrUserInvalid 用户校验未通过(不存在/被禁用)。
	ErrUserInvalid = errors.New("user validation rejected")
	// ErrStockRejected 库存服务的业务拒绝(库存不足/商品不存在)。
	ErrStockRejected = errors.New("stock reservation rejected")
	// ErrPaymentDeclined 支付通道拒绝扣款。
	ErrPaymentDeclined = errors.New("payment declined")
)

type UserService interface {
	ValidateUser(ctx context.Context, userID string) error
}

type ReservationItem struct {
	ProductID string
	Quantity  int
}

// InventoryService ReserveStock 即使返回业务错误也可能带回非空的
// reservationID: 批量预占中途失败时已生效的部分要靠它来释放。
type InventoryService interface {
	ReserveStock(ctx context.Context, orderID string, items []ReservationItem) (reservationID string, err error)
	ReleaseStock(ctx context.Context, reservationID, orderID, reason string) error
	CommitStock(ctx context.Context, reservationID, orderID string) error
}

type PaymentRequest struct {
	IdempotencyKey string
	OrderID        string
	UserID         string
	Amount         int64
	Currency       string
	Method         string
}

type PaymentOutcome struct {
	PaymentID        string
	PaymentReference string
}

type PaymentService interface {
	ProcessPayment(ctx context.Context, req PaymentRequest) (*PaymentOutcome, error)
	RefundPayment(ctx context.Context, paymentID, orderID string, amount int64, reason string) error
}
