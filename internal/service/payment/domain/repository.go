package domain

import "context"

// PaymentRepository 持久化支付记录。
// Insert 依赖 idempotencyKey 上的唯一约束: 并发同 key 写入
// 只有一个成功，其余返回 ErrDuplicateKey，由应用层改走查询路径。
type PaymentRepository interface {
	Insert(ctx context.Context, payment *Payment) error
	Update(ctx context.Context, payment *Payment) error
	FindByIdempotencyKey(ctx context.Context, key string) (*Payment, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*Payment, error)
	FindCompletedByOrderID(ctx context.Context, orderID string) (*Payment, error)
}
