package domain

import (
	"time"

	"github.com/pkg/errors"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
)

// Payment 一次支付尝试。IdempotencyKey 全局唯一，
// 同一个 key 的重复请求返回首次的结果而不是再次扣款。
type Payment struct {
	ID               int64
	PaymentID        string
	IdempotencyKey   string
	OrderID          string
	UserID           string
	Amount           int64
	Currency         string
	Method           string
	Status           PaymentStatus
	PaymentReference string
	RefundReference  string
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func NewPayment(paymentID, idempotencyKey, orderID, userID string, amount int64, currency, method string) *Payment {
	now := time.Now()
	return &Payment{
		PaymentID:      paymentID,
		IdempotencyKey: idempotencyKey,
		OrderID:        orderID,
		UserID:         userID,
		Amount:         amount,
		Currency:       currency,
		Method:         method,
		Status:         PaymentPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (p *Payment) MarkProcessing() {
	p.Status = PaymentProcessing
	p.UpdatedAt = time.Now()
}

func (p *Payment) MarkCompleted(reference string) {
	p.Status = PaymentCompleted
	p.PaymentReference = reference
	p.UpdatedAt = time.Now()
}

func (p *Payment) MarkFailed(reason string) {
	p.Status = PaymentFailed
	p.FailureReason = reason
	p.UpdatedAt = time.Now()
}

// Refund 只有 COMPLETED 的支付可以退款，退款恰好一次。
func (p *Payment) Refund(refundReference string) error {
	switch p.Status {
	case PaymentRefunded:
		return errors.Wrapf(ErrAlreadyRefunded, "payment %s", p.PaymentID)
	case PaymentCompleted:
		p.Status = PaymentRefunded
		p.RefundReference = refundReference
		p.UpdatedAt = time.Now()
		return nil
	default:
		return errors.Wrapf(ErrNotRefundable, "payment %s in status %s", p.PaymentID, p.Status)
	}
}

func (p *Payment) IsCompleted() bool {
	return p.Status == PaymentCompleted
}
